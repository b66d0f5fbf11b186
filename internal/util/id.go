package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier like "cmt_9f2...". The prefix names
// the record kind ("cmt", "drf", "usr", "jti", "rft"); an empty prefix
// yields bare hex, used to pad refresh tokens.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
