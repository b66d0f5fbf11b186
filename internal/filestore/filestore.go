// Package filestore serves draft attachments from S3-compatible object storage.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound means the attachment object does not exist in the bucket.
var ErrNotFound = errors.New("attachment not found")

// Config holds the object storage connection settings. An empty Endpoint
// disables the store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store wraps an S3-compatible client for draft attachment access.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store. Returns (nil, nil) when no endpoint
// is configured so callers can treat attachments as unavailable.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the configured bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// AttachmentKey builds the object key for a draft attachment.
func AttachmentKey(draftID, fileID string) string {
	return "drafts/" + draftID + "/" + fileID
}

// PresignedGetURL returns a short-lived download URL for an attachment.
func (s *Store) PresignedGetURL(ctx context.Context, draftID, fileID string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, AttachmentKey(draftID, fileID), expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return u.String(), nil
}

// StatAttachment reports whether the attachment object exists. A
// missing object is ErrNotFound; anything else is a storage failure.
func (s *Store) StatAttachment(ctx context.Context, draftID, fileID string) error {
	_, err := s.client.StatObject(ctx, s.bucket, AttachmentKey(draftID, fileID), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrNotFound
		}
		return fmt.Errorf("stat attachment: %w", err)
	}
	return nil
}
