// Package metaschema holds the schema-keyed registration metadata model
// and the pure transformations the draft review workflow applies to it.
package metaschema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Question is the stored state of one schema question: the submitter's
// answer and the reviewer comment thread layered on top of it. Both are
// kept as raw JSON so a merge never re-encodes what it did not touch.
type Question struct {
	Value    json.RawMessage   `json:"value,omitempty"`
	Comments []json.RawMessage `json:"comments"`
}

// Metadata maps schema question ids to their stored state.
type Metadata map[string]Question

// QuestionPayload is the reviewer-submitted slice of one question:
// only the comment thread. Any answer value in the payload is ignored.
type QuestionPayload struct {
	Comments []json.RawMessage `json:"comments"`
}

// Error reports a validation failure with an optional field pointer.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MergeReviewerComments merges a reviewer comment payload into existing
// metadata. The payload is untrusted and may be partial: only the
// comments of question ids that already exist in the metadata are
// replaced, question ids absent from the payload keep their prior
// comments, and answer values pass through untouched. The input maps
// are never mutated.
func MergeReviewerComments(existing Metadata, payload map[string]QuestionPayload) Metadata {
	merged := make(Metadata, len(existing))
	for id, question := range existing {
		next := Question{
			Value:    question.Value,
			Comments: question.Comments,
		}
		if entry, ok := payload[id]; ok {
			next.Comments = append([]json.RawMessage{}, entry.Comments...)
		}
		if next.Comments == nil {
			next.Comments = []json.RawMessage{}
		}
		merged[id] = next
	}
	return merged
}

// ValidateMetadata checks that the metadata key set is exactly the
// question id set of the schema version.
func ValidateMetadata(questionIDs []string, metadata Metadata) error {
	known := make(map[string]bool, len(questionIDs))
	for _, id := range questionIDs {
		known[id] = true
	}

	var missing, unexpected []string
	for _, id := range questionIDs {
		if _, ok := metadata[id]; !ok {
			missing = append(missing, id)
		}
	}
	for id := range metadata {
		if !known[id] {
			unexpected = append(unexpected, id)
		}
	}
	sort.Strings(missing)
	sort.Strings(unexpected)

	if len(missing) > 0 {
		return &Error{Field: missing[0], Message: "metadata is missing a schema question"}
	}
	if len(unexpected) > 0 {
		return &Error{Field: unexpected[0], Message: "metadata contains a question not defined by the schema"}
	}
	return nil
}
