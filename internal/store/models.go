package store

import (
	"time"

	"quorum/api/internal/metaschema"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	Groups       []string
	CreatedAt    time.Time
}

type Project struct {
	ID             string
	Title          string
	PublicComments bool
	CreatedBy      string
	CreatedAt      time.Time
}

// Comment targets either its project or another comment in the same
// project. TargetType holds the declared kind ("nodes" or "comments").
type Comment struct {
	ID         string
	ProjectID  string
	AuthorID   string
	AuthorName string
	TargetType string
	TargetID   string
	Content    string
	Modified   bool
	Deleted    bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// CommentReport is one user's abuse report on a comment. The pair
// (CommentID, ReporterID) is the primary key: a reporter holds at most
// one record per comment.
type CommentReport struct {
	CommentID    string
	ReporterID   string
	ReporterName string
	Category     string
	Message      string
	Retracted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReportedComment is the admin-facing projection of a comment with a
// non-empty report ledger.
type ReportedComment struct {
	Comment
	HasChildren bool
	Reports     []CommentReport
}

// ReportedCommentFilter narrows the admin reported-comments listing.
type ReportedCommentFilter struct {
	Category string
	AuthorID string
	Limit    int
	Offset   int
}

type MetaSchema struct {
	Name      string
	Version   int
	Questions []string
}

// Approval is the review decision record attached to a draft. A draft
// without one has never had review requested and is invisible to the
// queue.
type Approval struct {
	Initiator   string
	InitiatedAt time.Time
	State       string
}

const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

type DraftRegistration struct {
	ID            string
	SchemaName    string
	SchemaVersion int
	Metadata      metaschema.Metadata
	Flags         map[string]any
	Notes         string
	Approval      *Approval
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuditEntry is one immutable activity-log record.
type AuditEntry struct {
	ID         int64
	Action     string
	ActorID    string
	ActorName  string
	TargetType string
	TargetID   string
	CreatedAt  time.Time
}
