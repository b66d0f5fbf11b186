package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultComment ResultType = "comment"
	ResultDraft   ResultType = "draft"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
	Offset          int
	IncludeDeleted  bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexComment(c CommentRecord) error
	IndexDraft(d DraftRecord) error
	DeleteComment(id string) error
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
	ProjectID  string `json:"projectId"`
	TargetType string `json:"targetType"`
	Deleted    bool   `json:"deleted"`
}

// DraftRecord is the data we index for a draft registration.
type DraftRecord struct {
	ID         string `json:"id"`
	SchemaName string `json:"schemaName"`
	Notes      string `json:"notes"`
	State      string `json:"state"`
}
