package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across comments and draft_registrations
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultComment {
		commentWhere := "to_tsvector('english', c.content) @@ " + tsQuery
		if q.FilterProjectID != "" {
			commentWhere += fmt.Sprintf(" AND c.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		if !q.IncludeDeleted {
			commentWhere += " AND NOT c.deleted"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, u.display_name AS title,
				ts_headline('english', c.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.project_id, c.deleted,
				ts_rank(to_tsvector('english', c.content), %s) AS rank
			FROM comments c
			JOIN users u ON u.id = c.author_id
			WHERE %s`, tsQuery, tsQuery, commentWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultDraft {
		draftWhere := "to_tsvector('english', dr.notes) @@ " + tsQuery
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'draft'::text AS type, dr.id, dr.schema_name AS title,
				ts_headline('english', dr.notes, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS project_id, FALSE AS deleted,
				ts_rank(to_tsvector('english', dr.notes), %s) AS rank
			FROM draft_registrations dr
			WHERE %s`, tsQuery, tsQuery, draftWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, deleted
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Deleted); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CommentRecord, []DraftRecord, error) {
	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.content, u.display_name, c.project_id, c.target_type, c.deleted
		FROM comments c
		JOIN users u ON u.id = c.author_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Content, &c.AuthorName, &c.ProjectID, &c.TargetType, &c.Deleted); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	draftRows, err := p.db.QueryContext(ctx, `
		SELECT id, schema_name, notes, COALESCE(approval_state, '')
		FROM draft_registrations
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load drafts: %w", err)
	}
	defer draftRows.Close()

	drafts := make([]DraftRecord, 0)
	for draftRows.Next() {
		var d DraftRecord
		if err := draftRows.Scan(&d.ID, &d.SchemaName, &d.Notes, &d.State); err != nil {
			return nil, nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, d)
	}
	if err := draftRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate drafts: %w", err)
	}

	return comments, drafts, nil
}
