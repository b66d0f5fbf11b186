package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"quorum/api/internal/metaschema"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users & groups ----

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	groups, err := s.userGroups(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Groups = groups
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	groups, err := s.userGroups(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Groups = groups
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) userGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_name FROM group_memberships WHERE user_id=$1 ORDER BY group_name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// ---- refresh sessions & token revocation ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- projects ----

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, public_comments, created_by, created_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Title, &item.PublicComments, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_memberships WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check project membership: %w", err)
	}
	return member, nil
}

// ---- comments ----

const commentColumns = `
	c.id, c.project_id, c.author_id, u.display_name, c.target_type, c.target_id,
	c.content, c.modified, c.deleted, c.created_at, c.modified_at
`

func (s *PostgresStore) scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var item Comment
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.AuthorID,
		&item.AuthorName,
		&item.TargetType,
		&item.TargetID,
		&item.Content,
		&item.Modified,
		&item.Deleted,
		&item.CreatedAt,
		&item.ModifiedAt,
	)
	return item, err
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.id=$1
	`, commentID)
	return s.scanComment(row)
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, project_id, author_id, target_type, target_id, content)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ProjectID, item.AuthorID, item.TargetType, item.TargetID, item.Content)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCommentContent(ctx context.Context, commentID, content string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET content=$2, modified=TRUE, modified_at=NOW()
		WHERE id=$1
	`, commentID, content)
	if err != nil {
		return fmt.Errorf("update comment content: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetCommentDeleted(ctx context.Context, commentID string, deleted bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE comments SET deleted=$2 WHERE id=$1`, commentID, deleted)
	if err != nil {
		return fmt.Errorf("set comment deleted: %w", err)
	}
	return nil
}

func (s *PostgresStore) CommentHasChildren(ctx context.Context, commentID string) (bool, error) {
	var has bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM comments WHERE target_type='comments' AND target_id=$1)
	`, commentID).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("check comment children: %w", err)
	}
	return has, nil
}

// ---- comment reports ----

func (s *PostgresStore) GetCommentReport(ctx context.Context, commentID, reporterID string) (CommentReport, error) {
	var item CommentReport
	err := s.db.QueryRowContext(ctx, `
		SELECT r.comment_id, r.reporter_id, u.display_name, r.category, r.message, r.retracted, r.created_at, r.updated_at
		FROM comment_reports r
		JOIN users u ON u.id = r.reporter_id
		WHERE r.comment_id=$1 AND r.reporter_id=$2
	`, commentID, reporterID).Scan(
		&item.CommentID,
		&item.ReporterID,
		&item.ReporterName,
		&item.Category,
		&item.Message,
		&item.Retracted,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return CommentReport{}, err
	}
	return item, nil
}

// InsertCommentReport inserts a report and reports whether the row was
// actually written. The (comment_id, reporter_id) primary key makes two
// concurrent inserts for the same pair race deterministically: exactly
// one observes inserted=false. A previously retracted report is revived
// in place with the new category and message.
func (s *PostgresStore) InsertCommentReport(ctx context.Context, item CommentReport) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_reports (comment_id, reporter_id, category, message)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (comment_id, reporter_id) DO UPDATE
		SET category=EXCLUDED.category, message=EXCLUDED.message, retracted=FALSE, updated_at=NOW()
		WHERE comment_reports.retracted
	`, item.CommentID, item.ReporterID, item.Category, item.Message)
	if err != nil {
		return false, fmt.Errorf("insert comment report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert comment report result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateCommentReport(ctx context.Context, item CommentReport) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comment_reports
		SET category=$3, message=$4, updated_at=NOW()
		WHERE comment_id=$1 AND reporter_id=$2 AND NOT retracted
	`, item.CommentID, item.ReporterID, item.Category, item.Message)
	if err != nil {
		return false, fmt.Errorf("update comment report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update comment report result: %w", err)
	}
	return affected > 0, nil
}

// RetractCommentReport tombstones a report instead of removing the row,
// so later reads can distinguish a retracted report from one that never
// existed.
func (s *PostgresStore) RetractCommentReport(ctx context.Context, commentID, reporterID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comment_reports
		SET retracted=TRUE, updated_at=NOW()
		WHERE comment_id=$1 AND reporter_id=$2 AND NOT retracted
	`, commentID, reporterID)
	if err != nil {
		return false, fmt.Errorf("retract comment report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("retract comment report result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListCommentReports(ctx context.Context, commentID string) ([]CommentReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.comment_id, r.reporter_id, u.display_name, r.category, r.message, r.retracted, r.created_at, r.updated_at
		FROM comment_reports r
		JOIN users u ON u.id = r.reporter_id
		WHERE r.comment_id=$1 AND NOT r.retracted
		ORDER BY r.created_at
	`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list comment reports: %w", err)
	}
	defer rows.Close()

	items := make([]CommentReport, 0)
	for rows.Next() {
		var item CommentReport
		if err := rows.Scan(
			&item.CommentID,
			&item.ReporterID,
			&item.ReporterName,
			&item.Category,
			&item.Message,
			&item.Retracted,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan comment report: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment reports: %w", err)
	}
	return items, nil
}

// ListReportedComments returns every comment whose report ledger is
// non-empty, newest report first, with the per-comment ledger attached.
func (s *PostgresStore) ListReportedComments(ctx context.Context, filter ReportedCommentFilter) ([]ReportedComment, error) {
	query := `
		SELECT DISTINCT ` + commentColumns + `,
			(SELECT MAX(r2.created_at) FROM comment_reports r2 WHERE r2.comment_id = c.id AND NOT r2.retracted) AS last_reported_at
		FROM comments c
		JOIN users u ON u.id = c.author_id
		JOIN comment_reports r ON r.comment_id = c.id AND NOT r.retracted
	`
	where := ""
	args := []any{}
	argN := 1
	if filter.Category != "" {
		where += fmt.Sprintf(" AND r.category = $%d", argN)
		args = append(args, filter.Category)
		argN++
	}
	if filter.AuthorID != "" {
		where += fmt.Sprintf(" AND c.author_id = $%d", argN)
		args = append(args, filter.AuthorID)
		argN++
	}
	if where != "" {
		query += " WHERE " + where[5:]
	}
	query += " ORDER BY last_reported_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, filter.Limit)
		argN++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reported comments: %w", err)
	}
	defer rows.Close()

	items := make([]ReportedComment, 0)
	for rows.Next() {
		var item ReportedComment
		var lastReportedAt time.Time
		if err := rows.Scan(
			&item.ID,
			&item.ProjectID,
			&item.AuthorID,
			&item.AuthorName,
			&item.TargetType,
			&item.TargetID,
			&item.Content,
			&item.Modified,
			&item.Deleted,
			&item.CreatedAt,
			&item.ModifiedAt,
			&lastReportedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reported comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reported comments: %w", err)
	}

	for i := range items {
		reports, err := s.ListCommentReports(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Reports = reports
		hasChildren, err := s.CommentHasChildren(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].HasChildren = hasChildren
	}
	return items, nil
}

// ---- meta schemas & drafts ----

func (s *PostgresStore) GetMetaSchema(ctx context.Context, name string, version int) (MetaSchema, error) {
	var item MetaSchema
	var questionsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT name, version, questions
		FROM meta_schemas
		WHERE name=$1 AND version=$2
	`, name, version).Scan(&item.Name, &item.Version, &questionsJSON)
	if err != nil {
		return MetaSchema{}, err
	}
	if err := json.Unmarshal(questionsJSON, &item.Questions); err != nil {
		return MetaSchema{}, fmt.Errorf("decode schema questions: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpsertMetaSchema(ctx context.Context, item MetaSchema) error {
	questionsJSON, err := json.Marshal(item.Questions)
	if err != nil {
		return fmt.Errorf("encode schema questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meta_schemas (name, version, questions)
		VALUES ($1, $2, $3)
		ON CONFLICT (name, version) DO UPDATE SET questions=EXCLUDED.questions
	`, item.Name, item.Version, questionsJSON)
	if err != nil {
		return fmt.Errorf("upsert meta schema: %w", err)
	}
	return nil
}

const draftColumns = `
	id, schema_name, schema_version, registration_metadata, flags, notes,
	approval_initiator, approval_initiated_at, approval_state,
	created_by, created_at, updated_at
`

func (s *PostgresStore) scanDraft(row interface{ Scan(...any) error }) (DraftRegistration, error) {
	var item DraftRegistration
	var metadataJSON, flagsJSON []byte
	var initiator sql.NullString
	var initiatedAt sql.NullTime
	var state sql.NullString
	err := row.Scan(
		&item.ID,
		&item.SchemaName,
		&item.SchemaVersion,
		&metadataJSON,
		&flagsJSON,
		&item.Notes,
		&initiator,
		&initiatedAt,
		&state,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return DraftRegistration{}, err
	}
	if err := json.Unmarshal(metadataJSON, &item.Metadata); err != nil {
		return DraftRegistration{}, fmt.Errorf("decode draft metadata: %w", err)
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &item.Flags); err != nil {
			return DraftRegistration{}, fmt.Errorf("decode draft flags: %w", err)
		}
	}
	if initiator.Valid && state.Valid {
		item.Approval = &Approval{
			Initiator:   initiator.String,
			InitiatedAt: initiatedAt.Time,
			State:       state.String,
		}
	}
	return item, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, draftID string) (DraftRegistration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM draft_registrations
		WHERE id=$1
	`, draftID)
	return s.scanDraft(row)
}

// ListPendingDrafts returns drafts for the exact schema name+version
// whose review has been requested, oldest request first.
func (s *PostgresStore) ListPendingDrafts(ctx context.Context, schemaName string, schemaVersion, limit, offset int) ([]DraftRegistration, error) {
	query := `
		SELECT ` + draftColumns + `
		FROM draft_registrations
		WHERE schema_name=$1 AND schema_version=$2 AND approval_state IS NOT NULL
		ORDER BY approval_initiated_at ASC
	`
	args := []any{schemaName, schemaVersion}
	if limit > 0 {
		query += " LIMIT $3 OFFSET $4"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending drafts: %w", err)
	}
	defer rows.Close()

	items := make([]DraftRegistration, 0)
	for rows.Next() {
		item, err := s.scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending draft: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending drafts: %w", err)
	}
	return items, nil
}

// SetDraftApprovalState transitions a pending approval to a terminal
// state. The WHERE clause guards the transition: a concurrent decision
// makes the second UPDATE match zero rows.
func (s *PostgresStore) SetDraftApprovalState(ctx context.Context, draftID, state string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE draft_registrations
		SET approval_state=$2, updated_at=NOW()
		WHERE id=$1 AND approval_state=$3
	`, draftID, state, ApprovalPending)
	if err != nil {
		return false, fmt.Errorf("set draft approval state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set draft approval state result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateDraftAdminSettings(ctx context.Context, draftID, notes string, flags map[string]any) error {
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("encode draft flags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE draft_registrations
		SET notes=$2, flags=$3, updated_at=NOW()
		WHERE id=$1
	`, draftID, notes, flagsJSON)
	if err != nil {
		return fmt.Errorf("update draft admin settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDraftMetadata(ctx context.Context, draftID string, metadata metaschema.Metadata) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode draft metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE draft_registrations
		SET registration_metadata=$2, updated_at=NOW()
		WHERE id=$1
	`, draftID, metadataJSON)
	if err != nil {
		return fmt.Errorf("update draft metadata: %w", err)
	}
	return nil
}

// ---- audit log ----

func (s *PostgresStore) InsertAuditEntry(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (action, actor_id, actor_name, target_type, target_id)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.Action, entry.ActorID, entry.ActorName, entry.TargetType, entry.TargetID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
