package app

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"quorum/api/internal/authz"
	"quorum/api/internal/config"
	"quorum/api/internal/metaschema"
	"quorum/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn              func(context.Context, string) (store.User, error)
	revokeAccessTokenFn        func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn     func(context.Context, string) (bool, error)
	getProjectFn               func(context.Context, string) (store.Project, error)
	isProjectMemberFn          func(context.Context, string, string) (bool, error)
	getCommentFn               func(context.Context, string) (store.Comment, error)
	insertCommentFn            func(context.Context, store.Comment) error
	updateCommentContentFn     func(context.Context, string, string) error
	setCommentDeletedFn        func(context.Context, string, bool) error
	commentHasChildrenFn       func(context.Context, string) (bool, error)
	getCommentReportFn         func(context.Context, string, string) (store.CommentReport, error)
	insertCommentReportFn      func(context.Context, store.CommentReport) (bool, error)
	updateCommentReportFn      func(context.Context, store.CommentReport) (bool, error)
	retractCommentReportFn     func(context.Context, string, string) (bool, error)
	listCommentReportsFn       func(context.Context, string) ([]store.CommentReport, error)
	listReportedCommentsFn     func(context.Context, store.ReportedCommentFilter) ([]store.ReportedComment, error)
	getMetaSchemaFn            func(context.Context, string, int) (store.MetaSchema, error)
	upsertMetaSchemaFn         func(context.Context, store.MetaSchema) error
	getDraftFn                 func(context.Context, string) (store.DraftRegistration, error)
	listPendingDraftsFn        func(context.Context, string, int, int, int) ([]store.DraftRegistration, error)
	setDraftApprovalStateFn    func(context.Context, string, string) (bool, error)
	updateDraftAdminSettingsFn func(context.Context, string, string, map[string]any) error
	updateDraftMetadataFn      func(context.Context, string, metaschema.Metadata) error
	insertAuditEntryFn         func(context.Context, store.AuditEntry) error
	pingFn                     func(context.Context) error
	saveRefreshSessionFn       func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn     func(context.Context, string) (string, error)
	revokeRefreshSessionFn     func(context.Context, string) error
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id}, nil
}
func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, exp)
	}
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}
func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, id)
	}
	return store.Project{}, sql.ErrNoRows
}
func (f *fakeStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	if f.isProjectMemberFn != nil {
		return f.isProjectMemberFn(ctx, projectID, userID)
	}
	return false, nil
}
func (f *fakeStore) GetComment(ctx context.Context, id string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, id)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) InsertComment(ctx context.Context, item store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateCommentContent(ctx context.Context, id, content string) error {
	if f.updateCommentContentFn != nil {
		return f.updateCommentContentFn(ctx, id, content)
	}
	return nil
}
func (f *fakeStore) SetCommentDeleted(ctx context.Context, id string, deleted bool) error {
	if f.setCommentDeletedFn != nil {
		return f.setCommentDeletedFn(ctx, id, deleted)
	}
	return nil
}
func (f *fakeStore) CommentHasChildren(ctx context.Context, id string) (bool, error) {
	if f.commentHasChildrenFn != nil {
		return f.commentHasChildrenFn(ctx, id)
	}
	return false, nil
}
func (f *fakeStore) GetCommentReport(ctx context.Context, commentID, reporterID string) (store.CommentReport, error) {
	if f.getCommentReportFn != nil {
		return f.getCommentReportFn(ctx, commentID, reporterID)
	}
	return store.CommentReport{}, sql.ErrNoRows
}
func (f *fakeStore) InsertCommentReport(ctx context.Context, item store.CommentReport) (bool, error) {
	if f.insertCommentReportFn != nil {
		return f.insertCommentReportFn(ctx, item)
	}
	return true, nil
}
func (f *fakeStore) UpdateCommentReport(ctx context.Context, item store.CommentReport) (bool, error) {
	if f.updateCommentReportFn != nil {
		return f.updateCommentReportFn(ctx, item)
	}
	return true, nil
}
func (f *fakeStore) RetractCommentReport(ctx context.Context, commentID, reporterID string) (bool, error) {
	if f.retractCommentReportFn != nil {
		return f.retractCommentReportFn(ctx, commentID, reporterID)
	}
	return true, nil
}
func (f *fakeStore) ListCommentReports(ctx context.Context, commentID string) ([]store.CommentReport, error) {
	if f.listCommentReportsFn != nil {
		return f.listCommentReportsFn(ctx, commentID)
	}
	return nil, nil
}
func (f *fakeStore) ListReportedComments(ctx context.Context, filter store.ReportedCommentFilter) ([]store.ReportedComment, error) {
	if f.listReportedCommentsFn != nil {
		return f.listReportedCommentsFn(ctx, filter)
	}
	return nil, nil
}
func (f *fakeStore) GetMetaSchema(ctx context.Context, name string, version int) (store.MetaSchema, error) {
	if f.getMetaSchemaFn != nil {
		return f.getMetaSchemaFn(ctx, name, version)
	}
	return store.MetaSchema{}, sql.ErrNoRows
}
func (f *fakeStore) UpsertMetaSchema(ctx context.Context, item store.MetaSchema) error {
	if f.upsertMetaSchemaFn != nil {
		return f.upsertMetaSchemaFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetDraft(ctx context.Context, id string) (store.DraftRegistration, error) {
	if f.getDraftFn != nil {
		return f.getDraftFn(ctx, id)
	}
	return store.DraftRegistration{}, sql.ErrNoRows
}
func (f *fakeStore) ListPendingDrafts(ctx context.Context, name string, version, limit, offset int) ([]store.DraftRegistration, error) {
	if f.listPendingDraftsFn != nil {
		return f.listPendingDraftsFn(ctx, name, version, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) SetDraftApprovalState(ctx context.Context, id, state string) (bool, error) {
	if f.setDraftApprovalStateFn != nil {
		return f.setDraftApprovalStateFn(ctx, id, state)
	}
	return true, nil
}
func (f *fakeStore) UpdateDraftAdminSettings(ctx context.Context, id, notes string, flags map[string]any) error {
	if f.updateDraftAdminSettingsFn != nil {
		return f.updateDraftAdminSettingsFn(ctx, id, notes, flags)
	}
	return nil
}
func (f *fakeStore) UpdateDraftMetadata(ctx context.Context, id string, metadata metaschema.Metadata) error {
	if f.updateDraftMetadataFn != nil {
		return f.updateDraftMetadataFn(ctx, id, metadata)
	}
	return nil
}
func (f *fakeStore) InsertAuditEntry(ctx context.Context, entry store.AuditEntry) error {
	if f.insertAuditEntryFn != nil {
		return f.insertAuditEntryFn(ctx, entry)
	}
	return nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, tokenHash)
	}
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:        "test-secret",
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       24 * time.Hour,
			CommentMaxLength: 1000,
			ReviewerGroup:    "prereg-reviewers",
			QueuePageSize:    5,
		},
		store:    fs,
		sessions: fs,
		gate:     authz.NewGate("prereg-reviewers"),
	}
}

func memberSession(userID, name string) Session {
	return Session{UserID: userID, UserName: name, Role: "member"}
}

func expectDomainError(t *testing.T, err error, code string, status int) *DomainError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, domainErr.Code, domainErr.Message)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d", status, domainErr.Status)
	}
	return domainErr
}

func TestCreateCommentOnProject(t *testing.T) {
	var inserted store.Comment
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			if id != "prj-1" {
				return store.Project{}, sql.ErrNoRows
			}
			return store.Project{ID: "prj-1", Title: "Study"}, nil
		},
		isProjectMemberFn: func(_ context.Context, projectID, userID string) (bool, error) {
			return userID == "user-1", nil
		},
		insertCommentFn: func(_ context.Context, item store.Comment) error {
			inserted = item
			return nil
		},
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			if inserted.ID == id {
				return inserted, nil
			}
			return store.Comment{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateComment(context.Background(), memberSession("user-1", "Avery"), CreateCommentInput{
		TargetType: TargetProject,
		TargetID:   "prj-1",
		Content:    "Looks solid to me.",
	})
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if inserted.ProjectID != "prj-1" {
		t.Fatalf("expected comment attached to prj-1, got %s", inserted.ProjectID)
	}
	if payload["content"] != "Looks solid to me." {
		t.Fatalf("unexpected content projection: %v", payload["content"])
	}
	if payload["canEdit"] != true {
		t.Fatal("author should be able to edit their own comment")
	}
}

func TestCreateCommentReplyInheritsProject(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			if id == "cmt-parent" {
				return store.Comment{ID: "cmt-parent", ProjectID: "prj-1"}, nil
			}
			return store.Comment{ID: id, ProjectID: "prj-1"}, nil
		},
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			if id == "prj-1" {
				return store.Project{ID: "prj-1", PublicComments: true}, nil
			}
			return store.Project{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateComment(context.Background(), memberSession("user-2", "Blair"), CreateCommentInput{
		TargetType: TargetComment,
		TargetID:   "cmt-parent",
		Content:    "Replying in thread.",
	})
	if err != nil {
		t.Fatalf("CreateComment reply: %v", err)
	}
	if payload["projectId"] != "prj-1" {
		t.Fatalf("reply should inherit the parent's project, got %v", payload["projectId"])
	}
}

func TestCreateCommentTargetTypeMismatchConflicts(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			if id == "prj-1" {
				return store.Project{ID: "prj-1"}, nil
			}
			return store.Project{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	// Declared as a comment target, but the id belongs to a project.
	_, err := svc.CreateComment(context.Background(), memberSession("user-1", "Avery"), CreateCommentInput{
		TargetType: TargetComment,
		TargetID:   "prj-1",
		Content:    "hello",
	})
	expectDomainError(t, err, "CONFLICT", 409)
}

func TestCreateCommentValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})
	session := memberSession("user-1", "Avery")

	t.Run("empty content", func(t *testing.T) {
		_, err := svc.CreateComment(context.Background(), session, CreateCommentInput{
			TargetType: TargetProject, TargetID: "prj-1", Content: "   ",
		})
		expectDomainError(t, err, "VALIDATION_ERROR", 422)
	})

	t.Run("content too long", func(t *testing.T) {
		_, err := svc.CreateComment(context.Background(), session, CreateCommentInput{
			TargetType: TargetProject, TargetID: "prj-1", Content: strings.Repeat("x", 1001),
		})
		domainErr := expectDomainError(t, err, "VALIDATION_ERROR", 422)
		details, ok := domainErr.Details.(map[string]string)
		if !ok || details["field"] != "content" {
			t.Fatalf("expected field pointer to content, got %v", domainErr.Details)
		}
	})

	t.Run("unknown target type", func(t *testing.T) {
		_, err := svc.CreateComment(context.Background(), session, CreateCommentInput{
			TargetType: "registrations", TargetID: "reg-1", Content: "hello",
		})
		expectDomainError(t, err, "VALIDATION_ERROR", 422)
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := svc.CreateComment(context.Background(), session, CreateCommentInput{
			TargetType: TargetProject, TargetID: "prj-missing", Content: "hello",
		})
		expectDomainError(t, err, "NOT_FOUND", 404)
	})
}

func TestCommentContentTrimmedBeforeStorage(t *testing.T) {
	var inserted store.Comment
	var edited string
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, PublicComments: true}, nil
		},
		insertCommentFn: func(_ context.Context, item store.Comment) error {
			inserted = item
			return nil
		},
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			if inserted.ID == id {
				return inserted, nil
			}
			return store.Comment{}, sql.ErrNoRows
		},
		updateCommentContentFn: func(_ context.Context, _ string, content string) error {
			edited = content
			return nil
		},
	}
	svc := newTestService(fs)
	session := memberSession("user-1", "Avery")

	payload, err := svc.CreateComment(context.Background(), session, CreateCommentInput{
		TargetType: TargetProject, TargetID: "prj-1", Content: "   leading and trailing   ",
	})
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if inserted.Content != "leading and trailing" {
		t.Fatalf("stored content not trimmed: %q", inserted.Content)
	}
	if payload["content"] != "leading and trailing" {
		t.Fatalf("projection not trimmed: %v", payload["content"])
	}

	if _, err := svc.EditComment(context.Background(), session, inserted.ID, "\n  revised text\t"); err != nil {
		t.Fatalf("EditComment: %v", err)
	}
	if edited != "revised text" {
		t.Fatalf("edited content not trimmed: %q", edited)
	}
}

func TestCreateCommentPermission(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, PublicComments: false}, nil
		},
		isProjectMemberFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateComment(context.Background(), memberSession("user-9", "Drew"), CreateCommentInput{
		TargetType: TargetProject, TargetID: "prj-1", Content: "hello",
	})
	expectDomainError(t, err, "FORBIDDEN", 403)
}

func TestEditCommentAuthorOnly(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			return store.Comment{ID: id, AuthorID: "user-1", ProjectID: "prj-1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.EditComment(context.Background(), memberSession("user-2", "Blair"), "cmt-1", "new text")
	expectDomainError(t, err, "FORBIDDEN", 403)
}

func TestEditDeletedCommentRejected(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			return store.Comment{ID: id, AuthorID: "user-1", Deleted: true}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.EditComment(context.Background(), memberSession("user-1", "Avery"), "cmt-1", "new text")
	expectDomainError(t, err, "INVALID_STATE", 409)
}

func TestDeleteCommentIdempotentButUndeleteIsNot(t *testing.T) {
	deleted := true
	setCalls := 0
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			return store.Comment{ID: id, AuthorID: "user-1", Deleted: deleted}, nil
		},
		setCommentDeletedFn: func(_ context.Context, _ string, value bool) error {
			setCalls++
			deleted = value
			return nil
		},
	}
	svc := newTestService(fs)
	session := memberSession("user-1", "Avery")

	// Deleting an already deleted comment is a silent no-op.
	if err := svc.DeleteComment(context.Background(), session, "cmt-1"); err != nil {
		t.Fatalf("repeat delete should be a no-op: %v", err)
	}
	if setCalls != 0 {
		t.Fatalf("no-op delete must not write, got %d writes", setCalls)
	}

	// Restoring it works once...
	if _, err := svc.UndeleteComment(context.Background(), session, "cmt-1"); err != nil {
		t.Fatalf("undelete: %v", err)
	}

	// ...and restoring a live comment is rejected.
	_, err := svc.UndeleteComment(context.Background(), session, "cmt-1")
	expectDomainError(t, err, "INVALID_STATE", 409)
}

func TestDeletedCommentHidesContent(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			return store.Comment{ID: id, AuthorID: "user-1", Content: "secret", Deleted: true}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.GetComment(context.Background(), memberSession("user-2", "Blair"), "cmt-1")
	if err != nil {
		t.Fatalf("GetComment: %v", err)
	}
	if payload["content"] != nil {
		t.Fatalf("deleted comment must not expose content, got %v", payload["content"])
	}
	if payload["deleted"] != true {
		t.Fatal("deleted flag should be set")
	}
}

func TestCommentProjectionIsAbuse(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			return store.Comment{ID: id, AuthorID: "user-1", Content: "spammy"}, nil
		},
		getCommentReportFn: func(_ context.Context, commentID, reporterID string) (store.CommentReport, error) {
			if reporterID == "user-2" {
				return store.CommentReport{CommentID: commentID, ReporterID: reporterID, Category: "spam"}, nil
			}
			return store.CommentReport{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	payload, err := svc.GetComment(context.Background(), memberSession("user-2", "Blair"), "cmt-1")
	if err != nil {
		t.Fatalf("GetComment: %v", err)
	}
	if payload["isAbuse"] != true {
		t.Fatal("viewer with an active report should see isAbuse=true")
	}

	payload, err = svc.GetComment(context.Background(), memberSession("user-3", "Casey"), "cmt-1")
	if err != nil {
		t.Fatalf("GetComment: %v", err)
	}
	if payload["isAbuse"] != false {
		t.Fatal("viewer without a report should see isAbuse=false")
	}
}
