package app

import (
	"context"
	"time"

	"quorum/api/internal/auth"
	"quorum/api/internal/authpw"
	"quorum/api/internal/authz"
	"quorum/api/internal/config"
	"quorum/api/internal/email"
	"quorum/api/internal/filestore"
	"quorum/api/internal/metaschema"
	"quorum/api/internal/search"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	Groups       []string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	GetProject(context.Context, string) (store.Project, error)
	IsProjectMember(context.Context, string, string) (bool, error)
	GetComment(context.Context, string) (store.Comment, error)
	InsertComment(context.Context, store.Comment) error
	UpdateCommentContent(context.Context, string, string) error
	SetCommentDeleted(context.Context, string, bool) error
	CommentHasChildren(context.Context, string) (bool, error)
	GetCommentReport(context.Context, string, string) (store.CommentReport, error)
	InsertCommentReport(context.Context, store.CommentReport) (bool, error)
	UpdateCommentReport(context.Context, store.CommentReport) (bool, error)
	RetractCommentReport(context.Context, string, string) (bool, error)
	ListCommentReports(context.Context, string) ([]store.CommentReport, error)
	ListReportedComments(context.Context, store.ReportedCommentFilter) ([]store.ReportedComment, error)
	GetMetaSchema(context.Context, string, int) (store.MetaSchema, error)
	UpsertMetaSchema(context.Context, store.MetaSchema) error
	GetDraft(context.Context, string) (store.DraftRegistration, error)
	ListPendingDrafts(context.Context, string, int, int, int) ([]store.DraftRegistration, error)
	SetDraftApprovalState(context.Context, string, string) (bool, error)
	UpdateDraftAdminSettings(context.Context, string, string, map[string]any) error
	UpdateDraftMetadata(context.Context, string, metaschema.Metadata) error
	InsertAuditEntry(context.Context, store.AuditEntry) error
	Ping(context.Context) error
}

type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexComment(c search.CommentRecord)
	IndexDraft(d search.DraftRecord)
	DeleteComment(id string)
}

type attachmentStore interface {
	StatAttachment(ctx context.Context, draftID, fileID string) error
	PresignedGetURL(ctx context.Context, draftID, fileID string, expiry time.Duration) (string, error)
}

type decisionNotifier interface {
	IsConfigured() bool
	SendDraftDecisionEmail(to, userName, schemaName, decision string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	gate     authz.Gate
	search   searchIndex
	files    attachmentStore
	mailer   decisionNotifier
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions SessionStore, authSvc *authpw.Service, searchSvc *search.Service, files *filestore.Store, mailer *email.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		gate:     authz.NewGate(cfg.ReviewerGroup),
	}
	if sessions == nil {
		svc.sessions = dataStore
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	if files != nil {
		svc.files = files
	}
	if mailer != nil && mailer.IsConfigured() {
		svc.mailer = mailer
	}
	return svc
}

// Bootstrap seeds the registration schema the review queue is built
// around. Safe to run on every start.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.store.UpsertMetaSchema(ctx, store.MetaSchema{
		Name:    "Prereg Challenge",
		Version: 2,
		Questions: []string{
			"q1_hypothesis",
			"q2_sample_size",
			"q3_variables",
			"q4_analysis_plan",
			"q5_data_exclusion",
		},
	})
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SignUp registers a new account and opens a session for it.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.authpw.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// SignIn authenticates and opens a session.
func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.authpw.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Role:   user.Role,
		Groups: user.Groups,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		Groups:       user.Groups,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		Groups:    user.Groups,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action authz.Action) bool {
	return authz.Can(authz.Normalize(role), action)
}

func (s *Service) actor(session Session) authz.Actor {
	return authz.Actor{
		ID:     session.UserID,
		Name:   session.UserName,
		Role:   authz.Normalize(session.Role),
		Groups: session.Groups,
	}
}

func (s *Service) isReviewer(session Session) bool {
	actor := s.actor(session)
	return actor.Role == authz.RoleAdmin || s.gate.IsReviewer(actor)
}

// audit appends to the append-only log. Failures are swallowed: the
// primary operation has already committed.
func (s *Service) audit(ctx context.Context, session Session, action, targetType, targetID string) {
	_ = s.store.InsertAuditEntry(ctx, store.AuditEntry{
		Action:     action,
		ActorID:    session.UserID,
		ActorName:  session.UserName,
		TargetType: targetType,
		TargetID:   targetID,
	})
}

// Search runs an admin search across comments and drafts.
func (s *Service) Search(ctx context.Context, session Session, text, filterType, projectID string, limit, offset int) (search.Response, error) {
	if !s.isReviewer(session) && s.actor(session).Role != authz.RoleModerator {
		return search.Response{}, forbiddenError("Search requires a moderation role")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:            text,
		FilterType:      search.ResultType(filterType),
		FilterProjectID: projectID,
		Limit:           limit,
		Offset:          offset,
		IncludeDeleted:  true,
	}), nil
}
