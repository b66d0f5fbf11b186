package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"quorum/api/internal/export"
	"quorum/api/internal/filestore"
	"quorum/api/internal/metaschema"
	"quorum/api/internal/search"
	"quorum/api/internal/store"
)

const attachmentURLTTL = 15 * time.Minute

type PendingReviewInput struct {
	SchemaName    string
	SchemaVersion int
	// Assignee is accepted for dashboard compatibility but does not
	// narrow the queue: assignment lives in the draft flags.
	Assignee string
	Limit    int
	Offset   int
}

// ListPendingReview returns the review queue for one schema, oldest
// submission first.
func (s *Service) ListPendingReview(ctx context.Context, session Session, input PendingReviewInput) (map[string]any, error) {
	if !s.isReviewer(session) {
		return nil, forbiddenError("Reviewer group membership required")
	}
	if input.SchemaName == "" {
		return nil, validationError("Schema name is required", "schema")
	}
	if input.SchemaVersion <= 0 {
		return nil, validationError("Schema version must be a positive integer", "version")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = s.cfg.QueuePageSize
	}
	if limit <= 0 {
		limit = 5
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	drafts, err := s.store.ListPendingDrafts(ctx, input.SchemaName, input.SchemaVersion, limit, offset)
	if err != nil {
		return nil, err
	}

	serialized := make([]map[string]any, 0, len(drafts))
	for _, draft := range drafts {
		serialized = append(serialized, serializeDraft(draft))
	}
	return map[string]any{
		"drafts": serialized,
		"limit":  limit,
		"offset": offset,
	}, nil
}

// GetDraft returns a single draft registration for review.
func (s *Service) GetDraft(ctx context.Context, session Session, draftID string) (map[string]any, error) {
	if !s.isReviewer(session) {
		return nil, forbiddenError("Reviewer group membership required")
	}
	draft, err := s.loadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	return serializeDraft(draft), nil
}

// ApproveDraft moves a pending submission to its terminal approved state.
func (s *Service) ApproveDraft(ctx context.Context, session Session, draftID string) (map[string]any, error) {
	return s.decideDraft(ctx, session, draftID, store.ApprovalApproved, "draft.approve")
}

// RejectDraft moves a pending submission to its terminal rejected state.
func (s *Service) RejectDraft(ctx context.Context, session Session, draftID string) (map[string]any, error) {
	return s.decideDraft(ctx, session, draftID, store.ApprovalRejected, "draft.reject")
}

func (s *Service) decideDraft(ctx context.Context, session Session, draftID, state, auditAction string) (map[string]any, error) {
	if !s.isReviewer(session) {
		return nil, forbiddenError("Reviewer group membership required")
	}

	draft, err := s.loadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Approval == nil {
		return nil, invalidStateError("Draft has not been submitted for review", nil)
	}
	if draft.Approval.State != store.ApprovalPending {
		return nil, invalidStateError("Draft review is already decided", map[string]string{"state": draft.Approval.State})
	}

	changed, err := s.store.SetDraftApprovalState(ctx, draftID, state)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Lost the race to a concurrent decision.
		return nil, invalidStateError("Draft review is already decided", nil)
	}

	s.audit(ctx, session, auditAction, "draft_registrations", draftID)
	draft.Approval.State = state
	s.indexDraft(draft)
	s.notifyDecision(draft, state)

	return serializeDraft(draft), nil
}

// notifyDecision emails the submitter about a review decision. Delivery
// is best effort; the decision has already committed.
func (s *Service) notifyDecision(draft store.DraftRegistration, state string) {
	if s.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		submitter, err := s.store.GetUserByID(ctx, draft.CreatedBy)
		if err != nil || submitter.Email == "" {
			log.Warn().Err(err).Str("draft_id", draft.ID).Msg("decision email skipped, no submitter address")
			return
		}
		if err := s.mailer.SendDraftDecisionEmail(submitter.Email, submitter.DisplayName, draft.SchemaName, state); err != nil {
			log.Warn().Err(err).Str("draft_id", draft.ID).Msg("decision email failed")
		}
	}()
}

type DraftUpdateInput struct {
	AdminSettings map[string]json.RawMessage            `json:"admin_settings"`
	SchemaData    map[string]metaschema.QuestionPayload `json:"schema_data"`
}

// UpdateDraft dispatches on the payload shape: admin_settings updates
// the reviewer bookkeeping fields, schema_data merges reviewer comments
// into the registration metadata. Exactly one of the two must be given.
func (s *Service) UpdateDraft(ctx context.Context, session Session, draftID string, input DraftUpdateInput) (map[string]any, error) {
	if !s.isReviewer(session) {
		return nil, forbiddenError("Reviewer group membership required")
	}

	hasAdmin := input.AdminSettings != nil
	hasSchema := input.SchemaData != nil
	if hasAdmin == hasSchema {
		return nil, validationError("Provide exactly one of admin_settings or schema_data", "")
	}

	if hasAdmin {
		return s.updateAdminSettings(ctx, session, draftID, input.AdminSettings)
	}
	return s.updateReviewerComments(ctx, session, draftID, input.SchemaData)
}

func (s *Service) updateAdminSettings(ctx context.Context, session Session, draftID string, payload map[string]json.RawMessage) (map[string]any, error) {
	if _, err := s.loadDraft(ctx, draftID); err != nil {
		return nil, err
	}

	settings, err := metaschema.ParseAdminSettings(payload)
	if err != nil {
		var fieldErr *metaschema.Error
		if errors.As(err, &fieldErr) {
			return nil, validationError(fieldErr.Message, fieldErr.Field)
		}
		return nil, validationError(err.Error(), "")
	}

	if err := s.store.UpdateDraftAdminSettings(ctx, draftID, settings.Notes, settings.Flags); err != nil {
		return nil, err
	}

	s.audit(ctx, session, "draft.admin_settings", "draft_registrations", draftID)

	draft, err := s.loadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	s.indexDraft(draft)
	return serializeDraft(draft), nil
}

// updateReviewerComments merges reviewer comment sequences onto the
// submitter's answers. Answers are never touched; question ids absent
// from the payload keep their comments.
func (s *Service) updateReviewerComments(ctx context.Context, session Session, draftID string, payload map[string]metaschema.QuestionPayload) (map[string]any, error) {
	draft, err := s.loadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}

	schema, err := s.store.GetMetaSchema(ctx, draft.SchemaName, draft.SchemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invalidStateError("Draft references an unknown schema", nil)
	}
	if err != nil {
		return nil, err
	}

	merged := metaschema.MergeReviewerComments(draft.Metadata, payload)
	if err := metaschema.ValidateMetadata(schema.Questions, merged); err != nil {
		var fieldErr *metaschema.Error
		if errors.As(err, &fieldErr) {
			return nil, invalidStateError(fieldErr.Message, map[string]string{"field": fieldErr.Field})
		}
		return nil, invalidStateError(err.Error(), nil)
	}

	if err := s.store.UpdateDraftMetadata(ctx, draftID, merged); err != nil {
		return nil, err
	}

	s.audit(ctx, session, "draft.review_comments", "draft_registrations", draftID)
	draft.Metadata = merged
	s.indexDraft(draft)

	return serializeDraft(draft), nil
}

// AttachmentURL returns a short-lived presigned download URL for a draft file.
func (s *Service) AttachmentURL(ctx context.Context, session Session, draftID, fileID string) (string, error) {
	if !s.isReviewer(session) {
		return "", forbiddenError("Reviewer group membership required")
	}
	if _, err := s.loadDraft(ctx, draftID); err != nil {
		return "", err
	}
	if s.files == nil {
		return "", domainError(503, "ATTACHMENTS_UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	if err := s.files.StatAttachment(ctx, draftID, fileID); err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return "", notFoundError("Attachment not found")
		}
		return "", err
	}
	return s.files.PresignedGetURL(ctx, draftID, fileID, attachmentURLTTL)
}

// ExportDraft renders a draft registration as a downloadable document.
func (s *Service) ExportDraft(ctx context.Context, session Session, draftID, format string) (*export.Result, error) {
	if !s.isReviewer(session) {
		return nil, forbiddenError("Reviewer group membership required")
	}
	switch export.Format(format) {
	case export.FormatPDF, export.FormatDOCX:
	default:
		return nil, validationError("Format must be pdf or docx", "format")
	}

	draft, err := s.loadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	schema, err := s.store.GetMetaSchema(ctx, draft.SchemaName, draft.SchemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invalidStateError("Draft references an unknown schema", nil)
	}
	if err != nil {
		return nil, err
	}

	submittedBy := draft.CreatedBy
	if submitter, err := s.store.GetUserByID(ctx, draft.CreatedBy); err == nil && submitter.DisplayName != "" {
		submittedBy = submitter.DisplayName
	}

	view := export.DraftView{
		DraftID:       draft.ID,
		SchemaName:    draft.SchemaName,
		SchemaVersion: draft.SchemaVersion,
		SubmittedBy:   submittedBy,
		Notes:         draft.Notes,
		UpdatedAt:     draft.UpdatedAt,
	}
	if draft.Approval != nil {
		view.State = draft.Approval.State
	}
	for _, id := range schema.Questions {
		question := export.QuestionView{ID: id, Answer: flattenAnswer(draft.Metadata[id].Value)}
		for _, raw := range draft.Metadata[id].Comments {
			question.Comments = append(question.Comments, flattenComment(raw))
		}
		view.Questions = append(view.Questions, question)
	}

	result, err := export.ExportDraft(view, export.Format(format))
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export rendering is not available", nil)
	}
	if err != nil {
		return nil, err
	}

	s.audit(ctx, session, "draft.export", "draft_registrations", draftID)
	return result, nil
}

// flattenAnswer renders a stored answer value as display text.
func flattenAnswer(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}

// flattenComment extracts the text of a reviewer comment, falling back
// to the raw JSON for unrecognized shapes.
func flattenComment(raw json.RawMessage) string {
	var comment struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &comment); err == nil && comment.Text != "" {
		return comment.Text
	}
	return flattenAnswer(raw)
}

func (s *Service) loadDraft(ctx context.Context, draftID string) (store.DraftRegistration, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DraftRegistration{}, notFoundError("Draft not found")
	}
	if err != nil {
		return store.DraftRegistration{}, err
	}
	return draft, nil
}

func (s *Service) indexDraft(draft store.DraftRegistration) {
	if s.search == nil {
		return
	}
	state := ""
	if draft.Approval != nil {
		state = draft.Approval.State
	}
	s.search.IndexDraft(search.DraftRecord{
		ID:         draft.ID,
		SchemaName: draft.SchemaName,
		Notes:      draft.Notes,
		State:      state,
	})
}

func serializeDraft(draft store.DraftRegistration) map[string]any {
	var approval any
	if draft.Approval != nil {
		approval = map[string]any{
			"initiator":   draft.Approval.Initiator,
			"initiatedAt": draft.Approval.InitiatedAt,
			"state":       draft.Approval.State,
		}
	}
	return map[string]any{
		"id": draft.ID,
		"schema": map[string]any{
			"name":    draft.SchemaName,
			"version": draft.SchemaVersion,
		},
		"registrationMetadata": draft.Metadata,
		"flags":                draft.Flags,
		"notes":                draft.Notes,
		"approval":             approval,
		"createdBy":            draft.CreatedBy,
		"createdAt":            draft.CreatedAt,
		"updatedAt":            draft.UpdatedAt,
	}
}
