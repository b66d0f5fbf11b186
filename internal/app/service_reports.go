package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quorum/api/internal/authz"
	"quorum/api/internal/store"
)

var allowedReportCategories = map[string]struct{}{
	"spam":     {},
	"hate":     {},
	"violence": {},
}

type ReportInput struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func validateReportInput(input ReportInput) error {
	if _, ok := allowedReportCategories[input.Category]; !ok {
		return validationError(fmt.Sprintf("Invalid report category %q", input.Category), "category")
	}
	return nil
}

// ReportComment files an abuse report against a comment. One active
// report per (comment, reporter) pair; a retracted report is revived.
func (s *Service) ReportComment(ctx context.Context, session Session, commentID string, input ReportInput) (map[string]any, error) {
	if err := validateReportInput(input); err != nil {
		return nil, err
	}

	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("Comment not found")
	}
	if err != nil {
		return nil, err
	}
	if comment.AuthorID == session.UserID {
		return nil, validationError("You cannot report your own comment", "")
	}

	report := store.CommentReport{
		CommentID:  commentID,
		ReporterID: session.UserID,
		Category:   input.Category,
		Message:    input.Message,
	}
	inserted, err := s.store.InsertCommentReport(ctx, report)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, conflictError("You have already reported this comment")
	}

	s.audit(ctx, session, "comment.report", TargetComment, commentID)

	stored, err := s.store.GetCommentReport(ctx, commentID, session.UserID)
	if err != nil {
		stored = report
		stored.ReporterName = session.UserName
	}
	return serializeReport(stored), nil
}

// GetReport returns a single report. Reports are private to their
// reporter; admins may also read them.
func (s *Service) GetReport(ctx context.Context, session Session, commentID, reporterID string) (map[string]any, error) {
	if err := s.requireReportAccess(session, reporterID); err != nil {
		return nil, err
	}
	report, err := s.loadActiveReport(ctx, commentID, reporterID)
	if err != nil {
		return nil, err
	}
	return serializeReport(report), nil
}

// UpdateReport replaces the category and message of an active report.
func (s *Service) UpdateReport(ctx context.Context, session Session, commentID, reporterID string, input ReportInput) (map[string]any, error) {
	if err := s.requireReportAccess(session, reporterID); err != nil {
		return nil, err
	}
	if err := validateReportInput(input); err != nil {
		return nil, err
	}
	if _, err := s.loadActiveReport(ctx, commentID, reporterID); err != nil {
		return nil, err
	}

	changed, err := s.store.UpdateCommentReport(ctx, store.CommentReport{
		CommentID:  commentID,
		ReporterID: reporterID,
		Category:   input.Category,
		Message:    input.Message,
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		// Retracted between the read and the write.
		return nil, goneError("Report has been retracted")
	}

	s.audit(ctx, session, "report.update", TargetComment, commentID)

	stored, err := s.store.GetCommentReport(ctx, commentID, reporterID)
	if err != nil {
		return nil, err
	}
	return serializeReport(stored), nil
}

// RetractReport tombstones a report. A second retraction reports Gone.
func (s *Service) RetractReport(ctx context.Context, session Session, commentID, reporterID string) error {
	if err := s.requireReportAccess(session, reporterID); err != nil {
		return err
	}
	if _, err := s.loadActiveReport(ctx, commentID, reporterID); err != nil {
		return err
	}

	changed, err := s.store.RetractCommentReport(ctx, commentID, reporterID)
	if err != nil {
		return err
	}
	if !changed {
		return goneError("Report has been retracted")
	}

	s.audit(ctx, session, "report.retract", TargetComment, commentID)
	return nil
}

// ListReportedComments returns every comment carrying at least one
// active report, for the moderation dashboard.
func (s *Service) ListReportedComments(ctx context.Context, session Session, filter store.ReportedCommentFilter) (map[string]any, error) {
	actor := s.actor(session)
	if actor.Role != authz.RoleAdmin && actor.Role != authz.RoleModerator {
		return nil, forbiddenError("Moderation role required")
	}
	if filter.Category != "" {
		if _, ok := allowedReportCategories[filter.Category]; !ok {
			return nil, validationError(fmt.Sprintf("Invalid report category %q", filter.Category), "category")
		}
	}

	items, err := s.store.ListReportedComments(ctx, filter)
	if err != nil {
		return nil, err
	}

	serialized := make([]map[string]any, 0, len(items))
	for _, item := range items {
		reports := make([]map[string]any, 0, len(item.Reports))
		for _, report := range item.Reports {
			reports = append(reports, serializeReport(report))
		}
		serialized = append(serialized, map[string]any{
			"id":          item.ID,
			"projectId":   item.ProjectID,
			"author":      map[string]any{"id": item.AuthorID, "name": item.AuthorName},
			"content":     item.Content,
			"deleted":     item.Deleted,
			"hasChildren": item.HasChildren,
			"reports":     reports,
		})
	}
	return map[string]any{"comments": serialized}, nil
}

func (s *Service) requireReportAccess(session Session, reporterID string) error {
	if session.UserID == reporterID {
		return nil
	}
	if s.actor(session).Role == authz.RoleAdmin {
		return nil
	}
	return forbiddenError("Reports are private to their reporter")
}

func (s *Service) loadActiveReport(ctx context.Context, commentID, reporterID string) (store.CommentReport, error) {
	report, err := s.store.GetCommentReport(ctx, commentID, reporterID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.CommentReport{}, notFoundError("Report not found")
	}
	if err != nil {
		return store.CommentReport{}, err
	}
	if report.Retracted {
		return store.CommentReport{}, goneError("Report has been retracted")
	}
	return report, nil
}

func serializeReport(report store.CommentReport) map[string]any {
	return map[string]any{
		"commentId": report.CommentID,
		"reporter":  map[string]any{"id": report.ReporterID, "name": report.ReporterName},
		"category":  report.Category,
		"message":   report.Message,
		"createdAt": report.CreatedAt,
		"updatedAt": report.UpdatedAt,
	}
}
