package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"quorum/api/internal/search"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

const (
	TargetProject = "nodes"
	TargetComment = "comments"
)

type CreateCommentInput struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Content    string `json:"content"`
}

// resolveTarget looks up the declared target and returns the project the
// new comment belongs to. A target found under the other type than the
// one declared is a conflict, not a miss.
func (s *Service) resolveTarget(ctx context.Context, targetType, targetID string) (store.Project, error) {
	switch targetType {
	case TargetProject:
		project, err := s.store.GetProject(ctx, targetID)
		if errors.Is(err, sql.ErrNoRows) {
			if _, commentErr := s.store.GetComment(ctx, targetID); commentErr == nil {
				return store.Project{}, conflictError("Target is a comment, not a project")
			}
			return store.Project{}, notFoundError("Target not found")
		}
		if err != nil {
			return store.Project{}, err
		}
		return project, nil
	case TargetComment:
		parent, err := s.store.GetComment(ctx, targetID)
		if errors.Is(err, sql.ErrNoRows) {
			if _, projectErr := s.store.GetProject(ctx, targetID); projectErr == nil {
				return store.Project{}, conflictError("Target is a project, not a comment")
			}
			return store.Project{}, notFoundError("Target not found")
		}
		if err != nil {
			return store.Project{}, err
		}
		return s.store.GetProject(ctx, parent.ProjectID)
	default:
		return store.Project{}, validationError(fmt.Sprintf("Invalid target type %q", targetType), "targetType")
	}
}

// normalizeContent trims surrounding whitespace and validates what is
// left. The trimmed form is what gets stored.
func (s *Service) normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", validationError("Comment cannot be empty", "content")
	}
	if len([]rune(content)) > s.commentMaxLength() {
		return "", validationError(
			fmt.Sprintf("Comment cannot exceed %d characters", s.commentMaxLength()), "content")
	}
	return content, nil
}

func (s *Service) commentMaxLength() int {
	if s.cfg.CommentMaxLength > 0 {
		return s.cfg.CommentMaxLength
	}
	return 1000
}

// CreateComment posts a comment on a project or on another comment.
func (s *Service) CreateComment(ctx context.Context, session Session, input CreateCommentInput) (map[string]any, error) {
	content, err := s.normalizeContent(input.Content)
	if err != nil {
		return nil, err
	}

	project, err := s.resolveTarget(ctx, input.TargetType, input.TargetID)
	if err != nil {
		return nil, err
	}

	isMember, err := s.store.IsProjectMember(ctx, project.ID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanComment(s.actor(session), project.PublicComments, isMember) {
		return nil, forbiddenError("You do not have permission to comment here")
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		ProjectID:  project.ID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		TargetType: input.TargetType,
		TargetID:   input.TargetID,
		Content:    content,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	s.audit(ctx, session, "comment.create", TargetComment, comment.ID)
	s.indexComment(comment)

	stored, err := s.store.GetComment(ctx, comment.ID)
	if err != nil {
		// Insert succeeded; fall back to what we have in hand.
		stored = comment
	}
	return s.serializeComment(ctx, session, stored)
}

// GetComment returns the projection of a single comment.
func (s *Service) GetComment(ctx context.Context, session Session, commentID string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("Comment not found")
	}
	if err != nil {
		return nil, err
	}
	return s.serializeComment(ctx, session, comment)
}

// EditComment replaces a comment's content. Author only; a deleted
// comment must be restored before it can be edited.
func (s *Service) EditComment(ctx context.Context, session Session, commentID, content string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("Comment not found")
	}
	if err != nil {
		return nil, err
	}

	if !s.gate.CanEditComment(s.actor(session), comment.AuthorID) {
		return nil, forbiddenError("Only the author can edit a comment")
	}
	if comment.Deleted {
		return nil, invalidStateError("Cannot edit a deleted comment", nil)
	}
	content, err = s.normalizeContent(content)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateCommentContent(ctx, commentID, content); err != nil {
		return nil, err
	}

	s.audit(ctx, session, "comment.edit", TargetComment, commentID)
	comment.Content = content
	comment.Modified = true
	s.indexComment(comment)

	stored, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		stored = comment
	}
	return s.serializeComment(ctx, session, stored)
}

// DeleteComment soft-deletes a comment. Deleting an already deleted
// comment is a no-op.
func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("Comment not found")
	}
	if err != nil {
		return err
	}

	if !s.gate.CanEditComment(s.actor(session), comment.AuthorID) {
		return forbiddenError("Only the author can delete a comment")
	}
	if comment.Deleted {
		return nil
	}

	if err := s.store.SetCommentDeleted(ctx, commentID, true); err != nil {
		return err
	}
	s.audit(ctx, session, "comment.delete", TargetComment, commentID)
	s.deindexComment(commentID)
	return nil
}

// UndeleteComment restores a soft-deleted comment. Unlike delete, the
// restore of a live comment is rejected rather than ignored.
func (s *Service) UndeleteComment(ctx context.Context, session Session, commentID string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("Comment not found")
	}
	if err != nil {
		return nil, err
	}

	if !s.gate.CanEditComment(s.actor(session), comment.AuthorID) {
		return nil, forbiddenError("Only the author can restore a comment")
	}
	if !comment.Deleted {
		return nil, invalidStateError("Comment is not deleted", nil)
	}

	if err := s.store.SetCommentDeleted(ctx, commentID, false); err != nil {
		return nil, err
	}
	s.audit(ctx, session, "comment.undelete", TargetComment, commentID)
	comment.Deleted = false
	s.indexComment(comment)

	return s.serializeComment(ctx, session, comment)
}

// serializeComment builds the viewer-dependent projection: content is
// withheld for deleted comments, isAbuse reflects whether this viewer
// has an active report against it.
func (s *Service) serializeComment(ctx context.Context, session Session, comment store.Comment) (map[string]any, error) {
	hasChildren, err := s.store.CommentHasChildren(ctx, comment.ID)
	if err != nil {
		return nil, err
	}

	isAbuse := false
	if session.UserID != "" {
		report, err := s.store.GetCommentReport(ctx, comment.ID, session.UserID)
		if err == nil && !report.Retracted {
			isAbuse = true
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	var content any
	if comment.Deleted {
		content = nil
	} else {
		content = comment.Content
	}

	return map[string]any{
		"id":          comment.ID,
		"projectId":   comment.ProjectID,
		"author":      map[string]any{"id": comment.AuthorID, "name": comment.AuthorName},
		"targetType":  comment.TargetType,
		"targetId":    comment.TargetID,
		"content":     content,
		"modified":    comment.Modified,
		"deleted":     comment.Deleted,
		"hasChildren": hasChildren,
		"isAbuse":     isAbuse,
		"canEdit":     s.gate.CanEditComment(s.actor(session), comment.AuthorID),
		"createdAt":   comment.CreatedAt,
		"modifiedAt":  comment.ModifiedAt,
	}, nil
}

func (s *Service) indexComment(comment store.Comment) {
	if s.search == nil {
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:         comment.ID,
		Content:    comment.Content,
		AuthorName: comment.AuthorName,
		ProjectID:  comment.ProjectID,
		TargetType: comment.TargetType,
		Deleted:    comment.Deleted,
	})
}

func (s *Service) deindexComment(commentID string) {
	if s.search == nil {
		return
	}
	s.search.DeleteComment(commentID)
}
