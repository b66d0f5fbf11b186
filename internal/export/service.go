package export

import (
	"fmt"
	"time"
)

// QuestionView is one schema question with the submitter's answer and
// any reviewer comments attached to it.
type QuestionView struct {
	ID       string
	Answer   string
	Comments []string
}

// DraftView is the renderable projection of a draft registration. The
// caller resolves names and flattens answers before export.
type DraftView struct {
	DraftID       string
	SchemaName    string
	SchemaVersion int
	SubmittedBy   string
	State         string
	Notes         string
	UpdatedAt     time.Time
	Questions     []QuestionView
}

// ExportDraft renders a draft registration in the requested format.
func ExportDraft(view DraftView, format Format) (*Result, error) {
	html, err := RenderDraftHTML(view)
	if err != nil {
		return nil, fmt.Errorf("render draft: %w", err)
	}

	title := fmt.Sprintf("%s v%d %s", view.SchemaName, view.SchemaVersion, view.DraftID)
	switch format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
