package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var draftTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	draftTemplate = template.Must(template.New("draft").Funcs(funcMap).Parse(draftTemplateHTML))
}

// RenderDraftHTML renders the draft registration template.
func RenderDraftHTML(view DraftView) (string, error) {
	var buf bytes.Buffer
	if err := draftTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const draftTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.SchemaName}} v{{.SchemaVersion}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .state { text-transform: uppercase; font-weight: bold; }
    .question { margin: 1.5rem 0; }
    .question h3 { margin-bottom: 0.25rem; }
    .answer { white-space: pre-wrap; }
    .comment { background: #f5f5f5; padding: 0.75rem; margin: 0.5rem 0; border-left: 3px solid #333; }
    .notes { background: #fff8e1; padding: 1rem; margin-top: 2rem; }
  </style>
</head>
<body>
  <h1>{{.SchemaName}} <small>v{{.SchemaVersion}}</small></h1>
  <div class="meta">
    Draft {{.DraftID}} | Submitted by {{.SubmittedBy}} | Updated {{formatDate .UpdatedAt "Jan 2, 2006"}}
    {{if .State}} | <span class="state">{{.State}}</span>{{end}}
  </div>
  {{range .Questions}}
  <div class="question">
    <h3>{{.ID}}</h3>
    <div class="answer">{{.Answer}}</div>
    {{range .Comments}}<div class="comment">{{.}}</div>{{end}}
  </div>
  {{end}}
  {{if .Notes}}
  <div class="notes"><strong>Reviewer notes:</strong> {{.Notes}}</div>
  {{end}}
</body>
</html>`
