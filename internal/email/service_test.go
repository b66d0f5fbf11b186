package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "noreply@example.org",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.org",
				From: "noreply@example.org",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.org",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.org",
				Port: "587",
				From: "noreply@example.org",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderDraftDecisionTemplate(t *testing.T) {
	approved := DraftDecisionData{
		AppName:    "Quorum",
		UserName:   "Avery",
		SchemaName: "Prereg Challenge",
		Decision:   "approved",
		Approved:   true,
	}

	html, err := renderTemplate(draftDecisionEmailTemplate, approved)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Quorum") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Avery") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "Prereg Challenge") {
		t.Error("template should contain schema name")
	}
	if !strings.Contains(html, "No further action") {
		t.Error("approved template should contain approval copy")
	}

	rejected := approved
	rejected.Decision = "rejected"
	rejected.Approved = false

	html, err = renderTemplate(draftDecisionEmailTemplate, rejected)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "submit it again") {
		t.Error("rejected template should suggest resubmission")
	}
}

func TestSendEmailRequiresConfiguration(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"a@example.org"}, "subject", "body"); err == nil {
		t.Fatal("expected error when unconfigured")
	}
	if err := svc.SendHTMLEmail([]string{"a@example.org"}, "subject", "<p>hi</p>"); err == nil {
		t.Fatal("expected error when unconfigured")
	}
}
