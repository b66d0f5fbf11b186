package metaschema

import (
	"encoding/json"
	"testing"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestMergeReviewerCommentsPartialPayload(t *testing.T) {
	existing := Metadata{
		"q1": {Value: mustJSON(t, "A"), Comments: []json.RawMessage{}},
		"q2": {Value: mustJSON(t, "B"), Comments: []json.RawMessage{mustJSON(t, map[string]string{"text": "x"})}},
	}
	payload := map[string]QuestionPayload{
		"q1": {Comments: []json.RawMessage{mustJSON(t, map[string]string{"text": "y"})}},
	}

	merged := MergeReviewerComments(existing, payload)

	if string(merged["q1"].Value) != `"A"` {
		t.Fatalf("q1 answer changed: %s", merged["q1"].Value)
	}
	if string(merged["q2"].Value) != `"B"` {
		t.Fatalf("q2 answer changed: %s", merged["q2"].Value)
	}
	if len(merged["q1"].Comments) != 1 || string(merged["q1"].Comments[0]) != `{"text":"y"}` {
		t.Fatalf("q1 comments not replaced: %v", merged["q1"].Comments)
	}
	if len(merged["q2"].Comments) != 1 || string(merged["q2"].Comments[0]) != `{"text":"x"}` {
		t.Fatalf("q2 comments should be untouched for question ids absent from the payload: %v", merged["q2"].Comments)
	}
}

func TestMergeReviewerCommentsIgnoresUnknownQuestions(t *testing.T) {
	existing := Metadata{
		"q1": {Value: mustJSON(t, 42), Comments: []json.RawMessage{}},
	}
	payload := map[string]QuestionPayload{
		"q9": {Comments: []json.RawMessage{mustJSON(t, map[string]string{"text": "stray"})}},
	}

	merged := MergeReviewerComments(existing, payload)

	if len(merged) != 1 {
		t.Fatalf("merge must never add question ids, got %d entries", len(merged))
	}
	if _, ok := merged["q9"]; ok {
		t.Fatal("payload-only question id leaked into metadata")
	}
}

func TestMergeReviewerCommentsEmptiesWhenCommentsAbsent(t *testing.T) {
	existing := Metadata{
		"q1": {Value: mustJSON(t, "A"), Comments: []json.RawMessage{mustJSON(t, map[string]string{"text": "old"})}},
	}
	// q1 present in the payload but without a comments field clears the thread.
	payload := map[string]QuestionPayload{"q1": {}}

	merged := MergeReviewerComments(existing, payload)

	if len(merged["q1"].Comments) != 0 {
		t.Fatalf("expected empty comment thread, got %v", merged["q1"].Comments)
	}
	if string(merged["q1"].Value) != `"A"` {
		t.Fatalf("answer value changed: %s", merged["q1"].Value)
	}
}

func TestMergeReviewerCommentsDoesNotMutateInput(t *testing.T) {
	original := mustJSON(t, map[string]string{"text": "x"})
	existing := Metadata{
		"q1": {Value: mustJSON(t, "A"), Comments: []json.RawMessage{original}},
	}
	payload := map[string]QuestionPayload{
		"q1": {Comments: []json.RawMessage{mustJSON(t, map[string]string{"text": "y"})}},
	}

	_ = MergeReviewerComments(existing, payload)

	if len(existing["q1"].Comments) != 1 || string(existing["q1"].Comments[0]) != `{"text":"x"}` {
		t.Fatalf("merge mutated its input: %v", existing["q1"].Comments)
	}
}

func TestValidateMetadata(t *testing.T) {
	questions := []string{"q1", "q2"}

	ok := Metadata{"q1": {}, "q2": {}}
	if err := ValidateMetadata(questions, ok); err != nil {
		t.Fatalf("expected exact key set to validate, got %v", err)
	}

	missing := Metadata{"q1": {}}
	if err := ValidateMetadata(questions, missing); err == nil {
		t.Fatal("expected missing question to fail validation")
	}

	extra := Metadata{"q1": {}, "q2": {}, "q3": {}}
	err := ValidateMetadata(questions, extra)
	if err == nil {
		t.Fatal("expected unexpected question to fail validation")
	}
	var verr *Error
	if !asFieldError(err, &verr) || verr.Field != "q3" {
		t.Fatalf("expected field pointer q3, got %v", err)
	}
}

func asFieldError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

func TestParseAdminSettings(t *testing.T) {
	payload := map[string]json.RawMessage{
		"notes":        json.RawMessage(`"looks complete"`),
		"assignee":     json.RawMessage(`"reviewer-7"`),
		"payment_sent": json.RawMessage(`true`),
	}

	settings, err := ParseAdminSettings(payload)
	if err != nil {
		t.Fatalf("ParseAdminSettings() error = %v", err)
	}
	if settings.Notes != "looks complete" {
		t.Fatalf("notes not extracted: %q", settings.Notes)
	}
	if _, ok := settings.Flags["notes"]; ok {
		t.Fatal("notes must not remain in flags")
	}
	if settings.Flags["assignee"] != "reviewer-7" || settings.Flags["payment_sent"] != true {
		t.Fatalf("unexpected flags: %v", settings.Flags)
	}
}

func TestParseAdminSettingsRejectsUnknownField(t *testing.T) {
	payload := map[string]json.RawMessage{
		"escalation_level": json.RawMessage(`3`),
	}
	if _, err := ParseAdminSettings(payload); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestParseAdminSettingsRejectsWrongType(t *testing.T) {
	payload := map[string]json.RawMessage{
		"payment_sent": json.RawMessage(`"yes"`),
	}
	if _, err := ParseAdminSettings(payload); err == nil {
		t.Fatal("expected wrong-typed field to be rejected")
	}
}
