package filestore

import "testing"

func TestNewDisabledWithoutEndpoint(t *testing.T) {
	store, err := New(Config{})
	if err != nil {
		t.Fatalf("New with empty endpoint: %v", err)
	}
	if store != nil {
		t.Fatal("expected nil store when endpoint is not configured")
	}
}

func TestAttachmentKey(t *testing.T) {
	got := AttachmentKey("draft_ab12", "file_cd34")
	want := "drafts/draft_ab12/file_cd34"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
