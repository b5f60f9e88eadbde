package cli

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"hakushi/internal/domain"
	"hakushi/internal/session"
)

func TestRenderer_MessageResolvesAttachments(t *testing.T) {
	r := NewRenderer(func(a domain.Attachment) string { return "https://api.example.com" + a.URL })
	out := r.Message(domain.ChatMessage{
		ID:          "m1",
		Author:      "bob",
		Content:     "look",
		Timestamp:   1700000000,
		Attachments: []domain.Attachment{{ID: "s1", Filename: "a.svg", URL: "/api/svg/s1"}},
	})
	for _, want := range []string{"bob", "look", "a.svg", "https://api.example.com/api/svg/s1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestRenderer_StatusIncludesLastError(t *testing.T) {
	r := NewRenderer(nil)
	out := r.Status(session.State{
		Status:    session.Disconnected,
		Room:      "abcd1234",
		UserName:  "Alice",
		LastError: errors.New("boom"),
	})
	for _, want := range []string{"disconnected", "room=abcd1234", "user=Alice", "error: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestAuthorColor_Deterministic(t *testing.T) {
	if authorColor("alice") != authorColor("alice") {
		t.Error("same name should map to the same color")
	}
	for _, name := range []string{"", "a", "someone with a long name"} {
		var n int
		if _, err := fmt.Sscanf(string(authorColor(name)), "%d", &n); err != nil || n < 17 || n > 231 {
			t.Errorf("color for %q out of range: %v", name, authorColor(name))
		}
	}
}
