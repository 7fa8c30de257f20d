package model

import (
	"testing"
)

func TestThread(t *testing.T) {
	// root → a → b, with a sibling branch root → c
	root := Message{ID: "root", Role: RoleUser, Content: "start"}
	a := Message{ID: "a", ParentID: "root", Role: RoleAssistant, Content: "first"}
	b := Message{ID: "b", ParentID: "a", Role: RoleUser, Content: "followup"}
	c := Message{ID: "c", ParentID: "root", Role: RoleAssistant, Content: "branch"}
	history := []Message{root, a, b, c}

	tests := []struct {
		name   string
		leafID string
		want   []string
	}{
		{
			name:   "main branch",
			leafID: "b",
			want:   []string{"root", "a", "b"},
		},
		{
			name:   "side branch",
			leafID: "c",
			want:   []string{"root", "c"},
		},
		{
			name:   "root only",
			leafID: "root",
			want:   []string{"root"},
		},
		{
			name:   "unknown leaf returns full history",
			leafID: "missing",
			want:   []string{"root", "a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Thread(history, tt.leafID)
			if len(got) != len(tt.want) {
				t.Fatalf("thread length: got %d, want %d", len(got), len(tt.want))
			}
			for i, m := range got {
				if m.ID != tt.want[i] {
					t.Errorf("thread[%d]: got %q, want %q", i, m.ID, tt.want[i])
				}
			}
		})
	}
}

func TestThreadBrokenParent(t *testing.T) {
	// Parent chain pointing at a message that was never stored stops at the
	// last known message instead of failing.
	orphan := Message{ID: "x", ParentID: "gone", Content: "orphan"}
	got := Thread([]Message{orphan}, "x")
	if len(got) != 1 || got[0].ID != "x" {
		t.Fatalf("got %v, want single orphan message", got)
	}
}

func TestStripImages(t *testing.T) {
	in := []Message{
		{Role: RoleTool, Content: "plot saved", Images: []string{"aGVsbG8="}},
		{Role: RoleAssistant, Content: "done"},
	}

	got := StripImages(in)

	if got[0].Images != nil {
		t.Errorf("images not stripped: %v", got[0].Images)
	}
	if got[0].Content != "plot saved" {
		t.Errorf("text content changed: got %q", got[0].Content)
	}
	// Original slice must keep its payload for persistence.
	if len(in[0].Images) != 1 {
		t.Errorf("original message modified: %v", in[0].Images)
	}
}

func TestNewMessage(t *testing.T) {
	m := NewMessage(RoleUser, "hello")
	if m.ID == "" {
		t.Error("expected generated ID")
	}
	if m.Role != RoleUser || m.Content != "hello" {
		t.Errorf("got role=%q content=%q", m.Role, m.Content)
	}
	if m.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if m.HasAttachments() {
		t.Error("new message should have no attachments")
	}
}
