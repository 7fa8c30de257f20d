package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"tabula/model"
)

func newTestCheckpointer(t *testing.T) *SQLiteCheckpointer {
	t.Helper()
	cp, err := NewSQLiteCheckpointer(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCheckpointer() error = %v", err)
	}
	t.Cleanup(func() { cp.Close() })
	return cp
}

func TestSQLiteCheckpointerRoundTrip(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	base := time.Now()
	user := model.Message{
		ID:        "msg-1",
		Role:      model.RoleUser,
		Content:   "Summarize the uploaded file",
		Timestamp: base,
		Attachments: []model.Attachment{
			{Filename: "sales.csv", URL: "file:///data/sales.csv"},
		},
	}
	assistant := model.Message{
		ID:        "msg-2",
		ParentID:  "msg-1",
		Role:      model.RoleAssistant,
		Content:   "The file holds monthly sales.",
		Timestamp: base.Add(time.Second),
		Images:    []string{"aW1hZ2U="},
		Extra:     map[string]any{"stage": "summarize"},
	}

	if err := cp.SaveMessages(ctx, "sess-1", []model.Message{user, assistant}); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}

	got, err := cp.LoadMessages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadMessages() returned %d messages, want 2", len(got))
	}

	if got[0].ID != "msg-1" || got[1].ID != "msg-2" {
		t.Errorf("messages out of order: %q, %q", got[0].ID, got[1].ID)
	}
	if got[1].ParentID != "msg-1" {
		t.Errorf("ParentID = %q, want %q", got[1].ParentID, "msg-1")
	}
	if !reflect.DeepEqual(got[0].Attachments, user.Attachments) {
		t.Errorf("Attachments = %+v, want %+v", got[0].Attachments, user.Attachments)
	}
	if !reflect.DeepEqual(got[1].Images, assistant.Images) {
		t.Errorf("Images = %+v, want %+v", got[1].Images, assistant.Images)
	}
	if !reflect.DeepEqual(got[1].Extra, assistant.Extra) {
		t.Errorf("Extra = %+v, want %+v", got[1].Extra, assistant.Extra)
	}
	if !got[0].Timestamp.Equal(user.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, user.Timestamp)
	}
}

func TestSQLiteCheckpointerUnknownSession(t *testing.T) {
	cp := newTestCheckpointer(t)

	got, err := cp.LoadMessages(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadMessages() returned %d messages, want 0", len(got))
	}
}

func TestSQLiteCheckpointerAssignsIDs(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	msg := model.Message{Role: model.RoleUser, Content: "hello"}
	if err := cp.SaveMessages(ctx, "sess-1", []model.Message{msg}); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}

	got, err := cp.LoadMessages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}
	if len(got) != 1 || got[0].ID == "" {
		t.Errorf("stored message has no ID: %+v", got)
	}
}

func TestSQLiteCheckpointerResaveIdempotent(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	msgs := []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "Plot revenue by quarter"},
		{ID: "m2", ParentID: "m1", Role: model.RoleAssistant, Content: "Done."},
	}
	if err := cp.SaveMessages(ctx, "sess-1", msgs); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}
	if err := cp.SaveMessages(ctx, "sess-1", msgs); err != nil {
		t.Fatalf("second SaveMessages() error = %v", err)
	}

	got, err := cp.LoadMessages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("LoadMessages() returned %d messages after resave, want 2", len(got))
	}

	sessions, err := cp.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Sessions() returned %d sessions, want 1", len(sessions))
	}
	if sessions[0].Title != "Plot revenue by quarter" {
		t.Errorf("Title = %q, want %q", sessions[0].Title, "Plot revenue by quarter")
	}
	if sessions[0].MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", sessions[0].MessageCount)
	}
}

func TestSQLiteCheckpointerSessionsOrder(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	if err := cp.SaveMessages(ctx, "old", []model.Message{{Role: model.RoleUser, Content: "first session"}}); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}
	if err := cp.SaveMessages(ctx, "new", []model.Message{{Role: model.RoleUser, Content: "second session"}}); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}

	sessions, err := cp.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Sessions() returned %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != "new" {
		t.Errorf("Sessions()[0].ID = %q, want most recently updated first", sessions[0].ID)
	}
}

func TestSQLiteCheckpointerSearch(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	msgs := []model.Message{
		{ID: "m1", Role: model.RoleSystem, Content: "You analyze revenue tables."},
		{ID: "m2", Role: model.RoleUser, Content: "Show revenue per region"},
		{ID: "m3", ParentID: "m2", Role: model.RoleAssistant, Content: strings.Repeat("revenue ", 30)},
	}
	if err := cp.SaveMessages(ctx, "sess-1", msgs); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}

	matches, err := cp.SearchMessages(ctx, "revenue")
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("SearchMessages() returned %d matches, want 2 (system skipped)", len(matches))
	}
	for _, m := range matches {
		if m.Role == model.RoleSystem {
			t.Error("search returned a system message")
		}
		if m.SessionTitle != "Show revenue per region" {
			t.Errorf("SessionTitle = %q", m.SessionTitle)
		}
	}

	for _, m := range matches {
		if m.MessageID != "m3" {
			continue
		}
		if !strings.HasSuffix(m.Preview, "...") || len([]rune(m.Preview)) != 103 {
			t.Errorf("long match preview not truncated: %q", m.Preview)
		}
	}

	none, err := cp.SearchMessages(ctx, "100%")
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if none != nil {
		t.Errorf("SearchMessages(%q) = %+v, want no matches", "100%", none)
	}
}

func TestSQLiteCheckpointerDeleteSession(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	if err := cp.SaveMessages(ctx, "sess-1", []model.Message{{Role: model.RoleUser, Content: "hello"}}); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}
	if err := cp.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	got, err := cp.LoadMessages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadMessages() returned %d messages after delete, want 0", len(got))
	}

	sessions, err := cp.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Sessions() returned %d sessions after delete, want 0", len(sessions))
	}
}

func TestGenerateSessionTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short message", "Plot sales", "Plot sales"},
		{"long message truncated", strings.Repeat("a", 40), strings.Repeat("a", 30) + "..."},
		{"newlines collapsed", "show\nthe\rdata", "show the data"},
		{"cjk runes kept whole", strings.Repeat("数", 35), strings.Repeat("数", 30) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateSessionTitle(tt.input); got != tt.want {
				t.Errorf("GenerateSessionTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	if got := GenerateSessionTitle(""); !strings.HasPrefix(got, "Session ") {
		t.Errorf("GenerateSessionTitle(\"\") = %q, want a timestamp fallback", got)
	}
}
