// Package storage persists session history between runs. Persistence is
// optional: the agent keeps everything in memory unless a Checkpointer
// is attached, and nothing besides messages is ever stored.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tabula/model"
)

// SessionInfo is a lightweight view of a stored session for listing.
type SessionInfo struct {
	ID           string
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Checkpointer stores and recalls per-session message history.
type Checkpointer interface {
	// SaveMessages upserts the given messages under the session.
	SaveMessages(ctx context.Context, sessionID string, messages []model.Message) error

	// LoadMessages returns the stored history of a session in
	// chronological order. An unknown session yields an empty history.
	LoadMessages(ctx context.Context, sessionID string) ([]model.Message, error)

	// Sessions lists stored sessions, most recently updated first.
	Sessions(ctx context.Context) ([]SessionInfo, error)

	Close() error
}

// MessageMatch is a search hit across persisted sessions.
type MessageMatch struct {
	SessionID    string
	SessionTitle string
	MessageID    string
	Role         string
	Content      string
	Preview      string
	Timestamp    time.Time
}

// GenerateSessionTitle derives a session title from the first user
// message, falling back to a timestamp when there is none.
func GenerateSessionTitle(firstMessage string) string {
	if firstMessage == "" {
		return fmt.Sprintf("Session %s", time.Now().Format("Jan 2, 3:04 PM"))
	}

	// Truncate on rune boundaries so CJK questions stay readable.
	name := firstMessage
	if runes := []rune(name); len(runes) > 30 {
		name = string(runes[:30]) + "..."
	}

	name = strings.ReplaceAll(name, "\n", " ")
	name = strings.ReplaceAll(name, "\r", " ")
	name = strings.TrimSpace(name)

	if name == "" {
		return fmt.Sprintf("Session %s", time.Now().Format("Jan 2, 3:04 PM"))
	}

	return name
}
