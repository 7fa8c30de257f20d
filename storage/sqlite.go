package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tabula/model"

	_ "modernc.org/sqlite"
)

// SQLiteCheckpointer persists session messages in a local SQLite
// database.
type SQLiteCheckpointer struct {
	db *sql.DB
}

// NewSQLiteCheckpointer opens the database at dbPath, creating the file
// and schema as needed.
func NewSQLiteCheckpointer(dbPath string) (*SQLiteCheckpointer, error) {
	// 0700 - conversation history is user-only data
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL keeps concurrent readers from blocking the writer.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cp := &SQLiteCheckpointer{db: db}
	if err := cp.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return cp, nil
}

func (c *SQLiteCheckpointer) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		parent_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		extra TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`

	_, err := c.db.Exec(schema)
	return err
}

// messageExtra carries the message fields that have no dedicated column.
// A message with none of them stores NULL.
type messageExtra struct {
	Images      []string           `json:"images,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	Extra       map[string]any     `json:"extra,omitempty"`
}

// SaveMessages upserts the session row and its messages in one
// transaction. Message IDs are assigned when missing; the session title
// is derived from the first user message and kept on later saves.
func (c *SQLiteCheckpointer) SaveMessages(ctx context.Context, sessionID string, messages []model.Message) error {
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	title := ""
	for _, m := range messages {
		if m.Role == model.RoleUser && m.Content != "" {
			title = GenerateSessionTitle(m.Content)
			break
		}
	}
	if title == "" {
		title = GenerateSessionTitle("")
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO sessions (id, title, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR REPLACE INTO messages (id, session_id, parent_id, role, content, extra, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range messages {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		ts := m.Timestamp
		if ts.IsZero() {
			// Spread by a nanosecond so batch order survives reload.
			ts = now.Add(time.Duration(i))
		}

		var parentID any
		if m.ParentID != "" {
			parentID = m.ParentID
		}

		extra, err := encodeExtra(m)
		if err != nil {
			return fmt.Errorf("failed to encode message extra: %w", err)
		}

		if _, err := stmt.ExecContext(ctx, m.ID, sessionID, parentID, m.Role, m.Content, extra, ts.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func encodeExtra(m model.Message) (any, error) {
	if len(m.Images) == 0 && len(m.Attachments) == 0 && len(m.Extra) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(messageExtra{
		Images:      m.Images,
		Attachments: m.Attachments,
		Extra:       m.Extra,
	})
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// LoadMessages returns the stored history of a session in chronological
// order. An unknown session yields an empty history, not an error.
func (c *SQLiteCheckpointer) LoadMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT id, parent_id, role, content, extra, created_at
	FROM messages
	WHERE session_id = ?
	ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var (
			m         model.Message
			parentID  sql.NullString
			extra     sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &parentID, &m.Role, &m.Content, &extra, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		m.ParentID = parentID.String
		m.Timestamp = time.Unix(0, createdAt)

		if extra.Valid {
			var env messageExtra
			if err := json.Unmarshal([]byte(extra.String), &env); err != nil {
				return nil, fmt.Errorf("failed to decode message extra: %w", err)
			}
			m.Images = env.Images
			m.Attachments = env.Attachments
			m.Extra = env.Extra
		}

		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// Sessions lists stored sessions, most recently updated first.
func (c *SQLiteCheckpointer) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT s.id, s.title, s.created_at, s.updated_at, COUNT(m.id)
	FROM sessions s
	LEFT JOIN messages m ON m.session_id = s.id
	GROUP BY s.id
	ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var (
			info      SessionInfo
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&info.ID, &info.Title, &createdAt, &updatedAt, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.CreatedAt = time.Unix(0, createdAt)
		info.UpdatedAt = time.Unix(0, updatedAt)
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// SearchMessages finds messages containing the query across all stored
// sessions, newest first. System messages are skipped.
func (c *SQLiteCheckpointer) SearchMessages(ctx context.Context, query string) ([]MessageMatch, error) {
	if query == "" {
		return nil, nil
	}

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)

	rows, err := c.db.QueryContext(ctx, `
	SELECT m.session_id, s.title, m.id, m.role, m.content, m.created_at
	FROM messages m
	JOIN sessions s ON s.id = m.session_id
	WHERE m.role != 'system' AND m.content LIKE ? ESCAPE '\'
	ORDER BY m.created_at DESC`, "%"+escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var matches []MessageMatch
	for rows.Next() {
		var (
			match     MessageMatch
			createdAt int64
		)
		if err := rows.Scan(&match.SessionID, &match.SessionTitle, &match.MessageID, &match.Role, &match.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		match.Timestamp = time.Unix(0, createdAt)

		match.Preview = match.Content
		if runes := []rune(match.Preview); len(runes) > 100 {
			match.Preview = string(runes[:100]) + "..."
		}

		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}

	return matches, nil
}

// DeleteSession removes a session and all of its messages.
func (c *SQLiteCheckpointer) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (c *SQLiteCheckpointer) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

var _ Checkpointer = (*SQLiteCheckpointer)(nil)
