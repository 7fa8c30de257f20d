package model

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. Tool messages carry code execution results back to the model.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents one turn in the conversation.
//
// ParentID groups messages into a tree: every message produced while
// answering one user turn carries that turn's ID as its parent, so a
// session history can branch and a client can reconstruct any thread.
type Message struct {
	ID          string
	ParentID    string
	Role        string
	Content     string
	Images      []string // base64 PNG payloads for multimodal turns
	Attachments []Attachment
	Extra       map[string]any
	Timestamp   time.Time
}

// Attachment references a tabular file connected to a message. The file
// itself lives in the session workdir; the agent never owns it.
type Attachment struct {
	// Filename is the path relative to the session workdir.
	Filename string
	// URL optionally holds the original file: URI the attachment came from.
	URL string
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// HasAttachments reports whether the message carries dataset attachments.
func (m Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Thread walks the parent chain from the message with leafID back to the
// root and returns that path in chronological order. Messages not on the
// path are dropped. If leafID is unknown the input is returned unchanged,
// since a flat history is already a single thread.
func Thread(messages []Message, leafID string) []Message {
	byID := make(map[string]Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}
	leaf, ok := byID[leafID]
	if !ok {
		return messages
	}

	var path []Message
	for {
		path = append(path, leaf)
		if leaf.ParentID == "" {
			break
		}
		parent, ok := byID[leaf.ParentID]
		if !ok {
			break
		}
		leaf = parent
	}

	// Reverse into chronological order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// StripImages returns a copy of messages with image payloads removed.
// Text content always survives. Used on the plain-LLM path so image bytes
// never reach a model that cannot read them; the originals stay untouched
// because they are persisted in session history.
func StripImages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m
		out[i].Images = nil
	}
	return out
}
