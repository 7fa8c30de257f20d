package sandbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Jupyter wire protocol 5.3, the subset a gateway client needs. Messages
// ride a single multiplexed WebSocket; the channel field tells shell from
// iopub traffic.

const protocolVersion = "5.3"

type messageHeader struct {
	MsgID    string `json:"msg_id,omitempty"`
	MsgType  string `json:"msg_type,omitempty"`
	Session  string `json:"session,omitempty"`
	Username string `json:"username,omitempty"`
	Version  string `json:"version,omitempty"`
	Date     string `json:"date,omitempty"`
}

type wireMessage struct {
	Header       messageHeader   `json:"header"`
	ParentHeader messageHeader   `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel,omitempty"`
}

type executeRequestContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

type executeReplyContent struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type displayDataContent struct {
	Data map[string]any `json:"data"`
}

type errorContent struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

// newExecuteRequest builds a shell-channel execute_request for code.
func newExecuteRequest(session, code string) (wireMessage, error) {
	content, err := json.Marshal(executeRequestContent{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
	if err != nil {
		return wireMessage{}, fmt.Errorf("encoding execute request: %w", err)
	}
	return wireMessage{
		Header: messageHeader{
			MsgID:    uuid.New().String(),
			MsgType:  "execute_request",
			Session:  session,
			Username: "tabula",
			Version:  protocolVersion,
			Date:     time.Now().UTC().Format(time.RFC3339),
		},
		Metadata: map[string]any{},
		Content:  json.RawMessage(content),
		Channel:  "shell",
	}, nil
}

// collector folds the iopub and shell messages belonging to one
// execute_request into an ExecutionResult. Feed returns true once both the
// execute_reply and the idle status have arrived.
type collector struct {
	requestID string
	result    ExecutionResult
	replied   bool
	idle      bool
}

func newCollector(requestID string) *collector {
	return &collector{requestID: requestID}
}

func (c *collector) done() bool { return c.replied && c.idle }

func (c *collector) feed(msg wireMessage) (bool, error) {
	// Other executions on a shared kernel may interleave; only messages
	// parented to our request belong to this result.
	if msg.ParentHeader.MsgID != c.requestID {
		return c.done(), nil
	}

	switch msg.Header.MsgType {
	case "stream":
		var content streamContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return false, fmt.Errorf("decoding stream message: %w", err)
		}
		c.result.Parts = append(c.result.Parts, OutputPart{
			Kind: PartStream,
			Name: content.Name,
			Text: content.Text,
		})

	case "display_data", "execute_result":
		var content displayDataContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return false, fmt.Errorf("decoding %s message: %w", msg.Header.MsgType, err)
		}
		kind := PartDisplayData
		if msg.Header.MsgType == "execute_result" {
			kind = PartExecuteResult
		}
		c.result.Parts = append(c.result.Parts, OutputPart{
			Kind: kind,
			Data: flattenMIMEBundle(content.Data),
		})

	case "error":
		var content errorContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return false, fmt.Errorf("decoding error message: %w", err)
		}
		c.result.Parts = append(c.result.Parts, OutputPart{
			Kind:      PartError,
			Ename:     content.Ename,
			Evalue:    content.Evalue,
			Traceback: content.Traceback,
		})

	case "status":
		var content statusContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return false, fmt.Errorf("decoding status message: %w", err)
		}
		if content.ExecutionState == "idle" {
			c.idle = true
		}

	case "execute_reply":
		var content executeReplyContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return false, fmt.Errorf("decoding execute reply: %w", err)
		}
		c.result.Status = content.Status
		c.replied = true
	}

	return c.done(), nil
}

// flattenMIMEBundle normalizes a Jupyter MIME bundle: values arrive as a
// string or as a list of line strings, depending on the kernel.
func flattenMIMEBundle(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for mime, v := range data {
		switch val := v.(type) {
		case string:
			out[mime] = val
		case []any:
			var parts []string
			for _, line := range val {
				if s, ok := line.(string); ok {
					parts = append(parts, s)
				}
			}
			out[mime] = joinLines(parts)
		}
	}
	return out
}

func joinLines(lines []string) string {
	var b []byte
	for _, l := range lines {
		b = append(b, l...)
	}
	return string(b)
}
