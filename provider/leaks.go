package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"tabula/model"
)

// Models without reliable native tool support sometimes emit the tool
// call as plain content instead of using the tool-call channel: either
// a bare JSON object {"name": ..., "arguments": {...}} or an
// XML-wrapped <tool_call>{...}</tool_call> block. The parsers below
// recover such calls after a stream finishes with no API-level tool
// calls, so the analysis loop can still execute them.

type leakedCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

var toolCallTagRe = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)

// ParseLeakedJSONToolCalls scans content for balanced top-level JSON
// objects shaped like a tool call. XML-wrapped blocks are excluded
// here; ParseLeakedXMLToolCalls owns those, and both parsers run on
// the same content.
func ParseLeakedJSONToolCalls(content string) []model.ToolCall {
	content = toolCallTagRe.ReplaceAllString(content, "")

	var calls []model.ToolCall
	for _, candidate := range balancedJSONObjects(content) {
		if call, ok := parseLeakedCall(candidate); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// ParseLeakedXMLToolCalls extracts tool calls wrapped in <tool_call>
// tags, a format several instruction-tuned model families emit.
func ParseLeakedXMLToolCalls(content string) []model.ToolCall {
	var calls []model.ToolCall
	for _, m := range toolCallTagRe.FindAllStringSubmatch(content, -1) {
		if call, ok := parseLeakedCall(m[1]); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

func parseLeakedCall(candidate string) (model.ToolCall, bool) {
	var lc leakedCall
	if err := json.Unmarshal([]byte(candidate), &lc); err != nil {
		return model.ToolCall{}, false
	}
	if lc.Name == "" || lc.Arguments == nil {
		return model.ToolCall{}, false
	}
	return model.ToolCall{Name: lc.Name, Arguments: lc.Arguments}, true
}

// balancedJSONObjects returns the top-level {...} substrings of
// content, tracking string literals and escapes so braces inside
// values do not split an object.
func balancedJSONObjects(content string) []string {
	var objects []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range content {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if inString {
				continue
			}
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if inString || depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := strings.TrimSpace(content[start : i+1])
				if candidate != "" {
					objects = append(objects, candidate)
				}
				start = -1
			}
		}
	}
	return objects
}
