package sandbox

import (
	"regexp"
	"strings"
)

// PartKind distinguishes the output forms a kernel can produce.
type PartKind string

const (
	PartStream        PartKind = "stream"
	PartError         PartKind = "error"
	PartDisplayData   PartKind = "display_data"
	PartExecuteResult PartKind = "execute_result"
)

// OutputPart is one ordered piece of kernel output.
type OutputPart struct {
	Kind PartKind
	// Name is stdout or stderr for stream parts.
	Name string
	// Text holds stream text, or the text/plain rendering of a result.
	Text string
	// Data maps MIME types to payloads for rich parts; image payloads are
	// base64 encoded as they arrive on the wire.
	Data map[string]string
	// Error fields, set for error parts.
	Ename     string
	Evalue    string
	Traceback []string
}

// ExecutionResult is everything one code execution produced, in arrival
// order, plus the final shell-channel status.
type ExecutionResult struct {
	// Status is the execute_reply status: ok, error, or aborted.
	Status string
	Parts  []OutputPart
}

// MIME types the agent cares about.
const (
	mimeTextPlain = "text/plain"
	mimePNG       = "image/png"
)

// IsError reports whether the execution raised.
func (r *ExecutionResult) IsError() bool {
	if r.Status == "error" {
		return true
	}
	for _, p := range r.Parts {
		if p.Kind == PartError {
			return true
		}
	}
	return false
}

// Text concatenates the human-readable output: stream text and the
// text/plain rendering of results, in order. Error tracebacks are not
// included; use ErrorTrace for those.
func (r *ExecutionResult) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		switch p.Kind {
		case PartStream:
			b.WriteString(p.Text)
		case PartExecuteResult, PartDisplayData:
			if txt, ok := p.Data[mimeTextPlain]; ok {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte('\n')
				}
				b.WriteString(txt)
			}
		}
	}
	return b.String()
}

// Images returns the base64 PNG payloads of rich outputs, in order.
func (r *ExecutionResult) Images() []string {
	var images []string
	for _, p := range r.Parts {
		if p.Kind != PartDisplayData && p.Kind != PartExecuteResult {
			continue
		}
		if png, ok := p.Data[mimePNG]; ok && png != "" {
			images = append(images, png)
		}
	}
	return images
}

// ansiEscapes matches the color codes IPython embeds in tracebacks.
var ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// ErrorTrace returns the traceback of the first error part with ANSI
// escapes stripped, or an "Ename: Evalue" line when the kernel sent no
// traceback, or the empty string when nothing failed.
func (r *ExecutionResult) ErrorTrace() string {
	for _, p := range r.Parts {
		if p.Kind != PartError {
			continue
		}
		if len(p.Traceback) > 0 {
			return ansiEscapes.ReplaceAllString(strings.Join(p.Traceback, "\n"), "")
		}
		if p.Ename != "" || p.Evalue != "" {
			return p.Ename + ": " + p.Evalue
		}
	}
	return ""
}

// LastTraceLine returns the final line of the cleaned traceback, which for
// Python is the exception type and message. Used when error trace cleanup
// is enabled so the model sees the failure without the full stack.
func (r *ExecutionResult) LastTraceLine() string {
	trace := strings.TrimRight(r.ErrorTrace(), "\n")
	if trace == "" {
		return ""
	}
	if i := strings.LastIndexByte(trace, '\n'); i >= 0 {
		return trace[i+1:]
	}
	return trace
}
