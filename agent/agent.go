// Package agent orchestrates LLM-driven analysis of tabular data.
//
// An Agent routes each turn by its entry message. Turns carrying dataset
// attachments run the file-reading pipeline, which loads the file into
// the session kernel and describes its structure before the model ever
// sees the data. All other turns run the analysis loop: the model
// streams a reply, generated Python is executed in the sandbox, and the
// execution output is fed back until the model answers without code.
// Invoke streams the whole exchange as a sequence of events.
//
// The agent never executes code itself and never runs model inference;
// both are delegated through the sandbox.Manager and model.Provider
// interfaces given at construction.
package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tabula/model"
	"tabula/retriever"
	"tabula/safety"
	"tabula/sandbox"
	"tabula/storage"
)

var (
	// ErrEmptyHistory means Invoke was called without any messages.
	ErrEmptyHistory = errors.New("empty message history")
	// ErrMaxIterations means the analysis loop hit its iteration cap
	// before the model produced a code-free answer.
	ErrMaxIterations = errors.New("max analysis iterations reached")
)

const (
	defaultPreviewLines  = 5
	defaultMaxIterations = 25
)

// Agent drives one analysis session. It is safe for concurrent use, but
// executions within the session are serialized by the sandbox manager.
type Agent struct {
	llm     model.Provider
	sandbox sandbox.Manager

	sessionID string
	workdir   string
	locale    string
	extra     string

	previewLines      int
	maxIterations     int
	errorTraceCleanup bool

	vlm        model.Provider
	guard      safety.Guard
	scanner    safety.Scanner
	retriever  retriever.Retriever
	normalizer model.Provider

	checkpointer storage.Checkpointer

	truncation    TruncationConfig
	vlmTruncation TruncationConfig

	logger *slog.Logger

	mu        sync.Mutex
	vars      map[string]string // attachment filename -> kernel variable
	described map[string]describeEntry
}

// describeEntry caches one dataset description together with the file
// state it was taken from.
type describeEntry struct {
	size    int64
	modTime time.Time
	text    string
}

// Option configures an Agent.
type Option func(*Agent)

// WithSessionID pins the session ID instead of generating one. The ID
// keys the sandbox kernel and the persisted history.
func WithSessionID(id string) Option {
	return func(a *Agent) { a.sessionID = id }
}

// WithWorkdir sets the session working directory. Attachment filenames
// are resolved against it for local reads; the kernel works inside it.
func WithWorkdir(dir string) Option {
	return func(a *Agent) { a.workdir = dir }
}

// WithErrorTraceCleanup reduces error tracebacks in tool messages to
// their final exception line.
func WithErrorTraceCleanup(enabled bool) Option {
	return func(a *Agent) { a.errorTraceCleanup = enabled }
}

// WithExtraInstructions appends user-supplied instructions to the
// analysis system prompt.
func WithExtraInstructions(text string) Option {
	return func(a *Agent) { a.extra = text }
}

// WithPreviewLines sets how many rows the dataset preview shows.
func WithPreviewLines(n int) Option {
	return func(a *Agent) { a.previewLines = n }
}

// WithVLM attaches a vision model that summarizes chart images for the
// text-only analysis model.
func WithVLM(p model.Provider) Option {
	return func(a *Agent) { a.vlm = p }
}

// WithSafetyGuard attaches a guard that classifies user input before the
// analysis loop runs.
func WithSafetyGuard(g safety.Guard) Option {
	return func(a *Agent) { a.guard = g }
}

// WithCodeScanner attaches a scanner that inspects generated code before
// it reaches the sandbox.
func WithCodeScanner(s safety.Scanner) Option {
	return func(a *Agent) { a.scanner = s }
}

// WithRetriever attaches a retriever whose column docs are injected into
// the system prompt.
func WithRetriever(r retriever.Retriever) Option {
	return func(a *Agent) { a.retriever = r }
}

// WithNormalizeModel attaches the model the file-reading pipeline uses
// to clean up irregular spreadsheets.
func WithNormalizeModel(p model.Provider) Option {
	return func(a *Agent) { a.normalizer = p }
}

// WithLocale sets the answer language, "en" or "zh".
func WithLocale(locale string) Option {
	return func(a *Agent) { a.locale = locale }
}

// WithCheckpointer persists each turn's messages after the run.
func WithCheckpointer(c storage.Checkpointer) Option {
	return func(a *Agent) { a.checkpointer = c }
}

// WithTruncation bounds the history passed to the analysis model.
func WithTruncation(cfg TruncationConfig) Option {
	return func(a *Agent) { a.truncation = cfg }
}

// WithVLMTruncation bounds the history passed to the vision model.
func WithVLMTruncation(cfg TruncationConfig) Option {
	return func(a *Agent) { a.vlmTruncation = cfg }
}

// WithMaxIterations caps the analysis loop.
func WithMaxIterations(n int) Option {
	return func(a *Agent) { a.maxIterations = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New builds an Agent around the analysis model and the sandbox manager.
// Everything else is optional.
func New(llm model.Provider, mgr sandbox.Manager, opts ...Option) (*Agent, error) {
	if llm == nil {
		return nil, fmt.Errorf("agent: nil model provider")
	}
	if mgr == nil {
		return nil, fmt.Errorf("agent: nil sandbox manager")
	}

	a := &Agent{
		llm:           llm,
		sandbox:       mgr,
		sessionID:     uuid.New().String(),
		locale:        "en",
		previewLines:  defaultPreviewLines,
		maxIterations: defaultMaxIterations,
		logger:        slog.Default(),
		vars:          make(map[string]string),
		described:     make(map[string]describeEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.sessionID == "" {
		a.sessionID = uuid.New().String()
	}
	if a.locale == "" {
		a.locale = "en"
	}
	if a.previewLines <= 0 {
		a.previewLines = defaultPreviewLines
	}
	if a.maxIterations <= 0 {
		a.maxIterations = defaultMaxIterations
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// SessionID returns the session this agent drives.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// datasetVar returns the kernel variable assigned to an attachment,
// allocating the next free name on first sight. The first dataset of a
// session is plain df so single-file sessions read naturally; later ones
// become df2, df3 and so on.
func (a *Agent) datasetVar(filename string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if v, ok := a.vars[filename]; ok {
		return v
	}
	v := "df"
	if n := len(a.vars); n > 0 {
		v = fmt.Sprintf("df%d", n+1)
	}
	a.vars[filename] = v
	return v
}

// cachedDescription returns the stored description for a file when its
// size and modification time still match.
func (a *Agent) cachedDescription(filename string, size int64, modTime time.Time) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.described[filename]
	if !ok || e.size != size || !e.modTime.Equal(modTime) {
		return "", false
	}
	return e.text, true
}

// storeDescription records a fresh description for a file state.
func (a *Agent) storeDescription(filename string, size int64, modTime time.Time, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.described[filename] = describeEntry{size: size, modTime: modTime, text: text}
}
