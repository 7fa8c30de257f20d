package agent

import (
	"log/slog"
	"testing"
	"time"

	"tabula/provider/testutil"
)

var (
	_ Event = EventDelta{}
	_ Event = EventMessage{}
	_ Event = EventStage{}
	_ Event = EventExecution{}
)

func TestNewValidation(t *testing.T) {
	llm := testutil.NewMockProvider("test-model")
	mgr := &fakeManager{}

	if _, err := New(nil, mgr); err == nil {
		t.Error("New(nil, mgr) succeeded, want error")
	}
	if _, err := New(llm, nil); err == nil {
		t.Error("New(llm, nil) succeeded, want error")
	}
	if _, err := New(llm, mgr); err != nil {
		t.Errorf("New(llm, mgr) failed: %v", err)
	}
}

func TestNewDefaults(t *testing.T) {
	a, err := New(testutil.NewMockProvider("test-model"), &fakeManager{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if a.SessionID() == "" {
		t.Error("session ID not generated")
	}
	if a.locale != "en" {
		t.Errorf("locale = %q, want en", a.locale)
	}
	if a.previewLines != defaultPreviewLines {
		t.Errorf("previewLines = %d, want %d", a.previewLines, defaultPreviewLines)
	}
	if a.maxIterations != defaultMaxIterations {
		t.Errorf("maxIterations = %d, want %d", a.maxIterations, defaultMaxIterations)
	}
	if a.logger == nil {
		t.Error("logger is nil")
	}
}

func TestNewOptions(t *testing.T) {
	llm := testutil.NewMockProvider("test-model")
	vlm := testutil.NewMockProvider("vlm-model")
	guard := &fakeGuard{}
	ret := &fakeRetriever{}
	cp := &fakeCheckpointer{}
	trunc := TruncationConfig{MaxMessages: 20, MaxContentRunes: 4000}

	a, err := New(llm, &fakeManager{},
		nil, // nil options are tolerated
		WithSessionID("session-7"),
		WithWorkdir("/tmp/work"),
		WithErrorTraceCleanup(true),
		WithExtraInstructions("Prefer seaborn over raw matplotlib."),
		WithPreviewLines(3),
		WithVLM(vlm),
		WithSafetyGuard(guard),
		WithCodeScanner(nil),
		WithRetriever(ret),
		WithNormalizeModel(vlm),
		WithLocale("zh"),
		WithCheckpointer(cp),
		WithTruncation(trunc),
		WithVLMTruncation(TruncationConfig{MaxMessages: 5}),
		WithMaxIterations(7),
		WithLogger(slog.Default()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if a.SessionID() != "session-7" {
		t.Errorf("SessionID() = %q", a.SessionID())
	}
	if a.workdir != "/tmp/work" {
		t.Errorf("workdir = %q", a.workdir)
	}
	if !a.errorTraceCleanup {
		t.Error("errorTraceCleanup not set")
	}
	if a.previewLines != 3 {
		t.Errorf("previewLines = %d", a.previewLines)
	}
	if a.vlm == nil || a.guard == nil || a.retriever == nil || a.normalizer == nil {
		t.Error("plugin options not applied")
	}
	if a.checkpointer == nil {
		t.Error("checkpointer not applied")
	}
	if a.locale != "zh" {
		t.Errorf("locale = %q", a.locale)
	}
	if a.truncation != trunc {
		t.Errorf("truncation = %+v", a.truncation)
	}
	if a.vlmTruncation.MaxMessages != 5 {
		t.Errorf("vlmTruncation = %+v", a.vlmTruncation)
	}
	if a.maxIterations != 7 {
		t.Errorf("maxIterations = %d", a.maxIterations)
	}
	if a.extra != "Prefer seaborn over raw matplotlib." {
		t.Errorf("extra = %q", a.extra)
	}
}

func TestNewRejectsBadValues(t *testing.T) {
	a, err := New(testutil.NewMockProvider("test-model"), &fakeManager{},
		WithSessionID(""),
		WithLocale(""),
		WithPreviewLines(0),
		WithMaxIterations(-1),
		WithLogger(nil),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if a.SessionID() == "" {
		t.Error("empty session ID kept")
	}
	if a.locale != "en" {
		t.Errorf("locale = %q, want en", a.locale)
	}
	if a.previewLines != defaultPreviewLines {
		t.Errorf("previewLines = %d", a.previewLines)
	}
	if a.maxIterations != defaultMaxIterations {
		t.Errorf("maxIterations = %d", a.maxIterations)
	}
	if a.logger == nil {
		t.Error("nil logger kept")
	}
}

func TestDatasetVar(t *testing.T) {
	a, err := New(testutil.NewMockProvider("test-model"), &fakeManager{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if got := a.datasetVar("sales.csv"); got != "df" {
		t.Errorf("first dataset = %q, want df", got)
	}
	if got := a.datasetVar("costs.csv"); got != "df2" {
		t.Errorf("second dataset = %q, want df2", got)
	}
	if got := a.datasetVar("report.xlsx"); got != "df3" {
		t.Errorf("third dataset = %q, want df3", got)
	}
	if got := a.datasetVar("sales.csv"); got != "df" {
		t.Errorf("repeated dataset = %q, want df", got)
	}
}

func TestDescriptionCache(t *testing.T) {
	a, err := New(testutil.NewMockProvider("test-model"), &fakeManager{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	mod := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.storeDescription("sales.csv", 120, mod, "the description")

	if text, ok := a.cachedDescription("sales.csv", 120, mod); !ok || text != "the description" {
		t.Errorf("cache hit = %q, %v", text, ok)
	}
	if _, ok := a.cachedDescription("sales.csv", 121, mod); ok {
		t.Error("cache hit despite size change")
	}
	if _, ok := a.cachedDescription("sales.csv", 120, mod.Add(time.Second)); ok {
		t.Error("cache hit despite modification time change")
	}
	if _, ok := a.cachedDescription("other.csv", 120, mod); ok {
		t.Error("cache hit for unknown file")
	}
}
