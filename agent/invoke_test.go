package agent

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/xuri/excelize/v2"

	"tabula/model"
	"tabula/provider/testutil"
	"tabula/retriever"
	"tabula/safety"
	"tabula/sandbox"
	"tabula/storage"
)

// fakeManager records executed code and plays back canned results in
// call order. Calls past the end of the script succeed with an empty
// result.
type fakeManager struct {
	results []*sandbox.ExecutionResult
	errs    []error
	codes   []string
}

func (m *fakeManager) Start(_ context.Context, sessionID string) (*sandbox.Kernel, error) {
	return &sandbox.Kernel{ID: "kernel-1", SessionID: sessionID}, nil
}

func (m *fakeManager) Execute(_ context.Context, _ string, code string) (*sandbox.ExecutionResult, error) {
	i := len(m.codes)
	m.codes = append(m.codes, code)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.results) && m.results[i] != nil {
		return m.results[i], nil
	}
	return &sandbox.ExecutionResult{Status: "ok"}, nil
}

func (m *fakeManager) Shutdown(context.Context, string) error { return nil }
func (m *fakeManager) Close(context.Context) error            { return nil }

type fakeGuard struct {
	verdict *safety.Verdict
	err     error
	inputs  []string
}

func (g *fakeGuard) Classify(_ context.Context, input string) (*safety.Verdict, error) {
	g.inputs = append(g.inputs, input)
	return g.verdict, g.err
}

type fakeRetriever struct {
	docs []retriever.ColumnDoc
	err  error
}

func (r *fakeRetriever) Retrieve(context.Context, string) ([]retriever.ColumnDoc, error) {
	return r.docs, r.err
}

type fakeCheckpointer struct {
	saved map[string][]model.Message
}

func (c *fakeCheckpointer) SaveMessages(_ context.Context, sessionID string, msgs []model.Message) error {
	if c.saved == nil {
		c.saved = make(map[string][]model.Message)
	}
	c.saved[sessionID] = append(c.saved[sessionID], msgs...)
	return nil
}

func (c *fakeCheckpointer) LoadMessages(_ context.Context, sessionID string) ([]model.Message, error) {
	return c.saved[sessionID], nil
}

func (c *fakeCheckpointer) Sessions(context.Context) ([]storage.SessionInfo, error) {
	return nil, nil
}

func (c *fakeCheckpointer) Close() error { return nil }

func streamResult(text string) *sandbox.ExecutionResult {
	return &sandbox.ExecutionResult{
		Status: "ok",
		Parts:  []sandbox.OutputPart{{Kind: sandbox.PartStream, Name: "stdout", Text: text}},
	}
}

func errorResult(ename, evalue string, traceback ...string) *sandbox.ExecutionResult {
	return &sandbox.ExecutionResult{
		Status: "error",
		Parts: []sandbox.OutputPart{{
			Kind:      sandbox.PartError,
			Ename:     ename,
			Evalue:    evalue,
			Traceback: traceback,
		}},
	}
}

func chartResult(png string) *sandbox.ExecutionResult {
	return &sandbox.ExecutionResult{
		Status: "ok",
		Parts: []sandbox.OutputPart{{
			Kind: sandbox.PartDisplayData,
			Data: map[string]string{"image/png": png},
		}},
	}
}

func collectEvents(t *testing.T, seq iter.Seq2[Event, error]) ([]Event, error) {
	t.Helper()
	var events []Event
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func eventMessages(events []Event) []model.Message {
	var msgs []model.Message
	for _, ev := range events {
		if m, ok := ev.(EventMessage); ok {
			msgs = append(msgs, m.Message)
		}
	}
	return msgs
}

func stageEvents(events []Event) []EventStage {
	var stages []EventStage
	for _, ev := range events {
		if s, ok := ev.(EventStage); ok {
			stages = append(stages, s)
		}
	}
	return stages
}

func executionEvents(events []Event) []EventExecution {
	var execs []EventExecution
	for _, ev := range events {
		if e, ok := ev.(EventExecution); ok {
			execs = append(execs, e)
		}
	}
	return execs
}

func userTurn(content string) ([]model.Message, string) {
	msg := model.NewMessage(model.RoleUser, content)
	return []model.Message{msg}, msg.ID
}

func TestInvokeEmptyHistory(t *testing.T) {
	a, err := New(testutil.NewMockProvider("test-model"), &fakeManager{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = collectEvents(t, a.Invoke(context.Background(), nil, "", time.Time{}))
	if !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("err = %v, want ErrEmptyHistory", err)
	}
}

func TestInvokeFinalAnswer(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model", "The answer is 4.")
	mgr := &fakeManager{}
	a, err := New(llm, mgr, WithSessionID("s1"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("what is 2 + 2?")
	events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	produced := eventMessages(events)
	if len(produced) != 1 {
		t.Fatalf("produced %d messages, want 1", len(produced))
	}
	if produced[0].Role != model.RoleAssistant || produced[0].Content != "The answer is 4." {
		t.Errorf("final message = %+v", produced[0])
	}
	if produced[0].ParentID != parentID {
		t.Errorf("ParentID = %q, want %q", produced[0].ParentID, parentID)
	}
	if len(mgr.codes) != 0 {
		t.Errorf("executed %d snippets, want 0", len(mgr.codes))
	}

	calls := llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(calls))
	}
	system := calls[0][0]
	if system.Role != model.RoleSystem {
		t.Fatalf("first message role = %q, want system", system.Role)
	}
	if !strings.Contains(system.Content, "2025-03-09") {
		t.Errorf("system prompt missing the date: %q", system.Content)
	}
}

func TestInvokeExtraInstructions(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model", "Done.")
	a, err := New(llm, &fakeManager{}, WithExtraInstructions("Prefer seaborn over raw matplotlib."))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("plot the distribution")
	if _, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now())); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	system := llm.Calls()[0][0]
	if !strings.Contains(system.Content, "Prefer seaborn over raw matplotlib.") {
		t.Errorf("system prompt missing extra instructions: %q", system.Content)
	}
}

func TestInvokeCodeExecutionLoop(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model",
		"Let me compute.\n\n```python\nprint(2 + 2)\n```",
		"The answer is 4.",
	)
	mgr := &fakeManager{results: []*sandbox.ExecutionResult{streamResult("4\n")}}
	a, err := New(llm, mgr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("what is 2 + 2?")
	events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if len(mgr.codes) != 1 || mgr.codes[0] != "print(2 + 2)" {
		t.Errorf("executed codes = %q", mgr.codes)
	}

	produced := eventMessages(events)
	if len(produced) != 3 {
		t.Fatalf("produced %d messages, want 3", len(produced))
	}
	if produced[0].Role != model.RoleAssistant || !strings.Contains(produced[0].Content, "print(2 + 2)") {
		t.Errorf("first message = %+v", produced[0])
	}
	if produced[1].Role != model.RoleTool || produced[1].Content != "4\n" {
		t.Errorf("tool message = %+v", produced[1])
	}
	if produced[2].Role != model.RoleAssistant || produced[2].Content != "The answer is 4." {
		t.Errorf("final message = %+v", produced[2])
	}

	execs := executionEvents(events)
	if len(execs) != 1 || execs[0].Result.Text() != "4\n" {
		t.Errorf("execution events = %+v", execs)
	}

	// The second round must have seen the tool result.
	calls := llm.Calls()
	if len(calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(calls))
	}
	last := calls[1][len(calls[1])-1]
	if last.Role != model.RoleTool || last.Content != "4\n" {
		t.Errorf("last message of second call = %+v", last)
	}
}

func TestInvokeNativeToolCalls(t *testing.T) {
	llm := testutil.NewMockProvider("qwen2.5-coder:latest")
	rounds := 0
	llm.ChatWithToolsFunc = func(_ context.Context, _ []model.Message, tools []mcptypes.Tool, cb model.StreamCallback) error {
		rounds++
		if rounds == 1 {
			if len(tools) != 1 || tools[0].Name != "execute_python" {
				t.Errorf("unexpected tools: %+v", tools)
			}
			return cb("", []model.ToolCall{{
				Name:      "execute_python",
				Arguments: map[string]any{"code": "print(5)"},
			}})
		}
		return cb("Answer: 5", nil)
	}

	mgr := &fakeManager{results: []*sandbox.ExecutionResult{streamResult("5\n")}}
	a, err := New(llm, mgr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("print five")
	events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if rounds != 2 {
		t.Fatalf("tool rounds = %d, want 2", rounds)
	}
	if len(mgr.codes) != 1 || mgr.codes[0] != "print(5)" {
		t.Errorf("executed codes = %q", mgr.codes)
	}

	produced := eventMessages(events)
	if len(produced) != 3 {
		t.Fatalf("produced %d messages, want 3", len(produced))
	}
	// The call carried no text, so the transcript gets the snippet as a
	// fenced block.
	if produced[0].Content != "```python\nprint(5)\n```" {
		t.Errorf("assistant transcript = %q", produced[0].Content)
	}
	if produced[1].Role != model.RoleTool || produced[1].Content != "5\n" {
		t.Errorf("tool message = %+v", produced[1])
	}
}

func TestInvokeGuard(t *testing.T) {
	t.Run("unsafe input is refused", func(t *testing.T) {
		llm := testutil.NewScriptedProvider("test-model", "should never run")
		mgr := &fakeManager{}
		guard := &fakeGuard{verdict: &safety.Verdict{Safe: false, Category: "S2"}}
		a, err := New(llm, mgr, WithSafetyGuard(guard))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		msgs, parentID := userTurn("do something shady")
		events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}

		produced := eventMessages(events)
		if len(produced) != 1 || produced[0].Role != model.RoleAssistant {
			t.Fatalf("produced = %+v", produced)
		}
		if !strings.Contains(produced[0].Content, "Non-Violent Crimes") {
			t.Errorf("refusal = %q, want the category name", produced[0].Content)
		}
		if len(llm.Calls()) != 0 {
			t.Error("analysis model was called for refused input")
		}
		if len(mgr.codes) != 0 {
			t.Error("sandbox was reached for refused input")
		}
	})

	t.Run("guard failure fails open", func(t *testing.T) {
		llm := testutil.NewScriptedProvider("test-model", "All good.")
		guard := &fakeGuard{err: errors.New("guard model down")}
		a, err := New(llm, &fakeManager{}, WithSafetyGuard(guard))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		msgs, parentID := userTurn("hello")
		events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		produced := eventMessages(events)
		if len(produced) != 1 || produced[0].Content != "All good." {
			t.Errorf("produced = %+v", produced)
		}
		if len(guard.inputs) != 1 || guard.inputs[0] != "hello" {
			t.Errorf("guard saw %q", guard.inputs)
		}
	})
}

func TestInvokeScannerBlocks(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model",
		"```python\nimport os\nos.system('ls')\n```",
		"Understood.",
	)
	mgr := &fakeManager{}
	a, err := New(llm, mgr, WithCodeScanner(safety.NewRuleScanner()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("list my files")
	events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if len(mgr.codes) != 0 {
		t.Errorf("blocked code was executed: %q", mgr.codes)
	}
	if len(executionEvents(events)) != 0 {
		t.Error("execution event emitted for blocked code")
	}

	produced := eventMessages(events)
	if len(produced) != 3 {
		t.Fatalf("produced %d messages, want 3", len(produced))
	}
	report := produced[1]
	if report.Role != model.RoleTool {
		t.Fatalf("report role = %q", report.Role)
	}
	if !strings.Contains(report.Content, "blocking the code") ||
		!strings.Contains(report.Content, "## Security Report for Code Snippet") {
		t.Errorf("report = %q", report.Content)
	}
}

func TestInvokeScannerWarns(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model",
		"```python\nx = eval('1 + 1')\nprint(x)\n```",
		"x is 2.",
	)
	mgr := &fakeManager{results: []*sandbox.ExecutionResult{streamResult("2\n")}}
	a, err := New(llm, mgr, WithCodeScanner(safety.NewRuleScanner()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("evaluate")
	events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if len(mgr.codes) != 1 {
		t.Fatalf("executed %d snippets, want 1", len(mgr.codes))
	}
	tool := eventMessages(events)[1]
	if !strings.HasPrefix(tool.Content, "## Security Report for Code Snippet") {
		t.Errorf("warn report not prepended: %q", tool.Content)
	}
	if !strings.Contains(tool.Content, "Warning: The generated snippet contains insecure code.") {
		t.Errorf("missing warn line: %q", tool.Content)
	}
	if !strings.Contains(tool.Content, "2\n") {
		t.Errorf("execution output missing: %q", tool.Content)
	}
}

func TestInvokeErrorTraceCleanup(t *testing.T) {
	failure := errorResult("ZeroDivisionError", "division by zero",
		"Traceback (most recent call last):",
		"  File \"<stdin>\", line 1, in <module>",
		"ZeroDivisionError: division by zero",
	)

	t.Run("enabled keeps only the exception line", func(t *testing.T) {
		llm := testutil.NewScriptedProvider("test-model", "```python\n1/0\n```", "It failed.")
		mgr := &fakeManager{results: []*sandbox.ExecutionResult{failure}}
		a, err := New(llm, mgr, WithErrorTraceCleanup(true))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		msgs, parentID := userTurn("divide by zero")
		events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		tool := eventMessages(events)[1]
		if tool.Content != "ZeroDivisionError: division by zero" {
			t.Errorf("tool content = %q", tool.Content)
		}
	})

	t.Run("disabled keeps the full traceback", func(t *testing.T) {
		llm := testutil.NewScriptedProvider("test-model", "```python\n1/0\n```", "It failed.")
		mgr := &fakeManager{results: []*sandbox.ExecutionResult{failure}}
		a, err := New(llm, mgr)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		msgs, parentID := userTurn("divide by zero")
		events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		tool := eventMessages(events)[1]
		if !strings.Contains(tool.Content, "Traceback (most recent call last):") {
			t.Errorf("tool content = %q", tool.Content)
		}
	})
}

func TestInvokeMaxIterations(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model", "```python\nprint(1)\n```")
	mgr := &fakeManager{}
	a, err := New(llm, mgr, WithMaxIterations(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("loop forever")
	events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("err = %v, want ErrMaxIterations", err)
	}
	if len(mgr.codes) != 2 {
		t.Errorf("executed %d snippets, want 2", len(mgr.codes))
	}
	if got := len(eventMessages(events)); got != 4 {
		t.Errorf("produced %d messages, want 4", got)
	}
}

func TestInvokeConsumerStops(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model", "```python\nprint(1)\n```", "Done.")
	mgr := &fakeManager{}
	a, err := New(llm, mgr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("compute")
	count := 0
	for ev, err := range a.Invoke(context.Background(), msgs, parentID, time.Now()) {
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		count++
		if _, ok := ev.(EventDelta); ok {
			break
		}
	}
	if count != 1 {
		t.Errorf("consumed %d events before stopping", count)
	}
	if len(mgr.codes) != 0 {
		t.Errorf("execution continued after the consumer stopped: %q", mgr.codes)
	}
}

func TestInvokeChartSummaries(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model",
		"```python\nplt.plot(sales)\nplt.show()\n```",
		"Done.",
	)
	vlm := testutil.NewScriptedProvider("qwen2.5vl", "A rising line from January to June.")
	mgr := &fakeManager{results: []*sandbox.ExecutionResult{chartResult("cGxvdA==")}}
	a, err := New(llm, mgr, WithVLM(vlm), WithVLMTruncation(TruncationConfig{MaxMessages: 2}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("plot sales")
	events, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	tool := eventMessages(events)[1]
	if !strings.Contains(tool.Content, "Chart: A rising line from January to June.") {
		t.Errorf("tool content = %q", tool.Content)
	}
	if len(tool.Images) != 1 || tool.Images[0] != "cGxvdA==" {
		t.Errorf("tool images = %v", tool.Images)
	}

	vlmCalls := vlm.Calls()
	if len(vlmCalls) != 1 {
		t.Fatalf("vlm called %d times, want 1", len(vlmCalls))
	}
	ask := vlmCalls[0][len(vlmCalls[0])-1]
	if ask.Role != model.RoleUser || len(ask.Images) != 1 {
		t.Errorf("vlm request = %+v", ask)
	}

	// The text model never sees raw image payloads.
	llmCalls := llm.Calls()
	if len(llmCalls) != 2 {
		t.Fatalf("llm called %d times, want 2", len(llmCalls))
	}
	for _, m := range llmCalls[1] {
		if len(m.Images) != 0 {
			t.Errorf("image payload reached the text model: %+v", m)
		}
	}
}

func TestInvokeRetriever(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model", "Answered.")
	ret := &fakeRetriever{docs: []retriever.ColumnDoc{{
		FileName: "sales.csv",
		Column:   "region",
		Dtype:    "object",
		Values:   []string{"east", "west"},
		NUnique:  2,
	}}}
	a, err := New(llm, &fakeManager{}, WithRetriever(ret))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("sales by region")
	if _, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now())); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	system := llm.Calls()[0][0]
	if !strings.Contains(system.Content, "extra column information") {
		t.Errorf("system prompt missing the retrieval block: %q", system.Content)
	}
	if !strings.Contains(system.Content, "region") || !strings.Contains(system.Content, "sales.csv") {
		t.Errorf("system prompt missing retrieved columns: %q", system.Content)
	}
}

func TestInvokePersistsTurn(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model", "Sure.")
	cp := &fakeCheckpointer{}
	a, err := New(llm, &fakeManager{}, WithSessionID("s-persist"), WithCheckpointer(cp))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msgs, parentID := userTurn("remember me")
	if _, err := collectEvents(t, a.Invoke(context.Background(), msgs, parentID, time.Now())); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	saved := cp.saved["s-persist"]
	if len(saved) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(saved))
	}
	if saved[0].Role != model.RoleUser || saved[0].Content != "remember me" {
		t.Errorf("first saved = %+v", saved[0])
	}
	if saved[1].Role != model.RoleAssistant || saved[1].ParentID != parentID {
		t.Errorf("second saved = %+v", saved[1])
	}
}

func TestInvokeFileReading(t *testing.T) {
	dir := t.TempDir()
	csv := "name,amount\nwidget,3\ngadget,5\n"
	if err := os.WriteFile(filepath.Join(dir, "sales.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	infoText := "RangeIndex: 2 entries, 0 to 1\n 0   name    2 non-null  object\n 1   amount  2 non-null  int64"
	headText := "     name  amount\n0  widget       3\n1  gadget       5"
	llm := testutil.NewScriptedProvider("test-model")
	mgr := &fakeManager{results: []*sandbox.ExecutionResult{
		{Status: "ok"},
		streamResult(infoText),
		{Status: "ok", Parts: []sandbox.OutputPart{{
			Kind: sandbox.PartExecuteResult,
			Data: map[string]string{"text/plain": headText},
		}}},
	}}
	a, err := New(llm, mgr, WithWorkdir(dir))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	entry := model.NewMessage(model.RoleUser, "uploaded a file")
	entry.Attachments = []model.Attachment{{Filename: "sales.csv"}}

	events, err := collectEvents(t, a.Invoke(context.Background(), []model.Message{entry}, entry.ID, time.Now()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	stages := stageEvents(events)
	wantStages := []Stage{StageReading, StageStructure, StagePreview}
	if len(stages) != len(wantStages) {
		t.Fatalf("stages = %+v, want %v", stages, wantStages)
	}
	for i, s := range stages {
		if s.Stage != wantStages[i] || s.Filename != "sales.csv" {
			t.Errorf("stage %d = %+v", i, s)
		}
	}

	if len(mgr.codes) != 3 {
		t.Fatalf("executed %d snippets, want 3: %q", len(mgr.codes), mgr.codes)
	}
	if !strings.Contains(mgr.codes[0], `pd.read_csv("sales.csv", encoding="utf-8")`) {
		t.Errorf("load snippet = %q", mgr.codes[0])
	}
	if mgr.codes[1] != "df.info(memory_usage=False)" {
		t.Errorf("info snippet = %q", mgr.codes[1])
	}
	if mgr.codes[2] != "df.head(5)" {
		t.Errorf("head snippet = %q", mgr.codes[2])
	}

	produced := eventMessages(events)
	if len(produced) != 1 {
		t.Fatalf("produced %d messages, want 1", len(produced))
	}
	desc := produced[0]
	if desc.Role != model.RoleAssistant || desc.ParentID != entry.ID {
		t.Errorf("description = %+v", desc)
	}
	for _, want := range []string{"sales.csv", "`df`", infoText, "widget"} {
		if !strings.Contains(desc.Content, want) {
			t.Errorf("description missing %q:\n%s", want, desc.Content)
		}
	}
	if desc.Extra["variable"] != "df" {
		t.Errorf("Extra = %v", desc.Extra)
	}
	if len(llm.Calls()) != 0 {
		t.Error("analysis model called during file reading")
	}

	// A second turn with the unchanged file replays the cached
	// description without touching the kernel.
	again := model.NewMessage(model.RoleUser, "same file again")
	again.Attachments = []model.Attachment{{Filename: "sales.csv"}}
	events2, err := collectEvents(t, a.Invoke(context.Background(), []model.Message{again}, again.ID, time.Now()))
	if err != nil {
		t.Fatalf("second Invoke failed: %v", err)
	}
	if len(stageEvents(events2)) != 0 {
		t.Error("cached description re-ran the pipeline")
	}
	if len(mgr.codes) != 3 {
		t.Errorf("cache hit executed more code: %q", mgr.codes)
	}
	cached := eventMessages(events2)
	if len(cached) != 1 || cached[0].Content != desc.Content {
		t.Errorf("cached description differs")
	}
}

func TestInvokeFileReadingUnsupportedType(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model")
	mgr := &fakeManager{}
	a, err := New(llm, mgr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	entry := model.NewMessage(model.RoleUser, "here")
	entry.Attachments = []model.Attachment{{Filename: "notes.txt"}}

	events, err := collectEvents(t, a.Invoke(context.Background(), []model.Message{entry}, entry.ID, time.Now()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	produced := eventMessages(events)
	if len(produced) != 1 || !strings.Contains(produced[0].Content, "unsupported file type") {
		t.Errorf("produced = %+v", produced)
	}
	if len(mgr.codes) != 0 {
		t.Errorf("kernel touched for unsupported file: %q", mgr.codes)
	}
}

func TestInvokeFileReadingLoadFailure(t *testing.T) {
	llm := testutil.NewScriptedProvider("test-model")
	mgr := &fakeManager{results: []*sandbox.ExecutionResult{
		errorResult("FileNotFoundError", "No such file or directory: 'missing.csv'",
			"Traceback (most recent call last):",
			"FileNotFoundError: No such file or directory: 'missing.csv'",
		),
	}}
	a, err := New(llm, mgr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	entry := model.NewMessage(model.RoleUser, "read it")
	entry.Attachments = []model.Attachment{{Filename: "missing.csv"}}

	events, err := collectEvents(t, a.Invoke(context.Background(), []model.Message{entry}, entry.ID, time.Now()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if len(mgr.codes) != 1 {
		t.Fatalf("executed %d snippets, want only the load", len(mgr.codes))
	}
	produced := eventMessages(events)
	if len(produced) != 1 {
		t.Fatalf("produced %d messages, want 1", len(produced))
	}
	if !strings.Contains(produced[0].Content, "Failed to read dataset `missing.csv`") ||
		!strings.Contains(produced[0].Content, "FileNotFoundError") {
		t.Errorf("failure description = %q", produced[0].Content)
	}
}

func TestInvokeNormalizesIrregularSheet(t *testing.T) {
	dir := t.TempDir()
	f := excelize.NewFile()
	// Leave B1 empty so the header looks irregular.
	f.SetCellValue("Sheet1", "A1", "id")
	f.SetCellValue("Sheet1", "C1", "amount")
	f.SetCellValue("Sheet1", "A2", 1)
	f.SetCellValue("Sheet1", "B2", "widget")
	f.SetCellValue("Sheet1", "C2", 3)
	if err := f.SaveAs(filepath.Join(dir, "report.xlsx")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	llm := testutil.NewScriptedProvider("test-model")
	normalizer := testutil.NewScriptedProvider("test-model",
		"```python\ndf = df.dropna(axis=1, how='all')\n```")
	mgr := &fakeManager{results: []*sandbox.ExecutionResult{
		{Status: "ok"},
		{Status: "ok"},
		streamResult("RangeIndex: 1 entries, 0 to 0"),
		streamResult("   id    amount\n0   1         3"),
	}}
	a, err := New(llm, mgr, WithWorkdir(dir), WithNormalizeModel(normalizer))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	entry := model.NewMessage(model.RoleUser, "clean this up")
	entry.Attachments = []model.Attachment{{Filename: "report.xlsx"}}

	events, err := collectEvents(t, a.Invoke(context.Background(), []model.Message{entry}, entry.ID, time.Now()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	stages := stageEvents(events)
	wantStages := []Stage{StageReading, StageNormalizing, StageStructure, StagePreview}
	if len(stages) != len(wantStages) {
		t.Fatalf("stages = %+v, want %v", stages, wantStages)
	}
	for i, s := range stages {
		if s.Stage != wantStages[i] {
			t.Errorf("stage %d = %q, want %q", i, s.Stage, wantStages[i])
		}
	}

	if len(mgr.codes) != 4 {
		t.Fatalf("executed %d snippets: %q", len(mgr.codes), mgr.codes)
	}
	if !strings.Contains(mgr.codes[0], "pd.read_excel") {
		t.Errorf("load snippet = %q", mgr.codes[0])
	}
	if mgr.codes[1] != "df = df.dropna(axis=1, how='all')" {
		t.Errorf("normalize snippet = %q", mgr.codes[1])
	}

	desc := eventMessages(events)[0]
	if !strings.Contains(desc.Content, "normalized") {
		t.Errorf("description missing the normalization note: %q", desc.Content)
	}

	// The normalizer saw the raw layout.
	normCalls := normalizer.Calls()
	if len(normCalls) != 1 {
		t.Fatalf("normalizer called %d times, want 1", len(normCalls))
	}
	if !strings.Contains(normCalls[0][0].Content, "id") {
		t.Errorf("normalizer prompt = %q", normCalls[0][0].Content)
	}
}
