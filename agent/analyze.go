package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"tabula/model"
	"tabula/ollama"
	"tabula/retriever"
	"tabula/safety"
)

// analyze runs the data-analyze loop for one turn: guard, retrieval,
// then model rounds with code execution until the model answers without
// code or the iteration cap is hit.
func (a *Agent) analyze(ctx context.Context, r *run, history []model.Message, entry model.Message, date time.Time) error {
	if a.guard != nil {
		verdict, err := a.guard.Classify(ctx, entry.Content)
		if err != nil {
			// A broken guard must not take the agent down with it.
			a.logger.Warn("guard classification failed", "error", err)
		} else if !verdict.Safe {
			a.logger.Info("input rejected by guard", "category", verdict.Category)
			r.emitMessage(model.NewMessage(model.RoleAssistant, refusalText(a.locale, safety.CategoryName(verdict.Category))))
			return nil
		}
	}

	columns := ""
	if a.retriever != nil {
		docs, err := a.retriever.Retrieve(ctx, entry.Content)
		if err != nil {
			a.logger.Warn("column retrieval failed", "error", err)
		} else {
			columns = retriever.FormatColumns(docs)
		}
	}

	nativeTools := ollama.ModelSupportsToolCalling(a.llm.GetModel())
	prompt := systemPrompt(a.locale, date, nativeTools, columns)
	if a.extra != "" {
		prompt += "\n" + strings.TrimSpace(a.extra) + "\n"
	}

	for i := 0; i < a.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		content, calls, err := a.stream(ctx, r, prompt, history, nativeTools)
		if err != nil {
			return err
		}
		if r.stopped {
			return nil
		}

		code := codeFromCalls(calls)
		if code == "" {
			code = parseOutput(content).Code
		}

		assistant := model.NewMessage(model.RoleAssistant, transcriptContent(content, code))
		if !r.emitMessage(assistant) {
			return nil
		}
		history = append(history, assistant)

		if code == "" {
			return nil
		}

		toolMsg, err := a.runCode(ctx, r, history, code)
		if err != nil {
			return err
		}
		if r.stopped || toolMsg == nil {
			return nil
		}
		if !r.emitMessage(*toolMsg) {
			return nil
		}
		history = append(history, *toolMsg)
	}
	return ErrMaxIterations
}

// stream sends one model round and collects the streamed content and any
// native tool calls. Deltas are forwarded to the consumer as they
// arrive. A stopped consumer returns empty results with r.stopped set.
func (a *Agent) stream(ctx context.Context, r *run, prompt string, history []model.Message, nativeTools bool) (string, []model.ToolCall, error) {
	window := truncateHistory(history, a.truncation)
	if len(window) < len(history) {
		a.logger.Debug("history truncated", "kept", len(window), "dropped", len(history)-len(window))
	}

	msgs := make([]model.Message, 0, len(window)+1)
	msgs = append(msgs, model.NewMessage(model.RoleSystem, prompt))
	msgs = append(msgs, model.StripImages(window)...)

	var content strings.Builder
	var calls []model.ToolCall
	cb := func(chunk string, toolCalls []model.ToolCall) error {
		if chunk != "" {
			content.WriteString(chunk)
			if !r.emit(EventDelta{Content: chunk}) {
				return errStopped
			}
		}
		calls = append(calls, toolCalls...)
		return nil
	}

	var err error
	if nativeTools {
		err = a.llm.ChatWithTools(ctx, msgs, []mcptypes.Tool{executePythonTool()}, cb)
	} else {
		err = a.llm.Chat(ctx, msgs, cb)
	}
	if err != nil {
		if errors.Is(err, errStopped) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("model stream: %w", err)
	}
	return content.String(), calls, nil
}

// runCode scans, executes, and wraps one generated snippet as a tool
// message. A blocking scan verdict replaces execution with the security
// report. Returns nil without error when the consumer stopped mid-way.
func (a *Agent) runCode(ctx context.Context, r *run, history []model.Message, code string) (*model.Message, error) {
	warnReport := ""
	if a.scanner != nil {
		scan, err := a.scanner.Scan(ctx, code)
		if err != nil {
			a.logger.Warn("code scan failed", "error", err)
		} else if scan.Insecure() {
			if scan.Treatment == safety.TreatmentBlock {
				a.logger.Info("generated code blocked", "issues", len(scan.Issues))
				msg := model.NewMessage(model.RoleTool, scan.Report())
				return &msg, nil
			}
			warnReport = scan.Report()
		}
	}

	result, err := a.sandbox.Execute(ctx, a.sessionID, code)
	if err != nil {
		return nil, fmt.Errorf("executing generated code: %w", err)
	}
	if !r.emit(EventExecution{Result: result}) {
		return nil, nil
	}

	text := result.Text()
	if result.IsError() {
		trace := a.traceText(result)
		if text != "" && trace != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += trace
	}

	images := result.Images()
	if a.vlm != nil && len(images) > 0 {
		for _, summary := range a.describeCharts(ctx, history, images) {
			if text != "" {
				text += "\n\n"
			}
			text += summary
		}
	}

	if warnReport != "" {
		if text == "" {
			text = warnReport
		} else {
			text = warnReport + "\n\n" + text
		}
	}
	if strings.TrimSpace(text) == "" {
		text = toolNoOutput(a.locale)
	}

	msg := model.NewMessage(model.RoleTool, text)
	msg.Images = images
	return &msg, nil
}

// codeFromCalls extracts the snippet from a native execute_python call.
func codeFromCalls(calls []model.ToolCall) string {
	for _, call := range calls {
		if call.Name != "execute_python" {
			continue
		}
		if code, ok := call.Arguments["code"].(string); ok && strings.TrimSpace(code) != "" {
			return code
		}
	}
	return ""
}

// transcriptContent renders the assistant turn for the history. A native
// tool call carries its code outside the text, so the snippet is folded
// back in as a fenced block to keep the transcript self-contained.
func transcriptContent(content, code string) string {
	if code == "" || strings.Contains(content, code) {
		return content
	}
	block := "```python\n" + strings.TrimRight(code, "\n") + "\n```"
	if strings.TrimSpace(content) == "" {
		return block
	}
	return strings.TrimRight(content, "\n") + "\n\n" + block
}

// executePythonTool is the single tool exposed on the native tool path.
func executePythonTool() mcptypes.Tool {
	return mcptypes.Tool{
		Name:        "execute_python",
		Description: "Execute a Python snippet in the session kernel and return its output. Dataframes defined in earlier snippets stay available.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Complete Python code to execute.",
				},
			},
			Required: []string{"code"},
		},
	}
}
