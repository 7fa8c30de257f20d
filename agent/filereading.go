package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"tabula/dataset"
	"tabula/model"
	"tabula/sandbox"
)

// readFiles runs the file-reading pipeline for every attachment on the
// entry message. Sandbox infrastructure failures abort the turn; a file
// that merely cannot be read produces a failure description instead, so
// the model can still talk about it.
func (a *Agent) readFiles(ctx context.Context, r *run, entry model.Message) error {
	for _, att := range entry.Attachments {
		if r.stopped {
			return nil
		}
		if err := a.readFile(ctx, r, att); err != nil {
			return err
		}
	}
	return nil
}

// readFile loads one attachment into the session kernel and emits its
// dataset description: load, optional normalization, column structure,
// row preview. Descriptions are cached per file state, so re-attaching
// an unchanged file replays the stored text without touching the kernel.
func (a *Agent) readFile(ctx context.Context, r *run, att model.Attachment) error {
	filename := att.Filename
	if !supportedDataset(filename) {
		r.emitMessage(model.NewMessage(model.RoleAssistant, unsupportedText(a.locale, filename)))
		return nil
	}

	path := a.resolvePath(filename)

	var (
		size    int64
		modTime time.Time
		statted bool
	)
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		size, modTime, statted = st.Size(), st.ModTime(), true
		if text, ok := a.cachedDescription(filename, size, modTime); ok {
			a.logger.Debug("dataset description cached", "file", filename)
			r.emitMessage(model.NewMessage(model.RoleAssistant, text))
			return nil
		}
	}

	varName := a.datasetVar(filename)

	if !r.emit(EventStage{Filename: filename, Stage: StageReading}) {
		return nil
	}
	encoding := ""
	if !isSpreadsheet(filename) {
		encoding = a.fileEncoding(ctx, path)
	}
	res, err := a.sandbox.Execute(ctx, a.sessionID, loadSnippet(filename, varName, encoding))
	if err != nil {
		return fmt.Errorf("loading %s: %w", filename, err)
	}
	if res.IsError() {
		r.emitMessage(model.NewMessage(model.RoleAssistant, readFailureText(a.locale, filename, a.traceText(res))))
		return nil
	}

	note := ""
	if a.normalizer != nil && isSpreadsheet(filename) {
		normalized, err := a.normalizeSheet(ctx, r, filename, path, varName)
		if err != nil {
			return err
		}
		if r.stopped {
			return nil
		}
		if normalized {
			note = normalizedNote(a.locale)
		}
	}

	if !r.emit(EventStage{Filename: filename, Stage: StageStructure}) {
		return nil
	}
	info, err := a.sandbox.Execute(ctx, a.sessionID, fmt.Sprintf("%s.info(memory_usage=False)", varName))
	if err != nil {
		return fmt.Errorf("describing %s: %w", filename, err)
	}
	if info.IsError() {
		r.emitMessage(model.NewMessage(model.RoleAssistant, readFailureText(a.locale, filename, a.traceText(info))))
		return nil
	}

	if !r.emit(EventStage{Filename: filename, Stage: StagePreview}) {
		return nil
	}
	head, err := a.sandbox.Execute(ctx, a.sessionID, fmt.Sprintf("%s.head(%d)", varName, a.previewLines))
	if err != nil {
		return fmt.Errorf("previewing %s: %w", filename, err)
	}
	if head.IsError() {
		r.emitMessage(model.NewMessage(model.RoleAssistant, readFailureText(a.locale, filename, a.traceText(head))))
		return nil
	}

	text := descriptionText(a.locale, filename, varName, note, info.Text(), head.Text(), a.previewLines)
	if statted {
		a.storeDescription(filename, size, modTime, text)
	}

	msg := model.NewMessage(model.RoleAssistant, text)
	msg.Extra = map[string]any{"filename": filename, "variable": varName}
	r.emitMessage(msg)
	return nil
}

// normalizeSheet runs the optional cleanup step on a spreadsheet whose
// locally-read head looks irregular. Reports whether cleanup code ran
// successfully; model failures and rejected snippets only skip the step.
func (a *Agent) normalizeSheet(ctx context.Context, r *run, filename, path, varName string) (bool, error) {
	table, err := dataset.ReadTable(path)
	if err != nil {
		a.logger.Debug("skipping normalization, local read failed", "file", filename, "error", err)
		return false, nil
	}
	if !table.LooksIrregular() {
		return false, nil
	}

	if !r.emit(EventStage{Filename: filename, Stage: StageNormalizing}) {
		return false, nil
	}

	code, err := a.normalizeCode(ctx, filename, table, varName)
	if err != nil {
		a.logger.Warn("normalizer model failed", "file", filename, "error", err)
		return false, nil
	}
	if code == "" {
		a.logger.Debug("normalizer returned no code", "file", filename)
		return false, nil
	}

	res, err := a.sandbox.Execute(ctx, a.sessionID, code)
	if err != nil {
		return false, fmt.Errorf("normalizing %s: %w", filename, err)
	}
	if res.IsError() {
		a.logger.Warn("normalization code failed", "file", filename, "error", res.LastTraceLine())
		// A half-applied snippet can leave the dataframe mangled; reload
		// the original sheet.
		if _, rerr := a.sandbox.Execute(ctx, a.sessionID, loadSnippet(filename, varName, "")); rerr != nil {
			return false, fmt.Errorf("reloading %s: %w", filename, rerr)
		}
		return false, nil
	}
	return true, nil
}

// normalizeHeadRows is how much of the raw sheet the normalizer sees.
const normalizeHeadRows = 10

// normalizeCode asks the normalizer model for a cleanup snippet.
func (a *Agent) normalizeCode(ctx context.Context, filename string, table *dataset.Table, varName string) (string, error) {
	prompt := normalizePrompt(filename, table.Render(normalizeHeadRows), varName)

	var out strings.Builder
	err := a.normalizer.Chat(ctx, []model.Message{model.NewMessage(model.RoleUser, prompt)}, func(chunk string, _ []model.ToolCall) error {
		out.WriteString(chunk)
		return nil
	})
	if err != nil {
		return "", err
	}
	return parseOutput(out.String()).Code, nil
}

// traceText renders an execution error for the model, honoring the
// trace cleanup setting.
func (a *Agent) traceText(res *sandbox.ExecutionResult) string {
	if a.errorTraceCleanup {
		return res.LastTraceLine()
	}
	return res.ErrorTrace()
}

// resolvePath joins a relative attachment filename with the session
// workdir for local reads. The kernel resolves the same name itself.
func (a *Agent) resolvePath(filename string) string {
	if filepath.IsAbs(filename) || a.workdir == "" {
		return filename
	}
	return filepath.Join(a.workdir, filename)
}

func supportedDataset(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".xlsx", ".xlsm", ".xltx", ".xltm":
		return true
	}
	return false
}

func isSpreadsheet(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return true
	}
	return false
}

// loadSnippet builds the pandas code that reads an attachment into its
// kernel variable. The kernel works inside the session workdir, so the
// filename stays relative.
func loadSnippet(filename, varName, encoding string) string {
	if encoding == "" {
		encoding = "utf-8"
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return fmt.Sprintf("import pandas as pd\n%s = pd.read_csv(%q, encoding=%q)", varName, filename, encoding)
	case ".tsv":
		return fmt.Sprintf("import pandas as pd\n%s = pd.read_csv(%q, sep=%q, encoding=%q)", varName, filename, "\t", encoding)
	default:
		return fmt.Sprintf("import pandas as pd\n%s = pd.read_excel(%q)", varName, filename)
	}
}

// encodingProbeSize bounds how much of a file is read to check for valid
// UTF-8 before running full detection.
const encodingProbeSize = 64 << 10

// fileEncoding picks the Python codec for reading a delimited file.
// UTF-8 content short-circuits; otherwise the detector's best candidate
// wins. Every failure falls back to utf-8 and lets the kernel report
// the real problem.
func (a *Agent) fileEncoding(ctx context.Context, path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "utf-8"
	}
	probe, err := io.ReadAll(io.LimitReader(f, encodingProbeSize))
	f.Close()
	if err != nil || utf8.Valid(probe) {
		return "utf-8"
	}

	candidates, err := dataset.DetectFileEncodings(ctx, path)
	if err != nil {
		a.logger.Warn("encoding detection failed", "file", path, "error", err)
		return "utf-8"
	}
	return pythonEncoding(candidates[0].Encoding)
}

// pythonCodecs maps detector charset names to Python codec names where
// the spellings differ. Names outside the map pass through lowercased,
// which the Python codec registry resolves for the common cases.
var pythonCodecs = map[string]string{
	"GB-18030":     "gb18030",
	"ISO-8859-1":   "latin-1",
	"ISO-8859-8-I": "iso-8859-8",
	"ISO-2022-JP":  "iso2022_jp",
	"ISO-2022-KR":  "iso2022_kr",
	"IBM424_rtl":   "cp424",
	"IBM424_ltr":   "cp424",
}

func pythonEncoding(name string) string {
	if codec, ok := pythonCodecs[name]; ok {
		return codec
	}
	return strings.ToLower(name)
}
