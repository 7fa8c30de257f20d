// Tabula - data analysis agent for tabular files, driven by an LLM.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	markdown "github.com/MichaelMure/go-term-markdown"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"tabula/agent"
	"tabula/config"
	"tabula/dataset"
	"tabula/model"
	"tabula/provider"
	"tabula/retriever"
	"tabula/safety"
	"tabula/sandbox"
	"tabula/storage"
)

const (
	Version = "v0.1.0"
	License = "Apache-2.0"
)

// fileList collects repeated -file flags.
type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ", ") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	var (
		configPath  = flag.String("config", "", "alternate user config file")
		dataDir     = flag.String("data-dir", "", "override the data directory")
		sessionFlag = flag.String("session", "", "resume the session with this ID")
		question    = flag.String("q", "", "ask one question, print the answer, exit")
		debug       = flag.Bool("debug", false, "enable debug logging")
		version     = flag.Bool("version", false, "print version and exit")
		listModels  = flag.Bool("models", false, "list models from configured providers and exit")
		search      = flag.String("search", "", "search stored conversations and exit")
		sessions    = flag.Bool("sessions", false, "list stored sessions and exit")
		files       fileList
	)
	flag.Var(&files, "file", "attach a dataset file (repeatable)")
	flag.Parse()

	if *version {
		fmt.Printf("tabula %s (%s)\n", Version, License)
		return
	}

	// Flags beat .env beats config files; godotenv never overrides
	// variables that are already set.
	if *debug {
		os.Setenv("TABULA_DEBUG", "1")
	}
	if *configPath != "" {
		os.Setenv("TABULA_USER_CONFIG", *configPath)
	}
	if *dataDir != "" {
		os.Setenv("TABULA_DATA_DIR", *dataDir)
	}
	envErr := godotenv.Load()

	level := slog.LevelWarn
	if config.CheckDebug() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
	if envErr != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	if config.HasAnyEnvVar() && !config.HasAllEnvVars() && !config.SystemConfigExists() {
		slog.Warn("incomplete TABULA_* environment, falling back to config files",
			"missing", config.GetMissingEnvVar())
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listModels {
		if err := printModels(ctx, cfg); err != nil {
			slog.Error("failed to list models", "error", err)
			os.Exit(1)
		}
		return
	}

	var checkpointer *storage.SQLiteCheckpointer
	if cfg.Agent.PersistSessions || *search != "" || *sessions || *sessionFlag != "" {
		checkpointer, err = storage.NewSQLiteCheckpointer(filepath.Join(cfg.DataDir(), "sessions.db"))
		if err != nil {
			slog.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		defer checkpointer.Close()
	}

	if *search != "" {
		if err := printSearch(ctx, checkpointer, *search); err != nil {
			slog.Error("search failed", "error", err)
			os.Exit(1)
		}
		return
	}
	if *sessions {
		if err := printSessions(ctx, checkpointer); err != nil {
			slog.Error("failed to list sessions", "error", err)
			os.Exit(1)
		}
		return
	}

	sessionID := *sessionFlag
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	workdir, err := config.SessionWorkdir(cfg.WorkdirRoot(), sessionID)
	if err != nil {
		slog.Error("failed to create session workdir", "error", err)
		os.Exit(1)
	}

	var history []model.Message
	if *sessionFlag != "" {
		history, err = checkpointer.LoadMessages(ctx, sessionID)
		if err != nil {
			slog.Error("failed to load session history", "session", sessionID, "error", err)
			os.Exit(1)
		}
	}

	llm, err := provider.NewForRole(cfg, &cfg.LLM)
	if err != nil {
		slog.Error("failed to initialize the analysis model", "error", err)
		os.Exit(1)
	}
	if err := llm.Ping(ctx); err != nil {
		slog.Warn("model endpoint not reachable", "model", llm.GetDisplayName(), "error", err)
	}

	mgr, err := newSandboxManager(cfg, workdir)
	if err != nil {
		slog.Error("failed to initialize the sandbox", "mode", cfg.Sandbox.Mode, "error", err)
		os.Exit(1)
	}

	lexical := retriever.NewLexicalRetriever(0)
	ag, err := agent.New(llm, mgr, agentOptions(cfg, sessionID, workdir, lexical, checkpointer)...)
	if err != nil {
		slog.Error("failed to build the agent", "error", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "Starting sandbox kernel...")
	if _, err := mgr.Start(ctx, sessionID); err != nil {
		slog.Error("failed to start the sandbox kernel", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := mgr.Close(shutdownCtx); err != nil {
			slog.Warn("sandbox shutdown failed", "error", err)
		}
	}()

	c := &cli{
		agent:     ag,
		retriever: lexical,
		workdir:   workdir,
		messages:  history,
		oneShot:   *question != "",
		width:     terminalWidth(),
	}
	if len(history) > 0 {
		c.lastID = history[len(history)-1].ID
		// Re-index resumed datasets so the retriever sees them again.
		for _, m := range history {
			for _, att := range m.Attachments {
				c.indexTable(att.Filename)
			}
		}
	}

	if len(files) > 0 {
		if err := c.attach(ctx, files); err != nil {
			reportTurnError(err)
			return
		}
	}

	if c.oneShot {
		if err := c.ask(ctx, *question); err != nil {
			reportTurnError(err)
			return
		}
		if c.final != "" {
			fmt.Println(renderMarkdown(c.final, c.width))
		}
		return
	}

	c.interactive(ctx, llm.GetDisplayName(), len(history))
}

// cli holds the conversation state of one terminal session.
type cli struct {
	agent     *agent.Agent
	retriever *retriever.LexicalRetriever
	workdir   string

	messages []model.Message
	lastID   string

	oneShot bool
	final   string
	width   int
}

func (c *cli) interactive(ctx context.Context, modelName string, resumed int) {
	fmt.Printf("tabula %s | session %s | model %s\n", Version, shortID(c.agent.SessionID()), modelName)
	if resumed > 0 {
		fmt.Printf("Resumed %d earlier messages.\n", resumed)
	}
	fmt.Println("Ask a question about your data. /file <path> attaches a dataset, /exit quits.")

	// A signal must also unblock the stdin read below.
	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())

		var err error
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return
		case line == "/file" || strings.HasPrefix(line, "/file "):
			paths := strings.Fields(strings.TrimPrefix(line, "/file"))
			if len(paths) == 0 {
				fmt.Println("usage: /file <path>")
				continue
			}
			err = c.attach(ctx, paths)
		case strings.HasPrefix(line, "/"):
			fmt.Printf("unknown command %s\n", line)
			continue
		default:
			err = c.ask(ctx, line)
		}
		if err != nil {
			reportTurnError(err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// attach copies datasets into the session workdir and sends one
// attachment turn so the agent loads and describes them.
func (c *cli) attach(ctx context.Context, paths []string) error {
	msg := model.NewMessage(model.RoleUser, "")
	msg.ParentID = c.lastID
	for _, raw := range paths {
		att, err := c.stage(raw)
		if err != nil {
			return err
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return c.runTurn(ctx, msg)
}

// stage places one dataset file into the workdir and indexes it for
// column retrieval.
func (c *cli) stage(raw string) (model.Attachment, error) {
	src := raw
	uri := ""
	if strings.HasPrefix(raw, "file:") {
		p, err := dataset.PathFromURI(raw)
		if err != nil {
			return model.Attachment{}, err
		}
		src, uri = p, raw
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return model.Attachment{}, err
	}
	name := filepath.Base(abs)
	dst := filepath.Join(c.workdir, name)
	if abs != dst {
		if err := copyFile(abs, dst); err != nil {
			return model.Attachment{}, fmt.Errorf("staging %s: %w", name, err)
		}
	}
	c.indexTable(name)
	return model.Attachment{Filename: name, URL: uri}, nil
}

func (c *cli) indexTable(name string) {
	t, err := dataset.ReadTable(filepath.Join(c.workdir, name))
	if err != nil {
		slog.Debug("local table read failed, retriever skips the file", "file", name, "error", err)
		return
	}
	c.retriever.AddTable(name, t)
}

func (c *cli) ask(ctx context.Context, q string) error {
	msg := model.NewMessage(model.RoleUser, q)
	msg.ParentID = c.lastID
	return c.runTurn(ctx, msg)
}

func (c *cli) runTurn(ctx context.Context, msg model.Message) error {
	c.messages = append(c.messages, msg)
	c.lastID = msg.ID

	streamed := ""
	for ev, err := range c.agent.Invoke(ctx, c.messages, msg.ID, time.Now()) {
		if err != nil {
			return err
		}
		switch e := ev.(type) {
		case agent.EventDelta:
			if !c.oneShot {
				fmt.Print(e.Content)
				streamed += e.Content
			}
		case agent.EventStage:
			fmt.Fprintf(os.Stderr, "  [%s] %s\n", e.Stage, e.Filename)
		case agent.EventExecution:
			slog.Debug("snippet executed", "failed", e.Result.IsError())
		case agent.EventMessage:
			c.messages = append(c.messages, e.Message)
			c.lastID = e.Message.ID
			c.printMessage(e.Message, &streamed)
		}
	}
	return nil
}

func (c *cli) printMessage(m model.Message, streamed *string) {
	switch m.Role {
	case model.RoleAssistant:
		if c.oneShot {
			c.final = m.Content
			return
		}
		// Native tool calls put the generated snippet only into the
		// completed message, so print whatever was not streamed yet.
		rest := strings.TrimPrefix(m.Content, *streamed)
		if rest != m.Content || *streamed == "" {
			fmt.Print(rest)
		}
		fmt.Print("\n\n")
		*streamed = ""
	case model.RoleTool:
		if !c.oneShot {
			fmt.Print(indent(m.Content, "  | "))
			fmt.Print("\n\n")
		}
	}
}

func agentOptions(cfg *config.Config, sessionID, workdir string, lexical *retriever.LexicalRetriever, cp *storage.SQLiteCheckpointer) []agent.Option {
	opts := []agent.Option{
		agent.WithSessionID(sessionID),
		agent.WithWorkdir(workdir),
		agent.WithLocale(cfg.Agent.Locale),
		agent.WithPreviewLines(cfg.Agent.PreviewLines),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithErrorTraceCleanup(cfg.Agent.ErrorTraceCleanup),
		agent.WithCodeScanner(safety.NewRuleScanner()),
		agent.WithRetriever(lexical),
	}
	if cfg.DefaultSystemPrompt != "" {
		opts = append(opts, agent.WithExtraInstructions(cfg.DefaultSystemPrompt))
	}
	if cp != nil && cfg.Agent.PersistSessions {
		opts = append(opts, agent.WithCheckpointer(cp))
	}

	// Optional role models. A role that cannot be built is skipped so
	// the session still starts.
	if cfg.VLM != nil {
		if p, err := provider.NewForRole(cfg, cfg.VLM); err != nil {
			slog.Warn("vlm unavailable, charts will not be summarized", "error", err)
		} else {
			opts = append(opts, agent.WithVLM(p))
		}
	}
	if cfg.Guard != nil {
		if p, err := provider.NewForRole(cfg, cfg.Guard); err != nil {
			slog.Warn("guard model unavailable, input classification disabled", "error", err)
		} else {
			opts = append(opts, agent.WithSafetyGuard(safety.NewLLMGuard(p)))
		}
	}
	if cfg.Normalizer != nil {
		if p, err := provider.NewForRole(cfg, cfg.Normalizer); err != nil {
			slog.Warn("normalizer model unavailable, irregular sheets load as-is", "error", err)
		} else {
			opts = append(opts, agent.WithNormalizeModel(p))
		}
	}
	return opts
}

func newSandboxManager(cfg *config.Config, workdir string) (sandbox.Manager, error) {
	if cfg.Sandbox.Mode == "gateway" {
		token := ""
		if cfg.CredentialStore != nil {
			token = cfg.CredentialStore.Get(config.CredentialGatewayToken)
		}
		return sandbox.NewGatewayManager(sandbox.GatewayConfig{
			BaseURL: cfg.Sandbox.GatewayURL,
			Token:   token,
			Env:     map[string]string{"KERNEL_WORKING_DIR": workdir},
		})
	}

	lc := sandbox.LocalConfig{
		Image:       cfg.Sandbox.Image,
		WorkdirRoot: cfg.WorkdirRoot(),
	}
	if cfg.Sandbox.MemoryMB > 0 {
		lc.Memory = cfg.Sandbox.MemoryMB << 20
	}
	if cfg.Sandbox.CPUs > 0 {
		lc.NanoCPUs = int64(cfg.Sandbox.CPUs * 1e9)
	}
	return sandbox.NewLocalManager(lc)
}

func printModels(ctx context.Context, cfg *config.Config) error {
	providers := provider.InitializeProviders(cfg)
	if len(providers) == 0 {
		return errors.New("no providers reachable")
	}
	for _, id := range slices.Sorted(maps.Keys(providers)) {
		models, err := providers[id].ListModels(ctx)
		if err != nil {
			slog.Warn("listing models failed", "provider", id, "error", err)
			continue
		}
		for _, m := range models {
			fmt.Printf("%s\t%s\n", id, m.Name)
		}
	}
	return nil
}

func printSearch(ctx context.Context, cp *storage.SQLiteCheckpointer, query string) error {
	matches, err := cp.SearchMessages(ctx, query)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s  %-30s  %s\n", shortID(m.SessionID), m.SessionTitle, m.Preview)
	}
	return nil
}

func printSessions(ctx context.Context, cp *storage.SQLiteCheckpointer) error {
	infos, err := cp.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no stored sessions")
		return nil
	}
	for _, s := range infos {
		fmt.Printf("%s  %s  %3d messages  %s\n",
			shortID(s.ID), s.UpdatedAt.Format("2006-01-02 15:04"), s.MessageCount, s.Title)
	}
	return nil
}

func reportTurnError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

// renderMarkdown pretty-prints an answer for the terminal. Autolink is
// disabled so plain URLs stay as-is for the terminal emulator to detect.
func renderMarkdown(content string, width int) string {
	ext := markdown.Extensions() &^ parser.Autolink
	p := parser.NewWithExtensions(ext)
	r := markdown.NewRenderer(width, 0)
	return string(gomarkdown.Render(p.Parse([]byte(content)), r))
}

func terminalWidth() int {
	if c := os.Getenv("COLUMNS"); c != "" {
		if n, err := strconv.Atoi(c); err == nil && n > 20 {
			return n
		}
	}
	return 100
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
