package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsReadLimit allows large rich outputs; a rendered chart easily exceeds
// the websocket default of 32 KiB.
const wsReadLimit = 64 << 20

// GatewayConfig configures a connection to a Jupyter Kernel Gateway or
// Enterprise Gateway deployment.
type GatewayConfig struct {
	// BaseURL is the http(s) root of the gateway, e.g. http://gateway:8888.
	BaseURL string
	// Token is sent as "Authorization: token <Token>" when set.
	Token string
	// KernelName selects the kernelspec; defaults to python3.
	KernelName string
	// Env is passed to the gateway on kernel start. Enterprise Gateway
	// forwards KERNEL_* variables into the kernel environment, which is how
	// the session working directory reaches in-cluster kernels.
	Env map[string]string
	// StartTimeout bounds kernel startup; defaults to 60s.
	StartTimeout time.Duration
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GatewayManager manages kernels on a remote gateway, one per session.
type GatewayManager struct {
	cfg    GatewayConfig
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	kernels map[string]*gatewayKernel
}

type gatewayKernel struct {
	kernel Kernel
	// execMu serializes executions on this kernel so interleaved streams
	// from one session cannot corrupt each other's dataframe state.
	execMu sync.Mutex
}

// NewGatewayManager validates the config and returns a manager. No network
// traffic happens until the first Start or Execute.
func NewGatewayManager(cfg GatewayConfig) (*GatewayManager, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.KernelName == "" {
		cfg.KernelName = "python3"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayManager{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		kernels: make(map[string]*gatewayKernel),
	}, nil
}

// Start ensures a kernel exists for the session.
func (m *GatewayManager) Start(ctx context.Context, sessionID string) (*Kernel, error) {
	gk, err := m.ensureKernel(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	k := gk.kernel
	return &k, nil
}

func (m *GatewayManager) ensureKernel(ctx context.Context, sessionID string) (*gatewayKernel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gk, ok := m.kernels[sessionID]; ok {
		return gk, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.StartTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"name": m.cfg.KernelName,
		"env":  m.cfg.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding kernel start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/api/kernels", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	m.authorize(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("starting kernel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("starting kernel: gateway returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var started struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return nil, fmt.Errorf("decoding kernel start response: %w", err)
	}

	gk := &gatewayKernel{kernel: Kernel{ID: started.ID, SessionID: sessionID}}
	m.kernels[sessionID] = gk
	m.logger.Info("kernel started", "session", sessionID, "kernel", started.ID)
	return gk, nil
}

// Execute runs code in the session's kernel and collects its outputs.
func (m *GatewayManager) Execute(ctx context.Context, sessionID string, code string) (*ExecutionResult, error) {
	gk, err := m.ensureKernel(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	gk.execMu.Lock()
	defer gk.execMu.Unlock()

	start := time.Now()
	result, err := m.executeOnce(ctx, gk.kernel, code)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("code executed",
		"session", sessionID,
		"kernel", gk.kernel.ID,
		"status", result.Status,
		"parts", len(result.Parts),
		"duration", time.Since(start))
	return result, nil
}

func (m *GatewayManager) executeOnce(ctx context.Context, k Kernel, code string) (*ExecutionResult, error) {
	wsURL := m.channelsURL(k.ID)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: m.client,
		HTTPHeader: m.authHeader(),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to kernel channels: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)
	defer conn.Close(websocket.StatusNormalClosure, "")

	req, err := newExecuteRequest(k.SessionID, code)
	if err != nil {
		return nil, err
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return nil, fmt.Errorf("sending execute request: %w", err)
	}

	coll := newCollector(req.Header.MsgID)
	for {
		var msg wireMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			// Cancellation is the caller giving up on this execution; an
			// interrupt keeps the kernel usable for the next turn.
			if ctx.Err() != nil {
				m.interrupt(k.ID)
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reading kernel message: %w", err)
		}
		done, err := coll.feed(msg)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return &coll.result, nil
}

// interrupt asks the gateway to interrupt a kernel, best effort.
func (m *GatewayManager) interrupt(kernelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/api/kernels/"+kernelID+"/interrupt", nil)
	if err != nil {
		return
	}
	m.authorize(req)
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("kernel interrupt failed", "kernel", kernelID, "error", err)
		return
	}
	resp.Body.Close()
}

// Shutdown stops the session's kernel on the gateway.
func (m *GatewayManager) Shutdown(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	gk, ok := m.kernels[sessionID]
	if ok {
		delete(m.kernels, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.cfg.BaseURL+"/api/kernels/"+gk.kernel.ID, nil)
	if err != nil {
		return err
	}
	m.authorize(req)
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("shutting down kernel %s: %w", gk.kernel.ID, err)
	}
	resp.Body.Close()
	m.logger.Info("kernel shut down", "session", sessionID, "kernel", gk.kernel.ID)
	return nil
}

// Close shuts down every kernel this manager started.
func (m *GatewayManager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]string, 0, len(m.kernels))
	for id := range m.kernels {
		sessions = append(sessions, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range sessions {
		if err := m.Shutdown(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ping checks that the gateway answers its kernelspecs endpoint.
func (m *GatewayManager) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/api/kernelspecs", nil)
	if err != nil {
		return err
	}
	m.authorize(req)
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}

func (m *GatewayManager) channelsURL(kernelID string) string {
	ws := m.cfg.BaseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/api/kernels/" + kernelID + "/channels"
}

func (m *GatewayManager) authorize(req *http.Request) {
	if m.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+m.cfg.Token)
	}
}

func (m *GatewayManager) authHeader() http.Header {
	h := http.Header{}
	if m.cfg.Token != "" {
		h.Set("Authorization", "token "+m.cfg.Token)
	}
	return h
}
