package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const (
	// kernelMountPath is where the session workdir appears inside the
	// kernel container; generated code addresses files relative to it.
	kernelMountPath = "/mnt/data"

	gatewayPort     = "8888"
	stopTimeoutSecs = 10

	// Default resource limits for kernel containers.
	defaultMemoryLimit = 2 * 1024 * 1024 * 1024 // 2GiB
	defaultNanoCPUs    = 2_000_000_000          // 2 CPUs

	readyPollInterval = 250 * time.Millisecond
)

// LocalConfig configures Docker-launched kernel containers.
type LocalConfig struct {
	// Image is the kernel gateway image; defaults to jupyter/kernel-gateway.
	// The image must already be present on the host.
	Image string
	// WorkdirRoot is the host directory holding per-session workdirs. Each
	// session's subdirectory is bind-mounted into its container.
	WorkdirRoot string
	// Memory and NanoCPUs bound the container; zero means the defaults.
	Memory   int64
	NanoCPUs int64
	// StartTimeout bounds container creation plus gateway readiness;
	// defaults to 90s.
	StartTimeout time.Duration
	Logger       *slog.Logger
}

// LocalManager runs one kernel gateway container per session on the local
// Docker daemon and delegates execution to it over the same wire protocol
// as the in-cluster manager. Containers are reached through their bridge
// network address, so the manager must run on the Docker host.
type LocalManager struct {
	cli    *client.Client
	cfg    LocalConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*localSession
}

type localSession struct {
	containerID string
	gateway     *GatewayManager
}

// NewLocalManager connects to the local Docker daemon.
func NewLocalManager(cfg LocalConfig) (*LocalManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if cfg.Image == "" {
		cfg.Image = "jupyter/kernel-gateway"
	}
	if cfg.Memory <= 0 {
		cfg.Memory = defaultMemoryLimit
	}
	if cfg.NanoCPUs <= 0 {
		cfg.NanoCPUs = defaultNanoCPUs
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 90 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalManager{
		cli:      cli,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*localSession),
	}, nil
}

// Start ensures a kernel container and a kernel exist for the session.
func (m *LocalManager) Start(ctx context.Context, sessionID string) (*Kernel, error) {
	ls, err := m.ensureSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ls.gateway.Start(ctx, sessionID)
}

// Execute runs code in the session's kernel, creating the container and
// kernel on first use.
func (m *LocalManager) Execute(ctx context.Context, sessionID string, code string) (*ExecutionResult, error) {
	ls, err := m.ensureSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ls.gateway.Execute(ctx, sessionID, code)
}

func (m *LocalManager) ensureSession(ctx context.Context, sessionID string) (*localSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls, ok := m.sessions[sessionID]; ok {
		return ls, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.StartTimeout)
	defer cancel()

	containerName := "tabula-kernel-" + sessionID

	// A container left over from a previous process is reused when it is
	// still running, otherwise recycled.
	if inspect, err := m.cli.ContainerInspect(ctx, containerName); err == nil {
		if inspect.State != nil && inspect.State.Running {
			addr := inspect.NetworkSettings.IPAddress
			ls, err := m.bindSession(ctx, sessionID, inspect.ID, addr)
			if err == nil {
				m.logger.Info("reusing kernel container", "session", sessionID, "container", inspect.ID)
				return ls, nil
			}
			m.logger.Warn("existing kernel container unusable, recreating", "session", sessionID, "error", err)
		}
		if err := m.removeContainer(ctx, inspect.ID); err != nil {
			return nil, err
		}
	} else if !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("inspect container %s: %w", containerName, err)
	}

	config := &container.Config{
		Image:      m.cfg.Image,
		WorkingDir: kernelMountPath,
		Env: []string{
			"KG_IP=0.0.0.0",
			"KG_PORT=" + gatewayPort,
		},
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   m.cfg.Memory,
			NanoCPUs: m.cfg.NanoCPUs,
		},
	}
	if m.cfg.WorkdirRoot != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: m.cfg.WorkdirRoot,
			Target: kernelMountPath,
		}}
	}

	resp, err := m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("create kernel container: image %q not present locally: %w", m.cfg.Image, err)
		}
		return nil, fmt.Errorf("create kernel container: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.removeContainer(ctx, resp.ID)
		return nil, fmt.Errorf("start kernel container %s: %w", resp.ID, err)
	}

	inspect, err := m.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		_ = m.removeContainer(ctx, resp.ID)
		return nil, fmt.Errorf("inspect started container: %w", err)
	}
	addr := inspect.NetworkSettings.IPAddress

	ls, err := m.bindSession(ctx, sessionID, resp.ID, addr)
	if err != nil {
		_ = m.removeContainer(ctx, resp.ID)
		return nil, err
	}
	m.logger.Info("kernel container started", "session", sessionID, "container", resp.ID, "addr", addr)
	return ls, nil
}

// bindSession waits for the in-container gateway to answer and registers a
// gateway client for it.
func (m *LocalManager) bindSession(ctx context.Context, sessionID, containerID, addr string) (*localSession, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: container %s has no bridge address", ErrKernelNotReady, containerID)
	}
	baseURL := "http://" + addr + ":" + gatewayPort

	gw, err := NewGatewayManager(GatewayConfig{
		BaseURL:    baseURL,
		KernelName: "python3",
		Logger:     m.logger,
	})
	if err != nil {
		return nil, err
	}

	if err := m.waitReady(ctx, gw); err != nil {
		return nil, err
	}

	ls := &localSession{containerID: containerID, gateway: gw}
	m.sessions[sessionID] = ls
	return ls, nil
}

func (m *LocalManager) waitReady(ctx context.Context, gw *GatewayManager) error {
	for {
		if err := gw.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrKernelNotReady, ctx.Err())
		case <-time.After(readyPollInterval):
		}
	}
}

// Shutdown stops the session's kernel and removes its container.
func (m *LocalManager) Shutdown(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	// Kernel shutdown is best effort; removing the container ends it anyway.
	if err := ls.gateway.Shutdown(ctx, sessionID); err != nil {
		m.logger.Debug("kernel shutdown before container removal failed", "session", sessionID, "error", err)
	}
	return m.removeContainer(ctx, ls.containerID)
}

func (m *LocalManager) removeContainer(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		m.logger.Debug("container stop returned error, continuing to remove", "container", containerID, "error", err)
	}
	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	m.logger.Info("kernel container removed", "container", containerID)
	return nil
}

// Close shuts down all session containers.
func (m *LocalManager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
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

// Ping verifies the Docker daemon is reachable.
func (m *LocalManager) Ping(ctx context.Context) error {
	_, err := m.cli.Ping(ctx)
	return err
}

// interface checks
var (
	_ Manager = (*GatewayManager)(nil)
	_ Manager = (*LocalManager)(nil)
)
