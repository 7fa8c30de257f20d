// Package sandbox delegates code execution to isolated Jupyter kernels.
//
// The agent never runs generated code itself. A Manager owns kernels keyed
// by session ID and forwards code to them: GatewayManager speaks the
// Jupyter Kernel Gateway REST and WebSocket API of an in-cluster
// deployment, and LocalManager launches a single-session kernel gateway
// container through the Docker Engine API and then talks to it the same
// way. Isolation is entirely the kernel side's concern.
package sandbox

import (
	"context"
	"errors"
)

var (
	// ErrKernelNotFound means no kernel is registered for the session.
	ErrKernelNotFound = errors.New("no kernel for session")
	// ErrKernelNotReady means the kernel did not become reachable in time.
	ErrKernelNotReady = errors.New("kernel not ready")
)

// Manager starts kernels and executes code in them. Implementations are
// safe for concurrent use; executions within one session are serialized.
type Manager interface {
	// Start ensures a kernel exists for the session and returns it.
	// Calling Start for a session that already has a kernel is a no-op.
	Start(ctx context.Context, sessionID string) (*Kernel, error)

	// Execute runs code in the session's kernel, starting one if needed,
	// and returns the collected outputs.
	Execute(ctx context.Context, sessionID string, code string) (*ExecutionResult, error)

	// Shutdown stops the session's kernel. Unknown sessions are a no-op.
	Shutdown(ctx context.Context, sessionID string) error

	// Close shuts down all kernels this manager started.
	Close(ctx context.Context) error
}

// Kernel identifies a running kernel bound to a session.
type Kernel struct {
	// ID is the kernel ID assigned by the gateway.
	ID string
	// SessionID is the agent session this kernel belongs to.
	SessionID string
}
