package agent

import (
	"context"
	"fmt"
	"time"
)

// VerifyOK is the peer verification result of a node that sees the full membership
const VerifyOK = "OK"

// Client is the control plane's view of the agent running on a node.
// Every call is synchronous and bounded by the timeout passed by the caller,
// independently of any deadline already on ctx.
type Client interface {
	// Install prepares the datastore on a fresh node with the given configuration
	Install(ctx context.Context, config []byte, timeout time.Duration) error

	// Start starts the datastore with the given configuration
	Start(ctx context.Context, config []byte, timeout time.Duration) error

	Stop(ctx context.Context, timeout time.Duration) error

	// Restart restarts the datastore and returns without waiting for it to
	// report ready
	Restart(ctx context.Context, timeout time.Duration) error

	// GetConfig returns the node's live configuration document
	GetConfig(ctx context.Context, timeout time.Duration) ([]byte, error)

	// ApplyConfig replaces the node's configuration document
	ApplyConfig(ctx context.Context, config []byte, timeout time.Duration) error

	// SetupIdentity assigns the node its ring identity and returns it
	SetupIdentity(ctx context.Context, timeout time.Duration) (string, error)

	// ResetLocalState drops node-local state so it re-syncs from its peers
	ResetLocalState(ctx context.Context, timeout time.Duration) error

	// VerifyPeers returns VerifyOK when the node sees exactly the expected
	// peer addresses, or a description of the mismatch
	VerifyPeers(ctx context.Context, expected []string, timeout time.Duration) (string, error)

	// ClusterComplete tells the node that cluster assembly has finished
	ClusterComplete(ctx context.Context, timeout time.Duration) error
}

// Timeouts holds the per-call budgets used when talking to agents
type Timeouts struct {
	Default         time.Duration // Lifecycle calls: install, start, stop, restart, apply config
	Verification    time.Duration
	IdentitySetup   time.Duration
	ConfigRetrieval time.Duration
	StateReset      time.Duration
}

// DefaultTimeouts returns the budgets used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:         60 * time.Second,
		Verification:    120 * time.Second,
		IdentitySetup:   60 * time.Second,
		ConfigRetrieval: 30 * time.Second,
		StateReset:      300 * time.Second,
	}
}

// CallError is returned when a single agent call fails
type CallError struct {
	Addr   string
	Method string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("agent %s: %s failed: %v", e.Addr, e.Method, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
