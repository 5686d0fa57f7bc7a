// Package agenttest provides an in-memory agent.Client for workflow tests.
package agenttest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/agent"
)

// Call records one agent call
type Call struct {
	Addr    string
	Method  string
	Config  []byte
	Peers   []string
	Timeout time.Duration
}

// Agent is a recording agent.Client. ApplyConfig stores the document that
// GetConfig later returns.
type Agent struct {
	mu      sync.Mutex
	addr    string
	network *Network
	config  []byte
	token   string
	errs    map[string]error
	verify  string
}

func (a *Agent) record(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Addr = a.addr
	a.network.record(c)

	a.mu.Lock()
	err := a.errs[c.Method]
	a.mu.Unlock()
	if err != nil {
		return &agent.CallError{Addr: a.addr, Method: c.Method, Err: err}
	}
	return nil
}

// FailOn makes every later call to method fail with err
func (a *Agent) FailOn(method string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[method] = err
}

// SetConfig sets the document returned by GetConfig
func (a *Agent) SetConfig(config []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = append([]byte(nil), config...)
}

// Config returns the last applied document
func (a *Agent) Config() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

func (a *Agent) Install(ctx context.Context, config []byte, timeout time.Duration) error {
	return a.record(ctx, Call{Method: "Install", Config: config, Timeout: timeout})
}

func (a *Agent) Start(ctx context.Context, config []byte, timeout time.Duration) error {
	return a.record(ctx, Call{Method: "Start", Config: config, Timeout: timeout})
}

func (a *Agent) Stop(ctx context.Context, timeout time.Duration) error {
	return a.record(ctx, Call{Method: "Stop", Timeout: timeout})
}

func (a *Agent) Restart(ctx context.Context, timeout time.Duration) error {
	if err := a.record(ctx, Call{Method: "Restart", Timeout: timeout}); err != nil {
		return err
	}
	if hook := a.network.restartHook(); hook != nil {
		hook(a.addr)
	}
	return nil
}

func (a *Agent) GetConfig(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := a.record(ctx, Call{Method: "GetConfig", Timeout: timeout}); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.config...), nil
}

func (a *Agent) ApplyConfig(ctx context.Context, config []byte, timeout time.Duration) error {
	if err := a.record(ctx, Call{Method: "ApplyConfig", Config: config, Timeout: timeout}); err != nil {
		return err
	}
	a.SetConfig(config)
	return nil
}

func (a *Agent) SetupIdentity(ctx context.Context, timeout time.Duration) (string, error) {
	if err := a.record(ctx, Call{Method: "SetupIdentity", Timeout: timeout}); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = fmt.Sprintf("token-%s", a.addr)
	return a.token, nil
}

func (a *Agent) ResetLocalState(ctx context.Context, timeout time.Duration) error {
	return a.record(ctx, Call{Method: "ResetLocalState", Timeout: timeout})
}

func (a *Agent) VerifyPeers(ctx context.Context, expected []string, timeout time.Duration) (string, error) {
	peers := append([]string(nil), expected...)
	if err := a.record(ctx, Call{Method: "VerifyPeers", Peers: peers, Timeout: timeout}); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.verify == "" {
		return agent.VerifyOK, nil
	}
	return a.verify, nil
}

// SetVerifyResult sets what VerifyPeers reports; empty means agent.VerifyOK
func (a *Agent) SetVerifyResult(result string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verify = result
}

func (a *Agent) ClusterComplete(ctx context.Context, timeout time.Duration) error {
	return a.record(ctx, Call{Method: "ClusterComplete", Timeout: timeout})
}

// Network is a set of fake agents keyed by address. It implements the
// dialer used by node.Resolver.
type Network struct {
	mu        sync.Mutex
	agents    map[string]*Agent
	calls     []Call
	onRestart func(addr string)
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{agents: make(map[string]*Agent)}
}

// OnRestart registers a hook run after every successful Restart, typically
// to publish the node's new service status
func (n *Network) OnRestart(hook func(addr string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onRestart = hook
}

func (n *Network) restartHook() func(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.onRestart
}

// Agent returns the agent at addr, creating it on first use
func (n *Network) Agent(addr string) *Agent {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.agents[addr]
	if !ok {
		a = &Agent{addr: addr, network: n, errs: make(map[string]error)}
		n.agents[addr] = a
	}
	return a
}

// Dial implements node.Dialer
func (n *Network) Dial(ctx context.Context, addr string) (agent.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n.Agent(addr), nil
}

func (n *Network) record(c Call) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
}

// Calls returns every call in order, optionally filtered by address
func (n *Network) Calls(addrs ...string) []Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(addrs) == 0 {
		return append([]Call(nil), n.calls...)
	}
	want := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
	}
	var out []Call
	for _, c := range n.calls {
		if want[c.Addr] {
			out = append(out, c)
		}
	}
	return out
}

// Methods returns the method names of calls to addr in order
func (n *Network) Methods(addr string) []string {
	var methods []string
	for _, c := range n.Calls(addr) {
		methods = append(methods, c.Method)
	}
	return methods
}

// Count returns how many times method was called on addr
func (n *Network) Count(addr, method string) int {
	count := 0
	for _, c := range n.Calls(addr) {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Addrs returns the addresses of every agent created so far
func (n *Network) Addrs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	addrs := make([]string, 0, len(n.agents))
	for a := range n.agents {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}
