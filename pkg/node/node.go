package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Handle is a resolved cluster member with a live agent client. Handles are
// runtime values and are never persisted.
type Handle struct {
	ID      string
	Name    string
	Role    types.NodeRole
	Address string
	Agent   agent.Client
}

// Inventory reports the infrastructure view of nodes, separate from the
// datastore service status
type Inventory interface {
	ServerStatus(ctx context.Context, nodeID string) (types.ServerStatus, error)
	Address(ctx context.Context, nodeID string) (string, error)
}

// Dialer opens agent clients by endpoint
type Dialer interface {
	Dial(ctx context.Context, addr string) (agent.Client, error)
}

// ErrNoAddress is returned when a node has no known network address
var ErrNoAddress = errors.New("node has no address")

// InactiveError lists nodes whose infrastructure is not ACTIVE
type InactiveError struct {
	NodeIDs  []string
	Statuses map[string]types.ServerStatus
}

func (e *InactiveError) Error() string {
	parts := make([]string, 0, len(e.NodeIDs))
	for _, id := range e.NodeIDs {
		parts = append(parts, fmt.Sprintf("%s=%s", id, e.Statuses[id]))
	}
	return fmt.Sprintf("servers are not active: %s", strings.Join(parts, ", "))
}

// StoreInventory reads the provisioning fields of persisted node records
type StoreInventory struct {
	store storage.Store
}

// NewStoreInventory creates an inventory backed by store
func NewStoreInventory(store storage.Store) *StoreInventory {
	return &StoreInventory{store: store}
}

func (i *StoreInventory) ServerStatus(ctx context.Context, nodeID string) (types.ServerStatus, error) {
	n, err := i.store.GetNode(nodeID)
	if err != nil {
		return "", err
	}
	return n.ServerStatus, nil
}

func (i *StoreInventory) Address(ctx context.Context, nodeID string) (string, error) {
	n, err := i.store.GetNode(nodeID)
	if err != nil {
		return "", err
	}
	if n.Address == "" {
		return "", fmt.Errorf("node %s: %w", nodeID, ErrNoAddress)
	}
	return n.Address, nil
}

// RequireActive fails with *InactiveError unless every node's infrastructure
// is ACTIVE
func RequireActive(ctx context.Context, inventory Inventory, nodes []*types.Node) error {
	inactive := &InactiveError{Statuses: make(map[string]types.ServerStatus)}
	for _, n := range nodes {
		status, err := inventory.ServerStatus(ctx, n.ID)
		if err != nil {
			return fmt.Errorf("failed to get server status of node %s: %w", n.ID, err)
		}
		if status != types.ServerStatusActive {
			inactive.NodeIDs = append(inactive.NodeIDs, n.ID)
			inactive.Statuses[n.ID] = status
		}
	}
	if len(inactive.NodeIDs) > 0 {
		return inactive
	}
	return nil
}

// Resolver turns node records into handles
type Resolver struct {
	inventory Inventory
	dialer    Dialer
}

// NewResolver creates a resolver
func NewResolver(inventory Inventory, dialer Dialer) *Resolver {
	return &Resolver{inventory: inventory, dialer: dialer}
}

// Resolve returns a handle for n. The agent endpoint defaults to the node
// address when no explicit agent address is recorded.
func (r *Resolver) Resolve(ctx context.Context, n *types.Node) (*Handle, error) {
	addr, err := r.inventory.Address(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	endpoint := n.AgentAddr
	if endpoint == "" {
		endpoint = addr
	}
	client, err := r.dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent of node %s: %w", n.ID, err)
	}

	return &Handle{
		ID:      n.ID,
		Name:    n.Name,
		Role:    n.Role,
		Address: addr,
		Agent:   client,
	}, nil
}

// ResolveAll resolves nodes in order
func (r *Resolver) ResolveAll(ctx context.Context, nodes []*types.Node) ([]*Handle, error) {
	handles := make([]*Handle, 0, len(nodes))
	for _, n := range nodes {
		h, err := r.Resolve(ctx, n)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// IDs returns the ids of handles in order
func IDs(handles []*Handle) []string {
	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.ID)
	}
	return ids
}

// Addresses returns the addresses of handles in order
func Addresses(handles []*Handle) []string {
	addrs := make([]string, 0, len(handles))
	for _, h := range handles {
		addrs = append(addrs, h.Address)
	}
	return addrs
}

// WithRole returns the handles with the given role, preserving order
func WithRole(handles []*Handle, role types.NodeRole) []*Handle {
	var out []*Handle
	for _, h := range handles {
		if h.Role == role {
			out = append(out, h)
		}
	}
	return out
}
