package workflow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/node"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/template"
	"github.com/cuemby/burrow/pkg/types"
)

// CassandraManager is the datastore manager name of Cassandra clusters
const CassandraManager = "cassandra"

// CassandraConfig holds the cluster rules and ring tuning of Cassandra
type CassandraConfig struct {
	// ClusterSize is the minimum number of members at creation
	ClusterSize int
	// DataToSeedRatio is the minimum of floor(data nodes / seed nodes)
	DataToSeedRatio int
	// VolumeSupport requires uniform volume sizes when set and forbids them otherwise
	VolumeSupport bool
	Tuning        template.Tuning
}

// SeedRecoverer restores a cluster after a failed seed addition
type SeedRecoverer func(ctx context.Context, clusterID, nodeID string, cause error)

// CassandraOption configures a Cassandra workflow
type CassandraOption func(*Cassandra)

// WithSeedRecoverer installs a recovery hook for failed seed additions
func WithSeedRecoverer(r SeedRecoverer) CassandraOption {
	return func(c *Cassandra) {
		c.recoverSeed = r
	}
}

// Cassandra assembles and grows seed/data clusters
type Cassandra struct {
	deps        Deps
	cfg         CassandraConfig
	recoverSeed SeedRecoverer
	logger      zerolog.Logger
}

// NewCassandra creates the Cassandra workflow
func NewCassandra(deps Deps, cfg CassandraConfig, opts ...CassandraOption) *Cassandra {
	c := &Cassandra{
		deps:   deps,
		cfg:    cfg,
		logger: log.WithComponent("workflow").With().Str("datastore", CassandraManager).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewCassandraFactory returns a registry factory for Cassandra
func NewCassandraFactory(cfg CassandraConfig, opts ...CassandraOption) Factory {
	return func(deps Deps) (ClusterWorkflow, error) {
		return NewCassandra(deps, cfg, opts...), nil
	}
}

// Validate applies the creation rules in order: size, flavor, volumes,
// seed presence, then the data to seed ratio using integer division.
func (c *Cassandra) Validate(specs []types.NodeSpec) error {
	if len(specs) < c.cfg.ClusterSize {
		return &ValidationError{Kind: ErrClusterTooSmall, Detail: fmt.Sprintf("at least %d instances are required", c.cfg.ClusterSize)}
	}
	if len(specs) == 0 {
		return &ValidationError{Kind: ErrClusterTooSmall, Detail: "no instances"}
	}

	for _, s := range specs[1:] {
		if s.FlavorID != specs[0].FlavorID {
			return &ValidationError{Kind: ErrFlavorsNotEqual}
		}
	}

	var sized []int
	for _, s := range specs {
		if s.VolumeSize > 0 {
			sized = append(sized, s.VolumeSize)
		}
	}
	if c.cfg.VolumeSupport {
		if len(sized) != len(specs) {
			return &ValidationError{Kind: ErrVolumeSizeRequired}
		}
		for _, size := range sized[1:] {
			if size != sized[0] {
				return &ValidationError{Kind: ErrVolumeSizesNotEqual}
			}
		}
	} else if len(sized) > 0 {
		return &ValidationError{Kind: ErrVolumeNotSupported}
	}

	seeds, data := 0, 0
	for _, s := range specs {
		if s.Role == types.RoleSeed {
			seeds++
		} else {
			data++
		}
	}
	if seeds == 0 {
		return &ValidationError{Kind: ErrSeedRequired}
	}
	if data/seeds < c.cfg.DataToSeedRatio {
		return &ValidationError{
			Kind:   ErrInvalidRolesRatio,
			Detail: fmt.Sprintf("%d data nodes for %d seeds, minimum ratio is %d", data, seeds, c.cfg.DataToSeedRatio),
		}
	}
	return nil
}

// Create assembles a new cluster. Seeds are configured and brought up one at
// a time before any data node, then data nodes one at a time, then every
// node sets up its ring identity. The action succeeds only when every node
// sees the full membership.
func (c *Cassandra) Create(ctx context.Context, clusterID string) error {
	logger := c.logger.With().Str("cluster_id", clusterID).Logger()

	cluster, err := c.deps.Store.GetCluster(clusterID)
	if err != nil {
		return err
	}
	nodes, err := c.deps.Store.ListNodesByCluster(clusterID)
	if err != nil {
		return fmt.Errorf("failed to list cluster nodes: %w", err)
	}
	if err := c.Validate(types.Specs(nodes)); err != nil {
		return err
	}
	ids := nodeIDs(nodes)
	logger.Debug().Strs("node_ids", ids).Msg("Instances in cluster")

	logger.Debug().Msg("Running server status check")
	if err := node.RequireActive(ctx, c.deps.Inventory, nodes); err != nil {
		return err
	}

	logger.Debug().Msg("Running datastore status check")
	if err := c.deps.Tracker.WaitReady(ctx, clusterID, ids); err != nil {
		return err
	}

	handles, err := c.deps.Resolver.ResolveAll(ctx, nodes)
	if err != nil {
		return err
	}
	seeds, data := splitSeeds(handles)

	base, err := c.deps.Renderer.Render(CassandraManager, template.NewVars(cluster.Name, nodes[0].ID, nil))
	if err != nil {
		return err
	}
	base.SetClusterName(cluster.Name)
	if err := base.SetTuning(c.cfg.Tuning); err != nil {
		return err
	}

	logger.Debug().Int("count", len(seeds)).Msg("Preparing seed nodes")
	for _, seed := range seeds {
		if err := c.push(ctx, base, seed, []string{seed.Address}); err != nil {
			return err
		}
		if err := c.deps.Tracker.WaitReady(ctx, clusterID, []string{seed.ID}); err != nil {
			return err
		}
	}

	seedAddrs := node.Addresses(seeds)
	logger.Debug().Strs("seeds", seedAddrs).Msg("Preparing data nodes")
	for _, d := range data {
		if err := c.push(ctx, base, d, seedAddrs); err != nil {
			return err
		}
		if err := c.deps.Tracker.WaitReady(ctx, clusterID, []string{d.ID}); err != nil {
			return err
		}
		if err := d.Agent.ResetLocalState(ctx, c.deps.Timeouts.StateReset); err != nil {
			return err
		}
	}

	logger.Debug().Msg("Setting up cluster tokens for each cluster node")
	for _, h := range handles {
		if err := c.setupIdentity(ctx, clusterID, h); err != nil {
			return err
		}
	}

	logger.Debug().Msg("Polling cluster node datastore statuses")
	if err := c.deps.Tracker.WaitReady(ctx, clusterID, ids); err != nil {
		return err
	}

	if err := verifyMembership(ctx, c.deps, clusterID, handles, node.Addresses(handles)); err != nil {
		return err
	}
	return clearTasks(c.deps, ids)
}

// AddRole joins a provisioned node as a data or seed node. Its configuration
// is copied from a live member of the same role, and adding a seed also
// pushes the new seed list to every existing data node.
func (c *Cassandra) AddRole(ctx context.Context, role types.NodeRole, clusterID, nodeID string) error {
	if role != types.RoleData && role != types.RoleSeed {
		return fmt.Errorf("cassandra clusters have no %q role", role)
	}
	logger := c.logger.With().Str("cluster_id", clusterID).Str("node_id", nodeID).Str("role", string(role)).Logger()

	nodes, err := c.deps.Store.ListNodesByCluster(clusterID)
	if err != nil {
		return fmt.Errorf("failed to list cluster nodes: %w", err)
	}
	var existing []string
	var added *types.Node
	for _, n := range nodes {
		if n.ID == nodeID {
			added = n
			continue
		}
		existing = append(existing, n.ID)
	}
	if added == nil {
		return fmt.Errorf("node %s of cluster %s: %w", nodeID, clusterID, storage.ErrNotFound)
	}
	if added.Role != role {
		return fmt.Errorf("node %s has role %q, not %q", nodeID, added.Role, role)
	}
	if len(existing) == 0 {
		return fmt.Errorf("cluster %s has no members to copy configuration from", clusterID)
	}

	logger.Debug().Msg("Running server status check")
	if err := node.RequireActive(ctx, c.deps.Inventory, nodes); err != nil {
		return err
	}

	logger.Debug().Msg("Running service status checks for all instances")
	if err := c.deps.Tracker.WaitReady(ctx, clusterID, existing); err != nil {
		return err
	}
	if err := c.deps.Tracker.WaitReady(ctx, clusterID, []string{nodeID}); err != nil {
		return err
	}

	handles, err := c.deps.Resolver.ResolveAll(ctx, nodes)
	if err != nil {
		return err
	}
	newHandle := findHandle(handles, nodeID)
	seedAddrs := node.Addresses(node.WithRole(handles, types.RoleSeed))

	tmpl := templateNode(handles, role, nodeID)
	logger.Debug().Str("template_node", tmpl.ID).Msg("Getting configuration template from cluster node")
	raw, err := tmpl.Agent.GetConfig(ctx, c.deps.Timeouts.ConfigRetrieval)
	if err != nil {
		return err
	}
	doc, err := template.ParseDocument(raw)
	if err != nil {
		return err
	}
	doc.SetAddresses(newHandle.Address)
	doc.StripToken()
	if err := doc.SetSeeds(seedAddrs); err != nil {
		return err
	}

	logger.Debug().Msg("Updating new node configuration and rebooting")
	if err := c.apply(ctx, doc, newHandle); err != nil {
		return err
	}
	if err := c.deps.Tracker.WaitReady(ctx, clusterID, []string{nodeID}); err != nil {
		return err
	}

	logger.Debug().Msg("Setting up tokens on new node")
	if err := c.setupIdentity(ctx, clusterID, newHandle); err != nil {
		return err
	}

	if role == types.RoleSeed {
		logger.Debug().Strs("seeds", seedAddrs).Msg("Propagating seed list to data nodes")
		for _, h := range handles {
			if h.ID == nodeID || h.Role == types.RoleSeed {
				continue
			}
			if err := c.updateSeeds(ctx, h, seedAddrs); err != nil {
				return err
			}
			if err := c.deps.Tracker.WaitReady(ctx, clusterID, []string{h.ID}); err != nil {
				return err
			}
		}
		logger.Debug().Msg("Running service status checks for all instances")
		if err := c.deps.Tracker.WaitReady(ctx, clusterID, node.IDs(handles)); err != nil {
			return err
		}
	}

	logger.Debug().Msg("Verifying that cluster is running")
	if err := verifyMembership(ctx, c.deps, clusterID, handles, node.Addresses(handles)); err != nil {
		return err
	}

	logger.Debug().Msg("Resetting new node's local state to force it to re-sync data")
	if err := newHandle.Agent.ResetLocalState(ctx, c.deps.Timeouts.StateReset); err != nil {
		return err
	}
	return clearTasks(c.deps, []string{nodeID})
}

// RecoverFunc returns the seed recovery hook, or nil when none is installed
// or the role is not seed
func (c *Cassandra) RecoverFunc(role types.NodeRole, clusterID, nodeID string) func(ctx context.Context, cause error) {
	if role != types.RoleSeed || c.recoverSeed == nil {
		return nil
	}
	return func(ctx context.Context, cause error) {
		c.recoverSeed(ctx, clusterID, nodeID, cause)
	}
}

// push specializes base for h, applies it and reboots h
func (c *Cassandra) push(ctx context.Context, base template.Document, h *node.Handle, seeds []string) error {
	doc, err := base.Clone()
	if err != nil {
		return err
	}
	if err := doc.SetSeeds(seeds); err != nil {
		return err
	}
	doc.SetAddresses(h.Address)
	return c.apply(ctx, doc, h)
}

func (c *Cassandra) apply(ctx context.Context, doc template.Document, h *node.Handle) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := h.Agent.ApplyConfig(ctx, data, c.deps.Timeouts.Default); err != nil {
		return err
	}
	return reboot(ctx, c.deps, h)
}

// updateSeeds rewrites the seed list of h's live configuration and reboots it
func (c *Cassandra) updateSeeds(ctx context.Context, h *node.Handle, seeds []string) error {
	raw, err := h.Agent.GetConfig(ctx, c.deps.Timeouts.ConfigRetrieval)
	if err != nil {
		return err
	}
	doc, err := template.ParseDocument(raw)
	if err != nil {
		return err
	}
	if err := doc.SetSeeds(seeds); err != nil {
		return fmt.Errorf("node %s: %w", h.ID, err)
	}
	return c.apply(ctx, doc, h)
}

func (c *Cassandra) setupIdentity(ctx context.Context, clusterID string, h *node.Handle) error {
	token, err := h.Agent.SetupIdentity(ctx, c.deps.Timeouts.IdentitySetup)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("node_id", h.ID).Str("token", token).Msg("Node identity set up")
	if err := reboot(ctx, c.deps, h); err != nil {
		return err
	}
	return c.deps.Tracker.WaitReady(ctx, clusterID, []string{h.ID})
}

// splitSeeds separates seeds from every other member, preserving order
func splitSeeds(handles []*node.Handle) (seeds, data []*node.Handle) {
	for _, h := range handles {
		if h.Role == types.RoleSeed {
			seeds = append(seeds, h)
		} else {
			data = append(data, h)
		}
	}
	return seeds, data
}

func findHandle(handles []*node.Handle, id string) *node.Handle {
	for _, h := range handles {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// templateNode picks an existing member to copy configuration from,
// preferring one with the same role
func templateNode(handles []*node.Handle, role types.NodeRole, exclude string) *node.Handle {
	var fallback *node.Handle
	for _, h := range handles {
		if h.ID == exclude {
			continue
		}
		if h.Role == role {
			return h
		}
		if fallback == nil {
			fallback = h
		}
	}
	return fallback
}
