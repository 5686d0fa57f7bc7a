package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/node"
	"github.com/cuemby/burrow/pkg/readiness"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/template"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task manager",
	Long: `Run the task manager: the gRPC API, the health server and the
cluster actions they start.

Settings are read from BURROW_* environment variables. Flags override
the matching variable.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "", "Data directory for cluster state (BURROW_DATA_DIR)")
	serveCmd.Flags().String("api-addr", "", "Address for gRPC API (BURROW_API_ADDR)")
	serveCmd.Flags().String("api-socket", "", "Unix socket for the read-only API (BURROW_API_SOCKET)")
	serveCmd.Flags().String("health-addr", "", "Address for health and metrics (BURROW_HEALTH_ADDR)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (BURROW_LOG_LEVEL)")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Time running actions get to finish on shutdown")
}

func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"data-dir":    &settings.DataDir,
		"api-addr":    &settings.APIAddr,
		"api-socket":  &settings.APISocket,
		"health-addr": &settings.HealthAddr,
		"log-level":   &settings.LogLevel,
	}
	for name, field := range overrides {
		if cmd.Flags().Changed(name) {
			*field, _ = cmd.Flags().GetString(name)
		}
	}
	return settings, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	log.Init(log.Config{
		Level:      log.Level(settings.LogLevel),
		JSONOutput: settings.LogJSON,
	})
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	if err := os.MkdirAll(settings.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewBoltStore(settings.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "")

	pool := agent.NewPool()
	defer pool.Close()

	renderer, err := template.NewFileRenderer(settings.Cassandra.TemplateDir)
	if err != nil {
		return err
	}

	statuses := types.ServiceStatuses()
	inventory := node.NewStoreInventory(store)
	deps := workflow.Deps{
		Store:        store,
		Statuses:     statuses,
		Inventory:    inventory,
		Resolver:     node.NewResolver(inventory, pool),
		Tracker:      readiness.NewTracker(store, statuses, settings.ReadinessConfig()),
		Renderer:     renderer,
		Timeouts:     settings.AgentTimeouts(),
		RebootSettle: settings.RebootSettle,
	}
	registry, err := workflow.NewRegistry(deps, map[string]workflow.Factory{
		workflow.CassandraManager: workflow.NewCassandraFactory(workflow.CassandraConfig{
			ClusterSize:     settings.Cassandra.ClusterSize,
			DataToSeedRatio: settings.Cassandra.DataToSeedRatio,
			VolumeSupport:   settings.Cassandra.VolumeSupport,
			Tuning: template.Tuning{
				NumTokens:      settings.Cassandra.NumTokens,
				Partitioner:    settings.Cassandra.Partitioner,
				EndpointSnitch: settings.Cassandra.EndpointSnitch,
			},
		}),
	})
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker.Subscribe())
	if err := metrics.RegisterEventsDropped(broker.Dropped); err != nil {
		return fmt.Errorf("failed to register event metrics: %w", err)
	}

	mgr := taskmanager.NewManager(store, registry, broker, taskmanager.Config{
		ActionTimeout:      settings.ActionTimeout,
		UpdateStatusOnFail: settings.UpdateStatusOnFail,
	})
	if _, err := mgr.RecoverInterrupted(); err != nil {
		return fmt.Errorf("failed to release interrupted clusters: %w", err)
	}
	metrics.RegisterComponent("taskmanager", true, "")

	collector := metrics.NewCollector(store, settings.CollectInterval)
	collector.Start()
	defer collector.Stop()

	errCh := make(chan error, 3)

	apiServer := api.NewServer(mgr, api.Options{
		RateLimit: settings.APIRateLimit,
		Burst:     settings.APIBurst,
	})
	go func() {
		if err := apiServer.Start(settings.APIAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	if settings.APISocket != "" {
		go func() {
			if err := apiServer.StartUnix(settings.APISocket); err != nil {
				errCh <- fmt.Errorf("API socket error: %w", err)
			}
		}()
	}
	metrics.RegisterComponent("api", true, "")

	healthServer := api.NewHealthServer(store)
	go func() {
		if err := healthServer.Start(settings.HealthAddr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()

	logger.Info().
		Str("api", settings.APIAddr).
		Str("health", settings.HealthAddr).
		Str("data_dir", settings.DataDir).
		Strs("managers", registry.Managers()).
		Msg("Task manager is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("Shutting down after listener failure")
	}

	metrics.UpdateComponent("api", false, "shutting down")
	apiServer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Cluster actions were canceled")
	}
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop health server")
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}

// logEvents writes every lifecycle event to the log until the broker stops
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		entry := logger.Info()
		switch ev.Type {
		case events.EventActionFailed, events.EventActionTimedOut, events.EventNodeErrored:
			entry = logger.Warn()
		}
		entry.
			Str("event", string(ev.Type)).
			Str("cluster_id", ev.ClusterID).
			Str("node_id", ev.NodeID).
			Str("action", ev.Action).
			Str("message", ev.Message).
			Msg("Cluster event")
	}
}
