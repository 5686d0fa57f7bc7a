package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/readiness"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "BURROW"

// Settings holds all burrow configuration
type Settings struct {
	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"false"`

	// Storage
	DataDir string `envconfig:"DATA_DIR" default:"/var/lib/burrow"`

	// Listeners
	APIAddr    string `envconfig:"API_ADDR" default:"127.0.0.1:8080"`
	HealthAddr string `envconfig:"HEALTH_ADDR" default:"127.0.0.1:9090"`
	APISocket  string `envconfig:"API_SOCKET" default:""` // Read-only listener, disabled when empty

	// API request budget shared by all callers
	APIRateLimit float64 `envconfig:"API_RATE_LIMIT" default:"20"`
	APIBurst     int     `envconfig:"API_BURST" default:"40"`

	// Readiness polling. A batch of n nodes gets n * UsageTimeout.
	UsageTimeout   time.Duration `envconfig:"USAGE_TIMEOUT" default:"900s"`
	UsageSleepTime time.Duration `envconfig:"USAGE_SLEEP_TIME" default:"5s"`

	// Time given to a restarted datastore before its status is polled
	RebootSettle time.Duration `envconfig:"REBOOT_SETTLE" default:"10s"`

	// Mark nodes BUILDING_ERROR_SERVER when an action fails
	UpdateStatusOnFail bool `envconfig:"UPDATE_STATUS_ON_FAIL" default:"true"`

	// Action deadline = UsageTimeout * node count * ActionTimeoutMultiplier
	ActionTimeoutMultiplier int `envconfig:"ACTION_TIMEOUT_MULTIPLIER" default:"2"`

	// Metrics collector refresh interval
	CollectInterval time.Duration `envconfig:"COLLECT_INTERVAL" default:"15s"`

	Agent     AgentTimeouts `envconfig:"AGENT"`
	Cassandra Cassandra     `envconfig:"CASSANDRA"`
}

// AgentTimeouts are the per-call agent budgets
type AgentTimeouts struct {
	Default         time.Duration `envconfig:"TIMEOUT" default:"60s"`
	Verification    time.Duration `envconfig:"VERIFICATION_TIMEOUT" default:"120s"`
	IdentitySetup   time.Duration `envconfig:"IDENTITY_SETUP_TIMEOUT" default:"60s"`
	ConfigRetrieval time.Duration `envconfig:"CONFIG_RETRIEVAL_TIMEOUT" default:"30s"`
	StateReset      time.Duration `envconfig:"STATE_RESET_TIMEOUT" default:"300s"`
}

// Cassandra holds the cassandra cluster settings
type Cassandra struct {
	ClusterSize     int    `envconfig:"CLUSTER_SIZE" default:"3"`
	DataToSeedRatio int    `envconfig:"DATA_TO_SEED_RATIO" default:"1"`
	VolumeSupport   bool   `envconfig:"VOLUME_SUPPORT" default:"true"`
	NumTokens       int    `envconfig:"NUM_TOKENS" default:"256"`
	Partitioner     string `envconfig:"PARTITIONER" default:"org.apache.cassandra.dht.Murmur3Partitioner"`
	EndpointSnitch  string `envconfig:"ENDPOINT_SNITCH" default:"SimpleSnitch"`
	TemplateDir     string `envconfig:"TEMPLATE_DIR" default:""` // Empty uses the built-in templates
}

// Load creates a new Settings instance from environment variables
func Load() (*Settings, error) {
	s := &Settings{}
	if err := envconfig.Process(EnvPrefix, s); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings for values no component can work with
func (s *Settings) Validate() error {
	var errs []error
	if s.UsageTimeout <= 0 {
		errs = append(errs, errors.New("usage timeout must be positive"))
	}
	if s.UsageSleepTime <= 0 {
		errs = append(errs, errors.New("usage sleep time must be positive"))
	}
	if s.UsageSleepTime > s.UsageTimeout {
		errs = append(errs, errors.New("usage sleep time must not exceed usage timeout"))
	}
	if s.ActionTimeoutMultiplier < 2 {
		errs = append(errs, errors.New("action timeout multiplier must be at least 2"))
	}
	if s.RebootSettle < 0 {
		errs = append(errs, errors.New("reboot settle must not be negative"))
	}
	if s.APIRateLimit <= 0 || s.APIBurst < 1 {
		errs = append(errs, errors.New("api rate limit and burst must be positive"))
	}
	if s.Agent.Default <= 0 || s.Agent.Verification <= 0 || s.Agent.IdentitySetup <= 0 ||
		s.Agent.ConfigRetrieval <= 0 || s.Agent.StateReset <= 0 {
		errs = append(errs, errors.New("agent timeouts must be positive"))
	}
	if s.Cassandra.ClusterSize < 1 {
		errs = append(errs, errors.New("cassandra cluster size must be at least 1"))
	}
	if s.Cassandra.DataToSeedRatio < 0 {
		errs = append(errs, errors.New("cassandra data to seed ratio must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// AgentTimeouts returns the per-call budgets for agent clients
func (s *Settings) AgentTimeouts() agent.Timeouts {
	return agent.Timeouts{
		Default:         s.Agent.Default,
		Verification:    s.Agent.Verification,
		IdentitySetup:   s.Agent.IdentitySetup,
		ConfigRetrieval: s.Agent.ConfigRetrieval,
		StateReset:      s.Agent.StateReset,
	}
}

// ReadinessConfig returns the readiness tracker settings
func (s *Settings) ReadinessConfig() readiness.Config {
	return readiness.Config{
		Interval:           s.UsageSleepTime,
		UsageTimeout:       s.UsageTimeout,
		UpdateStatusOnFail: s.UpdateStatusOnFail,
	}
}

// ActionTimeout returns the guard deadline for an action touching n nodes
func (s *Settings) ActionTimeout(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return s.UsageTimeout * time.Duration(n) * time.Duration(s.ActionTimeoutMultiplier)
}
