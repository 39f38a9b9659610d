// Package config loads the configuration bundle spec.md §6 names: platform
// endpoints, the secrets backend selector, IP pools, and the tunables for
// the registry/orchestrator/overseer/ssh subsystems. Grounded on the
// teacher's internal/config/config.go precedence ladder (.env file loaded
// first via godotenv, then a YAML file, environment variables always
// win over file-sourced values for secret references).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ntounix-prog/glassdome/internal/secretsctx"
)

// PlatformConfig is one entry of the required `platforms` list (spec.md §6).
type PlatformConfig struct {
	ID             string `yaml:"id"`
	Kind           string `yaml:"kind"`
	Endpoint       string `yaml:"endpoint"`
	CredentialsRef string `yaml:"credentials_ref"`
	DefaultNode    string `yaml:"default_node"`
	DefaultRegion  string `yaml:"default_region"`
	DefaultStorage string `yaml:"default_storage"`
	DefaultDatastore string `yaml:"default_datastore"`
	VerifyTLS      *bool  `yaml:"verify_tls"`
}

// VerifyTLSOrDefault returns VerifyTLS, defaulting to true when unset (spec.md §6).
func (p PlatformConfig) VerifyTLSOrDefault() bool {
	if p.VerifyTLS == nil {
		return true
	}
	return *p.VerifyTLS
}

// IPPoolConfig mirrors ippool.Config's YAML shape.
type IPPoolConfig struct {
	CIDR       string   `yaml:"cidr"`
	RangeStart string   `yaml:"range_start"`
	RangeEnd   string   `yaml:"range_end"`
	Gateway    string   `yaml:"gateway"`
	DNS        []string `yaml:"dns"`
}

// RegistryConfig holds spec.md §6 `registry.*` options.
type RegistryConfig struct {
	PersistencePath string `yaml:"persistence_path"`
	EventBusKind    string `yaml:"event_bus_kind"`
	RedisAddr       string `yaml:"redis_addr"`
	PollIntervals   struct {
		Lab  time.Duration `yaml:"lab"`
		VM   time.Duration `yaml:"vm"`
		Host time.Duration `yaml:"host"`
	} `yaml:"poll_intervals"`
}

// OrchestratorConfig holds spec.md §6 `orchestrator.*` options.
type OrchestratorConfig struct {
	MaxConcurrency struct {
		VM         int `yaml:"vm"`
		PostConfig int `yaml:"postconfig"`
	} `yaml:"max_concurrency"`
	Retry struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		BaseDelay    time.Duration `yaml:"base_delay_s"`
		CapDelay     time.Duration `yaml:"cap_delay_s"`
	} `yaml:"retry"`
	TaskTimeoutDefault time.Duration `yaml:"task_timeout_default_s"`
}

// OverseerConfig holds spec.md §6 `overseer.*` options.
type OverseerConfig struct {
	LoopIntervals struct {
		Monitor time.Duration `yaml:"monitor"`
		Sync    time.Duration `yaml:"sync"`
		Health  time.Duration `yaml:"health"`
	} `yaml:"loop_intervals"`
	MassActionCap    int           `yaml:"mass_action_cap"`
	FreshnessHorizon time.Duration `yaml:"freshness_horizon_s"`
	SessionPath      string        `yaml:"session_path"`
}

// SSHConfig holds spec.md §6 `ssh.*` options.
type SSHConfig struct {
	ConnectTimeout  time.Duration `yaml:"connect_timeout_s"`
	SessionTTL      time.Duration `yaml:"session_ttl_s"`
	PoolSizePerHost int           `yaml:"pool_size_per_host"`
}

// Config is the top-level configuration bundle (spec.md §6).
type Config struct {
	Platforms     []PlatformConfig `yaml:"platforms"`
	SecretsBackend struct {
		Kind        string `yaml:"kind"`
		VaultAddr   string `yaml:"vault_address"`
		VaultRoleID string `yaml:"vault_role_id"`
		VaultSecretID string `yaml:"vault_secret_id"`
		SkipVerify  bool   `yaml:"skip_verify"`
	} `yaml:"secrets_backend"`
	IPPools         []IPPoolConfig     `yaml:"ip_pools"`
	Registry        RegistryConfig     `yaml:"registry"`
	Orchestrator    OrchestratorConfig `yaml:"orchestrator"`
	Overseer        OverseerConfig     `yaml:"overseer"`
	SSH             SSHConfig          `yaml:"ssh"`
	KnowledgeIndexPath string          `yaml:"knowledge_index_path"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
}

// WithDefaults fills every zero-valued tunable with the spec-named default,
// so a config file only needs to state what it overrides.
func (c *Config) WithDefaults() *Config {
	if c.Registry.EventBusKind == "" {
		c.Registry.EventBusKind = "in-memory"
	}
	if c.Registry.PersistencePath == "" {
		c.Registry.PersistencePath = "./data/registry"
	}
	if c.Registry.PollIntervals.Lab == 0 {
		c.Registry.PollIntervals.Lab = time.Second
	}
	if c.Registry.PollIntervals.VM == 0 {
		c.Registry.PollIntervals.VM = 10 * time.Second
	}
	if c.Registry.PollIntervals.Host == 0 {
		c.Registry.PollIntervals.Host = 30 * time.Second
	}
	if c.Orchestrator.MaxConcurrency.VM == 0 {
		c.Orchestrator.MaxConcurrency.VM = 8
	}
	if c.Orchestrator.MaxConcurrency.PostConfig == 0 {
		c.Orchestrator.MaxConcurrency.PostConfig = 4
	}
	if c.Orchestrator.Retry.MaxAttempts == 0 {
		c.Orchestrator.Retry.MaxAttempts = 2
	}
	if c.Orchestrator.Retry.BaseDelay == 0 {
		c.Orchestrator.Retry.BaseDelay = 2 * time.Second
	}
	if c.Orchestrator.Retry.CapDelay == 0 {
		c.Orchestrator.Retry.CapDelay = 60 * time.Second
	}
	if c.Orchestrator.TaskTimeoutDefault == 0 {
		c.Orchestrator.TaskTimeoutDefault = 5 * time.Minute
	}
	if c.Overseer.LoopIntervals.Monitor == 0 {
		c.Overseer.LoopIntervals.Monitor = 30 * time.Second
	}
	if c.Overseer.LoopIntervals.Sync == 0 {
		c.Overseer.LoopIntervals.Sync = 60 * time.Second
	}
	if c.Overseer.LoopIntervals.Health == 0 {
		c.Overseer.LoopIntervals.Health = 300 * time.Second
	}
	if c.Overseer.MassActionCap == 0 {
		c.Overseer.MassActionCap = 5
	}
	if c.Overseer.FreshnessHorizon == 0 {
		c.Overseer.FreshnessHorizon = 60 * time.Second
	}
	if c.Overseer.SessionPath == "" {
		c.Overseer.SessionPath = "./data/overseer-session.json"
	}
	if c.SSH.ConnectTimeout == 0 {
		c.SSH.ConnectTimeout = 10 * time.Second
	}
	if c.SSH.SessionTTL == 0 {
		c.SSH.SessionTTL = 10 * time.Minute
	}
	if c.SSH.PoolSizePerHost == 0 {
		c.SSH.PoolSizePerHost = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	return c
}

// Validate enforces spec.md §6's "at least one platform must be configured".
func (c *Config) Validate() error {
	if len(c.Platforms) == 0 {
		return fmt.Errorf("config: at least one platform must be configured")
	}
	seen := make(map[string]bool, len(c.Platforms))
	for _, p := range c.Platforms {
		if p.ID == "" {
			return fmt.Errorf("config: platform entry missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate platform id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// Load reads a .env file (if present, ignored if absent) then the YAML
// bundle at path, applying defaults and validating the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SecretsConfig translates the loaded secrets_backend section into
// secretsctx.Config.
func (c *Config) SecretsConfig() secretsctx.Config {
	return secretsctx.Config{
		Backend:       secretsctx.Backend(c.SecretsBackend.Kind),
		VaultAddr:     c.SecretsBackend.VaultAddr,
		VaultRoleID:   c.SecretsBackend.VaultRoleID,
		VaultSecretID: c.SecretsBackend.VaultSecretID,
		SkipVerify:    c.SecretsBackend.SkipVerify,
	}
}
