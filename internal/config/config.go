package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the top-level configuration for an orchestrator or agent process.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	LLM           LLMConfig           `yaml:"llm"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`

	Fabric         FabricConfig         `yaml:"fabric"`
	Registry       RegistryConfig       `yaml:"registry"`
	ContextEngine  ContextEngineConfig  `yaml:"context_engine"`
	PRP            PRPConfig            `yaml:"prp"`
	SupervisorGate SupervisorGateConfig `yaml:"supervisor_gate"`
	Runtime        RuntimeConfig        `yaml:"runtime"`
	Workspace      WorkspaceConfig      `yaml:"workspace"`
}

// WorkspaceConfig names the on-disk files an agent process bootstraps and
// loads persona/context from at startup (AGENTS.md, SOUL.md, USER.md,
// IDENTITY.md, TOOLS.md, MEMORY.md), consumed by internal/workspace.
type WorkspaceConfig struct {
	Path         string `yaml:"path"`
	AgentsFile   string `yaml:"agents_file"`
	SoulFile     string `yaml:"soul_file"`
	UserFile     string `yaml:"user_file"`
	IdentityFile string `yaml:"identity_file"`
	ToolsFile    string `yaml:"tools_file"`
	MemoryFile   string `yaml:"memory_file"`
}

// FabricConfig selects and configures the messaging fabric transport.
type FabricConfig struct {
	// Backend selects the transport: "memory" or "redis".
	Backend string `yaml:"backend"`

	// RedisAddr is the address of the Redis server backing mailbox streams.
	RedisAddr string `yaml:"redis_addr"`

	// RedisDB selects the Redis logical database.
	RedisDB int `yaml:"redis_db"`

	// MailboxPrefix namespaces mailbox stream keys. Default: "qc:mailbox/".
	MailboxPrefix string `yaml:"mailbox_prefix"`
}

// RegistryConfig configures the agent registry REST surface and its store.
type RegistryConfig struct {
	// BaseURL is the registry's HTTP base URL, used by runtime processes on startup.
	BaseURL string `yaml:"registry_base_url"`

	// Store selects the persistence backend: "memory", "sqlite", or "postgres".
	Store string `yaml:"store"`

	// DSN is the store connection string (sqlite path or postgres DSN).
	DSN string `yaml:"dsn"`

	// AgentTimeout is the duration after which a missed heartbeat marks an agent unhealthy.
	AgentTimeout time.Duration `yaml:"agent_timeout"`

	// StartupTimeout bounds how long a process waits for successful registration before
	// treating the registry as unreachable (a Fatal condition).
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// HeartbeatInterval is how often a registered process sends a heartbeat.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// SweepInterval is how often the registry sweeps for stale/expired records.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ContextEngineConfig configures working-memory scoring, curation, and reset.
type ContextEngineConfig struct {
	// TargetContextSize is the token budget the curator aims to keep segments under.
	TargetContextSize int `yaml:"target_context_size"`

	// OptimalContextSize is the token budget below which the curator takes no action.
	OptimalContextSize int `yaml:"optimal_context_size"`

	// ContextWindowMax is the hard ceiling enforced by truncation/summarization.
	ContextWindowMax int `yaml:"context_window_max"`

	// QualityThreshold is the minimum six-axis quality score a segment must retain.
	QualityThreshold float64 `yaml:"quality_threshold"`

	// MaxToolPayloadChars bounds tool output before externalization.
	MaxToolPayloadChars int `yaml:"max_tool_payload_chars"`

	// ReducerTargetTokens is the token target the curator compresses segments toward.
	ReducerTargetTokens int `yaml:"reducer_target_tokens"`

	// ExternalizeWriteEnabled toggles writing externalized segments to the blobstore.
	ExternalizeWriteEnabled bool `yaml:"externalize_write_enabled"`

	// ExternalMemoryPath is the local filesystem root for the default blobstore.
	ExternalMemoryPath string `yaml:"external_memory_path"`

	ContextReset ContextResetConfig `yaml:"context_reset"`
}

// ContextResetConfig configures the context-reset (archive+summarize+truncate) path.
type ContextResetConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Root           string `yaml:"root"`
	TriggerTokens  int    `yaml:"trigger_tokens"`
	KeepTurns      int    `yaml:"keep_turns"`
	MinUserTurns   int    `yaml:"min_user_turns"`
}

// PRPConfig configures the Perpetual Refinement Protocol state machine.
type PRPConfig struct {
	ExhaustionPredictor ExhaustionPredictorConfig `yaml:"exhaustion_predictor"`
}

// ExhaustionPredictorConfig configures the PRP exhaustion predictor.
type ExhaustionPredictorConfig struct {
	// Threshold is the predicted-exhaustion score above which escalation is recommended.
	Threshold float64 `yaml:"threshold"`
}

// SupervisorGateConfig configures the supervisor gate's schema strictness.
type SupervisorGateConfig struct {
	// StrictSchema rejects rejection/approval payloads missing required fields
	// instead of defaulting them.
	StrictSchema bool `yaml:"strict_schema"`
}

// RuntimeConfig configures the per-chat runtime loop.
type RuntimeConfig struct {
	// Profile selects process role: "orchestrator" or "agent".
	Profile string `yaml:"profile"`

	Autonomous AutonomousConfig `yaml:"autonomous"`
}

// AutonomousConfig bounds unattended (autonomous) operation.
type AutonomousConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	MaxHours      int `yaml:"max_hours"`
	MaxAgents     int `yaml:"max_agents"`
}

// Load reads, expands, decodes, defaults, and validates a configuration file.
// $include directives are resolved relative to the including file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)
	applyFabricDefaults(&cfg.Fabric)
	applyRegistryDefaults(&cfg.Registry)
	applyContextEngineDefaults(&cfg.ContextEngine)
	applyPRPDefaults(&cfg.PRP)
	applyRuntimeDefaults(&cfg.Runtime)
	applyWorkspaceDefaults(&cfg.Workspace)
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Path == "" {
		cfg.Path = "."
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyFabricDefaults(cfg *FabricConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.MailboxPrefix == "" {
		cfg.MailboxPrefix = "qc:mailbox/"
	}
}

func applyRegistryDefaults(cfg *RegistryConfig) {
	if cfg.Store == "" {
		cfg.Store = "memory"
	}
	if cfg.AgentTimeout == 0 {
		cfg.AgentTimeout = 90 * time.Second
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 15 * time.Second
	}
}

func applyContextEngineDefaults(cfg *ContextEngineConfig) {
	if cfg.TargetContextSize == 0 {
		cfg.TargetContextSize = 100_000
	}
	if cfg.OptimalContextSize == 0 {
		cfg.OptimalContextSize = 60_000
	}
	if cfg.ContextWindowMax == 0 {
		cfg.ContextWindowMax = 180_000
	}
	if cfg.QualityThreshold == 0 {
		cfg.QualityThreshold = 0.35
	}
	if cfg.MaxToolPayloadChars == 0 {
		cfg.MaxToolPayloadChars = 8_000
	}
	if cfg.ReducerTargetTokens == 0 {
		cfg.ReducerTargetTokens = 2_000
	}
	if cfg.ExternalMemoryPath == "" {
		cfg.ExternalMemoryPath = "./data/external_memory"
	}
	if cfg.ContextReset.Root == "" {
		cfg.ContextReset.Root = "./data/context_reset"
	}
	if cfg.ContextReset.TriggerTokens == 0 {
		cfg.ContextReset.TriggerTokens = cfg.ContextWindowMax
	}
	if cfg.ContextReset.KeepTurns == 0 {
		cfg.ContextReset.KeepTurns = 4
	}
	if cfg.ContextReset.MinUserTurns == 0 {
		cfg.ContextReset.MinUserTurns = 2
	}
}

func applyPRPDefaults(cfg *PRPConfig) {
	if cfg.ExhaustionPredictor.Threshold == 0 {
		cfg.ExhaustionPredictor.Threshold = 0.7
	}
}

func applyRuntimeDefaults(cfg *RuntimeConfig) {
	if cfg.Profile == "" {
		cfg.Profile = "orchestrator"
	}
	if cfg.Autonomous.MaxIterations == 0 {
		cfg.Autonomous.MaxIterations = 50
	}
	if cfg.Autonomous.MaxHours == 0 {
		cfg.Autonomous.MaxHours = 4
	}
	if cfg.Autonomous.MaxAgents == 0 {
		cfg.Autonomous.MaxAgents = 8
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEXUS_REGISTRY_BASE_URL"); v != "" {
		cfg.Registry.BaseURL = v
	}
	if v := os.Getenv("NEXUS_FABRIC_BACKEND"); v != "" {
		cfg.Fabric.Backend = v
	}
	if v := os.Getenv("NEXUS_REDIS_ADDR"); v != "" {
		cfg.Fabric.RedisAddr = v
	}
	if v := os.Getenv("NEXUS_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("NEXUS_ANTHROPIC_API_KEY"); v != "" {
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		p := cfg.LLM.Providers["anthropic"]
		p.APIKey = v
		cfg.LLM.Providers["anthropic"] = p
	}
	if v := os.Getenv("NEXUS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NEXUS_RUNTIME_PROFILE"); v != "" {
		cfg.Runtime.Profile = v
	}
}

// ConfigValidationError describes a rejected configuration value.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

func validateConfig(cfg *Config) error {
	switch cfg.Fabric.Backend {
	case "memory", "redis":
	default:
		return &ConfigValidationError{Field: "fabric.backend", Reason: "must be \"memory\" or \"redis\""}
	}
	if cfg.Fabric.Backend == "redis" && strings.TrimSpace(cfg.Fabric.RedisAddr) == "" {
		return &ConfigValidationError{Field: "fabric.redis_addr", Reason: "required when fabric.backend is \"redis\""}
	}

	switch cfg.Registry.Store {
	case "memory", "sqlite", "postgres":
	default:
		return &ConfigValidationError{Field: "registry.store", Reason: "must be \"memory\", \"sqlite\", or \"postgres\""}
	}
	if cfg.Registry.Store != "memory" && strings.TrimSpace(cfg.Registry.DSN) == "" {
		return &ConfigValidationError{Field: "registry.dsn", Reason: "required for non-memory stores"}
	}

	switch cfg.Runtime.Profile {
	case "orchestrator", "agent":
	default:
		return &ConfigValidationError{Field: "runtime.profile", Reason: "must be \"orchestrator\" or \"agent\""}
	}

	if cfg.ContextEngine.OptimalContextSize > cfg.ContextEngine.TargetContextSize {
		return &ConfigValidationError{Field: "context_engine.optimal_context_size", Reason: "must not exceed target_context_size"}
	}
	if cfg.ContextEngine.TargetContextSize > cfg.ContextEngine.ContextWindowMax {
		return &ConfigValidationError{Field: "context_engine.target_context_size", Reason: "must not exceed context_window_max"}
	}

	return nil
}
