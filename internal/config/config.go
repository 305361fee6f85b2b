// Package config loads the runtime's YAML configuration: LLM providers,
// agent definitions, persistence DSNs, container defaults, and intelligence
// tuning. The runtime is config-first the way the teacher's own config
// package is: a single YAML document expanded against the environment and
// decoded into typed structs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Version string `yaml:"version,omitempty"`
	Name    string `yaml:"name,omitempty"`

	Persistence PersistenceConfig    `yaml:"persistence"`
	Server      ServerConfig         `yaml:"server"`
	Providers   map[string]Provider  `yaml:"providers"`
	Agents      map[string]AgentSpec `yaml:"agents"`
	Container   ContainerConfig      `yaml:"container"`
	Intelligence IntelligenceConfig  `yaml:"intelligence"`
}

// PersistenceConfig describes the two logical databases of §4.1.
type PersistenceConfig struct {
	Driver        string `yaml:"driver"` // sqlite3 | postgres | mysql
	SystemDSN     string `yaml:"system_dsn"`
	UserDSNFormat string `yaml:"user_dsn_format"` // %s substituted with user id
	// ContainersDSN backs the container lifecycle manager's store. Containers
	// are a host-level, process-wide resource the manager's monitor and
	// emergency-cleanup sweeps must see in aggregate across every user, so
	// they get one dedicated database (schema per persistence.UserMigrations)
	// rather than being split across each principal's per-user database.
	ContainersDSN string `yaml:"containers_dsn"`
	MaxConns      int    `yaml:"max_conns"`
	MaxIdle       int    `yaml:"max_idle"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// ServerConfig describes the ICC HTTP surface and the gRPC session service.
type ServerConfig struct {
	ICCAddr      string        `yaml:"icc_addr"`
	GRPCAddr     string        `yaml:"grpc_addr"`
	GatewayAddr  string        `yaml:"gateway_addr"`
	IPCSocket    string        `yaml:"ipc_socket"`
	TurnTimeout  time.Duration `yaml:"turn_timeout"`
	StepTimeout  time.Duration `yaml:"step_timeout"`
	PerUserTurns int           `yaml:"per_user_concurrent_turns"`
}

// Provider configures one LLM provider registration.
type Provider struct {
	Type       string        `yaml:"type"` // openai | anthropic | ollama | gemini
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Default    bool          `yaml:"default"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// AgentSpec is the on-disk form of the §3 "Agent configuration" entity.
type AgentSpec struct {
	Name         string   `yaml:"name"`
	SystemPrompt string   `yaml:"system_prompt"`
	Tools        []string `yaml:"tools"`
	SubAgents    []string `yaml:"sub_agents"`
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	Temperature  float64  `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`
	MaxIterations int     `yaml:"max_iterations"`
	MemoryLimit  int      `yaml:"memory_limit"`
	Capabilities []string `yaml:"capabilities"`
	MemoryEnabled bool    `yaml:"memory_enabled"`
	AgentType    string   `yaml:"agent_type"`
	Reflection   bool     `yaml:"reflection_enabled"`
}

// ContainerConfig holds lifecycle-manager defaults (§4.5).
type ContainerConfig struct {
	WorkspaceRoot     string        `yaml:"workspace_root"`
	ImageCacheRoot    string        `yaml:"image_cache_root"`
	NetworkEnabled    bool          `yaml:"network_enabled"`
	NetworkCIDRStart  string        `yaml:"network_cidr_start"`
	NetworkCIDREnd    string        `yaml:"network_cidr_end"`
	BridgeName        string        `yaml:"bridge_name"`
	BridgeHostAddr    string        `yaml:"bridge_host_addr"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
	HeartbeatStale    time.Duration `yaml:"heartbeat_stale"`
	ReadinessTimeout  time.Duration `yaml:"readiness_timeout"`
}

// IntelligenceConfig tunes the context-tree cache and pattern learner.
type IntelligenceConfig struct {
	ContextCacheSize     int           `yaml:"context_cache_size"`
	ContextCacheTTL      time.Duration `yaml:"context_cache_ttl"`
	PatternMatchThreshold float64      `yaml:"pattern_match_threshold"`
	LearningRate         float64       `yaml:"learning_rate"`
	MinConfidence        float64       `yaml:"min_confidence"`
	MaxConfidence        float64       `yaml:"max_confidence"`
	PruningThreshold     float64       `yaml:"pruning_threshold"`
	MaxPatternAgeDays    int           `yaml:"max_pattern_age_days"`
}

// SetDefaults fills in the zero-valued fields with the runtime's documented
// defaults (spec.md §4.5, §4.7-4.11, §6).
func (c *Config) SetDefaults() {
	if c.Persistence.Driver == "" {
		c.Persistence.Driver = "sqlite3"
	}
	if c.Persistence.BusyTimeoutMS == 0 {
		c.Persistence.BusyTimeoutMS = 10000
	}
	if c.Persistence.ContainersDSN == "" {
		if c.Persistence.Driver == "sqlite3" {
			c.Persistence.ContainersDSN = "/var/lib/aria/containers.db"
		} else {
			c.Persistence.ContainersDSN = c.Persistence.SystemDSN
		}
	}
	if c.Server.ICCAddr == "" {
		c.Server.ICCAddr = "127.0.0.1:8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = "127.0.0.1:9090"
	}
	if c.Server.GatewayAddr == "" {
		c.Server.GatewayAddr = "127.0.0.1:9091"
	}
	if c.Server.IPCSocket == "" {
		c.Server.IPCSocket = "/run/quilt/api.sock"
	}
	if c.Server.TurnTimeout == 0 {
		c.Server.TurnTimeout = 5 * time.Minute
	}
	if c.Server.StepTimeout == 0 {
		c.Server.StepTimeout = 30 * time.Second
	}
	if c.Server.PerUserTurns == 0 {
		c.Server.PerUserTurns = 4
	}
	if c.Container.WorkspaceRoot == "" {
		c.Container.WorkspaceRoot = "/tmp/quilt-containers"
	}
	if c.Container.ImageCacheRoot == "" {
		c.Container.ImageCacheRoot = "/tmp/quilt-image-cache"
	}
	if c.Container.NetworkCIDRStart == "" {
		c.Container.NetworkCIDRStart = "172.16.0.10"
	}
	if c.Container.NetworkCIDREnd == "" {
		c.Container.NetworkCIDREnd = "172.16.0.250"
	}
	if c.Container.BridgeName == "" {
		c.Container.BridgeName = "quilt0"
	}
	if c.Container.MonitorInterval == 0 {
		c.Container.MonitorInterval = 10 * time.Second
	}
	if c.Container.HeartbeatStale == 0 {
		c.Container.HeartbeatStale = 30 * time.Second
	}
	if c.Container.ReadinessTimeout == 0 {
		c.Container.ReadinessTimeout = 15 * time.Second
	}
	if c.Intelligence.ContextCacheSize == 0 {
		c.Intelligence.ContextCacheSize = 50
	}
	if c.Intelligence.ContextCacheTTL == 0 {
		c.Intelligence.ContextCacheTTL = 300 * time.Second
	}
	if c.Intelligence.PatternMatchThreshold == 0 {
		c.Intelligence.PatternMatchThreshold = 0.6
	}
	if c.Intelligence.LearningRate == 0 {
		c.Intelligence.LearningRate = 0.05
	}
	if c.Intelligence.MaxConfidence == 0 {
		c.Intelligence.MaxConfidence = 0.99
	}
	if c.Intelligence.PruningThreshold == 0 {
		c.Intelligence.PruningThreshold = 0.2
	}
	if c.Intelligence.MaxPatternAgeDays == 0 {
		c.Intelligence.MaxPatternAgeDays = 30
	}
}

// Validate checks invariants that SetDefaults cannot repair.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one LLM provider must be configured")
	}
	haveDefault := false
	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("config: provider %q missing type", name)
		}
		if p.Default {
			haveDefault = true
		}
	}
	if !haveDefault {
		return fmt.Errorf("config: no provider marked default")
	}
	for name, a := range c.Agents {
		if a.MaxIterations < 0 {
			return fmt.Errorf("config: agent %q has negative max_iterations", name)
		}
	}
	return nil
}

// Load reads, env-expands, and decodes a YAML config file.
func Load(path string) (*Config, error) {
	_ = LoadEnvFiles()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	generic = normalizeYAMLTree(generic)
	expanded := ExpandEnvVarsInData(generic)

	reencoded, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("config: re-encode expanded document: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(reencoded, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalizeYAMLTree converts yaml.v3's map[string]interface{} decoding
// (which actually yields map[string]interface{} for mapping nodes already,
// but nested sequences may carry []interface{} with further maps) into the
// plain map[string]any / []any shapes ExpandEnvVarsInData expects.
func normalizeYAMLTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAMLTree(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAMLTree(val)
		}
		return out
	default:
		return v
	}
}
