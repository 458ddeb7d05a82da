// Package config loads and validates ArtifactFlow configuration from
// YAML/JSON5 files and ARTIFACTFLOW_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every environment key the server reads.
const EnvPrefix = "ARTIFACTFLOW_"

// Config is the root configuration for the server and CLI.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	LLM      LLMConfig      `yaml:"llm"`
	Agents   AgentsConfig   `yaml:"agents"`
	Streams  StreamsConfig  `yaml:"streams"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`

	// Debug exposes raw error messages on the event stream. Never
	// enable in production.
	Debug bool `yaml:"debug"`
}

// Load reads the configuration file at path, resolves $include
// directives, overlays environment variables, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration purely from environment variables.
// Used when the server starts without a config file.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := getenv("MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tasks.MaxConcurrent = n
		}
	}
	if v := getenv("STREAM_TIMEOUT"); v != "" {
		if d, ok := parseDurationOrSeconds(v); ok {
			cfg.Streams.Timeout = d
		}
	}
	if v := getenv("STREAM_TTL"); v != "" {
		if d, ok := parseDurationOrSeconds(v); ok {
			cfg.Streams.TTL = d
		}
	}
	if v := getenv("SSE_PING_INTERVAL"); v != "" {
		if d, ok := parseDurationOrSeconds(v); ok {
			cfg.Streams.PingInterval = d
		}
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.Server.CORSOrigins = origins
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := getenv("AGENTS_FILE"); v != "" {
		cfg.Agents.File = v
	}
	if v := getenv("DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}

	// Provider keys follow the vendors' conventional variables so a
	// bare environment works without a config file.
	ensureProviderKey(cfg, "anthropic", os.Getenv("ANTHROPIC_API_KEY"))
	ensureProviderKey(cfg, "openai", os.Getenv("OPENAI_API_KEY"))
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

// parseDurationOrSeconds accepts either a Go duration string ("300s",
// "5m") or a bare integer meaning seconds.
func parseDurationOrSeconds(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func ensureProviderKey(cfg *Config, name, key string) {
	if key == "" {
		return
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]ProviderConfig{}
	}
	pc := cfg.LLM.Providers[name]
	if pc.APIKey == "" {
		pc.APIKey = key
		cfg.LLM.Providers[name] = pc
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.DefaultProvider == "scripted" {
		// The scripted provider ignores the model name; agents without
		// an explicit model still need one to resolve.
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]ProviderConfig{}
		}
		if pc := cfg.LLM.Providers["scripted"]; pc.DefaultModel == "" {
			pc.DefaultModel = "scripted"
			cfg.LLM.Providers["scripted"] = pc
		}
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryBaseDelay == 0 {
		cfg.LLM.RetryBaseDelay = time.Second
	}
	if cfg.Agents.MaxSteps == 0 {
		cfg.Agents.MaxSteps = 100
	}
	if cfg.Agents.HistoryCompressChars == 0 {
		cfg.Agents.HistoryCompressChars = 40_000
	}
	if cfg.Agents.HistoryKeepRecent == 0 {
		cfg.Agents.HistoryKeepRecent = 5
	}
	if cfg.Streams.Timeout == 0 {
		cfg.Streams.Timeout = 300 * time.Second
	}
	if cfg.Streams.TTL == 0 {
		cfg.Streams.TTL = 30 * time.Second
	}
	if cfg.Streams.PingInterval == 0 {
		cfg.Streams.PingInterval = 15 * time.Second
	}
	if cfg.Tasks.MaxConcurrent == 0 {
		cfg.Tasks.MaxConcurrent = 10
	}
	if cfg.Tasks.ShutdownTimeout == 0 {
		cfg.Tasks.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "artifactflow"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate checks invariants that would otherwise surface as runtime
// failures. The JWT secret check is fail-fast on purpose.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required (set %sJWT_SECRET)", EnvPrefix)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Tasks.MaxConcurrent <= 0 {
		return fmt.Errorf("tasks.max_concurrent must be positive")
	}
	if c.Streams.Timeout <= 0 || c.Streams.TTL <= 0 || c.Streams.PingInterval <= 0 {
		return fmt.Errorf("streams timeouts must be positive")
	}
	if c.Agents.MaxSteps <= 0 {
		return fmt.Errorf("agents.max_steps must be positive")
	}

	provider := c.LLM.DefaultProvider
	if provider != "scripted" {
		pc, ok := c.LLM.Providers[provider]
		if !ok {
			return fmt.Errorf("llm.default_provider %q has no entry under llm.providers", provider)
		}
		if strings.TrimSpace(pc.APIKey) == "" {
			return fmt.Errorf("llm.providers.%s.api_key is required", provider)
		}
	}

	seen := map[string]bool{}
	leads := 0
	for _, def := range c.Agents.Definitions {
		if strings.TrimSpace(def.Name) == "" {
			return fmt.Errorf("agents.definitions: agent with empty name")
		}
		if seen[def.Name] {
			return fmt.Errorf("agents.definitions: duplicate agent %q", def.Name)
		}
		seen[def.Name] = true
		if def.Role == AgentRoleLead {
			leads++
		}
	}
	if len(c.Agents.Definitions) > 0 && leads != 1 {
		return fmt.Errorf("agents.definitions: exactly one lead agent required, found %d", leads)
	}
	return nil
}
