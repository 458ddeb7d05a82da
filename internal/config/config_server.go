package config

import "time"

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	// URL selects the backend: postgres:// for PostgreSQL, a file
	// path for SQLite, empty for in-memory stores.
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// StreamsConfig bounds run streaming. Timeout is the hard per-run cap,
// TTL how long an unconsumed buffer survives, PingInterval the SSE
// heartbeat cadence.
type StreamsConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	TTL          time.Duration `yaml:"ttl"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type TasksConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}
