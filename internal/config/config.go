package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreSQLite  = "sqlite"
	StoreSurreal = "surreal"
)

// Config holds all configuration for the relay server.
type Config struct {
	Addr              string        `env:"RELAY_ADDR" envDefault:":8080"`
	HeartbeatInterval time.Duration `env:"RELAY_HEARTBEAT_INTERVAL" envDefault:"30s"`
	AuthTimeout       time.Duration `env:"RELAY_AUTH_TIMEOUT" envDefault:"10s"`
	SendBuffer        int           `env:"RELAY_SEND_BUFFER" envDefault:"256"`

	NotifyURL     string        `env:"NOTIFY_URL"`
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"relay.db"`
	RecentLimit int    `env:"RECENT_LIMIT" envDefault:"50"`

	Surreal SurrealConfig

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	Tracing TracingConfig
}

// SurrealConfig is only read when StoreDriver is "surreal".
type SurrealConfig struct {
	URL  string `env:"SURREAL_URL"`
	NS   string `env:"SURREAL_NS"`
	DB   string `env:"SURREAL_DB"`
	User string `env:"SURREAL_USER"`
	Pass string `env:"SURREAL_PASS"`
}

// TracingConfig mirrors pubsub.TracingConfig so the config package stays dependency free.
type TracingConfig struct {
	Enabled     bool   `env:"PUBSUB_TRACING_ENABLED" envDefault:"false"`
	ServiceName string `env:"PUBSUB_TRACING_SERVICE_NAME" envDefault:"relay"`
	ZipkinURL   string `env:"PUBSUB_TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans"`
}

// New loads configuration from a .env file (if any) and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return Parse()
}

// Parse reads the environment into a Config and validates it.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("RELAY_HEARTBEAT_INTERVAL must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("RELAY_SEND_BUFFER must be positive")
	}
	switch c.StoreDriver {
	case StoreSQLite:
	case StoreSurreal:
		if c.Surreal.URL == "" || c.Surreal.NS == "" || c.Surreal.DB == "" {
			return fmt.Errorf("SURREAL_URL, SURREAL_NS and SURREAL_DB are required for the surreal store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}
