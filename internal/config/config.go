package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string `env:"KEYLEDGER_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"KEYLEDGER_GRPC_ADDR" envDefault:":9090"`

	// DB
	Env    string `env:"KEYLEDGER_ENV" envDefault:"dev"` // "dev" | "prod"
	DBPath string `env:"KEYLEDGER_DB_PATH" envDefault:"./data/keyledger.db"`
	// SeedDev loads the demo room registry on start in dev.
	SeedDev bool `env:"KEYLEDGER_SEED_DEV" envDefault:"false"`

	LogLevel string `env:"KEYLEDGER_LOG_LEVEL" envDefault:"info"`

	RateLimitPerMinute int      `env:"KEYLEDGER_RATE_LIMIT_PER_MINUTE" envDefault:"600"` // 0 = unlimited
	CORSOrigins        []string `env:"KEYLEDGER_CORS_ORIGINS" envSeparator:","`

	// Active guest gauge refresh
	SampleIntervalSeconds int `env:"KEYLEDGER_SAMPLE_INTERVAL_SECONDS" envDefault:"60"` // 0 = disabled
	// gRPC health probe of the store
	HealthProbeSeconds int `env:"KEYLEDGER_HEALTH_PROBE_SECONDS" envDefault:"15"`
}

const (
	defaultRateLimit      = 600
	defaultSampleInterval = 60
	defaultHealthProbe    = 15
)

// FromEnv reads KEYLEDGER_* variables. Malformed values are an error;
// well-formed but out-of-range values fall back to their defaults.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.Normalize(), nil
}

// Normalize applies the fail-soft rules used by FromEnv. Flag overrides
// go through it as well.
func (c Config) Normalize() Config {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = "./data/keyledger.db"
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}

	if c.RateLimitPerMinute < 0 {
		c.RateLimitPerMinute = defaultRateLimit
	}
	if c.SampleIntervalSeconds < 0 {
		c.SampleIntervalSeconds = defaultSampleInterval
	}
	if c.HealthProbeSeconds <= 0 {
		c.HealthProbeSeconds = defaultHealthProbe
	}

	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = nil
	}

	// Demo rooms never leak into a production ledger.
	if c.Env == "prod" {
		c.SeedDev = false
	}
	return c
}
