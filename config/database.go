package config

import (
	"strings"
	"time"
)

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"recordflow"`
	Password string `env:"PASSWORD"                envDefault:"recordflow"`
	Name     string `env:"NAME"                    envDefault:"recordflow"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	// Enabled turns on the job status cache. Without Redis status reads go to Postgres.
	Enabled            bool     `env:"ENABLED"              envDefault:"false"`
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
}

// CacheConfig contains job status cache configuration (Redis-based).
type CacheConfig struct {
	// StatusTTL bounds how long a cached job status is served.
	StatusTTL time.Duration `env:"CACHE_STATUS_TTL" envDefault:"30s"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.StatusTTL <= 0 {
		c.StatusTTL = 30 * time.Second
	}
}

// NATSConfig contains lifecycle event bus configuration.
type NATSConfig struct {
	// URL of the NATS server. Empty disables event publishing.
	URL string `env:"URL" envDefault:""`

	// SubjectPrefix is prepended to every event subject, e.g. recordflow.jobs.import.completed.
	SubjectPrefix string `env:"SUBJECT_PREFIX" envDefault:"recordflow.jobs"`

	// Name identifies this connection on the server.
	Name string `env:"CLIENT_NAME" envDefault:"recordflow"`

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
}

// Sanitize normalises NATS configuration values.
func (n *NATSConfig) Sanitize() {
	n.URL = strings.TrimSpace(n.URL)
	n.SubjectPrefix = strings.Trim(strings.TrimSpace(n.SubjectPrefix), ".")
	if n.SubjectPrefix == "" {
		n.SubjectPrefix = "recordflow.jobs"
	}
	if n.ConnectTimeout <= 0 {
		n.ConnectTimeout = 5 * time.Second
	}
}

// Enabled reports whether an event bus is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}
