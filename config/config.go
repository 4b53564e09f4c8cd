package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: API key authentication
//   - database.go: Database, cache, and event bus configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode and reaper configuration
//   - dispatch.go: Worker dispatcher and external EHR configuration
type AppConfig struct {
	// IsDev controls development mode behavior (text logs, relaxed auth).
	// Set DEV=true or APP_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Authentication configuration
	Auth AuthConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	// Lifecycle event bus
	NATS NATSConfig `envPrefix:"NATS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"APP_SERVICES" envDefault:"api"`

	// Worker dispatcher configuration
	Dispatch DispatchConfig `envPrefix:"DISPATCH_"`

	// Outbound EHR and callback configuration
	Callback CallbackConfig `envPrefix:"CALLBACK_"`

	// Reaper configuration
	Reaper ReaperConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Cache.Sanitize()
	c.NATS.Sanitize()
	c.Dispatch.Sanitize()
	c.Callback.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsAPIEnabled returns true if the HTTP API service is enabled.
func (c *AppConfig) IsAPIEnabled() bool {
	return c.serviceEnabled(ServiceModeAPI)
}

// IsDispatcherEnabled returns true if the worker dispatcher is enabled.
func (c *AppConfig) IsDispatcherEnabled() bool {
	return c.serviceEnabled(ServiceModeDispatcher)
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	return c.serviceEnabled(ServiceModeReaper)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
