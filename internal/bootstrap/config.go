package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/recordflow/config"
)

//nolint:gochecknoglobals // shared by the process-wide default logger
var logLevel = new(slog.LevelVar)

// InitLogger initializes the structured logger at info level.
// ApplyLogConfig adjusts it once configuration has been loaded.
func InitLogger() *slog.Logger {
	logLevel.Set(slog.LevelInfo)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// ApplyLogConfig sets the log level from cfg and switches to a text handler in dev mode.
func ApplyLogConfig(logger *slog.Logger, cfg *config.AppConfig) *slog.Logger {
	if cfg == nil {
		return logger
	}
	logLevel.Set(parseLevel(cfg.LogLevel))
	if !cfg.IsDev {
		return logger
	}
	dev := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(dev)
	return dev
}

func parseLevel(raw string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig validates that at least one service is enabled and that the
// enabled services have what they need.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	if len(services) == 0 {
		return errors.New("no services enabled")
	}

	if services[config.ServiceModeAPI] && len(cfg.Auth.Keys()) == 0 && !(cfg.Auth.AllowAnonymous && cfg.IsDev) {
		return errors.New("api service requires API_KEYS (or API_ALLOW_ANONYMOUS=true in dev mode)")
	}
	if services[config.ServiceModeDispatcher] &&
		cfg.Dispatch.ImportConcurrency <= 0 && cfg.Dispatch.TransferConcurrency <= 0 {
		return errors.New("dispatcher service requires a positive import or transfer concurrency")
	}

	return nil
}

// GetEnabledServices returns a sorted list of enabled service names.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	enabledServices := make([]string, 0, len(services))
	for _, mode := range config.ValidServiceModes() {
		if services[mode] {
			enabledServices = append(enabledServices, string(mode))
		}
	}
	sort.Strings(enabledServices)
	return enabledServices
}
