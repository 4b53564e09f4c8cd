package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/target/recordflow/internal/domain/model"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - api",
			input:    "api",
			expected: map[ServiceMode]bool{ServiceModeAPI: true},
		},
		{
			name:     "single service - dispatcher",
			input:    "dispatcher",
			expected: map[ServiceMode]bool{ServiceModeDispatcher: true},
		},
		{
			name:  "all services",
			input: "api,dispatcher,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeAPI:        true,
				ServiceModeDispatcher: true,
				ServiceModeReaper:     true,
			},
		},
		{
			name:  "services with spaces",
			input: " api , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeAPI:    true,
				ServiceModeReaper: true,
			},
		},
		{
			name:  "duplicate services",
			input: "dispatcher,dispatcher,api",
			expected: map[ServiceMode]bool{
				ServiceModeDispatcher: true,
				ServiceModeAPI:        true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       " , ,",
			expectError: true,
		},
		{
			name:        "invalid service",
			input:       "api,scheduler",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name       string
		services   string
		api        bool
		dispatcher bool
		reaper     bool
	}{
		{name: "api only", services: "api", api: true},
		{name: "workers", services: "dispatcher,reaper", dispatcher: true, reaper: true},
		{name: "invalid configuration disables everything", services: "api,bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}
			if got := cfg.IsAPIEnabled(); got != tt.api {
				t.Errorf("IsAPIEnabled() = %v, want %v", got, tt.api)
			}
			if got := cfg.IsDispatcherEnabled(); got != tt.dispatcher {
				t.Errorf("IsDispatcherEnabled() = %v, want %v", got, tt.dispatcher)
			}
			if got := cfg.IsReaperEnabled(); got != tt.reaper {
				t.Errorf("IsReaperEnabled() = %v, want %v", got, tt.reaper)
			}
		})
	}
}

func TestValidServiceModes(t *testing.T) {
	expected := []ServiceMode{ServiceModeAPI, ServiceModeDispatcher, ServiceModeReaper}
	if got := ValidServiceModes(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestAppConfig_Defaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "api" {
		t.Errorf("expected default services api, got %q", cfg.Services)
	}
	if cfg.Dispatch.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Dispatch.MaxRetries)
	}
	if cfg.Dispatch.Lease != 30*time.Second {
		t.Errorf("expected 30s lease, got %v", cfg.Dispatch.Lease)
	}
	if cfg.Dispatch.AllowSameOrg {
		t.Error("expected same-organization jobs to be rejected by default")
	}
	if cfg.NATS.Enabled() {
		t.Error("expected event bus to be disabled without a URL")
	}
	if cfg.Reaper.Interval != 30*time.Second {
		t.Errorf("expected 30s reaper interval, got %v", cfg.Reaper.Interval)
	}
}

func TestAppConfig_ParseDispatchEnv(t *testing.T) {
	t.Setenv("DISPATCH_IMPORT_CONCURRENCY", "3")
	t.Setenv("DISPATCH_TRANSFER_CONCURRENCY", "0")
	t.Setenv("DISPATCH_MAX_RETRIES", "5")
	t.Setenv("DISPATCH_BACKOFF_INITIAL", "250ms")
	t.Setenv("DISPATCH_BACKOFF_MAX", "4s")
	t.Setenv("DISPATCH_ALLOW_SAME_ORG", "true")
	t.Setenv("DISPATCH_ANONYMIZE_KEY", " 0123456789abcdef ")
	t.Setenv("DISPATCH_ANONYMIZE_FIELDS", "name,ssn")
	t.Setenv("CALLBACK_RATE_LIMIT", "2.5")
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("NATS_SUBJECT_PREFIX", "rf.jobs.")
	t.Setenv("API_KEYS", "k1, ,k2")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if got := cfg.Dispatch.Concurrency(model.JobKindImport); got != 3 {
		t.Errorf("import concurrency = %d, want 3", got)
	}
	if got := cfg.Dispatch.Concurrency(model.JobKindTransfer); got != 0 {
		t.Errorf("transfer concurrency = %d, want 0", got)
	}
	if !cfg.Dispatch.AllowSameOrg {
		t.Error("expected AllowSameOrg to be parsed")
	}
	if cfg.Dispatch.AnonymizeKey != "0123456789abcdef" {
		t.Errorf("expected trimmed anonymize key, got %q", cfg.Dispatch.AnonymizeKey)
	}
	if !reflect.DeepEqual(cfg.Dispatch.AnonymizeFields, []string{"name", "ssn"}) {
		t.Errorf("unexpected anonymize fields %v", cfg.Dispatch.AnonymizeFields)
	}

	policy := cfg.Dispatch.RetryPolicy()
	if policy.MaxRetries != 5 || policy.MaxAttempts() != 6 {
		t.Errorf("unexpected retry bounds: %+v", policy)
	}
	if policy.InitialInterval != 250*time.Millisecond || policy.MaxInterval != 4*time.Second {
		t.Errorf("unexpected backoff intervals: %+v", policy)
	}

	if cfg.Callback.RequestsPerSecond != 2.5 {
		t.Errorf("expected callback rate 2.5, got %v", cfg.Callback.RequestsPerSecond)
	}
	if !cfg.NATS.Enabled() || cfg.NATS.SubjectPrefix != "rf.jobs" {
		t.Errorf("unexpected NATS config: %+v", cfg.NATS)
	}
	if got := cfg.Auth.Keys(); !reflect.DeepEqual(got, []string{"k1", "k2"}) {
		t.Errorf("unexpected API keys %v", got)
	}
}

func TestDispatchConfig_Sanitize(t *testing.T) {
	cfg := DispatchConfig{
		ImportConcurrency: -1,
		PollInterval:      0,
		BatchSize:         0,
		Lease:             time.Second,
		MaxRetries:        -2,
		BackoffInitial:    time.Minute,
		BackoffMax:        10 * time.Second,
		BackoffMultiplier: 0.5,
	}
	cfg.Sanitize()

	if cfg.ImportConcurrency != 0 {
		t.Errorf("expected negative concurrency to clamp to 0, got %d", cfg.ImportConcurrency)
	}
	if cfg.PollInterval <= 0 || cfg.BatchSize != 1 {
		t.Errorf("expected poll/batch guardrails, got %v/%d", cfg.PollInterval, cfg.BatchSize)
	}
	if cfg.Lease != 5*time.Second {
		t.Errorf("expected minimum lease of 5s, got %v", cfg.Lease)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("expected retries clamped to 0, got %d", cfg.MaxRetries)
	}
	if cfg.BackoffInitial != cfg.BackoffMax {
		t.Errorf("expected initial backoff capped at max, got %v", cfg.BackoffInitial)
	}
	if cfg.BackoffMultiplier != 1 {
		t.Errorf("expected multiplier of at least 1, got %v", cfg.BackoffMultiplier)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{Interval: time.Millisecond, BatchSize: 50000}
	cfg.Sanitize()
	if cfg.Interval != time.Second {
		t.Errorf("expected interval floor of 1s, got %v", cfg.Interval)
	}
	if cfg.BatchSize != 10000 {
		t.Errorf("expected batch ceiling of 10000, got %d", cfg.BatchSize)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: " ",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled without a routing key")
	}
	if cfg.PagerDuty.Source != "recordflow" {
		t.Fatalf("expected pagerduty source default, got %q", cfg.PagerDuty.Source)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "abc",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled when top-level notifications disabled")
	}
}
