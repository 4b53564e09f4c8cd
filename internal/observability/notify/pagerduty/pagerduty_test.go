package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/target/recordflow/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when routing key missing")
	}
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := client.buildEvent(notify.FailureEvent{
		Signal:     notify.SignalJobFailed,
		JobID:      "123",
		JobKind:    "import",
		Error:      "boom",
		ErrorClass: "retries_exhausted",
		Metadata:   map[string]string{"attempts": "4", "job_id": "ignored"},
	})

	payloadSection, ok := event["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected payload section")
	}
	if payloadSection["severity"] != notify.SeverityCritical {
		t.Fatalf("expected default severity, got %v", payloadSection["severity"])
	}
	if payloadSection["source"] != "recordflow" {
		t.Fatalf("expected default source, got %v", payloadSection["source"])
	}
	if payloadSection["summary"] != "import job 123 failed" {
		t.Fatalf("unexpected summary %v", payloadSection["summary"])
	}

	custom, ok := payloadSection["custom_details"].(map[string]any)
	if !ok {
		t.Fatalf("expected custom details")
	}
	for _, key := range []string{"signal", "job_id", "job_kind", "error", "error_class", "attempts"} {
		if _, exists := custom[key]; !exists {
			t.Fatalf("expected key %s in custom details", key)
		}
	}
	if custom["job_id"] != "123" {
		t.Fatalf("metadata must not override job_id, got %v", custom["job_id"])
	}

	dedup, _ := event["dedup_key"].(string)
	if dedup != "job_failed:import:123" {
		t.Fatalf("unexpected dedup key %s", dedup)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "key", Endpoint: srv.URL, RetryLimit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.Send(context.Background(), notify.FailureEvent{JobID: "1", JobKind: "transfer"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestSendBadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid routing key", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "key", Endpoint: srv.URL, RetryLimit: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = client.Send(context.Background(), notify.FailureEvent{JobID: "1"})
	if err == nil || !strings.Contains(err.Error(), "invalid routing key") {
		t.Fatalf("expected api error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestSendSkipsWarningsWhenCriticalOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "key", Endpoint: srv.URL, MinSeverity: "critical"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	if err := client.Send(ctx, notify.FailureEvent{Signal: notify.SignalCallbackFailed, Severity: notify.SeverityWarning}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if err := client.Send(ctx, notify.FailureEvent{Signal: notify.SignalAuditWriteFailure}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected only the critical event to be sent, got %d calls", got)
	}
}
