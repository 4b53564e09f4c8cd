// Package pagerduty triggers PagerDuty incidents for recordflow failure events.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/target/recordflow/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// Endpoint overrides APIEndpoint.
	Endpoint string
	// MinSeverity drops events below this severity ("warning" or "critical").
	MinSeverity string
}

// Client publishes events via PagerDuty's Events API v2.
type Client struct {
	routingKey   string
	source       string
	component    string
	endpoint     string
	retryLimit   int
	criticalOnly bool
	client       *http.Client
}

// NewClient constructs a PagerDuty events client from config. Callers must provide a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		routingKey:   key,
		source:       fallbackString(strings.TrimSpace(cfg.Source), "recordflow"),
		component:    fallbackString(strings.TrimSpace(cfg.Component), "recordflow"),
		endpoint:     fallbackString(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
		retryLimit:   max(cfg.RetryLimit, 0),
		criticalOnly: strings.EqualFold(strings.TrimSpace(cfg.MinSeverity), notify.SeverityCritical),
		client:       hc,
	}, nil
}

// Send submits a trigger event to PagerDuty.
func (c *Client) Send(ctx context.Context, event notify.FailureEvent) error {
	if c.criticalOnly && !strings.EqualFold(fallbackString(event.Severity, notify.SeverityCritical), notify.SeverityCritical) {
		return nil
	}
	body, err := json.Marshal(c.buildEvent(event))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}

	bo := backoff.NewConstantBackOff(200 * time.Millisecond)
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retryLimit)), ctx)
	return backoff.Retry(func() error { return c.submit(ctx, body) }, policy)
}

func (c *Client) buildEvent(event notify.FailureEvent) map[string]any {
	severity := fallbackString(strings.ToLower(event.Severity), notify.SeverityCritical)

	occurredAt := event.OccurredAt.UTC()
	if event.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	custom := map[string]any{
		"signal":             string(event.Signal),
		"job_id":             event.JobID,
		"job_kind":           event.JobKind,
		"status":             event.Status,
		"source_org_id":      event.SourceOrgID,
		"destination_org_id": event.DestinationOrgID,
		"error":              event.Error,
		"error_class":        event.ErrorClass,
	}
	for k, v := range event.Metadata {
		if _, exists := custom[k]; !exists {
			custom[k] = v
		}
	}

	dedupKey := strings.Trim(fmt.Sprintf("%s:%s:%s", event.Signal, event.JobKind, event.JobID), ":")

	return map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]any{
			"summary":        summary(event),
			"severity":       severity,
			"source":         c.source,
			"component":      c.component,
			"timestamp":      occurredAt.Format(time.RFC3339),
			"custom_details": custom,
		},
	}
}

func summary(event notify.FailureEvent) string {
	id := fallbackString(event.JobID, "unknown")
	kind := fallbackString(event.JobKind, "unknown")
	switch event.Signal {
	case notify.SignalAuditWriteFailure:
		return fmt.Sprintf("Audit entry lost for %s job %s", kind, id)
	case notify.SignalCallbackFailed:
		return fmt.Sprintf("Callback for %s job %s was not delivered", kind, id)
	default:
		return fmt.Sprintf("%s job %s failed", kind, id)
	}
}

func fallbackString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func (c *Client) submit(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create pagerduty request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("read pagerduty error response: %w", readErr)
	}
	apiErr := fmt.Errorf("pagerduty api %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	if resp.StatusCode == http.StatusBadRequest {
		return backoff.Permanent(apiErr)
	}
	return apiErr
}
