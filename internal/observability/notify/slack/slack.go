// Package slack posts recordflow failure events to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/target/recordflow/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// JobURLPrefix, when set, turns job ids into links (prefix + "/" + kind + "s/" + id).
	JobURLPrefix string
}

// Client delivers failure events to a Slack webhook.
type Client struct {
	webhookURL   string
	channel      string
	username     string
	retryLimit   int
	jobURLPrefix string
	client       *http.Client
}

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
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
		webhookURL:   webhookURL,
		channel:      strings.TrimSpace(cfg.Channel),
		username:     fallbackString(strings.TrimSpace(cfg.Username), "recordflow"),
		retryLimit:   max(cfg.RetryLimit, 0),
		jobURLPrefix: strings.TrimRight(strings.TrimSpace(cfg.JobURLPrefix), "/"),
		client:       hc,
	}, nil
}

// Send posts a formatted message to Slack, retrying transient failures.
func (c *Client) Send(ctx context.Context, event notify.FailureEvent) error {
	body, err := json.Marshal(c.formatMessage(event))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retryLimit)), ctx)

	return backoff.Retry(func() error {
		postErr := c.post(ctx, body)
		var permanent *rejectedError
		if errors.As(postErr, &permanent) {
			return backoff.Permanent(postErr)
		}
		return postErr
	}, policy)
}

func (c *Client) formatMessage(event notify.FailureEvent) map[string]any {
	timestamp := event.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var text strings.Builder
	c.writeHeader(&text, event)
	fields := []struct{ label, value string }{
		{"Severity", fallbackString(event.Severity, notify.SeverityCritical)},
		{"Status", event.Status},
		{"Source organization", event.SourceOrgID},
		{"Destination organization", event.DestinationOrgID},
		{"Error class", event.ErrorClass},
		{"Error", escapeSlackText(event.Error)},
	}
	for _, f := range fields {
		appendField(&text, f.label, f.value)
	}
	appendMetadata(&text, event.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func headline(signal notify.Signal) string {
	switch signal {
	case notify.SignalAuditWriteFailure:
		return "Audit write failure"
	case notify.SignalCallbackFailed:
		return "Callback delivery failure"
	default:
		return "Job failure alert"
	}
}

func (c *Client) writeHeader(text *strings.Builder, event notify.FailureEvent) {
	text.WriteByte('*')
	text.WriteString(headline(event.Signal))
	text.WriteByte('*')
	if event.JobID != "" {
		text.WriteByte(' ')
		text.WriteString(c.jobReference(event.JobKind, event.JobID))
	}
	if event.JobKind != "" {
		text.WriteString(" (")
		text.WriteString(event.JobKind)
		text.WriteByte(')')
	}
	text.WriteByte('\n')
}

func (c *Client) jobReference(kind, id string) string {
	plain := "`" + escapeSlackText(id) + "`"
	if c.jobURLPrefix == "" || kind == "" {
		return plain
	}
	u, err := url.Parse(c.jobURLPrefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return plain
	}
	link, err := url.JoinPath(u.String(), kind+"s", id)
	if err != nil {
		return plain
	}
	return fmt.Sprintf("<%s|%s>", link, escapeSlackText(id))
}

// rejectedError marks a 4xx webhook response that retrying cannot fix.
type rejectedError struct {
	status string
	body   string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("slack webhook %s: %s", e.status, e.body)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create slack request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if readErr != nil {
		return fmt.Errorf("read slack error response: %w", readErr)
	}
	msg := strings.TrimSpace(string(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return &rejectedError{status: resp.Status, body: msg}
	}
	return fmt.Errorf("slack webhook %s: %s", resp.Status, msg)
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func escapeSlackText(value string) string {
	if value == "" {
		return ""
	}
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	).Replace(value)
}

func appendField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

func appendMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text.WriteString("    • ")
		text.WriteString(k)
		text.WriteString(": ")
		text.WriteString(metadata[k])
		text.WriteByte('\n')
	}
}
