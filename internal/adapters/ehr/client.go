// Package ehr talks HTTP to external EHR systems: import sources, transfer endpoints and
// completion callbacks. Every failure is classified for the dispatcher's retry policy.
package ehr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/recordflow/internal/domain/action"
	"github.com/target/recordflow/internal/domain/model"
	"golang.org/x/time/rate"
)

const (
	maxErrorBodyBytes    = 4 * 1024
	defaultMaxFetchBytes = 32 << 20
	userAgent            = "recordflow/1.0"
)

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	// RequestsPerSecond bounds outbound calls across all workers sharing the client; zero
	// disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxFetchBytes bounds import source downloads; zero means 32MiB.
	MaxFetchBytes int64
}

// Client is safe for concurrent use.
type Client struct {
	http          *http.Client
	logger        *slog.Logger
	limiter       *rate.Limiter
	maxFetchBytes int64
}

// NewClient constructs a Client.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	maxFetch := opts.MaxFetchBytes
	if maxFetch <= 0 {
		maxFetch = defaultMaxFetchBytes
	}
	return &Client{
		http:          hc,
		logger:        logger.With("component", "ehr_client"),
		limiter:       limiter,
		maxFetchBytes: maxFetch,
	}
}

// StatusError reports an unexpected HTTP response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// FetchRecords downloads an import source. The body is either a JSON array of records or
// an object with a "records" array.
func (c *Client) FetchRecords(ctx context.Context, sourceURL string) ([]model.ImportRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, action.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxFetchBytes+1))
	if err != nil {
		return nil, action.Recoverable(fmt.Errorf("read import source: %w", err))
	}
	if int64(len(raw)) > c.maxFetchBytes {
		return nil, action.Unrecoverablef("import source exceeds %d bytes", c.maxFetchBytes)
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, action.Unrecoverable(err)
	}
	return records, nil
}

func decodeRecords(raw []byte) ([]model.ImportRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Records []model.ImportRecord `json:"records"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode import source: %w", err)
		}
		return wrapped.Records, nil
	}
	var records []model.ImportRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("decode import source: %w", err)
	}
	return records, nil
}

// PushRecord POSTs a transferred record to the destination EHR.
func (c *Client) PushRecord(ctx context.Context, targetURL string, record *model.MedicalRecord) error {
	return c.postJSON(ctx, targetURL, record)
}

// SendCallback POSTs an import completion notice.
func (c *Client) SendCallback(ctx context.Context, callbackURL string, payload model.CallbackPayload) error {
	return c.postJSON(ctx, callbackURL, payload)
}

func (c *Client) postJSON(ctx context.Context, target string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return action.Unrecoverable(fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(buf))
	if err != nil {
		return action.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	closeBody(resp.Body)
	return nil
}

// do sends req after waiting for the rate limiter and returns a 2xx response with its body
// open. Any other outcome is returned as a classified error.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, action.Recoverable(fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err))
	}
	c.logger.DebugContext(ctx, "ehr request",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, readErr := readErrorBody(resp.Body)
	closeBody(resp.Body)
	statusErr := &StatusError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}
	if readErr != nil {
		c.logger.DebugContext(ctx, "read error body", "error", readErr)
	}
	if statusErr.Retryable() {
		return nil, action.Recoverable(statusErr)
	}
	return nil, action.Unrecoverable(statusErr)
}

func readErrorBody(body io.Reader) (string, error) {
	if body == nil {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	return string(bytes.TrimSpace(data)), err
}

// closeBody drains a bounded amount so the connection can be reused.
func closeBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBodyBytes))
	_ = body.Close()
}

// IsStatus reports whether err carries an HTTP response with the given status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
