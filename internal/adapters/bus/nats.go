// Package bus publishes job lifecycle events on NATS.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/domain/model"
)

// DefaultSubjectPrefix is used when Options.SubjectPrefix is empty.
const DefaultSubjectPrefix = "recordflow.jobs"

// Options configures a NATS connection.
type Options struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// conn is the subset of *nats.Conn used for publishing.
type conn interface {
	Publish(subject string, data []byte) error
}

// Client wraps a NATS connection. It implements core.EventPublisher.
type Client struct {
	nc     *nats.Conn
	pub    conn
	prefix string
	logger *slog.Logger
}

var _ core.EventPublisher = (*Client)(nil)

// Connect dials NATS and reconnects forever in the background.
func Connect(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("nats url is required")
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "event_bus")

	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	c := newClient(nc, opts.SubjectPrefix, logger)
	c.nc = nc
	return c, nil
}

func newClient(pub conn, prefix string, logger *slog.Logger) *Client {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{pub: pub, prefix: prefix, logger: logger}
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// Conn exposes the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.nc }

// SubjectFor returns the subject an event is published on.
func (c *Client) SubjectFor(event model.JobEvent) string {
	return event.Subject(c.prefix)
}

// PublishJobEvent implements core.EventPublisher.
func (c *Client) PublishJobEvent(ctx context.Context, event model.JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}
	subject := c.SubjectFor(event)
	if err := c.pub.Publish(subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Tail delivers every event under the client's prefix, optionally narrowed to kind, until ctx
// is done. Undecodable messages are logged and skipped.
func (c *Client) Tail(ctx context.Context, kind model.JobKind, handler func(model.JobEvent)) error {
	if c.nc == nil {
		return errors.New("tail requires a live nats connection")
	}
	subject := c.prefix + ".>"
	if kind != "" {
		subject = c.prefix + "." + string(kind) + ".*"
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := c.nc.ChanSubscribe(subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			var event model.JobEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				c.logger.WarnContext(ctx, "skipping undecodable event", "subject", msg.Subject, "error", err)
				continue
			}
			handler(event)
		}
	}
}
