package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/recordflow/internal/observability/notify"
)

func TestServiceNotify(t *testing.T) {
	var (
		mu       sync.Mutex
		received []notify.FailureEvent
	)
	capture := notify.SinkFunc(func(_ context.Context, event notify.FailureEvent) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
		return nil
	})
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "a", Sink: capture},
			{Name: "b", Sink: capture},
			{Name: "nil", Sink: nil},
		},
	})
	require.True(t, svc.Enabled())

	svc.Notify(context.Background(), notify.FailureEvent{Signal: notify.SignalJobFailed, JobID: "123", JobKind: "import"})

	require.Len(t, received, 2)
	assert.Equal(t, notify.SeverityCritical, received[0].Severity)
	assert.False(t, received[0].OccurredAt.IsZero())
}

func TestServiceNotifySurvivesCanceledContext(t *testing.T) {
	var got error
	svc := NewService(Options{Sinks: []SinkRegistration{{
		Sink: notify.SinkFunc(func(ctx context.Context, _ notify.FailureEvent) error {
			got = ctx.Err()
			return nil
		}),
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Notify(ctx, notify.FailureEvent{JobID: "1"})
	assert.NoError(t, got)
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(Options{})
	assert.False(t, svc.Enabled())
	var nilSvc *Service
	assert.False(t, nilSvc.Enabled())
	assert.NotPanics(t, func() { nilSvc.Notify(context.Background(), notify.FailureEvent{}) })
}

func TestServiceLogsErrors(t *testing.T) {
	svc := NewService(Options{Sinks: []SinkRegistration{{
		Name: "broken",
		Sink: notify.SinkFunc(func(context.Context, notify.FailureEvent) error {
			return errors.New("unreachable")
		}),
	}}})
	assert.NotPanics(t, func() {
		svc.Notify(context.Background(), notify.FailureEvent{JobID: "x", Signal: notify.SignalCallbackFailed})
	})
}
