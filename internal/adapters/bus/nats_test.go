package bus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/recordflow/internal/domain/model"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func sampleEvent() model.JobEvent {
	return model.JobEvent{
		JobID:      "job-1",
		Kind:       model.JobKindImport,
		Transition: "succeed",
		FromStatus: model.JobStatusProcessing,
		ToStatus:   model.JobStatusCompleted,
		Version:    4,
		Actor:      "dispatcher:w1",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestPublishJobEvent(t *testing.T) {
	fc := &fakeConn{}
	c := newClient(fc, "", nil)

	require.NoError(t, c.PublishJobEvent(context.Background(), sampleEvent()))

	require.Len(t, fc.subjects, 1)
	assert.Equal(t, "recordflow.jobs.import.completed", fc.subjects[0])

	var got model.JobEvent
	require.NoError(t, json.Unmarshal(fc.payloads[0], &got))
	assert.Equal(t, sampleEvent(), got)
}

func TestPublishJobEvent_Errors(t *testing.T) {
	t.Run("publish failure is wrapped", func(t *testing.T) {
		boom := errors.New("connection closed")
		c := newClient(&fakeConn{err: boom}, "rf", nil)
		err := c.PublishJobEvent(context.Background(), sampleEvent())
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "rf.import.completed")
	})

	t.Run("cancelled context publishes nothing", func(t *testing.T) {
		fc := &fakeConn{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, newClient(fc, "", nil).PublishJobEvent(ctx, sampleEvent()), context.Canceled)
		assert.Empty(t, fc.subjects)
	})
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(Options{})
	require.Error(t, err)
}

func TestTail_RoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	c, err := Connect(Options{URL: url, SubjectPrefix: "recordflow.test." + time.Now().Format("150405.000000")})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan model.JobEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Tail(ctx, model.JobKindImport, func(e model.JobEvent) {
			select {
			case received <- e:
			default:
			}
			cancel()
		})
	}()

	// Publish until the subscription is live.
	require.Eventually(t, func() bool {
		_ = c.PublishJobEvent(context.Background(), sampleEvent())
		_ = c.Conn().Flush()
		return len(received) > 0
	}, 4*time.Second, 50*time.Millisecond)

	got := <-received
	assert.Equal(t, "job-1", got.JobID)
	require.NoError(t, <-done)
}
