package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/recordflow/internal/domain/model"
)

type stubWaiter struct {
	calls chan model.JobKind
	err   error
	sleep time.Duration
}

func (s *stubWaiter) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	select {
	case s.calls <- kind:
	default:
	}

	if s.sleep > 0 {
		if !sleepCtx(ctx, s.sleep) {
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func awaitCall(t *testing.T, calls <-chan model.JobKind) model.JobKind {
	t.Helper()
	select {
	case k := <-calls:
		return k
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected waiter to be invoked")
		return ""
	}
}

func TestNewNotifierRequiresWaiter(t *testing.T) {
	notifier, err := NewNotifier(NotifierOptions{})
	require.ErrorIs(t, err, ErrWaiterRequired)
	assert.Nil(t, notifier)
}

func TestNotifier_SubscribeReceivesWakeups(t *testing.T) {
	waiter := &stubWaiter{calls: make(chan model.JobKind, 4), sleep: 5 * time.Millisecond}
	notifier, err := NewNotifier(NotifierOptions{Waiter: waiter})
	require.NoError(t, err)
	defer notifier.StopAll()

	unsub, ch := notifier.Subscribe(model.JobKindImport)
	defer unsub()

	assert.Equal(t, model.JobKindImport, awaitCall(t, waiter.calls))

	select {
	case <-ch:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected wake-up to be delivered")
	}
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	waiter := &stubWaiter{calls: make(chan model.JobKind, 1), sleep: 10 * time.Millisecond}
	notifier, err := NewNotifier(NotifierOptions{Waiter: waiter})
	require.NoError(t, err)

	unsub, ch := notifier.Subscribe(model.JobKindTransfer)
	awaitCall(t, waiter.calls)

	unsub()
	unsub()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected channel to close after unsubscribe")
	}
}

func TestNotifier_StopAllClosesChannels(t *testing.T) {
	waiter := &stubWaiter{calls: make(chan model.JobKind, 2), err: errors.New("boom")}
	notifier, err := NewNotifier(NotifierOptions{Waiter: waiter, Backoff: 10 * time.Millisecond})
	require.NoError(t, err)

	unsubTransfer, chTransfer := notifier.Subscribe(model.JobKindTransfer)
	unsubImport, chImport := notifier.Subscribe(model.JobKindImport)

	awaitCall(t, waiter.calls)
	awaitCall(t, waiter.calls)

	notifier.StopAll()

	for _, ch := range []<-chan struct{}{chTransfer, chImport} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channels should be closed after StopAll")
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected channel to close after StopAll")
		}
	}

	// Unsubscribes remain safe after StopAll.
	unsubTransfer()
	unsubImport()
}
