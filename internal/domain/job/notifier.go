package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/target/recordflow/internal/domain/model"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until a job of the given kind may be available or ctx ends.
type Waiter interface {
	WaitForNotification(ctx context.Context, kind model.JobKind) error
}

// Notifier fans out "new pending job" wake-ups to idle dispatcher workers.
// Wake-ups are hints only; workers still poll on an interval.
type Notifier interface {
	Subscribe(kind model.JobKind) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// topic is the per-kind listener and its subscribers.
type topic struct {
	cancel context.CancelFunc
	subs   map[chan struct{}]struct{}
}

// DefaultNotifier runs one listener goroutine per subscribed kind.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu     sync.Mutex
	topics map[model.JobKind]*topic
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	n := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: opts.WaitWindow,
		backoff:    opts.Backoff,
		topics:     make(map[model.JobKind]*topic),
	}
	if n.waitWindow <= 0 {
		n.waitWindow = 30 * time.Second
	}
	if n.backoff <= 0 {
		n.backoff = 250 * time.Millisecond
	}
	return n, nil
}

// Subscribe registers a buffered wake-up channel for kind. The returned func is idempotent.
func (n *DefaultNotifier) Subscribe(kind model.JobKind) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	tp := n.topics[kind]
	if tp == nil {
		ctx, cancel := context.WithCancel(context.Background())
		tp = &topic{cancel: cancel, subs: make(map[chan struct{}]struct{})}
		n.topics[kind] = tp
		go n.listen(ctx, kind)
	}

	ch := make(chan struct{}, 1)
	tp.subs[ch] = struct{}{}

	return func() { n.unsubscribe(kind, ch) }, ch
}

func (n *DefaultNotifier) unsubscribe(kind model.JobKind, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	tp := n.topics[kind]
	if tp == nil {
		return
	}
	if _, ok := tp.subs[ch]; !ok {
		return
	}
	delete(tp.subs, ch)
	drainAndClose(ch)
	if len(tp.subs) == 0 {
		tp.cancel()
		delete(n.topics, kind)
	}
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for kind, tp := range n.topics {
		tp.cancel()
		for ch := range tp.subs {
			drainAndClose(ch)
		}
		delete(n.topics, kind)
	}
}

func (n *DefaultNotifier) listen(ctx context.Context, kind model.JobKind) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, kind)
		cancel()

		// A timeout also wakes subscribers so a missed NOTIFY costs at most one window.
		n.wake(kind)

		if err != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
			if !sleepCtx(ctx, n.backoff) {
				return
			}
		}
	}
}

func (n *DefaultNotifier) wake(kind model.JobKind) {
	n.mu.Lock()
	defer n.mu.Unlock()

	tp := n.topics[kind]
	if tp == nil {
		return
	}
	for ch := range tp.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// sleepCtx waits for d or until ctx is done; it reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// drainAndClose removes any buffered wake-up before closing so receivers see the close immediately.
func drainAndClose(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
	close(ch)
}

var _ Notifier = (*DefaultNotifier)(nil)
