// Package jobrunner claims pending transfer and import jobs and drives them to a terminal
// status. Workers of one Runner share a job kind; several Runners (or processes) may poll the
// same store concurrently since every claim is a versioned write.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/domain/action"
	domainjob "github.com/target/recordflow/internal/domain/job"
	"github.com/target/recordflow/internal/domain/lifecycle"
	"github.com/target/recordflow/internal/domain/model"
	apperrors "github.com/target/recordflow/internal/errors"
	obserrors "github.com/target/recordflow/internal/observability/errors"
	"github.com/target/recordflow/internal/observability/metrics"
	"github.com/target/recordflow/internal/observability/statsd"
	"github.com/target/recordflow/internal/service"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 10
	defaultLease        = 30 * time.Second
	maxFinishAttempts   = 5
	finishRetryDelay    = 100 * time.Millisecond
	callbackTimeout     = 15 * time.Second
)

var errLeaseLost = errors.New("lease lost")

// CallbackSender delivers completion callbacks for import jobs.
type CallbackSender interface {
	SendCallback(ctx context.Context, callbackURL string, payload model.CallbackPayload) error
}

// RunnerOptions configures the dispatcher for one job kind.
type RunnerOptions struct {
	Jobs   *service.JobService // Required
	Kind   model.JobKind       // Required
	Action action.Action       // Required

	Callbacks CallbackSender     // Optional: import completion callbacks are skipped when nil
	Notifier  domainjob.Notifier // Optional: defaults to LISTEN wake-ups through Jobs
	Logger    *slog.Logger
	Metrics   statsd.Sink

	// WorkerID prefixes the audit actor of this runner; defaults to a random id.
	WorkerID     string
	Lease        time.Duration // per-job lease; defaults to 30s
	Concurrency  int           // worker goroutines; defaults to 1
	PollInterval time.Duration // idle poll; defaults to 2s
	BatchSize    int           // claim candidates per poll; defaults to 10
	Retry        *domainjob.RetryPolicy
}

// Runner pulls jobs of one kind and executes them with its Action.
type Runner struct {
	jobs      *service.JobService
	kind      model.JobKind
	action    action.Action
	callbacks CallbackSender
	notifier  domainjob.Notifier
	ownsNotif bool
	logger    *slog.Logger
	metrics   statsd.Sink
	actor     string
	lease     domainjob.LeaseDecision
	workers   int
	poll      time.Duration
	batch     int
	retry     domainjob.RetryPolicy
}

// NewRunner validates opts and constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("invalid job kind %q", opts.Kind)
	}
	if opts.Action == nil {
		return nil, errors.New("action is required")
	}

	retry := domainjob.DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	leaseDur := opts.Lease
	if leaseDur <= 0 {
		leaseDur = defaultLease
	}
	policy, err := domainjob.NewLeasePolicy(leaseDur)
	if err != nil {
		return nil, fmt.Errorf("lease policy: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workerID := opts.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()[:8]
	}

	r := &Runner{
		jobs:      opts.Jobs,
		kind:      opts.Kind,
		action:    opts.Action,
		callbacks: opts.Callbacks,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		actor:     "dispatcher:" + workerID,
		lease:     policy.Resolve(0),
		workers:   max(opts.Concurrency, 1),
		poll:      opts.PollInterval,
		batch:     opts.BatchSize,
		retry:     retry,
	}
	r.logger = logger.With("component", "dispatcher", "kind", r.kind, "worker", workerID)
	if r.poll <= 0 {
		r.poll = defaultPollInterval
	}
	if r.batch <= 0 {
		r.batch = defaultBatchSize
	}
	if r.notifier == nil {
		n, err := domainjob.NewNotifier(domainjob.NotifierOptions{Waiter: opts.Jobs})
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		r.notifier = n
		r.ownsNotif = true
	}
	return r, nil
}

// Run starts the worker goroutines and blocks until ctx is cancelled. Jobs in flight are
// driven to a terminal status before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting dispatcher",
		"workers", r.workers,
		"lease", r.lease.Duration,
		"max_attempts", r.retry.MaxAttempts(),
	)
	if r.ownsNotif {
		defer r.notifier.StopAll()
	}

	g, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			unsub, wake := r.notifier.Subscribe(r.kind)
			defer unsub()
			r.workerLoop(gctx, wake)
			return nil
		})
	}
	err := g.Wait()
	r.logger.InfoContext(ctx, "dispatcher stopped")
	return err
}

func (r *Runner) workerLoop(ctx context.Context, wake <-chan struct{}) {
	for ctx.Err() == nil {
		job, err := r.claimNext(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "claim jobs failed", "error", err)
		}
		if job != nil {
			r.processJob(ctx, job)
			continue
		}
		r.idle(ctx, wake)
	}
}

func (r *Runner) idle(ctx context.Context, wake <-chan struct{}) {
	t := time.NewTimer(r.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-wake:
	case <-t.C:
	}
}

// RunOnce claims at most one pending job and processes it to completion. It reports
// whether a job was claimed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.claimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	r.processJob(ctx, job)
	return true, nil
}

// claimNext tries the start transition on pending candidates until one succeeds. Losing a
// race to another dispatcher is expected and leaves no trace.
func (r *Runner) claimNext(ctx context.Context) (*model.Job, error) {
	refs, err := r.jobs.ListPending(ctx, r.kind, r.batch)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		job, err := r.jobs.Start(ctx, ref, r.actor, r.lease.Duration)
		var auditErr *service.AuditWriteFailure
		switch {
		case err == nil, errors.As(err, &auditErr) && job != nil:
			return job, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, core.ErrJobConflict),
			errors.Is(err, lifecycle.ErrInvalidTransition),
			errors.Is(err, lifecycle.ErrTerminalState):
			r.logger.DebugContext(ctx, "claim lost", "job_id", ref.ID, "error", err)
		default:
			r.logger.WarnContext(ctx, "claim failed", "job_id", ref.ID, "error", err)
		}
	}
	return nil, nil
}

// attemptResult is the outcome of running the action until success, a permanent failure,
// exhaustion of the retry budget, or loss of the job.
type attemptResult struct {
	job       *model.Job
	outcome   action.Outcome
	err       error
	attempts  int
	exhausted bool
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	logger := r.logger.With("job_id", job.ID)
	logger.InfoContext(ctx, "job claimed", "version", job.Version)

	jobCtx, cancel := context.WithCancelCause(ctx)
	stopHeartbeat := r.startHeartbeat(jobCtx, cancel, job, logger)
	res := r.runAttempts(jobCtx, job, logger)
	stopHeartbeat()
	leaseLost := errors.Is(context.Cause(jobCtx), errLeaseLost)
	cancel(nil)

	final, outcome := r.finish(ctx, res, leaseLost, logger)
	metrics.EmitExecution(r.metrics, string(r.kind), outcome, time.Since(start))
	logger.InfoContext(ctx, "job finished",
		"outcome", outcome,
		"attempts", res.attempts,
		"elapsed", time.Since(start),
	)
	if final != nil && outcome != outcomeLost {
		r.deliverCallback(ctx, final, logger)
	}
}

// startHeartbeat renews the lease until the returned stop func is called. A refused
// renewal means the job left PROCESSING without us and cancels the job context.
func (r *Runner) startHeartbeat(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	job *model.Job,
	logger *slog.Logger,
) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(r.lease.HeartbeatInterval())
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
			}
			ok, err := r.jobs.Heartbeat(ctx, job, r.lease.Duration)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					logger.WarnContext(ctx, "heartbeat failed", "error", err)
				}
			case !ok:
				logger.WarnContext(ctx, "lease lost; abandoning job")
				cancel(errLeaseLost)
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (r *Runner) runAttempts(ctx context.Context, job *model.Job, logger *slog.Logger) attemptResult {
	bo := backoff.WithContext(r.retry.NewBackOff(), ctx)
	cur := job
	for attempt := 1; ; attempt++ {
		begun, err := r.jobs.BeginAttempt(ctx, cur, attempt, r.lease.Duration)
		switch {
		case err == nil:
			cur = begun
			progress := newProgressReporter(r.jobs, cur, logger)
			var out action.Outcome
			out, err = r.execute(ctx, cur, progress)
			cur = progress.Job()
			if err == nil {
				return attemptResult{job: cur, outcome: out, attempts: attempt}
			}
		case !isStop(err) && ctx.Err() == nil:
			err = action.Recoverable(fmt.Errorf("begin attempt: %w", err))
		}

		res := attemptResult{job: cur, err: err, attempts: attempt}
		if isStop(err) || ctx.Err() != nil || !action.IsRecoverable(err) {
			return res
		}

		logger.WarnContext(ctx, "attempt failed",
			"attempt", attempt,
			"error", err,
			"error_class", obserrors.Classify(err),
		)
		if aerr := r.jobs.RecordAttemptFailure(ctx, cur, r.actor, attempt, err); aerr != nil {
			logger.ErrorContext(ctx, "record attempt failure", "attempt", attempt, "error", aerr)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return res
			}
			res.exhausted = true
			return res
		}
		if !sleep(ctx, wait) {
			return res
		}
	}
}

// execute runs the action, turning a panic into a permanent failure of the attempt.
func (r *Runner) execute(ctx context.Context, job *model.Job, progress action.Progress) (out action.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = action.Unrecoverablef("action panicked: %v", p)
		}
	}()
	return r.action.Execute(ctx, job, progress)
}

func isStop(err error) bool {
	return errors.Is(err, service.ErrJobCancelled) || errors.Is(err, service.ErrJobNotOwned)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Execution outcomes reported in logs and the job.execution timing.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeShutdown  = "shutdown"
	outcomeCancelled = "cancelled"
	outcomeLost      = "lost"
)

// finish writes the terminal transition for res. It returns the job as last seen and the
// execution outcome. Writes use a context detached from shutdown so that no job this
// runner owns is left PROCESSING.
func (r *Runner) finish(ctx context.Context, res attemptResult, leaseLost bool, logger *slog.Logger) (*model.Job, string) {
	wctx := context.WithoutCancel(ctx)
	outcomeRejected := false
	if res.err == nil {
		m := model.JobMutation{
			Message:          stringPtr(successMessage(res.job, res.outcome)),
			RecordsProcessed: res.outcome.RecordsProcessed,
			TotalRecords:     res.outcome.TotalRecords,
		}
		job, ok, rejected := r.writeTerminal(wctx, res.job, logger, func(cur *model.Job) (*model.Job, error) {
			return r.jobs.Succeed(wctx, cur, r.actor, m)
		})
		if rejected == nil {
			if !ok {
				return job, terminalOutcome(job)
			}
			return job, outcomeCompleted
		}
		logger.ErrorContext(ctx, "action outcome rejected by the store", "error", rejected)
		outcomeRejected = true
		res = attemptResult{
			job:      job,
			err:      action.Unrecoverable(fmt.Errorf("record outcome: %w", rejected)),
			attempts: res.attempts,
		}
	}

	switch {
	case errors.Is(res.err, service.ErrJobCancelled):
		logger.InfoContext(ctx, "job cancelled while processing; stopping")
		return r.reload(wctx, res.job, logger), outcomeCancelled

	case leaseLost || errors.Is(res.err, service.ErrJobNotOwned):
		logger.WarnContext(ctx, "job is no longer owned by this dispatcher", "error", res.err)
		return nil, outcomeLost
	}

	details := model.ErrorDetails{
		Code:      model.ErrorCodeActionFailed,
		Message:   res.err.Error(),
		Class:     obserrors.Classify(res.err),
		Attempts:  res.attempts,
		Retryable: action.IsRecoverable(res.err),
	}
	outcome := outcomeFailed
	switch {
	case ctx.Err() != nil:
		details.Code = model.ErrorCodeShutdown
		details.Message = fmt.Sprintf("dispatcher shut down during attempt %d", res.attempts)
		details.Retryable = true
		outcome = outcomeShutdown
	case res.exhausted:
		details.Code = model.ErrorCodeRetriesExhausted
		details.Retryable = true
	case errors.Is(res.err, action.ErrInvalidParameters):
		details.Code = model.ErrorCodeInvalidParams
	case outcomeRejected:
		details.Code = model.ErrorCodeInvalidOutcome
	}
	m := model.JobMutation{Message: stringPtr(failureMessage(res.job.Kind, details.Message))}

	logger.ErrorContext(ctx, "job failed",
		"code", details.Code,
		"attempts", details.Attempts,
		"retryable", details.Retryable,
		"error", res.err,
	)
	job, ok, rejected := r.writeTerminal(wctx, res.job, logger, func(cur *model.Job) (*model.Job, error) {
		return r.jobs.Fail(wctx, cur, r.actor, details, m)
	})
	if rejected != nil {
		logger.ErrorContext(ctx, "failure write rejected; lease expiry will fail the job", "error", rejected)
		return nil, outcomeLost
	}
	if !ok {
		return job, terminalOutcome(job)
	}
	return job, outcome
}

// writeTerminal retries write against fresh reads until it lands or the job is no longer
// PROCESSING. The boolean reports whether this runner's write was applied. A validation
// error cannot succeed on retry; it is returned with the job as last read.
func (r *Runner) writeTerminal(
	ctx context.Context,
	job *model.Job,
	logger *slog.Logger,
	write func(cur *model.Job) (*model.Job, error),
) (*model.Job, bool, error) {
	cur := job
	var lastErr error
	for i := range maxFinishAttempts {
		updated, err := write(cur)
		var auditErr *service.AuditWriteFailure
		if err == nil || (errors.As(err, &auditErr) && updated != nil) {
			return updated, true, nil
		}
		if apperrors.IsValidation(err) {
			return cur, false, err
		}
		lastErr = err
		if !errors.Is(err, core.ErrJobConflict) {
			logger.WarnContext(ctx, "terminal write failed; retrying", "attempt", i+1, "error", err)
			sleep(ctx, finishRetryDelay*time.Duration(i+1))
		}
		fresh, gerr := r.jobs.Get(ctx, cur.Kind, cur.ID)
		if gerr != nil {
			lastErr = gerr
			continue
		}
		if fresh.Status != model.JobStatusProcessing {
			logger.InfoContext(ctx, "job left processing before terminal write", "status", fresh.Status)
			return fresh, false, nil
		}
		cur = fresh
	}
	logger.ErrorContext(ctx, "terminal write abandoned; lease expiry will fail the job", "error", lastErr)
	return nil, false, nil
}

func (r *Runner) reload(ctx context.Context, job *model.Job, logger *slog.Logger) *model.Job {
	fresh, err := r.jobs.Get(ctx, job.Kind, job.ID)
	if err != nil {
		logger.WarnContext(ctx, "reload job", "error", err)
		return nil
	}
	return fresh
}

func terminalOutcome(job *model.Job) string {
	if job == nil {
		return outcomeLost
	}
	switch job.Status {
	case model.JobStatusCancelled:
		return outcomeCancelled
	case model.JobStatusCompleted:
		return outcomeCompleted
	case model.JobStatusFailed:
		return outcomeFailed
	default:
		return outcomeLost
	}
}

// deliverCallback POSTs the completion notice of a terminal import job. Delivery failures
// are reported but never change the job.
func (r *Runner) deliverCallback(ctx context.Context, job *model.Job, logger *slog.Logger) {
	if r.callbacks == nil || job.Kind != model.JobKindImport || job.CallbackURL == nil || !job.Status.Terminal() {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
	defer cancel()
	if err := r.callbacks.SendCallback(cctx, *job.CallbackURL, job.CallbackPayload()); err != nil {
		r.jobs.NotifyCallbackFailure(cctx, job, err)
		return
	}
	metrics.EmitCount(r.metrics, metrics.CallbackDelivery, string(job.Kind), map[string]string{"result": metrics.ResultSuccess})
	logger.DebugContext(ctx, "callback delivered", "status", job.Status)
}

func successMessage(job *model.Job, out action.Outcome) string {
	if out.Message != "" {
		return out.Message
	}
	if job.Kind == model.JobKindImport && out.RecordsProcessed != nil {
		return fmt.Sprintf("Successfully imported %d records", *out.RecordsProcessed)
	}
	return "Job completed"
}

func failureMessage(kind model.JobKind, reason string) string {
	if kind == model.JobKindImport {
		return "Import failed: " + reason
	}
	return "Transfer failed: " + reason
}

func stringPtr(s string) *string { return &s }
