package jobrunner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/target/recordflow/internal/domain/action"
	"github.com/target/recordflow/internal/domain/model"
	"github.com/target/recordflow/internal/service"
)

// progressReporter persists action progress and tracks the latest version of the job.
// Only loss of ownership is reported back to the action; other write failures are logged
// since progress is advisory.
type progressReporter struct {
	jobs   *service.JobService
	logger *slog.Logger

	mu  sync.Mutex
	job *model.Job
}

var _ action.Progress = (*progressReporter)(nil)

func newProgressReporter(jobs *service.JobService, job *model.Job, logger *slog.Logger) *progressReporter {
	return &progressReporter{jobs: jobs, job: job, logger: logger}
}

// Report implements action.Progress.
func (p *progressReporter) Report(ctx context.Context, processed int, total *int, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	updated, err := p.jobs.ReportProgress(ctx, p.job, processed, total, message)
	if err == nil {
		p.job = updated
		return nil
	}
	if isStop(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	p.logger.WarnContext(ctx, "progress update failed", "processed", processed, "error", err)
	return nil
}

// Job returns the most recent version written by this reporter.
func (p *progressReporter) Job() *model.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job
}
