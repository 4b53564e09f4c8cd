// Package reaper provides adapters for running the lease reaper.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/recordflow/config"
	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/data"
	"github.com/target/recordflow/internal/observability/statsd"
	"github.com/target/recordflow/internal/service"
)

// Runner provides a simple adapter to run the reaper loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Jobs   *service.JobService
	Config config.ReaperConfig
	Logger *slog.Logger

	// Optional dependency injection for testing/decoupling
	Repo    core.JobRepository
	Locker  core.ReaperLocker
	Metrics statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	reaper, err := wireReaperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}
	return &Runner{reaper: reaper, logger: opts.Logger}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.Repo == nil || opts.Locker == nil) {
		return errors.New("database connection or Repo and Locker are required")
	}
	if opts.Jobs == nil {
		return errors.New("JobService is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireReaperService falls back to the Postgres job store, which also provides the
// advisory sweep lock.
func wireReaperService(opts RunnerOptions) (*service.ReaperService, error) {
	repo, locker := opts.Repo, opts.Locker
	if repo == nil || locker == nil {
		jobRepo := data.NewJobRepo(opts.DB, data.RepoConfig{})
		if repo == nil {
			repo = jobRepo
		}
		if locker == nil {
			locker = jobRepo
		}
	}
	return service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repo,
		Locker:  locker,
		Jobs:    opts.Jobs,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}

// Sweep runs a single pass, e.g. from the admin CLI.
func (r *Runner) Sweep(ctx context.Context) (service.SweepResult, error) {
	return r.reaper.Sweep(ctx)
}
