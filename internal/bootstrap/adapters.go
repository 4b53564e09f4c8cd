package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/target/recordflow/config"
	"github.com/target/recordflow/internal/adapters/actions"
	"github.com/target/recordflow/internal/adapters/ehr"
	"github.com/target/recordflow/internal/adapters/jobrunner"
	"github.com/target/recordflow/internal/adapters/reaper"
	"github.com/target/recordflow/internal/data/cryptoutil"
	"github.com/target/recordflow/internal/domain/action"
	"github.com/target/recordflow/internal/domain/model"
	"github.com/target/recordflow/internal/observability/statsd"
	"github.com/target/recordflow/internal/service"
)

// DispatcherConfig contains configuration for the import and transfer dispatchers.
type DispatcherConfig struct {
	Services ServiceContainer
	Dispatch config.DispatchConfig
	Callback config.CallbackConfig
	Logger   *slog.Logger
	// WorkerID prefixes audit actors; defaults to the hostname.
	WorkerID string
}

// RunDispatcher runs one job runner per kind with a positive concurrency and returns when
// all of them have stopped. The first runner error cancels the others.
func RunDispatcher(ctx context.Context, cfg DispatcherConfig) error {
	if cfg.Services.Jobs == nil {
		return errors.New("dispatcher requires a JobService")
	}
	if cfg.Services.Records == nil {
		return errors.New("dispatcher requires a MedicalRecordRepository")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := ehr.NewClient(ehr.Options{
		HTTPClient:        &http.Client{Timeout: cfg.Callback.Timeout},
		Logger:            logger,
		RequestsPerSecond: cfg.Callback.RequestsPerSecond,
		Burst:             cfg.Callback.Burst,
		MaxFetchBytes:     cfg.Callback.MaxFetchBytes,
	})
	pseudonymizer, err := buildPseudonymizer(cfg.Dispatch, logger)
	if err != nil {
		return err
	}

	actionsByKind, err := buildActions(cfg.Services, client, pseudonymizer, logger)
	if err != nil {
		return err
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = defaultWorkerID()
	}
	retry := cfg.Dispatch.RetryPolicy()

	g, gctx := errgroup.WithContext(ctx)
	started := 0
	for _, kind := range model.AllJobKinds() {
		concurrency := cfg.Dispatch.Concurrency(kind)
		if concurrency <= 0 {
			logger.InfoContext(ctx, "dispatcher disabled for kind", "kind", kind)
			continue
		}
		runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
			Jobs:         cfg.Services.Jobs,
			Kind:         kind,
			Action:       actionsByKind[kind],
			Callbacks:    client,
			Logger:       logger,
			Metrics:      cfg.Services.Observability.Metrics(),
			WorkerID:     workerID,
			Lease:        cfg.Dispatch.Lease,
			Concurrency:  concurrency,
			PollInterval: cfg.Dispatch.PollInterval,
			BatchSize:    cfg.Dispatch.BatchSize,
			Retry:        &retry,
		})
		if err != nil {
			return fmt.Errorf("create %s runner: %w", kind, err)
		}
		started++
		g.Go(func() error {
			if runErr := runner.Run(gctx); runErr != nil {
				return fmt.Errorf("run %s runner: %w", kind, runErr)
			}
			return nil
		})
	}
	if started == 0 {
		return errors.New("no job kinds enabled for dispatch")
	}
	return g.Wait()
}

// buildPseudonymizer returns nil when no key is configured; anonymized jobs then fail
// permanently in their action.
//
//nolint:ireturn // the actions take the Pseudonymizer port
func buildPseudonymizer(cfg config.DispatchConfig, logger *slog.Logger) (cryptoutil.Pseudonymizer, error) {
	if cfg.AnonymizeKey == "" {
		logger.Warn("DISPATCH_ANONYMIZE_KEY is empty; anonymized jobs will fail")
		return nil, nil
	}
	p, err := cryptoutil.NewHMACPseudonymizer([]byte(cfg.AnonymizeKey), cfg.AnonymizeFields)
	if err != nil {
		return nil, fmt.Errorf("configure pseudonymizer: %w", err)
	}
	return p, nil
}

func buildActions(
	svc ServiceContainer,
	client *ehr.Client,
	pseudonymizer cryptoutil.Pseudonymizer,
	logger *slog.Logger,
) (map[model.JobKind]action.Action, error) {
	transfer, err := actions.NewTransfer(actions.TransferOptions{
		Records:       svc.Records,
		Pusher:        client,
		Pseudonymizer: pseudonymizer,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create transfer action: %w", err)
	}
	imp, err := actions.NewImport(actions.ImportOptions{
		Records:       svc.Records,
		Fetcher:       client,
		Pseudonymizer: pseudonymizer,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create import action: %w", err)
	}
	return map[model.JobKind]action.Action{
		model.JobKindTransfer: transfer,
		model.JobKindImport:   imp,
	}, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return ""
	}
	return host
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Jobs    *service.JobService
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Jobs:    cfg.Jobs,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
