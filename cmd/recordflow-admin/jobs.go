package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/recordflow/internal/adapters/reaper"
	"github.com/target/recordflow/internal/bootstrap"
	"github.com/target/recordflow/internal/domain/model"
	"github.com/target/recordflow/internal/service"
)

type jobRefOptions struct {
	Kind    model.JobKind
	ID      string
	RawJSON bool
	Yes     bool
	Actor   string
}

func parseJobRefFlags(name string, args []string) (jobRefOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobRefOptions
	var kind string
	fs.StringVar(&kind, "kind", string(model.JobKindImport), "Job kind (transfer or import)")
	fs.StringVar(&opts.ID, "id", "", "Job ID")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print the raw job JSON")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	fs.StringVar(&opts.Actor, "actor", "admin-cli", "Actor recorded in the audit log")

	if err := fs.Parse(args); err != nil {
		return jobRefOptions{}, err
	}

	opts.Kind = model.JobKind(strings.ToLower(strings.TrimSpace(kind)))
	if !opts.Kind.Valid() {
		return jobRefOptions{}, fmt.Errorf("--kind must be transfer or import (got %q)", kind)
	}
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return jobRefOptions{}, errors.New("--id is required")
	}
	opts.Actor = strings.TrimSpace(opts.Actor)
	if opts.Actor == "" {
		return jobRefOptions{}, errors.New("--actor cannot be empty")
	}
	return opts, nil
}

// withServices connects Postgres (and Redis when enabled) and builds the same JobService the
// server runs, so admin changes are cached, audited and notified identically.
func withServices(cmdCtx *commandContext, timeout time.Duration, f func(context.Context, bootstrap.ServiceContainer) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, timeout)
	defer cancel()

	db, redisClient, err := connectInfra(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeInfra(db, redisClient); closeErr != nil {
			cmdCtx.Logger.Warn("close infrastructure failed", "error", closeErr)
		}
	}()

	services := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		DB:          db,
		RedisClient: redisClient,
		Logger:      cmdCtx.Logger,
	})
	return f(ctx, services)
}

func runJobShow(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobRefFlags("job-show", args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		job, getErr := svc.Jobs.Get(ctx, opts.Kind, opts.ID)
		if getErr != nil {
			return getErr
		}
		if opts.RawJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}
		return printJob(os.Stdout, job)
	})
}

func runJobCancel(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobRefFlags("job-cancel", args)
	if err != nil {
		return err
	}
	if opts.Kind != model.JobKindImport {
		return errors.New("only import jobs can be cancelled")
	}
	confirm := simpleConfirmOptions{yes: opts.Yes, target: "import job " + opts.ID}
	if confirmErr := confirmAction(confirm, "cancel"); confirmErr != nil {
		return confirmErr
	}

	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		job, cancelErr := svc.Jobs.Cancel(ctx, opts.Kind, opts.ID, opts.Actor)
		var auditErr *service.AuditWriteFailure
		if cancelErr != nil && !(job != nil && errors.As(cancelErr, &auditErr)) {
			return cancelErr
		}
		if cancelErr != nil {
			cmdCtx.Logger.Warn("job cancelled but audit entry was not written", "job_id", job.ID, "error", cancelErr)
		}
		cmdCtx.Logger.Info("job cancelled", "job_id", job.ID, "status", job.Status, "version", job.Version)
		return nil
	})
}

func runJobStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("job-stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	kind := fs.String("kind", "", "Limit to one job kind (transfer or import)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	kinds := model.AllJobKinds()
	if k := model.JobKind(strings.ToLower(strings.TrimSpace(*kind))); k != "" {
		if !k.Valid() {
			return fmt.Errorf("--kind must be transfer or import (got %q)", *kind)
		}
		kinds = []model.JobKind{k}
	}

	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		stats := make([]*model.JobStats, 0, len(kinds))
		for _, k := range kinds {
			s, statsErr := svc.Jobs.Stats(ctx, k)
			if statsErr != nil {
				return statsErr
			}
			stats = append(stats, s)
		}
		return printStats(os.Stdout, stats)
	})
}

func runReaperSweep(cmdCtx *commandContext, _ []string) error {
	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		runner, err := reaper.NewRunner(reaper.RunnerOptions{
			Repo:    svc.JobRepo,
			Locker:  svc.JobRepo,
			Jobs:    svc.Jobs,
			Config:  cmdCtx.Config.Reaper,
			Logger:  cmdCtx.Logger,
			Metrics: svc.Observability.Metrics(),
		})
		if err != nil {
			return fmt.Errorf("create reaper: %w", err)
		}
		res, err := runner.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		return writef(os.Stdout, "reaped=%d skipped=%d locked=%d\n", res.Reaped, res.Skipped, res.Locked)
	})
}

func printJob(w io.Writer, job *model.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"ID", job.ID},
		{"Kind", string(job.Kind)},
		{"Status", string(job.Status)},
		{"Source org", job.SourceOrgID},
		{"Destination org", job.DestinationOrgID},
		{"Version", fmt.Sprint(job.Version)},
		{"Attempts", fmt.Sprint(job.Attempts)},
		{"Progress", formatProgress(job)},
		{"Created", job.CreatedAt.Format(time.RFC3339)},
		{"Updated", job.UpdatedAt.Format(time.RFC3339)},
	}
	if job.RecordID != nil {
		rows = append(rows, [2]string{"Record", *job.RecordID})
	}
	if job.CompletedAt != nil {
		rows = append(rows, [2]string{"Completed", job.CompletedAt.Format(time.RFC3339)})
	}
	if job.LeaseExpiresAt != nil {
		rows = append(rows, [2]string{"Lease expires", job.LeaseExpiresAt.Format(time.RFC3339)})
	}
	if job.ErrorDetails != nil {
		rows = append(rows, [2]string{"Error", job.ErrorDetails.Code + ": " + job.ErrorDetails.Message})
	}
	for _, row := range rows {
		if err := writef(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return fmt.Errorf("write job row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush job table: %w", err)
	}
	return printAuditLog(w, job.AuditLog)
}

func formatProgress(job *model.Job) string {
	if job.TotalRecords == nil {
		return fmt.Sprintf("%d", job.RecordsProcessed)
	}
	return fmt.Sprintf("%d/%d", job.RecordsProcessed, *job.TotalRecords)
}

func printAuditLog(w io.Writer, entries []model.AuditEntry) error {
	if err := writef(w, "\nAudit log (%d entries)\n", len(entries)); err != nil {
		return fmt.Errorf("write audit header: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "TIME\tACTOR\tEVENT\tFROM\tTO\tATTEMPT\tDETAIL"); err != nil {
		return fmt.Errorf("write audit header row: %w", err)
	}
	for _, e := range entries {
		detail := e.Detail
		if detail == "" {
			detail = "-"
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Actor, e.Event, e.FromStatus, e.ToStatus, e.Attempt, detail); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush audit table: %w", err)
	}
	return nil
}

func printStats(w io.Writer, stats []*model.JobStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "KIND\tPENDING\tPROCESSING\tCOMPLETED\tFAILED\tCANCELLED"); err != nil {
		return fmt.Errorf("write stats header: %w", err)
	}
	for _, s := range stats {
		if err := writef(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
			s.Kind, s.Pending, s.Processing, s.Completed, s.Failed, s.Cancelled); err != nil {
			return fmt.Errorf("write stats row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush stats table: %w", err)
	}
	return nil
}
