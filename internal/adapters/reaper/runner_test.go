package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/recordflow/config"
	"github.com/target/recordflow/internal/domain/model"
	"github.com/target/recordflow/internal/service"
	"github.com/target/recordflow/internal/testutil"
)

func TestNewRunner(t *testing.T) {
	store := testutil.NewMemJobStore()
	jobs := service.MustNewJobService(service.JobServiceOptions{Repo: store})

	_, err := NewRunner(RunnerOptions{Jobs: jobs})
	require.ErrorContains(t, err, "database connection")

	_, err = NewRunner(RunnerOptions{Repo: store, Locker: store})
	require.ErrorContains(t, err, "JobService is required")

	r, err := NewRunner(RunnerOptions{Repo: store, Locker: store, Jobs: jobs})
	require.NoError(t, err)
	assert.NotNil(t, r.logger)
}

func TestRunner_SweepFailsExpiredJobs(t *testing.T) {
	store := testutil.NewMemJobStore()
	jobs := service.MustNewJobService(service.JobServiceOptions{Repo: store})
	ctx := context.Background()

	job, err := jobs.Create(ctx, testutil.NewImportRequest().Build())
	require.NoError(t, err)
	_, err = jobs.Start(ctx, job.Ref(), "dispatcher:gone", time.Second)
	require.NoError(t, err)
	store.Now = func() time.Time { return time.Now().Add(time.Minute) }

	r, err := NewRunner(RunnerOptions{
		Repo:   store,
		Locker: store,
		Jobs:   jobs,
		Config: config.ReaperConfig{Interval: time.Second, BatchSize: 10},
	})
	require.NoError(t, err)

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reaped)

	got := store.MustGet(model.JobKindImport, job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetails)
	assert.Equal(t, model.ErrorCodeLeaseExpired, got.ErrorDetails.Code)
}
