package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/recordflow/internal/domain/model"
	"github.com/target/recordflow/internal/mocks"
	"github.com/target/recordflow/internal/mocks/memory"
	"go.uber.org/mock/gomock"
)

func TestStatusCache_NilIsAlwaysMiss(t *testing.T) {
	c := NewStatusCache(StatusCacheOptions{})
	require.Nil(t, c)

	ctx := context.Background()
	c.Put(ctx, &model.Job{ID: "job-1", Kind: model.JobKindImport})
	_, ok := c.Get(ctx, model.JobKindImport, "job-1")
	assert.False(t, ok)
	c.Invalidate(ctx, model.JobKindImport, "job-1")
	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusCache_PutGet(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	backing := memory.NewCache()
	backing.Now = func() time.Time { return now }
	c := NewStatusCache(StatusCacheOptions{Cache: backing, TTL: time.Minute})
	ctx := context.Background()

	total := 10
	msg := "Import in progress"
	c.Put(ctx, &model.Job{
		ID: "job-1", Kind: model.JobKindImport, Status: model.JobStatusProcessing,
		Message: &msg, RecordsProcessed: 4, TotalRecords: &total,
	})

	got, ok := c.Get(ctx, model.JobKindImport, "job-1")
	require.True(t, ok)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Equal(t, 4, got.RecordsProcessed)
	assert.Equal(t, 10, *got.TotalRecords)

	_, ok = c.Get(ctx, model.JobKindTransfer, "job-1")
	assert.False(t, ok, "kinds do not share keys")

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, model.JobKindImport, "job-1")
	assert.False(t, ok, "non-terminal entries expire after the TTL")
}

func TestStatusCache_TerminalJobsLiveLonger(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	backing := memory.NewCache()
	backing.Now = func() time.Time { return now }
	c := NewStatusCache(StatusCacheOptions{Cache: backing, TTL: time.Minute})
	ctx := context.Background()

	c.Put(ctx, &model.Job{ID: "job-1", Kind: model.JobKindTransfer, Status: model.JobStatusCompleted})

	now = now.Add(5 * time.Minute)
	_, ok := c.Get(ctx, model.JobKindTransfer, "job-1")
	assert.True(t, ok)
}

func TestStatusCache_InvalidateAndClear(t *testing.T) {
	backing := memory.NewCache()
	c := NewStatusCache(StatusCacheOptions{Cache: backing})
	ctx := context.Background()

	c.Put(ctx, &model.Job{ID: "a", Kind: model.JobKindImport, Status: model.JobStatusPending})
	c.Put(ctx, &model.Job{ID: "b", Kind: model.JobKindImport, Status: model.JobStatusPending})
	c.Put(ctx, &model.Job{ID: "c", Kind: model.JobKindTransfer, Status: model.JobStatusPending})
	require.NoError(t, backing.Set(ctx, "unrelated", []byte("x"), 0))

	c.Invalidate(ctx, model.JobKindImport, "a")
	_, ok := c.Get(ctx, model.JobKindImport, "a")
	assert.False(t, ok)

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, backing.Len())
}

func TestStatusCache_BackendErrorsAreMisses(t *testing.T) {
	ctrl := gomock.NewController(t)
	backing := mocks.NewMockCacheRepository(ctrl)
	c := NewStatusCache(StatusCacheOptions{Cache: backing})
	ctx := context.Background()

	backing.EXPECT().Get(ctx, "recordflow:job_status:import:job-1").Return(nil, errors.New("redis: connection pool timeout"))
	_, ok := c.Get(ctx, model.JobKindImport, "job-1")
	assert.False(t, ok)

	backing.EXPECT().Get(ctx, "recordflow:job_status:import:job-2").Return([]byte("{not json"), nil)
	_, ok = c.Get(ctx, model.JobKindImport, "job-2")
	assert.False(t, ok)

	backing.EXPECT().SetIfNewer(ctx, "recordflow:job_status:import:job-3", int64(1), gomock.Any(), 30*time.Second).
		Return(false, errors.New("READONLY"))
	c.Put(ctx, &model.Job{ID: "job-3", Kind: model.JobKindImport, Status: model.JobStatusPending, Version: 1})
}

func TestStatusCache_OlderVersionDoesNotReplaceNewer(t *testing.T) {
	c := NewStatusCache(StatusCacheOptions{Cache: memory.NewCache(), TTL: time.Minute})
	ctx := context.Background()

	c.Put(ctx, &model.Job{ID: "job-1", Kind: model.JobKindImport, Status: model.JobStatusCancelled, Version: 5})
	c.Put(ctx, &model.Job{ID: "job-1", Kind: model.JobKindImport, Status: model.JobStatusProcessing, Version: 4, RecordsProcessed: 3})

	got, ok := c.Get(ctx, model.JobKindImport, "job-1")
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.Zero(t, got.RecordsProcessed)

	c.Put(ctx, &model.Job{ID: "job-1", Kind: model.JobKindImport, Status: model.JobStatusCancelled, Version: 5, RecordsProcessed: 3})
	got, ok = c.Get(ctx, model.JobKindImport, "job-1")
	require.True(t, ok)
	assert.Equal(t, 3, got.RecordsProcessed, "the same version rewrites the entry")
}
