package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/domain/model"
)

const (
	statusCachePrefix     = "recordflow:job_status:"
	defaultStatusCacheTTL = 30 * time.Second
)

// StatusCacheOptions groups dependencies for StatusCache.
type StatusCacheOptions struct {
	Cache  core.CacheRepository // Required
	TTL    time.Duration        // Optional: defaults to 30s
	Logger *slog.Logger         // Optional
}

// StatusCache is a write-through read cache for job status polling. The store stays the
// source of truth; cache errors are logged and treated as misses. Entries are written with
// the job version, so a write carrying an older version never replaces a newer one.
type StatusCache struct {
	cache  core.CacheRepository
	ttl    time.Duration
	logger *slog.Logger
}

// NewStatusCache returns nil when no cache repository is configured; a nil *StatusCache is
// a valid, always-missing cache.
func NewStatusCache(opts StatusCacheOptions) *StatusCache {
	if opts.Cache == nil {
		return nil
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultStatusCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusCache{cache: opts.Cache, ttl: ttl, logger: logger.With("component", "status_cache")}
}

func statusCacheKey(kind model.JobKind, id string) string {
	return statusCachePrefix + string(kind) + ":" + id
}

// Get returns the cached status view of a job.
func (c *StatusCache) Get(ctx context.Context, kind model.JobKind, id string) (*model.JobStatusResponse, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, statusCacheKey(kind, id))
	if err != nil {
		c.logger.DebugContext(ctx, "status cache read failed", "job_id", id, "error", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}
	var resp model.JobStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.DebugContext(ctx, "status cache entry unreadable", "job_id", id, "error", err)
		return nil, false
	}
	return &resp, true
}

// Put stores the status view of job unless the cache already holds a newer version of it.
// Terminal jobs are cached for ten times the TTL since they can no longer change.
func (c *StatusCache) Put(ctx context.Context, job *model.Job) {
	if c == nil || job == nil {
		return
	}
	raw, err := json.Marshal(job.StatusResponse())
	if err != nil {
		c.logger.DebugContext(ctx, "status cache encode failed", "job_id", job.ID, "error", err)
		return
	}
	ttl := c.ttl
	if job.Status.Terminal() {
		ttl *= 10
	}
	written, err := c.cache.SetIfNewer(ctx, statusCacheKey(job.Kind, job.ID), job.Version, raw, ttl)
	if err != nil {
		c.logger.DebugContext(ctx, "status cache write failed", "job_id", job.ID, "error", err)
		return
	}
	if !written {
		c.logger.DebugContext(ctx, "status cache kept newer entry", "job_id", job.ID, "version", job.Version)
	}
}

// Invalidate removes one job from the cache.
func (c *StatusCache) Invalidate(ctx context.Context, kind model.JobKind, id string) {
	if c == nil {
		return
	}
	if _, err := c.cache.Delete(ctx, statusCacheKey(kind, id)); err != nil {
		c.logger.DebugContext(ctx, "status cache delete failed", "job_id", id, "error", err)
	}
}

// Clear drops every cached job status and returns the number of removed entries.
func (c *StatusCache) Clear(ctx context.Context) (int, error) {
	if c == nil {
		return 0, nil
	}
	return c.cache.DeleteByPrefix(ctx, statusCachePrefix)
}
