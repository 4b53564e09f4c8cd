package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/target/recordflow/config"
	"github.com/target/recordflow/internal/bootstrap"
	"github.com/target/recordflow/internal/data"
	"github.com/target/recordflow/internal/service"
)

// connectInfra connects Postgres and, when the status cache is enabled, Redis.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel support flexible.
func connectInfra(logger *slog.Logger, cfg *config.AppConfig) (*sql.DB, redis.UniversalClient, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close db: %w", closeErr))
		}
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return db, redisClient, nil
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

func runCacheClear(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("cache-clear", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !cmdCtx.Config.Redis.Enabled {
		return errors.New("redis is not enabled (REDIS_ENABLED=false); nothing to clear")
	}

	confirm := simpleConfirmOptions{
		yes:     *yes,
		warning: "WARNING: every cached job status will be removed; pollers fall back to Postgres until repopulated.",
	}
	if err := confirmAction(confirm, "clear the job status cache"); err != nil {
		return err
	}

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cmdCtx.Config.Redis, Logger: cmdCtx.Logger})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if closeErr := closeInfra(nil, redisClient); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	cache := service.NewStatusCache(service.StatusCacheOptions{
		Cache:  data.NewRedisCacheRepo(redisClient),
		Logger: cmdCtx.Logger,
	})
	n, err := cache.Clear(cmdCtx.Ctx)
	if err != nil {
		return fmt.Errorf("clear status cache: %w", err)
	}
	cmdCtx.Logger.Info("status cache cleared", "keys_deleted", n)
	return nil
}
