package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// One container serves every test in the package process; the testcontainers reaper
// removes it when the process exits.
var (
	containerOnce sync.Once
	containerConn string
	containerErr  error
)

func ensureContainer() error {
	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		pg, err := postgres.Run(ctx,
			getEnvOrDefault("TEST_DB_IMAGE", "postgres:16-alpine"),
			postgres.WithDatabase("recordflow_test"),
			postgres.WithUsername("recordflow"),
			postgres.WithPassword("recordflow"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerConn, containerErr = pg.ConnectionString(ctx, "sslmode=disable")
	})
	return containerErr
}

// containerDSN returns the DSN of the started container, or "" when none is running.
func containerDSN() string {
	if !envBool("TEST_DB_CONTAINER") || containerErr != nil {
		return ""
	}
	return containerConn
}
