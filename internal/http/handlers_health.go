package httpx

import (
	"context"
	"io"
	"net/http"
	"time"
)

const (
	healthResponse    = `{"status":"ok"}`
	unhealthyResponse = `{"status":"unavailable"}`
	healthTimeout     = 2 * time.Second
)

// HealthCheck reports whether a dependency (usually the database) is reachable.
type HealthCheck func(ctx context.Context) error

// newHealthHandler returns a readiness/liveness handler. A nil check always reports ok.
func newHealthHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, healthResponse
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				status, body = http.StatusServiceUnavailable, unhealthyResponse
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.WriteString(w, body); err != nil {
			// Nothing more to do if the client connection is gone.
			return
		}
	}
}
