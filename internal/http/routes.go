package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/recordflow/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs *service.JobService
	// APIKeys are accepted in the X-API-Key header.
	APIKeys []string
	// AllowAnonymous skips API key checks; only honored in dev mode by the caller.
	AllowAnonymous bool
	// MaxBodyBytes caps request bodies on API routes; zero disables the cap.
	MaxBodyBytes int64
	// Health backs /healthz. Optional.
	Health HealthCheck
	Logger *slog.Logger
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs, Logger: logger}
	api := chain(
		RequireAPIKey(APIKeyOptions{Keys: services.APIKeys, AllowAnonymous: services.AllowAnonymous}),
		LimitBody(services.MaxBodyBytes),
	)

	registerImportRoutes(mux, jobHandlers, api)
	registerTransferRoutes(mux, jobHandlers, api)
	registerQueryRoutes(mux, jobHandlers, api)

	health := newHealthHandler(services.Health)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	return mux
}

func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

func registerImportRoutes(mux *http.ServeMux, h *JobHandlers, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /api/imports", wrap(http.HandlerFunc(h.CreateImport)))
	mux.Handle("GET /api/imports/{id}", wrap(http.HandlerFunc(h.GetImport)))
	mux.Handle("POST /api/imports/{id}/cancel", wrap(http.HandlerFunc(h.CancelImport)))
}

func registerTransferRoutes(mux *http.ServeMux, h *JobHandlers, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /api/transfers", wrap(http.HandlerFunc(h.CreateTransfer)))
	mux.Handle("GET /api/transfers/{id}", wrap(http.HandlerFunc(h.GetTransfer)))
}

func registerQueryRoutes(mux *http.ServeMux, h *JobHandlers, wrap func(http.Handler) http.Handler) {
	mux.Handle("GET /api/records/{id}/transfers", wrap(http.HandlerFunc(h.ListRecordTransfers)))
	mux.Handle("GET /api/organizations/{id}/jobs", wrap(http.HandlerFunc(h.ListOrganizationJobs)))
	mux.Handle("GET /api/organizations/{id}/jobs/active", wrap(http.HandlerFunc(h.CountOrganizationActiveJobs)))
	mux.Handle("GET /api/jobs/stats", wrap(http.HandlerFunc(h.Stats)))
}
