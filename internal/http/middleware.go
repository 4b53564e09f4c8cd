package httpx

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"
)

// APIKeyHeader carries the client credential on every /api request.
const APIKeyHeader = "X-API-Key"

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			}
			if client, ok := ClientFromContext(ww.ctxOrRequest(r).Context()); ok {
				attrs = append(attrs, slog.String("client", client))
			}
			logger.InfoContext(r.Context(), "http", attrs...)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
	// authed is the request as seen after authentication, so the log line can name the client.
	authed *http.Request
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *respWriter) ctxOrRequest(r *http.Request) *http.Request {
	if w.authed != nil {
		return w.authed
	}
	return r
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					WriteError(w, ErrorParams{
						Code:    http.StatusInternalServerError,
						ErrCode: "internal",
						Err:     errors.New("internal server error"),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyOptions configures RequireAPIKey.
type APIKeyOptions struct {
	Keys []string
	// AllowAnonymous lets requests without a key through. Intended for local development.
	AllowAnonymous bool
}

// RequireAPIKey returns a middleware that rejects requests whose X-API-Key header does not
// match one of the configured keys. The matched key is recorded in the context as
// "api:key-<n>" (1-based position in the configuration) so audit entries never carry the
// secret itself.
func RequireAPIKey(opts APIKeyOptions) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(opts.Keys))
	for _, k := range opts.Keys {
		keys = append(keys, []byte(k))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(APIKeyHeader)
			if presented == "" && opts.AllowAnonymous {
				next.ServeHTTP(w, r)
				return
			}
			if presented == "" {
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "authentication_required",
					Err:     errors.New("missing " + APIKeyHeader + " header"),
				})
				return
			}

			idx := matchKey(keys, []byte(presented))
			if idx < 0 {
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "invalid_api_key",
					Err:     errors.New("invalid API key"),
				})
				return
			}

			authed := r.WithContext(SetClientInContext(r.Context(), "api:key-"+strconv.Itoa(idx+1)))
			if rw, ok := w.(*respWriter); ok {
				rw.authed = authed
			}
			next.ServeHTTP(w, authed)
		})
	}
}

// matchKey compares against every key so timing does not reveal which one matched.
func matchKey(keys [][]byte, presented []byte) int {
	match := -1
	for i, k := range keys {
		if subtle.ConstantTimeCompare(k, presented) == 1 && match < 0 {
			match = i
		}
	}
	return match
}

// LimitBody caps request bodies at maxBytes.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
