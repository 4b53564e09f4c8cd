package httpx

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		opts       APIKeyOptions
		header     string
		wantCode   int
		wantClient string
	}{
		{
			name:       "first key",
			opts:       APIKeyOptions{Keys: []string{"alpha", "beta"}},
			header:     "alpha",
			wantCode:   http.StatusNoContent,
			wantClient: "api:key-1",
		},
		{
			name:       "second key",
			opts:       APIKeyOptions{Keys: []string{"alpha", "beta"}},
			header:     "beta",
			wantCode:   http.StatusNoContent,
			wantClient: "api:key-2",
		},
		{
			name:     "missing",
			opts:     APIKeyOptions{Keys: []string{"alpha"}},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "prefix of a key",
			opts:     APIKeyOptions{Keys: []string{"alpha"}},
			header:   "alp",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "anonymous allowed",
			opts:     APIKeyOptions{AllowAnonymous: true},
			wantCode: http.StatusNoContent,
		},
		{
			name:     "anonymous still checks presented keys",
			opts:     APIKeyOptions{Keys: []string{"alpha"}, AllowAnonymous: true},
			header:   "wrong",
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotClient string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotClient, _ = ClientFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			})

			r := httptest.NewRequest(http.MethodGet, "/api/imports/x", nil)
			if tt.header != "" {
				r.Header.Set(APIKeyHeader, tt.header)
			}
			w := httptest.NewRecorder()

			RequireAPIKey(tt.opts)(next).ServeHTTP(w, r)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantClient, gotClient)
		})
	}
}

func TestLogging_IncludesClient(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Logging(logger)(RequireAPIKey(APIKeyOptions{Keys: []string{"k"}})(next))

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil)
	r.Header.Set(APIKeyHeader, "k")
	h.ServeHTTP(httptest.NewRecorder(), r)

	out := buf.String()
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "client=api:key-1")
	assert.NotContains(t, out, "=k ")
}

func TestRecover(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"internal"`)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestLimitBody(t *testing.T) {
	var target map[string]any
	h := LimitBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !DecodeJSON(w, r, &target) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("small body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		w := httptest.NewRecorder()
		body := `{"a":"` + strings.Repeat("x", 64) + `"}`
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("zero disables the cap", func(t *testing.T) {
		unlimited := LimitBody(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if DecodeJSON(w, r, &target) {
				w.WriteHeader(http.StatusNoContent)
			}
		}))
		w := httptest.NewRecorder()
		body := `{"a":"` + strings.Repeat("x", 64) + `"}`
		unlimited.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
