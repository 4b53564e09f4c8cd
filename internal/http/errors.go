package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/domain/lifecycle"
	apperrors "github.com/target/recordflow/internal/errors"
	"github.com/target/recordflow/internal/service"
)

// errorStatus maps a service error to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Code.HTTPStatus(), string(appErr.Code)
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, core.ErrRecordNotFound):
		return http.StatusNotFound, string(apperrors.ErrCodeNotFound)
	case errors.Is(err, core.ErrJobConflict):
		return http.StatusConflict, string(apperrors.ErrCodeConflict)
	case errors.Is(err, lifecycle.ErrTerminalState):
		return http.StatusConflict, string(apperrors.ErrCodeTerminalState)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, string(apperrors.ErrCodeInvalidTransition)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, string(apperrors.ErrCodeTimeout)
	default:
		return http.StatusInternalServerError, string(apperrors.ErrCodeInternal)
	}
}

// writeServiceError writes err as a JSON error. Internal errors are logged and replaced by a
// generic message so storage details do not leak to clients.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code, errCode := errorStatus(err)
	if code >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		err = errors.New(http.StatusText(code))
	}
	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err, Field: apperrors.GetField(err)})
}

// isAuditFailure reports whether the change was persisted but its audit entry was not.
func isAuditFailure(err error) bool {
	var af *service.AuditWriteFailure
	return errors.As(err, &af)
}
