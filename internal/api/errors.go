package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"contenthub/internal/auth"
	"contenthub/internal/observability/logging"
	"contenthub/internal/storage"
	"contenthub/internal/uploads"
	"contenthub/internal/validation"
)

var (
	errInvalidBody      = errors.New("Invalid request body")
	errInternal         = errors.New("Internal server error")
	errInvalidLogin     = errors.New("Invalid credentials")
	errMissingLoginData = errors.New("Username and password are required")
)

type validationResponse struct {
	Errors []validation.Violation `json:"errors"`
}

// writeServiceError maps domain errors onto status codes. Unrecognised
// errors are logged and reported as a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		violations validation.Errors
		badUpload  uploads.BadRequestError
		storageErr *storage.StorageError
	)
	switch {
	case errors.As(err, &violations):
		writeJSON(w, http.StatusBadRequest, validationResponse{Errors: violations})
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, auth.ErrForbidden)
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, auth.ErrUnauthenticated)
	case errors.As(err, &badUpload):
		writeError(w, http.StatusBadRequest, badUpload)
	case errors.As(err, &storageErr):
		h.requestLogger(r).Error("storage operation failed", "op", storageErr.Op, "error", storageErr.Err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": storageErr.Message})
	case errors.Is(err, context.Canceled):
		// Client went away; nobody is left to read a response.
		h.requestLogger(r).Info("request cancelled", "error", err)
	default:
		h.requestLogger(r).Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	if logger := logging.LoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return logging.WithContext(r.Context(), h.logger())
}
