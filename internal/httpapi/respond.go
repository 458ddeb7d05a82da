package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/artifactflow/artifactflow/internal/artifacts"
	"github.com/artifactflow/artifactflow/internal/auth"
	"github.com/artifactflow/artifactflow/internal/controller"
	"github.com/artifactflow/artifactflow/internal/conversations"
)

// apiError is the wire form of a failure.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: apiError{Code: code, Message: message}})
}

// writeDomainError maps store and controller failures onto the error
// taxonomy: validation 400, missing entities 404, duplicates and live
// runs 409, ownership 403. Anything unrecognized is an internal error
// with the detail kept server-side.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, controller.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, controller.ErrResumeMismatch), errors.Is(err, auth.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, controller.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, controller.ErrRunInProgress):
		writeError(w, http.StatusConflict, "run_in_progress", err.Error())
	case errors.Is(err, controller.ErrNotSuspended):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, conversations.ErrConversationNotFound),
		errors.Is(err, conversations.ErrMessageNotFound),
		errors.Is(err, artifacts.ErrSessionNotFound),
		errors.Is(err, artifacts.ErrArtifactNotFound),
		errors.Is(err, artifacts.ErrVersionNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, conversations.ErrDuplicateConversation),
		errors.Is(err, conversations.ErrDuplicateMessage),
		errors.Is(err, auth.ErrDuplicateUser):
		writeError(w, http.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	default:
		s.logger.Error(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.RecordError("httpapi", "internal")
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// decodeJSON reads the request body into dst, rejecting unknown junk
// loudly enough to debug a client.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// parsePage reads limit/offset query parameters with bounds.
func parsePage(r *http.Request) (limit, offset int) {
	limit = DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
