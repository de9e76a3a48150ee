package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/catalog"
	"github.com/sells-group/audience-cli/internal/features"
	"github.com/sells-group/audience-cli/internal/store"
	"github.com/sells-group/audience-cli/internal/wizard"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	payload := map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		payload["request_id"] = id
	}
	writeJSON(w, status, payload)
}

// errorStatus maps domain errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, catalog.ErrUnknownSource),
		errors.Is(err, catalog.ErrUnknownSizeMethod),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, wizard.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, wizard.ErrClosed):
		return http.StatusConflict, "closed"
	case errors.Is(err, wizard.ErrNothingToUndo):
		return http.StatusConflict, "nothing_to_undo"
	case errors.Is(err, wizard.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, wizard.ErrEmptyMatchSet):
		return http.StatusUnprocessableEntity, "empty_match_set"
	case errors.Is(err, features.ErrIndexOutOfRange),
		errors.Is(err, features.ErrUnknownFeature):
		return http.StatusBadRequest, "invalid_feature"
	case errors.Is(err, wizard.ErrCalculationFailed):
		return http.StatusBadGateway, "calculation_failed"
	case errors.Is(err, wizard.ErrSubmissionFailed):
		return http.StatusBadGateway, "submission_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, r, status, code, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid request body")
		return false
	}
	return true
}

// queryInt parses a non-negative integer query parameter, returning def
// when absent.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
