package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/store"
)

// sseWriter writes Server-Sent Events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, eris.New("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) event(name string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "sse: marshal event")
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return eris.Wrap(err, "sse: write event")
	}
	s.flusher.Flush()
	return nil
}

type progressEvent struct {
	model.JobProgress
	Percent  float64 `json:"percent"`
	Terminal bool    `json:"terminal"`
}

// streamProgress follows one job over SSE. The stream starts from the
// persisted progress, emits a "progress" event every time the merged value
// grows and ends with "complete" once the job finishes.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))

	var initial model.ProgressSample
	a, err := s.deps.Store.GetAudience(r.Context(), jobID)
	switch {
	case err == nil:
		initial = a.Progress
	case errors.Is(err, store.ErrNotFound):
	default:
		s.fail(w, r, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	t := s.deps.Progress.Attach(r.Context(), jobID, initial)
	defer t.Close()

	for p := range t.Updates() {
		ev := progressEvent{JobProgress: p, Percent: p.Percent(), Terminal: p.Terminal()}
		if err := sse.event("progress", ev); err != nil {
			s.log.Debug("progress stream closed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
	}

	if final := t.Progress(); final.Terminal() {
		sse.event("complete", model.JobProgress{JobID: jobID, ProgressSample: final}) //nolint:errcheck
	}
}

type pushRequest struct {
	JobID     string `json:"job_id"`
	Processed int64  `json:"processed"`
	Total     int64  `json:"total"`
}

// pushProgress accepts server-initiated progress samples and fans them out
// to the trackers listening for the job.
func (s *Server) pushProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebhookSecret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.WebhookSecret)) != 1 {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
			return
		}
	}

	var req pushRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}
	if req.Processed < 0 || req.Total < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "processed and total must be non-negative")
		return
	}

	n := s.deps.Hub.Publish(req.JobID, model.ProgressSample{Processed: req.Processed, Total: req.Total})
	writeJSON(w, http.StatusAccepted, map[string]int{"listeners": n})
}
