package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/store"
)

func (s *Server) listAudiences(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	q := r.URL.Query()
	list, err := s.deps.Store.ListAudiences(r.Context(), store.AudienceFilter{
		SourceID:   q.Get("source_id"),
		ActiveOnly: q.Get("active") == "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.Audience{}
	}
	for _, a := range list {
		s.refreshTrackers(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"audiences": list})
}

func (s *Server) getAudience(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Store.GetAudience(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.refreshTrackers(*a)
	writeJSON(w, http.StatusOK, a)
}

// refreshTrackers hands a freshly read row to any live progress streams of
// its job, which may be behind the store.
func (s *Server) refreshTrackers(a model.Audience) {
	if s.deps.Progress != nil {
		s.deps.Progress.Observe(a.JobID, a.Progress)
	}
}
