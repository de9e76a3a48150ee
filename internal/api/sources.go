package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/audience-cli/internal/catalog"
)

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
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

	srcs, err := s.deps.Sources.Search(r.Context(), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": srcs})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.deps.Sources.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) listSizeMethods(w http.ResponseWriter, _ *http.Request) {
	methods := s.deps.SizeMethods
	if methods == nil {
		methods = catalog.SizeMethods{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"size_methods": methods})
}
