package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/wizard"
)

func (s *Server) createWizard(w http.ResponseWriter, _ *http.Request) {
	wz := wizard.New(s.deps.Gateway, s.deps.Sources,
		wizard.WithSizeMethods(s.deps.SizeMethods),
		wizard.WithSelectionSize(s.deps.SelectionSize),
	)
	s.sessions.add(wz)
	writeJSON(w, http.StatusCreated, wz.State())
}

// session resolves the wizard named in the path or writes a 404.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*wizard.Wizard, bool) {
	wz, ok := s.sessions.get(chi.URLParam(r, "wizardID"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "not_found", "wizard not found")
	}
	return wz, ok
}

// act runs fn against the session wizard and responds with its state.
func (s *Server) act(w http.ResponseWriter, r *http.Request, fn func(*wizard.Wizard) error) {
	wz, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := fn(wz); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wz.State())
}

func (s *Server) getWizard(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, func(*wizard.Wizard) error { return nil })
}

func (s *Server) cancelWizard(w http.ResponseWriter, r *http.Request) {
	wz, ok := s.sessions.remove(chi.URLParam(r, "wizardID"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "not_found", "wizard not found")
		return
	}
	wz.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) selectSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string `json:"source_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.act(w, r, func(wz *wizard.Wizard) error { return wz.SelectSource(r.Context(), req.SourceID) })
}

func (s *Server) selectSizeMethod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SizeMethodID string `json:"size_method_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.act(w, r, func(wz *wizard.Wizard) error { return wz.SelectSizeMethod(req.SizeMethodID) })
}

func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, (*wizard.Wizard).Next)
}

func (s *Server) back(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, (*wizard.Wizard).Back)
}

func (s *Server) calculate(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, func(wz *wizard.Wizard) error { return wz.Calculate(r.Context()) })
}

func (s *Server) toggleFeature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.act(w, r, func(wz *wizard.Wizard) error { return wz.ToggleFeature(req.Key) })
}

func (s *Server) reorderFeature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.act(w, r, func(wz *wizard.Wizard) error { return wz.ReorderFeature(req.From, req.To) })
}

func (s *Server) undoFeatures(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, (*wizard.Wizard).UndoFeatures)
}

func (s *Server) setName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.act(w, r, func(wz *wizard.Wizard) error { return wz.SetName(req.Name) })
}

// submit creates the job, records the audience and discards the session.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	wz, ok := s.session(w, r)
	if !ok {
		return
	}
	job, err := wz.Submit(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sessions.remove(wz.ID())

	st := wz.State()
	if a, ok := st.Audience(); ok {
		if _, err := s.deps.Store.CreateAudience(r.Context(), a); err != nil {
			s.log.Error("failed to record audience",
				zap.String("job_id", job.JobID),
				zap.Error(err),
			)
		}
	}
	writeJSON(w, http.StatusCreated, st)
}
