package api

import (
	"sync"
	"time"

	"github.com/sells-group/audience-cli/internal/wizard"
)

type session struct {
	w       *wizard.Wizard
	touched time.Time
}

// sessions holds the open wizards by id along with when each was last used.
type sessions struct {
	mu  sync.Mutex
	m   map[string]*session
	now func() time.Time
}

func newSessions() *sessions {
	return &sessions{m: make(map[string]*session), now: time.Now}
}

func (s *sessions) add(w *wizard.Wizard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[w.ID()] = &session{w: w, touched: s.now()}
}

// get returns the wizard and marks it used.
func (s *sessions) get(id string) (*wizard.Wizard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return nil, false
	}
	e.touched = s.now()
	return e.w, true
}

func (s *sessions) remove(id string) (*wizard.Wizard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return nil, false
	}
	delete(s.m, id)
	return e.w, true
}

// sweep cancels and drops every session untouched for longer than ttl and
// returns how many were evicted.
func (s *sessions) sweep(ttl time.Duration) int {
	s.mu.Lock()
	cutoff := s.now().Add(-ttl)
	var idle []*wizard.Wizard
	for id, e := range s.m {
		if e.touched.Before(cutoff) {
			idle = append(idle, e.w)
			delete(s.m, id)
		}
	}
	s.mu.Unlock()

	for _, w := range idle {
		w.Cancel()
	}
	return len(idle)
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
