package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cosmo-home/cosmocore/internal/engine"
	"github.com/cosmo-home/cosmocore/internal/rule"
)

// ruleView is a rule plus its live engine state.
type ruleView struct {
	*rule.Rule
	Suspended bool `json:"suspended"`
}

// handleListRules returns every rule with its suspension state.
func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules := s.rules.List()
	views := make([]ruleView, 0, len(rules))
	for _, rl := range rules {
		views = append(views, ruleView{Rule: rl, Suspended: s.engine.Suspended(rl.ID)})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": views,
		"count": len(views),
	})
}

// handleGetRule returns one rule by ID.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rl, err := s.rules.Get(id)
	switch {
	case errors.Is(err, rule.ErrNotFound):
		writeNotFound(w, "rule not found: "+id)
		return
	case err != nil:
		writeInternalError(w, "failed to load rule")
		return
	}

	writeJSON(w, http.StatusOK, ruleView{Rule: rl, Suspended: s.engine.Suspended(rl.ID)})
}

// handleSuspendRule stops a rule from firing until resumed.
func (s *Server) handleSuspendRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.engine.Suspend(id); err != nil {
		if errors.Is(err, engine.ErrRuleNotFound) {
			writeNotFound(w, "rule not found: "+id)
			return
		}
		writeInternalError(w, "failed to suspend rule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "suspended": true})
}

// handleResumeRule re-enables a suspended rule.
func (s *Server) handleResumeRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.engine.Resume(id); err != nil {
		if errors.Is(err, engine.ErrRuleNotFound) {
			writeNotFound(w, "rule not found: "+id)
			return
		}
		writeInternalError(w, "failed to resume rule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "suspended": false})
}
