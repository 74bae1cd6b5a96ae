package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

// handleListEntities returns every registered entity.
func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	entities := s.entities.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// handleGetEntity returns one entity by ID.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeBadRequest(w, "entity id is required")
		return
	}

	ent, err := s.entities.Get(id)
	switch {
	case errors.Is(err, entity.ErrUnknownEntity):
		writeNotFound(w, "entity not found: "+id)
		return
	case err != nil:
		writeInternalError(w, "failed to load entity")
		return
	}

	writeJSON(w, http.StatusOK, ent)
}
