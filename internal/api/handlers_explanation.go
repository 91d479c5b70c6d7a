package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/store"
)

// handleExplanation implements GET /admin/explanations/:id (spec §6,
// §4.H: "returns unified explanation"). The id space is shared between
// arbitration decisions and auto-adaptation attempts, so an arbitration
// lookup is tried first and an adaptation lookup only on a not-found,
// rather than requiring callers to know which kind of id they hold.
func (s *Server) handleExplanation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	explanation, err := s.explanations.ExplainArbitration(r.Context(), id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			writeServiceError(w, r, s.obs, err)
			return
		}
		explanation, err = s.explanations.ExplainAdaptation(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, r, errs.CodeNotFound, "no arbitration decision or adaptation attempt found for id "+id, nil)
				return
			}
			writeServiceError(w, r, s.obs, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, explanation)
}
