package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/store"
)

// handleListSuggestions implements GET /admin/suggestions (spec §6):
// paginated, filterable by ?status= and ?agent=.
func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	status := store.SuggestionStatus(r.URL.Query().Get("status"))
	rows, page, err := s.projections.Suggestions(r.Context(),
		r.URL.Query().Get("agent"), status, queryInt(r, "page", 1), queryInt(r, "pageSize", 25))
	if err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeList(w, rows, page)
}

type approveSuggestionRequest struct {
	AgentType string `json:"agentType"`
}

// handleApproveSuggestion implements POST /admin/suggestions/:id/approve.
func (s *Server) handleApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approveSuggestionRequest
	if err := decodeJSON(r, &req); err != nil || req.AgentType == "" {
		writeError(w, r, errs.CodeValidation, "agentType is required", nil)
		return
	}
	if err := s.suggestions.ApproveSuggestion(r.Context(), req.AgentType, id); err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

type rejectSuggestionRequest struct {
	AgentType string `json:"agentType"`
	Reason    string `json:"reason"`
}

// handleRejectSuggestion implements POST /admin/suggestions/:id/reject.
func (s *Server) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rejectSuggestionRequest
	if err := decodeJSON(r, &req); err != nil || req.AgentType == "" {
		writeError(w, r, errs.CodeValidation, "agentType is required", nil)
		return
	}
	if err := s.suggestions.RejectSuggestion(r.Context(), req.AgentType, id, req.Reason); err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}
