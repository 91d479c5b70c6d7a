package api

import (
	"net/http"

	"github.com/prefctl/prefctl/internal/errs"
)

// handleListPreferences implements GET /admin/preferences (spec §6):
// paginated, filterable by ?agent=.
func (s *Server) handleListPreferences(w http.ResponseWriter, r *http.Request) {
	rows, page, err := s.projections.Preferences(r.Context(),
		r.URL.Query().Get("agent"), queryInt(r, "page", 1), queryInt(r, "pageSize", 25))
	if err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeList(w, rows, page)
}

type rollbackRequest struct {
	AgentType      string `json:"agentType"`
	PreferenceKey  string `json:"preferenceKey"` // "category.key"
	Reason         string `json:"reason"`
}

// handlePreferenceRollback implements POST /admin/preferences/rollback
// (spec §6): {agentType, preferenceKey, reason}, idempotent.
func (s *Server) handlePreferenceRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, errs.CodeValidation, "malformed request body", nil)
		return
	}
	category, key, ok := splitScopeKey(req.PreferenceKey)
	if req.AgentType == "" || !ok {
		writeError(w, r, errs.CodeValidation, "agentType and a \"category.key\" preferenceKey are required", nil)
		return
	}

	if err := s.rollbacks.RollbackByPreference(r.Context(), req.AgentType, category, key, req.Reason); err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	s.obs.Metrics.Rollbacks.WithLabelValues("preference").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}

// splitScopeKey parses "category.key" into its two parts.
func splitScopeKey(scopeKey string) (category, key string, ok bool) {
	for i := 0; i < len(scopeKey); i++ {
		if scopeKey[i] == '.' {
			return scopeKey[:i], scopeKey[i+1:], scopeKey[:i] != "" && scopeKey[i+1:] != ""
		}
	}
	return "", "", false
}
