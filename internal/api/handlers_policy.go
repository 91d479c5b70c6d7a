package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prefctl/prefctl/internal/adaptation"
	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/store"
)

// handleGetAdaptationPolicy implements GET /admin/agents/:agent/policy,
// creating the manual/opt-out default if the agent has no policy yet.
func (s *Server) handleGetAdaptationPolicy(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	policy, err := s.policies.GetOrCreatePolicy(r.Context(), agent)
	if err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

type enableAdaptationRequest struct {
	MinConfidence     float64           `json:"minConfidence,omitempty"`
	AllowedRiskLevels []store.RiskLevel `json:"allowedRiskLevels,omitempty"`
	CooldownMs        int64             `json:"cooldownMs,omitempty"`
	RateLimit         store.RateLimit   `json:"rateLimit,omitempty"`
}

// handleEnableAdaptation implements POST /admin/agents/:agent/policy/enable,
// restricted to admins via requireRole("policy_admin").
func (s *Server) handleEnableAdaptation(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	var req enableAdaptationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, errs.CodeValidation, "invalid request body", nil)
		return
	}
	err := s.policies.EnableAutoAdaptation(r.Context(), agent, adaptation.EnableOptions{
		MinConfidence:     req.MinConfidence,
		AllowedRiskLevels: req.AllowedRiskLevels,
		CooldownMs:        req.CooldownMs,
		RateLimit:         req.RateLimit,
	})
	if err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// handleDisableAdaptation implements POST /admin/agents/:agent/policy/disable.
func (s *Server) handleDisableAdaptation(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	if err := s.policies.DisableAutoAdaptation(r.Context(), agent); err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

// handleProcessSuggestion implements POST /admin/suggestions/:id/process:
// runs a pending suggestion through AttemptService's auto-adaptation gate
// on demand, rather than waiting for the next feedback-triggered batch.
func (s *Server) handleProcessSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sp, err := s.store.GetSuggestion(r.Context(), id)
	if err != nil {
		writeError(w, r, errs.CodeNotFound, "suggestion not found", nil)
		return
	}
	result, err := s.attempts.ProcessSuggestion(r.Context(), *sp)
	if err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
