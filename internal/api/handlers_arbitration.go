package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prefctl/prefctl/internal/errs"
)

// handleListArbitrations implements GET /admin/arbitrations (spec §6):
// paginated, filterable by ?escalated=.
func (s *Server) handleListArbitrations(w http.ResponseWriter, r *http.Request) {
	rows, page, err := s.projections.Arbitrations(r.Context(),
		queryBool(r, "escalated"), queryInt(r, "page", 1), queryInt(r, "pageSize", 25))
	if err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeList(w, rows, page)
}

// handlePendingEscalations implements GET /admin/escalations/pending.
func (s *Server) handlePendingEscalations(w http.ResponseWriter, r *http.Request) {
	rows, page, err := s.projections.PendingEscalations(r.Context(),
		queryInt(r, "page", 1), queryInt(r, "pageSize", 25))
	if err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeList(w, rows, page)
}

type approveEscalationRequest struct {
	ApprovedBy         string `json:"approvedBy,omitempty"`
	SelectedProposalID string `json:"selectedProposalId,omitempty"`
}

// handleApproveEscalation implements POST /admin/escalations/:id/approve.
func (s *Server) handleApproveEscalation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approveEscalationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, errs.CodeValidation, "malformed request body", nil)
		return
	}
	approvedBy := req.ApprovedBy
	if approvedBy == "" {
		if claims := claimsFrom(r.Context()); claims != nil {
			approvedBy = claims.Subject
		}
	}

	if err := s.escalations.ApproveEscalatedDecision(r.Context(), id, approvedBy, req.SelectedProposalID); err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

type rejectEscalationRequest struct {
	Reason     string `json:"reason"`
	RejectedBy string `json:"rejectedBy,omitempty"`
}

// handleRejectEscalation implements POST /admin/escalations/:id/reject.
func (s *Server) handleRejectEscalation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rejectEscalationRequest
	if err := decodeJSON(r, &req); err != nil || req.Reason == "" {
		writeError(w, r, errs.CodeValidation, "reason is required", nil)
		return
	}
	rejectedBy := req.RejectedBy
	if rejectedBy == "" {
		if claims := claimsFrom(r.Context()); claims != nil {
			rejectedBy = claims.Subject
		}
	}

	if err := s.escalations.RejectEscalatedDecision(r.Context(), id, rejectedBy); err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

type arbitrationRollbackRequest struct {
	Reason string `json:"reason"`
}

// handleRollbackArbitration implements POST /admin/arbitrations/:id/rollback.
func (s *Server) handleRollbackArbitration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req arbitrationRollbackRequest
	if err := decodeJSON(r, &req); err != nil || req.Reason == "" {
		writeError(w, r, errs.CodeValidation, "reason is required", nil)
		return
	}
	if err := s.rollbacks.RollbackByDecision(r.Context(), id, req.Reason); err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	s.obs.Metrics.Rollbacks.WithLabelValues("arbitration").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}
