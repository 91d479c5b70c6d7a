package api

import (
	"net/http"

	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/feedback"
)

type captureFeedbackRequest struct {
	DecisionRecordID string                 `json:"decisionRecordId"`
	UserAccepted     bool                   `json:"userAccepted"`
	UserFeedback     string                 `json:"userFeedback,omitempty"`
	ActualResult     string                 `json:"actualResult,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty"`
}

// handleCaptureFeedback implements POST /admin/feedback: records a
// human's reaction to a decision and, once enough feedback has
// accumulated for that agent, runs suggestion analysis and (when
// AttemptSvc is wired into the feedback Service) auto-adaptation on the
// results.
func (s *Server) handleCaptureFeedback(w http.ResponseWriter, r *http.Request) {
	var req captureFeedbackRequest
	if err := decodeJSON(r, &req); err != nil || req.DecisionRecordID == "" {
		writeError(w, r, errs.CodeValidation, "decisionRecordId is required", nil)
		return
	}

	result := s.feedback.CaptureFeedback(r.Context(), feedback.Input{
		DecisionRecordID: req.DecisionRecordID,
		UserAccepted:     req.UserAccepted,
		UserFeedback:     req.UserFeedback,
		ActualResult:     req.ActualResult,
		Context:          req.Context,
	})
	if !result.Success {
		writeError(w, r, result.Err.Code, result.Err.Message, result.Err.Details)
		return
	}
	writeJSON(w, http.StatusOK, result.Data)
}
