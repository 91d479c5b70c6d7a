package api

import (
	"net/http"
	"time"

	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/projection"
)

// handleAudit implements GET /admin/audit (spec §6): ?since,until,type,agent,
// defaulting to the last 30 days and capping at a 90-day window.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	since, err := parseOptionalTime(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, r, errs.CodeValidation, "since must be RFC3339", nil)
		return
	}
	until, err := parseOptionalTime(r.URL.Query().Get("until"))
	if err != nil {
		writeError(w, r, errs.CodeValidation, "until must be RFC3339", nil)
		return
	}

	resolvedSince, resolvedUntil, err := projection.ResolveAuditWindow(since, until, time.Now())
	if err != nil {
		writeError(w, r, errs.CodeValidation, err.Error(), nil)
		return
	}

	filter := projection.AuditFilter{
		Since:     resolvedSince,
		Until:     resolvedUntil,
		EventType: r.URL.Query().Get("type"),
		Agent:     r.URL.Query().Get("agent"),
	}

	rows, page, err := s.projections.Audit(r.Context(), filter, queryInt(r, "page", 1), queryInt(r, "pageSize", 25))
	if err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeList(w, rows, page)
}

// parseOptionalTime parses an RFC3339 timestamp, returning the zero Time
// for an empty string so callers can tell "absent" from "invalid".
func parseOptionalTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
