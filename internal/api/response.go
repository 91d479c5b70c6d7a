// Package api implements the Admin Control Plane (spec §4.J, §6): a
// chi-routed HTTP surface over the decision-plane services, running every
// request through timeout guard → correlation-id binding → JWT auth →
// role authorization → validation → idempotency → handler → metrics →
// standardized response. Grounded on the teacher's internal/api package
// (server wiring, writeJSON/writeError response shape, WebSocketHub) and
// on veerababumanyam-MediSync's internal/api/handlers + middleware
// packages for the chi.Router-per-resource and middleware-chain style.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/projection"
)

// Pagination mirrors spec §6's list envelope {page,pageSize,total,totalPages}.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func paginationOf(p projection.Page) Pagination {
	return Pagination{Page: p.Page, PageSize: p.PageSize, Total: p.Total, TotalPages: p.TotalPages}
}

// writeJSON writes a successful response body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeList writes spec §6's list envelope: {data:[...], pagination:{...}}.
func writeList(w http.ResponseWriter, data interface{}, page projection.Page) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       data,
		"pagination": paginationOf(page),
	})
}

type errorBody struct {
	Code          errs.Code              `json:"code"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlationId"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// writeError writes spec §4.J's error envelope: {error:{code,message,
// correlationId,details?}}, deriving the HTTP status from code.
func writeError(w http.ResponseWriter, r *http.Request, code errs.Code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]errorBody{
		"error": {Code: code, Message: message, CorrelationID: obs.CorrelationID(r.Context()), Details: details},
	})
}

// writeServiceError unwraps a *errs.ServiceError if err is one, else falls
// back to CodeInternal — every handler funnels its error return through
// this so an un-annotated error never leaks its Go error string to a
// client (spec §7: "Internal ... 500, log with correlationId and stack").
func writeServiceError(w http.ResponseWriter, r *http.Request, o *obs.Context, err error) {
	if se, ok := err.(*errs.ServiceError); ok {
		writeError(w, r, se.Code, se.Message, se.Details)
		return
	}
	o.Logger.Error("unhandled internal error", "error", err, "correlation_id", obs.CorrelationID(r.Context()))
	writeError(w, r, errs.CodeInternal, "internal error", nil)
}

// queryInt reads an integer query parameter, matching the teacher's
// queryInt helper; an unparseable or absent value falls back to
// defaultVal rather than erroring, since pagination is always clamped
// further downstream by internal/projection.
func queryInt(r *http.Request, key string, defaultVal int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// decodeJSON decodes r's body into dst, rejecting unknown fields per spec
// §4.J validation rules ("mutations reject unknown fields").
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
