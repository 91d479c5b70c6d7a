package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/adaptation"
	"github.com/prefctl/prefctl/internal/approval"
	"github.com/prefctl/prefctl/internal/auth"
	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/explanation"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/projection"
	"github.com/prefctl/prefctl/internal/registry"
	"github.com/prefctl/prefctl/internal/store/memory"
	"github.com/prefctl/prefctl/internal/suggestion"
)

// testServer wires a Server over a fresh in-memory store and a single
// seeded admin/operator/auditor credential, matching veerababumanyam-
// MediSync's pattern of building the full dependency graph once per test
// rather than mocking individual collaborators.
func testServer(t *testing.T) (*Server, map[string]string) {
	t.Helper()

	st := memory.New()
	reg := registry.New()
	bus := eventbus.New(nil)
	observability := obs.Null()

	policies := adaptation.NewPolicyService(st, reg, observability)
	attempts := adaptation.NewAttemptService(policies, st, st, reg, bus, observability)
	suggestions := suggestion.New(st, st, reg, bus, suggestion.Thresholds{}, observability)
	escalations := approval.NewEscalationApprovalService(st, st, st, st, bus, observability)
	rollbacks := approval.NewRollbackService(attempts, st, st, st, st, observability)
	projections := projection.NewService(st)
	explanations := explanation.NewService(st, st, st, st)

	tokens, err := auth.NewTokenManager([]byte("test-signing-secret"), time.Hour, 24*time.Hour, nil)
	require.NoError(t, err)

	creds := auth.NewStaticCredentialStore(map[string]auth.Credential{
		"admin":    {UserID: "user-admin", Role: auth.RoleAdmin, Salt: "s", PasswordHash: auth.HashPassword("s", "adminpass")},
		"operator": {UserID: "user-operator", Role: auth.RoleOperator, Salt: "s", PasswordHash: auth.HashPassword("s", "operatorpass")},
		"auditor":  {UserID: "user-auditor", Role: auth.RoleAuditor, Salt: "s", PasswordHash: auth.HashPassword("s", "auditorpass")},
	})

	srv := NewServer(DefaultConfig(), Deps{
		Store: st, Tokens: tokens, Credentials: creds,
		Suggestions: suggestions, AttemptSvc: attempts, PolicySvc: policies,
		Escalations: escalations, Rollbacks: rollbacks,
		Projections: projections, Explanations: explanations,
		Bus: bus, Observability: observability,
	})

	bearer := map[string]string{}
	for user, pass := range map[string]string{"admin": "adminpass", "operator": "operatorpass", "auditor": "auditorpass"} {
		tok := login(t, srv, user, pass)
		bearer[user] = tok.AccessToken
	}
	return srv, bearer
}

func login(t *testing.T, srv *Server, username, password string) tokenResponse {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var tok tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	return tok
}

func doJSON(srv *Server, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLogin_InvalidCredentialsReturns401(t *testing.T) {
	srv, _ := testServer(t)
	body, _ := json.Marshal(loginRequest{Username: "admin", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRefreshLogout_RoundTrip(t *testing.T) {
	srv, bearer := testServer(t)
	require.NotEmpty(t, bearer["admin"])

	tok := login(t, srv, "admin", "adminpass")

	rec := doJSON(srv, http.MethodPost, "/admin/auth/refresh", "", refreshRequest{RefreshToken: tok.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var refreshed tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	require.NotEqual(t, tok.RefreshToken, refreshed.RefreshToken)

	rec = doJSON(srv, http.MethodPost, "/admin/auth/logout", "", logoutRequest{RefreshToken: refreshed.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/admin/auth/refresh", "", refreshRequest{RefreshToken: refreshed.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMissingBearerToken_Returns401(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(srv, http.MethodGet, "/admin/preferences", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestAuditorForbiddenFromApprove covers the auditor-403 scenario (spec
// §8 scenario 8): an auditor JWT calling an approve-gated route gets 403
// FORBIDDEN with a correlationId present.
func TestAuditorForbiddenFromApprove(t *testing.T) {
	srv, bearer := testServer(t)

	rec := doJSON(srv, http.MethodPost, "/admin/suggestions/sugg-1/approve", bearer["auditor"], approveSuggestionRequest{AgentType: "coach"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "FORBIDDEN", string(body["error"].Code))
	require.NotEmpty(t, body["error"].CorrelationID)
}

func TestAuditorCanRead(t *testing.T) {
	srv, bearer := testServer(t)
	rec := doJSON(srv, http.MethodGet, "/admin/preferences", bearer["auditor"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorCanApproveButNotRollback(t *testing.T) {
	srv, bearer := testServer(t)

	rec := doJSON(srv, http.MethodPost, "/admin/preferences/rollback", bearer["operator"],
		rollbackRequest{AgentType: "coach", PreferenceKey: "tone.formality", Reason: "test"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

// TestIdempotentRejectReplaysResponse covers spec §8 scenario 9: a
// retried reject with the same Idempotency-Key gets the stored response
// back rather than re-executing.
func TestIdempotentRejectReplaysResponse(t *testing.T) {
	srv, bearer := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/suggestions/missing-id/reject",
		bytes.NewReader(mustJSON(rejectSuggestionRequest{AgentType: "coach", Reason: "no longer needed"})))
	req.Header.Set("Authorization", "Bearer "+bearer["admin"])
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "dup-key-1")
	rec1 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec1, req)

	req2 := httptest.NewRequest(http.MethodPost, "/admin/suggestions/missing-id/reject",
		bytes.NewReader(mustJSON(rejectSuggestionRequest{AgentType: "coach", Reason: "no longer needed"})))
	req2.Header.Set("Authorization", "Bearer "+bearer["admin"])
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("Idempotency-Key", "dup-key-1")
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)

	require.Equal(t, rec1.Code, rec2.Code)
	require.Equal(t, rec1.Body.String(), rec2.Body.String())
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func TestAuditWindow_InvertedRangeIsRejected(t *testing.T) {
	srv, bearer := testServer(t)
	rec := doJSON(srv, http.MethodGet, "/admin/audit?since=2026-02-01T00:00:00Z&until=2026-01-01T00:00:00Z", bearer["admin"], nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditWindow_DefaultsAndSucceeds(t *testing.T) {
	srv, bearer := testServer(t)
	rec := doJSON(srv, http.MethodGet, "/admin/audit", bearer["admin"], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data       []json.RawMessage `json:"data"`
		Pagination Pagination        `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Pagination.Page)
}

func TestPagination_ClampsPageSize(t *testing.T) {
	srv, bearer := testServer(t)
	rec := doJSON(srv, http.MethodGet, "/admin/preferences?pageSize=1000", bearer["admin"], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Pagination Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.LessOrEqual(t, body.Pagination.PageSize, 100)
}

func TestExplanation_UnknownIDReturns404(t *testing.T) {
	srv, bearer := testServer(t)
	rec := doJSON(srv, http.MethodGet, "/admin/explanations/does-not-exist", bearer["admin"], nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
