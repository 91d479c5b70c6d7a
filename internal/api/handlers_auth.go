package api

import (
	"net/http"

	"github.com/prefctl/prefctl/internal/errs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// handleLogin implements POST /admin/auth/login (spec §6).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, errs.CodeValidation, "malformed request body", nil)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, errs.CodeValidation, "username and password are required", nil)
		return
	}

	userID, role, ok := s.creds.Authenticate(req.Username, req.Password)
	if !ok {
		s.obs.Metrics.AuthFailures.WithLabelValues("bad_credentials").Inc()
		writeError(w, r, errs.CodeAuthInvalid, "invalid username or password", nil)
		return
	}

	pair, err := s.tokens.Issue(userID, role)
	if err != nil {
		writeServiceError(w, r, s.obs, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken,
		ExpiresIn: pair.ExpiresIn, TokenType: pair.TokenType,
	})
}

// handleRefresh implements POST /admin/auth/refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, r, errs.CodeValidation, "refreshToken is required", nil)
		return
	}

	pair, err := s.tokens.Refresh(req.RefreshToken)
	if err != nil {
		writeError(w, r, errs.CodeAuthInvalid, "invalid or expired refresh token", nil)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken,
		ExpiresIn: pair.ExpiresIn, TokenType: pair.TokenType,
	})
}

// handleLogout implements POST /admin/auth/logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, r, errs.CodeValidation, "refreshToken is required", nil)
		return
	}
	if err := s.tokens.Logout(req.RefreshToken); err != nil {
		writeError(w, r, errs.CodeAuthInvalid, "invalid refresh token", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
