// Package auth implements JWT issuance and verification for the admin
// control plane (spec §4.J): signed access/refresh token pairs carrying
// `sub` (userId) and `role`, with refresh tokens tracked server-side by
// `jti` so they can be revoked. Grounded on the teacher's internal/auth
// rotating-token-with-TTL shape and RBAC table, generalized from the
// teacher's raw hex secrets to signed JWTs per spec §4.J/§6.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the admin API's access level (spec §4.J "Roles").
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleAuditor  Role = "auditor"
)

// HasPermission reports whether role may perform action. admin can do
// everything; operator can read and approve but not modify arbitration
// policy or roll back; auditor is read-only.
func HasPermission(role Role, action string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOperator:
		switch action {
		case "read", "approve":
			return true
		default:
			return false
		}
	case RoleAuditor:
		return action == "read"
	default:
		return false
	}
}

// Claims is the JWT payload minted for an access token.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenPair is returned by Login/Refresh (spec §6 auth endpoints).
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds
	TokenType    string
}

// refreshRecord is what the TokenManager keeps server-side per issued
// refresh token, keyed by its jti, so it can be revoked independent of
// the JWT's own (unforgeable but unrevokable) expiry.
type refreshRecord struct {
	UserID    string
	Role      Role
	ExpiresAt time.Time
	Revoked   bool
}

// TokenManager issues and validates JWTs and tracks refresh-token
// lifecycle by jti. The signing key is a shared HMAC secret; the teacher
// does the equivalent with a map of random hex secrets, generalized here
// to a stateless, verifiable token plus a server-side revocation list
// limited to the long-lived refresh token.
type TokenManager struct {
	mu       sync.RWMutex
	refresh  map[string]refreshRecord // jti -> record
	secret   []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger   *slog.Logger
}

// NewTokenManager builds a TokenManager. secret must be non-empty; a zero
// accessTTL/refreshTTL default to 15 minutes / 7 days.
func NewTokenManager(secret []byte, accessTTL, refreshTTL time.Duration, logger *slog.Logger) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		refresh:    make(map[string]refreshRecord),
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger.With("component", "auth.TokenManager"),
	}, nil
}

// Issue mints a fresh access/refresh token pair for (userID, role).
func (m *TokenManager) Issue(userID string, role Role) (TokenPair, error) {
	now := time.Now()
	access, err := m.signAccessToken(userID, role, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	jti, err := randomID()
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh jti: %w", err)
	}
	refreshExpiry := now.Add(m.refreshTTL)
	refreshToken, err := m.signRefreshToken(userID, role, jti, refreshExpiry)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	m.mu.Lock()
	m.refresh[jti] = refreshRecord{UserID: userID, Role: role, ExpiresAt: refreshExpiry}
	m.mu.Unlock()

	m.logger.Info("token pair issued", "user_id", userID, "role", role, "jti", jti)
	return TokenPair{
		AccessToken: access, RefreshToken: refreshToken,
		ExpiresIn: int64(m.accessTTL.Seconds()), TokenType: "Bearer",
	}, nil
}

// Refresh validates a refresh token, rejects it if revoked or expired,
// and issues a new pair, rotating the jti (old refresh token cannot be
// reused — a stolen, already-rotated token fails server-side lookup).
func (m *TokenManager) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := m.parse(refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("invalid refresh token: %w", err)
	}

	m.mu.Lock()
	rec, ok := m.refresh[claims.ID]
	if !ok || rec.Revoked || time.Now().After(rec.ExpiresAt) {
		m.mu.Unlock()
		return TokenPair{}, errors.New("refresh token revoked or expired")
	}
	delete(m.refresh, claims.ID)
	m.mu.Unlock()

	return m.Issue(claims.Subject, claims.Role)
}

// Logout revokes a refresh token by jti so it can no longer be used,
// matching spec §6 "invalidates the provided refresh token".
func (m *TokenManager) Logout(refreshToken string) error {
	claims, err := m.parse(refreshToken)
	if err != nil {
		return fmt.Errorf("invalid refresh token: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.refresh[claims.ID]; ok {
		rec.Revoked = true
		m.refresh[claims.ID] = rec
	}
	return nil
}

// LogoutAll revokes every refresh token issued to userID.
func (m *TokenManager) LogoutAll(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jti, rec := range m.refresh {
		if rec.UserID == userID {
			rec.Revoked = true
			m.refresh[jti] = rec
		}
	}
}

// ValidateAccessToken verifies an access token's signature and expiry
// and returns its claims.
func (m *TokenManager) ValidateAccessToken(token string) (*Claims, error) {
	return m.parse(token)
}

func (m *TokenManager) signAccessToken(userID string, role Role, now time.Time) (string, error) {
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *TokenManager) signRefreshToken(userID string, role Role, jti string, expiresAt time.Time) (string, error) {
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *TokenManager) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// CleanExpired drops server-side refresh records past their expiry,
// bounding memory growth the way the teacher's CleanExpired does.
func (m *TokenManager) CleanExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	now := time.Now()
	for jti, rec := range m.refresh {
		if now.After(rec.ExpiresAt) {
			delete(m.refresh, jti)
			count++
		}
	}
	return count
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
