package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager([]byte("test-signing-secret"), time.Minute, time.Hour, nil)
	require.NoError(t, err)
	return m
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	m := newManager(t)
	pair, err := m.Issue("user-1", RoleOperator)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)

	claims, err := m.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestValidateAccessToken_RejectsTampered(t *testing.T) {
	m := newManager(t)
	pair, err := m.Issue("user-1", RoleAdmin)
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(pair.AccessToken + "x")
	assert.Error(t, err)
}

func TestRefresh_RotatesJTIAndRejectsReuse(t *testing.T) {
	m := newManager(t)
	pair, err := m.Issue("user-1", RoleAdmin)
	require.NoError(t, err)

	rotated, err := m.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)

	_, err = m.Refresh(pair.RefreshToken)
	assert.Error(t, err, "reusing a rotated refresh token must fail")
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	m := newManager(t)
	pair, err := m.Issue("user-1", RoleAdmin)
	require.NoError(t, err)

	require.NoError(t, m.Logout(pair.RefreshToken))

	_, err = m.Refresh(pair.RefreshToken)
	assert.Error(t, err)
}

func TestLogoutAll_RevokesEveryTokenForUser(t *testing.T) {
	m := newManager(t)
	pair1, err := m.Issue("user-1", RoleAdmin)
	require.NoError(t, err)
	pair2, err := m.Issue("user-1", RoleAdmin)
	require.NoError(t, err)

	m.LogoutAll("user-1")

	_, err = m.Refresh(pair1.RefreshToken)
	assert.Error(t, err)
	_, err = m.Refresh(pair2.RefreshToken)
	assert.Error(t, err)
}

func TestHasPermission_RoleMatrix(t *testing.T) {
	assert.True(t, HasPermission(RoleAdmin, "rollback"))
	assert.True(t, HasPermission(RoleAdmin, "modify_arbitration"))
	assert.True(t, HasPermission(RoleOperator, "approve"))
	assert.False(t, HasPermission(RoleOperator, "rollback"))
	assert.True(t, HasPermission(RoleAuditor, "read"))
	assert.False(t, HasPermission(RoleAuditor, "approve"))
}

func TestNewTokenManager_RejectsEmptySecret(t *testing.T) {
	_, err := NewTokenManager(nil, time.Minute, time.Hour, nil)
	assert.Error(t, err)
}
