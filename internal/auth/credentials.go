package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Credential is one admin-API login identity: a username mapped to a
// salted password digest, the userId carried in minted tokens, and the
// role that gates route access.
type Credential struct {
	PasswordHash string // hex sha256(salt + password)
	Salt         string
	UserID       string
	Role         Role
}

// HashPassword derives the hex digest stored in a Credential. Exposed so
// config loading and tests can produce Credential values without
// duplicating the hashing scheme.
func HashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// CredentialStore resolves a username/password pair to the identity the
// admin API should mint a token for.
type CredentialStore interface {
	Authenticate(username, password string) (userID string, role Role, ok bool)
}

// StaticCredentialStore is a fixed, in-memory CredentialStore loaded at
// startup from configuration — the admin control plane has no user
// registration flow, only operator-provisioned accounts (spec §4.J names
// only the JWT/RBAC shape, not a user store, so this is the simplest
// thing that satisfies POST /auth/login).
type StaticCredentialStore struct {
	byUsername map[string]Credential
}

// NewStaticCredentialStore builds a StaticCredentialStore from a
// username -> Credential map.
func NewStaticCredentialStore(creds map[string]Credential) *StaticCredentialStore {
	return &StaticCredentialStore{byUsername: creds}
}

func (s *StaticCredentialStore) Authenticate(username, password string) (string, Role, bool) {
	cred, ok := s.byUsername[username]
	if !ok {
		return "", "", false
	}
	want := HashPassword(cred.Salt, password)
	if subtle.ConstantTimeCompare([]byte(want), []byte(cred.PasswordHash)) != 1 {
		return "", "", false
	}
	return cred.UserID, cred.Role, true
}
