// Package session coordinates client-side bearer/refresh token rotation for
// the multi-role deployment. Each role (admin, teacher, student) holds an
// independent credential namespace.
package session

import (
	"sync"
)

// Role identifies a credential namespace in the multi-role deployment.
type Role string

// Deployment roles. Stores for different roles must never cross-read tokens.
const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// CredentialStore exposes get/set/clear for the access token, refresh token,
// and cached profile of one client identity.
type CredentialStore interface {
	AccessToken() string
	RefreshToken() string
	Profile() map[string]any

	SetAccessToken(token string)
	SetTokens(accessToken, refreshToken string)
	SetProfile(profile map[string]any)

	// Clear removes all stored credentials. Called on terminal refresh failure.
	Clear()
}

// MemoryStore is an in-memory CredentialStore scoped to a single role.
// Thread-safe via RWMutex.
type MemoryStore struct {
	role Role

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	profile      map[string]any
}

// NewMemoryStore creates an empty credential store for one role.
func NewMemoryStore(role Role) *MemoryStore {
	return &MemoryStore{role: role}
}

// Role returns the namespace this store belongs to.
func (s *MemoryStore) Role() Role {
	return s.role
}

// AccessToken returns the stored access token, or empty string.
func (s *MemoryStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the stored refresh token, or empty string.
func (s *MemoryStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Profile returns a copy of the cached profile, or nil.
func (s *MemoryStore) Profile() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	out := make(map[string]any, len(s.profile))
	for k, v := range s.profile {
		out[k] = v
	}
	return out
}

// SetAccessToken stores a new access token, keeping the refresh token.
func (s *MemoryStore) SetAccessToken(token string) {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
}

// SetTokens stores a new token pair.
func (s *MemoryStore) SetTokens(accessToken, refreshToken string) {
	s.mu.Lock()
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.mu.Unlock()
}

// SetProfile caches the user profile.
func (s *MemoryStore) SetProfile(profile map[string]any) {
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()
}

// Clear removes all stored credentials.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.profile = nil
	s.mu.Unlock()
}
