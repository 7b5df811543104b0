package token

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrResetNotFound is returned when no reset token is stored for a user.
var ErrResetNotFound = errors.New("no reset token for user")

// StoredReset is the persisted portion of a reset token: never the plaintext.
type StoredReset struct {
	Hash      string
	ExpiresAt time.Time
}

// ResetStore persists reset token hashes against user records.
type ResetStore interface {
	// Save stores the hash and expiry for a user, replacing any previous token.
	Save(ctx context.Context, userID string, reset StoredReset) error

	// Lookup returns the stored reset for a user.
	Lookup(ctx context.Context, userID string) (StoredReset, error)

	// Delete removes the stored reset after successful use.
	Delete(ctx context.Context, userID string) error
}

// InMemoryResetStore is an in-memory implementation of ResetStore.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryResetStore struct {
	mu     sync.RWMutex
	resets map[string]StoredReset
}

// NewInMemoryResetStore creates a new in-memory reset store.
func NewInMemoryResetStore() *InMemoryResetStore {
	return &InMemoryResetStore{
		resets: make(map[string]StoredReset),
	}
}

// Save stores the hash and expiry for a user, replacing any previous token.
func (s *InMemoryResetStore) Save(_ context.Context, userID string, reset StoredReset) error {
	s.mu.Lock()
	s.resets[userID] = reset
	s.mu.Unlock()
	return nil
}

// Lookup returns the stored reset for a user.
func (s *InMemoryResetStore) Lookup(_ context.Context, userID string) (StoredReset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reset, ok := s.resets[userID]
	if !ok {
		return StoredReset{}, ErrResetNotFound
	}
	return reset, nil
}

// Delete removes the stored reset after successful use.
func (s *InMemoryResetStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.resets, userID)
	s.mu.Unlock()
	return nil
}
