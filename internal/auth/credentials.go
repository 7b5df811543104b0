package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when an email/password pair does not
// resolve to a user. Unknown email and wrong password are indistinguishable
// to the caller.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is an account record as seen by the credential layer.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
}

// UserStore looks up accounts for credential verification.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Verifier checks passwords against bcrypt hashes from a UserStore.
type Verifier struct {
	store UserStore
}

// NewVerifier creates a credential verifier backed by the given store.
func NewVerifier(store UserStore) *Verifier {
	return &Verifier{store: store}
}

// Verify resolves email/password to a user ID and role. Both lookup misses
// and hash mismatches return ErrInvalidCredentials.
func (v *Verifier) Verify(ctx context.Context, email, password string) (string, string, error) {
	user, err := v.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", "", ErrInvalidCredentials
	}

	return user.ID, user.Role, nil
}

// HashPassword produces a bcrypt hash at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ErrUserNotFound is returned by UserStore implementations for unknown emails.
var ErrUserNotFound = errors.New("user not found")

// InMemoryUserStore is an in-memory UserStore for development and tests.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewInMemoryUserStore creates an empty in-memory user store.
func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]*User)}
}

// Create adds a user, hashing the given plaintext password.
func (s *InMemoryUserStore) Create(ctx context.Context, id, email, password, role string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[email] = &User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	return nil
}

// FindByEmail implements UserStore.
func (s *InMemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}
