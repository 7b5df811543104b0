package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opencampus/campus/internal/audit"
	"github.com/opencampus/campus/internal/auth"
	"github.com/opencampus/campus/internal/token"
)

const handlerTestSecret = "auth-handlers-test-secret"

// stubVerifier accepts exactly one email/password pair.
type stubVerifier struct {
	email    string
	password string
	userID   string
	role     string
	err      error
}

func (s *stubVerifier) Verify(_ context.Context, email, password string) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	if email != s.email || password != s.password {
		return "", "", ErrBadCredentials
	}
	return s.userID, s.role, nil
}

// stubMailer captures the reset plaintext it was asked to deliver.
type stubMailer struct {
	email     string
	plaintext string
	err       error
}

func (s *stubMailer) SendResetToken(_ context.Context, email, plaintext string) error {
	s.email = email
	s.plaintext = plaintext
	return s.err
}

func newAuthHandlers(t *testing.T, verifier CredentialVerifier, resets token.ResetStore, mailer Mailer) (*AuthHandlers, *audit.InMemoryRepository, *audit.Pipeline) {
	t.Helper()
	if resets == nil {
		resets = token.NewInMemoryResetStore()
	}
	repo := audit.NewInMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := audit.NewPipeline(repo, logger, nil)
	jwts := auth.NewJWTService(handlerTestSecret)
	return NewAuthHandlers(jwts, verifier, resets, mailer, pipeline), repo, pipeline
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestLogin_Success(t *testing.T) {
	verifier := &stubVerifier{email: "teacher@example.com", password: "correct-horse", userID: "user-1", role: "teacher"}
	handlers, repo, pipeline := newAuthHandlers(t, verifier, nil, nil)

	w := postJSON(t, handlers.Login, "/api/v1/auth/login", LoginRequest{
		Email:    "teacher@example.com",
		Password: "correct-horse",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp LoginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Role != "teacher" {
		t.Errorf("Role = %q, want teacher", resp.Role)
	}

	// The minted tokens must round-trip through the same service
	jwts := auth.NewJWTService(handlerTestSecret)
	claims, err := jwts.ValidateToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "teacher" {
		t.Errorf("access claims = (%q, %q), want (user-1, teacher)", claims.Subject, claims.Role)
	}
	if _, err := jwts.ValidateRefreshToken(resp.RefreshToken); err != nil {
		t.Fatalf("refresh token invalid: %v", err)
	}

	// A LOGIN_SUCCESS event lands in the audit trail
	pipeline.Wait()
	if repo.Count() != 1 {
		t.Fatalf("audit record count = %d, want 1", repo.Count())
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	verifier := &stubVerifier{email: "teacher@example.com", password: "correct-horse", userID: "user-1", role: "teacher"}
	handlers, repo, pipeline := newAuthHandlers(t, verifier, nil, nil)

	w := postJSON(t, handlers.Login, "/api/v1/auth/login", LoginRequest{
		Email:    "teacher@example.com",
		Password: "wrong",
	})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeAuthFailed {
		t.Errorf("error code = %q, want %q", code, ErrCodeAuthFailed)
	}

	// A LOGIN_FAILURE event lands in the audit trail
	pipeline.Wait()
	if repo.Count() != 1 {
		t.Fatalf("audit record count = %d, want 1", repo.Count())
	}
}

func TestLogin_ValidationAndTransport(t *testing.T) {
	verifier := &stubVerifier{email: "a@b.c", password: "p", userID: "u", role: "student"}

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid JSON",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "missing email",
			body:       `{"password":"p"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
		{
			name:       "missing password",
			body:       `{"email":"a@b.c"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers, _, _ := newAuthHandlers(t, verifier, nil, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handlers.Login(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if code := decodeErrorCode(t, w); code != tt.wantCode {
				t.Errorf("error code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestLogin_VerifierOutage(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("user store down")}
	handlers, _, _ := newAuthHandlers(t, verifier, nil, nil)

	w := postJSON(t, handlers.Login, "/api/v1/auth/login", LoginRequest{Email: "a@b.c", Password: "p"})

	// An infrastructure failure is a 500, never a 401 blaming the user
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeInternal {
		t.Errorf("error code = %q, want %q", code, ErrCodeInternal)
	}
}

func TestRefresh(t *testing.T) {
	handlers, _, _ := newAuthHandlers(t, &stubVerifier{}, nil, nil)
	jwts := auth.NewJWTService(handlerTestSecret)

	t.Run("valid refresh token", func(t *testing.T) {
		refreshToken, err := jwts.GenerateRefreshToken("user-9", "admin")
		if err != nil {
			t.Fatalf("GenerateRefreshToken() error = %v", err)
		}

		w := postJSON(t, handlers.Refresh, "/api/v1/auth/refresh", RefreshRequest{RefreshToken: refreshToken})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}

		var resp RefreshResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		claims, err := jwts.ValidateToken(resp.AccessToken)
		if err != nil {
			t.Fatalf("new access token invalid: %v", err)
		}
		if claims.Subject != "user-9" || claims.Role != "admin" {
			t.Errorf("claims = (%q, %q), want (user-9, admin)", claims.Subject, claims.Role)
		}
		if claims.Type != auth.TokenTypeAccess {
			t.Errorf("Type = %q, want %q", claims.Type, auth.TokenTypeAccess)
		}
	})

	t.Run("access token rejected", func(t *testing.T) {
		accessToken, err := jwts.GenerateAccessToken("user-9", "admin")
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		w := postJSON(t, handlers.Refresh, "/api/v1/auth/refresh", RefreshRequest{RefreshToken: accessToken})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401 for access token at refresh endpoint", w.Code)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		w := postJSON(t, handlers.Refresh, "/api/v1/auth/refresh", RefreshRequest{RefreshToken: "garbage"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		w := postJSON(t, handlers.Refresh, "/api/v1/auth/refresh", RefreshRequest{})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestPasswordReset(t *testing.T) {
	resets := token.NewInMemoryResetStore()
	mailer := &stubMailer{}
	handlers, _, _ := newAuthHandlers(t, &stubVerifier{}, resets, mailer)

	w := postJSON(t, handlers.PasswordReset, "/api/v1/auth/password-reset", PasswordResetRequest{Email: "student@example.com"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	// The plaintext goes to the mailer, never into the response
	if mailer.plaintext == "" {
		t.Fatal("expected mailer to receive the reset token plaintext")
	}
	if strings.Contains(w.Body.String(), mailer.plaintext) {
		t.Error("response body leaks the reset token plaintext")
	}

	// Only the hash is stored
	stored, err := resets.Lookup(context.Background(), "student@example.com")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if stored.Hash == mailer.plaintext {
		t.Error("store holds the plaintext instead of the hash")
	}
	if !token.VerifyResetToken(mailer.plaintext, stored.Hash) {
		t.Error("mailed plaintext does not verify against the stored hash")
	}
}

func TestPasswordReset_MailerFailureStillAccepted(t *testing.T) {
	mailer := &stubMailer{err: errors.New("smtp down")}
	handlers, _, _ := newAuthHandlers(t, &stubVerifier{}, nil, mailer)

	w := postJSON(t, handlers.PasswordReset, "/api/v1/auth/password-reset", PasswordResetRequest{Email: "student@example.com"})

	// The response never reveals delivery problems, preventing email probing
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202 despite mailer failure", w.Code)
	}
}

func TestPasswordResetConfirm(t *testing.T) {
	mint := func(t *testing.T, resets token.ResetStore, email string) string {
		t.Helper()
		reset, err := token.GenerateResetToken()
		if err != nil {
			t.Fatalf("GenerateResetToken() error = %v", err)
		}
		if err := resets.Save(context.Background(), email, token.StoredReset{Hash: reset.Hash, ExpiresAt: reset.ExpiresAt}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		return reset.Plaintext
	}

	t.Run("valid token yields temporary password", func(t *testing.T) {
		resets := token.NewInMemoryResetStore()
		handlers, _, _ := newAuthHandlers(t, &stubVerifier{}, resets, nil)
		plaintext := mint(t, resets, "a@b.c")

		w := postJSON(t, handlers.PasswordResetConfirm, "/api/v1/auth/password-reset/confirm",
			PasswordResetConfirmRequest{Email: "a@b.c", Token: plaintext})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}

		var resp PasswordResetConfirmResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(resp.TemporaryPassword) != token.DefaultPasswordLength {
			t.Errorf("temporary password length = %d, want %d", len(resp.TemporaryPassword), token.DefaultPasswordLength)
		}

		// Token is single-use: the same confirm replayed fails
		w2 := postJSON(t, handlers.PasswordResetConfirm, "/api/v1/auth/password-reset/confirm",
			PasswordResetConfirmRequest{Email: "a@b.c", Token: plaintext})
		if w2.Code != http.StatusUnauthorized {
			t.Errorf("replayed confirm status = %d, want 401", w2.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		resets := token.NewInMemoryResetStore()
		handlers, _, _ := newAuthHandlers(t, &stubVerifier{}, resets, nil)
		mint(t, resets, "a@b.c")

		w := postJSON(t, handlers.PasswordResetConfirm, "/api/v1/auth/password-reset/confirm",
			PasswordResetConfirmRequest{Email: "a@b.c", Token: "not-the-token"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		if code := decodeErrorCode(t, w); code != ErrCodeAuthFailed {
			t.Errorf("error code = %q, want %q", code, ErrCodeAuthFailed)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		handlers, _, _ := newAuthHandlers(t, &stubVerifier{}, nil, nil)

		w := postJSON(t, handlers.PasswordResetConfirm, "/api/v1/auth/password-reset/confirm",
			PasswordResetConfirmRequest{Email: "nobody@b.c", Token: "whatever"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		resets := token.NewInMemoryResetStore()
		handlers, _, _ := newAuthHandlers(t, &stubVerifier{}, resets, nil)

		reset, err := token.GenerateResetToken()
		if err != nil {
			t.Fatalf("GenerateResetToken() error = %v", err)
		}
		stored := token.StoredReset{Hash: reset.Hash, ExpiresAt: time.Now().Add(-time.Minute)}
		if err := resets.Save(context.Background(), "a@b.c", stored); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		w := postJSON(t, handlers.PasswordResetConfirm, "/api/v1/auth/password-reset/confirm",
			PasswordResetConfirmRequest{Email: "a@b.c", Token: reset.Plaintext})
		// Expired and mismatched are the same outcome on the wire
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		handlers, _, _ := newAuthHandlers(t, &stubVerifier{}, nil, nil)

		w := postJSON(t, handlers.PasswordResetConfirm, "/api/v1/auth/password-reset/confirm",
			PasswordResetConfirmRequest{Email: "a@b.c"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}
