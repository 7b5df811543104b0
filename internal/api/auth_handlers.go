// Package api provides HTTP handlers for authentication operations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/opencampus/campus/internal/audit"
	"github.com/opencampus/campus/internal/auth"
	"github.com/opencampus/campus/internal/token"
)

// ErrBadCredentials is the sentinel CredentialVerifier implementations return
// when the email/password pair does not match a user.
var ErrBadCredentials = auth.ErrInvalidCredentials

// CredentialVerifier checks an email/password pair against the user store
// (external to this layer) and returns the resolved identity.
type CredentialVerifier interface {
	Verify(ctx context.Context, email, password string) (userID, role string, err error)
}

// Mailer delivers the reset token plaintext out-of-band. The plaintext is
// never persisted or written to the response.
type Mailer interface {
	SendResetToken(ctx context.Context, email, plaintext string) error
}

// AuthHandlers holds dependencies for authentication HTTP handlers.
type AuthHandlers struct {
	jwts     *auth.JWTService
	verifier CredentialVerifier
	resets   token.ResetStore
	mailer   Mailer
	pipeline *audit.Pipeline
}

// NewAuthHandlers creates a new AuthHandlers instance.
func NewAuthHandlers(jwts *auth.JWTService, verifier CredentialVerifier, resets token.ResetStore, mailer Mailer, pipeline *audit.Pipeline) *AuthHandlers {
	return &AuthHandlers{
		jwts:     jwts,
		verifier: verifier,
		resets:   resets,
		mailer:   mailer,
		pipeline: pipeline,
	}
}

// LoginRequest is the body for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the minted token pair.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Role         string `json:"role"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "email and password are required")
		return
	}

	userID, role, err := h.verifier.Verify(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, ErrBadCredentials) {
			slog.ErrorContext(r.Context(), "credential verification failed", "error", err)
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Login unavailable")
			return
		}
		h.pipeline.LogSecurityEvent(r.Context(), r, audit.EventLoginFailure, map[string]any{
			"email": req.Email,
		})
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid email or password")
		return
	}

	accessToken, err := h.jwts.GenerateAccessToken(userID, role)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate access token", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Login unavailable")
		return
	}
	refreshToken, err := h.jwts.GenerateRefreshToken(userID, role)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate refresh token", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Login unavailable")
		return
	}

	h.pipeline.LogSecurityEvent(r.Context(), r, audit.EventLoginSuccess, map[string]any{
		"email": req.Email,
		"role":  role,
	})

	WriteJSON(w, r.Context(), http.StatusOK, LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Role:         role,
	})
}

// RefreshRequest is the body for POST /api/v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse carries the new access token.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if req.RefreshToken == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "refreshToken is required")
		return
	}

	claims, err := h.jwts.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or expired refresh token")
		return
	}

	accessToken, err := h.jwts.GenerateAccessToken(claims.Subject, claims.Role)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate access token", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Refresh unavailable")
		return
	}

	WriteJSON(w, r.Context(), http.StatusOK, RefreshResponse{AccessToken: accessToken})
}

// PasswordResetRequest is the body for POST /api/v1/auth/password-reset.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordReset handles POST /api/v1/auth/password-reset. The response never
// reveals whether the email exists; the token travels only through the mailer.
func (h *AuthHandlers) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Email == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "email is required")
		return
	}

	reset, err := token.GenerateResetToken()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to mint reset token", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Password reset unavailable")
		return
	}

	stored := token.StoredReset{Hash: reset.Hash, ExpiresAt: reset.ExpiresAt}
	if err := h.resets.Save(r.Context(), req.Email, stored); err != nil {
		slog.ErrorContext(r.Context(), "failed to persist reset token hash", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Password reset unavailable")
		return
	}

	if h.mailer != nil {
		if err := h.mailer.SendResetToken(r.Context(), req.Email, reset.Plaintext); err != nil {
			slog.ErrorContext(r.Context(), "failed to send reset token", "error", err)
		}
	}

	h.pipeline.LogSecurityEvent(r.Context(), r, audit.EventPasswordReset, map[string]any{
		"email": req.Email,
	})

	WriteJSON(w, r.Context(), http.StatusAccepted, map[string]string{"status": "accepted"})
}

// PasswordResetConfirmRequest is the body for POST /api/v1/auth/password-reset/confirm.
type PasswordResetConfirmRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// PasswordResetConfirmResponse carries a generated temporary password on success.
type PasswordResetConfirmResponse struct {
	TemporaryPassword string `json:"temporaryPassword"`
}

// PasswordResetConfirm handles POST /api/v1/auth/password-reset/confirm.
// Expired and mismatched tokens are the same trust outcome: a 401 with no
// further detail.
func (h *AuthHandlers) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Email == "" || req.Token == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "email and token are required")
		return
	}

	stored, err := h.resets.Lookup(r.Context(), req.Email)
	if err != nil || token.IsTokenExpired(stored.ExpiresAt) || !token.VerifyResetToken(req.Token, stored.Hash) {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or expired reset token")
		return
	}

	if err := h.resets.Delete(r.Context(), req.Email); err != nil {
		slog.ErrorContext(r.Context(), "failed to consume reset token", "error", err)
	}

	temporary, err := token.GenerateSecurePassword(token.DefaultPasswordLength)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate temporary password", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Password reset unavailable")
		return
	}

	h.pipeline.LogSecurityEvent(r.Context(), r, audit.EventPasswordReset, map[string]any{
		"email":     req.Email,
		"confirmed": true,
	})

	WriteJSON(w, r.Context(), http.StatusOK, PasswordResetConfirmResponse{TemporaryPassword: temporary})
}
