package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/opencampus/campus/internal/auth"
)

type roleKeyType struct{}

var roleKey = roleKeyType{}

// GetRole returns the authenticated role from context, or empty string.
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}

// Authenticate validates the Bearer token on incoming requests and stores the
// resolved user ID and role in the request context. Requests without a valid
// access token receive 401.
func Authenticate(jwts *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				SetErrorCode(r.Context(), "auth_failed")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := jwts.ValidateToken(token)
			if err != nil || claims.Type != auth.TokenTypeAccess {
				SetErrorCode(r.Context(), "auth_failed")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			ctx = context.WithValue(ctx, roleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated requests whose role is not in the allowed
// set. Must run after Authenticate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[GetRole(r.Context())] {
				SetErrorCode(r.Context(), "forbidden")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
