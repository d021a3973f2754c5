package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey struct{}

var claimsContextKey contextKey

// ClaimsFromContext returns the verified ClaimSet stashed by Middleware.
func ClaimsFromContext(ctx context.Context) (ClaimSet, bool) {
	claims, ok := ctx.Value(claimsContextKey).(ClaimSet)
	return claims, ok
}

// Middleware verifies the bearer token and rejects refresh tokens: a
// refresh token must never grant access to a protected route, or a caller
// could skip the principal rebuild and keep revoked roles.
func Middleware(codec *TokenCodec, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		claims, err := codec.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "token expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.IsRefresh() {
			writeError(w, http.StatusUnauthorized, "invalid token type")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route on a role claim; it must run inside Middleware.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		for _, code := range claims.Roles {
			if code == role {
				next.ServeHTTP(w, r)
				return
			}
		}

		writeError(w, http.StatusForbidden, "insufficient role")
	})
}
