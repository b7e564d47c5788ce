package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/auth"
)

// bearerToken extracts the token from the Authorization header. When
// allowQuery is set, a `token` query parameter is accepted as well because
// EventSource clients cannot set headers.
func bearerToken(r *http.Request, allowQuery bool) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if allowQuery {
			if token := r.URL.Query().Get("token"); token != "" {
				return token, ""
			}
		}
		return "", "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "invalid authorization header format"
	}
	return token, ""
}

func authenticate(verifier *auth.Verifier, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, problem := bearerToken(r, allowQuery)
			if problem != "" {
				writeError(w, http.StatusUnauthorized, problem)
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			ctx = auth.ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthMiddleware requires a valid, non-revoked bearer token in the
// Authorization header.
func AuthMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return authenticate(verifier, false)
}

// StreamAuthMiddleware is AuthMiddleware for long-lived stream endpoints; it
// also accepts the token as a query parameter.
func StreamAuthMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return authenticate(verifier, true)
}

// RequireRole rejects requests whose claims carry none of the given roles.
// It must run after AuthMiddleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !allowed[claims.Role] {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
