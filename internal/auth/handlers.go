package auth

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/httputil"
)

type Handlers struct {
	verifier *Verifier
}

func NewHandlers(verifier *Verifier) *Handlers {
	return &Handlers{verifier: verifier}
}

// RegisterProtectedRoutes registers auth routes that require authentication.
func (h *Handlers) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/api/auth/me", h.handleMe).Methods("GET")
	r.HandleFunc("/api/auth/logout", h.handleLogout).Methods("POST")
}

func (h *Handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"id":       claims.UserID,
		"username": claims.Username,
		"role":     claims.Role,
	})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	token, hasToken := TokenFromContext(r.Context())
	if !ok || !hasToken {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.verifier.Revoke(r.Context(), token, claims); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	httputil.WriteOK(w, "logged out")
}
