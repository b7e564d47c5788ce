package vendors

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/auth"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/httputil"
)

// RegistrationNotifier announces a newly registered vendor. It must never
// fail the registration itself.
type RegistrationNotifier interface {
	PublishVendorRegistered(ctx context.Context, v Vendor)
}

type Handlers struct {
	repo     Repository
	notifier RegistrationNotifier
}

func NewHandlers(repo Repository, notifier RegistrationNotifier) *Handlers {
	return &Handlers{repo: repo, notifier: notifier}
}

// RegisterPublicRoutes wires the unauthenticated vendor endpoints.
func (h *Handlers) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/api/vendors/register", h.Register).Methods(http.MethodPost)
}

// RegisterProtectedRoutes wires the endpoints that need a vendor token.
func (h *Handlers) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/api/vendor/me", h.Me).Methods(http.MethodGet)
}

type registerRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	CompanyName string `json:"companyName" validate:"required"`
	Phone       string `json:"phone" validate:"omitempty,e164"`
}

// Register handles POST /api/vendors/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	v := &Vendor{
		Username:    req.Username,
		Email:       req.Email,
		CompanyName: req.CompanyName,
		Phone:       req.Phone,
	}
	if err := h.repo.Create(r.Context(), v, string(hash)); err != nil {
		if errors.Is(err, ErrDuplicate) {
			httputil.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("vendors: registration of %s failed: %v", req.Username, err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to register vendor")
		return
	}

	if h.notifier != nil {
		h.notifier.PublishVendorRegistered(r.Context(), *v)
	}

	httputil.WriteJSON(w, http.StatusCreated, v)
}

// Me handles GET /api/vendor/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	v, err := h.repo.GetByUsername(r.Context(), claims.Username)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "vendor not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load vendor")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}
