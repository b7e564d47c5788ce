package orders

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/auth"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/httputil"
)

// StatusNotifier is told about every successful vendor status transition.
// Implementations must not fail the transition; errors stay on their side.
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, order Order, previous Status)
}

type Handlers struct {
	repo     Repository
	notifier StatusNotifier
}

func NewHandlers(repo Repository, notifier StatusNotifier) *Handlers {
	return &Handlers{repo: repo, notifier: notifier}
}

// RegisterVendorRoutes wires the vendor order endpoints. The router is
// expected to enforce the vendor role.
func (h *Handlers) RegisterVendorRoutes(r *mux.Router) {
	r.HandleFunc("/api/vendor/orders/{id}/status", h.UpdateStatus).Methods(http.MethodPatch)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed processing shipped in_transit out_for_delivery delivered cancelled returned"`
}

// UpdateStatus handles PATCH /api/vendor/orders/{id}/status
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateStatusRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := mux.Vars(r)["id"]
	order, previous, err := h.repo.UpdateStatus(r.Context(), id, claims.Username, status)
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, ErrTerminal):
		httputil.WriteError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Printf("orders: status update for %s failed: %v", id, err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update order")
		return
	}

	if h.notifier != nil {
		h.notifier.NotifyStatusChange(r.Context(), *order, previous)
	}

	httputil.WriteJSON(w, http.StatusOK, order)
}
