package notifications

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/auth"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/httputil"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/orders"
)

// Handlers provides HTTP handlers for the notifications API.
type Handlers struct {
	svc       *Service
	registry  *Registry
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// NewHandlers creates a new Handlers. heartbeat is the keep-alive cadence of
// live streams.
func NewHandlers(svc *Service, registry *Registry, heartbeat time.Duration, allowedOrigins []string) *Handlers {
	return &Handlers{
		svc:       svc,
		registry:  registry,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// RegisterAdminRoutes wires the admin endpoints. The router must enforce the
// admin role.
func (h *Handlers) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/api/admin/notifications", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/notifications", h.ClearAll).Methods(http.MethodDelete)
	r.HandleFunc("/api/admin/notifications/vendors/{id}", h.ClearOne).Methods(http.MethodDelete)
	r.HandleFunc("/api/admin/notifications/orders/{id}", h.ClearOne).Methods(http.MethodDelete)
	r.HandleFunc("/api/admin/orders/delayed", h.ListDelayed).Methods(http.MethodGet)
}

// RegisterRecipientRoutes wires the endpoints of one recipient role
// ("vendor" or "customer"). The router must enforce that role.
func (h *Handlers) RegisterRecipientRoutes(r *mux.Router, role string) {
	base := "/api/" + role + "/notifications"
	r.HandleFunc(base, h.List).Methods(http.MethodGet)
	r.HandleFunc(base, h.ClearAll).Methods(http.MethodDelete)
	r.HandleFunc(base+"/delayed", h.ListDelayed).Methods(http.MethodGet)
	r.HandleFunc(base+"/{id}", h.ClearOne).Methods(http.MethodDelete)
}

// RegisterStreamRoutes wires the live endpoints. They accept the token as a
// query parameter, so the router should use StreamAuthMiddleware.
func (h *Handlers) RegisterStreamRoutes(r *mux.Router) {
	r.HandleFunc("/api/{role:admin|vendor|customer}/notifications/stream", h.Stream).Methods(http.MethodGet)
	r.HandleFunc("/ws/notifications", h.ServeWS).Methods(http.MethodGet)
}

var errMissingClaims = errors.New("request carries no claims")

func audienceFromRequest(r *http.Request) (Audience, error) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return Audience{}, errMissingClaims
	}
	return ParseAudience(claims.Role, claims.Username)
}

// List handles GET /api/{role}/notifications
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	aud, err := audienceFromRequest(r)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	view, err := h.svc.GetFeed(r.Context(), aud)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// ListDelayed handles GET /api/{vendor|customer}/notifications/delayed and
// GET /api/admin/orders/delayed
func (h *Handlers) ListDelayed(w http.ResponseWriter, r *http.Request) {
	aud, err := audienceFromRequest(r)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	list, err := h.svc.DelayedOrders(r.Context(), aud)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load delayed orders")
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"orders": list,
		"count":  len(list),
	})
}

// ClearOne handles DELETE of a single notification. Admins clear by vendor
// or order id; vendors and customers acknowledge an order.
func (h *Handlers) ClearOne(w http.ResponseWriter, r *http.Request) {
	aud, err := audienceFromRequest(r)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := h.svc.ClearOne(r.Context(), aud, id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to clear notification")
		return
	}

	if aud.IsAdmin() {
		httputil.WriteOK(w, "notification cleared")
		return
	}
	httputil.WriteOK(w, "notification acknowledged")
}

// ClearAll handles DELETE /api/{role}/notifications
func (h *Handlers) ClearAll(w http.ResponseWriter, r *http.Request) {
	aud, err := audienceFromRequest(r)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.svc.ClearAll(r.Context(), aud); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to clear notifications")
		return
	}
	httputil.WriteOK(w, "all notifications cleared")
}
