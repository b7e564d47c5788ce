package notifications

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/auth"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/orders"
)

type handlerFixture struct {
	store    *MemoryStore
	lister   *fakeOrders
	registry *Registry
	producer *Producer
	router   *mux.Router
}

// withClaims stands in for the auth middleware.
func withClaims(role, username string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if role != "" {
				r = r.WithContext(auth.ContextWithClaims(r.Context(), &auth.Claims{UserID: username, Username: username, Role: role}))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newHandlerFixture(t *testing.T, role, username string) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		store:    NewMemoryStore(),
		lister:   &fakeOrders{orders: []orders.Order{testOrder("O1", orders.StatusShipped, 30*time.Hour)}},
		registry: NewRegistry(),
	}
	f.producer = NewProducer(&collectingBroker{}, f.store, f.registry)
	h := NewHandlers(NewService(f.store, f.lister, 24*time.Hour), f.registry, time.Hour, []string{"http://localhost:3000"})

	f.router = mux.NewRouter()
	f.router.Use(withClaims(role, username))
	h.RegisterStreamRoutes(f.router)
	h.RegisterAdminRoutes(f.router)
	h.RegisterRecipientRoutes(f.router, auth.RoleVendor)
	h.RegisterRecipientRoutes(f.router, auth.RoleCustomer)
	return f
}

func (f *handlerFixture) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandlers_ListFeed(t *testing.T) {
	f := newHandlerFixture(t, auth.RoleVendor, "V1")
	f.producer.PublishDelayedOrderNotification(context.Background(), f.lister.orders[0])

	rec := f.do(http.MethodGet, "/api/vendor/notifications")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view FeedView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.UnreadCount != 1 || view.Notifications[0].NotifType != NotifOrderDelayed {
		t.Errorf("unexpected feed %+v", view)
	}
}

func TestHandlers_Unauthenticated(t *testing.T) {
	f := newHandlerFixture(t, "", "")
	for _, path := range []string{"/api/vendor/notifications", "/api/admin/orders/delayed", "/api/admin/notifications/stream"} {
		if rec := f.do(http.MethodGet, path); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestHandlers_ListDelayed(t *testing.T) {
	f := newHandlerFixture(t, auth.RoleAdmin, "root")

	rec := f.do(http.MethodGet, "/api/admin/orders/delayed")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Orders []orders.Order `json:"orders"`
		Count  int            `json:"count"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Count != 1 || body.Orders[0].ID != "O1" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandlers_VendorAcknowledge(t *testing.T) {
	f := newHandlerFixture(t, auth.RoleVendor, "V1")
	f.producer.PublishDelayedOrderNotification(context.Background(), f.lister.orders[0])

	rec := f.do(http.MethodDelete, "/api/vendor/notifications/O1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "acknowledged") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/vendor/notifications/delayed")
	if !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Errorf("expected O1 hidden after acknowledgement, got %s", rec.Body.String())
	}
}

func TestHandlers_AdminClear(t *testing.T) {
	f := newHandlerFixture(t, auth.RoleAdmin, "root")
	ctx := context.Background()
	f.producer.PublishDelayedOrderNotification(ctx, f.lister.orders[0])

	rec := f.do(http.MethodDelete, "/api/admin/notifications/orders/O1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "cleared") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if ok, _ := f.store.Exists(ctx, delayedOrderKey("O1")); ok {
		t.Error("expected admin key removed")
	}

	rec = f.do(http.MethodDelete, "/api/admin/notifications")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear all: expected 200, got %d", rec.Code)
	}
}

func TestHandlers_StreamRoleMismatch(t *testing.T) {
	f := newHandlerFixture(t, auth.RoleVendor, "V1")
	if rec := f.do(http.MethodGet, "/api/admin/notifications/stream"); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandlers_StreamDeliversPush(t *testing.T) {
	f := newHandlerFixture(t, auth.RoleAdmin, "root")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/admin/notifications/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	line, _ := reader.ReadString('\n')
	if line != ": connected\n" {
		t.Fatalf("expected connected comment, got %q", line)
	}
	reader.ReadString('\n')

	waitFor(t, time.Second, func() bool { return f.registry.Count(AdminAudience()) == 1 })
	f.producer.NotifyStatusChange(context.Background(), f.lister.setStatus("O1", orders.StatusDelivered), orders.StatusShipped)

	event, _ := reader.ReadString('\n')
	data, _ := reader.ReadString('\n')
	if event != "event: notification\n" {
		t.Fatalf("expected notification event, got %q", event)
	}
	var push Push
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &push); err != nil {
		t.Fatalf("decode data line %q: %v", data, err)
	}
	var update OrderUpdate
	json.Unmarshal(push.Data, &update)
	if push.Type != PushOrderUpdated || !update.Removed {
		t.Errorf("unexpected push %s %+v", push.Type, update)
	}

	cancel()
	waitFor(t, time.Second, func() bool { return f.registry.Count(AdminAudience()) == 0 })
}

func TestHandlers_WebSocketDeliversPush(t *testing.T) {
	f := newHandlerFixture(t, auth.RoleCustomer, "C1")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, time.Second, func() bool { return f.registry.Count(CustomerAudience("C1")) == 1 })
	f.producer.PublishDelayedOrderNotification(context.Background(), f.lister.orders[0])

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var push Push
	if err := conn.ReadJSON(&push); err != nil {
		t.Fatalf("read: %v", err)
	}
	if push.Type != PushOrderDelayed {
		t.Errorf("expected %s, got %s", PushOrderDelayed, push.Type)
	}
}

func TestHandlers_WebSocketRejectsForeignOrigin(t *testing.T) {
	f := newHandlerFixture(t, auth.RoleCustomer, "C1")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 response, got %+v", resp)
	}
}

func TestParseOrigins(t *testing.T) {
	got := ParseOrigins(" http://a.test , ,http://b.test")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("unexpected origins %v", got)
	}
	check := originChecker(got)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if !check(r) {
		t.Error("requests without Origin are accepted")
	}
	r.Header.Set("Origin", "HTTP://A.TEST")
	if !check(r) {
		t.Error("origin match is case-insensitive")
	}
}
