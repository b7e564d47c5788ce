package notifications

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/httputil"
)

// maxMessageSize is the maximum inbound WebSocket message size in bytes.
const maxMessageSize = 512

// originChecker validates the Origin header against allowed origins. A
// request without Origin (same-origin or non-browser) is accepted.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(origin, o) {
				return true
			}
		}
		return false
	}
}

// ParseOrigins splits a comma-separated ALLOWED_ORIGINS value.
func ParseOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Stream handles GET /api/{role}/notifications/stream as server-sent events.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	aud, ok := h.streamAudience(w, r)
	if !ok {
		return
	}

	sw := newSSEWriter(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := sw.comment("connected"); err != nil {
		return
	}

	sink := newQueuedSink(sw, h.heartbeat)
	h.registry.Register(aud, sink)
	defer h.registry.Unregister(aud, sink)

	if err := sink.run(r.Context()); err != nil {
		log.Printf("sse: stream %s for %s ended: %v", sink.ID(), aud, err)
	}
}

// ServeWS handles GET /ws/notifications, the WebSocket variant of Stream.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	aud, err := audienceFromRequest(r)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sink := newQueuedSink(&wsWriter{conn: conn}, h.heartbeat)
	h.registry.Register(aud, sink)
	log.Printf("notifications ws: %s connected", aud)

	go func() {
		if err := sink.run(r.Context()); err != nil {
			log.Printf("notifications ws: %s write error: %v", aud, err)
		}
	}()

	// Read pump: keeps pongs flowing and detects disconnects.
	defer func() {
		h.registry.Unregister(aud, sink)
		sink.Close()
		log.Printf("notifications ws: %s disconnected", aud)
	}()

	conn.SetReadLimit(maxMessageSize)
	if h.heartbeat > 0 {
		pongWait := 2 * h.heartbeat
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("notifications ws: %s read error: %v", aud, err)
			}
			return
		}
	}
}

// streamAudience resolves the caller's audience and checks it matches the
// role in the path.
func (h *Handlers) streamAudience(w http.ResponseWriter, r *http.Request) (Audience, bool) {
	aud, err := audienceFromRequest(r)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return Audience{}, false
	}
	if role := mux.Vars(r)["role"]; role != "" && role != aud.Role() {
		httputil.WriteError(w, http.StatusForbidden, "insufficient permissions")
		return Audience{}, false
	}
	return aud, true
}
