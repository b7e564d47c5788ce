package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sinkQueueSize = 64
	// writeWait is the maximum time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
)

// frameWriter is the transport behind a queuedSink.
type frameWriter interface {
	writePush(p Push) error
	writeHeartbeat() error
	close() error
}

// queuedSink decouples broadcasters from slow connections: Send only
// enqueues and run performs the writes with a deadline.
type queuedSink struct {
	id        string
	queue     chan Push
	w         frameWriter
	heartbeat time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newQueuedSink(w frameWriter, heartbeat time.Duration) *queuedSink {
	return &queuedSink{
		id:        uuid.New().String(),
		queue:     make(chan Push, sinkQueueSize),
		w:         w,
		heartbeat: heartbeat,
		done:      make(chan struct{}),
	}
}

func (s *queuedSink) ID() string { return s.id }

func (s *queuedSink) Send(p Push) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	select {
	case s.queue <- p:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (s *queuedSink) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// run writes queued pushes and heartbeats until ctx ends, the sink is
// closed, or a write fails.
func (s *queuedSink) run(ctx context.Context) error {
	defer s.Close()
	defer s.w.close()

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case p := <-s.queue:
			if err := s.w.writePush(p); err != nil {
				return fmt.Errorf("write push: %w", err)
			}
		case <-tick:
			if err := s.w.writeHeartbeat(); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
		}
	}
}

// sseWriter frames pushes as server-sent events.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) write(frame string) error {
	if err := s.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *sseWriter) writePush(p Push) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.write("event: notification\ndata: " + string(data) + "\n\n")
}

func (s *sseWriter) writeHeartbeat() error { return s.comment("ping") }

// close clears the deadline so the server can reuse the connection.
func (s *sseWriter) close() error {
	if err := s.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// wsWriter sends pushes as JSON text frames and heartbeats as pings.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) writePush(p Push) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(p)
}

func (w *wsWriter) writeHeartbeat() error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsWriter) close() error {
	w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return w.conn.Close()
}
