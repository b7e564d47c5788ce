package notifications

import (
	"context"
	"log"
	"sync"
	"time"
)

// ConnState is the state of a broker connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateReady
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// connManager owns the Disconnected -> Connecting -> Ready cycle of a broker
// connection. dial must establish connectivity and declare topology; it is
// retried with backoff until it succeeds or the manager is stopped.
type connManager struct {
	name string
	dial func(ctx context.Context) error

	minBackoff time.Duration
	maxBackoff time.Duration

	mu    sync.Mutex
	state ConnState
	ready chan struct{} // closed on entering Ready

	ctx    context.Context
	cancel context.CancelFunc
}

func newConnManager(name string, dial func(ctx context.Context) error) *connManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &connManager{
		name:       name,
		dial:       dial,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 15 * time.Second,
		state:      StateDisconnected,
		ready:      make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (m *connManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// acquire blocks until the connection is Ready, starting a connect cycle if
// none is running.
func (m *connManager) acquire(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.ctx.Err() != nil {
			m.mu.Unlock()
			return ErrBrokerClosed
		}
		switch m.state {
		case StateReady:
			m.mu.Unlock()
			return nil
		case StateDisconnected:
			m.state = StateConnecting
			go m.connect(m.ready)
		}
		ready := m.ready
		m.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return ErrBrokerClosed
		}
	}
}

func (m *connManager) connect(ready chan struct{}) {
	backoff := m.minBackoff
	for {
		err := m.dial(m.ctx)
		if err == nil {
			m.mu.Lock()
			m.state = StateReady
			close(ready)
			m.mu.Unlock()
			log.Printf("notifications: %s connection ready", m.name)
			return
		}
		if m.ctx.Err() != nil {
			return
		}
		log.Printf("notifications: %s connect failed, retrying in %s: %v", m.name, backoff, err)
		if !sleepCtx(m.ctx.Done(), backoff) {
			return
		}
		backoff = min(backoff*2, m.maxBackoff)
	}
}

// invalidate moves a Ready connection back to Disconnected after an I/O
// failure. The next acquire reconnects and re-declares topology.
func (m *connManager) invalidate(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return
	}
	m.state = StateDisconnected
	m.ready = make(chan struct{})
	log.Printf("notifications: %s connection lost: %v", m.name, cause)
}

func (m *connManager) close() {
	m.cancel()
}
