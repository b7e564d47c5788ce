package notifications

import (
	"context"
	"errors"
	"log"
	"sync"
)

var (
	ErrSinkClosed   = errors.New("sink closed")
	ErrSlowConsumer = errors.New("sink queue full")
)

// Sink is one open live connection.
type Sink interface {
	ID() string
	// Send queues p for delivery. It must not block.
	Send(p Push) error
	Close() error
}

// Broadcaster pushes transient updates to an audience's live connections.
type Broadcaster interface {
	Broadcast(ctx context.Context, aud Audience, p Push)
}

// Registry tracks the live connections of this process. It does not
// coordinate with other instances; see Relay for that.
type Registry struct {
	mu    sync.RWMutex
	sinks map[Audience]map[string]Sink
}

func NewRegistry() *Registry {
	return &Registry{sinks: make(map[Audience]map[string]Sink)}
}

func (r *Registry) Register(aud Audience, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinks[aud] == nil {
		r.sinks[aud] = make(map[string]Sink)
	}
	r.sinks[aud][s.ID()] = s
	log.Printf("notifications live: sink %s registered for %s", s.ID(), aud)
}

// Unregister removes s. It reports whether s was registered.
func (r *Registry) Unregister(aud Audience, s Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sinks[aud]
	if !ok {
		return false
	}
	if _, ok := set[s.ID()]; !ok {
		return false
	}
	delete(set, s.ID())
	if len(set) == 0 {
		delete(r.sinks, aud)
	}
	log.Printf("notifications live: sink %s unregistered for %s", s.ID(), aud)
	return true
}

// Count returns the number of live sinks for aud.
func (r *Registry) Count(aud Audience) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks[aud])
}

// Deliver sends p to every sink of aud and returns how many accepted it. A
// sink that fails is unregistered and closed without affecting the others.
func (r *Registry) Deliver(aud Audience, p Push) int {
	r.mu.RLock()
	targets := make([]Sink, 0, len(r.sinks[aud]))
	for _, s := range r.sinks[aud] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(p); err != nil {
			log.Printf("notifications live: dropping sink %s for %s: %v", s.ID(), aud, err)
			if r.Unregister(aud, s) {
				s.Close()
			}
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) Broadcast(_ context.Context, aud Audience, p Push) {
	r.Deliver(aud, p)
}

// CloseAll closes and forgets every sink.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sinks
	r.sinks = make(map[Audience]map[string]Sink)
	r.mu.Unlock()

	for _, set := range all {
		for _, s := range set {
			s.Close()
		}
	}
}
