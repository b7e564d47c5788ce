package notifications

import (
	"context"
	"path"
	"sync"
	"time"
)

type memEntry struct {
	list    [][]byte
	value   []byte
	isList  bool
	expires time.Time
}

// MemoryStore is a single-process Store for development and tests. Expired
// keys are dropped lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]*memEntry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*memEntry), now: time.Now}
}

// lookup returns the live entry for key. Caller holds mu.
func (s *MemoryStore) lookup(key string) *memEntry {
	e, ok := s.keys[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.keys, key)
		return nil
	}
	return e
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) AppendToFeed(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil || !e.isList {
		e = &memEntry{isList: true}
		s.keys[key] = e
	}
	e.list = append(e.list, append([]byte(nil), value...))
	e.expires = s.expiry(ttl)
	return nil
}

func (s *MemoryStore) ReadFeed(_ context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil || !e.isList {
		return nil, nil
	}
	out := make([][]byte, len(e.list))
	copy(out, e.list)
	return out, nil
}

func (s *MemoryStore) DeleteFeed(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func (s *MemoryStore) RefreshTTL(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.lookup(key); e != nil {
		e.expires = s.expiry(ttl)
	}
	return nil
}

func (s *MemoryStore) FilterFeed(_ context.Context, key string, keep func([]byte) bool, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil || !e.isList {
		return 0, nil
	}
	survivors := e.list[:0:0]
	for _, v := range e.list {
		if keep(v) {
			survivors = append(survivors, v)
		}
	}
	removed := len(e.list) - len(survivors)
	if removed == 0 {
		return 0, nil
	}
	if len(survivors) == 0 {
		delete(s.keys, key)
		return removed, nil
	}
	e.list = survivors
	e.expires = s.expiry(ttl)
	return removed, nil
}

func (s *MemoryStore) SetIndividual(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = &memEntry{value: append([]byte(nil), value...), expires: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) GetIndividual(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil || e.isList {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) DeleteIndividual(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.keys, k)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(key) != nil, nil
}

func (s *MemoryStore) KeysByPattern(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.keys {
		if s.lookup(k) == nil {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}
