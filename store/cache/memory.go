package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time // zero: never
	token   uint64
}

func (e entry) live(now time.Time) bool { return e.expires.IsZero() || now.Before(e.expires) }

// Memory is an in-process Cache and Locker.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	locks   map[string]entry
	tokens  uint64
	now     func() time.Time
}

var (
	_ Cache  = (*Memory)(nil)
	_ Locker = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		locks:   make(map[string]entry),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.live(m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Lock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.locks[key]; ok && held.live(m.now()) {
		return nil, ErrLockHeld
	}
	m.tokens++
	lease := entry{expires: m.now().Add(ttl), token: m.tokens}
	m.locks[key] = lease

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Only release our own lease, not one taken after ours expired.
		if cur, ok := m.locks[key]; ok && cur.token == lease.token {
			delete(m.locks, key)
		}
		return nil
	}, nil
}
