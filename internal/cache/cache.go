// Package cache provides a TTL cache for market data fetched during a scan.
// Concurrent ticker evaluations share quotes, bars, and earnings history
// through it; order state is intentionally never cached.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL bounds staleness of scan-time market data.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxEntries caps memory; the oldest entry is evicted first.
	DefaultMaxEntries = 200
)

type entry struct {
	value    interface{}
	storedAt time.Time
}

// Manager is a concurrency-safe TTL cache. Concurrent fetches for the same
// key are collapsed into a single upstream call.
type Manager struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	group      singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source for expiry checks (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a Manager. Non-positive ttl or maxEntries fall back to the
// defaults.
func New(ttl time.Duration, maxEntries int, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	m := &Manager{
		entries:    make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrFetch returns the cached value for key when fresh, otherwise invokes
// fetch exactly once across concurrent callers and caches the result. Fetch
// errors are returned to every waiting caller and nothing is cached.
func (m *Manager) GetOrFetch(key string, fetch func() (interface{}, error)) (interface{}, error) {
	if v, ok := m.lookup(key); ok {
		m.hits.Add(1)
		return v, nil
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have populated the key while this one
		// waited on the flight group.
		if v, ok := m.lookup(key); ok {
			m.hits.Add(1)
			return v, nil
		}
		m.misses.Add(1)

		value, err := fetch()
		if err != nil {
			return nil, err
		}
		m.store(key, value)
		return value, nil
	})
	return v, err
}

// Fetch is a typed wrapper over Manager.GetOrFetch.
func Fetch[T any](m *Manager, key string, fetch func() (T, error)) (T, error) {
	var zero T
	v, err := m.GetOrFetch(key, func() (interface{}, error) {
		return fetch()
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}

func (m *Manager) lookup(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || m.now().Sub(e.storedAt) >= m.ttl {
		return nil, false
	}
	return e.value, true
}

func (m *Manager) store(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictOldestLocked()
	}
	m.entries[key] = entry{value: value, storedAt: m.now()}
}

// evictOldestLocked removes the entry with the earliest storedAt. Caller
// holds the write lock.
func (m *Manager) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range m.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
			first = false
		}
	}
	if !first {
		delete(m.entries, oldestKey)
	}
}

// Stats returns cumulative hit and miss counts.
func (m *Manager) Stats() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}

// Len returns the number of resident entries, fresh or expired.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
