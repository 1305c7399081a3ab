package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is a process-local Backend for embedding the store in a
// long-lived process and for tests. Snapshots live only as long as the
// process, so the CLI offers only Redis.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	clock   func() time.Time
	closed  bool
	stop    chan struct{}
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryBackend creates an in-memory backend with periodic eviction of
// expired snapshots. A nil clock uses time.Now.
func NewMemoryBackend(clock func() time.Time) *MemoryBackend {
	if clock == nil {
		clock = time.Now
	}
	b := &MemoryBackend{
		entries: make(map[string]*memEntry),
		clock:   clock,
		stop:    make(chan struct{}),
	}
	go b.evictLoop()
	return b
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[key]
	if !ok || entry.expired(b.clock()) {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = b.clock().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	b.entries[key] = &memEntry{value: cp, expiresAt: expiresAt}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *MemoryBackend) Ping(_ context.Context) error { return nil }

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.entries = nil
	close(b.stop)
	return nil
}

func (b *MemoryBackend) evictLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		}
		b.mu.Lock()
		now := b.clock()
		for key, entry := range b.entries {
			if entry.expired(now) {
				delete(b.entries, key)
			}
		}
		b.mu.Unlock()
	}
}
