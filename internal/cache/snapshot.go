package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mazza/sellerd/internal/logging"
)

const snapshotWriteTimeout = 5 * time.Second

type snapshotEnvelope[T any] struct {
	FetchedAt time.Time `json:"fetched_at"`
	Value     T         `json:"value"`
}

// persistLocked queues a snapshot write of rec. Writes and deletes run in
// queue order, and a write queued before EvictAll is skipped once it runs.
func (s *Store) persistLocked(rec *record) {
	if s.snapshotIO == nil {
		return
	}
	key, value, fetchedAt, gen := rec.key.String(), rec.value, rec.fetchedAt, s.gen
	s.snapshotIO.push(func() { s.writeSnapshot(gen, key, value, fetchedAt) })
}

func (s *Store) writeSnapshot(gen uint64, key string, value any, fetchedAt time.Time) {
	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()
	if !current {
		return
	}

	data, err := json.Marshal(snapshotEnvelope[any]{FetchedAt: fetchedAt, Value: value})
	if err != nil {
		logging.Op().Warn("snapshot encode failed", "key", key, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, snapshotWriteTimeout)
	defer cancel()
	if err := s.cfg.Snapshots.Set(ctx, key, data, s.cfg.SnapshotTTL); err != nil {
		logging.Op().Warn("snapshot write failed", "key", key, "error", err)
	}
}

// dropSnapshots queues deletes for records behind any pending writes and
// waits for them.
func (s *Store) dropSnapshots(records map[string]*record) {
	if s.snapshotIO == nil || len(records) == 0 {
		return
	}
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	done := make(chan struct{})
	queued := s.snapshotIO.push(func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(s.ctx, snapshotWriteTimeout)
		defer cancel()
		for _, k := range keys {
			if err := s.cfg.Snapshots.Delete(ctx, k); err != nil {
				logging.Op().Warn("snapshot delete failed", "key", k, "error", err)
			}
		}
	})
	if !queued {
		return
	}

	select {
	case <-done:
	case <-time.After(2 * snapshotWriteTimeout):
		logging.Op().Warn("snapshot delete still pending", "keys", len(keys))
	}
}

// Restore seeds key from the snapshot backend. The restored value is served
// as stale, so the first read revalidates it. It reports whether a value was
// seeded; keys that already hold a value are left alone.
func Restore[T any](ctx context.Context, s *Store, key Key) (bool, error) {
	if s.cfg.Snapshots == nil {
		return false, nil
	}
	data, err := s.cfg.Snapshots.Get(ctx, key.String())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	var env snapshotEnvelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordLocked(key)
	if rec.hasValue {
		return false, nil
	}
	rec.value = env.Value
	rec.hasValue = true
	rec.fetchedAt = env.FetchedAt
	rec.invalidated = true
	s.notifyLocked(rec, s.cfg.Clock())
	return true, nil
}
