package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mazza/sellerd/internal/logging"
	"github.com/mazza/sellerd/internal/metrics"
	"github.com/mazza/sellerd/internal/observability"
)

const (
	// DefaultTTL applies to keys without a registered or explicit TTL.
	DefaultTTL = 30 * time.Second
	// DefaultLoadTimeout bounds a single loader invocation.
	DefaultLoadTimeout = 15 * time.Second
)

// ErrNoLoader is returned by Fetch when neither the call nor an earlier read
// supplied a loader for the key.
var ErrNoLoader = errors.New("cache: no loader registered for key")

// Loader fetches the authoritative value for a key.
type Loader[T any] func(ctx context.Context) (T, error)

type loadFunc func(ctx context.Context) (any, error)

func erase[T any](l Loader[T]) loadFunc {
	if l == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		return l(ctx)
	}
}

// Config controls a Store.
type Config struct {
	DefaultTTL  time.Duration
	LoadTimeout time.Duration
	Clock       func() time.Time

	// Snapshots, when set, receives every successfully loaded value so a new
	// Store can Restore last-known values after a restart.
	Snapshots   Backend
	SnapshotTTL time.Duration
}

// Stats counts store activity since creation.
type Stats struct {
	Hits       uint64 // read served a fresh value
	StaleHits  uint64 // read served a stale value and scheduled a refresh
	Misses     uint64 // read found no value
	Loads      uint64 // loader invocations
	LoadErrors uint64
	Discarded  uint64 // load results dropped because a newer value was applied
}

// Store is the query cache. It owns every entry; consumers observe copies via
// Read, Fetch, Subscribe and Watch and change state only through Set,
// Optimistic, Invalidate and EvictAll.
//
// Within one key, a load result is applied only if the load was issued after
// the value currently held was produced. Set and Optimistic count as newly
// issued values, so a poll that started before a mutation can never
// overwrite the mutation's result.
type Store struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	seq      uint64
	gen      uint64
	closed   bool
	records  map[string]*record
	defaults map[string]Defaults
	subs     map[string]map[uint64]func(Entry[any])
	nextSub  uint64
	pollers  map[string]*poller

	group    singleflight.Group
	dispatch *dispatcher
	// snapshotIO serializes snapshot writes and deletes; nil without a
	// snapshot backend.
	snapshotIO *dispatcher

	hits, staleHits, misses, loads, loadErrors, discarded atomic.Uint64
}

// New creates a Store. Call Close to stop pollers and background work.
func New(cfg Config) *Store {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		records:  make(map[string]*record),
		defaults: make(map[string]Defaults),
		subs:     make(map[string]map[uint64]func(Entry[any])),
		pollers:  make(map[string]*poller),
		dispatch: newDispatcher(),
	}
	if cfg.Snapshots != nil {
		s.snapshotIO = newDispatcher()
	}
	return s
}

// SetDefaults registers the TTL and poll interval used for key when a read
// does not specify them.
func (s *Store) SetDefaults(key Key, d Defaults) {
	s.mu.Lock()
	s.defaults[key.String()] = d
	s.mu.Unlock()
}

// Read returns the current entry for key without blocking. If the entry is
// absent, expired or invalidated, load is scheduled in the background; while
// it runs, concurrent reads of the same key share the one invocation.
func Read[T any](s *Store, key Key, load Loader[T], opts ...ReadOption) Entry[T] {
	return typed[T](s.read(key, erase(load), s.resolve(key, opts)))
}

// Fetch is the blocking form of Read: it returns immediately when the entry
// is fresh and otherwise waits for the (possibly shared) load to finish.
// A failed load returns the error together with the retained entry.
func Fetch[T any](ctx context.Context, s *Store, key Key, load Loader[T], opts ...ReadOption) (Entry[T], error) {
	e, err := s.fetch(ctx, key, erase(load), s.resolve(key, opts))
	return typed[T](e), err
}

// Get returns the current entry without triggering a load.
func Get[T any](s *Store, key Key) Entry[T] {
	return typed[T](s.Peek(key))
}

// Peek returns the current untyped entry without triggering a load.
func (s *Store) Peek(key Key) Entry[any] {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key.String()]
	if !ok {
		return Entry[any]{Key: NewKey(key...), Status: StatusStale}
	}
	return rec.view(s.cfg.Clock())
}

func (s *Store) read(key Key, load loadFunc, o readOptions) Entry[any] {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(key)
	rec.adopt(load, o)
	now := s.cfg.Clock()
	s.countRead(rec, now)

	if !o.disabled && !s.closed && rec.loader != nil && !rec.inflight && rec.needsLoad(now) {
		s.beginLoadLocked(rec, now)
	}
	return rec.view(now)
}

func (s *Store) fetch(ctx context.Context, key Key, load loadFunc, o readOptions) (Entry[any], error) {
	s.mu.Lock()
	rec := s.recordLocked(key)
	rec.adopt(load, o)
	now := s.cfg.Clock()

	if o.disabled || s.closed {
		e := rec.view(now)
		s.mu.Unlock()
		return e, nil
	}
	if rec.loader == nil {
		e := rec.view(now)
		s.mu.Unlock()
		return e, ErrNoLoader
	}
	if !rec.inflight && !rec.needsLoad(now) {
		s.countRead(rec, now)
		e := rec.view(now)
		s.mu.Unlock()
		return e, nil
	}
	ch := s.beginLoadLocked(rec, now)
	s.mu.Unlock()

	select {
	case res := <-ch:
		return s.Peek(key), res.Err
	case <-ctx.Done():
		return s.Peek(key), ctx.Err()
	}
}

func (s *Store) recordLocked(key Key) *record {
	k := key.String()
	rec, ok := s.records[k]
	if !ok {
		rec = &record{key: NewKey(key...), ttl: s.cfg.DefaultTTL}
		s.records[k] = rec
	}
	return rec
}

func (r *record) adopt(load loadFunc, o readOptions) {
	if load != nil {
		r.loader = load
	}
	if o.ttl > 0 {
		r.ttl = o.ttl
	}
	if o.poll > 0 {
		r.poll = o.poll
	}
}

func (s *Store) countRead(rec *record, now time.Time) {
	result := "hit"
	switch {
	case !rec.hasValue:
		s.misses.Add(1)
		result = "miss"
	case rec.needsLoad(now):
		s.staleHits.Add(1)
		result = "stale"
	default:
		s.hits.Add(1)
	}
	metrics.RecordCacheRead(rec.key.String(), result)
}

// beginLoadLocked starts a load for rec, or joins the one in flight, and
// returns the channel that receives its result.
func (s *Store) beginLoadLocked(rec *record, now time.Time) <-chan singleflight.Result {
	if !rec.inflight {
		rec.inflight = true
		rec.flightSeq = s.nextSeqLocked()
		s.notifyLocked(rec, now)
	}
	key, gen, seq, load := rec.key, s.gen, rec.flightSeq, rec.loader
	return s.group.DoChan(key.String(), func() (any, error) {
		return s.runLoad(key, gen, seq, load)
	})
}

func (s *Store) runLoad(key Key, gen, seq uint64, load loadFunc) (any, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.LoadTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "cache.load", observability.AttrCacheKey.String(key.String()))
	defer span.End()

	s.loads.Add(1)
	start := time.Now()
	v, err := load(ctx)
	elapsed := time.Since(start)

	if err != nil {
		observability.SetSpanError(span, err)
		metrics.RecordCacheLoad(key.String(), "error", elapsed)
		logging.Op().Warn("cache load failed", "key", key.String(), "error", err)
	} else {
		observability.SetSpanOK(span)
		metrics.RecordCacheLoad(key.String(), "success", elapsed)
		logging.Op().Debug("cache load", "key", key.String(), "duration", elapsed)
	}

	s.complete(key, gen, seq, v, err)
	return v, err
}

// complete applies a finished load. Results from a previous generation
// (before EvictAll) or older than the held value are dropped.
func (s *Store) complete(key Key, gen, seq uint64, v any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	rec, ok := s.records[k]
	if !ok || gen != s.gen || s.closed {
		return
	}
	if rec.flightSeq == seq {
		rec.inflight = false
		// A load begun from here on must not join this finishing call.
		s.group.Forget(k)
	}
	now := s.cfg.Clock()

	switch {
	case seq <= rec.appliedSeq:
		s.discarded.Add(1)
		metrics.RecordCacheDiscard(k)
	case err != nil:
		rec.err = err
		s.loadErrors.Add(1)
	default:
		rec.value = v
		rec.hasValue = true
		rec.fetchedAt = now
		rec.appliedSeq = seq
		rec.err = nil
		rec.settle()
		if rec.invalidatedSeq < seq {
			rec.invalidated = false
		}
		s.persistLocked(rec)
	}
	s.notifyLocked(rec, now)

	// Invalidated while this load was running: its result predates the
	// invalidation, so observed keys load again right away.
	if rec.invalidatedSeq > seq && !rec.inflight && rec.loader != nil && s.observedLocked(k) {
		s.beginLoadLocked(rec, now)
	}
}

// Set seeds key with value without a round trip. The value counts as newly
// fetched.
func (s *Store) Set(key Key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(key)
	rec.value = value
	rec.hasValue = true
	rec.fetchedAt = s.cfg.Clock()
	rec.appliedSeq = s.nextSeqLocked()
	rec.err = nil
	rec.invalidated = false
	rec.settle()
	s.persistLocked(rec)
	s.notifyLocked(rec, rec.fetchedAt)
}

// Update replaces the value of key with fn(previous) as a newly issued
// value. When fn reports false the entry is left untouched. It reports
// whether the value changed.
func (s *Store) Update(key Key, fn func(prev any, ok bool) (any, bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(key)
	next, keep := fn(rec.value, rec.hasValue)
	if !keep {
		return false
	}
	rec.value = next
	rec.hasValue = true
	rec.fetchedAt = s.cfg.Clock()
	rec.appliedSeq = s.nextSeqLocked()
	rec.err = nil
	rec.invalidated = false
	rec.settle()
	s.persistLocked(rec)
	s.notifyLocked(rec, rec.fetchedAt)
	return true
}

// Rollback withdraws one optimistic write. It reports false, and changes
// nothing, when an authoritative value has been applied since.
type Rollback func() bool

// Optimistic replaces the value of key with update(previous) and returns a
// Rollback for it. Overlapping optimistic writes on one key stack: rolling
// one back recomputes the value from the entry held before the oldest of
// them and the writes still outstanding, so update may be called again and
// must not depend on anything but prev. When every write is rolled back the
// exact previous entry is restored, whatever the rollback order.
func (s *Store) Optimistic(key Key, update func(prev any, ok bool) any) Rollback {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(key)
	if len(rec.layers) == 0 {
		rec.base = rec.state()
	}
	seq := s.nextSeqLocked()
	rec.layers = append(rec.layers, layer{seq: seq, apply: update})
	rec.value = update(rec.value, rec.hasValue)
	rec.hasValue = true
	rec.err = nil
	rec.appliedSeq = seq
	gen, k := s.gen, key.String()
	s.notifyLocked(rec, s.cfg.Clock())

	var once sync.Once
	return func() bool {
		restored := false
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			cur, ok := s.records[k]
			if !ok || s.gen != gen || !cur.dropLayer(seq) {
				return
			}
			s.notifyLocked(cur, s.cfg.Clock())
			restored = true
		})
		return restored
	}
}

// Invalidate marks key stale without clearing its value. The next read, or
// the watcher's poller immediately, refetches while the old value is served.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key.String()]; ok {
		s.invalidateLocked(rec)
	}
}

// InvalidatePrefix invalidates every cached key under prefix and returns how
// many were marked.
func (s *Store) InvalidatePrefix(prefix Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.key.HasPrefix(prefix) {
			s.invalidateLocked(rec)
			n++
		}
	}
	return n
}

func (s *Store) invalidateLocked(rec *record) {
	rec.invalidated = true
	rec.invalidatedSeq = s.nextSeqLocked()
	s.notifyLocked(rec, s.cfg.Clock())
	if p, ok := s.pollers[rec.key.String()]; ok {
		p.kick()
	}
}

// EvictAll drops every entry and stops all pollers, e.g. on sign-out.
// Loads still in flight finish but their results are discarded.
// Subscriptions survive and observe the emptied entries. Snapshots of the
// dropped entries are deleted before EvictAll returns.
func (s *Store) EvictAll() {
	s.mu.Lock()
	s.gen++
	old := s.records
	s.records = make(map[string]*record)
	pollers := s.pollers
	s.pollers = make(map[string]*poller)
	now := s.cfg.Clock()
	for k, rec := range old {
		s.group.Forget(k)
		empty := &record{key: rec.key, ttl: rec.ttl}
		s.notifyLocked(empty, now)
	}
	s.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
	s.dropSnapshots(old)
	logging.Op().Info("cache evicted", "entries", len(old))
}

// Stats returns activity counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:       s.hits.Load(),
		StaleHits:  s.staleHits.Load(),
		Misses:     s.misses.Load(),
		Loads:      s.loads.Load(),
		LoadErrors: s.loadErrors.Load(),
		Discarded:  s.discarded.Load(),
	}
}

// Close stops pollers, finishes pending snapshot writes and stops the
// subscriber dispatcher. Entries stay readable.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pollers := s.pollers
	s.pollers = make(map[string]*poller)
	s.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
	if s.snapshotIO != nil {
		s.snapshotIO.close()
	}
	s.cancel()
	s.dispatch.close()
	return nil
}

func (s *Store) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}
