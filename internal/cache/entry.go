package cache

import (
	"context"
	"time"
)

// Status is the observable freshness of an entry.
type Status int

const (
	StatusStale    Status = iota // absent, older than TTL, or invalidated
	StatusFresh                  // value fetched within TTL
	StatusFetching               // a load is in flight; any prior value is still served
	StatusError                  // last load failed; any prior value is still served
)

func (s Status) String() string {
	switch s {
	case StatusStale:
		return "stale"
	case StatusFresh:
		return "fresh"
	case StatusFetching:
		return "fetching"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is a point-in-time view of a cached resource. Entries are copies;
// mutating one never changes the store.
type Entry[T any] struct {
	Key          Key
	Value        T
	HasValue     bool
	FetchedAt    time.Time
	TTL          time.Duration
	PollInterval time.Duration
	Status       Status
	Err          error
}

// Age returns how long ago the value was fetched, relative to now.
func (e Entry[T]) Age(now time.Time) time.Duration {
	if e.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(e.FetchedAt)
}

// typed converts an untyped view into Entry[T]. A value of another type is
// reported as absent.
func typed[T any](e Entry[any]) Entry[T] {
	out := Entry[T]{
		Key:          e.Key,
		FetchedAt:    e.FetchedAt,
		TTL:          e.TTL,
		PollInterval: e.PollInterval,
		Status:       e.Status,
		Err:          e.Err,
	}
	if e.HasValue {
		v, ok := e.Value.(T)
		out.Value = v
		out.HasValue = ok
	}
	return out
}

// record is the store-owned mutable state behind an Entry.
type record struct {
	key       Key
	value     any
	hasValue  bool
	fetchedAt time.Time
	ttl       time.Duration
	poll      time.Duration
	err       error
	loader    func(ctx context.Context) (any, error)

	inflight  bool
	flightSeq uint64

	// appliedSeq is the issue sequence of the value currently held; results
	// of loads issued before it are discarded.
	appliedSeq uint64

	invalidated    bool
	invalidatedSeq uint64

	// layers are the outstanding optimistic writes in issue order, applied
	// over base, the entry as it stood before the oldest of them. Applying
	// an authoritative value drops both.
	base   *recordState
	layers []layer
}

type recordState struct {
	value       any
	hasValue    bool
	fetchedAt   time.Time
	err         error
	invalidated bool
	appliedSeq  uint64
}

type layer struct {
	seq   uint64
	apply func(prev any, ok bool) any
}

func (r *record) state() *recordState {
	return &recordState{
		value:       r.value,
		hasValue:    r.hasValue,
		fetchedAt:   r.fetchedAt,
		err:         r.err,
		invalidated: r.invalidated,
		appliedSeq:  r.appliedSeq,
	}
}

// settle marks the held value authoritative.
func (r *record) settle() {
	r.base = nil
	r.layers = nil
}

// dropLayer removes the optimistic write issued at seq and recomputes the
// value from base and the remaining layers. It reports false when the write
// is no longer outstanding.
func (r *record) dropLayer(seq uint64) bool {
	i := -1
	for j, l := range r.layers {
		if l.seq == seq {
			i = j
			break
		}
	}
	if i < 0 || r.base == nil {
		return false
	}
	r.layers = append(r.layers[:i:i], r.layers[i+1:]...)

	b := r.base
	r.value = b.value
	r.hasValue = b.hasValue
	r.fetchedAt = b.fetchedAt
	r.err = b.err
	r.invalidated = b.invalidated
	if len(r.layers) == 0 {
		r.appliedSeq = b.appliedSeq
		r.base = nil
		r.layers = nil
		return true
	}
	for _, l := range r.layers {
		r.value = l.apply(r.value, r.hasValue)
		r.hasValue = true
		r.err = nil
	}
	return true
}

func (r *record) expired(now time.Time) bool {
	return now.Sub(r.fetchedAt) > r.ttl
}

// needsLoad reports whether a read should schedule a background load.
func (r *record) needsLoad(now time.Time) bool {
	return !r.hasValue || r.invalidated || r.expired(now)
}

func (r *record) status(now time.Time) Status {
	switch {
	case r.inflight:
		return StatusFetching
	case r.err != nil:
		return StatusError
	case r.needsLoad(now):
		return StatusStale
	default:
		return StatusFresh
	}
}

func (r *record) view(now time.Time) Entry[any] {
	return Entry[any]{
		Key:          NewKey(r.key...),
		Value:        r.value,
		HasValue:     r.hasValue,
		FetchedAt:    r.fetchedAt,
		TTL:          r.ttl,
		PollInterval: r.poll,
		Status:       r.status(now),
		Err:          r.err,
	}
}
