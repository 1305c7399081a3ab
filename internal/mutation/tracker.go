package mutation

import (
	"sync"
	"time"
)

// Status is the observable phase of a mutation kind.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is what a UI shows for one mutation trigger.
type State struct {
	Status    Status
	Err       error
	RequestID string
	Inflight  int
	UpdatedAt time.Time
}

// Tracker exposes the pending/success/error state of one mutation kind.
// While any execution is in flight the status is Pending; once the last one
// finishes the status reflects the most recent completion.
type Tracker struct {
	clock func() time.Time

	mu    sync.Mutex
	state State
	subs  map[uint64]func(State)
	next  uint64

	// emitMu keeps callbacks in state-change order.
	emitMu sync.Mutex
}

func newTracker(clock func() time.Time) *Tracker {
	return &Tracker{clock: clock, subs: make(map[uint64]func(State))}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe registers fn for every state change.
func (t *Tracker) Subscribe(fn func(State)) (unsubscribe func()) {
	t.mu.Lock()
	t.next++
	id := t.next
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Reset returns the tracker to Idle unless an execution is in flight.
func (t *Tracker) Reset() {
	t.update(func(s *State) bool {
		if s.Inflight > 0 {
			return false
		}
		*s = State{Status: StatusIdle}
		return true
	})
}

func (t *Tracker) begin(requestID string) {
	t.update(func(s *State) bool {
		s.Inflight++
		s.Status = StatusPending
		s.Err = nil
		s.RequestID = requestID
		return true
	})
}

func (t *Tracker) finish(requestID string, err error) {
	t.update(func(s *State) bool {
		s.Inflight--
		s.RequestID = requestID
		s.Err = err
		switch {
		case s.Inflight > 0:
			s.Status = StatusPending
		case err != nil:
			s.Status = StatusError
		default:
			s.Status = StatusSuccess
		}
		return true
	})
}

func (t *Tracker) update(fn func(*State) bool) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	if !fn(&t.state) {
		t.mu.Unlock()
		return
	}
	t.state.UpdatedAt = t.clock()
	st := t.state
	subs := make([]func(State), 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		sub(st)
	}
}
