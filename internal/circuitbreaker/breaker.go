// Package circuitbreaker guards backend endpoints so a failing endpoint
// is not hammered by every cache refresh and poll tick.
//
// # State machine
//
//	Closed ──(error rate ≥ threshold)──► Open ──(OpenDuration elapsed)──► HalfOpen
//	  ▲                                                                        │
//	  └──────────────(all probes succeed)───────────────────────────────────────┘
//	                  (any probe fails) ──────────────────────────────────► Open
//
// The error rate is computed over a sliding window and only once the window
// holds at least MinRequests outcomes, so a single failed poll right after
// startup does not trip the breaker.
//
// All methods are safe for concurrent use.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Requests are rejected
	StateHalfOpen              // Limited probe requests are allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the circuit breaker configuration.
type Config struct {
	ErrorPct       float64       // Error percentage threshold to trip the breaker (0-100)
	MinRequests    int           // Outcomes required in the window before the rate is evaluated
	WindowDuration time.Duration // Sliding window for error rate calculation
	OpenDuration   time.Duration // How long the breaker stays open before probing
	HalfOpenProbes int           // Number of probe requests allowed in half-open state

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
	// OnStateChange is called (outside the lock) whenever the state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig is used for endpoints when no configuration is supplied.
func DefaultConfig() Config {
	return Config{
		ErrorPct:       50,
		MinRequests:    5,
		WindowDuration: 30 * time.Second,
		OpenDuration:   10 * time.Second,
		HalfOpenProbes: 1,
	}
}

// Enabled reports whether cfg describes an active breaker.
func (c Config) Enabled() bool {
	return c.ErrorPct > 0 && c.WindowDuration > 0 && c.OpenDuration > 0
}

type outcome struct {
	at     time.Time
	failed bool
}

// Breaker is a per-endpoint circuit breaker.
type Breaker struct {
	name string
	cfg  Config

	mu             sync.Mutex
	state          State
	window         []outcome
	openedAt       time.Time
	halfOpenProbes int
	halfOpenOK     int
}

// New creates a new circuit breaker for the named endpoint.
func New(name string, cfg Config) *Breaker {
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{name: name, cfg: cfg}
}

// Name returns the endpoint name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a request may proceed. In half-open state each
// permitted call consumes one probe slot.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := b.allowLocked(b.cfg.Now())
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

func (b *Breaker) allowLocked(now time.Time) bool {
	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.OpenDuration {
			return false
		}
		b.toHalfOpenLocked()
		fallthrough
	case StateHalfOpen:
		if b.halfOpenProbes < b.cfg.HalfOpenProbes {
			b.halfOpenProbes++
			return true
		}
		return false
	}
	return true
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.record(false)
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.record(true)
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	from := b.state
	now := b.cfg.Now()

	switch b.state {
	case StateClosed:
		b.window = append(b.window, outcome{at: now, failed: failed})
		b.trimLocked(now)
		if failed {
			b.checkThresholdLocked(now)
		}
	case StateHalfOpen:
		if failed {
			b.state = StateOpen
			b.openedAt = now
			break
		}
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.HalfOpenProbes {
			b.state = StateClosed
			b.window = b.window[:0]
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// Execute runs fn if the breaker allows it and records the outcome.
// isFailure decides which errors count against the endpoint; a nil
// isFailure counts every non-nil error.
func (b *Breaker) Execute(fn func() error, isFailure func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && (isFailure == nil || isFailure(err)) {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	from := b.state
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.OpenDuration {
		b.toHalfOpenLocked()
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return to
}

func (b *Breaker) toHalfOpenLocked() {
	b.state = StateHalfOpen
	b.halfOpenProbes = 0
	b.halfOpenOK = 0
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// maxWindowEntries caps the sliding window under extreme load.
const maxWindowEntries = 10000

// trimLocked removes entries outside the sliding window.
func (b *Breaker) trimLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.WindowDuration)
	i := 0
	for i < len(b.window) && b.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		n := copy(b.window, b.window[i:])
		b.window = b.window[:n]
	}
	if len(b.window) > maxWindowEntries {
		b.window = b.window[len(b.window)-maxWindowEntries:]
	}
}

func (b *Breaker) checkThresholdLocked(now time.Time) {
	total := len(b.window)
	if total < b.cfg.MinRequests {
		return
	}
	failures := 0
	for _, o := range b.window {
		if o.failed {
			failures++
		}
	}
	if float64(failures)/float64(total)*100 >= b.cfg.ErrorPct {
		b.state = StateOpen
		b.openedAt = now
	}
}

// Registry holds per-endpoint circuit breakers sharing one configuration.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry. A disabled config makes Get
// return nil for every endpoint.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for an endpoint, creating it on first use.
// Returns nil when circuit breaking is disabled.
func (r *Registry) Get(endpoint string) *Breaker {
	if r == nil || !r.cfg.Enabled() {
		return nil
	}

	r.mu.RLock()
	b, ok := r.breakers[endpoint]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[endpoint]; ok {
		return b
	}
	b = New(endpoint, r.cfg)
	r.breakers[endpoint] = b
	return b
}

// Reset drops every breaker, e.g. on sign-out.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.breakers = make(map[string]*Breaker)
	r.mu.Unlock()
}

// Snapshot returns endpoint name to breaker state.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State().String()
	}
	return out
}
