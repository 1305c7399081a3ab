// Package mutation runs side-effecting writes against the backend and keeps
// the cached views consistent with their outcome.
//
// Execute applies any optimistic updates, calls the backend, and then either
// reconciles the result and invalidates every key the invalidation graph
// declares for the mutation kind, or rolls every optimistic update back.
// Executions of the same kind are not deduplicated; their cache effects are
// applied atomically in completion order.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mazza/sellerd/internal/cache"
	"github.com/mazza/sellerd/internal/fault"
	"github.com/mazza/sellerd/internal/invalidation"
	"github.com/mazza/sellerd/internal/logging"
	"github.com/mazza/sellerd/internal/metrics"
	"github.com/mazza/sellerd/internal/observability"
)

const publishTimeout = 2 * time.Second

// Optimistic is an update applied to the cache before the backend confirms.
type Optimistic struct {
	Key   cache.Key
	Apply func(prev any, ok bool) any
}

// Request describes one mutation.
type Request struct {
	Kind        invalidation.MutationKind
	ResourceKey cache.Key
	Payload     any
	// IdempotencyToken is recorded for audit; Call is responsible for
	// sending it.
	IdempotencyToken string

	Optimistic []Optimistic

	// Call performs the write and returns the server's authoritative value.
	Call func(ctx context.Context) (any, error)

	// Reconcile folds the authoritative value into ResourceKey's cached value.
	// Returning false leaves the entry alone. When nil the value replaces the
	// entry as-is.
	Reconcile func(prev any, ok bool, result any) (any, bool)

	// AlreadyApplied reports whether a failed Call means the write had
	// already taken effect, in which case the outcome is a success.
	AlreadyApplied func(err error) bool
}

// Outcome is the result of Execute.
type Outcome struct {
	RequestID      string
	Value          any
	Err            error
	AlreadyApplied bool
	RolledBack     bool
	Invalidated    []cache.Key
	Duration       time.Duration
}

// OK reports whether the mutation succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Publisher broadcasts invalidations to other stores of the same seller.
type Publisher interface {
	Publish(ctx context.Context, key cache.Key, prefix bool) error
}

// Config configures a Pipeline.
type Config struct {
	Store *cache.Store
	Graph *invalidation.Graph
	Audit *logging.Logger
	Clock func() time.Time
	// Publisher is optional.
	Publisher Publisher
}

// Pipeline executes mutations.
type Pipeline struct {
	store *cache.Store
	graph *invalidation.Graph
	audit *logging.Logger
	clock func() time.Time
	pub   Publisher

	// settleMu serializes the success/failure cache effects of overlapping
	// executions so they land in completion order.
	settleMu sync.Mutex

	mu       sync.Mutex
	trackers map[invalidation.MutationKind]*Tracker
}

// New creates a pipeline over store and graph.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("mutation: store is required")
	}
	if cfg.Graph == nil {
		return nil, errors.New("mutation: invalidation graph is required")
	}
	if cfg.Audit == nil {
		cfg.Audit = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	p := &Pipeline{
		store:    cfg.Store,
		graph:    cfg.Graph,
		audit:    cfg.Audit,
		clock:    cfg.Clock,
		pub:      cfg.Publisher,
		trackers: make(map[invalidation.MutationKind]*Tracker),
	}
	for _, k := range cfg.Graph.Kinds() {
		p.trackers[k] = newTracker(cfg.Clock)
	}
	return p, nil
}

// Tracker returns the state tracker for kind.
func (p *Pipeline) Tracker(kind invalidation.MutationKind) *Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.trackers[kind]
	if !ok {
		t = newTracker(p.clock)
		p.trackers[kind] = t
	}
	return t
}

// Execute runs req. It never panics on backend failure; errors are
// returned in the Outcome.
func (p *Pipeline) Execute(ctx context.Context, req Request) Outcome {
	out := Outcome{RequestID: uuid.NewString()}
	if req.Call == nil {
		out.Err = fmt.Errorf("mutation %s: no call", req.Kind)
		return out
	}
	if !p.graph.Declared(req.Kind) {
		out.Err = fmt.Errorf("mutation %s: kind not declared in invalidation graph", req.Kind)
		return out
	}

	tracker := p.Tracker(req.Kind)
	tracker.begin(out.RequestID)

	ctx, span := observability.StartSpan(ctx, "mutation.execute",
		observability.AttrMutationKind.String(string(req.Kind)),
		observability.AttrRequestID.String(out.RequestID),
		observability.AttrOptimistic.Bool(len(req.Optimistic) > 0),
	)
	defer span.End()
	if req.IdempotencyToken != "" {
		span.SetAttributes(observability.AttrIdempotencyToken.String(req.IdempotencyToken))
	}

	start := time.Now()
	rollbacks := make([]cache.Rollback, 0, len(req.Optimistic))
	for _, o := range req.Optimistic {
		rollbacks = append(rollbacks, p.store.Optimistic(o.Key, o.Apply))
	}

	value, err := req.Call(ctx)
	if err != nil && req.AlreadyApplied != nil && req.AlreadyApplied(err) {
		out.AlreadyApplied = true
		err = nil
	}
	out.Value = value

	p.settleMu.Lock()
	if err != nil {
		out.Err = err
		out.RolledBack = p.rollback(req.Kind, rollbacks)
	} else {
		p.reconcile(req, value)
		out.Invalidated = p.invalidate(ctx, req.Kind)
	}
	p.settleMu.Unlock()

	out.Duration = time.Since(start)
	tracker.finish(out.RequestID, out.Err)
	p.record(ctx, req, out)

	if out.Err != nil {
		observability.SetSpanError(span, out.Err)
		span.SetAttributes(observability.AttrErrorKind.String(string(fault.KindOf(out.Err))))
	} else {
		observability.SetSpanOK(span)
	}
	return out
}

// rollback undoes optimistic updates newest first. It reports whether any
// entry was restored.
func (p *Pipeline) rollback(kind invalidation.MutationKind, rollbacks []cache.Rollback) bool {
	restored := false
	for i := len(rollbacks) - 1; i >= 0; i-- {
		if rollbacks[i]() {
			restored = true
		} else {
			logging.Op().Debug("optimistic update superseded, not rolled back", "kind", kind)
		}
	}
	if restored {
		metrics.RecordRollback(string(kind))
	}
	return restored
}

func (p *Pipeline) reconcile(req Request, value any) {
	if len(req.ResourceKey) == 0 || value == nil {
		return
	}
	p.store.Update(req.ResourceKey, func(prev any, ok bool) (any, bool) {
		if req.Reconcile == nil {
			return value, true
		}
		return req.Reconcile(prev, ok, value)
	})
}

func (p *Pipeline) invalidate(ctx context.Context, kind invalidation.MutationKind) []cache.Key {
	var keys []cache.Key
	for _, t := range p.graph.Targets(kind) {
		if t.Prefix {
			p.store.InvalidatePrefix(t.Key)
		} else {
			p.store.Invalidate(t.Key)
		}
		metrics.RecordInvalidation(string(kind), t.String())
		keys = append(keys, t.Key)

		if p.pub != nil {
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
			if err := p.pub.Publish(pctx, t.Key, t.Prefix); err != nil {
				logging.Op().Warn("publish invalidation failed", "kind", kind, "key", t.String(), "error", err)
			}
			cancel()
		}
	}
	return keys
}

func (p *Pipeline) record(ctx context.Context, req Request, out Outcome) {
	outcome := "success"
	if out.Err != nil {
		outcome = string(fault.KindOf(out.Err))
	} else if out.AlreadyApplied {
		outcome = "already_applied"
	}
	metrics.RecordMutation(string(req.Kind), outcome, out.Duration)

	entry := &logging.MutationLog{
		RequestID:        out.RequestID,
		TraceID:          observability.GetTraceID(ctx),
		SpanID:           observability.GetSpanID(ctx),
		Kind:             string(req.Kind),
		ResourceKey:      req.ResourceKey.String(),
		IdempotencyToken: req.IdempotencyToken,
		DurationMs:       out.Duration.Milliseconds(),
		Success:          out.Err == nil,
		Optimistic:       len(req.Optimistic) > 0,
		RolledBack:       out.RolledBack,
	}
	for _, k := range out.Invalidated {
		entry.Invalidated = append(entry.Invalidated, k.String())
	}
	if out.Err != nil {
		entry.ErrorKind = string(fault.KindOf(out.Err))
		entry.Error = out.Err.Error()
	}
	p.audit.Log(entry)

	log := logging.OpWithTrace(entry.TraceID, entry.SpanID)
	if out.Err != nil {
		log.Warn("mutation failed", "kind", req.Kind, "request_id", out.RequestID, "error", out.Err)
		return
	}
	log.Info("mutation applied", "kind", req.Kind, "request_id", out.RequestID,
		"already_applied", out.AlreadyApplied, "invalidated", len(out.Invalidated))
}
