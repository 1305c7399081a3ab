// Package seller composes the fulfillment engine: one cache store, the
// invalidation graph, the mutation pipeline and the pickup verifier, behind
// the accessors and triggers a seller UI needs.
package seller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mazza/sellerd/internal/cache"
	"github.com/mazza/sellerd/internal/client"
	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/invalidation"
	"github.com/mazza/sellerd/internal/logging"
	"github.com/mazza/sellerd/internal/mutation"
	"github.com/mazza/sellerd/internal/pickup"
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Cache cache.Config
	Graph *invalidation.Graph
	Audit *logging.Logger

	LiveOrders     cache.Defaults
	DashboardStats cache.Defaults

	// Redis, when set, shares invalidations with other terminals of the
	// same seller over Pub/Sub on InvalidationChannel.
	Redis               *redis.Client
	InvalidationChannel string
}

// Default per-view settings.
var (
	DefaultLiveOrders     = cache.Defaults{TTL: 10 * time.Second, PollInterval: 15 * time.Second}
	DefaultDashboardStats = cache.Defaults{TTL: time.Minute, PollInterval: time.Minute}
)

// Engine is the seller-side fulfillment engine. Create one per signed-in
// session and call Close when done.
type Engine struct {
	api      client.API
	store    *cache.Store
	graph    *invalidation.Graph
	pipeline *mutation.Pipeline
	verifier *pickup.Verifier

	invalidator *cache.Invalidator
}

// New composes an engine over api.
func New(api client.API, opts Options) (*Engine, error) {
	if api == nil {
		return nil, errors.New("seller: client is required")
	}
	if opts.Graph == nil {
		opts.Graph = invalidation.Default()
	}

	store := cache.New(opts.Cache)
	store.SetDefaults(invalidation.KeyLiveOrders, withDefault(opts.LiveOrders, DefaultLiveOrders))
	store.SetDefaults(invalidation.KeyDashboardStats, withDefault(opts.DashboardStats, DefaultDashboardStats))

	var inv *cache.Invalidator
	var pub mutation.Publisher
	if opts.Redis != nil {
		inv = cache.NewInvalidator(store, opts.Redis, opts.InvalidationChannel)
		pub = inv
	}

	pipeline, err := mutation.New(mutation.Config{
		Store:     store,
		Graph:     opts.Graph,
		Audit:     opts.Audit,
		Clock:     opts.Cache.Clock,
		Publisher: pub,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("seller: %w", err)
	}

	e := &Engine{
		api:         api,
		store:       store,
		graph:       opts.Graph,
		pipeline:    pipeline,
		verifier:    pickup.NewVerifier(api, pipeline),
		invalidator: inv,
	}
	if inv != nil {
		go inv.Start(context.Background())
	}
	return e, nil
}

func withDefault(d, fallback cache.Defaults) cache.Defaults {
	if d.TTL <= 0 {
		d.TTL = fallback.TTL
	}
	if d.PollInterval <= 0 {
		d.PollInterval = fallback.PollInterval
	}
	return d
}

// Store returns the engine's cache store.
func (e *Engine) Store() *cache.Store { return e.store }

// Close stops pollers, the invalidation listener and background work.
func (e *Engine) Close() error {
	if e.invalidator != nil {
		e.invalidator.Close()
	}
	return e.store.Close()
}

// SignOut evicts every cached view and resets mutation state. The engine
// remains usable for the next session.
func (e *Engine) SignOut() {
	e.store.EvictAll()
	for _, k := range e.graph.Kinds() {
		e.pipeline.Tracker(k).Reset()
	}
}

// ToggleState returns the store toggle tracker.
func (e *Engine) ToggleState() *mutation.Tracker {
	return e.pipeline.Tracker(invalidation.ToggleStore)
}

// CompleteState returns the order completion tracker.
func (e *Engine) CompleteState() *mutation.Tracker {
	return e.pipeline.Tracker(invalidation.CompleteOrder)
}

// Refresh loads every view concurrently and waits for all of them.
func (e *Engine) Refresh(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := cache.Fetch(ctx, e.store, invalidation.KeyLiveOrders, e.loadLiveOrders)
		return err
	})
	g.Go(func() error {
		_, err := cache.Fetch(ctx, e.store, invalidation.KeyDashboardStats, e.loadDashboardStats)
		return err
	})
	return g.Wait()
}

// Restore seeds every view from the snapshot backend, if one is configured.
func (e *Engine) Restore(ctx context.Context) error {
	var errs []error
	if _, err := cache.Restore[[]domain.Order](ctx, e.store, invalidation.KeyLiveOrders); err != nil {
		errs = append(errs, err)
	}
	if _, err := cache.Restore[domain.DashboardStats](ctx, e.store, invalidation.KeyDashboardStats); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) loadLiveOrders(ctx context.Context) ([]domain.Order, error) {
	return e.api.FetchLiveOrders(ctx)
}

func (e *Engine) loadDashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	return e.api.FetchDashboardStats(ctx)
}
