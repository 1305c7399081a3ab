package seller

import (
	"context"

	"github.com/mazza/sellerd/internal/cache"
	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/invalidation"
)

// LiveOrders returns the live orders entry, scheduling a refresh if it is
// absent or stale.
func (e *Engine) LiveOrders(opts ...cache.ReadOption) cache.Entry[[]domain.Order] {
	return cache.Read(e.store, invalidation.KeyLiveOrders, e.loadLiveOrders, opts...)
}

// DashboardStats returns the dashboard aggregate entry.
func (e *Engine) DashboardStats(opts ...cache.ReadOption) cache.Entry[domain.DashboardStats] {
	return cache.Read(e.store, invalidation.KeyDashboardStats, e.loadDashboardStats, opts...)
}

// StoreStatus returns the store open/closed state. It is read from the
// dashboard entry, so it shares that entry's freshness and invalidation.
func (e *Engine) StoreStatus(opts ...cache.ReadOption) cache.Entry[domain.StoreStatus] {
	return storeStatusOf(e.DashboardStats(opts...))
}

// FetchLiveOrders waits for a usable live orders entry.
func (e *Engine) FetchLiveOrders(ctx context.Context, opts ...cache.ReadOption) (cache.Entry[[]domain.Order], error) {
	return cache.Fetch(ctx, e.store, invalidation.KeyLiveOrders, e.loadLiveOrders, opts...)
}

// FetchDashboardStats waits for a usable dashboard entry.
func (e *Engine) FetchDashboardStats(ctx context.Context, opts ...cache.ReadOption) (cache.Entry[domain.DashboardStats], error) {
	return cache.Fetch(ctx, e.store, invalidation.KeyDashboardStats, e.loadDashboardStats, opts...)
}

// WatchLiveOrders delivers every change of the live orders entry to fn and
// keeps it polled until ctx is done or stop is called.
func (e *Engine) WatchLiveOrders(ctx context.Context, fn func(cache.Entry[[]domain.Order]), opts ...cache.ReadOption) (stop func()) {
	return watch(ctx, e.store, invalidation.KeyLiveOrders, e.loadLiveOrders, fn, opts)
}

// WatchDashboardStats is WatchLiveOrders for the dashboard aggregate.
func (e *Engine) WatchDashboardStats(ctx context.Context, fn func(cache.Entry[domain.DashboardStats]), opts ...cache.ReadOption) (stop func()) {
	return watch(ctx, e.store, invalidation.KeyDashboardStats, e.loadDashboardStats, fn, opts)
}

func watch[T any](ctx context.Context, s *cache.Store, key cache.Key, load cache.Loader[T], fn func(cache.Entry[T]), opts []cache.ReadOption) func() {
	unsubscribe := cache.Subscribe(s, key, fn)
	stopPolling := cache.Watch(ctx, s, key, load, opts...)
	return func() {
		stopPolling()
		unsubscribe()
	}
}

func storeStatusOf(d cache.Entry[domain.DashboardStats]) cache.Entry[domain.StoreStatus] {
	return cache.Entry[domain.StoreStatus]{
		Key:          d.Key,
		Value:        domain.StoreStatus{IsOpen: d.Value.IsOpen},
		HasValue:     d.HasValue,
		FetchedAt:    d.FetchedAt,
		TTL:          d.TTL,
		PollInterval: d.PollInterval,
		Status:       d.Status,
		Err:          d.Err,
	}
}
