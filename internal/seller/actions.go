package seller

import (
	"context"
	"errors"

	"github.com/mazza/sellerd/internal/cache"
	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/fault"
	"github.com/mazza/sellerd/internal/invalidation"
	"github.com/mazza/sellerd/internal/mutation"
	"github.com/mazza/sellerd/internal/pickup"
)

// ToggleStore opens or closes the store. The open flag lives in the
// dashboard aggregate; when that is cached the new state is shown at once
// and rolled back if the backend refuses or cannot be reached.
func (e *Engine) ToggleStore(ctx context.Context, open bool) (domain.StoreStatus, error) {
	req := mutation.Request{
		Kind:        invalidation.ToggleStore,
		ResourceKey: invalidation.KeyDashboardStats,
		Payload:     domain.StoreStatus{IsOpen: open},
		Call: func(ctx context.Context) (any, error) {
			return e.api.SetStoreStatus(ctx, open)
		},
		Reconcile: reconcileOpen,
	}
	if e.store.Peek(invalidation.KeyDashboardStats).HasValue {
		req.Optimistic = []mutation.Optimistic{{
			Key:   invalidation.KeyDashboardStats,
			Apply: setOpen(open),
		}}
	}

	out := e.pipeline.Execute(ctx, req)
	if out.Err != nil {
		return domain.StoreStatus{}, out.Err
	}
	status, _ := out.Value.(domain.StoreStatus)
	return status, nil
}

func setOpen(open bool) func(prev any, ok bool) any {
	return func(prev any, ok bool) any {
		stats, _ := prev.(domain.DashboardStats)
		stats.IsOpen = open
		return stats
	}
}

// reconcileOpen folds the toggle echo into cached dashboard stats. Nothing
// is cached when the stats were never loaded.
func reconcileOpen(prev any, ok bool, result any) (any, bool) {
	stats, isStats := prev.(domain.DashboardStats)
	echo, isEcho := result.(domain.StoreStatus)
	if !ok || !isStats || !isEcho {
		return nil, false
	}
	stats.IsOpen = echo.IsOpen
	return stats, true
}

// CompleteOrder completes orderID by manual confirmation. The pickup code
// is built from the order's own fields.
func (e *Engine) CompleteOrder(ctx context.Context, orderID string) (pickup.Result, error) {
	order, err := e.lookupOrder(ctx, orderID)
	if err != nil {
		return pickup.Result{}, err
	}
	return e.verifier.CompleteManual(ctx, order)
}

// CompleteScanned completes orderID with a scanned pickup code.
func (e *Engine) CompleteScanned(ctx context.Context, orderID, payload string) (pickup.Result, error) {
	order, err := e.lookupOrder(ctx, orderID)
	if err != nil {
		return pickup.Result{}, err
	}
	return e.verifier.CompleteScanned(ctx, order, payload)
}

// PickupCode returns the code a customer presents for orderID.
func (e *Engine) PickupCode(ctx context.Context, orderID string) (string, error) {
	order, err := e.lookupOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return pickup.Encode(order), nil
}

// lookupOrder finds orderID in the cached live orders, loading them if
// nothing is cached yet. A stale list is used as-is: validation against the
// lifecycle and the backend's idempotent completion make that safe.
func (e *Engine) lookupOrder(ctx context.Context, orderID string) (domain.Order, error) {
	entry := cache.Get[[]domain.Order](e.store, invalidation.KeyLiveOrders)
	if !entry.HasValue {
		var err error
		entry, err = e.FetchLiveOrders(ctx)
		if err != nil && !entry.HasValue {
			return domain.Order{}, err
		}
	}
	order, ok := domain.FindOrder(entry.Value, orderID)
	if !ok {
		return domain.Order{}, fault.Newf(fault.KindInvalidTransition, "order %s is not awaiting pickup", orderID)
	}
	return order, nil
}

// IsValidationError reports whether err is a client-side validation failure
// the seller can correct.
func IsValidationError(err error) bool {
	var fe *fault.Error
	return errors.As(err, &fe) && fe.Kind.UserCorrectable()
}
