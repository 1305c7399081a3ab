package seller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mazza/sellerd/internal/cache"
	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/fault"
	"github.com/mazza/sellerd/internal/invalidation"
	"github.com/mazza/sellerd/internal/logging"
	"github.com/mazza/sellerd/internal/mutation"
)

type fakeAPI struct {
	liveCalls     atomic.Int32
	statsCalls    atomic.Int32
	toggleCalls   atomic.Int32
	completeCalls atomic.Int32

	mu         sync.Mutex
	orders     []domain.Order
	stats      domain.DashboardStats
	toggleErr  error
	statsDelay time.Duration
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		orders: []domain.Order{
			{ID: "abc123", OrderNumber: "#1042", Quantity: 1, TotalPriceMinorUnits: 499, Status: domain.OrderPaid},
			{ID: "def456", OrderNumber: "#1043", Quantity: 2, TotalPriceMinorUnits: 998, Status: domain.OrderPendingPayment},
		},
		stats: domain.DashboardStats{TodaysEarnings: 1497, OrdersRescued: 3, ActiveListings: 5, IsOpen: true},
	}
}

func (f *fakeAPI) FetchLiveOrders(ctx context.Context) ([]domain.Order, error) {
	f.liveCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.CloneOrders(f.orders), nil
}

func (f *fakeAPI) FetchDashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	f.statsCalls.Add(1)
	f.mu.Lock()
	delay := f.statsDelay
	st := f.stats
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return st, nil
}

func (f *fakeAPI) SetStoreStatus(ctx context.Context, isOpen bool) (domain.StoreStatus, error) {
	f.toggleCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return domain.StoreStatus{}, f.toggleErr
	}
	f.stats.IsOpen = isOpen
	return domain.StoreStatus{IsOpen: isOpen}, nil
}

func (f *fakeAPI) CompleteOrder(ctx context.Context, orderID, code, token string) (domain.Order, error) {
	f.completeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.orders {
		if f.orders[i].ID != orderID {
			continue
		}
		if f.orders[i].Status == domain.OrderCompleted {
			return domain.Order{}, fault.New(fault.KindAlreadyCompleted, "already completed")
		}
		f.orders[i].Status = domain.OrderCompleted
		f.stats.OrdersRescued++
		return f.orders[i], nil
	}
	return domain.Order{}, fault.New(fault.KindServerRejected, "order not found")
}

func newTestEngine(t *testing.T, api *fakeAPI) *Engine {
	t.Helper()
	e, err := New(api, Options{Audit: logging.NewLogger(nil)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestRefreshLoadsEveryView(t *testing.T) {
	api := newFakeAPI()
	api.statsDelay = 20 * time.Millisecond
	e := newTestEngine(t, api)

	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if live := e.LiveOrders(); !live.HasValue || len(live.Value) != 2 || live.Status != cache.StatusFresh {
		t.Fatalf("unexpected live orders entry %+v", live)
	}
	if st := e.StoreStatus(); !st.HasValue || !st.Value.IsOpen {
		t.Fatalf("store status should be derived from stats, got %+v", st)
	}
	if n := api.statsCalls.Load(); n != 1 {
		t.Fatalf("dashboard stats should load once, got %d", n)
	}
}

func TestReadServesImmediatelyAndLoadsInBackground(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(t, api)

	first := e.LiveOrders()
	if first.HasValue {
		t.Fatal("first read should have no value yet")
	}
	if first.Status != cache.StatusFetching {
		t.Fatalf("first read should start a load, got %s", first.Status)
	}

	entry, err := e.FetchLiveOrders(context.Background())
	if err != nil || len(entry.Value) != 2 {
		t.Fatalf("FetchLiveOrders: %+v, %v", entry, err)
	}
	if api.liveCalls.Load() != 1 {
		t.Fatalf("expected one load, got %d", api.liveCalls.Load())
	}
}

func TestToggleStore(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(t, api)
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	st, err := e.ToggleStore(context.Background(), false)
	if err != nil {
		t.Fatalf("ToggleStore: %v", err)
	}
	if st.IsOpen {
		t.Fatal("expected closed echo")
	}
	stats := e.DashboardStats(cache.WithEnabled(false))
	if stats.Value.IsOpen || stats.Status != cache.StatusStale {
		t.Fatalf("dashboard stats should hold the echo and be stale, got %+v", stats)
	}
	if cur := e.StoreStatus(cache.WithEnabled(false)); cur.Value.IsOpen || cur.Status != stats.Status {
		t.Fatalf("store status should follow the dashboard entry, got %+v", cur)
	}
	if live := e.Store().Peek(invalidation.KeyLiveOrders); live.Status != cache.StatusFresh {
		t.Fatalf("live orders should stay fresh, got %s", live.Status)
	}
	if e.ToggleState().State().Status != mutation.StatusSuccess {
		t.Fatal("toggle tracker should report success")
	}
}

func TestToggleStoreFailureRollsBack(t *testing.T) {
	api := newFakeAPI()
	api.toggleErr = fault.New(fault.KindNetworkFailure, "timeout")
	e := newTestEngine(t, api)
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before := e.Store().Peek(invalidation.KeyDashboardStats)

	if _, err := e.ToggleStore(context.Background(), false); !errors.Is(err, fault.ErrNetworkFailure) {
		t.Fatalf("expected NetworkFailure, got %v", err)
	}
	after := e.Store().Peek(invalidation.KeyDashboardStats)
	if after.Value != before.Value || !after.FetchedAt.Equal(before.FetchedAt) || after.Status != cache.StatusFresh {
		t.Fatalf("expected rollback to %+v, got %+v", before, after)
	}
	if cur := e.StoreStatus(cache.WithEnabled(false)); !cur.Value.IsOpen {
		t.Fatal("store status should show the restored open state")
	}
	if e.ToggleState().State().Status != mutation.StatusError {
		t.Fatal("toggle tracker should report error")
	}
}

func TestStoreStatusFollowsDashboardRefetch(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(t, api)
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !e.StoreStatus().Value.IsOpen {
		t.Fatal("expected open store")
	}

	// Closed from another terminal; the next dashboard load carries it.
	api.mu.Lock()
	api.stats.IsOpen = false
	api.mu.Unlock()
	e.Store().Invalidate(invalidation.KeyDashboardStats)
	if st := e.StoreStatus(cache.WithEnabled(false)); st.Status != cache.StatusStale {
		t.Fatalf("store status should go stale with the dashboard, got %s", st.Status)
	}
	if _, err := e.FetchDashboardStats(context.Background()); err != nil {
		t.Fatalf("FetchDashboardStats: %v", err)
	}

	st := e.StoreStatus(cache.WithEnabled(false))
	if st.Value.IsOpen || st.Status != cache.StatusFresh {
		t.Fatalf("store status should reflect the refetched dashboard, got %+v", st)
	}
}

func TestToggleStoreWithoutCachedStats(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(t, api)

	st, err := e.ToggleStore(context.Background(), false)
	if err != nil || st.IsOpen {
		t.Fatalf("ToggleStore: %+v, %v", st, err)
	}
	if e.Store().Peek(invalidation.KeyDashboardStats).HasValue {
		t.Fatal("toggle must not invent dashboard stats")
	}
}

func TestCompleteOrderManual(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(t, api)

	res, err := e.CompleteOrder(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	if res.Code.String() != "MAZZA:1042:abc123" {
		t.Fatalf("unexpected code %s", res.Code)
	}
	live := e.Store().Peek(invalidation.KeyLiveOrders)
	orders := live.Value.([]domain.Order)
	if o, _ := domain.FindOrder(orders, "abc123"); o.Status != domain.OrderCompleted {
		t.Fatalf("local order should be completed, got %s", o.Status)
	}
	if live.Status != cache.StatusStale {
		t.Fatalf("live orders should be invalidated, got %s", live.Status)
	}

	// A second manual completion is refused locally.
	if _, err := e.CompleteOrder(context.Background(), "abc123"); !errors.Is(err, fault.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
	if api.completeCalls.Load() != 1 {
		t.Fatalf("expected one backend completion, got %d", api.completeCalls.Load())
	}
}

func TestCompleteScannedValidation(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(t, api)

	_, err := e.CompleteScanned(context.Background(), "abc123", "MAZZA:1043:def456")
	if !errors.Is(err, fault.ErrCodeMismatch) || !IsValidationError(err) {
		t.Fatalf("expected CodeMismatch, got %v", err)
	}
	_, err = e.CompleteScanned(context.Background(), "def456", "MAZZA:1043:def456")
	if !errors.Is(err, fault.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition for unpaid order, got %v", err)
	}
	_, err = e.CompleteScanned(context.Background(), "nope", "MAZZA:1:nope")
	if !errors.Is(err, fault.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition for unknown order, got %v", err)
	}
	if api.completeCalls.Load() != 0 {
		t.Fatalf("validation failures must not reach the backend, got %d calls", api.completeCalls.Load())
	}
}

func TestPickupCode(t *testing.T) {
	e := newTestEngine(t, newFakeAPI())
	code, err := e.PickupCode(context.Background(), "def456")
	if err != nil || code != "MAZZA:1043:def456" {
		t.Fatalf("PickupCode = %q, %v", code, err)
	}
}

func TestWatchLiveOrdersRefetchesAfterCompletion(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(t, api)

	updates := make(chan cache.Entry[[]domain.Order], 64)
	stop := e.WatchLiveOrders(context.Background(), func(en cache.Entry[[]domain.Order]) {
		updates <- en
	}, cache.WithPollInterval(time.Hour))
	defer stop()

	waitFor := func(desc string, pred func(cache.Entry[[]domain.Order]) bool) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case en := <-updates:
				if pred(en) {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %s", desc)
			}
		}
	}

	waitFor("initial load", func(en cache.Entry[[]domain.Order]) bool {
		return en.HasValue && en.Status == cache.StatusFresh
	})

	if _, err := e.CompleteOrder(context.Background(), "abc123"); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}

	waitFor("refetch after invalidation", func(en cache.Entry[[]domain.Order]) bool {
		return en.Status == cache.StatusFresh && api.liveCalls.Load() >= 2
	})
}

func TestSignOutEvictsEverything(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(t, api)
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := e.ToggleStore(context.Background(), false); err != nil {
		t.Fatalf("ToggleStore: %v", err)
	}

	e.SignOut()

	for _, k := range []cache.Key{invalidation.KeyLiveOrders, invalidation.KeyDashboardStats} {
		if e.Store().Peek(k).HasValue {
			t.Fatalf("%s should be evicted", k)
		}
	}
	if e.ToggleState().State().Status != mutation.StatusIdle {
		t.Fatal("trackers should reset on sign-out")
	}

	// The engine is usable for the next session.
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh after sign-out: %v", err)
	}
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatal("expected error without client")
	}
}
