package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mazza/sellerd/internal/circuitbreaker"
	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/fault"
)

const liveOrdersJSON = `{"orders":[
	{"id":"abc123","order_number":"#1042","quantity":2,"total_price_minor":1299,"status":"paid",
	 "customer":{"id":"c1","name":"Ana"},"product":{"id":"p1","name":"Bread bag"},"payment":{"status":"paid"}}
]}`

func newTestClient(t *testing.T, h http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := Config{
		BaseURL:      srv.URL,
		Token:        "tok",
		RetryInitial: time.Millisecond,
		RetryMax:     2 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestFetchLiveOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/seller/orders/live" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		io.WriteString(w, liveOrdersJSON)
	})

	orders, err := c.FetchLiveOrders(context.Background())
	if err != nil {
		t.Fatalf("FetchLiveOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	o := orders[0]
	if o.ID != "abc123" || o.Status != domain.OrderPaid || o.TotalPriceMinorUnits != 1299 {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    fault.Kind
		wantMsg string
	}{
		{"server error", http.StatusInternalServerError, `{}`, fault.KindNetworkFailure, ""},
		{"timeout", http.StatusRequestTimeout, ``, fault.KindNetworkFailure, ""},
		{"rate limited", http.StatusTooManyRequests, ``, fault.KindNetworkFailure, ""},
		{"rejected", http.StatusUnprocessableEntity, `{"code":"ORDER_CANCELLED","message":"Order was cancelled by the buyer"}`, fault.KindServerRejected, "Order was cancelled by the buyer"},
		{"plain conflict", http.StatusConflict, `{"code":"STALE"}`, fault.KindServerRejected, "Conflict"},
		{"bad body", http.StatusOK, `{"orders":[{"id":"x","order_number":"1","status":"shipped"}]}`, fault.KindDecodeError, ""},
		{"missing field", http.StatusOK, `{}`, fault.KindDecodeError, ""},
		{"not json", http.StatusOK, `<html>`, fault.KindDecodeError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.FetchLiveOrders(context.Background())
			if got := fault.KindOf(err); got != tt.want {
				t.Fatalf("kind = %s, want %s (err=%v)", got, tt.want, err)
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Fatalf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestTransportErrorIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.FetchDashboardStats(context.Background())
	if !errors.Is(err, fault.ErrNetworkFailure) {
		t.Fatalf("expected NetworkFailure, got %v", err)
	}
}

func TestSetStoreStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/seller/store/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body domain.StoreStatus
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(body)
	})

	st, err := c.SetStoreStatus(context.Background(), true)
	if err != nil {
		t.Fatalf("SetStoreStatus: %v", err)
	}
	if !st.IsOpen {
		t.Fatal("expected echo is_open=true")
	}
}

func TestCompleteOrderRetriesWithSameToken(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var tokens []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		mu.Lock()
		tokens = append(tokens, r.Header.Get(IdempotencyHeader))
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body completeRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Code != "MAZZA:1042:abc123" {
			t.Errorf("code = %q", body.Code)
		}
		io.WriteString(w, `{"order":{"id":"abc123","order_number":"#1042","status":"completed"}}`)
	})

	order, err := c.CompleteOrder(context.Background(), "abc123", "MAZZA:1042:abc123", "token-1")
	if err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	if order.Status != domain.OrderCompleted {
		t.Fatalf("expected completed, got %s", order.Status)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	for i, tok := range tokens {
		if tok != "token-1" {
			t.Fatalf("attempt %d token = %q", i, tok)
		}
	}
}

func TestCompleteOrderAlreadyCompleted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"code":"ALREADY_COMPLETED","message":"done","order":{"id":"abc123","order_number":"1042","status":"completed"}}`)
	})

	order, err := c.CompleteOrder(context.Background(), "abc123", "MAZZA:1042:abc123", "token-1")
	if !errors.Is(err, fault.ErrAlreadyCompleted) {
		t.Fatalf("expected AlreadyCompleted, got %v", err)
	}
	if order.ID != "abc123" || order.Status != domain.OrderCompleted {
		t.Fatalf("expected echoed order, got %+v", order)
	}
	if calls.Load() != 1 {
		t.Fatalf("AlreadyCompleted must not be retried, got %d calls", calls.Load())
	}
}

func TestCompleteOrderServerRejectedNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"Pickup window has closed"}`)
	})

	_, err := c.CompleteOrder(context.Background(), "abc123", "MAZZA:1042:abc123", "token-1")
	if !errors.Is(err, fault.ErrServerRejected) || err.Error() != "Pickup window has closed" {
		t.Fatalf("expected verbatim ServerRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestCompleteOrderGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, func(cfg *Config) { cfg.MaxRetries = 2 })

	_, err := c.CompleteOrder(context.Background(), "abc123", "MAZZA:1042:abc123", "token-1")
	if !errors.Is(err, fault.ErrNetworkFailure) {
		t.Fatalf("expected NetworkFailure, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestBreakerShortCircuits(t *testing.T) {
	var calls atomic.Int32
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		ErrorPct:       50,
		MinRequests:    2,
		WindowDuration: time.Minute,
		OpenDuration:   time.Minute,
	})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *Config) { cfg.Breakers = breakers })

	for i := 0; i < 2; i++ {
		c.FetchDashboardStats(context.Background())
	}
	_, err := c.FetchDashboardStats(context.Background())
	if !errors.Is(err, fault.ErrNetworkFailure) {
		t.Fatalf("expected NetworkFailure from open breaker, got %v", err)
	}
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("expected ErrOpen cause, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected open breaker to skip the backend, got %d calls", calls.Load())
	}

	// Other endpoints are unaffected.
	if breakers.Get(EndpointLiveOrders).State() != circuitbreaker.StateClosed {
		t.Fatal("live orders breaker should be closed")
	}
}

func TestCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchLiveOrders(ctx)
	if !errors.Is(err, fault.ErrCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}
