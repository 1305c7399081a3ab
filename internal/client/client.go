// Package client is the typed Resource Client for the seller backend.
//
// Every call returns either a fully decoded value or a *fault.Error; no
// partially decoded data leaves this package. Transport problems, 5xx, 408
// and 429 map to NetworkFailure; a 409 with code ALREADY_COMPLETED maps to
// AlreadyCompleted; any other 4xx maps to ServerRejected carrying the
// backend's message verbatim.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mazza/sellerd/internal/circuitbreaker"
	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/fault"
	"github.com/mazza/sellerd/internal/logging"
	"github.com/mazza/sellerd/internal/metrics"
	"github.com/mazza/sellerd/internal/observability"
)

// Endpoint names used for breakers, metrics and spans.
const (
	EndpointLiveOrders     = "fetch_live_orders"
	EndpointDashboardStats = "fetch_dashboard_stats"
	EndpointStoreStatus    = "set_store_status"
	EndpointCompleteOrder  = "complete_order"
)

// IdempotencyHeader carries the completion idempotency token.
const IdempotencyHeader = "Idempotency-Key"

const (
	maxBodyBytes      = 4 << 20
	codeAlreadyDone   = "ALREADY_COMPLETED"
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
)

// API is the backend contract the engine consumes.
type API interface {
	FetchLiveOrders(ctx context.Context) ([]domain.Order, error)
	FetchDashboardStats(ctx context.Context) (domain.DashboardStats, error)
	SetStoreStatus(ctx context.Context, isOpen bool) (domain.StoreStatus, error)
	CompleteOrder(ctx context.Context, orderID, code, idempotencyToken string) (domain.Order, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// MaxRetries bounds the extra attempts for retryable completion calls.
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration

	// Breakers guards each endpoint; nil disables circuit breaking.
	Breakers *circuitbreaker.Registry
	// Transport overrides the underlying round tripper.
	Transport http.RoundTripper
}

// Client talks JSON over HTTP to the seller backend.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	breakers *circuitbreaker.Registry
}

var _ API = (*Client)(nil)

// New creates a client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2 * time.Second
	}
	return &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: observability.NewTransport(cfg.Transport),
		},
		breakers: cfg.Breakers,
	}, nil
}

// FetchLiveOrders returns all orders awaiting or ready for pickup.
func (c *Client) FetchLiveOrders(ctx context.Context) ([]domain.Order, error) {
	data, err := c.send(ctx, request{endpoint: EndpointLiveOrders, method: http.MethodGet, path: "/seller/orders/live"})
	if err != nil {
		return nil, err
	}
	return DecodeOrders(data)
}

// FetchDashboardStats returns the server-computed dashboard aggregate.
func (c *Client) FetchDashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	data, err := c.send(ctx, request{endpoint: EndpointDashboardStats, method: http.MethodGet, path: "/seller/dashboard/stats"})
	if err != nil {
		return domain.DashboardStats{}, err
	}
	return DecodeDashboardStats(data)
}

// SetStoreStatus opens or closes the store and returns the backend's echo.
func (c *Client) SetStoreStatus(ctx context.Context, isOpen bool) (domain.StoreStatus, error) {
	data, err := c.send(ctx, request{
		endpoint: EndpointStoreStatus,
		method:   http.MethodPut,
		path:     "/seller/store/status",
		body:     domain.StoreStatus{IsOpen: isOpen},
	})
	if err != nil {
		return domain.StoreStatus{}, err
	}
	return DecodeStoreStatus(data)
}

type completeRequest struct {
	Code string `json:"code"`
}

// CompleteOrder submits a pickup code. NetworkFailure is retried with
// exponential backoff, always with the same idempotency token. When the
// backend reports the order as already completed, the returned error has
// kind AlreadyCompleted and the order is returned if the backend echoed it.
func (c *Client) CompleteOrder(ctx context.Context, orderID, code, idempotencyToken string) (domain.Order, error) {
	req := request{
		endpoint:       EndpointCompleteOrder,
		method:         http.MethodPost,
		path:           "/seller/orders/" + url.PathEscape(orderID) + "/complete",
		body:           completeRequest{Code: code},
		idempotencyKey: idempotencyToken,
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInitial
	eb.MaxInterval = c.cfg.RetryMax

	attempt := 0
	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		data, err := c.send(ctx, req)
		if err == nil {
			return data, nil
		}
		if !fault.KindOf(err).Retryable() {
			return data, backoff.Permanent(err)
		}
		logging.Op().Warn("complete order attempt failed", "order_id", orderID, "attempt", attempt, "error", err)
		return data, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)))

	if err != nil {
		if fault.KindOf(err) == fault.KindAlreadyCompleted {
			order, _ := decodeConflictOrder(data)
			return order, err
		}
		return domain.Order{}, cancelled(ctx, err)
	}
	return DecodeOrder(data)
}

type request struct {
	endpoint       string
	method         string
	path           string
	body           any
	idempotencyKey string
}

// send performs one guarded request. The response body is returned even on
// status errors so callers can inspect conflict payloads.
func (c *Client) send(ctx context.Context, r request) ([]byte, error) {
	ctx, span := observability.StartClientSpan(ctx, "client."+r.endpoint, observability.AttrEndpoint.String(r.endpoint))
	defer span.End()

	start := time.Now()
	var data []byte
	do := func() error {
		var err error
		data, err = c.roundTrip(ctx, r)
		return err
	}

	var err error
	if b := c.breakers.Get(r.endpoint); b != nil {
		err = b.Execute(do, func(err error) bool {
			return fault.KindOf(err) == fault.KindNetworkFailure
		})
		metrics.SetBreakerState(r.endpoint, int(b.State()))
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = fault.Wrap(fault.KindNetworkFailure, r.endpoint+": backend unavailable", err)
		}
	} else {
		err = do()
	}
	elapsed := time.Since(start)

	if err != nil {
		observability.SetSpanError(span, err)
		span.SetAttributes(observability.AttrErrorKind.String(string(fault.KindOf(err))))
		metrics.RecordClientRequest(r.endpoint, string(fault.KindOf(err)), elapsed)
		return data, err
	}
	observability.SetSpanOK(span)
	metrics.RecordClientRequest(r.endpoint, "success", elapsed)
	logging.Op().Debug("backend call", "endpoint", r.endpoint, "duration", elapsed)
	return data, nil
}

func (c *Client) roundTrip(ctx context.Context, r request) ([]byte, error) {
	var body io.Reader
	if r.body != nil {
		buf, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", r.endpoint, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.base.String()+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", r.endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sellerd")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if r.idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, r.idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.KindCancelled, r.endpoint+": request cancelled", ctx.Err())
		}
		return nil, fault.Wrap(fault.KindNetworkFailure, r.endpoint+": request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fault.Wrap(fault.KindNetworkFailure, r.endpoint+": read response", err)
	}
	if err := statusError(r.endpoint, resp.StatusCode, data); err != nil {
		return data, err
	}
	return data, nil
}

type errorBody struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Order   *domain.Order `json:"order,omitempty"`
}

func statusError(endpoint string, status int, data []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	msg := strings.TrimSpace(eb.Message)

	switch {
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return fault.Newf(fault.KindNetworkFailure, "%s: backend returned %d", endpoint, status)
	case status == http.StatusConflict && eb.Code == codeAlreadyDone:
		if msg == "" {
			msg = "order already completed"
		}
		return fault.New(fault.KindAlreadyCompleted, msg)
	case status >= 400:
		if msg == "" {
			msg = http.StatusText(status)
		}
		return fault.New(fault.KindServerRejected, msg)
	default:
		return fault.Newf(fault.KindDecodeError, "%s: unexpected status %d", endpoint, status)
	}
}

func decodeConflictOrder(data []byte) (domain.Order, bool) {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil || eb.Order == nil {
		return domain.Order{}, false
	}
	if err := validateOrder(*eb.Order); err != nil {
		return domain.Order{}, false
	}
	return *eb.Order, true
}

// cancelled maps context errors that escaped the retry loop.
func cancelled(ctx context.Context, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	if ctx.Err() != nil {
		return fault.Wrap(fault.KindCancelled, "request cancelled", err)
	}
	return err
}
