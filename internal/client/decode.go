package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/fault"
)

type ordersEnvelope struct {
	Orders *[]domain.Order `json:"orders"`
}

type orderEnvelope struct {
	Order *domain.Order `json:"order"`
}

// DecodeOrders decodes a live-orders response: {"orders": [...]}.
func DecodeOrders(data []byte) ([]domain.Order, error) {
	var env ordersEnvelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, fault.Wrap(fault.KindDecodeError, "decode live orders", err)
	}
	if env.Orders == nil {
		return nil, fault.New(fault.KindDecodeError, "decode live orders: missing orders field")
	}
	orders := *env.Orders
	seen := make(map[string]struct{}, len(orders))
	for i, o := range orders {
		if err := validateOrder(o); err != nil {
			return nil, fault.Wrap(fault.KindDecodeError, fmt.Sprintf("decode live orders: order %d", i), err)
		}
		if _, dup := seen[o.ID]; dup {
			return nil, fault.Newf(fault.KindDecodeError, "decode live orders: duplicate order id %q", o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// DecodeOrder decodes a single-order response: {"order": {...}}.
func DecodeOrder(data []byte) (domain.Order, error) {
	var env orderEnvelope
	if err := strictUnmarshal(data, &env); err != nil {
		return domain.Order{}, fault.Wrap(fault.KindDecodeError, "decode order", err)
	}
	if env.Order == nil {
		return domain.Order{}, fault.New(fault.KindDecodeError, "decode order: missing order field")
	}
	if err := validateOrder(*env.Order); err != nil {
		return domain.Order{}, fault.Wrap(fault.KindDecodeError, "decode order", err)
	}
	return *env.Order, nil
}

type statsWire struct {
	TodaysEarnings *int64   `json:"todays_earnings"`
	EarningsChange *float64 `json:"earnings_change"`
	OrdersRescued  *int     `json:"orders_rescued"`
	ActiveListings *int     `json:"active_listings"`
	IsOpen         *bool    `json:"is_open"`
}

// DecodeDashboardStats decodes the dashboard aggregate. Every field is
// required.
func DecodeDashboardStats(data []byte) (domain.DashboardStats, error) {
	var w statsWire
	if err := strictUnmarshal(data, &w); err != nil {
		return domain.DashboardStats{}, fault.Wrap(fault.KindDecodeError, "decode dashboard stats", err)
	}
	var missing []string
	if w.TodaysEarnings == nil {
		missing = append(missing, "todays_earnings")
	}
	if w.EarningsChange == nil {
		missing = append(missing, "earnings_change")
	}
	if w.OrdersRescued == nil {
		missing = append(missing, "orders_rescued")
	}
	if w.ActiveListings == nil {
		missing = append(missing, "active_listings")
	}
	if w.IsOpen == nil {
		missing = append(missing, "is_open")
	}
	if len(missing) > 0 {
		return domain.DashboardStats{}, fault.Newf(fault.KindDecodeError, "decode dashboard stats: missing %v", missing)
	}
	return domain.DashboardStats{
		TodaysEarnings: *w.TodaysEarnings,
		EarningsChange: *w.EarningsChange,
		OrdersRescued:  *w.OrdersRescued,
		ActiveListings: *w.ActiveListings,
		IsOpen:         *w.IsOpen,
	}, nil
}

type storeStatusWire struct {
	IsOpen *bool `json:"is_open"`
}

// DecodeStoreStatus decodes the store status echo.
func DecodeStoreStatus(data []byte) (domain.StoreStatus, error) {
	var w storeStatusWire
	if err := strictUnmarshal(data, &w); err != nil {
		return domain.StoreStatus{}, fault.Wrap(fault.KindDecodeError, "decode store status", err)
	}
	if w.IsOpen == nil {
		return domain.StoreStatus{}, fault.New(fault.KindDecodeError, "decode store status: missing is_open")
	}
	return domain.StoreStatus{IsOpen: *w.IsOpen}, nil
}

func validateOrder(o domain.Order) error {
	switch {
	case o.ID == "":
		return fmt.Errorf("missing id")
	case o.OrderNumber == "":
		return fmt.Errorf("order %s: missing order_number", o.ID)
	case !o.Status.IsValid():
		return fmt.Errorf("order %s: unknown status %q", o.ID, o.Status)
	case o.Quantity < 0:
		return fmt.Errorf("order %s: negative quantity", o.ID)
	case o.TotalPriceMinorUnits < 0:
		return fmt.Errorf("order %s: negative total", o.ID)
	}
	return nil
}

// strictUnmarshal rejects trailing data after the JSON value.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
