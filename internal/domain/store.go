package domain

// StoreStatus is the seller's open/closed switch.
type StoreStatus struct {
	IsOpen bool `json:"is_open"`
}

// DashboardStats is a server-computed aggregate. The client caches it as-is.
type DashboardStats struct {
	TodaysEarnings int64   `json:"todays_earnings"`
	EarningsChange float64 `json:"earnings_change"`
	OrdersRescued  int     `json:"orders_rescued"`
	ActiveListings int     `json:"active_listings"`
	IsOpen         bool    `json:"is_open"`
}
