package domain

import "time"

// ShopAggregate is the denormalized per-shop counter pair. It is also the
// payload pushed to dashboard subscribers.
type ShopAggregate struct {
	Shop           string    `json:"shop"`
	TotalItems     int64     `json:"totalItems"`
	TotalCustomers int64     `json:"totalCustomers"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ZeroAggregate is the aggregate of a shop with no recorded activity.
func ZeroAggregate(shop string) ShopAggregate {
	return ShopAggregate{Shop: shop}
}

// Newer reports whether a should replace b on a client that orders by
// UpdatedAt rather than by arrival.
func (a ShopAggregate) Newer(b ShopAggregate) bool {
	return a.UpdatedAt.After(b.UpdatedAt)
}

// ReconcileResult describes one reconciliation of a shop aggregate.
type ReconcileResult struct {
	Aggregate ShopAggregate `json:"aggregate"`
	Previous  ShopAggregate `json:"previous"`
	Drifted   bool          `json:"drifted"`
}
