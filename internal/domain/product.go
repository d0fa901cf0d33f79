package domain

import "time"

// UnknownProductTitle is shown for products the catalog could not resolve.
const UnknownProductTitle = "Unknown Product"

// Product is the catalog view of a wishlisted product.
type Product struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Image     string `json:"image"`
	Handle    string `json:"handle"`
	Available bool   `json:"available"`
}

// UnknownProduct is the placeholder for a product missing from the catalog.
func UnknownProduct(id string) Product {
	return Product{ID: id, Title: UnknownProductTitle, Available: false}
}

// WishlistItem is a wishlist entry enriched with catalog details.
type WishlistItem struct {
	Product
	AddedAt time.Time `json:"addedAt"`
}

// RankedProduct is a top-wishlisted product with catalog details.
type RankedProduct struct {
	Product
	Count int64 `json:"count"`
}

// Dashboard is the admin overview of a shop's wishlist usage.
type Dashboard struct {
	Stats          ShopAggregate   `json:"stats"`
	TopProducts    []RankedProduct `json:"topProducts"`
	RecentActivity []WishlistEntry `json:"recentActivity"`
}
