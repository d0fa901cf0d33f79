package domain

import (
	"strings"
	"time"

	apperrors "github.com/utafrali/wishlist-sync/pkg/errors"
)

// MaxIdentifierLength bounds customer and product identifiers.
const MaxIdentifierLength = 255

// WishlistEntry is one product saved by one customer of one shop. Entries are
// created and deleted, never updated.
type WishlistEntry struct {
	ID         int64     `json:"-"`
	Shop       string    `json:"shop"`
	CustomerID string    `json:"customerId"`
	ProductID  string    `json:"productId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ItemKey identifies a wishlist entry within a shop.
type ItemKey struct {
	CustomerID string `json:"customerId" validate:"required,max=255"`
	ProductID  string `json:"productId" validate:"required,max=255"`
}

// Normalize trims surrounding whitespace from both identifiers.
func (k ItemKey) Normalize() ItemKey {
	return ItemKey{
		CustomerID: strings.TrimSpace(k.CustomerID),
		ProductID:  strings.TrimSpace(k.ProductID),
	}
}

// Validate reports a missing or oversized identifier as invalid input.
func (k ItemKey) Validate() error {
	if err := ValidateCustomerID(k.CustomerID); err != nil {
		return err
	}
	return validateIdentifier("productId", k.ProductID)
}

// ValidateCustomerID checks a customer identifier on its own, for read paths.
func ValidateCustomerID(customerID string) error {
	return validateIdentifier("customerId", customerID)
}

func validateIdentifier(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.InvalidInput(field + " is required")
	}
	if len(value) > MaxIdentifierLength {
		return apperrors.InvalidInput(field + " is too long")
	}
	return nil
}

// MutationResult is returned by add and remove. Wishlist holds the customer's
// product ids after the mutation, most recent first.
type MutationResult struct {
	Success  bool     `json:"success"`
	Changed  bool     `json:"changed"`
	Wishlist []string `json:"wishlist"`
}

// ProductCount is a product id with the number of wishlists containing it.
type ProductCount struct {
	ProductID string `json:"productId"`
	Count     int64  `json:"count"`
}
