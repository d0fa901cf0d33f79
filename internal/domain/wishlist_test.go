package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/utafrali/wishlist-sync/pkg/errors"
)

func TestItemKey_Validate(t *testing.T) {
	tests := []struct {
		name    string
		key     ItemKey
		wantErr bool
	}{
		{"valid", ItemKey{CustomerID: "c1", ProductID: "p1"}, false},
		{"missing customer", ItemKey{ProductID: "p1"}, true},
		{"missing product", ItemKey{CustomerID: "c1"}, true},
		{"blank customer", ItemKey{CustomerID: "   ", ProductID: "p1"}, true},
		{"oversized product", ItemKey{CustomerID: "c1", ProductID: strings.Repeat("x", MaxIdentifierLength+1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestItemKey_Normalize(t *testing.T) {
	k := ItemKey{CustomerID: " c1 ", ProductID: "\tp1\n"}.Normalize()
	assert.Equal(t, ItemKey{CustomerID: "c1", ProductID: "p1"}, k)
}

func TestItemKey_LengthCountsTrimmedId(t *testing.T) {
	id := strings.Repeat("x", MaxIdentifierLength)
	k := ItemKey{CustomerID: "  " + id + "  ", ProductID: "gid://shopify/Product 1"}.Normalize()
	assert.NoError(t, k.Validate())
}

func TestZeroAggregate(t *testing.T) {
	a := ZeroAggregate("demo.myshopify.com")
	assert.Equal(t, "demo.myshopify.com", a.Shop)
	assert.Zero(t, a.TotalItems)
	assert.Zero(t, a.TotalCustomers)
}

func TestShopAggregate_Newer(t *testing.T) {
	now := time.Now()
	older := ShopAggregate{UpdatedAt: now}
	newer := ShopAggregate{UpdatedAt: now.Add(time.Millisecond)}

	assert.True(t, newer.Newer(older))
	assert.False(t, older.Newer(newer))
	assert.False(t, older.Newer(older))
}

func TestUnknownProduct(t *testing.T) {
	p := UnknownProduct("42")
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, UnknownProductTitle, p.Title)
	assert.False(t, p.Available)
}

func TestSeedEntries_Distribution(t *testing.T) {
	customers := map[string]struct{}{}
	for _, e := range SeedEntries {
		assert.NoError(t, e.Validate())
		customers[e.CustomerID] = struct{}{}
	}
	assert.Len(t, SeedEntries, 4)
	assert.Len(t, customers, 3)
}
