package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/wishlist-sync/internal/domain"
	"github.com/utafrali/wishlist-sync/internal/repository"
	"github.com/utafrali/wishlist-sync/pkg/pagination"
)

// memStore is an in-memory store whose transactions run one at a time and
// roll back when fn fails, standing in for PostgreSQL row locking.
type memStore struct {
	mu      sync.Mutex
	seq     int64
	tick    time.Time
	entries []domain.WishlistEntry
	aggs    map[string]domain.ShopAggregate
	txCount int
}

func newMemStore() *memStore {
	return &memStore{
		tick: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		aggs: make(map[string]domain.ShopAggregate),
	}
}

func (s *memStore) InTx(_ context.Context, _ pgx.TxIsoLevel, fn func(repository.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	entries := append([]domain.WishlistEntry(nil), s.entries...)
	aggs := make(map[string]domain.ShopAggregate, len(s.aggs))
	for k, v := range s.aggs {
		aggs[k] = v
	}

	v := &memView{s: s, inTx: true}
	if err := fn(repository.Stores{Wishlist: v, Aggregates: v}); err != nil {
		s.entries, s.aggs = entries, aggs
		return err
	}
	return nil
}

func (s *memStore) Stores() repository.Stores {
	v := &memView{s: s}
	return repository.Stores{Wishlist: v, Aggregates: v}
}

// setAggregate overwrites a cached row to simulate drift.
func (s *memStore) setAggregate(agg domain.ShopAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggs[agg.Shop] = agg
}

func (s *memStore) now() time.Time {
	s.tick = s.tick.Add(time.Millisecond)
	return s.tick
}

// memView implements both repositories over memStore. Views bound to a
// transaction run under the lock already held by InTx.
type memView struct {
	s    *memStore
	inTx bool
}

func (v *memView) do(fn func(s *memStore)) {
	if !v.inTx {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	fn(v.s)
}

func (v *memView) Add(_ context.Context, shop, customerID, productID string) (created bool, err error) {
	v.do(func(s *memStore) {
		for _, e := range s.entries {
			if e.Shop == shop && e.CustomerID == customerID && e.ProductID == productID {
				return
			}
		}
		s.seq++
		s.entries = append(s.entries, domain.WishlistEntry{
			ID: s.seq, Shop: shop, CustomerID: customerID, ProductID: productID, CreatedAt: s.now(),
		})
		created = true
	})
	return created, nil
}

func (v *memView) Remove(_ context.Context, shop, customerID, productID string) (removed bool, err error) {
	v.do(func(s *memStore) {
		for i, e := range s.entries {
			if e.Shop == shop && e.CustomerID == customerID && e.ProductID == productID {
				s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
				removed = true
				return
			}
		}
	})
	return removed, nil
}

func (v *memView) filter(shop, customerID string) []domain.WishlistEntry {
	var out []domain.WishlistEntry
	for _, e := range v.s.entries {
		if e.Shop == shop && (customerID == "" || e.CustomerID == customerID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (v *memView) ListByCustomer(_ context.Context, shop, customerID string) ([]string, error) {
	var ids []string
	v.do(func(*memStore) {
		for _, e := range v.filter(shop, customerID) {
			ids = append(ids, e.ProductID)
		}
	})
	return ids, nil
}

func (v *memView) CountForShop(_ context.Context, shop string) (n int64, err error) {
	v.do(func(*memStore) { n = int64(len(v.filter(shop, ""))) })
	return n, nil
}

func (v *memView) CountDistinctCustomers(_ context.Context, shop string) (n int64, err error) {
	v.do(func(*memStore) {
		seen := map[string]bool{}
		for _, e := range v.filter(shop, "") {
			seen[e.CustomerID] = true
		}
		n = int64(len(seen))
	})
	return n, nil
}

func (v *memView) CountForCustomer(_ context.Context, shop, customerID string) (n int64, err error) {
	v.do(func(*memStore) { n = int64(len(v.filter(shop, customerID))) })
	return n, nil
}

func (v *memView) ListEntries(_ context.Context, shop, customerID string, page pagination.Params) ([]domain.WishlistEntry, int, error) {
	var (
		out   []domain.WishlistEntry
		total int
	)
	v.do(func(*memStore) {
		all := v.filter(shop, customerID)
		total = len(all)
		if page.Offset < total {
			out = all[page.Offset:min(page.Offset+page.PerPage, total)]
		}
	})
	return out, total, nil
}

func (v *memView) TopProducts(_ context.Context, shop string, limit int) ([]domain.ProductCount, error) {
	var out []domain.ProductCount
	v.do(func(*memStore) {
		counts := map[string]int64{}
		for _, e := range v.filter(shop, "") {
			counts[e.ProductID]++
		}
		for id, c := range counts {
			out = append(out, domain.ProductCount{ProductID: id, Count: c})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Count != out[j].Count {
				return out[i].Count > out[j].Count
			}
			return out[i].ProductID < out[j].ProductID
		})
		if len(out) > limit {
			out = out[:limit]
		}
	})
	return out, nil
}

func (v *memView) RecentActivity(_ context.Context, shop string, limit int) ([]domain.WishlistEntry, error) {
	var out []domain.WishlistEntry
	v.do(func(*memStore) {
		out = v.filter(shop, "")
		if len(out) > limit {
			out = out[:limit]
		}
	})
	return out, nil
}

func (v *memView) RemoveProduct(_ context.Context, shop, productID string) (n int64, err error) {
	v.do(func(s *memStore) {
		kept := s.entries[:0:0]
		for _, e := range s.entries {
			if e.Shop == shop && e.ProductID == productID {
				n++
				continue
			}
			kept = append(kept, e)
		}
		s.entries = kept
	})
	return n, nil
}

func (v *memView) Lock(_ context.Context, shop string) error {
	v.do(func(s *memStore) {
		if _, ok := s.aggs[shop]; !ok {
			s.aggs[shop] = domain.ShopAggregate{Shop: shop, UpdatedAt: s.now()}
		}
	})
	return nil
}

func (v *memView) LockExisting(_ context.Context, shop string) (found bool, err error) {
	v.do(func(s *memStore) { _, found = s.aggs[shop] })
	return found, nil
}

func (v *memView) ApplyAdd(_ context.Context, shop string, newCustomer bool) (agg domain.ShopAggregate, err error) {
	v.do(func(s *memStore) {
		agg = s.aggs[shop]
		agg.Shop = shop
		agg.TotalItems++
		if newCustomer {
			agg.TotalCustomers++
		}
		agg.UpdatedAt = s.now()
		s.aggs[shop] = agg
	})
	return agg, nil
}

func (v *memView) ApplyRemove(_ context.Context, shop string, customerGone bool) (agg domain.ShopAggregate, err error) {
	v.do(func(s *memStore) {
		agg = s.aggs[shop]
		agg.Shop = shop
		agg.TotalItems = max(agg.TotalItems-1, 0)
		if customerGone {
			agg.TotalCustomers = max(agg.TotalCustomers-1, 0)
		}
		agg.UpdatedAt = s.now()
		s.aggs[shop] = agg
	})
	return agg, nil
}

func (v *memView) Read(_ context.Context, shop string) (agg domain.ShopAggregate, err error) {
	v.do(func(s *memStore) {
		var ok bool
		if agg, ok = s.aggs[shop]; !ok {
			agg = domain.ZeroAggregate(shop)
		}
	})
	return agg, nil
}

func (v *memView) Reconcile(ctx context.Context, shop string) (domain.ReconcileResult, error) {
	previous, _ := v.Read(ctx, shop)
	items, _ := v.CountForShop(ctx, shop)
	customers, _ := v.CountDistinctCustomers(ctx, shop)

	var agg domain.ShopAggregate
	v.do(func(s *memStore) {
		agg = domain.ShopAggregate{Shop: shop, TotalItems: items, TotalCustomers: customers, UpdatedAt: s.now()}
		s.aggs[shop] = agg
	})
	return domain.ReconcileResult{
		Aggregate: agg,
		Previous:  previous,
		Drifted:   previous.TotalItems != items || previous.TotalCustomers != customers,
	}, nil
}

func (v *memView) Shops(_ context.Context) ([]string, error) {
	var shops []string
	v.do(func(s *memStore) {
		for shop := range s.aggs {
			shops = append(shops, shop)
		}
	})
	sort.Strings(shops)
	return shops, nil
}
