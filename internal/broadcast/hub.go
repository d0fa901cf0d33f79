// Package broadcast fans stats-changed notifications out to dashboard viewers
// of a shop, on this instance and, through a Relay, on its peers.
package broadcast

import (
	"sync"

	"github.com/utafrali/wishlist-sync/internal/domain"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 16

// Subscription receives the aggregates published for one shop. Close it when
// the viewer goes away; closing twice is harmless.
type Subscription struct {
	shop string
	ch   chan domain.ShopAggregate
	hub  *Hub
	once sync.Once
}

// C is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.ShopAggregate { return s.ch }

// Shop returns the shop this subscription listens to.
func (s *Subscription) Shop() string { return s.shop }

// Close unsubscribes.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Hub keeps the local subscribers of every shop. Publish never blocks: a
// subscriber whose buffer is full misses that event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	closed  bool
	metrics *Metrics
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, metrics *Metrics) *Hub {
	if buffer < 1 {
		buffer = DefaultBufferSize
	}
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: metrics,
	}
}

// Subscribe registers a viewer of shop. After Close the returned
// subscription is already ended.
func (h *Hub) Subscribe(shop string) *Subscription {
	s := &Subscription{shop: shop, ch: make(chan domain.ShopAggregate, h.buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}

	set, ok := h.subs[shop]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[shop] = set
	}
	set[s] = struct{}{}
	h.metrics.subscribed(1)
	return s
}

// Unsubscribe removes s and closes its channel.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(s)
}

// detach must be called with mu held.
func (h *Hub) detach(s *Subscription) {
	s.once.Do(func() {
		if set, ok := h.subs[s.shop]; ok {
			if _, member := set[s]; member {
				delete(set, s)
				h.metrics.subscribed(-1)
			}
			if len(set) == 0 {
				delete(h.subs, s.shop)
			}
		}
		close(s.ch)
	})
}

// Publish offers agg to every subscriber of agg.Shop and returns how many
// accepted it.
func (h *Hub) Publish(agg domain.ShopAggregate) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.subs[agg.Shop] {
		select {
		case s.ch <- agg:
			delivered++
		default:
			h.metrics.drop()
		}
	}
	h.metrics.deliver(delivered)
	return delivered
}

// SubscriberCount returns the number of local subscribers of shop.
func (h *Hub) SubscriberCount(shop string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[shop])
}

// Close ends every subscription. Later subscriptions end immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			h.detach(s)
		}
	}
}
