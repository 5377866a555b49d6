package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ksred/klear-options/internal/types"
)

type activeKey struct {
	userID      string
	accountType types.AccountType
}

type activeSet struct {
	orders     []types.Order
	generation uint64
}

// OrderCache mirrors single orders and per-user active order working sets.
// Working sets are hints: MarkStale drops every set of an account type at once
// without walking the map.
type OrderCache struct {
	orders *TTL[string, types.Order]
	active *TTL[activeKey, activeSet]

	mu          sync.Mutex
	generations map[types.AccountType]uint64
}

// NewOrderCache creates the order caches. A nil now uses time.Now.
func NewOrderCache(orderTTL, activeTTL time.Duration, now func() time.Time) *OrderCache {
	return &OrderCache{
		orders:      NewTTL[string, types.Order](orderTTL, now),
		active:      NewTTL[activeKey, activeSet](activeTTL, now),
		generations: make(map[types.AccountType]uint64),
	}
}

func (c *OrderCache) GetOrder(orderID string) (*types.Order, bool) {
	o, ok := c.orders.Get(orderID)
	if !ok {
		return nil, false
	}
	return &o, true
}

func (c *OrderCache) PutOrder(order *types.Order) {
	c.orders.Set(order.OrderID, *order)
}

func (c *OrderCache) InvalidateOrder(orderID string) {
	c.orders.Delete(orderID)
}

// ActiveOrders returns the cached working set for a user and account type
func (c *OrderCache) ActiveOrders(userID string, accountType types.AccountType) ([]types.Order, bool) {
	set, ok := c.active.Get(activeKey{userID, accountType})
	if !ok || set.generation != c.generation(accountType) {
		return nil, false
	}
	return append([]types.Order(nil), set.orders...), true
}

// SetActiveOrders caches a working set read from the store. generation must be
// taken with Generation before the read; a set read across a MarkStale is dropped.
func (c *OrderCache) SetActiveOrders(userID string, accountType types.AccountType, orders []types.Order, generation uint64) {
	if generation != c.generation(accountType) {
		return
	}
	c.active.Set(activeKey{userID, accountType}, activeSet{
		orders:     append([]types.Order(nil), orders...),
		generation: generation,
	})
}

// Generation returns the staleness generation of the account type
func (c *OrderCache) Generation(accountType types.AccountType) uint64 {
	return c.generation(accountType)
}

// AddActiveOrder appends a freshly created order to its owner's working set if
// one is cached. A missing set is left alone and repopulated on the next read.
func (c *OrderCache) AddActiveOrder(order *types.Order) {
	key := activeKey{order.UserID, order.AccountType}
	set, ok := c.active.Get(key)
	if !ok || set.generation != c.generation(order.AccountType) {
		return
	}
	orders := append(append([]types.Order(nil), set.orders...), *order)
	c.active.Set(key, activeSet{orders: orders, generation: set.generation})
}

// MarkStale invalidates every working set of the account type
func (c *OrderCache) MarkStale(accountType types.AccountType) {
	c.mu.Lock()
	c.generations[accountType]++
	c.mu.Unlock()
}

// InvalidateAll drops every cached order and working set
func (c *OrderCache) InvalidateAll() {
	c.orders.Clear()
	c.active.Clear()
	for _, at := range types.AccountTypes {
		c.MarkStale(at)
	}
}

func (c *OrderCache) generation(accountType types.AccountType) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[accountType]
}

func (c *OrderCache) Start(ctx context.Context, interval time.Duration) {
	c.orders.Start(ctx, interval)
	c.active.Start(ctx, interval)
}

func (c *OrderCache) Stop() {
	c.orders.Stop()
	c.active.Stop()
}

// NewAssetCache creates the asset lookup cache
func NewAssetCache(ttl time.Duration, now func() time.Time) *TTL[string, types.Asset] {
	return NewTTL[string, types.Asset](ttl, now)
}
