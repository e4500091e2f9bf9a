// Package book implements OneSidedBook: the ordered sequence of resting
// orders for one side of one symbol, keyed by OrderKey.
package book

import (
	"fmt"

	"github.com/google/btree"

	"loom/internal/models"
)

// degree is the branching factor passed to btree.New. 32 is the value used
// throughout the retrieval pack's own btree-backed order books.
const degree = 32

// item is the btree.Item wrapper around a resting order, ordered by its
// OrderKey.
type item struct {
	key   models.OrderKey
	order *models.Order
}

func (a *item) Less(than btree.Item) bool {
	return a.key.Less(than.(*item).key)
}

// OneSidedBook holds the resting orders for one (symbol, side), ordered by
// OrderKey, backed by a google/btree for O(log n) add/remove/peek-best.
// Not safe for concurrent use: it is owned exclusively by the Trader
// goroutine that mutates the SymbolBook it belongs to.
type OneSidedBook struct {
	symbol string
	side   models.Side
	tree   *btree.BTree
}

// New constructs an empty OneSidedBook for the given symbol and side.
func New(symbol string, side models.Side) *OneSidedBook {
	return &OneSidedBook{symbol: symbol, side: side, tree: btree.New(degree)}
}

// Add inserts order. If an entry with the same OrderKey already exists the
// call is a no-op success (idempotent by key). Returns an error if order's
// side or remaining quantity violate the book's preconditions.
func (b *OneSidedBook) Add(order *models.Order) error {
	if order.Side != b.side {
		return fmt.Errorf("onesidedbook: order side %s does not match book side %s", order.Side, b.side)
	}
	if order.Remain() == 0 {
		return fmt.Errorf("onesidedbook: cannot add order %d with zero remaining quantity", order.ID)
	}
	key := order.Key()
	if b.tree.Get(&item{key: key}) != nil {
		return nil
	}
	b.tree.ReplaceOrInsert(&item{key: key, order: order})
	return nil
}

// RemoveByKey removes and returns the entry at key, if any.
func (b *OneSidedBook) RemoveByKey(key models.OrderKey) (*models.Order, bool) {
	removed := b.tree.Delete(&item{key: key})
	if removed == nil {
		return nil, false
	}
	return removed.(*item).order, true
}

// Head returns the best entry by the side's ordering without removing it,
// or nil if the book is empty.
func (b *OneSidedBook) Head() *models.Order {
	top := b.tree.Min()
	if top == nil {
		return nil
	}
	return top.(*item).order
}

// Size returns the number of resting orders.
func (b *OneSidedBook) Size() int {
	return b.tree.Len()
}

// ExistsByKey reports whether an entry with key is currently resting.
func (b *OneSidedBook) ExistsByKey(key models.OrderKey) bool {
	return b.tree.Get(&item{key: key}) != nil
}

// Side returns the side this book indexes.
func (b *OneSidedBook) Side() models.Side { return b.side }

// Ascend walks resting orders best-first, calling visit on each. Iteration
// stops early if visit returns false. The book is unchanged by iteration.
func (b *OneSidedBook) Ascend(visit func(*models.Order) bool) {
	b.tree.Ascend(func(i btree.Item) bool {
		return visit(i.(*item).order)
	})
}
