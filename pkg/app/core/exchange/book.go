package exchange

import (
	"sort"

	core "github.com/openloot/openloot/pkg/app/core"
)

// Level is one price bucket of a book side: every order resting at that
// price, in arrival order (FIFO time priority).
type Level struct {
	Price  core.Balance   `json:"price"`
	Orders []core.OrderID `json:"orders"`
}

// bookSide is one side of the book for one payment asset: a sorted price
// index over FIFO order-id lists. Both sides store prices ascending;
// traversal direction differs by query.
type bookSide struct {
	prices []core.Balance
	levels map[core.Balance][]core.OrderID
}

func newBookSide() *bookSide {
	return &bookSide{levels: make(map[core.Balance][]core.OrderID)}
}

// add appends an order to its price level, creating the level if needed.
func (b *bookSide) add(price core.Balance, id core.OrderID) {
	if _, ok := b.levels[price]; !ok {
		pos := sort.Search(len(b.prices), func(i int) bool { return b.prices[i] >= price })
		b.prices = append(b.prices, 0)
		copy(b.prices[pos+1:], b.prices[pos:])
		b.prices[pos] = price
	}
	b.levels[price] = append(b.levels[price], id)
}

// remove deletes an order from its price level, dropping the level when it
// empties. Reports whether the order was present where expected.
func (b *bookSide) remove(price core.Balance, id core.OrderID) bool {
	level, ok := b.levels[price]
	if !ok {
		return false
	}
	pos := -1
	for i, oid := range level {
		if oid == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}
	level = append(level[:pos], level[pos+1:]...)
	if len(level) == 0 {
		delete(b.levels, price)
		for i, p := range b.prices {
			if p == price {
				b.prices = append(b.prices[:i], b.prices[i+1:]...)
				break
			}
		}
	} else {
		b.levels[price] = level
	}
	return true
}

// ascending snapshots every level with price <= limit, best (lowest) price
// first. Order-id slices are copies; the live book may mutate during the
// caller's traversal.
func (b *bookSide) ascending(limit core.Balance) []Level {
	var out []Level
	for _, p := range b.prices {
		if p > limit {
			break
		}
		out = append(out, Level{Price: p, Orders: append([]core.OrderID(nil), b.levels[p]...)})
	}
	return out
}

// descending snapshots every level with price >= limit, best (highest)
// price first.
func (b *bookSide) descending(limit core.Balance) []Level {
	var out []Level
	for i := len(b.prices) - 1; i >= 0; i-- {
		p := b.prices[i]
		if p < limit {
			break
		}
		out = append(out, Level{Price: p, Orders: append([]core.OrderID(nil), b.levels[p]...)})
	}
	return out
}

// all snapshots every level ascending. Used by queries.
func (b *bookSide) all() []Level {
	var out []Level
	for _, p := range b.prices {
		out = append(out, Level{Price: p, Orders: append([]core.OrderID(nil), b.levels[p]...)})
	}
	return out
}
