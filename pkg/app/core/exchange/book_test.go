package exchange

import (
	"testing"

	core "github.com/openloot/openloot/pkg/app/core"
)

func oid(n uint64) core.OrderID { return core.Digest(n) }

func TestBookSideAddKeepsPricesSorted(t *testing.T) {
	b := newBookSide()
	b.add(50, oid(1))
	b.add(10, oid(2))
	b.add(30, oid(3))
	b.add(30, oid(4))

	levels := b.all()
	wantPrices := []core.Balance{10, 30, 50}
	if len(levels) != len(wantPrices) {
		t.Fatalf("got %d levels, want %d", len(levels), len(wantPrices))
	}
	for i, lvl := range levels {
		if lvl.Price != wantPrices[i] {
			t.Errorf("level %d price = %d, want %d", i, lvl.Price, wantPrices[i])
		}
	}
	// FIFO within the shared level
	if l := levels[1]; len(l.Orders) != 2 || l.Orders[0] != oid(3) || l.Orders[1] != oid(4) {
		t.Errorf("level 30 orders = %v", l.Orders)
	}
}

func TestBookSideRemove(t *testing.T) {
	b := newBookSide()
	b.add(10, oid(1))
	b.add(10, oid(2))
	b.add(20, oid(3))

	if !b.remove(10, oid(1)) {
		t.Fatal("remove known order failed")
	}
	if b.remove(10, oid(1)) {
		t.Error("second remove succeeded")
	}
	if b.remove(99, oid(2)) {
		t.Error("remove at wrong price succeeded")
	}

	// emptying a level drops it from the price index
	if !b.remove(20, oid(3)) {
		t.Fatal("remove failed")
	}
	if got := b.all(); len(got) != 1 || got[0].Price != 10 {
		t.Errorf("levels after removals = %v", got)
	}
}

func TestBookSideTraversalBounds(t *testing.T) {
	b := newBookSide()
	for i, p := range []core.Balance{10, 20, 30, 40} {
		b.add(p, oid(uint64(i)))
	}

	asc := b.ascending(30)
	if len(asc) != 3 || asc[0].Price != 10 || asc[2].Price != 30 {
		t.Errorf("ascending(30) = %v", asc)
	}
	desc := b.descending(20)
	if len(desc) != 3 || desc[0].Price != 40 || desc[2].Price != 20 {
		t.Errorf("descending(20) = %v", desc)
	}
	if got := b.ascending(5); got != nil {
		t.Errorf("ascending below all = %v", got)
	}
	if got := b.descending(50); got != nil {
		t.Errorf("descending above all = %v", got)
	}
}

func TestBookSideSnapshotsAreCopies(t *testing.T) {
	b := newBookSide()
	b.add(10, oid(1))

	snap := b.ascending(10)
	b.remove(10, oid(1))

	if len(snap) != 1 || len(snap[0].Orders) != 1 || snap[0].Orders[0] != oid(1) {
		t.Errorf("snapshot mutated by book change: %v", snap)
	}
}
