package assets

import (
	"errors"
	"math"
	"testing"

	core "github.com/openloot/openloot/pkg/app/core"
)

const usd core.AssetID = 1

var (
	alice = core.AccountID{0x01}
	bob   = core.AccountID{0x02}
)

func TestMintAndBalances(t *testing.T) {
	l := NewLedger()
	if err := l.Mint(usd, alice, 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := l.FreeBalance(usd, alice); got != 1000 {
		t.Errorf("free = %d, want 1000", got)
	}
	if got := l.ReservedBalance(usd, alice); got != 0 {
		t.Errorf("reserved = %d, want 0", got)
	}
	// balances are per asset
	if got := l.FreeBalance(usd+1, alice); got != 0 {
		t.Errorf("other asset free = %d, want 0", got)
	}
}

func TestReserveAndUnreserve(t *testing.T) {
	l := NewLedger()
	l.Mint(usd, alice, 1000)

	if err := l.Reserve(usd, alice, 400); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if free, res := l.FreeBalance(usd, alice), l.ReservedBalance(usd, alice); free != 600 || res != 400 {
		t.Errorf("free/reserved = %d/%d, want 600/400", free, res)
	}

	if err := l.Reserve(usd, alice, 601); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("over-reserve: got %v, want %v", err, ErrInsufficientBalance)
	}
	// failed reserve leaves balances untouched
	if free, res := l.FreeBalance(usd, alice), l.ReservedBalance(usd, alice); free != 600 || res != 400 {
		t.Errorf("after failed reserve: free/reserved = %d/%d", free, res)
	}

	if delta := l.Unreserve(usd, alice, 400); delta != 0 {
		t.Errorf("unreserve delta = %d, want 0", delta)
	}
	if free := l.FreeBalance(usd, alice); free != 1000 {
		t.Errorf("free after unreserve = %d, want 1000", free)
	}
}

func TestUnreserveShortfall(t *testing.T) {
	l := NewLedger()
	l.Mint(usd, alice, 100)
	l.Reserve(usd, alice, 100)

	// asking for more than is reserved releases what exists and reports
	// the missing remainder
	if delta := l.Unreserve(usd, alice, 150); delta != 50 {
		t.Errorf("delta = %d, want 50", delta)
	}
	if free, res := l.FreeBalance(usd, alice), l.ReservedBalance(usd, alice); free != 100 || res != 0 {
		t.Errorf("free/reserved = %d/%d, want 100/0", free, res)
	}

	if delta := l.Unreserve(usd, alice, 10); delta != 10 {
		t.Errorf("unreserve with nothing reserved: delta = %d, want 10", delta)
	}
}

func TestTransfer(t *testing.T) {
	l := NewLedger()
	l.Mint(usd, alice, 500)

	if err := l.Transfer(usd, alice, bob, 200); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if a, b := l.FreeBalance(usd, alice), l.FreeBalance(usd, bob); a != 300 || b != 200 {
		t.Errorf("balances = %d/%d, want 300/200", a, b)
	}

	if err := l.Transfer(usd, alice, bob, 301); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdraw: got %v, want %v", err, ErrInsufficientBalance)
	}
}

func TestOverflowGuards(t *testing.T) {
	l := NewLedger()
	l.Mint(usd, alice, math.MaxUint64)

	if err := l.Mint(usd, alice, 1); !errors.Is(err, ErrBalanceOverflow) {
		t.Errorf("mint overflow: got %v, want %v", err, ErrBalanceOverflow)
	}

	l.Mint(usd, bob, 1)
	if err := l.Transfer(usd, bob, alice, 1); !errors.Is(err, ErrBalanceOverflow) {
		t.Errorf("transfer overflow: got %v, want %v", err, ErrBalanceOverflow)
	}
	// failed transfer leaves the sender whole
	if got := l.FreeBalance(usd, bob); got != 1 {
		t.Errorf("sender balance after failed transfer = %d, want 1", got)
	}
}
