// Package assets implements the fungible payment-asset ledger: free and
// reserved balances per (asset, account), with the reserve/unreserve/transfer
// surface the exchange settles against.
package assets

import (
	"errors"
	"math"
	"sync"

	core "github.com/openloot/openloot/pkg/app/core"
)

var (
	ErrInsufficientBalance = errors.New("assets: insufficient free balance")
	ErrBalanceOverflow     = errors.New("assets: balance overflow")
)

type key struct {
	asset   core.AssetID
	account core.AccountID
}

// Ledger tracks free and reserved balances. Reserved funds back open bid
// orders and cannot be spent until unreserved by settlement.
type Ledger struct {
	mu       sync.RWMutex
	free     map[key]core.Balance
	reserved map[key]core.Balance
}

func NewLedger() *Ledger {
	return &Ledger{
		free:     make(map[key]core.Balance),
		reserved: make(map[key]core.Balance),
	}
}

// Mint credits free balance. Used by deposits and test genesis.
func (l *Ledger) Mint(asset core.AssetID, account core.AccountID, amount core.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{asset, account}
	if l.free[k] > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	l.free[k] += amount
	return nil
}

func (l *Ledger) FreeBalance(asset core.AssetID, account core.AccountID) core.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.free[key{asset, account}]
}

func (l *Ledger) ReservedBalance(asset core.AssetID, account core.AccountID) core.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reserved[key{asset, account}]
}

// Reserve moves amount from free to reserved. Fails without effect when the
// free balance is short.
func (l *Ledger) Reserve(asset core.AssetID, account core.AccountID, amount core.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{asset, account}
	if l.free[k] < amount {
		return ErrInsufficientBalance
	}
	if l.reserved[k] > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	l.free[k] -= amount
	l.reserved[k] += amount
	return nil
}

// Unreserve moves up to amount back from reserved to free and returns the
// shortfall between the requested and the actually-released amount. A zero
// return means the full amount was released.
func (l *Ledger) Unreserve(asset core.AssetID, account core.AccountID, amount core.Balance) core.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{asset, account}
	released := amount
	if l.reserved[k] < released {
		released = l.reserved[k]
	}
	l.reserved[k] -= released
	l.free[k] += released
	return amount - released
}

// Transfer moves free balance between accounts. Fails without effect when
// the sender's free balance is short.
func (l *Ledger) Transfer(asset core.AssetID, from, to core.AccountID, amount core.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	fk, tk := key{asset, from}, key{asset, to}
	if l.free[fk] < amount {
		return ErrInsufficientBalance
	}
	if l.free[tk] > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	l.free[fk] -= amount
	l.free[tk] += amount
	return nil
}
