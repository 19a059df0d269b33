// Package events defines the typed notifications produced by the ledgers and
// the exchange, and a fan-out feed that delivers them to subscribers (the
// websocket hub, the journal).
package events

import (
	core "github.com/openloot/openloot/pkg/app/core"
)

// Event is implemented by every notification type.
type Event interface{ Name() string }

type OrderOpened struct {
	Creator    core.AccountID `json:"creator"`
	OrderID    core.OrderID   `json:"order_id"`
	Asset      core.AssetID   `json:"asset"`
	Price      core.Balance   `json:"price"`
	Time       int64          `json:"time"`
	FillOrKill bool           `json:"fill_or_kill"`
}

type OrderFilled struct {
	Seller  core.AccountID `json:"seller"`
	Buyer   core.AccountID `json:"buyer"`
	TokenID core.TokenID   `json:"token_id"`
	Asset   core.AssetID   `json:"asset"`
	Price   core.Balance   `json:"price"`
	Time    int64          `json:"time"`
}

type OrderCanceled struct {
	Creator core.AccountID `json:"creator"`
	OrderID core.OrderID   `json:"order_id"`
	Time    int64          `json:"time"`
}

type OrderClosed struct {
	Creator    core.AccountID `json:"creator"`
	OrderID    core.OrderID   `json:"order_id"`
	Asset      core.AssetID   `json:"asset"`
	Price      core.Balance   `json:"price"`
	Time       int64          `json:"time"`
	FillOrKill bool           `json:"fill_or_kill"`
}

type CollectionCreated struct {
	Issuer     core.AccountID    `json:"issuer"`
	Collection core.CollectionID `json:"collection"`
}

type CollectionUpdated struct {
	Issuer     core.AccountID    `json:"issuer"`
	Collection core.CollectionID `json:"collection"`
}

type TokenIssued struct {
	Issuer     core.AccountID    `json:"issuer"`
	TokenID    core.TokenID      `json:"token_id"`
	Collection core.CollectionID `json:"collection"`
}

type TokenDestroyed struct {
	Owner   core.AccountID `json:"owner"`
	TokenID core.TokenID   `json:"token_id"`
}

// TokenTransferred covers mint (From nil), burn (To nil) and transfers.
type TokenTransferred struct {
	From    *core.AccountID `json:"from,omitempty"`
	To      *core.AccountID `json:"to,omitempty"`
	TokenID core.TokenID    `json:"token_id"`
}

type Approval struct {
	Owner    core.AccountID `json:"owner"`
	Approved core.AccountID `json:"approved"`
	TokenID  core.TokenID   `json:"token_id"`
}

type ApprovalForAll struct {
	Owner    core.AccountID `json:"owner"`
	Operator core.AccountID `json:"operator"`
	Approved bool           `json:"approved"`
}

func (OrderOpened) Name() string       { return "order_opened" }
func (OrderFilled) Name() string       { return "order_filled" }
func (OrderCanceled) Name() string     { return "order_canceled" }
func (OrderClosed) Name() string       { return "order_closed" }
func (CollectionCreated) Name() string { return "collection_created" }
func (CollectionUpdated) Name() string { return "collection_updated" }
func (TokenIssued) Name() string       { return "token_issued" }
func (TokenDestroyed) Name() string    { return "token_destroyed" }
func (TokenTransferred) Name() string  { return "token_transferred" }
func (Approval) Name() string          { return "approval" }
func (ApprovalForAll) Name() string    { return "approval_for_all" }

// Emitter receives events as they happen. Emit must not block the caller.
type Emitter interface {
	Emit(e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(Event) {}
