// Package exchange implements the price-indexed order books, the matching
// engine and atomic token-for-asset settlement.
package exchange

import (
	"encoding/json"

	core "github.com/openloot/openloot/pkg/app/core"
	"github.com/openloot/openloot/pkg/app/core/selector"
)

// Status is the lifecycle state of an order.
//
// Open → PartialFilled → Filled (removed from book), or
// Open → Closed (nothing left to rest), or
// Open|PartialFilled → Canceled (creator action). Filled, Closed and
// Canceled are terminal.
type Status uint8

const (
	Open Status = iota
	PartialFilled
	Filled
	Closed
	Canceled
)

var statusNames = map[Status]string{
	Open: "open", PartialFilled: "partial_filled", Filled: "filled",
	Closed: "closed", Canceled: "canceled",
}

func (s Status) String() string { return statusNames[s] }

func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(statusNames[s]) }

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	*s = Open
	return nil
}

// Side distinguishes the two books.
type Side uint8

const (
	AskSide Side = iota
	BidSide
)

func (s Side) String() string {
	if s == BidSide {
		return "bid"
	}
	return "ask"
}

// AskOrder is a resting offer to sell the bound tokens at a fixed unit
// price. Identity fields are immutable after creation; only BindTokens and
// Status change.
type AskOrder struct {
	Creator    core.AccountID         `json:"creator"`
	ID         core.OrderID           `json:"id"`
	Selector   selector.TokenSelector `json:"selector"`
	Asset      core.AssetID           `json:"asset"`
	Price      core.Balance           `json:"price"`
	CreatedAt  int64                  `json:"created_at"`
	FillOrKill bool                   `json:"fill_or_kill"`
	BindTokens []core.TokenID         `json:"bind_tokens"`
	Status     Status                 `json:"status"`
}

// BidOrder is a resting offer to buy CountToBuy tokens matching the
// selector at a fixed unit price.
type BidOrder struct {
	Creator    core.AccountID         `json:"creator"`
	ID         core.OrderID           `json:"id"`
	Selector   selector.TokenSelector `json:"selector"`
	Asset      core.AssetID           `json:"asset"`
	Price      core.Balance           `json:"price"`
	CreatedAt  int64                  `json:"created_at"`
	FillOrKill bool                   `json:"fill_or_kill"`
	CountToBuy uint32                 `json:"count_to_buy"`
	Status     Status                 `json:"status"`
}

// orderID derives the deterministic content hash identifying an order. The
// timestamp is part of the input so identical parameters at different
// instants never collide.
func orderID(creator core.AccountID, asset core.AssetID, timestamp int64, price core.Balance, fillOrKill bool, side Side, sel selector.TokenSelector) core.OrderID {
	return core.Digest(creator, asset, timestamp, price, fillOrKill, side == AskSide, sel.DigestBytes())
}
