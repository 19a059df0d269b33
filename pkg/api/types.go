package api

import (
	"encoding/json"

	"github.com/openloot/openloot/pkg/app/core/attr"
)

// API request/response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// PriceLevel represents one price level of a book side.
type PriceLevel struct {
	Price  uint64   `json:"price"`
	Orders []string `json:"orders"` // order ids, arrival order
}

// BookSnapshot represents one side of an asset's book.
type BookSnapshot struct {
	Asset     uint32       `json:"asset"`
	Side      string       `json:"side"` // "asks" or "bids"
	Levels    []PriceLevel `json:"levels"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// OrderInfo represents a resting order.
type OrderInfo struct {
	ID         string   `json:"id"`
	Side       string   `json:"side"` // "ask" or "bid"
	Creator    string   `json:"creator"`
	Asset      uint32   `json:"asset"`
	Price      uint64   `json:"price"`
	Status     string   `json:"status"`
	CreatedAt  int64    `json:"createdAt"`
	FillOrKill bool     `json:"fillOrKill"`
	BindTokens []string `json:"bindTokens,omitempty"` // asks only
	CountToBuy uint32   `json:"countToBuy,omitempty"` // bids only
}

// TokenInfo represents a minted token with its current state.
type TokenInfo struct {
	ID         string   `json:"id"`
	Symbol     string   `json:"symbol"`
	Collection string   `json:"collection"`
	Owner      string   `json:"owner"`
	Reserved   bool     `json:"reserved"`
	Attributes attr.Map `json:"attributes"`
}

// CollectionInfo represents a collection's metadata.
type CollectionInfo struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Issuer      string `json:"issuer"`
	Description string `json:"description"`
	MaxSupply   uint64 `json:"maxSupply"`
	TotalSupply uint64 `json:"totalSupply"`
}

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is the payload for POST /api/v1/orders.
// Selector is the token selector document, e.g.
//
//	{"kind":"ids","collection":"0x...","ids":{"ids":["0x..."]}}
//	{"kind":"attrs","collection":"0x...","attrs":{"max_count":2,"stack":[...]}}
type SubmitOrderRequest struct {
	Side       string          `json:"side"` // "ask" or "bid"
	Creator    string          `json:"creator"`
	Asset      uint32          `json:"asset"`
	Price      uint64          `json:"price"`
	FillOrKill bool            `json:"fillOrKill"`
	Selector   json.RawMessage `json:"selector"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Side    string `json:"side"`
	Creator string `json:"creator"`
	OrderID string `json:"orderId"`
}

// SubmitOrderResponse is the response from order submission.
type SubmitOrderResponse struct {
	Status  string `json:"status"` // "accepted", "rejected"
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage wraps every broadcast event.
type WSMessage struct {
	Type string `json:"type"` // event name, e.g. "OrderFilled"
	Data any    `json:"data"`
}

// WSSubscribeRequest is sent by a client to manage channel subscriptions.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["orders", "tokens"]
}
