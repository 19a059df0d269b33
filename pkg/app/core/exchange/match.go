package exchange

import (
	"go.uber.org/zap"

	core "github.com/openloot/openloot/pkg/app/core"
	"github.com/openloot/openloot/pkg/app/core/selector"
)

// matchAsk walks the bid book for an incoming sell order: price levels from
// the highest eligible bid down to the ask's limit, FIFO within a level.
// Matched tokens are marked in a working mask, never tombstoned in place.
// Returns the tokens that found no counterpart.
func (e *Exchange) matchAsk(seller core.AccountID, askPrice core.Balance, asset core.AssetID, bind []core.TokenID) []core.TokenID {
	book, ok := e.bidBook[asset]
	if !ok {
		return bind
	}

	matched := make([]bool, len(bind))
	left := len(bind)

	// The level snapshot is taken once; orders filled and removed during
	// the walk turn into stale ids that the lookup below skips.
	for _, lvl := range book.descending(askPrice) {
		for _, orderID := range lvl.Orders {
			if left == 0 {
				return nil
			}
			order, ok := e.bids[orderID]
			if !ok {
				continue
			}
			buyer := order.Creator
			for i, tok := range bind {
				if matched[i] {
					continue
				}
				if order.CountToBuy == 0 {
					break
				}
				if !e.bidMatches(order.Selector, tok) {
					continue
				}
				if err := e.fill(lvl.Price, asset, orderID, tok, buyer, seller, BidSide); err != nil {
					// best-effort per candidate: skip, keep scanning
					e.log.Debug("fill skipped", zap.Stringer("order", orderID), zap.Stringer("token", tok), zap.Error(err))
					continue
				}
				matched[i] = true
				left--
			}
		}
	}

	if left == 0 {
		return nil
	}
	out := make([]core.TokenID, 0, left)
	for i, tok := range bind {
		if !matched[i] {
			out = append(out, tok)
		}
	}
	return out
}

// matchBid walks the ask book for an incoming buy order: price levels from
// the lowest eligible ask up to the bid's limit, FIFO within a level, bound
// tokens in stored sequence. Returns the quantity still unfilled.
func (e *Exchange) matchBid(buyer core.AccountID, bidPrice core.Balance, asset core.AssetID, count uint32, sel selector.TokenSelector) uint32 {
	book, ok := e.askBook[asset]
	if !ok {
		return count
	}

	for _, lvl := range book.ascending(bidPrice) {
		for _, orderID := range lvl.Orders {
			if count == 0 {
				return 0
			}
			order, ok := e.asks[orderID]
			if !ok {
				continue
			}
			seller := order.Creator
			// iterate a copy: fills splice the live BindTokens
			for _, tok := range append([]core.TokenID(nil), order.BindTokens...) {
				if count == 0 {
					return 0
				}
				if !e.bidMatches(sel, tok) {
					continue
				}
				if err := e.fill(lvl.Price, asset, orderID, tok, buyer, seller, AskSide); err != nil {
					e.log.Debug("fill skipped", zap.Stringer("order", orderID), zap.Stringer("token", tok), zap.Error(err))
					continue
				}
				count--
			}
		}
	}
	return count
}
