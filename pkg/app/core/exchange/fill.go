package exchange

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	core "github.com/openloot/openloot/pkg/app/core"
	"github.com/openloot/openloot/pkg/app/core/assets"
	"github.com/openloot/openloot/pkg/app/core/events"
	"github.com/openloot/openloot/pkg/app/core/nft"
)

var errTokenNotBound = errors.New("exchange: token not bound to order")

// fill exchanges one token for one payment at the resting order's price.
// counterpartSide names the side of the resting order being consumed.
//
// Every movement is validated before any state is touched, so the commit
// below is all-or-nothing: a failed fill leaves the token bound and
// reserved for a future attempt, and the caller skips the candidate.
func (e *Exchange) fill(price core.Balance, asset core.AssetID, counterpart core.OrderID, token core.TokenID, buyer, seller core.AccountID, counterpartSide Side) error {
	var (
		askOrder *AskOrder
		bidOrder *BidOrder
		tokenPos int
	)
	switch counterpartSide {
	case AskSide:
		order, ok := e.asks[counterpart]
		if !ok {
			return ErrOrderNotFound
		}
		tokenPos = -1
		for i, tok := range order.BindTokens {
			if tok == token {
				tokenPos = i
				break
			}
		}
		if tokenPos < 0 {
			return fmt.Errorf("%w: %s", errTokenNotBound, token)
		}
		askOrder = order
	case BidSide:
		order, ok := e.bids[counterpart]
		if !ok {
			return ErrOrderNotFound
		}
		if order.CountToBuy == 0 {
			return fmt.Errorf("%w: %s", errTokenNotBound, counterpart)
		}
		bidOrder = order
	}

	if !e.tokens.IsReserved(token) {
		return nft.ErrNotReserved
	}
	owner, ok := e.tokens.OwnerOf(token)
	if !ok {
		return nft.ErrTokenNotFound
	}
	if owner != seller {
		return nft.ErrNotOwner
	}
	rec, ok := e.tokens.Token(token)
	if !ok {
		return nft.ErrTokenNotFound
	}
	if !e.tokens.Allowed(rec.Collection, buyer) {
		return nft.ErrBlacklisted
	}
	if e.funds.ReservedBalance(asset, buyer) < price {
		return assets.ErrInsufficientBalance
	}

	now := e.clock.Now().UnixMilli()
	e.emitter.Emit(events.OrderFilled{Seller: seller, Buyer: buyer, TokenID: token, Asset: asset, Price: price, Time: now})
	e.log.Info("order filled",
		zap.Stringer("order", counterpart),
		zap.Stringer("token", token),
		zap.Stringer("seller", seller),
		zap.Stringer("buyer", buyer),
		zap.Uint64("price", uint64(price)))

	if err := e.tokens.Unreserve(seller, token); err != nil {
		return err
	}
	if err := e.tokens.ReserveSafeTransfer(seller, buyer, token); err != nil {
		return err
	}
	if delta := e.funds.Unreserve(asset, buyer, price); delta != 0 {
		e.log.Warn("unreserve shortfall on fill", zap.Stringer("order", counterpart), zap.Uint64("delta", uint64(delta)))
	}
	if buyer != seller {
		if err := e.funds.Transfer(asset, buyer, seller, price); err != nil {
			return err
		}
	}

	switch counterpartSide {
	case AskSide:
		askOrder.BindTokens = append(askOrder.BindTokens[:tokenPos], askOrder.BindTokens[tokenPos+1:]...)
		askOrder.Status = PartialFilled
		if len(askOrder.BindTokens) == 0 {
			askOrder.Status = Filled
			return e.removeAsk(askOrder)
		}
		e.persistAsk(askOrder)
	case BidSide:
		bidOrder.CountToBuy--
		bidOrder.Status = PartialFilled
		if bidOrder.CountToBuy == 0 {
			bidOrder.Status = Filled
			return e.removeBid(bidOrder)
		}
		e.persistBid(bidOrder)
	}
	return nil
}
