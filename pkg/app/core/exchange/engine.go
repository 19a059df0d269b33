package exchange

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	core "github.com/openloot/openloot/pkg/app/core"
	"github.com/openloot/openloot/pkg/app/core/assets"
	"github.com/openloot/openloot/pkg/app/core/attr"
	"github.com/openloot/openloot/pkg/app/core/events"
	"github.com/openloot/openloot/pkg/app/core/nft"
	"github.com/openloot/openloot/pkg/app/core/selector"
	"github.com/openloot/openloot/pkg/util"
)

var (
	ErrOrderNotFound    = errors.New("exchange: order not found")
	ErrNotOrderOwner    = errors.New("exchange: creator does not own this order")
	ErrNoTokensSelected = errors.New("exchange: selector matched no owned tokens")
	ErrSelectorCapacity = errors.New("exchange: bound tokens exceed selector capacity")
	ErrAmountOverflow   = errors.New("exchange: reserve amount overflows")
	ErrBookCorrupted    = errors.New("exchange: order missing from expected book bucket")
)

// OrderStore is the optional persistence hook. Writes are best-effort
// write-behind; a nil store disables persistence.
type OrderStore interface {
	SaveAsk(o *AskOrder) error
	SaveBid(o *BidOrder) error
	DeleteAsk(id core.OrderID) error
	DeleteBid(id core.OrderID) error
}

// Exchange is the matching engine. One mutex serializes every
// state-mutating operation, so each create/cancel - including all the fills
// it triggers - appears atomic to readers.
type Exchange struct {
	mu sync.Mutex

	tokens *nft.Ledger
	funds  *assets.Ledger
	attrs  *attr.Store

	asks map[core.OrderID]*AskOrder
	bids map[core.OrderID]*BidOrder

	askBook map[core.AssetID]*bookSide
	bidBook map[core.AssetID]*bookSide

	emitter events.Emitter
	clock   util.Clock
	store   OrderStore
	log     *zap.Logger
}

// Options carries the optional collaborators of an Exchange.
type Options struct {
	Emitter events.Emitter
	Clock   util.Clock
	Store   OrderStore
	Logger  *zap.Logger
}

func New(tokens *nft.Ledger, funds *assets.Ledger, attrs *attr.Store, opts Options) *Exchange {
	if opts.Emitter == nil {
		opts.Emitter = events.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Exchange{
		tokens:  tokens,
		funds:   funds,
		attrs:   attrs,
		asks:    make(map[core.OrderID]*AskOrder),
		bids:    make(map[core.OrderID]*BidOrder),
		askBook: make(map[core.AssetID]*bookSide),
		bidBook: make(map[core.AssetID]*bookSide),
		emitter: opts.Emitter,
		clock:   opts.Clock,
		store:   opts.Store,
		log:     opts.Logger,
	}
}

// CreateAsk places a sell order: bind owned tokens matching the selector,
// reserve them, match against the bid book, then rest the residual unless
// everything filled or the order is fill-or-kill.
func (e *Exchange) CreateAsk(creator core.AccountID, sel selector.TokenSelector, asset core.AssetID, price core.Balance, fillOrKill bool) (core.OrderID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := sel.Validate(); err != nil {
		return core.OrderID{}, err
	}
	now := e.clock.Now().UnixMilli()
	id := orderID(creator, asset, now, price, fillOrKill, AskSide, sel)

	bind := e.selectTokens(creator, sel)
	if len(bind) == 0 {
		return core.OrderID{}, ErrNoTokensSelected
	}
	if uint32(len(bind)) > sel.TokenCount() {
		return core.OrderID{}, ErrSelectorCapacity
	}

	e.emitter.Emit(events.OrderOpened{Creator: creator, OrderID: id, Asset: asset, Price: price, Time: now, FillOrKill: fillOrKill})
	e.log.Info("ask opened",
		zap.Stringer("order", id),
		zap.Stringer("creator", creator),
		zap.Uint32("asset", uint32(asset)),
		zap.Uint64("price", uint64(price)),
		zap.Int("tokens", len(bind)),
		zap.Bool("fok", fillOrKill))

	// All-or-nothing reservation: a failure releases everything taken so
	// far before surfacing.
	for i, tok := range bind {
		if err := e.tokens.Reserve(creator, tok); err != nil {
			for _, prev := range bind[:i] {
				if uerr := e.tokens.Unreserve(creator, prev); uerr != nil {
					e.log.Error("reservation rollback failed", zap.Stringer("token", prev), zap.Error(uerr))
				}
			}
			return core.OrderID{}, fmt.Errorf("reserve token %s: %w", tok, err)
		}
	}

	remaining := e.matchAsk(creator, price, asset, bind)

	if len(remaining) == 0 || fillOrKill {
		for _, tok := range remaining {
			if err := e.tokens.Unreserve(creator, tok); err != nil {
				return core.OrderID{}, fmt.Errorf("unreserve token %s: %w", tok, err)
			}
		}
		e.emitter.Emit(events.OrderClosed{Creator: creator, OrderID: id, Asset: asset, Price: price, Time: now, FillOrKill: fillOrKill})
		return id, nil
	}

	order := &AskOrder{
		Creator:    creator,
		ID:         id,
		Selector:   sel,
		Asset:      asset,
		Price:      price,
		CreatedAt:  now,
		FillOrKill: fillOrKill,
		BindTokens: remaining,
		Status:     Open,
	}
	e.asks[id] = order
	e.askSide(asset).add(price, id)
	e.persistAsk(order)
	return id, nil
}

// CreateBid places a buy order: reserve quantity x price of the payment
// asset, match against the ask book, then rest the residual unless
// everything filled or the order is fill-or-kill.
func (e *Exchange) CreateBid(creator core.AccountID, sel selector.TokenSelector, asset core.AssetID, price core.Balance, fillOrKill bool) (core.OrderID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := sel.Validate(); err != nil {
		return core.OrderID{}, err
	}
	now := e.clock.Now().UnixMilli()
	id := orderID(creator, asset, now, price, fillOrKill, BidSide, sel)

	e.emitter.Emit(events.OrderOpened{Creator: creator, OrderID: id, Asset: asset, Price: price, Time: now, FillOrKill: fillOrKill})

	count := sel.TokenCount()
	reserveAmount := core.Balance(count) * price
	if price != 0 && reserveAmount/price != core.Balance(count) {
		return core.OrderID{}, ErrAmountOverflow
	}
	if err := e.funds.Reserve(asset, creator, reserveAmount); err != nil {
		return core.OrderID{}, err
	}
	e.log.Info("bid opened",
		zap.Stringer("order", id),
		zap.Stringer("creator", creator),
		zap.Uint32("asset", uint32(asset)),
		zap.Uint64("price", uint64(price)),
		zap.Uint32("count", count),
		zap.Bool("fok", fillOrKill))

	remaining := e.matchBid(creator, price, asset, count, sel)

	if remaining == 0 || fillOrKill {
		release := core.Balance(remaining) * price
		if delta := e.funds.Unreserve(asset, creator, release); delta != 0 {
			e.log.Warn("unreserve shortfall", zap.Stringer("order", id), zap.Uint64("delta", uint64(delta)))
		}
		return id, nil
	}

	status := Open
	if remaining < count {
		status = PartialFilled
	}
	order := &BidOrder{
		Creator:    creator,
		ID:         id,
		Selector:   sel,
		Asset:      asset,
		Price:      price,
		CreatedAt:  now,
		FillOrKill: fillOrKill,
		CountToBuy: remaining,
		Status:     status,
	}
	e.bids[id] = order
	e.bidSide(asset).add(price, id)
	e.persistBid(order)
	return id, nil
}

// CancelAsk withdraws a resting sell order. Reservations on its bound
// tokens are left in place (cleared by settlement, never by cancellation).
func (e *Exchange) CancelAsk(creator core.AccountID, id core.OrderID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.asks[id]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Creator != creator {
		return ErrNotOrderOwner
	}
	e.emitter.Emit(events.OrderCanceled{Creator: creator, OrderID: id, Time: e.clock.Now().UnixMilli()})
	return e.removeAsk(order)
}

// CancelBid withdraws a resting buy order. The reserved payment is left in
// place, mirroring ask cancellation.
func (e *Exchange) CancelBid(creator core.AccountID, id core.OrderID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.bids[id]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Creator != creator {
		return ErrNotOrderOwner
	}
	e.emitter.Emit(events.OrderCanceled{Creator: creator, OrderID: id, Time: e.clock.Now().UnixMilli()})
	return e.removeBid(order)
}

// selectTokens enumerates the owner's tokens in reverse enumeration-index
// order and keeps those the selector binds. Reserved tokens and zero-value
// enumeration holes are always skipped.
func (e *Exchange) selectTokens(owner core.AccountID, sel selector.TokenSelector) []core.TokenID {
	var bind []core.TokenID
	for idx := e.tokens.BalanceOf(owner); idx > 0; {
		idx--
		token := e.tokens.TokenOfOwnerByIndex(owner, idx)
		if token == (core.TokenID{}) {
			continue
		}
		if e.tokens.IsReserved(token) {
			continue
		}
		switch s := sel.Selector.(type) {
		case selector.IDSelector:
			if s.Contains(token) {
				bind = append(bind, token)
			}
		case selector.AttrSelector:
			rec, ok := e.tokens.Token(token)
			if !ok || rec.Collection != sel.Collection {
				continue
			}
			if s.Match(e.attrs.Attributes(token)) {
				bind = append(bind, token)
			}
		}
	}
	return bind
}

// bidMatches tests one candidate token against a bid's selector during
// matching. Reservation is not consulted: every token bound to an ask is
// reserved by that ask.
func (e *Exchange) bidMatches(sel selector.TokenSelector, token core.TokenID) bool {
	switch s := sel.Selector.(type) {
	case selector.IDSelector:
		return s.Contains(token)
	case selector.AttrSelector:
		rec, ok := e.tokens.Token(token)
		if !ok || rec.Collection != sel.Collection {
			return false
		}
		return s.Match(e.attrs.Attributes(token))
	default:
		return false
	}
}

func (e *Exchange) askSide(asset core.AssetID) *bookSide {
	b, ok := e.askBook[asset]
	if !ok {
		b = newBookSide()
		e.askBook[asset] = b
	}
	return b
}

func (e *Exchange) bidSide(asset core.AssetID) *bookSide {
	b, ok := e.bidBook[asset]
	if !ok {
		b = newBookSide()
		e.bidBook[asset] = b
	}
	return b
}

// removeAsk deletes an ask order and its book entry, emitting OrderClosed.
func (e *Exchange) removeAsk(order *AskOrder) error {
	e.emitter.Emit(events.OrderClosed{Creator: order.Creator, OrderID: order.ID, Asset: order.Asset, Price: order.Price, Time: order.CreatedAt, FillOrKill: order.FillOrKill})
	delete(e.asks, order.ID)
	if e.store != nil {
		if err := e.store.DeleteAsk(order.ID); err != nil {
			e.log.Error("delete ask from store", zap.Stringer("order", order.ID), zap.Error(err))
		}
	}
	if !e.askSide(order.Asset).remove(order.Price, order.ID) {
		return fmt.Errorf("%w: ask %s at price %d", ErrBookCorrupted, order.ID, order.Price)
	}
	return nil
}

// removeBid deletes a bid order and its book entry, emitting OrderClosed.
func (e *Exchange) removeBid(order *BidOrder) error {
	e.emitter.Emit(events.OrderClosed{Creator: order.Creator, OrderID: order.ID, Asset: order.Asset, Price: order.Price, Time: order.CreatedAt, FillOrKill: order.FillOrKill})
	delete(e.bids, order.ID)
	if e.store != nil {
		if err := e.store.DeleteBid(order.ID); err != nil {
			e.log.Error("delete bid from store", zap.Stringer("order", order.ID), zap.Error(err))
		}
	}
	if !e.bidSide(order.Asset).remove(order.Price, order.ID) {
		return fmt.Errorf("%w: bid %s at price %d", ErrBookCorrupted, order.ID, order.Price)
	}
	return nil
}

func (e *Exchange) persistAsk(order *AskOrder) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveAsk(order); err != nil {
		e.log.Error("persist ask", zap.Stringer("order", order.ID), zap.Error(err))
	}
}

func (e *Exchange) persistBid(order *BidOrder) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveBid(order); err != nil {
		e.log.Error("persist bid", zap.Stringer("order", order.ID), zap.Error(err))
	}
}

// Restore re-seats persisted orders after a restart. Orders are re-added
// in creation order so time priority within a level survives the restart.
// No matching runs and no events are emitted; the orders were already
// open when they were saved.
func (e *Exchange) Restore(asks []AskOrder, bids []BidOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sort.Slice(asks, func(i, j int) bool { return asks[i].CreatedAt < asks[j].CreatedAt })
	sort.Slice(bids, func(i, j int) bool { return bids[i].CreatedAt < bids[j].CreatedAt })

	for i := range asks {
		order := asks[i]
		e.asks[order.ID] = &order
		e.askSide(order.Asset).add(order.Price, order.ID)
	}
	for i := range bids {
		order := bids[i]
		e.bids[order.ID] = &order
		e.bidSide(order.Asset).add(order.Price, order.ID)
	}
}

// Ask returns a copy of a resting ask order.
func (e *Exchange) Ask(id core.OrderID) (AskOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.asks[id]
	if !ok {
		return AskOrder{}, false
	}
	cp := *order
	cp.BindTokens = append([]core.TokenID(nil), order.BindTokens...)
	return cp, true
}

// Bid returns a copy of a resting bid order.
func (e *Exchange) Bid(id core.OrderID) (BidOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.bids[id]
	if !ok {
		return BidOrder{}, false
	}
	return *order, true
}

// AskLevels returns the ask book of an asset, best (lowest) price first.
func (e *Exchange) AskLevels(asset core.AssetID) []Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.askBook[asset]
	if !ok {
		return nil
	}
	return b.all()
}

// BidLevels returns the bid book of an asset, best (highest) price first.
func (e *Exchange) BidLevels(asset core.AssetID) []Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bidBook[asset]
	if !ok {
		return nil
	}
	levels := b.all()
	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}
	return levels
}
