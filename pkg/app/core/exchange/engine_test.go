package exchange_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	core "github.com/openloot/openloot/pkg/app/core"
	"github.com/openloot/openloot/pkg/app/core/assets"
	"github.com/openloot/openloot/pkg/app/core/attr"
	"github.com/openloot/openloot/pkg/app/core/events"
	"github.com/openloot/openloot/pkg/app/core/exchange"
	"github.com/openloot/openloot/pkg/app/core/nft"
	"github.com/openloot/openloot/pkg/app/core/selector"
)

const usd core.AssetID = 1

var (
	alice = core.AccountID{0x01} // issuer and seller
	bob   = core.AccountID{0x02} // buyer
	carol = core.AccountID{0x03}
)

// recorder captures every emitted event in order.
type recorder struct {
	mu   sync.Mutex
	list []events.Event
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	r.list = append(r.list, e)
	r.mu.Unlock()
}

// orderEvents returns the names of order lifecycle events, in order.
func (r *recorder) orderEvents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.list {
		if strings.HasPrefix(e.Name(), "order_") {
			out = append(out, e.Name())
		}
	}
	return out
}

// stepClock hands out strictly increasing timestamps so order ids never
// collide within a test.
type stepClock struct {
	now int64
}

func (c *stepClock) Now() time.Time {
	c.now += 7
	return time.UnixMilli(c.now)
}

func (c *stepClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type env struct {
	tokens     *nft.Ledger
	funds      *assets.Ledger
	attrs      *attr.Store
	ex         *exchange.Exchange
	rec        *recorder
	collection core.CollectionID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	rec := &recorder{}
	tokens := nft.NewLedger(rec)
	funds := assets.NewLedger()
	attrs := attr.NewStore(tokens)

	ex := exchange.New(tokens, funds, attrs, exchange.Options{
		Emitter: rec,
		Clock:   &stepClock{},
	})

	collection, err := tokens.CreateCollection(alice, "LOOT", 1000)
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if err := funds.Mint(usd, bob, 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return &env{tokens: tokens, funds: funds, attrs: attrs, ex: ex, rec: rec, collection: collection}
}

// mint issues a token to alice and writes its attributes.
func (e *env) mint(t *testing.T, attrMap attr.Map) core.TokenID {
	t.Helper()
	tok, err := e.tokens.IssueToken(alice, e.collection, "SWORD")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for k, v := range attrMap {
		if err := e.attrs.Set(alice, tok, k, v); err != nil {
			t.Fatalf("set attr: %v", err)
		}
	}
	return tok
}

func idsSel(collection core.CollectionID, ids ...core.TokenID) selector.TokenSelector {
	return selector.TokenSelector{
		Collection: collection,
		Selector:   selector.IDSelector{IDs: ids},
	}
}

func attrsSel(collection core.CollectionID, maxCount uint32, stack ...selector.Item) selector.TokenSelector {
	return selector.TokenSelector{
		Collection: collection,
		Selector:   selector.AttrSelector{MaxCount: maxCount, Stack: stack},
	}
}

func cond(op selector.CompareOp, key string, v attr.Value) selector.Item {
	return selector.Cond(selector.Expression{Op: op, Key: key, Value: v})
}

func TestAskThenBidFillsBoth(t *testing.T) {
	e := newEnv(t)
	t1 := e.mint(t, attr.Map{"level": attr.Uint64(5)})
	t2 := e.mint(t, attr.Map{"level": attr.Uint64(9)})

	askID, err := e.ex.CreateAsk(alice, idsSel(e.collection, t1, t2), usd, 100, false)
	if err != nil {
		t.Fatalf("create ask: %v", err)
	}
	ask, ok := e.ex.Ask(askID)
	if !ok || ask.Status != exchange.Open || len(ask.BindTokens) != 2 {
		t.Fatalf("resting ask = %+v, %v", ask, ok)
	}
	if !e.tokens.IsReserved(t1) || !e.tokens.IsReserved(t2) {
		t.Fatal("bound tokens not reserved")
	}

	_, err = e.ex.CreateBid(bob, attrsSel(e.collection, 2), usd, 100, false)
	if err != nil {
		t.Fatalf("create bid: %v", err)
	}

	for _, tok := range []core.TokenID{t1, t2} {
		if owner, _ := e.tokens.OwnerOf(tok); owner != bob {
			t.Errorf("token %s owner = %s, want buyer", tok, owner)
		}
		if e.tokens.IsReserved(tok) {
			t.Errorf("token %s still reserved after settlement", tok)
		}
	}
	if got := e.funds.FreeBalance(usd, alice); got != 200 {
		t.Errorf("seller free = %d, want 200", got)
	}
	if free, res := e.funds.FreeBalance(usd, bob), e.funds.ReservedBalance(usd, bob); free != 800 || res != 0 {
		t.Errorf("buyer free/reserved = %d/%d, want 800/0", free, res)
	}
	if _, ok := e.ex.Ask(askID); ok {
		t.Error("filled ask still resting")
	}
	if levels := e.ex.AskLevels(usd); len(levels) != 0 {
		t.Errorf("ask book = %v, want empty", levels)
	}

	want := []string{"order_opened", "order_opened", "order_filled", "order_filled", "order_closed"}
	got := e.rec.orderEvents()
	if len(got) != len(want) {
		t.Fatalf("order events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order events = %v, want %v", got, want)
		}
	}
}

func TestBidThenAskRoundTrip(t *testing.T) {
	e := newEnv(t)
	tok := e.mint(t, attr.Map{"level": attr.Uint64(5)})

	bidID, err := e.ex.CreateBid(bob, attrsSel(e.collection, 1), usd, 100, false)
	if err != nil {
		t.Fatalf("create bid: %v", err)
	}
	if res := e.funds.ReservedBalance(usd, bob); res != 100 {
		t.Fatalf("buyer reserved = %d, want 100", res)
	}

	// the incoming ask crosses and settles at the resting bid's price
	_, err = e.ex.CreateAsk(alice, idsSel(e.collection, tok), usd, 60, false)
	if err != nil {
		t.Fatalf("create ask: %v", err)
	}

	if owner, _ := e.tokens.OwnerOf(tok); owner != bob {
		t.Errorf("owner = %s, want buyer", owner)
	}
	if got := e.funds.FreeBalance(usd, alice); got != 100 {
		t.Errorf("seller free = %d, want 100 (maker price)", got)
	}
	if _, ok := e.ex.Bid(bidID); ok {
		t.Error("filled bid still resting")
	}
	if levels := e.ex.BidLevels(usd); len(levels) != 0 {
		t.Errorf("bid book = %v, want empty", levels)
	}
}

func TestPricePriorityBestAskFirst(t *testing.T) {
	e := newEnv(t)
	expensive := e.mint(t, nil)
	cheap := e.mint(t, nil)

	if _, err := e.ex.CreateAsk(alice, idsSel(e.collection, expensive), usd, 100, false); err != nil {
		t.Fatalf("ask 100: %v", err)
	}
	cheapAsk, err := e.ex.CreateAsk(alice, idsSel(e.collection, cheap), usd, 60, false)
	if err != nil {
		t.Fatalf("ask 60: %v", err)
	}

	if _, err := e.ex.CreateBid(bob, attrsSel(e.collection, 1), usd, 100, false); err != nil {
		t.Fatalf("bid: %v", err)
	}

	// a single-unit bid takes the cheaper level first
	if owner, _ := e.tokens.OwnerOf(cheap); owner != bob {
		t.Error("cheap token did not fill first")
	}
	if owner, _ := e.tokens.OwnerOf(expensive); owner != alice {
		t.Error("expensive token filled despite a better level")
	}
	if _, ok := e.ex.Ask(cheapAsk); ok {
		t.Error("cheap ask still resting")
	}

	// the bid reserved 2x100 and released the maker prices plus the
	// untraded remainder; the spread between its limit and the maker
	// price stays reserved
	if res := e.funds.ReservedBalance(usd, bob); res != 40 {
		t.Errorf("buyer reserved = %d, want 40", res)
	}
}

func TestTimePriorityWithinLevel(t *testing.T) {
	e := newEnv(t)
	first := e.mint(t, nil)
	second := e.mint(t, nil)

	firstAsk, err := e.ex.CreateAsk(alice, idsSel(e.collection, first), usd, 100, false)
	if err != nil {
		t.Fatalf("first ask: %v", err)
	}
	secondAsk, err := e.ex.CreateAsk(alice, idsSel(e.collection, second), usd, 100, false)
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}

	if _, err := e.ex.CreateBid(bob, attrsSel(e.collection, 1), usd, 100, false); err != nil {
		t.Fatalf("bid: %v", err)
	}

	if _, ok := e.ex.Ask(firstAsk); ok {
		t.Error("earlier ask skipped")
	}
	if _, ok := e.ex.Ask(secondAsk); !ok {
		t.Error("later ask consumed out of turn")
	}
	if owner, _ := e.tokens.OwnerOf(first); owner != bob {
		t.Error("earlier ask's token did not trade")
	}
}

func TestPartialFillBidRests(t *testing.T) {
	e := newEnv(t)
	tok := e.mint(t, nil)

	if _, err := e.ex.CreateAsk(alice, idsSel(e.collection, tok), usd, 100, false); err != nil {
		t.Fatalf("ask: %v", err)
	}
	bidID, err := e.ex.CreateBid(bob, attrsSel(e.collection, 2), usd, 100, false)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}

	bid, ok := e.ex.Bid(bidID)
	if !ok {
		t.Fatal("partially filled bid must rest")
	}
	if bid.Status != exchange.PartialFilled || bid.CountToBuy != 1 {
		t.Errorf("bid = status %v count %d, want partial_filled/1", bid.Status, bid.CountToBuy)
	}
	if levels := e.ex.BidLevels(usd); len(levels) != 1 || levels[0].Price != 100 {
		t.Errorf("bid book = %v", levels)
	}
}

func TestFillOrKillBidDoesNotRest(t *testing.T) {
	e := newEnv(t)

	bidID, err := e.ex.CreateBid(bob, attrsSel(e.collection, 2), usd, 100, true)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, ok := e.ex.Bid(bidID); ok {
		t.Error("fill-or-kill bid rested")
	}
	if free, res := e.funds.FreeBalance(usd, bob), e.funds.ReservedBalance(usd, bob); free != 1000 || res != 0 {
		t.Errorf("buyer free/reserved = %d/%d, want 1000/0", free, res)
	}
}

func TestFillOrKillAskReleasesTokens(t *testing.T) {
	e := newEnv(t)
	tok := e.mint(t, nil)

	askID, err := e.ex.CreateAsk(alice, idsSel(e.collection, tok), usd, 100, true)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if _, ok := e.ex.Ask(askID); ok {
		t.Error("fill-or-kill ask rested")
	}
	if e.tokens.IsReserved(tok) {
		t.Error("token still reserved after fill-or-kill miss")
	}

	want := []string{"order_opened", "order_closed"}
	got := e.rec.orderEvents()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("order events = %v, want %v", got, want)
	}
}

func TestCancelAsk(t *testing.T) {
	e := newEnv(t)
	tok := e.mint(t, nil)

	askID, err := e.ex.CreateAsk(alice, idsSel(e.collection, tok), usd, 100, false)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	if err := e.ex.CancelAsk(bob, askID); !errors.Is(err, exchange.ErrNotOrderOwner) {
		t.Errorf("cancel by stranger: got %v, want %v", err, exchange.ErrNotOrderOwner)
	}
	if err := e.ex.CancelAsk(alice, askID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := e.ex.Ask(askID); ok {
		t.Error("canceled ask still resting")
	}
	if levels := e.ex.AskLevels(usd); len(levels) != 0 {
		t.Errorf("ask book = %v, want empty", levels)
	}
	// cancellation withdraws the order but never touches reservations
	if !e.tokens.IsReserved(tok) {
		t.Error("cancellation released the token reservation")
	}

	if err := e.ex.CancelAsk(alice, askID); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Errorf("double cancel: got %v, want %v", err, exchange.ErrOrderNotFound)
	}
}

func TestCancelBid(t *testing.T) {
	e := newEnv(t)

	bidID, err := e.ex.CreateBid(bob, attrsSel(e.collection, 1), usd, 100, false)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := e.ex.CancelBid(bob, bidID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := e.ex.Bid(bidID); ok {
		t.Error("canceled bid still resting")
	}
	// the reserved payment stays put, mirroring ask cancellation
	if res := e.funds.ReservedBalance(usd, bob); res != 100 {
		t.Errorf("buyer reserved = %d, want 100", res)
	}
	if err := e.ex.CancelBid(bob, bidID); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Errorf("double cancel: got %v, want %v", err, exchange.ErrOrderNotFound)
	}
}

func TestAskSelectorMatchesNothing(t *testing.T) {
	e := newEnv(t)
	e.mint(t, attr.Map{"rarity": attr.String("common")})

	sel := attrsSel(e.collection, 1, cond(selector.CmpEq, "rarity", attr.String("epic")))
	if _, err := e.ex.CreateAsk(alice, sel, usd, 100, false); !errors.Is(err, exchange.ErrNoTokensSelected) {
		t.Errorf("got %v, want %v", err, exchange.ErrNoTokensSelected)
	}
}

func TestAskSelectorCapacity(t *testing.T) {
	e := newEnv(t)
	e.mint(t, attr.Map{"rarity": attr.String("epic")})
	e.mint(t, attr.Map{"rarity": attr.String("epic")})

	sel := attrsSel(e.collection, 1, cond(selector.CmpEq, "rarity", attr.String("epic")))
	if _, err := e.ex.CreateAsk(alice, sel, usd, 100, false); !errors.Is(err, exchange.ErrSelectorCapacity) {
		t.Errorf("got %v, want %v", err, exchange.ErrSelectorCapacity)
	}
}

func TestReservedTokensNotRebindable(t *testing.T) {
	e := newEnv(t)
	tok := e.mint(t, nil)

	if _, err := e.ex.CreateAsk(alice, idsSel(e.collection, tok), usd, 100, false); err != nil {
		t.Fatalf("first ask: %v", err)
	}
	// the token is reserved by the first ask, so a second ask sees nothing
	if _, err := e.ex.CreateAsk(alice, idsSel(e.collection, tok), usd, 90, false); !errors.Is(err, exchange.ErrNoTokensSelected) {
		t.Errorf("got %v, want %v", err, exchange.ErrNoTokensSelected)
	}
}

func TestAttributeFilterBindsSubset(t *testing.T) {
	e := newEnv(t)
	young1 := e.mint(t, attr.Map{"age": attr.Uint64(10)})
	young2 := e.mint(t, attr.Map{"age": attr.Uint64(25)})
	old := e.mint(t, attr.Map{"age": attr.Uint64(40)})

	sel := attrsSel(e.collection, 3, cond(selector.CmpLt, "age", attr.Uint64(30)))
	askID, err := e.ex.CreateAsk(alice, sel, usd, 100, false)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	ask, _ := e.ex.Ask(askID)
	if len(ask.BindTokens) != 2 {
		t.Fatalf("bound %d tokens, want 2", len(ask.BindTokens))
	}
	bound := map[core.TokenID]bool{}
	for _, tok := range ask.BindTokens {
		bound[tok] = true
	}
	if !bound[young1] || !bound[young2] || bound[old] {
		t.Errorf("bound set = %v", ask.BindTokens)
	}
	if e.tokens.IsReserved(old) {
		t.Error("unselected token reserved")
	}
}

func TestBlacklistedBuyerCannotFill(t *testing.T) {
	e := newEnv(t)
	tok := e.mint(t, nil)

	if _, err := e.ex.CreateAsk(alice, idsSel(e.collection, tok), usd, 100, false); err != nil {
		t.Fatalf("ask: %v", err)
	}
	opts := nft.CollectionOptions{
		MaxSupply:   1000,
		Permissions: []nft.Permission{{Type: nft.PermissionBlack, Account: bob}},
	}
	if err := e.tokens.UpdateCollection(alice, e.collection, nil, &opts); err != nil {
		t.Fatalf("update collection: %v", err)
	}

	bidID, err := e.ex.CreateBid(bob, attrsSel(e.collection, 1), usd, 100, false)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}

	// the crossing candidate is rejected during settlement checks, the
	// bid rests untouched and the token stays with the seller
	if owner, _ := e.tokens.OwnerOf(tok); owner != alice {
		t.Error("token moved to a blacklisted account")
	}
	bid, ok := e.ex.Bid(bidID)
	if !ok || bid.Status != exchange.Open || bid.CountToBuy != 1 {
		t.Errorf("bid = %+v, %v, want untouched resting bid", bid, ok)
	}
}

func TestInvalidSelectorsRejected(t *testing.T) {
	e := newEnv(t)
	e.mint(t, nil)

	xor := attrsSel(e.collection, 1,
		selector.Op(selector.LogicXor),
		cond(selector.CmpEq, "a", attr.Uint64(1)),
		cond(selector.CmpEq, "b", attr.Uint64(2)),
	)
	if _, err := e.ex.CreateBid(bob, xor, usd, 100, false); !errors.Is(err, selector.ErrUnsupportedOperator) {
		t.Errorf("xor bid: got %v, want %v", err, selector.ErrUnsupportedOperator)
	}
	if _, err := e.ex.CreateAsk(alice, idsSel(e.collection), usd, 100, false); !errors.Is(err, selector.ErrEmptyIDSet) {
		t.Errorf("empty id set: got %v, want %v", err, selector.ErrEmptyIDSet)
	}
}

func TestBidInsufficientFunds(t *testing.T) {
	e := newEnv(t)
	if _, err := e.ex.CreateBid(bob, attrsSel(e.collection, 5), usd, 500, false); !errors.Is(err, assets.ErrInsufficientBalance) {
		t.Errorf("got %v, want %v", err, assets.ErrInsufficientBalance)
	}
}

func TestRestoreRebuildsBooks(t *testing.T) {
	e := newEnv(t)
	tok := e.mint(t, nil)

	askID, err := e.ex.CreateAsk(alice, idsSel(e.collection, tok), usd, 100, false)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	bidID, err := e.ex.CreateBid(bob, attrsSel(e.collection, 1), usd, 60, false)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	ask, _ := e.ex.Ask(askID)
	bid, _ := e.ex.Bid(bidID)

	// a fresh engine over the same ledgers, as after a process restart
	restarted := exchange.New(e.tokens, e.funds, e.attrs, exchange.Options{Clock: &stepClock{}})
	restarted.Restore([]exchange.AskOrder{ask}, []exchange.BidOrder{bid})

	if got, ok := restarted.Ask(askID); !ok || got.Price != 100 || len(got.BindTokens) != 1 {
		t.Errorf("restored ask = %+v, %v", got, ok)
	}
	if got, ok := restarted.Bid(bidID); !ok || got.CountToBuy != 1 {
		t.Errorf("restored bid = %+v, %v", got, ok)
	}
	if levels := restarted.AskLevels(usd); len(levels) != 1 || levels[0].Price != 100 {
		t.Errorf("restored ask book = %v", levels)
	}
	if levels := restarted.BidLevels(usd); len(levels) != 1 || levels[0].Price != 60 {
		t.Errorf("restored bid book = %v", levels)
	}

	// restored liquidity is live: a crossing bid fills against it
	if _, err := restarted.CreateBid(bob, attrsSel(e.collection, 1), usd, 100, false); err != nil {
		t.Fatalf("bid against restored book: %v", err)
	}
	if owner, _ := e.tokens.OwnerOf(tok); owner != bob {
		t.Error("restored ask did not trade")
	}
}

func TestThirdPartyCannotCancel(t *testing.T) {
	e := newEnv(t)
	bidID, err := e.ex.CreateBid(bob, attrsSel(e.collection, 1), usd, 100, false)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := e.ex.CancelBid(carol, bidID); !errors.Is(err, exchange.ErrNotOrderOwner) {
		t.Errorf("got %v, want %v", err, exchange.ErrNotOrderOwner)
	}
}
