package nft

import (
	"errors"
	"fmt"
	"sync"

	core "github.com/openloot/openloot/pkg/app/core"
	"github.com/openloot/openloot/pkg/app/core/events"
)

var (
	ErrTokenNotFound      = errors.New("nft: token not found")
	ErrCollectionNotFound = errors.New("nft: collection not found")
	ErrCollectionExists   = errors.New("nft: collection id conflicts")
	ErrTokenExists        = errors.New("nft: token id already exists")
	ErrNotOwner           = errors.New("nft: account does not own this token")
	ErrNotIssuer          = errors.New("nft: account is not the collection issuer")
	ErrNotAuthorized      = errors.New("nft: account is neither owner nor approved")
	ErrAlreadyReserved    = errors.New("nft: token already reserved")
	ErrNotReserved        = errors.New("nft: token already unreserved")
	ErrTokenReserved      = errors.New("nft: token reserved, transfer forbidden")
	ErrBlacklisted        = errors.New("nft: collection blacklist contains receiving account")
	ErrMaxSupplyReached   = errors.New("nft: issuing exceeds collection max supply")
	ErrSupplyOverflow     = errors.New("nft: supply counter overflow")
	ErrSelfApproval       = errors.New("nft: owner is implicitly approved")
	ErrNoUpdate           = errors.New("nft: neither issuer nor options updated")
)

// Ledger holds collections, tokens, ownership, enumeration indices,
// approvals and reservation flags. One RWMutex guards the whole ledger so
// every operation observes a consistent snapshot.
type Ledger struct {
	mu sync.RWMutex

	collections     map[core.CollectionID]*Collection
	collectionIndex []core.CollectionID
	tokens          map[core.TokenID]Token
	perms           map[permKey]bool

	owners     map[core.TokenID]core.AccountID
	owned      map[core.AccountID][]core.TokenID
	ownedIndex map[core.TokenID]int
	allTokens  []core.TokenID
	allIndex   map[core.TokenID]int

	approvals map[core.TokenID]core.AccountID
	operators map[[2]core.AccountID]bool // [owner, operator]

	reserved map[core.TokenID]bool

	emitter events.Emitter
}

func NewLedger(emitter events.Emitter) *Ledger {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Ledger{
		collections: make(map[core.CollectionID]*Collection),
		tokens:      make(map[core.TokenID]Token),
		perms:       make(map[permKey]bool),
		owners:      make(map[core.TokenID]core.AccountID),
		owned:       make(map[core.AccountID][]core.TokenID),
		ownedIndex:  make(map[core.TokenID]int),
		allIndex:    make(map[core.TokenID]int),
		approvals:   make(map[core.TokenID]core.AccountID),
		operators:   make(map[[2]core.AccountID]bool),
		reserved:    make(map[core.TokenID]bool),
		emitter:     emitter,
	}
}

// CreateCollection registers a new collection with an empty permission list.
func (l *Ledger) CreateCollection(issuer core.AccountID, symbol string, maxSupply core.Balance) (core.CollectionID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := core.Digest(issuer, uint64(len(l.collectionIndex)))
	if _, exists := l.collections[id]; exists {
		return core.CollectionID{}, ErrCollectionExists
	}
	c := &Collection{
		ID:     id,
		Symbol: symbol,
		Issuer: issuer,
		Options: CollectionOptions{
			MaxSupply: maxSupply,
		},
	}
	l.collections[id] = c
	l.collectionIndex = append(l.collectionIndex, id)

	l.emitter.Emit(events.CollectionCreated{Issuer: issuer, Collection: id})
	return id, nil
}

// UpdateCollection replaces the issuer and/or options of a collection. At
// least one of the two must be supplied. A new option list reapplies the
// permission entries.
func (l *Ledger) UpdateCollection(caller core.AccountID, id core.CollectionID, newIssuer *core.AccountID, newOptions *CollectionOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.collections[id]
	if !ok {
		return ErrCollectionNotFound
	}
	if c.Issuer != caller {
		return ErrNotIssuer
	}
	if newIssuer == nil && newOptions == nil {
		return ErrNoUpdate
	}
	if newOptions != nil {
		c.Options = *newOptions
		l.applyPermissions(c)
	}
	if newIssuer != nil {
		c.Issuer = *newIssuer
	}

	l.emitter.Emit(events.CollectionUpdated{Issuer: caller, Collection: id})
	return nil
}

// IssueToken mints a new token of a collection to its issuer.
func (l *Ledger) IssueToken(issuer core.AccountID, collection core.CollectionID, symbol string) (core.TokenID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.collections[collection]
	if !ok {
		return core.TokenID{}, ErrCollectionNotFound
	}
	if c.Issuer != issuer {
		return core.TokenID{}, ErrNotIssuer
	}
	newCount := c.issuedCount + 1
	if newCount == 0 {
		return core.TokenID{}, ErrSupplyOverflow
	}
	id := core.Digest(issuer, newCount, collection)
	if _, exists := l.owners[id]; exists {
		return core.TokenID{}, ErrTokenExists
	}
	newSupply := c.TotalSupply + 1
	if newSupply >= c.Options.MaxSupply {
		return core.TokenID{}, ErrMaxSupplyReached
	}

	c.TotalSupply = newSupply
	c.issuedCount = newCount
	l.tokens[id] = Token{ID: id, Symbol: symbol, Collection: collection}
	l.reserved[id] = false
	l.mintLocked(issuer, id)

	l.emitter.Emit(events.TokenIssued{Issuer: issuer, TokenID: id, Collection: collection})
	return id, nil
}

// DestroyToken burns a token. Only the current owner may destroy it.
func (l *Ledger) DestroyToken(caller core.AccountID, token core.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok := l.owners[token]
	if !ok {
		return ErrTokenNotFound
	}
	if owner != caller {
		return ErrNotOwner
	}
	rec, ok := l.tokens[token]
	if !ok {
		return ErrTokenNotFound
	}
	c, ok := l.collections[rec.Collection]
	if !ok {
		return ErrCollectionNotFound
	}
	if c.TotalSupply == 0 {
		return ErrSupplyOverflow
	}
	c.TotalSupply--

	delete(l.reserved, token)
	delete(l.tokens, token)
	l.burnLocked(owner, token)

	l.emitter.Emit(events.TokenDestroyed{Owner: caller, TokenID: token})
	return nil
}

// OwnerOf returns the current owner of a token.
func (l *Ledger) OwnerOf(token core.TokenID) (core.AccountID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owner, ok := l.owners[token]
	return owner, ok
}

// BalanceOf returns how many tokens an account owns.
func (l *Ledger) BalanceOf(account core.AccountID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.owned[account]))
}

// TokenOfOwnerByIndex returns the token at an enumeration index of an
// account, or the zero id when the index is out of range.
func (l *Ledger) TokenOfOwnerByIndex(account core.AccountID, index uint64) core.TokenID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owned := l.owned[account]
	if index >= uint64(len(owned)) {
		return core.TokenID{}
	}
	return owned[index]
}

// Token returns the token record.
func (l *Ledger) Token(token core.TokenID) (Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.tokens[token]
	return rec, ok
}

// CollectionMeta returns a copy of the collection metadata.
func (l *Ledger) CollectionMeta(id core.CollectionID) (Collection, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.collections[id]
	if !ok {
		return Collection{}, false
	}
	return *c, true
}

// CollectionByIndex returns the id of the n-th created collection.
func (l *Ledger) CollectionByIndex(index uint64) (core.CollectionID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.collectionIndex)) {
		return core.CollectionID{}, false
	}
	return l.collectionIndex[index], true
}

// Approve grants one account transfer rights over one token.
func (l *Ledger) Approve(caller, to core.AccountID, token core.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok := l.owners[token]
	if !ok {
		return ErrTokenNotFound
	}
	if to == owner {
		return ErrSelfApproval
	}
	if caller != owner && !l.operators[[2]core.AccountID{owner, caller}] {
		return ErrNotAuthorized
	}
	l.approvals[token] = to

	l.emitter.Emit(events.Approval{Owner: owner, Approved: to, TokenID: token})
	return nil
}

// SetApprovalForAll grants or revokes operator rights over every token of
// the caller.
func (l *Ledger) SetApprovalForAll(caller, operator core.AccountID, approved bool) error {
	if operator == caller {
		return ErrSelfApproval
	}
	l.mu.Lock()
	l.operators[[2]core.AccountID{caller, operator}] = approved
	l.mu.Unlock()

	l.emitter.Emit(events.ApprovalForAll{Owner: caller, Operator: operator, Approved: approved})
	return nil
}

// IsApprovedOrOwner reports whether spender may move the token: owner,
// per-token approvee, or operator of the owner.
func (l *Ledger) IsApprovedOrOwner(spender core.AccountID, token core.TokenID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isApprovedOrOwnerLocked(spender, token)
}

func (l *Ledger) isApprovedOrOwnerLocked(spender core.AccountID, token core.TokenID) bool {
	owner, ok := l.owners[token]
	if !ok {
		return false
	}
	if owner == spender {
		return true
	}
	if approved, ok := l.approvals[token]; ok && approved == spender {
		return true
	}
	return l.operators[[2]core.AccountID{owner, spender}]
}

// Transfer moves a token after an approval check on the caller. The
// reservation flag is not consulted here; use ReserveSafeTransfer for
// exchange settlement.
func (l *Ledger) Transfer(caller, from, to core.AccountID, token core.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isApprovedOrOwnerLocked(caller, token) {
		return ErrNotAuthorized
	}
	return l.transferLocked(from, to, token)
}

// Reserve flags a token non-transferable on behalf of its owner.
func (l *Ledger) Reserve(owner core.AccountID, token core.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.owners[token]
	if !ok {
		return ErrTokenNotFound
	}
	if current != owner {
		return ErrNotOwner
	}
	if l.reserved[token] {
		return ErrAlreadyReserved
	}
	l.reserved[token] = true
	return nil
}

// Unreserve clears a token's reservation flag on behalf of its owner.
func (l *Ledger) Unreserve(owner core.AccountID, token core.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.owners[token]
	if !ok {
		return ErrTokenNotFound
	}
	if current != owner {
		return ErrNotOwner
	}
	if !l.reserved[token] {
		return ErrNotReserved
	}
	l.reserved[token] = false
	return nil
}

// IsReserved reports the reservation flag of a token.
func (l *Ledger) IsReserved(token core.TokenID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reserved[token]
}

// Allowed reports whether an account may receive tokens of a collection
// under its permission rules. Accounts without an entry are allowed.
func (l *Ledger) Allowed(collection core.CollectionID, account core.AccountID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowed(collection, account)
}

// ReserveSafeTransfer is the settlement transfer: the receiving account must
// not be blacklisted by the token's collection, the token must not be
// reserved, and from must be owner or approved.
func (l *Ledger) ReserveSafeTransfer(from, to core.AccountID, token core.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.tokens[token]
	if !ok {
		return ErrTokenNotFound
	}
	if !l.allowed(rec.Collection, to) {
		return ErrBlacklisted
	}
	if l.reserved[token] {
		return ErrTokenReserved
	}
	if !l.isApprovedOrOwnerLocked(from, token) {
		return ErrNotAuthorized
	}
	return l.transferLocked(from, to, token)
}

// mintLocked assigns a fresh token to an account and indexes it.
func (l *Ledger) mintLocked(to core.AccountID, token core.TokenID) {
	l.allIndex[token] = len(l.allTokens)
	l.allTokens = append(l.allTokens, token)
	l.addToOwnerLocked(to, token)
	l.owners[token] = to

	toCopy := to
	l.emitter.Emit(events.TokenTransferred{To: &toCopy, TokenID: token})
}

// burnLocked removes a token from its owner and the global enumeration.
func (l *Ledger) burnLocked(owner core.AccountID, token core.TokenID) {
	l.removeFromOwnerLocked(owner, token)
	l.removeFromAllLocked(token)
	delete(l.approvals, token)
	delete(l.owners, token)

	fromCopy := owner
	l.emitter.Emit(events.TokenTransferred{From: &fromCopy, TokenID: token})
}

func (l *Ledger) transferLocked(from, to core.AccountID, token core.TokenID) error {
	owner, ok := l.owners[token]
	if !ok {
		return ErrTokenNotFound
	}
	if owner != from {
		return fmt.Errorf("%w: transfer from %s", ErrNotOwner, from)
	}

	l.removeFromOwnerLocked(from, token)
	l.addToOwnerLocked(to, token)
	delete(l.approvals, token)
	l.owners[token] = to

	fromCopy, toCopy := from, to
	l.emitter.Emit(events.TokenTransferred{From: &fromCopy, To: &toCopy, TokenID: token})
	return nil
}

// addToOwnerLocked appends the token to the owner's enumeration.
func (l *Ledger) addToOwnerLocked(to core.AccountID, token core.TokenID) {
	l.ownedIndex[token] = len(l.owned[to])
	l.owned[to] = append(l.owned[to], token)
}

// removeFromOwnerLocked swap-removes the token from the owner's enumeration,
// keeping indices dense.
func (l *Ledger) removeFromOwnerLocked(from core.AccountID, token core.TokenID) {
	owned := l.owned[from]
	idx := l.ownedIndex[token]
	last := len(owned) - 1
	if idx != last {
		moved := owned[last]
		owned[idx] = moved
		l.ownedIndex[moved] = idx
	}
	l.owned[from] = owned[:last]
	delete(l.ownedIndex, token)
}

func (l *Ledger) removeFromAllLocked(token core.TokenID) {
	idx := l.allIndex[token]
	last := len(l.allTokens) - 1
	if idx != last {
		moved := l.allTokens[last]
		l.allTokens[idx] = moved
		l.allIndex[moved] = idx
	}
	l.allTokens = l.allTokens[:last]
	delete(l.allIndex, token)
}
