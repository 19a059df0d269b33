package attr

import (
	"errors"
	"sync"

	core "github.com/openloot/openloot/pkg/app/core"
)

var (
	ErrTokenNotFound     = errors.New("attr: token has no owner")
	ErrNotOwner          = errors.New("attr: caller is not the token owner")
	ErrAttributeNotFound = errors.New("attr: attribute key not found")
)

// OwnerLookup is the slice of the ownership ledger the store needs for
// authorization checks.
type OwnerLookup interface {
	OwnerOf(token core.TokenID) (core.AccountID, bool)
}

// Persister mirrors attribute writes to durable storage. Errors are
// surfaced to the caller; the in-memory map stays authoritative.
type Persister interface {
	SaveAttributes(token core.TokenID, m Map) error
	DeleteAttributes(token core.TokenID) error
}

// Store keeps the attribute map of every token. Writes are owner-gated;
// reads hand out copies so callers never alias live state.
type Store struct {
	mu      sync.RWMutex
	attrs   map[core.TokenID]Map
	owners  OwnerLookup
	persist Persister
}

func NewStore(owners OwnerLookup) *Store {
	return &Store{
		attrs:  make(map[core.TokenID]Map),
		owners: owners,
	}
}

// SetPersister attaches durable storage. Call before serving writes.
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	s.persist = p
	s.mu.Unlock()
}

// Restore seeds the in-memory maps from persisted state, replacing any
// existing entries for the same tokens.
func (s *Store) Restore(saved map[core.TokenID]Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, m := range saved {
		s.attrs[token] = m.Clone()
	}
}

// Set writes one attribute on a token. The caller must be the current owner.
func (s *Store) Set(caller core.AccountID, token core.TokenID, key string, value Value) error {
	owner, ok := s.owners.OwnerOf(token)
	if !ok {
		return ErrTokenNotFound
	}
	if owner != caller {
		return ErrNotOwner
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.attrs[token]
	if m == nil {
		m = make(Map)
		s.attrs[token] = m
	}
	m[key] = value
	if s.persist != nil {
		return s.persist.SaveAttributes(token, m)
	}
	return nil
}

// Remove deletes one attribute key from a token.
func (s *Store) Remove(caller core.AccountID, token core.TokenID, key string) error {
	owner, ok := s.owners.OwnerOf(token)
	if !ok {
		return ErrTokenNotFound
	}
	if owner != caller {
		return ErrNotOwner
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.attrs[token]
	if _, exists := m[key]; !exists {
		return ErrAttributeNotFound
	}
	delete(m, key)
	if s.persist != nil {
		return s.persist.SaveAttributes(token, m)
	}
	return nil
}

// Attributes returns a copy of the token's attribute map. Missing tokens
// yield an empty map, matching the match-against-empty semantics of the
// selector engine.
func (s *Store) Attributes(token core.TokenID) Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.attrs[token]
	if m == nil {
		return Map{}
	}
	return m.Clone()
}

// Drop removes every attribute of a token. Called when the token is burned.
func (s *Store) Drop(token core.TokenID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attrs, token)
	if s.persist != nil {
		_ = s.persist.DeleteAttributes(token)
	}
}
