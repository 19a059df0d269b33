package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/openloot/openloot/pkg/app/core"
	"github.com/openloot/openloot/pkg/app/core/attr"
	"github.com/openloot/openloot/pkg/app/core/exchange"
)

// Key prefixes. Ids are 32-byte hashes, so prefix + id is a unique key.
const (
	prefixAsk  = "oa:"
	prefixBid  = "ob:"
	prefixAttr = "at:"
)

// Store persists open orders and token attribute maps in pebble.
// Values are JSON; the write volume here is tiny compared to matching,
// so readability wins over a binary codec.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		MemTableSize:                64 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       4,
		L0StopWritesThreshold:       12,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) set(prefix string, id core.OrderID, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s%x: %w", prefix, id, err)
	}
	return s.db.Set(key(prefix, id[:]), data, pebble.Sync)
}

func key(prefix string, id []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(id))
	k = append(k, prefix...)
	return append(k, id...)
}

// SaveAsk persists a sell order under its id.
func (s *Store) SaveAsk(o *exchange.AskOrder) error {
	return s.set(prefixAsk, o.ID, o)
}

// SaveBid persists a buy order under its id.
func (s *Store) SaveBid(o *exchange.BidOrder) error {
	return s.set(prefixBid, o.ID, o)
}

// DeleteAsk removes a sell order. Deleting a missing key is not an error.
func (s *Store) DeleteAsk(id core.OrderID) error {
	return s.db.Delete(key(prefixAsk, id[:]), pebble.Sync)
}

// DeleteBid removes a buy order.
func (s *Store) DeleteBid(id core.OrderID) error {
	return s.db.Delete(key(prefixBid, id[:]), pebble.Sync)
}

// LoadAsks returns every persisted sell order, for rebuilding the book
// after a restart.
func (s *Store) LoadAsks() ([]exchange.AskOrder, error) {
	var out []exchange.AskOrder
	err := s.scan(prefixAsk, func(data []byte) error {
		var o exchange.AskOrder
		if err := json.Unmarshal(data, &o); err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// LoadBids returns every persisted buy order.
func (s *Store) LoadBids() ([]exchange.BidOrder, error) {
	var out []exchange.BidOrder
	err := s.scan(prefixBid, func(data []byte) error {
		var o exchange.BidOrder
		if err := json.Unmarshal(data, &o); err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// SaveAttributes persists a token's attribute map. An empty map deletes the key.
func (s *Store) SaveAttributes(token core.TokenID, m attr.Map) error {
	if len(m) == 0 {
		return s.DeleteAttributes(token)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal attributes %x: %w", token, err)
	}
	return s.db.Set(key(prefixAttr, token[:]), data, pebble.Sync)
}

// DeleteAttributes removes a token's attribute map.
func (s *Store) DeleteAttributes(token core.TokenID) error {
	return s.db.Delete(key(prefixAttr, token[:]), pebble.Sync)
}

// LoadAttributes returns all persisted attribute maps keyed by token id.
func (s *Store) LoadAttributes() (map[core.TokenID]attr.Map, error) {
	out := make(map[core.TokenID]attr.Map)
	iter, err := s.db.NewIter(prefixBounds(prefixAttr))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if len(k) != len(prefixAttr)+32 {
			continue
		}
		var token core.TokenID
		copy(token[:], k[len(prefixAttr):])
		var m attr.Map
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("unmarshal attributes %x: %w", token, err)
		}
		out[token] = m
	}
	return out, iter.Error()
}

func (s *Store) scan(prefix string, fn func(data []byte) error) error {
	iter, err := s.db.NewIter(prefixBounds(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func prefixBounds(prefix string) *pebble.IterOptions {
	lower := []byte(prefix)
	upper := make([]byte, len(lower))
	copy(upper, lower)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}

var (
	_ exchange.OrderStore = (*Store)(nil)
	_ attr.Persister      = (*Store)(nil)
)
