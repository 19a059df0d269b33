// Package core defines the identifier and quantity types shared by the
// attribute store, the selector engine, the ledgers and the exchange.
package core

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AccountID is an EVM-style 20-byte account address.
type AccountID = common.Address

// TokenID, OrderID and CollectionID are 32-byte content hashes. They share
// one underlying type on purpose: ids are produced by the same keccak scheme
// and the zero value is never a valid id of any kind.
type (
	TokenID      = common.Hash
	OrderID      = common.Hash
	CollectionID = common.Hash
)

// AssetID names a fungible payment asset in the asset ledger.
type AssetID uint32

// Balance is an amount of a fungible asset or a token count. All arithmetic
// on balances is overflow-checked before commit.
type Balance uint64

// Digest hashes a sequence of id/scalar fields into a fresh 32-byte id.
// Fixed-width big-endian encoding keeps the scheme deterministic across
// platforms.
func Digest(fields ...any) common.Hash {
	var buf []byte
	for _, f := range fields {
		switch v := f.(type) {
		case common.Address:
			buf = append(buf, v.Bytes()...)
		case common.Hash:
			buf = append(buf, v.Bytes()...)
		case AssetID:
			buf = binary.BigEndian.AppendUint32(buf, uint32(v))
		case Balance:
			buf = binary.BigEndian.AppendUint64(buf, uint64(v))
		case uint32:
			buf = binary.BigEndian.AppendUint32(buf, v)
		case uint64:
			buf = binary.BigEndian.AppendUint64(buf, v)
		case int64:
			buf = binary.BigEndian.AppendUint64(buf, uint64(v))
		case bool:
			if v {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case []byte:
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
			buf = append(buf, v...)
		case string:
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
			buf = append(buf, v...)
		}
	}
	return crypto.Keccak256Hash(buf)
}
