// Package nft implements the token-ownership ledger: collections with
// supply caps and account permissions, per-token ownership and enumeration,
// approvals, reservation flags and the guarded transfer the exchange settles
// through.
package nft

import (
	core "github.com/openloot/openloot/pkg/app/core"
)

// PermissionType marks a permission entry as a blacklist or whitelist rule.
type PermissionType uint8

const (
	PermissionBlack PermissionType = iota
	PermissionWhite
)

// Permission grants or denies one account the right to receive tokens of a
// collection.
type Permission struct {
	Type    PermissionType `json:"type"`
	Account core.AccountID `json:"account"`
}

// CollectionOptions are the mutable settings of a collection.
type CollectionOptions struct {
	MaxSupply   core.Balance `json:"max_supply"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// Collection is the metadata of one token collection.
type Collection struct {
	ID          core.CollectionID `json:"id"`
	Symbol      string            `json:"symbol"`
	Issuer      core.AccountID    `json:"issuer"`
	TotalSupply core.Balance      `json:"total_supply"`
	Options     CollectionOptions `json:"options"`

	// issuedCount is the monotonic per-collection issue counter feeding the
	// token-id hash; it never decreases, unlike TotalSupply.
	issuedCount uint64
}

// Token is one non-fungible token record.
type Token struct {
	ID         core.TokenID      `json:"id"`
	Symbol     string            `json:"symbol"`
	Collection core.CollectionID `json:"collection"`
}

type permKey struct {
	collection core.CollectionID
	account    core.AccountID
}

// applyPermissions rewrites the per-account permission entries of a
// collection from its option list.
func (l *Ledger) applyPermissions(c *Collection) {
	for _, p := range c.Options.Permissions {
		l.perms[permKey{c.ID, p.Account}] = p.Type == PermissionWhite
	}
}

// allowed reports whether an account may receive tokens of a collection.
// Accounts without an entry are allowed.
func (l *Ledger) allowed(collection core.CollectionID, account core.AccountID) bool {
	ok, exists := l.perms[permKey{collection, account}]
	if !exists {
		return true
	}
	return ok
}
