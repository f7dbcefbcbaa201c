package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Side of a maker order. A Sell maker gives up items and receives currency;
// a Buy maker gives up currency and receives items.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// CriteriaKind says how an order constrains the collections a fulfillment
// may draw from. AnyCollection is a deliberate explicit variant rather than
// an empty Items slice so the two meanings can never be conflated.
type CriteriaKind uint8

const (
	// AnyCollection accepts any token from any collection; only the
	// aggregate unit count is checked.
	AnyCollection CriteriaKind = iota
	// CollectionList restricts fulfillments to the listed collections.
	CollectionList
)

// TokenKind says how a single collection entry constrains token ids.
type TokenKind uint8

const (
	// AnyToken accepts any token id from the collection.
	AnyToken TokenKind = iota
	// TokenList accepts only the explicitly listed token ids.
	TokenList
)

// TokenUnit is one token id together with the number of units it
// contributes. Units is 1 for unique items; the matcher treats it as an
// upper bound so a single item can never be counted twice.
type TokenUnit struct {
	TokenID uint64 `json:"tokenId"`
	Units   uint64 `json:"units"`
}

// ItemCriteria constrains one collection within an order.
type ItemCriteria struct {
	Collection common.Address `json:"collection"`
	Kind       TokenKind      `json:"kind"`
	Tokens     []TokenUnit    `json:"tokens,omitempty"` // set iff Kind == TokenList; unique ids
}

// Criteria is the order-level asset constraint: either "anything, anywhere"
// or an allow-list of per-collection constraints.
type Criteria struct {
	Kind  CriteriaKind   `json:"kind"`
	Items []ItemCriteria `json:"items,omitempty"` // set iff Kind == CollectionList
}

// ExecParams selects the matching policy and the settlement currency for an
// order. Currency == common.Address{} means the native currency.
type ExecParams struct {
	Complication common.Address `json:"complication"`
	Currency     common.Address `json:"currency"`
}

// Order is a maker's signed trade intent. Orders live off the ledger and are
// immutable once signed; only their nonce consumption state changes, and that
// is tracked by the nonce ledger, not the order itself.
type Order struct {
	// ID is keccak256(signer, nonce, chainId). Indexing only, never
	// authoritative: the digest binds the real fields.
	ID      common.Hash    `json:"id"`
	ChainID uint64         `json:"chainId"`
	Side    Side           `json:"side"`
	Signer  common.Address `json:"signer"`

	// NumItems is the exact total unit count any fulfillment must move.
	NumItems uint64 `json:"numItems"`

	// StartPrice/EndPrice are 18-decimal fixed point amounts. Either may
	// exceed the other; the schedule direction is whatever the maker signed.
	StartPrice *big.Int `json:"startPrice"`
	EndPrice   *big.Int `json:"endPrice"`
	StartTime  uint64   `json:"startTime"`
	EndTime    uint64   `json:"endTime"`

	// Nonce is unique per signer; consumed exactly once on settlement.
	Nonce uint64 `json:"nonce"`

	Criteria Criteria   `json:"criteria"`
	Exec     ExecParams `json:"execParams"`

	// Extra carries complication-specific parameters. Opaque to the engine.
	Extra []byte `json:"extra,omitempty"`

	// Sig is the maker's 65-byte [R || S || V] signature over Digest().
	Sig []byte `json:"sig,omitempty"`
}

// ItemFill names concrete tokens from one collection inside a fulfillment.
type ItemFill struct {
	Collection common.Address `json:"collection"`
	Tokens     []TokenUnit    `json:"tokens"`
}

// Fulfillment is the taker-proposed concrete set of items to move. It is not
// signed by the maker; the criteria matcher decides whether it satisfies the
// maker's order.
type Fulfillment []ItemFill

// NumUnits returns the total unit count across the fulfillment.
func (f Fulfillment) NumUnits() uint64 {
	var n uint64
	for _, item := range f {
		for _, tok := range item.Tokens {
			n += tok.Units
		}
	}
	return n
}

// OrderID derives the indexing id for (signer, nonce, chainId), mirroring
// solidityKeccak256(["address","uint256","uint256"], ...).
func OrderID(signer common.Address, nonce uint64, chainID uint64) common.Hash {
	buf := make([]byte, 0, 20+32+32)
	buf = append(buf, signer.Bytes()...)
	buf = append(buf, common.BigToHash(new(big.Int).SetUint64(nonce)).Bytes()...)
	buf = append(buf, common.BigToHash(new(big.Int).SetUint64(chainID)).Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// Validate checks the structural invariants that must hold for any order
// regardless of settlement context. Signature and nonce state are checked
// separately.
func (o *Order) Validate() error {
	if o.NumItems < 1 {
		return fmt.Errorf("order %s: numItems must be >= 1", o.ID)
	}
	if o.StartPrice == nil || o.EndPrice == nil {
		return fmt.Errorf("order %s: missing price", o.ID)
	}
	if o.StartPrice.Sign() < 0 || o.EndPrice.Sign() < 0 {
		return fmt.Errorf("order %s: negative price", o.ID)
	}
	if o.StartTime >= o.EndTime {
		return fmt.Errorf("order %s: startTime %d not before endTime %d", o.ID, o.StartTime, o.EndTime)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("order %s: invalid side %d", o.ID, o.Side)
	}
	if o.Criteria.Kind == CollectionList && len(o.Criteria.Items) == 0 {
		return fmt.Errorf("order %s: collection list criteria with no items", o.ID)
	}
	if o.Criteria.Kind == AnyCollection && len(o.Criteria.Items) != 0 {
		return fmt.Errorf("order %s: any-collection criteria must not list items", o.ID)
	}
	for _, item := range o.Criteria.Items {
		if item.Kind == TokenList && len(item.Tokens) == 0 {
			return fmt.Errorf("order %s: empty token list for collection %s", o.ID, item.Collection.Hex())
		}
		if item.Kind == AnyToken && len(item.Tokens) != 0 {
			return fmt.Errorf("order %s: any-token criteria must not list tokens for %s", o.ID, item.Collection.Hex())
		}
		seen := make(map[uint64]struct{}, len(item.Tokens))
		for _, tok := range item.Tokens {
			if tok.Units == 0 {
				return fmt.Errorf("order %s: zero units for token %d", o.ID, tok.TokenID)
			}
			if _, dup := seen[tok.TokenID]; dup {
				return fmt.Errorf("order %s: duplicate token %d in collection %s", o.ID, tok.TokenID, item.Collection.Hex())
			}
			seen[tok.TokenID] = struct{}{}
		}
	}
	return nil
}

// IsNative reports whether the order settles in the native currency.
func (o *Order) IsNative() bool {
	return o.Exec.Currency == (common.Address{})
}

// IsFullySpecific reports whether the order names exact tokens for every
// collection, i.e. the order's own criteria can serve as its fulfillment.
// Batched independent takes require this.
func (o *Order) IsFullySpecific() bool {
	if o.Criteria.Kind != CollectionList {
		return false
	}
	for _, item := range o.Criteria.Items {
		if item.Kind != TokenList {
			return false
		}
	}
	return true
}

// OwnFulfillment converts a fully-specific order's criteria into the
// equivalent fulfillment. Callers must check IsFullySpecific first.
func (o *Order) OwnFulfillment() Fulfillment {
	f := make(Fulfillment, 0, len(o.Criteria.Items))
	for _, item := range o.Criteria.Items {
		toks := make([]TokenUnit, len(item.Tokens))
		copy(toks, item.Tokens)
		f = append(f, ItemFill{Collection: item.Collection, Tokens: toks})
	}
	return f
}
