package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type unitKey struct {
	collection common.Address
	tokenID    uint64
}

// Matches decides whether the concrete fulfillment satisfies the order's
// criteria. It returns nil on success and an error wrapping
// ErrCriteriaMismatch giving the first offending detail otherwise.
//
// Rules, in check order:
//  1. The fulfillment's aggregate unit count must equal the order's NumItems
//     exactly. Over- and under-fills are both rejected.
//  2. A single (collection, token) may appear only once across the whole
//     fulfillment; a unique item cannot be counted twice.
//  3. AnyCollection criteria accept every (collection, token); only the
//     aggregate count matters.
//  4. CollectionList criteria are an allow-list: a fulfillment naming a
//     collection absent from the list is rejected, even if other entries
//     match. Within a listed collection, AnyToken accepts any id with one
//     unit; TokenList accepts only listed ids, with the declared unit count
//     as an upper bound per token.
func Matches(o *Order, f Fulfillment) error {
	if len(f) == 0 {
		return fmt.Errorf("%w: empty fulfillment", ErrCriteriaMismatch)
	}
	if got := f.NumUnits(); got != o.NumItems {
		return fmt.Errorf("%w: fulfillment moves %d units, order requires %d", ErrCriteriaMismatch, got, o.NumItems)
	}

	seen := make(map[unitKey]struct{})
	for _, item := range f {
		if len(item.Tokens) == 0 {
			return fmt.Errorf("%w: fulfillment entry for %s names no tokens", ErrCriteriaMismatch, item.Collection.Hex())
		}
		for _, tok := range item.Tokens {
			if tok.Units == 0 {
				return fmt.Errorf("%w: zero units for token %d of %s", ErrCriteriaMismatch, tok.TokenID, item.Collection.Hex())
			}
			k := unitKey{item.Collection, tok.TokenID}
			if _, dup := seen[k]; dup {
				return fmt.Errorf("%w: token %d of %s appears twice", ErrCriteriaMismatch, tok.TokenID, item.Collection.Hex())
			}
			seen[k] = struct{}{}
		}
	}

	if o.Criteria.Kind == AnyCollection {
		return nil
	}

	// Allow-list lookup: collection -> accepted token ids and unit bounds.
	// A collection may appear more than once in the criteria; any entry
	// accepting the token is enough.
	type bound struct {
		anyToken bool
		units    map[uint64]uint64
	}
	allowed := make(map[common.Address]*bound, len(o.Criteria.Items))
	for _, c := range o.Criteria.Items {
		b := allowed[c.Collection]
		if b == nil {
			b = &bound{units: make(map[uint64]uint64)}
			allowed[c.Collection] = b
		}
		if c.Kind == AnyToken {
			b.anyToken = true
			continue
		}
		for _, tok := range c.Tokens {
			if tok.Units > b.units[tok.TokenID] {
				b.units[tok.TokenID] = tok.Units
			}
		}
	}

	for _, item := range f {
		b, ok := allowed[item.Collection]
		if !ok {
			return fmt.Errorf("%w: collection %s not in order's allow-list", ErrCriteriaMismatch, item.Collection.Hex())
		}
		for _, tok := range item.Tokens {
			if max, listed := b.units[tok.TokenID]; listed {
				if tok.Units > max {
					return fmt.Errorf("%w: token %d of %s exceeds unit bound %d", ErrCriteriaMismatch, tok.TokenID, item.Collection.Hex(), max)
				}
				continue
			}
			if b.anyToken {
				// Unique item: without an explicit bound a token
				// contributes exactly one unit.
				if tok.Units != 1 {
					return fmt.Errorf("%w: token %d of %s claims %d units without an explicit bound", ErrCriteriaMismatch, tok.TokenID, item.Collection.Hex(), tok.Units)
				}
				continue
			}
			return fmt.Errorf("%w: token %d not in allowed set for %s", ErrCriteriaMismatch, tok.TokenID, item.Collection.Hex())
		}
	}
	return nil
}
