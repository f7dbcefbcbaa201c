// Package complication holds the pluggable matching/pricing policies an
// order can opt into. Every order names a complication address; the engine
// resolves it to one of these policies and delegates the decisions that are
// economic rather than mechanical: does a fulfillment satisfy an order, and
// at what price do two independently signed orders execute.
package complication

import (
	"fmt"
	"math/big"

	"github.com/uhyunpark/nftx/pkg/exchange"
)

// Complication decides matching and pricing for a class of orders.
type Complication interface {
	// CanExecTake reports whether the fulfillment satisfies a single maker
	// order's criteria.
	CanExecTake(o *exchange.Order, f exchange.Fulfillment) error

	// PairPrice validates that a sell/buy pair can execute at time now and
	// returns the enforced settlement price.
	PairPrice(sell, buy *exchange.Order, now uint64) (*big.Int, error)

	// OneToManyPrices validates an anchor order against its counter-orders
	// at time now and returns the enforced price for each counter.
	OneToManyPrices(anchor *exchange.Order, counters []*exchange.Order, now uint64) ([]*big.Int, error)
}

// OrderBook is the default policy. Its pricing rule for relayed matches is
// deliberate and economically meaningful: the pair executes at the sell
// order's current price, the lower bound of the overlapping band, so the
// buyer captures any spread. Alternative policies (midpoint, buy-side) are
// separate Complication implementations, not switches on this one.
type OrderBook struct{}

// NewOrderBook returns the default order-book policy.
func NewOrderBook() *OrderBook { return &OrderBook{} }

// CanExecTake delegates to the criteria matcher.
func (ob *OrderBook) CanExecTake(o *exchange.Order, f exchange.Fulfillment) error {
	return exchange.Matches(o, f)
}

// PairPrice requires the price bands to overlap at now: the sell order's
// current price must not exceed the buy order's. The sell price is enforced.
func (ob *OrderBook) PairPrice(sell, buy *exchange.Order, now uint64) (*big.Int, error) {
	sellPrice := exchange.PriceAt(sell, now)
	buyPrice := exchange.PriceAt(buy, now)
	if sellPrice.Cmp(buyPrice) > 0 {
		return nil, fmt.Errorf("%w: sell %s > buy %s", exchange.ErrNoPriceOverlap, sellPrice, buyPrice)
	}
	return sellPrice, nil
}

// OneToManyPrices checks that the counter-orders jointly satisfy the anchor:
// their combined items must match the anchor's criteria with the exact
// aggregate unit count, and the sum of their current prices must sit on the
// profitable side of the anchor's current price. Each counter settles at its
// own current price.
func (ob *OrderBook) OneToManyPrices(anchor *exchange.Order, counters []*exchange.Order, now uint64) ([]*big.Int, error) {
	if len(counters) == 0 {
		return nil, fmt.Errorf("%w: no counter orders", exchange.ErrCriteriaMismatch)
	}

	// Counters are concrete by construction: a maker on the specific side
	// names exact tokens, so their criteria double as the fulfillment. Each
	// counter must satisfy its own order first; a counter whose token list
	// exceeds its signed unit count would otherwise move more than the maker
	// agreed to.
	combined := make(exchange.Fulfillment, 0, len(counters))
	for _, c := range counters {
		if !c.IsFullySpecific() {
			return nil, fmt.Errorf("%w: counter order %s is not fully specific", exchange.ErrCriteriaMismatch, c.ID)
		}
		own := c.OwnFulfillment()
		if err := exchange.Matches(c, own); err != nil {
			return nil, fmt.Errorf("counter order %s: %w", c.ID, err)
		}
		combined = append(combined, own...)
	}
	if err := exchange.Matches(anchor, combined); err != nil {
		return nil, err
	}

	prices := make([]*big.Int, len(counters))
	total := new(big.Int)
	for i, c := range counters {
		prices[i] = exchange.PriceAt(c, now)
		total.Add(total, prices[i])
	}

	anchorPrice := exchange.PriceAt(anchor, now)
	if anchor.Side == exchange.Buy {
		// Anchor buys the aggregate: sellers' total must fit under its ceiling.
		if total.Cmp(anchorPrice) > 0 {
			return nil, fmt.Errorf("%w: counters total %s > anchor ceiling %s", exchange.ErrNoPriceOverlap, total, anchorPrice)
		}
	} else {
		// Anchor sells the aggregate: buyers' total must reach its floor.
		if total.Cmp(anchorPrice) < 0 {
			return nil, fmt.Errorf("%w: counters total %s < anchor floor %s", exchange.ErrNoPriceOverlap, total, anchorPrice)
		}
	}
	return prices, nil
}
