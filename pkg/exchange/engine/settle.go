package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftx/pkg/exchange"
)

// Execution records one settled trade inside a Report. Fee + Net always
// equals Price exactly.
type Execution struct {
	OrderID   common.Hash          `json:"orderId"`
	CounterID common.Hash          `json:"counterId,omitempty"` // zero for direct takes
	Seller    common.Address       `json:"seller"`
	Buyer     common.Address       `json:"buyer"`
	Currency  common.Address       `json:"currency"`
	Price     *big.Int             `json:"price"`
	Fee       *big.Int             `json:"fee"`
	Net       *big.Int             `json:"net"`
	Items     exchange.Fulfillment `json:"items"`
}

// Report summarizes one successful settlement call. It is ephemeral: the
// engine keeps no copy.
type Report struct {
	Caller     common.Address `json:"caller"`
	Timestamp  uint64         `json:"timestamp"`
	Executions []Execution    `json:"executions"`
}

// Take settles maker orders directly against the caller, who supplies the
// counter-side of each: assets for Buy makers, currency for Sell makers.
// fulfillments[i] is the caller's concrete proposal for orders[i]. payable
// is the attached native value; it must equal the summed enforced prices of
// the native-currency orders exactly. The batch is all-or-nothing.
func (e *Engine) Take(caller common.Address, orders []*exchange.Order, fulfillments []exchange.Fulfillment, payable *big.Int) (*Report, error) {
	if len(orders) != len(fulfillments) {
		return nil, fmt.Errorf("got %d orders but %d fulfillments", len(orders), len(fulfillments))
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	st := e.newStaging(caller, payable)
	report := &Report{Caller: caller, Timestamp: now}

	for i, o := range orders {
		exec, err := e.stageTake(st, o, fulfillments[i], caller, now)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		report.Executions = append(report.Executions, exec)
	}
	if err := st.checkPayableConsumed(); err != nil {
		return nil, err
	}
	if err := st.commit(); err != nil {
		return nil, err
	}

	e.logReport("take", report)
	return report, nil
}

// TakeMany settles independent, fully-specific maker orders in one batch.
// Each order's own token list serves as its fulfillment, so no proposals are
// needed. Native orders draw from payable, which must match their summed
// enforced prices exactly; fungible orders pull via allowance per order.
func (e *Engine) TakeMany(caller common.Address, orders []*exchange.Order, payable *big.Int) (*Report, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	st := e.newStaging(caller, payable)
	report := &Report{Caller: caller, Timestamp: now}

	for i, o := range orders {
		if !o.IsFullySpecific() {
			return nil, fmt.Errorf("order %d: %w: order %s does not name exact tokens", i, exchange.ErrCriteriaMismatch, o.ID)
		}
		exec, err := e.stageTake(st, o, o.OwnFulfillment(), caller, now)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		report.Executions = append(report.Executions, exec)
	}
	if err := st.checkPayableConsumed(); err != nil {
		return nil, err
	}
	if err := st.commit(); err != nil {
		return nil, err
	}

	e.logReport("takeMany", report)
	return report, nil
}

// MatchPaired settles complementary sell/buy order pairs proposed by a
// relayer (or either maker). fulfillments[i] must satisfy both orders of
// pair i. The pair executes only if the price bands overlap at call time;
// the enforced price comes from the pair's complication policy. The whole
// batch reverts if any triple fails.
func (e *Engine) MatchPaired(caller common.Address, sells, buys []*exchange.Order, fulfillments []exchange.Fulfillment) (*Report, error) {
	if len(sells) != len(buys) || len(sells) != len(fulfillments) {
		return nil, fmt.Errorf("got %d sells, %d buys, %d fulfillments", len(sells), len(buys), len(fulfillments))
	}
	if len(sells) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	st := e.newStaging(caller, nil)
	report := &Report{Caller: caller, Timestamp: now}

	for i := range sells {
		exec, err := e.stagePair(st, sells[i], buys[i], fulfillments[i], now)
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		report.Executions = append(report.Executions, exec)
	}
	if err := st.commit(); err != nil {
		return nil, err
	}

	e.logReport("matchPaired", report)
	return report, nil
}

// MatchOneToMany settles one anchor order against several counter-orders
// whose combined items and prices jointly satisfy it. Every involved nonce
// is consumed atomically; either the whole aggregate settles or none of it.
func (e *Engine) MatchOneToMany(caller common.Address, anchor *exchange.Order, counters []*exchange.Order) (*Report, error) {
	if len(counters) == 0 {
		return nil, fmt.Errorf("empty counter set")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := e.validateOrder(anchor, now); err != nil {
		return nil, fmt.Errorf("anchor: %w", err)
	}
	if anchor.IsNative() {
		return nil, fmt.Errorf("anchor: native currency cannot settle relayed matches")
	}
	for i, c := range counters {
		if err := e.validateOrder(c, now); err != nil {
			return nil, fmt.Errorf("counter %d: %w", i, err)
		}
		if c.Side == anchor.Side {
			return nil, fmt.Errorf("counter %d: same side as anchor", i)
		}
		if c.Exec != anchor.Exec {
			return nil, fmt.Errorf("counter %d: %w: execution params differ from anchor", i, exchange.ErrCriteriaMismatch)
		}
	}

	comp, err := e.resolveComplication(anchor.Exec.Complication)
	if err != nil {
		return nil, err
	}
	prices, err := comp.OneToManyPrices(anchor, counters, now)
	if err != nil {
		return nil, err
	}

	st := e.newStaging(caller, nil)
	if err := st.nonces.Consume(anchor.Signer, anchor.Nonce); err != nil {
		return nil, err
	}

	report := &Report{Caller: caller, Timestamp: now}
	for i, c := range counters {
		if err := st.nonces.Consume(c.Signer, c.Nonce); err != nil {
			return nil, fmt.Errorf("counter %d: %w", i, err)
		}

		sell, buy := anchor, c
		if anchor.Side == exchange.Buy {
			sell, buy = c, anchor
		}
		items := c.OwnFulfillment()
		fee, net := e.fee(prices[i])
		if err := e.stageExchange(st, sell.Signer, buy.Signer, c.Exec.Currency, items, fee, net); err != nil {
			return nil, fmt.Errorf("counter %d: %w", i, err)
		}

		report.Executions = append(report.Executions, Execution{
			OrderID:   sell.ID,
			CounterID: buy.ID,
			Seller:    sell.Signer,
			Buyer:     buy.Signer,
			Currency:  c.Exec.Currency,
			Price:     prices[i],
			Fee:       fee,
			Net:       net,
			Items:     items,
		})
	}
	if err := st.commit(); err != nil {
		return nil, err
	}

	e.logReport("matchOneToMany", report)
	return report, nil
}

// stageTake validates and stages one maker order settled directly against
// the caller.
func (e *Engine) stageTake(st *staging, o *exchange.Order, f exchange.Fulfillment, caller common.Address, now uint64) (Execution, error) {
	if caller == o.Signer {
		return Execution{}, fmt.Errorf("maker cannot take their own order %s", o.ID)
	}
	if err := e.validateOrder(o, now); err != nil {
		return Execution{}, err
	}
	if o.Side == exchange.Buy && o.IsNative() {
		return Execution{}, fmt.Errorf("buy order %s cannot settle in native currency", o.ID)
	}

	comp, err := e.resolveComplication(o.Exec.Complication)
	if err != nil {
		return Execution{}, err
	}
	if err := comp.CanExecTake(o, f); err != nil {
		return Execution{}, err
	}

	price := exchange.PriceAt(o, now)
	if err := st.nonces.Consume(o.Signer, o.Nonce); err != nil {
		return Execution{}, err
	}

	seller, buyer := o.Signer, caller
	if o.Side == exchange.Buy {
		seller, buyer = caller, o.Signer
	}
	fee, net := e.fee(price)
	if err := e.stageExchange(st, seller, buyer, o.Exec.Currency, f, fee, net); err != nil {
		return Execution{}, err
	}

	return Execution{
		OrderID:  o.ID,
		Seller:   seller,
		Buyer:    buyer,
		Currency: o.Exec.Currency,
		Price:    price,
		Fee:      fee,
		Net:      net,
		Items:    f,
	}, nil
}

// stagePair validates and stages one relayed sell/buy pair.
func (e *Engine) stagePair(st *staging, sell, buy *exchange.Order, f exchange.Fulfillment, now uint64) (Execution, error) {
	if sell.Side != exchange.Sell || buy.Side != exchange.Buy {
		return Execution{}, fmt.Errorf("pair sides are %s/%s, want sell/buy", sell.Side, buy.Side)
	}
	if sell.Exec != buy.Exec {
		return Execution{}, fmt.Errorf("%w: execution params differ between orders", exchange.ErrCriteriaMismatch)
	}
	if sell.IsNative() {
		return Execution{}, fmt.Errorf("native currency cannot settle relayed matches")
	}
	if err := e.validateOrder(sell, now); err != nil {
		return Execution{}, fmt.Errorf("sell: %w", err)
	}
	if err := e.validateOrder(buy, now); err != nil {
		return Execution{}, fmt.Errorf("buy: %w", err)
	}

	comp, err := e.resolveComplication(sell.Exec.Complication)
	if err != nil {
		return Execution{}, err
	}
	// The shared fulfillment must satisfy both orders independently.
	if err := comp.CanExecTake(sell, f); err != nil {
		return Execution{}, fmt.Errorf("sell: %w", err)
	}
	if err := comp.CanExecTake(buy, f); err != nil {
		return Execution{}, fmt.Errorf("buy: %w", err)
	}

	price, err := comp.PairPrice(sell, buy, now)
	if err != nil {
		return Execution{}, err
	}

	if err := st.nonces.Consume(sell.Signer, sell.Nonce); err != nil {
		return Execution{}, err
	}
	if err := st.nonces.Consume(buy.Signer, buy.Nonce); err != nil {
		return Execution{}, err
	}
	fee, net := e.fee(price)
	if err := e.stageExchange(st, sell.Signer, buy.Signer, sell.Exec.Currency, f, fee, net); err != nil {
		return Execution{}, err
	}

	return Execution{
		OrderID:   sell.ID,
		CounterID: buy.ID,
		Seller:    sell.Signer,
		Buyer:     buy.Signer,
		Currency:  sell.Exec.Currency,
		Price:     price,
		Fee:       fee,
		Net:       net,
		Items:     f,
	}, nil
}

// stageExchange stages the transfers of one trade: every item moves from
// seller to buyer, the buyer pays net plus fee, the seller receives net,
// and the fee accrues to the engine in the trade currency. Callers split
// the clearing price with Engine.fee and pass both halves.
func (e *Engine) stageExchange(st *staging, seller, buyer, currency common.Address, items exchange.Fulfillment, fee, net *big.Int) error {
	for _, item := range items {
		for _, tok := range item.Tokens {
			if err := st.moveAsset(seller, buyer, item.Collection, tok.TokenID); err != nil {
				return err
			}
		}
	}

	if currency == (common.Address{}) {
		// Native: only the caller can attach value, so the buyer must be
		// the caller; stageTake guarantees that for native orders.
		if err := st.moveNative(seller, net); err != nil {
			return err
		}
		return st.moveNative(e.address, fee)
	}
	if err := st.moveCurrency(currency, buyer, seller, net, true); err != nil {
		return err
	}
	return st.moveCurrency(currency, buyer, e.address, fee, true)
}

func (e *Engine) logReport(entry string, r *Report) {
	for _, ex := range r.Executions {
		e.log.Info("order settled",
			zap.String("entry", entry),
			zap.String("order", ex.OrderID.Hex()),
			zap.String("seller", ex.Seller.Hex()),
			zap.String("buyer", ex.Buyer.Hex()),
			zap.String("price", ex.Price.String()),
			zap.String("fee", ex.Fee.String()),
			zap.Uint64("at", r.Timestamp),
		)
	}
}
