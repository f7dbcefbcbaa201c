package engine

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftx/pkg/crypto"
	"github.com/uhyunpark/nftx/pkg/exchange"
	"github.com/uhyunpark/nftx/pkg/exchange/complication"
	"github.com/uhyunpark/nftx/pkg/exchange/nonce"
	"github.com/uhyunpark/nftx/pkg/exchange/registry"
	"github.com/uhyunpark/nftx/pkg/ledger"
	"github.com/uhyunpark/nftx/pkg/util"
)

const (
	testChainID = uint64(1337)
	testFeeBps  = uint64(250)
	testNow     = int64(1500) // inside every test order's [1000, 2000] window
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	compAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	usdAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	collAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type fixture struct {
	t      *testing.T
	engine *Engine
	assets *ledger.MemoryAssets
	cur    *ledger.MemoryCurrencies
	nonces *nonce.Ledger

	seller  *crypto.Signer
	buyer   *crypto.Signer
	relayer *crypto.Signer
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// milli returns n/1000 ether, handy for fee arithmetic (0.975e18 etc).
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	assets := ledger.NewMemoryAssets()
	cur := ledger.NewMemoryCurrencies()
	nonces := nonce.NewLedger(nil)
	reg := registry.New()
	reg.AddCurrency(ledger.NativeCurrency)
	reg.AddCurrency(usdAddr)
	reg.AddComplication(compAddr)

	eng, err := New(Config{
		Address:    engineAddr,
		ChainID:    testChainID,
		FeeBps:     testFeeBps,
		Registry:   reg,
		Nonces:     nonces,
		Assets:     assets,
		Currencies: cur,
		Clock:      util.FixedClock{T: time.Unix(testNow, 0)},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.RegisterComplication(compAddr, complication.NewOrderBook())

	f := &fixture{t: t, engine: eng, assets: assets, cur: cur, nonces: nonces}
	f.seller, _ = crypto.GenerateKey()
	f.buyer, _ = crypto.GenerateKey()
	f.relayer, _ = crypto.GenerateKey()
	return f
}

type orderSpec struct {
	side     exchange.Side
	nonce    uint64
	numItems uint64
	price    *big.Int
	currency common.Address
	criteria exchange.Criteria
}

func specificCriteria(tokenIDs ...uint64) exchange.Criteria {
	toks := make([]exchange.TokenUnit, len(tokenIDs))
	for i, id := range tokenIDs {
		toks[i] = exchange.TokenUnit{TokenID: id, Units: 1}
	}
	return exchange.Criteria{
		Kind: exchange.CollectionList,
		Items: []exchange.ItemCriteria{{
			Collection: collAddr,
			Kind:       exchange.TokenList,
			Tokens:     toks,
		}},
	}
}

func (f *fixture) signOrder(key *crypto.Signer, spec orderSpec) *exchange.Order {
	f.t.Helper()
	o := &exchange.Order{
		ChainID:    testChainID,
		Side:       spec.side,
		Signer:     key.Address(),
		NumItems:   spec.numItems,
		StartPrice: spec.price,
		EndPrice:   spec.price,
		StartTime:  1000,
		EndTime:    2000,
		Nonce:      spec.nonce,
		Criteria:   spec.criteria,
		Exec:       exchange.ExecParams{Complication: compAddr, Currency: spec.currency},
	}
	if err := f.engine.Signer().Sign(key, o); err != nil {
		f.t.Fatalf("sign order: %v", err)
	}
	return o
}

// seedToken mints a token to owner and approves the engine as operator.
func (f *fixture) seedToken(owner common.Address, tokenID uint64) {
	f.t.Helper()
	if err := f.assets.Mint(collAddr, owner, tokenID); err != nil {
		f.t.Fatalf("mint: %v", err)
	}
	f.assets.SetApprovalForAll(collAddr, owner, engineAddr, true)
}

// seedUSD credits owner and approves the engine to spend it.
func (f *fixture) seedUSD(owner common.Address, amount *big.Int) {
	f.cur.Mint(usdAddr, owner, amount)
	f.cur.Approve(usdAddr, owner, engineAddr, amount)
}

func (f *fixture) mustOwn(owner common.Address, tokenID uint64) {
	f.t.Helper()
	got, err := f.assets.OwnerOf(collAddr, tokenID)
	if err != nil {
		f.t.Fatalf("ownerOf %d: %v", tokenID, err)
	}
	if got != owner {
		f.t.Errorf("token %d owned by %s, want %s", tokenID, got.Hex(), owner.Hex())
	}
}

func (f *fixture) mustBalance(currency, owner common.Address, want *big.Int) {
	f.t.Helper()
	if got := f.cur.BalanceOf(currency, owner); got.Cmp(want) != 0 {
		f.t.Errorf("balance of %s for %s = %s, want %s", currency.Hex(), owner.Hex(), got, want)
	}
}

func TestTakeSellOrderNative(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)
	f.cur.Mint(ledger.NativeCurrency, f.buyer.Address(), ether(10))

	sell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: ledger.NativeCurrency,
		criteria: specificCriteria(5),
	})

	report, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{sell},
		[]exchange.Fulfillment{sell.OwnFulfillment()}, ether(1))
	if err != nil {
		t.Fatalf("take: %v", err)
	}

	f.mustOwn(f.buyer.Address(), 5)
	f.mustBalance(ledger.NativeCurrency, f.seller.Address(), milli(975))
	f.mustBalance(ledger.NativeCurrency, engineAddr, milli(25))
	f.mustBalance(ledger.NativeCurrency, f.buyer.Address(), ether(9))

	ex := report.Executions[0]
	if new(big.Int).Add(ex.Fee, ex.Net).Cmp(ex.Price) != 0 {
		t.Error("fee + net != price")
	}
	if f.engine.IsNonceValid(f.seller.Address(), 1) {
		t.Error("nonce still valid after settlement")
	}
}

func TestTakeBuyOrderFungible(t *testing.T) {
	f := newFixture(t)
	// The maker buys token 7; the caller holds it and supplies it.
	f.seedToken(f.buyer.Address(), 7) // buyer here is the caller/holder
	f.seedUSD(f.seller.Address(), ether(2))

	buyOrder := f.signOrder(f.seller, orderSpec{
		side: exchange.Buy, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(7),
	})

	if _, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{buyOrder},
		[]exchange.Fulfillment{buyOrder.OwnFulfillment()}, nil); err != nil {
		t.Fatalf("take buy order: %v", err)
	}

	f.mustOwn(f.seller.Address(), 7)
	f.mustBalance(usdAddr, f.buyer.Address(), milli(975))
	f.mustBalance(usdAddr, engineAddr, milli(25))
	f.mustBalance(usdAddr, f.seller.Address(), ether(1))
}

func TestTakeRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)

	sell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})
	sell.StartPrice = ether(2) // break the signature
	sell.EndPrice = ether(2)

	_, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{sell},
		[]exchange.Fulfillment{sell.OwnFulfillment()}, nil)
	if !errors.Is(err, exchange.ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

func TestTakeRejectsOutOfWindow(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)

	o := &exchange.Order{
		ChainID: testChainID, Side: exchange.Sell, Signer: f.seller.Address(),
		NumItems: 1, StartPrice: ether(1), EndPrice: ether(1),
		StartTime: 100, EndTime: 200, // long expired at testNow
		Nonce:    1,
		Criteria: specificCriteria(5),
		Exec:     exchange.ExecParams{Complication: compAddr, Currency: usdAddr},
	}
	if err := f.engine.Signer().Sign(f.seller, o); err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{o},
		[]exchange.Fulfillment{o.OwnFulfillment()}, nil)
	if !errors.Is(err, exchange.ErrOutOfTimeWindow) {
		t.Fatalf("got %v, want ErrOutOfTimeWindow", err)
	}
}

func TestTakeRejectsInactiveCurrency(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)

	rogue := common.HexToAddress("0xbad")
	sell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: rogue,
		criteria: specificCriteria(5),
	})

	_, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{sell},
		[]exchange.Fulfillment{sell.OwnFulfillment()}, nil)
	if !errors.Is(err, exchange.ErrRegistryInactive) {
		t.Fatalf("got %v, want ErrRegistryInactive", err)
	}
}

func TestNonceReplayAcrossEntryPoints(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)
	f.seedUSD(f.buyer.Address(), ether(10))

	sell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})

	if _, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{sell},
		[]exchange.Fulfillment{sell.OwnFulfillment()}, nil); err != nil {
		t.Fatalf("first take: %v", err)
	}

	// Replay directly.
	_, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{sell},
		[]exchange.Fulfillment{sell.OwnFulfillment()}, nil)
	if !errors.Is(err, exchange.ErrNonceAlreadyUsed) {
		t.Fatalf("take replay: got %v, want ErrNonceAlreadyUsed", err)
	}

	// Replay through a different entry point.
	buy := f.signOrder(f.buyer, orderSpec{
		side: exchange.Buy, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})
	_, err = f.engine.MatchPaired(f.relayer.Address(),
		[]*exchange.Order{sell}, []*exchange.Order{buy},
		[]exchange.Fulfillment{sell.OwnFulfillment()})
	if !errors.Is(err, exchange.ErrNonceAlreadyUsed) {
		t.Fatalf("match replay: got %v, want ErrNonceAlreadyUsed", err)
	}
}

func TestCancelBelowBlocksSettlement(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)
	f.seedUSD(f.buyer.Address(), ether(10))

	sell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 3, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})

	if err := f.engine.CancelBelow(f.seller.Address(), 10); err != nil {
		t.Fatalf("cancel below: %v", err)
	}

	_, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{sell},
		[]exchange.Fulfillment{sell.OwnFulfillment()}, nil)
	if !errors.Is(err, exchange.ErrNonceAlreadyUsed) {
		t.Fatalf("got %v, want ErrNonceAlreadyUsed", err)
	}
	f.mustOwn(f.seller.Address(), 5)
}

func TestMatchPairedExactScenario(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)
	f.seedUSD(f.buyer.Address(), ether(1))

	sell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})
	buy := f.signOrder(f.buyer, orderSpec{
		side: exchange.Buy, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})

	report, err := f.engine.MatchPaired(f.relayer.Address(),
		[]*exchange.Order{sell}, []*exchange.Order{buy},
		[]exchange.Fulfillment{sell.OwnFulfillment()})
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	// Token #5 to the buyer, 0.975 to the seller, 0.025 protocol fee.
	f.mustOwn(f.buyer.Address(), 5)
	f.mustBalance(usdAddr, f.seller.Address(), milli(975))
	f.mustBalance(usdAddr, engineAddr, milli(25))
	f.mustBalance(usdAddr, f.buyer.Address(), new(big.Int))

	if f.engine.IsNonceValid(f.seller.Address(), 1) || f.engine.IsNonceValid(f.buyer.Address(), 1) {
		t.Error("maker nonces not consumed")
	}

	ex := report.Executions[0]
	if ex.Price.Cmp(ether(1)) != 0 || ex.Fee.Cmp(milli(25)) != 0 || ex.Net.Cmp(milli(975)) != 0 {
		t.Errorf("report arithmetic off: price %s fee %s net %s", ex.Price, ex.Fee, ex.Net)
	}
}

func TestMatchPairedNoOverlapMovesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)
	f.seedUSD(f.buyer.Address(), ether(10))

	sell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(2), currency: usdAddr,
		criteria: specificCriteria(5),
	})
	buy := f.signOrder(f.buyer, orderSpec{
		side: exchange.Buy, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})

	_, err := f.engine.MatchPaired(f.relayer.Address(),
		[]*exchange.Order{sell}, []*exchange.Order{buy},
		[]exchange.Fulfillment{sell.OwnFulfillment()})
	if !errors.Is(err, exchange.ErrNoPriceOverlap) {
		t.Fatalf("got %v, want ErrNoPriceOverlap", err)
	}

	f.mustOwn(f.seller.Address(), 5)
	f.mustBalance(usdAddr, f.buyer.Address(), ether(10))
	if !f.engine.IsNonceValid(f.seller.Address(), 1) || !f.engine.IsNonceValid(f.buyer.Address(), 1) {
		t.Error("failed match consumed a nonce")
	}
}

func TestMatchPairedBatchAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)
	f.seedToken(f.seller.Address(), 6)
	f.seedUSD(f.buyer.Address(), ether(10))

	goodSell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})
	goodBuy := f.signOrder(f.buyer, orderSpec{
		side: exchange.Buy, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})
	// Second pair cannot overlap.
	staleSell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 2, numItems: 1,
		price: ether(5), currency: usdAddr,
		criteria: specificCriteria(6),
	})
	lowBuy := f.signOrder(f.buyer, orderSpec{
		side: exchange.Buy, nonce: 2, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(6),
	})

	_, err := f.engine.MatchPaired(f.relayer.Address(),
		[]*exchange.Order{goodSell, staleSell}, []*exchange.Order{goodBuy, lowBuy},
		[]exchange.Fulfillment{goodSell.OwnFulfillment(), staleSell.OwnFulfillment()})
	if !errors.Is(err, exchange.ErrNoPriceOverlap) {
		t.Fatalf("got %v, want ErrNoPriceOverlap", err)
	}

	// The healthy first pair must not have settled either.
	f.mustOwn(f.seller.Address(), 5)
	f.mustBalance(usdAddr, f.buyer.Address(), ether(10))
	if !f.engine.IsNonceValid(f.seller.Address(), 1) {
		t.Error("first pair's nonce consumed despite batch failure")
	}
}

func TestTakeManyExactAttachedValue(t *testing.T) {
	f := newFixture(t)
	for id := uint64(1); id <= 3; id++ {
		f.seedToken(f.seller.Address(), id)
	}
	f.cur.Mint(ledger.NativeCurrency, f.buyer.Address(), ether(100))

	var orders []*exchange.Order
	total := new(big.Int)
	for id := uint64(1); id <= 3; id++ {
		price := ether(int64(id)) // 1, 2, 3 ether
		orders = append(orders, f.signOrder(f.seller, orderSpec{
			side: exchange.Sell, nonce: id, numItems: 1,
			price: price, currency: ledger.NativeCurrency,
			criteria: specificCriteria(id),
		}))
		total.Add(total, price)
	}

	// One unit short: the whole batch fails and nothing settles.
	short := new(big.Int).Sub(total, big.NewInt(1))
	if _, err := f.engine.TakeMany(f.buyer.Address(), orders, short); !errors.Is(err, exchange.ErrInsufficientValue) {
		t.Fatalf("short value: got %v, want ErrInsufficientValue", err)
	}
	f.mustOwn(f.seller.Address(), 1)
	if !f.engine.IsNonceValid(f.seller.Address(), 1) {
		t.Fatal("failed batch consumed a nonce")
	}

	// Exact value settles all three.
	if _, err := f.engine.TakeMany(f.buyer.Address(), orders, total); err != nil {
		t.Fatalf("exact value: %v", err)
	}
	for id := uint64(1); id <= 3; id++ {
		f.mustOwn(f.buyer.Address(), id)
	}

	// Excess value is also rejected; it would strand funds.
	f2 := newFixture(t)
	f2.seedToken(f2.seller.Address(), 9)
	f2.cur.Mint(ledger.NativeCurrency, f2.buyer.Address(), ether(10))
	o := f2.signOrder(f2.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: ledger.NativeCurrency,
		criteria: specificCriteria(9),
	})
	if _, err := f2.engine.TakeMany(f2.buyer.Address(), []*exchange.Order{o}, ether(2)); !errors.Is(err, exchange.ErrInsufficientValue) {
		t.Fatalf("excess value: got %v, want ErrInsufficientValue", err)
	}
}

func TestTakeManyRequiresSpecificOrders(t *testing.T) {
	f := newFixture(t)
	vague := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: exchange.Criteria{
			Kind:  exchange.CollectionList,
			Items: []exchange.ItemCriteria{{Collection: collAddr, Kind: exchange.AnyToken}},
		},
	})
	_, err := f.engine.TakeMany(f.buyer.Address(), []*exchange.Order{vague}, nil)
	if !errors.Is(err, exchange.ErrCriteriaMismatch) {
		t.Fatalf("got %v, want ErrCriteriaMismatch", err)
	}
}

func TestMatchOneToMany(t *testing.T) {
	f := newFixture(t)

	sellerB, _ := crypto.GenerateKey()
	f.seedToken(f.seller.Address(), 1)
	f.seedToken(sellerB.Address(), 2)
	f.seedUSD(f.buyer.Address(), ether(3))

	// Anchor buys any two tokens of the collection for up to 3.
	anchor := f.signOrder(f.buyer, orderSpec{
		side: exchange.Buy, nonce: 1, numItems: 2,
		price: ether(3), currency: usdAddr,
		criteria: exchange.Criteria{
			Kind:  exchange.CollectionList,
			Items: []exchange.ItemCriteria{{Collection: collAddr, Kind: exchange.AnyToken}},
		},
	})
	counter1 := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(1),
	})
	counter2 := f.signOrder(sellerB, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(2), currency: usdAddr,
		criteria: specificCriteria(2),
	})

	report, err := f.engine.MatchOneToMany(f.relayer.Address(), anchor,
		[]*exchange.Order{counter1, counter2})
	if err != nil {
		t.Fatalf("match one to many: %v", err)
	}
	if len(report.Executions) != 2 {
		t.Fatalf("executions = %d, want 2", len(report.Executions))
	}

	f.mustOwn(f.buyer.Address(), 1)
	f.mustOwn(f.buyer.Address(), 2)
	f.mustBalance(usdAddr, f.seller.Address(), milli(975))
	f.mustBalance(usdAddr, sellerB.Address(), milli(1950))
	f.mustBalance(usdAddr, engineAddr, milli(75))
	f.mustBalance(usdAddr, f.buyer.Address(), new(big.Int))

	for _, pair := range []struct {
		addr common.Address
		n    uint64
	}{
		{f.buyer.Address(), 1}, {f.seller.Address(), 1}, {sellerB.Address(), 1},
	} {
		if f.engine.IsNonceValid(pair.addr, pair.n) {
			t.Errorf("nonce %d of %s not consumed", pair.n, pair.addr.Hex())
		}
	}
}

func TestMatchOneToManyRejectsOverfilledCounter(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 1)
	f.seedToken(f.seller.Address(), 2)
	f.seedUSD(f.buyer.Address(), ether(3))

	anchor := f.signOrder(f.buyer, orderSpec{
		side: exchange.Buy, nonce: 1, numItems: 2,
		price: ether(3), currency: usdAddr,
		criteria: exchange.Criteria{
			Kind:  exchange.CollectionList,
			Items: []exchange.ItemCriteria{{Collection: collAddr, Kind: exchange.AnyToken}},
		},
	})
	// A counter signed for one unit whose token list names two. The
	// combined items satisfy the anchor, so this must fail on the
	// counter's own quantity bound.
	counter := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(2), currency: usdAddr,
		criteria: specificCriteria(1, 2),
	})

	_, err := f.engine.MatchOneToMany(f.relayer.Address(), anchor,
		[]*exchange.Order{counter})
	if !errors.Is(err, exchange.ErrCriteriaMismatch) {
		t.Fatalf("got %v, want ErrCriteriaMismatch", err)
	}

	f.mustOwn(f.seller.Address(), 1)
	f.mustOwn(f.seller.Address(), 2)
	f.mustBalance(usdAddr, f.buyer.Address(), ether(3))
	if !f.engine.IsNonceValid(f.seller.Address(), 1) || !f.engine.IsNonceValid(f.buyer.Address(), 1) {
		t.Error("rejected aggregate consumed a nonce")
	}
}

func TestMatchOneToManyAtomicOnFailure(t *testing.T) {
	f := newFixture(t)

	sellerB, _ := crypto.GenerateKey()
	f.seedToken(f.seller.Address(), 1)
	// sellerB never approves the engine, so their leg cannot stage.
	if err := f.assets.Mint(collAddr, sellerB.Address(), 2); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.seedUSD(f.buyer.Address(), ether(3))

	anchor := f.signOrder(f.buyer, orderSpec{
		side: exchange.Buy, nonce: 1, numItems: 2,
		price: ether(3), currency: usdAddr,
		criteria: exchange.Criteria{
			Kind:  exchange.CollectionList,
			Items: []exchange.ItemCriteria{{Collection: collAddr, Kind: exchange.AnyToken}},
		},
	})
	counter1 := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(1),
	})
	counter2 := f.signOrder(sellerB, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(2),
	})

	_, err := f.engine.MatchOneToMany(f.relayer.Address(), anchor,
		[]*exchange.Order{counter1, counter2})
	if !errors.Is(err, exchange.ErrOwnershipMismatch) {
		t.Fatalf("got %v, want ErrOwnershipMismatch", err)
	}

	// Nothing from the healthy first leg may have leaked.
	f.mustOwn(f.seller.Address(), 1)
	f.mustBalance(usdAddr, f.buyer.Address(), ether(3))
	if !f.engine.IsNonceValid(f.buyer.Address(), 1) || !f.engine.IsNonceValid(f.seller.Address(), 1) {
		t.Error("failed aggregate consumed a nonce")
	}
}

func TestTakeBatchSharedTokenFails(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)
	f.seedUSD(f.buyer.Address(), ether(10))

	// Two orders selling the same token: the second cannot stage because
	// the staged owner is already the caller.
	o1 := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})
	o2 := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 2, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})

	_, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{o1, o2},
		[]exchange.Fulfillment{o1.OwnFulfillment(), o2.OwnFulfillment()}, nil)
	if !errors.Is(err, exchange.ErrOwnershipMismatch) {
		t.Fatalf("got %v, want ErrOwnershipMismatch", err)
	}
	f.mustOwn(f.seller.Address(), 5)
	f.mustBalance(usdAddr, f.buyer.Address(), ether(10))
}

func TestTakeInsufficientAllowance(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.buyer.Address(), 7)
	// Maker has funds but approved less than the price.
	f.cur.Mint(usdAddr, f.seller.Address(), ether(2))
	f.cur.Approve(usdAddr, f.seller.Address(), engineAddr, milli(500))

	buyOrder := f.signOrder(f.seller, orderSpec{
		side: exchange.Buy, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(7),
	})

	_, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{buyOrder},
		[]exchange.Fulfillment{buyOrder.OwnFulfillment()}, nil)
	if !errors.Is(err, exchange.ErrInsufficientAllowance) {
		t.Fatalf("got %v, want ErrInsufficientAllowance", err)
	}
	f.mustOwn(f.buyer.Address(), 7)
}

func TestWithdrawFees(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)
	f.seedUSD(f.buyer.Address(), ether(1))

	sell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})
	if _, err := f.engine.Take(f.buyer.Address(), []*exchange.Order{sell},
		[]exchange.Fulfillment{sell.OwnFulfillment()}, nil); err != nil {
		t.Fatalf("take: %v", err)
	}

	if got := f.engine.AccruedFees(usdAddr); got.Cmp(milli(25)) != 0 {
		t.Fatalf("accrued fees = %s, want 0.025e18", got)
	}

	treasury := common.HexToAddress("0x7777")
	swept, err := f.engine.WithdrawFees(usdAddr, treasury)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if swept.Cmp(milli(25)) != 0 {
		t.Errorf("swept = %s, want 0.025e18", swept)
	}
	f.mustBalance(usdAddr, treasury, milli(25))
	if got := f.engine.AccruedFees(usdAddr); got.Sign() != 0 {
		t.Errorf("fees remain after withdraw: %s", got)
	}
}

func TestFeeFloorRounding(t *testing.T) {
	f := newFixture(t)
	// price 1001 at 250 bps: fee = 1001*250/10000 = 25 (floor), net 976.
	fee, net := f.engine.fee(big.NewInt(1001))
	if fee.Cmp(big.NewInt(25)) != 0 || net.Cmp(big.NewInt(976)) != 0 {
		t.Errorf("fee/net = %s/%s, want 25/976", fee, net)
	}
	if new(big.Int).Add(fee, net).Cmp(big.NewInt(1001)) != 0 {
		t.Error("fee + net != price")
	}
}

func TestMakerCannotTakeOwnOrder(t *testing.T) {
	f := newFixture(t)
	f.seedToken(f.seller.Address(), 5)

	sell := f.signOrder(f.seller, orderSpec{
		side: exchange.Sell, nonce: 1, numItems: 1,
		price: ether(1), currency: usdAddr,
		criteria: specificCriteria(5),
	})
	if _, err := f.engine.Take(f.seller.Address(), []*exchange.Order{sell},
		[]exchange.Fulfillment{sell.OwnFulfillment()}, nil); err == nil {
		t.Error("maker taking their own order should fail")
	}
}
