package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftx/pkg/exchange"
	"github.com/uhyunpark/nftx/pkg/exchange/nonce"
	"github.com/uhyunpark/nftx/pkg/ledger"
)

type tokenRef struct {
	collection common.Address
	tokenID    uint64
}

type balanceRef struct {
	currency common.Address
	owner    common.Address
}

type assetMove struct {
	from, to   common.Address
	collection common.Address
	tokenID    uint64
}

type currencyMove struct {
	currency     common.Address
	from, to     common.Address
	amount       *big.Int
	viaAllowance bool
}

// staging is the shadow view of all shared state one settlement call mutates.
// Every check runs against base ledger state plus this call's own pending
// effects, so a batch that trades the same token or spends the same funds
// twice fails during staging, before anything is committed. commit applies
// the staged effects; an aborted call simply drops the staging and leaves no
// trace.
type staging struct {
	engine *Engine
	nonces *nonce.Staged

	owners     map[tokenRef]common.Address
	balances   map[balanceRef]*big.Int
	allowances map[balanceRef]*big.Int // spender is always the engine

	assetMoves    []assetMove
	currencyMoves []currencyMove

	// Native value accounting: the caller attaches payable with the call;
	// native spends draw from it and must consume it exactly.
	caller      common.Address
	payable     *big.Int
	nativeSpent *big.Int
}

func (e *Engine) newStaging(caller common.Address, payable *big.Int) *staging {
	if payable == nil {
		payable = new(big.Int)
	}
	return &staging{
		engine:      e,
		nonces:      e.nonces.Stage(),
		owners:      make(map[tokenRef]common.Address),
		balances:    make(map[balanceRef]*big.Int),
		allowances:  make(map[balanceRef]*big.Int),
		caller:      caller,
		payable:     new(big.Int).Set(payable),
		nativeSpent: new(big.Int),
	}
}

func (s *staging) ownerOf(collection common.Address, tokenID uint64) (common.Address, error) {
	ref := tokenRef{collection, tokenID}
	if owner, ok := s.owners[ref]; ok {
		return owner, nil
	}
	owner, err := s.engine.assets.OwnerOf(collection, tokenID)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", exchange.ErrOwnershipMismatch, err)
	}
	return owner, nil
}

func (s *staging) balanceOf(currency, owner common.Address) *big.Int {
	ref := balanceRef{currency, owner}
	if bal, ok := s.balances[ref]; ok {
		return bal
	}
	bal := s.engine.currencies.BalanceOf(currency, owner)
	s.balances[ref] = bal
	return bal
}

func (s *staging) allowanceOf(currency, owner common.Address) *big.Int {
	ref := balanceRef{currency, owner}
	if a, ok := s.allowances[ref]; ok {
		return a
	}
	a := s.engine.currencies.Allowance(currency, owner, s.engine.address)
	s.allowances[ref] = a
	return a
}

// moveAsset stages a single-unit transfer, checking current (staged)
// ownership and the giver's operator approval for the engine.
func (s *staging) moveAsset(from, to, collection common.Address, tokenID uint64) error {
	owner, err := s.ownerOf(collection, tokenID)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: token %d of %s held by %s, expected %s",
			exchange.ErrOwnershipMismatch, tokenID, collection.Hex(), owner.Hex(), from.Hex())
	}
	if !s.engine.assets.IsApprovedForAll(collection, from, s.engine.address) {
		return fmt.Errorf("%w: %s has not approved the engine for collection %s",
			exchange.ErrOwnershipMismatch, from.Hex(), collection.Hex())
	}
	s.owners[tokenRef{collection, tokenID}] = to
	s.assetMoves = append(s.assetMoves, assetMove{from: from, to: to, collection: collection, tokenID: tokenID})
	return nil
}

// moveNative stages a native-currency payment drawn from the caller's
// attached value.
func (s *staging) moveNative(to common.Address, amount *big.Int) error {
	spent := new(big.Int).Add(s.nativeSpent, amount)
	if spent.Cmp(s.payable) > 0 {
		return fmt.Errorf("%w: need %s, attached %s", exchange.ErrInsufficientValue, spent, s.payable)
	}
	bal := s.balanceOf(ledger.NativeCurrency, s.caller)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: caller %s short of native funds", exchange.ErrInsufficientValue, s.caller.Hex())
	}
	s.nativeSpent = spent
	s.debitCredit(ledger.NativeCurrency, s.caller, to, amount)
	s.currencyMoves = append(s.currencyMoves, currencyMove{
		currency: ledger.NativeCurrency, from: s.caller, to: to, amount: new(big.Int).Set(amount),
	})
	return nil
}

// moveCurrency stages a fungible payment from owner's funds. viaAllowance
// consumes the engine's allowance over owner; the caller paying their own
// way goes without.
func (s *staging) moveCurrency(currency, owner, to common.Address, amount *big.Int, viaAllowance bool) error {
	bal := s.balanceOf(currency, owner)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s short of %s", exchange.ErrInsufficientBalance, owner.Hex(), currency.Hex())
	}
	if viaAllowance {
		allowance := s.allowanceOf(currency, owner)
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s allowance over %s's %s too low",
				exchange.ErrInsufficientAllowance, s.engine.address.Hex(), owner.Hex(), currency.Hex())
		}
		allowance.Sub(allowance, amount)
	}
	s.debitCredit(currency, owner, to, amount)
	s.currencyMoves = append(s.currencyMoves, currencyMove{
		currency: currency, from: owner, to: to, amount: new(big.Int).Set(amount), viaAllowance: viaAllowance,
	})
	return nil
}

func (s *staging) debitCredit(currency, from, to common.Address, amount *big.Int) {
	fromBal := s.balanceOf(currency, from)
	fromBal.Sub(fromBal, amount)
	toRef := balanceRef{currency, to}
	toBal, ok := s.balances[toRef]
	if !ok {
		toBal = s.engine.currencies.BalanceOf(currency, to)
		s.balances[toRef] = toBal
	}
	toBal.Add(toBal, amount)
}

// checkPayableConsumed enforces that the attached native value matches the
// staged native spend exactly: a shortfall is unpayable, an excess would
// strand funds with the engine.
func (s *staging) checkPayableConsumed() error {
	if s.nativeSpent.Cmp(s.payable) != 0 {
		return fmt.Errorf("%w: attached value %s, required %s", exchange.ErrInsufficientValue, s.payable, s.nativeSpent)
	}
	return nil
}

// commit applies every staged effect: nonces first, then asset and currency
// moves. All preconditions were re-derived against the same ledgers during
// staging, so the applies below cannot fail short of a ledger bug; if one
// does, the error propagates and the engine treats the call as corrupt.
func (s *staging) commit() error {
	if err := s.nonces.Commit(); err != nil {
		return err
	}
	for _, mv := range s.assetMoves {
		if err := s.engine.assets.TransferUnit(s.engine.address, mv.from, mv.to, mv.collection, mv.tokenID); err != nil {
			return fmt.Errorf("apply asset move: %w", err)
		}
	}
	for _, mv := range s.currencyMoves {
		var err error
		if mv.viaAllowance {
			err = s.engine.currencies.TransferFrom(mv.currency, s.engine.address, mv.from, mv.to, mv.amount)
		} else {
			err = s.engine.currencies.Transfer(mv.currency, mv.from, mv.to, mv.amount)
		}
		if err != nil {
			return fmt.Errorf("apply currency move: %w", err)
		}
	}
	return nil
}
