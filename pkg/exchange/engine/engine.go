// Package engine implements the settlement engine: the four execution entry
// points over signed orders, nonce-based replay protection, and fee routing.
// Every entry point is all-or-nothing; validation runs against a staged view
// of nonce and balance state and nothing commits unless the whole call
// staged cleanly.
package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftx/pkg/exchange"
	"github.com/uhyunpark/nftx/pkg/exchange/complication"
	"github.com/uhyunpark/nftx/pkg/exchange/nonce"
	"github.com/uhyunpark/nftx/pkg/exchange/registry"
	"github.com/uhyunpark/nftx/pkg/ledger"
	"github.com/uhyunpark/nftx/pkg/util"
)

// FeeDenominator is the basis-point scale for protocol fees.
const FeeDenominator = 10000

// Config wires the engine's collaborators. All fields are required except
// Logger, which defaults to a no-op logger.
type Config struct {
	// Address is the engine's own identity: the EIP-712 verifying contract,
	// the operator for custody moves, and the account protocol fees accrue
	// to.
	Address common.Address
	ChainID uint64
	FeeBps  uint64

	Registry   *registry.Registry
	Nonces     *nonce.Ledger
	Assets     ledger.AssetLedger
	Currencies ledger.CurrencyLedger
	Clock      util.Clock
	Logger     *zap.Logger
}

// Engine validates and executes signed orders. Settlement calls are
// serialized: the ledger model gives each call exclusive access to shared
// state and no partial visibility to others.
type Engine struct {
	mu sync.Mutex

	address    common.Address
	chainID    uint64
	feeBps     uint64
	signer     *exchange.OrderSigner
	registry   *registry.Registry
	nonces     *nonce.Ledger
	assets     ledger.AssetLedger
	currencies ledger.CurrencyLedger
	clock      util.Clock
	log        *zap.Logger

	complications map[common.Address]complication.Complication
}

// New creates a settlement engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil || cfg.Nonces == nil || cfg.Assets == nil || cfg.Currencies == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("engine config missing a collaborator")
	}
	if cfg.FeeBps >= FeeDenominator {
		return nil, fmt.Errorf("fee %d bps out of range", cfg.FeeBps)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		address:       cfg.Address,
		chainID:       cfg.ChainID,
		feeBps:        cfg.FeeBps,
		signer:        exchange.NewOrderSigner(cfg.ChainID, cfg.Address),
		registry:      cfg.Registry,
		nonces:        cfg.Nonces,
		assets:        cfg.Assets,
		currencies:    cfg.Currencies,
		clock:         cfg.Clock,
		log:           log,
		complications: make(map[common.Address]complication.Complication),
	}, nil
}

// Address returns the engine's own address.
func (e *Engine) Address() common.Address { return e.address }

// Signer returns the typed-data signer bound to this engine instance.
// Makers use it to produce signatures the engine will accept.
func (e *Engine) Signer() *exchange.OrderSigner { return e.signer }

// RegisterComplication binds a policy implementation to the address orders
// reference. Registration alone does not activate it; the registry decides
// whether orders naming it may execute.
func (e *Engine) RegisterComplication(addr common.Address, c complication.Complication) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.complications[addr] = c
}

func (e *Engine) resolveComplication(addr common.Address) (complication.Complication, error) {
	c, ok := e.complications[addr]
	if !ok {
		return nil, fmt.Errorf("%w: no complication registered at %s", exchange.ErrRegistryInactive, addr.Hex())
	}
	return c, nil
}

// Verify reports whether the order's signature is valid for this engine
// instance on this network. Read-only.
func (e *Engine) Verify(o *exchange.Order) bool {
	return e.signer.Verify(o)
}

// IsNonceValid reports whether (signer, nonce) can still settle. Read-only.
func (e *Engine) IsNonceValid(signer common.Address, n uint64) bool {
	return e.nonces.IsValid(signer, n)
}

// MinNonce returns the signer's current cancel-below watermark. Read-only.
func (e *Engine) MinNonce(signer common.Address) uint64 {
	return e.nonces.MinNonce(signer)
}

// CancelBelow invalidates all of the caller's nonces strictly below min.
func (e *Engine) CancelBelow(caller common.Address, min uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.nonces.CancelBelow(caller, min); err != nil {
		return err
	}
	e.log.Info("nonces cancelled below watermark",
		zap.String("signer", caller.Hex()), zap.Uint64("minNonce", min))
	return nil
}

// CancelMultiple invalidates the caller's listed nonces.
func (e *Engine) CancelMultiple(caller common.Address, nonces []uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.nonces.CancelMultiple(caller, nonces); err != nil {
		return err
	}
	e.log.Info("nonces cancelled",
		zap.String("signer", caller.Hex()), zap.Int("count", len(nonces)))
	return nil
}

// AccruedFees returns the engine's protocol fee balance in currency.
func (e *Engine) AccruedFees(currency common.Address) *big.Int {
	return e.currencies.BalanceOf(currency, e.address)
}

// WithdrawFees sweeps the engine's accrued fee balance in currency to the
// treasury address. Administrative.
func (e *Engine) WithdrawFees(currency, to common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bal := e.currencies.BalanceOf(currency, e.address)
	if bal.Sign() == 0 {
		return bal, nil
	}
	if err := e.currencies.Transfer(currency, e.address, to, bal); err != nil {
		return nil, fmt.Errorf("withdraw fees: %w", err)
	}
	e.log.Info("protocol fees withdrawn",
		zap.String("currency", currency.Hex()), zap.String("to", to.Hex()), zap.String("amount", bal.String()))
	return bal, nil
}

// fee computes the protocol fee for an enforced price with floor division.
// fee + net == price always holds exactly.
func (e *Engine) fee(price *big.Int) (fee, net *big.Int) {
	fee = new(big.Int).Mul(price, new(big.Int).SetUint64(e.feeBps))
	fee.Div(fee, big.NewInt(FeeDenominator))
	net = new(big.Int).Sub(price, fee)
	return fee, net
}

// now captures the single authoritative timestamp for a settlement call.
func (e *Engine) now() uint64 {
	return uint64(e.clock.Now().Unix())
}

// validateOrder runs the checks common to every order touched by a
// settlement call. Nonce consumption is staged separately.
func (e *Engine) validateOrder(o *exchange.Order, now uint64) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if !e.signer.Verify(o) {
		return fmt.Errorf("%w: order %s", exchange.ErrBadSignature, o.ID)
	}
	if now < o.StartTime || now > o.EndTime {
		return fmt.Errorf("%w: order %s active [%d, %d], now %d",
			exchange.ErrOutOfTimeWindow, o.ID, o.StartTime, o.EndTime, now)
	}
	if !e.registry.IsCurrencyActive(o.Exec.Currency) {
		return fmt.Errorf("%w: currency %s", exchange.ErrRegistryInactive, o.Exec.Currency.Hex())
	}
	if !e.registry.IsComplicationActive(o.Exec.Complication) {
		return fmt.Errorf("%w: complication %s", exchange.ErrRegistryInactive, o.Exec.Complication.Hex())
	}
	if !e.nonces.IsValid(o.Signer, o.Nonce) {
		return fmt.Errorf("%w: order %s", exchange.ErrNonceAlreadyUsed, o.ID)
	}
	return nil
}
