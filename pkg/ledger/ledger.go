// Package ledger defines the engine's view of asset custody and currency
// balances. The settlement engine only decides when and how much to move;
// the mechanics of ownership and balances live behind these interfaces,
// with in-process implementations provided for the node and the tests.
package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetLedger is the custody interface for unique items. A transfer is only
// legal if from currently owns the token and has approved the operator
// performing the move.
type AssetLedger interface {
	OwnerOf(collection common.Address, tokenID uint64) (common.Address, error)
	IsApprovedForAll(collection, owner, operator common.Address) bool
	TransferUnit(operator, from, to, collection common.Address, tokenID uint64) error
}

// CurrencyLedger is the balance interface for fungible settlement
// currencies. The native currency uses the zero currency address.
type CurrencyLedger interface {
	BalanceOf(currency, owner common.Address) *big.Int
	Allowance(currency, owner, spender common.Address) *big.Int

	// Transfer moves from's funds without an allowance check; used for
	// native value the caller attached and for the engine's own balance.
	Transfer(currency, from, to common.Address, amount *big.Int) error

	// TransferFrom moves owner's funds on behalf of spender, consuming
	// allowance(owner, spender).
	TransferFrom(currency, spender, owner, to common.Address, amount *big.Int) error
}

// NativeCurrency is the currency address that stands for native value.
var NativeCurrency = common.Address{}
