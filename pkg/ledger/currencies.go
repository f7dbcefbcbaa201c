package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type balanceKey struct {
	currency common.Address
	owner    common.Address
}

type allowanceKey struct {
	currency common.Address
	owner    common.Address
	spender  common.Address
}

// MemoryCurrencies is an in-process CurrencyLedger with ERC20-style
// semantics across any number of currencies, the native one included.
type MemoryCurrencies struct {
	mu         sync.RWMutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
}

// NewMemoryCurrencies creates an empty currency ledger.
func NewMemoryCurrencies() *MemoryCurrencies {
	return &MemoryCurrencies{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Mint credits owner with amount of currency. Test and seed helper.
func (m *MemoryCurrencies) Mint(currency, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := balanceKey{currency, owner}
	bal := m.balances[k]
	if bal == nil {
		bal = new(big.Int)
		m.balances[k] = bal
	}
	bal.Add(bal, amount)
}

// Approve sets spender's allowance over owner's currency.
func (m *MemoryCurrencies) Approve(currency, owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{currency, owner, spender}] = new(big.Int).Set(amount)
}

// BalanceOf returns owner's balance in currency.
func (m *MemoryCurrencies) BalanceOf(currency, owner common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bal := m.balances[balanceKey{currency, owner}]; bal != nil {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Allowance returns spender's remaining allowance over owner's currency.
func (m *MemoryCurrencies) Allowance(currency, owner, spender common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a := m.allowances[allowanceKey{currency, owner, spender}]; a != nil {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Transfer moves amount from from to to with no allowance check.
func (m *MemoryCurrencies) Transfer(currency, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transferLocked(currency, from, to, amount)
}

// TransferFrom moves owner's funds on behalf of spender, consuming
// allowance. spender == owner bypasses the allowance check.
func (m *MemoryCurrencies) TransferFrom(currency, spender, owner, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if spender != owner {
		ak := allowanceKey{currency, owner, spender}
		allowance := m.allowances[ak]
		if allowance == nil || allowance.Cmp(amount) < 0 {
			return fmt.Errorf("allowance of %s for %s over %s's funds insufficient", currency.Hex(), spender.Hex(), owner.Hex())
		}
		allowance.Sub(allowance, amount)
	}
	return m.transferLocked(currency, owner, to, amount)
}

func (m *MemoryCurrencies) transferLocked(currency, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	fromKey := balanceKey{currency, from}
	bal := m.balances[fromKey]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("balance of %s for %s insufficient", currency.Hex(), from.Hex())
	}
	bal.Sub(bal, amount)

	toKey := balanceKey{currency, to}
	toBal := m.balances[toKey]
	if toBal == nil {
		toBal = new(big.Int)
		m.balances[toKey] = toBal
	}
	toBal.Add(toBal, amount)
	return nil
}
