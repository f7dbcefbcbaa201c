// Package registry keeps the whitelist of settlement currencies and
// complications the engine will execute against. Orders naming anything
// outside the whitelist fail validation.
package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is a thread-safe currency/complication whitelist.
type Registry struct {
	mu            sync.RWMutex
	currencies    map[common.Address]bool
	complications map[common.Address]bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		currencies:    make(map[common.Address]bool),
		complications: make(map[common.Address]bool),
	}
}

// AddCurrency whitelists a settlement currency. The zero address stands for
// the native currency and must be whitelisted like any other.
func (r *Registry) AddCurrency(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currencies[addr] = true
}

// RemoveCurrency deactivates a currency. Orders already signed against it
// become unexecutable until it is re-added.
func (r *Registry) RemoveCurrency(addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.currencies[addr] {
		return fmt.Errorf("currency %s not active", addr.Hex())
	}
	delete(r.currencies, addr)
	return nil
}

// AddComplication whitelists a matching policy address.
func (r *Registry) AddComplication(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complications[addr] = true
}

// RemoveComplication deactivates a complication.
func (r *Registry) RemoveComplication(addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.complications[addr] {
		return fmt.Errorf("complication %s not active", addr.Hex())
	}
	delete(r.complications, addr)
	return nil
}

// IsCurrencyActive reports whether a currency may settle trades.
func (r *Registry) IsCurrencyActive(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currencies[addr]
}

// IsComplicationActive reports whether a complication may match orders.
func (r *Registry) IsComplicationActive(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.complications[addr]
}
