package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type tokenKey struct {
	collection common.Address
	tokenID    uint64
}

type approvalKey struct {
	collection common.Address
	owner      common.Address
	operator   common.Address
}

// MemoryAssets is an in-process AssetLedger with ERC721-style semantics:
// one owner per token, operator approvals per (collection, owner).
type MemoryAssets struct {
	mu        sync.RWMutex
	owners    map[tokenKey]common.Address
	approvals map[approvalKey]bool
}

// NewMemoryAssets creates an empty asset ledger.
func NewMemoryAssets() *MemoryAssets {
	return &MemoryAssets{
		owners:    make(map[tokenKey]common.Address),
		approvals: make(map[approvalKey]bool),
	}
}

// Mint assigns a fresh token to owner. Test and seed helper.
func (m *MemoryAssets) Mint(collection, owner common.Address, tokenID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tokenKey{collection, tokenID}
	if _, exists := m.owners[k]; exists {
		return fmt.Errorf("token %d of %s already minted", tokenID, collection.Hex())
	}
	m.owners[k] = owner
	return nil
}

// SetApprovalForAll grants or revokes operator rights over every token the
// owner holds in the collection.
func (m *MemoryAssets) SetApprovalForAll(collection, owner, operator common.Address, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := approvalKey{collection, owner, operator}
	if approved {
		m.approvals[k] = true
	} else {
		delete(m.approvals, k)
	}
}

// OwnerOf returns the current owner of a token.
func (m *MemoryAssets) OwnerOf(collection common.Address, tokenID uint64) (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[tokenKey{collection, tokenID}]
	if !ok {
		return common.Address{}, fmt.Errorf("token %d of %s does not exist", tokenID, collection.Hex())
	}
	return owner, nil
}

// IsApprovedForAll reports whether operator may move owner's tokens in the
// collection.
func (m *MemoryAssets) IsApprovedForAll(collection, owner, operator common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return owner == operator || m.approvals[approvalKey{collection, owner, operator}]
}

// TransferUnit moves one token from from to to, enforcing ownership and
// operator approval.
func (m *MemoryAssets) TransferUnit(operator, from, to, collection common.Address, tokenID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tokenKey{collection, tokenID}
	owner, ok := m.owners[k]
	if !ok {
		return fmt.Errorf("token %d of %s does not exist", tokenID, collection.Hex())
	}
	if owner != from {
		return fmt.Errorf("token %d of %s owned by %s, not %s", tokenID, collection.Hex(), owner.Hex(), from.Hex())
	}
	if operator != from && !m.approvals[approvalKey{collection, from, operator}] {
		return fmt.Errorf("operator %s not approved for %s's tokens in %s", operator.Hex(), from.Hex(), collection.Hex())
	}
	m.owners[k] = to
	return nil
}
