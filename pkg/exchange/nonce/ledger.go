// Package nonce tracks per-signer order nonces: which are consumed, and the
// minimum still-valid nonce per signer. It is the only long-lived state the
// settlement engine keeps about orders.
package nonce

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftx/pkg/exchange"
)

// Store is the optional durable backing for the ledger. Mutations are
// persisted on commit; a nil store keeps the ledger memory-only.
type Store interface {
	SaveConsumed(signer common.Address, nonce uint64) error
	SaveMinNonce(signer common.Address, min uint64) error
}

// Ledger is the in-memory nonce state. Records are created implicitly on a
// signer's first order and never deleted.
type Ledger struct {
	mu    sync.RWMutex
	used  map[common.Address]map[uint64]struct{}
	min   map[common.Address]uint64
	store Store
}

// NewLedger creates an empty ledger. store may be nil.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		used:  make(map[common.Address]map[uint64]struct{}),
		min:   make(map[common.Address]uint64),
		store: store,
	}
}

// Restore seeds the ledger from persisted state. Meant for boot time, before
// the ledger is shared; it does not write back to the store.
func (l *Ledger) Restore(used map[common.Address][]uint64, min map[common.Address]uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for signer, nonces := range used {
		set := l.used[signer]
		if set == nil {
			set = make(map[uint64]struct{}, len(nonces))
			l.used[signer] = set
		}
		for _, n := range nonces {
			set[n] = struct{}{}
		}
	}
	for signer, m := range min {
		if m > l.min[signer] {
			l.min[signer] = m
		}
	}
}

// IsValid reports whether (signer, nonce) can still be consumed.
func (l *Ledger) IsValid(signer common.Address, n uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isValidLocked(signer, n)
}

func (l *Ledger) isValidLocked(signer common.Address, n uint64) bool {
	if n < l.min[signer] {
		return false
	}
	_, consumed := l.used[signer][n]
	return !consumed
}

// Consume marks a single nonce used as one indivisible check-and-set.
// Batch entry points should go through Stage instead.
func (l *Ledger) Consume(signer common.Address, n uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isValidLocked(signer, n) {
		return fmt.Errorf("%w: signer %s nonce %d", exchange.ErrNonceAlreadyUsed, signer.Hex(), n)
	}
	l.consumeLocked(signer, n)
	if l.store != nil {
		if err := l.store.SaveConsumed(signer, n); err != nil {
			return fmt.Errorf("persist nonce %d for %s: %w", n, signer.Hex(), err)
		}
	}
	return nil
}

func (l *Ledger) consumeLocked(signer common.Address, n uint64) {
	set := l.used[signer]
	if set == nil {
		set = make(map[uint64]struct{})
		l.used[signer] = set
	}
	set[n] = struct{}{}
}

// CancelBelow permanently invalidates every nonce strictly below min for the
// signer. The watermark only moves forward.
func (l *Ledger) CancelBelow(signer common.Address, min uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if min <= l.min[signer] {
		return fmt.Errorf("min nonce %d must exceed current watermark %d", min, l.min[signer])
	}
	l.min[signer] = min
	if l.store != nil {
		if err := l.store.SaveMinNonce(signer, min); err != nil {
			return fmt.Errorf("persist min nonce for %s: %w", signer.Hex(), err)
		}
	}
	return nil
}

// CancelMultiple invalidates the given nonces without touching the
// watermark. Already-consumed nonces are rejected so a cancel cannot mask a
// prior settlement.
func (l *Ledger) CancelMultiple(signer common.Address, nonces []uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range nonces {
		if !l.isValidLocked(signer, n) {
			return fmt.Errorf("%w: signer %s nonce %d", exchange.ErrNonceAlreadyUsed, signer.Hex(), n)
		}
	}
	for _, n := range nonces {
		l.consumeLocked(signer, n)
		if l.store != nil {
			if err := l.store.SaveConsumed(signer, n); err != nil {
				return fmt.Errorf("persist nonce %d for %s: %w", n, signer.Hex(), err)
			}
		}
	}
	return nil
}

// MinNonce returns the signer's current cancellation watermark.
func (l *Ledger) MinNonce(signer common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.min[signer]
}

type stagedKey struct {
	signer common.Address
	nonce  uint64
}

// Staged is a shadow view of the ledger for one settlement call. Consume
// checks committed state plus this call's pending set; nothing reaches the
// ledger until Commit, so a failed batch leaves no nonce consumed.
type Staged struct {
	ledger  *Ledger
	pending []stagedKey
	seen    map[stagedKey]struct{}
}

// Stage opens a shadow view over the ledger.
func (l *Ledger) Stage() *Staged {
	return &Staged{ledger: l, seen: make(map[stagedKey]struct{})}
}

// Consume stages a nonce consumption. Fails if the nonce is already consumed
// in committed state or earlier in this same call.
func (s *Staged) Consume(signer common.Address, n uint64) error {
	k := stagedKey{signer, n}
	if _, dup := s.seen[k]; dup {
		return fmt.Errorf("%w: signer %s nonce %d repeated in batch", exchange.ErrNonceAlreadyUsed, signer.Hex(), n)
	}
	if !s.ledger.IsValid(signer, n) {
		return fmt.Errorf("%w: signer %s nonce %d", exchange.ErrNonceAlreadyUsed, signer.Hex(), n)
	}
	s.seen[k] = struct{}{}
	s.pending = append(s.pending, k)
	return nil
}

// Commit applies every staged consumption to the ledger atomically,
// re-checking validity under the write lock.
func (s *Staged) Commit() error {
	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range s.pending {
		if !l.isValidLocked(k.signer, k.nonce) {
			return fmt.Errorf("%w: signer %s nonce %d", exchange.ErrNonceAlreadyUsed, k.signer.Hex(), k.nonce)
		}
	}
	for _, k := range s.pending {
		l.consumeLocked(k.signer, k.nonce)
		if l.store != nil {
			if err := l.store.SaveConsumed(k.signer, k.nonce); err != nil {
				return fmt.Errorf("persist nonce %d for %s: %w", k.nonce, k.signer.Hex(), err)
			}
		}
	}
	return nil
}
