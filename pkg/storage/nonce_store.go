// Package storage persists the nonce ledger in Pebble so consumed orders
// stay consumed across restarts. Order content itself is never stored; the
// engine is stateless beyond nonces and balances.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// NonceStore is a Pebble-backed implementation of nonce.Store.
//
// keys: n:<20-byte-addr><8-byte-nonce> = 1, m:<20-byte-addr> = 8-byte min
type NonceStore struct {
	db *pebble.DB
}

// NewNonceStore opens (or creates) a Pebble database at path.
func NewNonceStore(path string) (*NonceStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &NonceStore{db: db}, nil
}

func (s *NonceStore) Close() error { return s.db.Close() }

func kConsumed(signer common.Address, n uint64) []byte {
	k := make([]byte, 0, 2+20+8)
	k = append(k, 'n', ':')
	k = append(k, signer.Bytes()...)
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], n)
	return append(k, nb[:]...)
}

func kMinNonce(signer common.Address) []byte {
	k := make([]byte, 0, 2+20)
	k = append(k, 'm', ':')
	return append(k, signer.Bytes()...)
}

// SaveConsumed durably marks (signer, nonce) consumed.
func (s *NonceStore) SaveConsumed(signer common.Address, n uint64) error {
	if err := s.db.Set(kConsumed(signer, n), []byte{1}, pebble.Sync); err != nil {
		return fmt.Errorf("save consumed nonce: %w", err)
	}
	return nil
}

// SaveMinNonce durably records the signer's cancellation watermark.
func (s *NonceStore) SaveMinNonce(signer common.Address, min uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], min)
	if err := s.db.Set(kMinNonce(signer), v[:], pebble.Sync); err != nil {
		return fmt.Errorf("save min nonce: %w", err)
	}
	return nil
}

// Snapshot reads back all persisted nonce state for seeding a ledger at
// boot.
func (s *NonceStore) Snapshot() (used map[common.Address][]uint64, min map[common.Address]uint64, err error) {
	used = make(map[common.Address][]uint64)
	min = make(map[common.Address]uint64)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("m:"),
		UpperBound: []byte("n;"), // just past the "n:" prefix
	})
	if err != nil {
		return nil, nil, fmt.Errorf("iterate nonce store: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		switch {
		case len(key) == 2+20 && key[0] == 'm':
			signer := common.BytesToAddress(key[2:])
			min[signer] = binary.BigEndian.Uint64(iter.Value())
		case len(key) == 2+20+8 && key[0] == 'n':
			signer := common.BytesToAddress(key[2 : 2+20])
			n := binary.BigEndian.Uint64(key[2+20:])
			used[signer] = append(used[signer], n)
		}
	}
	return used, min, iter.Error()
}
