package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// AddressFromUncompressedPub derives the address for a 65-byte uncompressed
// secp256k1 public key (0x04 || X || Y): the last 20 bytes of
// keccak256(X || Y).
func AddressFromUncompressedPub(pub []byte) (common.Address, error) {
	if len(pub) != 65 || pub[0] != 0x04 {
		return common.Address{}, fmt.Errorf("want 65-byte uncompressed pubkey, got %d bytes", len(pub))
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:]), nil
}

// ChecksumHex renders an address with the EIP-55 mixed-case checksum: each
// hex letter is uppercased iff the matching nibble of
// keccak256(lowercaseHex) is >= 8.
func ChecksumHex(addr common.Address) string {
	hexaddr := hex.EncodeToString(addr[:])

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		if c >= 'a' && c <= 'f' {
			nibble := hash[i/2] & 0x0f
			if i%2 == 0 {
				nibble = hash[i/2] >> 4
			}
			if nibble >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[2+i] = c
	}
	return string(out)
}
