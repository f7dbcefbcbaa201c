package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestChecksumHexKnownVectors(t *testing.T) {
	// Reference checksummed addresses from the EIP-55 write-up.
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range vectors {
		addr := common.HexToAddress(want)
		if got := ChecksumHex(addr); got != want {
			t.Errorf("ChecksumHex(%s) = %s", want, got)
		}
	}
}

func TestAddressFromUncompressedPub(t *testing.T) {
	s, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	pub, err := hex.DecodeString(s.PublicKeyHex())
	if err != nil {
		t.Fatalf("decode pubkey hex: %v", err)
	}

	got, err := AddressFromUncompressedPub(pub)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	if got != s.Address() {
		t.Errorf("derived %s, want %s", got.Hex(), s.Address().Hex())
	}
}

func TestAddressFromUncompressedPubRejectsBadInput(t *testing.T) {
	if _, err := AddressFromUncompressedPub(make([]byte, 64)); err == nil {
		t.Error("short pubkey accepted")
	}
	bad := make([]byte, 65)
	bad[0] = 0x02 // compressed prefix
	if _, err := AddressFromUncompressedPub(bad); err == nil {
		t.Error("compressed prefix accepted")
	}
}
