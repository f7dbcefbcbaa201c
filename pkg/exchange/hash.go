package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/nftx/pkg/crypto"
)

// ProtocolName and ProtocolVersion identify the signing domain. Changing
// either invalidates every outstanding signature.
const (
	ProtocolName    = "NFTX"
	ProtocolVersion = "1"
)

// OrderSigner binds order digests to one engine instance on one network.
// The engine address is part of the EIP-712 domain, so a signature is valid
// for exactly one deployment.
type OrderSigner struct {
	chainID *big.Int
	engine  common.Address
}

// NewOrderSigner creates the typed-data signer for an engine deployment.
func NewOrderSigner(chainID uint64, engine common.Address) *OrderSigner {
	return &OrderSigner{chainID: new(big.Int).SetUint64(chainID), engine: engine}
}

var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "side", Type: "uint8"},
		{Name: "signer", Type: "address"},
		{Name: "numItems", Type: "uint256"},
		{Name: "startPrice", Type: "uint256"},
		{Name: "endPrice", Type: "uint256"},
		{Name: "startTime", Type: "uint256"},
		{Name: "endTime", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "criteriaKind", Type: "uint8"},
		{Name: "items", Type: "Item[]"},
		{Name: "complication", Type: "address"},
		{Name: "currency", Type: "address"},
		{Name: "extra", Type: "bytes"},
	},
	"Item": []apitypes.Type{
		{Name: "collection", Type: "address"},
		{Name: "kind", Type: "uint8"},
		{Name: "tokens", Type: "Token[]"},
	},
	"Token": []apitypes.Type{
		{Name: "tokenId", Type: "uint256"},
		{Name: "units", Type: "uint256"},
	},
}

func (s *OrderSigner) typedData(o *Order) apitypes.TypedData {
	items := make([]interface{}, 0, len(o.Criteria.Items))
	for _, item := range o.Criteria.Items {
		tokens := make([]interface{}, 0, len(item.Tokens))
		for _, tok := range item.Tokens {
			tokens = append(tokens, map[string]interface{}{
				"tokenId": new(big.Int).SetUint64(tok.TokenID).String(),
				"units":   new(big.Int).SetUint64(tok.Units).String(),
			})
		}
		items = append(items, map[string]interface{}{
			"collection": item.Collection.Hex(),
			"kind":       fmt.Sprintf("%d", item.Kind),
			"tokens":     tokens,
		})
	}

	side := uint8(1)
	if o.Side == Sell {
		side = 2
	}

	extra := o.Extra
	if extra == nil {
		extra = []byte{}
	}

	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              ProtocolName,
			Version:           ProtocolVersion,
			ChainId:           (*math.HexOrDecimal256)(s.chainID),
			VerifyingContract: s.engine.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"side":         fmt.Sprintf("%d", side),
			"signer":       o.Signer.Hex(),
			"numItems":     new(big.Int).SetUint64(o.NumItems).String(),
			"startPrice":   o.StartPrice.String(),
			"endPrice":     o.EndPrice.String(),
			"startTime":    new(big.Int).SetUint64(o.StartTime).String(),
			"endTime":      new(big.Int).SetUint64(o.EndTime).String(),
			"nonce":        new(big.Int).SetUint64(o.Nonce).String(),
			"criteriaKind": fmt.Sprintf("%d", o.Criteria.Kind),
			"items":        items,
			"complication": o.Exec.Complication.Hex(),
			"currency":     o.Exec.Currency.Hex(),
			"extra":        extra,
		},
	}
}

// Digest computes the EIP-712 digest every signature must cover:
// keccak256("\x19\x01" || domainSeparator || hashStruct(order)).
func (s *OrderSigner) Digest(o *Order) (common.Hash, error) {
	td := s.typedData(o)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash order: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(msgHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, msgHash...)
	return ethcrypto.Keccak256Hash(raw), nil
}

// Sign signs the order with the given key and fills in Sig and ID. The
// signing key must belong to o.Signer.
func (s *OrderSigner) Sign(key *crypto.Signer, o *Order) error {
	if key.Address() != o.Signer {
		return fmt.Errorf("signing key %s does not match order signer %s", key.Address().Hex(), o.Signer.Hex())
	}
	digest, err := s.Digest(o)
	if err != nil {
		return err
	}
	sig, err := key.Sign(digest.Bytes())
	if err != nil {
		return fmt.Errorf("sign order: %w", err)
	}
	o.Sig = sig
	o.ID = OrderID(o.Signer, o.Nonce, o.ChainID)
	return nil
}

// Verify recomputes the digest and checks that the signature recovers to
// the order's claimed signer.
func (s *OrderSigner) Verify(o *Order) bool {
	if len(o.Sig) != 65 {
		return false
	}
	if o.ChainID != s.chainID.Uint64() {
		return false
	}
	digest, err := s.Digest(o)
	if err != nil {
		return false
	}
	recovered, err := crypto.RecoverAddress(digest.Bytes(), o.Sig)
	if err != nil {
		return false
	}
	return recovered == o.Signer
}
