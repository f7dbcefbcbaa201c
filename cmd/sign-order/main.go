package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftx/params"
	"github.com/uhyunpark/nftx/pkg/crypto"
	"github.com/uhyunpark/nftx/pkg/exchange"
)

// sign-order builds and signs a sample order so it can be submitted to the
// settlement API. With no key flag it generates a fresh keypair and prints
// it; pass -key to reuse one.
func main() {
	var (
		keyHex     = flag.String("key", "", "maker private key hex (generates a new key if empty)")
		side       = flag.String("side", "sell", "order side: buy or sell")
		nonceFlag  = flag.Uint64("nonce", 1, "maker nonce")
		collection = flag.String("collection", "0x00000000000000000000000000000000000000aa", "collection address")
		tokenID    = flag.Uint64("token", 1, "token id")
		price      = flag.String("price", "1000000000000000000", "flat price in wei")
		start      = flag.Uint64("start", 0, "start time (unix seconds)")
		end        = flag.Uint64("end", 0, "end time (unix seconds; 0 means start+24h)")
	)
	flag.Parse()

	cfg := params.LoadFromEnv("")

	var (
		signer *crypto.Signer
		err    error
	)
	if *keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", crypto.ChecksumHex(signer.Address()))
	if *keyHex == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())

		// Cross-check the address derivation from the raw public key.
		pub, _ := hex.DecodeString(signer.PublicKeyHex())
		if derived, err := crypto.AddressFromUncompressedPub(pub); err != nil || derived != signer.Address() {
			fmt.Printf("Error: address derivation mismatch (%v)\n", err)
			os.Exit(1)
		}
	}
	fmt.Println()

	orderSide := exchange.Sell
	if *side == "buy" {
		orderSide = exchange.Buy
	}

	priceWei, ok := new(big.Int).SetString(*price, 10)
	if !ok {
		fmt.Printf("Error: bad price %q\n", *price)
		os.Exit(1)
	}
	endTime := *end
	if endTime == 0 {
		endTime = *start + 24*3600
	}

	order := &exchange.Order{
		ChainID:    cfg.Exchange.ChainID,
		Side:       orderSide,
		Signer:     signer.Address(),
		NumItems:   1,
		StartPrice: priceWei,
		EndPrice:   priceWei,
		StartTime:  *start,
		EndTime:    endTime,
		Nonce:      *nonceFlag,
		Criteria: exchange.Criteria{
			Kind: exchange.CollectionList,
			Items: []exchange.ItemCriteria{{
				Collection: common.HexToAddress(*collection),
				Kind:       exchange.TokenList,
				Tokens:     []exchange.TokenUnit{{TokenID: *tokenID, Units: 1}},
			}},
		},
		Exec: exchange.ExecParams{
			Complication: common.HexToAddress("0x0000000000000000000000000000000000000b0b"),
			Currency:     common.Address{}, // native
		},
	}

	orderSigner := exchange.NewOrderSigner(cfg.Exchange.ChainID, cfg.Exchange.Address)
	if err := orderSigner.Sign(signer, order); err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Side: %s\n", order.Side)
	fmt.Printf("  Price: %s wei\n", order.StartPrice)
	fmt.Printf("  Window: [%d, %d]\n", order.StartTime, order.EndTime)
	fmt.Printf("  Nonce: %d\n", order.Nonce)
	fmt.Printf("  Order ID: %s\n", order.ID.Hex())
	fmt.Printf("  Signature: 0x%x\n\n", order.Sig)

	if !orderSigner.Verify(order) {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Println()

	orderJSON, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Signed Order (JSON):")
	fmt.Println(string(orderJSON))
	fmt.Println()
	fmt.Println("To verify against a running node:")
	fmt.Printf("  POST http://localhost%s/api/v1/orders/verify\n", cfg.Node.ListenAddr)
	fmt.Println("  Content-Type: application/json")
}
