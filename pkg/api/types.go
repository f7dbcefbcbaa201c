package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftx/pkg/exchange"
	"github.com/uhyunpark/nftx/pkg/exchange/engine"
)

// ==============================
// Request types
// ==============================

// TakeRequest settles maker orders directly against the caller.
// Fulfillments[i] is the caller's concrete item proposal for Orders[i].
// Value is the attached native amount; it must exactly equal the summed
// enforced prices of the native-currency orders.
type TakeRequest struct {
	Caller       string                 `json:"caller"`
	Orders       []*exchange.Order      `json:"orders"`
	Fulfillments []exchange.Fulfillment `json:"fulfillments"`
	Value        *big.Int               `json:"value,omitempty"`
}

// TakeManyRequest settles fully specific maker orders; the orders' own
// criteria double as their fulfillments.
type TakeManyRequest struct {
	Caller string            `json:"caller"`
	Orders []*exchange.Order `json:"orders"`
	Value  *big.Int          `json:"value,omitempty"`
}

// MatchPairedRequest settles sell/buy maker pairs brought together by a
// third-party relayer. Fulfillments[i] serves Sells[i] and Buys[i].
type MatchPairedRequest struct {
	Caller       string                 `json:"caller"`
	Sells        []*exchange.Order      `json:"sells"`
	Buys         []*exchange.Order      `json:"buys"`
	Fulfillments []exchange.Fulfillment `json:"fulfillments"`
}

// MatchOneToManyRequest settles one anchor order against several
// counter-orders on the opposite side.
type MatchOneToManyRequest struct {
	Caller   string            `json:"caller"`
	Anchor   *exchange.Order   `json:"anchor"`
	Counters []*exchange.Order `json:"counters"`
}

// CancelBelowRequest raises the caller's minimum valid nonce.
type CancelBelowRequest struct {
	Caller   string `json:"caller"`
	MinNonce uint64 `json:"minNonce"`
}

// CancelMultipleRequest voids specific unconsumed nonces.
type CancelMultipleRequest struct {
	Caller string   `json:"caller"`
	Nonces []uint64 `json:"nonces"`
}

// ==============================
// Response types
// ==============================

type VerifyResponse struct {
	Valid   bool        `json:"valid"`
	OrderID common.Hash `json:"orderId"`
}

type NonceStatus struct {
	Signer   string `json:"signer"`
	Nonce    uint64 `json:"nonce"`
	Valid    bool   `json:"valid"`
	MinNonce uint64 `json:"minNonce"`
}

type FeeInfo struct {
	Currency string   `json:"currency"`
	Accrued  *big.Int `json:"accrued"`
}

// SettlementEvent is pushed to WebSocket subscribers of the "settlements"
// channel after every successful settlement call.
type SettlementEvent struct {
	Type       string         `json:"type"` // always "settlement"
	EntryPoint string         `json:"entryPoint"`
	Report     *engine.Report `json:"report"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client-to-server subscription frame.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}
