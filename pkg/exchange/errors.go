package exchange

import "errors"

// Settlement failure reasons. Every entry point aborts the whole call on the
// first of these it hits; relayers inspect them with errors.Is to decide
// whether a resubmission with adjusted parameters makes sense.
var (
	ErrBadSignature          = errors.New("order signature invalid")
	ErrOutOfTimeWindow       = errors.New("order outside its time window")
	ErrNonceAlreadyUsed      = errors.New("order nonce already used")
	ErrRegistryInactive      = errors.New("currency or complication not active")
	ErrCriteriaMismatch      = errors.New("fulfillment does not satisfy order criteria")
	ErrNoPriceOverlap        = errors.New("sell and buy price bands do not overlap")
	ErrInsufficientValue     = errors.New("attached native value insufficient")
	ErrInsufficientAllowance = errors.New("currency allowance insufficient")
	ErrInsufficientBalance   = errors.New("currency balance insufficient")
	ErrOwnershipMismatch     = errors.New("asset not held by expected party")
)
