// Package swap implements the cross-ledger HTLC atomic swap core:
// secret handling, redeem script construction, transaction building,
// and the coordinator that ties two ledger legs to one shared hash.
package swap

import "errors"

// Validation errors. Rejected before any state change; the caller must
// correct the input before retrying.
var (
	ErrInvalidHash     = errors.New("hashed secret must be exactly 32 bytes")
	ErrInvalidKey      = errors.New("public key must be 33 (compressed) or 65 (uncompressed) bytes")
	ErrInvalidTimelock = errors.New("timelock outside the unix-time range the ledger recognizes")
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
)

// Guard violations. Rejected atomically with no partial effect; only a
// state change (such as the timelock elapsing) can unblock them.
var (
	ErrInvalidSecret = errors.New("secret does not match hashed secret")
	ErrExpired       = errors.New("timelock has elapsed")
	ErrNotYetExpired = errors.New("timelock has not elapsed")
)

// Propagation errors. Retryable once the underlying condition resolves.
var (
	ErrSecretNotFound    = errors.New("no secret found in claim artifact")
	ErrMalformedScript   = errors.New("script does not match the expected redeem layout")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoUTXOs           = errors.New("no UTXOs available")
	ErrInvalidTxID       = errors.New("invalid transaction ID")
)

// Coordinator errors.
var (
	ErrSwapNotFound     = errors.New("swap not found")
	ErrSwapExists       = errors.New("swap already exists")
	ErrTooManyLegs      = errors.New("swap already has two legs")
	ErrLegNotFound      = errors.New("swap leg not found")
	ErrUnsafeTimelocks  = errors.New("timelocks violate the atomicity safety margin")
	ErrLegAlreadyClosed = errors.New("swap leg already settled")
)
