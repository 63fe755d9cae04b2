// Package swap - Type definitions for the Coordinator.
package swap

import (
	"context"
	"sync"
	"time"

	"github.com/sebastianpulido/crypto-swap/internal/chain"
	"github.com/sebastianpulido/crypto-swap/pkg/logging"
)

// LegKind identifies the ledger family a leg settles on.
type LegKind string

const (
	// LegKindUTXO locks value in a P2SH escrow output.
	LegKindUTXO LegKind = "utxo"

	// LegKindAccount locks value in an escrow contract record.
	LegKindAccount LegKind = "account"
)

// LegState is the settlement state of a single leg.
type LegState string

const (
	LegOpen     LegState = "open"
	LegClaimed  LegState = "claimed"
	LegRefunded LegState = "refunded"
)

// Terminal returns true once the leg can never change state again.
func (s LegState) Terminal() bool {
	return s == LegClaimed || s == LegRefunded
}

// SwapState is the joined state of a swap's legs.
type SwapState string

const (
	// StateInitiated: swap created, first leg locked or being locked.
	StateInitiated SwapState = "initiated"

	// StateCounterLocked: both legs locked on the same hash.
	StateCounterLocked SwapState = "counter_locked"

	// StateClaimed: the secret is public, at least one leg claimed.
	StateClaimed SwapState = "claimed"

	// StateCompleted: both legs claimed.
	StateCompleted SwapState = "completed"

	// StateExpired: a timelock elapsed and a leg was refunded.
	StateExpired SwapState = "expired"
)

// Leg describes one half of a swap: where value is locked and under
// which timelock.
type Leg struct {
	ID      string        `json:"id"`
	Symbol  string        `json:"symbol"`
	Network chain.Network `json:"network"`
	Kind    LegKind       `json:"kind"`

	// Locator points at the lock: the escrow address for a UTXO leg,
	// the 0x-hex swap id for an account leg.
	Locator string `json:"locator"`

	// Amount in the smallest unit, as a decimal string. Account legs
	// exceed uint64 at 18 decimals.
	Amount string `json:"amount"`

	// Timelock is the absolute unix time after which the refund branch
	// opens.
	Timelock int64 `json:"timelock"`

	State LegState `json:"state"`

	// Settlement transaction ids, filled when the leg closes.
	ClaimTxID  string `json:"claim_txid,omitempty"`
	RefundTxID string `json:"refund_txid,omitempty"`
}

// Swap is the persistent record of an atomic swap.
type Swap struct {
	ID         string    `json:"id"`
	SecretHash []byte    `json:"secret_hash"`
	Secret     []byte    `json:"secret,omitempty"` // set once revealed
	State      SwapState `json:"state"`
	Legs       []*Leg    `json:"legs"` // at most two; Legs[0] locks first
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LegByID returns the leg with the given id, or nil.
func (s *Swap) LegByID(legID string) *Leg {
	for _, leg := range s.Legs {
		if leg.ID == legID {
			return leg
		}
	}
	return nil
}

// Repository persists swaps. The coordinator owns no storage of its
// own: every registration and settlement goes through here, so swap
// state survives a restart and is never silently garbage collected.
type Repository interface {
	// CreateSwap inserts a new swap. Returns ErrSwapExists when the id
	// is already taken.
	CreateSwap(swap *Swap) error

	// GetSwap loads a swap by id. Returns ErrSwapNotFound.
	GetSwap(id string) (*Swap, error)

	// UpdateSwap overwrites the stored swap. Returns ErrSwapNotFound.
	UpdateSwap(swap *Swap) error

	// ListOpenSwaps returns swaps that have not reached Completed or
	// Expired.
	ListOpenSwaps() ([]*Swap, error)
}

// Action tells the caller how to settle a leg.
type Action string

const (
	// ActionClaim: the secret is known, claim the leg.
	ActionClaim Action = "claim"

	// ActionRefund: the timelock elapsed without a reveal, refund.
	ActionRefund Action = "refund"
)

// Swap event types.
const (
	EventLegRegistered  = "leg_registered"
	EventCounterLocked  = "counter_locked"
	EventSecretRevealed = "secret_revealed"
	EventLegRefunded    = "leg_refunded"
	EventCompleted      = "completed"
	EventExpired        = "expired"
)

// SwapEvent represents an event that occurred during a swap.
type SwapEvent struct {
	SwapID    string
	EventType string
	Data      interface{}
	Timestamp time.Time
}

// EventHandler is called when swap events occur.
type EventHandler func(event SwapEvent)

// Coordinator drives swaps across two ledger legs sharing one hash.
type Coordinator struct {
	mu sync.RWMutex

	// Dependencies
	repo Repository

	// Timelock policy
	firstLegLock  time.Duration
	secondLegLock time.Duration
	safetyMargin  time.Duration

	// Injected clock, real time outside tests
	now func() time.Time

	// Per-swap channel closed when the secret becomes known
	secretReady map[string]chan struct{}

	// Event handlers
	eventHandlers []EventHandler

	// Logger
	log *logging.Logger

	// Context for background operations
	ctx    context.Context
	cancel context.CancelFunc
}

// CoordinatorConfig holds configuration for the Coordinator.
type CoordinatorConfig struct {
	Repo Repository

	// FirstLegLock is how far in the future the first locker's timelock
	// sits. Zero means DefaultFirstLegLock.
	FirstLegLock time.Duration

	// SecondLegLock is the counter-locker's timelock distance. It must
	// stay below FirstLegLock by at least SafetyMargin, or the first
	// locker could claim the second leg and still refund their own.
	SecondLegLock time.Duration

	// SafetyMargin is the minimum gap between the two timelocks.
	SafetyMargin time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Staggered timelock defaults. Equal timelocks on both legs would let
// the first locker race the counter-locker's refund, so the second leg
// always expires first.
const (
	DefaultFirstLegLock  = 24 * time.Hour
	DefaultSecondLegLock = 12 * time.Hour
	DefaultSafetyMargin  = 6 * time.Hour
)
