// Package swap - Coordinator manages swaps and orchestrates settlement
// across the two legs.
package swap

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/sebastianpulido/crypto-swap/internal/escrow"
	"github.com/sebastianpulido/crypto-swap/pkg/logging"
)

// NewCoordinator creates a new swap coordinator. A Repository is
// required; timelock policy falls back to the staggered defaults.
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		repo:          cfg.Repo,
		firstLegLock:  cfg.FirstLegLock,
		secondLegLock: cfg.SecondLegLock,
		safetyMargin:  cfg.SafetyMargin,
		now:           cfg.Now,
		secretReady:   make(map[string]chan struct{}),
		eventHandlers: make([]EventHandler, 0),
		log:           logging.GetDefault().Component("swap"),
		ctx:           ctx,
		cancel:        cancel,
	}
	if c.firstLegLock == 0 {
		c.firstLegLock = DefaultFirstLegLock
	}
	if c.secondLegLock == 0 {
		c.secondLegLock = DefaultSecondLegLock
	}
	if c.safetyMargin == 0 {
		c.safetyMargin = DefaultSafetyMargin
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// DefaultTimelocks returns staggered absolute timelocks from the
// current time: the first locker's expires a full margin after the
// counter-locker's.
func (c *Coordinator) DefaultTimelocks() (first, second int64) {
	now := c.now()
	return now.Add(c.firstLegLock).Unix(), now.Add(c.secondLegLock).Unix()
}

// IsAtomicitySafe reports whether the two timelocks leave the first
// locker no window to claim the counter leg and still refund their own.
// The second leg must expire earlier than the first by at least the
// safety margin.
func (c *Coordinator) IsAtomicitySafe(timelockFirst, timelockSecond int64) bool {
	return timelockSecond+int64(c.safetyMargin.Seconds()) <= timelockFirst
}

// InitiateSwap creates a swap record keyed to a hashed secret. The
// initiator keeps the secret private until claiming the counter leg.
func (c *Coordinator) InitiateSwap(swapID string, secretHash []byte) (*Swap, error) {
	if len(secretHash) != SecretSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHash, len(secretHash))
	}
	if swapID == "" {
		swapID = uuid.New().String()
	}

	now := c.now()
	swap := &Swap{
		ID:         swapID,
		SecretHash: secretHash,
		State:      StateInitiated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.repo.CreateSwap(swap); err != nil {
		return nil, err
	}

	c.log.Info("swap initiated", "swap_id", swapID)
	return swap, nil
}

// GetSwap loads a swap by id.
func (c *Coordinator) GetSwap(swapID string) (*Swap, error) {
	return c.repo.GetSwap(swapID)
}

// RegisterLeg records a locked leg on a swap. At most two legs may be
// registered; the second leg's timelock must satisfy IsAtomicitySafe
// against the first. Once both legs are locked the swap moves to
// CounterLocked.
func (c *Coordinator) RegisterLeg(swapID string, leg *Leg) error {
	if leg == nil {
		return fmt.Errorf("%w: nil leg", ErrLegNotFound)
	}
	if leg.Timelock <= c.now().Unix() {
		return fmt.Errorf("%w: timelock %d is not in the future", ErrInvalidTimelock, leg.Timelock)
	}
	if !validAmount(leg.Amount) {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, leg.Amount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	swap, err := c.repo.GetSwap(swapID)
	if err != nil {
		return err
	}
	if len(swap.Legs) >= 2 {
		return ErrTooManyLegs
	}
	if len(swap.Legs) == 1 && !c.IsAtomicitySafe(swap.Legs[0].Timelock, leg.Timelock) {
		return fmt.Errorf("%w: first expires %d, second %d, margin %s",
			ErrUnsafeTimelocks, swap.Legs[0].Timelock, leg.Timelock, c.safetyMargin)
	}

	if leg.ID == "" {
		leg.ID = uuid.New().String()
	}
	leg.State = LegOpen
	swap.Legs = append(swap.Legs, leg)
	swap.UpdatedAt = c.now()
	if len(swap.Legs) == 2 {
		swap.State = StateCounterLocked
	}

	if err := c.repo.UpdateSwap(swap); err != nil {
		return err
	}

	c.log.Info("leg registered",
		"swap_id", swapID, "leg_id", leg.ID,
		"chain", leg.Symbol, "timelock", leg.Timelock)
	c.emitEvent(swapID, EventLegRegistered, leg)
	if swap.State == StateCounterLocked {
		c.emitEvent(swapID, EventCounterLocked, nil)
	}
	return nil
}

// validAmount accepts positive decimal strings.
func validAmount(s string) bool {
	n, ok := new(big.Int).SetString(s, 10)
	return ok && n.Sign() > 0
}

// ObserveClaim ingests a claim artifact seen on one leg's ledger,
// extracts the secret it reveals and verifies it against the swap's
// hash. The secret is then available to settle the other leg.
// Duplicate deliveries of the same claim are accepted and return the
// already-recorded secret.
func (c *Coordinator) ObserveClaim(swapID, legID string, artifact string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	swap, err := c.repo.GetSwap(swapID)
	if err != nil {
		return nil, err
	}
	leg := swap.LegByID(legID)
	if leg == nil {
		return nil, fmt.Errorf("%w: %s", ErrLegNotFound, legID)
	}

	if leg.State == LegClaimed && swap.Secret != nil {
		return swap.Secret, nil
	}
	if leg.State == LegRefunded {
		return nil, fmt.Errorf("%w: leg %s refunded", ErrLegAlreadyClosed, legID)
	}

	secret, err := extractSecret(leg.Kind, artifact)
	if err != nil {
		return nil, err
	}
	if !VerifySecret(secret, swap.SecretHash) {
		return nil, ErrInvalidSecret
	}

	leg.State = LegClaimed
	swap.Secret = secret
	swap.UpdatedAt = c.now()
	if bothTerminal(swap) {
		swap.State = StateCompleted
	} else {
		swap.State = StateClaimed
	}

	if err := c.repo.UpdateSwap(swap); err != nil {
		return nil, err
	}

	c.signalSecret(swapID)
	c.log.Info("claim observed", "swap_id", swapID, "leg_id", legID, "chain", leg.Symbol)
	c.emitEvent(swapID, EventSecretRevealed, leg)
	if swap.State == StateCompleted {
		c.emitEvent(swapID, EventCompleted, nil)
	}
	return secret, nil
}

// extractSecret decodes a claim artifact for a leg's ledger family.
// UTXO legs publish the secret in the claim scriptSig; account legs
// publish it in the withdraw calldata.
func extractSecret(kind LegKind, artifact string) ([]byte, error) {
	switch kind {
	case LegKindUTXO:
		tx, err := DeserializeTx(artifact)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSecretNotFound, err)
		}
		return ExtractSecretFromClaimTx(tx)
	case LegKindAccount:
		_, secret, err := escrow.ParseWithdrawCalldata(artifact)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSecretNotFound, err)
		}
		return secret[:], nil
	default:
		return nil, fmt.Errorf("%w: unknown leg kind %q", ErrSecretNotFound, kind)
	}
}

// MarkRefunded records that a leg was refunded after its timelock.
func (c *Coordinator) MarkRefunded(swapID, legID, refundTxID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	swap, err := c.repo.GetSwap(swapID)
	if err != nil {
		return err
	}
	leg := swap.LegByID(legID)
	if leg == nil {
		return fmt.Errorf("%w: %s", ErrLegNotFound, legID)
	}
	if leg.State.Terminal() {
		return fmt.Errorf("%w: leg %s is %s", ErrLegAlreadyClosed, legID, leg.State)
	}
	if c.now().Unix() < leg.Timelock {
		return fmt.Errorf("%w: timelock %d", ErrNotYetExpired, leg.Timelock)
	}

	leg.State = LegRefunded
	leg.RefundTxID = refundTxID
	swap.State = StateExpired
	swap.UpdatedAt = c.now()

	if err := c.repo.UpdateSwap(swap); err != nil {
		return err
	}

	c.log.Warn("leg refunded", "swap_id", swapID, "leg_id", legID, "chain", leg.Symbol)
	c.emitEvent(swapID, EventLegRefunded, leg)
	c.emitEvent(swapID, EventExpired, nil)
	return nil
}

// WaitForClaim blocks until the swap's secret is revealed, the leg's
// timelock elapses, or ctx is cancelled. The wait has a hard deadline
// at the timelock: past it the caller is told to refund rather than
// keep watching a leg that can no longer complete.
func (c *Coordinator) WaitForClaim(ctx context.Context, swapID, legID string) (Action, []byte, error) {
	c.mu.Lock()
	swap, err := c.repo.GetSwap(swapID)
	if err != nil {
		c.mu.Unlock()
		return "", nil, err
	}
	leg := swap.LegByID(legID)
	if leg == nil {
		c.mu.Unlock()
		return "", nil, fmt.Errorf("%w: %s", ErrLegNotFound, legID)
	}
	if swap.Secret != nil {
		secret := swap.Secret
		c.mu.Unlock()
		return ActionClaim, secret, nil
	}
	ready := c.readyChan(swapID)
	remaining := time.Unix(leg.Timelock, 0).Sub(c.now())
	c.mu.Unlock()

	if remaining <= 0 {
		return ActionRefund, nil, nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ready:
		c.mu.RLock()
		defer c.mu.RUnlock()
		swap, err := c.repo.GetSwap(swapID)
		if err != nil {
			return "", nil, err
		}
		return ActionClaim, swap.Secret, nil
	case <-timer.C:
		return ActionRefund, nil, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-c.ctx.Done():
		return "", nil, c.ctx.Err()
	}
}

// readyChan returns the channel closed when the swap's secret arrives.
// Caller must hold c.mu.
func (c *Coordinator) readyChan(swapID string) chan struct{} {
	ch, ok := c.secretReady[swapID]
	if !ok {
		ch = make(chan struct{})
		c.secretReady[swapID] = ch
	}
	return ch
}

// signalSecret wakes every waiter on the swap. Safe to call once per
// leg; the channel is only closed the first time. Caller must hold c.mu.
func (c *Coordinator) signalSecret(swapID string) {
	ch, ok := c.secretReady[swapID]
	if !ok {
		ch = make(chan struct{})
		close(ch)
		c.secretReady[swapID] = ch
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func bothTerminal(swap *Swap) bool {
	if len(swap.Legs) < 2 {
		return false
	}
	for _, leg := range swap.Legs {
		if !leg.State.Terminal() {
			return false
		}
	}
	return true
}

// OnEvent registers an event handler.
func (c *Coordinator) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandlers = append(c.eventHandlers, handler)
}

// emitEvent emits an event to all handlers.
// NOTE: Caller must hold c.mu (read or write lock).
func (c *Coordinator) emitEvent(swapID, eventType string, data interface{}) {
	event := SwapEvent{
		SwapID:    swapID,
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	// Copy handlers while we already hold the lock (caller holds c.mu)
	handlers := make([]EventHandler, len(c.eventHandlers))
	copy(handlers, c.eventHandlers)

	for _, handler := range handlers {
		go handler(event)
	}
}

// Close shuts down the coordinator and cancels pending waits.
func (c *Coordinator) Close() error {
	c.cancel()
	return nil
}
