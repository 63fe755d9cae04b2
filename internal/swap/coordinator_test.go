package swap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/sebastianpulido/crypto-swap/internal/chain"
	"github.com/sebastianpulido/crypto-swap/internal/escrow"
)

// fakeClock is a settable clock shared with the coordinator under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := NewCoordinator(&CoordinatorConfig{
		Repo: NewMemoryRepository(),
		Now:  clock.Now,
	})
	t.Cleanup(func() { c.Close() })
	return c, clock
}

func testLeg(symbol string, kind LegKind, timelock int64) *Leg {
	return &Leg{
		Symbol:   symbol,
		Network:  chain.Mainnet,
		Kind:     kind,
		Locator:  "escrow-" + symbol,
		Amount:   "100000",
		Timelock: timelock,
	}
}

// claimArtifact builds a serialized claim transaction revealing secret.
func claimArtifact(t *testing.T, secret []byte) string {
	t.Helper()
	claimPriv, _ := btcec.NewPrivateKey()
	refundPriv, _ := btcec.NewPrivateKey()
	_, destAddr := newTestAddress(t)

	script, err := BuildRedeemScript(
		HashSecret(secret), testLockTime,
		claimPriv.PubKey().SerializeCompressed(),
		refundPriv.PubKey().SerializeCompressed(),
	)
	if err != nil {
		t.Fatalf("BuildRedeemScript() failed: %v", err)
	}

	tx, err := BuildClaimTx(&SpendTxParams{
		Symbol:        "BTC",
		Network:       chain.Mainnet,
		FundingTxID:   testFundingTxID,
		FundingVout:   0,
		FundingAmount: 100000,
		RedeemScript:  script,
		DestAddress:   destAddr,
		FeeRate:       1,
		PrivKey:       claimPriv,
	}, secret)
	if err != nil {
		t.Fatalf("BuildClaimTx() failed: %v", err)
	}

	hexStr, err := SerializeTx(tx)
	if err != nil {
		t.Fatalf("SerializeTx() failed: %v", err)
	}
	return hexStr
}

func TestInitiateSwap(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, hash, _ := GenerateSecretPair()

	swap, err := c.InitiateSwap("trade-1", hash)
	if err != nil {
		t.Fatalf("InitiateSwap() failed: %v", err)
	}
	if swap.State != StateInitiated {
		t.Errorf("state = %s, want %s", swap.State, StateInitiated)
	}

	if _, err := c.InitiateSwap("trade-1", hash); !errors.Is(err, ErrSwapExists) {
		t.Errorf("duplicate id: error = %v, want ErrSwapExists", err)
	}
	if _, err := c.InitiateSwap("trade-2", hash[:16]); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("short hash: error = %v, want ErrInvalidHash", err)
	}

	// Empty id gets one assigned.
	swap2, err := c.InitiateSwap("", hash)
	if err != nil {
		t.Fatalf("InitiateSwap() failed: %v", err)
	}
	if swap2.ID == "" {
		t.Error("expected a generated swap id")
	}
}

func TestIsAtomicitySafe(t *testing.T) {
	c, clock := newTestCoordinator(t)
	base := clock.Now().Unix()
	margin := int64(DefaultSafetyMargin.Seconds())

	tests := []struct {
		name   string
		first  int64
		second int64
		want   bool
	}{
		{"staggered defaults", base + 86400, base + 43200, true},
		{"exactly at margin", base + 43200 + margin, base + 43200, true},
		{"one second inside margin", base + 43200 + margin - 1, base + 43200, false},
		{"equal timelocks", base + 86400, base + 86400, false},
		{"second expires later", base + 43200, base + 86400, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsAtomicitySafe(tt.first, tt.second); got != tt.want {
				t.Errorf("IsAtomicitySafe(%d, %d) = %v, want %v", tt.first, tt.second, got, tt.want)
			}
		})
	}
}

func TestDefaultTimelocksAreStaggered(t *testing.T) {
	c, _ := newTestCoordinator(t)
	first, second := c.DefaultTimelocks()
	if !c.IsAtomicitySafe(first, second) {
		t.Errorf("default timelocks (%d, %d) must satisfy the safety margin", first, second)
	}
}

func TestRegisterLeg(t *testing.T) {
	c, clock := newTestCoordinator(t)
	_, hash, _ := GenerateSecretPair()
	if _, err := c.InitiateSwap("trade-1", hash); err != nil {
		t.Fatalf("InitiateSwap() failed: %v", err)
	}
	first, second := c.DefaultTimelocks()

	if err := c.RegisterLeg("trade-1", testLeg("BTC", LegKindUTXO, first)); err != nil {
		t.Fatalf("first RegisterLeg() failed: %v", err)
	}
	swap, _ := c.GetSwap("trade-1")
	if swap.State != StateInitiated {
		t.Errorf("state after one leg = %s, want %s", swap.State, StateInitiated)
	}

	t.Run("unsafe second timelock", func(t *testing.T) {
		err := c.RegisterLeg("trade-1", testLeg("ETH", LegKindAccount, first))
		if !errors.Is(err, ErrUnsafeTimelocks) {
			t.Errorf("error = %v, want ErrUnsafeTimelocks", err)
		}
	})

	if err := c.RegisterLeg("trade-1", testLeg("ETH", LegKindAccount, second)); err != nil {
		t.Fatalf("second RegisterLeg() failed: %v", err)
	}
	swap, _ = c.GetSwap("trade-1")
	if swap.State != StateCounterLocked {
		t.Errorf("state after both legs = %s, want %s", swap.State, StateCounterLocked)
	}
	if swap.Legs[0].ID == "" || swap.Legs[1].ID == "" {
		t.Error("legs should get ids assigned")
	}

	t.Run("third leg", func(t *testing.T) {
		err := c.RegisterLeg("trade-1", testLeg("LTC", LegKindUTXO, second))
		if !errors.Is(err, ErrTooManyLegs) {
			t.Errorf("error = %v, want ErrTooManyLegs", err)
		}
	})

	t.Run("unknown swap", func(t *testing.T) {
		err := c.RegisterLeg("nope", testLeg("BTC", LegKindUTXO, first))
		if !errors.Is(err, ErrSwapNotFound) {
			t.Errorf("error = %v, want ErrSwapNotFound", err)
		}
	})

	t.Run("past timelock", func(t *testing.T) {
		err := c.RegisterLeg("trade-1", testLeg("BTC", LegKindUTXO, clock.Now().Unix()-1))
		if !errors.Is(err, ErrInvalidTimelock) {
			t.Errorf("error = %v, want ErrInvalidTimelock", err)
		}
	})

	t.Run("bad amount", func(t *testing.T) {
		leg := testLeg("BTC", LegKindUTXO, first)
		leg.Amount = "0"
		if err := c.RegisterLeg("trade-1", leg); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("error = %v, want ErrInvalidAmount", err)
		}
	})
}

// setupLockedSwap registers a two-leg swap and returns the secret.
func setupLockedSwap(t *testing.T, c *Coordinator, swapID string) (secret []byte, swap *Swap) {
	t.Helper()
	secret, hash, err := GenerateSecretPair()
	if err != nil {
		t.Fatalf("GenerateSecretPair() failed: %v", err)
	}
	if _, err := c.InitiateSwap(swapID, hash); err != nil {
		t.Fatalf("InitiateSwap() failed: %v", err)
	}
	first, second := c.DefaultTimelocks()
	if err := c.RegisterLeg(swapID, testLeg("BTC", LegKindUTXO, first)); err != nil {
		t.Fatalf("RegisterLeg(BTC) failed: %v", err)
	}
	if err := c.RegisterLeg(swapID, testLeg("ETH", LegKindAccount, second)); err != nil {
		t.Fatalf("RegisterLeg(ETH) failed: %v", err)
	}
	swap, err = c.GetSwap(swapID)
	if err != nil {
		t.Fatalf("GetSwap() failed: %v", err)
	}
	return secret, swap
}

func TestObserveClaimUTXOLeg(t *testing.T) {
	c, _ := newTestCoordinator(t)
	secret, swap := setupLockedSwap(t, c, "trade-1")
	artifact := claimArtifact(t, secret)
	legID := swap.Legs[0].ID

	got, err := c.ObserveClaim("trade-1", legID, artifact)
	if err != nil {
		t.Fatalf("ObserveClaim() failed: %v", err)
	}
	if !VerifySecret(got, swap.SecretHash) {
		t.Error("observed secret does not match the swap hash")
	}

	swap, _ = c.GetSwap("trade-1")
	if swap.State != StateClaimed {
		t.Errorf("state = %s, want %s", swap.State, StateClaimed)
	}
	if swap.Legs[0].State != LegClaimed {
		t.Errorf("leg state = %s, want %s", swap.Legs[0].State, LegClaimed)
	}

	// Duplicate delivery is accepted.
	again, err := c.ObserveClaim("trade-1", legID, artifact)
	if err != nil {
		t.Fatalf("duplicate ObserveClaim() failed: %v", err)
	}
	if string(again) != string(got) {
		t.Error("duplicate delivery should return the same secret")
	}
}

func TestObserveClaimAccountLeg(t *testing.T) {
	c, _ := newTestCoordinator(t)
	secret, swap := setupLockedSwap(t, c, "trade-1")

	var id, secret32 [32]byte
	copy(secret32[:], secret)
	calldata, err := escrow.EncodeWithdraw(id, secret32)
	if err != nil {
		t.Fatalf("EncodeWithdraw failed: %v", err)
	}

	got, err := c.ObserveClaim("trade-1", swap.Legs[1].ID, calldata)
	if err != nil {
		t.Fatalf("ObserveClaim() failed: %v", err)
	}
	if string(got) != string(secret) {
		t.Error("secret mismatch")
	}
}

func TestObserveClaimWrongSecret(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, swap := setupLockedSwap(t, c, "trade-1")

	// A claim of a different hashlock parses but reveals the wrong secret.
	other, _, _ := GenerateSecretPair()
	artifact := claimArtifact(t, other)

	if _, err := c.ObserveClaim("trade-1", swap.Legs[0].ID, artifact); !errors.Is(err, ErrInvalidSecret) {
		t.Errorf("error = %v, want ErrInvalidSecret", err)
	}

	t.Run("garbage artifact", func(t *testing.T) {
		_, err := c.ObserveClaim("trade-1", swap.Legs[0].ID, "not-a-tx")
		if !errors.Is(err, ErrSecretNotFound) {
			t.Errorf("error = %v, want ErrSecretNotFound", err)
		}
	})

	t.Run("unknown leg", func(t *testing.T) {
		_, err := c.ObserveClaim("trade-1", "nope", artifact)
		if !errors.Is(err, ErrLegNotFound) {
			t.Errorf("error = %v, want ErrLegNotFound", err)
		}
	})
}

func TestSwapCompletesWhenBothLegsClaim(t *testing.T) {
	c, _ := newTestCoordinator(t)
	secret, swap := setupLockedSwap(t, c, "trade-1")

	if _, err := c.ObserveClaim("trade-1", swap.Legs[0].ID, claimArtifact(t, secret)); err != nil {
		t.Fatalf("first ObserveClaim() failed: %v", err)
	}

	var id, secret32 [32]byte
	copy(secret32[:], secret)
	calldata, _ := escrow.EncodeWithdraw(id, secret32)
	if _, err := c.ObserveClaim("trade-1", swap.Legs[1].ID, calldata); err != nil {
		t.Fatalf("second ObserveClaim() failed: %v", err)
	}

	got, _ := c.GetSwap("trade-1")
	if got.State != StateCompleted {
		t.Errorf("state = %s, want %s", got.State, StateCompleted)
	}
}

func TestMarkRefunded(t *testing.T) {
	c, clock := newTestCoordinator(t)
	_, swap := setupLockedSwap(t, c, "trade-1")
	legID := swap.Legs[1].ID // second leg expires first

	if err := c.MarkRefunded("trade-1", legID, "txid"); !errors.Is(err, ErrNotYetExpired) {
		t.Errorf("early refund: error = %v, want ErrNotYetExpired", err)
	}

	clock.Advance(DefaultSecondLegLock + time.Second)
	if err := c.MarkRefunded("trade-1", legID, "txid"); err != nil {
		t.Fatalf("MarkRefunded() failed: %v", err)
	}

	got, _ := c.GetSwap("trade-1")
	if got.State != StateExpired {
		t.Errorf("state = %s, want %s", got.State, StateExpired)
	}
	if got.LegByID(legID).RefundTxID != "txid" {
		t.Error("refund txid not recorded")
	}

	if err := c.MarkRefunded("trade-1", legID, "txid"); !errors.Is(err, ErrLegAlreadyClosed) {
		t.Errorf("double refund: error = %v, want ErrLegAlreadyClosed", err)
	}
}

func TestWaitForClaimReceivesSecret(t *testing.T) {
	c, _ := newTestCoordinator(t)
	secret, swap := setupLockedSwap(t, c, "trade-1")

	type result struct {
		action Action
		secret []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		action, s, err := c.WaitForClaim(context.Background(), "trade-1", swap.Legs[0].ID)
		done <- result{action, s, err}
	}()

	// Give the waiter a moment to park, then reveal.
	time.Sleep(10 * time.Millisecond)
	if _, err := c.ObserveClaim("trade-1", swap.Legs[0].ID, claimArtifact(t, secret)); err != nil {
		t.Fatalf("ObserveClaim() failed: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("WaitForClaim() failed: %v", r.err)
		}
		if r.action != ActionClaim {
			t.Errorf("action = %s, want %s", r.action, ActionClaim)
		}
		if string(r.secret) != string(secret) {
			t.Error("secret mismatch")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForClaim did not return after the reveal")
	}
}

func TestWaitForClaimPastDeadline(t *testing.T) {
	c, clock := newTestCoordinator(t)
	_, swap := setupLockedSwap(t, c, "trade-1")

	clock.Advance(DefaultSecondLegLock + time.Second)
	action, secret, err := c.WaitForClaim(context.Background(), "trade-1", swap.Legs[1].ID)
	if err != nil {
		t.Fatalf("WaitForClaim() failed: %v", err)
	}
	if action != ActionRefund {
		t.Errorf("action = %s, want %s", action, ActionRefund)
	}
	if secret != nil {
		t.Error("no secret expected past the deadline")
	}
}

func TestWaitForClaimCancel(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, swap := setupLockedSwap(t, c, "trade-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := c.WaitForClaim(ctx, "trade-1", swap.Legs[0].ID)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForClaim did not honor cancellation")
	}
}

func TestWaitForClaimAlreadyRevealed(t *testing.T) {
	c, _ := newTestCoordinator(t)
	secret, swap := setupLockedSwap(t, c, "trade-1")

	if _, err := c.ObserveClaim("trade-1", swap.Legs[0].ID, claimArtifact(t, secret)); err != nil {
		t.Fatalf("ObserveClaim() failed: %v", err)
	}

	action, got, err := c.WaitForClaim(context.Background(), "trade-1", swap.Legs[1].ID)
	if err != nil {
		t.Fatalf("WaitForClaim() failed: %v", err)
	}
	if action != ActionClaim || string(got) != string(secret) {
		t.Error("an already-revealed secret should return immediately")
	}
}

func TestEventsEmitted(t *testing.T) {
	c, _ := newTestCoordinator(t)

	var mu sync.Mutex
	seen := make(map[string]int)
	c.OnEvent(func(e SwapEvent) {
		mu.Lock()
		seen[e.EventType]++
		mu.Unlock()
	})

	secret, swap := setupLockedSwap(t, c, "trade-1")
	if _, err := c.ObserveClaim("trade-1", swap.Legs[0].ID, claimArtifact(t, secret)); err != nil {
		t.Fatalf("ObserveClaim() failed: %v", err)
	}

	// Handlers run on their own goroutines.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		ok := seen[EventLegRegistered] == 2 && seen[EventCounterLocked] == 1 && seen[EventSecretRevealed] == 1
		mu.Unlock()
		if ok {
			return
		}
		select {
		case <-deadline:
			mu.Lock()
			snapshot := make(map[string]int, len(seen))
			for k, v := range seen {
				snapshot[k] = v
			}
			mu.Unlock()
			t.Fatalf("missing events, saw %v", snapshot)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
