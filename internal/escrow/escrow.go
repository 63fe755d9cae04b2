// Package escrow models the account-leg escrow contract: a state
// machine of hash-locked records plus the balance book they move value
// through. It mirrors the on-chain contract guard for guard so leg
// settlement can be validated and replayed without a node connection.
package escrow

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sebastianpulido/crypto-swap/pkg/helpers"
)

// Escrow errors
var (
	ErrDuplicateSwap       = errors.New("swap id already in use")
	ErrInvalidParticipant  = errors.New("participant must not be the zero address or the initiator")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidTimelock     = errors.New("timelock must be in the future")
	ErrInvalidHash         = errors.New("hashed secret must not be zero")
	ErrNotFound            = errors.New("swap record not found")
	ErrAlreadySettled      = errors.New("swap already withdrawn or refunded")
	ErrInvalidSecret       = errors.New("secret does not match hashed secret")
	ErrExpired             = errors.New("timelock has elapsed")
	ErrNotYetExpired       = errors.New("timelock has not elapsed")
	ErrUnauthorized        = errors.New("caller not permitted for this operation")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// NativeToken is the token address standing in for the chain's native
// coin.
var NativeToken = common.Address{}

// Record is one hash-locked escrow entry, keyed by a 32-byte swap id.
type Record struct {
	Initiator   common.Address
	Participant common.Address
	Token       common.Address // NativeToken for the native coin
	Amount      *big.Int
	SecretHash  [32]byte
	Timelock    int64 // absolute unix seconds

	// Settlement flags are monotonic: at most one ever becomes true.
	Withdrawn bool
	Refunded  bool

	// Secret is recorded on withdrawal. Its presence here is the public
	// reveal the counter leg watches for.
	Secret [32]byte
}

// Settled returns true once the record reached a terminal state.
func (r *Record) Settled() bool {
	return r.Withdrawn || r.Refunded
}

type balanceKey struct {
	token  common.Address
	holder common.Address
}

// Ledger holds escrow records and the balances they draw from.
type Ledger struct {
	mu       sync.RWMutex
	records  map[[32]byte]*Record
	balances map[balanceKey]*big.Int

	// Injected clock, real time outside tests.
	now func() time.Time
}

// NewLedger creates an empty escrow ledger. A nil clock means real time.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		records:  make(map[[32]byte]*Record),
		balances: make(map[balanceKey]*big.Int),
		now:      now,
	}
}

// Credit adds funds to a holder's balance. This is how deposits and
// observed inbound transfers enter the book.
func (l *Ledger) Credit(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, holder, amount)
	return nil
}

// BalanceOf returns the holder's balance for a token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[balanceKey{token, holder}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) credit(token, holder common.Address, amount *big.Int) {
	key := balanceKey{token, holder}
	if b, ok := l.balances[key]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[key] = new(big.Int).Set(amount)
}

// Initiate locks amount from the caller's balance under a hashed
// secret. All guards run before any state changes; a failed initiate
// leaves both the record map and the balance book untouched.
func (l *Ledger) Initiate(caller common.Address, id [32]byte, participant, token common.Address, amount *big.Int, secretHash [32]byte, timelock int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[id]; ok {
		return ErrDuplicateSwap
	}
	if participant == (common.Address{}) || participant == caller {
		return ErrInvalidParticipant
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if timelock <= l.now().Unix() {
		return fmt.Errorf("%w: %d", ErrInvalidTimelock, timelock)
	}
	if secretHash == ([32]byte{}) {
		return ErrInvalidHash
	}

	key := balanceKey{token, caller}
	balance, ok := l.balances[key]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s", ErrInsufficientBalance, amount)
	}

	balance.Sub(balance, amount)
	l.records[id] = &Record{
		Initiator:   caller,
		Participant: participant,
		Token:       token,
		Amount:      new(big.Int).Set(amount),
		SecretHash:  secretHash,
		Timelock:    timelock,
	}
	return nil
}

// Withdraw settles a record to the participant in exchange for the
// secret. The secret check is constant-time, runs before the timelock
// check, and the revealed secret is stored on the record.
func (l *Ledger) Withdraw(caller common.Address, id [32]byte, secret [32]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Settled() {
		return ErrAlreadySettled
	}
	if caller != rec.Participant {
		return ErrUnauthorized
	}
	if !secretMatches(secret, rec.SecretHash) {
		return ErrInvalidSecret
	}
	if l.now().Unix() >= rec.Timelock {
		return ErrExpired
	}

	rec.Withdrawn = true
	rec.Secret = secret
	l.credit(rec.Token, rec.Participant, rec.Amount)
	return nil
}

// Refund returns a record's funds to the initiator once the timelock
// has elapsed without a withdrawal.
func (l *Ledger) Refund(caller common.Address, id [32]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Settled() {
		return ErrAlreadySettled
	}
	if caller != rec.Initiator {
		return ErrUnauthorized
	}
	if l.now().Unix() < rec.Timelock {
		return ErrNotYetExpired
	}

	rec.Refunded = true
	l.credit(rec.Token, rec.Initiator, rec.Amount)
	return nil
}

// GetRecord returns a copy of the record for a swap id.
func (l *Ledger) GetRecord(id [32]byte) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	out.Amount = new(big.Int).Set(rec.Amount)
	return &out, nil
}

// IsWithdrawable reports whether Withdraw(participant, id, secret)
// would currently succeed. Pure; same guards as the mutator.
func (l *Ledger) IsWithdrawable(id [32]byte, secret [32]byte) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[id]
	if !ok || rec.Settled() {
		return false
	}
	if !secretMatches(secret, rec.SecretHash) {
		return false
	}
	return l.now().Unix() < rec.Timelock
}

// IsRefundable reports whether Refund(initiator, id) would currently
// succeed. Pure; same guards as the mutator.
func (l *Ledger) IsRefundable(id [32]byte) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[id]
	if !ok || rec.Settled() {
		return false
	}
	return l.now().Unix() >= rec.Timelock
}

func secretMatches(secret [32]byte, expectedHash [32]byte) bool {
	actual := sha256.Sum256(secret[:])
	return helpers.ConstantTimeCompare(actual[:], expectedHash[:])
}
