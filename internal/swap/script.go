// Package swap - Redeem script building for the UTXO leg of an atomic swap.
// This file contains functions for compiling the two-branch HTLC redeem
// script and deriving its base58check escrow address.
package swap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160"

	"github.com/sebastianpulido/crypto-swap/internal/chain"
)

// RedeemScriptData contains all data needed to fund and spend an HTLC output.
type RedeemScriptData struct {
	// The full redeem script (used in the spending scriptSig)
	Script []byte

	// P2SH escrow address derived from the script
	Address string

	// Script hash (RIPEMD160(SHA256(script)), used in the output scriptPubKey)
	ScriptHash []byte

	// Components
	SecretHash  []byte // SHA256 hash that must be revealed to claim
	ClaimantKey []byte // Who can claim with the secret
	RefundKey   []byte // Who can refund after the timelock
	LockTime    int64  // Absolute unix-time refund timelock
}

// validPubKeyLen reports whether b has the length of a compressed or
// uncompressed secp256k1 public key.
func validPubKeyLen(b []byte) bool {
	return len(b) == 33 || len(b) == 65
}

// BuildRedeemScript creates an HTLC redeem script for atomic swaps.
//
// Script structure:
//
//	OP_IF
//	    OP_SHA256 <secret_hash> OP_EQUALVERIFY
//	    <claimant_pubkey> OP_CHECKSIG
//	OP_ELSE
//	    <locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <refund_pubkey> OP_CHECKSIG
//	OP_ENDIF
//
// Claim path (OP_IF branch): requires secret + claimant signature.
// Refund path (OP_ELSE branch): requires refund signature once the
// absolute timelock has passed.
//
// The locktime must sit in [chain.LockTimeThreshold, MaxUint32] so that
// OP_CHECKLOCKTIMEVERIFY interprets it as wall-clock time. A value below
// the threshold would be read as a block height and the refund branch
// would be unusable for decades.
func BuildRedeemScript(secretHash []byte, lockTime int64, claimantKey, refundKey []byte) ([]byte, error) {
	if len(secretHash) != SecretSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHash, len(secretHash))
	}
	if !validPubKeyLen(claimantKey) {
		return nil, fmt.Errorf("%w: claimant key is %d bytes", ErrInvalidKey, len(claimantKey))
	}
	if !validPubKeyLen(refundKey) {
		return nil, fmt.Errorf("%w: refund key is %d bytes", ErrInvalidKey, len(refundKey))
	}
	if lockTime < chain.LockTimeThreshold || lockTime > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTimelock, lockTime)
	}

	builder := txscript.NewScriptBuilder()

	// OP_IF branch (claim with secret)
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(secretHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(claimantKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	// OP_ELSE branch (refund after timelock)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(lockTime)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(refundKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	// OP_ENDIF
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// Hash160 computes RIPEMD160(SHA256(data)), the script-hash digest used
// in P2SH escrow addresses.
func Hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sha[:])
	return h.Sum(nil)
}

// DeriveEscrowAddress derives the deterministic base58check escrow
// address for a redeem script:
//
//	base58check(versionByte ++ RIPEMD160(SHA256(script)))
//
// with the checksum being the first 4 bytes of the double SHA256 of the
// versioned hash. Pure function; identical inputs always yield an
// identical address.
func DeriveEscrowAddress(script []byte, versionByte byte) string {
	return base58.CheckEncode(Hash160(script), versionByte)
}

// BuildRedeemScriptData compiles the redeem script and derives the
// escrow address for a chain in one step.
func BuildRedeemScriptData(secretHash []byte, lockTime int64, claimantKey, refundKey []byte, symbol string, network chain.Network) (*RedeemScriptData, error) {
	params, ok := chain.Get(symbol, network)
	if !ok || !params.IsUTXO() {
		return nil, fmt.Errorf("unsupported UTXO chain: %s", symbol)
	}

	script, err := BuildRedeemScript(secretHash, lockTime, claimantKey, refundKey)
	if err != nil {
		return nil, err
	}

	scriptHash := Hash160(script)

	return &RedeemScriptData{
		Script:      script,
		Address:     base58.CheckEncode(scriptHash, params.ScriptHashAddrID),
		ScriptHash:  scriptHash,
		SecretHash:  secretHash,
		ClaimantKey: claimantKey,
		RefundKey:   refundKey,
		LockTime:    lockTime,
	}, nil
}

// ScriptHex returns the redeem script as a hex string.
func (r *RedeemScriptData) ScriptHex() string {
	return hex.EncodeToString(r.Script)
}

// ParseRedeemScript parses a redeem script and extracts its components.
// Returns secretHash, claimantKey, refundKey, lockTime, or
// ErrMalformedScript when the opcode sequence does not match the layout
// produced by BuildRedeemScript.
func ParseRedeemScript(script []byte) (secretHash, claimantKey, refundKey []byte, lockTime int64, err error) {
	fail := func(what string) ([]byte, []byte, []byte, int64, error) {
		return nil, nil, nil, 0, fmt.Errorf("%w: %s", ErrMalformedScript, what)
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_IF {
		return fail("expected OP_IF")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_SHA256 {
		return fail("expected OP_SHA256")
	}

	if !tokenizer.Next() {
		return fail("expected secret hash")
	}
	secretHash = tokenizer.Data()
	if len(secretHash) != SecretSize {
		return fail("secret hash must be 32 bytes")
	}

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_EQUALVERIFY {
		return fail("expected OP_EQUALVERIFY")
	}

	if !tokenizer.Next() {
		return fail("expected claimant pubkey")
	}
	claimantKey = tokenizer.Data()
	if !validPubKeyLen(claimantKey) {
		return fail("claimant pubkey length")
	}

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKSIG {
		return fail("expected OP_CHECKSIG")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_ELSE {
		return fail("expected OP_ELSE")
	}

	if !tokenizer.Next() {
		return fail("expected locktime")
	}
	op := tokenizer.Opcode()
	if txscript.IsSmallInt(op) {
		lockTime = int64(txscript.AsSmallInt(op))
	} else {
		data := tokenizer.Data()
		if len(data) == 0 || len(data) > 5 {
			return fail("invalid locktime push")
		}
		for i := 0; i < len(data); i++ {
			lockTime |= int64(data[i]) << (8 * i)
		}
	}

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKLOCKTIMEVERIFY {
		return fail("expected OP_CHECKLOCKTIMEVERIFY")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_DROP {
		return fail("expected OP_DROP")
	}

	if !tokenizer.Next() {
		return fail("expected refund pubkey")
	}
	refundKey = tokenizer.Data()
	if !validPubKeyLen(refundKey) {
		return fail("refund pubkey length")
	}

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKSIG {
		return fail("expected OP_CHECKSIG")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_ENDIF {
		return fail("expected OP_ENDIF")
	}

	return secretHash, claimantKey, refundKey, lockTime, nil
}

// EscrowScriptPubKey creates the P2SH scriptPubKey paying to a redeem
// script. Format: OP_HASH160 <20-byte-script-hash> OP_EQUAL.
func EscrowScriptPubKey(script []byte) []byte {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(Hash160(script))
	builder.AddOp(txscript.OP_EQUAL)
	scriptPubKey, _ := builder.Script()
	return scriptPubKey
}
