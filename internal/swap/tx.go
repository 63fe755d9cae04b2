// Package swap - Transaction building for atomic swaps.
// This file contains the logic for constructing funding, claim and
// refund transactions that move value through a P2SH escrow output.
package swap

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/sebastianpulido/crypto-swap/internal/chain"
)

// UTXO is an unspent output the funder controls.
type UTXO struct {
	TxID   string
	Vout   uint32
	Amount uint64 // in the smallest unit (satoshis)
}

// Legacy transaction size estimates in bytes. P2PKH inputs carry a
// ~107-byte scriptSig, outputs are 34 bytes, plus 10 bytes of overhead.
const (
	txOverheadSize = 10
	p2pkhInputSize = 148
	txOutputSize   = 34
	p2shSpendExtra = 120 // redeem script + branch selector in the scriptSig
)

// FundingTxParams contains parameters for creating a funding transaction.
type FundingTxParams struct {
	// Chain parameters
	Symbol  string
	Network chain.Network

	// Inputs (UTXOs to spend)
	UTXOs []UTXO

	// The escrow redeem script; the swap output pays to its hash
	RedeemScript []byte
	SwapAmount   uint64

	// Change address for leftover funds
	ChangeAddress string

	// Fee rate in sat/vB
	FeeRate uint64
}

// BuildFundingTx creates a transaction locking SwapAmount into the P2SH
// escrow output of the redeem script. Returns the unsigned transaction;
// the caller signs the inputs with whatever keys own the UTXOs.
func BuildFundingTx(params *FundingTxParams) (*wire.MsgTx, error) {
	if len(params.UTXOs) == 0 {
		return nil, ErrNoUTXOs
	}
	if params.SwapAmount == 0 {
		return nil, ErrInvalidAmount
	}
	if len(params.RedeemScript) == 0 {
		return nil, fmt.Errorf("%w: empty redeem script", ErrMalformedScript)
	}

	chainParams, ok := chain.Get(params.Symbol, params.Network)
	if !ok || !chainParams.IsUTXO() {
		return nil, fmt.Errorf("unsupported UTXO chain: %s", params.Symbol)
	}

	tx := wire.NewMsgTx(wire.TxVersion)

	// Calculate total input amount
	var totalInput uint64
	for _, utxo := range params.UTXOs {
		totalInput += utxo.Amount
	}

	// Add inputs
	for _, utxo := range params.UTXOs {
		txHash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTxID, utxo.TxID)
		}
		outpoint := wire.NewOutPoint(txHash, utxo.Vout)
		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum - 2 // Enable RBF
		tx.AddTxIn(txIn)
	}

	// Add escrow output (P2SH)
	tx.AddTxOut(wire.NewTxOut(int64(params.SwapAmount), EscrowScriptPubKey(params.RedeemScript)))

	// Estimate fee assuming a change output is needed
	estimatedSize := txOverheadSize + len(params.UTXOs)*p2pkhInputSize + 2*txOutputSize
	fee := uint64(estimatedSize) * params.FeeRate

	totalOutput := params.SwapAmount + fee
	if totalInput < totalOutput {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, totalOutput, totalInput)
	}

	// Add change output if above dust threshold
	change := totalInput - totalOutput
	if change > chainParams.DustThreshold {
		changeScript, err := addressToScript(params.ChangeAddress, params.Symbol, params.Network)
		if err != nil {
			return nil, fmt.Errorf("invalid change address: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	return tx, nil
}

// SpendBranch identifies which branch of the redeem script a spending
// transaction takes. The branch carries exactly the data its script
// path needs; the scriptSig layout is chosen at serialization time, so
// an invalid combination (a refund carrying a secret, a claim without
// one) cannot be represented.
type SpendBranch interface {
	scriptSig(redeemScript []byte) ([]byte, error)
}

// ClaimBranch spends via the hashlock path. Requires the secret and the
// claimant's signature.
type ClaimBranch struct {
	Secret    []byte
	Signature []byte
}

// scriptSig layout: <sig> <secret> OP_TRUE <redeem_script>
func (b ClaimBranch) scriptSig(redeemScript []byte) ([]byte, error) {
	if len(b.Secret) != SecretSize {
		return nil, fmt.Errorf("%w: secret is %d bytes", ErrInvalidSecret, len(b.Secret))
	}
	builder := txscript.NewScriptBuilder()
	builder.AddData(b.Signature)
	builder.AddData(b.Secret)
	builder.AddOp(txscript.OP_TRUE)
	builder.AddData(redeemScript)
	return builder.Script()
}

// RefundBranch spends via the timelock path. Requires only the refund
// signature; validity further depends on the transaction locktime.
type RefundBranch struct {
	Signature []byte
}

// scriptSig layout: <sig> OP_FALSE <redeem_script>
func (b RefundBranch) scriptSig(redeemScript []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(b.Signature)
	builder.AddOp(txscript.OP_FALSE)
	builder.AddData(redeemScript)
	return builder.Script()
}

// SpendTxParams contains the parameters shared by claim and refund
// transactions spending the escrow output.
type SpendTxParams struct {
	// Chain parameters
	Symbol  string
	Network chain.Network

	// Input (the P2SH escrow output to spend)
	FundingTxID   string
	FundingVout   uint32
	FundingAmount uint64

	// The escrow redeem script
	RedeemScript []byte

	// Output address for the released funds
	DestAddress string

	// Fee rate in sat/vB
	FeeRate uint64

	// Private key for signing
	PrivKey *btcec.PrivateKey
}

// BuildClaimTx creates a transaction claiming the escrow output with
// the secret. The signature commits to the redeem script via the legacy
// P2SH sighash.
//
// scriptSig structure: [signature, secret, OP_TRUE, redeem_script]
func BuildClaimTx(params *SpendTxParams, secret []byte) (*wire.MsgTx, error) {
	if params.PrivKey == nil {
		return nil, fmt.Errorf("private key required for claim")
	}
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("%w: secret is %d bytes", ErrInvalidSecret, len(secret))
	}

	tx, err := buildSpendSkeleton(params, 0)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum

	sigBytes, err := signSpendInput(tx, params)
	if err != nil {
		return nil, err
	}

	return finishSpendTx(tx, params.RedeemScript, ClaimBranch{Secret: secret, Signature: sigBytes})
}

// BuildRefundTx creates a transaction refunding the escrow output after
// its absolute timelock. The transaction locktime is set to the script's
// timelock and the input sequence is lowered below final so the
// locktime is enforced.
//
// scriptSig structure: [signature, OP_FALSE, redeem_script]
func BuildRefundTx(params *SpendTxParams) (*wire.MsgTx, error) {
	if params.PrivKey == nil {
		return nil, fmt.Errorf("private key required for refund")
	}

	_, _, _, lockTime, err := ParseRedeemScript(params.RedeemScript)
	if err != nil {
		return nil, err
	}

	tx, err := buildSpendSkeleton(params, uint32(lockTime))
	if err != nil {
		return nil, err
	}
	// A final sequence would disable locktime checking entirely.
	tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum - 1

	sigBytes, err := signSpendInput(tx, params)
	if err != nil {
		return nil, err
	}

	return finishSpendTx(tx, params.RedeemScript, RefundBranch{Signature: sigBytes})
}

// buildSpendSkeleton creates the unsigned single-input spend of the
// escrow output, with locktime and fee handling shared by both branches.
func buildSpendSkeleton(params *SpendTxParams, lockTime uint32) (*wire.MsgTx, error) {
	if len(params.RedeemScript) == 0 {
		return nil, fmt.Errorf("%w: empty redeem script", ErrMalformedScript)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = lockTime

	txHash, err := chainhash.NewHashFromStr(params.FundingTxID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTxID, params.FundingTxID)
	}
	outpoint := wire.NewOutPoint(txHash, params.FundingVout)
	tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))

	estimatedSize := txOverheadSize + p2pkhInputSize + p2shSpendExtra + txOutputSize
	fee := uint64(estimatedSize) * params.FeeRate
	if params.FundingAmount <= fee {
		return nil, fmt.Errorf("%w: funding %d <= fee %d", ErrInsufficientFunds, params.FundingAmount, fee)
	}

	destScript, err := addressToScript(params.DestAddress, params.Symbol, params.Network)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(int64(params.FundingAmount-fee), destScript))

	return tx, nil
}

// signSpendInput signs input 0 against the redeem script with the
// legacy sighash and appends the SIGHASH_ALL byte.
func signSpendInput(tx *wire.MsgTx, params *SpendTxParams) ([]byte, error) {
	sighash, err := txscript.CalcSignatureHash(params.RedeemScript, txscript.SigHashAll, tx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sighash: %w", err)
	}
	sig := btcecdsa.Sign(params.PrivKey, sighash)
	return append(sig.Serialize(), byte(txscript.SigHashAll)), nil
}

// finishSpendTx compiles the branch into a scriptSig and attaches it.
func finishSpendTx(tx *wire.MsgTx, redeemScript []byte, branch SpendBranch) (*wire.MsgTx, error) {
	scriptSig, err := branch.scriptSig(redeemScript)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].SignatureScript = scriptSig
	return tx, nil
}

// ExtractSecretFromClaimTx scans a transaction's inputs for a claim
// scriptSig and returns the 32-byte secret it reveals. This is how the
// counterparty learns the secret once the claim hits the first ledger.
// Returns ErrSecretNotFound when no input matches the claim layout.
func ExtractSecretFromClaimTx(tx *wire.MsgTx) ([]byte, error) {
	for _, txIn := range tx.TxIn {
		secret, ok := secretFromScriptSig(txIn.SignatureScript)
		if ok {
			return secret, nil
		}
	}
	return nil, ErrSecretNotFound
}

// secretFromScriptSig matches the claim layout
// <sig> <secret> OP_TRUE <redeem_script> and returns the secret push.
func secretFromScriptSig(scriptSig []byte) ([]byte, bool) {
	if len(scriptSig) == 0 {
		return nil, false
	}

	type push struct {
		op   byte
		data []byte
	}
	var pushes []push

	tokenizer := txscript.MakeScriptTokenizer(0, scriptSig)
	for tokenizer.Next() {
		pushes = append(pushes, push{tokenizer.Opcode(), tokenizer.Data()})
	}
	if tokenizer.Err() != nil || len(pushes) != 4 {
		return nil, false
	}

	// Second push is the secret, third must be the claim branch selector.
	if pushes[2].op != txscript.OP_TRUE {
		return nil, false
	}
	if len(pushes[1].data) != SecretSize {
		return nil, false
	}

	// The last push must parse as a redeem script whose hashlock the
	// secret actually opens. This rejects unrelated 4-push scriptSigs.
	secretHash, _, _, _, err := ParseRedeemScript(pushes[3].data)
	if err != nil {
		return nil, false
	}
	if !VerifySecret(pushes[1].data, secretHash) {
		return nil, false
	}

	return pushes[1].data, true
}

// SerializeTx serializes a transaction to hex.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DeserializeTx deserializes a transaction from hex.
func DeserializeTx(hexStr string) (*wire.MsgTx, error) {
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %w", err)
	}

	return tx, nil
}

// SelectUTXOs selects UTXOs to cover a target amount plus estimated fees.
// Returns selected UTXOs and total selected amount.
// This is a simple greedy algorithm - select largest UTXOs first.
func SelectUTXOs(utxos []UTXO, targetAmount, feeRate uint64) ([]UTXO, uint64, error) {
	if len(utxos) == 0 {
		return nil, 0, ErrNoUTXOs
	}

	// Sort UTXOs by amount (descending)
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sortUTXOs(sorted)

	var selected []UTXO
	var totalSelected uint64

	// Estimate base fee (tx overhead + escrow output + change output)
	baseFee := uint64(txOverheadSize+2*txOutputSize) * feeRate

	for _, utxo := range sorted {
		selected = append(selected, utxo)
		totalSelected += utxo.Amount

		inputFee := uint64(len(selected)*p2pkhInputSize) * feeRate
		if totalSelected >= targetAmount+baseFee+inputFee {
			return selected, totalSelected, nil
		}
	}

	inputFee := uint64(len(selected)*p2pkhInputSize) * feeRate
	return nil, 0, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, targetAmount+baseFee+inputFee, totalSelected)
}

// sortUTXOs sorts UTXOs by amount in descending order (largest first).
func sortUTXOs(utxos []UTXO) {
	// Simple insertion sort (good enough for typical UTXO counts)
	for i := 1; i < len(utxos); i++ {
		for j := i; j > 0 && utxos[j].Amount > utxos[j-1].Amount; j-- {
			utxos[j], utxos[j-1] = utxos[j-1], utxos[j]
		}
	}
}

// addressToScript converts an address string to a scriptPubKey.
func addressToScript(address string, symbol string, network chain.Network) ([]byte, error) {
	netParams := chain.ChaincfgParams(symbol, network)
	if netParams == nil {
		return nil, fmt.Errorf("unsupported chain for address decoding: %s", symbol)
	}

	addr, err := btcutil.DecodeAddress(address, netParams)
	if err != nil {
		return nil, fmt.Errorf("failed to decode address: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create script: %w", err)
	}
	return script, nil
}
