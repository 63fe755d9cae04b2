// Package escrow - ABI calldata encoding for the escrow contract.
// Produces the 0x-hex call payloads a transaction sender would submit,
// and decodes observed withdraw calls to recover the revealed secret.
package escrow

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const escrowABIJSON = `[
	{"name":"initiate","type":"function","inputs":[
		{"name":"id","type":"bytes32"},
		{"name":"participant","type":"address"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"secretHash","type":"bytes32"},
		{"name":"timelock","type":"uint256"}]},
	{"name":"withdraw","type":"function","inputs":[
		{"name":"id","type":"bytes32"},
		{"name":"secret","type":"bytes32"}]},
	{"name":"refund","type":"function","inputs":[
		{"name":"id","type":"bytes32"}]}
]`

var escrowABI abi.ABI

func init() {
	var err error
	escrowABI, err = abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid escrow ABI: %v", err))
	}
}

// EncodeInitiate packs an initiate call as 0x-hex calldata.
func EncodeInitiate(id [32]byte, participant, token common.Address, amount *big.Int, secretHash [32]byte, timelock int64) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	data, err := escrowABI.Pack("initiate", id, participant, token, amount, secretHash, big.NewInt(timelock))
	if err != nil {
		return "", fmt.Errorf("failed to pack initiate: %w", err)
	}
	return hexutil.Encode(data), nil
}

// EncodeWithdraw packs a withdraw call as 0x-hex calldata. Submitting
// it publishes the secret.
func EncodeWithdraw(id [32]byte, secret [32]byte) (string, error) {
	data, err := escrowABI.Pack("withdraw", id, secret)
	if err != nil {
		return "", fmt.Errorf("failed to pack withdraw: %w", err)
	}
	return hexutil.Encode(data), nil
}

// EncodeRefund packs a refund call as 0x-hex calldata.
func EncodeRefund(id [32]byte) (string, error) {
	data, err := escrowABI.Pack("refund", id)
	if err != nil {
		return "", fmt.Errorf("failed to pack refund: %w", err)
	}
	return hexutil.Encode(data), nil
}

// ParseWithdrawCalldata decodes an observed withdraw call and returns
// the swap id and the revealed secret. This is the account-leg claim
// artifact decoder: watching the counterparty's withdraw transaction is
// how the secret crosses ledgers.
func ParseWithdrawCalldata(calldata string) (id [32]byte, secret [32]byte, err error) {
	data, err := hexutil.Decode(calldata)
	if err != nil {
		return id, secret, fmt.Errorf("invalid calldata hex: %w", err)
	}
	if len(data) < 4 {
		return id, secret, fmt.Errorf("calldata shorter than a method selector")
	}

	method := escrowABI.Methods["withdraw"]
	if !bytes.Equal(data[:4], method.ID) {
		return id, secret, fmt.Errorf("calldata is not a withdraw call")
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return id, secret, fmt.Errorf("failed to unpack withdraw args: %w", err)
	}
	if len(args) != 2 {
		return id, secret, fmt.Errorf("withdraw expects 2 args, got %d", len(args))
	}

	id, ok := args[0].([32]byte)
	if !ok {
		return id, secret, fmt.Errorf("unexpected type for swap id")
	}
	secret, ok = args[1].([32]byte)
	if !ok {
		return id, secret, fmt.Errorf("unexpected type for secret")
	}
	return id, secret, nil
}
