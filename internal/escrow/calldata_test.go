package escrow

import (
	"crypto/rand"
	"math/big"
	"strings"
	"testing"
)

func TestWithdrawCalldataRoundTrip(t *testing.T) {
	var id, secret [32]byte
	if _, err := rand.Read(id[:]); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	if _, err := rand.Read(secret[:]); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}

	calldata, err := EncodeWithdraw(id, secret)
	if err != nil {
		t.Fatalf("EncodeWithdraw failed: %v", err)
	}
	if !strings.HasPrefix(calldata, "0x") {
		t.Error("calldata should be 0x-prefixed hex")
	}

	gotID, gotSecret, err := ParseWithdrawCalldata(calldata)
	if err != nil {
		t.Fatalf("ParseWithdrawCalldata failed: %v", err)
	}
	if gotID != id {
		t.Error("swap id mismatch")
	}
	if gotSecret != secret {
		t.Error("secret mismatch")
	}
}

func TestParseWithdrawCalldataRejects(t *testing.T) {
	var id [32]byte

	refund, err := EncodeRefund(id)
	if err != nil {
		t.Fatalf("EncodeRefund failed: %v", err)
	}
	initiate, err := EncodeInitiate(id, bob, NativeToken, big.NewInt(1), [32]byte{1}, 1900000000)
	if err != nil {
		t.Fatalf("EncodeInitiate failed: %v", err)
	}

	tests := []struct {
		name     string
		calldata string
	}{
		{"not hex", "zzzz"},
		{"no prefix", "abcdef"},
		{"too short", "0x01"},
		{"refund selector", refund},
		{"initiate selector", initiate},
		{"truncated args", "0x" + strings.Repeat("00", 8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseWithdrawCalldata(tt.calldata); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEncodeInitiateGuards(t *testing.T) {
	var id [32]byte
	if _, err := EncodeInitiate(id, bob, NativeToken, big.NewInt(0), [32]byte{1}, 1900000000); err == nil {
		t.Error("zero amount should be rejected")
	}
	if _, err := EncodeInitiate(id, bob, NativeToken, nil, [32]byte{1}, 1900000000); err == nil {
		t.Error("nil amount should be rejected")
	}
}
