package helpers

import (
	"bytes"
	"testing"
)

func TestGenerateSecureRandom(t *testing.T) {
	a, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom() failed: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(a))
	}

	b, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom() failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two random draws should not be equal")
	}
}

func TestConstantTimeCompare(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	b := []byte{1, 2, 3, 4}
	c := []byte{1, 2, 3, 5}

	if !ConstantTimeCompare(a, b) {
		t.Error("equal slices should compare true")
	}
	if ConstantTimeCompare(a, c) {
		t.Error("different slices should compare false")
	}
	if ConstantTimeCompare(a, a[:3]) {
		t.Error("different lengths should compare false")
	}
}

func TestIsZeroBytes(t *testing.T) {
	if !IsZeroBytes(make([]byte, 32)) {
		t.Error("all-zero slice should be zero")
	}
	if IsZeroBytes([]byte{0, 0, 1}) {
		t.Error("non-zero slice should not be zero")
	}
	if !IsZeroBytes(nil) {
		t.Error("nil slice is vacuously zero")
	}
}

func TestHexRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{"with prefix", "0xdeadbeef", []byte{0xde, 0xad, 0xbe, 0xef}},
		{"without prefix", "deadbeef", []byte{0xde, 0xad, 0xbe, 0xef}},
		{"empty", "", []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HexToBytes(tt.input)
			if err != nil {
				t.Fatalf("HexToBytes() failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("HexToBytes() = %x, want %x", got, tt.want)
			}
		})
	}

	if BytesToHex([]byte{0xab}) != "0xab" {
		t.Error("BytesToHex should add 0x prefix")
	}
}

func TestHexToBytes32(t *testing.T) {
	_, err := HexToBytes32("0xdead")
	if err == nil {
		t.Error("short input should fail")
	}

	long := make([]byte, 32)
	for i := range long {
		long[i] = byte(i)
	}
	got, err := HexToBytes32(BytesToHex(long))
	if err != nil {
		t.Fatalf("HexToBytes32() failed: %v", err)
	}
	if !bytes.Equal(got[:], long) {
		t.Error("round trip mismatch")
	}
}

func TestSecureClear(t *testing.T) {
	data := []byte{1, 2, 3}
	SecureClear(data)
	if !IsZeroBytes(data) {
		t.Error("SecureClear should zero the slice")
	}
}
