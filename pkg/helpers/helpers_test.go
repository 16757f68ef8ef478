package helpers

import (
	"bytes"
	"math/big"
	"testing"
)

func TestHexConversions(t *testing.T) {
	tests := []struct {
		hex  string
		want uint64
	}{
		{"0x0", 0},
		{"0", 0},
		{"", 0},
		{"0xff", 255},
		{"ff", 255},
		{"0xde0b6b3a7640000", 1000000000000000000},
		{"not-hex", 0},
	}
	for _, tt := range tests {
		if got := HexToUint64(tt.hex); got != tt.want {
			t.Errorf("HexToUint64(%q) = %d, want %d", tt.hex, got, tt.want)
		}
	}

	if got := HexToInt64("0x7fffffffffffffff"); got != 9223372036854775807 {
		t.Errorf("HexToInt64 max = %d", got)
	}
}

func TestBigIntHexRoundTrip(t *testing.T) {
	tests := []string{"0x0", "0x1", "0xff", "0xde0b6b3a7640000"}
	for _, s := range tests {
		if got := BigIntToHex(HexToBigInt(s)); got != s {
			t.Errorf("round trip %q = %q", s, got)
		}
	}
	if BigIntToHex(nil) != "0x0" {
		t.Error("BigIntToHex(nil) should be 0x0")
	}
	if Uint64ToHex(0) != "0x0" || Uint64ToHex(255) != "0xff" {
		t.Error("Uint64ToHex boundary values wrong")
	}
}

func TestBytesHex(t *testing.T) {
	b, err := HexToBytes("0xdeadbeef")
	if err != nil {
		t.Fatalf("HexToBytes() error = %v", err)
	}
	if !bytes.Equal(b, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("HexToBytes = %x", b)
	}
	if BytesToHex(b) != "0xdeadbeef" {
		t.Errorf("BytesToHex = %s", BytesToHex(b))
	}
	if _, err := HexToBytes("zz"); err == nil {
		t.Error("HexToBytes should reject non-hex input")
	}
}

func TestPadLeft(t *testing.T) {
	got := PadLeft([]byte{0xab}, 4)
	if !bytes.Equal(got, []byte{0, 0, 0, 0xab}) {
		t.Errorf("PadLeft = %x", got)
	}
	// Already long enough: unchanged.
	in := []byte{1, 2, 3}
	if !bytes.Equal(PadLeft(in, 2), in) {
		t.Error("PadLeft must not truncate")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals uint8
		want     string
	}{
		{100000000, 8, "1"},
		{150000000, 8, "1.5"},
		{546, 8, "0.00000546"},
		{1000000000000000000, 18, "1"},
		{5000, 0, "5000"},
		{1100000, 6, "1.1"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.amount, tt.decimals); got != tt.want {
			t.Errorf("FormatAmount(%d, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		s        string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"1", 8, 100000000, false},
		{"1.5", 8, 150000000, false},
		{"0.00000546", 8, 546, false},
		// Excess precision truncates rather than rounding up.
		{"0.000005469", 8, 546, false},
		{"", 8, 0, true},
		{"-1", 8, 0, true},
		{"pizza", 8, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.s, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q) expected error", tt.s)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q) error = %v", tt.s, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAmount(%q, %d) = %d, want %d", tt.s, tt.decimals, got, tt.want)
		}
	}
}

func TestBaseUnitsToDecimal(t *testing.T) {
	if got := BaseUnitsToDecimal(150000000, 8).String(); got != "1.5" {
		t.Errorf("BaseUnitsToDecimal = %s, want 1.5", got)
	}

	wei, _ := new(big.Int).SetString("2500000000000000000", 10)
	if got := BigBaseUnitsToDecimal(wei, 18).String(); got != "2.5" {
		t.Errorf("BigBaseUnitsToDecimal = %s, want 2.5", got)
	}
	if !BigBaseUnitsToDecimal(nil, 18).IsZero() {
		t.Error("BigBaseUnitsToDecimal(nil) should be zero")
	}
}
