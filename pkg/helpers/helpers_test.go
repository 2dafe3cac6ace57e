package helpers

import (
	"errors"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		value    int64
		decimals uint8
		want     string
	}{
		{100000000, 8, "1"},
		{50000000, 8, "0.5"},
		{12345678, 8, "0.12345678"},
		{100000, 8, "0.001"},
		{1, 8, "0.00000001"},
		{0, 8, "0"},
		{-150000000, 8, "-1.5"},
		{123, 0, "123"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatAmount(tt.value, tt.decimals); got != tt.want {
				t.Errorf("FormatAmount(%d, %d) = %s, want %s", tt.value, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		decimals uint8
		want     int64
		wantIs   error
	}{
		{"1", 8, 100000000, nil},
		{"0.5", 8, 50000000, nil},
		{".5", 8, 50000000, nil},
		{"2.", 8, 200000000, nil},
		{" 0.12345678 ", 8, 12345678, nil},
		{"0.00000001", 8, 1, nil},
		{"0", 8, 0, nil},
		{"123", 0, 123, nil},
		{"0.000000001", 8, 0, ErrInvalidAmount},
		{"invalid", 8, 0, ErrInvalidAmount},
		{"-1", 8, 0, ErrInvalidAmount},
		{"1.2.3", 8, 0, ErrInvalidAmount},
		{".", 8, 0, ErrInvalidAmount},
		{"", 8, 0, ErrInvalidAmount},
		{"100000000000", 8, 0, ErrAmountOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.decimals)
			if tt.wantIs != nil {
				if !errors.Is(err, tt.wantIs) {
					t.Errorf("ParseAmount(%q) error = %v, want %v", tt.input, err, tt.wantIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%q, %d) = %d, want %d", tt.input, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFormatParseRoundtrip(t *testing.T) {
	for _, value := range []int64{1, 100, 12345678, 100000000, 999999999} {
		formatted := FormatAmount(value, 8)
		parsed, err := ParseAmount(formatted, 8)
		if err != nil {
			t.Errorf("ParseAmount(%s) failed: %v", formatted, err)
			continue
		}
		if parsed != value {
			t.Errorf("roundtrip failed: %d -> %s -> %d", value, formatted, parsed)
		}
	}
}

func TestHexToFixedBytes(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		n       int
		wantErr bool
	}{
		{"plain", "00ff", 2, false},
		{"prefixed", "0x00ff", 2, false},
		{"wrong length", "00ff", 32, true},
		{"not hex", "zz", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HexToFixedBytes(tt.in, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HexToFixedBytes(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && len(got) != tt.n {
				t.Errorf("len = %d, want %d", len(got), tt.n)
			}
		})
	}
}

func TestGenerateSecureRandom(t *testing.T) {
	a, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom() error = %v", err)
	}
	b, _ := GenerateSecureRandom(32)
	if len(a) != 32 {
		t.Fatalf("len = %d, want 32", len(a))
	}
	if ConstantTimeCompare(a, b) {
		t.Error("two random draws are equal")
	}
	if !ConstantTimeCompare(a, a) {
		t.Error("ConstantTimeCompare(a, a) = false")
	}
}
