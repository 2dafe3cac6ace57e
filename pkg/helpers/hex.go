package helpers

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return hex.DecodeString(s)
}

// HexToFixedBytes decodes a hex string and requires exactly n bytes.
func HexToFixedBytes(s string, n int) ([]byte, error) {
	b, err := HexToBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}
