// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package apdu

import "fmt"

// Pad applies ISO/IEC 9797-1 method 2 padding: append 0x80, then zero
// bytes, until the result is a multiple of block. Always adds at least
// one byte, even when data is already block-aligned (spec §4.1, §8.1).
func Pad(data []byte, block int) []byte {
	padLen := block - (len(data) % block)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

// Unpad reverses Pad: it strips trailing zero bytes and the 0x80
// sentinel that precedes them. Absence of the sentinel is a decoding
// error.
func Unpad(data []byte) ([]byte, error) {
	i := len(data) - 1
	for i >= 0 && data[i] == 0x00 {
		i--
	}
	if i < 0 || data[i] != 0x80 {
		return nil, fmt.Errorf("apdu: malformed padding, no 0x80 sentinel found")
	}
	return data[:i], nil
}
