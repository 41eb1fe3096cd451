// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPinRetriesFromSW(t *testing.T) {
	cases := []struct {
		sw            uint16
		wantRemaining int
		wantOK        bool
	}{
		{0x63C2, 2, true},
		{0x63C0, 0, true},
		{0x9000, 0, false},
		{0x6985, 0, false},
	}
	for _, c := range cases {
		remaining, ok := pinRetriesFromSW(c.sw)
		require.Equal(t, c.wantOK, ok)
		require.Equal(t, c.wantRemaining, remaining)
	}
}

func TestProtocolErrorIs(t *testing.T) {
	err := &ProtocolError{Ins: 0x12, SW: 0x6985}
	require.True(t, errors.Is(err, &ProtocolError{SW: 0x6985}))
	require.False(t, errors.Is(err, &ProtocolError{SW: 0x6A84}))
}
