// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretsValidate(t *testing.T) {
	cases := []struct {
		name    string
		secrets Secrets
		wantErr bool
	}{
		{"valid", Secrets{PIN: "123456", PUK: "123456789012", PairingPassword: "abcde"}, false},
		{"short pin", Secrets{PIN: "1234", PUK: "123456789012", PairingPassword: "abcde"}, true},
		{"non-decimal pin", Secrets{PIN: "12345a", PUK: "123456789012", PairingPassword: "abcde"}, true},
		{"short puk", Secrets{PIN: "123456", PUK: "123", PairingPassword: "abcde"}, true},
		{"short pairing password", Secrets{PIN: "123456", PUK: "123456789012", PairingPassword: "ab"}, true},
	}
	for _, c := range cases {
		err := c.secrets.Validate()
		if c.wantErr {
			require.Errorf(t, err, c.name)
		} else {
			require.NoErrorf(t, err, c.name)
		}
	}
}

func TestPairingInfoValid(t *testing.T) {
	valid := &PairingInfo{Index: 2, Key: make([]byte, 32)}
	require.True(t, valid.Valid(5))
	require.False(t, valid.Valid(2), "index must be strictly less than slotCount")

	short := &PairingInfo{Index: 0, Key: make([]byte, 16)}
	require.False(t, short.Valid(5))
}

func TestApplicationInfoHasKey(t *testing.T) {
	withKey := &ApplicationInfo{KeyUID: make([]byte, keyUIDLength)}
	require.True(t, withKey.HasKey())

	without := &ApplicationInfo{}
	require.False(t, without.HasKey())
}
