// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package cryptoutil

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PairingPasswordSalt is the fixed salt the applet uses to derive the
	// pairing token from the user-supplied pairing password (spec §4.2).
	PairingPasswordSalt = "Keycard Pairing Password Salt"

	pbkdf2Iterations = 50_000
	pbkdf2DKLen      = 32
)

// DerivePairingToken derives the 32-byte pairing token used as input to
// PAIR, per spec §4.2 and the known-answer vector in §8 scenario S2.
func DerivePairingToken(password string) []byte {
	return pbkdf2.Key([]byte(password), []byte(PairingPasswordSalt), pbkdf2Iterations, pbkdf2DKLen, sha256.New)
}
