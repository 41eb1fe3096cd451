// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package cryptoutil

// Wipe overwrites b with zeros in place. It is used to scrub session
// keys, PBKDF2 output, and PIN/PUK buffers on session close or on drop
// of the containing value (spec §5, §9) — Go has no destructors, so
// callers must invoke this explicitly at the lifetime boundaries the
// spec names (securechannel.Session.Reset, INIT's deferred cleanup).
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
