// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

import "fmt"

// ValidationError reports a caller input that violates a precondition
// spec §7 names (bad PIN/PUK length, short pairing password, wrong hash
// length, non-absolute path, ...), independent of any card round-trip.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("keycard: invalid %s: %s", e.Field, e.Reason)
}

// StateError reports a state precondition that is not met (spec §7).
// Secure channel not open, no ECDH seed and no key loaded are checked by
// the command set before a command is sent; pairing slots full is
// reported from the card's SW=0x6A84 answer to PAIR.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string { return "keycard: " + e.Reason }

var (
	// ErrChannelNotOpen is returned by any authenticated command issued
	// before OPEN SECURE CHANNEL / MUTUALLY AUTHENTICATE completed.
	ErrChannelNotOpen = &StateError{Reason: "secure channel not open"}

	// ErrNoECDHSeed is returned when OPEN SECURE CHANNEL or INIT is
	// attempted before a successful SELECT seeded the ECDH handshake.
	ErrNoECDHSeed = &StateError{Reason: "no ECDH seed, SELECT must run first"}

	// ErrNoKeyLoaded is returned by DERIVE KEY, SIGN and EXPORT KEY when
	// no key pair has been generated or loaded onto the card.
	ErrNoKeyLoaded = &StateError{Reason: "no key loaded"}

	// ErrPairingSlotsFull is returned by PAIR when the card reports
	// SW=0x6A84 (spec §4.4).
	ErrPairingSlotsFull = &StateError{Reason: "no available pairing slots"}
)

// CryptogramMismatchError is returned by PAIR when the card's first-step
// cryptogram does not match the expected value, meaning the caller-
// supplied pairing password is wrong (spec §4.4, §8 scenario S3).
type CryptogramMismatchError struct{}

func (e *CryptogramMismatchError) Error() string {
	return "keycard: pairing cryptogram mismatch, wrong pairing password"
}

// WrongPINError is returned by VERIFY PIN when the card rejects the PIN
// but retries remain (spec §4.4, §7, §8 scenario S5).
type WrongPINError struct {
	Remaining int
}

func (e *WrongPINError) Error() string {
	return fmt.Sprintf("keycard: wrong PIN, %d attempt(s) remaining", e.Remaining)
}

// PINBlockedError is returned by VERIFY PIN when no attempts remain.
type PINBlockedError struct{}

func (e *PINBlockedError) Error() string { return "keycard: PIN blocked" }

// WrongPUKError is returned by UNBLOCK PIN when the card rejects the PUK
// but retries remain.
type WrongPUKError struct {
	Remaining int
}

func (e *WrongPUKError) Error() string {
	return fmt.Sprintf("keycard: wrong PUK, %d attempt(s) remaining", e.Remaining)
}

// CardBlockedError is returned by UNBLOCK PIN when no PUK attempts
// remain; the card can no longer be unblocked and must be reset.
type CardBlockedError struct{}

func (e *CardBlockedError) Error() string { return "keycard: card blocked, no PUK attempts remain" }

// ProtocolError reports an unexpected status word (spec §7). Truncated
// responses are reported by TruncatedResponseError instead.
type ProtocolError struct {
	Ins byte
	SW  uint16
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("keycard: command INS=0x%02x failed, SW=%04x", e.Ins, e.SW)
}

// Is reports whether target is a *ProtocolError with the same SW, so
// callers can match with errors.Is(err, &ProtocolError{SW: 0x6985}).
func (e *ProtocolError) Is(target error) bool {
	o, ok := target.(*ProtocolError)
	return ok && o.SW == e.SW
}

// TruncatedResponseError reports a response too short to contain the
// field the caller expected (spec §7 "truncated response").
type TruncatedResponseError struct {
	Context string
	Got     int
	Want    int
}

func (e *TruncatedResponseError) Error() string {
	return fmt.Sprintf("keycard: truncated response parsing %s: got %d bytes, want at least %d", e.Context, e.Got, e.Want)
}

// pinRetriesFromSW extracts the remaining PIN/PUK attempt count from a
// SW of the form 0x63Cn (spec §4.4 "PIN/PUK handling").
func pinRetriesFromSW(sw uint16) (remaining int, ok bool) {
	if sw&0xFFF0 != 0x63C0 {
		return 0, false
	}
	return int(sw & 0x0F), true
}
