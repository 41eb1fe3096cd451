// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

import (
	"github.com/keycard-go/keycard/apdu"
	"github.com/keycard-go/keycard/cryptoutil"
)

const (
	changeP1PIN            = 0x00
	changeP1PUK            = 0x01
	changeP1PairingSecret  = 0x02
)

// VerifyPIN authenticates the cardholder for the rest of the session
// (spec §4.4, §8 scenario S5). A wrong PIN with attempts remaining
// leaves the channel open and returns *WrongPINError; zero attempts
// remaining returns *PINBlockedError.
func (cs *CommandSet) VerifyPIN(pin string) error {
	if !isDecimalOfLen(pin, 6) {
		return &ValidationError{Field: "pin", Reason: "must be exactly 6 decimal digits"}
	}
	_, err := cs.sendAuthenticated(apdu.InsVerifyPIN, 0, 0, []byte(pin), nil)
	if err == nil {
		cs.mu.Lock()
		cs.pinVerified = true
		cs.mu.Unlock()
		return nil
	}
	if pe, ok := err.(*ProtocolError); ok {
		if remaining, ok := pinRetriesFromSW(pe.SW); ok {
			if remaining == 0 {
				wrapped := &PINBlockedError{}
				cs.setLastError(wrapped)
				return wrapped
			}
			wrapped := &WrongPINError{Remaining: remaining}
			cs.setLastError(wrapped)
			return wrapped
		}
	}
	return err
}

// UnblockPIN resets a blocked PIN given the PUK (spec §4.4). It does not
// require a prior VerifyPIN, since the PIN is by definition blocked.
func (cs *CommandSet) UnblockPIN(puk, newPIN string) error {
	if !isDecimalOfLen(puk, 12) {
		return &ValidationError{Field: "puk", Reason: "must be exactly 12 decimal digits"}
	}
	if !isDecimalOfLen(newPIN, 6) {
		return &ValidationError{Field: "pin", Reason: "must be exactly 6 decimal digits"}
	}
	data := append([]byte(puk), []byte(newPIN)...)
	_, err := cs.sendAuthenticated(apdu.InsUnblockPIN, 0, 0, data, nil)
	if err == nil {
		return nil
	}
	if pe, ok := err.(*ProtocolError); ok {
		if remaining, ok := pinRetriesFromSW(pe.SW); ok {
			if remaining == 0 {
				wrapped := &CardBlockedError{}
				cs.setLastError(wrapped)
				return wrapped
			}
			wrapped := &WrongPUKError{Remaining: remaining}
			cs.setLastError(wrapped)
			return wrapped
		}
	}
	return err
}

// ChangePIN replaces the PIN. Requires a verified PIN (spec §4.4).
func (cs *CommandSet) ChangePIN(newPIN string) error {
	if !isDecimalOfLen(newPIN, 6) {
		return &ValidationError{Field: "pin", Reason: "must be exactly 6 decimal digits"}
	}
	return cs.changeSecret(changeP1PIN, []byte(newPIN))
}

// ChangePUK replaces the PUK. Requires a verified PIN.
func (cs *CommandSet) ChangePUK(newPUK string) error {
	if !isDecimalOfLen(newPUK, 12) {
		return &ValidationError{Field: "puk", Reason: "must be exactly 12 decimal digits"}
	}
	return cs.changeSecret(changeP1PUK, []byte(newPUK))
}

// ChangePairingSecret replaces the pairing secret the card checks PAIR's
// client cryptogram against. Like PAIR itself (spec §4.2), the card
// never sees the raw password: CHANGE PIN's data is the 32-byte PBKDF2
// token DerivePairingToken derives from it, not the password bytes.
// Requires a verified PIN. Existing PairingInfo values derived under the
// old password remain valid until re-paired.
func (cs *CommandSet) ChangePairingSecret(newPairingPassword string) error {
	if len(newPairingPassword) < 5 {
		return &ValidationError{Field: "pairing_password", Reason: "must be at least 5 characters"}
	}
	token := cryptoutil.DerivePairingToken(newPairingPassword)
	defer cryptoutil.Wipe(token)
	return cs.changeSecret(changeP1PairingSecret, token)
}

func (cs *CommandSet) changeSecret(p1 byte, data []byte) error {
	if err := cs.requireAuthenticated(); err != nil {
		return err
	}
	_, err := cs.sendAuthenticated(apdu.InsChangePIN, p1, 0, data, nil)
	return err
}
