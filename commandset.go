// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

import (
	"bytes"
	"crypto/sha256"
	"sync"

	"github.com/keycard-go/keycard/apdu"
	"github.com/keycard-go/keycard/cryptoutil"
	"github.com/keycard-go/keycard/securechannel"
	"github.com/keycard-go/keycard/transport"
)

const (
	pairP1FirstStep = 0x00
	pairP1LastStep  = 0x01

	factoryResetP1P2 = 0xAA
)

// CommandSet is the public command-set surface of the library (spec §2
// component 5): it holds the one secure channel session for a card,
// enforces the preconditions spec §4.4's table names, and translates
// TLV responses and status words into the typed results and errors of
// spec §3 and §7.
//
// A CommandSet is not safe for concurrent command invocation — spec §5
// requires total ordering of APDUs, which securechannel.Session enforces
// for the wire exchange itself; mu here only protects the cached
// bookkeeping fields (lastError, pinVerified, applicationInfo) from a
// caller that calls commands from multiple goroutines anyway.
type CommandSet struct {
	t  transport.Transport
	sc *securechannel.Session

	mu sync.Mutex

	applicationInfo *ApplicationInfo
	pairingInfo     *PairingInfo
	pinVerified     bool
	lastError       string
}

// New returns a CommandSet bound to t. No command has been sent yet.
func New(t transport.Transport) *CommandSet {
	return &CommandSet{t: t, sc: securechannel.New(t)}
}

// LastError returns a human-readable description of the most recent
// command failure, for logging (spec §7 "Last-error accessor"). The
// typed error returned by the failing call remains authoritative.
func (cs *CommandSet) LastError() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastError
}

func (cs *CommandSet) setLastError(err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err == nil {
		cs.lastError = ""
		return
	}
	cs.lastError = err.Error()
}

// ApplicationInfo returns the ApplicationInfo cached from the last
// successful SELECT, or nil if SELECT has not run.
func (cs *CommandSet) ApplicationInfo() *ApplicationInfo {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.applicationInfo
}

// PairingInfo returns the PairingInfo used to open the current secure
// channel, or nil if none has been established.
func (cs *CommandSet) PairingInfo() *PairingInfo {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.pairingInfo
}

// SetPairingInfo installs a PairingInfo obtained from a prior PAIR call
// (possibly in an earlier process), letting the caller skip pairing on
// reconnect (spec §3 "the caller owns it").
func (cs *CommandSet) SetPairingInfo(p *PairingInfo) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pairingInfo = p
}

// Select sends SELECT with the Keycard AID (spec §3, §6, §8 scenario
// S1). It seeds the ECDH handshake state from the card's secure-channel
// public key regardless of whether the card is pre-initialized or
// initialized, since INIT's one-shot encryption needs it either way.
func (cs *CommandSet) Select() (*ApplicationInfo, error) {
	cmd := &apdu.CommandAPDU{
		Cla:  apdu.ClaISO7816,
		Ins:  apdu.InsSelect,
		P1:   0x04,
		P2:   0x00,
		Data: AID,
		Le:   apdu.Le(0),
	}
	resp, err := apdu.Transmit(cs.t, cmd)
	if err != nil {
		cs.setLastError(err)
		return nil, err
	}
	if !resp.IsSuccess() {
		err := &ProtocolError{Ins: apdu.InsSelect, SW: resp.SW()}
		cs.setLastError(err)
		return nil, err
	}

	info, err := parseApplicationInfo(resp.Data)
	if err != nil {
		cs.setLastError(err)
		return nil, err
	}
	if err := cs.sc.GenerateSecret(info.SecureChannelPubKey); err != nil {
		cs.setLastError(err)
		return nil, err
	}

	cs.mu.Lock()
	cs.applicationInfo = info
	cs.pinVerified = false
	cs.mu.Unlock()
	return info, nil
}

// Init provisions a PIN, PUK and pairing password onto a pre-initialized
// card (spec §4.3 "one-shot encryption", §4.4). Select must have run
// first. On success Init runs Select again, so the cached
// ApplicationInfo describes the now-initialized card.
func (cs *CommandSet) Init(secrets *Secrets) error {
	if err := secrets.Validate(); err != nil {
		return err
	}
	if cs.ApplicationInfo() == nil {
		return ErrNoECDHSeed
	}

	token := cryptoutil.DerivePairingToken(secrets.PairingPassword)
	defer cryptoutil.Wipe(token)

	plaintext := make([]byte, 0, len(secrets.PIN)+len(secrets.PUK)+len(token))
	plaintext = append(plaintext, secrets.PIN...)
	plaintext = append(plaintext, secrets.PUK...)
	plaintext = append(plaintext, token...)
	defer cryptoutil.Wipe(plaintext)

	payload, err := cs.sc.EncryptOneShot(plaintext)
	if err != nil {
		cs.setLastError(err)
		return err
	}

	cmd := &apdu.CommandAPDU{Cla: apdu.ClaISO7816, Ins: apdu.InsInit, P1: 0, P2: 0, Data: payload}
	resp, err := apdu.Transmit(cs.t, cmd)
	if err != nil {
		cs.setLastError(err)
		return err
	}
	if !resp.IsSuccess() {
		err := &ProtocolError{Ins: apdu.InsInit, SW: resp.SW()}
		cs.setLastError(err)
		return err
	}

	_, err = cs.Select()
	return err
}

// Pair performs the challenge/response pairing handshake (spec §4.4,
// §8 scenario S3) and returns the resulting PairingInfo, which the
// caller is responsible for persisting. Select must have returned an
// initialized card first.
func (cs *CommandSet) Pair(pairingPassword string) (*PairingInfo, error) {
	info := cs.ApplicationInfo()
	if info == nil || !info.Initialized {
		return nil, ErrNoECDHSeed
	}

	token := cryptoutil.DerivePairingToken(pairingPassword)
	defer cryptoutil.Wipe(token)
	secretHash := sha256.Sum256(token)

	challenge := make([]byte, 32)
	if err := cryptoutil.Fill(challenge); err != nil {
		return nil, err
	}

	resp1, err := cs.pairStep(pairP1FirstStep, challenge)
	if err != nil {
		return nil, err
	}
	if len(resp1.Data) < 64 {
		err := &TruncatedResponseError{Context: "PAIR step 1", Got: len(resp1.Data), Want: 64}
		cs.setLastError(err)
		return nil, err
	}
	cardCryptogram := resp1.Data[:32]
	cardChallenge := resp1.Data[32:64]

	h := sha256.New()
	h.Write(secretHash[:])
	h.Write(challenge)
	expected := h.Sum(nil)
	if !bytes.Equal(expected, cardCryptogram) {
		err := &CryptogramMismatchError{}
		cs.setLastError(err)
		return nil, err
	}

	h.Reset()
	h.Write(secretHash[:])
	h.Write(cardChallenge)
	resp2, err := cs.pairStep(pairP1LastStep, h.Sum(nil))
	if err != nil {
		return nil, err
	}
	if len(resp2.Data) < 1 {
		err := &TruncatedResponseError{Context: "PAIR step 2", Got: len(resp2.Data), Want: 1}
		cs.setLastError(err)
		return nil, err
	}

	h.Reset()
	h.Write(secretHash[:])
	h.Write(resp2.Data[1:])

	return &PairingInfo{Index: resp2.Data[0], Key: h.Sum(nil)}, nil
}

func (cs *CommandSet) pairStep(p1 byte, data []byte) (*apdu.ResponseAPDU, error) {
	cmd := &apdu.CommandAPDU{Cla: apdu.ClaISO7816, Ins: apdu.InsPair, P1: p1, P2: 0, Data: data}
	resp, err := apdu.Transmit(cs.t, cmd)
	if err != nil {
		cs.setLastError(err)
		return nil, err
	}
	if !resp.IsSuccess() {
		var wrapped error = &ProtocolError{Ins: apdu.InsPair, SW: resp.SW()}
		if resp.SW() == apdu.SwNoAvailableSlot {
			wrapped = ErrPairingSlotsFull
		}
		cs.setLastError(wrapped)
		return nil, wrapped
	}
	return resp, nil
}

// OpenSecureChannel derives session keys from pairing and completes
// MUTUALLY AUTHENTICATE (spec §4.3 phases 2). Select must have been
// called first so the ECDH handshake is seeded.
func (cs *CommandSet) OpenSecureChannel(pairing *PairingInfo) error {
	info := cs.ApplicationInfo()
	if info == nil || !info.Initialized {
		return ErrNoECDHSeed
	}
	if err := cs.sc.Open(pairing.Index, pairing.Key); err != nil {
		cs.setLastError(err)
		return err
	}
	cs.mu.Lock()
	cs.pairingInfo = pairing
	cs.pinVerified = false
	cs.mu.Unlock()
	return nil
}

// Unpair removes the pairing at index from the card (spec §4.4); it
// requires an authenticated channel because it is itself sent over the
// encrypted pipeline.
func (cs *CommandSet) Unpair(index byte) error {
	if err := cs.requireAuthenticated(); err != nil {
		return err
	}
	_, err := cs.sendAuthenticated(apdu.InsUnpair, index, 0, nil, nil)
	return err
}

// IsSecureChannelOpen reports whether MUTUALLY AUTHENTICATE has
// succeeded and no subsequent error has closed the channel.
func (cs *CommandSet) IsSecureChannelOpen() bool { return cs.sc.IsOpen() }

// send issues an unauthenticated CLA 0x00 command directly over the
// transport (spec §4.4 "Command CLA"); IDENTIFY and FACTORY RESET use it.
// SELECT, INIT and PAIR build and transmit their APDUs themselves.
func (cs *CommandSet) send(ins, p1, p2 byte, data []byte, le *byte) (*apdu.ResponseAPDU, error) {
	cmd := &apdu.CommandAPDU{Cla: apdu.ClaISO7816, Ins: ins, P1: p1, P2: p2, Data: data, Le: le}
	resp, err := apdu.Transmit(cs.t, cmd)
	if err != nil {
		cs.setLastError(err)
		return nil, err
	}
	if !resp.IsSuccess() {
		err := &ProtocolError{Ins: ins, SW: resp.SW()}
		cs.setLastError(err)
		return resp, err
	}
	return resp, nil
}

// sendAuthenticated issues a command through the open secure channel
// (spec §4.4 "Command CLA": 0x80 for everything but the unauthenticated
// set above). A *securechannel.SWError is translated to a *ProtocolError
// so callers only ever see this package's error taxonomy, except for
// channel-desynchronizing errors (MAC mismatch, transport loss), which
// surface unchanged per spec §7's crypto/transport kinds.
func (cs *CommandSet) sendAuthenticated(ins, p1, p2 byte, data []byte, le *byte) (*apdu.ResponseAPDU, error) {
	if !cs.sc.IsOpen() {
		return nil, ErrChannelNotOpen
	}
	resp, err := cs.sc.Send(apdu.ClaProprietary, ins, p1, p2, data, le)
	if err == nil {
		return resp, nil
	}
	if swErr, ok := err.(*securechannel.SWError); ok {
		wrapped := &ProtocolError{Ins: ins, SW: swErr.SW}
		cs.setLastError(wrapped)
		return resp, wrapped
	}
	cs.setLastError(err)
	return resp, err
}

func (cs *CommandSet) requireAuthenticated() error {
	if !cs.sc.IsOpen() {
		return ErrChannelNotOpen
	}
	cs.mu.Lock()
	verified := cs.pinVerified
	cs.mu.Unlock()
	if !verified {
		return &StateError{Reason: "PIN not verified"}
	}
	return nil
}
