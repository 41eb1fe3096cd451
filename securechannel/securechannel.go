// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.
//
// The keycard-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package securechannel owns the ephemeral key pair, derived session
// keys, running IV, and the encrypt/MAC/decrypt/verify pipeline for
// every post-handshake APDU (spec §4.3). It is adapted from the shape of
// go-ethereum's accounts/scwallet.SecureChannelSession, generalized to
// the full two-phase handshake, the hot-plug retry, the one-shot INIT
// encryption, and explicit secret wipe the teacher's version left out.
package securechannel

import (
	"bytes"
	"crypto/sha512"
	"fmt"
	"sync"
	"time"

	"github.com/keycard-go/keycard/apdu"
	"github.com/keycard-go/keycard/cryptoutil"
	"github.com/keycard-go/keycard/transport"
)

const (
	secretLength = 32
	blockSize    = 16

	// maxPayloadSize bounds a single encrypted command's plaintext data,
	// mirroring the teacher's MAX_PAYLOAD_SIZE.
	maxPayloadSize = 223

	hotPlugSW      = 0x6f05
	hotPlugBackoff = 50 * time.Millisecond
)

// ErrMacMismatch indicates the response MAC did not match; the channel
// is desynchronized and MUST be considered closed (spec §4.3, §7).
var ErrMacMismatch = fmt.Errorf("securechannel: MAC mismatch in response")

// ErrNotOpen indicates an operation was attempted before OPEN SECURE
// CHANNEL / MUTUALLY AUTHENTICATE completed.
var ErrNotOpen = fmt.Errorf("securechannel: channel not open")

// ErrNoECDHSeed indicates GenerateSecret was never called (state §4.3
// "idle", no ECDH seed available).
var ErrNoECDHSeed = fmt.Errorf("securechannel: no ECDH seed, SELECT (initialized) must run first")

// Session implements the handshake and per-message pipeline of spec
// §4.3. All mutable crypto state is guarded by mu so concurrent callers
// serialize instead of interleaving MAC/IV updates (spec §5, §8.8).
type Session struct {
	t transport.Transport

	mu sync.Mutex

	ephemeral    *cryptoutil.KeyPair
	sharedSecret []byte // handshake-only ECDH output, retained until Reset

	pairingKey   []byte
	pairingIndex byte

	encKey []byte
	macKey []byte
	iv     []byte

	open             bool
	firstCommandDone bool // tracks whether the hot-plug retry window has passed
}

// New returns a session bound to t. It carries no cryptographic state
// until GenerateSecret is called (spec §4.3 "idle").
func New(t transport.Transport) *Session {
	return &Session{t: t}
}

// GenerateSecret performs phase 1 of the handshake (spec §4.3): given the
// card's secure-channel public key (as returned by SELECT), generate a
// fresh ephemeral key pair and compute the ECDH shared secret. Nothing is
// sent to the card.
func (s *Session) GenerateSecret(cardPublicKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cardPub, err := cryptoutil.ParsePublicKey(cardPublicKey)
	if err != nil {
		return err
	}
	kp, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return err
	}

	s.ephemeral = kp
	s.sharedSecret = cryptoutil.ECDH(kp.Private, cardPub)
	return nil
}

// EphemeralPublicKey returns the client's ephemeral public key in
// uncompressed form, for use as OPEN SECURE CHANNEL's command data.
func (s *Session) EphemeralPublicKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ephemeral == nil {
		return nil, ErrNoECDHSeed
	}
	return s.ephemeral.MarshalUncompressed(), nil
}

// SharedSecret exposes the raw ECDH output for one-shot INIT encryption
// (spec §4.3 "one-shot encryption"), which runs before session keys
// exist.
func (s *Session) SharedSecret() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sharedSecret == nil {
		return nil, ErrNoECDHSeed
	}
	return append([]byte(nil), s.sharedSecret...), nil
}

// Open performs phase 2 of the handshake: OPEN SECURE CHANNEL followed
// by MUTUALLY AUTHENTICATE. pairingIndex/pairingKey are the caller-owned
// PairingInfo from a prior PAIR.
func (s *Session) Open(pairingIndex byte, pairingKey []byte) error {
	s.mu.Lock()
	if s.ephemeral == nil || s.sharedSecret == nil {
		s.mu.Unlock()
		return ErrNoECDHSeed
	}
	if s.open {
		s.mu.Unlock()
		return fmt.Errorf("securechannel: session already open")
	}
	s.pairingIndex = pairingIndex
	s.pairingKey = append([]byte(nil), pairingKey...)
	ephemeralPub := s.ephemeral.MarshalUncompressed()
	s.mu.Unlock()

	cmd := &apdu.CommandAPDU{
		Cla:  apdu.ClaISO7816,
		Ins:  apdu.InsOpenSecureChannel,
		P1:   pairingIndex,
		P2:   0,
		Data: ephemeralPub,
	}
	resp, err := apdu.Transmit(s.t, cmd)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("securechannel: OPEN SECURE CHANNEL failed, SW=%04x", resp.SW())
	}
	if len(resp.Data) != secretLength+blockSize {
		return fmt.Errorf("securechannel: OPEN SECURE CHANNEL response was %d bytes, want %d", len(resp.Data), secretLength+blockSize)
	}
	salt := resp.Data[:secretLength]
	sessionIV := resp.Data[secretLength:]

	s.mu.Lock()
	encKey, macKey := deriveSessionKeys(s.sharedSecret, s.pairingKey, salt)
	s.encKey = encKey
	s.macKey = macKey
	s.iv = append([]byte(nil), sessionIV...)
	s.firstCommandDone = false
	s.mu.Unlock()

	return s.mutuallyAuthenticate()
}

func (s *Session) mutuallyAuthenticate() error {
	challenge := make([]byte, secretLength)
	if err := cryptoutil.Fill(challenge); err != nil {
		return err
	}
	resp, err := s.Send(apdu.ClaProprietary, apdu.InsMutuallyAuthenticate, 0, 0, challenge, nil)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("securechannel: MUTUALLY AUTHENTICATE failed, SW=%04x", resp.SW())
	}

	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	return nil
}

// IsOpen reports whether MUTUALLY AUTHENTICATE has succeeded and the
// channel has not since been closed.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// PairingKey returns the established pairing key, for the caller to
// persist (spec §3 PairingInfo — the core never persists it itself).
func (s *Session) PairingKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.pairingKey...)
}

// Send runs the per-message pipeline of spec §4.3 for one command: encrypt
// and MAC the request, transmit it, then decrypt and verify the MAC of
// the response. The returned ResponseAPDU's SW is the *logical* SW carried
// inside the encrypted payload, not the (always-9000-on-success) outer
// transport SW.
//
// The whole sequence — including the blocking transport round-trip and
// any hot-plug retry — runs under s.mu, so a command occupies the
// session from the moment the outgoing APDU is built until the response
// is decoded and the IV is advanced (spec §5, §8.8). Concurrent callers
// queue rather than interleave MAC/IV updates.
func (s *Session) Send(cla, ins, p1, p2 byte, data []byte, le *byte) (*apdu.ResponseAPDU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.iv == nil {
		return nil, ErrNotOpen
	}
	retryEligible := !s.firstCommandDone

	resp, err := s.sendOnceLocked(cla, ins, p1, p2, data, le)
	if err == nil || !retryEligible {
		s.firstCommandDone = true
		return resp, err
	}

	// Hot-plug quirk (spec §4.3): the very first post-open encrypted
	// command may come back SW=0x6f05 on some carriers because the
	// card's crypto state lags one APDU behind the host. Retry exactly
	// once after a short backoff, then surface whatever happens. The
	// backoff sleeps with the lock held, matching the "session occupied
	// until the response is decoded" model for this single logical
	// command.
	if swErr, ok := err.(*SWError); ok && swErr.SW == hotPlugSW {
		time.Sleep(hotPlugBackoff)
		resp, err = s.sendOnceLocked(cla, ins, p1, p2, data, le)
	}
	s.firstCommandDone = true
	return resp, err
}

// SWError is returned by Send when the card's logical response carries a
// non-success status word; the channel remains open (spec §7: wrong-PIN,
// conditions-not-satisfied and similar leave the session intact).
type SWError struct {
	Cla, Ins byte
	SW       uint16
}

func (e *SWError) Error() string {
	return fmt.Sprintf("securechannel: command (CLA=%#02x, INS=%#02x) failed, SW=%04x", e.Cla, e.Ins, e.SW)
}

// sendOnceLocked is the core encrypt/MAC/transmit/decrypt/verify pipeline.
// Callers must hold s.mu for its entire duration; it never unlocks it.
func (s *Session) sendOnceLocked(cla, ins, p1, p2 byte, data []byte, le *byte) (*apdu.ResponseAPDU, error) {
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("securechannel: payload of %d bytes exceeds maximum of %d", len(data), maxPayloadSize)
	}

	encKey := s.encKey
	macKey := s.macKey
	iv := s.iv

	padded := apdu.Pad(data, blockSize)
	ct, err := cryptoutil.AES256CBCEncrypt(encKey, iv, padded)
	if err != nil {
		return nil, err
	}

	meta := requestMeta(cla, ins, p1, p2, len(ct)+blockSize)
	mac, err := cryptoutil.RetailMAC(macKey, meta, ct)
	if err != nil {
		return nil, err
	}

	wireData := make([]byte, 0, len(mac)+len(ct))
	wireData = append(wireData, mac...)
	wireData = append(wireData, ct...)

	s.iv = mac

	cmd := &apdu.CommandAPDU{Cla: cla, Ins: ins, P1: p1, P2: p2, Data: wireData, Le: le}
	raw, err := apdu.Transmit(s.t, cmd)
	if err != nil {
		s.closeOnTransportErrorLocked()
		return nil, err
	}
	if !raw.IsSuccess() {
		// No encrypted payload to recover; the outer SW is all we have.
		return nil, &SWError{Cla: cla, Ins: ins, SW: raw.SW()}
	}
	if len(raw.Data) < blockSize {
		s.closeOnTransportErrorLocked()
		return nil, fmt.Errorf("securechannel: response too short to carry a MAC: %d bytes", len(raw.Data))
	}

	rmac := raw.Data[:blockSize]
	rct := raw.Data[blockSize:]

	// The response ciphertext is decrypted under the request MAC, i.e.
	// the IV value that resulted from the update a few lines up — not
	// the IV that was active before this exchange began. Verification
	// of the response MAC happens against a second, independent IV
	// update below; the two must not be conflated.
	plainPadded, err := cryptoutil.AES256CBCDecrypt(encKey, mac, rct)
	if err != nil {
		s.closeOnErrorLocked()
		return nil, err
	}

	rmeta := responseMeta(len(raw.Data))
	expectedMac, err := cryptoutil.RetailMAC(macKey, rmeta, rct)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(expectedMac, rmac) {
		s.closeOnErrorLocked()
		return nil, ErrMacMismatch
	}

	s.iv = expectedMac
	plain, err := apdu.Unpad(plainPadded)
	if err != nil {
		s.closeOnErrorLocked()
		return nil, err
	}

	resp, err := apdu.ParseResponseAPDU(plain)
	if err != nil {
		s.closeOnErrorLocked()
		return nil, err
	}
	if !resp.IsSuccess() {
		return resp, &SWError{Cla: cla, Ins: ins, SW: resp.SW()}
	}
	return resp, nil
}

// requestMeta builds the 16-byte metadata block MAC'd alongside a
// request's ciphertext (spec §4.3 step 2): CLA, INS, P1, P2, the full
// on-wire Lc (ciphertext length plus the 16-byte MAC prefix), then zeros.
func requestMeta(cla, ins, p1, p2 byte, lc int) []byte {
	meta := make([]byte, blockSize)
	meta[0], meta[1], meta[2], meta[3] = cla, ins, p1, p2
	meta[4] = byte(lc)
	return meta
}

// responseMeta builds the metadata block used to verify a response's MAC
// (spec §4.3 step 4): the total response length, then zeros.
func responseMeta(totalLen int) []byte {
	meta := make([]byte, blockSize)
	meta[0] = byte(totalLen)
	return meta
}

func deriveSessionKeys(sharedSecret, pairingKey, salt []byte) (encKey, macKey []byte) {
	h := sha512.New()
	h.Write(sharedSecret)
	h.Write(pairingKey)
	h.Write(salt)
	sum := h.Sum(nil)
	return sum[:secretLength], sum[secretLength : 2*secretLength]
}

// closeOnTransportErrorLocked closes the channel after a transport-level
// failure, since the IV chain state on the card side is now unknown
// (spec §5 "Cancellation & timeouts", §7). Callers must already hold
// s.mu.
func (s *Session) closeOnTransportErrorLocked() {
	s.open = false
}

// closeOnErrorLocked closes the channel after a crypto-layer failure
// (MAC mismatch, bad padding, malformed response) that leaves the IV
// chain desynchronized (spec §7). Callers must already hold s.mu.
func (s *Session) closeOnErrorLocked() {
	s.closeOnTransportErrorLocked()
}

// Reset clears all cryptographic state, wiping secrets before release,
// and returns the session to the "idle" state of spec §4.3's diagram.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cryptoutil.Wipe(s.encKey)
	cryptoutil.Wipe(s.macKey)
	cryptoutil.Wipe(s.iv)
	cryptoutil.Wipe(s.sharedSecret)
	cryptoutil.Wipe(s.pairingKey)
	s.ephemeral = nil
	s.sharedSecret = nil
	s.pairingKey = nil
	s.encKey = nil
	s.macKey = nil
	s.iv = nil
	s.open = false
	s.firstCommandDone = false
}

// oneShotIVSize is the IV size used for INIT's pre-session encryption.
const oneShotIVSize = 16

// EncryptOneShot implements spec §4.3's "one-shot encryption (INIT
// only)": INIT's plaintext is encrypted under the raw ECDH secret with a
// fresh random IV and wrapped as
// [len(client_pub)=0x41][client_pub(65)][iv(16)][ct(padded)]. No MAC is
// applied — the card validates plaintext integrity by semantic checks.
func (s *Session) EncryptOneShot(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	secret := s.sharedSecret
	clientPub := s.ephemeral.MarshalUncompressed()
	s.mu.Unlock()
	if secret == nil {
		return nil, ErrNoECDHSeed
	}

	iv := make([]byte, oneShotIVSize)
	if err := cryptoutil.Fill(iv); err != nil {
		return nil, err
	}
	ct, err := cryptoutil.AES256CBCEncrypt(secret, iv, apdu.Pad(plaintext, blockSize))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(clientPub)+len(iv)+len(ct))
	out = append(out, byte(len(clientPub)))
	out = append(out, clientPub...)
	out = append(out, iv...)
	out = append(out, ct...)
	return out, nil
}
