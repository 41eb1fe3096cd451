// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

import "github.com/keycard-go/keycard/apdu"

const (
	loadKeyP1Generate = 0x00 // LOAD KEY, generate: no data, card returns a fresh Key UID
	loadKeyP1Seed     = 0x03 // LOAD KEY, seed: 64-byte BIP32 master seed

	seedLength = 64

	// pathSource* select DERIVE KEY's starting point (spec §3 "BIP32
	// path"), reusing the same three-way distinction Path.Start models.
	pathSourceMaster = 0x00
	pathSourceParent = 0x40
	pathSourceCurrent = 0x80

	signP1CurrentKey  = 0x00 // sign with the currently derived key
	signP1DerivePath  = 0x01 // derive the given path first, then sign
	signP1MakeCurrent = 0x02 // persist the derived path as current
	signP2Hash        = 0x01

	hashLength = 32

	exportP1Derive      = 0x01 // derive the given path before exporting
	exportP1MakeCurrent = 0x02 // persist the derived path as current
	exportP2Public      = 0x00
	exportP2Extended    = 0x01 // also return the private key
)

// GenerateKey asks the card to generate a fresh random keypair on-card
// and returns its Key UID (spec §4.4). Requires a verified PIN.
func (cs *CommandSet) GenerateKey() ([]byte, error) {
	if err := cs.requireAuthenticated(); err != nil {
		return nil, err
	}
	resp, err := cs.sendAuthenticated(apdu.InsLoadKey, loadKeyP1Generate, 0, nil, nil)
	if err != nil {
		return nil, err
	}
	return keyUIDFromResponse(resp.Data)
}

// LoadSeed loads a 64-byte BIP32 master seed, deriving and storing the
// corresponding master keypair (spec §4.4, §7 "bad seed length"). Requires
// a verified PIN.
func (cs *CommandSet) LoadSeed(seed []byte) ([]byte, error) {
	if len(seed) != seedLength {
		return nil, &ValidationError{Field: "seed", Reason: "must be exactly 64 bytes"}
	}
	if err := cs.requireAuthenticated(); err != nil {
		return nil, err
	}
	resp, err := cs.sendAuthenticated(apdu.InsLoadKey, loadKeyP1Seed, 0, seed, nil)
	if err != nil {
		return nil, err
	}
	return keyUIDFromResponse(resp.Data)
}

func keyUIDFromResponse(data []byte) ([]byte, error) {
	if len(data) != keyUIDLength {
		return nil, &TruncatedResponseError{Context: "Key UID", Got: len(data), Want: keyUIDLength}
	}
	return append([]byte(nil), data...), nil
}

// RemoveKey erases the keypair currently loaded on the card (spec §4.4).
// Requires a verified PIN.
func (cs *CommandSet) RemoveKey() error {
	if err := cs.requireAuthenticated(); err != nil {
		return err
	}
	_, err := cs.sendAuthenticated(apdu.InsRemoveKey, 0, 0, nil, nil)
	return err
}

// GenerateMnemonic asks the card to generate a random BIP39 mnemonic of
// the given checksum length (4..8 bits) and returns the word indices
// into the BIP39 wordlist (spec §1 Non-goals: "the card returns word
// indices", looking them up against the wordlist is left to the caller).
// Requires an open channel but not a verified PIN, matching LOAD SEED's
// sibling instruction's lack of key-loaded state to protect.
func (cs *CommandSet) GenerateMnemonic(checksumBits int) ([]uint16, error) {
	if checksumBits < 4 || checksumBits > 8 {
		return nil, &ValidationError{Field: "checksum_bits", Reason: "must be between 4 and 8"}
	}
	resp, err := cs.sendAuthenticated(apdu.InsGenerateMnemonic, byte(checksumBits), 0, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Data)%2 != 0 {
		return nil, &TruncatedResponseError{Context: "mnemonic word indices", Got: len(resp.Data), Want: (len(resp.Data) / 2) * 2}
	}
	indices := make([]uint16, len(resp.Data)/2)
	for i := range indices {
		indices[i] = uint16(resp.Data[i*2])<<8 | uint16(resp.Data[i*2+1])
	}
	return indices, nil
}

func pathSourceP1(p *Path) byte {
	switch p.Start {
	case FromParent:
		return pathSourceParent
	case FromCurrent:
		return pathSourceCurrent
	default:
		return pathSourceMaster
	}
}

// DeriveKey sets the card's currently derived key to path, persisting it
// across commands until the next DERIVE KEY or disconnect (spec §4.4).
// Requires a verified PIN and a key loaded.
func (cs *CommandSet) DeriveKey(path *Path) error {
	if err := cs.requireKeyOperation(); err != nil {
		return err
	}
	_, err := cs.sendAuthenticated(apdu.InsDeriveKey, pathSourceP1(path), 0, path.Wire(), nil)
	return err
}

// Sign signs hash with the currently derived key (spec §4.4). Requires a
// verified PIN and a key loaded.
func (cs *CommandSet) Sign(hash []byte) (*Signature, error) {
	if len(hash) != hashLength {
		return nil, &ValidationError{Field: "hash", Reason: "must be exactly 32 bytes"}
	}
	if err := cs.requireKeyOperation(); err != nil {
		return nil, err
	}
	return cs.sign(signP1CurrentKey, hash)
}

// SignWithPath derives path and signs hash in one round trip (spec §4.4).
// Requires a verified PIN and a key loaded. If makeCurrent is true, path
// also becomes the card's currently derived key, as a subsequent DeriveKey
// would do.
func (cs *CommandSet) SignWithPath(hash []byte, path *Path, makeCurrent bool) (*Signature, error) {
	if len(hash) != hashLength {
		return nil, &ValidationError{Field: "hash", Reason: "must be exactly 32 bytes"}
	}
	if err := cs.requireKeyOperation(); err != nil {
		return nil, err
	}
	p1 := signP1DerivePath | pathSourceP1(path)
	if makeCurrent {
		p1 |= signP1MakeCurrent
	}
	data := append(append([]byte(nil), hash...), path.Wire()...)
	return cs.sign(p1, data)
}

// SignPinless signs hash without requiring VerifyPIN (spec §4.4 "as
// applicable"). It only checks that the secure channel is open and sends
// the same SIGN command as Sign (P1 selecting the currently derived key);
// it does not select the path installed by SetPinlessPath through a
// separate P1 value.
func (cs *CommandSet) SignPinless(hash []byte) (*Signature, error) {
	if len(hash) != hashLength {
		return nil, &ValidationError{Field: "hash", Reason: "must be exactly 32 bytes"}
	}
	if !cs.sc.IsOpen() {
		return nil, ErrChannelNotOpen
	}
	return cs.sign(signP1CurrentKey, hash)
}

func (cs *CommandSet) sign(p1 byte, data []byte) (*Signature, error) {
	resp, err := cs.sendAuthenticated(apdu.InsSign, p1, signP2Hash, data, nil)
	if err != nil {
		return nil, err
	}
	return parseSignature(resp.Data)
}

// SetPinlessPath installs the card's absolute pinless signing path
// (spec §4.4, §7 "non-absolute path"). Requires a verified PIN to set.
func (cs *CommandSet) SetPinlessPath(path *Path) error {
	if !path.IsAbsolute() {
		return &ValidationError{Field: "path", Reason: "SET PINLESS PATH requires an absolute path"}
	}
	if err := cs.requireAuthenticated(); err != nil {
		return err
	}
	_, err := cs.sendAuthenticated(apdu.InsSetPinlessPath, 0, 0, path.Wire(), nil)
	return err
}

// ExportCurrentKey exports the currently derived key without changing it
// (spec §4.4, SPEC_FULL "EXPORT KEY's four P1/P2 combinations"). Requires
// a verified PIN and a key loaded.
func (cs *CommandSet) ExportCurrentKey(extended bool) (*ExportedKey, error) {
	if err := cs.requireKeyOperation(); err != nil {
		return nil, err
	}
	return cs.exportKey(0, extended)
}

// ExportDerivedKey derives path, optionally persists it as current, and
// exports the resulting key (spec §4.4). Requires a verified PIN.
func (cs *CommandSet) ExportDerivedKey(path *Path, makeCurrent, extended bool) (*ExportedKey, error) {
	if err := cs.requireAuthenticated(); err != nil {
		return nil, err
	}
	p1 := byte(exportP1Derive) | pathSourceP1(path)
	if makeCurrent {
		p1 |= exportP1MakeCurrent
	}
	resp, err := cs.sendAuthenticated(apdu.InsExportKey, p1, exportP2(extended), path.Wire(), nil)
	if err != nil {
		return nil, err
	}
	return parseExportedKey(resp.Data)
}

func (cs *CommandSet) exportKey(p1 byte, extended bool) (*ExportedKey, error) {
	resp, err := cs.sendAuthenticated(apdu.InsExportKey, p1, exportP2(extended), nil, nil)
	if err != nil {
		return nil, err
	}
	return parseExportedKey(resp.Data)
}

func exportP2(extended bool) byte {
	if extended {
		return exportP2Extended
	}
	return exportP2Public
}

func (cs *CommandSet) requireKeyOperation() error {
	if err := cs.requireAuthenticated(); err != nil {
		return err
	}
	info := cs.ApplicationInfo()
	if info == nil || !info.HasKey() {
		return ErrNoKeyLoaded
	}
	return nil
}

// Identify signs challenge with the card's fixed identity key, proving
// the card's identity independent of any loaded wallet key (spec §4.4).
// It requires only a connected transport, not a secure channel.
func (cs *CommandSet) Identify(challenge []byte) (*Signature, error) {
	resp, err := cs.send(apdu.InsIdentify, 0, 0, challenge, nil)
	if err != nil {
		return nil, err
	}
	return parseSignature(resp.Data)
}

// FactoryReset wipes the card back to its pre-initialized state and
// clears all local session state (spec §4.4 "FACTORY RESET"). It runs
// SELECT first; if that SELECT reports a pre-initialized card, it
// returns success without sending FACTORY RESET.
func (cs *CommandSet) FactoryReset() error {
	info, err := cs.Select()
	if err != nil {
		return err
	}
	if !info.Initialized {
		return nil
	}
	_, err = cs.send(apdu.InsFactoryReset, factoryResetP1P2, factoryResetP1P2, nil, nil)
	if err != nil {
		return err
	}

	cs.sc.Reset()
	cs.mu.Lock()
	cs.applicationInfo = nil
	cs.pairingInfo = nil
	cs.pinVerified = false
	cs.mu.Unlock()

	_, err = cs.Select()
	return err
}
