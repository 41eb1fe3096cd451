// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

import "github.com/keycard-go/keycard/apdu"

const (
	getStatusP1Application = 0x00
	getStatusP1Path        = 0x01

	// DataSlotPublic is the card's freely readable/writable data slot
	// (spec §4.4 "STORE DATA(slot,bytes) / GET DATA(slot)"). It is the
	// only slot the applet exposes without further preconditions; other
	// slot values are accepted by StoreData/GetData as raw P1 bytes for
	// forward compatibility with applet revisions that define more.
	DataSlotPublic = 0x00
)

// GetStatus returns the card's PIN/PUK retry counters and key-loaded flag
// (spec §3, §4.4 GET STATUS P1=0). Requires an open channel.
func (cs *CommandSet) GetStatus() (*ApplicationStatus, error) {
	resp, err := cs.sendAuthenticated(apdu.InsGetStatus, getStatusP1Application, 0, nil, apdu.Le(0))
	if err != nil {
		return nil, err
	}
	return parseApplicationStatus(resp.Data)
}

// GetCurrentPath returns the BIP32 path of the currently derived key
// (spec §3, §4.4 GET STATUS P1=1). Requires an open channel.
func (cs *CommandSet) GetCurrentPath() ([]uint32, error) {
	resp, err := cs.sendAuthenticated(apdu.InsGetStatus, getStatusP1Path, 0, nil, apdu.Le(0))
	if err != nil {
		return nil, err
	}
	return parseCurrentPath(resp.Data)
}

// StoreData writes data to the card's persistent data slot (spec §4.4
// STORE DATA(slot,bytes)). Requires an open channel.
func (cs *CommandSet) StoreData(slot byte, data []byte) error {
	_, err := cs.sendAuthenticated(apdu.InsStoreData, slot, 0, data, nil)
	return err
}

// GetData reads back whatever StoreData last wrote to slot (spec §4.4
// GET DATA(slot)). Requires an open channel.
func (cs *CommandSet) GetData(slot byte) ([]byte, error) {
	resp, err := cs.sendAuthenticated(apdu.InsGetData, slot, 0, nil, apdu.Le(0))
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
