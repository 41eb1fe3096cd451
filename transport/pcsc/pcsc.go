// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.
//
// The keycard-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package pcsc implements transport.Transport over a contact smart-card
// reader via PC/SC (cgo binding). Reader discovery and hot-plug policy
// are the caller's concern (spec §1 Non-goals); this package only
// connects to a named or indexed reader and moves APDU bytes.
//
// Grounded on the Connection type in the ntag424 reference's pcsc.go,
// generalized from a fixed reader index to ListReaders/Open and from a
// single Transmit method to the full transport.Transport contract
// (IsConnected, Close).
package pcsc

import (
	"fmt"

	"github.com/ebfe/scard"

	"github.com/keycard-go/keycard/transport"
)

// Transport wraps a PC/SC card connection established via github.com/
// ebfe/scard.
type Transport struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
}

// ListReaders returns the names of every PC/SC reader currently visible
// to the system, for the caller to present as a chooser.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establishing context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcsc: listing readers: %w", err)
	}
	return readers, nil
}

// Open connects to the named reader, sharing it with other applications
// and accepting either a T=0 or T=1 card.
func Open(reader string) (*Transport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establishing context: %w", err)
	}

	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: connecting to %q: %w", reader, err)
	}

	return &Transport{ctx: ctx, card: card, reader: reader}, nil
}

// OpenFirst connects to the first reader ListReaders returns. Readers
// are not checked for a present card.
func OpenFirst() (*Transport, error) {
	readers, err := ListReaders()
	if err != nil {
		return nil, err
	}
	if len(readers) == 0 {
		return nil, fmt.Errorf("pcsc: no readers found")
	}
	return Open(readers[0])
}

// Transmit implements transport.Transport by forwarding the raw APDU to
// the card and returning its response unmodified, including the
// trailing status word.
func (t *Transport) Transmit(apdu []byte) ([]byte, error) {
	if t == nil || t.card == nil {
		return nil, transport.ErrDisconnected
	}
	resp, err := t.card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("pcsc: transmit: %w", err)
	}
	return resp, nil
}

// IsConnected implements transport.Transport.
func (t *Transport) IsConnected() bool {
	if t == nil || t.card == nil {
		return false
	}
	_, err := t.card.Status()
	return err == nil
}

// Close disconnects the card, leaving it in the reader, and releases the
// PC/SC context.
func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	var err error
	if t.card != nil {
		err = t.card.Disconnect(scard.LeaveCard)
		t.card = nil
	}
	if t.ctx != nil {
		if rerr := t.ctx.Release(); err == nil {
			err = rerr
		}
		t.ctx = nil
	}
	return err
}
