// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.
//
// The keycard-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package pcsclite implements transport.Transport over a contact reader
// using github.com/gballet/go-libpcsclite, a pure-Go client for the
// pcscd IPC protocol. It exists alongside transport/pcsc as the non-cgo
// alternative for platforms where linking libpcsclite is undesirable —
// the same contact-reader contract, a different binding underneath.
//
// Both backends carry the same ListReaders/Connect/Transmit shape by
// design: go-libpcsclite was written as a drop-in alternative to
// github.com/ebfe/scard, so this file mirrors pcsc.go structurally
// rather than reintroducing the shape from scratch. EstablishContext
// here takes the pcscd socket name and scope go-libpcsclite's API
// requires (github.com/ebfe/scard's EstablishContext takes neither),
// and the context is released via ReleaseContext, not Release.
package pcsclite

import (
	"fmt"

	pcsc "github.com/gballet/go-libpcsclite"

	"github.com/keycard-go/keycard/transport"
)

// Transport wraps a pcsclite client connection.
type Transport struct {
	ctx  *pcsc.Client
	card *pcsc.Card
}

// ListReaders returns the names of every reader pcscd currently reports.
func ListReaders() ([]string, error) {
	ctx, err := pcsc.EstablishContext(pcsc.PCSCDSockName, 0)
	if err != nil {
		return nil, fmt.Errorf("pcsclite: establishing context: %w", err)
	}
	defer ctx.ReleaseContext()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcsclite: listing readers: %w", err)
	}
	return readers, nil
}

// Open connects to the named reader.
func Open(reader string) (*Transport, error) {
	ctx, err := pcsc.EstablishContext(pcsc.PCSCDSockName, 0)
	if err != nil {
		return nil, fmt.Errorf("pcsclite: establishing context: %w", err)
	}

	card, err := ctx.Connect(reader, pcsc.ShareShared, pcsc.ProtocolAny)
	if err != nil {
		ctx.ReleaseContext()
		return nil, fmt.Errorf("pcsclite: connecting to %q: %w", reader, err)
	}

	return &Transport{ctx: ctx, card: card}, nil
}

// Transmit implements transport.Transport.
func (t *Transport) Transmit(apdu []byte) ([]byte, error) {
	if t == nil || t.card == nil {
		return nil, transport.ErrDisconnected
	}
	resp, err := t.card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("pcsclite: transmit: %w", err)
	}
	return resp, nil
}

// IsConnected implements transport.Transport.
func (t *Transport) IsConnected() bool {
	return t != nil && t.card != nil
}

// Close disconnects the card and releases the pcscd context.
func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	var err error
	if t.card != nil {
		err = t.card.Disconnect(pcsc.LeaveCard)
		t.card = nil
	}
	if t.ctx != nil {
		if rerr := t.ctx.ReleaseContext(); err == nil {
			err = rerr
		}
		t.ctx = nil
	}
	return err
}
