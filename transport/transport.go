// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.
//
// The keycard-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The keycard-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.

// Package transport defines the contract the card-reaching backends
// (PC/SC, NFC) must satisfy. The core never talks to a reader directly;
// it only ever holds a Transport.
package transport

import "errors"

// Transport moves raw APDU bytes to and from a card. Implementations may
// sit on top of a contact reader (PC/SC) or a contactless stack (NFC); the
// core only relies on this contract.
type Transport interface {
	// Transmit sends a single command APDU and returns the response APDU
	// exactly as returned by the card, including the trailing SW1 SW2.
	// Any reassembly of multi-frame responses is performed by the caller,
	// not the transport.
	Transmit(apdu []byte) ([]byte, error)

	// IsConnected reports whether the transport currently has a live
	// session with a card.
	IsConnected() bool
}

// Sentinel errors a Transport implementation should wrap with fmt.Errorf's
// %w so callers can test with errors.Is.
var (
	// ErrDisconnected is returned when Transmit is called with no card
	// present, or the card is removed mid-exchange.
	ErrDisconnected = errors.New("transport: not connected")

	// ErrTimeout is returned when a single APDU round-trip exceeds the
	// backend's deadline.
	ErrTimeout = errors.New("transport: timeout")
)
