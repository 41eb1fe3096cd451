// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.
//
// The keycard-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package scripted provides an in-memory transport.Transport that plays
// back a fixed sequence of responses, recording every APDU it was sent.
// It exists so the rest of the module can be tested without a reader or
// a card attached.
package scripted

import (
	"fmt"

	"github.com/keycard-go/keycard/transport"
)

// Transport is a scripted transport.Transport. Responses are consumed in
// order; Transmit fails once the script is exhausted.
type Transport struct {
	responses [][]byte
	pos       int
	connected bool

	Sent [][]byte // every command APDU passed to Transmit, in order
}

// New returns a Transport that will answer successive Transmit calls with
// responses, in order.
func New(responses ...[]byte) *Transport {
	return &Transport{responses: responses, connected: true}
}

// Transmit implements transport.Transport.
func (t *Transport) Transmit(apdu []byte) ([]byte, error) {
	if !t.connected {
		return nil, transport.ErrDisconnected
	}
	t.Sent = append(t.Sent, append([]byte(nil), apdu...))
	if t.pos >= len(t.responses) {
		return nil, fmt.Errorf("scripted transport: no more scripted responses (sent %d APDUs)", len(t.Sent))
	}
	resp := t.responses[t.pos]
	t.pos++
	return resp, nil
}

// IsConnected implements transport.Transport.
func (t *Transport) IsConnected() bool { return t.connected }

// Disconnect marks the transport as disconnected; subsequent Transmit
// calls fail with transport.ErrDisconnected.
func (t *Transport) Disconnect() { t.connected = false }

// Push appends another scripted response, for tests that build up the
// exchange as they go (e.g. after computing a MAC that depends on an
// earlier step).
func (t *Transport) Push(resp []byte) { t.responses = append(t.responses, resp) }
