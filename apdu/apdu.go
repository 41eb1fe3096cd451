// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.
//
// The keycard-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package apdu encodes and decodes ISO 7816-4 short-form command and
// response APDUs, and carries the GET RESPONSE chaining needed for
// multi-frame replies. Adapted from the encode/decode shape of
// go-ethereum's accounts/scwallet.CommandAPDU/ResponseAPDU, generalized
// for conditional Le and for the 0x61-chaining the teacher left undone.
package apdu

import (
	"bytes"
	"fmt"

	"github.com/keycard-go/keycard/transport"
)

// CLA byte values used on the wire (spec §4.1, §6).
const (
	ClaISO7816 = 0x00 // SELECT, IDENTIFY, INIT, PAIR, OPEN SECURE CHANNEL, FACTORY RESET
	ClaProprietary = 0x80 // every other command, once a secure channel is open
)

// Instruction bytes (spec §6).
const (
	InsSelect               = 0xA4
	InsGetResponse          = 0xC0
	InsInit                 = 0xFD
	InsPair                 = 0x12
	InsUnpair               = 0x13
	InsOpenSecureChannel    = 0x10
	InsMutuallyAuthenticate = 0x11
	InsGetStatus            = 0xF2
	InsVerifyPIN            = 0x20
	InsChangePIN            = 0x21
	InsUnblockPIN           = 0x22
	InsLoadKey              = 0xD4
	InsDeriveKey            = 0xD5
	InsGenerateMnemonic     = 0xD6
	InsRemoveKey            = 0xC0 // shares INS with GET RESPONSE; CLA disambiguates (0x00 vs 0x80)
	InsSign                 = 0xC8
	InsSetPinlessPath       = 0xC9
	InsExportKey            = 0xC2
	InsStoreData            = 0xE2
	InsGetData              = 0xCA
	InsIdentify             = 0x14
	InsFactoryReset         = 0xFE
)

// Status words (spec §6).
const (
	SwOK                   = 0x9000
	SwSecurityStatus       = 0x6982
	SwConditionsNotSat     = 0x6985
	SwWrongData            = 0x6A80
	SwNoAvailableSlot      = 0x6A84
	SwAuthenticationMethod = 0x6F05
	sw1MoreData            = 0x61
	sw1WrongLe             = 0x6C
)

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Cla, Ins, P1, P2 byte
	Data             []byte

	// Le, if non-nil, is appended as the expected-response-length byte.
	// A value of 0 means "up to 256 bytes". Extended length is never
	// used by this protocol (spec §4.1).
	Le *byte
}

// Le returns a pointer to b, for building a CommandAPDU literal inline.
func Le(b byte) *byte { return &b }

// Serialize encodes the command APDU per spec §4.1: header, then an
// optional Lc+Data, then an optional Le.
func (c *CommandAPDU) Serialize() ([]byte, error) {
	if len(c.Data) > 255 {
		return nil, fmt.Errorf("apdu: data length %d exceeds short-form Lc (extended length not supported)", len(c.Data))
	}
	buf := new(bytes.Buffer)
	buf.WriteByte(c.Cla)
	buf.WriteByte(c.Ins)
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)
	if len(c.Data) > 0 {
		buf.WriteByte(byte(len(c.Data)))
		buf.Write(c.Data)
	}
	if c.Le != nil {
		buf.WriteByte(*c.Le)
	}
	return buf.Bytes(), nil
}

// ParseCommandAPDU decodes a serialized command back into its tuple. It
// exists to support the APDU round-trip property (spec §8.2); the card
// itself never needs its commands parsed back.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("apdu: command too short: %d bytes", len(raw))
	}
	cmd := &CommandAPDU{Cla: raw[0], Ins: raw[1], P1: raw[2], P2: raw[3]}
	rest := raw[4:]

	switch len(rest) {
	case 0:
		return cmd, nil
	case 1:
		// Case 2: Le only, no data.
		cmd.Le = Le(rest[0])
		return cmd, nil
	}

	lc := int(rest[0])
	switch {
	case len(rest) == 1+lc:
		// Case 3: Lc + Data, no Le.
		cmd.Data = append([]byte(nil), rest[1:]...)
		return cmd, nil
	case len(rest) == 1+lc+1:
		// Case 4: Lc + Data + Le.
		cmd.Data = append([]byte(nil), rest[1:1+lc]...)
		cmd.Le = Le(rest[len(rest)-1])
		return cmd, nil
	default:
		return nil, fmt.Errorf("apdu: command length %d inconsistent with Lc=%d", len(raw), lc)
	}
}

// ResponseAPDU represents a response received from the card: the trailing
// SW1/SW2 and any data that preceded them.
type ResponseAPDU struct {
	Data []byte
	Sw1  byte
	Sw2  byte
}

// ParseResponseAPDU splits the trailing status word off a raw response.
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("apdu: response too short: %d bytes", len(raw))
	}
	split := len(raw) - 2
	return &ResponseAPDU{
		Data: append([]byte(nil), raw[:split]...),
		Sw1:  raw[split],
		Sw2:  raw[split+1],
	}, nil
}

// SW returns the 16-bit status word.
func (r *ResponseAPDU) SW() uint16 { return uint16(r.Sw1)<<8 | uint16(r.Sw2) }

// IsSuccess reports whether SW == 0x9000.
func (r *ResponseAPDU) IsSuccess() bool { return r.SW() == SwOK }

// HasMoreData reports whether SW1 == 0x61 (more data via GET RESPONSE).
func (r *ResponseAPDU) HasMoreData() bool { return r.Sw1 == sw1MoreData }

// Transmit sends cmd through t and, if the card signals SW1=0x61 ("more
// data"), repeatedly issues GET RESPONSE and concatenates the returned
// data until a non-0x61 status word terminates the exchange (spec
// §4.1, §8 scenario S6). SW1=0x6C is not expected from this applet and
// is surfaced as an ordinary (non-chained) response.
func Transmit(t transport.Transport, cmd *CommandAPDU) (*ResponseAPDU, error) {
	raw, err := cmd.Serialize()
	if err != nil {
		return nil, err
	}
	respBytes, err := t.Transmit(raw)
	if err != nil {
		return nil, err
	}
	resp, err := ParseResponseAPDU(respBytes)
	if err != nil {
		return nil, err
	}

	data := append([]byte(nil), resp.Data...)
	for resp.HasMoreData() {
		getResp := &CommandAPDU{Cla: ClaISO7816, Ins: InsGetResponse, Le: Le(resp.Sw2)}
		raw, err := getResp.Serialize()
		if err != nil {
			return nil, err
		}
		respBytes, err := t.Transmit(raw)
		if err != nil {
			return nil, err
		}
		resp, err = ParseResponseAPDU(respBytes)
		if err != nil {
			return nil, err
		}
		data = append(data, resp.Data...)
	}
	resp.Data = data
	return resp, nil
}
