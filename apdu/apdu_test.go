// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package apdu

import (
	"bytes"
	"testing"
)

func TestCommandAPDURoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  *CommandAPDU
	}{
		{"header only", &CommandAPDU{Cla: 0x00, Ins: InsSelect, P1: 4, P2: 0}},
		{"le only", &CommandAPDU{Cla: 0x00, Ins: InsGetResponse, P1: 0, P2: 0, Le: Le(0x20)}},
		{"data no le", &CommandAPDU{Cla: 0x00, Ins: InsPair, P1: 0, P2: 0, Data: []byte{1, 2, 3, 4}}},
		{"data and le", &CommandAPDU{Cla: 0x80, Ins: InsGetStatus, P1: 1, P2: 0, Data: []byte{0xAA}, Le: Le(0x00)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := tc.cmd.Serialize()
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			got, err := ParseCommandAPDU(raw)
			if err != nil {
				t.Fatalf("ParseCommandAPDU: %v", err)
			}
			if got.Cla != tc.cmd.Cla || got.Ins != tc.cmd.Ins || got.P1 != tc.cmd.P1 || got.P2 != tc.cmd.P2 {
				t.Fatalf("header mismatch: got %+v, want %+v", got, tc.cmd)
			}
			if !bytes.Equal(got.Data, tc.cmd.Data) {
				t.Fatalf("data mismatch: got %v, want %v", got.Data, tc.cmd.Data)
			}
			switch {
			case got.Le == nil && tc.cmd.Le == nil:
			case got.Le != nil && tc.cmd.Le != nil && *got.Le == *tc.cmd.Le:
			default:
				t.Fatalf("Le mismatch: got %v, want %v", got.Le, tc.cmd.Le)
			}
		})
	}
}

func TestSelectAPDUWireForm(t *testing.T) {
	// Spec §8 scenario S1.
	aid := []byte{0xA0, 0x00, 0x00, 0x08, 0x04, 0x00, 0x01, 0x01, 0x01}
	cmd := &CommandAPDU{Cla: ClaISO7816, Ins: InsSelect, P1: 0x04, P2: 0x00, Data: aid, Le: Le(0x00)}
	raw, err := cmd.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	want := []byte{0x00, 0xA4, 0x04, 0x00, 0x09, 0xA0, 0x00, 0x00, 0x08, 0x04, 0x00, 0x01, 0x01, 0x01, 0x00}
	if !bytes.Equal(raw, want) {
		t.Fatalf("got % x, want % x", raw, want)
	}
}

func TestParseResponseAPDU(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x90, 0x00}
	resp, err := ParseResponseAPDU(raw)
	if err != nil {
		t.Fatalf("ParseResponseAPDU: %v", err)
	}
	if !resp.IsSuccess() {
		t.Fatalf("expected success, got SW=%04x", resp.SW())
	}
	if !bytes.Equal(resp.Data, []byte{0x01, 0x02}) {
		t.Fatalf("unexpected data: % x", resp.Data)
	}
}

func TestParseResponseAPDUTooShort(t *testing.T) {
	if _, err := ParseResponseAPDU([]byte{0x90}); err == nil {
		t.Fatal("expected error for truncated response")
	}
}

func TestPadUnpadRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x01},
		bytes.Repeat([]byte{0xAB}, 15),
		bytes.Repeat([]byte{0xAB}, 16),
		bytes.Repeat([]byte{0xAB}, 17),
	}
	for _, in := range inputs {
		padded := Pad(in, 16)
		if len(padded)%16 != 0 {
			t.Fatalf("Pad(%d bytes) not block aligned: %d", len(in), len(padded))
		}
		if len(padded) <= len(in) {
			t.Fatalf("Pad(%d bytes) did not grow: %d", len(in), len(padded))
		}
		got, err := Unpad(padded)
		if err != nil {
			t.Fatalf("Unpad: %v", err)
		}
		if !bytes.Equal(got, in) {
			t.Fatalf("round trip mismatch: got %v, want %v", got, in)
		}
	}
}

func TestUnpadMissingSentinel(t *testing.T) {
	if _, err := Unpad([]byte{0x00, 0x00, 0x00, 0x00}); err == nil {
		t.Fatal("expected error for padding with no 0x80 sentinel")
	}
}

func TestTLVTolerance(t *testing.T) {
	// Composite tag 0xA4 containing a known child (0x8F) plus, in the
	// second variant, an interleaved unknown sibling (0x9F) that must be
	// skipped without affecting the known child's value.
	known := TLV{Tag: 0x8F, Value: []byte{0x01, 0x02, 0x03}}

	without := append([]byte{known.Tag, byte(len(known.Value))}, known.Value...)
	withUnknown := append([]byte{0x9F, 0x02, 0xDE, 0xAD}, without...)

	for _, data := range [][]byte{without, withUnknown} {
		list, err := ParseTLV(data)
		if err != nil {
			t.Fatalf("ParseTLV: %v", err)
		}
		entry, ok := Find(list, known.Tag)
		if !ok {
			t.Fatalf("known tag not found in %x", data)
		}
		if !bytes.Equal(entry.Value, known.Value) {
			t.Fatalf("value mismatch: got %v, want %v", entry.Value, known.Value)
		}
	}
}

func TestParseTLVTruncated(t *testing.T) {
	if _, err := ParseTLV([]byte{0x80, 0x05, 0x01, 0x02}); err == nil {
		t.Fatal("expected error for truncated TLV value")
	}
}
