// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package apdu

import "fmt"

// TLV is one tag-length-value entry. Length is always short-form (a
// single byte, values < 128) — the applet never emits long-form TLV of
// interest here (spec §4.1).
type TLV struct {
	Tag    byte
	Value  []byte
	Offset int // byte offset of Tag within the buffer it was parsed from, for error reporting
}

// TLVError carries the offending tag and offset, per spec §4.5.
type TLVError struct {
	Tag    byte
	Offset int
	Reason string
}

func (e *TLVError) Error() string {
	return fmt.Sprintf("apdu: TLV parse error at offset %d, tag 0x%02x: %s", e.Offset, e.Tag, e.Reason)
}

// ParseTLV parses a flat sequence of sibling tag-length-value entries.
// It is used both for top-level single-TLV responses and, recursively,
// for the children of a composite tag.
func ParseTLV(data []byte) ([]TLV, error) {
	var out []TLV
	i := 0
	for i < len(data) {
		tag := data[i]
		if i+1 >= len(data) {
			return nil, &TLVError{Tag: tag, Offset: i, Reason: "truncated length byte"}
		}
		length := int(data[i+1])
		if length >= 128 {
			return nil, &TLVError{Tag: tag, Offset: i, Reason: "long-form TLV length not supported"}
		}
		start := i + 2
		end := start + length
		if end > len(data) {
			return nil, &TLVError{Tag: tag, Offset: i, Reason: "value runs past end of buffer"}
		}
		out = append(out, TLV{Tag: tag, Value: data[start:end], Offset: i})
		i = end
	}
	return out, nil
}

// Find returns the first entry with the given tag, tolerating and
// skipping any unrecognized sibling tags (spec §4.1, §4.5, §8.3).
func Find(list []TLV, tag byte) (TLV, bool) {
	for _, e := range list {
		if e.Tag == tag {
			return e, true
		}
	}
	return TLV{}, false
}

// One parses data as a sequence of top-level TLV entries and returns the
// value of the first entry with the given tag; other entries are ignored.
func One(data []byte, tag byte) ([]byte, error) {
	list, err := ParseTLV(data)
	if err != nil {
		return nil, err
	}
	entry, ok := Find(list, tag)
	if !ok {
		return nil, &TLVError{Tag: tag, Offset: 0, Reason: "expected tag not present"}
	}
	return entry.Value, nil
}
