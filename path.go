// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

import (
	"strconv"
	"strings"
)

// PathStart identifies where DERIVE KEY / EXPORT KEY / SIGN's path
// applies from (spec §3 "BIP32 path").
type PathStart int

const (
	// FromMaster derives from the master key ("m/...").
	FromMaster PathStart = iota
	// FromParent derives from the parent of the currently derived key
	// ("../...").
	FromParent
	// FromCurrent derives from the currently derived key ("./...").
	FromCurrent
)

const hardenedBit uint32 = 0x80000000

// Path is a parsed BIP32 derivation path: a start point plus a sequence
// of (possibly hardened) child indices.
type Path struct {
	Start      PathStart
	Components []uint32
}

// ParsePath parses a path string in absolute ("m/44'/60'/0'/0/0"),
// parent-relative ("../0") or current-relative ("./0") form. Hardened
// components may be written with a trailing "'" or "h" (spec §3).
func ParsePath(s string) (*Path, error) {
	segments := strings.Split(s, "/")
	if len(segments) == 0 || segments[0] == "" {
		return nil, &ValidationError{Field: "path", Reason: "empty path"}
	}

	var start PathStart
	switch segments[0] {
	case "m":
		start = FromMaster
	case "..":
		start = FromParent
	case ".":
		start = FromCurrent
	default:
		return nil, &ValidationError{Field: "path", Reason: "must start with m, .. or ."}
	}

	rest := segments[1:]
	components := make([]uint32, 0, len(rest))
	for _, seg := range rest {
		if seg == "" {
			return nil, &ValidationError{Field: "path", Reason: "empty path component"}
		}
		hardened := false
		numPart := seg
		switch {
		case strings.HasSuffix(seg, "'"):
			hardened = true
			numPart = seg[:len(seg)-1]
		case strings.HasSuffix(seg, "h") || strings.HasSuffix(seg, "H"):
			hardened = true
			numPart = seg[:len(seg)-1]
		}
		n, err := strconv.ParseUint(numPart, 10, 32)
		if err != nil || n >= uint64(hardenedBit) {
			return nil, &ValidationError{Field: "path", Reason: "invalid path component " + seg}
		}
		idx := uint32(n)
		if hardened {
			idx |= hardenedBit
		}
		components = append(components, idx)
	}

	return &Path{Start: start, Components: components}, nil
}

// IsAbsolute reports whether the path starts from the master key, as
// SET PINLESS PATH requires (spec §4.4).
func (p *Path) IsAbsolute() bool { return p.Start == FromMaster }

// Wire encodes the path's components as big-endian uint32s, concatenated
// (spec §3 "Wire form").
func (p *Path) Wire() []byte {
	out := make([]byte, 4*len(p.Components))
	for i, c := range p.Components {
		be32(out[i*4:i*4+4], c)
	}
	return out
}

func be32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}
