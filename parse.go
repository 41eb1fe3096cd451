// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

import "github.com/keycard-go/keycard/apdu"

// parseApplicationInfo decodes SELECT's response (spec §3). The
// pre-initialized shape is a single TLV (tag 0x80); the initialized
// shape is a composite (tag 0xA4) whose value is the fixed-width
// sequence spec §3 describes, with the Key UID's presence/absence
// (0 or 32 bytes) and the trailing capabilities byte (0 or 1 byte)
// distinguished by the value's total length.
func parseApplicationInfo(data []byte) (*ApplicationInfo, error) {
	list, err := apdu.ParseTLV(data)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, &TruncatedResponseError{Context: "ApplicationInfo", Got: len(data), Want: 2}
	}

	if entry, ok := apdu.Find(list, tagApplicationInfoPreInit); ok {
		if len(entry.Value) != secureChannelPubKeyLen {
			return nil, &TruncatedResponseError{Context: "ApplicationInfo.SecureChannelPubKey", Got: len(entry.Value), Want: secureChannelPubKeyLen}
		}
		return &ApplicationInfo{
			Initialized:         false,
			SecureChannelPubKey: append([]byte(nil), entry.Value...),
		}, nil
	}

	entry, ok := apdu.Find(list, tagApplicationInfo)
	if !ok {
		return nil, &apdu.TLVError{Tag: list[0].Tag, Offset: list[0].Offset, Reason: "expected SELECT response tag 0x80 or 0xA4"}
	}
	return parseInitializedApplicationInfo(entry.Value)
}

func parseInitializedApplicationInfo(v []byte) (*ApplicationInfo, error) {
	const fixedLen = instanceUIDLength + secureChannelPubKeyLen + 2 + 1
	if len(v) < fixedLen {
		return nil, &TruncatedResponseError{Context: "ApplicationInfo", Got: len(v), Want: fixedLen}
	}

	info := &ApplicationInfo{Initialized: true}
	off := 0
	info.InstanceUID = append([]byte(nil), v[off:off+instanceUIDLength]...)
	off += instanceUIDLength
	info.SecureChannelPubKey = append([]byte(nil), v[off:off+secureChannelPubKeyLen]...)
	off += secureChannelPubKeyLen
	info.VersionMajor, info.VersionMinor = v[off], v[off+1]
	off += 2
	info.PairingSlots = v[off]
	off++

	remaining := v[off:]
	switch {
	case len(remaining) == 0:
		// No Key UID, no capabilities.
	case len(remaining) == keyUIDLength:
		info.KeyUID = append([]byte(nil), remaining...)
	case len(remaining) == keyUIDLength+1:
		info.KeyUID = append([]byte(nil), remaining[:keyUIDLength]...)
		info.Capabilities = remaining[keyUIDLength]
	case len(remaining) == 1:
		info.Capabilities = remaining[0]
	default:
		return nil, &TruncatedResponseError{Context: "ApplicationInfo.KeyUID", Got: len(remaining), Want: keyUIDLength}
	}
	return info, nil
}

// parseApplicationStatus decodes GET STATUS(P1=0)'s response (spec §3):
// a composite tag 0xA3 wrapping PIN retries, PUK retries, and a
// key-initialized boolean, one byte each.
func parseApplicationStatus(data []byte) (*ApplicationStatus, error) {
	v, err := apdu.One(data, tagApplicationStatus)
	if err != nil {
		return nil, err
	}
	if len(v) < 3 {
		return nil, &TruncatedResponseError{Context: "ApplicationStatus", Got: len(v), Want: 3}
	}
	return &ApplicationStatus{
		PINRetryCount:  int(v[0]),
		PUKRetryCount:  int(v[1]),
		KeyInitialized: v[2] != 0,
	}, nil
}

// parseCurrentPath decodes GET STATUS(P1=1)'s response: a flat sequence
// of big-endian uint32 path components (spec §3 "Wire form").
func parseCurrentPath(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, &TruncatedResponseError{Context: "current path", Got: len(data), Want: (len(data) / 4) * 4}
	}
	out := make([]uint32, len(data)/4)
	for i := range out {
		b := data[i*4 : i*4+4]
		out[i] = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	return out, nil
}

// Signature is an ECDSA signature over a 32-byte hash, returned by every
// SIGN variant (spec §4.4).
type Signature struct {
	PubKey []byte // 65 bytes, uncompressed
	DER    []byte // DER-encoded (r, s)
}

func parseSignature(data []byte) (*Signature, error) {
	v, err := apdu.One(data, tagSignatureTemplate)
	if err != nil {
		return nil, err
	}
	list, err := apdu.ParseTLV(v)
	if err != nil {
		return nil, err
	}
	pub, ok := apdu.Find(list, tagSignaturePubKey)
	if !ok {
		return nil, &apdu.TLVError{Tag: tagSignaturePubKey, Reason: "missing signature public key"}
	}
	der, ok := apdu.Find(list, tagSignatureDER)
	if !ok {
		return nil, &apdu.TLVError{Tag: tagSignatureDER, Reason: "missing signature value"}
	}
	return &Signature{
		PubKey: append([]byte(nil), pub.Value...),
		DER:    append([]byte(nil), der.Value...),
	}, nil
}

// ExportedKey is EXPORT KEY's result (spec §4.4): always a public key,
// plus a private key when the caller requested the extended form.
type ExportedKey struct {
	PubKey  []byte // 65 bytes, uncompressed
	PrivKey []byte // 32 bytes, present only when requested
}

func parseExportedKey(data []byte) (*ExportedKey, error) {
	v, err := apdu.One(data, tagKeyTemplate)
	if err != nil {
		return nil, err
	}
	list, err := apdu.ParseTLV(v)
	if err != nil {
		return nil, err
	}
	pub, ok := apdu.Find(list, tagKeyPubKey)
	if !ok {
		return nil, &apdu.TLVError{Tag: tagKeyPubKey, Reason: "missing exported public key"}
	}
	out := &ExportedKey{PubKey: append([]byte(nil), pub.Value...)}
	if priv, ok := apdu.Find(list, tagKeyPrivKey); ok {
		out.PrivKey = append([]byte(nil), priv.Value...)
	}
	return out, nil
}
