// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package keycard

// TLV tags used in command responses (spec §3, §4.5). The top-level
// shapes (0x80 pre-initialized pubkey, 0xA4 initialized ApplicationInfo,
// 0xA3 ApplicationStatus) are named directly by spec §3; the templates
// below them follow the applet's published protocol conventions, since
// neither spec.md nor the retrieval pack pins down their exact byte
// values — see DESIGN.md.
const (
	tagApplicationInfoPreInit = 0x80 // SELECT (pre-initialized): pubkey only
	tagApplicationInfo        = 0xA4 // SELECT (initialized): composite
	tagApplicationStatus      = 0xA3 // GET STATUS (P1=0): composite

	tagSignatureTemplate = 0xA0 // SIGN response: composite
	tagSignaturePubKey   = 0x80 // child: 65-byte uncompressed pubkey
	tagSignatureDER      = 0x30 // child: DER-encoded ECDSA signature

	tagKeyTemplate = 0xA1 // EXPORT KEY response: composite
	tagKeyPubKey   = 0x80 // child: 65-byte uncompressed pubkey
	tagKeyPrivKey  = 0x81 // child: 32-byte raw private key (type=extended only)
)
