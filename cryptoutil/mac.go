// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package cryptoutil

import (
	"fmt"

	"github.com/keycard-go/keycard/apdu"
)

const blockSize = 16

// RetailMAC computes the Keycard applet's AES-CBC-based MAC (spec
// §4.3.1): meta (already exactly one block) is encrypted under an
// all-zero IV to derive an intermediate IV, data (padded) is then
// encrypted under that IV, and the second-to-last ciphertext block is
// the MAC. This is deliberately not the "last block" retail-MAC
// variant, nor HMAC: any deviation desynchronizes the card, which
// answers with SW=0x6f05 or 0x6982.
func RetailMAC(key, meta, data []byte) ([]byte, error) {
	if len(meta) != blockSize {
		return nil, fmt.Errorf("cryptoutil: MAC meta block must be %d bytes, got %d", blockSize, len(meta))
	}
	padded := apdu.Pad(data, blockSize)

	// meta and the padded data form one continuous CBC chain: meta is
	// encrypted under an all-zero IV, and the data blocks are encrypted
	// continuing that chain (the last ciphertext block of meta seeds
	// the first data block, exactly as repeated CryptBlocks calls on a
	// single cipher.BlockMode do). The MAC is the second-to-last block
	// of the combined ciphertext — which is meta's own ciphertext block
	// whenever data is a single padded block (e.g. empty input, spec §8
	// scenario S4).
	zeroIV := make([]byte, blockSize)
	cMeta, err := AES256CBCEncrypt(key, zeroIV, meta)
	if err != nil {
		return nil, err
	}
	ivPrime := cMeta[len(cMeta)-blockSize:]

	cData, err := AES256CBCEncrypt(key, ivPrime, padded)
	if err != nil {
		return nil, err
	}

	combined := append(append([]byte(nil), cMeta...), cData...)
	return combined[len(combined)-2*blockSize : len(combined)-blockSize], nil
}
