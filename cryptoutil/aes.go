// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.
//
// The keycard-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package cryptoutil collects the crypto primitives the secure channel
// and command set build on: secp256k1 ECDH, AES-256-CBC, PBKDF2-HMAC-
// SHA256, and the card's AES-CBC retail MAC. Grounded in the teacher's
// own primitive usage (accounts/scwallet/securechannel.go — crypto/aes,
// crypto/cipher, crypto/sha256, crypto/sha512) and, for secp256k1, the
// teacher's own go.mod dependency on github.com/btcsuite/btcd/btcec/v2.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AES256CBCEncrypt encrypts plaintext (which must already be a multiple
// of the AES block size — no padding is applied here) under key and iv.
func AES256CBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptoutil: AES-256 key must be 32 bytes, got %d", len(key))
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cryptoutil: plaintext length %d is not a multiple of the block size", len(plaintext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// AES256CBCDecrypt decrypts ciphertext (caller is responsible for
// stripping padding from the result).
func AES256CBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptoutil: AES-256 key must be 32 bytes, got %d", len(key))
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cryptoutil: ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}
