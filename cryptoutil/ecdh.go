// Copyright 2024 The keycard-go Authors
// This file is part of the keycard-go library.

package cryptoutil

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// KeyPair is an ephemeral secp256k1 key pair, as generated fresh for
// every SELECT/INIT/OPEN-SECURE-CHANNEL handshake (spec §4.3).
type KeyPair struct {
	Private *btcec.PrivateKey
	Public  *btcec.PublicKey
}

// GenerateKeyPair generates a fresh secp256k1 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: generating key pair: %w", err)
	}
	return &KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// MarshalUncompressed returns the 65-byte uncompressed point encoding
// (0x04 || X || Y) the applet uses on the wire for public keys.
func (k *KeyPair) MarshalUncompressed() []byte {
	return k.Public.SerializeUncompressed()
}

// ParsePublicKey parses a card-supplied public key. It accepts the
// 65-byte uncompressed form the applet always emits.
func ParsePublicKey(data []byte) (*btcec.PublicKey, error) {
	pub, err := btcec.ParsePubKey(data)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: invalid card public key: %w", err)
	}
	return pub, nil
}

// ECDH computes the raw X-coordinate ECDH shared secret between priv and
// pub. This deliberately does NOT use btcec/v2/ecdh's ECDH() method,
// which hashes the compressed point (X||Y-parity) with SHA-256 —
// OpenSSL/libcrypto semantics here mean the bare 32-byte X coordinate,
// as the Keycard applet computes it (spec §4.2).
func ECDH(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	curve := btcec.S256()
	ecdsaPub := pub.ToECDSA()
	x, _ := curve.ScalarMult(ecdsaPub.X, ecdsaPub.Y, priv.Serialize())

	secret := make([]byte, 32)
	x.FillBytes(secret)
	return secret
}

// Fill fills out with cryptographically secure random bytes (CSPRNG,
// spec §4.2) — used for challenges, ephemeral IVs, and the INIT IV.
func Fill(out []byte) error {
	_, err := rand.Read(out)
	return err
}
