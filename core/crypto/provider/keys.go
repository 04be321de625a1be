// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package provider

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// PrivateKeySize is the size of a serialized private key.
	PrivateKeySize = secp256k1.PrivKeyBytesLen

	// PublicKeySize is the size of a compressed public key.
	PublicKeySize = secp256k1.PubKeyBytesLenCompressed
)

var errInvalidPrivateKey = errors.New("provider: invalid private key")

// PrivateKey is an owned secp256k1 private key.  Copies must be made with
// Clone, and Zero must be called once the key is no longer needed.
type PrivateKey struct {
	k *secp256k1.PrivateKey
}

// GeneratePrivateKey generates a new private key using entropy from r.
func GeneratePrivateKey(r io.Reader) (*PrivateKey, error) {
	k, err := secp256k1.GeneratePrivateKeyFromRand(r)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{k: k}, nil
}

// ParsePrivateKey deserializes a 32 byte private key.
func ParsePrivateKey(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, errInvalidPrivateKey
	}
	var acc byte
	for _, v := range b {
		acc |= v
	}
	if subtle.ConstantTimeByteEq(acc, 0) == 1 {
		return nil, errInvalidPrivateKey
	}
	return &PrivateKey{k: secp256k1.PrivKeyFromBytes(b)}, nil
}

// Bytes returns the serialized private key.
func (k *PrivateKey) Bytes() []byte {
	return k.k.Serialize()
}

// PublicKey returns the matching public key.
func (k *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{k: k.k.PubKey()}
}

// Clone returns an independent copy of the key.  Cloning nil yields nil.
func (k *PrivateKey) Clone() *PrivateKey {
	if k == nil {
		return nil
	}
	b := k.k.Serialize()
	c := &PrivateKey{k: secp256k1.PrivKeyFromBytes(b)}
	for i := range b {
		b[i] = 0
	}
	return c
}

// Zero clears the key material.
func (k *PrivateKey) Zero() {
	if k != nil && k.k != nil {
		k.k.Zero()
	}
}

// PublicKey is a secp256k1 public key.
type PublicKey struct {
	k *secp256k1.PublicKey
}

// ParsePublicKey deserializes a compressed or uncompressed public key.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	k, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, err
	}
	return &PublicKey{k: k}, nil
}

// Bytes returns the compressed public key.
func (k *PublicKey) Bytes() []byte {
	return k.k.SerializeCompressed()
}

// Equal returns true iff both keys are the same point.
func (k *PublicKey) Equal(other *PublicKey) bool {
	if other == nil {
		return false
	}
	return k.k.IsEqual(other.k)
}

// String returns the hex encoded compressed key.
func (k *PublicKey) String() string {
	return hex.EncodeToString(k.Bytes())
}
