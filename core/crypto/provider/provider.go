// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package provider implements the cryptographic capability set consumed by
// the record layer and the handshake engine: compact ECDSA and ECDH over
// secp256k1, ECIES, AES-256 in ECB/CBC/GCM modes, HMAC, the TLS 1.2 PRF and
// a random source.
package provider

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/hkdf"

	"github.com/cipherlane/transport/core/utils"
)

const (
	// KeySize is the AES-256 key size.
	KeySize = 32

	// BlockSize is the AES block size.
	BlockSize = aes.BlockSize

	// SignatureSize is the size of a compact recoverable signature.
	SignatureSize = 65

	eciesMACSize = sha256.Size
	eciesInfo    = "cipherlane ecies v1"
)

var (
	// ErrInvalidPadding is returned when PKCS#7 padding fails to verify.
	ErrInvalidPadding = errors.New("provider: invalid padding")

	// ErrInvalidBlockLength is returned for inputs that are not a multiple
	// of the AES block size where one is required.
	ErrInvalidBlockLength = errors.New("provider: input is not a multiple of the block size")

	// ErrDecryptionFailed is returned when an ECIES or AEAD ciphertext
	// fails to authenticate.
	ErrDecryptionFailed = errors.New("provider: decryption failed")
)

// Provider is the set of cryptographic primitives the transport needs.
type Provider interface {
	// GenerateKey generates an ephemeral or long term key pair.
	GenerateKey() (*PrivateKey, error)

	// Sign produces a compact signature over SHA-256(msg).
	Sign(key *PrivateKey, msg []byte) ([]byte, error)

	// Verify checks a compact signature over SHA-256(msg).
	Verify(key *PublicKey, msg, sig []byte) bool

	// ECDH derives the raw shared secret (the X coordinate).
	ECDH(key *PrivateKey, peer *PublicKey) ([]byte, error)

	// ECIESEncrypt encrypts plaintext to peer.
	ECIESEncrypt(peer *PublicKey, plaintext []byte) ([]byte, error)

	// ECIESDecrypt reverses ECIESEncrypt.
	ECIESDecrypt(key *PrivateKey, ciphertext []byte) ([]byte, error)

	HMACSHA256(key, data []byte) []byte
	HMACSHA512(key, data []byte) []byte

	// AES256ECBEncrypt encrypts whole blocks without padding.
	AES256ECBEncrypt(key, data []byte) ([]byte, error)
	AES256ECBDecrypt(key, data []byte) ([]byte, error)

	// AES256CBCEncrypt encrypts with optional PKCS#7 padding.
	AES256CBCEncrypt(key, iv, data []byte, pad bool) ([]byte, error)
	AES256CBCDecrypt(key, iv, data []byte, pad bool) ([]byte, error)

	// AEADSeal encrypts with AES-256-GCM, prefixing the random nonce.
	AEADSeal(key, plaintext, ad []byte) ([]byte, error)
	AEADOpen(key, sealed, ad []byte) ([]byte, error)

	RandomBytes(n int) ([]byte, error)

	// PRF is the TLS 1.2 P_SHA256 pseudo random function.
	PRF(secret, seed []byte, n int) []byte

	SHA256(data []byte) []byte
}

type defaultProvider struct {
	rng io.Reader
}

// Default returns the Provider backed by secp256k1 and the Go AES/SHA-2
// implementations, reading entropy from hpqc's whitened system source.
func Default() Provider {
	return &defaultProvider{rng: rand.Reader}
}

// New returns the default Provider reading entropy from rng.
func New(rng io.Reader) Provider {
	if rng == nil {
		rng = rand.Reader
	}
	return &defaultProvider{rng: rng}
}

func (p *defaultProvider) GenerateKey() (*PrivateKey, error) {
	return GeneratePrivateKey(p.rng)
}

func (p *defaultProvider) Sign(key *PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return ecdsa.SignCompact(key.k, digest[:], true), nil
}

func (p *defaultProvider) Verify(key *PublicKey, msg, sig []byte) bool {
	if key == nil || len(sig) != SignatureSize {
		return false
	}
	digest := sha256.Sum256(msg)
	recovered, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return false
	}
	return recovered.IsEqual(key.k)
}

func (p *defaultProvider) ECDH(key *PrivateKey, peer *PublicKey) ([]byte, error) {
	if key == nil || peer == nil {
		return nil, errors.New("provider: ECDH with nil key")
	}
	secret := secp256k1.GenerateSharedSecret(key.k, peer.k)
	if utils.CtIsZero(secret) {
		return nil, errors.New("provider: ECDH produced an all zero secret")
	}
	return secret, nil
}

func (p *defaultProvider) eciesKeys(shared []byte) (encKey, macKey []byte, err error) {
	okm := make([]byte, KeySize+eciesMACSize)
	if _, err = io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(eciesInfo)), okm); err != nil {
		return nil, nil, err
	}
	return okm[:KeySize], okm[KeySize:], nil
}

// ECIESEncrypt output: ephemeral_pub(33) || iv(16) || ct || HMAC-SHA256(33+16+ct).
func (p *defaultProvider) ECIESEncrypt(peer *PublicKey, plaintext []byte) ([]byte, error) {
	eph, err := p.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer eph.Zero()

	shared, err := p.ECDH(eph, peer)
	if err != nil {
		return nil, err
	}
	encKey, macKey, err := p.eciesKeys(shared)
	if err != nil {
		return nil, err
	}
	iv, err := p.RandomBytes(BlockSize)
	if err != nil {
		return nil, err
	}
	ct, err := p.AES256CBCEncrypt(encKey, iv, plaintext, true)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, PublicKeySize+BlockSize+len(ct)+eciesMACSize)
	out = append(out, eph.PublicKey().Bytes()...)
	out = append(out, iv...)
	out = append(out, ct...)
	return append(out, p.HMACSHA256(macKey, out)...), nil
}

func (p *defaultProvider) ECIESDecrypt(key *PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < PublicKeySize+BlockSize+BlockSize+eciesMACSize {
		return nil, ErrDecryptionFailed
	}
	body, tag := ciphertext[:len(ciphertext)-eciesMACSize], ciphertext[len(ciphertext)-eciesMACSize:]
	eph, err := ParsePublicKey(body[:PublicKeySize])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	shared, err := p.ECDH(key, eph)
	if err != nil {
		return nil, err
	}
	encKey, macKey, err := p.eciesKeys(shared)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(p.HMACSHA256(macKey, body), tag) {
		return nil, ErrDecryptionFailed
	}
	iv := body[PublicKeySize : PublicKeySize+BlockSize]
	return p.AES256CBCDecrypt(encKey, iv, body[PublicKeySize+BlockSize:], true)
}

func (p *defaultProvider) HMACSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

func (p *defaultProvider) HMACSHA512(key, data []byte) []byte {
	m := hmac.New(sha512.New, key)
	m.Write(data)
	return m.Sum(nil)
}

func (p *defaultProvider) AES256ECBEncrypt(key, data []byte) ([]byte, error) {
	return ecb(key, data, true)
}

func (p *defaultProvider) AES256ECBDecrypt(key, data []byte) ([]byte, error) {
	return ecb(key, data, false)
}

func ecb(key, data []byte, encrypt bool) ([]byte, error) {
	if len(data)%BlockSize != 0 {
		return nil, ErrInvalidBlockLength
	}
	block, err := newAES256(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	for off := 0; off < len(data); off += BlockSize {
		if encrypt {
			block.Encrypt(out[off:off+BlockSize], data[off:off+BlockSize])
		} else {
			block.Decrypt(out[off:off+BlockSize], data[off:off+BlockSize])
		}
	}
	return out, nil
}

func (p *defaultProvider) AES256CBCEncrypt(key, iv, data []byte, pad bool) ([]byte, error) {
	block, err := newAES256(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("provider: invalid IV length %d", len(iv))
	}
	if pad {
		data = PKCS7Pad(data, BlockSize)
	} else if len(data)%BlockSize != 0 {
		return nil, ErrInvalidBlockLength
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func (p *defaultProvider) AES256CBCDecrypt(key, iv, data []byte, pad bool) ([]byte, error) {
	block, err := newAES256(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("provider: invalid IV length %d", len(iv))
	}
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, ErrInvalidBlockLength
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	if !pad {
		return out, nil
	}
	return PKCS7Unpad(out, BlockSize)
}

func (p *defaultProvider) AEADSeal(key, plaintext, ad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := p.RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

func (p *defaultProvider) AEADOpen(key, sealed, ad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecryptionFailed
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

func (p *defaultProvider) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(p.rng, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *defaultProvider) PRF(secret, seed []byte, n int) []byte {
	return PRFTLS12(secret, seed, n)
}

func (p *defaultProvider) SHA256(data []byte) []byte {
	d := sha256.Sum256(data)
	return d[:]
}

func newAES256(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("provider: invalid AES-256 key length %d", len(key))
	}
	return aes.NewCipher(key)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := newAES256(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// PRFTLS12 implements P_SHA256 from RFC 5246 section 5.  Callers fold the
// label into seed.
func PRFTLS12(secret, seed []byte, n int) []byte {
	out := make([]byte, 0, n+sha256.Size)
	a := seed
	for len(out) < n {
		m := hmac.New(sha256.New, secret)
		m.Write(a)
		a = m.Sum(nil)

		m.Reset()
		m.Write(a)
		m.Write(seed)
		out = m.Sum(out)
	}
	return out[:n]
}

// PKCS7Pad appends PKCS#7 padding, always adding at least one byte.
func PKCS7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

// PKCS7Unpad strips and verifies PKCS#7 padding.
func PKCS7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, ErrInvalidPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
