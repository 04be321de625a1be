// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package srp implements the SRP-6a arithmetic used by the password based
// handshake.  Padding follows RFC 5054: values hashed together are left
// padded to the byte length of N.
package srp

import (
	"crypto/sha256"
	"errors"
	"hash"
	"math/big"
)

var (
	// ErrInvalidPublicValue is returned when A or B is 0 mod N.
	ErrInvalidPublicValue = errors.New("srp: invalid public value")

	// ErrInvalidGroup is returned for unusable group parameters.
	ErrInvalidGroup = errors.New("srp: invalid group")
)

// Group is an SRP group with its hash function.
type Group struct {
	N    *big.Int
	G    *big.Int
	Hash func() hash.Hash
}

// RFC5054Group1024 is the 1024 bit group from RFC 5054 appendix A.
var RFC5054Group1024 = mustGroup(
	"EEAF0AB9ADB38DD69C33F80AFA8FC5E86072618775FF3C0B9EA2314C9C256576D674DF74"+
		"96EA81D3383B4813D692C6E0E0D5D8E250B98BE48E495C1D6089DAD15DC7D7B46154D6B6"+
		"CE8EF4AD69B15D4982559B297BCF1885C529F566660E57EC68EDBC3C05726CC02FD4CBF4"+
		"976EAA9AFD5138FE8376435B9FC61D2FC0EB06E3",
	2,
)

func mustGroup(n string, g int64) *Group {
	N, ok := new(big.Int).SetString(n, 16)
	if !ok {
		panic("BUG: srp: invalid group modulus")
	}
	return &Group{N: N, G: big.NewInt(g), Hash: sha256.New}
}

// NewGroup builds a group from the raw big endian N and g the peer sent.
func NewGroup(n, g []byte, h func() hash.Hash) (*Group, error) {
	if h == nil {
		h = sha256.New
	}
	grp := &Group{
		N:    new(big.Int).SetBytes(n),
		G:    new(big.Int).SetBytes(g),
		Hash: h,
	}
	if grp.N.BitLen() < 1024 || grp.G.Sign() <= 0 || grp.G.Cmp(grp.N) >= 0 {
		return nil, ErrInvalidGroup
	}
	return grp, nil
}

// WithHash returns a copy of the group using h.
func (grp *Group) WithHash(h func() hash.Hash) *Group {
	return &Group{N: grp.N, G: grp.G, Hash: h}
}

func (grp *Group) size() int {
	return (grp.N.BitLen() + 7) / 8
}

// Pad left pads v to the byte length of N.
func (grp *Group) Pad(v *big.Int) []byte {
	b := v.Bytes()
	n := grp.size()
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func (grp *Group) digest(parts ...[]byte) []byte {
	h := grp.Hash()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (grp *Group) hashInt(parts ...[]byte) *big.Int {
	return new(big.Int).SetBytes(grp.digest(parts...))
}

// GetK returns the multiplier k = H(N | PAD(g)).
func (grp *Group) GetK() *big.Int {
	return grp.hashInt(grp.N.Bytes(), grp.Pad(grp.G))
}

// GetX returns the private key x = H(s | H(I | ":" | p)).
func (grp *Group) GetX(salt []byte, identity, password string) *big.Int {
	inner := grp.digest([]byte(identity), []byte(":"), []byte(password))
	return grp.hashInt(salt, inner)
}

// GetV returns the verifier v = g^x % N.
func (grp *Group) GetV(x *big.Int) *big.Int {
	return new(big.Int).Exp(grp.G, x, grp.N)
}

// GetA returns the client public value A = g^a % N.
func (grp *Group) GetA(a *big.Int) *big.Int {
	return new(big.Int).Exp(grp.G, a, grp.N)
}

// GetB returns the server public value B = (k*v + g^b) % N.
func (grp *Group) GetB(b, v *big.Int) *big.Int {
	kv := new(big.Int).Mul(grp.GetK(), v)
	gb := new(big.Int).Exp(grp.G, b, grp.N)
	kv.Add(kv, gb)
	return kv.Mod(kv, grp.N)
}

// GetU returns the scrambler u = H(PAD(A) | PAD(B)).
func (grp *Group) GetU(A, B *big.Int) *big.Int {
	return grp.hashInt(grp.Pad(A), grp.Pad(B))
}

// GetClientS returns S = (B - k*g^x) ^ (a + u*x) % N.
func (grp *Group) GetClientS(B, x, a, u *big.Int) (*big.Int, error) {
	if !grp.IsValidPublic(B) {
		return nil, ErrInvalidPublicValue
	}
	kgx := new(big.Int).Exp(grp.G, x, grp.N)
	kgx.Mul(kgx, grp.GetK())
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, grp.N)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)
	return base.Exp(base, exp, grp.N), nil
}

// GetServerS returns S = (A * v^u) ^ b % N.
func (grp *Group) GetServerS(A, v, u, b *big.Int) (*big.Int, error) {
	if !grp.IsValidPublic(A) {
		return nil, ErrInvalidPublicValue
	}
	base := new(big.Int).Exp(v, u, grp.N)
	base.Mul(base, A)
	base.Mod(base, grp.N)
	return base.Exp(base, b, grp.N), nil
}

// GetKey returns the session key K = H(PAD(S)).
func (grp *Group) GetKey(S *big.Int) []byte {
	return grp.digest(grp.Pad(S))
}

// GetM1 returns the client proof M1 = H(PAD(A) | PAD(B) | PAD(S)).
func (grp *Group) GetM1(A, B, S *big.Int) []byte {
	return grp.digest(grp.Pad(A), grp.Pad(B), grp.Pad(S))
}

// GetM2 returns the server proof M2 = H(PAD(A) | M1 | PAD(S)).
func (grp *Group) GetM2(A *big.Int, M1 []byte, S *big.Int) []byte {
	return grp.digest(grp.Pad(A), M1, grp.Pad(S))
}

// IsValidPublic returns false iff v % N == 0.
func (grp *Group) IsValidPublic(v *big.Int) bool {
	if v == nil {
		return false
	}
	return new(big.Int).Mod(v, grp.N).Sign() != 0
}
