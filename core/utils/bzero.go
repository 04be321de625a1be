// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package utils

import (
	"crypto/subtle"

	"github.com/katzenpost/hpqc/util"
)

// ExplicitBzero explicitly clears out the buffer b, by filling it with 0x00
// bytes.
//
//go:noinline
func ExplicitBzero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// CtIsZero returns true iff the buffer b is all 0x00, doing the check in
// constant time.
func CtIsZero(b []byte) bool {
	return util.CtIsZero(b)
}

// CtEqual compares a and b in constant time.
func CtEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// LeftPad returns b left padded with 0x00 bytes to size n.  Longer inputs are
// returned unmodified.
func LeftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}
