// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package record

import (
	"encoding/binary"

	"github.com/cipherlane/transport/core/utils"
)

const (
	keySize       = 32
	masterSize    = 48
	keyBlockSize  = 4 * keySize
	labelMaster   = "master secret"
	labelKeyBlock = "key expansion"
)

// RWState is the cipher state of one direction.  It is replaced wholesale
// by a ChangeCipherSpec and only ever mutated by the sequence increment.
type RWState struct {
	Key    [keySize]byte
	MACKey [keySize]byte
	SeqNum uint32
}

func (s *RWState) seqBytes() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], s.SeqNum)
	return b[:]
}

// Zero clears the key material.
func (s *RWState) Zero() {
	if s == nil {
		return
	}
	utils.ExplicitBzero(s.Key[:])
	utils.ExplicitBzero(s.MACKey[:])
	s.SeqNum = 0
}

// Role selects which half of the key block an endpoint writes with.
type Role int

const (
	// Client writes with the client keys and reads with the server keys.
	Client Role = iota

	// Server is the mirror image of Client.
	Server
)

// keyBlock is {client_mac, server_mac, client_key, server_key}.
type keyBlock []byte

func (kb keyBlock) states(role Role) (read, write *RWState) {
	client, server := new(RWState), new(RWState)
	copy(client.MACKey[:], kb[0:keySize])
	copy(server.MACKey[:], kb[keySize:2*keySize])
	copy(client.Key[:], kb[2*keySize:3*keySize])
	copy(server.Key[:], kb[3*keySize:4*keySize])
	if role == Client {
		return server, client
	}
	return client, server
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
