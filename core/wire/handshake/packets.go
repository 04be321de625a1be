// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package handshake

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Packet types.
const (
	TypeEcdhe          = "ecdhe"
	TypeEcdhex         = "ecdhex"
	TypeSrpInit        = "srp_init"
	TypeSrpExchange    = "srp_exchange"
	TypeKeyInit        = "key_init"
	TypeKeyExchange    = "key_exchange"
	TypeSession        = "session"
	TypeTicket         = "ticket"
	TypeTicketRequest  = "ticket_request"
	TypeTicketResponse = "ticket_response"
)

// Packet is the union of every handshake packet.  Keys are compressed to
// small integers on the wire; which fields are present depends on Type.
type Packet struct {
	Type string `cbor:"1,keyasint"`

	// ecdhe, ecdhex, session (server), key_init (server)
	Key       []byte `cbor:"2,keyasint,omitempty"`
	Agent     string `cbor:"3,keyasint,omitempty"`
	Solution  string `cbor:"4,keyasint,omitempty"`
	Host      string `cbor:"5,keyasint,omitempty"`
	Nonce     string `cbor:"6,keyasint,omitempty"`
	Timestamp int64  `cbor:"7,keyasint,omitempty"`
	Signature []byte `cbor:"8,keyasint,omitempty"`

	// srp_init, srp_exchange
	Identity string `cbor:"9,keyasint,omitempty"`
	N        []byte `cbor:"10,keyasint,omitempty"`
	G        []byte `cbor:"11,keyasint,omitempty"`
	Salt     []byte `cbor:"12,keyasint,omitempty"`
	B        []byte `cbor:"13,keyasint,omitempty"`
	A        []byte `cbor:"14,keyasint,omitempty"`
	M1       []byte `cbor:"15,keyasint,omitempty"`
	M2       []byte `cbor:"16,keyasint,omitempty"`

	// key_init, key_exchange
	Pub       []byte `cbor:"17,keyasint,omitempty"`
	Challenge []byte `cbor:"18,keyasint,omitempty"`
	K         []byte `cbor:"19,keyasint,omitempty"`

	Properties          map[string]interface{} `cbor:"20,keyasint,omitempty"`
	SessionID           string                 `cbor:"21,keyasint,omitempty"`
	SessionKey          []byte                 `cbor:"22,keyasint,omitempty"`
	AdditionalLoginStep map[string]interface{} `cbor:"23,keyasint,omitempty"`
	Username            string                 `cbor:"24,keyasint,omitempty"`

	// ticket, ticket_request, ticket_response
	TicketID     []byte   `cbor:"25,keyasint,omitempty"`
	ClientRandom []byte   `cbor:"26,keyasint,omitempty"`
	Count        int      `cbor:"27,keyasint,omitempty"`
	Tickets      [][]byte `cbor:"28,keyasint,omitempty"`
	TTL          int64    `cbor:"29,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	decOpts := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(err)
	}
}

// Marshal serializes the packet.
func (p *Packet) Marshal() ([]byte, error) {
	return encMode.Marshal(p)
}

// UnmarshalPacket deserializes a packet.
func UnmarshalPacket(b []byte) (*Packet, error) {
	p := new(Packet)
	if err := decMode.Unmarshal(b, p); err != nil {
		return nil, err
	}
	if p.Type == "" {
		return nil, fmt.Errorf("handshake: packet without type")
	}
	return p, nil
}

// ChallengeMessage is the message signed to prove possession of a key in
// the ecdhex and session packets.
func ChallengeMessage(nonce string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s %d", nonce, timestamp))
}

// KeyChallengeMessage is the message signed in a key_exchange packet.
func KeyChallengeMessage(challenge, encryptedK []byte) []byte {
	out := make([]byte, 0, len(challenge)+len(encryptedK))
	out = append(out, challenge...)
	return append(out, encryptedK...)
}
