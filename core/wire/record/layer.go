// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package record implements the framing and encryption layer of the secure
// session transport.
//
// A plaintext frame is an 8 byte header followed by the payload.  Once a
// write state is active the header is suffixed with an 8 byte truncated
// HMAC-SHA256 tag over seq || header and the resulting block is encrypted
// with AES-256-ECB.  That 16 byte block is also the IV of the AES-256-CBC
// body, which is followed by a 16 byte truncated HMAC-SHA256 tag over
// seq || header || iv || ciphertext.  Empty frames carry neither body nor
// tag.
package record

import (
	"crypto/hmac"
	"sync"

	"github.com/cipherlane/transport/core/crypto/provider"
	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/utils"
	"github.com/cipherlane/transport/internal/instrument"
)

// Handler consumes the decrypted records that are not consumed by the
// layer itself.
type Handler interface {
	OnApplicationData(payload []byte) error
	OnHandshake(payload []byte) error
}

// Layer is one endpoint of the record protocol.  All cipher state is
// guarded by the Layer's mutex; the Handler is invoked without it held so
// that it may call back into the Layer.
type Layer struct {
	sync.Mutex

	provider provider.Provider
	role     Role
	handler  Handler

	readState      *RWState
	writeState     *RWState
	nextReadState  *RWState
	nextWriteState *RWState
	masterSecret   []byte

	out []byte
}

// New creates a Layer with no cipher state.
func New(p provider.Provider, role Role, h Handler) *Layer {
	return &Layer{
		provider: p,
		role:     role,
		handler:  h,
	}
}

// SetHandler replaces the record handler.
func (l *Layer) SetHandler(h Handler) {
	l.Lock()
	defer l.Unlock()
	l.handler = h
}

// Send frames payload into the outbound buffer.  If forcePlaintext is set,
// or if no write state is active, the frame is sent in the clear.
func (l *Layer) Send(payload []byte, contentType ContentType, forcePlaintext bool) error {
	l.Lock()
	defer l.Unlock()
	return l.send(payload, contentType, forcePlaintext)
}

// SendAlert frames a fatal alert carrying msg.
func (l *Layer) SendAlert(msg string) error {
	return l.Send([]byte(msg), Alert, false)
}

func (l *Layer) send(payload []byte, contentType ContentType, forcePlaintext bool) error {
	if forcePlaintext || l.writeState == nil {
		if len(payload) > MaxFrameLength {
			return failure.FrameTooLarge.WithMessage("payload %d", len(payload))
		}
		h := &Header{Version: Version, ContentType: contentType, Length: uint32(len(payload))}
		l.out = append(l.out, h.Bytes()...)
		l.out = append(l.out, payload...)
		instrument.FrameSent(contentType.String())
		return nil
	}

	frame, err := l.seal(l.writeState, payload, contentType)
	if err != nil {
		return err
	}
	l.out = append(l.out, frame...)
	l.writeState.SeqNum++
	instrument.FrameSent(contentType.String())
	return nil
}

func (l *Layer) seal(st *RWState, payload []byte, contentType ContentType) ([]byte, error) {
	bodyLen := 0
	if len(payload) > 0 {
		bodyLen = (len(payload)/provider.BlockSize + 1) * provider.BlockSize
	}
	if bodyLen > MaxFrameLength {
		return nil, failure.FrameTooLarge.WithMessage("payload %d", len(payload))
	}

	hdr := (&Header{Version: Version, ContentType: contentType, Length: uint32(bodyLen)}).Bytes()
	seq := st.seqBytes()
	tag := l.provider.HMACSHA256(st.MACKey[:], concat(seq, hdr))[:headerTagSize]
	block, err := l.provider.AES256ECBEncrypt(st.Key[:], concat(hdr, tag))
	if err != nil {
		return nil, err
	}
	if bodyLen == 0 {
		return block, nil
	}

	ct, err := l.provider.AES256CBCEncrypt(st.Key[:], block, payload, true)
	if err != nil {
		return nil, err
	}
	mac := l.provider.HMACSHA256(st.MACKey[:], concat(seq, hdr, block, ct))[:MACSize]
	return concat(block, ct, mac), nil
}

// Process decodes every frame in input, in order, stopping at the first
// error.  ChangeCipherSpec records switch the read state, Alert records
// are returned as errors and everything else goes to the Handler.
func (l *Layer) Process(input []byte) error {
	for len(input) > 0 {
		contentType, payload, n, err := l.open(input)
		if err != nil {
			return err
		}
		input = input[n:]
		if err = l.dispatch(contentType, payload); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layer) open(input []byte) (ContentType, []byte, int, error) {
	l.Lock()
	defer l.Unlock()

	st := l.readState
	if st == nil {
		if len(input) < HeaderSize {
			return 0, nil, 0, failure.TruncatedFrame.WithMessage("short header")
		}
		h, err := ParseHeader(input[:HeaderSize])
		if err != nil {
			return 0, nil, 0, err
		}
		end := HeaderSize + int(h.Length)
		if len(input) < end {
			return 0, nil, 0, failure.TruncatedFrame.WithMessage("want %d bytes, have %d", end, len(input))
		}
		payload := append([]byte(nil), input[HeaderSize:end]...)
		if h.ContentType == ChangeCipherSpec {
			if err = l.switchReadState(); err != nil {
				return 0, nil, 0, err
			}
		}
		return h.ContentType, payload, end, nil
	}

	if len(input) < SealedHeaderSize {
		return 0, nil, 0, failure.TruncatedFrame.WithMessage("short header")
	}
	block := input[:SealedHeaderSize]
	plain, err := l.provider.AES256ECBDecrypt(st.Key[:], block)
	if err != nil {
		return 0, nil, 0, err
	}
	hdr, tag := plain[:HeaderSize], plain[HeaderSize:]
	seq := st.seqBytes()
	if !hmac.Equal(tag, l.provider.HMACSHA256(st.MACKey[:], concat(seq, hdr))[:headerTagSize]) {
		instrument.FrameIntegrityFailure()
		return 0, nil, 0, failure.FrameHeaderTagMismatch
	}
	h, err := ParseHeader(hdr)
	if err != nil {
		return 0, nil, 0, err
	}

	n := SealedHeaderSize
	var payload []byte
	if h.Length > 0 {
		if h.Length%provider.BlockSize != 0 {
			return 0, nil, 0, failure.InvalidPadding.WithMessage("body length %d", h.Length)
		}
		ctEnd := n + int(h.Length)
		end := ctEnd + MACSize
		if len(input) < end {
			return 0, nil, 0, failure.TruncatedFrame.WithMessage("want %d bytes, have %d", end, len(input))
		}
		ct, mac := input[n:ctEnd], input[ctEnd:end]
		if !hmac.Equal(mac, l.provider.HMACSHA256(st.MACKey[:], concat(seq, hdr, block, ct))[:MACSize]) {
			instrument.FrameIntegrityFailure()
			return 0, nil, 0, failure.FrameMacMismatch
		}
		if payload, err = l.provider.AES256CBCDecrypt(st.Key[:], block, ct, true); err != nil {
			return 0, nil, 0, failure.InvalidPadding.Wrap(err)
		}
		n = end
	}
	st.SeqNum++

	if h.ContentType == ChangeCipherSpec {
		if err = l.switchReadState(); err != nil {
			return 0, nil, 0, err
		}
	}
	return h.ContentType, payload, n, nil
}

func (l *Layer) dispatch(contentType ContentType, payload []byte) error {
	instrument.FrameReceived(contentType.String())

	l.Lock()
	h := l.handler
	l.Unlock()

	switch contentType {
	case ChangeCipherSpec:
		return nil
	case Alert:
		return failure.FromAlert(string(payload))
	case Handshake:
		if h == nil {
			return failure.UnexpectedPacket.WithMessage("no handshake handler")
		}
		return h.OnHandshake(payload)
	case ApplicationData:
		if h == nil {
			return failure.UnexpectedPacket.WithMessage("no application data handler")
		}
		return h.OnApplicationData(payload)
	default:
		return failure.UnknownContentType.WithMessage("%d", uint8(contentType))
	}
}

func (l *Layer) switchReadState() error {
	if l.nextReadState == nil {
		return failure.InvalidNextReadState
	}
	l.readState.Zero()
	l.readState, l.nextReadState = l.nextReadState, nil
	return nil
}

// ChangeCipherSpec emits an empty ChangeCipherSpec record under the current
// write state and then activates the pending write state.
func (l *Layer) ChangeCipherSpec() error {
	l.Lock()
	defer l.Unlock()

	if l.nextWriteState == nil {
		return failure.WriteStateNotInitialized
	}
	if err := l.send(nil, ChangeCipherSpec, false); err != nil {
		return err
	}
	l.writeState.Zero()
	l.writeState, l.nextWriteState = l.nextWriteState, nil
	return nil
}

// SetPreMasterSecret derives the master secret and the pending states from
// a freshly negotiated premaster secret.
func (l *Layer) SetPreMasterSecret(premaster, clientRandom, serverRandom []byte) {
	l.Lock()
	defer l.Unlock()

	seed := concat([]byte(labelMaster), clientRandom, serverRandom)
	l.setPending(l.provider.PRF(premaster, seed, masterSize), serverRandom, clientRandom)
}

// RestoreState derives the pending states from a ticket.  The ticket id
// stands in for the server random.
func (l *Layer) RestoreState(ticketID, masterSecret, clientRandom []byte) {
	l.Lock()
	defer l.Unlock()

	l.setPending(append([]byte(nil), masterSecret...), ticketID, clientRandom)
}

func (l *Layer) setPending(master, serverRandom, clientRandom []byte) {
	seed := concat([]byte(labelKeyBlock), serverRandom, clientRandom)
	kb := keyBlock(l.provider.PRF(master, seed, keyBlockSize))
	read, write := kb.states(l.role)
	utils.ExplicitBzero(kb)

	l.nextReadState.Zero()
	l.nextWriteState.Zero()
	l.nextReadState, l.nextWriteState = read, write

	utils.ExplicitBzero(l.masterSecret)
	l.masterSecret = master
}

// MasterSecret returns a copy of the most recently derived master secret.
func (l *Layer) MasterSecret() []byte {
	l.Lock()
	defer l.Unlock()
	return append([]byte(nil), l.masterSecret...)
}

// HasWriteState returns true iff outbound frames are encrypted.
func (l *Layer) HasWriteState() bool {
	l.Lock()
	defer l.Unlock()
	return l.writeState != nil
}

// HasReadState returns true iff inbound frames are expected encrypted.
func (l *Layer) HasReadState() bool {
	l.Lock()
	defer l.Unlock()
	return l.readState != nil
}

// Reset zeroes and drops every cipher state and the master secret.  The
// outbound buffer is left untouched.
func (l *Layer) Reset() {
	l.Lock()
	defer l.Unlock()

	for _, st := range []*RWState{l.readState, l.writeState, l.nextReadState, l.nextWriteState} {
		st.Zero()
	}
	l.readState, l.writeState = nil, nil
	l.nextReadState, l.nextWriteState = nil, nil
	utils.ExplicitBzero(l.masterSecret)
	l.masterSecret = nil
}

// Pending returns the number of buffered outbound bytes.
func (l *Layer) Pending() int {
	l.Lock()
	defer l.Unlock()
	return len(l.out)
}

// TakeOutput returns and clears the outbound buffer.
func (l *Layer) TakeOutput() []byte {
	l.Lock()
	defer l.Unlock()
	out := l.out
	l.out = nil
	return out
}
