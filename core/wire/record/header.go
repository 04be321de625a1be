// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package record

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/cipherlane/transport/core/failure"
)

// ContentType is the type of a record.
type ContentType uint8

const (
	ChangeCipherSpec ContentType = 20
	Alert            ContentType = 21
	Handshake        ContentType = 22
	ApplicationData  ContentType = 23
)

// String returns the lower case name of the content type, which is also
// used as the metrics label.
func (t ContentType) String() string {
	switch t {
	case ChangeCipherSpec:
		return "change_cipher_spec"
	case Alert:
		return "alert"
	case Handshake:
		return "handshake"
	case ApplicationData:
		return "application_data"
	default:
		return fmt.Sprintf("content_type(%d)", uint8(t))
	}
}

func (t ContentType) valid() bool {
	return t >= ChangeCipherSpec && t <= ApplicationData
}

const (
	// Version is the only protocol version byte spoken.
	Version = 3

	// HeaderSize is the size of a plaintext header.
	HeaderSize = 8

	// SealedHeaderSize is the size of an encrypted header block, which
	// also serves as the body IV.
	SealedHeaderSize = 16

	// MACSize is the size of the truncated body tag.
	MACSize = 16

	// MaxFrameLength is the largest body the 24 bit length field holds.
	MaxFrameLength = 1<<24 - 1

	headerTagSize = SealedHeaderSize - HeaderSize
)

// Header is the plaintext frame header.
type Header struct {
	Version     uint8
	ContentType ContentType
	Length      uint32
}

// Bytes serializes the header.
func (h *Header) Bytes() []byte {
	b := cryptobyte.NewFixedBuilder(make([]byte, 0, HeaderSize))
	b.AddUint8(h.Version)
	b.AddUint8(uint8(h.ContentType))
	b.AddUint32(h.Length)
	b.AddUint16(0)
	return b.BytesOrPanic()
}

// ParseHeader parses a plaintext header, validating the version, the
// content type and the length field.
func ParseHeader(raw []byte) (*Header, error) {
	var (
		h        Header
		ct       uint8
		reserved uint16
	)
	s := cryptobyte.String(raw)
	if !s.ReadUint8(&h.Version) || !s.ReadUint8(&ct) || !s.ReadUint32(&h.Length) || !s.ReadUint16(&reserved) {
		return nil, failure.TruncatedFrame.WithMessage("short header")
	}
	h.ContentType = ContentType(ct)
	if h.Version != Version {
		return nil, failure.UnsupportedVersion.WithMessage("version %d", h.Version)
	}
	if !h.ContentType.valid() {
		return nil, failure.UnknownContentType.WithMessage("%d", ct)
	}
	if h.Length > MaxFrameLength {
		return nil, failure.FrameTooLarge.WithMessage("length %d", h.Length)
	}
	return &h, nil
}
