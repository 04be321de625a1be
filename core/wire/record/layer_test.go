// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package record

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cipherlane/transport/core/crypto/provider"
	"github.com/cipherlane/transport/core/failure"
)

type recorder struct {
	app       [][]byte
	handshake [][]byte
}

func (r *recorder) OnApplicationData(b []byte) error {
	r.app = append(r.app, b)
	return nil
}

func (r *recorder) OnHandshake(b []byte) error {
	r.handshake = append(r.handshake, b)
	return nil
}

// newPair returns a client and a server with pending states derived from the
// same premaster secret.
func newPair(t *testing.T) (*Layer, *recorder, *Layer, *recorder) {
	p := provider.Default()
	premaster := bytes.Repeat([]byte{0x42}, 32)
	clientRandom := bytes.Repeat([]byte{0x01}, 32)
	serverRandom := bytes.Repeat([]byte{0x02}, 32)

	cr, sr := new(recorder), new(recorder)
	c := New(p, Client, cr)
	s := New(p, Server, sr)
	c.SetPreMasterSecret(premaster, clientRandom, serverRandom)
	s.SetPreMasterSecret(premaster, clientRandom, serverRandom)
	require.Equal(t, c.MasterSecret(), s.MasterSecret())
	return c, cr, s, sr
}

func TestHeader(t *testing.T) {
	require := require.New(t)

	h := &Header{Version: Version, ContentType: Handshake, Length: 1234}
	raw := h.Bytes()
	require.Len(raw, HeaderSize)
	require.Equal([]byte{3, 22, 0, 0, 0x04, 0xd2, 0, 0}, raw)

	h2, err := ParseHeader(raw)
	require.NoError(err)
	require.Equal(h, h2)

	raw[0] = 2
	_, err = ParseHeader(raw)
	require.ErrorIs(err, failure.UnsupportedVersion)

	raw[0], raw[2] = Version, 0x01
	_, err = ParseHeader(raw)
	require.ErrorIs(err, failure.FrameTooLarge)

	_, err = ParseHeader(raw[:5])
	require.ErrorIs(err, failure.TruncatedFrame)
}

func TestPlaintextFrames(t *testing.T) {
	require := require.New(t)
	p := provider.Default()

	sr := new(recorder)
	c := New(p, Client, nil)
	s := New(p, Server, sr)

	require.NoError(c.Send([]byte("hello"), Handshake, false))
	require.NoError(c.Send(nil, ApplicationData, false))
	out := c.TakeOutput()
	require.Len(out, 2*HeaderSize+5)
	require.Zero(c.Pending())

	require.NoError(s.Process(out))
	require.Equal([][]byte{[]byte("hello")}, sr.handshake)
	require.Len(sr.app, 1)
	require.Empty(sr.app[0])
}

func TestRoundTrip(t *testing.T) {
	c, cr, s, sr := newPair(t)
	require := require.New(t)

	require.NoError(c.ChangeCipherSpec())
	require.NoError(s.ChangeCipherSpec())
	require.True(c.HasWriteState())

	// Both CCS records travel in the clear.
	require.NoError(s.Process(c.TakeOutput()))
	require.NoError(c.Process(s.TakeOutput()))
	require.True(c.HasReadState())
	require.True(s.HasReadState())

	sizes := []int{0, 1, 15, 16, 17, 1 << 20}
	for _, n := range sizes {
		payload := bytes.Repeat([]byte{byte(n)}, n)
		require.NoError(c.Send(payload, ApplicationData, false))
		require.NoError(s.Send(payload, ApplicationData, false))
	}
	require.NoError(s.Process(c.TakeOutput()))
	require.NoError(c.Process(s.TakeOutput()))

	require.Len(sr.app, len(sizes))
	require.Len(cr.app, len(sizes))
	for i, n := range sizes {
		require.Len(sr.app[i], n, "server size %d", n)
		require.Len(cr.app[i], n, "client size %d", n)
		if n > 0 {
			require.Equal(byte(n), sr.app[i][0])
			require.Equal(byte(n), cr.app[i][n-1])
		}
	}
}

func TestEncryptedFrameLayout(t *testing.T) {
	c, _, s, _ := newPair(t)
	require := require.New(t)

	require.NoError(c.ChangeCipherSpec())
	require.NoError(s.Process(c.TakeOutput()))

	require.NoError(c.Send(nil, Handshake, false))
	require.Len(c.TakeOutput(), SealedHeaderSize)

	require.NoError(c.Send([]byte("0123456789abcdef"), Handshake, false))
	require.Len(c.TakeOutput(), SealedHeaderSize+32+MACSize)
}

func TestReplayRejected(t *testing.T) {
	c, _, s, sr := newPair(t)
	require := require.New(t)

	require.NoError(c.ChangeCipherSpec())
	require.NoError(s.Process(c.TakeOutput()))

	require.NoError(c.Send([]byte("transfer 100"), ApplicationData, false))
	frame := c.TakeOutput()
	require.NoError(s.Process(frame))
	require.Len(sr.app, 1)

	err := s.Process(frame)
	require.ErrorIs(err, failure.FrameHeaderTagMismatch)
	require.Len(sr.app, 1)
}

func TestTamperRejected(t *testing.T) {
	require := require.New(t)

	for _, tc := range []struct {
		name   string
		offset func(n int) int
		err    error
	}{
		{"header", func(int) int { return 3 }, failure.FrameHeaderTagMismatch},
		{"body", func(int) int { return SealedHeaderSize + 1 }, failure.FrameMacMismatch},
		{"mac", func(n int) int { return n - 1 }, failure.FrameMacMismatch},
	} {
		c, _, s, _ := newPair(t)
		require.NoError(c.ChangeCipherSpec())
		require.NoError(s.Process(c.TakeOutput()))

		require.NoError(c.Send([]byte("some application data"), ApplicationData, false))
		frame := c.TakeOutput()
		frame[tc.offset(len(frame))] ^= 0x80
		require.ErrorIs(s.Process(frame), tc.err, tc.name)
	}
}

func TestTruncated(t *testing.T) {
	c, _, s, _ := newPair(t)
	require := require.New(t)

	require.NoError(c.ChangeCipherSpec())
	require.NoError(s.Process(c.TakeOutput()))

	require.NoError(c.Send([]byte("some application data"), ApplicationData, false))
	frame := c.TakeOutput()
	require.ErrorIs(s.Process(frame[:len(frame)-3]), failure.TruncatedFrame)
}

func TestCipherSpecErrors(t *testing.T) {
	require := require.New(t)
	p := provider.Default()

	c := New(p, Client, nil)
	require.ErrorIs(c.ChangeCipherSpec(), failure.WriteStateNotInitialized)

	s := New(p, Server, nil)
	require.NoError(s.Send(nil, ChangeCipherSpec, false))
	require.ErrorIs(c.Process(s.TakeOutput()), failure.InvalidNextReadState)
}

func TestAlert(t *testing.T) {
	require := require.New(t)
	p := provider.Default()

	c := New(p, Client, nil)
	s := New(p, Server, nil)

	require.NoError(s.SendAlert("Invalid ticket"))
	err := c.Process(s.TakeOutput())
	require.ErrorIs(err, failure.InvalidTicketAlert)
	require.True(failure.ShouldTriggerRepair(err))

	require.NoError(s.SendAlert("internal error"))
	err = c.Process(s.TakeOutput())
	require.ErrorIs(err, failure.ServerAlert)
	require.False(failure.ShouldTriggerRepair(err))
}

func TestRestoreStateAndReset(t *testing.T) {
	require := require.New(t)
	p := provider.Default()

	ticketID := bytes.Repeat([]byte{0x07}, 16)
	secret := bytes.Repeat([]byte{0x08}, 48)
	clientRandom := bytes.Repeat([]byte{0x09}, 32)

	sr := new(recorder)
	c := New(p, Client, nil)
	s := New(p, Server, sr)
	c.RestoreState(ticketID, secret, clientRandom)
	s.RestoreState(ticketID, secret, clientRandom)
	require.Equal(secret, c.MasterSecret())

	require.NoError(c.ChangeCipherSpec())
	require.NoError(c.Send([]byte("ping"), ApplicationData, false))
	require.NoError(s.Process(c.TakeOutput()))
	require.Equal([][]byte{[]byte("ping")}, sr.app)

	c.Reset()
	require.False(c.HasWriteState())
	require.False(c.HasReadState())
	require.Empty(c.MasterSecret())
	require.ErrorIs(c.ChangeCipherSpec(), failure.WriteStateNotInitialized)
}

func TestForcePlaintext(t *testing.T) {
	c, _, _, _ := newPair(t)
	require := require.New(t)

	require.NoError(c.ChangeCipherSpec())
	c.TakeOutput()

	require.NoError(c.Send([]byte("ping"), ApplicationData, true))
	out := c.TakeOutput()
	require.Len(out, HeaderSize+4)
	require.Equal([]byte("ping"), out[HeaderSize:])
}
