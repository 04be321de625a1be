// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package handshake

import (
	"github.com/carlmjohnson/versioninfo"

	"github.com/cipherlane/transport/core/crypto/provider"
)

// Mode is an authentication mode.
type Mode string

const (
	ModeECDHE   Mode = "ecdhe"
	ModeECDHEX  Mode = "ecdhex"
	ModeSRP     Mode = "srp"
	ModeKey     Mode = "key"
	ModeSession Mode = "session"
)

// DefaultAgent is the agent string sent to the server.
func DefaultAgent() string {
	return "cipherlane-go/" + versioninfo.Short()
}

// ConnectionInfo describes how a session was authenticated.  The concrete
// type is one of EcdheInfo, EcdhexInfo, SrpInfo, KeyInfo or SessionInfo.
type ConnectionInfo interface {
	Mode() Mode
	isConnectionInfo()
}

// EcdheInfo is an anonymous session.
type EcdheInfo struct {
	Solution string
}

// EcdhexInfo is a session bound to a long term key.
type EcdhexInfo struct {
	PublicKey *provider.PublicKey

	// Host is the client host as resolved by the server.
	Host string
}

// SrpInfo is a password authenticated session.
type SrpInfo struct {
	Username  string
	Host      string
	SessionID string
}

// KeyInfo is a session authenticated by a key challenge.
type KeyInfo struct {
	PublicKey *provider.PublicKey
	Username  string
	SessionID string
}

// SessionInfo is a restored session.
type SessionInfo struct {
	SessionID string
	Username  string
}

func (*EcdheInfo) Mode() Mode   { return ModeECDHE }
func (*EcdhexInfo) Mode() Mode  { return ModeECDHEX }
func (*SrpInfo) Mode() Mode     { return ModeSRP }
func (*KeyInfo) Mode() Mode     { return ModeKey }
func (*SessionInfo) Mode() Mode { return ModeSession }

func (*EcdheInfo) isConnectionInfo()   {}
func (*EcdhexInfo) isConnectionInfo()  {}
func (*SrpInfo) isConnectionInfo()     {}
func (*KeyInfo) isConnectionInfo()     {}
func (*SessionInfo) isConnectionInfo() {}

// Username returns the authenticated user of info, if the mode has one.
func Username(info ConnectionInfo) string {
	switch v := info.(type) {
	case *SrpInfo:
		return v.Username
	case *KeyInfo:
		return v.Username
	case *SessionInfo:
		return v.Username
	case *EcdheInfo, *EcdhexInfo, nil:
		return ""
	default:
		panic("BUG: handshake: unknown ConnectionInfo")
	}
}

// Result is the outcome of a completed login.
type Result struct {
	Mode      Mode
	SessionID string

	// SessionKey is set iff the session is restorable.  The receiver owns
	// it.
	SessionKey *provider.PrivateKey

	AdditionalLoginStep map[string]interface{}
	Username            string
	Info                ConnectionInfo
}
