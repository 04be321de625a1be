// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package failure implements the typed error taxonomy shared by every layer
// of the secure session transport.  Each error carries a stable numeric code
// made of a scope tag and a sub-code so that it survives propagation to
// bindings written in other languages.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Scope is the subsystem that raised an Error.
type Scope uint16

const (
	ScopeNet       Scope = 0x0001
	ScopeFrame     Scope = 0x0002
	ScopeHandshake Scope = 0x0003
	ScopeTicket    Scope = 0x0004
	ScopeServer    Scope = 0x0005
	ScopeParams    Scope = 0x0006
	ScopeRPC       Scope = 0x0007
	ScopeSession   Scope = 0x0008
)

// String returns the human readable name of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeNet:
		return "net"
	case ScopeFrame:
		return "frame"
	case ScopeHandshake:
		return "handshake"
	case ScopeTicket:
		return "ticket"
	case ScopeServer:
		return "server"
	case ScopeParams:
		return "params"
	case ScopeRPC:
		return "rpc"
	case ScopeSession:
		return "session"
	default:
		return fmt.Sprintf("scope(0x%04x)", uint16(s))
	}
}

// Error is a transport error with a stable code.
type Error struct {
	Scope   Scope
	Sub     uint16
	Name    string
	Message string

	// Data is optional peer supplied detail (RPC error data, alert body).
	Data interface{}

	cause error
}

// Code returns the combined scope and sub-code.
func (e *Error) Code() uint32 {
	return uint32(e.Scope)<<16 | uint32(e.Sub)
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Scope, e.Name)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, " (%v)", e.cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code() == e.Code()
}

// ShouldTriggerRepair returns true iff the error means the current session
// must be considered lost, so that the next call re-establishes it.
func (e *Error) ShouldTriggerRepair() bool {
	switch e.Code() {
	case TicketsCountIsEqualZero.Code(), InvalidTicketAlert.Code():
		return true
	}
	return false
}

// IsFatalFrameError returns true for integrity failures that may indicate
// tampering.  These are never retried.
func (e *Error) IsFatalFrameError() bool {
	return e.Scope == ScopeFrame
}

// WithMessage returns a copy of e carrying msg.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data interface{}) *Error {
	c := *e
	c.Data = data
	return &c
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

func newError(scope Scope, sub uint16, name string) *Error {
	return &Error{Scope: scope, Sub: sub, Name: name}
}

// Net errors.
var (
	NotConnected          = newError(ScopeNet, 1, "NotConnected")
	WebSocketDisconnected = newError(ScopeNet, 2, "WebSocketDisconnected")
	NoResponse            = newError(ScopeNet, 3, "NoResponse")
	ChannelClosed         = newError(ScopeNet, 4, "ChannelClosed")
	BadHTTPStatus         = newError(ScopeNet, 5, "BadHTTPStatus")
)

// Frame errors.
var (
	FrameHeaderTagMismatch   = newError(ScopeFrame, 1, "FrameHeaderTagMismatch")
	FrameMacMismatch         = newError(ScopeFrame, 2, "FrameMacMismatch")
	UnsupportedVersion       = newError(ScopeFrame, 3, "UnsupportedVersion")
	InvalidNextReadState     = newError(ScopeFrame, 4, "InvalidNextReadState")
	WriteStateNotInitialized = newError(ScopeFrame, 5, "WriteStateNotInitialized")
	TruncatedFrame           = newError(ScopeFrame, 6, "TruncatedFrame")
	FrameTooLarge            = newError(ScopeFrame, 7, "FrameTooLarge")
	InvalidPadding           = newError(ScopeFrame, 8, "InvalidPadding")
	UnknownContentType       = newError(ScopeFrame, 9, "UnknownContentType")
)

// Handshake errors.
var (
	UnexpectedEcdhePacket     = newError(ScopeHandshake, 1, "UnexpectedEcdhePacket")
	UnexpectedEcdhexPacket    = newError(ScopeHandshake, 2, "UnexpectedEcdhexPacket")
	UnexpectedPacket          = newError(ScopeHandshake, 3, "UnexpectedPacket")
	InvalidHandshakeState     = newError(ScopeHandshake, 4, "InvalidHandshakeState")
	TicketHandshakeFailed     = newError(ScopeHandshake, 5, "TicketHandshakeFailed")
	CannotReloginUserMismatch = newError(ScopeHandshake, 6, "CannotReloginUserMismatch")
	InvalidServerProof        = newError(ScopeHandshake, 7, "InvalidServerProof")
	MalformedPacket           = newError(ScopeHandshake, 8, "MalformedPacket")
)

// Ticket errors.
var (
	TicketsCountIsEqualZero = newError(ScopeTicket, 1, "TicketsCountIsEqualZero")
)

// Server errors.
var (
	ServerAlert        = newError(ScopeServer, 1, "ServerAlert")
	InvalidTicketAlert = newError(ScopeServer, 2, "InvalidTicketAlert")
)

// Caller misuse.
var (
	InvalidParams = newError(ScopeParams, 1, "InvalidParams")
	InvalidHost   = newError(ScopeParams, 2, "InvalidHost")
)

// RPC errors.
var (
	RPCError        = newError(ScopeRPC, 1, "RPCError")
	MalformedResult = newError(ScopeRPC, 2, "MalformedResult")
)

// Session errors.
var (
	Destroyed             = newError(ScopeSession, 1, "Destroyed")
	SessionNotEstablished = newError(ScopeSession, 2, "SessionNotEstablished")
)

// invalidTicketMarker is the alert body the peer sends when it does not
// recognize a ticket.
const invalidTicketMarker = "invalid ticket"

// FromAlert converts a peer alert body into a typed error.
func FromAlert(msg string) *Error {
	if strings.Contains(strings.ToLower(msg), invalidTicketMarker) {
		return InvalidTicketAlert.WithMessage("%s", msg).WithData(msg)
	}
	return ServerAlert.WithMessage("%s", msg).WithData(msg)
}

// ShouldTriggerRepair unwraps err and reports whether it should mark the
// session as lost.
func ShouldTriggerRepair(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.ShouldTriggerRepair()
	}
	return false
}

// CodeOf returns the stable code of err, or 0 if err is not an *Error.
func CodeOf(err error) uint32 {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return 0
}
