// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppclient

import (
	"errors"
	"strings"
)

// Errors returned by Conn methods.
var (
	ErrNotConnected = errors.New("xmppclient: not connected")
	ErrInUse        = errors.New("xmppclient: connection already in use")
	ErrCanceled     = errors.New("xmppclient: connection attempt canceled by Disconnect")
)

// ErrorKind classifies the failures that end a connection.
type ErrorKind uint8

// A list of error kinds.
const (
	// ParseError means that data that was required to continue could not be
	// parsed.
	ParseError ErrorKind = iota + 1

	// TransportError means the transport failed or could not be opened.
	TransportError

	// NoCompatibleMechanism means none of the SASL mechanisms advertised by the
	// server can be used with the credentials given to Connect.
	// No authentication data is sent in this case.
	NoCompatibleMechanism

	// AuthRejected means the server declined the credentials.
	AuthRejected

	// ServerVerificationFailed means the server could not prove that it knows
	// the credentials, which may indicate a man in the middle.
	ServerVerificationFailed

	// ProtocolError means the server sent a stream error or violated the shape
	// of stream negotiation or resource binding.
	ProtocolError

	// Timeout means a bounded wait expired.
	Timeout
)

var kindNames = [...]string{
	ParseError:               "parse error",
	TransportError:           "transport error",
	NoCompatibleMechanism:    "no compatible SASL mechanism",
	AuthRejected:             "authentication rejected",
	ServerVerificationFailed: "server verification failed",
	ProtocolError:            "protocol error",
	Timeout:                  "timeout",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown error"
}

// Sentinel values for use with errors.Is.
// Any *Error with the same Kind matches them.
var (
	ErrParse                    = &Error{Kind: ParseError}
	ErrTransport                = &Error{Kind: TransportError}
	ErrNoCompatibleMechanism    = &Error{Kind: NoCompatibleMechanism}
	ErrAuthRejected             = &Error{Kind: AuthRejected}
	ErrServerVerificationFailed = &Error{Kind: ServerVerificationFailed}
	ErrProtocol                 = &Error{Kind: ProtocolError}
	ErrTimeout                  = &Error{Kind: Timeout}
)

// Error is the error reported when a connection fails.
type Error struct {
	Kind ErrorKind

	// Op is the step that failed, for example "auth" or "bind".
	Op string

	// Condition is the defined condition sent by the server, if any, such as a
	// SASL failure or stream error condition.
	Condition string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("xmppclient: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Condition != "" {
		b.WriteString(" (")
		b.WriteString(e.Condition)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is one of the sentinel errors of this package with
// the same kind as e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Condition == "" && t.Err == nil && t.Kind == e.Kind
}
