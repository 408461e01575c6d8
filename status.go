// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppclient

import (
	"strconv"
)

// Status is the state of a Conn.
type Status uint8

// The states of a connection.
const (
	// Disconnected is the initial and final state.
	Disconnected Status = iota

	// Connecting means the transport is being opened.
	Connecting

	// StreamNegotiating means the stream is open and the client waits for the
	// features announcement.
	StreamNegotiating

	// Authenticating means a SASL exchange is in progress.
	Authenticating

	// ResourceBinding covers the stream restart after authentication, resource
	// binding and the optional session establishment.
	ResourceBinding

	// Connected is the steady state in which stanzas may be sent and received.
	Connected

	// Disconnecting means the stream is being closed by Disconnect.
	Disconnecting

	// Failed is entered when the connection hits an unrecoverable error.
	// It is always followed by Disconnected.
	Failed
)

var statusNames = [...]string{
	Disconnected:      "disconnected",
	Connecting:        "connecting",
	StreamNegotiating: "stream-negotiating",
	Authenticating:    "authenticating",
	ResourceBinding:   "resource-binding",
	Connected:         "connected",
	Disconnecting:     "disconnecting",
	Failed:            "failed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// StatusFunc is called on every transition of a connection.
// Err is an *Error when status is Failed and nil otherwise.
//
// StatusFunc is called from the goroutine that serializes all events of the
// connection, so it must not block.
// In particular it must not call Connect, Disconnect or SendIQ; start a new
// goroutine to do so.
type StatusFunc func(status Status, err error)
