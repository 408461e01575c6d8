// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package transport defines the interface between an XMPP connection and the
// network binding that carries its stream.
//
// Two implementations are provided by this module: mellium.im/xmppclient/bosh
// (HTTP long-polling) and mellium.im/xmppclient/websocket.
package transport // import "mellium.im/xmppclient/transport"

import (
	"context"
	"errors"

	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
)

// ErrAbnormalClose is passed to Events.Closed when the underlying channel was
// lost without the peer closing the stream.
var ErrAbnormalClose = errors.New("transport: connection closed without closing the stream")

// ErrClosed is returned when using a transport after it has been closed.
var ErrClosed = errors.New("transport: use of closed transport")

// RedirectError is passed to Events.Closed when the server closed the stream
// and asked the client to reconnect somewhere else.
type RedirectError struct {
	URI string
}

func (e *RedirectError) Error() string {
	return "transport: stream closed with redirect to " + e.URI
}

// Events receives everything a transport reads from the network.
// Implementations of Transport call Events from their own goroutines and never
// concurrently with each other.
type Events interface {
	// StreamOpen is called when the server opened (or reopened) the stream.
	StreamOpen(info stream.Info)

	// Element is called for each top level element in the stream.
	Element(el *stanza.Element)

	// Error reports a problem that did not end the session, such as an element
	// that could not be parsed and was dropped.
	Error(err error)

	// Closed is called exactly once when the transport stops, unless Connect
	// failed or Close was called first.
	// A nil error means the stream was closed cleanly.
	Closed(err error)
}

// Transport carries an XMPP stream.
//
// After Close returns no more methods are called on Events.
type Transport interface {
	// Connect opens the transport and the stream to domain.
	// It returns once the request to open the stream has been sent and, for
	// transports that must wait for the server, a stream has been created.
	Connect(ctx context.Context, domain string, ev Events) error

	// Send writes the elements to the stream.
	Send(el ...*stanza.Element) error

	// Restart asks for a new stream after authentication.
	Restart() error

	// Disconnect ends the stream, optionally sending a final presence, and waits
	// for the server to acknowledge within ctx.
	// The transport is closed when Disconnect returns.
	Disconnect(ctx context.Context, pres *stanza.Element) error

	// Close releases all resources without ending the stream politely.
	Close() error
}
