// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package websocket implements the WebSocket transport for XMPP defined in
// RFC 7395.
//
// Every top level element is carried in its own text message and the stream
// is opened and closed with <open/> and <close/> elements in the framing
// namespace.
package websocket // import "mellium.im/xmppclient/websocket"

// Various constants used by this package, provided as a convenience.
const (
	// NS is the XML namespace used by the XMPP subprotocol framing.
	NS = "urn:ietf:params:xml:ns:xmpp-framing"

	// WSProtocol is the protocol string used during the WebSocket handshake.
	WSProtocol = "xmpp"
)
