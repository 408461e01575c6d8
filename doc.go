// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmppclient implements the client side of the Extensible Messaging and
// Presence Protocol (XMPP) over BOSH and WebSocket.
//
// A Conn negotiates a stream over a transport.Transport, authenticates with
// SASL, binds a resource and then hands every incoming stanza to the handlers
// registered with AddHandler.
// Every transition of the connection is reported to the StatusFunc passed to
// Connect:
//
//	Disconnected → Connecting → StreamNegotiating → Authenticating →
//	ResourceBinding → Connected → Disconnecting → Disconnected
//
// Any unrecoverable error moves the connection to Failed, which is reported
// with an *Error before the connection returns to Disconnected.
//
// The transport is picked by WithTransport, by the scheme of the URL passed to
// Service (ws and wss select WebSocket, http and https select BOSH), or by
// looking up the host metadata of the domain, in which case WebSocket is
// preferred.
//
// Be advised: This API is still unstable and is subject to change.
package xmppclient // import "mellium.im/xmppclient"
