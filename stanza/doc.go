// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains the element tree used to represent XMPP stanzas and
// other top level stream elements, along with stanza level errors.
//
// Stanzas (Message, Presence, and IQ) are the "primitives" of XMPP. Messages
// are used to send data that is fire-and-forget such as chat messages, Presence
// is used as a general broadcast and publish-subscribe mechanism and is used to
// broadcast availability on the network, and IQ (Info-Query) is used as a
// request response mechanism for data that requires a response.
//
// An Element is read-only once it has been parsed or built.
// Elements are parsed from wire data with Parse or Decode and constructed for
// sending with a Builder:
//
//	iq := stanza.IQ(stanza.SetIQ, "bind_1").
//		C(xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-bind", Local: "bind"}).
//		C(xml.Name{Local: "resource"}).T("balcony").
//		Element()
//
// Serialization is deterministic: attributes are written in the order in which
// they were constructed and namespace declarations are only emitted where the
// namespace changes.
package stanza // import "mellium.im/xmppclient/stanza"
