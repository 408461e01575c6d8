// Copyright 2015 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"net"

	"mellium.im/xmlstream"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/stanza"
)

// A list of stream errors defined in RFC 6120 §4.9.3
var (
	// BadFormat is used when the entity has sent XML that cannot be processed.
	BadFormat = Error{Err: "bad-format"}

	// BadNamespacePrefix is sent when an entity has sent a namespace prefix that
	// is unsupported, or has sent no namespace prefix, on an element that needs
	// such a prefix.
	BadNamespacePrefix = Error{Err: "bad-namespace-prefix"}

	// Conflict is sent when the server is closing the existing stream for this
	// entity because a new stream has been initiated that conflicts with it.
	Conflict = Error{Err: "conflict"}

	// ConnectionTimeout results when one party is closing the stream because it
	// has reason to believe that the other party has permanently lost the ability
	// to communicate over the stream.
	ConnectionTimeout = Error{Err: "connection-timeout"}

	// HostGone is sent when the value of the 'to' attribute provided in the
	// initial stream header corresponds to an FQDN that is no longer serviced by
	// the receiving entity.
	HostGone = Error{Err: "host-gone"}

	// HostUnknown is sent when the value of the 'to' attribute provided in the
	// initial stream header does not correspond to an FQDN that is serviced by
	// the receiving entity.
	HostUnknown = Error{Err: "host-unknown"}

	ImproperAddressing     = Error{Err: "improper-addressing"}
	InternalServerError    = Error{Err: "internal-server-error"}
	InvalidFrom            = Error{Err: "invalid-from"}
	InvalidNamespace       = Error{Err: "invalid-namespace"}
	InvalidXML             = Error{Err: "invalid-xml"}
	NotAuthorized          = Error{Err: "not-authorized"}
	NotWellFormed          = Error{Err: "not-well-formed"}
	PolicyViolation        = Error{Err: "policy-violation"}
	RemoteConnectionFailed = Error{Err: "remote-connection-failed"}

	// Reset is sent when the server is closing the stream because it has new
	// (typically security-critical) features to offer. Encryption and
	// authentication need to be negotiated again for the new stream.
	Reset = Error{Err: "reset"}

	ResourceConstraint = Error{Err: "resource-constraint"}
	RestrictedXML      = Error{Err: "restricted-xml"}

	// SystemShutdown may be sent when server is being shut down and all active
	// streams are being closed.
	SystemShutdown = Error{Err: "system-shutdown"}

	// UndefinedCondition may be sent when the error condition is not one of those
	// defined by the other conditions in this list; this error condition should
	// be used in conjunction with an application-specific condition.
	UndefinedCondition = Error{Err: "undefined-condition"}

	UnsupportedEncoding   = Error{Err: "unsupported-encoding"}
	UnsupportedFeature    = Error{Err: "unsupported-feature"}
	UnsupportedStanzaType = Error{Err: "unsupported-stanza-type"}
	UnsupportedVersion    = Error{Err: "unsupported-version"}
)

// SeeOtherHostError returns a new see-other-host error with the given network
// address as the host. If the address appears to be a raw IPv6 address (eg.
// "::1"), the error wraps it in brackets ("[::1]").
func SeeOtherHostError(addr net.Addr) Error {
	host := addr.String()
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil && ip.To16() != nil {
		host = "[" + host + "]"
	}
	return Error{Err: "see-other-host", Data: host}
}

// A Error represents an unrecoverable stream-level error.
type Error struct {
	// Err is the local name of the condition element.
	Err string

	// Data is the character data of the condition element, for example the new
	// host of a see-other-host error.
	Data string

	// Text is the optional human readable description from the <text/> element.
	Text string
	Lang string
}

// Error satisfies the builtin error interface and returns the name of the
// StreamError. For instance, given the error:
//
//	<stream:error>
//	  <restricted-xml xmlns="urn:ietf:params:xml:ns:xmpp-streams"/>
//	</stream:error>
//
// Error() would return "restricted-xml".
func (s Error) Error() string {
	return s.Err
}

// Is reports whether target is a stream error with the same condition.
// This allows errors.Is(err, stream.Conflict) to match an error received from
// the server with additional text.
func (s Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Err == s.Err
}

// FromElement extracts a stream error from a <stream:error/> element.
// If el is not a stream error ok is false.
func FromElement(el *stanza.Element) (e Error, ok bool) {
	if !el.Is(NS, "error") {
		return Error{}, false
	}
	for child := range el.Children(func(c *stanza.Element) bool { return c.Name().Space == ErrorNS }) {
		if child.Name().Local == "text" {
			e.Text = child.Text()
			e.Lang, _ = child.Lang()
			continue
		}
		if e.Err == "" {
			e.Err = child.Name().Local
			e.Data = child.Text()
		}
	}
	if e.Err == "" {
		e.Err = UndefinedCondition.Err
	}
	return e, true
}

// Element returns the <stream:error/> element for s.
func (s Error) Element() *stanza.Element {
	b := stanza.NewBuilder(xml.Name{Space: NS, Local: "error"}).
		C(xml.Name{Space: ErrorNS, Local: s.Err}).T(s.Data).Up()
	if s.Text != "" {
		b.C(xml.Name{Space: ErrorNS, Local: "text"})
		if s.Lang != "" {
			b.AttrNS(ns.XML, "lang", s.Lang)
		}
		b.T(s.Text)
	}
	return b.Element()
}

// TokenReader returns a new xml.TokenReader that returns an encoding of the
// error.
func (s Error) TokenReader() xml.TokenReader {
	return s.Element().TokenReader()
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (s Error) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, s.TokenReader())
}
