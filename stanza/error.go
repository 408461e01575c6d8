// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmppclient/internal/ns"
)

// ErrorType is the type of an stanza error payloads.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation should
	// not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was only a
	// warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the data
	// sent.
	Modify ErrorType = "modify"

	// Wait is indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 §8.3.3
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	PolicyViolation       Condition = "policy-violation"
	RecipientUnavailable  Condition = "recipient-unavailable"
	Redirect              Condition = "redirect"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ResourceConstraint    Condition = "resource-constraint"
	ServiceUnavailable    Condition = "service-unavailable"
	SubscriptionRequired  Condition = "subscription-required"
	UndefinedCondition    Condition = "undefined-condition"
	UnexpectedRequest     Condition = "unexpected-request"
)

// Error is an implementation of error intended to be marshalable and
// unmarshalable as XML.
type Error struct {
	By        string
	Type      ErrorType
	Condition Condition
	Text      string
	Lang      string
}

// Error satisfies the error interface and returns the condition.
func (se Error) Error() string {
	if se.Text != "" {
		return string(se.Condition) + ": " + se.Text
	}
	return string(se.Condition)
}

// Element returns the <error/> payload for se.
func (se Error) Element() *Element {
	b := NewBuilder(xml.Name{Space: ns.Client, Local: "error"})
	if se.Type != "" {
		b.Attr("type", string(se.Type))
	}
	if se.By != "" {
		b.Attr("by", se.By)
	}
	b.C(xml.Name{Space: ns.Stanza, Local: string(se.Condition)}).Up()
	if se.Text != "" {
		b.C(xml.Name{Space: ns.Stanza, Local: "text"})
		if se.Lang != "" {
			b.AttrNS(ns.XML, "lang", se.Lang)
		}
		b.T(se.Text).Up()
	}
	return b.Element()
}

// UnmarshalError extracts the stanza error carried by el, if any.
// El may either be a stanza with an <error/> child or the <error/> element
// itself.
func UnmarshalError(el *Element) (Error, bool) {
	errEl := el
	if el.Name().Local != "error" {
		var ok bool
		errEl, ok = el.Child("", "error")
		if !ok {
			return Error{}, false
		}
	}
	se := Error{}
	if typ, ok := errEl.Attr("type"); ok {
		se.Type = ErrorType(typ)
	}
	se.By, _ = errEl.Attr("by")
	for child := range errEl.Children(func(c *Element) bool { return c.Name().Space == ns.Stanza }) {
		if child.Name().Local == "text" {
			se.Text = child.Text()
			se.Lang, _ = child.Lang()
			continue
		}
		if se.Condition == "" {
			se.Condition = Condition(child.Name().Local)
		}
	}
	if se.Condition == "" {
		se.Condition = UndefinedCondition
	}
	return se, true
}
