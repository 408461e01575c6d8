// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package saslerr provides error conditions for the XMPP profile of SASL as
// defined by RFC 6120 §6.5.
package saslerr // import "mellium.im/xmppclient/internal/saslerr"

import (
	"encoding/xml"

	"golang.org/x/text/language"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/stanza"
)

// Condition represents a SASL error condition that can be encapsulated by a
// <failure/> element.
type Condition string

// String returns the condition as it appears on the wire.
func (c Condition) String() string {
	return string(c)
}

// Standard SASL error conditions.
const (
	None                 Condition = ""
	Aborted              Condition = "aborted"
	AccountDisabled      Condition = "account-disabled"
	CredentialsExpired   Condition = "credentials-expired"
	EncryptionRequired   Condition = "encryption-required"
	IncorrectEncoding    Condition = "incorrect-encoding"
	InvalidAuthzID       Condition = "invalid-authzid"
	InvalidMechanism     Condition = "invalid-mechanism"
	MalformedRequest     Condition = "malformed-request"
	MechanismTooWeak     Condition = "mechanism-too-weak"
	NotAuthorized        Condition = "not-authorized"
	TemporaryAuthFailure Condition = "temporary-auth-failure"
)

// Failure represents a SASL error.
type Failure struct {
	Condition Condition
	Lang      language.Tag
	Text      string
}

// Error satisfies the error interface for a Failure. It returns the text string
// if set, or the condition otherwise.
func (f Failure) Error() string {
	if f.Text != "" {
		return f.Text
	}
	return string(f.Condition)
}

// Element returns the <failure/> element for f.
func (f Failure) Element() *stanza.Element {
	b := stanza.NewBuilder(xml.Name{Space: ns.SASL, Local: "failure"})
	if f.Condition != None {
		b.C(xml.Name{Local: string(f.Condition)}).Up()
	}
	if f.Text != "" {
		b.C(xml.Name{Local: "text"}).AttrNS(ns.XML, "lang", f.Lang.String()).T(f.Text)
	}
	return b.Element()
}

// FromElement decodes a <failure/> element.
// If multiple text elements are present, the one with an xml:lang attribute
// that most closely matches pref is selected.
func FromElement(el *stanza.Element, pref language.Tag) Failure {
	f := Failure{Lang: pref}
	var (
		tags []language.Tag
		data []string
	)
	for child := range el.Children(nil) {
		if child.Name().Local != "text" {
			if f.Condition == None {
				f.Condition = Condition(child.Name().Local)
			}
			continue
		}
		lang, _ := child.Lang()
		// Skip any language tags that cannot be parsed.
		tag, err := language.Parse(lang)
		if err != nil {
			if lang != "" {
				continue
			}
			tag = language.Und
		}
		tags = append(tags, tag)
		data = append(data, child.Text())
	}
	if len(tags) == 0 {
		return f
	}
	_, idx, _ := language.NewMatcher(tags).Match(pref)
	f.Lang = tags[idx]
	f.Text = data[idx]
	return f
}
