// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package saslerr

import (
	"strconv"
	"testing"

	"golang.org/x/text/language"

	"mellium.im/xmppclient/stanza"
)

// Compile time tests that interfaces are satisfied
var (
	_ error = Failure{}
	_ error = (*Failure)(nil)
)

func TestErrorTextOrCondition(t *testing.T) {
	f := Failure{
		Condition: MechanismTooWeak,
		Text:      "Test",
		Lang:      language.CanadianFrench,
	}
	if f.Error() != f.Text {
		t.Error("Expected Error() to return the value of Text")
	}
	f = Failure{
		Condition: MechanismTooWeak,
	}
	if f.Error() != f.Condition.String() {
		t.Error("Expected Error() to return the value of Condition if no text")
	}
}

func TestMarshalCondition(t *testing.T) {
	for i, test := range []struct {
		Failure   Failure
		Marshaled string
	}{
		{
			Failure{
				Condition: MechanismTooWeak,
				Text:      "Test",
				Lang:      language.BrazilianPortuguese,
			},
			`<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><mechanism-too-weak/><text xml:lang="pt-BR">Test</text></failure>`,
		},
		{Failure{Condition: IncorrectEncoding}, `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><incorrect-encoding/></failure>`},
		{Failure{Condition: Aborted, Lang: language.Polish}, `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><aborted/></failure>`},
		{Failure{Condition: None}, `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"/>`},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			if s := test.Failure.Element().String(); s != test.Marshaled {
				t.Errorf("Expected %s but got %s", test.Marshaled, s)
			}
		})
	}
}

func TestFromElement(t *testing.T) {
	for i, test := range []struct {
		XML       string
		Pref      language.Tag
		Condition Condition
		Text      string
	}{
		{`<failure xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><not-authorized/></failure>`, language.English, NotAuthorized, ""},
		{`<failure xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><account-disabled/><text xml:lang='en'>Call 212-555-1212 for help</text></failure>`, language.English, AccountDisabled, "Call 212-555-1212 for help"},
		{`<failure xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><aborted/><text xml:lang='en'>en</text><text xml:lang='de'>de</text></failure>`, language.German, Aborted, "de"},
		{`<failure xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><aborted/><text xml:lang='en'>en</text><text xml:lang='de'>de</text></failure>`, language.English, Aborted, "en"},
		{`<failure xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><custom-condition/><text>no lang</text></failure>`, language.English, Condition("custom-condition"), "no lang"},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			el, err := stanza.ParseString(test.XML)
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			f := FromElement(el, test.Pref)
			if f.Condition != test.Condition {
				t.Errorf("wrong condition: want=%s, got=%s", test.Condition, f.Condition)
			}
			if f.Text != test.Text {
				t.Errorf("wrong text: want=%q, got=%q", test.Text, f.Text)
			}
		})
	}
}
