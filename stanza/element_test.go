// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"testing"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/stanza"
)

var serializeTests = [...]struct {
	in  string
	out string
}{
	0: {
		in:  `<message xmlns='jabber:client' to='juliet@example.com' type='chat'><body>hi</body></message>`,
		out: `<message xmlns="jabber:client" to="juliet@example.com" type="chat"><body>hi</body></message>`,
	},
	1: {
		in:  `<iq xmlns='jabber:client' type='set' id='1'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><resource>r</resource></bind></iq>`,
		out: `<iq xmlns="jabber:client" type="set" id="1"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>r</resource></bind></iq>`,
	},
	2: {
		in:  `<body xmlns='http://jabber.org/protocol/httpbind' xmlns:xmpp='urn:xmpp:xbosh' xmpp:version='1.0' xml:lang='en'/>`,
		out: `<body xmlns="http://jabber.org/protocol/httpbind" xmlns:xmpp="urn:xmpp:xbosh" xmpp:version="1.0" xml:lang="en"/>`,
	},
	3: {
		in:  `<a xmlns='urn:x'><b xmlns=''/></a>`,
		out: `<a xmlns="urn:x"><b xmlns=""/></a>`,
	},
	4: {
		in:  `<a>x &amp; y &lt; z</a>`,
		out: `<a>x &amp; y &lt; z</a>`,
	},
	5: {
		in:  `<a b='"'/>`,
		out: `<a b="&#34;"/>`,
	},
	6: {
		in:  "<?xml version='1.0'?>\n<!-- hello --><a>one<!-- drop -->two</a>\n",
		out: `<a>onetwo</a>`,
	},
	7: {
		in:  `<stream:features xmlns:stream='http://etherx.jabber.org/streams'><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms></stream:features>`,
		out: `<features xmlns="http://etherx.jabber.org/streams"><mechanisms xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><mechanism>PLAIN</mechanism></mechanisms></features>`,
	},
}

func TestSerialize(t *testing.T) {
	for i, tc := range serializeTests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			el, err := stanza.ParseString(tc.in)
			if err != nil {
				t.Fatalf("unexpected error parsing: %v", err)
			}
			if s := el.String(); s != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, s)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		`<presence xmlns='jabber:client' type='unavailable'/>`,
		`<body xmlns='http://jabber.org/protocol/httpbind' sid='abc' xmlns:stream='http://etherx.jabber.org/streams'><stream:features><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/></stream:features></body>`,
		`<a xmlns:x='urn:one' xmlns:y='urn:two' x:a='1' y:a='2'><b x:c='3'/></a>`,
		`<a>  <b/>text&#x9;tab<c>nested&gt;</c>  </a>`,
		`<open xmlns='urn:ietf:params:xml:ns:xmpp-framing' to='example.com' version='1.0' xml:lang='en'/>`,
	}
	for i, in := range inputs {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			first, err := stanza.ParseString(in)
			if err != nil {
				t.Fatalf("unexpected error parsing input: %v", err)
			}
			second, err := stanza.ParseString(first.String())
			if err != nil {
				t.Fatalf("unexpected error parsing output %s: %v", first, err)
			}
			if !stanza.Equal(first, second) {
				t.Errorf("round trip changed tree:\nwant=%s,\n got=%s", first, second)
			}
		})
	}
}

var parseErrorTests = [...]string{
	0: ``,
	1: `<a>`,
	2: `<a/><b/>`,
	3: `text<a/>`,
	4: `<a></b>`,
	5: `<!DOCTYPE a><a/>`,
	6: `<a/>trailing`,
	7: `   `,
}

func TestParseError(t *testing.T) {
	for i, in := range parseErrorTests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			el, err := stanza.ParseString(in)
			if el != nil {
				t.Errorf("expected no element on error, got %s", el)
			}
			var parseErr *stanza.ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *stanza.ParseError, got %T: %v", err, err)
			}
		})
	}
}

func TestAttrAbsence(t *testing.T) {
	el, err := stanza.ParseString(`<a empty='' x='1' xml:lang='de'/>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := el.Attr("empty"); !ok || v != "" {
		t.Errorf("expected empty attribute to be present, got %q, %t", v, ok)
	}
	if _, ok := el.Attr("missing"); ok {
		t.Errorf("expected missing attribute to be absent")
	}
	if v, ok := el.Lang(); !ok || v != "de" {
		t.Errorf("wrong lang: want=de, got=%q (%t)", v, ok)
	}
	if _, ok := el.Attr("lang"); ok {
		t.Errorf("xml:lang should not match an attribute with no namespace")
	}
}

func TestChildrenRestartable(t *testing.T) {
	el, err := stanza.ParseString(`<a><b n='1'/>text<c/><b n='2'/></a>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seq := el.Children(stanza.Named("", "b"))
	for pass := 0; pass < 2; pass++ {
		var got []string
		for child := range seq {
			n, _ := child.Attr("n")
			got = append(got, n)
		}
		if len(got) != 2 || got[0] != "1" || got[1] != "2" {
			t.Errorf("pass %d: wrong children: %v", pass, got)
		}
	}

	count := 0
	for range el.Children(nil) {
		count++
		break
	}
	if count != 1 {
		t.Errorf("expected early break to stop iteration")
	}
	if _, ok := el.Child("", "missing"); ok {
		t.Errorf("expected no missing child")
	}
	if el.Text() != "text" {
		t.Errorf("wrong text: %q", el.Text())
	}
}

func TestBuilder(t *testing.T) {
	b := stanza.IQ(stanza.SetIQ, "b1").
		C(xml.Name{Space: ns.Bind, Local: "bind"}).
		C(xml.Name{Local: "resource"}).T("r")
	el := b.Element()
	const want = `<iq xmlns="jabber:client" type="set" id="b1"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>r</resource></bind></iq>`
	if s := el.String(); s != want {
		t.Errorf("wrong output:\nwant=%s,\n got=%s", want, s)
	}

	b.Up().Up().C(xml.Name{Local: "extra"})
	if s := el.String(); s != want {
		t.Errorf("built element changed after more building: %s", s)
	}

	msg := stanza.Message(stanza.ChatMessage).Attr("to", "a@b").Attr("to", "c@d").Element()
	if v, _ := msg.Attr("to"); v != "c@d" {
		t.Errorf("expected Attr to replace existing value, got %q", v)
	}
	if l := len(msg.Attrs()); l != 2 {
		t.Errorf("expected two attributes, got %d", l)
	}

	pres := stanza.Presence(stanza.AvailablePresence).Append(msg, nil).Element()
	if _, ok := pres.Attr("type"); ok {
		t.Errorf("available presence should not have a type")
	}
	if child, ok := pres.Child(ns.Client, "message"); !ok || !stanza.Equal(child, msg) {
		t.Errorf("expected appended copy of message")
	}
}

func TestWriteXML(t *testing.T) {
	el, err := stanza.ParseString(`<message xmlns='jabber:client' xml:lang='en'><body>hi &amp; bye</body><x xmlns='urn:x'/></message>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err = el.WriteXML(enc); err != nil {
		t.Fatalf("unexpected error writing: %v", err)
	}
	if err = enc.Flush(); err != nil {
		t.Fatalf("unexpected error flushing: %v", err)
	}
	out, err := stanza.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error re-parsing %s: %v", buf.String(), err)
	}
	if !stanza.Equal(el, out) {
		t.Errorf("token stream produced a different tree:\nwant=%s,\n got=%s", el, out)
	}
}

func TestUnmarshalXML(t *testing.T) {
	v := struct {
		XMLName xml.Name       `xml:"wrapper"`
		Inner   stanza.Element `xml:",any"`
	}{}
	err := xml.Unmarshal([]byte(`<wrapper><inner a='b'>text</inner></wrapper>`), &v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := v.Inner.String(); s != `<inner a="b">text</inner>` {
		t.Errorf("wrong element: %s", s)
	}
}
