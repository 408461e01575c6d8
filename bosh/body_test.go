// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bosh

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
)

func TestCreateBody(t *testing.T) {
	const want = `<body xmlns="http://jabber.org/protocol/httpbind" rid="42" to="example.net" xml:lang="en" wait="60" hold="1" content="text/xml; charset=utf-8" ver="1.6" xmlns:xmpp="urn:xmpp:xbosh" xmpp:version="1.0"/>`
	if got := createBody(42, "example.net", "en", 60*time.Second, 1).String(); got != want {
		t.Errorf("wrong session creation body:\nwant=%s,\n got=%s", want, got)
	}
}

func TestRestartBody(t *testing.T) {
	const want = `<body xmlns="http://jabber.org/protocol/httpbind" rid="43" sid="s1" to="example.net" xml:lang="en" xmlns:xmpp="urn:xmpp:xbosh" xmpp:restart="true"/>`
	if got := restartBody(43, "s1", "example.net", "en").String(); got != want {
		t.Errorf("wrong restart body:\nwant=%s,\n got=%s", want, got)
	}
}

func TestDataBodyNamespaces(t *testing.T) {
	msg := stanza.Message(stanza.ChatMessage).Attr("to", "juliet@example.com").Element()
	const want = `<body xmlns="http://jabber.org/protocol/httpbind" rid="1" sid="s1" type="terminate"><message xmlns="jabber:client" type="chat" to="juliet@example.com"/></body>`
	if got := terminateBody(1, "s1", []*stanza.Element{msg}).String(); got != want {
		t.Errorf("wrong terminate body:\nwant=%s,\n got=%s", want, got)
	}
}

var sessionTests = [...]struct {
	in   string
	sess session
	err  error
}{
	0: {
		in: `<body xmlns='http://jabber.org/protocol/httpbind' xmlns:xmpp='urn:xmpp:xbosh' sid='abc' wait='30' hold='1' requests='2' polling='5' inactivity='60' authid='s9' from='example.net' xml:lang='de' xmpp:version='1.0'/>`,
		sess: session{
			sid:        "abc",
			wait:       30 * time.Second,
			hold:       1,
			requests:   2,
			polling:    5 * time.Second,
			inactivity: time.Minute,
		},
	},
	1: {
		in:   `<body xmlns='http://jabber.org/protocol/httpbind' sid='abc' wait='bad' hold='-1'/>`,
		sess: session{sid: "abc", wait: 60 * time.Second, hold: 1},
	},
	2: {in: `<body xmlns='http://jabber.org/protocol/httpbind' wait='30'/>`, err: ErrNoSID},
	3: {in: `<body xmlns='http://jabber.org/protocol/httpbind' sid=''/>`, err: ErrNoSID},
	4: {in: `<body xmlns='http://jabber.org/protocol/httpbind' xmlns:xmpp='urn:xmpp:xbosh' sid='a' xmpp:version='one'/>`, err: stream.BadFormat},
	5: {in: `<body xmlns='http://jabber.org/protocol/httpbind' sid='a' from='@example.net'/>`, err: stream.ImproperAddressing},
}

func TestParseSession(t *testing.T) {
	for i, tc := range sessionTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			body, err := stanza.ParseString(tc.in)
			if err != nil {
				t.Fatalf("error parsing test input: %v", err)
			}
			sess, err := parseSession(body, 60*time.Second, 1)
			if !errors.Is(err, tc.err) {
				t.Fatalf("unexpected error: want=%v, got=%v", tc.err, err)
			}
			if err != nil {
				return
			}
			if sess.sid != tc.sess.sid || sess.wait != tc.sess.wait || sess.hold != tc.sess.hold ||
				sess.requests != tc.sess.requests || sess.polling != tc.sess.polling || sess.inactivity != tc.sess.inactivity {
				t.Errorf("wrong session:\nwant=%+v,\n got=%+v", tc.sess, sess)
			}
			if i == 0 {
				info := sess.info
				if info.ID != "s9" || info.Lang != "de" || info.From.String() != "example.net" || info.Version != stream.DefaultVersion {
					t.Errorf("wrong stream info: %+v", info)
				}
			}
		})
	}
}

func TestPayload(t *testing.T) {
	body, err := stanza.ParseString(`<body xmlns='http://jabber.org/protocol/httpbind'><message to='a@example.net'><body>hi</body></message><iq xmlns='jabber:client' type='result' id='1'/>text</body>`)
	if err != nil {
		t.Fatalf("error parsing test input: %v", err)
	}
	els := payload(body)
	if len(els) != 2 {
		t.Fatalf("wrong number of stanzas: want=2, got=%d", len(els))
	}
	const want = `<message xmlns="jabber:client" to="a@example.net"><body>hi</body></message>`
	if s := els[0].String(); s != want {
		t.Errorf("unqualified stanza was not moved to the client namespace:\nwant=%s,\n got=%s", want, s)
	}
	if !els[1].Is(ns.Client, "iq") {
		t.Errorf("wrong second stanza: %s", els[1])
	}
}

func TestTerminated(t *testing.T) {
	body, err := stanza.ParseString(`<body xmlns='http://jabber.org/protocol/httpbind' type='terminate' condition='item-not-found'/>`)
	if err != nil {
		t.Fatalf("error parsing test input: %v", err)
	}
	var termErr *TerminateError
	if err := terminated(body); !errors.As(err, &termErr) || termErr.Condition != "item-not-found" {
		t.Errorf("expected terminate error with condition, got %v", err)
	}
	if err := terminated(dataBody(1, "s", nil)); err != nil {
		t.Errorf("unexpected error for data body: %v", err)
	}
}
