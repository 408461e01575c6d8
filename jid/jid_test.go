// Copyright 2015 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package jid_test

import (
	"encoding/xml"
	"fmt"
	"net"
	"strings"
	"testing"

	"mellium.im/xmppclient/jid"
)

// Compile time checks to make sure that JID and *jid.JID match several interfaces.
var (
	_ fmt.Stringer        = jid.JID{}
	_ xml.MarshalerAttr   = jid.JID{}
	_ xml.UnmarshalerAttr = (*jid.JID)(nil)
	_ net.Addr            = jid.JID{}
)

func TestValidJIDs(t *testing.T) {
	for i, tc := range [...]struct {
		jid, lp, dp, rp string
	}{
		0:  {"example.net", "", "example.net", ""},
		1:  {"example.net/rp", "", "example.net", "rp"},
		2:  {"mercutio@example.net", "mercutio", "example.net", ""},
		3:  {"mercutio@example.net/rp", "mercutio", "example.net", "rp"},
		4:  {"mercutio@example.net/rp@rp", "mercutio", "example.net", "rp@rp"},
		5:  {"mercutio@example.net/rp@rp/rp", "mercutio", "example.net", "rp@rp/rp"},
		6:  {"mercutio@example.net//@", "mercutio", "example.net", "/@"},
		7:  {"127.0.0.1", "", "127.0.0.1", ""},
		8:  {"juliet@example.com/ foo", "juliet", "example.com", " foo"},
		9:  {"example.net.", "", "example.net", ""},
		10: {"Mercutio@example.net", "mercutio", "example.net", ""},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			j, err := jid.Parse(tc.jid)
			if err != nil {
				t.Fatal(err)
			}
			if j.Domainpart() != tc.dp {
				t.Errorf("Got domainpart %s but expected %s", j.Domainpart(), tc.dp)
			}
			if j.Localpart() != tc.lp {
				t.Errorf("Got localpart %s but expected %s", j.Localpart(), tc.lp)
			}
			if j.Resourcepart() != tc.rp {
				t.Errorf("Got resourcepart %s but expected %s", j.Resourcepart(), tc.rp)
			}
		})
	}
}

var invalidutf8 = string([]byte{0xff, 0xfe, 0xfd})

var invalidJIDs = [...]string{
	0:  "test@/test",
	1:  invalidutf8 + "@example.com/rp",
	2:  invalidutf8 + "/rp",
	3:  "example.com/" + invalidutf8,
	4:  "lp@/rp",
	5:  `b"d@example.net`,
	6:  `b&d@example.net`,
	7:  `b:d@example.net`,
	8:  `b<d@example.net`,
	9:  `e@example.net/`,
	10: `@example.net`,
	11: "",
	12: strings.Repeat("a", 1024) + "@example.net",
	13: "example.net/" + strings.Repeat("a", 1024),
}

func TestInvalidParseJIDs(t *testing.T) {
	for i, tc := range invalidJIDs {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			if _, err := jid.Parse(tc); err == nil {
				t.Errorf("Expected JID %q to fail", tc)
			}
		})
	}
}

func TestParts(t *testing.T) {
	j := jid.MustParse("romeo@example.net/orchard")
	if s := j.Bare().String(); s != "romeo@example.net" {
		t.Errorf("wrong bare JID: %s", s)
	}
	if s := j.Domain().String(); s != "example.net" {
		t.Errorf("wrong domain JID: %s", s)
	}
	if s := j.String(); s != "romeo@example.net/orchard" {
		t.Errorf("wrong full JID: %s", s)
	}

	balcony, err := j.WithResource("balcony")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := balcony.String(); s != "romeo@example.net/balcony" {
		t.Errorf("wrong JID after WithResource: %s", s)
	}
	if s := j.String(); s != "romeo@example.net/orchard" {
		t.Errorf("WithResource modified the original: %s", s)
	}
	if !balcony.Bare().Equal(j.Bare()) {
		t.Errorf("expected bare JIDs to be equal")
	}
	if balcony.Equal(j) {
		t.Errorf("expected full JIDs to differ")
	}
	if j.Network() != "xmpp" {
		t.Errorf("wrong network: %s", j.Network())
	}
}

func TestMarshalAttr(t *testing.T) {
	j := jid.MustParse("juliet@example.com/balcony")
	attr, err := j.MarshalXMLAttr(xml.Name{Local: "to"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out jid.JID
	if err = out.UnmarshalXMLAttr(attr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Equal(j) {
		t.Errorf("wrong JID after unmarshal: want=%s, got=%s", j, out)
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected MustParse to panic")
		}
	}()
	jid.MustParse("@example.net")
}
