// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bosh

import (
	"encoding/xml"
	"strconv"
	"time"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/jid"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
)

const (
	protocolVersion = "1.6"
	contentType     = "text/xml; charset=utf-8"
)

// session holds the parameters negotiated in the session creation response.
type session struct {
	sid        string
	wait       time.Duration
	hold       int
	requests   int
	polling    time.Duration
	inactivity time.Duration
	info       stream.Info
}

func newBody(rid uint64) *stanza.Builder {
	return stanza.NewBuilder(xml.Name{Space: ns.HTTPBind, Local: "body"}).
		Attr("rid", strconv.FormatUint(rid, 10))
}

// createBody is the session creation request.
func createBody(rid uint64, to, lang string, wait time.Duration, hold int) *stanza.Element {
	return newBody(rid).
		Attr("to", to).
		AttrNS(ns.XML, "lang", lang).
		Attr("wait", strconv.Itoa(int(wait/time.Second))).
		Attr("hold", strconv.Itoa(hold)).
		Attr("content", contentType).
		Attr("ver", protocolVersion).
		AttrNS(ns.XBOSH, "version", stream.DefaultVersion.String()).
		Element()
}

// dataBody carries zero or more stanzas in an established session.
func dataBody(rid uint64, sid string, els []*stanza.Element) *stanza.Element {
	return newBody(rid).Attr("sid", sid).Append(els...).Element()
}

// restartBody asks the connection manager for a new stream after SASL.
func restartBody(rid uint64, sid, to, lang string) *stanza.Element {
	return newBody(rid).
		Attr("sid", sid).
		Attr("to", to).
		AttrNS(ns.XML, "lang", lang).
		AttrNS(ns.XBOSH, "restart", "true").
		Element()
}

// terminateBody ends the session, optionally carrying final stanzas.
func terminateBody(rid uint64, sid string, els []*stanza.Element) *stanza.Element {
	return newBody(rid).Attr("sid", sid).Attr("type", "terminate").Append(els...).Element()
}

// terminated returns a *TerminateError if body ends the session.
func terminated(body *stanza.Element) error {
	if typ, _ := body.Attr("type"); typ == "terminate" {
		cond, _ := body.Attr("condition")
		return &TerminateError{Condition: cond}
	}
	return nil
}

// parseSession reads the session creation response.
// Parameters that are missing or malformed keep the values requested by the
// client.
func parseSession(body *stanza.Element, wait time.Duration, hold int) (session, error) {
	s := session{wait: wait, hold: hold}
	var ok bool
	s.sid, ok = body.Attr("sid")
	if !ok || s.sid == "" {
		return s, ErrNoSID
	}
	if v, ok := seconds(body, "wait"); ok {
		s.wait = v
	}
	if v, ok := integer(body, "hold"); ok {
		s.hold = v
	}
	if v, ok := integer(body, "requests"); ok {
		s.requests = v
	}
	if v, ok := seconds(body, "polling"); ok {
		s.polling = v
	}
	if v, ok := seconds(body, "inactivity"); ok {
		s.inactivity = v
	}

	s.info.ID, _ = body.Attr("authid")
	if lang, ok := body.Lang(); ok {
		s.info.Lang = lang
	}
	if v, ok := body.AttrNS(ns.XBOSH, "version"); ok {
		version, err := stream.ParseVersion(v)
		if err != nil {
			return s, stream.BadFormat
		}
		s.info.Version = version
	}
	if from, ok := body.Attr("from"); ok && from != "" {
		j, err := jid.Parse(from)
		if err != nil {
			return s, stream.ImproperAddressing
		}
		s.info.From = j
	}
	return s, nil
}

func integer(body *stanza.Element, attr string) (int, bool) {
	v, ok := body.Attr(attr)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

func seconds(body *stanza.Element, attr string) (time.Duration, bool) {
	i, ok := integer(body, attr)
	return time.Duration(i) * time.Second, ok
}

// payload returns the stanzas carried by a response body.
// Stanzas that the connection manager sent without a namespace inherit the
// BOSH namespace and are moved into the client namespace.
func payload(body *stanza.Element) []*stanza.Element {
	var out []*stanza.Element
	for child := range body.Children(nil) {
		if child.Name().Space == ns.HTTPBind {
			child = stanza.Renamespace(child, ns.HTTPBind, ns.Client)
		}
		out = append(out, child)
	}
	return out
}
