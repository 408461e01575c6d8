// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ping implements XEP-0199: XMPP Ping.
package ping // import "mellium.im/xmppclient/ping"

import (
	"context"
	"encoding/xml"
	"time"

	"mellium.im/xmppclient"
	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/jid"
	"mellium.im/xmppclient/mux"
	"mellium.im/xmppclient/stanza"
)

// NS is the XML namespace used by XMPP pings. It is provided as a convenience.
const NS = ns.Ping

// IQ returns a ping request addressed to to.
// The zero JID omits the to attribute, which pings the server.
func IQ(to jid.JID) *stanza.Element {
	b := stanza.IQ(stanza.GetIQ, "")
	if s := to.String(); s != "" {
		b.Attr("to", s)
	}
	return b.C(xml.Name{Space: NS, Local: "ping"}).Element()
}

// Send pings to over c and returns the round trip time.
// An error reply from to is returned as a stanza.Error.
func Send(ctx context.Context, c *xmppclient.Conn, to jid.JID) (time.Duration, error) {
	start := time.Now()
	_, err := c.SendIQ(ctx, IQ(to))
	return time.Since(start), err
}

// Handle registers a handler on c that answers pings.
// Pass mux.Persistent to keep answering after a reconnect.
func Handle(c *xmppclient.Conn, opt ...mux.HandlerOption) mux.Ref {
	return c.AddHandler(mux.Matcher{
		Name:  "iq",
		NS:    NS,
		Types: []string{string(stanza.GetIQ)},
	}, mux.HandlerFunc(func(el *stanza.Element) (bool, error) {
		id, _ := el.Attr("id")
		reply := stanza.IQ(stanza.ResultIQ, id)
		if from, ok := el.Attr("from"); ok {
			reply.Attr("to", from)
		}
		return true, c.Send(reply.Element())
	}), opt...)
}
