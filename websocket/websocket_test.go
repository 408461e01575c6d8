// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package websocket_test

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	xws "golang.org/x/net/websocket"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/internal/xmpptest"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
	"mellium.im/xmppclient/transport"
	"mellium.im/xmppclient/websocket"
)

func isFeatures(el *stanza.Element) bool {
	return el.Is(stream.NS, "features")
}

func dial(t *testing.T, opts ...xmpptest.WSOption) (*websocket.Transport, *xmpptest.Recorder) {
	t.Helper()
	srv := xmpptest.NewServer(xmpptest.Mechanisms("PLAIN"), xmpptest.User("juliet", "r0m30"))
	ts := xmpptest.NewWebSocketServer(srv, opts...)
	t.Cleanup(ts.Close)

	tr := websocket.New(websocket.Config{URL: xmpptest.WebSocketURL(ts)})
	rec := xmpptest.NewRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), xmpptest.Timeout)
	defer cancel()
	require.NoError(t, tr.Connect(ctx, xmpptest.Domain, rec))
	return tr, rec
}

func TestStream(t *testing.T) {
	tr, rec := dial(t)

	info := rec.Open(t)
	require.Equal(t, xmpptest.Domain, info.From.String())
	require.NotEmpty(t, info.ID)
	require.Equal(t, stream.DefaultVersion, info.Version)

	features := rec.Next(t)
	require.True(t, isFeatures(features), "expected features, got %v", features)
	_, ok := features.Child(ns.SASL, "mechanisms")
	require.True(t, ok)

	auth := stanza.NewBuilder(xml.Name{Space: ns.SASL, Local: "auth"}).
		Attr("mechanism", "PLAIN").
		T("AGp1bGlldAByMG0zMA==").
		Element()
	require.NoError(t, tr.Send(auth))
	success := rec.Next(t)
	require.True(t, success.Is(ns.SASL, "success"), "expected success, got %v", success)

	require.NoError(t, tr.Restart())
	next := rec.Open(t)
	require.NotEqual(t, info.ID, next.ID)
	features = rec.Next(t)
	_, ok = features.Child(ns.Bind, "bind")
	require.True(t, ok, "expected bind feature after restart, got %v", features)

	ctx, cancel := context.WithTimeout(context.Background(), xmpptest.Timeout)
	defer cancel()
	require.NoError(t, tr.Disconnect(ctx, stanza.Presence(stanza.UnavailablePresence).Element()))
	closed, err := rec.ClosedNow()
	require.True(t, closed)
	require.NoError(t, err)
	require.ErrorIs(t, tr.Send(auth), transport.ErrClosed)
}

func TestUnhandledIQ(t *testing.T) {
	tr, rec := dial(t)
	rec.Open(t)
	rec.NextMatch(t, isFeatures)

	require.NoError(t, tr.Send(stanza.IQ(stanza.GetIQ, "123").
		C(xml.Name{Space: "urn:example", Local: "query"}).
		Element()))
	reply := rec.Next(t)
	require.True(t, reply.Is(ns.Client, "iq"), "expected iq, got %v", reply)
	id, _ := reply.Attr("id")
	require.Equal(t, "123", id)
	se, ok := stanza.UnmarshalError(reply)
	require.True(t, ok)
	require.Equal(t, stanza.ServiceUnavailable, se.Condition)
	require.NoError(t, tr.Close())
}

func TestRedirect(t *testing.T) {
	_, rec := dial(t, xmpptest.Redirect("wss://other.example.net/xmpp"))

	var redirect *transport.RedirectError
	err := rec.WaitClosed(t)
	require.True(t, errors.As(err, &redirect), "expected redirect, got %v", err)
	require.Equal(t, "wss://other.example.net/xmpp", redirect.URI)
}

func TestAbnormalClose(t *testing.T) {
	_, rec := dial(t, xmpptest.HangUp())

	rec.Open(t)
	require.ErrorIs(t, rec.WaitClosed(t), transport.ErrAbnormalClose)
}

func TestMalformedMessageIsDropped(t *testing.T) {
	tr, rec := dial(t, xmpptest.SendGarbage())

	rec.Open(t)
	features := rec.Next(t)
	require.True(t, isFeatures(features), "expected features after garbage, got %v", features)
	require.Len(t, rec.Errors(), 1)

	var perr *stanza.ParseError
	require.ErrorAs(t, rec.Errors()[0], &perr)
	require.NoError(t, tr.Close())
}

func TestCloseSuppressesEvents(t *testing.T) {
	tr, rec := dial(t)
	rec.Open(t)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	closed, _ := rec.ClosedNow()
	require.False(t, closed, "Closed must not be called after Close")
	require.ErrorIs(t, tr.Send(stanza.Presence(stanza.AvailablePresence).Element()), transport.ErrClosed)
}

func TestConnectUsedTwice(t *testing.T) {
	tr, rec := dial(t)
	defer tr.Close()
	require.Error(t, tr.Connect(context.Background(), xmpptest.Domain, rec))
}

func TestSubprotocol(t *testing.T) {
	protocols := make(chan []string, 1)
	ts := httptest.NewServer(xws.Server{
		Handshake: func(cfg *xws.Config, _ *http.Request) error {
			protocols <- cfg.Protocol
			cfg.Protocol = []string{"xmpp"}
			return nil
		},
		Handler: func(conn *xws.Conn) {
			var msg string
			/* #nosec */
			xws.Message.Receive(conn, &msg)
		},
	})
	defer ts.Close()

	tr := websocket.New(websocket.Config{URL: xmpptest.WebSocketURL(ts)})
	ctx, cancel := context.WithTimeout(context.Background(), xmpptest.Timeout)
	defer cancel()
	require.NoError(t, tr.Connect(ctx, xmpptest.Domain, xmpptest.NewRecorder()))
	require.Equal(t, []string{websocket.WSProtocol}, <-protocols)
	require.NoError(t, tr.Close())
}

func TestKeepAlive(t *testing.T) {
	srv := xmpptest.NewServer()
	ts := xmpptest.NewWebSocketServer(srv)
	defer ts.Close()

	tr := websocket.New(websocket.Config{
		URL:       xmpptest.WebSocketURL(ts),
		KeepAlive: 10 * time.Millisecond,
	})
	rec := xmpptest.NewRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), xmpptest.Timeout)
	defer cancel()
	require.NoError(t, tr.Connect(ctx, xmpptest.Domain, rec))
	rec.Open(t)
	rec.NextMatch(t, isFeatures)

	// Pings are answered by the server without reaching the XMPP layer and
	// must not disturb the stream.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Send(stanza.IQ(stanza.GetIQ, "ping").
		C(xml.Name{Space: "urn:xmpp:ping", Local: "ping"}).
		Element()))
	reply := rec.Next(t)
	id, _ := reply.Attr("id")
	require.Equal(t, "ping", id)
	require.NoError(t, tr.Disconnect(ctx, nil))
}
