// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"

	"golang.org/x/net/websocket"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
)

// WSOption configures a fake WebSocket endpoint.
type WSOption func(*wsServer)

// Redirect makes the endpoint answer the first stream header with a <close/>
// pointing at uri.
func Redirect(uri string) WSOption {
	return func(s *wsServer) {
		s.redirect = uri
	}
}

// HangUp makes the endpoint drop the connection right after opening the
// stream, without closing it.
func HangUp() WSOption {
	return func(s *wsServer) {
		s.hangup = true
	}
}

// SendGarbage makes the endpoint send a message that is not well-formed XML
// before the stream features.
func SendGarbage() WSOption {
	return func(s *wsServer) {
		s.garbage = true
	}
}

type wsServer struct {
	srv      *Server
	redirect string
	hangup   bool
	garbage  bool
}

// NewWebSocketServer starts an HTTP server that accepts XMPP over WebSocket
// connections in front of srv.
// The caller must close the returned server.
func NewWebSocketServer(srv *Server, opts ...WSOption) *httptest.Server {
	s := &wsServer{srv: srv}
	for _, o := range opts {
		o(s)
	}
	return httptest.NewServer(websocket.Server{
		Handshake: func(cfg *websocket.Config, _ *http.Request) error {
			if !slices.Contains(cfg.Protocol, "xmpp") {
				return errors.New("xmpptest: client did not offer the xmpp subprotocol")
			}
			cfg.Protocol = []string{"xmpp"}
			return nil
		},
		Handler: s.serve,
	})
}

// WebSocketURL returns the ws:// URL of a server started by
// NewWebSocketServer.
func WebSocketURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *wsServer) serve(conn *websocket.Conn) {
	sess := s.srv.NewSession()
	send := func(el *stanza.Element) bool {
		return websocket.Message.Send(conn, el.String()) == nil
	}
	for {
		var msg string
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return
		}
		el, err := stanza.ParseString(msg)
		if err != nil {
			return
		}
		switch {
		case el.Is(ns.Framing, "open"):
			if s.redirect != "" {
				send(stanza.NewBuilder(xml.Name{Space: ns.Framing, Local: "close"}).
					Attr("see-other-uri", s.redirect).
					Element())
				// Wait for the client to acknowledge the close.
				/* #nosec */
				websocket.Message.Receive(conn, &msg)
				return
			}
			info, features := sess.Open()
			open := stanza.NewBuilder(xml.Name{Space: ns.Framing, Local: "open"}).
				Attr("from", info.From.String()).
				Attr("id", info.ID).
				Attr("version", info.Version.String()).
				AttrNS(ns.XML, "lang", info.Lang).
				Element()
			if !send(open) {
				return
			}
			if s.hangup {
				return
			}
			if s.garbage {
				if websocket.Message.Send(conn, "<message><body>") != nil {
					return
				}
			}
			if !send(features) {
				return
			}
		case el.Is(ns.Framing, "close"):
			send(stanza.NewBuilder(xml.Name{Space: ns.Framing, Local: "close"}).Element())
			return
		default:
			for _, reply := range sess.Handle(el) {
				if !send(reply) {
					return
				}
				if reply.Is(stream.NS, "error") {
					send(stanza.NewBuilder(xml.Name{Space: ns.Framing, Local: "close"}).Element())
					return
				}
			}
		}
	}
}
