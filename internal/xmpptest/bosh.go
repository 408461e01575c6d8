// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
)

// BOSHOption configures a fake BOSH connection manager.
type BOSHOption func(*boshServer)

// StallCreate makes the first n session creation requests hang until the
// client gives up on them.
func StallCreate(n int) BOSHOption {
	return func(b *boshServer) {
		b.stall.Store(int32(n))
	}
}

// HoldFor sets how long an empty request is held before an empty response is
// sent (default 100ms).
func HoldFor(d time.Duration) BOSHOption {
	return func(b *boshServer) {
		b.hold = d
	}
}

// Requests sets the requests attribute of the session creation response
// (default 2).
func Requests(n int) BOSHOption {
	return func(b *boshServer) {
		b.requests = n
	}
}

type boshServer struct {
	srv      *Server
	hold     time.Duration
	requests int
	stall    atomic.Int32

	mu       sync.Mutex
	sessions map[string]*boshSession
	nextSID  int
}

type boshSession struct {
	sess *Session

	mu sync.Mutex
	// next is the rid of the next request whose payload will be processed.
	next    uint64
	changed chan struct{}
	held    chan struct{}
}

// NewBOSHServer starts an HTTP server that acts as a BOSH connection manager
// in front of srv.
// The caller must close the returned server.
func NewBOSHServer(srv *Server, opts ...BOSHOption) *httptest.Server {
	b := &boshServer{
		srv:      srv,
		hold:     100 * time.Millisecond,
		requests: 2,
		sessions: make(map[string]*boshSession),
	}
	for _, o := range opts {
		o(b)
	}
	return httptest.NewServer(b)
}

func (b *boshServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := stanza.Parse(data)
	if err != nil || !body.Is(ns.HTTPBind, "body") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rid, err := strconv.ParseUint(attr(body, "rid"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sid, ok := body.Attr("sid")
	if !ok {
		b.create(w, r, body, rid)
		return
	}
	b.mu.Lock()
	s := b.sessions[sid]
	b.mu.Unlock()
	if s == nil {
		write(w, terminate("item-not-found"))
		return
	}
	write(w, s.serve(r, body, rid, b.hold))
}

func (b *boshServer) create(w http.ResponseWriter, r *http.Request, body *stanza.Element, rid uint64) {
	if b.stall.Add(-1) >= 0 {
		<-r.Context().Done()
		return
	}
	if to := attr(body, "to"); to != b.srv.domain {
		write(w, terminate("host-unknown"))
		return
	}

	s := &boshSession{
		sess:    b.srv.NewSession(),
		next:    rid + 1,
		changed: make(chan struct{}),
	}
	b.mu.Lock()
	b.nextSID++
	sid := "sid-" + strconv.Itoa(b.nextSID)
	b.sessions[sid] = s
	b.mu.Unlock()

	info, features := s.sess.Open()
	resp := response().
		Attr("sid", sid).
		Attr("wait", attr(body, "wait")).
		Attr("hold", "1").
		Attr("requests", strconv.Itoa(b.requests)).
		Attr("ver", "1.6").
		Attr("authid", info.ID).
		Attr("from", info.From.String()).
		AttrNS(ns.XBOSH, "version", info.Version.String()).
		Append(features).
		Element()
	write(w, resp)
}

// serve processes a request in an established session.
// Payloads are processed in rid order and an empty request is held until a
// newer request arrives or the hold time expires.
func (s *boshSession) serve(r *http.Request, body *stanza.Element, rid uint64, hold time.Duration) *stanza.Element {
	s.mu.Lock()
	for rid > s.next {
		changed := s.changed
		s.mu.Unlock()
		select {
		case <-changed:
		case <-r.Context().Done():
			return nil
		}
		s.mu.Lock()
	}
	if rid < s.next {
		// A retried request whose first attempt was already answered.
		s.mu.Unlock()
		return response().Element()
	}
	s.next++
	close(s.changed)
	s.changed = make(chan struct{})
	if s.held != nil {
		close(s.held)
		s.held = nil
	}

	if typ, _ := body.Attr("type"); typ == "terminate" {
		s.mu.Unlock()
		return response().Attr("type", "terminate").Element()
	}

	var out []*stanza.Element
	if restart, _ := body.AttrNS(ns.XBOSH, "restart"); restart == "true" {
		_, features := s.sess.Open()
		out = append(out, features)
	}
	for child := range body.Children(nil) {
		if child.Name().Space == ns.HTTPBind {
			child = stanza.Renamespace(child, ns.HTTPBind, ns.Client)
		}
		out = append(out, s.sess.Handle(child)...)
	}
	if len(out) > 0 {
		s.mu.Unlock()
		b := response().Append(out...)
		for _, el := range out {
			if el.Is(stream.NS, "error") {
				b.Attr("type", "terminate").Attr("condition", "remote-stream-error")
				break
			}
		}
		return b.Element()
	}

	held := make(chan struct{})
	s.held = held
	s.mu.Unlock()
	select {
	case <-held:
	case <-time.After(hold):
	case <-r.Context().Done():
		return nil
	}
	s.mu.Lock()
	if s.held == held {
		s.held = nil
	}
	s.mu.Unlock()
	return response().Element()
}

func response() *stanza.Builder {
	return stanza.NewBuilder(xml.Name{Space: ns.HTTPBind, Local: "body"})
}

func terminate(cond string) *stanza.Element {
	return response().Attr("type", "terminate").Attr("condition", cond).Element()
}

func attr(el *stanza.Element, local string) string {
	v, _ := el.Attr(local)
	return v
}

func write(w http.ResponseWriter, body *stanza.Element) {
	if body == nil {
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	/* #nosec */
	body.WriteTo(w)
}
