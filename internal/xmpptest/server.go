// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides utilities for XMPP testing.
//
// A Server scripts the server side of stream negotiation (features, SASL,
// resource binding) and can be exposed through an in-process Transport or
// through fake BOSH and WebSocket endpoints.
package xmpptest // import "mellium.im/xmppclient/internal/xmpptest"

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"slices"
	"strconv"
	"sync"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/internal/saslerr"
	"mellium.im/xmppclient/jid"
	"mellium.im/xmppclient/mux"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
)

// Domain is the domain served by every Server.
const Domain = "example.net"

// Option configures a Server.
type Option func(*Server)

// Mechanisms sets the SASL mechanisms advertised by the server.
// The default is PLAIN and SCRAM-SHA-1.
func Mechanisms(names ...string) Option {
	return func(s *Server) {
		s.mechs = names
	}
}

// User adds an account to the server.
func User(name, password string) Option {
	return func(s *Server) {
		s.users[name] = password
	}
}

// Token makes the server accept tok for OAUTHBEARER and X-OAUTH2.
func Token(tok string) Option {
	return func(s *Server) {
		s.token = tok
	}
}

// External makes the server treat the client as authenticated by the
// transport as user, for example by a TLS client certificate.
// EXTERNAL succeeds if the authorization identity is empty or names user.
func External(user string) Option {
	return func(s *Server) {
		s.external = user
	}
}

// CorruptSignature makes the server send a SCRAM server signature with its
// first byte flipped.
func CorruptSignature() Option {
	return func(s *Server) {
		s.corrupt = true
	}
}

// RequireSession advertises the legacy session feature as mandatory.
func RequireSession() Option {
	return func(s *Server) {
		s.session = true
	}
}

// Mute makes the server ignore elements with any of the given local names.
func Mute(names ...string) Option {
	return func(s *Server) {
		s.mute = append(s.mute, names...)
	}
}

// Handle sets a function that answers every element not handled by the
// server itself.
// If no function is set IQs of type get and set receive a
// service-unavailable error and everything else is ignored.
func Handle(f func(*stanza.Element) []*stanza.Element) Option {
	return func(s *Server) {
		s.handle = f
	}
}

// Server is a scripted XMPP server.
type Server struct {
	domain   string
	mechs    []string
	users    map[string]string
	token    string
	external string
	corrupt  bool
	session  bool
	mute     []string
	handle   func(*stanza.Element) []*stanza.Element

	mu      sync.Mutex
	streams int
}

// NewServer returns a server for Domain.
func NewServer(opts ...Option) *Server {
	s := &Server{
		domain: Domain,
		mechs:  []string{"PLAIN", "SCRAM-SHA-1"},
		users:  make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Domain returns the domain served by s.
func (s *Server) Domain() string {
	return s.domain
}

func (s *Server) lookup(user string) (string, bool) {
	pass, ok := s.users[user]
	return pass, ok
}

// Session is the server side state of one client connection.
type Session struct {
	srv   *Server
	mu    sync.Mutex
	user  string
	authn bool
	scram *scramServer
}

// NewSession starts the server side of a new connection.
func (s *Server) NewSession() *Session {
	return &Session{srv: s}
}

// Open returns the header of a new stream and the features advertised on it.
func (s *Session) Open() (stream.Info, *stanza.Element) {
	s.srv.mu.Lock()
	s.srv.streams++
	id := "stream-" + strconv.Itoa(s.srv.streams)
	s.srv.mu.Unlock()

	info := stream.Info{
		ID:      id,
		From:    jid.MustParse(s.srv.domain),
		Version: stream.DefaultVersion,
		Lang:    "en",
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return info, s.features()
}

func (s *Session) features() *stanza.Element {
	b := stanza.NewBuilder(xml.Name{Space: stream.NS, Local: "features"})
	if !s.authn {
		b.C(xml.Name{Space: ns.SASL, Local: "mechanisms"})
		for _, m := range s.srv.mechs {
			b.C(xml.Name{Space: ns.SASL, Local: "mechanism"}).T(m).Up()
		}
		return b.Up().Element()
	}
	b.C(xml.Name{Space: ns.Bind, Local: "bind"}).Up()
	if s.srv.session {
		b.C(xml.Name{Space: ns.Session, Local: "session"}).Up()
	}
	return b.Element()
}

// Handle returns the replies of the server to el.
func (s *Session) Handle(el *stanza.Element) []*stanza.Element {
	if slices.Contains(s.srv.mute, el.Name().Local) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case el.Is(ns.SASL, "auth"):
		return one(s.auth(el))
	case el.Is(ns.SASL, "response"):
		return one(s.response(el))
	case el.Is(ns.SASL, "abort"):
		s.scram = nil
		return one(saslerr.Failure{Condition: saslerr.Aborted}.Element())
	case el.Is("", "iq") && s.authn:
		typ, _ := el.Attr("type")
		if typ == string(stanza.SetIQ) {
			if bind, ok := el.Child(ns.Bind, "bind"); ok {
				return one(s.bind(el, bind))
			}
			if _, ok := el.Child(ns.Session, "session"); ok {
				id, _ := el.Attr("id")
				return one(stanza.IQ(stanza.ResultIQ, id).Element())
			}
		}
	}
	if s.srv.handle != nil {
		return s.srv.handle(el)
	}
	if reply := mux.IQFallback(el); reply != nil {
		return one(reply)
	}
	return nil
}

func one(el *stanza.Element) []*stanza.Element {
	return []*stanza.Element{el}
}

func decode(el *stanza.Element) ([]byte, bool) {
	text := el.Text()
	if text == "=" || text == "" {
		return nil, true
	}
	b, err := base64.StdEncoding.DecodeString(text)
	return b, err == nil
}

func saslElement(local string, data []byte) *stanza.Element {
	b := stanza.NewBuilder(xml.Name{Space: ns.SASL, Local: local})
	if len(data) > 0 {
		b.T(base64.StdEncoding.EncodeToString(data))
	}
	return b.Element()
}

func failure(cond saslerr.Condition) *stanza.Element {
	return saslerr.Failure{Condition: cond}.Element()
}

func (s *Session) success(user string, data []byte) *stanza.Element {
	s.authn = true
	s.user = user
	s.scram = nil
	return saslElement("success", data)
}

func (s *Session) auth(el *stanza.Element) *stanza.Element {
	mech, _ := el.Attr("mechanism")
	if !slices.Contains(s.srv.mechs, mech) {
		return failure(saslerr.InvalidMechanism)
	}
	data, ok := decode(el)
	if !ok {
		return failure(saslerr.IncorrectEncoding)
	}

	switch mech {
	case "PLAIN":
		parts := bytes.Split(data, []byte{0})
		if len(parts) != 3 {
			return failure(saslerr.MalformedRequest)
		}
		user := string(parts[1])
		if pass, ok := s.srv.lookup(user); !ok || pass != string(parts[2]) {
			return failure(saslerr.NotAuthorized)
		}
		return s.success(user, nil)
	case "ANONYMOUS":
		return s.success("anonymous", nil)
	case "EXTERNAL":
		if s.srv.external == "" {
			return failure(saslerr.NotAuthorized)
		}
		if len(data) == 0 {
			return s.success(s.srv.external, nil)
		}
		authz, err := jid.Parse(string(data))
		if err != nil {
			return failure(saslerr.InvalidAuthzID)
		}
		if authz.Localpart() != s.srv.external || authz.Domainpart() != s.srv.domain {
			return failure(saslerr.InvalidAuthzID)
		}
		return s.success(s.srv.external, nil)
	case "OAUTHBEARER", "X-OAUTH2":
		if s.srv.token == "" || !bytes.Contains(data, []byte(s.srv.token)) {
			return failure(saslerr.NotAuthorized)
		}
		return s.success("bearer", nil)
	}

	fn, ok := scramHashes[mech]
	if !ok {
		return failure(saslerr.InvalidMechanism)
	}
	s.scram = &scramServer{
		fn:      fn,
		lookup:  s.srv.lookup,
		corrupt: s.srv.corrupt,
	}
	serverFirst, err := s.scram.first(string(data))
	if err != nil {
		s.scram = nil
		return failure(saslerr.MalformedRequest)
	}
	return saslElement("challenge", []byte(serverFirst))
}

func (s *Session) response(el *stanza.Element) *stanza.Element {
	if s.scram == nil {
		return failure(saslerr.MalformedRequest)
	}
	data, ok := decode(el)
	if !ok {
		s.scram = nil
		return failure(saslerr.IncorrectEncoding)
	}
	serverFinal, err := s.scram.final(string(data))
	if err != nil {
		s.scram = nil
		return failure(saslerr.NotAuthorized)
	}
	return s.success(s.scram.user, []byte(serverFinal))
}

func (s *Session) bind(iq, bind *stanza.Element) *stanza.Element {
	id, _ := iq.Attr("id")
	resource := "xmpptest"
	if r, ok := bind.Child(ns.Bind, "resource"); ok && r.Text() != "" {
		resource = r.Text()
	}
	addr, err := jid.New(s.user, s.srv.domain, resource)
	if err != nil {
		return stanza.IQ(stanza.ErrorIQ, id).Append(stanza.Error{
			Type:      stanza.Modify,
			Condition: stanza.BadRequest,
		}.Element()).Element()
	}
	return stanza.IQ(stanza.ResultIQ, id).
		C(xml.Name{Space: ns.Bind, Local: "bind"}).
		C(xml.Name{Space: ns.Bind, Local: "jid"}).T(addr.String()).
		Element()
}
