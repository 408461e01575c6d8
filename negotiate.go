// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppclient

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"mellium.im/xmppclient/bosh"
	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/internal/saslerr"
	"mellium.im/xmppclient/jid"
	"mellium.im/xmppclient/mux"
	"mellium.im/xmppclient/sasl"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
	"mellium.im/xmppclient/transport"
)

var (
	errStepTimeout     = errors.New("no reply from the server")
	errUnexpectedClose = errors.New("stream closed during negotiation")
	errNoSASL          = errors.New("server does not offer SASL authentication")
	errNoBind          = errors.New("server does not offer resource binding")
	errUnexpectedSASL  = errors.New("unexpected SASL element")
)

// attempt is a single connection, from Connect to Disconnected.
//
// Everything that changes the state of the connection runs on the goroutine
// started by run: transport events, timers and calls from the Conn are posted
// as closures and executed in order.
// Fields below the loop comment are only touched from that goroutine.
type attempt struct {
	c     *Conn
	log   logrus.FieldLogger
	addr  jid.JID
	creds sasl.Credentials
	fn    StatusFunc
	lang  language.Tag

	ctx    context.Context
	cancel context.CancelFunc

	// result receives the outcome of Connect exactly once.
	result chan error
	// done is closed when the loop exits.
	done chan struct{}

	qMu    sync.Mutex
	queue  []func()
	wake   chan struct{}
	exited bool

	trMu     sync.Mutex
	tr       transport.Transport
	trClosed bool

	// loop
	state          Status
	finished       bool
	connectDone    bool
	expectFeatures bool
	authn          bool
	needSession    bool
	client         *sasl.Client
	refs           []mux.Ref
	step           *time.Timer
	stepGen        uint64
}

func newAttempt(c *Conn, addr jid.JID, creds sasl.Credentials, fn StatusFunc) *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	lang, err := language.Parse(c.cfg.lang)
	if err != nil {
		lang = language.English
	}
	return &attempt{
		c:      c,
		log:    c.log.WithField("addr", addr.String()),
		addr:   addr,
		creds:  creds,
		fn:     fn,
		lang:   lang,
		ctx:    ctx,
		cancel: cancel,
		result: make(chan error, 1),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// post queues f to run on the loop.
// It never blocks and reports false if the loop has already exited.
func (a *attempt) post(f func()) bool {
	a.qMu.Lock()
	defer a.qMu.Unlock()
	if a.exited {
		return false
	}
	a.queue = append(a.queue, f)
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

func (a *attempt) run() {
	defer close(a.done)
	tick := time.NewTicker(a.c.cfg.tick)
	defer tick.Stop()

	for !a.finished {
		select {
		case <-a.wake:
			a.qMu.Lock()
			queue := a.queue
			a.queue = nil
			a.qMu.Unlock()
			for _, f := range queue {
				f()
				if a.finished {
					break
				}
			}
		case now := <-tick.C:
			a.c.mux.RunTimed(now, a.state == Connected)
		}
	}

	a.qMu.Lock()
	a.exited = true
	a.queue = nil
	a.qMu.Unlock()
}

func (a *attempt) transport() transport.Transport {
	a.trMu.Lock()
	defer a.trMu.Unlock()
	return a.tr
}

// events forwards transport events to the loop.
type events struct {
	a *attempt
}

func (e events) StreamOpen(info stream.Info) {
	e.a.post(func() { e.a.streamOpen(info) })
}

func (e events) Element(el *stanza.Element) {
	e.a.post(func() { e.a.element(el) })
}

// Error drops the unparseable unit unless it was the features announcement,
// which negotiation cannot continue without.
func (e events) Error(err error) {
	e.a.post(func() {
		if e.a.expectFeatures {
			e.a.fail(&Error{Kind: ParseError, Op: "features", Err: err})
			return
		}
		e.a.c.reportError(&Error{Kind: ParseError, Op: "read", Err: err})
	})
}

func (e events) Closed(err error) {
	e.a.post(func() { e.a.closed(err) })
}

func (a *attempt) setState(s Status, err error) {
	a.state = s
	a.c.mu.Lock()
	a.c.status = s
	if s == Disconnected {
		a.c.att = nil
	}
	a.c.mu.Unlock()

	entry := a.log.WithField("status", s.String())
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("status changed")
	if a.fn != nil {
		a.fn(s, err)
	}
}

func (a *attempt) finishConnect(err error) {
	if a.connectDone {
		return
	}
	a.connectDone = true
	a.result <- err
}

// arm starts the timer bounding the wait for the next reply of the server.
func (a *attempt) arm() {
	a.disarm()
	if a.c.cfg.stepTimeout <= 0 {
		return
	}
	gen := a.stepGen
	a.step = time.AfterFunc(a.c.cfg.stepTimeout, func() {
		a.post(func() {
			if a.finished || gen != a.stepGen {
				return
			}
			a.fail(&Error{Kind: Timeout, Op: a.state.String(), Err: errStepTimeout})
		})
	})
}

func (a *attempt) disarm() {
	a.stepGen++
	if a.step != nil {
		a.step.Stop()
		a.step = nil
	}
}

func (a *attempt) begin() {
	a.setState(Connecting, nil)
	a.refs = append(a.refs,
		a.c.mux.HandleFunc(mux.Matcher{NS: stream.NS, Name: "features"}, a.handleFeatures, mux.System()),
		a.c.mux.HandleFunc(mux.Matcher{NS: stream.NS, Name: "error"}, a.handleStreamError, mux.System()),
		a.c.mux.HandleFunc(mux.Matcher{NS: ns.SASL, Name: "challenge"}, a.handleChallenge, mux.System()),
		a.c.mux.HandleFunc(mux.Matcher{NS: ns.SASL, Name: "success"}, a.handleSuccess, mux.System()),
		a.c.mux.HandleFunc(mux.Matcher{NS: ns.SASL, Name: "failure"}, a.handleFailure, mux.System()),
	)
	go a.dial(a.addr.Domainpart())
}

// dial creates and opens the transport off the loop.
func (a *attempt) dial(domain string) {
	tr, err := a.c.newTransport(a.ctx, domain)
	if err != nil {
		a.post(func() { a.fail(&Error{Kind: TransportError, Op: "dial", Err: err}) })
		return
	}
	a.trMu.Lock()
	if a.trClosed {
		a.trMu.Unlock()
		/* #nosec */
		tr.Close()
		return
	}
	a.tr = tr
	a.trMu.Unlock()

	err = tr.Connect(a.ctx, domain, events{a: a})
	a.post(func() { a.opened(err) })
}

func (a *attempt) opened(err error) {
	if err != nil {
		a.fail(&Error{Kind: TransportError, Op: "connect", Err: err})
		return
	}
	if a.state == Connecting {
		a.arm()
	}
}

func (a *attempt) streamOpen(info stream.Info) {
	a.c.mu.Lock()
	a.c.streamID = info.ID
	a.c.mu.Unlock()
	a.log.WithFields(logrus.Fields{
		"id":   info.ID,
		"from": info.From.String(),
	}).Debug("stream opened")

	if a.state == Connecting {
		a.setState(StreamNegotiating, nil)
	}
	a.expectFeatures = true
	a.arm()
}

func (a *attempt) element(el *stanza.Element) {
	a.c.logInput(el)
	if a.state != Connected {
		a.disarm()
	}
	if a.expectFeatures {
		if !el.Is(stream.NS, "features") && !el.Is(stream.NS, "error") {
			a.fail(&Error{
				Kind: ProtocolError,
				Op:   "features",
				Err:  fmt.Errorf("expected stream features, got %s", el.Name().Local),
			})
			return
		}
		a.expectFeatures = false
	}
	connected := a.state == Connected
	if a.c.mux.Dispatch(el, connected) == 0 && connected {
		if reply := mux.IQFallback(el); reply != nil {
			a.send(reply)
		}
	}
}

// send writes el from the loop and fails the connection if the transport
// rejects it.
func (a *attempt) send(el ...*stanza.Element) bool {
	tr := a.transport()
	if tr == nil {
		a.fail(&Error{Kind: TransportError, Op: "write", Err: transport.ErrClosed})
		return false
	}
	a.c.logOutput(el...)
	if err := tr.Send(el...); err != nil {
		a.fail(&Error{Kind: TransportError, Op: "write", Err: err})
		return false
	}
	return true
}

// expect sends req and calls f with the result or error IQ that answers it.
func (a *attempt) expect(req *stanza.Element, f func(*stanza.Element)) {
	id, _ := req.Attr("id")
	ref := a.c.mux.HandleFunc(mux.Matcher{
		Name:  "iq",
		ID:    id,
		Types: []string{string(stanza.ResultIQ), string(stanza.ErrorIQ)},
	}, func(el *stanza.Element) (bool, error) {
		f(el)
		return false, nil
	}, mux.System(), mux.Once())
	a.refs = append(a.refs, ref)
	if a.send(req) {
		a.arm()
	}
}

func (a *attempt) handleFeatures(el *stanza.Element) (bool, error) {
	if a.state == Connected {
		return true, nil
	}
	if !a.authn {
		a.authenticate(el)
	} else {
		a.bind(el)
	}
	return true, nil
}

func (a *attempt) handleStreamError(el *stanza.Element) (bool, error) {
	se, _ := stream.FromElement(el)
	a.fail(&Error{Kind: ProtocolError, Op: "stream", Condition: se.Err, Err: se})
	return true, nil
}

func (a *attempt) authenticate(features *stanza.Element) {
	mechs, ok := features.Child(ns.SASL, "mechanisms")
	if !ok {
		a.fail(&Error{Kind: ProtocolError, Op: "auth", Err: errNoSASL})
		return
	}
	var advertised []string
	for m := range mechs.Children(stanza.Named(ns.SASL, "mechanism")) {
		advertised = append(advertised, strings.TrimSpace(m.Text()))
	}
	mech, err := sasl.Select(advertised, a.creds, a.c.cfg.mechanisms)
	if err != nil {
		a.fail(&Error{Kind: NoCompatibleMechanism, Op: "auth", Err: err})
		return
	}

	a.setState(Authenticating, nil)
	a.log.WithField("mechanism", mech.Name).Debug("authenticating")
	a.client = sasl.NewClient(mech, a.creds)
	resp, err := a.client.Start()
	if err != nil {
		a.fail(saslError(err))
		return
	}
	auth := stanza.NewBuilder(xml.Name{Space: ns.SASL, Local: "auth"}).
		Attr("mechanism", mech.Name)
	if len(resp) == 0 {
		auth.T("=")
	} else {
		auth.T(base64.StdEncoding.EncodeToString(resp))
	}
	if a.send(auth.Element()) {
		a.arm()
	}
}

func (a *attempt) handleChallenge(el *stanza.Element) (bool, error) {
	if a.client == nil {
		a.fail(&Error{Kind: ProtocolError, Op: "auth", Err: errUnexpectedSASL})
		return true, nil
	}
	data, err := decodeSASL(el)
	if err != nil {
		a.fail(&Error{Kind: ParseError, Op: "auth", Err: err})
		return true, nil
	}
	resp, err := a.client.Challenge(data)
	if err != nil {
		a.fail(saslError(err))
		return true, nil
	}
	b := stanza.NewBuilder(xml.Name{Space: ns.SASL, Local: "response"})
	if len(resp) > 0 {
		b.T(base64.StdEncoding.EncodeToString(resp))
	}
	if a.send(b.Element()) {
		a.arm()
	}
	return true, nil
}

func (a *attempt) handleSuccess(el *stanza.Element) (bool, error) {
	if a.client == nil {
		a.fail(&Error{Kind: ProtocolError, Op: "auth", Err: errUnexpectedSASL})
		return true, nil
	}
	data, err := decodeSASL(el)
	if err != nil {
		a.fail(&Error{Kind: ParseError, Op: "auth", Err: err})
		return true, nil
	}
	if err := a.client.Success(data); err != nil {
		a.fail(saslError(err))
		return true, nil
	}
	a.client = nil
	a.authn = true
	a.setState(ResourceBinding, nil)

	if err := a.transport().Restart(); err != nil {
		a.fail(&Error{Kind: TransportError, Op: "restart", Err: err})
		return true, nil
	}
	a.arm()
	return true, nil
}

func (a *attempt) handleFailure(el *stanza.Element) (bool, error) {
	f := saslerr.FromElement(el, a.lang)
	a.client = nil
	a.fail(&Error{Kind: AuthRejected, Op: "auth", Condition: string(f.Condition), Err: f})
	return true, nil
}

func decodeSASL(el *stanza.Element) ([]byte, error) {
	text := strings.TrimSpace(el.Text())
	if text == "" || text == "=" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(text)
}

// saslError maps an error returned by the SASL client to the kind reported to
// the application.
func saslError(err error) *Error {
	var se *sasl.ServerError
	switch {
	case errors.Is(err, sasl.ErrServerSignature), errors.Is(err, sasl.ErrNonceMismatch):
		return &Error{Kind: ServerVerificationFailed, Op: "auth", Err: err}
	case errors.As(err, &se):
		return &Error{Kind: AuthRejected, Op: "auth", Condition: se.Value, Err: err}
	}
	return &Error{Kind: ProtocolError, Op: "auth", Err: err}
}

func (a *attempt) bind(features *stanza.Element) {
	if _, ok := features.Child(ns.Bind, "bind"); !ok {
		a.fail(&Error{Kind: ProtocolError, Op: "bind", Err: errNoBind})
		return
	}
	if sess, ok := features.Child(ns.Session, "session"); ok {
		_, optional := sess.Child(ns.Session, "optional")
		a.needSession = !optional
	}

	resource := a.c.cfg.resource
	if resource == "" {
		resource = a.addr.Resourcepart()
	}
	req := stanza.IQ(stanza.SetIQ, uuid.NewString()).
		C(xml.Name{Space: ns.Bind, Local: "bind"})
	if resource != "" {
		req.C(xml.Name{Space: ns.Bind, Local: "resource"}).T(resource)
	}
	a.expect(req.Element(), a.bound)
}

func (a *attempt) bound(iq *stanza.Element) {
	if typ, _ := iq.Attr("type"); typ == string(stanza.ErrorIQ) {
		se, _ := stanza.UnmarshalError(iq)
		a.fail(&Error{Kind: ProtocolError, Op: "bind", Condition: string(se.Condition), Err: se})
		return
	}
	var j string
	if b, ok := iq.Child(ns.Bind, "bind"); ok {
		if el, ok := b.Child(ns.Bind, "jid"); ok {
			j = strings.TrimSpace(el.Text())
		}
	}
	addr, err := jid.Parse(j)
	if err != nil {
		a.fail(&Error{Kind: ProtocolError, Op: "bind", Err: err})
		return
	}
	a.c.mu.Lock()
	a.c.addr = addr
	a.c.mu.Unlock()
	a.log.WithField("jid", addr.String()).Debug("resource bound")

	if !a.needSession {
		a.connected()
		return
	}
	req := stanza.IQ(stanza.SetIQ, uuid.NewString()).
		C(xml.Name{Space: ns.Session, Local: "session"}).
		Element()
	a.expect(req, a.sessionStarted)
}

func (a *attempt) sessionStarted(iq *stanza.Element) {
	if typ, _ := iq.Attr("type"); typ == string(stanza.ErrorIQ) {
		se, _ := stanza.UnmarshalError(iq)
		a.fail(&Error{Kind: ProtocolError, Op: "session", Condition: string(se.Condition), Err: se})
		return
	}
	a.connected()
}

func (a *attempt) connected() {
	a.disarm()
	a.setState(Connected, nil)
	a.log.Info("connected")
	a.finishConnect(nil)
}

func (a *attempt) closed(err error) {
	if a.finished {
		return
	}
	if err == nil && a.state == Connected {
		a.log.Info("stream closed by the server")
		a.teardown()
		a.setState(Disconnected, nil)
		a.finished = true
		return
	}
	if err == nil {
		err = errUnexpectedClose
	}
	e := &Error{Kind: TransportError, Op: "read", Err: err}
	var te *bosh.TerminateError
	if errors.As(err, &te) {
		e.Condition = te.Condition
	}
	a.fail(e)
}

// fail ends the attempt with e.
// The transport is released before the failure is reported.
func (a *attempt) fail(e *Error) {
	if a.finished {
		return
	}
	a.log.WithError(e).Warn("connection failed")
	a.teardown()
	a.setState(Failed, e)
	a.setState(Disconnected, nil)
	a.finished = true
	a.finishConnect(e)
}

func (a *attempt) disconnect(reason string, errc chan<- error) {
	if a.finished {
		errc <- nil
		return
	}
	prev := a.state
	a.disarm()
	a.setState(Disconnecting, nil)

	var err error
	if tr := a.transport(); tr != nil && prev >= StreamNegotiating {
		var pres *stanza.Element
		if prev == Connected {
			b := stanza.Presence(stanza.UnavailablePresence)
			if reason != "" {
				b.C(xml.Name{Space: ns.Client, Local: "status"}).T(reason)
			}
			pres = b.Element()
			a.c.logOutput(pres)
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.c.cfg.disconnectTimeout)
		err = tr.Disconnect(ctx, pres)
		cancel()
	}
	a.teardown()
	a.setState(Disconnected, nil)
	a.finished = true
	a.finishConnect(ErrCanceled)
	errc <- err
}

// teardown releases everything held by the attempt.
func (a *attempt) teardown() {
	a.disarm()
	for _, ref := range a.refs {
		a.c.mux.Remove(ref)
	}
	a.refs = nil
	a.c.mux.Reset()
	a.client = nil
	a.cancel()

	a.trMu.Lock()
	tr := a.tr
	a.trClosed = true
	a.trMu.Unlock()
	if tr != nil {
		/* #nosec */
		tr.Close()
	}
}
