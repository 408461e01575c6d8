// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"context"
	"errors"
	"sync"

	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
	"mellium.im/xmppclient/transport"
)

// Transport is an in-process transport.Transport connected directly to a
// Server.
// Events are delivered from a single goroutine in the order the server
// produced them.
type Transport struct {
	srv *Server

	mu     sync.Mutex
	sess   *Session
	ev     transport.Events
	sent   []*stanza.Element
	queue  []func(transport.Events)
	wake   chan struct{}
	closed bool
	used   bool

	evMu    sync.Mutex
	stopped bool
	quit    chan struct{}
	once    sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport returns a transport that talks to srv.
func NewTransport(srv *Server) *Transport {
	return &Transport{
		srv:  srv,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

// Sent returns every element the client sent so far.
func (t *Transport) Sent() []*stanza.Element {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*stanza.Element(nil), t.sent...)
}

// Connect implements transport.Transport.
func (t *Transport) Connect(_ context.Context, domain string, ev transport.Events) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.used {
		return errors.New("xmpptest: transport already used")
	}
	if domain != t.srv.domain {
		return errors.New("xmpptest: unknown domain " + domain)
	}
	t.used = true
	t.ev = ev
	t.sess = t.srv.NewSession()
	go t.run()
	t.open()
	return nil
}

// open queues a new stream header and its features.
// t.mu must be held.
func (t *Transport) open() {
	info, features := t.sess.Open()
	t.post(func(ev transport.Events) {
		ev.StreamOpen(info)
		ev.Element(features)
	})
}

// post queues f to be called on the event goroutine with t.evMu held.
// t.mu must be held.
func (t *Transport) post(f func(transport.Events)) {
	t.queue = append(t.queue, f)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Send implements transport.Transport.
func (t *Transport) Send(el ...*stanza.Element) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.used {
		return transport.ErrClosed
	}
	for _, e := range el {
		t.sent = append(t.sent, e)
		for _, reply := range t.sess.Handle(e) {
			t.post(func(ev transport.Events) { ev.Element(reply) })
			if reply.Is(stream.NS, "error") {
				t.finish(nil)
				return nil
			}
		}
	}
	return nil
}

// Restart implements transport.Transport.
func (t *Transport) Restart() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.used {
		return transport.ErrClosed
	}
	t.open()
	return nil
}

// Disconnect implements transport.Transport.
func (t *Transport) Disconnect(_ context.Context, pres *stanza.Element) error {
	t.mu.Lock()
	if t.closed || !t.used {
		t.mu.Unlock()
		return t.Close()
	}
	if pres != nil {
		t.sent = append(t.sent, pres)
	}
	t.finish(nil)
	t.mu.Unlock()
	return nil
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.evMu.Lock()
	t.stopped = true
	t.evMu.Unlock()

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.once.Do(func() { close(t.quit) })
	return nil
}

// Abort drops the connection as if the network failed.
func (t *Transport) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.finish(transport.ErrAbnormalClose)
}

// finish queues the final Closed event.
// t.mu must be held.
func (t *Transport) finish(err error) {
	t.closed = true
	t.post(func(ev transport.Events) {
		ev.Closed(err)
		t.stopped = true
	})
}

// Inject delivers el to the client as if the server had sent it.
func (t *Transport) Inject(el *stanza.Element) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.post(func(ev transport.Events) { ev.Element(el) })
}

func (t *Transport) run() {
	for {
		select {
		case <-t.quit:
			return
		case <-t.wake:
		}
		t.mu.Lock()
		queue := t.queue
		t.queue = nil
		t.mu.Unlock()

		for _, f := range queue {
			t.evMu.Lock()
			if t.stopped {
				t.evMu.Unlock()
				return
			}
			f(t.ev)
			stopped := t.stopped
			t.evMu.Unlock()
			if stopped {
				return
			}
		}
	}
}
