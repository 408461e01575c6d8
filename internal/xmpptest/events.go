// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"sync"
	"testing"
	"time"

	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
	"mellium.im/xmppclient/transport"
)

// Timeout bounds every wait done by the helpers in this package.
const Timeout = 5 * time.Second

// Recorder is a transport.Events that records everything it receives.
type Recorder struct {
	mu     sync.Mutex
	errs   []error
	opens  chan stream.Info
	els    chan *stanza.Element
	closed chan error
}

var _ transport.Events = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		opens:  make(chan stream.Info, 16),
		els:    make(chan *stanza.Element, 256),
		closed: make(chan error, 1),
	}
}

// StreamOpen implements transport.Events.
func (r *Recorder) StreamOpen(info stream.Info) { r.opens <- info }

// Element implements transport.Events.
func (r *Recorder) Element(el *stanza.Element) { r.els <- el }

// Error implements transport.Events.
func (r *Recorder) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Closed implements transport.Events.
// It fails the test that is waiting for it if called more than once.
func (r *Recorder) Closed(err error) {
	select {
	case r.closed <- err:
	default:
		panic("xmpptest: Closed called more than once")
	}
}

// Errors returns the non-fatal errors reported so far.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Open waits for the next stream to be opened.
func (r *Recorder) Open(t testing.TB) stream.Info {
	t.Helper()
	select {
	case info := <-r.opens:
		return info
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for the stream to open")
	}
	return stream.Info{}
}

// Next waits for the next element.
func (r *Recorder) Next(t testing.TB) *stanza.Element {
	t.Helper()
	select {
	case el := <-r.els:
		return el
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for an element")
	}
	return nil
}

// NextMatch waits for the next element that satisfies match, discarding any
// others.
func (r *Recorder) NextMatch(t testing.TB, match func(*stanza.Element) bool) *stanza.Element {
	t.Helper()
	for {
		if el := r.Next(t); match(el) {
			return el
		}
	}
}

// WaitClosed waits for the transport to report that it stopped.
func (r *Recorder) WaitClosed(t testing.TB) error {
	t.Helper()
	select {
	case err := <-r.closed:
		return err
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for the transport to close")
	}
	return nil
}

// ClosedNow reports whether Closed was already called and with what error.
func (r *Recorder) ClosedNow() (closed bool, err error) {
	select {
	case err = <-r.closed:
		return true, err
	default:
		return false, nil
	}
}
