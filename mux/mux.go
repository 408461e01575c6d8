// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package mux implements an XMPP multiplexer.
//
// A ServeMux holds an ordered list of handlers, each guarded by a Matcher, and
// a list of timed handlers that are run periodically.
// Every element passed to Dispatch is offered to every matching handler in
// registration order.
package mux // import "mellium.im/xmppclient/mux"

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/xmppclient/stanza"
)

// ErrorHandler is called with the handler that failed and the error that it
// returned (or the value it panicked with).
type ErrorHandler func(ref Ref, err error)

// Option configures a ServeMux.
type Option func(m *ServeMux)

// Logger sets the logger used to report handler failures.
func Logger(l logrus.FieldLogger) Option {
	return func(m *ServeMux) {
		m.log = l
	}
}

// OnError sets a function that is called when a handler fails, in addition to
// the failure being logged.
func OnError(f ErrorHandler) Option {
	return func(m *ServeMux) {
		m.onError = f
	}
}

// Clock sets the function used to read the current time when registering
// timed handlers.
func Clock(now func() time.Time) Option {
	return func(m *ServeMux) {
		m.now = now
	}
}

// ServeMux is an XMPP stream multiplexer.
// It is safe for concurrent use, and handlers may register or remove handlers
// from within a callback.
type ServeMux struct {
	mu      sync.Mutex
	next    Ref
	entries []*entry
	timed   []*timedEntry

	log     logrus.FieldLogger
	onError ErrorHandler
	now     func() time.Time
}

// New allocates and returns a new ServeMux.
func New(opt ...Option) *ServeMux {
	m := &ServeMux{now: time.Now}
	for _, o := range opt {
		o(m)
	}
	if m.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		m.log = l
	}
	return m
}

// Handle registers h to be called for every element matched by match.
// If h is nil, Handle panics.
func (m *ServeMux) Handle(match Matcher, h Handler, opt ...HandlerOption) Ref {
	if h == nil {
		panic("mux: nil handler")
	}
	e := &entry{match: match, h: h}
	for _, o := range opt {
		o(&e.flags)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	e.ref = m.next
	m.entries = append(m.entries, e)
	return e.ref
}

// HandleFunc registers f to be called for every element matched by match.
func (m *ServeMux) HandleFunc(match Matcher, f HandlerFunc, opt ...HandlerOption) Ref {
	if f == nil {
		panic("mux: nil handler")
	}
	return m.Handle(match, f, opt...)
}

// Remove unregisters the handler identified by ref.
// It reports whether a handler was removed.
func (m *ServeMux) Remove(ref Ref) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := len(m.entries)
	m.entries = slices.DeleteFunc(m.entries, func(e *entry) bool { return e.ref == ref })
	return len(m.entries) != l
}

// Len returns the number of registered (non-timed) handlers.
func (m *ServeMux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Dispatch offers el to every matching handler in registration order and
// returns the number of handlers that were called.
//
// The set of handlers considered is fixed when Dispatch is called: handlers
// added or removed by a callback take effect on the next call.
// Until authenticated is true only system handlers are considered.
func (m *ServeMux) Dispatch(el *stanza.Element, authenticated bool) int {
	m.mu.Lock()
	snapshot := slices.Clone(m.entries)
	m.mu.Unlock()

	var (
		called int
		remove []Ref
	)
	for _, e := range snapshot {
		if !e.system && !authenticated {
			continue
		}
		if !e.match.Match(el) {
			continue
		}
		called++
		keep, err := m.call(e, el)
		if err != nil {
			m.report(e.ref, err)
		}
		if !keep || e.once {
			remove = append(remove, e.ref)
		}
	}
	if len(remove) > 0 {
		m.mu.Lock()
		m.entries = slices.DeleteFunc(m.entries, func(e *entry) bool {
			return slices.Contains(remove, e.ref)
		})
		m.mu.Unlock()
	}
	return called
}

func (m *ServeMux) call(e *entry, el *stanza.Element) (keep bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			keep = true
			err = fmt.Errorf("mux: handler panicked: %v", r)
		}
	}()
	return e.h.HandleElement(el)
}

func (m *ServeMux) report(ref Ref, err error) {
	m.log.WithError(err).WithField("handler", uint64(ref)).Warn("handler failed")
	if m.onError != nil {
		m.onError(ref, err)
	}
}

// Reset removes every handler that is neither a system handler nor persistent.
// It is called when a connection is torn down.
func (m *ServeMux) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = slices.DeleteFunc(m.entries, func(e *entry) bool {
		return !e.system && !e.persistent
	})
	m.timed = slices.DeleteFunc(m.timed, func(e *timedEntry) bool {
		return !e.system && !e.persistent
	})
}
