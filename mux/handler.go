// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"time"

	"mellium.im/xmppclient/stanza"
)

// Handler responds to a top level stream element.
//
// If keep is false the handler is removed from the ServeMux and will not be
// called again.
// A non-nil error is reported but does not remove the handler on its own.
type Handler interface {
	HandleElement(el *stanza.Element) (keep bool, err error)
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions as
// handlers.
// If f is a function with the appropriate signature, HandlerFunc(f) is a
// Handler that calls f.
type HandlerFunc func(el *stanza.Element) (keep bool, err error)

// HandleElement calls f(el).
func (f HandlerFunc) HandleElement(el *stanza.Element) (bool, error) {
	return f(el)
}

// TimedFunc is called periodically by RunTimed.
// Returning false removes it.
type TimedFunc func() (keep bool)

// Ref identifies a registered handler.
// The zero value never refers to a handler.
type Ref uint64

// HandlerOption configures a single registration.
type HandlerOption func(*flags)

type flags struct {
	once       bool
	system     bool
	persistent bool
}

// Once removes the handler after its first invocation regardless of its return
// value.
func Once() HandlerOption {
	return func(f *flags) {
		f.once = true
	}
}

// System marks a handler as internal to the connection.
// System handlers run before the stream is authenticated and survive Reset.
func System() HandlerOption {
	return func(f *flags) {
		f.system = true
	}
}

// Persistent marks a user handler as surviving Reset.
// It still does not run before the stream is authenticated.
func Persistent() HandlerOption {
	return func(f *flags) {
		f.persistent = true
	}
}

type entry struct {
	ref   Ref
	match Matcher
	h     Handler
	flags
}

type timedEntry struct {
	ref      Ref
	interval time.Duration
	f        TimedFunc
	last     time.Time
	flags
}
