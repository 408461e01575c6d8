// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"fmt"
	"slices"
	"time"
)

// HandleTimed registers f to be called every interval by RunTimed.
// The interval starts counting from the time of registration.
// If f is nil or interval is not positive, HandleTimed panics.
func (m *ServeMux) HandleTimed(interval time.Duration, f TimedFunc, opt ...HandlerOption) Ref {
	if f == nil {
		panic("mux: nil timed handler")
	}
	if interval <= 0 {
		panic("mux: non-positive interval for timed handler")
	}
	e := &timedEntry{interval: interval, f: f}
	for _, o := range opt {
		o(&e.flags)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.last = m.now()
	m.next++
	e.ref = m.next
	m.timed = append(m.timed, e)
	return e.ref
}

// RemoveTimed unregisters the timed handler identified by ref.
// It reports whether a handler was removed.
func (m *ServeMux) RemoveTimed(ref Ref) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := len(m.timed)
	m.timed = slices.DeleteFunc(m.timed, func(e *timedEntry) bool { return e.ref == ref })
	return len(m.timed) != l
}

// RunTimed calls every timed handler whose interval has elapsed since it last
// fired (or since it was registered).
// User handlers are skipped, without resetting their interval, until
// authenticated is true.
// It returns the number of handlers that were called.
func (m *ServeMux) RunTimed(now time.Time, authenticated bool) int {
	m.mu.Lock()
	var due []*timedEntry
	for _, e := range m.timed {
		if !e.system && !authenticated {
			continue
		}
		if now.Sub(e.last) < e.interval {
			continue
		}
		e.last = now
		due = append(due, e)
	}
	m.mu.Unlock()

	var remove []Ref
	for _, e := range due {
		if !m.callTimed(e) || e.once {
			remove = append(remove, e.ref)
		}
	}
	if len(remove) > 0 {
		m.mu.Lock()
		m.timed = slices.DeleteFunc(m.timed, func(e *timedEntry) bool {
			return slices.Contains(remove, e.ref)
		})
		m.mu.Unlock()
	}
	return len(due)
}

func (m *ServeMux) callTimed(e *timedEntry) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			keep = true
			m.report(e.ref, fmt.Errorf("mux: timed handler panicked: %v", r))
		}
	}()
	return e.f()
}
