// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"slices"
	"strings"

	"mellium.im/xmppclient/stanza"
)

// Matcher selects the elements a handler is interested in.
// Every field is optional and an empty field matches anything.
type Matcher struct {
	// NS matches the namespace of the element or the namespace of any of its
	// direct children (for example the payload of an IQ).
	NS string

	// Name matches the local name of the element.
	Name string

	// Types matches the type attribute against any of the listed values.
	Types []string

	// ID matches the id attribute.
	ID string

	// From matches the from attribute.
	// If MatchBareFrom is set only the bare part of the from attribute is
	// compared.
	From          string
	MatchBareFrom bool

	// IgnoreNSFragment strips any "#fragment" from namespaces before comparing
	// them against NS.
	IgnoreNSFragment bool
}

// Match reports whether el satisfies every field of m.
func (m Matcher) Match(el *stanza.Element) bool {
	if el == nil {
		return false
	}
	if m.Name != "" && el.Name().Local != m.Name {
		return false
	}
	if m.NS != "" && !m.matchNS(el) {
		return false
	}
	if len(m.Types) > 0 {
		typ, _ := el.Attr("type")
		if !slices.Contains(m.Types, typ) {
			return false
		}
	}
	if m.ID != "" {
		if id, _ := el.Attr("id"); id != m.ID {
			return false
		}
	}
	if m.From != "" {
		from, _ := el.Attr("from")
		want := m.From
		if m.MatchBareFrom {
			from, want = bare(from), bare(want)
		}
		if from != want {
			return false
		}
	}
	return true
}

func (m Matcher) matchNS(el *stanza.Element) bool {
	want := m.namespace(m.NS)
	if m.namespace(el.Name().Space) == want {
		return true
	}
	for child := range el.Children(nil) {
		if m.namespace(child.Name().Space) == want {
			return true
		}
	}
	return false
}

func (m Matcher) namespace(space string) string {
	if m.IgnoreNSFragment {
		space, _, _ = strings.Cut(space, "#")
	}
	return space
}

func bare(addr string) string {
	addr, _, _ = strings.Cut(addr, "/")
	return addr
}
