// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"iter"
	"strings"

	"mellium.im/xmppclient/internal/ns"
)

// Node is a child of an Element.
// It is always either an *Element or a Text.
type Node interface {
	node()
}

// Text is a run of character data inside an element.
type Text string

func (Text) node() {}

// Element is an XML element with its namespace resolved.
// Attributes keep the order in which they were parsed or constructed and the
// namespace declarations that appeared on the wire are not retained as
// attributes (they are regenerated when the element is serialized).
type Element struct {
	name     xml.Name
	attr     []xml.Attr
	children []Node
}

func (*Element) node() {}

// Name returns the fully qualified name of the element.
func (e *Element) Name() xml.Name {
	return e.name
}

// Is reports whether the element has the given local name and namespace.
// An empty space matches any namespace.
func (e *Element) Is(space, local string) bool {
	return e != nil && e.name.Local == local && (space == "" || e.name.Space == space)
}

// Attr returns the value of the attribute with the given local name and no
// namespace.
// If the attribute is not present ok is false, distinguishing it from an
// attribute that is present but empty.
func (e *Element) Attr(local string) (value string, ok bool) {
	return e.AttrNS("", local)
}

// AttrNS is like Attr except that it matches a namespaced attribute.
func (e *Element) AttrNS(space, local string) (value string, ok bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.attr {
		if a.Name.Local == local && a.Name.Space == space {
			return a.Value, true
		}
	}
	return "", false
}

// Attrs returns a copy of the attribute list.
func (e *Element) Attrs() []xml.Attr {
	attrs := make([]xml.Attr, len(e.attr))
	copy(attrs, e.attr)
	return attrs
}

// Lang returns the xml:lang attribute of the element, if any.
func (e *Element) Lang() (string, bool) {
	return e.AttrNS(ns.XML, "lang")
}

// Nodes returns an iterator over the direct children of the element including
// text runs.
func (e *Element) Nodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		if e == nil {
			return
		}
		for _, n := range e.children {
			if !yield(n) {
				return
			}
		}
	}
}

// Children returns an iterator over the direct child elements that satisfy
// match.
// A nil match yields every child element.
// The sequence is finite and may be iterated more than once.
func (e *Element) Children(match func(*Element) bool) iter.Seq[*Element] {
	return func(yield func(*Element) bool) {
		if e == nil {
			return
		}
		for _, n := range e.children {
			child, ok := n.(*Element)
			if !ok || (match != nil && !match(child)) {
				continue
			}
			if !yield(child) {
				return
			}
		}
	}
}

// Child returns the first direct child with the given name.
// An empty space matches any namespace.
func (e *Element) Child(space, local string) (*Element, bool) {
	for child := range e.Children(Named(space, local)) {
		return child, true
	}
	return nil, false
}

// Named returns a filter for Children that matches elements by name.
// An empty space matches any namespace.
func Named(space, local string) func(*Element) bool {
	return func(e *Element) bool {
		return e.Is(space, local)
	}
}

// Text returns the concatenated character data of the direct children of the
// element.
func (e *Element) Text() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	for _, n := range e.children {
		if t, ok := n.(Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// Len returns the number of direct children (text runs included).
func (e *Element) Len() int {
	if e == nil {
		return 0
	}
	return len(e.children)
}

// Equal reports whether two elements are structurally equal: same name,
// same attributes in the same order, and equal children.
func Equal(a, b *Element) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.name != b.name || len(a.attr) != len(b.attr) || len(a.children) != len(b.children) {
		return false
	}
	for i, attr := range a.attr {
		if b.attr[i] != attr {
			return false
		}
	}
	for i, n := range a.children {
		switch an := n.(type) {
		case Text:
			bn, ok := b.children[i].(Text)
			if !ok || an != bn {
				return false
			}
		case *Element:
			bn, ok := b.children[i].(*Element)
			if !ok || !Equal(an, bn) {
				return false
			}
		}
	}
	return true
}

// Renamespace returns a copy of el in which every element in the namespace from
// has been moved to the namespace to.
func Renamespace(el *Element, from, to string) *Element {
	c := &Element{
		name: el.name,
		attr: el.Attrs(),
	}
	if c.name.Space == from {
		c.name.Space = to
	}
	for _, n := range el.children {
		if child, ok := n.(*Element); ok {
			n = Renamespace(child, from, to)
		}
		c.children = append(c.children, n)
	}
	return c
}

func (e *Element) appendText(s string) {
	if l := len(e.children); l > 0 {
		if t, ok := e.children[l-1].(Text); ok {
			e.children[l-1] = t + Text(s)
			return
		}
	}
	e.children = append(e.children, Text(s))
}

func (e *Element) clone() *Element {
	c := &Element{
		name: e.name,
		attr: e.Attrs(),
	}
	if len(e.children) > 0 {
		c.children = make([]Node, 0, len(e.children))
	}
	for _, n := range e.children {
		if child, ok := n.(*Element); ok {
			c.children = append(c.children, child.clone())
			continue
		}
		c.children = append(c.children, n)
	}
	return c
}
