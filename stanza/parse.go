// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseError is returned when wire data is not a single well formed element.
// No partial tree is ever returned alongside a ParseError.
type ParseError struct {
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stanza: parse error at offset %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Errors returned while parsing.
var (
	errMultipleRoots = errors.New("more than one root element")
	errNoRoot        = errors.New("no root element")
	errDirective     = errors.New("directives are not allowed")
	errStrayText     = errors.New("character data outside of the root element")
)

// Parse parses exactly one element from b.
// Leading XML declarations, comments, and whitespace are ignored, as are
// trailing comments and whitespace.
func Parse(b []byte) (*Element, error) {
	return parse(bytes.NewReader(b))
}

// ParseString is like Parse but takes a string.
func ParseString(s string) (*Element, error) {
	return parse(strings.NewReader(s))
}

func parse(r io.Reader) (*Element, error) {
	d := xml.NewDecoder(r)
	var root *Element
	for {
		tok, err := d.Token()
		if err == io.EOF {
			if root == nil {
				return nil, &ParseError{Offset: d.InputOffset(), Err: errNoRoot}
			}
			return root, nil
		}
		if err != nil {
			return nil, &ParseError{Offset: d.InputOffset(), Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil {
				return nil, &ParseError{Offset: d.InputOffset(), Err: errMultipleRoots}
			}
			root, err = Decode(d, t)
			if err != nil {
				return nil, &ParseError{Offset: d.InputOffset(), Err: err}
			}
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return nil, &ParseError{Offset: d.InputOffset(), Err: errStrayText}
			}
		case xml.Directive:
			return nil, &ParseError{Offset: d.InputOffset(), Err: errDirective}
		}
	}
}

// Decode builds an element from the tokens that follow start, consuming the
// reader up to and including the matching end element.
// Comments and processing instructions inside the element are dropped and
// adjacent character data is merged.
func Decode(r xml.TokenReader, start xml.StartElement) (*Element, error) {
	root := newElement(start)
	stack := []*Element{root}
	for len(stack) > 0 {
		tok, err := r.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			child := newElement(t)
			top.children = append(top.children, child)
			stack = append(stack, child)
		case xml.EndElement:
			if t.Name.Local != top.name.Local {
				return nil, fmt.Errorf("stanza: unexpected end element </%s>", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			top.appendText(string(t))
		case xml.Directive:
			return nil, errDirective
		}
	}
	return root, nil
}

// UnmarshalXML satisfies the xml.Unmarshaler interface.
func (e *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	el, err := Decode(d, start)
	if err != nil {
		return err
	}
	*e = *el
	return nil
}

func newElement(start xml.StartElement) *Element {
	el := &Element{name: start.Name}
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		el.attr = append(el.attr, a)
	}
	return el
}
