// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"io"
	"strconv"

	"mellium.im/xmlstream"

	"mellium.im/xmppclient/internal/ns"
)

// Prefixes used for namespaced attributes so that serialization is stable.
var wellKnownPrefix = map[string]string{
	ns.Stream: "stream",
	ns.XBOSH:  "xmpp",
}

// WriteTo writes the wire form of the element to w.
func (e *Element) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: bufio.NewWriter(w)}
	e.write(cw, "", nil)
	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, cw.w.Flush()
}

// MarshalText returns the wire form of the element.
func (e *Element) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	_, err := e.WriteTo(&buf)
	return buf.Bytes(), err
}

// String returns the wire form of the element.
func (e *Element) String() string {
	b, _ := e.MarshalText()
	return string(b)
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (e *Element) TokenReader() xml.TokenReader {
	inner := make([]xml.TokenReader, 0, len(e.children))
	for _, n := range e.children {
		switch c := n.(type) {
		case Text:
			inner = append(inner, xmlstream.Token(xml.CharData(c)))
		case *Element:
			inner = append(inner, c.TokenReader())
		}
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(inner...),
		xml.StartElement{Name: e.name, Attr: e.Attrs()},
	)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (e *Element) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface.
func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	if err != nil {
		return err
	}
	return enc.Flush()
}

// write serializes e given the default namespace and the attribute prefixes
// in scope on its parent.
func (e *Element) write(w *countWriter, defaultNS string, prefixes map[string]string) {
	w.str("<")
	w.str(e.name.Local)
	if e.name.Space != defaultNS {
		w.str(` xmlns="`)
		w.escape(e.name.Space)
		w.str(`"`)
	}

	var scope map[string]string
	for _, a := range e.attr {
		switch a.Name.Space {
		case "":
			w.str(" ")
		case ns.XML:
			w.str(" xml:")
		default:
			prefix, ok := prefixes[a.Name.Space]
			if !ok {
				prefix, ok = scope[a.Name.Space]
			}
			if !ok {
				if scope == nil {
					scope = make(map[string]string, len(prefixes)+1)
					for k, v := range prefixes {
						scope[k] = v
					}
				}
				prefix = newPrefix(a.Name.Space, scope)
				scope[a.Name.Space] = prefix
				w.str(" xmlns:")
				w.str(prefix)
				w.str(`="`)
				w.escape(a.Name.Space)
				w.str(`"`)
			}
			w.str(" ")
			w.str(prefix)
			w.str(":")
		}
		w.str(a.Name.Local)
		w.str(`="`)
		w.escape(a.Value)
		w.str(`"`)
	}
	if scope != nil {
		prefixes = scope
	}

	if len(e.children) == 0 {
		w.str("/>")
		return
	}
	w.str(">")
	for _, n := range e.children {
		switch c := n.(type) {
		case Text:
			w.escape(string(c))
		case *Element:
			c.write(w, e.name.Space, prefixes)
		}
	}
	w.str("</")
	w.str(e.name.Local)
	w.str(">")
}

func newPrefix(space string, inUse map[string]string) string {
	taken := func(p string) bool {
		for _, v := range inUse {
			if v == p {
				return true
			}
		}
		return false
	}
	if p, ok := wellKnownPrefix[space]; ok && !taken(p) {
		return p
	}
	for i := 1; ; i++ {
		p := "ns" + strconv.Itoa(i)
		if !taken(p) {
			return p
		}
	}
}

type countWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (w *countWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	w.err = err
	return n, err
}

func (w *countWriter) str(s string) {
	if w.err != nil {
		return
	}
	n, err := w.w.WriteString(s)
	w.n += int64(n)
	w.err = err
}

func (w *countWriter) escape(s string) {
	if w.err != nil {
		return
	}
	// EscapeText only fails if the underlying writer does.
	_ = xml.EscapeText(w, []byte(s))
}
