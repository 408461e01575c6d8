// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"mellium.im/xmppclient/stanza"
)

// IQFallback returns the error reply that should be sent when no handler
// answered an IQ of type get or set.
// For any other element it returns nil.
func IQFallback(el *stanza.Element) *stanza.Element {
	if !el.Is("", "iq") {
		return nil
	}
	typ, _ := el.Attr("type")
	if typ != string(stanza.GetIQ) && typ != string(stanza.SetIQ) {
		return nil
	}

	id, _ := el.Attr("id")
	reply := stanza.IQ(stanza.ErrorIQ, id)
	if from, ok := el.Attr("from"); ok {
		reply.Attr("to", from)
	}
	if to, ok := el.Attr("to"); ok {
		reply.Attr("from", to)
	}
	return reply.Append(stanza.Error{
		Type:      stanza.Cancel,
		Condition: stanza.ServiceUnavailable,
	}.Element()).Element()
}
