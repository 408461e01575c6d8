// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/jid"
	"mellium.im/xmppclient/stanza"
)

// Info contains metadata extracted from a stream header.
// Over WebSocket this is the <open/> element, over BOSH it is the session
// creation response.
type Info struct {
	ID      string
	From    jid.JID
	Version Version
	Lang    string
}

// FromElement sets the data in Info from the provided stream header.
// Unknown attributes are ignored.
func (i *Info) FromElement(el *stanza.Element) error {
	if from, ok := el.Attr("from"); ok && from != "" {
		j, err := jid.Parse(from)
		if err != nil {
			return ImproperAddressing
		}
		i.From = j
	}
	if id, ok := el.Attr("id"); ok {
		i.ID = id
	}
	if v, ok := el.Attr("version"); ok {
		version, err := ParseVersion(v)
		if err != nil {
			return BadFormat
		}
		if version.Less(DefaultVersion) || version.Major > DefaultVersion.Major {
			return UnsupportedVersion
		}
		i.Version = version
	}
	if lang, ok := el.AttrNS(ns.XML, "lang"); ok {
		i.Lang = lang
	}
	return nil
}
