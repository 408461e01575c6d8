// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmppclient/internal/ns"
)

// Builder constructs an element tree.
// The zero value is not usable; create one with NewBuilder or one of the
// stanza helpers.
type Builder struct {
	root  *Element
	stack []*Element
}

// NewBuilder returns a builder positioned on a new root element.
func NewBuilder(name xml.Name, attr ...xml.Attr) *Builder {
	root := &Element{name: name}
	for _, a := range attr {
		root.setAttr(a.Name, a.Value)
	}
	return &Builder{root: root, stack: []*Element{root}}
}

func (b *Builder) current() *Element {
	return b.stack[len(b.stack)-1]
}

// Attr sets an attribute on the current element, replacing any attribute with
// the same name.
func (b *Builder) Attr(local, value string) *Builder {
	b.current().setAttr(xml.Name{Local: local}, value)
	return b
}

// AttrNS is like Attr but sets a namespaced attribute.
func (b *Builder) AttrNS(space, local, value string) *Builder {
	b.current().setAttr(xml.Name{Space: space, Local: local}, value)
	return b
}

// C adds a child to the current element and moves to it.
// If name has no namespace the child inherits the namespace of its parent.
func (b *Builder) C(name xml.Name, attr ...xml.Attr) *Builder {
	parent := b.current()
	if name.Space == "" {
		name.Space = parent.name.Space
	}
	child := &Element{name: name}
	for _, a := range attr {
		child.setAttr(a.Name, a.Value)
	}
	parent.children = append(parent.children, child)
	b.stack = append(b.stack, child)
	return b
}

// T appends character data to the current element.
func (b *Builder) T(text string) *Builder {
	if text != "" {
		b.current().appendText(text)
	}
	return b
}

// Up moves to the parent of the current element.
// Calling Up on the root element does nothing.
func (b *Builder) Up() *Builder {
	if len(b.stack) > 1 {
		b.stack = b.stack[:len(b.stack)-1]
	}
	return b
}

// Append adds copies of existing elements as children of the current element.
func (b *Builder) Append(el ...*Element) *Builder {
	cur := b.current()
	for _, e := range el {
		if e == nil {
			continue
		}
		cur.children = append(cur.children, e.clone())
	}
	return b
}

// Element returns a copy of the built tree.
// Further changes to the builder are not reflected in the returned element.
func (b *Builder) Element() *Element {
	return b.root.clone()
}

func (e *Element) setAttr(name xml.Name, value string) {
	for i, a := range e.attr {
		if a.Name == name {
			e.attr[i].Value = value
			return
		}
	}
	e.attr = append(e.attr, xml.Attr{Name: name, Value: value})
}

// IQType is the type of an IQ stanza.
type IQType string

// A list of all possible values for the type attribute of an IQ.
const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// IQ returns a builder for an IQ stanza in the jabber:client namespace.
// If id is empty no id attribute is set.
func IQ(typ IQType, id string) *Builder {
	b := NewBuilder(xml.Name{Space: ns.Client, Local: "iq"}).Attr("type", string(typ))
	if id != "" {
		b.Attr("id", id)
	}
	return b
}

// MessageType is the type of a message stanza.
type MessageType string

const (
	// NormalMessage is a standalone message that is sent outside the context of
	// a one-to-one conversation or groupchat.
	NormalMessage MessageType = "normal"

	// ChatMessage represents a message sent in the context of a one-to-one chat
	// session.
	ChatMessage MessageType = "chat"

	// ErrorMessage is generated by an entity that experiences an error when
	// processing a message received from another entity.
	ErrorMessage MessageType = "error"

	// GroupChatMessage is sent in the context of a multi-user chat environment.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage is used to send alerts and notifications.
	HeadlineMessage MessageType = "headline"
)

// Message returns a builder for a message stanza in the jabber:client
// namespace.
func Message(typ MessageType) *Builder {
	b := NewBuilder(xml.Name{Space: ns.Client, Local: "message"})
	if typ != "" {
		b.Attr("type", string(typ))
	}
	return b
}

// PresenceType is the type of a presence stanza.
// It should normally be one of the constants defined in this package.
type PresenceType string

const (
	// AvailablePresence is a special case that signals that the entity is
	// available for communication.
	AvailablePresence PresenceType = ""

	// ErrorPresence indicates that an error has occurred regarding processing of
	// a previously sent presence stanza.
	ErrorPresence PresenceType = "error"

	// ProbePresence is a request for an entity's current presence.
	ProbePresence PresenceType = "probe"

	// SubscribePresence is sent when the sender wishes to subscribe to the
	// recipient's presence.
	SubscribePresence PresenceType = "subscribe"

	// SubscribedPresence indicates that the sender has allowed the recipient to
	// receive future presence broadcasts.
	SubscribedPresence PresenceType = "subscribed"

	// UnavailablePresence indicates that the sender is no longer available for
	// communication.
	UnavailablePresence PresenceType = "unavailable"

	// UnsubscribePresence indicates that the sender is unsubscribing from the
	// receiver's presence.
	UnsubscribePresence PresenceType = "unsubscribe"

	// UnsubscribedPresence indicates that the subscription request has been
	// denied, or a previously granted subscription has been revoked.
	UnsubscribedPresence PresenceType = "unsubscribed"
)

// Presence returns a builder for a presence stanza in the jabber:client
// namespace.
func Presence(typ PresenceType) *Builder {
	b := NewBuilder(xml.Name{Space: ns.Client, Local: "presence"})
	if typ != AvailablePresence {
		b.Attr("type", string(typ))
	}
	return b
}
