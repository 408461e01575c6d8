// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package jid

import (
	"bytes"
	"encoding/xml"
	"errors"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// Errors returned when a JID fails validation.
var (
	ErrInvalidUTF8    = errors.New("jid: address contains invalid UTF-8")
	ErrEmptyLocal     = errors.New("jid: the localpart must be larger than 0 bytes")
	ErrEmptyResource  = errors.New("jid: the resourcepart must be larger than 0 bytes")
	ErrLongLocal      = errors.New("jid: the localpart must be smaller than 1024 bytes")
	ErrLongResource   = errors.New("jid: the resourcepart must be smaller than 1024 bytes")
	ErrDomainLen      = errors.New("jid: the domainpart must be between 1 and 1023 bytes")
	ErrForbiddenLocal = errors.New("jid: localpart contains forbidden characters")
	ErrInvalidIP6     = errors.New("jid: domainpart is not a valid IPv6 address")
)

// JID represents an XMPP address comprising a localpart, domainpart, and
// resourcepart.
// All parts of a JID are valid UTF-8 in their canonical form so that two JIDs
// may be compared octet for octet.
type JID struct {
	locallen  int
	domainlen int
	data      []byte
}

// Parse constructs a new JID from the given string representation.
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	return New(localpart, domainpart, resourcepart)
}

// MustParse is like Parse but panics if the JID cannot be parsed.
// It simplifies safe initialization of JIDs from known-good constant strings.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		if strconv.CanBackquote(s) {
			s = "`" + s + "`"
		} else {
			s = strconv.Quote(s)
		}
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) {
		return JID{}, ErrInvalidUTF8
	}

	// RFC 7622 §3.2.1: A-labels are converted to U-labels during preparation of
	// the domainpart.
	domainpart, err := idna.ToUnicode(domainpart)
	if err != nil {
		return JID{}, err
	}
	if !utf8.ValidString(domainpart) {
		return JID{}, ErrInvalidUTF8
	}

	var locallen int
	data := make([]byte, 0, len(localpart)+len(domainpart)+len(resourcepart))
	if localpart != "" {
		data, err = precis.UsernameCaseMapped.Append(data, []byte(localpart))
		if err != nil {
			return JID{}, err
		}
		locallen = len(data)
	}
	data = append(data, domainpart...)
	if resourcepart != "" {
		data, err = precis.OpaqueString.Append(data, []byte(resourcepart))
		if err != nil {
			return JID{}, err
		}
	}

	err = commonChecks(data[:locallen], domainpart, data[locallen+len(domainpart):])
	if err != nil {
		return JID{}, err
	}
	return JID{
		locallen:  locallen,
		domainlen: len(domainpart),
		data:      data,
	}, nil
}

// WithResource returns a copy of the JID with a new resourcepart.
// This elides validation of the localpart and domainpart.
func (j JID) WithResource(resourcepart string) (JID, error) {
	bare := j.Bare()
	if resourcepart == "" {
		return bare, nil
	}
	if !utf8.ValidString(resourcepart) {
		return JID{}, ErrInvalidUTF8
	}
	data := make([]byte, len(bare.data), len(bare.data)+len(resourcepart))
	copy(data, bare.data)
	data, err := precis.OpaqueString.Append(data, []byte(resourcepart))
	if err != nil {
		return JID{}, err
	}
	if len(data)-len(bare.data) > 1023 {
		return JID{}, ErrLongResource
	}
	bare.data = data
	return bare, nil
}

// Bare returns a copy of the JID without a resourcepart.
// This is sometimes called a "bare" JID.
func (j JID) Bare() JID {
	return JID{
		locallen:  j.locallen,
		domainlen: j.domainlen,
		data:      j.data[:j.domainlen+j.locallen:j.domainlen+j.locallen],
	}
}

// Domain returns a copy of the JID without a resourcepart or localpart.
func (j JID) Domain() JID {
	return JID{
		domainlen: j.domainlen,
		data:      j.data[j.locallen : j.domainlen+j.locallen : j.domainlen+j.locallen],
	}
}

// Localpart gets the localpart of a JID (eg "username").
func (j JID) Localpart() string {
	return string(j.data[:j.locallen])
}

// Domainpart gets the domainpart of a JID (eg. "example.net").
func (j JID) Domainpart() string {
	return string(j.data[j.locallen : j.locallen+j.domainlen])
}

// Resourcepart gets the resourcepart of a JID.
func (j JID) Resourcepart() string {
	return string(j.data[j.locallen+j.domainlen:])
}

// Network satisfies the net.Addr interface by returning the name of the network
// ("xmpp").
func (JID) Network() string {
	return "xmpp"
}

// String converts an JID to its string representation.
func (j JID) String() string {
	var b strings.Builder
	b.Grow(len(j.data) + 2)
	if j.locallen > 0 {
		b.Write(j.data[:j.locallen])
		b.WriteByte('@')
	}
	b.Write(j.data[j.locallen : j.locallen+j.domainlen])
	if len(j.data) > j.locallen+j.domainlen {
		b.WriteByte('/')
		b.Write(j.data[j.locallen+j.domainlen:])
	}
	return b.String()
}

// Equal performs an octet-for-octet comparison with the given JID.
func (j JID) Equal(j2 JID) bool {
	return j.locallen == j2.locallen &&
		j.domainlen == j2.domainlen &&
		bytes.Equal(j.data, j2.data)
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface and marshals the JID
// as an XML attribute.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface and unmarshals
// an XML attribute into a valid JID (or returns an error).
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		return nil
	}
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID.
// The parts are not guaranteed to be valid.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// RFC 7622 §3.1: separators are matched before any transformation is
	// applied. Anything after the first '/' is the resourcepart.
	if sep := strings.IndexByte(s, '/'); sep != -1 {
		if sep == len(s)-1 {
			return "", "", "", ErrEmptyResource
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	switch sep := strings.IndexByte(s, '@'); sep {
	case -1:
		domainpart = s
	case 0:
		return "", "", "", ErrEmptyLocal
	default:
		localpart = s[:sep]
		domainpart = s[sep+1:]
	}

	// A trailing label separator is stripped before any other
	// canonicalization.
	domainpart = strings.TrimSuffix(domainpart, ".")
	return localpart, domainpart, resourcepart, nil
}

func commonChecks(localpart []byte, domainpart string, resourcepart []byte) error {
	if len(localpart) > 1023 {
		return ErrLongLocal
	}

	// RFC 7622 §3.3.1 lists characters that are still forbidden in localparts
	// even though the UsernameCaseMapped profile allows them.
	if bytes.ContainsAny(localpart, `"&'/:<>@`) {
		return ErrForbiddenLocal
	}
	if len(resourcepart) > 1023 {
		return ErrLongResource
	}
	if l := len(domainpart); l < 1 || l > 1023 {
		return ErrDomainLen
	}

	if l := len(domainpart); l > 2 && domainpart[0] == '[' && domainpart[l-1] == ']' {
		if ip := net.ParseIP(domainpart[1 : l-1]); ip == nil || ip.To4() != nil {
			return ErrInvalidIP6
		}
	}
	return nil
}
