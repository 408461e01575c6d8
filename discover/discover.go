// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package discover looks up the BOSH and WebSocket endpoints of an XMPP
// service using Web Host Metadata as described in XEP-0156 and RFC 7395.
package discover // import "mellium.im/xmppclient/discover"

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"mellium.im/xmppclient/jid"
)

const (
	wsRel        = "urn:xmpp:alt-connections:websocket"
	boshRel      = "urn:xmpp:alt-connections:xbosh"
	hostMetaXML  = "/.well-known/host-meta"
	hostMetaJSON = "/.well-known/host-meta.json"
)

// ErrNoHostMeta is returned when the domain does not publish host metadata in
// either format.
var ErrNoHostMeta = errors.New("discover: no host metadata found")

// XRD represents an Extensible Resource Descriptor document of the form:
//
//	<?xml version='1.0' encoding=utf-8'?>
//	<XRD xmlns='http://docs.oasis-open.org/ns/xri/xrd-1.0'>
//	  …
//	  <Link rel="urn:xmpp:alt-connections:xbosh"
//	        href="https://web.example.com:5280/bosh" />
//	  <Link rel="urn:xmpp:alt-connections:websocket"
//	        href="wss://web.example.com:443/ws" />
//	  …
//	</XRD>
//
// as defined by RFC 6415 and OASIS.XRD-1.0.
// The JSON form of the same document (JRD) decodes into the same type.
type XRD struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ns/xri/xrd-1.0 XRD" json:"-"`
	Links   []Link   `xml:"Link" json:"links"`
}

// Link is an individual hyperlink in an XRD document.
type Link struct {
	Rel  string `xml:"rel,attr" json:"rel"`
	Href string `xml:"href,attr" json:"href"`
}

// Endpoints are the connection methods advertised by a domain, in the order
// they appear in its host metadata.
type Endpoints struct {
	WebSocket []string
	BOSH      []string
}

// Lookup fetches the host metadata of domain over HTTPS and returns every
// advertised BOSH and WebSocket endpoint.
// The XML document is tried first and the JSON document is used if the XML
// one cannot be found.
// If client is nil, http.DefaultClient is used.
func Lookup(ctx context.Context, client *http.Client, domain string) (Endpoints, error) {
	xrd, err := fetch(ctx, client, domain, hostMetaXML, func(r io.Reader, xrd *XRD) error {
		return xml.NewDecoder(r).Decode(xrd)
	})
	if errors.Is(err, ErrNoHostMeta) {
		xrd, err = fetch(ctx, client, domain, hostMetaJSON, func(r io.Reader, xrd *XRD) error {
			return json.NewDecoder(r).Decode(xrd)
		})
	}
	if err != nil {
		return Endpoints{}, err
	}

	var e Endpoints
	for _, link := range xrd.Links {
		switch link.Rel {
		case wsRel:
			e.WebSocket = append(e.WebSocket, link.Href)
		case boshRel:
			e.BOSH = append(e.BOSH, link.Href)
		}
	}
	return e, nil
}

// LookupWebSocket discovers websocket endpoints that are valid for the given
// address using Web Host Metadata as described in RFC7395.
func LookupWebSocket(ctx context.Context, client *http.Client, addr jid.JID) (urls []string, err error) {
	e, err := Lookup(ctx, client, addr.Domainpart())
	return e.WebSocket, err
}

// LookupBOSH discovers BOSH endpoints that are valid for the given address
// using Web Host Metadata as described in XEP-0156.
func LookupBOSH(ctx context.Context, client *http.Client, addr jid.JID) (urls []string, err error) {
	e, err := Lookup(ctx, client, addr.Domainpart())
	return e.BOSH, err
}

func fetch(ctx context.Context, client *http.Client, domain, file string, decode func(io.Reader, *XRD) error) (xrd XRD, err error) {
	u, err := url.Parse("https://" + path.Join(domain, file))
	if err != nil {
		return xrd, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return xrd, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return xrd, err
	}
	/* #nosec */
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return xrd, ErrNoHostMeta
	case resp.StatusCode != http.StatusOK:
		return xrd, fmt.Errorf("discover: fetching %s: %s", file, resp.Status)
	}
	// If the server sends us a lot of data it's probably good to just error out.
	body := io.LimitReader(resp.Body, http.DefaultMaxHeaderBytes)
	err = decode(body, &xrd)
	return xrd, err
}
