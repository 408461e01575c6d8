// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"mellium.im/xmppclient/bosh"
	"mellium.im/xmppclient/discover"
	"mellium.im/xmppclient/transport"
	"mellium.im/xmppclient/websocket"
)

var errNoEndpoint = errors.New("xmppclient: domain advertises no BOSH or WebSocket endpoint")

// newTransport picks the transport for a connection to domain.
func (c *Conn) newTransport(ctx context.Context, domain string) (transport.Transport, error) {
	if c.cfg.transport != nil {
		return c.cfg.transport(ctx, domain)
	}
	service := c.cfg.service
	if service == "" {
		e, err := discover.Lookup(ctx, c.cfg.httpClient, domain)
		if err != nil {
			return nil, err
		}
		switch {
		case len(e.WebSocket) > 0:
			service = e.WebSocket[0]
		case len(e.BOSH) > 0:
			service = e.BOSH[0]
		default:
			return nil, errNoEndpoint
		}
		c.log.WithFields(logrus.Fields{
			"domain":  domain,
			"service": service,
		}).Debug("discovered endpoint")
	}
	return c.transportFor(service)
}

// transportFor returns a transport for the endpoint at service.
func (c *Conn) transportFor(service string) (transport.Transport, error) {
	u, err := url.Parse(service)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws", "wss":
		return websocket.New(websocket.Config{
			URL:       service,
			KeepAlive: c.cfg.keepAlive,
			Lang:      c.cfg.lang,
			Logger:    c.log,
		}), nil
	case "http", "https":
		return bosh.New(bosh.Config{
			URL:         service,
			Client:      c.cfg.httpClient,
			RetryBudget: c.cfg.retryBudget,
			Lang:        c.cfg.lang,
			Logger:      c.log,
		}), nil
	}
	return nil, fmt.Errorf("xmppclient: unsupported service scheme %q", u.Scheme)
}
