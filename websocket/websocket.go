// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package websocket

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
	"mellium.im/xmppclient/transport"
)

// DefaultLang is the xml:lang sent in the stream header if none is configured.
const DefaultLang = "en"

// Config configures a WebSocket transport.
type Config struct {
	// URL is the ws or wss endpoint. Required.
	URL string

	// A WebSocket client origin.
	// If empty, the origin is derived from URL.
	Origin string

	// TLS config for secure WebSocket (wss).
	// If TLSConfig is nil a default config is used.
	TLSConfig *tls.Config

	// Additional header fields to be sent in WebSocket opening handshake.
	Header http.Header

	// Dial opens the WebSocket.
	// If nil, the connection is dialed with the handshake described by cfg.
	Dial func(ctx context.Context, cfg *websocket.Config) (*websocket.Conn, error)

	// KeepAlive is the interval between ping frames.
	// Zero disables pings.
	KeepAlive time.Duration

	Lang   string
	Logger logrus.FieldLogger
}

func dialContext(ctx context.Context, cfg *websocket.Config) (*websocket.Conn, error) {
	return cfg.DialContext(ctx)
}

// Transport is an XMPP stream carried over a WebSocket.
// It implements transport.Transport.
type Transport struct {
	cfg Config
	log logrus.FieldLogger

	// mu serializes writes and guards the fields below it.
	mu      sync.Mutex
	used    bool
	conn    *websocket.Conn
	domain  string
	closing bool

	evMu    sync.Mutex
	ev      transport.Events
	stopped bool

	readDone chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New returns an unconnected WebSocket transport.
func New(cfg Config) *Transport {
	if cfg.Dial == nil {
		cfg.Dial = dialContext
	}
	if cfg.Lang == "" {
		cfg.Lang = DefaultLang
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Transport{
		cfg:      cfg,
		log:      log.WithField("transport", "websocket"),
		readDone: make(chan struct{}),
	}
}

func (t *Transport) config() (*websocket.Config, error) {
	origin := t.cfg.Origin
	if origin == "" {
		u, err := url.Parse(t.cfg.URL)
		if err != nil {
			return nil, err
		}
		scheme := "http"
		if u.Scheme == "wss" {
			scheme = "https"
		}
		origin = scheme + "://" + u.Host
	}
	cfg, err := websocket.NewConfig(t.cfg.URL, origin)
	if err != nil {
		return nil, err
	}
	cfg.Protocol = []string{WSProtocol}
	cfg.TlsConfig = t.cfg.TLSConfig
	if cfg.TlsConfig == nil {
		cfg.TlsConfig = &tls.Config{
			ServerName: cfg.Location.Hostname(),
			MinVersion: tls.VersionTLS12,
		}
	}
	for k, v := range t.cfg.Header {
		cfg.Header[k] = v
	}
	return cfg, nil
}

func openElement(to, lang string) *stanza.Element {
	return stanza.NewBuilder(xml.Name{Space: NS, Local: "open"}).
		Attr("to", to).
		Attr("version", stream.DefaultVersion.String()).
		AttrNS(ns.XML, "lang", lang).
		Element()
}

func closeElement() *stanza.Element {
	return stanza.NewBuilder(xml.Name{Space: NS, Local: "close"}).Element()
}

// Connect dials the endpoint and opens a stream to domain.
// If it returns an error, ev is never called.
func (t *Transport) Connect(ctx context.Context, domain string, ev transport.Events) error {
	t.mu.Lock()
	if t.used {
		t.mu.Unlock()
		return errors.New("websocket: transport already used")
	}
	t.used = true
	t.mu.Unlock()

	cfg, err := t.config()
	if err != nil {
		return err
	}
	conn, err := t.cfg.Dial(ctx, cfg)
	if err != nil {
		return err
	}

	t.evMu.Lock()
	t.ev = ev
	t.evMu.Unlock()

	t.mu.Lock()
	t.conn = conn
	t.domain = domain
	err = t.send(openElement(domain, t.cfg.Lang))
	if err != nil {
		t.closing = true
	}
	t.mu.Unlock()
	if err != nil {
		t.evMu.Lock()
		t.stopped = true
		t.evMu.Unlock()
		/* #nosec */
		conn.Close()
		return err
	}

	kctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	t.wg.Add(1)
	go t.read()
	if t.cfg.KeepAlive > 0 {
		t.wg.Add(1)
		go t.keepAlive(kctx)
	}
	return nil
}

// send writes one element as a text message.
// t.mu must be held.
func (t *Transport) send(el *stanza.Element) error {
	if t.closing || t.conn == nil {
		return transport.ErrClosed
	}
	return websocket.Message.Send(t.conn, el.String())
}

// Send writes each element in its own message.
func (t *Transport) Send(el ...*stanza.Element) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range el {
		if err := t.send(e); err != nil {
			return err
		}
	}
	return nil
}

// Restart opens a new stream on the same connection.
func (t *Transport) Restart() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.send(openElement(t.domain, t.cfg.Lang))
}

// Disconnect sends pres, if any, and closes the stream.
// It waits for the server to close its side until ctx is done.
func (t *Transport) Disconnect(ctx context.Context, pres *stanza.Element) error {
	t.mu.Lock()
	if t.conn == nil || t.closing {
		t.mu.Unlock()
		return t.Close()
	}
	var err error
	if pres != nil {
		err = t.send(pres)
	}
	if e := t.send(closeElement()); err == nil {
		err = e
	}
	t.closing = true
	t.mu.Unlock()

	if err == nil {
		select {
		case <-t.readDone:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	/* #nosec */
	t.conn.Close()
	t.stopKeepAlive()
	t.wg.Wait()
	t.finish(nil)
	return err
}

func (t *Transport) stopKeepAlive() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close closes the WebSocket without closing the stream.
// No events are delivered after Close returns.
func (t *Transport) Close() error {
	t.evMu.Lock()
	t.stopped = true
	t.evMu.Unlock()

	t.mu.Lock()
	t.closing = true
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		/* #nosec */
		conn.Close()
	}
	t.stopKeepAlive()
	t.wg.Wait()
	return nil
}

func (t *Transport) emit(f func(transport.Events)) {
	t.evMu.Lock()
	defer t.evMu.Unlock()
	if t.stopped {
		return
	}
	f(t.ev)
}

// finish reports that the transport stopped.
// Only the first call has any effect.
func (t *Transport) finish(err error) {
	t.evMu.Lock()
	defer t.evMu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	t.stopKeepAlive()
	t.ev.Closed(err)
}

func (t *Transport) read() {
	defer t.wg.Done()
	defer close(t.readDone)
	for {
		var msg string
		if err := websocket.Message.Receive(t.conn, &msg); err != nil {
			t.mu.Lock()
			closing := t.closing
			t.mu.Unlock()
			if closing {
				t.finish(nil)
			} else {
				t.finish(fmt.Errorf("%w: %w", transport.ErrAbnormalClose, err))
			}
			return
		}
		el, err := stanza.ParseString(msg)
		if err != nil {
			t.log.WithError(err).Warn("dropping malformed message")
			t.emit(func(ev transport.Events) { ev.Error(err) })
			continue
		}
		switch {
		case el.Is(NS, "open"):
			var info stream.Info
			if err := info.FromElement(el); err != nil {
				t.abort(err)
				return
			}
			t.emit(func(ev transport.Events) { ev.StreamOpen(info) })
		case el.Is(NS, "close"):
			var err error
			if uri, ok := el.Attr("see-other-uri"); ok && uri != "" {
				err = &transport.RedirectError{URI: uri}
			}
			t.mu.Lock()
			if !t.closing {
				if e := t.send(closeElement()); e != nil {
					t.log.WithError(e).Debug("error acknowledging close")
				}
				t.closing = true
			}
			t.mu.Unlock()
			/* #nosec */
			t.conn.Close()
			t.finish(err)
			return
		default:
			t.emit(func(ev transport.Events) { ev.Element(el) })
		}
	}
}

func (t *Transport) abort(err error) {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	/* #nosec */
	t.conn.Close()
	t.finish(err)
}

func (t *Transport) keepAlive(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.ping(); err != nil {
				t.log.WithError(err).Debug("ping failed")
			}
		}
	}
}

func (t *Transport) ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return transport.ErrClosed
	}
	t.conn.PayloadType = websocket.PingFrame
	defer func() {
		t.conn.PayloadType = websocket.TextFrame
	}()
	_, err := t.conn.Write(nil)
	return err
}
