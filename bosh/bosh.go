// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bosh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/transport"
)

// Defaults used for zero values in Config.
const (
	DefaultWait         = 60 * time.Second
	DefaultHold         = 1
	DefaultWindow       = 2
	DefaultRetryBudget  = 5
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLang         = "en"
)

// Responses larger than this are treated as a failed request.
const maxBody = 10 << 20

// Config configures a BOSH transport.
// The zero value of each field selects the documented default.
type Config struct {
	// URL of the connection manager. Required.
	URL string

	// Client is used to make requests.
	// It must not have a timeout shorter than Wait.
	// If nil, a new client with no timeout is used.
	Client *http.Client

	// Wait is the longest time the connection manager may hold a request
	// (default 60s). The server may lower it.
	Wait time.Duration

	// Hold is the number of requests the connection manager may keep waiting
	// (default 1). The server may lower it.
	Hold int

	// Window is the number of concurrent requests (default 2).
	// It is replaced by the requests attribute of the session creation response
	// if the server sends one.
	Window int

	// RequestTimeout bounds each HTTP request. If zero, it is the negotiated
	// wait plus 10%.
	RequestTimeout time.Duration

	// RetryBudget is the number of attempts made for each request, including
	// the first one (default 5).
	RetryBudget int

	// Backoff returns the policy used between attempts of the same request.
	// If nil, an exponential policy starting at 200ms is used.
	Backoff func() backoff.BackOff

	// PollInterval is the minimum time between two empty requests
	// (default 100ms).
	PollInterval time.Duration

	// Lang is the xml:lang of the stream (default "en").
	Lang string

	Logger logrus.FieldLogger
}

func defaultBackoff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
}

// response is a body received for a given rid.
type response struct {
	body    *stanza.Element
	restart bool
}

// Transport is a BOSH session.
// It implements transport.Transport.
type Transport struct {
	cfg    Config
	log    logrus.FieldLogger
	client *http.Client

	mu       sync.Mutex
	sess     session
	to       string
	rid      uint64
	queue    []*stanza.Element
	restart  bool
	inflight int
	window   int
	lastReq  time.Time
	running  bool

	// evMu serializes calls to ev and guards stopped.
	evMu    sync.Mutex
	ev      transport.Events
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	wg     sync.WaitGroup
	order  *reorder[response]
}

var _ transport.Transport = (*Transport)(nil)

// New returns an unconnected BOSH transport.
func New(cfg Config) *Transport {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultWait
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	if cfg.Backoff == nil {
		cfg.Backoff = defaultBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
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
		cfg:    cfg,
		log:    log.WithField("transport", "bosh"),
		client: cfg.Client,
		kick:   make(chan struct{}, 1),
	}
}

// Connect creates a new BOSH session with the connection manager.
// If it returns an error, ev is never called.
func (t *Transport) Connect(ctx context.Context, domain string, ev transport.Events) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return errors.New("bosh: transport already used")
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.to = domain
	t.mu.Unlock()

	t.evMu.Lock()
	t.ev = ev
	t.evMu.Unlock()

	rid := rand.Uint64N(1 << 32)
	body, err := t.roundTrip(ctx, rid, createBody(rid, domain, t.cfg.Lang, t.cfg.Wait, t.cfg.Hold))
	if err == nil {
		err = terminated(body)
	}
	var sess session
	if err == nil {
		sess, err = parseSession(body, t.cfg.Wait, t.cfg.Hold)
	}
	if err != nil {
		t.evMu.Lock()
		t.stopped = true
		t.evMu.Unlock()
		t.cancel()
		return err
	}

	t.evMu.Lock()
	if t.stopped {
		// Closed while the session was being created.
		t.evMu.Unlock()
		t.cancel()
		return transport.ErrClosed
	}
	t.mu.Lock()
	t.sess = sess
	t.rid = rid + 1
	t.window = t.cfg.Window
	if sess.requests > 0 {
		t.window = sess.requests
	}
	t.running = true
	t.lastReq = time.Now()
	t.mu.Unlock()
	t.evMu.Unlock()
	t.log.WithFields(logrus.Fields{
		"sid":      sess.sid,
		"wait":     sess.wait,
		"hold":     sess.hold,
		"requests": sess.requests,
	}).Debug("session created")

	t.order = newReorder(rid+1, t.deliver)
	t.emit(func(ev transport.Events) {
		ev.StreamOpen(sess.info)
		for _, el := range payload(body) {
			ev.Element(el)
		}
	})
	t.wg.Add(1)
	go t.pump()
	return nil
}

// SID returns the session id assigned by the connection manager.
func (t *Transport) SID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess.sid
}

// Send queues elements to be sent in the next request.
func (t *Transport) Send(el ...*stanza.Element) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.queue = append(t.queue, el...)
	t.mu.Unlock()
	t.wake()
	return nil
}

// Restart requests a stream restart.
// The response is reported as a new stream followed by its features.
func (t *Transport) Restart() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.restart = true
	t.mu.Unlock()
	t.wake()
	return nil
}

// Disconnect sends a terminate request carrying any queued stanzas and pres.
// The session is torn down even if the request fails.
func (t *Transport) Disconnect(ctx context.Context, pres *stanza.Element) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return t.Close()
	}
	t.running = false
	els := t.queue
	t.queue = nil
	if pres != nil {
		els = append(els, pres)
	}
	rid := t.rid
	t.rid++
	sid := t.sess.sid
	t.mu.Unlock()

	_, err := t.post(ctx, terminateBody(rid, sid, els))
	if err != nil {
		t.log.WithError(err).Debug("terminate request failed")
	}

	t.cancel()
	t.wg.Wait()
	t.evMu.Lock()
	defer t.evMu.Unlock()
	if !t.stopped {
		t.stopped = true
		t.ev.Closed(nil)
	}
	return err
}

// Close aborts all requests without ending the session.
// No events are delivered after Close returns.
func (t *Transport) Close() error {
	t.evMu.Lock()
	t.stopped = true
	t.evMu.Unlock()

	t.mu.Lock()
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	return nil
}

func (t *Transport) wake() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *Transport) emit(f func(transport.Events)) {
	t.evMu.Lock()
	defer t.evMu.Unlock()
	if t.stopped || t.ev == nil {
		return
	}
	f(t.ev)
}

// fail stops the transport and reports err.
// If the transport is already stopping it does nothing.
func (t *Transport) fail(err error) {
	t.evMu.Lock()
	defer t.evMu.Unlock()
	if t.stopped || t.ctx.Err() != nil {
		return
	}
	t.stopped = true
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	t.cancel()
	t.log.WithError(err).Debug("session failed")
	t.ev.Closed(err)
}

func (t *Transport) pump() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		t.flush()
		select {
		case <-t.ctx.Done():
			return
		case <-t.kick:
		case <-ticker.C:
		}
	}
}

// flush starts as many requests as the window allows.
func (t *Transport) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.running && t.inflight < t.window {
		now := time.Now()
		var (
			el      *stanza.Element
			restart bool
		)
		switch {
		case t.restart:
			el = restartBody(t.rid, t.sess.sid, t.to, t.cfg.Lang)
			t.restart = false
			restart = true
		case len(t.queue) > 0:
			el = dataBody(t.rid, t.sess.sid, t.queue)
			t.queue = nil
		case t.inflight == 0 && now.Sub(t.lastReq) >= t.pollGap():
			el = dataBody(t.rid, t.sess.sid, nil)
		default:
			return
		}
		rid := t.rid
		t.rid++
		t.inflight++
		t.lastReq = now
		t.wg.Add(1)
		go t.request(rid, el, restart)
	}
}

// pollGap is the minimum time between empty requests.
// The polling attribute only applies to sessions where the server holds no
// requests.
func (t *Transport) pollGap() time.Duration {
	gap := t.cfg.PollInterval
	if t.sess.hold == 0 && t.sess.polling > gap {
		gap = t.sess.polling
	}
	return gap
}

func (t *Transport) request(rid uint64, el *stanza.Element, restart bool) {
	defer t.wg.Done()
	body, err := t.roundTrip(t.ctx, rid, el)
	t.mu.Lock()
	t.inflight--
	t.mu.Unlock()
	if err != nil {
		t.fail(err)
		return
	}
	t.order.push(rid, response{body: body, restart: restart})
	if n := t.order.buffered(); n > 0 {
		t.log.WithField("rid", rid).Debugf("%d responses waiting for an earlier request", n)
	}
	t.wake()
}

// deliver hands a response to the connection.
// It is called in rid order.
func (t *Transport) deliver(rid uint64, r response) {
	t.emit(func(ev transport.Events) {
		if r.restart {
			t.mu.Lock()
			info := t.sess.info
			t.mu.Unlock()
			ev.StreamOpen(info)
		}
		for _, el := range payload(r.body) {
			ev.Element(el)
		}
	})
	if err := terminated(r.body); err != nil {
		t.log.WithField("rid", rid).Debug("session terminated by the connection manager")
		t.fail(err)
	}
}

func (t *Transport) requestTimeout() time.Duration {
	if t.cfg.RequestTimeout > 0 {
		return t.cfg.RequestTimeout
	}
	t.mu.Lock()
	wait := t.sess.wait
	t.mu.Unlock()
	if wait <= 0 {
		wait = t.cfg.Wait
	}
	return wait + wait/10
}

// roundTrip sends the same body until it succeeds, fails permanently, or the
// retry budget runs out.
func (t *Transport) roundTrip(ctx context.Context, rid uint64, el *stanza.Element) (*stanza.Element, error) {
	var (
		attempts  int
		permanent bool
		log       = t.log.WithField("rid", rid)
	)
	b := backoff.WithContext(
		backoff.WithMaxRetries(t.cfg.Backoff(), uint64(t.cfg.RetryBudget-1)),
		ctx,
	)
	body, err := backoff.RetryNotifyWithData(func() (*stanza.Element, error) {
		attempts++
		body, err := t.post(ctx, el)
		var perm *backoff.PermanentError
		permanent = errors.As(err, &perm)
		return body, err
	}, b, func(err error, d time.Duration) {
		log.WithError(err).WithField("attempt", attempts).Warnf("request failed, retrying in %s", d)
	})
	switch {
	case err == nil:
		return body, nil
	case !permanent && ctx.Err() == nil && attempts >= t.cfg.RetryBudget:
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryBudget, attempts, err)
	}
	return nil, err
}

// post makes a single request.
// Errors that must not be retried are wrapped with backoff.Permanent.
func (t *Transport) post(ctx context.Context, el *stanza.Element) (*stanza.Element, error) {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout())
	defer cancel()

	data, err := el.MarshalText()
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	/* #nosec */
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		herr := &HTTPError{StatusCode: resp.StatusCode}
		if herr.Temporary() {
			return nil, herr
		}
		return nil, backoff.Permanent(herr)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	body, err := stanza.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !body.Is(ns.HTTPBind, "body") {
		return nil, backoff.Permanent(ErrBadBody)
	}
	return body, nil
}
