// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bosh_test

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"mellium.im/xmppclient/bosh"
	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/stanza"
	"mellium.im/xmppclient/stream"
	"mellium.im/xmppclient/transport"
)

const (
	created = `<body xmlns='http://jabber.org/protocol/httpbind' xmlns:xmpp='urn:xmpp:xbosh' sid='s1' wait='60' hold='1' requests='2' authid='id1' from='example.net' xmpp:version='1.0'><stream:features xmlns:stream='http://etherx.jabber.org/streams'/></body>`
	empty   = `<body xmlns='http://jabber.org/protocol/httpbind'/>`
)

type recorder struct {
	mu     sync.Mutex
	opens  []stream.Info
	els    chan *stanza.Element
	closed chan error
}

func newRecorder() *recorder {
	return &recorder{
		els:    make(chan *stanza.Element, 100),
		closed: make(chan error, 1),
	}
}

func (r *recorder) StreamOpen(info stream.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens = append(r.opens, info)
}

func (r *recorder) Element(el *stanza.Element) {
	r.els <- el
}

func (r *recorder) Error(error) {}

func (r *recorder) Closed(err error) {
	r.closed <- err
}

func (r *recorder) next(t *testing.T) *stanza.Element {
	t.Helper()
	select {
	case el := <-r.els:
		return el
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an element")
	}
	return nil
}

// nextMessage skips anything that is not a message.
func (r *recorder) nextMessage(t *testing.T) *stanza.Element {
	t.Helper()
	for {
		if el := r.next(t); el.Is(ns.Client, "message") {
			return el
		}
	}
}

func readBody(t *testing.T, r *http.Request) *stanza.Element {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("error reading request: %v", err)
		return nil
	}
	body, err := stanza.Parse(raw)
	if err != nil {
		t.Errorf("error parsing request %q: %v", raw, err)
		return nil
	}
	return body
}

func respond(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = io.WriteString(w, s)
}

func sleep(r *http.Request, d time.Duration) {
	select {
	case <-r.Context().Done():
	case <-time.After(d):
	}
}

func isCreate(body *stanza.Element) bool {
	_, ok := body.Attr("sid")
	return !ok
}

func TestConnectAndEcho(t *testing.T) {
	var (
		mu   sync.Mutex
		rids = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "text/xml; charset=utf-8" {
			t.Errorf("wrong content type: %q", ct)
		}
		body := readBody(t, r)
		if body == nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		rid, _ := body.Attr("rid")
		mu.Lock()
		rids[rid]++
		mu.Unlock()
		switch {
		case isCreate(body):
			respond(w, created)
		case body.Len() == 0:
			sleep(r, 20*time.Millisecond)
			respond(w, empty)
		default:
			var echo []*stanza.Element
			for child := range body.Children(nil) {
				echo = append(echo, child)
			}
			respond(w, stanza.NewBuilder(xml.Name{Space: ns.HTTPBind, Local: "body"}).Append(echo...).Element().String())
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	tr := bosh.New(bosh.Config{URL: srv.URL, PollInterval: 10 * time.Millisecond})
	require.NoError(t, tr.Connect(context.Background(), "example.net", rec))
	require.Equal(t, "s1", tr.SID())

	rec.mu.Lock()
	require.Len(t, rec.opens, 1)
	require.Equal(t, "id1", rec.opens[0].ID)
	require.Equal(t, "example.net", rec.opens[0].From.String())
	rec.mu.Unlock()
	require.True(t, rec.next(t).Is(stream.NS, "features"))

	msg := stanza.Message(stanza.ChatMessage).Attr("id", "m1").T("hi").Element()
	require.NoError(t, tr.Send(msg))
	got := rec.nextMessage(t)
	require.True(t, stanza.Equal(msg, got), "wrong echo: %s", got)

	require.NoError(t, tr.Close())
	require.ErrorIs(t, tr.Send(msg), transport.ErrClosed)

	mu.Lock()
	defer mu.Unlock()
	for rid, n := range rids {
		require.Equal(t, 1, n, "rid %s was sent more than once", rid)
	}
}

// A request that times out is retried with the same rid until the budget is
// spent.
func TestRetryBudget(t *testing.T) {
	for _, tc := range []struct {
		budget int
		ok     bool
	}{
		{budget: 3, ok: true},
		{budget: 2},
	} {
		var (
			attempts atomic.Int32
			mu       sync.Mutex
			rids     []string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := readBody(t, r)
			if body == nil || !isCreate(body) {
				respond(w, empty)
				return
			}
			rid, _ := body.Attr("rid")
			mu.Lock()
			rids = append(rids, rid)
			mu.Unlock()
			if attempts.Add(1) <= 2 {
				sleep(r, time.Second)
				return
			}
			respond(w, created)
		}))

		tr := bosh.New(bosh.Config{
			URL:            srv.URL,
			RequestTimeout: 50 * time.Millisecond,
			RetryBudget:    tc.budget,
			Backoff:        func() backoff.BackOff { return &backoff.ZeroBackOff{} },
			PollInterval:   time.Hour,
		})
		err := tr.Connect(context.Background(), "example.net", newRecorder())
		if tc.ok {
			require.NoError(t, err)
			require.NoError(t, tr.Close())
		} else {
			require.ErrorIs(t, err, bosh.ErrRetryBudget)
		}
		srv.Close()

		require.EqualValues(t, min(tc.budget, 3), attempts.Load())
		for _, rid := range rids {
			require.Equal(t, rids[0], rid, "retried request used a new rid")
		}
	}
}

func TestHTTPErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tr := bosh.New(bosh.Config{URL: srv.URL})
	err := tr.Connect(context.Background(), "example.net", newRecorder())
	var httpErr *bosh.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	require.EqualValues(t, 1, attempts.Load())
}

func TestTerminate(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		switch {
		case body == nil:
			http.Error(w, "bad request", http.StatusBadRequest)
		case isCreate(body):
			respond(w, created)
		case polls.Add(1) == 1:
			respond(w, `<body xmlns='http://jabber.org/protocol/httpbind' type='terminate' condition='remote-stream-error'><stream:error xmlns:stream='http://etherx.jabber.org/streams'><conflict xmlns='urn:ietf:params:xml:ns:xmpp-streams'/></stream:error></body>`)
		default:
			sleep(r, 20*time.Millisecond)
			respond(w, empty)
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	tr := bosh.New(bosh.Config{URL: srv.URL, PollInterval: 10 * time.Millisecond})
	require.NoError(t, tr.Connect(context.Background(), "example.net", rec))
	require.True(t, rec.next(t).Is(stream.NS, "features"))

	el := rec.next(t)
	streamErr, ok := stream.FromElement(el)
	require.True(t, ok, "expected stream error, got %s", el)
	require.ErrorIs(t, streamErr, stream.Conflict)

	select {
	case err := <-rec.closed:
		var termErr *bosh.TerminateError
		require.ErrorAs(t, err, &termErr)
		require.Equal(t, "remote-stream-error", termErr.Condition)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the session to close")
	}
	require.ErrorIs(t, tr.Send(el), transport.ErrClosed)
	require.NoError(t, tr.Close())
}

// Responses are delivered in request order even when a later request returns
// first.
func TestResponsesInRequestOrder(t *testing.T) {
	var (
		polls     atomic.Int32
		firstPoll = make(chan struct{})
		release   = make(chan struct{})
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		switch {
		case body == nil:
			http.Error(w, "bad request", http.StatusBadRequest)
		case isCreate(body):
			respond(w, created)
		case body.Len() == 0:
			if polls.Add(1) != 1 {
				sleep(r, 20*time.Millisecond)
				respond(w, empty)
				return
			}
			close(firstPoll)
			select {
			case <-release:
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Second):
			}
			respond(w, `<body xmlns='http://jabber.org/protocol/httpbind'><message xmlns='jabber:client' id='first'/></body>`)
		default:
			go func() {
				time.Sleep(50 * time.Millisecond)
				close(release)
			}()
			respond(w, `<body xmlns='http://jabber.org/protocol/httpbind'><message xmlns='jabber:client' id='second'/></body>`)
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	tr := bosh.New(bosh.Config{URL: srv.URL, PollInterval: 10 * time.Millisecond})
	require.NoError(t, tr.Connect(context.Background(), "example.net", rec))
	defer tr.Close()

	select {
	case <-firstPoll:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first poll")
	}
	require.NoError(t, tr.Send(stanza.Message(stanza.ChatMessage).Attr("id", "x").Element()))

	for _, want := range []string{"first", "second"} {
		id, _ := rec.nextMessage(t).Attr("id")
		require.Equal(t, want, id)
	}
}

func TestDisconnect(t *testing.T) {
	terminate := make(chan *stanza.Element, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		switch {
		case body == nil:
			http.Error(w, "bad request", http.StatusBadRequest)
		case isCreate(body):
			respond(w, created)
		default:
			if typ, _ := body.Attr("type"); typ == "terminate" {
				terminate <- body
				respond(w, `<body xmlns='http://jabber.org/protocol/httpbind' type='terminate'/>`)
				return
			}
			sleep(r, 20*time.Millisecond)
			respond(w, empty)
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	tr := bosh.New(bosh.Config{URL: srv.URL, PollInterval: 10 * time.Millisecond})
	require.NoError(t, tr.Connect(context.Background(), "example.net", rec))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pres := stanza.Presence(stanza.UnavailablePresence).Element()
	require.NoError(t, tr.Disconnect(ctx, pres))

	body := <-terminate
	child, ok := body.Child(ns.Client, "presence")
	require.True(t, ok, "final presence missing from %s", body)
	require.True(t, stanza.Equal(pres, child))

	select {
	case err := <-rec.closed:
		require.NoError(t, err)
	default:
		t.Fatal("disconnect returned before the session was reported closed")
	}
	require.ErrorIs(t, tr.Send(pres), transport.ErrClosed)
	require.NoError(t, tr.Close())
}
