// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppclient

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mellium.im/xmppclient/jid"
	"mellium.im/xmppclient/mux"
	"mellium.im/xmppclient/sasl"
	"mellium.im/xmppclient/stanza"
)

var errNotIQ = errors.New("xmppclient: SendIQ requires an IQ of type get or set")

// Conn is a client connection to an XMPP server.
// A Conn may be connected again after it returned to Disconnected.
// Handlers registered with Persistent survive reconnection, all other
// handlers are removed when a connection ends.
type Conn struct {
	cfg config
	log logrus.FieldLogger
	mux *mux.ServeMux

	logMu sync.Mutex

	mu       sync.Mutex
	status   Status
	addr     jid.JID
	streamID string
	att      *attempt
}

// New returns a disconnected Conn.
func New(opts ...Option) *Conn {
	cfg := newConfig(opts)
	c := &Conn{
		cfg: cfg,
		log: cfg.logger,
	}
	c.mux = mux.New(
		mux.Logger(c.log),
		mux.OnError(func(_ mux.Ref, err error) {
			if c.cfg.onError != nil {
				c.cfg.onError(err)
			}
		}),
	)
	return c
}

// Connect opens a stream to the domain of addr, authenticates with creds and
// binds a resource.
// It blocks until the connection is established or has failed.
//
// If creds has no username the localpart of addr is used.
// Every transition is reported to fn, which may be nil.
// Connect returns ErrInUse if the Conn is not Disconnected.
func (c *Conn) Connect(ctx context.Context, addr jid.JID, creds sasl.Credentials, fn StatusFunc) error {
	if creds.Username == "" {
		creds.Username = addr.Localpart()
	}

	c.mu.Lock()
	if c.att != nil {
		c.mu.Unlock()
		return ErrInUse
	}
	a := newAttempt(c, addr, creds, fn)
	c.att = a
	c.addr = addr
	c.streamID = ""
	c.mu.Unlock()

	if c.cfg.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.connectTimeout)
		defer cancel()
	}

	go a.run()
	a.post(a.begin)

	select {
	case err := <-a.result:
		return err
	case <-ctx.Done():
	}
	err := ctx.Err()
	kind := TransportError
	if errors.Is(err, context.DeadlineExceeded) {
		kind = Timeout
	}
	a.post(func() {
		if a.connectDone {
			return
		}
		a.fail(&Error{Kind: kind, Op: "connect", Err: err})
	})
	return <-a.result
}

// Disconnect ends the connection from any state.
//
// If the connection was established an unavailable presence with reason as
// its status is sent before the stream is closed.
// A connection attempt that is still negotiating is abandoned and Connect
// returns ErrCanceled.
// The returned error reports whether the server acknowledged the end of the
// stream in time; the Conn is Disconnected when Disconnect returns either way.
func (c *Conn) Disconnect(reason string) error {
	c.mu.Lock()
	a := c.att
	c.mu.Unlock()
	if a == nil {
		return nil
	}

	errc := make(chan error, 1)
	if !a.post(func() { a.disconnect(reason, errc) }) {
		<-a.done
		return nil
	}
	select {
	case err := <-errc:
		return err
	case <-a.done:
		select {
		case err := <-errc:
			return err
		default:
			return nil
		}
	}
}

// Send writes elements to the stream.
// It returns ErrNotConnected unless the connection is Connected.
func (c *Conn) Send(el ...*stanza.Element) error {
	c.mu.Lock()
	a, status := c.att, c.status
	c.mu.Unlock()
	if a == nil || status != Connected {
		return ErrNotConnected
	}
	tr := a.transport()
	if tr == nil {
		return ErrNotConnected
	}
	c.logOutput(el...)
	return tr.Send(el...)
}

// SendIQ sends an IQ of type get or set and waits for the response.
// If iq has no id a random one is assigned.
//
// If the response is of type error it is returned along with the stanza.Error
// it carries.
// SendIQ must not be called from a handler or a StatusFunc since responses are
// delivered on the same goroutine.
func (c *Conn) SendIQ(ctx context.Context, iq *stanza.Element) (*stanza.Element, error) {
	typ, _ := iq.Attr("type")
	if !iq.Is("", "iq") || (typ != string(stanza.GetIQ) && typ != string(stanza.SetIQ)) {
		return nil, errNotIQ
	}
	id, _ := iq.Attr("id")
	if id == "" {
		id = uuid.NewString()
		iq = withAttr(iq, "id", id)
	}

	c.mu.Lock()
	a, status := c.att, c.status
	c.mu.Unlock()
	if a == nil || status != Connected {
		return nil, ErrNotConnected
	}

	match := mux.Matcher{
		Name:  "iq",
		ID:    id,
		Types: []string{string(stanza.ResultIQ), string(stanza.ErrorIQ)},
	}
	if to, ok := iq.Attr("to"); ok && to != "" {
		match.From = to
	}
	reply := make(chan *stanza.Element, 1)
	ref := c.mux.HandleFunc(match, func(el *stanza.Element) (bool, error) {
		reply <- el
		return false, nil
	}, mux.Once())

	if err := c.Send(iq); err != nil {
		c.mux.Remove(ref)
		return nil, err
	}
	select {
	case el := <-reply:
		if typ, _ := el.Attr("type"); typ == string(stanza.ErrorIQ) {
			se, ok := stanza.UnmarshalError(el)
			if !ok {
				se = stanza.Error{Type: stanza.Cancel, Condition: stanza.UndefinedCondition}
			}
			return el, se
		}
		return el, nil
	case <-ctx.Done():
		c.mux.Remove(ref)
		return nil, ctx.Err()
	case <-a.done:
		return nil, ErrNotConnected
	}
}

// withAttr returns a copy of el with the attribute local set to value.
func withAttr(el *stanza.Element, local, value string) *stanza.Element {
	b := stanza.NewBuilder(el.Name(), el.Attrs()...).Attr(local, value)
	for n := range el.Nodes() {
		switch n := n.(type) {
		case *stanza.Element:
			b.Append(n)
		case stanza.Text:
			b.T(string(n))
		}
	}
	return b.Element()
}

// AddHandler registers h for every inbound element matched by match.
// Handlers only see elements received while the connection is Connected, in
// the order they were added.
// Handlers are called from the goroutine that serializes all events of the
// connection and must not block.
func (c *Conn) AddHandler(match mux.Matcher, h mux.Handler, opt ...mux.HandlerOption) mux.Ref {
	return c.mux.Handle(match, h, opt...)
}

// DeleteHandler removes a handler added by AddHandler.
func (c *Conn) DeleteHandler(ref mux.Ref) bool {
	return c.mux.Remove(ref)
}

// AddTimedHandler registers f to be called every interval while the connection
// is Connected.
// Timing is approximate: handlers are checked every TickInterval.
func (c *Conn) AddTimedHandler(interval time.Duration, f mux.TimedFunc, opt ...mux.HandlerOption) mux.Ref {
	return c.mux.HandleTimed(interval, f, opt...)
}

// DeleteTimedHandler removes a handler added by AddTimedHandler.
func (c *Conn) DeleteTimedHandler(ref mux.Ref) bool {
	return c.mux.RemoveTimed(ref)
}

// Status returns the current state of the connection.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LocalAddr returns the address bound by the server, or the address passed to
// Connect if no resource has been bound yet.
func (c *Conn) LocalAddr() jid.JID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// StreamID returns the id of the current stream.
func (c *Conn) StreamID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID
}

func (c *Conn) logInput(el ...*stanza.Element) {
	c.writeLog(c.cfg.inputLog, el)
}

func (c *Conn) logOutput(el ...*stanza.Element) {
	c.writeLog(c.cfg.outputLog, el)
}

func (c *Conn) writeLog(w io.Writer, els []*stanza.Element) {
	if w == nil {
		return
	}
	c.logMu.Lock()
	defer c.logMu.Unlock()
	for _, el := range els {
		/* #nosec */
		el.WriteTo(w)
	}
}

func (c *Conn) reportError(err error) {
	c.log.WithError(err).Warn("dropped unreadable data")
	if c.cfg.onError != nil {
		c.cfg.onError(err)
	}
}
