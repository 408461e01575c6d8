// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/xmppclient/sasl"
	"mellium.im/xmppclient/transport"
)

// Default timeouts used when the corresponding option is not set.
const (
	DefaultConnectTimeout    = 30 * time.Second
	DefaultStepTimeout       = 10 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultTickInterval      = 100 * time.Millisecond
)

// TransportFactory returns a new, unconnected transport for domain.
type TransportFactory func(ctx context.Context, domain string) (transport.Transport, error)

// Option configures a Conn.
type Option func(*config)

type config struct {
	transport         TransportFactory
	service           string
	httpClient        *http.Client
	retryBudget       int
	keepAlive         time.Duration
	logger            logrus.FieldLogger
	inputLog          io.Writer
	outputLog         io.Writer
	onError           func(error)
	connectTimeout    time.Duration
	stepTimeout       time.Duration
	disconnectTimeout time.Duration
	tick              time.Duration
	resource          string
	mechanisms        []sasl.Mechanism
	lang              string
}

func newConfig(opts []Option) config {
	cfg := config{
		connectTimeout:    DefaultConnectTimeout,
		stepTimeout:       DefaultStepTimeout,
		disconnectTimeout: DefaultDisconnectTimeout,
		tick:              DefaultTickInterval,
		mechanisms:        sasl.Defaults(),
		lang:              "en",
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.tick <= 0 {
		cfg.tick = DefaultTickInterval
	}
	if cfg.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.logger = l
	}
	return cfg
}

// WithTransport sets the function used to create a transport on every call to
// Connect.
// It takes precedence over Service.
func WithTransport(f TransportFactory) Option {
	return func(c *config) {
		c.transport = f
	}
}

// Service sets the URL of the BOSH or WebSocket endpoint.
// If neither Service nor WithTransport is used the endpoint is discovered from
// the host metadata of the domain.
func Service(url string) Option {
	return func(c *config) {
		c.service = url
	}
}

// HTTPClient sets the client used for BOSH requests and endpoint discovery.
func HTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

// RetryBudget sets the number of attempts made for each BOSH request.
func RetryBudget(n int) Option {
	return func(c *config) {
		c.retryBudget = n
	}
}

// KeepAlive sets the interval between WebSocket pings.
func KeepAlive(d time.Duration) Option {
	return func(c *config) {
		c.keepAlive = d
	}
}

// Logger sets the logger used by the connection and the transports it
// creates.
func Logger(l logrus.FieldLogger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// InputLog writes every element received to w.
func InputLog(w io.Writer) Option {
	return func(c *config) {
		c.inputLog = w
	}
}

// OutputLog writes every element sent to w.
func OutputLog(w io.Writer) Option {
	return func(c *config) {
		c.outputLog = w
	}
}

// OnError is called with every error that does not end the connection, such
// as a handler that failed or an element that could not be parsed and was
// dropped.
func OnError(f func(error)) Option {
	return func(c *config) {
		c.onError = f
	}
}

// ConnectTimeout bounds the whole negotiation done by Connect.
// Zero means Connect is only bounded by its context.
func ConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		c.connectTimeout = d
	}
}

// StepTimeout bounds the wait for each reply of the server during
// negotiation.
// Zero disables the per step timeout.
func StepTimeout(d time.Duration) Option {
	return func(c *config) {
		c.stepTimeout = d
	}
}

// DisconnectTimeout bounds the wait for the server to acknowledge the end of
// the stream.
func DisconnectTimeout(d time.Duration) Option {
	return func(c *config) {
		c.disconnectTimeout = d
	}
}

// TickInterval sets how often timed handlers are checked.
func TickInterval(d time.Duration) Option {
	return func(c *config) {
		c.tick = d
	}
}

// Resource requests a resourcepart during resource binding.
// If it is empty the resourcepart of the address passed to Connect is used,
// and if that is empty too the server picks one.
func Resource(r string) Option {
	return func(c *config) {
		c.resource = r
	}
}

// Mechanisms sets the SASL mechanisms the client is willing to use.
// The default is sasl.Defaults().
func Mechanisms(m ...sasl.Mechanism) Option {
	return func(c *config) {
		c.mechanisms = m
	}
}

// Lang sets the language of the stream (default "en").
func Lang(lang string) Option {
	return func(c *config) {
		c.lang = lang
	}
}
