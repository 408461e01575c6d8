// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"slices"

	msasl "mellium.im/sasl"
)

// Errors returned while negotiating authentication.
var (
	// ErrNoMechanism is returned by Select if none of the advertised mechanisms
	// can be used with the available credentials.
	ErrNoMechanism = errors.New("sasl: no compatible mechanism")

	// ErrNonceMismatch is returned if the server nonce does not extend the nonce
	// sent by the client.
	ErrNonceMismatch = errors.New("sasl: server nonce does not extend the client nonce")

	// ErrServerSignature is returned if the server could not prove that it knows
	// the credentials.
	ErrServerSignature = errors.New("sasl: server signature verification failed")
)

// ServerError is returned when the server ends a SCRAM exchange with an error
// attribute.
type ServerError struct {
	Value string
}

func (e *ServerError) Error() string {
	return "sasl: server rejected authentication: " + e.Value
}

// Credentials are the secrets a connection may authenticate with.
// Which fields are needed depends on the mechanism.
type Credentials struct {
	// Username is the authentication identity, normally the localpart of the
	// JID.
	Username string
	Password string

	// Identity is an optional authorization identity.
	Identity string

	// Token is an OAuth 2.0 bearer token.
	Token string

	// External reports that the transport already authenticated the client,
	// for example with a TLS client certificate.
	External bool
}

func (c Credentials) hasPassword() bool {
	return c.Username != "" && c.Password != ""
}

// Mechanism is a SASL mechanism with a priority used to pick the strongest
// mechanism shared with the server.
type Mechanism struct {
	msasl.Mechanism

	// Priority orders mechanisms, higher is preferred.
	Priority int

	// Available reports whether creds are sufficient to run the mechanism.
	// A nil Available means the mechanism can always run.
	Available func(creds Credentials) bool

	// token selects the bearer token instead of the password as the secret
	// handed to the mechanism.
	token bool
}

// Supported mechanisms.
var (
	ScramSha512 = Mechanism{
		Mechanism: scram("SCRAM-SHA-512", sha512.New, defaultCache, nil),
		Priority:  72,
		Available: Credentials.hasPassword,
	}
	ScramSha384 = Mechanism{
		Mechanism: scram("SCRAM-SHA-384", sha512.New384, defaultCache, nil),
		Priority:  71,
		Available: Credentials.hasPassword,
	}
	ScramSha256 = Mechanism{
		Mechanism: scram("SCRAM-SHA-256", sha256.New, defaultCache, nil),
		Priority:  70,
		Available: Credentials.hasPassword,
	}
	ScramSha1 = Mechanism{
		Mechanism: scram("SCRAM-SHA-1", sha1.New, defaultCache, nil),
		Priority:  60,
		Available: Credentials.hasPassword,
	}
	Plain = Mechanism{
		Mechanism: msasl.Plain,
		Priority:  50,
		Available: Credentials.hasPassword,
	}
	OAuthBearer = Mechanism{
		Mechanism: oauthBearer,
		Priority:  40,
		Available: hasToken,
		token:     true,
	}
	XOAuth2 = Mechanism{
		Mechanism: xOAuth2,
		Priority:  30,
		Available: hasToken,
		token:     true,
	}
	Anonymous = Mechanism{
		Mechanism: anonymous,
		Priority:  20,
		Available: func(c Credentials) bool {
			return c == Credentials{}
		},
	}
	External = Mechanism{
		Mechanism: external,
		Priority:  10,
		Available: func(c Credentials) bool {
			return c.External
		},
	}
)

func hasToken(c Credentials) bool {
	return c.Token != ""
}

// Defaults returns every supported mechanism.
func Defaults() []Mechanism {
	return []Mechanism{
		ScramSha512,
		ScramSha384,
		ScramSha256,
		ScramSha1,
		Plain,
		OAuthBearer,
		XOAuth2,
		Anonymous,
		External,
	}
}

// Select returns the highest priority mechanism in mechs that the server
// advertised and that can run with creds.
// Mechanism names are compared exactly.
// When two mechanisms share a priority the first one in mechs wins.
func Select(advertised []string, creds Credentials, mechs []Mechanism) (Mechanism, error) {
	var (
		best  Mechanism
		found bool
	)
	for _, m := range mechs {
		if !slices.Contains(advertised, m.Name) {
			continue
		}
		if m.Available != nil && !m.Available(creds) {
			continue
		}
		if !found || m.Priority > best.Priority {
			best = m
			found = true
		}
	}
	if !found {
		return Mechanism{}, ErrNoMechanism
	}
	return best, nil
}

// Client runs a single authentication exchange.
// Its scratch state is discarded with it, a new Client must be created for
// every attempt.
type Client struct {
	name   string
	n      *msasl.Negotiator
	done   bool
	failed bool
}

// NewClient returns a client that authenticates with m.
// Extra options are passed to the underlying negotiator.
func NewClient(m Mechanism, creds Credentials, opts ...msasl.Option) *Client {
	secret := creds.Password
	if m.token {
		secret = creds.Token
	}
	opts = append([]msasl.Option{
		msasl.Credentials(func() ([]byte, []byte, []byte) {
			return []byte(creds.Username), []byte(secret), []byte(creds.Identity)
		}),
	}, opts...)
	return &Client{
		name: m.Name,
		n:    msasl.NewClient(m.Mechanism, opts...),
	}
}

// Name returns the name of the mechanism.
func (c *Client) Name() string {
	return c.name
}

// Start returns the initial response.
func (c *Client) Start() ([]byte, error) {
	return c.step(nil)
}

// Challenge returns the response to a challenge from the server.
func (c *Client) Challenge(data []byte) ([]byte, error) {
	if c.done {
		return nil, msasl.ErrTooManySteps
	}
	return c.step(data)
}

// Success checks the additional data sent with a success.
// Mechanisms that authenticate the server fail if it could not be verified.
func (c *Client) Success(data []byte) error {
	if c.done {
		return nil
	}
	_, err := c.step(data)
	if err == nil && !c.done {
		return ErrServerSignature
	}
	return err
}

func (c *Client) step(data []byte) ([]byte, error) {
	if c.failed {
		return nil, msasl.ErrInvalidState
	}
	more, resp, err := c.n.Step(data)
	if err != nil {
		c.failed = true
		return nil, err
	}
	c.done = !more
	return resp, nil
}
