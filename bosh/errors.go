// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bosh

import (
	"errors"
	"net/http"
	"strconv"
)

// Errors returned by the transport.
var (
	ErrRetryBudget = errors.New("bosh: retry budget exhausted")
	ErrNoSID       = errors.New("bosh: session creation response has no sid")
	ErrBadBody     = errors.New("bosh: response is not a BOSH body")
)

// TerminateError is returned when the connection manager ends the session with
// a body of type terminate.
type TerminateError struct {
	Condition string
}

func (e *TerminateError) Error() string {
	if e.Condition == "" {
		return "bosh: session terminated by the connection manager"
	}
	return "bosh: session terminated by the connection manager: " + e.Condition
}

// HTTPError is returned when the connection manager responds with a status
// other than 200 OK.
// Server errors (5xx) are retried, anything else is fatal.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return "bosh: unexpected HTTP status " + strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
}

// Temporary reports whether the request may be retried.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500
}
