// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package bosh implements the BOSH transport for XMPP as defined by XEP-0124
// and XEP-0206.
//
// BOSH emulates a bidirectional stream using a small window of concurrent HTTP
// long-polling requests.
// Each request carries a request id (rid) that increases by one for every new
// request, and responses are handed to the connection in rid order even when
// the HTTP responses arrive out of order.
// Requests that time out or fail with a server error are retried with the same
// rid and body until the retry budget is exhausted.
package bosh // import "mellium.im/xmppclient/bosh"
