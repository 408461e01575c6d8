// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package sasl provides the SASL mechanisms used to authenticate a client
// stream and picks the strongest one offered by the server.
//
// Mechanisms are mellium.im/sasl mechanisms annotated with a priority and a
// check for whether the credentials needed to run them are available.
// The SCRAM family is implemented here instead of using the upstream
// implementation so that SHA-384 and SHA-512 are supported, derived keys are
// cached between connections, and failures to verify the server are reported
// separately from rejected credentials.
package sasl // import "mellium.im/xmppclient/sasl"
