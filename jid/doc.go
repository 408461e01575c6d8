// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements the XMPP address format defined in RFC 7622.
//
// A JID is made up of an optional localpart, a domainpart, and an optional
// resourcepart:
//
//	localpart@domainpart/resourcepart
//
// The zero value is not a valid address and reports an empty string.
package jid // import "mellium.im/xmppclient/jid"
