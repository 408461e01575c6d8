// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	msasl "mellium.im/sasl"
)

// singleStep is the Next function of mechanisms that only send an initial
// response.
func singleStep(*msasl.Negotiator, []byte, interface{}) (bool, []byte, interface{}, error) {
	return false, nil, nil, msasl.ErrTooManySteps
}

// oauthBearer implements OAUTHBEARER as defined in RFC 7628.
var oauthBearer = msasl.Mechanism{
	Name: "OAUTHBEARER",
	Start: func(n *msasl.Negotiator) (bool, []byte, interface{}, error) {
		_, token, identity := n.Credentials()
		resp := []byte("n,")
		if len(identity) > 0 {
			resp = append(resp, "a="+scramEscaper.Replace(string(identity))...)
		}
		resp = append(resp, ",\x01auth=Bearer "...)
		resp = append(resp, token...)
		resp = append(resp, '\x01', '\x01')
		return false, resp, nil, nil
	},
	Next: singleStep,
}

// xOAuth2 implements the X-OAUTH2 mechanism used by Google Talk.
// The authorization identity defaults to the username.
var xOAuth2 = msasl.Mechanism{
	Name: "X-OAUTH2",
	Start: func(n *msasl.Negotiator) (bool, []byte, interface{}, error) {
		user, token, identity := n.Credentials()
		if len(identity) == 0 {
			identity = user
		}
		resp := make([]byte, 0, len(identity)+len(token)+2)
		resp = append(resp, '\x00')
		resp = append(resp, identity...)
		resp = append(resp, '\x00')
		resp = append(resp, token...)
		return false, resp, nil, nil
	},
	Next: singleStep,
}

// anonymous implements ANONYMOUS as defined in RFC 4505 without trace
// information.
var anonymous = msasl.Mechanism{
	Name: "ANONYMOUS",
	Start: func(*msasl.Negotiator) (bool, []byte, interface{}, error) {
		return false, []byte{}, nil, nil
	},
	Next: singleStep,
}

// external implements EXTERNAL as defined in RFC 4422 Appendix A.
// The response is the authorization identity, which may be empty.
var external = msasl.Mechanism{
	Name: "EXTERNAL",
	Start: func(n *msasl.Negotiator) (bool, []byte, interface{}, error) {
		_, _, identity := n.Credentials()
		return false, identity, nil, nil
	},
	Next: singleStep,
}
