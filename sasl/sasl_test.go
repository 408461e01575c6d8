// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl_test

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"mellium.im/xmppclient/sasl"
)

var (
	password = sasl.Credentials{Username: "juliet", Password: "r0m30"}
	token    = sasl.Credentials{Username: "juliet", Token: "vF9dft4qmTc2Nvb3RlckBhdHRhdmlzdGEuY29tCg=="}
)

var selectTests = [...]struct {
	advertised []string
	creds      sasl.Credentials
	want       string
	err        error
}{
	0:  {advertised: []string{"PLAIN", "SCRAM-SHA-1", "SCRAM-SHA-256"}, creds: password, want: "SCRAM-SHA-256"},
	1:  {advertised: []string{"SCRAM-SHA-512", "SCRAM-SHA-384"}, creds: password, want: "SCRAM-SHA-512"},
	2:  {advertised: []string{"PLAIN", "OAUTHBEARER"}, creds: password, want: "PLAIN"},
	3:  {advertised: []string{"PLAIN", "OAUTHBEARER", "X-OAUTH2"}, creds: token, want: "OAUTHBEARER"},
	4:  {advertised: []string{"PLAIN", "X-OAUTH2"}, creds: token, want: "X-OAUTH2"},
	5:  {advertised: []string{"X-OAUTH2"}, creds: password, err: sasl.ErrNoMechanism},
	6:  {advertised: []string{"ANONYMOUS", "PLAIN"}, want: "ANONYMOUS"},
	7:  {advertised: []string{"ANONYMOUS"}, creds: password, err: sasl.ErrNoMechanism},
	8:  {advertised: []string{"EXTERNAL", "SCRAM-SHA-1"}, creds: sasl.Credentials{External: true}, want: "EXTERNAL"},
	9:  {advertised: []string{"scram-sha-1"}, creds: password, err: sasl.ErrNoMechanism},
	10: {creds: password, err: sasl.ErrNoMechanism},
	11: {advertised: []string{"DIGEST-MD5", "SCRAM-SHA-1"}, creds: password, want: "SCRAM-SHA-1"},
}

func TestSelect(t *testing.T) {
	for i, tc := range selectTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			m, err := sasl.Select(tc.advertised, tc.creds, sasl.Defaults())
			if !errors.Is(err, tc.err) {
				t.Fatalf("unexpected error: want=%v, got=%v", tc.err, err)
			}
			if m.Name != tc.want {
				t.Errorf("wrong mechanism: want=%q, got=%q", tc.want, m.Name)
			}
		})
	}
}

func TestSelectTie(t *testing.T) {
	a := sasl.Plain
	b := sasl.Plain
	b.Name = "OTHER"
	m, err := sasl.Select([]string{"OTHER", "PLAIN"}, password, []sasl.Mechanism{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name != "PLAIN" {
		t.Errorf("expected first mechanism to win a tie, got %s", m.Name)
	}
}

var initialTests = [...]struct {
	mech  sasl.Mechanism
	creds sasl.Credentials
	resp  string
}{
	0: {mech: sasl.Plain, creds: password, resp: "\x00juliet\x00r0m30"},
	1: {mech: sasl.Plain, creds: sasl.Credentials{Username: "juliet", Password: "r0m30", Identity: "admin"}, resp: "admin\x00juliet\x00r0m30"},
	2: {mech: sasl.OAuthBearer, creds: token, resp: "n,,\x01auth=Bearer vF9dft4qmTc2Nvb3RlckBhdHRhdmlzdGEuY29tCg==\x01\x01"},
	3: {mech: sasl.OAuthBearer, creds: sasl.Credentials{Token: "t", Identity: "juliet@example.com"}, resp: "n,a=juliet@example.com,\x01auth=Bearer t\x01\x01"},
	4: {mech: sasl.XOAuth2, creds: token, resp: "\x00juliet\x00vF9dft4qmTc2Nvb3RlckBhdHRhdmlzdGEuY29tCg=="},
	5: {mech: sasl.Anonymous, resp: ""},
	6: {mech: sasl.External, creds: sasl.Credentials{External: true}, resp: ""},
	7: {mech: sasl.External, creds: sasl.Credentials{External: true, Identity: "juliet@example.com"}, resp: "juliet@example.com"},
}

func TestInitialResponse(t *testing.T) {
	for i, tc := range initialTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			c := sasl.NewClient(tc.mech, tc.creds)
			if c.Name() != tc.mech.Name {
				t.Errorf("wrong name: want=%s, got=%s", tc.mech.Name, c.Name())
			}
			resp, err := c.Start()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s := string(resp); s != tc.resp {
				t.Errorf("wrong initial response: want=%q, got=%q", tc.resp, s)
			}
			if err := c.Success(nil); err != nil {
				t.Errorf("unexpected error on success: %v", err)
			}
			if _, err := c.Challenge([]byte("more")); err == nil {
				t.Errorf("expected error for challenge after single step mechanism")
			}
		})
	}
}

// Each client generates its own nonce.
func TestScramFreshNonce(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		c := sasl.NewClient(sasl.ScramSha256, password)
		resp, err := c.Start()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, nonce, ok := strings.Cut(string(resp), ",r=")
		if !ok || len(nonce) < 22 {
			t.Fatalf("nonce missing or too short in %q", resp)
		}
		if seen[nonce] {
			t.Fatalf("nonce %q reused", nonce)
		}
		seen[nonce] = true
	}
}
