// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	scramSalt  = "xmpptest-salt"
	scramIter  = 4096
	scramNonce = "xmpptestservernonce"
)

var scramHashes = map[string]func() hash.Hash{
	"SCRAM-SHA-1":   sha1.New,
	"SCRAM-SHA-256": sha256.New,
	"SCRAM-SHA-384": sha512.New384,
	"SCRAM-SHA-512": sha512.New,
}

var errScramProof = errors.New("xmpptest: invalid client proof")

// scramServer is the server side of a SCRAM exchange.
type scramServer struct {
	fn              func() hash.Hash
	lookup          func(user string) (string, bool)
	corrupt         bool
	user            string
	nonce           string
	clientFirstBare string
	serverFirst     string
}

func hmacSum(fn func() hash.Hash, key []byte, msg string) []byte {
	h := hmac.New(fn, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

// first handles client-first and returns server-first.
func (s *scramServer) first(msg string) (string, error) {
	if !strings.HasPrefix(msg, "n,") {
		return "", errors.New("xmpptest: channel binding is not supported")
	}
	_, bare, ok := strings.Cut(msg[2:], ",")
	if !ok {
		return "", errors.New("xmpptest: missing gs2 header")
	}
	s.clientFirstBare = bare
	for _, field := range strings.Split(bare, ",") {
		switch {
		case strings.HasPrefix(field, "n="):
			s.user = strings.NewReplacer("=2C", ",", "=3D", "=").Replace(field[2:])
		case strings.HasPrefix(field, "r="):
			s.nonce = field[2:] + scramNonce
		}
	}
	if s.user == "" || s.nonce == scramNonce {
		return "", errors.New("xmpptest: malformed client-first")
	}
	s.serverFirst = "r=" + s.nonce + ",s=" + base64.StdEncoding.EncodeToString([]byte(scramSalt)) + ",i=" + strconv.Itoa(scramIter)
	return s.serverFirst, nil
}

// final checks client-final and returns server-final.
func (s *scramServer) final(msg string) (string, error) {
	i := strings.LastIndex(msg, ",p=")
	if i < 0 {
		return "", errScramProof
	}
	withoutProof := msg[:i]
	proof, err := base64.StdEncoding.DecodeString(msg[i+3:])
	if err != nil {
		return "", errScramProof
	}
	if !strings.Contains(withoutProof, ",r="+s.nonce) {
		return "", errScramProof
	}
	password, ok := s.lookup(s.user)
	if !ok {
		return "", errScramProof
	}

	salted := pbkdf2.Key([]byte(password), []byte(scramSalt), scramIter, s.fn().Size(), s.fn)
	clientKey := hmacSum(s.fn, salted, "Client Key")
	h := s.fn()
	h.Write(clientKey)
	storedKey := h.Sum(nil)
	authMessage := s.clientFirstBare + "," + s.serverFirst + "," + withoutProof

	clientSig := hmacSum(s.fn, storedKey, authMessage)
	if len(proof) != len(clientSig) {
		return "", errScramProof
	}
	for i := range proof {
		proof[i] ^= clientSig[i]
	}
	h = s.fn()
	h.Write(proof)
	if !bytes.Equal(h.Sum(nil), storedKey) {
		return "", errScramProof
	}

	serverSig := hmacSum(s.fn, hmacSum(s.fn, salted, "Server Key"), authMessage)
	if s.corrupt {
		serverSig[0] ^= 0xff
	}
	return "v=" + base64.StdEncoding.EncodeToString(serverSig), nil
}
