// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"
	msasl "mellium.im/sasl"
)

var (
	clientKeyInput = []byte("Client Key")
	serverKeyInput = []byte("Server Key")
)

const keyCacheSize = 32

var defaultCache = newKeyCache(keyCacheSize)

// scramKeys are the values derived from the salted password.
type scramKeys struct {
	client []byte
	stored []byte
	server []byte
}

// keyCache remembers derived keys so that reconnecting with the same salt and
// iteration count does not repeat the key derivation.
type keyCache struct {
	lru *lru.Cache[string, scramKeys]
}

func newKeyCache(size int) *keyCache {
	c, err := lru.New[string, scramKeys](size)
	if err != nil {
		panic(err)
	}
	return &keyCache{lru: c}
}

func cacheKey(name string, password, salt []byte, iter int) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(password)
	h.Write([]byte{0})
	h.Write(salt)
	var i [8]byte
	binary.BigEndian.PutUint64(i[:], uint64(iter))
	h.Write(i[:])
	return string(h.Sum(nil))
}

func (c *keyCache) derive(name string, fn func() hash.Hash, password, salt []byte, iter int) scramKeys {
	key := cacheKey(name, password, salt, iter)
	if k, ok := c.lru.Get(key); ok {
		return k
	}
	salted := pbkdf2.Key(password, salt, iter, fn().Size(), fn)
	k := scramKeys{
		client: hmacSum(fn, salted, clientKeyInput),
		server: hmacSum(fn, salted, serverKeyInput),
	}
	h := fn()
	h.Write(k.client)
	k.stored = h.Sum(nil)
	c.lru.Add(key, k)
	return k
}

func hmacSum(fn func() hash.Hash, key, msg []byte) []byte {
	h := hmac.New(fn, key)
	h.Write(msg)
	return h.Sum(nil)
}

// scramState is the per attempt scratch state of a SCRAM exchange.
type scramState struct {
	gs2             []byte
	nonce           []byte
	clientFirstBare []byte
	serverSig       []byte
}

var scramEscaper = strings.NewReplacer("=", "=3D", ",", "=2C")

// scram returns a SCRAM mechanism without channel binding.
// If nonce is nil the nonce generated by the negotiator is used.
func scram(name string, fn func() hash.Hash, cache *keyCache, nonce func() []byte) msasl.Mechanism {
	return msasl.Mechanism{
		Name: name,
		Start: func(n *msasl.Negotiator) (bool, []byte, interface{}, error) {
			user, _, identity := n.Credentials()
			st := &scramState{nonce: n.Nonce()}
			if nonce != nil {
				st.nonce = nonce()
			}

			st.gs2 = []byte("n,")
			if len(identity) > 0 {
				st.gs2 = append(st.gs2, "a="+scramEscaper.Replace(string(identity))...)
			}
			st.gs2 = append(st.gs2, ',')

			st.clientFirstBare = []byte("n=" + scramEscaper.Replace(string(user)) + ",r=" + string(st.nonce))

			resp := make([]byte, 0, len(st.gs2)+len(st.clientFirstBare))
			resp = append(resp, st.gs2...)
			resp = append(resp, st.clientFirstBare...)
			return true, resp, st, nil
		},
		Next: func(n *msasl.Negotiator, challenge []byte, data interface{}) (bool, []byte, interface{}, error) {
			st, ok := data.(*scramState)
			if !ok {
				return false, nil, nil, msasl.ErrInvalidState
			}
			switch n.State() & msasl.StepMask {
			case msasl.AuthTextSent:
				return scramClientFinal(name, fn, cache, n, st, challenge)
			case msasl.ResponseSent:
				return false, nil, st, scramVerify(st, challenge)
			}
			return false, nil, st, msasl.ErrTooManySteps
		},
	}
}

func scramClientFinal(name string, fn func() hash.Hash, cache *keyCache, n *msasl.Negotiator, st *scramState, challenge []byte) (bool, []byte, interface{}, error) {
	var (
		nonce, salt []byte
		iter        = -1
		err         error
	)
	for _, field := range bytes.Split(challenge, []byte{','}) {
		if len(field) < 2 || field[1] != '=' {
			return false, nil, st, msasl.ErrInvalidChallenge
		}
		val := field[2:]
		switch field[0] {
		case 'm':
			return false, nil, st, errors.New("sasl: server sent reserved attribute m")
		case 'e':
			return false, nil, st, &ServerError{Value: string(val)}
		case 'r':
			nonce = val
		case 's':
			salt, err = base64.StdEncoding.DecodeString(string(val))
			if err != nil {
				return false, nil, st, msasl.ErrInvalidChallenge
			}
		case 'i':
			iter, err = strconv.Atoi(string(val))
			if err != nil {
				return false, nil, st, msasl.ErrInvalidChallenge
			}
		}
	}
	switch {
	case nonce == nil:
		return false, nil, st, msasl.ErrInvalidChallenge
	case len(nonce) <= len(st.nonce) || !bytes.HasPrefix(nonce, st.nonce):
		return false, nil, st, ErrNonceMismatch
	case len(salt) == 0 || iter < 1:
		return false, nil, st, msasl.ErrInvalidChallenge
	}

	_, password, _ := n.Credentials()
	if prepared, err := precis.OpaqueString.Bytes(password); err == nil {
		password = prepared
	}
	keys := cache.derive(name, fn, password, salt, iter)

	final := []byte("c=" + base64.StdEncoding.EncodeToString(st.gs2) + ",r=" + string(nonce))

	authMessage := make([]byte, 0, len(st.clientFirstBare)+len(challenge)+len(final)+2)
	authMessage = append(authMessage, st.clientFirstBare...)
	authMessage = append(authMessage, ',')
	authMessage = append(authMessage, challenge...)
	authMessage = append(authMessage, ',')
	authMessage = append(authMessage, final...)

	proof := hmacSum(fn, keys.stored, authMessage)
	subtle.XORBytes(proof, proof, keys.client)
	st.serverSig = hmacSum(fn, keys.server, authMessage)

	final = append(final, ",p="...)
	final = append(final, base64.StdEncoding.EncodeToString(proof)...)
	return true, final, st, nil
}

func scramVerify(st *scramState, challenge []byte) error {
	switch {
	case bytes.HasPrefix(challenge, []byte("e=")):
		return &ServerError{Value: string(challenge[2:])}
	case !bytes.HasPrefix(challenge, []byte("v=")):
		return ErrServerSignature
	}
	sig, err := base64.StdEncoding.DecodeString(string(challenge[2:]))
	if err != nil || !hmac.Equal(sig, st.serverSig) {
		return ErrServerSignature
	}
	return nil
}
