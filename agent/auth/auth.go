/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package auth is the optional per-envelope authentication hook
// (spec.md §4.1, §4.11). It is a first-class field threaded from
// Plugin down through Consumer, rather than hung off a deep
// consumer.reader.authenticator attribute chain (spec.md §9).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/mozilla-services/gofer/message"
)

// Authenticator verifies/signs envelope bodies. It satisfies
// message.Signer directly so it can be passed to message.Dump/Load.
type Authenticator interface {
	message.Signer
}

// HMACAuthenticator is a shared-secret detached-signature
// authenticator. A bare HMAC is sufficient here: the fabric needs a
// single symmetric check per envelope, not a certificate chain or a
// claims format, so no token library (JWT or otherwise) earns its
// weight over two crypto/hmac calls.
type HMACAuthenticator struct {
	secret []byte
}

// NewHMACAuthenticator builds an authenticator from a shared secret.
func NewHMACAuthenticator(secret string) *HMACAuthenticator {
	return &HMACAuthenticator{secret: []byte(secret)}
}

func (a *HMACAuthenticator) Sign(body []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	return mac.Sum(nil), nil
}

func (a *HMACAuthenticator) Verify(body, signature []byte) error {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, signature) != 1 {
		return message.ErrAuthFailure
	}
	return nil
}
