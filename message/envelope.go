/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package message defines the envelope carried on the wire between
// agents and clients: requests, started/progress status, and terminal
// results.
package message

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Version is the only protocol tag this package understands. Envelopes
// carrying any other value are discarded by the consumer, not rejected
// with an error reply.
const Version = "1"

// Status marks a non-terminal envelope. A terminal envelope (one
// carrying Result) leaves Status empty.
type Status string

const (
	StatusNone     Status = ""
	StatusStarted  Status = "started"
	StatusProgress Status = "progress"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// ProgressFunc is handed to a remote method so it can report partial
// completion while it runs; completed/total are carried verbatim onto
// a status=progress envelope (spec.md §4.7/§8). A method that never
// calls it simply never emits a progress envelope.
type ProgressFunc func(completed, total int)

// Constructor carries the args/kws used to build an instance before a
// method is invoked on it.
type Constructor struct {
	Args []json.RawMessage          `json:"args,omitempty"`
	Kws  map[string]json.RawMessage `json:"kws,omitempty"`
}

// Request is the nested RMI call description.
type Request struct {
	Classname string                     `json:"classname"`
	Method    string                     `json:"method"`
	Args      []json.RawMessage          `json:"args,omitempty"`
	Kws       map[string]json.RawMessage `json:"kws,omitempty"`
	Cntr      *Constructor               `json:"cntr,omitempty"`
}

// Result is present only on terminal envelopes: either Retval on
// success, or the Exval/Xmodule/Xclass/Xstate/Xargs fields that let the client
// reconstruct a typed remote exception.
type Result struct {
	Retval  json.RawMessage `json:"retval,omitempty"`
	Exval   string          `json:"exval,omitempty"`
	Xmodule string          `json:"xmodule,omitempty"`
	Xclass  string          `json:"xclass,omitempty"`
	Xstate  json.RawMessage `json:"xstate,omitempty"`
	Xargs   json.RawMessage `json:"xargs,omitempty"`
}

// Succeeded reports whether this result carries a return value rather
// than an exception.
func (r *Result) Succeeded() bool {
	return r != nil && r.Exval == ""
}

// Envelope is the universal message body (spec.md §3/§6).
type Envelope struct {
	SN       string          `json:"sn"`
	Version  string          `json:"version"`
	Routing  [2]string       `json:"routing,omitempty"`
	Request  *Request        `json:"request,omitempty"`
	ReplyTo  string          `json:"replyto,omitempty"`
	Window   *Window         `json:"window,omitempty"`
	Any      json.RawMessage `json:"any,omitempty"`
	Secret   string          `json:"secret,omitempty"`
	TTL      int             `json:"ttl,omitempty"`
	Status   Status          `json:"status,omitempty"`
	Result   *Result         `json:"result,omitempty"`
	Total    int             `json:"total,omitempty"`
	Completed int            `json:"completed,omitempty"`
	Details  string          `json:"details,omitempty"`

	// Signature is a detached signature over the canonicalized body,
	// populated by Dump/Load when an Authenticator is installed. It is
	// never serialized as part of the signed payload itself.
	Signature []byte `json:"signature,omitempty"`
}

// Signer is implemented by an authenticator installed on a plugin or a
// consumer. Sign/Verify operate over the canonical (signature-less)
// JSON encoding of the envelope.
type Signer interface {
	Sign(body []byte) ([]byte, error)
	Verify(body, signature []byte) error
}

// Dump serializes the envelope to its wire JSON form. When signer is
// non-nil the canonical body is signed and the signature attached.
func Dump(e *Envelope, signer Signer) (string, error) {
	e.Signature = nil
	body, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "marshal envelope")
	}
	if signer == nil {
		return string(body), nil
	}
	sig, err := signer.Sign(body)
	if err != nil {
		return "", errors.Wrap(err, "sign envelope")
	}
	signed := *e
	signed.Signature = sig
	out, err := json.Marshal(&signed)
	if err != nil {
		return "", errors.Wrap(err, "marshal signed envelope")
	}
	return string(out), nil
}

// ErrAuthFailure is returned by Load when signature verification fails.
var ErrAuthFailure = errors.New("envelope authentication failed")

// Load parses the wire JSON form. When verifier is non-nil, the
// attached signature is checked against the canonical (signature-less)
// body; a mismatch or missing signature yields ErrAuthFailure.
func Load(data []byte, verifier Signer) (*Envelope, error) {
	e := &Envelope{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, errors.Wrap(err, "unmarshal envelope")
	}
	if verifier == nil {
		return e, nil
	}
	sig := e.Signature
	canonical := *e
	canonical.Signature = nil
	body, err := json.Marshal(&canonical)
	if err != nil {
		return nil, errors.Wrap(err, "marshal canonical envelope")
	}
	if len(sig) == 0 {
		return nil, ErrAuthFailure
	}
	if err := verifier.Verify(body, sig); err != nil {
		return nil, ErrAuthFailure
	}
	return e, nil
}

