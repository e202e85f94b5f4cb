/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package errs defines the error kinds shared by the agent and client
// sides of the fabric (spec.md §7).
package errs

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"github.com/mozilla-services/gofer/message"
)

// ConfigError wraps a descriptor parsing/validation failure. It aborts
// only the plugin it names, never the whole agent.
type ConfigError struct {
	Plugin string
	Cause  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("plugin %s: config error: %s", e.Plugin, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// TransportError wraps a dropped session; callers reconnect with
// backoff rather than treating it as fatal.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return "transport error: " + e.Cause.Error() }
func (e *TransportError) Unwrap() error { return e.Cause }

// NewTransportError wraps cause, attaching a stack via pkg/errors.
func NewTransportError(cause error) *TransportError {
	return &TransportError{Cause: errors.WithStack(cause)}
}

// ErrAuthFailure names a per-envelope authentication failure. Nothing
// in this module returns it: signatures are checked by the transport
// reader, whose Fetch returns message.ErrAuthFailure, and the consumer
// logs that error and drops the envelope without sending a rejection
// reply.
var ErrAuthFailure = errors.New("authentication failure")

// ErrWindowMissed is raised when a pending envelope's window has
// already closed by the time it is replayed or first seen.
type ErrWindowMissed struct {
	SN string
}

func (e *ErrWindowMissed) Error() string { return "window missed: " + e.SN }

// ErrWindowPending signals that an envelope's window is in the future;
// it is parked in the pending store and never surfaces as a reply.
type ErrWindowPending struct {
	SN string
}

func (e *ErrWindowPending) Error() string { return "window pending: " + e.SN }

// ErrNotFound is raised when a class or method cannot be resolved by
// the dispatcher; it is packaged into the reply as a remote exception,
// never returned to the caller of Dispatch directly.
type ErrNotFound struct {
	Classname, Method string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s.%s", e.Classname, e.Method)
}

// RemoteException reconstructs, on the client, the exception a remote
// call raised (spec.md §6's result.{exval,xmodule,xclass,xstate,xargs}).
type RemoteException struct {
	Xmodule string
	Xclass  string
	Xargs   json.RawMessage
	Xstate  json.RawMessage
}

func (e *RemoteException) Error() string {
	if e.Xmodule != "" {
		return fmt.Sprintf("%s.%s: %s", e.Xmodule, e.Xclass, string(e.Xargs))
	}
	return fmt.Sprintf("%s: %s", e.Xclass, string(e.Xargs))
}

// RequestTimeout is raised by the synchronous client policy. Phase 0
// means the "started" reply never arrived; phase 1 means the terminal
// reply never arrived.
type RequestTimeout struct {
	SN    string
	Phase int
}

func (e *RequestTimeout) Error() string {
	return fmt.Sprintf("request %s timed out (phase %d)", e.SN, e.Phase)
}

// Classed is implemented by plugin-raised errors that want to name
// their own remote exception class instead of the Go type name.
type Classed interface {
	error
	Class() string
}

// ToResult wraps a Go error into the terminal result shape of spec.md
// §6. ErrNotFound, ErrWindowMissed, and plain errors are all packaged
// the same way: never propagated, always captured (spec.md §7).
func ToResult(err error) *message.Result {
	if err == nil {
		return &message.Result{Retval: json.RawMessage("null")}
	}
	switch e := err.(type) {
	case *ErrWindowMissed:
		return &message.Result{Exval: e.Error(), Xclass: "WindowMissed", Xargs: mustJSON([]string{e.SN})}
	case *ErrNotFound:
		return &message.Result{Exval: e.Error(), Xclass: "NotFound", Xargs: mustJSON([]string{e.Error()})}
	case Classed:
		return &message.Result{Exval: e.Error(), Xclass: e.Class(), Xargs: mustJSON([]string{e.Error()})}
	}
	return &message.Result{
		Exval:  err.Error(),
		Xclass: reflect.TypeOf(err).String(),
		Xargs:  mustJSON([]string{err.Error()}),
	}
}

// FromResult reconstructs a typed error on the client side from a
// terminal result carrying an exception.
func FromResult(r *message.Result) error {
	if r.Succeeded() {
		return nil
	}
	if r.Xclass == "WindowMissed" {
		return &ErrWindowMissed{}
	}
	return &RemoteException{
		Xmodule: r.Xmodule,
		Xclass:  r.Xclass,
		Xargs:   r.Xargs,
		Xstate:  r.Xstate,
	}
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
