/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package transport defines the abstract broker/exchange/queue/
// producer/reader capabilities the core depends on (spec.md §4.2). The
// physical wire transport is out of scope for the core; this package
// only states the contract it must satisfy.
package transport

import (
	"context"
	"strings"
	"time"

	"github.com/mozilla-services/gofer/message"
)

// TLSConfig carries the broker SSL options named in spec.md §4.8's
// messaging section (cacert, clientcert, host_validation).
type TLSConfig struct {
	CACert         string
	ClientCert     string
	HostValidation bool
}

// Destination is an (exchange, routing_key) pair that resolves to a
// wire address. Two agents sharing a uuid share a Destination
// (intentional broadcast-by-re-addressing, spec.md §3).
type Destination struct {
	Exchange   string
	RoutingKey string
}

// Address renders the destination as the opaque string carried in an
// envelope's replyto field.
func (d Destination) Address() string {
	if d.Exchange == "" {
		return d.RoutingKey
	}
	return d.Exchange + "/" + d.RoutingKey
}

// ParseDestination reverses Address, splitting on the first "/". An
// address with no slash is treated as a bare routing key on the
// default exchange, the inverse of Address's own exchange-less case.
func ParseDestination(addr string) Destination {
	if i := strings.Index(addr, "/"); i >= 0 {
		return Destination{Exchange: addr[:i], RoutingKey: addr[i+1:]}
	}
	return Destination{RoutingKey: addr}
}

// Broker owns a connection to one URL. SetTLS must be called, if at
// all, before Connect.
type Broker interface {
	SetTLS(cfg TLSConfig)
	Connect(ctx context.Context) error
	Close() error
}

// Exchange resolves the well-known direct exchange for a URL.
type Exchange interface {
	Name() string
}

// Queue is declared against a URL and resolves to a Destination.
type Queue interface {
	Name() string
	Durable() bool
	AutoDelete() bool
	// Managed reports whether the agent owns this queue's lifecycle
	// (deletes it on detach) as opposed to a broker-owned queue
	// (spec.md §3).
	Managed() bool
	Declare(ctx context.Context, url string) error
	Delete(ctx context.Context, url string, drain bool) error
	Destination() Destination
}

// Producer sends envelopes to a destination, returning the generated
// serial number.
type Producer interface {
	Send(ctx context.Context, dest Destination, env *message.Envelope) (sn string, err error)
	// SetSigner installs the authenticator used to sign outgoing
	// envelope bodies; nil (the default) sends unsigned. It must be
	// called, if at all, before the first Send (spec.md §4.11).
	SetSigner(signer message.Signer)
	Close() error
}

// Reader fetches/searches envelopes from one queue.
type Reader interface {
	// Fetch waits up to timeout for the next envelope; a nil envelope
	// with nil error means the wait simply elapsed (normal, spec.md
	// §4.6 step 1).
	Fetch(ctx context.Context, timeout time.Duration) (*message.Envelope, error)
	// Search reads until an envelope with the given sn arrives or the
	// timeout elapses; non-matching envelopes are acked and discarded
	// (spec.md §4.7).
	Search(ctx context.Context, sn string, timeout time.Duration) (*message.Envelope, error)
	Ack() error
	// SetVerifier installs the authenticator used to verify incoming
	// envelope signatures; nil (the default) accepts unsigned
	// envelopes. It must be called, if at all, before the first Fetch
	// or Search (spec.md §4.11).
	SetVerifier(verifier message.Signer)
	Close() error
}

// Factory binds a URL scheme to a transport implementation. Exactly
// one implementation is bound per URL for the process lifetime
// (spec.md §4.2).
type Factory interface {
	Scheme() string
	NewBroker(url string) (Broker, error)
	NewExchangeDirect(url string) (Exchange, error)
	NewQueue(name string, exchange Exchange, routingKey string, durable, autoDelete, managed bool) Queue
	NewProducer(url string) (Producer, error)
	NewReader(url string, q Queue) (Reader, error)
}
