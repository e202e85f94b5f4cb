/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package memtransport is an in-process transport.Factory used by the
// test suite in place of a live broker, the same way heka's
// pipeline/testsupport and plugins/testsupport packages let plugins be
// tested without a downstream service.
package memtransport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mozilla-services/gofer/message"
	"github.com/mozilla-services/gofer/transport"
)

// Scheme is the URL scheme this package registers under ("mem://...").
const Scheme = "mem"

func init() {
	transport.Register(&factory{})
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]map[string]*queueState) // url -> routing key -> queue
)

// queueState carries wire bytes, not live *message.Envelope values, so
// that an installed Signer/verifier pair is genuinely exercised
// end-to-end even against this in-process transport (the same way a
// real broker would only ever see the serialized form).
type queueState struct {
	ch chan []byte
}

func newQueueState() *queueState {
	return &queueState{ch: make(chan []byte, 4096)}
}

func (q *queueState) push(body []byte) {
	q.ch <- body
}

// pop waits up to timeout for an entry; returns nil, false on timeout.
func (q *queueState) pop(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e := <-q.ch:
		return e, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// queueFor returns the queue for address, creating it on first use.
// Queues are keyed by routing key alone, so "amq.direct/x" and a bare
// "x" reach the same queue, as they do on a broker where each queue's
// binding key equals its name.
func queueFor(url, address string) *queueState {
	key := transport.ParseDestination(address).RoutingKey
	registryMu.Lock()
	defer registryMu.Unlock()
	byURL, ok := registry[url]
	if !ok {
		byURL = make(map[string]*queueState)
		registry[url] = byURL
	}
	q, ok := byURL[key]
	if !ok {
		q = newQueueState()
		byURL[key] = q
	}
	return q
}

func deleteQueue(url, address string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if byURL, ok := registry[url]; ok {
		delete(byURL, transport.ParseDestination(address).RoutingKey)
	}
}

type factory struct{}

func (factory) Scheme() string { return Scheme }

func (factory) NewBroker(string) (transport.Broker, error) { return &broker{}, nil }

func (factory) NewExchangeDirect(string) (transport.Exchange, error) {
	return &exchange{name: "amq.direct"}, nil
}

func (factory) NewQueue(name string, ex transport.Exchange, routingKey string, durable, autoDelete, managed bool) transport.Queue {
	if routingKey == "" {
		routingKey = name
	}
	exName := ""
	if ex != nil {
		exName = ex.Name()
	}
	return &queue{
		name:       name,
		exchange:   exName,
		routingKey: routingKey,
		durable:    durable,
		autoDelete: autoDelete,
		managed:    managed,
	}
}

func (factory) NewProducer(url string) (transport.Producer, error) {
	return &producer{url: url}, nil
}

func (factory) NewReader(url string, q transport.Queue) (transport.Reader, error) {
	return &reader{url: url, q: q.(*queue)}, nil
}

type broker struct{}

func (*broker) SetTLS(transport.TLSConfig)       {}
func (*broker) Connect(context.Context) error    { return nil }
func (*broker) Close() error                     { return nil }

type exchange struct{ name string }

func (e *exchange) Name() string { return e.name }

type queue struct {
	name, exchange, routingKey string
	durable, autoDelete, managed bool
}

func (q *queue) Name() string       { return q.name }
func (q *queue) Durable() bool      { return q.durable }
func (q *queue) AutoDelete() bool   { return q.autoDelete }
func (q *queue) Managed() bool      { return q.managed }

func (q *queue) Destination() transport.Destination {
	return transport.Destination{Exchange: q.exchange, RoutingKey: q.routingKey}
}

func (q *queue) Declare(_ context.Context, url string) error {
	queueFor(url, q.Destination().Address())
	return nil
}

func (q *queue) Delete(_ context.Context, url string, drain bool) error {
	deleteQueue(url, q.Destination().Address())
	return nil
}

type producer struct {
	url    string
	signer message.Signer
}

func (p *producer) SetSigner(signer message.Signer) { p.signer = signer }

func (p *producer) Send(ctx context.Context, dest transport.Destination, env *message.Envelope) (string, error) {
	if env.SN == "" {
		env.SN = uuid.NewString()
	}
	if env.Version == "" {
		env.Version = message.Version
	}
	body, err := message.Dump(env, p.signer)
	if err != nil {
		return "", err
	}
	q := queueFor(p.url, dest.Address())
	q.push([]byte(body))
	return env.SN, nil
}

func (p *producer) Close() error { return nil }

type reader struct {
	url      string
	q        *queue
	verifier message.Signer
}

func (r *reader) SetVerifier(verifier message.Signer) { r.verifier = verifier }

func (r *reader) Fetch(ctx context.Context, timeout time.Duration) (*message.Envelope, error) {
	q := queueFor(r.url, r.q.Destination().Address())
	body, ok := q.pop(ctx, timeout)
	if !ok {
		return nil, nil
	}
	return message.Load(body, r.verifier)
}

// Search fetches until an envelope matching sn arrives or timeout
// elapses, always attempting at least one Fetch with the full timeout
// first - a zero timeout still checks the queue once rather than
// returning immediately, per spec.md §8's zero-timeout boundary.
func (r *reader) Search(ctx context.Context, sn string, timeout time.Duration) (*message.Envelope, error) {
	deadline := time.Now().Add(timeout)
	remaining := timeout
	for {
		e, err := r.Fetch(ctx, remaining)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, nil
		}
		if e.SN == sn {
			return e, nil
		}
		// non-matching envelope belongs to another call; discard (ack, implicit here).
		remaining = time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
	}
}

func (r *reader) Ack() error   { return nil }
func (r *reader) Close() error { return nil }
