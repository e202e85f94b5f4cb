/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mozilla-services/gofer/message"
	"github.com/mozilla-services/gofer/transport"
)

// Asynchronous redirects the reply to a correlation-tag (ctag) queue
// instead of blocking for it, the Go counterpart of original_source's
// Asynchronous policy (spec.md §4.7).
type Asynchronous struct {
	factory transport.Factory
	url     string

	Ctag          string
	Timeout       Timeout
	ManualTrigger bool
	Watchdog      *Watchdog
}

// NewAsynchronous returns an Asynchronous policy bound to url.
func NewAsynchronous(factory transport.Factory, url string, ctag string, timeout Timeout, manualTrigger bool, watchdog *Watchdog) *Asynchronous {
	return &Asynchronous{factory: factory, url: url, Ctag: ctag, Timeout: timeout, ManualTrigger: manualTrigger, Watchdog: watchdog}
}

// Send builds a Trigger for dest/request and, unless ManualTrigger is
// set, fires it immediately. The returned value is always the
// *Trigger - manual callers fire it themselves; automatic callers
// can still inspect its SN.
func (a *Asynchronous) Send(ctx context.Context, dest transport.Destination, request *message.Request, window *message.Window, any json.RawMessage) (interface{}, error) {
	t := newTrigger(a, dest, request, window, any)
	if a.ManualTrigger {
		return t, nil
	}
	if err := t.Fire(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Broadcast builds and (unless ManualTrigger) fires one Trigger per
// destination, returning every trigger's sn - original_source's
// Asynchronous.broadcast.
func (a *Asynchronous) Broadcast(ctx context.Context, dests []transport.Destination, request *message.Request, window *message.Window, any json.RawMessage) ([]string, []*Trigger, error) {
	triggers := make([]*Trigger, 0, len(dests))
	for _, d := range dests {
		triggers = append(triggers, newTrigger(a, d, request, window, any))
	}
	if a.ManualTrigger {
		return nil, triggers, nil
	}
	sns := make([]string, 0, len(triggers))
	for _, t := range triggers {
		if err := t.Fire(ctx); err != nil {
			return sns, triggers, err
		}
		sns = append(sns, t.SN())
	}
	return sns, triggers, nil
}

func (a *Asynchronous) replyTo() string {
	if a.Ctag == "" {
		return ""
	}
	return transport.Destination{RoutingKey: a.Ctag}.Address()
}

func (a *Asynchronous) notifyWatchdog(sn, replyTo string, any json.RawMessage) {
	if replyTo == "" || a.Ctag == "" || a.Watchdog == nil {
		return
	}
	if a.Timeout.Start == 0 && a.Timeout.Duration == 0 {
		return
	}
	a.Watchdog.Track(sn, replyTo, any, a.Timeout)
}

// Trigger is a one-shot fire for an asynchronous request
// (original_source's Trigger): built eagerly with its sn, but the
// network send only happens on Fire.
type Trigger struct {
	policy  *Asynchronous
	dest    transport.Destination
	request *message.Request
	window  *message.Window
	any     json.RawMessage

	mu    sync.Mutex
	sn    string
	fired bool
}

func newTrigger(policy *Asynchronous, dest transport.Destination, request *message.Request, window *message.Window, any json.RawMessage) *Trigger {
	return &Trigger{policy: policy, dest: dest, request: request, window: window, any: any, sn: uuid.NewString()}
}

// SN is the request's serial number, valid even before Fire.
func (t *Trigger) SN() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sn
}

// ErrTriggerFired is returned by a second call to Fire -
// original_source's "trigger already executed".
var ErrTriggerFired = errors.New("trigger already executed")

// Fire sends the request. A second call returns ErrTriggerFired.
func (t *Trigger) Fire(ctx context.Context) error {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return ErrTriggerFired
	}
	t.fired = true
	t.mu.Unlock()

	producer, err := t.policy.factory.NewProducer(t.policy.url)
	if err != nil {
		return errors.Wrap(err, "new producer")
	}
	defer producer.Close()

	replyTo := t.policy.replyTo()
	env := &message.Envelope{
		SN:      t.sn,
		ReplyTo: replyTo,
		TTL:     int(t.policy.Timeout.Start.Seconds()),
		Request: t.request,
		Window:  t.window,
		Any:     t.any,
	}
	if _, err := producer.Send(ctx, t.dest, env); err != nil {
		return errors.Wrap(err, "send request")
	}
	t.policy.notifyWatchdog(t.sn, replyTo, t.any)
	return nil
}
