/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package dispatch is the request routing and consumer receive-loop
// half of the fabric (spec.md §4.4/§4.6): C5 Dispatcher and C6 Request
// consumer.
package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/mozilla-services/gofer/agent/errs"
	"github.com/mozilla-services/gofer/message"
)

// RemoteFunc is a single remote-callable method, registered under a
// classname/method pair. It is the Go replacement for the Python
// @remote decorator marking a bound method (spec.md §9's redesign
// note): a plain function value instead of reflection over exported
// struct methods, so a call with an unknown classname.method pair is a
// map miss, not a reflect panic.
type RemoteFunc func(req *message.Request, progress message.ProgressFunc) (interface{}, error)

// Dispatcher is a classname/method routing table (spec.md §4.4).
// It never panics on missing routes or lookup failures - the caller
// always gets back a terminal *message.Result built via
// errs.ToResult/errs.ErrNotFound.
type Dispatcher struct {
	mu      sync.RWMutex
	classes map[string]map[string]RemoteFunc
}

// NewDispatcher returns an empty routing table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{classes: make(map[string]map[string]RemoteFunc)}
}

// Register binds fn as classname.method.
func (d *Dispatcher) Register(classname, method string, fn RemoteFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.classes[classname] == nil {
		d.classes[classname] = make(map[string]RemoteFunc)
	}
	d.classes[classname][method] = fn
}

// Merge copies every binding from other into d, the Go shape of
// original_source's Plugin.__iadd__ used by extends (spec.md §4.8):
// the child's bindings are added to the parent under the parent's own
// dispatcher, with the parent's existing bindings for the same
// classname.method taking precedence so extending a plugin never
// silently overrides behavior it already defines.
func (d *Dispatcher) Merge(other *Dispatcher) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	for classname, methods := range other.classes {
		if d.classes[classname] == nil {
			d.classes[classname] = make(map[string]RemoteFunc)
		}
		for method, fn := range methods {
			if _, exists := d.classes[classname][method]; exists {
				continue
			}
			d.classes[classname][method] = fn
		}
	}
}

// lookup resolves classname.method without holding the lock across the
// call into fn.
func (d *Dispatcher) lookup(classname, method string) (RemoteFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	methods, ok := d.classes[classname]
	if !ok {
		return nil, false
	}
	fn, ok := methods[method]
	return fn, ok
}

// Dispatch invokes the bound method for req, recovering a panicking
// handler into an error result so one bad plugin method can never take
// down the consumer goroutine that called it. progress is passed
// straight through to the handler; a nil progress is turned into a
// no-op so handlers never need to nil-check it.
func (d *Dispatcher) Dispatch(req *message.Request, progress message.ProgressFunc) (result *message.Result) {
	fn, ok := d.lookup(req.Classname, req.Method)
	if !ok {
		return errs.ToResult(&errs.ErrNotFound{Classname: req.Classname, Method: req.Method})
	}
	if progress == nil {
		progress = func(int, int) {}
	}

	defer func() {
		if r := recover(); r != nil {
			result = errs.ToResult(errors.Errorf("handler panic: %v", r))
		}
	}()

	retval, err := fn(req, progress)
	if err != nil {
		return errs.ToResult(err)
	}
	return successResult(retval)
}

// successResult marshals retval into a terminal Result. A value that
// fails to marshal is itself surfaced as a failed dispatch, never
// silently dropped.
func successResult(retval interface{}) *message.Result {
	body, err := json.Marshal(retval)
	if err != nil {
		return errs.ToResult(errors.Wrap(err, "marshal return value"))
	}
	return &message.Result{Retval: body}
}
