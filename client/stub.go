/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package client

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mozilla-services/gofer/message"
	"github.com/mozilla-services/gofer/transport"
)

// Options configures a Container (original_source's Container
// **options): whether requests are asynchronous, the correlation tag
// that implies it, the request window, and the timeout budget.
type Options struct {
	Async         bool
	Ctag          string
	Window        *message.Window
	Timeout       Timeout
	Progress      ProgressFunc
	ManualTrigger bool
	Watchdog      *Watchdog
}

// Container is a stub factory bound to one peer agent
// (original_source's Container). Go has no attribute-based dynamic
// dispatch, so where the Python original resolved stub.Classname via
// __getattr__, this Container exposes an explicit Stub(classname)
// method instead.
type Container struct {
	factory transport.Factory
	url     string
	dest    transport.Destination
	options Options
}

// NewContainer builds a Container addressing agentUUID over url.
func NewContainer(factory transport.Factory, url, agentUUID string, options Options) *Container {
	return &Container{
		factory: factory,
		url:     url,
		dest:    transport.Destination{Exchange: "amq.direct", RoutingKey: agentUUID},
		options: options,
	}
}

// Stub returns a proxy bound to classname.
func (c *Container) Stub(classname string) *Stub {
	return &Stub{container: c, classname: classname}
}

// Stub is a transparent proxy for one remote class: Call builds the
// request envelope and hands it to the container's configured policy
// (spec.md §4.7).
type Stub struct {
	container *Container
	classname string
	cntr      *message.Constructor
}

// WithConstructor returns a copy of the stub whose calls carry cntr
// (constructor args/kws for a stateful remote instance), the Go
// counterpart of calling a Python stub class with arguments before
// invoking a method on it.
func (s *Stub) WithConstructor(args []interface{}, kws map[string]interface{}) (*Stub, error) {
	cntrArgs, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}
	cntrKws, err := marshalKws(kws)
	if err != nil {
		return nil, err
	}
	clone := *s
	clone.cntr = &message.Constructor{Args: cntrArgs, Kws: cntrKws}
	return &clone, nil
}

// Call invokes method with args/kws and returns whatever the
// container's policy returns for it: the undecoded json.RawMessage
// return value (Synchronous), or a *Trigger (Asynchronous).
func (s *Stub) Call(ctx context.Context, method string, args []interface{}, kws map[string]interface{}) (interface{}, error) {
	reqArgs, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}
	reqKws, err := marshalKws(kws)
	if err != nil {
		return nil, err
	}
	request := &message.Request{
		Classname: s.classname,
		Method:    method,
		Args:      reqArgs,
		Kws:       reqKws,
		Cntr:      s.cntr,
	}

	opts := s.container.options
	policy, err := s.policy()
	if err != nil {
		return nil, err
	}
	return policy.Send(ctx, s.container.dest, request, opts.Window, nil)
}

func (s *Stub) policy() (RequestMethod, error) {
	opts := s.container.options
	if opts.Async || opts.Ctag != "" {
		return NewAsynchronous(s.container.factory, s.container.url, opts.Ctag, opts.Timeout, opts.ManualTrigger, opts.Watchdog), nil
	}
	return NewSynchronous(s.container.factory, s.container.url, opts.Timeout, opts.Progress)
}

func marshalArgs(args []interface{}) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, errors.Wrap(err, "marshal arg")
		}
		out = append(out, b)
	}
	return out, nil
}

func marshalKws(kws map[string]interface{}) (map[string]json.RawMessage, error) {
	if len(kws) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(kws))
	for k, v := range kws {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "marshal kw "+k)
		}
		out[k] = b
	}
	return out, nil
}
