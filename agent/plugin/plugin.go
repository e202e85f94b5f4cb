/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package plugin is the plugin model (spec.md §4.8): descriptor
// loading, topological ordering, the Collector-based import phase, and
// the Plugin lifecycle (attach/detach against the transport layer).
package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mozilla-services/gofer/agent/auth"
	"github.com/mozilla-services/gofer/agent/dispatch"
	"github.com/mozilla-services/gofer/agent/pending"
	"github.com/mozilla-services/gofer/agent/workpool"
	"github.com/mozilla-services/gofer/transport"
)

const detachJoinTimeout = 30 * time.Second

// Plugin is one loaded plugin, the Go counterpart of original_source's
// agent.plugin.Plugin. Unlike the Python original it holds no
// reference back to a mutable process-global registry; Registry (this
// package's Loader) owns that bookkeeping instead.
type Plugin struct {
	Name       string
	Descriptor *Descriptor

	Dispatcher *dispatch.Dispatcher
	Pool       *workpool.Pool
	Actions    []ActionSpec

	authenticator auth.Authenticator

	mu       sync.Mutex
	consumer *dispatch.Consumer
	store    *pending.Store
	queue    transport.Queue
	url      string
}

func newPlugin(name string, descriptor *Descriptor) *Plugin {
	return &Plugin{
		Name:       name,
		Descriptor: descriptor,
		Dispatcher: dispatch.NewDispatcher(),
		Pool:       workpool.New(descriptor.Threads(), descriptor.Threads()*4),
	}
}

// SetAuthenticator installs the per-plugin authenticator (spec.md
// §4.11); nil disables authentication.
func (p *Plugin) SetAuthenticator(a auth.Authenticator) {
	p.authenticator = a
}

// Enabled reports [main].enabled.
func (p *Plugin) Enabled() bool { return p.Descriptor.Enabled() }

// UUID/URL mirror the Python Plugin's uuid/url properties.
func (p *Plugin) UUID() string { return p.Descriptor.UUID() }
func (p *Plugin) URL() string  { return p.Descriptor.URL() }

// Attach connects the plugin's consumer to its broker, declaring its
// queue and starting the receive loop (original_source's
// Plugin.attach). storeDir roots the pending store for this plugin's
// window-delayed requests.
func (p *Plugin) Attach(factory transport.Factory, storeDir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumer != nil {
		p.detachLocked()
	}
	if p.UUID() == "" || p.URL() == "" {
		return errors.New("plugin attach requires uuid and url")
	}

	broker, err := factory.NewBroker(p.URL())
	if err != nil {
		return errors.Wrap(err, "resolve broker")
	}
	broker.SetTLS(transport.TLSConfig{
		CACert:         p.Descriptor.CACert(),
		ClientCert:     p.Descriptor.ClientCert(),
		HostValidation: p.Descriptor.HostValidation(),
	})

	ex, err := factory.NewExchangeDirect(p.URL())
	if err != nil {
		return errors.Wrap(err, "resolve exchange")
	}
	q := factory.NewQueue(p.UUID(), ex, p.UUID(), true, false, p.Descriptor.QueueManaged())
	if err := q.Declare(context.Background(), p.URL()); err != nil {
		return errors.Wrap(err, "declare queue")
	}

	reader, err := factory.NewReader(p.URL(), q)
	if err != nil {
		return errors.Wrap(err, "new reader")
	}
	producer, err := factory.NewProducer(p.URL())
	if err != nil {
		return errors.Wrap(err, "new producer")
	}
	if p.authenticator != nil {
		reader.SetVerifier(p.authenticator)
		producer.SetSigner(p.authenticator)
	}

	store, err := pending.Open(storeDir)
	if err != nil {
		return errors.Wrap(err, "open pending store")
	}
	p.store = store

	consumer := dispatch.NewConsumer(p.UUID(), reader, producer, p.Dispatcher, p.Pool, store)
	consumer.Start()
	p.consumer = consumer
	p.queue = q
	p.url = p.URL()
	return nil
}

// Detach disconnects the plugin's consumer, draining and (if managed)
// deleting its queue (original_source's Plugin.detach).
func (p *Plugin) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detachLocked()
}

func (p *Plugin) detachLocked() error {
	if p.consumer == nil {
		return nil
	}
	p.consumer.Stop()
	p.consumer.Join(detachJoinTimeout)
	p.consumer = nil
	p.Pool.Stop()
	if p.queue != nil && p.queue.Managed() {
		if err := p.queue.Delete(context.Background(), p.url, true); err != nil {
			return errors.Wrap(err, "delete managed queue")
		}
	}
	p.queue = nil
	return nil
}

// Extend merges child's dispatcher bindings into p's, the Go shape of
// original_source's Plugin.extend/__iadd__ (spec.md §4.8).
func (p *Plugin) Extend(child *Plugin) {
	p.Dispatcher.Merge(child.Dispatcher)
}

// Collate drains collector (this plugin's own registrations) plus the
// process-wide builtins into the plugin's dispatcher and actions
// (original_source's PluginLoader._import draining Remote/Actions into
// the new Plugin). A failing initializer aborts the whole import,
// matching original_source's _import wrapping module load, collate,
// extend, and Initializer.run() in one try/except that deletes the
// plugin on any failure.
func (p *Plugin) collate(collector *Collector) error {
	for classname, methods := range collector.classes {
		for method, fn := range methods {
			p.Dispatcher.Register(classname, method, dispatch.RemoteFunc(fn))
		}
	}
	for classname, methods := range builtins.classes {
		for method, fn := range methods {
			p.Dispatcher.Register(classname, method, dispatch.RemoteFunc(fn))
		}
	}
	p.Actions = append(p.Actions, collector.actions...)
	for _, init := range collector.initializers {
		if err := init(); err != nil {
			return errors.Wrap(err, "plugin initializer failed")
		}
	}
	return nil
}
