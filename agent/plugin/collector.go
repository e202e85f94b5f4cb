/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package plugin

import "github.com/mozilla-services/gofer/message"

// RemoteFunc is a single remote-callable method. It receives the whole
// Request (classname is implied by how it was registered, but method
// implementations still see Cntr/Args/Kws exactly as spec.md §6
// defines them) and a progress callback it may call zero or more times
// before returning, and returns either a JSON-marshalable value or an
// error, which the dispatcher packages via errs.ToResult.
type RemoteFunc func(req *message.Request, progress message.ProgressFunc) (interface{}, error)

// ActionSpec is a periodic job a plugin wants the agent scheduler to
// run, the Go counterpart of original_source's @action decorator.
type ActionSpec struct {
	Name     string
	Interval Seconds
	Run      func() error
}

// Seconds is a plain interval in seconds; kept as its own type so a
// Collector's Actions read clearly at the call site.
type Seconds float64

// Initializer is a one-shot setup function run once a plugin's remote
// classes have been collated into its dispatcher.
type Initializer func() error

// Collector is an explicit per-load staging area: the Go replacement
// for original_source's process-global Remote/Actions/Initializer
// registries (spec.md §9's redesign note). A Module populates one
// Collector during Import instead of decorating module-level
// functions, and the loader drains it straight into the new Plugin —
// no mutable package state survives between loads.
type Collector struct {
	classes      map[string]map[string]RemoteFunc
	actions      []ActionSpec
	initializers []Initializer
}

// NewCollector returns an empty Collector ready to be populated by a
// Module's Register method.
func NewCollector() *Collector {
	return &Collector{classes: make(map[string]map[string]RemoteFunc)}
}

// Remote registers fn as classname.method, the Go replacement for
// marking a Python callable with the @remote decorator.
func (c *Collector) Remote(classname, method string, fn RemoteFunc) {
	if c.classes[classname] == nil {
		c.classes[classname] = make(map[string]RemoteFunc)
	}
	c.classes[classname][method] = fn
}

// Action registers a periodic job.
func (c *Collector) Action(spec ActionSpec) {
	c.actions = append(c.actions, spec)
}

// OnInit registers a one-shot initializer, run after collation.
func (c *Collector) OnInit(fn Initializer) {
	c.initializers = append(c.initializers, fn)
}

// builtins is the process-wide set of classes every plugin dispatcher
// gets in addition to its own (original_source's
// PluginLoader.BUILTINS, drained from the builtin plugin module).
// Unlike the per-load Collector this genuinely is process-global,
// since built-ins are fixed at compile time, not reloaded per plugin
// import.
var builtins = NewCollector()

// RegisterBuiltin adds a class every plugin's dispatcher inherits,
// typically called from an init() in a builtin-admin package.
func RegisterBuiltin(classname, method string, fn RemoteFunc) {
	builtins.Remote(classname, method, fn)
}
