/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package plugin

import "sync"

// Module is the Go replacement for original_source's dynamically
// imported plugin module (imp.load_source / __import__). Go has no
// runtime equivalent of loading a .py file by path, so a plugin
// implementation registers itself at package-init time under the name
// that appears in its descriptor's [main] name or plugin path - the
// same compile-time registration shape as the teacher's
// pipeline.RegisterPlugin/AvailablePlugins.
type Module interface {
	// Register populates collector with the plugin's remote methods,
	// scheduled actions, and initializers (original_source's
	// decorator-time Remote/Actions/Initializer side effects).
	Register(c *Collector)
}

// ModuleFunc adapts a plain function to Module.
type ModuleFunc func(c *Collector)

func (f ModuleFunc) Register(c *Collector) { f(c) }

var (
	registryMu sync.Mutex
	registry   = map[string]Module{}
)

// RegisterModule makes a plugin implementation available to the
// loader under name, the Go counterpart of a plugin.conf's [main]
// plugin= path or, when absent, its file-derived name. Intended to be
// called from a plugin package's init().
func RegisterModule(name string, m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = m
}

func findModule(name string) (Module, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	m, ok := registry[name]
	return m, ok
}
