/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package plugin

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Loader discovers, orders, and imports plugin descriptors into
// attached Plugins, the Go counterpart of original_source's
// PluginLoader plus the Plugin-registry half of Plugin.add/find/all
// (spec.md §4.8). Unlike the Python original it is an explicit value
// rather than a bag of staticmethods over process-global state: a
// process normally has exactly one, but tests can build as many as
// they like.
type Loader struct {
	mu      sync.Mutex
	byName  map[string]*Plugin
	ordered []*Plugin
}

// NewLoader returns an empty Loader.
func NewLoader() *Loader {
	return &Loader{byName: make(map[string]*Plugin)}
}

// Find returns the loaded plugin registered under name, if any.
func (l *Loader) Find(name string) (*Plugin, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byName[name]
	return p, ok
}

// All returns the loaded plugins in dependency order (requires/extends
// targets before their dependents), original_source's Plugin.all.
func (l *Loader) All() []*Plugin {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Plugin, len(l.ordered))
	copy(out, l.ordered)
	return out
}

// Load discovers every *.conf descriptor under dir, orders them by
// declared dependency, and imports each one's registered Module in
// turn (original_source's PluginLoader.load). A descriptor that fails
// to parse, or whose Module cannot be found, is logged and skipped -
// one bad plugin never aborts the rest of the load.
func (l *Loader) Load(dir string) []*Plugin {
	named, err := loadDescriptors(dir, func(path string, err error) {
		log.WithError(err).WithField("path", path).Error("plugin descriptor load failed")
	})
	if err != nil {
		log.WithError(err).WithField("dir", dir).Error("plugin descriptor discovery failed")
		return nil
	}

	sorted, err := sortDescriptors(named)
	if err != nil {
		log.WithError(err).Error("plugin dependency ordering failed")
		sorted = named
	}

	var loaded []*Plugin
	for _, nd := range sorted {
		p := l.importOne(nd.name, nd.desc)
		if p == nil {
			continue // import failed, already logged
		}
		if !p.Enabled() {
			log.WithField("plugin", nd.name).Warn("plugin disabled")
		}
		loaded = append(loaded, p)
	}
	return loaded
}

// importOne builds a Plugin from descriptor, registers it, collates
// its Module's Collector output (plus builtins) into its dispatcher,
// and applies extends merging - original_source's PluginLoader._import.
func (l *Loader) importOne(name string, descriptor *Descriptor) *Plugin {
	p := newPlugin(name, descriptor)
	l.add(p, name)

	path := descriptor.PluginPath()
	if path == "" {
		path = name
	}
	module, ok := findModule(path)
	if !ok {
		log.WithField("plugin", name).WithField("module", path).Error("plugin module not registered")
		l.remove(p)
		return nil
	}
	l.add(p, path)

	collector := NewCollector()
	if p.Enabled() {
		panicked := false
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("plugin", name).WithField("panic", r).Error("plugin import panicked")
					panicked = true
				}
			}()
			module.Register(collector)
		}()
		if panicked {
			l.remove(p)
			return nil
		}
		if err := p.collate(collector); err != nil {
			log.WithError(err).WithField("plugin", name).Error("plugin collate failed")
			l.remove(p)
			return nil
		}
		if err := l.extend(p, descriptor.Extends()); err != nil {
			log.WithError(err).WithField("plugin", name).Error("plugin extend failed")
			l.remove(p)
			return nil
		}
	}

	log.WithField("plugin", name).WithField("module", path).Info("plugin loaded")
	return p
}

func (l *Loader) extend(child *Plugin, parentName string) error {
	parentName = strings.TrimSpace(parentName)
	if parentName == "" {
		return nil
	}
	parent, ok := l.Find(parentName)
	if !ok {
		return fmt.Errorf("extend failed, plugin %q not found", parentName)
	}
	parent.Extend(child)
	return nil
}

func (l *Loader) add(p *Plugin, names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(names) == 0 {
		names = []string{p.Name}
	}
	for _, n := range names {
		l.byName[n] = p
	}
	for _, existing := range l.ordered {
		if existing == p {
			return
		}
	}
	l.ordered = append(l.ordered, p)
}

func (l *Loader) remove(p *Plugin) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.byName {
		if v == p {
			delete(l.byName, k)
		}
	}
	kept := l.ordered[:0]
	for _, existing := range l.ordered {
		if existing != p {
			kept = append(kept, existing)
		}
	}
	l.ordered = kept
}
