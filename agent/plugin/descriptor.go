/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package plugin

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/mozilla-services/gofer/agent/config"
	"github.com/mozilla-services/gofer/agent/errs"
)

// Defaults mirror original_source's PLUGIN_DEFAULTS: a plugin is
// enabled, non-managed-queue, host-validating, and single-threaded
// unless its descriptor says otherwise.
var Defaults = map[string]map[string]string{
	"main":      {"enabled": "true"},
	"messaging": {"threads": "1", "host_validation": "true"},
	"queue":     {"managed": "false"},
}

// Descriptor is the typed view over a parsed plugin descriptor
// (spec.md §4.8), the Go counterpart of original_source's
// PluginDescriptor(Graph).
type Descriptor struct {
	graph *config.Graph
}

// LoadDescriptor parses and schema-validates path.
func LoadDescriptor(path string) (*Descriptor, error) {
	g, err := config.Load(path, Defaults)
	if err != nil {
		return nil, err
	}
	if err := config.PluginDescriptorSchema.Validate(g); err != nil {
		return nil, err
	}
	return &Descriptor{graph: g}, nil
}

// Name is [main].name, falling back to the caller-supplied file-derived
// name when absent.
func (d *Descriptor) Name(fallback string) string {
	if n := d.graph.Section("main").Get("name"); n != "" {
		return n
	}
	return fallback
}

func (d *Descriptor) Enabled() bool {
	return d.graph.Section("main").Bool("enabled", true)
}

func (d *Descriptor) Extends() string {
	return strings.TrimSpace(d.graph.Section("main").Get("extends"))
}

func (d *Descriptor) PluginPath() string {
	return d.graph.Section("main").Get("plugin")
}

// Requires is the declared dependency set: [main].requires plus
// [main].extends, deduplicated (original_source's
// PluginDescriptor.__requires).
func (d *Descriptor) Requires() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range d.graph.Section("main").List("requires") {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	if ext := d.Extends(); ext != "" && !seen[ext] {
		out = append(out, ext)
	}
	return out
}

func (d *Descriptor) UUID() string { return d.graph.Section("messaging").Get("uuid") }
func (d *Descriptor) URL() string  { return d.graph.Section("messaging").Get("url") }
func (d *Descriptor) Threads() int { return d.graph.Section("messaging").Int("threads", 1) }
func (d *Descriptor) CACert() string       { return d.graph.Section("messaging").Get("cacert") }
func (d *Descriptor) ClientCert() string   { return d.graph.Section("messaging").Get("clientcert") }
func (d *Descriptor) HostValidation() bool {
	return d.graph.Section("messaging").Bool("host_validation", true)
}
func (d *Descriptor) QueueManaged() bool {
	return d.graph.Section("queue").Bool("managed", false)
}

// Secret is [messaging].secret, the shared HMAC key for this plugin's
// authenticator. Empty means authentication is disabled.
func (d *Descriptor) Secret() string {
	return d.graph.Section("messaging").Get("secret")
}

// discoverDescriptors lists *.conf files directly under dir, sorted by
// file name, mirroring PluginDescriptor.__list.
func discoverDescriptors(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list plugin descriptor dir %s", dir)
	}
	var names []string
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".conf" {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, filepath.Join(dir, n))
	}
	return out, nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// namedDescriptor pairs a resolved plugin name with its descriptor, the
// unsorted tuple original_source's PluginDescriptor.load builds before
// handing it to DepList.
type namedDescriptor struct {
	name string
	desc *Descriptor
}

// loadDescriptors reads and schema-validates every *.conf file in dir,
// logging and skipping (never aborting the whole agent on) individual
// parse failures — spec.md §4.8's "isolate one bad plugin" invariant.
func loadDescriptors(dir string, onError func(path string, err error)) ([]namedDescriptor, error) {
	paths, err := discoverDescriptors(dir)
	if err != nil {
		return nil, err
	}
	var out []namedDescriptor
	for _, path := range paths {
		d, err := LoadDescriptor(path)
		if err != nil {
			if onError != nil {
				onError(path, errors.WithStack(&errs.ConfigError{Plugin: baseName(path), Cause: err}))
			}
			continue
		}
		out = append(out, namedDescriptor{name: d.Name(baseName(path)), desc: d})
	}
	return out, nil
}

// sortDescriptors topologically orders named by their declared
// dependencies (original_source's PluginDescriptor.__sort).
func sortDescriptors(named []namedDescriptor) ([]namedDescriptor, error) {
	index := make(map[string]namedDescriptor, len(named))
	var dl DepList
	for _, nd := range named {
		index[nd.name] = nd
		dl.Add(nd.name, nd.desc.Requires())
	}
	order, err := dl.Sort()
	if err != nil {
		return nil, err
	}
	out := make([]namedDescriptor, 0, len(order))
	for _, name := range order {
		out = append(out, index[name])
	}
	return out, nil
}
