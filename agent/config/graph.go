/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package config reads INI-style plugin descriptors into a typed,
// schema-validated Graph (spec.md §4.10), the way heka's
// pipeline/config.go wraps github.com/BurntSushi/toml for plugin
// config — here wrapping gopkg.in/ini.v1, since the descriptors this
// package reads are literally INI (spec.md §4.8, §6).
package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Graph is an attribute-dotted, read-only view over a parsed
// descriptor. Section(name).Get(key) on a section or key that doesn't exist
// resolves to "" (empty string) rather than an error — the
// "absent-is-empty" convenience spec.md §4.10 names, made explicit
// here instead of relying on Python-style attribute fallthrough.
type Graph struct {
	file *ini.File
}

// Load parses an INI document, merging section/key defaults under
// whatever the file itself sets (file values win).
func Load(path string, defaults map[string]map[string]string) (*Graph, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load descriptor %s", path)
	}
	return merge(file, defaults)
}

// LoadBytes is Load's in-memory counterpart, used by tests.
func LoadBytes(data []byte, defaults map[string]map[string]string) (*Graph, error) {
	file, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse descriptor")
	}
	return merge(file, defaults)
}

func merge(file *ini.File, defaults map[string]map[string]string) (*Graph, error) {
	for sectionName, keys := range defaults {
		section := file.Section(sectionName)
		for k, v := range keys {
			if !section.HasKey(k) {
				if _, err := section.NewKey(k, v); err != nil {
					return nil, errors.Wrapf(err, "apply default %s.%s", sectionName, k)
				}
			}
		}
	}
	return &Graph{file: file}, nil
}

// Section returns a dotted view over one section; a missing section
// still returns a valid (empty) view rather than nil/error.
func (g *Graph) Section(name string) Section {
	return Section{sec: g.file.Section(name)}
}

// HasSection reports whether the descriptor explicitly declares name.
func (g *Graph) HasSection(name string) bool {
	_, err := g.file.GetSection(name)
	return err == nil
}

// Section is the attribute-dotted accessor for one descriptor section.
type Section struct {
	sec *ini.Section
}

// Get returns the key's raw string value, or "" if absent.
func (s Section) Get(key string) string {
	if s.sec == nil || !s.sec.HasKey(key) {
		return ""
	}
	return s.sec.Key(key).String()
}

// HasKey reports whether key is explicitly set in this section.
func (s Section) HasKey(key string) bool {
	return s.sec != nil && s.sec.HasKey(key)
}

// Bool coerces the key as a boolean; absent/unparsable resolves to def.
func (s Section) Bool(key string, def bool) bool {
	v := s.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int coerces the key as an integer; absent/unparsable resolves to def.
func (s Section) Int(key string, def int) int {
	v := s.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// List splits a comma-separated key into its trimmed, non-empty parts.
func (s Section) List(key string) []string {
	v := s.Get(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
