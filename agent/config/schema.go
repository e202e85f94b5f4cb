/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package config

import (
	"fmt"
	"strings"
)

// Schema names the sections and keys a descriptor must carry. Unknown
// sections/keys never fail validation (spec.md §4.10) — Schema is an
// allowlist of requirements, not a denylist of the unexpected.
type Schema struct {
	Sections []SectionSchema
}

// SectionSchema names one required (or optional) section and its keys.
type SectionSchema struct {
	Name     string
	Required bool
	Keys     []KeySchema
}

// KeySchema names one key within a section.
type KeySchema struct {
	Name     string
	Required bool
}

// Validate checks g against schema, returning every violation found
// rather than stopping at the first (so a misconfigured descriptor's
// whole set of problems is reported together).
func (schema Schema) Validate(g *Graph) error {
	var problems []string
	for _, sec := range schema.Sections {
		if sec.Required && !g.HasSection(sec.Name) {
			problems = append(problems, fmt.Sprintf("missing required section [%s]", sec.Name))
			continue
		}
		section := g.Section(sec.Name)
		for _, key := range sec.Keys {
			if key.Required && !section.HasKey(key.Name) {
				problems = append(problems, fmt.Sprintf("missing required key %s.%s", sec.Name, key.Name))
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// ValidationError collects every schema violation found in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "descriptor validation failed: " + strings.Join(e.Problems, "; ")
}

// PluginDescriptorSchema is the schema for spec.md §3/§4.8's plugin
// descriptor: sections main (name, enabled, requires, extends,
// plugin-module path), messaging (uuid, url, threads, cacert,
// clientcert, host_validation), queue (managed).
var PluginDescriptorSchema = Schema{
	Sections: []SectionSchema{
		{
			Name:     "main",
			Required: true,
			Keys: []KeySchema{
				{Name: "enabled", Required: false},
				{Name: "requires", Required: false},
				{Name: "extends", Required: false},
				{Name: "plugin", Required: false},
			},
		},
		{
			Name:     "messaging",
			Required: true,
			Keys: []KeySchema{
				{Name: "uuid", Required: true},
				{Name: "url", Required: true},
				{Name: "threads", Required: false},
				{Name: "cacert", Required: false},
				{Name: "clientcert", Required: false},
				{Name: "host_validation", Required: false},
			},
		},
		{
			Name:     "queue",
			Required: false,
			Keys: []KeySchema{
				{Name: "managed", Required: false},
			},
		},
	},
}
