/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package plugin

import "github.com/pkg/errors"

// depEntry is one node in the dependency graph: a name plus the names
// it requires (spec.md §4.8's requires/extends graph).
type depEntry struct {
	name     string
	requires []string
}

// DepList topologically sorts plugin names by their declared
// dependencies, the Go equivalent of original_source's
// gofer.agent.deplist.DepList (a Kahn's-algorithm pass, not pulled
// from a graph library — see DESIGN.md).
type DepList struct {
	entries []depEntry
}

// Add registers name as depending on requires (requires may be empty).
func (dl *DepList) Add(name string, requires []string) {
	dl.entries = append(dl.entries, depEntry{name: name, requires: requires})
}

// ErrCycle is returned when the dependency graph cannot be sorted.
type ErrCycle struct {
	Remaining []string
}

func (e *ErrCycle) Error() string {
	return "plugin dependency cycle detected among: " + joinNames(e.Remaining)
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// Sort returns names ordered so that every name appears after
// everything it requires. Names that require something never declared
// (an unknown dependency) are treated as having no such requirement —
// the loader surfaces the missing plugin separately when it tries to
// find it at extend time.
func (dl *DepList) Sort() ([]string, error) {
	known := make(map[string]bool, len(dl.entries))
	for _, e := range dl.entries {
		known[e.name] = true
	}

	indegree := make(map[string]int, len(dl.entries))
	dependents := make(map[string][]string)
	for _, e := range dl.entries {
		indegree[e.name] = 0
	}
	for _, e := range dl.entries {
		for _, req := range e.requires {
			if !known[req] {
				continue
			}
			indegree[e.name]++
			dependents[req] = append(dependents[req], e.name)
		}
	}

	var queue []string
	for _, e := range dl.entries {
		if indegree[e.name] == 0 {
			queue = append(queue, e.name)
		}
	}

	var out []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		out = append(out, name)
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(out) != len(dl.entries) {
		var remaining []string
		for _, e := range dl.entries {
			if indegree[e.name] > 0 {
				remaining = append(remaining, e.name)
			}
		}
		return nil, errors.WithStack(&ErrCycle{Remaining: remaining})
	}
	return out, nil
}
