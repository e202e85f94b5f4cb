/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package transport

import (
	"fmt"
	"net/url"
	"sync"
)

var (
	schemesMu sync.RWMutex
	schemes   = make(map[string]Factory)

	boundMu sync.Mutex
	bound   = make(map[string]Factory)
)

// Register makes a Factory available for its URL scheme. Intended to
// be called from an implementation package's init().
func Register(f Factory) {
	schemesMu.Lock()
	defer schemesMu.Unlock()
	schemes[f.Scheme()] = f
}

// Bind resolves the Factory for a URL's scheme, caching the binding
// for the process lifetime. Calling Bind repeatedly with the same URL
// is idempotent and safe for concurrent use (spec.md §4.2).
func Bind(rawURL string) (Factory, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport url %q: %w", rawURL, err)
	}

	boundMu.Lock()
	defer boundMu.Unlock()
	if f, ok := bound[rawURL]; ok {
		return f, nil
	}

	schemesMu.RLock()
	f, ok := schemes[u.Scheme]
	schemesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no transport registered for scheme %q", u.Scheme)
	}
	bound[rawURL] = f
	return f, nil
}

// resetForTest clears the scheme registry and url bindings; used only
// by tests in this package and its subpackages.
func resetForTest() {
	schemesMu.Lock()
	schemes = make(map[string]Factory)
	schemesMu.Unlock()
	boundMu.Lock()
	bound = make(map[string]Factory)
	boundMu.Unlock()
}
