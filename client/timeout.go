/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package client is the caller side of the fabric (spec.md §4.7/§4.10):
// the Synchronous/Asynchronous request policies, the Watchdog that
// tracks outstanding asynchronous calls, and the Stub that builds RMI
// requests - the Go counterpart of original_source's gofer.rmi.policy
// and gofer.rmi.container.
package client

import (
	"strconv"
	"time"
)

// Timeout multiplier suffixes, original_source's Timeout.SUFFIX.
const (
	second = time.Second
	minute = 60 * second
	hour   = 60 * minute
	day    = 24 * hour
)

var suffixMultiplier = map[byte]time.Duration{
	's': second,
	'm': minute,
	'h': hour,
	'd': day,
}

// ParseTimeout accepts a plain integer-seconds string or one suffixed
// with s/m/h/d (original_source's Timeout.seconds). An empty string
// parses to zero with no error - the caller decides what "unset" means.
func ParseTimeout(tm string) (time.Duration, error) {
	if tm == "" {
		return 0, nil
	}
	last := tm[len(tm)-1]
	if mult, ok := suffixMultiplier[last]; ok {
		n, err := strconv.Atoi(tm[:len(tm)-1])
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * mult, nil
	}
	n, err := strconv.Atoi(tm)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * second, nil
}

// Timeout is a (start, duration) pair: how long to wait for the
// "started" acknowledgement, and how long to then wait for the
// terminal reply (original_source's Timeout tuple, spec.md §4.7).
type Timeout struct {
	Start    time.Duration
	Duration time.Duration
}

// DefaultSynchronousTimeout mirrors Synchronous.TIMEOUT = (10, 90).
var DefaultSynchronousTimeout = Timeout{Start: 10 * time.Second, Duration: 90 * time.Second}
