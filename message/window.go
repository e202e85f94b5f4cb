/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Duration is a wire duration accepting either a plain integer
// (seconds) or a "H:M:S"/suffix ("10s", "5m", "2h", "1d") string, per
// spec.md §6 and the richer grammar restored from
// original_source/src/gofer/rmi/policy.py's Timeout.seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(time.Duration(d).Seconds()))
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "duration must be an integer or a string")
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration accepts "H:M:S", a bare integer, or an integer with a
// single-letter suffix of s/m/h/d.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if countColons(s) == 2 {
		var h, m, sec int
		if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
			return 0, errors.Wrapf(err, "invalid H:M:S duration %q", s)
		}
		return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
	}
	suffixes := map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
	}
	last := s[len(s)-1]
	if mult, ok := suffixes[last]; ok {
		n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid duration %q", s)
		}
		return time.Duration(n) * mult, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return time.Duration(n) * time.Second, nil
}

func countColons(s string) int {
	n := 0
	for _, r := range s {
		if r == ':' {
			n++
		}
	}
	return n
}

// Window is the time interval during which a request is eligible to
// execute (spec.md §3). Begin is RFC3339; Duration accepts the wire
// grammar above.
type Window struct {
	Begin    string   `json:"begin,omitempty"`
	Duration Duration `json:"duration,omitempty"`
}

// Empty reports whether no window was specified at all (absent/current
// per spec.md §4.6).
func (w *Window) Empty() bool {
	return w == nil || w.Begin == ""
}

func (w *Window) begin() (time.Time, error) {
	return time.Parse(time.RFC3339, w.Begin)
}

// Future reports whether the window's begin time is after now.
func (w *Window) Future(now time.Time) bool {
	if w.Empty() {
		return false
	}
	begin, err := w.begin()
	if err != nil {
		return false
	}
	return begin.After(now)
}

// Past reports whether the window has already closed: now is after
// begin+duration. A duration of zero never expires on its own; only an
// explicit positive duration can make a window "past".
func (w *Window) Past(now time.Time) bool {
	if w.Empty() {
		return false
	}
	begin, err := w.begin()
	if err != nil {
		return false
	}
	if w.Duration <= 0 {
		return false
	}
	end := begin.Add(time.Duration(w.Duration))
	return now.After(end)
}

// Current reports whether the window is neither future nor past,
// including the boundary where now equals begin exactly (spec.md §8).
func (w *Window) Current(now time.Time) bool {
	return !w.Future(now) && !w.Past(now)
}
