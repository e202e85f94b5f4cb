/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mozilla-services/gofer/agent/plugin"
)

func TestActionFiresRepeatedly(t *testing.T) {
	var count int32
	s := New()
	s.Add(plugin.ActionSpec{
		Name:     "tick",
		Interval: 0.01,
		Run: func() error {
			atomic.AddInt32(&count, 1)
			return nil
		},
	})
	time.Sleep(60 * time.Millisecond)
	s.Stop()
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2))
}

func TestActionErrorDoesNotStopTicker(t *testing.T) {
	var count int32
	s := New()
	s.Add(plugin.ActionSpec{
		Name:     "failing",
		Interval: 0.01,
		Run: func() error {
			atomic.AddInt32(&count, 1)
			return errors.New("boom")
		},
	})
	time.Sleep(60 * time.Millisecond)
	s.Stop()
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2))
}

func TestActionPanicDoesNotStopTicker(t *testing.T) {
	var count int32
	s := New()
	s.Add(plugin.ActionSpec{
		Name:     "panicky",
		Interval: 0.01,
		Run: func() error {
			n := atomic.AddInt32(&count, 1)
			if n == 1 {
				panic("first tick blows up")
			}
			return nil
		},
	})
	time.Sleep(60 * time.Millisecond)
	s.Stop()
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2))
}

func TestZeroIntervalIsNotScheduled(t *testing.T) {
	s := New()
	s.Add(plugin.ActionSpec{Name: "never", Interval: 0, Run: func() error { return nil }})
	s.Stop() // must not hang with nothing scheduled
}

func TestStopIsIdempotent(t *testing.T) {
	s := New()
	s.Add(plugin.ActionSpec{Name: "once", Interval: 1, Run: func() error { return nil }})
	s.Stop()
	s.Stop()
}
