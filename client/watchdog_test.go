/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogFiresOnExpiredEntry(t *testing.T) {
	fired := make(chan string, 1)
	wd := NewWatchdog(func(sn string, any json.RawMessage) { fired <- sn })
	wd.Start()
	defer wd.Stop()

	wd.Track("sn-1", "reply-to", json.RawMessage(`"ctx"`), Timeout{Start: time.Millisecond, Duration: 0})

	select {
	case sn := <-fired:
		assert.Equal(t, "sn-1", sn)
	case <-time.After(3 * time.Second):
		t.Fatal("watchdog never fired")
	}
}

func TestWatchdogClearPreventsFiring(t *testing.T) {
	fired := make(chan string, 1)
	wd := NewWatchdog(func(sn string, any json.RawMessage) { fired <- sn })
	wd.Start()
	defer wd.Stop()

	wd.Track("sn-2", "reply-to", nil, Timeout{Start: time.Millisecond, Duration: 0})
	wd.Clear("sn-2")

	select {
	case sn := <-fired:
		t.Fatalf("unexpected fire for cleared entry %s", sn)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestWatchdogStopIsIdempotent(t *testing.T) {
	wd := NewWatchdog(func(sn string, any json.RawMessage) {})
	wd.Start()
	wd.Stop()
	wd.Stop()
}

func TestWatchdogStartIsIdempotent(t *testing.T) {
	wd := NewWatchdog(func(sn string, any json.RawMessage) {})
	wd.Start()
	wd.Start()
	wd.Stop()
}
