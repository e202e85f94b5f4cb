/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package client

import (
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// sweepInterval is how often the watchdog checks for expired entries -
// one tick per second, the shape of heka's own ticker loops (spec.md
// §4.9's "wakes every second").
const sweepInterval = time.Second

// OnTimeout is invoked, from the watchdog's own goroutine, once for
// every tracked request whose deadline passes before Clear is called.
type OnTimeout func(sn string, any json.RawMessage)

type watchEntry struct {
	replyTo  string
	any      json.RawMessage
	deadline time.Time
}

// Watchdog tracks outstanding asynchronous requests and reports the
// ones that never got a reply in time (spec.md §4.12's async-side
// timeout tracker, C12). Unlike the synchronous policy's inline
// RequestTimeout, a watchdog's timeouts surface later, out of band,
// via the onTimeout callback.
type Watchdog struct {
	onTimeout OnTimeout

	mu      sync.Mutex
	entries map[string]*watchEntry

	cancel chan struct{}
	done   chan struct{}
}

// NewWatchdog returns a Watchdog that calls onTimeout for each request
// whose deadline elapses. Start must be called before any deadline can
// be detected.
func NewWatchdog(onTimeout OnTimeout) *Watchdog {
	return &Watchdog{onTimeout: onTimeout, entries: make(map[string]*watchEntry)}
}

// Track registers sn for timeout tracking; its deadline is now plus
// the full (start+duration) timeout budget, mirroring
// Asynchronous.notifywatchdog's single combined window.
func (w *Watchdog) Track(sn, replyTo string, any json.RawMessage, timeout Timeout) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[sn] = &watchEntry{
		replyTo:  replyTo,
		any:      any,
		deadline: time.Now().Add(timeout.Start + timeout.Duration),
	}
}

// Clear stops tracking sn, typically called once its reply arrives.
func (w *Watchdog) Clear(sn string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, sn)
}

// Start launches the sweep goroutine. Idempotent.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	w.cancel = make(chan struct{})
	w.done = make(chan struct{})
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	go w.run(cancel, done)
}

func (w *Watchdog) run(cancel, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Watchdog) sweep() {
	now := time.Now()
	var expired []struct {
		sn  string
		any json.RawMessage
	}
	w.mu.Lock()
	for sn, e := range w.entries {
		if now.After(e.deadline) {
			expired = append(expired, struct {
				sn  string
				any json.RawMessage
			}{sn, e.any})
			delete(w.entries, sn)
		}
	}
	w.mu.Unlock()

	for _, e := range expired {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("sn", e.sn).WithField("panic", r).Error("watchdog onTimeout panicked")
				}
			}()
			if w.onTimeout != nil {
				w.onTimeout(e.sn, e.any)
			}
		}()
	}
}

// Stop halts the sweep goroutine and waits for it to exit. Idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	close(cancel)
	<-done
}
