/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package pending

import (
	"context"
	"sync"
	"time"

	"github.com/mozilla-services/gofer/message"
)

// pollInterval bounds how long the receiver ever sleeps without
// rechecking the store, so a concurrent Add (which may introduce an
// earlier begin time than anything already queued) is never missed by
// more than this much.
const pollInterval = time.Second

// Replayer re-injects a replayed envelope into the dispatch path.
// Returning nil means the envelope was accepted for dispatch (handed
// to a worker pool, or run inline) — not that it has completed
// (spec.md §4.3).
type Replayer func(env *message.Envelope) error

// Missed is invoked when a replayed envelope's window has already
// closed; it should emit the WindowMissed terminal reply.
type Missed func(env *message.Envelope)

// Receiver is the store's dedicated timer thread.
type Receiver struct {
	store    *Store
	replay   Replayer
	missed   Missed

	wake chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReceiver builds a Receiver bound to store.
func NewReceiver(store *Store, replay Replayer, missed Missed) *Receiver {
	return &Receiver{
		store:  store,
		replay: replay,
		missed: missed,
		wake:   make(chan struct{}, 1),
	}
}

// Notify wakes the receiver immediately so it re-reads the store
// instead of waiting out pollInterval; callers should call this after
// Store.Add.
func (r *Receiver) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start begins the replay loop in its own goroutine. Calling Start
// twice is a no-op.
func (r *Receiver) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.run(ctx)
}

// Stop signals the loop to exit and returns immediately; use Join to
// wait for it to actually finish.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	r.running = false
}

// Join waits up to timeout for the loop goroutine to exit.
func (r *Receiver) Join(timeout time.Duration) bool {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (r *Receiver) run(ctx context.Context) {
	defer close(r.done)
	for {
		sleep := r.tick()
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-time.After(sleep):
		}
	}
}

// tick processes every entry whose window has opened and returns how
// long the loop should sleep before checking again.
func (r *Receiver) tick() time.Duration {
	entries, err := r.store.List()
	if err != nil || len(entries) == 0 {
		return pollInterval
	}

	now := time.Now()
	for _, env := range entries {
		if env.Window.Past(now) {
			r.store.Remove(env.SN)
			if r.missed != nil {
				r.missed(env)
			}
			continue
		}
		if env.Window.Future(now) {
			// Entries are ordered by begin; the first future entry
			// tells us how long we can safely sleep.
			begin, parseErr := parseBegin(env)
			if parseErr != nil {
				return pollInterval
			}
			if wait := time.Until(begin); wait < pollInterval {
				return wait
			}
			return pollInterval
		}
		// current: window has opened, dispatch it now.
		if err := r.replay(env); err == nil {
			r.store.Remove(env.SN)
		}
		// Entry stays parked if replay failed (transient dispatch
		// failure, e.g. pool temporarily unavailable); it is retried
		// on the next tick.
	}
	return pollInterval
}
