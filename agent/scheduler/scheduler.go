/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package scheduler runs a plugin's periodic actions (spec.md §4.9,
// the Go counterpart of original_source's @action-decorated methods),
// one time.Ticker-driven goroutine per action - the same ticker-loop
// shape heka uses for its own periodic flush/report loops (e.g.
// pipeline/outputs.go, pipeline/logfile_input.go).
package scheduler

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mozilla-services/gofer/agent/plugin"
)

// Scheduler runs a set of plugin.ActionSpec jobs on independent
// tickers until Stop. A failing action is logged and does not stop
// its ticker - the next tick still fires.
type Scheduler struct {
	mu      sync.Mutex
	cancels []chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New returns an idle Scheduler.
func New() *Scheduler { return &Scheduler{} }

// Add schedules spec to run every spec.Interval seconds, starting
// after the first full interval elapses (original_source had no
// immediate first-run guarantee either). Intervals <= 0 are ignored -
// a plugin author who forgets to set one shouldn't busy-loop the
// agent.
func (s *Scheduler) Add(spec plugin.ActionSpec) {
	if spec.Interval <= 0 {
		log.WithField("action", spec.Name).Warn("action interval <= 0, not scheduled")
		return
	}
	stop := make(chan struct{})
	s.mu.Lock()
	s.cancels = append(s.cancels, stop)
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(spec, stop)
}

// AddAll schedules every action in actions (typically a plugin's
// agent/plugin.Plugin.Actions).
func (s *Scheduler) AddAll(actions []plugin.ActionSpec) {
	for _, a := range actions {
		s.Add(a)
	}
}

func (s *Scheduler) run(spec plugin.ActionSpec, stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(float64(time.Second) * float64(spec.Interval)))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.fire(spec)
		}
	}
}

func (s *Scheduler) fire(spec plugin.ActionSpec) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("action", spec.Name).WithField("panic", r).Error("action panicked")
		}
	}()
	if err := spec.Run(); err != nil {
		log.WithError(err).WithField("action", spec.Name).Error("action failed")
	}
}

// Stop halts every scheduled action and waits for its ticker goroutine
// to exit. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancels := s.cancels
	s.cancels = nil
	s.running = false
	s.mu.Unlock()

	for _, c := range cancels {
		close(c)
	}
	s.wg.Wait()
}
