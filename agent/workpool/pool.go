/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package workpool is the fixed-size thread pool each plugin's
// Consumer dispatches onto (spec.md §4.5). Jobs are queued on a
// buffered channel and drained by a fixed number of worker goroutines,
// the same producer/recycle-channel shape pipeline_runner.Run uses for
// hekad's PipelinePack pool, generalized from a pack-recycling pool to
// a generic job queue.
package workpool

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Job is a unit of work submitted to the pool. Panics inside Job are
// recovered and surfaced as a log entry rather than killing the
// worker goroutine, since one bad job must not stop the pool.
type Job func()

// ErrStopped is returned by Enqueue once the pool has begun shutting
// down.
var ErrStopped = errors.New("workpool: stopped")

// Pool is a fixed-size worker pool with graceful shutdown.
type Pool struct {
	size int

	jobs chan Job
	wg   sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// New starts a pool of size workers. size must be >= 1. backlog bounds
// how many jobs may be queued ahead of the workers before Enqueue
// blocks.
func New(size, backlog int) *Pool {
	if size < 1 {
		size = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	p := &Pool{
		size: size,
		jobs: make(chan Job, backlog),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Concurrent reports whether the pool can run more than one job at
// once. A pool of size 1 processes jobs strictly sequentially (spec.md
// §4.5's single-threaded plugin mode).
func (p *Pool) Concurrent() bool {
	return p.size > 1
}

// Size returns the pool's worker count.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("workpool: job panicked")
		}
	}()
	job()
}

// Enqueue submits job to the pool. It returns ErrStopped if Stop has
// already been called.
func (p *Pool) Enqueue(job Job) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.mu.Unlock()

	p.jobs <- job
	return nil
}

// Stop stops accepting new jobs, drains whatever is already queued,
// and waits for every worker to finish. It is idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
}
