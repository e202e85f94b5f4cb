/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mozilla-services/gofer/agent/errs"
	"github.com/mozilla-services/gofer/agent/pending"
	"github.com/mozilla-services/gofer/agent/workpool"
	"github.com/mozilla-services/gofer/message"
	"github.com/mozilla-services/gofer/transport"
)

// State is the consumer lifecycle (spec.md §4.6): CREATED -> OPENED ->
// RUNNING -> STOPPING -> STOPPED.
type State int32

const (
	Created State = iota
	Opened
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Opened:
		return "OPENED"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// fetchWait mirrors original_source's ReceiverThread.WAIT: how long one
// blocking Fetch call waits before looping to re-check the stop latch.
const fetchWait = 3 * time.Second

// Consumer is an RMI request consumer bound to one queue (spec.md
// §4.6), the Go counterpart of original_source's RequestConsumer. It
// owns the pending-store replay thread for its queue and dispatches
// each accepted request either inline or onto a worker pool, depending
// on the pool's concurrency.
type Consumer struct {
	id         string
	reader     transport.Reader
	producer   transport.Producer
	dispatcher *Dispatcher
	pool       *workpool.Pool
	store      *pending.Store
	receiver   *pending.Receiver

	state  int32
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer builds a consumer. Authentication, if any, is configured
// on reader/producer directly (reader.SetVerifier/producer.SetSigner)
// before they are passed in here - the consumer itself is agnostic to
// whether envelopes on the wire are signed (spec.md §4.11).
func NewConsumer(id string, reader transport.Reader, producer transport.Producer, dispatcher *Dispatcher, pool *workpool.Pool, store *pending.Store) *Consumer {
	c := &Consumer{
		id:         id,
		reader:     reader,
		producer:   producer,
		dispatcher: dispatcher,
		pool:       pool,
		store:      store,
		state:      int32(Created),
	}
	c.receiver = pending.NewReceiver(store, c.replay, c.missed)
	return c
}

func (c *Consumer) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// Open transitions CREATED -> OPENED. Idempotent.
func (c *Consumer) Open() {
	atomic.CompareAndSwapInt32(&c.state, int32(Created), int32(Opened))
}

// Start transitions OPENED -> RUNNING, launching the receive loop and
// the pending-store replay thread. Calling Start twice is a no-op.
func (c *Consumer) Start() {
	c.Open()
	c.mu.Lock()
	defer c.mu.Unlock()
	if State(atomic.LoadInt32(&c.state)) == Running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	atomic.StoreInt32(&c.state, int32(Running))
	c.receiver.Start()
	go c.run(ctx)
}

// Stop transitions RUNNING -> STOPPING -> STOPPED, draining in-flight
// work and joining the receive loop.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if State(atomic.LoadInt32(&c.state)) != Running {
		c.mu.Unlock()
		return
	}
	atomic.StoreInt32(&c.state, int32(Stopping))
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	c.receiver.Stop()
	<-done
	atomic.StoreInt32(&c.state, int32(Stopped))
}

// Join waits up to timeout for the consumer to finish stopping.
func (c *Consumer) Join(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for State(atomic.LoadInt32(&c.state)) != Stopped && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return State(atomic.LoadInt32(&c.state)) == Stopped
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := c.reader.Fetch(ctx, fetchWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("consumer", c.id).Error("fetch failed")
			continue
		}
		if env == nil {
			continue // normal read timeout
		}

		c.received(env)
		if err := c.reader.Ack(); err != nil {
			log.WithError(err).WithField("consumer", c.id).Warn("ack failed")
		}
	}
}

func (c *Consumer) received(env *message.Envelope) {
	if env.Version != message.Version {
		log.WithField("sn", env.SN).Warn("version mismatch, discarded")
		return
	}
	c.process(env)
}

// process implements RequestConsumer.__dispatch: check the window,
// send the started status, then dispatch either inline or onto the
// pool, finally sending the reply (spec.md §4.6 steps 1-6).
func (c *Consumer) process(env *message.Envelope) {
	switch err := c.checkWindow(env); e := err.(type) {
	case nil:
	case *errs.ErrWindowMissed:
		c.sendReply(env, errs.ToResult(e))
		return
	case *errs.ErrWindowPending:
		return // parked; silently ignored here (spec.md §4.6 step 2)
	default:
		log.WithError(err).Warn("window check failed")
	}

	c.sendStarted(env)

	if c.pool.Concurrent() {
		_ = c.pool.Enqueue(func() {
			result := c.dispatcher.Dispatch(env.Request, c.progressFunc(env))
			c.sendReply(env, result)
		})
		return
	}

	result := c.dispatcher.Dispatch(env.Request, c.progressFunc(env))
	c.sendReply(env, result)
}

// checkWindow parks a future-window envelope in the pending store and
// reports ErrWindowPending; reports ErrWindowMissed for an
// already-closed window; nil otherwise.
func (c *Consumer) checkWindow(env *message.Envelope) error {
	if env.Window.Empty() {
		return nil
	}
	now := time.Now()
	if env.Window.Future(now) {
		if err := c.store.Add(env); err != nil {
			log.WithError(err).WithField("sn", env.SN).Error("pending store add failed")
		}
		c.receiver.Notify()
		return &errs.ErrWindowPending{SN: env.SN}
	}
	if env.Window.Past(now) {
		return &errs.ErrWindowMissed{SN: env.SN}
	}
	return nil
}

// replay is the pending.Replayer handed to the receiver: once a parked
// envelope's window has opened it sends the started status and
// dispatches the request inline or onto the pool, the same way
// process() does after its window check.
// "Accepted" (returning nil) means the request ran inline or the job
// was handed to the pool - not that it completed.
func (c *Consumer) replay(env *message.Envelope) error {
	c.sendStarted(env)
	if c.pool.Concurrent() {
		return c.pool.Enqueue(func() {
			result := c.dispatcher.Dispatch(env.Request, c.progressFunc(env))
			c.sendReply(env, result)
		})
	}
	result := c.dispatcher.Dispatch(env.Request, c.progressFunc(env))
	c.sendReply(env, result)
	return nil
}

// missed is the pending.Missed callback: emit the terminal
// WindowMissed reply for an envelope whose window closed before it
// could be replayed.
func (c *Consumer) missed(env *message.Envelope) {
	c.sendReply(env, errs.ToResult(&errs.ErrWindowMissed{SN: env.SN}))
}

func (c *Consumer) sendStarted(env *message.Envelope) {
	if env.ReplyTo == "" {
		return
	}
	reply := &message.Envelope{
		SN:      env.SN,
		Version: message.Version,
		Any:     env.Any,
		Status:  message.StatusStarted,
	}
	c.send(env.ReplyTo, reply)
}

// progressFunc returns the message.ProgressFunc handed to a dispatched
// method for env: each call emits a status=progress envelope (spec.md
// §4.7/§8). A request with no reply-to still gets a callback; it's
// just a no-op once inside sendProgress.
func (c *Consumer) progressFunc(env *message.Envelope) message.ProgressFunc {
	return func(completed, total int) {
		c.sendProgress(env, completed, total)
	}
}

func (c *Consumer) sendProgress(env *message.Envelope, completed, total int) {
	if env.ReplyTo == "" {
		return
	}
	reply := &message.Envelope{
		SN:        env.SN,
		Version:   message.Version,
		Any:       env.Any,
		Status:    message.StatusProgress,
		Completed: completed,
		Total:     total,
	}
	c.send(env.ReplyTo, reply)
}

func (c *Consumer) sendReply(env *message.Envelope, result *message.Result) {
	if env.ReplyTo == "" {
		return
	}
	reply := &message.Envelope{
		SN:      env.SN,
		Version: message.Version,
		Any:     env.Any,
		Result:  result,
	}
	c.send(env.ReplyTo, reply)
}

func (c *Consumer) send(replyTo string, reply *message.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchWait)
	defer cancel()
	if _, err := c.producer.Send(ctx, transport.ParseDestination(replyTo), reply); err != nil {
		log.WithError(err).WithField("sn", reply.SN).Error("send reply failed")
	}
}
