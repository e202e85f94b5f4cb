/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mozilla-services/gofer/agent/errs"
	"github.com/mozilla-services/gofer/message"
	"github.com/mozilla-services/gofer/transport"
)

func defaultNow() time.Time { return time.Now() }

// ProgressReport is handed to a Synchronous caller's progress callback
// each time a progress status envelope arrives (spec.md §4.7).
type ProgressReport struct {
	SN        string
	Any       json.RawMessage
	Total     int
	Completed int
	Details   string
}

// ProgressFunc observes progress reports; it must not block for long,
// since it runs inline on the Synchronous.Send call path.
type ProgressFunc func(ProgressReport)

// RequestMethod is the client-side request delivery strategy - the Go
// counterpart of original_source's RequestMethod base class.
type RequestMethod interface {
	// Send delivers request to dest and returns whatever the policy
	// considers "the result" of sending: the raw JSON return value
	// (json.RawMessage) for Synchronous, a *Trigger for Asynchronous. window, if non-nil,
	// restricts when the agent may execute the request (spec.md §3);
	// any is arbitrary caller data echoed back on progress reports.
	Send(ctx context.Context, dest transport.Destination, request *message.Request, window *message.Window, any json.RawMessage) (interface{}, error)
}

// Synchronous blocks until a reply is received (spec.md §4.7's phase
// A/B wait), the Go counterpart of original_source's Synchronous
// policy. One Synchronous owns one transient, auto-delete reply
// queue for its whole lifetime.
type Synchronous struct {
	factory  transport.Factory
	url      string
	timeout  Timeout
	progress ProgressFunc

	queue transport.Queue
}

// NewSynchronous declares the transient reply queue and returns a
// ready-to-use Synchronous policy.
func NewSynchronous(factory transport.Factory, url string, timeout Timeout, progress ProgressFunc) (*Synchronous, error) {
	if timeout == (Timeout{}) {
		timeout = DefaultSynchronousTimeout
	}
	ex, err := factory.NewExchangeDirect(url)
	if err != nil {
		return nil, errors.Wrap(err, "resolve exchange")
	}
	name := uuid.NewString()
	q := factory.NewQueue(name, ex, name, false, true, true)
	if err := q.Declare(context.Background(), url); err != nil {
		return nil, errors.Wrap(err, "declare reply queue")
	}
	return &Synchronous{factory: factory, url: url, timeout: timeout, progress: progress, queue: q}, nil
}

// Close drains and deletes the reply queue.
func (s *Synchronous) Close(ctx context.Context) error {
	return s.queue.Delete(ctx, s.url, true)
}

// Send implements RequestMethod: send then block through phase A
// (await started) and phase B (await progress/terminal), per spec.md
// §4.7.
func (s *Synchronous) Send(ctx context.Context, dest transport.Destination, request *message.Request, window *message.Window, any json.RawMessage) (interface{}, error) {
	producer, err := s.factory.NewProducer(s.url)
	if err != nil {
		return nil, errors.Wrap(err, "new producer")
	}
	defer producer.Close()

	replyTo := s.queue.Destination().Address()
	env := &message.Envelope{
		ReplyTo: replyTo,
		TTL:     int(s.timeout.Start.Seconds()),
		Request: request,
		Window:  window,
		Any:     any,
	}
	sn, err := producer.Send(ctx, dest, env)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}

	reader, err := s.factory.NewReader(s.url, s.queue)
	if err != nil {
		return nil, errors.Wrap(err, "new reader")
	}
	defer reader.Close()

	if err := s.awaitStarted(ctx, sn, reader); err != nil {
		return nil, err
	}
	return s.awaitReply(ctx, sn, reader)
}

func (s *Synchronous) awaitStarted(ctx context.Context, sn string, reader transport.Reader) error {
	env, err := reader.Search(ctx, sn, s.timeout.Start)
	if err != nil {
		return errors.Wrap(err, "search for started")
	}
	if env == nil {
		return &errs.RequestTimeout{SN: sn, Phase: 0}
	}
	if env.Status != message.StatusStarted {
		// A non-started reply arriving this early is unusual but not
		// impossible; original_source's __get_started surfaces its
		// failure the same way and otherwise discards it, leaving
		// awaitReply to search (and likely time out) on its own.
		if _, err := s.onReply(env); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronous) awaitReply(ctx context.Context, sn string, reader transport.Reader) (interface{}, error) {
	remaining := s.timeout.Duration
	for {
		started := nowFunc()
		env, err := reader.Search(ctx, sn, remaining)
		elapsed := nowFunc().Sub(started)
		if err != nil {
			return nil, errors.Wrap(err, "search for reply")
		}
		if env == nil {
			return nil, &errs.RequestTimeout{SN: sn, Phase: 1}
		}
		remaining -= elapsed
		if remaining < 0 {
			remaining = 0
		}
		if env.Status == message.StatusProgress {
			s.onProgress(env)
			if remaining == 0 {
				return nil, &errs.RequestTimeout{SN: sn, Phase: 1}
			}
			continue
		}
		return s.onReply(env)
	}
}

func (s *Synchronous) onProgress(env *message.Envelope) {
	if s.progress == nil {
		return
	}
	s.progress(ProgressReport{
		SN:        env.SN,
		Any:       env.Any,
		Total:     env.Total,
		Completed: env.Completed,
		Details:   env.Details,
	})
}

func (s *Synchronous) onReply(env *message.Envelope) (interface{}, error) {
	if env.Result.Succeeded() {
		return env.Result.Retval, nil
	}
	return nil, errs.FromResult(env.Result)
}

// nowFunc is a seam for tests that need to fake elapsed time; it is
// intentionally not a struct field since every Synchronous shares the
// same notion of "now".
var nowFunc = defaultNow
