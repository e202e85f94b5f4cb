/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/gofer/message"
	"github.com/mozilla-services/gofer/transport"
	_ "github.com/mozilla-services/gofer/transport/memtransport"
)

func TestTriggerFiresOnceAndRejectsSecondFire(t *testing.T) {
	const url = "mem://client-trigger"
	f, err := transport.Bind(url)
	require.NoError(t, err)

	policy := NewAsynchronous(f, url, "", Timeout{}, false, nil)
	tr := newTrigger(policy, transport.Destination{Exchange: "amq.direct", RoutingKey: "agent-trigger"}, &message.Request{Classname: "TestAdmin", Method: "echo"}, nil, nil)

	require.NoError(t, tr.Fire(context.Background()))
	err = tr.Fire(context.Background())
	assert.ErrorIs(t, err, ErrTriggerFired)
}

func TestAsynchronousSendAutoFiresUnlessManual(t *testing.T) {
	const url = "mem://client-async-auto"
	f, err := transport.Bind(url)
	require.NoError(t, err)

	auto := NewAsynchronous(f, url, "", Timeout{}, false, nil)
	v, err := auto.Send(context.Background(), transport.Destination{Exchange: "amq.direct", RoutingKey: "agent-auto"}, &message.Request{Classname: "TestAdmin", Method: "echo"}, nil, nil)
	require.NoError(t, err)
	tr := v.(*Trigger)
	// A second fire must fail: Send already fired it automatically.
	assert.Error(t, tr.Fire(context.Background()))
}

func TestAsynchronousSendManualTriggerDoesNotFire(t *testing.T) {
	const url = "mem://client-async-manual"
	f, err := transport.Bind(url)
	require.NoError(t, err)

	manual := NewAsynchronous(f, url, "ctag-1", Timeout{}, true, nil)
	v, err := manual.Send(context.Background(), transport.Destination{Exchange: "amq.direct", RoutingKey: "agent-manual"}, &message.Request{Classname: "TestAdmin", Method: "echo"}, nil, nil)
	require.NoError(t, err)
	tr := v.(*Trigger)
	require.NoError(t, tr.Fire(context.Background()))
}

func TestAsynchronousSendNotifiesWatchdog(t *testing.T) {
	const url = "mem://client-async-watchdog"
	f, err := transport.Bind(url)
	require.NoError(t, err)

	fired := make(chan string, 1)
	wd := NewWatchdog(func(sn string, any json.RawMessage) { fired <- sn })
	wd.Start()
	defer wd.Stop()

	policy := NewAsynchronous(f, url, "ctag-2", Timeout{Start: 10 * time.Millisecond, Duration: 0}, false, wd)
	v, err := policy.Send(context.Background(), transport.Destination{Exchange: "amq.direct", RoutingKey: "agent-watchdog"}, &message.Request{Classname: "TestAdmin", Method: "echo"}, nil, nil)
	require.NoError(t, err)
	tr := v.(*Trigger)

	select {
	case sn := <-fired:
		assert.Equal(t, tr.SN(), sn)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never fired")
	}
}
