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

	"github.com/mozilla-services/gofer/agent/dispatch"
	"github.com/mozilla-services/gofer/agent/pending"
	"github.com/mozilla-services/gofer/agent/workpool"
	"github.com/mozilla-services/gofer/message"
	"github.com/mozilla-services/gofer/transport"
	_ "github.com/mozilla-services/gofer/transport/memtransport"
)

// startPrefixerConsumer registers a Prefixer.say handler whose reply
// depends on the constructor args given at stub-build time, exercising
// Stub.WithConstructor end to end.
func startPrefixerConsumer(t *testing.T, url, agentUUID string) func() {
	t.Helper()
	f, err := transport.Bind(url)
	require.NoError(t, err)

	ex, err := f.NewExchangeDirect(url)
	require.NoError(t, err)
	q := f.NewQueue(agentUUID, ex, agentUUID, true, false, true)
	require.NoError(t, q.Declare(context.Background(), url))
	reqReader, err := f.NewReader(url, q)
	require.NoError(t, err)
	replyProducer, err := f.NewProducer(url)
	require.NoError(t, err)

	dispatcher := dispatch.NewDispatcher()
	dispatcher.Register("Prefixer", "say", func(req *message.Request, progress message.ProgressFunc) (interface{}, error) {
		var prefix string
		if req.Cntr != nil && len(req.Cntr.Args) > 0 {
			require.NoError(t, json.Unmarshal(req.Cntr.Args[0], &prefix))
		}
		var msg string
		require.NoError(t, json.Unmarshal(req.Args[0], &msg))
		return prefix + msg, nil
	})

	pool := workpool.New(1, 1)
	store, err := pending.Open(t.TempDir())
	require.NoError(t, err)
	c := dispatch.NewConsumer(agentUUID, reqReader, replyProducer, dispatcher, pool, store)
	c.Start()

	return func() {
		c.Stop()
		pool.Stop()
	}
}

func TestStubWithConstructorCarriesArgsToRemoteCall(t *testing.T) {
	const url = "mem://client-stub-cntr"
	const agentUUID = "agent-stub-cntr"
	f, err := transport.Bind(url)
	require.NoError(t, err)
	cleanup := startPrefixerConsumer(t, url, agentUUID)
	defer cleanup()

	container := NewContainer(f, url, agentUUID, Options{Timeout: Timeout{Start: time.Second, Duration: 2 * time.Second}})
	base := container.Stub("Prefixer")
	stub, err := base.WithConstructor([]interface{}{">> "}, nil)
	require.NoError(t, err)

	result, err := stub.Call(context.Background(), "say", []interface{}{"hello"}, nil)
	require.NoError(t, err)

	raw, ok := result.(json.RawMessage)
	require.True(t, ok)
	var got string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, ">> hello", got)
}

func TestStubCallAsyncReturnsFiredTrigger(t *testing.T) {
	const url = "mem://client-stub-async"
	const agentUUID = "agent-stub-async"
	f, err := transport.Bind(url)
	require.NoError(t, err)
	cleanup := startPrefixerConsumer(t, url, agentUUID)
	defer cleanup()

	container := NewContainer(f, url, agentUUID, Options{Async: true})
	stub := container.Stub("Prefixer")

	result, err := stub.Call(context.Background(), "say", []interface{}{"hello"}, nil)
	require.NoError(t, err)
	tr, ok := result.(*Trigger)
	require.True(t, ok)
	assert.NotEmpty(t, tr.SN())
	assert.Error(t, tr.Fire(context.Background()))
}
