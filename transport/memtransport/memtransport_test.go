package memtransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/gofer/message"
	"github.com/mozilla-services/gofer/transport"
)

func TestSendFetchRoundTrip(t *testing.T) {
	const url = "mem://test-send-fetch"
	f, err := transport.Bind(url)
	require.NoError(t, err)

	ex, err := f.NewExchangeDirect(url)
	require.NoError(t, err)
	q := f.NewQueue("agent-1", ex, "agent-1", true, false, true)
	require.NoError(t, q.Declare(context.Background(), url))

	producer, err := f.NewProducer(url)
	require.NoError(t, err)
	reader, err := f.NewReader(url, q)
	require.NoError(t, err)

	sn, err := producer.Send(context.Background(), q.Destination(), &message.Envelope{
		Request: &message.Request{Classname: "TestAdmin", Method: "echo"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sn)

	got, err := reader.Fetch(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sn, got.SN)
}

func TestFetchTimesOutWithNilEnvelope(t *testing.T) {
	const url = "mem://test-fetch-timeout"
	f, err := transport.Bind(url)
	require.NoError(t, err)
	ex, _ := f.NewExchangeDirect(url)
	q := f.NewQueue("agent-empty", ex, "agent-empty", true, false, true)
	require.NoError(t, q.Declare(context.Background(), url))
	reader, err := f.NewReader(url, q)
	require.NoError(t, err)

	got, err := reader.Fetch(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSearchDiscardsNonMatchingEnvelopes(t *testing.T) {
	const url = "mem://test-search"
	f, err := transport.Bind(url)
	require.NoError(t, err)
	ex, _ := f.NewExchangeDirect(url)
	q := f.NewQueue("replyq", ex, "replyq", false, true, true)
	require.NoError(t, q.Declare(context.Background(), url))
	producer, err := f.NewProducer(url)
	require.NoError(t, err)
	reader, err := f.NewReader(url, q)
	require.NoError(t, err)

	_, err = producer.Send(context.Background(), q.Destination(), &message.Envelope{SN: "other"})
	require.NoError(t, err)
	_, err = producer.Send(context.Background(), q.Destination(), &message.Envelope{SN: "mine"})
	require.NoError(t, err)

	got, err := reader.Search(context.Background(), "mine", time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "mine", got.SN)
}

type fixedSigner struct{ ok bool }

func (s fixedSigner) Sign(body []byte) ([]byte, error) { return []byte("sig"), nil }
func (s fixedSigner) Verify(body, signature []byte) error {
	if s.ok {
		return nil
	}
	return message.ErrAuthFailure
}

func TestSignerAndVerifierAreAppliedEndToEnd(t *testing.T) {
	const url = "mem://test-auth"
	f, err := transport.Bind(url)
	require.NoError(t, err)
	ex, _ := f.NewExchangeDirect(url)
	q := f.NewQueue("secure", ex, "secure", true, false, true)
	require.NoError(t, q.Declare(context.Background(), url))

	producer, err := f.NewProducer(url)
	require.NoError(t, err)
	producer.SetSigner(fixedSigner{ok: true})

	reader, err := f.NewReader(url, q)
	require.NoError(t, err)
	reader.SetVerifier(fixedSigner{ok: false})

	_, err = producer.Send(context.Background(), q.Destination(), &message.Envelope{SN: "sn-1"})
	require.NoError(t, err)

	_, err = reader.Fetch(context.Background(), time.Second)
	assert.ErrorIs(t, err, message.ErrAuthFailure)
}
