package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/gofer/message"
)

type fakeFactory struct{ scheme string }

func (f *fakeFactory) Scheme() string                       { return f.scheme }
func (f *fakeFactory) NewBroker(string) (Broker, error)      { return nil, nil }
func (f *fakeFactory) NewExchangeDirect(string) (Exchange, error) { return nil, nil }
func (f *fakeFactory) NewQueue(name string, _ Exchange, rk string, durable, autoDelete, managed bool) Queue {
	return nil
}
func (f *fakeFactory) NewProducer(string) (Producer, error) { return nil, nil }
func (f *fakeFactory) NewReader(string, Queue) (Reader, error) {
	return nil, nil
}

var _ Broker = (*noopBroker)(nil)

type noopBroker struct{}

func (noopBroker) SetTLS(TLSConfig)                { }
func (noopBroker) Connect(context.Context) error    { return nil }
func (noopBroker) Close() error                     { return nil }

var _ Reader = (*noopReader)(nil)

type noopReader struct{}

func (noopReader) Fetch(context.Context, time.Duration) (*message.Envelope, error) { return nil, nil }
func (noopReader) Search(context.Context, string, time.Duration) (*message.Envelope, error) {
	return nil, nil
}
func (noopReader) Ack() error                          { return nil }
func (noopReader) SetVerifier(message.Signer)          {}
func (noopReader) Close() error                        { return nil }

func TestBindIsIdempotentPerURL(t *testing.T) {
	resetForTest()
	defer resetForTest()

	Register(&fakeFactory{scheme: "amqp"})

	f1, err := Bind("amqp://localhost/agent1")
	require.NoError(t, err)
	f2, err := Bind("amqp://localhost/agent1")
	require.NoError(t, err)
	assert.Same(t, f1, f2)
}

func TestBindUnknownSchemeErrors(t *testing.T) {
	resetForTest()
	defer resetForTest()

	_, err := Bind("weird://localhost")
	assert.Error(t, err)
}

func TestDestinationAddress(t *testing.T) {
	d := Destination{Exchange: "amq.direct", RoutingKey: "agent-1"}
	assert.Equal(t, "amq.direct/agent-1", d.Address())

	d2 := Destination{RoutingKey: "ctag-1"}
	assert.Equal(t, "ctag-1", d2.Address())
}
