package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpLoadRoundTrip(t *testing.T) {
	e := &Envelope{
		SN:      "abc-123",
		Version: Version,
		Routing: [2]string{"client-1", "agent-1"},
		Request: &Request{
			Classname: "TestAdmin",
			Method:    "echo",
			Args:      []json.RawMessage{json.RawMessage(`"hi"`)},
		},
		ReplyTo: "reply-queue",
	}

	body, err := Dump(e, nil)
	require.NoError(t, err)

	loaded, err := Load([]byte(body), nil)
	require.NoError(t, err)

	assert.Equal(t, e.SN, loaded.SN)
	assert.Equal(t, e.Request.Classname, loaded.Request.Classname)
	assert.Equal(t, e.Request.Method, loaded.Request.Method)
	assert.Equal(t, e.ReplyTo, loaded.ReplyTo)
}

func TestSNRoundTripForAllEnvelopeShapes(t *testing.T) {
	cases := []*Envelope{
		{SN: "s1", Version: Version, Status: StatusStarted},
		{SN: "s2", Version: Version, Status: StatusProgress, Total: 10, Completed: 3},
		{SN: "s3", Version: Version, Result: &Result{Retval: json.RawMessage(`42`)}},
		{SN: "s4", Version: Version, Result: &Result{Exval: "ValueError", Xargs: json.RawMessage(`["bad"]`)}},
	}
	for _, e := range cases {
		body, err := Dump(e, nil)
		require.NoError(t, err)
		loaded, err := Load([]byte(body), nil)
		require.NoError(t, err)
		assert.Equal(t, e.SN, loaded.SN)
	}
}

type fakeSigner struct{ fail bool }

func (f *fakeSigner) Sign(body []byte) ([]byte, error) {
	return []byte("sig:" + string(body)), nil
}

func (f *fakeSigner) Verify(body, signature []byte) error {
	if f.fail {
		return ErrAuthFailure
	}
	want := "sig:" + string(body)
	if want != string(signature) {
		return ErrAuthFailure
	}
	return nil
}

func TestDumpLoadWithSigner(t *testing.T) {
	e := &Envelope{SN: "s1", Version: Version}
	signer := &fakeSigner{}

	body, err := Dump(e, signer)
	require.NoError(t, err)

	_, err = Load([]byte(body), signer)
	require.NoError(t, err)

	_, err = Load([]byte(body), &fakeSigner{fail: true})
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestLoadRejectsMissingSignatureWhenVerifierInstalled(t *testing.T) {
	e := &Envelope{SN: "s1", Version: Version}
	body, err := Dump(e, nil)
	require.NoError(t, err)

	_, err = Load([]byte(body), &fakeSigner{})
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestWindowBoundaries(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("begin exactly now is current, not past", func(t *testing.T) {
		w := &Window{Begin: now.Format(time.RFC3339), Duration: Duration(60 * time.Second)}
		assert.False(t, w.Future(now))
		assert.False(t, w.Past(now))
		assert.True(t, w.Current(now))
	})

	t.Run("begin in future", func(t *testing.T) {
		w := &Window{Begin: now.Add(5 * time.Second).Format(time.RFC3339), Duration: Duration(60 * time.Second)}
		assert.True(t, w.Future(now))
		assert.False(t, w.Current(now))
	})

	t.Run("begin+duration in the past", func(t *testing.T) {
		w := &Window{Begin: now.Add(-60 * time.Second).Format(time.RFC3339), Duration: Duration(10 * time.Second)}
		assert.True(t, w.Past(now))
		assert.False(t, w.Current(now))
	})

	t.Run("absent window is always current", func(t *testing.T) {
		var w *Window
		assert.False(t, w.Future(now))
		assert.False(t, w.Past(now))
		assert.True(t, w.Current(now))
	})
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"10s":      10 * time.Second,
		"5m":       5 * time.Minute,
		"2h":       2 * time.Hour,
		"1d":       24 * time.Hour,
		"90":       90 * time.Second,
		"1:02:03":  1*time.Hour + 2*time.Minute + 3*time.Second,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
