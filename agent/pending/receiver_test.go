package pending

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/gofer/message"
)

type replayRecorder struct {
	mu   sync.Mutex
	sns  []string
	fail map[string]bool
}

func (r *replayRecorder) replay(env *message.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[env.SN] {
		return assert.AnError
	}
	r.sns = append(r.sns, env.SN)
	return nil
}

func (r *replayRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sns))
	copy(out, r.sns)
	return out
}

func TestTickDispatchesCurrentWindowAndRemovesEntry(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Add(envelopeAt("ready", time.Now().Add(-time.Second))))

	rec := &replayRecorder{}
	r := NewReceiver(s, rec.replay, nil)

	r.tick()

	assert.Equal(t, []string{"ready"}, rec.seen())
	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTickLeavesFutureWindowParked(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Add(envelopeAt("later", time.Now().Add(time.Hour))))

	rec := &replayRecorder{}
	r := NewReceiver(s, rec.replay, nil)

	wait := r.tick()

	assert.Empty(t, rec.seen())
	assert.True(t, wait <= pollInterval)
	entries, err := s.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTickEmitsMissedForExpiredWindowAndDropsEntry(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	env := &message.Envelope{
		SN:      "expired",
		Version: message.Version,
		Window: &message.Window{
			Begin:    time.Now().Add(-time.Hour).Format(time.RFC3339),
			Duration: message.Duration(time.Second),
		},
	}
	require.NoError(t, s.Add(env))

	var missedSN string
	rec := &replayRecorder{}
	r := NewReceiver(s, rec.replay, func(e *message.Envelope) { missedSN = e.SN })

	r.tick()

	assert.Equal(t, "expired", missedSN)
	assert.Empty(t, rec.seen())
	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTickRetriesEntryWhenReplayFails(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Add(envelopeAt("busy", time.Now().Add(-time.Second))))

	rec := &replayRecorder{fail: map[string]bool{"busy": true}}
	r := NewReceiver(s, rec.replay, nil)

	r.tick()

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "busy", entries[0].SN)
}

func TestStartStopJoin(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	rec := &replayRecorder{}
	r := NewReceiver(s, rec.replay, nil)

	r.Start()
	r.Start() // idempotent
	require.NoError(t, s.Add(envelopeAt("quick", time.Now().Add(-time.Second))))
	r.Notify()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.seen()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []string{"quick"}, rec.seen())

	r.Stop()
	assert.True(t, r.Join(2*time.Second))
}
