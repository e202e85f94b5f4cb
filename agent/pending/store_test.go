package pending

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/gofer/message"
)

func envelopeAt(sn string, begin time.Time) *message.Envelope {
	return &message.Envelope{
		SN:      sn,
		Version: message.Version,
		Window:  &message.Window{Begin: begin.UTC().Format(time.RFC3339)},
	}
}

func TestAddListRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.Add(envelopeAt("sn-2", now.Add(2*time.Minute))))
	require.NoError(t, s.Add(envelopeAt("sn-1", now.Add(1*time.Minute))))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sn-1", entries[0].SN)
	assert.Equal(t, "sn-2", entries[1].SN)

	require.NoError(t, s.Remove("sn-1"))
	entries, err = s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sn-2", entries[0].SN)
}

func TestRemoveAbsentIsNotAnError(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Remove("never-added"))
}

func TestListOrdersByBeginThenInsertionOrder(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	begin := time.Now().Add(5 * time.Minute)
	require.NoError(t, s.Add(envelopeAt("first", begin)))
	require.NoError(t, s.Add(envelopeAt("second", begin)))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].SN)
	assert.Equal(t, "second", entries[1].SN)
}

func TestListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.Add(envelopeAt("good", time.Now().Add(time.Minute))))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.json"), []byte("{not valid json"), 0o644))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].SN)
}

func TestNextSeqResyncsFromExistingFiles(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Add(envelopeAt("sn-1", time.Now())))
	require.NoError(t, s1.Add(envelopeAt("sn-2", time.Now())))

	s2, err := Open(dir)
	require.NoError(t, err)
	_, err = s2.List()
	require.NoError(t, err)
	require.NoError(t, s2.Add(envelopeAt("sn-3", time.Now())))

	entries, err := s2.List()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
