/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package pending is the request-window scheduler (spec.md §4.3): a
// durable, on-disk FIFO of envelopes whose execution window has not
// yet opened, indexed by sn and ordered by window.begin.
package pending

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mozilla-services/gofer/message"
)

// entry is the on-disk shape: the envelope plus a monotonic sequence
// number used to break begin-time ties in insertion order (spec.md
// §4.3's ordering requirement).
type entry struct {
	Seq      int64             `json:"seq"`
	Envelope *message.Envelope `json:"envelope"`
}

// Store is a durable FIFO of future-window envelopes. One file per
// envelope under Dir, named "<sn>.json", written via a temp file +
// atomic rename so a crash mid-write leaves only a discardable partial
// file behind (spec.md §6, §4.3's crash-safety requirement).
type Store struct {
	Dir string

	mu      sync.Mutex
	nextSeq int64
}

// Open ensures dir exists and returns a Store rooted there. Recovery
// (discarding partial writes) happens lazily on the first List call,
// the same as the store otherwise behaves on every subsequent scan.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create pending dir %s", dir)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(sn string) string {
	return filepath.Join(s.Dir, sn+".json")
}

// Add atomically appends env to the store, keyed by its sn. Calling
// Add twice for the same sn overwrites the earlier entry.
func (s *Store) Add(env *message.Envelope) error {
	s.mu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	s.mu.Unlock()

	e := entry{Seq: seq, Envelope: env}
	body, err := json.Marshal(&e)
	if err != nil {
		return errors.Wrap(err, "marshal pending entry")
	}

	tmp, err := os.CreateTemp(s.Dir, env.SN+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create pending temp file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "write pending temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "close pending temp file")
	}
	if err := os.Rename(tmpPath, s.path(env.SN)); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "rename pending entry into place")
	}
	return nil
}

// Remove deletes the entry for sn, if present. Removing an absent sn
// is not an error (the replay loop removes entries it has already
// handed off, and a duplicate removal must be harmless).
func (s *Store) Remove(sn string) error {
	err := os.Remove(s.path(sn))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove pending entry %s", sn)
	}
	return nil
}

// List returns every valid entry, ordered by window.begin then
// insertion sequence (spec.md §4.3's ordering invariant). Files that
// fail to parse (a partial write surviving a crash, per the format's
// append-only-per-entry guarantee) are skipped, never surfaced as an
// entry.
func (s *Store) List() ([]*message.Envelope, error) {
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read pending dir %s", s.Dir)
	}

	var entries []entry
	var maxSeq int64
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		body, err := os.ReadFile(filepath.Join(s.Dir, f.Name()))
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(body, &e); err != nil {
			continue // partial/corrupt write; discarded at recovery
		}
		if e.Envelope == nil {
			continue
		}
		entries = append(entries, e)
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}

	s.mu.Lock()
	if maxSeq > s.nextSeq {
		s.nextSeq = maxSeq
	}
	s.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		bi, erri := parseBegin(entries[i].Envelope)
		bj, errj := parseBegin(entries[j].Envelope)
		if erri == nil && errj == nil && !bi.Equal(bj) {
			return bi.Before(bj)
		}
		return entries[i].Seq < entries[j].Seq
	})

	out := make([]*message.Envelope, len(entries))
	for i, e := range entries {
		out[i] = e.Envelope
	}
	return out, nil
}

func parseBegin(env *message.Envelope) (time.Time, error) {
	if env.Window == nil || env.Window.Begin == "" {
		return time.Time{}, errors.New("no window")
	}
	return time.Parse(time.RFC3339, env.Window.Begin)
}
