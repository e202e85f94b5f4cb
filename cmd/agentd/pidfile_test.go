/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadPidfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.pid")
	require.NoError(t, writePidfile(path, 4242))

	pid, err := readPidfile(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestReadPidfileMissingIsError(t *testing.T) {
	_, err := readPidfile(filepath.Join(t.TempDir(), "missing.pid"))
	assert.Error(t, err)
}

func TestReadPidfileCorruptIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0644))
	_, err := readPidfile(path)
	assert.Error(t, err)
}

func TestProcessAliveForCurrentProcess(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
}

func TestProcessAliveForImplausiblePid(t *testing.T) {
	assert.False(t, processAlive(1<<30))
}

func TestPidfilePathJoinsLogDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/log/gofer", "agentd.pid"), pidfilePath("/var/log/gofer"))
}
