/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidfilePath is the supervisor's own lock/handle file, written by a
// successful start and removed by a successful stop - original_source
// has no direct counterpart (it ran under an external init script);
// this is cmd/hekad's "no supervisor at all" gap filled in per
// spec.md §6's CLI surface.
func pidfilePath(logDir string) string {
	return filepath.Join(logDir, "agentd.pid")
}

func writePidfile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644)
}

func readPidfile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pidfile %s: %w", path, err)
	}
	return pid, nil
}

// processAlive reports whether pid names a live process, using the
// signal-0 probe idiom (no SIGnal actually sent).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
