/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mozilla-services/gofer/agent/auth"
	"github.com/mozilla-services/gofer/agent/logutil"
	"github.com/mozilla-services/gofer/agent/plugin"
	"github.com/mozilla-services/gofer/agent/scheduler"
	"github.com/mozilla-services/gofer/transport"

	_ "github.com/mozilla-services/gofer/transport/amqp091"
)

// startupTimeout bounds how long "start" waits to hear back from the
// detached child before giving up and reporting a runtime startup
// failure (exit 2).
const startupTimeout = 30 * time.Second

// cmdStart launches the agent detached from the controlling terminal,
// the way an init script's "start" verb does, and exits only once the
// child has either finished attaching its plugins or failed to.
func cmdStart(configRoot, logDir string) int {
	pidPath := pidfilePath(logDir)
	if pid, err := readPidfile(pidPath); err == nil && processAlive(pid) {
		fmt.Fprintf(os.Stderr, "agentd already running (pid %d)\n", pid)
		return 2
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "create log dir %s: %s\n", logDir, err)
		return 1
	}

	readyR, readyW, err := os.Pipe()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create ready pipe: %s\n", err)
		return 2
	}
	defer readyR.Close()

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve executable: %s\n", err)
		return 2
	}

	child := exec.Command(self, "run", "-config", configRoot, "-logdir", logDir)
	child.ExtraFiles = []*os.File{readyW}
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil

	if err := child.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start agentd: %s\n", err)
		return 2
	}
	readyW.Close()

	if err := writePidfile(pidPath, child.Process.Pid); err != nil {
		fmt.Fprintf(os.Stderr, "write pidfile %s: %s\n", pidPath, err)
		return 2
	}

	result := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := readyR.Read(buf)
		result <- string(buf[:n])
	}()

	select {
	case line := <-result:
		if len(line) >= 2 && line[:2] == "OK" {
			fmt.Println("agentd started")
			return 0
		}
		fmt.Fprintf(os.Stderr, "agentd failed to start: %s\n", line)
		os.Remove(pidPath)
		return 2
	case <-time.After(startupTimeout):
		fmt.Fprintln(os.Stderr, "agentd did not report readiness in time")
		return 2
	}
}

// cmdStop signals a graceful shutdown and waits for the process to
// exit, mirroring Plugin.Detach()'s repeat-safe, idempotent semantics
// at the process level.
func cmdStop(logDir string) int {
	pidPath := pidfilePath(logDir)
	pid, err := readPidfile(pidPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentd is not running")
		return 0
	}
	if !processAlive(pid) {
		os.Remove(pidPath)
		fmt.Fprintln(os.Stderr, "agentd is not running")
		return 0
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 2
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "signal agentd (pid %d): %s\n", pid, err)
		return 2
	}

	deadline := time.Now().Add(detachJoinWait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			os.Remove(pidPath)
			fmt.Println("agentd stopped")
			return 0
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "agentd did not stop in time")
	return 2
}

func cmdRestart(configRoot, logDir string) int {
	if code := cmdStop(logDir); code != 0 {
		return code
	}
	return cmdStart(configRoot, logDir)
}

func cmdStatus(logDir string) int {
	pidPath := pidfilePath(logDir)
	pid, err := readPidfile(pidPath)
	if err != nil {
		fmt.Println("agentd is not running")
		return 1
	}
	if !processAlive(pid) {
		fmt.Println("agentd is not running (stale pidfile)")
		return 1
	}
	fmt.Printf("agentd is running (pid %d)\n", pid)
	return 0
}

// detachJoinWait bounds how long "stop" waits for the process to exit
// after SIGTERM before reporting failure.
const detachJoinWait = 30 * time.Second

// runForeground is the child side of "start": load plugins, attach
// them, run the scheduler, and block until a termination signal
// arrives. ready, if non-nil, receives a single "OK\n" or "ERR: ...\n"
// line once the attach phase completes (or fails).
func runForeground(configRoot, logDir string, ready *os.File) int {
	if err := logutil.Configure(logDir, log.InfoLevel); err != nil {
		reportReady(ready, err)
		return 2
	}

	pluginsDir := filepath.Join(configRoot, "plugins")
	if err := os.MkdirAll(pluginsDir, 0755); err != nil {
		log.WithError(err).Error("create plugins dir")
		reportReady(ready, err)
		return 1
	}

	loader := plugin.NewLoader()
	loaded := loader.Load(pluginsDir)

	storeRoot := filepath.Join("/var/lib/gofer/pending")
	sched := scheduler.New()
	attached := 0
	for _, p := range loaded {
		if !p.Enabled() || p.URL() == "" {
			continue
		}
		if secret := p.Descriptor.Secret(); secret != "" {
			p.SetAuthenticator(auth.NewHMACAuthenticator(secret))
		}
		factory, err := transport.Bind(p.URL())
		if err != nil {
			log.WithError(err).WithField("plugin", p.Name).Error("resolve transport")
			continue
		}
		if err := p.Attach(factory, filepath.Join(storeRoot, p.UUID())); err != nil {
			log.WithError(err).WithField("plugin", p.Name).Error("attach plugin")
			continue
		}
		sched.AddAll(p.Actions)
		attached++
		log.WithField("plugin", p.Name).Info("plugin attached")
	}

	reportReady(ready, nil)
	log.WithField("attached", attached).WithField("loaded", len(loaded)).Info("agentd ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	log.Info("shutdown initiated")

	sched.Stop()
	for _, p := range loaded {
		if err := p.Detach(); err != nil {
			log.WithError(err).WithField("plugin", p.Name).Error("detach plugin")
		}
	}
	log.Info("shutdown complete")
	return 0
}

func reportReady(ready *os.File, err error) {
	if ready == nil {
		return
	}
	if err != nil {
		fmt.Fprintf(ready, "ERR: %s\n", err)
	} else {
		fmt.Fprintln(ready, "OK")
	}
	ready.Close()
}
