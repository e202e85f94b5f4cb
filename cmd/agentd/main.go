/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

/*

Agentd is the process supervisor for a gofer agent: it loads plugin
descriptors, attaches each enabled plugin to its broker, runs the
action scheduler, and waits for a termination signal - the "Glue/CLI"
row of the system overview that spec.md names but leaves unspecified
beyond its command surface (start|stop|restart|status).

*/
package main

import (
	"flag"
	"fmt"
	"os"
)

const (
	name              = "gofer"
	defaultConfigRoot = "/etc/" + name
	defaultLogDir     = "/var/log/" + name
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <start|stop|restart|status>\n", os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	configRoot := envOr("GOFER_CONFIG", defaultConfigRoot)
	logDir := envOr("GOFER_LOGDIR", defaultLogDir)

	cmd := os.Args[1]
	if cmd == "run" {
		// Internal: the detached child process started by "start".
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		configFlag := fs.String("config", configRoot, "config root")
		logFlag := fs.String("logdir", logDir, "log directory")
		fs.Parse(os.Args[2:])
		os.Exit(runForeground(*configFlag, *logFlag, os.NewFile(3, "ready")))
	}

	switch cmd {
	case "start":
		os.Exit(cmdStart(configRoot, logDir))
	case "stop":
		os.Exit(cmdStop(logDir))
	case "restart":
		os.Exit(cmdRestart(configRoot, logDir))
	case "status":
		os.Exit(cmdStatus(logDir))
	default:
		usage()
		os.Exit(1)
	}
}
