/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package logutil configures the agent's root logger, the Go
// counterpart of original_source's gofer.agent.logutil.getLogger: one
// rotating log file under a log directory, 1 MiB per file, 5 backups
// kept, INFO level by default.
package logutil

import (
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	log "github.com/sirupsen/logrus"
)

// LogFile is the file name original_source wrote agent.log under.
const LogFile = "agent.log"

const (
	maxSizeMB  = 1 // 0x100000 bytes, same ceiling as original_source's RotatingFileHandler
	maxBackups = 5
)

// Configure points the standard logrus logger at dir/agent.log, with
// the same size-based rotation original_source's RotatingFileHandler
// used. It creates dir if needed, matching os.mkdir(LOGDIR). level is
// applied exactly as given (cmd/agentd passes logrus.InfoLevel).
func Configure(dir string, level log.Level) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   filepath.Join(dir, LogFile),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	})
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetLevel(level)
	return nil
}
