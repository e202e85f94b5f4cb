/***** BEGIN LICENSE BLOCK *****
# This Source Code Form is subject to the terms of the Mozilla Public
# License, v. 2.0. If a copy of the MPL was not distributed with this file,
# You can obtain one at http://mozilla.org/MPL/2.0/.
# ***** END LICENSE BLOCK *****/

// Package testadmin is a minimal plugin module exercising the full
// load→collate→attach path end to end, the Go port of
// original_source's test/functional/plugins/builtin.py: an echo
// remote, a second remote class, and one scheduled action.
package testadmin

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mozilla-services/gofer/agent/plugin"
	"github.com/mozilla-services/gofer/message"
)

func init() {
	plugin.RegisterModule("testadmin", plugin.ModuleFunc(Register))
}

// Register populates c with TestAdmin.echo, Rabbit.hop, and a
// 36-hour "hello" action, mirroring builtin.py's TestAction,
// TestAdmin, and Rabbit classes.
func Register(c *plugin.Collector) {
	c.Remote("TestAdmin", "echo", echo)
	c.Remote("Rabbit", "hop", hop)
	c.Action(plugin.ActionSpec{
		Name:     "testadmin.hello",
		Interval: 36 * 3600,
		Run:      hello,
	})
}

// echo returns its single argument unchanged, passed straight through
// as json.RawMessage rather than decoded and re-encoded.
func echo(req *message.Request, progress message.ProgressFunc) (interface{}, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("echo requires one argument")
	}
	return req.Args[0], nil
}

// hop reports how many times the rabbit hopped.
func hop(req *message.Request, progress message.ProgressFunc) (interface{}, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("hop requires one argument")
	}
	var n int
	if err := json.Unmarshal(req.Args[0], &n); err != nil {
		return nil, errors.Wrap(err, "hop")
	}
	return fmt.Sprintf("Rabbit hopped %d times.", n), nil
}

func hello() error {
	log.Info("Hello from testadmin")
	return nil
}
