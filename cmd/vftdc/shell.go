// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/vftdc/eformat"
	"github.com/go-lpc/vftdc/tdc"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

func newShellCmd(crate *crateFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "interactive shell to drive vfTDC boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := crate.open(cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer c.Close()

			sh := newShell(c, cmd.OutOrStdout())
			return sh.run()
		},
	}
}

type shellCmd struct {
	help string
	args int // minimal number of arguments
	fct  func(args []string) error
}

type shell struct {
	crate *crate
	out   io.Writer
	cmds  map[string]shellCmd
}

func newShell(c *crate, out io.Writer) *shell {
	sh := &shell{crate: c, out: out}
	sh.cmds = map[string]shellCmd{
		"slots":      {"slots: list slots of bound boards", 0, sh.cmdSlots},
		"status":     {"status <slot>: display status of board", 1, sh.cmdStatus},
		"reset":      {"reset <slot>: soft reset of board", 1, sh.cmdReset},
		"sync":       {"sync <slot>: sync reset of board", 1, sh.cmdSync},
		"blocklevel": {"blocklevel <slot> [level]: get or set block level", 1, sh.cmdBlockLevel},
		"window":     {"window <slot> [latency width]: get or set trigger window", 1, sh.cmdWindow},
		"trigsrc":    {"trigsrc <slot> [mask]: get or set trigger sources", 1, sh.cmdTrigSrc},
		"bready":     {"bready <slot>: number of blocks ready", 1, sh.cmdBReady},
		"read":       {"read <slot> [pio|dma]: read and decode one block", 1, sh.cmdRead},
		"trigger":    {"trigger [n]: send triggers to the simulated crate", 0, sh.cmdTrigger},
	}
	return sh
}

func (sh *shell) run() error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(sh.complete)

	for {
		cmd, err := line.Prompt("vftdc> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read line: %w", err)
		}
		line.AppendHistory(cmd)

		quit, err := sh.exec(cmd)
		if err != nil {
			fmt.Fprintf(sh.out, "error: %+v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (sh *shell) complete(line string) []string {
	var names []string
	for _, name := range append(sh.names(), "help", "quit") {
		if strings.HasPrefix(name, line) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (sh *shell) names() []string {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// exec runs a single shell command line.
func (sh *shell) exec(line string) (quit bool, err error) {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(toks[0]), toks[1:]
	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		for _, name := range sh.names() {
			fmt.Fprintf(sh.out, "  %s\n", sh.cmds[name].help)
		}
		fmt.Fprintf(sh.out, "  quit: leave the shell\n")
		return false, nil
	}

	cmd, ok := sh.cmds[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q", name)
	}
	if len(args) < cmd.args {
		return false, fmt.Errorf("missing arguments (usage: %s)", cmd.help)
	}
	return false, cmd.fct(args)
}

func (sh *shell) reg() *tdc.Registry { return sh.crate.reg }

func atoi(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return int(v), nil
}

func (sh *shell) cmdSlots(args []string) error {
	fmt.Fprintf(sh.out, "slots: %v (mask=0x%08x)\n", sh.reg().Slots(), sh.reg().SlotMask())
	return nil
}

func (sh *shell) cmdStatus(args []string) error {
	slot, err := atoi(args[0])
	if err != nil {
		return err
	}
	return sh.reg().Status(sh.out, slot)
}

func (sh *shell) cmdReset(args []string) error {
	slot, err := atoi(args[0])
	if err != nil {
		return err
	}
	return sh.reg().Reset(slot)
}

func (sh *shell) cmdSync(args []string) error {
	slot, err := atoi(args[0])
	if err != nil {
		return err
	}
	return sh.reg().SyncReset(slot)
}

func (sh *shell) cmdBlockLevel(args []string) error {
	slot, err := atoi(args[0])
	if err != nil {
		return err
	}
	if len(args) > 1 {
		lvl, err := atoi(args[1])
		if err != nil {
			return err
		}
		return sh.reg().SetBlockLevel(slot, lvl)
	}
	lvl, err := sh.reg().BlockLevel(slot)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "block level: %d\n", lvl)
	return nil
}

func (sh *shell) cmdWindow(args []string) error {
	slot, err := atoi(args[0])
	if err != nil {
		return err
	}
	switch len(args) {
	case 1:
		lat, width, err := sh.reg().Window(slot)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "window: latency=%d width=%d\n", lat, width)
		return nil
	case 3:
		lat, err := atoi(args[1])
		if err != nil {
			return err
		}
		width, err := atoi(args[2])
		if err != nil {
			return err
		}
		return sh.reg().SetWindow(slot, lat, width)
	default:
		return fmt.Errorf("invalid number of arguments (usage: %s)", sh.cmds["window"].help)
	}
}

func (sh *shell) cmdTrigSrc(args []string) error {
	slot, err := atoi(args[0])
	if err != nil {
		return err
	}
	if len(args) > 1 {
		mask, err := atoi(args[1])
		if err != nil {
			return err
		}
		return sh.reg().SetTriggerSource(slot, uint32(mask))
	}
	mask, err := sh.reg().TriggerSource(slot)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "trigger sources: 0x%08x\n", mask)
	return nil
}

func (sh *shell) cmdBReady(args []string) error {
	slot, err := atoi(args[0])
	if err != nil {
		return err
	}
	n, err := sh.reg().BReady(slot)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "blocks ready: %d\n", n)
	return nil
}

func (sh *shell) cmdRead(args []string) error {
	slot, err := atoi(args[0])
	if err != nil {
		return err
	}
	mode := "dma"
	if len(args) > 1 {
		mode = args[1]
	}
	m, err := readoutMode(mode)
	if err != nil {
		return err
	}
	return read(sh.reg(), slot, 1, m, func(blk []uint32) error {
		return eformat.Fprint(sh.out, blk)
	})
}

func (sh *shell) cmdTrigger(args []string) error {
	n := 1
	if len(args) > 0 {
		v, err := atoi(args[0])
		if err != nil {
			return err
		}
		n = v
	}
	return sh.crate.trigger(n)
}
