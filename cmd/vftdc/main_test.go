// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-lpc/vftdc/tdc"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	cmd := newRootCmd(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	out, err := runCmd(t, "status", "--slots=5,3")
	if err != nil {
		t.Fatalf("could not run status: %+v", err)
	}
	i3 := strings.Index(out, "vfTDC slot=3 ")
	i5 := strings.Index(out, "vfTDC slot=5 ")
	if i3 < 0 || i5 < 0 || i5 < i3 {
		t.Fatalf("invalid status output:\n%s", out)
	}

	out, err = runCmd(t, "status", "--slots=3,4", "--json")
	if err != nil {
		t.Fatalf("could not run status: %+v", err)
	}
	var states []tdc.State
	err = json.Unmarshal([]byte(out), &states)
	if err != nil {
		t.Fatalf("could not decode states: %+v", err)
	}
	if got, want := len(states), 2; got != want {
		t.Fatalf("invalid number of states: got=%d, want=%d", got, want)
	}
	if states[0].Slot != 3 || states[1].Slot != 4 {
		t.Fatalf("invalid slots: %d, %d", states[0].Slot, states[1].Slot)
	}
}

func TestReadDecode(t *testing.T) {
	for _, mode := range []string{"pio", "dma"} {
		t.Run(mode, func(t *testing.T) {
			oname := filepath.Join(t.TempDir(), "out.raw")
			_, err := runCmd(t,
				"read", "--slots=3", "--sim-triggers=3",
				"-n=3", "--mode="+mode, "-o", oname,
			)
			if err != nil {
				t.Fatalf("could not read blocks: %+v", err)
			}

			out, err := runCmd(t, "decode", oname)
			if err != nil {
				t.Fatalf("could not decode blocks: %+v", err)
			}
			if got, want := strings.Count(out, "=== block #"), 3; got != want {
				t.Fatalf("invalid number of blocks: got=%d, want=%d\n%s", got, want, out)
			}
			if got, want := strings.Count(out, "Slot = 3  nwords = 6"), 3; got != want {
				t.Fatalf("invalid number of trailers: got=%d, want=%d\n%s", got, want, out)
			}

			out, err = runCmd(t, "decode", "-n=1", oname)
			if err != nil {
				t.Fatalf("could not decode blocks: %+v", err)
			}
			if got, want := strings.Count(out, "=== block #"), 1; got != want {
				t.Fatalf("invalid number of blocks: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestCmdErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		err  string
	}{
		{
			name: "no-block",
			args: []string{"read", "--slots=3"},
			err:  "no block ready in slot 3 (read 0/1)",
		},
		{
			name: "mode",
			args: []string{"read", "--mode=mblk"},
			err:  `invalid readout mode "mblk"`,
		},
		{
			name: "no-file",
			args: []string{"decode", filepath.Join(t.TempDir(), "missing.raw")},
			err:  "could not open raw file",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runCmd(t, tc.args...)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tc.err) {
				t.Fatalf("invalid error:\ngot= %+v\nwant=%s", err, tc.err)
			}
		})
	}
}

func TestShell(t *testing.T) {
	flags := crateFlags{slots: []int{3}, a32: 0x08000000}
	c, err := flags.open(io.Discard, true)
	if err != nil {
		t.Fatalf("could not open crate: %+v", err)
	}
	defer c.Close()

	out := new(bytes.Buffer)
	sh := newShell(c, out)

	for _, tc := range []struct {
		cmd  string
		want string
	}{
		{"", ""},
		{"slots", "slots: [3] (mask=0x00000008)\n"},
		{"blocklevel 3 2", ""},
		{"blocklevel 3", "block level: 2\n"},
		{"window 3 10 20", ""},
		{"window 3", "window: latency=10 width=20\n"},
		{"trigsrc 3", "trigger sources: 0x00000010\n"},
		{"trigger 2", ""},
		{"bready 3", "blocks ready: 1\n"},
		{"read 3 pio", "nwords = 10"},
		{"bready 3", "blocks ready: 0\n"},
		{"sync 3", ""},
		{"status 3", "vfTDC slot=3 "},
		{"help", "  quit: leave the shell\n"},
	} {
		t.Run(tc.cmd, func(t *testing.T) {
			out.Reset()
			quit, err := sh.exec(tc.cmd)
			if err != nil {
				t.Fatalf("could not run %q: %+v", tc.cmd, err)
			}
			if quit {
				t.Fatalf("unexpected quit")
			}
			switch {
			case tc.want == "" && out.Len() != 0:
				t.Fatalf("unexpected output: %q", out.String())
			case !strings.Contains(out.String(), tc.want):
				t.Fatalf("invalid output:\ngot= %q\nwant=%q", out.String(), tc.want)
			}
		})
	}

	for _, cmd := range []string{
		"unknown",
		"status",
		"status x",
		"status 9",
		"window 3 1",
		"blocklevel 3 0",
		"read 3 mblk",
		"read 3",
	} {
		t.Run("err-"+cmd, func(t *testing.T) {
			_, err := sh.exec(cmd)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	for _, cmd := range []string{"quit", "exit", "q"} {
		quit, err := sh.exec(cmd)
		if err != nil || !quit {
			t.Fatalf("could not quit with %q: quit=%v, err=%+v", cmd, quit, err)
		}
	}

	if got, want := sh.complete("b"), []string{"blocklevel", "bready"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid completion: got=%v, want=%v", got, want)
	}
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("could not run version: %+v", err)
	}
	if !strings.HasPrefix(out, "vftdc ") {
		t.Fatalf("invalid version output: %q", out)
	}
}
