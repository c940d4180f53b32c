// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/vftdc/eformat"
	"github.com/go-lpc/vftdc/tdc"
)

const testTimeout = 5 * time.Second

func writeConfig(t *testing.T, dir, readout string) string {
	t.Helper()

	fname := filepath.Join(dir, "vftdc-daq.yml")
	err := os.WriteFile(fname, []byte(`run: 42
dir: `+dir+`
readout: `+readout+`
poll: 1ms
retries: 20
boards:
  - slot: 4
    block-level: 2
    roc-enable: 3
  - slot: 3
    clock: external
    block-level: 2
    roc-enable: 1
    latency: 100
    width: 50
`), 0644)
	if err != nil {
		t.Fatalf("could not write config file: %+v", err)
	}
	return fname
}

func TestServer(t *testing.T) {
	for _, readout := range []string{"pio", "dma"} {
		t.Run(readout, func(t *testing.T) {
			var (
				dir   = t.TempDir()
				fname = writeConfig(t, dir, readout)
				srv   = New(fname, log.New(io.Discard, "", 0))
				ctx   = context.Background()
			)

			err := srv.configure(ctx)
			if err != nil {
				t.Fatalf("could not configure server: %+v", err)
			}

			err = srv.initialize()
			if err != nil {
				t.Fatalf("could not initialize server: %+v", err)
			}
			defer srv.close()

			if got, want := srv.reg.Slots(), []int{3, 4}; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid slots: got=%v, want=%v", got, want)
			}
			lat, width, err := srv.reg.Window(3)
			if err != nil {
				t.Fatalf("could not read window: %+v", err)
			}
			if lat != 100 || width != 50 {
				t.Fatalf("invalid window: got=(%d, %d), want=(100, 50)", lat, width)
			}
			src, err := srv.reg.ClockSource(3)
			if err != nil {
				t.Fatalf("could not read clock source: %+v", err)
			}
			if src != tdc.ClockExternal {
				t.Fatalf("invalid clock source: got=%v, want=%v", src, tdc.ClockExternal)
			}

			err = srv.reset()
			if err != nil {
				t.Fatalf("could not reset server: %+v", err)
			}

			err = srv.start(ctx)
			if err != nil {
				t.Fatalf("could not start run: %+v", err)
			}

			const ntrigs = 6 // 3 blocks per board
			for i := 0; i < ntrigs; i++ {
				srv.sim.Trigger(uint64(1000 * (i + 1)))
			}

			timeout := time.After(testTimeout)
		loop:
			for {
				select {
				case <-timeout:
					t.Fatalf("timeout waiting for blocks: %+v", srv.Summary())
				default:
					if srv.Summary().Blocks == ntrigs {
						break loop
					}
					time.Sleep(time.Millisecond)
				}
			}

			sum, err := srv.stop(ctx)
			if err != nil {
				t.Fatalf("could not stop run: %+v", err)
			}

			if got, want := sum.Run, uint32(42); got != want {
				t.Fatalf("invalid run number: got=%d, want=%d", got, want)
			}
			if got, want := sum.Events, uint64(2*ntrigs); got != want {
				t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
			}
			if len(sum.BlockErrors) != 0 {
				t.Fatalf("invalid block errors: %v", sum.BlockErrors)
			}
			if sum.Stop.Before(sum.Start) {
				t.Fatalf("invalid run boundaries: start=%v, stop=%v", sum.Start, sum.Stop)
			}

			got, err := srv.store.Get(42)
			if err != nil {
				t.Fatalf("could not retrieve run summary: %+v", err)
			}
			if got.Blocks != sum.Blocks || got.Words != sum.Words {
				t.Fatalf("invalid stored summary: got=%+v, want=%+v", got, sum)
			}

			f, err := os.Open(filepath.Join(dir, "vftdc_run_000042.raw"))
			if err != nil {
				t.Fatalf("could not open raw file: %+v", err)
			}
			defer f.Close()

			var (
				r    = eformat.NewReader(f)
				nblk uint64
			)
			for {
				blk, err := r.ReadBlock()
				if err != nil {
					if errors.Is(err, io.EOF) {
						break
					}
					t.Fatalf("could not read block %d: %+v", nblk, err)
				}
				if got, want := nevents(blk), uint32(2); got != want {
					t.Fatalf("invalid number of events in block %d: got=%d, want=%d", nblk, got, want)
				}
				nblk++
			}
			if nblk != sum.Blocks {
				t.Fatalf("invalid number of blocks: got=%d, want=%d", nblk, sum.Blocks)
			}

			if got, want := len(srv.data), int(sum.Blocks); got != want {
				t.Fatalf("invalid number of queued frames: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestServerErrors(t *testing.T) {
	srv := New(filepath.Join(t.TempDir(), "missing.yml"), log.New(io.Discard, "", 0))

	err := srv.configure(context.Background())
	if err == nil {
		t.Fatalf("expected an error")
	}

	err = srv.initialize()
	if err == nil || err.Error() != "daq: server not configured" {
		t.Fatalf("invalid error: %+v", err)
	}

	err = srv.start(context.Background())
	if err == nil || err.Error() != "daq: server not initialized" {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = srv.stop(context.Background())
	if err == nil || err.Error() != "daq: server not initialized" {
		t.Fatalf("invalid error: %+v", err)
	}

	err = srv.reset()
	if err != nil {
		t.Fatalf("could not reset uninitialized server: %+v", err)
	}
}

func TestServerStoreError(t *testing.T) {
	var (
		dir   = t.TempDir()
		fname = writeConfig(t, dir, "pio")
		srv   = New(fname, log.New(io.Discard, "", 0))
		ctx   = context.Background()
	)

	err := srv.configure(ctx)
	if err != nil {
		t.Fatalf("could not configure server: %+v", err)
	}
	defer srv.close()

	srv.cfg.Store = filepath.Join(dir, "missing", "runs.db")
	err = srv.initialize()
	if err == nil {
		t.Fatalf("expected an error")
	}
	if srv.registry() != nil {
		t.Fatalf("registry published after a failed initialization")
	}

	err = srv.start(ctx)
	if err == nil || err.Error() != "daq: server not initialized" {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = srv.stop(ctx)
	if err == nil || err.Error() != "daq: server not initialized" {
		t.Fatalf("invalid error: %+v", err)
	}

	srv.cfg.Store = "runs.db"
	err = srv.initialize()
	if err != nil {
		t.Fatalf("could not initialize server: %+v", err)
	}

	err = srv.start(ctx)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}
	sum, err := srv.stop(ctx)
	if err != nil {
		t.Fatalf("could not stop run: %+v", err)
	}
	if got, want := sum.Run, uint32(42); got != want {
		t.Fatalf("invalid run number: got=%d, want=%d", got, want)
	}
}

func TestLoadConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  string
		err  string
	}{
		{
			name: "no-boards",
			cfg:  "run: 1\n",
			err:  "daq: no board configured",
		},
		{
			name: "duplicate",
			cfg:  "boards:\n  - slot: 3\n  - slot: 3\n",
			err:  "daq: duplicate board in slot 3",
		},
		{
			name: "clock",
			cfg:  "boards:\n  - slot: 3\n    clock: p2\n",
			err:  `daq: invalid board in slot 3: daq: invalid clock source "p2"`,
		},
		{
			name: "readout",
			cfg:  "readout: mblk\nboards:\n  - slot: 3\n",
			err:  `daq: invalid readout mode "mblk"`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(t.TempDir(), "cfg.yml")
			err := os.WriteFile(fname, []byte(tc.cfg), 0644)
			if err != nil {
				t.Fatalf("could not write config: %+v", err)
			}
			_, err = LoadConfig(fname)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got, want := err.Error(), tc.err; got != want {
				t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
			}
		})
	}

	t.Run("defaults", func(t *testing.T) {
		fname := filepath.Join(t.TempDir(), "cfg.yml")
		err := os.WriteFile(fname, []byte("boards:\n  - slot: 7\n"), 0644)
		if err != nil {
			t.Fatalf("could not write config: %+v", err)
		}
		cfg, err := LoadConfig(fname)
		if err != nil {
			t.Fatalf("could not load config: %+v", err)
		}
		want := defaultConfig()
		switch {
		case cfg.Dir != want.Dir, cfg.Readout != want.Readout,
			cfg.MaxWords != want.MaxWords, cfg.Poll != want.Poll,
			cfg.A32Base != want.A32Base, cfg.Sim != want.Sim:
			t.Fatalf("invalid defaults:\ngot= %+v\nwant=%+v", cfg, want)
		}
		brd := cfg.Boards[0]
		if brd.BlockLevel != 1 || brd.TrigSrc != defaultTrigSrc ||
			brd.Latency != defaultLatency || brd.Width != defaultWidth {
			t.Fatalf("invalid board defaults: %+v", brd)
		}
	})
}

func TestNEvents(t *testing.T) {
	for _, tc := range []struct {
		name  string
		words []uint32
		want  uint32
	}{
		{"empty", nil, 0},
		{"header", []uint32{eformat.BlockHeaderWord(3, 0, 1, 12)}, 12},
		{"filler", []uint32{eformat.FillerWord(3), eformat.BlockHeaderWord(3, 0, 1, 5)}, 5},
		{"no-header", []uint32{eformat.EventHeaderWord(3, 1)}, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := nevents(tc.words); got != tc.want {
				t.Fatalf("invalid number of events: got=%d, want=%d", got, tc.want)
			}
		})
	}
}
