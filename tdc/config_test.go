// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-lpc/vftdc/tdc/internal/regs"
)

func TestBlockLevel(t *testing.T) {
	const slot = 3
	ts := new(fakeSupervisor)
	reg, bus := newTestRegistry(t, []int{slot}, WithTriggerSupervisor(ts))

	for _, tc := range []struct {
		level int
		want  error
	}{
		{level: 0, want: ErrRange},
		{level: 1},
		{level: 42},
		{level: 255},
		{level: 256, want: ErrRange},
		{level: -1, want: ErrRange},
	} {
		t.Run(fmt.Sprintf("level=%d", tc.level), func(t *testing.T) {
			ts.levels = ts.levels[:0]
			_, w0 := bus.ops()

			err := reg.SetBlockLevel(slot, tc.level)
			_, w1 := bus.ops()

			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
				}
				if w1 != w0 {
					t.Fatalf("invalid block level issued %d register writes", w1-w0)
				}
				if len(ts.levels) != 0 {
					t.Fatalf("invalid block level broadcast: %v", ts.levels)
				}
				return
			}

			if err != nil {
				t.Fatalf("could not set block level: %+v", err)
			}
			got, err := reg.BlockLevel(slot)
			if err != nil {
				t.Fatalf("could not get block level: %+v", err)
			}
			if got != tc.level {
				t.Fatalf("invalid block level: got=%d, want=%d", got, tc.level)
			}
			if len(ts.levels) != 1 || ts.levels[0] != tc.level {
				t.Fatalf("invalid block level broadcast: %v", ts.levels)
			}
		})
	}

	ts.err = fmt.Errorf("no trigger supervisor")
	err := reg.SetBlockLevel(slot, 2)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "tdc: could not broadcast block level 2: no trigger supervisor"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}

func TestWindow(t *testing.T) {
	const slot = 5
	reg, bus := newTestRegistry(t, []int{slot})

	for _, tc := range []struct {
		name string
		pl   int
		ptw  int
		want error
	}{
		{name: "min", pl: 1, ptw: 1},
		{name: "max", pl: regs.PL_MAX, ptw: regs.PTW_MAX},
		{name: "null-latency", pl: 0, ptw: 10, want: ErrRange},
		{name: "large-latency", pl: regs.PL_MAX + 1, ptw: 10, want: ErrRange},
		{name: "null-width", pl: 10, ptw: 0, want: ErrRange},
		{name: "large-width", pl: 10, ptw: regs.PTW_MAX + 1, want: ErrRange},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, w0 := bus.ops()
			err := reg.SetWindow(slot, tc.pl, tc.ptw)
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
				}
				if _, w1 := bus.ops(); w1 != w0 {
					t.Fatalf("invalid window issued %d register writes", w1-w0)
				}
				return
			}
			if err != nil {
				t.Fatalf("could not set window: %+v", err)
			}
			pl, ptw, err := reg.Window(slot)
			if err != nil {
				t.Fatalf("could not get window: %+v", err)
			}
			if pl != tc.pl || ptw != tc.ptw {
				t.Fatalf("invalid window: got=(%d, %d), want=(%d, %d)", pl, ptw, tc.pl, tc.ptw)
			}
		})
	}
}

func TestSources(t *testing.T) {
	const slot = 7
	reg, bus := newTestRegistry(t, []int{slot})

	err := reg.SetTriggerSource(slot, 1<<8)
	if !errors.Is(err, ErrBadMask) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrBadMask)
	}

	err = reg.SetTriggerSource(slot, regs.TRIGSRC_FPTRG|regs.TRIGSRC_PULSER)
	if err != nil {
		t.Fatalf("could not set trigger source: %+v", err)
	}
	if got := bus.Reg(slot, regs.TRIGSRC); got != 0 {
		t.Fatalf("trigger source enabled too early: 0x%x", got)
	}

	err = reg.EnableTriggerSource(slot)
	if err != nil {
		t.Fatalf("could not enable trigger source: %+v", err)
	}
	if got, want := bus.Reg(slot, regs.TRIGSRC), uint32(regs.TRIGSRC_FPTRG|regs.TRIGSRC_PULSER); got != want {
		t.Fatalf("invalid trigger source: got=0x%x, want=0x%x", got, want)
	}

	err = reg.DisableTriggerSource(slot)
	if err != nil {
		t.Fatalf("could not disable trigger source: %+v", err)
	}
	if got := bus.Reg(slot, regs.TRIGSRC); got != 0 {
		t.Fatalf("invalid trigger source: got=0x%x, want=0", got)
	}
	if src, _ := reg.TriggerSource(slot); src != regs.TRIGSRC_FPTRG|regs.TRIGSRC_PULSER {
		t.Fatalf("trigger source configuration lost: 0x%x", src)
	}

	err = reg.SetSyncSource(slot, 1<<2)
	if !errors.Is(err, ErrBadMask) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrBadMask)
	}
	err = reg.SetSyncSource(slot, regs.SYNC_P0|regs.SYNC_FP)
	if err != nil {
		t.Fatalf("could not set sync source: %+v", err)
	}
	if got, _ := reg.SyncSource(slot); got != regs.SYNC_P0|regs.SYNC_FP {
		t.Fatalf("invalid sync source: got=0x%x", got)
	}

	err = reg.SetBusySource(slot, 1<<16, false)
	if !errors.Is(err, ErrBadMask) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrBadMask)
	}
	for _, tc := range []struct {
		mask  uint32
		reset bool
		want  uint32
	}{
		{regs.BUSY_SWA, true, regs.BUSY_SWA},
		{regs.BUSY_FP, false, regs.BUSY_SWA | regs.BUSY_FP},
		{regs.BUSY_P2, true, regs.BUSY_P2},
	} {
		err = reg.SetBusySource(slot, tc.mask, tc.reset)
		if err != nil {
			t.Fatalf("could not set busy source: %+v", err)
		}
		if got, _ := reg.BusySource(slot); got != tc.want {
			t.Fatalf("invalid busy source: got=0x%x, want=0x%x", got, tc.want)
		}
	}

	err = reg.SetROCEnable(slot, 0x100)
	if !errors.Is(err, ErrBadMask) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrBadMask)
	}
	err = reg.SetROCEnable(slot, 0x5)
	if err != nil {
		t.Fatalf("could not set ROC enable: %+v", err)
	}
	if got, _ := reg.ROCEnable(slot); got != 0x5 {
		t.Fatalf("invalid ROC enable: got=0x%x, want=0x5", got)
	}
}

func TestClockSource(t *testing.T) {
	const slot = 9
	reg, bus := newTestRegistry(t, []int{slot})

	for _, src := range []ClockSource{ClockVXS, ClockExternal, ClockInternal} {
		err := reg.SetClockSource(slot, src)
		if err != nil {
			t.Fatalf("could not set clock source %v: %+v", src, err)
		}
		got, err := reg.ClockSource(slot)
		if err != nil {
			t.Fatalf("could not get clock source: %+v", err)
		}
		if got != src {
			t.Fatalf("invalid clock source: got=%v, want=%v", got, src)
		}
	}

	err := reg.SetClockSource(slot, ClockSource(1))
	if !errors.Is(err, ErrRange) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrRange)
	}

	bus.Board(slot).NoExternalClock = true
	err = reg.SetClockSource(slot, ClockExternal)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "tdc: could not set clock source in slot 9 (set=0x0, read=0x2)"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}

func TestA32(t *testing.T) {
	const slot = 4
	reg, bus := newTestRegistry(t, []int{slot})

	err := reg.SetA32(slot, 0x400000)
	if !errors.Is(err, ErrRange) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrRange)
	}

	err = reg.SetA32(slot, 0x09234567)
	if err != nil {
		t.Fatalf("could not set A32: %+v", err)
	}
	brd, _ := reg.Board(slot)
	if got, want := brd.A32(), uint32(0x09000000); got != want {
		t.Fatalf("invalid A32 base: got=0x%x, want=0x%x", got, want)
	}
	if got, want := bus.Reg(slot, regs.ADR32), uint32(0x09000000); got != want {
		t.Fatalf("invalid adr32 register: got=0x%x, want=0x%x", got, want)
	}

	err = reg.DisableA32(slot)
	if err != nil {
		t.Fatalf("could not disable A32: %+v", err)
	}
	if brd.A32() != 0 {
		t.Fatalf("A32 window still enabled: 0x%x", brd.A32())
	}
	_, err = reg.ReadBlock(slot, make([]uint32, 16), 0, ModePIO)
	if !errors.Is(err, ErrNoA32) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNoA32)
	}
}

func TestBusError(t *testing.T) {
	const slot = 4
	reg, _ := newTestRegistry(t, []int{slot})

	for _, enable := range []bool{true, false, true} {
		var err error
		switch enable {
		case true:
			err = reg.EnableBusError(slot)
		default:
			err = reg.DisableBusError(slot)
		}
		if err != nil {
			t.Fatalf("could not toggle bus error: %+v", err)
		}
		got, err := reg.BusError(slot)
		if err != nil {
			t.Fatalf("could not get bus error: %+v", err)
		}
		if got != enable {
			t.Fatalf("invalid bus error: got=%v, want=%v", got, enable)
		}
	}

	err := reg.Reset(slot)
	if err != nil {
		t.Fatalf("could not reset board: %+v", err)
	}
	if got, _ := reg.BusError(slot); got {
		t.Fatalf("bus error still enabled after reset")
	}
	brd, _ := reg.Board(slot)
	if brd.A32() != 0 {
		t.Fatalf("A32 window still enabled after reset: 0x%x", brd.A32())
	}
}

func TestCounters(t *testing.T) {
	const slot = 11
	reg, bus := newTestRegistry(t, []int{slot})

	for i := 0; i < 3; i++ {
		err := bus.Push(slot, newBlock(slot, i, 4, 2))
		if err != nil {
			t.Fatalf("could not push block: %+v", err)
		}
	}

	n, err := reg.BReady(slot)
	if err != nil {
		t.Fatalf("could not get blocks ready: %+v", err)
	}
	if n != 3 {
		t.Fatalf("invalid blocks ready: got=%d, want=3", n)
	}

	cnt, err := reg.EventCounter(slot)
	if err != nil {
		t.Fatalf("could not get event counter: %+v", err)
	}
	if cnt != 12 {
		t.Fatalf("invalid event counter: got=%d, want=12", cnt)
	}

	err = reg.ResetEventCounter(slot)
	if err != nil {
		t.Fatalf("could not reset event counter: %+v", err)
	}
	if cnt, _ := reg.EventCounter(slot); cnt != 0 {
		t.Fatalf("invalid event counter after reset: got=%d", cnt)
	}

	err = reg.SyncReset(slot)
	if err != nil {
		t.Fatalf("could not sync reset: %+v", err)
	}

	geo, err := reg.GeoAddress(slot)
	if err != nil {
		t.Fatalf("could not get geographic address: %+v", err)
	}
	if geo != slot {
		t.Fatalf("invalid geographic address: got=%d, want=%d", geo, slot)
	}

	fw, err := reg.FirmwareVersion(slot)
	if err != nil {
		t.Fatalf("could not get firmware: %+v", err)
	}
	if fw != SupportedFirmware {
		t.Fatalf("invalid firmware: got=0x%x, want=0x%x", fw, SupportedFirmware)
	}

	for _, f := range []func(int) (uint32, error){reg.LiveTime, reg.BusyTime} {
		_, err := f(slot)
		if err != nil {
			t.Fatalf("could not read scaler: %+v", err)
		}
	}
}
