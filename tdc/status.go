// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"fmt"
	"io"

	"github.com/go-lpc/vftdc/tdc/internal/regs"
)

// State is a snapshot of the configuration and counters of a board.
type State struct {
	Slot     int    `json:"slot"`
	Firmware uint32 `json:"firmware"`
	A24      uint32 `json:"a24"`
	A32      uint32 `json:"a32"`

	Clock      string `json:"clock"`
	TrigSrc    uint32 `json:"trigsrc"`
	TrigMon    uint32 `json:"trigmon"`
	Sync       uint32 `json:"sync"`
	Busy       uint32 `json:"busy"`
	BlockLevel int    `json:"block_level"`
	Latency    int    `json:"latency"`
	Width      int    `json:"width"`
	BusError   bool   `json:"berr"`
	ROCEnable  uint32 `json:"roc_enable"`

	BlocksReady int    `json:"blocks_ready"`
	Events      uint64 `json:"events"`
	LiveTime    uint32 `json:"livetime"`
	BusyTime    uint32 `json:"busytime"`
}

// State returns a snapshot of the board in slot.
func (reg *Registry) State(slot int) (State, error) {
	var st State
	err := reg.do(slot, "read board state", func(brd *Board) error {
		st = brd.state()
		return nil
	})
	return st, err
}

func (brd *Board) state() State {
	r := &brd.regs
	var (
		hi = (r.evtNumHi.r() & regs.EVENTNUMBER_HI_MASK) >> regs.SHIFT_EVENTNUMBER_HI
		lo = r.evtNumLo.r()
	)
	return State{
		Slot:     brd.slot,
		Firmware: brd.fw,
		A24:      brd.a24,
		A32:      brd.a32,

		Clock:      ClockSource(r.clock.r() & regs.CLOCK_MASK).String(),
		TrigSrc:    brd.trigSrc,
		TrigMon:    (r.trigSrc.r() & regs.TRIGSRC_MONITOR) >> regs.SHIFT_TRIGSRC_MONITOR,
		Sync:       r.sync.r() & regs.SYNC_SOURCEMASK,
		Busy:       r.busy.r() & regs.BUSY_SOURCEMASK,
		BlockLevel: int(r.blockLevel.r() & 0xFF),
		Latency:    int(r.pl.r() & regs.PL_MAX),
		Width:      int(r.ptw.r() & regs.PTW_MAX),
		BusError:   r.vmeControl.r()&regs.VMECONTROL_BERR != 0,
		ROCEnable:  r.rocEnable.r() & regs.ROCENABLE_MASK,

		BlocksReady: int(brd.bready()),
		Events:      uint64(lo) | uint64(hi)<<32,
		LiveTime:    r.liveTime.r(),
		BusyTime:    r.busyTime.r(),
	}
}

// Status writes a human readable dump of the registers and state of
// the board in slot.
func (reg *Registry) Status(w io.Writer, slot int) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	brd, err := reg.board(slot)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "vfTDC slot=%d (A24=0x%06x, A32=0x%08x, firmware=0x%02x)\n",
		brd.slot, brd.a24, brd.a32, brd.fw,
	)
	for _, r := range brd.regs.list() {
		if r.off == regs.RESET {
			// reading reset has no meaning.
			continue
		}
		fmt.Fprintf(w, "  %-15s (0x%03x)= 0x%08x\n", r.name, r.off, r.r())
	}

	st := brd.state()
	fmt.Fprintf(w, "  clock=         %s\n", st.Clock)
	fmt.Fprintf(w, "  trigger=       src=0x%x mon=0x%x\n", st.TrigSrc, st.TrigMon)
	fmt.Fprintf(w, "  window=        latency=%d width=%d (4ns ticks)\n", st.Latency, st.Width)
	fmt.Fprintf(w, "  block level=   %d\n", st.BlockLevel)
	fmt.Fprintf(w, "  blocks ready=  %d\n", st.BlocksReady)
	fmt.Fprintf(w, "  events=        %d\n", st.Events)
	fmt.Fprintf(w, "  bus error=     %v\n", st.BusError)

	err = brd.flush()
	if err != nil {
		return fmt.Errorf("tdc: could not dump status: %w", err)
	}
	return nil
}
