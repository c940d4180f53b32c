// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"fmt"

	"github.com/go-lpc/vftdc/tdc/internal/regs"
)

type reg32 struct {
	name string
	off  uint32

	r func() uint32
	w func(v uint32)
}

func newReg32(brd *Board, name string, off uint32) reg32 {
	return reg32{
		name: name,
		off:  off,
		r: func() uint32 {
			return brd.readU32(off)
		},
		w: func(v uint32) {
			brd.writeU32(off, v)
		},
	}
}

// set sets the bits of mask.
func (reg reg32) set(mask uint32) {
	reg.w(reg.r() | mask)
}

// clear clears the bits of mask.
func (reg reg32) clear(mask uint32) {
	reg.w(reg.r() &^ mask)
}

type pins struct {
	boardID     reg32
	ptw         reg32
	intSetup    reg32
	pl          reg32
	adr32       reg32
	blockLevel  reg32
	vmeControl  reg32
	trigSrc     reg32
	sync        reg32
	busy        reg32
	clock       reg32
	blockBuffer reg32
	runningMode reg32
	liveTime    reg32
	busyTime    reg32
	evtNumHi    reg32
	evtNumLo    reg32
	rocEnable   reg32
	reset       reg32
}

func newPins(brd *Board) pins {
	return pins{
		boardID:     newReg32(brd, "boardID", regs.BOARDID),
		ptw:         newReg32(brd, "ptw", regs.PTW),
		intSetup:    newReg32(brd, "intsetup", regs.INTSETUP),
		pl:          newReg32(brd, "pl", regs.PL),
		adr32:       newReg32(brd, "adr32", regs.ADR32),
		blockLevel:  newReg32(brd, "blocklevel", regs.BLOCKLEVEL),
		vmeControl:  newReg32(brd, "vmeControl", regs.VMECONTROL),
		trigSrc:     newReg32(brd, "trigsrc", regs.TRIGSRC),
		sync:        newReg32(brd, "sync", regs.SYNC),
		busy:        newReg32(brd, "busy", regs.BUSY),
		clock:       newReg32(brd, "clock", regs.CLOCK),
		blockBuffer: newReg32(brd, "blockBuffer", regs.BLOCKBUFFER),
		runningMode: newReg32(brd, "runningMode", regs.RUNNINGMODE),
		liveTime:    newReg32(brd, "livetime", regs.LIVETIME),
		busyTime:    newReg32(brd, "busytime", regs.BUSYTIME),
		evtNumHi:    newReg32(brd, "eventNumber_hi", regs.EVENTNUMBER_HI),
		evtNumLo:    newReg32(brd, "eventNumber_lo", regs.EVENTNUMBER_LO),
		rocEnable:   newReg32(brd, "rocEnable", regs.ROCENABLE),
		reset:       newReg32(brd, "reset", regs.RESET),
	}
}

func (p *pins) list() []reg32 {
	return []reg32{
		p.boardID, p.ptw, p.intSetup, p.pl, p.adr32, p.blockLevel,
		p.vmeControl, p.trigSrc, p.sync, p.busy, p.clock, p.blockBuffer,
		p.runningMode, p.liveTime, p.busyTime, p.evtNumHi, p.evtNumLo,
		p.rocEnable, p.reset,
	}
}

// offset is the location of a register, as wired in the board firmware.
type offset struct {
	name string
	off  uint32
}

// hwOffsets is the register layout of the vfTDC board.
var hwOffsets = []offset{
	{"boardID", 0x00},
	{"ptw", 0x04},
	{"intsetup", 0x08},
	{"pl", 0x0C},
	{"adr32", 0x10},
	{"blocklevel", 0x14},
	{"vmeControl", 0x1C},
	{"trigsrc", 0x20},
	{"sync", 0x24},
	{"busy", 0x28},
	{"clock", 0x2C},
	{"blockBuffer", 0x4C},
	{"runningMode", 0x9C},
	{"livetime", 0xA8},
	{"busytime", 0xAC},
	{"eventNumber_hi", 0xD8},
	{"eventNumber_lo", 0xDC},
	{"rocEnable", 0xEC},
	{"reset", 0x100},
}

// checkOffsets verifies the registers bound to p against the provided
// hardware layout.
func (p *pins) checkOffsets(hw []offset) error {
	want := make(map[string]uint32, len(hw))
	for _, v := range hw {
		want[v.name] = v.off
	}

	for _, reg := range p.list() {
		off, ok := want[reg.name]
		if !ok {
			return fmt.Errorf("tdc: register %q missing from hardware layout", reg.name)
		}
		if off != reg.off {
			return fmt.Errorf(
				"tdc: register %q not at offset 0x%x (got=0x%x)",
				reg.name, off, reg.off,
			)
		}
		delete(want, reg.name)
	}
	if len(want) != 0 {
		return fmt.Errorf("tdc: %d register(s) of hardware layout not bound", len(want))
	}
	return nil
}
