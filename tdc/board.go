// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"fmt"

	"github.com/go-lpc/vftdc/tdc/internal/regs"
	"github.com/go-lpc/vftdc/vme"
)

// Board is a vfTDC board bound to a registry.
type Board struct {
	bus  vme.Bus
	slot int
	fw   uint32

	a24  uint32 // VME A24 address of the registers
	base uint64 // local address of the registers

	a32  uint32 // VME A32 address of the data FIFO, 0 if disabled
	fifo uint64 // local address of the data FIFO
	off  uint64 // local minus VME address of the A32 window

	berr    bool   // bus error block termination enabled
	trigSrc uint32 // trigger sources to enable

	regs pins
	err  error
}

func newBoard(bus vme.Bus, a24 uint32, base uint64) *Board {
	brd := &Board{
		bus:  bus,
		a24:  a24,
		base: base,
	}
	brd.regs = newPins(brd)
	return brd
}

// Slot returns the geographic slot of the board.
func (brd *Board) Slot() int { return brd.slot }

// Firmware returns the firmware revision read at bind time.
func (brd *Board) Firmware() uint32 { return brd.fw }

// A24 returns the VME A24 address of the board registers.
func (brd *Board) A24() uint32 { return brd.a24 }

// A32 returns the VME A32 address of the board data FIFO, or 0 when
// the A32 window is disabled.
func (brd *Board) A32() uint32 { return brd.a32 }

func (brd *Board) readU32(off uint32) uint32 {
	if brd.err != nil {
		return 0
	}
	v, err := brd.bus.Read32(brd.base + uint64(off))
	if err != nil {
		brd.err = fmt.Errorf("tdc: could not read register 0x%x (slot=%d): %w", off, brd.slot, err)
		return 0
	}
	return v
}

func (brd *Board) writeU32(off, v uint32) {
	if brd.err != nil {
		return
	}
	err := brd.bus.Write32(brd.base+uint64(off), v)
	if err != nil {
		brd.err = fmt.Errorf("tdc: could not write register 0x%x (slot=%d): %w", off, brd.slot, err)
	}
}

// flush returns and clears the sticky register access error.
func (brd *Board) flush() error {
	err := brd.err
	brd.err = nil
	return err
}

func (brd *Board) probe() (uint32, error) {
	return brd.bus.Probe(brd.base + regs.BOARDID)
}
