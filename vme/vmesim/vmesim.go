// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vmesim simulates a VME crate populated with vfTDC boards.
package vmesim // import "github.com/go-lpc/vftdc/vme/vmesim"

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-lpc/vftdc/eformat"
	"github.com/go-lpc/vftdc/vme"
)

const (
	a24Local = 0x1_0000_0000 // local address of A24 space
	a32Local = 0x2_0000_0000 // local address of A32 space

	a24Max  = 0x00FFFFFF
	slotGap = 1 << 19 // A24 address space of one slot

	a32Size = 0x00800000 // size of a board A32 window

	boardType = 0xF7DC

	// register offsets, as seen on the backplane.
	rBoardID     = 0x000
	rPTW         = 0x004
	rIntSetup    = 0x008
	rPL          = 0x00C
	rAdr32       = 0x010
	rBlockLevel  = 0x014
	rVMEControl  = 0x01C
	rTrigSrc     = 0x020
	rSync        = 0x024
	rBusy        = 0x028
	rClock       = 0x02C
	rBlockBuffer = 0x04C
	rRunningMode = 0x09C
	rLiveTime    = 0x0A8
	rBusyTime    = 0x0AC
	rEvtNumHi    = 0x0D8
	rEvtNumLo    = 0x0DC
	rROCEnable   = 0x0EC
	rReset       = 0x100
	nRegs        = rReset/4 + 1

	vmeBERR     = 1 << 0
	vmeA32      = 1 << 4
	intEnable   = 1 << 16
	resetSoft   = 1 << 4
	resetSync   = 1 << 5
	resetBusy   = 1 << 7
	resetBlock  = 1 << 17
	resetScaler = 1 << 25
	clockFP     = 0
	clockInt    = 2
)

// Board is a simulated vfTDC board.
type Board struct {
	Slot     int
	Type     uint16 // board type, 0xF7DC for a vfTDC
	Firmware uint8

	// NoExternalClock makes the board fall back to its internal clock
	// when the front-panel clock is selected.
	NoExternalClock bool

	// NoA32 makes the board ignore requests to enable its A32 window.
	NoA32 bool

	regs [nRegs]uint32
	fifo [][]uint32 // pending blocks
	evts uint64
	acks int

	blk  []uint32 // block being built by Trigger
	nevt uint32   // number of events in blk
	nblk uint32   // number of blocks built by Trigger
}

func newBoard(slot int, fw uint8) *Board {
	brd := &Board{
		Slot:     slot,
		Type:     boardType,
		Firmware: fw,
	}
	brd.reset()
	return brd
}

func (brd *Board) reset() {
	brd.regs = [nRegs]uint32{}
	brd.regs[rBlockLevel/4] = 1
	brd.regs[rClock/4] = clockInt
	brd.fifo = nil
	brd.blk = nil
	brd.nevt = 0
	brd.nblk = 0
}

func (brd *Board) a32() (uint32, bool) {
	ctl := brd.regs[rVMEControl/4]
	if ctl&vmeA32 == 0 {
		return 0, false
	}
	return brd.regs[rAdr32/4] & 0xFF800000, true
}

func (brd *Board) read(off uint32) uint32 {
	switch off {
	case rBoardID:
		return uint32(brd.Type)<<16 | uint32(brd.Slot&0x1F)<<8 | uint32(brd.Firmware)
	case rBlockBuffer:
		n := len(brd.fifo)
		if n > 0xFF {
			n = 0xFF
		}
		return uint32(n) << 8
	case rEvtNumHi:
		return uint32(brd.evts>>32) << 16
	case rEvtNumLo:
		return uint32(brd.evts)
	case rReset:
		return 0
	}
	return brd.regs[off/4]
}

func (brd *Board) write(off, v uint32) {
	switch off {
	case rBoardID, rBlockBuffer, rEvtNumHi, rEvtNumLo:
		// read-only
		return
	case rClock:
		v &= 0x3
		if v == clockFP && brd.NoExternalClock {
			v = clockInt
		}
	case rVMEControl:
		if brd.NoA32 {
			v &^= vmeA32
		}
	case rReset:
		if v&resetSoft != 0 {
			brd.reset()
		}
		if v&resetSync != 0 {
			brd.evts = 0
		}
		if v&resetScaler != 0 {
			brd.evts = 0
			brd.regs[rLiveTime/4] = 0
			brd.regs[rBusyTime/4] = 0
		}
		if v&(resetBusy|resetBlock) != 0 {
			brd.acks++
		}
		return
	}
	brd.regs[off/4] = v
}

// Crate is a simulated VME crate.
// Boards are addressed in A24 space at slot<<19 and expose their
// data FIFO in A32 space, once their A32 window is enabled.
//
// Crate implements vme.Bus and vme.Interrupter.
type Crate struct {
	mu     sync.Mutex
	boards map[int]*Board
	ints   map[uint32]irq

	dma struct {
		n   int
		err error
	}

	// DMAError, when set, is returned by the next DMASend.
	DMAError error
}

type irq struct {
	vec uint32
	fn  func()
}

// New returns an empty crate.
func New() *Crate {
	return &Crate{
		boards: make(map[int]*Board),
		ints:   make(map[uint32]irq),
	}
}

// Insert plugs a new vfTDC board in the provided slot.
func (crate *Crate) Insert(slot int, fw uint8) *Board {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	brd := newBoard(slot, fw)
	crate.boards[slot] = brd
	return brd
}

// Board returns the board plugged in the provided slot.
func (crate *Crate) Board(slot int) *Board {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	return crate.boards[slot]
}

// Slots returns the list of occupied slots.
func (crate *Crate) Slots() []int {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	slots := make([]int, 0, len(crate.boards))
	for slot := range crate.boards {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}

// Push queues a block of words in the data FIFO of the board in slot.
// A filler word is appended to blocks with an odd number of words.
// Push fires the board interrupt, if enabled.
func (crate *Crate) Push(slot int, block []uint32) error {
	crate.mu.Lock()
	brd, ok := crate.boards[slot]
	if !ok {
		crate.mu.Unlock()
		return fmt.Errorf("vmesim: no board in slot %d", slot)
	}

	blk := make([]uint32, len(block), len(block)+1)
	copy(blk, block)
	if len(blk)%2 == 1 {
		blk = append(blk, eformat.FillerWord(uint32(slot)))
	}
	brd.fifo = append(brd.fifo, blk)
	if len(block) > 0 {
		brd.evts += uint64(block[0] & eformat.EvtCountMask)
	}

	var fn func()
	if setup := brd.regs[rIntSetup/4]; setup&intEnable != 0 {
		lvl := (setup & 0xF00) >> 8
		if h, ok := crate.ints[lvl]; ok && h.vec == setup&0xFF {
			fn = h.fn
		}
	}
	crate.mu.Unlock()

	if fn != nil {
		go fn()
	}
	return nil
}

// Trigger sends a trigger, time-stamped with t, to all the boards with
// an enabled trigger source.
// Each board records one event with a hit per enabled ROC bit (one hit
// when no ROC is enabled), and queues a new block in its FIFO once
// block level events have been recorded.
func (crate *Crate) Trigger(t uint64) {
	crate.mu.Lock()
	var fns []func()
	for _, brd := range crate.boards {
		if brd.regs[rTrigSrc/4]&0xFFFF == 0 {
			continue
		}
		if !brd.trigger(t) {
			continue
		}
		if setup := brd.regs[rIntSetup/4]; setup&intEnable != 0 {
			lvl := (setup & 0xF00) >> 8
			if h, ok := crate.ints[lvl]; ok && h.vec == setup&0xFF {
				fns = append(fns, h.fn)
			}
		}
	}
	crate.mu.Unlock()

	for _, fn := range fns {
		go fn()
	}
}

// trigger records an event and reports whether a block was completed.
func (brd *Board) trigger(t uint64) bool {
	slot := uint32(brd.Slot)
	level := brd.regs[rBlockLevel/4] & 0xFF
	if level == 0 {
		level = 1
	}

	brd.evts++
	evt := uint32(brd.evts)
	if brd.nevt == 0 {
		brd.blk = append(brd.blk[:0], eformat.BlockHeaderWord(slot, 0, brd.nblk, level))
	}
	lo, hi := eformat.TriggerTimeWords(t)
	brd.blk = append(brd.blk, eformat.EventHeaderWord(slot, evt), lo, hi)

	rocs := brd.regs[rROCEnable/4] & 0x7
	if rocs == 0 {
		rocs = 1
	}
	for roc := uint32(0); roc < 3; roc++ {
		if rocs&(1<<roc) == 0 {
			continue
		}
		brd.blk = append(brd.blk, eformat.HitWord(
			roc, evt%32, evt%2 == 0, uint32(t)&0x3FF, false, evt%64,
		))
	}

	brd.nevt++
	if brd.nevt < level {
		return false
	}

	n := uint32(len(brd.blk) + 1)
	blk := append(brd.blk, eformat.BlockTrailerWord(slot, n))
	if len(blk)%2 == 1 {
		blk = append(blk, eformat.FillerWord(slot))
	}
	brd.fifo = append(brd.fifo, blk)
	brd.blk = nil
	brd.nevt = 0
	brd.nblk++
	return true
}

// Pending returns the number of blocks waiting in the FIFO of the
// board in slot.
func (crate *Crate) Pending(slot int) int {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	brd, ok := crate.boards[slot]
	if !ok {
		return 0
	}
	return len(brd.fifo)
}

// Acks returns the number of block acknowledgements received by the
// board in slot.
func (crate *Crate) Acks(slot int) int {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	brd, ok := crate.boards[slot]
	if !ok {
		return 0
	}
	return brd.acks
}

// Reg returns the raw content of a register of the board in slot.
func (crate *Crate) Reg(slot int, off uint32) uint32 {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	brd, ok := crate.boards[slot]
	if !ok {
		return 0
	}
	return brd.read(off)
}

// SetReg sets the raw content of a register of the board in slot,
// bypassing its side effects.
func (crate *Crate) SetReg(slot int, off, v uint32) {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	brd, ok := crate.boards[slot]
	if !ok {
		return
	}
	brd.regs[off/4] = v
}

func (crate *Crate) BusToLocal(am vme.AddrMod, addr uint32) (uint64, error) {
	switch am {
	case vme.A24:
		if addr > a24Max {
			return 0, fmt.Errorf("vmesim: A24 address 0x%08x out of range: %w", addr, vme.ErrNoMapping)
		}
		return a24Local + uint64(addr), nil
	case vme.A32:
		return a32Local + uint64(addr), nil
	default:
		return 0, fmt.Errorf("vmesim: address modifier %v: %w", am, vme.ErrNoMapping)
	}
}

func (crate *Crate) register(addr uint64) (*Board, uint32, error) {
	if addr < a24Local || addr > a24Local+a24Max {
		return nil, 0, fmt.Errorf("vmesim: local address 0x%x: %w", addr, vme.ErrBusError)
	}
	var (
		vaddr = uint32(addr - a24Local)
		slot  = int(vaddr / slotGap)
		off   = vaddr % slotGap
	)
	brd, ok := crate.boards[slot]
	if !ok || off%4 != 0 || off/4 >= nRegs {
		return nil, 0, fmt.Errorf("vmesim: A24 address 0x%06x: %w", vaddr, vme.ErrBusError)
	}
	return brd, off, nil
}

func (crate *Crate) fifo(vaddr uint32) (*Board, error) {
	for _, brd := range crate.boards {
		base, ok := brd.a32()
		if !ok {
			continue
		}
		if base <= vaddr && uint64(vaddr) < uint64(base)+a32Size {
			return brd, nil
		}
	}
	return nil, fmt.Errorf("vmesim: A32 address 0x%08x: %w", vaddr, vme.ErrBusError)
}

func (crate *Crate) Probe(addr uint64) (uint32, error) {
	return crate.Read32(addr)
}

func (crate *Crate) Read32(addr uint64) (uint32, error) {
	crate.mu.Lock()
	defer crate.mu.Unlock()

	if addr >= a32Local {
		brd, err := crate.fifo(uint32(addr - a32Local))
		if err != nil {
			return 0, err
		}
		return brd.pop()
	}

	brd, off, err := crate.register(addr)
	if err != nil {
		return 0, err
	}
	return brd.read(off), nil
}

func (crate *Crate) Write32(addr uint64, v uint32) error {
	crate.mu.Lock()
	defer crate.mu.Unlock()

	brd, off, err := crate.register(addr)
	if err != nil {
		return err
	}
	brd.write(off, v)
	return nil
}

// pop returns the next word of the FIFO.
func (brd *Board) pop() (uint32, error) {
	if len(brd.fifo) == 0 {
		return 0, fmt.Errorf("vmesim: empty FIFO in slot %d: %w", brd.Slot, vme.ErrBusError)
	}
	blk := brd.fifo[0]
	v := blk[0]
	blk = blk[1:]
	switch len(blk) {
	case 0:
		brd.fifo = brd.fifo[1:]
	default:
		brd.fifo[0] = blk
	}
	return v, nil
}

// DMASend transfers words out of the FIFO mapped at vmeAddr.
// When bus error termination is enabled, the transfer stops at the end
// of the current block.
func (crate *Crate) DMASend(dst []uint32, vmeAddr uint32, nbytes int) error {
	crate.mu.Lock()
	defer crate.mu.Unlock()

	crate.dma.n = 0
	crate.dma.err = nil

	if err := crate.DMAError; err != nil {
		crate.DMAError = nil
		return err
	}

	brd, err := crate.fifo(vmeAddr)
	if err != nil {
		return fmt.Errorf("vmesim: could not start DMA: %w", err)
	}

	n := nbytes / 4
	if n > len(dst) {
		n = len(dst)
	}
	if n <= 0 || len(brd.fifo) == 0 {
		return nil
	}

	var (
		berr = brd.regs[rVMEControl/4]&vmeBERR != 0
		nblk = len(brd.fifo)
	)
	for i := 0; i < n; i++ {
		v, err := brd.pop()
		if err != nil {
			break
		}
		dst[i] = v
		crate.dma.n += 4
		if berr && len(brd.fifo) < nblk {
			break
		}
	}
	return nil
}

func (crate *Crate) DMADone() (int, error) {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	return crate.dma.n, crate.dma.err
}

func (crate *Crate) IntConnect(level, vector uint32, fn func()) error {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	if _, dup := crate.ints[level]; dup {
		return fmt.Errorf("vmesim: interrupt level %d already connected", level)
	}
	crate.ints[level] = irq{vec: vector, fn: fn}
	return nil
}

func (crate *Crate) IntDisconnect(level uint32) error {
	crate.mu.Lock()
	defer crate.mu.Unlock()
	if _, ok := crate.ints[level]; !ok {
		return fmt.Errorf("vmesim: interrupt level %d not connected", level)
	}
	delete(crate.ints, level)
	return nil
}

var (
	_ vme.Bus         = (*Crate)(nil)
	_ vme.Interrupter = (*Crate)(nil)
)
