// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-lpc/vftdc/tdc/internal/regs"
	"github.com/go-lpc/vftdc/vme"
	"golang.org/x/time/rate"
)

const (
	resetDelay  = 1 * time.Second
	settleDelay = 20 * time.Millisecond
)

// Registry holds the vfTDC boards of a VME crate.
type Registry struct {
	mu  sync.Locker
	bus vme.Bus
	msg *log.Logger

	boards map[int]*Board
	slots  []int // bound slots, in increasing order
	smin   int
	smax   int

	a32Base uint32
	addrs   []uint32
	swap    bool
	ts      TriggerSupervisor

	blkErr BlockError
	ints   intState

	lim   *rate.Limiter        // rate limiter for polling diagnostics
	sleep func(time.Duration) // settle delays
}

// New creates a new registry of boards attached to the provided bus.
func New(bus vme.Bus, opts ...Option) *Registry {
	reg := &Registry{
		mu:      new(sync.Mutex),
		bus:     bus,
		msg:     log.New(os.Stdout, "tdc: ", 0),
		boards:  make(map[int]*Board),
		a32Base: regs.A32_DEFAULT,
		lim:     rate.NewLimiter(rate.Every(time.Second), 1),
		sleep:   time.Sleep,
	}
	reg.ints.vec = defaultIntVec
	reg.ints.lvl = defaultIntLevel
	reg.ints.period = 100 * time.Microsecond

	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Init binds the boards found at the A24 addresses addr+i*inc, for i<n,
// or at the addresses given with WithAddrList.
//
// Boards that could not be bound are reported in the returned error,
// together with the boards that were successfully bound.
// Unless InitSkip is requested, bound boards are reset and configured
// according to flags.
// With InitSkip, the A32 window and bus error settings already programmed
// in the boards are read back and no register is written.
func (reg *Registry) Init(addr, inc uint32, n int, flags InitFlag) ([]*Board, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	switch {
	case addr == 0:
		return nil, fmt.Errorf("tdc: invalid A24 address 0x%x: %w", addr, ErrRange)
	case addr > 0x00FFFFFF:
		return nil, fmt.Errorf("tdc: A32 address 0x%x not allowed for configuration space: %w", addr, ErrRange)
	}

	_, err := reg.bus.BusToLocal(vme.A24, addr)
	if err != nil {
		return nil, fmt.Errorf("tdc: could not translate A24 address 0x%x: %w", addr, err)
	}

	var addrs []uint32
	switch {
	case flags&InitUseAddrList != 0 || len(reg.addrs) > 0:
		if len(reg.addrs) == 0 {
			return nil, fmt.Errorf("tdc: empty address list")
		}
		addrs = append(addrs, reg.addrs...)
	default:
		if inc == 0 || n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			addrs = append(addrs, addr+uint32(i)*inc)
		}
	}

	reg.boards = make(map[int]*Board, len(addrs))
	reg.slots = nil
	reg.smin = maxSlot
	reg.smax = minSlot

	var errs []error
	skipFW := flags&InitSkipFirmwareCheck != 0
	for _, a24 := range addrs {
		brd, err := reg.bind(a24, skipFW)
		if err != nil {
			reg.msg.Printf("WARN: %+v", err)
			errs = append(errs, err)
			continue
		}
		reg.boards[brd.slot] = brd
		reg.slots = append(reg.slots, brd.slot)
		if brd.slot > reg.smax {
			reg.smax = brd.slot
		}
		if brd.slot < reg.smin {
			reg.smin = brd.slot
		}
		reg.msg.Printf(
			"initialized vfTDC in slot %2d at VME A24 address 0x%06x (fw=0x%02x)",
			brd.slot, brd.a24, brd.fw,
		)
	}
	sort.Ints(reg.slots)

	if len(reg.slots) == 0 {
		errs = append([]error{fmt.Errorf("tdc: no board bound (candidates=%d)", len(addrs))}, errs...)
		return nil, errors.Join(errs...)
	}

	switch {
	case flags&InitSkip != 0:
		err = reg.attach()
	default:
		err = reg.configure(flags)
	}
	if err != nil {
		errs = append(errs, err)
	}

	boards := reg.list()
	if len(errs) > 0 {
		return boards, errors.Join(errs...)
	}
	return boards, nil
}

func (reg *Registry) bind(a24 uint32, skipFW bool) (*Board, error) {
	laddr, err := reg.bus.BusToLocal(vme.A24, a24)
	if err != nil {
		return nil, fmt.Errorf("tdc: could not translate A24 address 0x%06x: %w", a24, err)
	}

	brd := newBoard(reg.bus, a24, laddr)
	id, err := brd.probe()
	if err != nil {
		return nil, fmt.Errorf("tdc: no addressable board at VME A24 address 0x%06x: %w", a24, err)
	}

	if typ := (id & regs.BOARDID_TYPE_MASK) >> regs.SHIFT_BOARDID_TYPE; typ != regs.BOARDID_TYPE_VFTDC {
		return nil, fmt.Errorf("tdc: invalid board ID 0x%08x for board at 0x%06x", id, a24)
	}

	slot := int((id & regs.BOARDID_GEOADR_MASK) >> regs.SHIFT_BOARDID_GEOADR)
	if slot < minSlot || maxSlot < slot {
		return nil, fmt.Errorf("tdc: slot number %d of board at 0x%06x not in range: %w", slot, a24, ErrRange)
	}
	if _, dup := reg.boards[slot]; dup {
		return nil, fmt.Errorf("tdc: duplicate board in slot %d (at 0x%06x)", slot, a24)
	}

	fw := id & regs.BOARDID_FW_MASK
	if fw < SupportedFirmware {
		if !skipFW {
			return nil, fmt.Errorf(
				"tdc: slot %2d: firmware 0x%02x not supported (want >= 0x%02x)",
				slot, fw, SupportedFirmware,
			)
		}
		reg.msg.Printf(
			"WARN: slot %2d: firmware 0x%02x not supported by this driver (ignored)",
			slot, fw,
		)
	}

	brd.slot = slot
	brd.fw = fw

	err = brd.regs.checkOffsets(hwOffsets)
	if err != nil {
		return nil, fmt.Errorf("tdc: slot %2d: invalid register map: %w", slot, err)
	}

	return brd, nil
}

// configure hard resets all the bound boards and configures them
// in slot order.
func (reg *Registry) configure(flags InitFlag) error {
	for _, slot := range reg.slots {
		reg.boards[slot].regs.reset.w(regs.RESET_SOFT)
	}
	reg.sleep(resetDelay)

	var (
		errs  []error
		trig  uint32
		srSrc uint32 = regs.SYNC_VME
	)

	clk := ClockInternal
	switch flags & initClockMask {
	case InitFPClock:
		clk = ClockExternal
	case InitVXSClock:
		clk = ClockVXS
	}

	switch flags & initTrigMask {
	case InitFPTrig:
		trig = regs.TRIGSRC_FPTRG
	case InitVXSTrig:
		trig = regs.TRIGSRC_P0
	case InitIntTrig:
		trig = regs.TRIGSRC_PULSER
	default:
		trig = regs.TRIGSRC_VME
	}

	if flags&InitExtSyncReset != 0 {
		switch clk {
		case ClockVXS:
			srSrc = regs.SYNC_P0
		case ClockExternal:
			srSrc = regs.SYNC_HFBR1
		default:
			srSrc = regs.SYNC_FP
		}
	}

	for i, slot := range reg.slots {
		brd := reg.boards[slot]
		err := brd.flush()
		if err != nil {
			errs = append(errs, fmt.Errorf("tdc: could not reset board in slot %d: %w", slot, err))
			continue
		}

		err = reg.setClockSource(brd, clk)
		if err != nil {
			errs = append(errs, err)
		}

		err = reg.setA32(brd, reg.a32Base+uint32(i)*regs.A32_MAX_MEM)
		if err != nil {
			errs = append(errs, err)
		}

		brd.trigSrc = trig
		brd.regs.blockLevel.w(1)
		brd.regs.sync.w(srSrc)
		err = brd.flush()
		if err != nil {
			errs = append(errs, fmt.Errorf("tdc: could not configure board in slot %d: %w", slot, err))
		}
	}

	return errors.Join(errs...)
}

// attach reads back the A32 data window of all the bound boards,
// leaving their configuration untouched.
func (reg *Registry) attach() error {
	var errs []error
	for _, slot := range reg.slots {
		brd := reg.boards[slot]
		var (
			base = brd.regs.adr32.r() & regs.ADR32_BASE_MASK
			ctl  = brd.regs.vmeControl.r()
		)
		err := brd.flush()
		if err != nil {
			errs = append(errs, fmt.Errorf("tdc: could not read back board in slot %d: %w", slot, err))
			continue
		}

		brd.berr = ctl&regs.VMECONTROL_BERR != 0
		if ctl&regs.VMECONTROL_A32 == 0 || base == 0 {
			continue
		}

		laddr, err := reg.bus.BusToLocal(vme.A32, base)
		if err != nil {
			errs = append(errs, fmt.Errorf("tdc: could not translate A32 address 0x%08x (slot=%d): %w", base, slot, err))
			continue
		}
		brd.a32 = base
		brd.fifo = laddr
		brd.off = laddr - uint64(base)
	}
	return errors.Join(errs...)
}

func (reg *Registry) list() []*Board {
	boards := make([]*Board, len(reg.slots))
	for i, slot := range reg.slots {
		boards[i] = reg.boards[slot]
	}
	return boards
}

// board returns the board bound to slot.
// board must be called with the registry lock held.
func (reg *Registry) board(slot int) (*Board, error) {
	brd, ok := reg.boards[slot]
	if !ok {
		return nil, fmt.Errorf("tdc: slot %d: %w", slot, ErrNotBound)
	}
	return brd, nil
}

// Boards returns the bound boards, in slot order.
func (reg *Registry) Boards() []*Board {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.list()
}

// Slots returns the slots of the bound boards, in increasing order.
func (reg *Registry) Slots() []int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return append([]int(nil), reg.slots...)
}

// Board returns the board bound to slot.
func (reg *Registry) Board(slot int) (*Board, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.board(slot)
}

// MinSlot returns the lowest bound slot.
func (reg *Registry) MinSlot() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.slots) == 0 {
		return 0
	}
	return reg.smin
}

// MaxSlot returns the highest bound slot.
func (reg *Registry) MaxSlot() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.slots) == 0 {
		return 0
	}
	return reg.smax
}

// SlotMask returns the mask of bound slots, bit i standing for slot i.
func (reg *Registry) SlotMask() uint32 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var mask uint32
	for _, slot := range reg.slots {
		mask |= 1 << slot
	}
	return mask
}

// CheckAddresses verifies the register map of all bound boards.
func (reg *Registry) CheckAddresses() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var errs []error
	for _, slot := range reg.slots {
		err := reg.boards[slot].regs.checkOffsets(hwOffsets)
		if err != nil {
			errs = append(errs, fmt.Errorf("tdc: slot %d: %w", slot, err))
		}
	}
	return errors.Join(errs...)
}
