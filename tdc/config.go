// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"fmt"

	"github.com/go-lpc/vftdc/tdc/internal/regs"
	"github.com/go-lpc/vftdc/vme"
)

// do runs the register transaction f on the board bound to slot,
// with the registry lock held.
func (reg *Registry) do(slot int, op string, f func(brd *Board) error) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	brd, err := reg.board(slot)
	if err != nil {
		return err
	}

	err = f(brd)
	if e := brd.flush(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return fmt.Errorf("tdc: could not %s: %w", op, err)
	}
	return nil
}

// get reads a value from the board bound to slot, with the registry
// lock held.
func (reg *Registry) get(slot int, op string, f func(brd *Board) uint32) (uint32, error) {
	var v uint32
	err := reg.do(slot, op, func(brd *Board) error {
		v = f(brd)
		return nil
	})
	return v, err
}

// SetClockSource sets the clock source of the board in slot.
// The clock domain logic is reset afterwards.
// The external clock is read back to verify it is present.
func (reg *Registry) SetClockSource(slot int, src ClockSource) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	brd, err := reg.board(slot)
	if err != nil {
		return err
	}
	return reg.setClockSource(brd, src)
}

func (reg *Registry) setClockSource(brd *Board, src ClockSource) error {
	switch src {
	case ClockInternal, ClockExternal, ClockVXS:
	default:
		return fmt.Errorf("tdc: invalid clock source %d: %w", src, ErrRange)
	}

	brd.regs.clock.w(uint32(src))
	brd.regs.reset.w(regs.RESET_CLK250)
	reg.sleep(settleDelay)
	brd.regs.reset.w(regs.RESET_IODELAY)
	reg.sleep(settleDelay)

	clk := uint32(src)
	if src == ClockExternal {
		brd.regs.runningMode.w(regs.RUNNINGMODE_ENABLE)
		reg.sleep(settleDelay)
		clk = brd.regs.clock.r() & regs.CLOCK_MASK
		brd.regs.runningMode.w(regs.RUNNINGMODE_DISABLE)
	}

	err := brd.flush()
	if err != nil {
		return fmt.Errorf("tdc: could not set clock source to %v: %w", src, err)
	}

	if clk != uint32(src) {
		return fmt.Errorf(
			"tdc: could not set clock source in slot %d (set=0x%x, read=0x%x)",
			brd.slot, uint32(src), clk,
		)
	}
	return nil
}

// ClockSource returns the clock source of the board in slot.
func (reg *Registry) ClockSource(slot int) (ClockSource, error) {
	v, err := reg.get(slot, "get clock source", func(brd *Board) uint32 {
		return brd.regs.clock.r() & regs.CLOCK_MASK
	})
	return ClockSource(v), err
}

// SetTriggerSource sets the trigger sources of the board in slot.
// Sources are enabled with EnableTriggerSource.
func (reg *Registry) SetTriggerSource(slot int, mask uint32) error {
	if mask&^regs.TRIGSRC_SUPPORTED != 0 {
		return fmt.Errorf("tdc: invalid trigger source mask 0x%x: %w", mask, ErrBadMask)
	}
	return reg.do(slot, "set trigger source", func(brd *Board) error {
		brd.trigSrc = mask
		return nil
	})
}

// TriggerSource returns the trigger sources configured for the board in slot.
func (reg *Registry) TriggerSource(slot int) (uint32, error) {
	return reg.get(slot, "get trigger source", func(brd *Board) uint32 {
		return brd.trigSrc
	})
}

// TriggerMonitor returns the trigger sources currently enabled in
// the board firmware.
func (reg *Registry) TriggerMonitor(slot int) (uint32, error) {
	return reg.get(slot, "get trigger monitor", func(brd *Board) uint32 {
		return (brd.regs.trigSrc.r() & regs.TRIGSRC_MONITOR) >> regs.SHIFT_TRIGSRC_MONITOR
	})
}

// EnableTriggerSource enables the trigger sources set with SetTriggerSource.
func (reg *Registry) EnableTriggerSource(slot int) error {
	return reg.do(slot, "enable trigger source", reg.enableTriggerSource)
}

func (reg *Registry) enableTriggerSource(brd *Board) error {
	if brd.trigSrc == 0 {
		reg.msg.Printf("WARN: slot %d: no trigger source enabled", brd.slot)
	}
	brd.regs.trigSrc.w(brd.trigSrc)
	return nil
}

// DisableTriggerSource disables all trigger sources of the board in slot.
func (reg *Registry) DisableTriggerSource(slot int) error {
	return reg.do(slot, "disable trigger source", func(brd *Board) error {
		brd.regs.trigSrc.w(0)
		return nil
	})
}

// SetSyncSource sets the sync reset sources of the board in slot.
func (reg *Registry) SetSyncSource(slot int, mask uint32) error {
	if mask&^regs.SYNC_SUPPORTED != 0 {
		return fmt.Errorf("tdc: invalid sync source mask 0x%x: %w", mask, ErrBadMask)
	}
	return reg.do(slot, "set sync source", func(brd *Board) error {
		brd.regs.sync.w(mask)
		return nil
	})
}

// SyncSource returns the sync reset sources of the board in slot.
func (reg *Registry) SyncSource(slot int) (uint32, error) {
	return reg.get(slot, "get sync source", func(brd *Board) uint32 {
		return brd.regs.sync.r() & regs.SYNC_SOURCEMASK
	})
}

// SetBusySource adds the provided sources to the busy sources of the
// board in slot. Previous sources are discarded when reset is true.
func (reg *Registry) SetBusySource(slot int, mask uint32, reset bool) error {
	if mask > regs.BUSY_SOURCEMASK {
		return fmt.Errorf("tdc: invalid busy source mask 0x%x: %w", mask, ErrBadMask)
	}
	return reg.do(slot, "set busy source", func(brd *Board) error {
		busy := brd.regs.busy.r()
		if reset {
			busy &^= regs.BUSY_SOURCEMASK
		}
		brd.regs.busy.w(busy | mask)
		return nil
	})
}

// BusySource returns the busy sources of the board in slot.
func (reg *Registry) BusySource(slot int) (uint32, error) {
	return reg.get(slot, "get busy source", func(brd *Board) uint32 {
		return brd.regs.busy.r() & regs.BUSY_SOURCEMASK
	})
}

// SetWindow sets the trigger window of the board in slot.
// Latency and width are given in 4ns ticks.
func (reg *Registry) SetWindow(slot, latency, width int) error {
	if latency < 1 || regs.PL_MAX < latency {
		return fmt.Errorf("tdc: invalid window latency %d (want 1-%d): %w", latency, regs.PL_MAX, ErrRange)
	}
	if width < 1 || regs.PTW_MAX < width {
		return fmt.Errorf("tdc: invalid window width %d (want 1-%d): %w", width, regs.PTW_MAX, ErrRange)
	}
	return reg.do(slot, "set window", func(brd *Board) error {
		brd.regs.pl.w(uint32(latency))
		brd.regs.ptw.w(uint32(width))
		return nil
	})
}

// Window returns the trigger window latency and width of the board in slot.
func (reg *Registry) Window(slot int) (latency, width int, err error) {
	err = reg.do(slot, "get window", func(brd *Board) error {
		latency = int(brd.regs.pl.r() & regs.PL_MAX)
		width = int(brd.regs.ptw.r() & regs.PTW_MAX)
		return nil
	})
	return latency, width, err
}

// SetBlockLevel sets the number of events per block of the board in slot.
// The block level is forwarded to the trigger supervisor, if any.
func (reg *Registry) SetBlockLevel(slot, level int) error {
	if level < 1 || MaxBlockLevel < level {
		return fmt.Errorf("tdc: invalid block level %d (want 1-%d): %w", level, MaxBlockLevel, ErrRange)
	}

	err := reg.do(slot, "set block level", func(brd *Board) error {
		brd.regs.blockLevel.w(uint32(level))
		return nil
	})
	if err != nil {
		return err
	}

	if reg.ts == nil {
		return nil
	}
	err = reg.ts.BroadcastNextBlockLevel(level)
	if err != nil {
		return fmt.Errorf("tdc: could not broadcast block level %d: %w", level, err)
	}
	return nil
}

// BlockLevel returns the number of events per block of the board in slot.
func (reg *Registry) BlockLevel(slot int) (int, error) {
	v, err := reg.get(slot, "get block level", func(brd *Board) uint32 {
		return brd.regs.blockLevel.r() & 0xFF
	})
	return int(v), err
}

// SetA32 enables the A32 data window of the board in slot, at the
// provided VME address.
func (reg *Registry) SetA32(slot int, base uint32) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	brd, err := reg.board(slot)
	if err != nil {
		return err
	}
	return reg.setA32(brd, base)
}

func (reg *Registry) setA32(brd *Board, base uint32) error {
	if base < regs.A32_MIN_BASE {
		return fmt.Errorf("tdc: A32 base 0x%08x out of range: %w", base, ErrRange)
	}
	base &= regs.ADR32_BASE_MASK

	brd.regs.adr32.w(base)
	brd.regs.vmeControl.set(regs.VMECONTROL_A32)
	ok := brd.regs.vmeControl.r()&regs.VMECONTROL_A32 != 0

	err := brd.flush()
	if err != nil {
		return fmt.Errorf("tdc: could not set A32 base 0x%08x: %w", base, err)
	}
	if !ok {
		return fmt.Errorf("tdc: could not enable A32 address in slot %d", brd.slot)
	}

	laddr, err := reg.bus.BusToLocal(vme.A32, base)
	if err != nil {
		return fmt.Errorf("tdc: could not translate A32 address 0x%08x: %w", base, err)
	}

	brd.a32 = base
	brd.fifo = laddr
	brd.off = laddr - uint64(base)
	return nil
}

// DisableA32 disables the A32 data window of the board in slot.
func (reg *Registry) DisableA32(slot int) error {
	return reg.do(slot, "disable A32", func(brd *Board) error {
		brd.regs.adr32.w(0)
		brd.regs.vmeControl.clear(regs.VMECONTROL_A32)
		brd.a32 = 0
		brd.fifo = 0
		brd.off = 0
		return nil
	})
}

// EnableBusError enables the termination of block transfers with a
// VME bus error.
func (reg *Registry) EnableBusError(slot int) error {
	return reg.do(slot, "enable bus error", func(brd *Board) error {
		brd.enableBusError()
		return nil
	})
}

// DisableBusError disables the termination of block transfers with a
// VME bus error.
func (reg *Registry) DisableBusError(slot int) error {
	return reg.do(slot, "disable bus error", func(brd *Board) error {
		brd.disableBusError()
		return nil
	})
}

func (brd *Board) enableBusError() {
	brd.regs.vmeControl.set(regs.VMECONTROL_BERR)
	brd.berr = true
}

func (brd *Board) disableBusError() {
	brd.regs.vmeControl.clear(regs.VMECONTROL_BERR)
	brd.berr = false
}

// BusError returns whether block transfers of the board in slot are
// terminated with a bus error.
func (reg *Registry) BusError(slot int) (bool, error) {
	v, err := reg.get(slot, "get bus error", func(brd *Board) uint32 {
		return brd.regs.vmeControl.r() & regs.VMECONTROL_BERR
	})
	return v != 0, err
}

// SetROCEnable sets the mask of enabled readout controllers.
func (reg *Registry) SetROCEnable(slot int, mask uint32) error {
	if mask > regs.ROCENABLE_MASK {
		return fmt.Errorf("tdc: invalid ROC enable mask 0x%x: %w", mask, ErrBadMask)
	}
	return reg.do(slot, "set ROC enable", func(brd *Board) error {
		brd.regs.rocEnable.w(mask)
		return nil
	})
}

// ROCEnable returns the mask of enabled readout controllers.
func (reg *Registry) ROCEnable(slot int) (uint32, error) {
	return reg.get(slot, "get ROC enable", func(brd *Board) uint32 {
		return brd.regs.rocEnable.r() & regs.ROCENABLE_MASK
	})
}

// Reset performs a soft reset of the board in slot.
// The A32 window and the bus error termination are disabled by the reset.
func (reg *Registry) Reset(slot int) error {
	return reg.do(slot, "reset board", func(brd *Board) error {
		brd.regs.reset.w(regs.RESET_SOFT)
		brd.a32 = 0
		brd.fifo = 0
		brd.off = 0
		brd.berr = false
		return nil
	})
}

// SyncReset issues a sync reset to the board in slot.
func (reg *Registry) SyncReset(slot int) error {
	return reg.do(slot, "sync reset", func(brd *Board) error {
		brd.regs.reset.w(regs.RESET_SYNCRESET)
		reg.sleep(settleDelay)
		return nil
	})
}

// ResetEventCounter resets the event counter and scalers of the board in slot.
func (reg *Registry) ResetEventCounter(slot int) error {
	return reg.do(slot, "reset event counter", func(brd *Board) error {
		brd.regs.reset.w(regs.RESET_SCALERS_RESET)
		return nil
	})
}

// EventCounter returns the 48b event counter of the board in slot.
func (reg *Registry) EventCounter(slot int) (uint64, error) {
	var cnt uint64
	err := reg.do(slot, "get event counter", func(brd *Board) error {
		lo := brd.regs.evtNumLo.r()
		hi := (brd.regs.evtNumHi.r() & regs.EVENTNUMBER_HI_MASK) >> regs.SHIFT_EVENTNUMBER_HI
		cnt = uint64(lo) | uint64(hi)<<32
		return nil
	})
	return cnt, err
}

// BReady returns the number of blocks ready for readout on the board in slot.
func (reg *Registry) BReady(slot int) (int, error) {
	v, err := reg.get(slot, "get blocks ready", (*Board).bready)
	return int(v), err
}

func (brd *Board) bready() uint32 {
	return (brd.regs.blockBuffer.r() & regs.BLOCKBUFFER_BLOCKS_READY_MASK) >> regs.SHIFT_BLOCKBUFFER_BLOCKS_READY
}

// LiveTime returns the live time scaler of the board in slot.
func (reg *Registry) LiveTime(slot int) (uint32, error) {
	return reg.get(slot, "get live time", func(brd *Board) uint32 {
		return brd.regs.liveTime.r()
	})
}

// BusyTime returns the busy time scaler of the board in slot.
func (reg *Registry) BusyTime(slot int) (uint32, error) {
	return reg.get(slot, "get busy time", func(brd *Board) uint32 {
		return brd.regs.busyTime.r()
	})
}

// GeoAddress returns the geographic address reported by the board in slot.
func (reg *Registry) GeoAddress(slot int) (int, error) {
	v, err := reg.get(slot, "get geographic address", func(brd *Board) uint32 {
		return (brd.regs.boardID.r() & regs.BOARDID_GEOADR_MASK) >> regs.SHIFT_BOARDID_GEOADR
	})
	return int(v), err
}

// FirmwareVersion returns the firmware revision reported by the board in slot.
func (reg *Registry) FirmwareVersion(slot int) (uint32, error) {
	return reg.get(slot, "get firmware version", func(brd *Board) uint32 {
		return brd.regs.boardID.r() & regs.BOARDID_FW_MASK
	})
}
