// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"fmt"
	"unsafe"

	"github.com/go-lpc/vftdc/eformat"
	"github.com/go-lpc/vftdc/tdc/internal/regs"
)

// ReadBlock reads a block of data out of the FIFO of the board in slot,
// into dst, and returns the number of words stored in dst.
//
// At most maxWords words are read. A non-positive maxWords stands for
// DefaultMaxWords. maxWords is capped by the length of dst.
//
// In ModePIO, an empty FIFO is reported as zero words and no error.
// In ModeDMA, a filler word is inserted at the start of dst when dst is
// not 8-byte aligned, and is included in the returned count.
//
// Transfers that did not end as expected still return the words read
// and are flagged with a BlockError, see Registry.BlockError.
// Words are stored in dst as they were read from the bus.
func (reg *Registry) ReadBlock(slot int, dst []uint32, maxWords int, mode Mode) (int, error) {
	switch mode {
	case ModePIO, ModeDMA:
		// ok.
	case ModeMultiBlockDMA:
		return 0, fmt.Errorf("tdc: could not read block in %v mode: %w", mode, ErrUnsupported)
	default:
		return 0, fmt.Errorf("tdc: invalid readout mode %v: %w", mode, ErrUnsupported)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	brd, err := reg.board(slot)
	if err != nil {
		return 0, err
	}

	if brd.a32 == 0 {
		return 0, fmt.Errorf("tdc: could not read block (slot=%d): %w", slot, ErrNoA32)
	}

	if len(dst) == 0 {
		return 0, fmt.Errorf("tdc: could not read block (slot=%d): %w", slot, ErrInvalidBuffer)
	}

	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	switch mode {
	case ModePIO:
		return reg.readPIO(brd, dst, maxWords)
	default:
		return reg.readDMA(brd, dst, maxWords)
	}
}

// swapped converts v between bus and host byte orders.
func (reg *Registry) swapped(v uint32) uint32 {
	if reg.swap {
		return eformat.Swap(v)
	}
	return v
}

func (reg *Registry) readPIO(brd *Board, dst []uint32, maxWords int) (int, error) {
	if maxWords > len(dst) {
		maxWords = len(dst)
	}

	// programmed I/O must not be terminated by a bus error.
	berr := brd.berr
	if berr {
		brd.disableBusError()
		err := brd.flush()
		if err != nil {
			return 0, fmt.Errorf("tdc: could not disable bus error termination: %w", err)
		}
	}

	n, err := reg.pio(brd, dst[:maxWords])

	if berr {
		brd.enableBusError()
		e := brd.flush()
		if e != nil && err == nil {
			err = fmt.Errorf("tdc: could not restore bus error termination: %w", e)
		}
	}

	return n, err
}

func (reg *Registry) pio(brd *Board, dst []uint32) (int, error) {
	nblk := brd.bready()
	err := brd.flush()
	if err != nil {
		return 0, fmt.Errorf("tdc: could not read blocks ready: %w", err)
	}
	if nblk == 0 {
		return 0, nil
	}

	word := func() (uint32, error) {
		return brd.bus.Read32(brd.fifo)
	}

	v, err := word()
	if err != nil {
		return 0, fmt.Errorf("tdc: could not read block header (slot=%d): %w", brd.slot, err)
	}
	if !eformat.IsType(reg.swapped(v), eformat.BlockHeader) {
		return 0, fmt.Errorf("tdc: slot %d: word 0x%08x: %w", brd.slot, v, ErrBadHeader)
	}
	dst[0] = v

	n := 1
	for n < len(dst) {
		v, err := word()
		if err != nil {
			return n, fmt.Errorf("tdc: could not read FIFO (slot=%d, words=%d): %w", brd.slot, n, err)
		}
		dst[n] = v
		n++

		v = reg.swapped(v)
		if !eformat.IsType(v, eformat.BlockTrailer) {
			continue
		}

		if cnt := int(v & eformat.WordCntMask); cnt != n {
			reg.msg.Printf(
				"WARN: slot %d: block trailer word count (%d) does not match words read (%d)",
				brd.slot, cnt, n,
			)
		}

		if n%2 != 0 {
			// drain the filler word padding the block.
			f, err := word()
			switch {
			case err != nil:
				reg.msg.Printf("ERROR: slot %d: could not read filler word: %+v", brd.slot, err)
			case !eformat.IsType(reg.swapped(f), eformat.Filler):
				reg.msg.Printf("ERROR: slot %d: unexpected word after block trailer (0x%08x)", brd.slot, f)
			}
		}
		return n, nil
	}

	reg.blkErr = BlockErrTermOnWordCount
	reg.msg.Printf("WARN: slot %d: block readout terminated on word count (%d)", brd.slot, n)
	return n, nil
}

func (reg *Registry) readDMA(brd *Board, dst []uint32, maxWords int) (int, error) {
	if !brd.berr {
		reg.msg.Printf("WARN: slot %d: bus error block termination was disabled, re-enabling", brd.slot)
		brd.enableBusError()
		err := brd.flush()
		if err != nil {
			return 0, fmt.Errorf("tdc: could not enable bus error termination: %w", err)
		}
	}

	// the DMA engine needs an 8-byte aligned destination.
	dummy := 0
	if uintptr(unsafe.Pointer(&dst[0]))&0x7 != 0 {
		dst[0] = reg.swapped(eformat.FillerWord(uint32(brd.slot)))
		dummy = 1
	}

	if maxWords > len(dst)-dummy {
		maxWords = len(dst) - dummy
	}
	if maxWords <= 0 {
		reg.blkErr = BlockErrTermOnWordCount
		return dummy, nil
	}

	vmeAddr := uint32(brd.fifo - brd.off)
	err := reg.bus.DMASend(dst[dummy:dummy+maxWords], vmeAddr, maxWords<<2)
	if err != nil {
		return 0, fmt.Errorf(
			"tdc: could not initialize DMA transfer (slot=%d, addr=0x%08x): %w",
			brd.slot, vmeAddr, err,
		)
	}

	nbytes, err := reg.bus.DMADone()
	switch {
	case err != nil:
		reg.blkErr = BlockErrDMADone
		return 0, fmt.Errorf("tdc: DMA transfer failed (slot=%d): %w", brd.slot, err)
	case nbytes < 0:
		reg.blkErr = BlockErrDMADone
		return 0, fmt.Errorf("tdc: DMA transfer failed (slot=%d): invalid byte count %d", brd.slot, nbytes)
	case nbytes == 0:
		reg.blkErr = BlockErrZeroWordCount
		reg.msg.Printf("WARN: slot %d: DMA transfer returned zero word count (max=%d)", brd.slot, maxWords)
		return maxWords, nil
	}

	n := (nbytes >> 2) + dummy

	berr := brd.regs.vmeControl.r()&regs.VMECONTROL_BERR != 0
	err = brd.flush()
	if err != nil {
		return n, fmt.Errorf("tdc: could not read DMA termination status (slot=%d): %w", brd.slot, err)
	}
	if !berr {
		reg.blkErr = BlockErrUnknownBusError
		reg.msg.Printf("WARN: slot %d: DMA transfer not terminated by bus error (words=%d)", brd.slot, n)
	}

	return n, nil
}

// BlockError returns the error flag of the last block transfers.
// The flag is sticky: it is only reset by ClearBlockError.
func (reg *Registry) BlockError() BlockError {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.blkErr
}

// ClearBlockError returns and resets the block transfer error flag.
func (reg *Registry) ClearBlockError() BlockError {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	err := reg.blkErr
	reg.blkErr = BlockErrNone
	return err
}
