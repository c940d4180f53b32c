// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tdc controls and reads out vfTDC boards sitting in a VME crate.
//
// Boards are bound to a Registry with Registry.Init and then addressed
// by their geographic slot.
// All register transactions of a Registry are serialized by a single lock.
package tdc // import "github.com/go-lpc/vftdc/tdc"

import (
	"errors"
	"fmt"
)

const (
	// SupportedFirmware is the minimum firmware revision supported by
	// this driver.
	SupportedFirmware = 0xA2

	// MaxBlockLevel is the maximum number of events per block.
	MaxBlockLevel = 255

	// DefaultMaxWords is the number of words a block of MaxBlockLevel
	// events may hold at most.
	DefaultMaxWords = MaxBlockLevel * (10*192 + 10)

	minSlot = 1
	maxSlot = 21

	defaultIntVec   = 0xEC
	defaultIntLevel = 5
)

var (
	ErrNotBound      = errors.New("tdc: board not bound")
	ErrUnsupported   = errors.New("tdc: unsupported operation")
	ErrInvalidBuffer = errors.New("tdc: invalid destination buffer")
	ErrNoA32         = errors.New("tdc: A32 window not enabled")
	ErrBadHeader     = errors.New("tdc: invalid block header")
	ErrRange         = errors.New("tdc: value out of range")
	ErrBadMask       = errors.New("tdc: invalid source mask")
)

// Mode is a block readout mode.
type Mode uint8

const (
	ModePIO           Mode = iota // programmed I/O
	ModeDMA                       // single board DMA
	ModeMultiBlockDMA             // multi board (token passing) DMA
)

func (m Mode) String() string {
	switch m {
	case ModePIO:
		return "pio"
	case ModeDMA:
		return "dma"
	case ModeMultiBlockDMA:
		return "multiblock-dma"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// BlockError describes how the last block transfer ended.
// It is a soft error: data were transferred but may be incomplete.
type BlockError uint8

const (
	BlockErrNone            BlockError = iota
	BlockErrTermOnWordCount            // transfer stopped on the requested word count
	BlockErrUnknownBusError            // transfer ended without the expected bus error
	BlockErrZeroWordCount              // DMA engine reported zero words
	BlockErrDMADone                    // DMA engine reported an error
)

func (e BlockError) String() string {
	switch e {
	case BlockErrNone:
		return "no error"
	case BlockErrTermOnWordCount:
		return "terminated on word count"
	case BlockErrUnknownBusError:
		return "unknown bus error"
	case BlockErrZeroWordCount:
		return "zero word count"
	case BlockErrDMADone:
		return "DMA done error"
	default:
		return fmt.Sprintf("BlockError(%d)", uint8(e))
	}
}

// InitFlag configures the binding of boards to a registry.
type InitFlag uint32

const (
	InitExtSyncReset InitFlag = 1 << 0 // sync reset from front panel or VXS, instead of VME

	InitVMETrig InitFlag = 0 << 1 // software triggers
	InitFPTrig  InitFlag = 1 << 1 // front panel trigger input
	InitVXSTrig InitFlag = 2 << 1 // VXS (P0) triggers
	InitIntTrig InitFlag = 4 << 1 // internal pulser

	InitIntClock InitFlag = 0 << 4 // internal 250MHz clock
	InitFPClock  InitFlag = 1 << 4 // front panel or fiber clock
	InitVXSClock InitFlag = 2 << 4 // VXS (P0) clock

	InitSkip              InitFlag = 1 << 16 // bind boards without configuring them
	InitUseAddrList       InitFlag = 1 << 17 // use the address list set with WithAddrList
	InitSkipFirmwareCheck InitFlag = 1 << 18 // unsupported firmwares are only a warning

	initTrigMask  InitFlag = 7 << 1
	initClockMask InitFlag = 3 << 4
)

// ClockSource is the source of the board clock.
type ClockSource uint8

const (
	ClockExternal ClockSource = 0 // front panel or fiber
	ClockInternal ClockSource = 2 // on-board oscillator
	ClockVXS      ClockSource = 3 // VXS (P0) backplane
)

func (src ClockSource) String() string {
	switch src {
	case ClockExternal:
		return "external"
	case ClockInternal:
		return "internal"
	case ClockVXS:
		return "vxs"
	default:
		return fmt.Sprintf("ClockSource(%d)", uint8(src))
	}
}

// IntMode selects how block-ready conditions are detected.
type IntMode uint8

const (
	IntPoll      IntMode = iota // a goroutine polls the blocks-ready register
	IntInterrupt                // the board raises a VME interrupt
)

func (m IntMode) String() string {
	switch m {
	case IntPoll:
		return "poll"
	case IntInterrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("IntMode(%d)", uint8(m))
	}
}

// Handler is called when blocks are ready for readout on the board in slot.
type Handler func(slot int)

// TriggerSupervisor is the crate trigger controller, broadcasting the
// block level to all boards of a crate.
type TriggerSupervisor interface {
	BroadcastNextBlockLevel(level int) error
}
