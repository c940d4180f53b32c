// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the register map of the vfTDC board.
package regs // import "github.com/go-lpc/vftdc/tdc/internal/regs"

// Register offsets, in bytes, from the A24 base of a board.
const (
	BOARDID        = 0x000
	PTW            = 0x004 // trigger window width
	INTSETUP       = 0x008
	PL             = 0x00C // trigger window latency
	ADR32          = 0x010
	BLOCKLEVEL     = 0x014
	VMECONTROL     = 0x01C
	TRIGSRC        = 0x020
	SYNC           = 0x024
	BUSY           = 0x028
	CLOCK          = 0x02C
	BLOCKBUFFER    = 0x04C
	RUNNINGMODE    = 0x09C
	LIVETIME       = 0x0A8
	BUSYTIME       = 0x0AC
	EVENTNUMBER_HI = 0x0D8
	EVENTNUMBER_LO = 0x0DC
	ROCENABLE      = 0x0EC
	RESET          = 0x100

	SIZE = RESET + 4
)

// 0x000 boardID
const (
	BOARDID_TYPE_VFTDC  = 0xF7DC
	BOARDID_TYPE_MASK   = 0xFFFF0000
	BOARDID_GEOADR_MASK = 0x00001F00
	BOARDID_FW_MASK     = 0x000000FF

	SHIFT_BOARDID_TYPE   = 16
	SHIFT_BOARDID_GEOADR = 8
)

// 0x008 intsetup
const (
	INTSETUP_VECTOR_MASK = 0x000000FF
	INTSETUP_LEVEL_MASK  = 0x00000F00
	INTSETUP_ENABLE      = 1 << 16

	SHIFT_INTSETUP_LEVEL = 8
)

// 0x010 adr32
const (
	ADR32_BASE_MASK = 0xFF800000
)

// 0x01C vmeControl
const (
	VMECONTROL_BERR           = 1 << 0
	VMECONTROL_TOKEN_TESTMODE = 1 << 1
	VMECONTROL_MBLK           = 1 << 2
	VMECONTROL_A32M           = 1 << 3
	VMECONTROL_A32            = 1 << 4
	VMECONTROL_ERROR_INT      = 1 << 7
	VMECONTROL_I2CDEV_HACK    = 1 << 8
	VMECONTROL_TOKENOUT_HI    = 1 << 9
	VMECONTROL_FIRST_BOARD    = 1 << 10
	VMECONTROL_LAST_BOARD     = 1 << 11
	VMECONTROL_BUFFER_DISABLE = 1 << 15
)

// 0x020 trigsrc
const (
	TRIGSRC_SOURCEMASK = 0x0000FFFF
	TRIGSRC_P0         = 1 << 0
	TRIGSRC_HFBR1      = 1 << 1
	TRIGSRC_FPTRG      = 1 << 3
	TRIGSRC_VME        = 1 << 4
	TRIGSRC_PULSER     = 1 << 7
	TRIGSRC_MONITOR    = 0xFFFF0000

	TRIGSRC_SUPPORTED = TRIGSRC_P0 | TRIGSRC_HFBR1 | TRIGSRC_FPTRG | TRIGSRC_VME | TRIGSRC_PULSER

	SHIFT_TRIGSRC_MONITOR = 16
)

// 0x024 sync
const (
	SYNC_SOURCEMASK = 0x0000FFFF
	SYNC_P0         = 1 << 0
	SYNC_HFBR1      = 1 << 1
	SYNC_FP         = 1 << 3
	SYNC_VME        = 1 << 4
	SYNC_MONITOR    = 0xFF000000

	SYNC_SUPPORTED = SYNC_P0 | SYNC_HFBR1 | SYNC_FP | SYNC_VME
)

// 0x028 busy
const (
	BUSY_SOURCEMASK       = 0x0000FFFF
	BUSY_SWA              = 1 << 0
	BUSY_SWB              = 1 << 1
	BUSY_P2               = 1 << 2
	BUSY_FP_FTDC          = 1 << 3
	BUSY_FP_FADC          = 1 << 4
	BUSY_FP               = 1 << 5
	BUSY_LOOPBACK         = 1 << 7
	BUSY_HFBR1            = 1 << 8
	BUSY_HFBR8            = 1 << 15
	BUSY_MONITOR_FIFOFULL = 1 << 16
	BUSY_MONITOR          = 0xFFFF0000
)

// 0x02C clock
const (
	CLOCK_FP       = 0
	CLOCK_INTERNAL = 2
	CLOCK_P0       = 3
	CLOCK_MASK     = 0x3
)

// 0x04C blockBuffer
const (
	BLOCKBUFFER_BLOCKS_READY_MASK = 0x0000FF00
	BLOCKBUFFER_BREADY_INT_MASK   = 0x00FF0000
	BLOCKBUFFER_TRIGGERS_IN_BLOCK = 0xFF000000

	SHIFT_BLOCKBUFFER_BLOCKS_READY = 8
)

// 0x09C runningMode
const (
	RUNNINGMODE_ENABLE  = 0xF7
	RUNNINGMODE_TRIGGER = 0x71
	RUNNINGMODE_DISABLE = 0x00
)

// 0x0D8 eventNumber_hi
const (
	EVENTNUMBER_HI_MASK = 0xFFFF0000

	SHIFT_EVENTNUMBER_HI = 16
)

// 0x0EC rocEnable
const (
	ROCENABLE_MASK = 0xFF
)

// 0x100 reset
const (
	RESET_I2C                  = 1 << 1
	RESET_SOFT                 = 1 << 4
	RESET_SYNCRESET            = 1 << 5
	RESET_BUSYACK              = 1 << 7
	RESET_CLK250               = 1 << 8
	RESET_MGT                  = 1 << 10
	RESET_AUTOALIGN_HFBR1_SYNC = 1 << 11
	RESET_TRIGGER              = 1 << 12
	RESET_IODELAY              = 1 << 14
	RESET_TAKE_TOKEN           = 1 << 16
	RESET_BLOCK_READOUT        = 1 << 17
	RESET_SCALERS_LATCH        = 1 << 24
	RESET_SCALERS_RESET        = 1 << 25
)

// Window limits, in 4ns ticks.
const (
	PL_MAX  = 0x7FF
	PTW_MAX = 0x1FF
)

// A32 data window geometry.
const (
	A32_MIN_BASE = 0x00800000
	A32_MAX_MEM  = 0x00800000
	A32_DEFAULT  = 0x08000000
)
