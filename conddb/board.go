// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"time"
)

// Board is the configuration of a vfTDC board.
type Board struct {
	ID         int32  `json:"identifier"`
	Slot       uint8  `json:"slot"`
	A24        uint32 `json:"a24"`
	Clock      uint8  `json:"clock"`
	TrigSrc    uint32 `json:"trigsrc"`
	SyncSrc    uint32 `json:"syncsrc"`
	BusySrc    uint32 `json:"busysrc"`
	BlockLevel uint8  `json:"block_level"`
	Latency    uint16 `json:"latency"` // trigger window latency, in 4ns ticks
	Width      uint16 `json:"width"`   // trigger window width, in 4ns ticks
	ROCEnable  uint8  `json:"roc_enable"`
}

// Run describes a data taking run.
type Run struct {
	Number uint32    `json:"run"`
	Config string    `json:"crateconfig"`
	Slots  uint32    `json:"slots"` // mask of the read out slots
	Start  time.Time `json:"start"`
	Stop   time.Time `json:"stop"`
	Blocks uint64    `json:"blocks"`
	Events uint64    `json:"events"`
}
