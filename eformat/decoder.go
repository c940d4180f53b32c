// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eformat

import (
	"fmt"
	"strings"
)

// Record is the decoded content of a single vfTDC word.
// Only the fields relevant to Type are filled.
type Record struct {
	Word uint32
	Type WordType
	Cont bool // continuation word

	Slot uint32

	// block header
	ModuleID    uint32
	BlockNumber uint32
	EventCount  uint32

	// block trailer
	WordCount uint32

	// event header
	EventNumber uint32

	// trigger time
	TimeSlot int    // 1 or 2: which half of the trigger time
	TimeHalf uint32 // 24b value of this half
	Time     uint64 // full 48b trigger time, once the second half is seen

	// TDC hit
	Group  uint32
	Chan   uint32
	Edge   uint32
	Coarse uint32
	TwoNS  uint32
	Fine   uint32

	// Err flags a protocol error on this word.
	// Decoding continues with the next word.
	Err error
}

// Decoder decodes vfTDC words, one at a time.
// A Decoder carries the data type of the last type defining word and
// the trigger time half last seen, across calls to Decode.
type Decoder struct {
	LastType     WordType
	LastTimeSlot int

	seen bool   // whether a type defining word was seen
	tlo  uint32 // low half of the current trigger time
}

// NewDecoder returns a decoder ready to decode a new stream.
func NewDecoder() *Decoder {
	dec := new(Decoder)
	dec.Reset()
	return dec
}

// Reset resets the decoder state.
func (dec *Decoder) Reset() {
	dec.LastType = Filler
	dec.LastTimeSlot = 0
	dec.seen = false
	dec.tlo = 0
}

// Decode decodes the word w.
func (dec *Decoder) Decode(w uint32) Record {
	rec := Record{Word: w}

	switch {
	case IsDefining(w):
		rec.Type = TypeOf(w)
		dec.LastType = rec.Type
		dec.seen = true
	default:
		rec.Type = dec.LastType
		rec.Cont = true
		if !dec.seen {
			rec.Err = ErrContinuation
			return rec
		}
	}

	if rec.Type != TriggerTime {
		dec.LastTimeSlot = 0
	}

	switch rec.Type {
	case BlockHeader:
		rec.Slot = (w & SlotMask) >> shiftSlot
		rec.ModuleID = (w & ModuleMask) >> shiftModule
		rec.BlockNumber = (w & BlockNumMask) >> shiftBlockNum
		rec.EventCount = w & EvtCountMask

	case BlockTrailer:
		rec.Slot = (w & SlotMask) >> shiftSlot
		rec.WordCount = w & WordCntMask

	case EventHeader:
		rec.Slot = (w & SlotMask) >> shiftSlot
		rec.EventNumber = w & EvtNumMask

	case TriggerTime:
		rec.TimeHalf = w & TimeMask
		switch {
		case !rec.Cont:
			rec.TimeSlot = 1
			dec.tlo = rec.TimeHalf
			dec.LastTimeSlot = 1
		case dec.LastTimeSlot == 1:
			rec.TimeSlot = 2
			rec.Time = uint64(dec.tlo) | uint64(rec.TimeHalf)<<TimeBits
			dec.LastTimeSlot = 2
		default:
			rec.Err = ErrTimeSequence
			dec.LastTimeSlot = 0
		}

	case Hit:
		rec.Group = (w & GroupMask) >> shiftGroup
		rec.Chan = (w & ChanMask) >> shiftChan
		rec.Edge = (w & EdgeMask) >> shiftEdge
		rec.Coarse = (w & CoarseMask) >> shiftCoarse
		rec.TwoNS = (w & TwoNSMask) >> shiftTwoNS
		rec.Fine = w & FineMask

	case Filler, DataNotValid:
		rec.Slot = (w & SlotMask) >> shiftSlot
	}

	return rec
}

func (rec Record) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "%08X - ", rec.Word)
	if rec.Cont {
		o.WriteString("(cont) ")
	}
	switch rec.Type {
	case BlockHeader:
		fmt.Fprintf(o, "%s - Slot = %d  id = %d  blkNum = %d  nevts = %d",
			rec.Type, rec.Slot, rec.ModuleID, rec.BlockNumber, rec.EventCount,
		)
	case BlockTrailer:
		fmt.Fprintf(o, "%s - Slot = %d  nwords = %d", rec.Type, rec.Slot, rec.WordCount)
	case EventHeader:
		fmt.Fprintf(o, "%s - Slot = %d  evtnum = %d", rec.Type, rec.Slot, rec.EventNumber)
	case TriggerTime:
		switch rec.TimeSlot {
		case 1:
			fmt.Fprintf(o, "%s - time(1) = 0x%06x", rec.Type, rec.TimeHalf)
		case 2:
			fmt.Fprintf(o, "%s - time(2) = 0x%06x  time = 0x%012x", rec.Type, rec.TimeHalf, rec.Time)
		default:
			fmt.Fprintf(o, "%s - time(?) = 0x%06x", rec.Type, rec.TimeHalf)
		}
	case Hit:
		fmt.Fprintf(o, "%s - grp = %d  ch = %2d  edge = %d  coarse = %4d  two_ns = %d  fine = %2d",
			rec.Type, rec.Group, rec.Chan, rec.Edge, rec.Coarse, rec.TwoNS, rec.Fine,
		)
	case Filler, DataNotValid:
		fmt.Fprintf(o, "%s - Slot = %d", rec.Type, rec.Slot)
	default:
		o.WriteString(rec.Type.String())
	}
	if rec.Err != nil {
		fmt.Fprintf(o, "  **** ERROR: %v", rec.Err)
	}
	return o.String()
}
