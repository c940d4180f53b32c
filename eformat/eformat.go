// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package eformat describes and handles data in the vfTDC event format.
//
// The vfTDC produces a stream of 32b words.
// A word with bit 31 set defines a new data type, stored in bits 30-27.
// A word with bit 31 cleared is a continuation word and inherits the
// data type of the last type-defining word.
package eformat // import "github.com/go-lpc/vftdc/eformat"

import (
	"errors"
	"fmt"
	"math/bits"
)

// WordType is the 4b data type of a vfTDC word.
type WordType uint8

const (
	BlockHeader  WordType = 0
	BlockTrailer WordType = 1
	EventHeader  WordType = 2
	TriggerTime  WordType = 3
	Hit          WordType = 7
	DataNotValid WordType = 14
	Filler       WordType = 15
)

func (wt WordType) String() string {
	switch wt {
	case BlockHeader:
		return "BLOCK HEADER"
	case BlockTrailer:
		return "BLOCK TRAILER"
	case EventHeader:
		return "EVENT HEADER"
	case TriggerTime:
		return "TRIGGER TIME"
	case Hit:
		return "TDC HIT"
	case DataNotValid:
		return "DATA NOT VALID"
	case Filler:
		return "FILLER WORD"
	default:
		return fmt.Sprintf("UNDEFINED TYPE(%d)", uint8(wt))
	}
}

const (
	DefineMask   = 0x80000000 // data type defining word
	TypeMask     = 0x78000000
	SlotMask     = 0x07C00000
	ModuleMask   = 0x003C0000
	BlockNumMask = 0x0003FF00
	EvtCountMask = 0x000000FF
	WordCntMask  = 0x003FFFFF
	EvtNumMask   = 0x003FFFFF
	TimeMask     = 0x00FFFFFF
	GroupMask    = 0x07000000
	ChanMask     = 0x00F80000
	EdgeMask     = 0x00040000
	CoarseMask   = 0x0003FF80
	TwoNSMask    = 0x00000040
	FineMask     = 0x0000003F

	shiftType     = 27
	shiftSlot     = 22
	shiftModule   = 18
	shiftBlockNum = 8
	shiftGroup    = 24
	shiftChan     = 19
	shiftEdge     = 18
	shiftCoarse   = 7
	shiftTwoNS    = 6

	// TimeBits is the number of bits of a trigger time half.
	TimeBits = 24
)

var (
	// ErrTimeSequence flags a trigger time continuation word that
	// does not follow the first half of a trigger time.
	ErrTimeSequence = errors.New("eformat: trigger time continuation out of sequence")

	// ErrContinuation flags a continuation word seen before any
	// data type defining word.
	ErrContinuation = errors.New("eformat: continuation word without data type")
)

// IsDefining returns whether w is a data type defining word.
func IsDefining(w uint32) bool {
	return w&DefineMask != 0
}

// TypeOf returns the data type stored in a type defining word.
func TypeOf(w uint32) WordType {
	return WordType((w & TypeMask) >> shiftType)
}

// IsType returns whether w is a type defining word of type wt.
func IsType(w uint32, wt WordType) bool {
	return IsDefining(w) && TypeOf(w) == wt
}

func defining(wt WordType) uint32 {
	return DefineMask | uint32(wt)<<shiftType
}

// BlockHeaderWord builds a block header word.
func BlockHeaderWord(slot, module, block, nevts uint32) uint32 {
	return defining(BlockHeader) |
		(slot<<shiftSlot)&SlotMask |
		(module<<shiftModule)&ModuleMask |
		(block<<shiftBlockNum)&BlockNumMask |
		nevts&EvtCountMask
}

// BlockTrailerWord builds a block trailer word, where nwords is the
// number of words in the block, header and trailer included.
func BlockTrailerWord(slot, nwords uint32) uint32 {
	return defining(BlockTrailer) |
		(slot<<shiftSlot)&SlotMask |
		nwords&WordCntMask
}

// EventHeaderWord builds an event header word.
func EventHeaderWord(slot, evtnum uint32) uint32 {
	return defining(EventHeader) |
		(slot<<shiftSlot)&SlotMask |
		evtnum&EvtNumMask
}

// TriggerTimeWords builds the two words holding a 48b trigger time.
// The first one holds the low 24b, the second one (a continuation word)
// the high 24b.
func TriggerTimeWords(t uint64) (uint32, uint32) {
	lo := uint32(t) & TimeMask
	hi := uint32(t>>TimeBits) & TimeMask
	return defining(TriggerTime) | lo, hi
}

// HitWord builds a TDC hit word.
func HitWord(group, ch uint32, edge bool, coarse uint32, twoNS bool, fine uint32) uint32 {
	w := defining(Hit) |
		(group<<shiftGroup)&GroupMask |
		(ch<<shiftChan)&ChanMask |
		(coarse<<shiftCoarse)&CoarseMask |
		fine&FineMask
	if edge {
		w |= EdgeMask
	}
	if twoNS {
		w |= TwoNSMask
	}
	return w
}

// FillerWord builds a filler word.
func FillerWord(slot uint32) uint32 {
	return defining(Filler) | (slot<<shiftSlot)&SlotMask
}

// Swap returns w with its bytes swapped.
func Swap(w uint32) uint32 {
	return bits.ReverseBytes32(w)
}
