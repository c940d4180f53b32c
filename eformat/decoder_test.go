// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eformat

import (
	"errors"
	"strings"
	"testing"
)

func TestWordType(t *testing.T) {
	for _, tc := range []struct {
		wt   WordType
		want string
	}{
		{BlockHeader, "BLOCK HEADER"},
		{BlockTrailer, "BLOCK TRAILER"},
		{EventHeader, "EVENT HEADER"},
		{TriggerTime, "TRIGGER TIME"},
		{Hit, "TDC HIT"},
		{DataNotValid, "DATA NOT VALID"},
		{Filler, "FILLER WORD"},
		{5, "UNDEFINED TYPE(5)"},
	} {
		t.Run(tc.want, func(t *testing.T) {
			if got, want := tc.wt.String(), tc.want; got != want {
				t.Fatalf("invalid stringer: got=%q, want=%q", got, want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	t0, _ := TriggerTimeWords(0x123456abcdef)

	for _, tc := range []struct {
		name string
		word uint32
		want Record
	}{
		{
			name: "block-header",
			word: BlockHeaderWord(14, 3, 0x2a1, 10),
			want: Record{Type: BlockHeader, Slot: 14, ModuleID: 3, BlockNumber: 0x2a1, EventCount: 10},
		},
		{
			name: "block-trailer",
			word: BlockTrailerWord(14, 42),
			want: Record{Type: BlockTrailer, Slot: 14, WordCount: 42},
		},
		{
			name: "event-header",
			word: EventHeaderWord(3, 0x3fffff),
			want: Record{Type: EventHeader, Slot: 3, EventNumber: 0x3fffff},
		},
		{
			name: "trigger-time",
			word: t0,
			want: Record{Type: TriggerTime, TimeSlot: 1, TimeHalf: 0xabcdef},
		},
		{
			name: "hit",
			word: HitWord(5, 31, true, 0x7ff, true, 0x3f),
			want: Record{Type: Hit, Group: 5, Chan: 31, Edge: 1, Coarse: 0x7ff, TwoNS: 1, Fine: 0x3f},
		},
		{
			name: "hit-leading",
			word: HitWord(1, 2, false, 3, false, 4),
			want: Record{Type: Hit, Group: 1, Chan: 2, Coarse: 3, Fine: 4},
		},
		{
			name: "filler",
			word: FillerWord(21),
			want: Record{Type: Filler, Slot: 21},
		},
		{
			name: "dnv",
			word: DefineMask | uint32(DataNotValid)<<27 | 7<<22,
			want: Record{Type: DataNotValid, Slot: 7},
		},
		{
			name: "reserved",
			word: DefineMask | 9<<27 | 0x1234,
			want: Record{Type: 9},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dec := NewDecoder()
			got := dec.Decode(tc.word)
			tc.want.Word = tc.word
			if got != tc.want {
				t.Fatalf("invalid record:\ngot= %+v\nwant=%+v", got, tc.want)
			}
			if got, want := dec.LastType, tc.want.Type; got != want {
				t.Fatalf("invalid last type: got=%v, want=%v", got, want)
			}
		})
	}

}

func TestDecodeTriggerTime(t *testing.T) {
	const tt = 0x123456abcdef
	w0, w1 := TriggerTimeWords(tt)
	if IsDefining(w1) {
		t.Fatalf("second trigger time word should be a continuation word: 0x%08x", w1)
	}

	dec := NewDecoder()
	r0 := dec.Decode(w0)
	if r0.Err != nil || r0.TimeSlot != 1 || r0.TimeHalf != 0xabcdef {
		t.Fatalf("invalid first half: %+v", r0)
	}
	if got, want := dec.LastTimeSlot, 1; got != want {
		t.Fatalf("invalid last time slot: got=%d, want=%d", got, want)
	}

	r1 := dec.Decode(w1)
	if r1.Err != nil {
		t.Fatalf("invalid second half: %+v", r1.Err)
	}
	if !r1.Cont || r1.Type != TriggerTime || r1.TimeSlot != 2 {
		t.Fatalf("invalid second half: %+v", r1)
	}
	if got, want := r1.TimeHalf, uint32(0x123456); got != want {
		t.Fatalf("invalid high half: got=0x%x, want=0x%x", got, want)
	}
	if got, want := r1.Time, uint64(tt); got != want {
		t.Fatalf("invalid trigger time: got=0x%x, want=0x%x", got, want)
	}

	// a third half is out of sequence.
	r2 := dec.Decode(w1)
	if !errors.Is(r2.Err, ErrTimeSequence) {
		t.Fatalf("invalid error: got=%v, want=%v", r2.Err, ErrTimeSequence)
	}

	// decoding continues after a protocol error.
	r3 := dec.Decode(w0)
	if r3.Err != nil || r3.TimeSlot != 1 {
		t.Fatalf("could not recover from protocol error: %+v", r3)
	}
}

func TestDecodeLoneContinuation(t *testing.T) {
	_, w1 := TriggerTimeWords(0x42)

	t.Run("fresh", func(t *testing.T) {
		dec := NewDecoder()
		rec := dec.Decode(w1)
		if !errors.Is(rec.Err, ErrContinuation) {
			t.Fatalf("invalid error: got=%v, want=%v", rec.Err, ErrContinuation)
		}
		if !rec.Cont || rec.Type != Filler {
			t.Fatalf("invalid record: %+v", rec)
		}
	})

	t.Run("after-hit", func(t *testing.T) {
		dec := NewDecoder()
		_ = dec.Decode(BlockHeaderWord(3, 0, 1, 1))
		dec.LastType = TriggerTime
		rec := dec.Decode(w1)
		if !errors.Is(rec.Err, ErrTimeSequence) {
			t.Fatalf("invalid error: got=%v, want=%v", rec.Err, ErrTimeSequence)
		}
	})

	t.Run("interleaved", func(t *testing.T) {
		w0, w1 := TriggerTimeWords(0x42)
		dec := NewDecoder()
		_ = dec.Decode(w0)
		_ = dec.Decode(HitWord(0, 1, false, 2, false, 3))
		dec.LastType = TriggerTime
		rec := dec.Decode(w1)
		if !errors.Is(rec.Err, ErrTimeSequence) {
			t.Fatalf("invalid error: got=%v, want=%v", rec.Err, ErrTimeSequence)
		}
	})
}

func TestDecoderReset(t *testing.T) {
	dec := NewDecoder()
	w0, _ := TriggerTimeWords(0x42)
	_ = dec.Decode(w0)
	dec.Reset()
	if dec.LastType != Filler || dec.LastTimeSlot != 0 {
		t.Fatalf("invalid reset decoder: %+v", dec)
	}
}

func TestSwap(t *testing.T) {
	if got, want := Swap(0x11223344), uint32(0x44332211); got != want {
		t.Fatalf("invalid swap: got=0x%08x, want=0x%08x", got, want)
	}
	w := BlockHeaderWord(14, 0, 1, 1)
	if got := Swap(Swap(w)); got != w {
		t.Fatalf("invalid double swap: got=0x%08x, want=0x%08x", got, w)
	}
}

func TestRecordString(t *testing.T) {
	dec := NewDecoder()
	w0, w1 := TriggerTimeWords(0x123456abcdef)
	for _, tc := range []struct {
		word uint32
		want string
	}{
		{BlockHeaderWord(14, 3, 1, 2), "BLOCK HEADER - Slot = 14  id = 3  blkNum = 1  nevts = 2"},
		{EventHeaderWord(14, 1), "EVENT HEADER - Slot = 14  evtnum = 1"},
		{w0, "TRIGGER TIME - time(1) = 0xabcdef"},
		{w1, "(cont) TRIGGER TIME - time(2) = 0x123456  time = 0x123456abcdef"},
		{w1, "**** ERROR: eformat: trigger time continuation out of sequence"},
		{HitWord(1, 2, true, 3, false, 4), "TDC HIT - grp = 1  ch =  2  edge = 1  coarse =    3  two_ns = 0  fine =  4"},
		{BlockTrailerWord(14, 6), "BLOCK TRAILER - Slot = 14  nwords = 6"},
		{FillerWord(14), "FILLER WORD - Slot = 14"},
	} {
		got := dec.Decode(tc.word).String()
		if !strings.Contains(got, tc.want) {
			t.Fatalf("invalid record string:\ngot= %q\nwant=%q", got, tc.want)
		}
	}
}
