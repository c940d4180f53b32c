// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-lpc/vftdc/eformat"
	"go-hep.org/x/hep/lcio"
)

func newBlock(slot, block, nevts uint32) []uint32 {
	words := []uint32{eformat.BlockHeaderWord(slot, 0, block, nevts)}
	for i := uint32(0); i < nevts; i++ {
		evt := block*nevts + i + 1
		words = append(words, eformat.EventHeaderWord(slot, evt))
		lo, hi := eformat.TriggerTimeWords(0x123456789a + uint64(evt))
		words = append(words, lo, hi)
		words = append(words, eformat.HitWord(1, i%16, true, 100+i, false, i))
	}
	return append(words, eformat.BlockTrailerWord(slot, uint32(len(words)+1)))
}

func TestRoundTrip(t *testing.T) {
	const run = 63

	var (
		tmp   = t.TempDir()
		msg   = log.New(io.Discard, "", 0)
		fname = filepath.Join(tmp, "run.raw")
		oname = filepath.Join(tmp, "run.lcio")
		rname = filepath.Join(tmp, "run-rt.raw")
	)

	want := [][]uint32{
		newBlock(3, 0, 2),
		newBlock(3, 1, 2),
		newBlock(3, 2, 2),
	}

	{
		f, err := os.Create(fname)
		if err != nil {
			t.Fatalf("could not create raw file: %+v", err)
		}
		defer f.Close()

		w := eformat.NewWriter(f)
		for _, blk := range want {
			_ = w.WriteBlock(blk)
			// DMA transfers may leave a filler word between blocks.
			_ = w.WriteBlock([]uint32{eformat.FillerWord(3)})
		}
		err = w.Flush()
		if err != nil {
			t.Fatalf("could not flush raw file: %+v", err)
		}
		err = f.Close()
		if err != nil {
			t.Fatalf("could not close raw file: %+v", err)
		}
	}

	{
		f, err := os.Open(fname)
		if err != nil {
			t.Fatalf("could not open raw file: %+v", err)
		}
		defer f.Close()

		lw, err := lcio.Create(oname)
		if err != nil {
			t.Fatalf("could not create LCIO file: %+v", err)
		}
		defer lw.Close()

		err = Raw2LCIO(lw, eformat.NewReader(f), run, 1, msg)
		if err != nil {
			t.Fatalf("could not convert to LCIO: %+v", err)
		}
		err = lw.Close()
		if err != nil {
			t.Fatalf("could not close LCIO file: %+v", err)
		}
	}

	{
		lr, err := lcio.Open(oname)
		if err != nil {
			t.Fatalf("could not open LCIO file: %+v", err)
		}
		defer lr.Close()

		i := 0
		for lr.Next() {
			evt := lr.Event()
			if got, want := evt.RunNumber, int32(run); got != want {
				t.Fatalf("invalid run number: got=%d, want=%d", got, want)
			}
			if got, want := evt.EventNumber, int32(2*i+1); got != want {
				t.Fatalf("invalid event number: got=%d, want=%d", got, want)
			}
			if got, want := evt.TimeStamp, int64(0x123456789a+2*i+1); got != want {
				t.Fatalf("invalid time stamp: got=0x%x, want=0x%x", got, want)
			}
			i++
		}
		if i != len(want) {
			t.Fatalf("invalid number of LCIO events: got=%d, want=%d", i, len(want))
		}
	}

	{
		lr, err := lcio.Open(oname)
		if err != nil {
			t.Fatalf("could not open LCIO file: %+v", err)
		}
		defer lr.Close()

		f, err := os.Create(rname)
		if err != nil {
			t.Fatalf("could not create raw file: %+v", err)
		}
		defer f.Close()

		err = LCIO2Raw(f, lr, 1, msg)
		if err != nil {
			t.Fatalf("could not convert to raw: %+v", err)
		}
		err = f.Close()
		if err != nil {
			t.Fatalf("could not close raw file: %+v", err)
		}
	}

	f, err := os.Open(rname)
	if err != nil {
		t.Fatalf("could not open raw file: %+v", err)
	}
	defer f.Close()

	var (
		got [][]uint32
		r   = eformat.NewReader(f)
	)
	for {
		blk, err := r.ReadBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("could not read block: %+v", err)
		}
		got = append(got, blk)
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round-trip failed:\ngot= %x\nwant=%x", got, want)
	}
}
