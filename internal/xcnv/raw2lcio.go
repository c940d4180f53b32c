// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/vftdc/eformat"
	"go-hep.org/x/hep/lcio"
)

// Raw2LCIO converts the raw vfTDC blocks read from r into LCIO events,
// one event per block.
func Raw2LCIO(w *lcio.Writer, r *eformat.Reader, run int32, freq int, msg *log.Logger) error {
	if freq <= 0 {
		freq = 100
	}

	var (
		dec = eformat.NewDecoder()
		raw = &lcio.GenericObject{
			Data: []lcio.GenericObjectData{
				{I32s: nil},
			},
		}
	)

loop:
	for i := 0; ; i++ {
		if i%freq == 0 {
			msg.Printf("processing block %d...", i)
		}
		blk, err := r.ReadBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not read vfTDC block %d: %w", i, err)
		}

		evtnum, tstamp, slot, nevts := summary(dec, blk)

		if i == 0 {
			err = w.WriteRunHeader(&lcio.RunHeader{
				RunNumber: run,
				Detector:  Detector,
				Descr:     "",
				Params: lcio.Params{
					Ints: map[string][]int32{
						"Slot":       {int32(slot)},
						"BlockLevel": {int32(nevts)},
					},
				},
			})
			if err != nil {
				return fmt.Errorf("could not write run header: %w", err)
			}
		}

		evt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(evtnum),
			TimeStamp:   int64(tstamp),
			Detector:    Detector,
		}
		raw.Data[0].I32s = i32sFrom(raw.Data[0].I32s, blk)
		evt.Add(Collection, raw)

		err = w.WriteEvent(&evt)
		if err != nil {
			return fmt.Errorf("could not write vfTDC event: %w", err)
		}
	}

	return nil
}

// summary returns the number of the first event of a block, its
// trigger time, the slot of the board and the number of events.
func summary(dec *eformat.Decoder, blk []uint32) (evtnum uint32, tstamp uint64, slot, nevts uint32) {
	var evtSeen, timeSeen bool

	dec.Reset()
	for _, v := range blk {
		rec := dec.Decode(v)
		switch {
		case rec.Err != nil:
			continue
		case rec.Type == eformat.BlockHeader && !rec.Cont:
			slot = rec.Slot
			nevts = rec.EventCount
		case rec.Type == eformat.EventHeader && !rec.Cont && !evtSeen:
			evtnum = rec.EventNumber
			evtSeen = true
		case rec.Type == eformat.TriggerTime && rec.TimeSlot == 2 && !timeSeen:
			tstamp = rec.Time
			timeSeen = true
		}
	}
	return evtnum, tstamp, slot, nevts
}

func i32sFrom(dst []int32, words []uint32) []int32 {
	dst = dst[:0]
	for _, v := range words {
		dst = append(dst, int32(v))
	}
	return dst
}
