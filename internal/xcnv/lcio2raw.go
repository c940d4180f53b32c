// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/vftdc/eformat"
	"go-hep.org/x/hep/lcio"
)

// LCIO2Raw extracts the raw vfTDC blocks stored in the LCIO events of r
// and writes them to w.
func LCIO2Raw(w io.Writer, r *lcio.Reader, freq int, msg *log.Logger) error {
	if freq <= 0 {
		freq = 100
	}

	var (
		enc = eformat.NewWriter(w)
		blk []uint32
		i   = 0
	)

	for r.Next() {
		if i%freq == 0 {
			msg.Printf("processing evt %d...", i)
		}
		evt := r.Event()
		obj, ok := evt.Get(Collection).(*lcio.GenericObject)
		if !ok || len(obj.Data) == 0 {
			return fmt.Errorf("could not find %q collection in evt %d", Collection, evt.EventNumber)
		}

		blk = blk[:0]
		for _, v := range obj.Data[0].I32s {
			blk = append(blk, uint32(v))
		}

		err := enc.WriteBlock(blk)
		if err != nil {
			return fmt.Errorf("could not write vfTDC block: %w", err)
		}
		i++
	}

	err := r.Err()
	if err != nil && err != io.EOF {
		return fmt.Errorf("could not read LCIO file: %w", err)
	}

	err = enc.Flush()
	if err != nil {
		return fmt.Errorf("could not flush vfTDC blocks: %w", err)
	}

	return nil
}
