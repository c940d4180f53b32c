// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// lcio-dump decodes and displays vfTDC data embedded in LCIO files.
//
// Usage: lcio-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> lcio-dump ./testdata/vftdc_run_000063.lcio
//	=== block #0 (slot=7, words=6) ===
//	[...]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/vftdc/eformat"
	"github.com/go-lpc/vftdc/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

const usage = `lcio-dump decodes and displays vfTDC data embedded in LCIO files.

Usage: lcio-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> lcio-dump ./testdata/vftdc_run_000063.lcio
 === block #0 (slot=7, words=6) ===
 [...]

`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("lcio-dump: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("lcio", flag.ExitOnError)

		hdr = fset.Bool("headers", false, "only display block headers")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input LCIO file")
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, *hdr)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, headers bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	rp, wp := io.Pipe()
	defer rp.Close()
	defer wp.Close()

	msg := log.New(io.Discard, "", 0)
	ch := make(chan error, 1)
	go func() {
		defer wp.Close()
		ch <- xcnv.LCIO2Raw(wp, r, 100, msg)
	}()

	var (
		dec = eformat.NewDecoder()
		raw = eformat.NewReader(rp)
	)

loop:
	for i := 0; ; i++ {
		blk, err := raw.ReadBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode block %d: %w", i, err)
		}

		dec.Reset()
		rec := dec.Decode(blk[0])
		fmt.Fprintf(wbuf, "=== block #%d (slot=%d, words=%d) ===\n", i, rec.Slot, len(blk))
		if headers {
			fmt.Fprintf(wbuf, "%s\n", rec)
			continue
		}
		err = eformat.Fprint(wbuf, blk)
		if err != nil {
			return fmt.Errorf("could not display block %d: %w", i, err)
		}
	}

	err = <-ch
	if err != nil {
		return fmt.Errorf("could not extract vfTDC blocks: %w", err)
	}

	return nil
}
