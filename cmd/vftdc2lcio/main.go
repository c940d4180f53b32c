// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vftdc2lcio converts a vfTDC raw data file to an LCIO one.
package main // import "github.com/go-lpc/vftdc/cmd/vftdc2lcio"

import (
	"compress/flate"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/go-lpc/vftdc/eformat"
	"github.com/go-lpc/vftdc/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "vftdc2lcio: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "out.lcio", "path to output LCIO file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		freq  = flag.Int("freq", 1000, "block frequency of progress messages")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: vftdc2lcio [OPTIONS] file.raw

ex:
 $> vftdc2lcio -o out.lcio -lvl=9 ./vftdc_run_000042.raw

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input vfTDC raw file")
	}

	if *oname == "" {
		flag.Usage()
		msg.Fatalf("invalid output LCIO file name")
	}

	err := process(*oname, *compr, *freq, flag.Arg(0))
	if err != nil {
		msg.Fatalf("could not convert vfTDC file: %+v", err)
	}
}

func process(oname string, lvl, freq int, fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open vfTDC file: %w", err)
	}
	defer f.Close()

	run, err := runNbrFrom(fname)
	if err != nil {
		return fmt.Errorf("could not infer run from %q: %w", fname, err)
	}

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	err = xcnv.Raw2LCIO(w, eformat.NewReader(f), run, freq, msg)
	if err != nil {
		return fmt.Errorf("could not convert vfTDC to LCIO: %w", err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return nil
}

func runNbrFrom(fname string) (int32, error) {
	var (
		name = filepath.Base(fname)
		run  int32
	)
	_, err := fmt.Sscanf(name, "vftdc_run_%d.raw", &run)
	return run, err
}
