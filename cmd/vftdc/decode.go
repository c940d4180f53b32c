// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-lpc/vftdc/eformat"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var nblks int
	cmd := &cobra.Command{
		Use:   "decode file.raw",
		Short: "decode and display the blocks of a raw vfTDC file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decode(cmd.OutOrStdout(), args[0], nblks)
		},
	}
	cmd.Flags().IntVarP(&nblks, "nblocks", "n", -1, "number of blocks to decode (-1: all)")
	return cmd
}

func decode(w io.Writer, fname string, nblks int) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open raw file: %w", err)
	}
	defer f.Close()

	r := eformat.NewReader(f)
	for i := 0; nblks < 0 || i < nblks; i++ {
		blk, err := r.ReadBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read block %d: %w", i, err)
		}
		fmt.Fprintf(w, "=== block #%d (words=%d) ===\n", i, len(blk))
		err = eformat.Fprint(w, blk)
		if err != nil {
			return fmt.Errorf("could not decode block %d: %w", i, err)
		}
	}
	return nil
}
