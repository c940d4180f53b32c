// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/go-lpc/vftdc/eformat"
	"github.com/go-lpc/vftdc/tdc"
	"github.com/spf13/cobra"
)

func newReadCmd(crate *crateFlags) *cobra.Command {
	var (
		slot  int
		nblks int
		mode  string
		oname string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "read blocks of data from a vfTDC board",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := readoutMode(mode)
			if err != nil {
				return err
			}

			c, err := crate.open(cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer c.Close()

			if slot == 0 {
				slot = c.reg.Slots()[0]
			}

			out := cmd.OutOrStdout()
			switch oname {
			case "":
				return read(c.reg, slot, nblks, m, func(blk []uint32) error {
					return eformat.Fprint(out, blk)
				})
			default:
				f, err := os.Create(oname)
				if err != nil {
					return fmt.Errorf("could not create output file: %w", err)
				}
				defer f.Close()

				w := eformat.NewWriter(f)
				err = read(c.reg, slot, nblks, m, w.WriteBlock)
				if err != nil {
					return err
				}
				err = w.Flush()
				if err != nil {
					return fmt.Errorf("could not flush output file: %w", err)
				}
				err = f.Close()
				if err != nil {
					return fmt.Errorf("could not close output file: %w", err)
				}
				fmt.Fprintf(out, "wrote %d blocks to %q\n", nblks, oname)
				return nil
			}
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&slot, "slot", 0, "slot of the board to read out (default: first slot)")
	flags.IntVarP(&nblks, "nblocks", "n", 1, "number of blocks to read")
	flags.StringVar(&mode, "mode", "dma", "readout mode (pio|dma)")
	flags.StringVarP(&oname, "output", "o", "", "path to output raw file (default: print to stdout)")
	return cmd
}

// read reads n blocks from the board in slot and hands them to fct.
func read(reg *tdc.Registry, slot, n int, mode tdc.Mode, fct func(blk []uint32) error) error {
	buf := make([]uint32, tdc.DefaultMaxWords+1)
	for i := 0; i < n; i++ {
		nblks, err := reg.BReady(slot)
		if err != nil {
			return fmt.Errorf("could not read number of ready blocks: %w", err)
		}
		if nblks == 0 {
			return fmt.Errorf("no block ready in slot %d (read %d/%d)", slot, i, n)
		}

		nw, err := reg.ReadBlock(slot, buf, tdc.DefaultMaxWords, mode)
		if err != nil {
			return fmt.Errorf("could not read block %d: %w", i, err)
		}
		if berr := reg.ClearBlockError(); berr != tdc.BlockErrNone {
			return fmt.Errorf("could not read block %d: %v", i, berr)
		}

		err = fct(buf[:nw])
		if err != nil {
			return fmt.Errorf("could not process block %d: %w", i, err)
		}
	}
	return nil
}

