// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vftdc inspects and reads out vfTDC boards.
//
// Usage:
//
//	vftdc status [--json]
//	vftdc read   [--slot=N] [-n=blocks] [--mode=pio|dma] [-o=out.raw]
//	vftdc decode file.raw
//	vftdc shell
//
// Without a --dev device file, commands run against a simulated crate.
package main // import "github.com/go-lpc/vftdc/cmd/vftdc"

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	log.SetPrefix("vftdc: ")
	log.SetFlags(0)

	err := newRootCmd(os.Stdout).Execute()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	crate := new(crateFlags)
	cmd := &cobra.Command{
		Use:           "vftdc",
		Short:         "Tool to inspect and read out vfTDC boards",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	crate.register(cmd)

	cmd.AddCommand(newStatusCmd(crate))
	cmd.AddCommand(newReadCmd(crate))
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newShellCmd(crate))
	cmd.AddCommand(newVersionCmd())
	return cmd
}
