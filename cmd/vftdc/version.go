// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/go-lpc/vftdc"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "display the version of vftdc",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, sum := vftdc.Version()
			if version == "" {
				version = "(devel)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vftdc %s %s\n", version, sum)
			return nil
		},
	}
}
