// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-lpc/vftdc/tdc"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newStatusCmd(crate *crateFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "display the status of the vfTDC boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := crate.open(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			if asJSON {
				return jsonStatus(cmd.OutOrStdout(), c.reg)
			}
			return status(cmd.OutOrStdout(), c.reg)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "display status as JSON")
	return cmd
}

// status collects the status of all boards concurrently and
// prints them in slot order.
func status(w io.Writer, reg *tdc.Registry) error {
	var (
		grp   errgroup.Group
		slots = reg.Slots()
		bufs  = make([]bytes.Buffer, len(slots))
	)
	for i := range slots {
		i := i
		grp.Go(func() error {
			return reg.Status(&bufs[i], slots[i])
		})
	}
	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not read boards status: %w", err)
	}

	for i := range bufs {
		_, err = w.Write(bufs[i].Bytes())
		if err != nil {
			return fmt.Errorf("could not write status of slot %d: %w", slots[i], err)
		}
	}
	return nil
}

func jsonStatus(w io.Writer, reg *tdc.Registry) error {
	var (
		grp    errgroup.Group
		slots  = reg.Slots()
		states = make([]tdc.State, len(slots))
	)
	for i := range slots {
		i := i
		grp.Go(func() error {
			var err error
			states[i], err = reg.State(slots[i])
			return err
		})
	}
	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not read boards state: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(states)
}
