// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/vftdc/tdc"
	"github.com/go-lpc/vftdc/vme"
	"github.com/go-lpc/vftdc/vme/vmesim"
	"github.com/spf13/cobra"
)

const (
	a24Size = 0x01000000
	a32Size = 0x00800000
	slotGap = 1 << 19
)

// crateFlags describes how to reach the boards of a crate.
type crateFlags struct {
	dev     string
	slots   []int
	a32     uint32
	swap    bool
	verbose bool

	trigs int // number of triggers sent to the simulated crate
}

func (c *crateFlags) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&c.dev, "dev", "", "device file of the VME bridge (empty: simulated crate)")
	flags.IntSliceVar(&c.slots, "slots", []int{3}, "slots of the vfTDC boards")
	flags.Uint32Var(&c.a32, "a32-base", 0x08000000, "VME A32 base address of the first board")
	flags.BoolVar(&c.swap, "swap", false, "byte-swap data words")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose mode")
	flags.IntVar(&c.trigs, "sim-triggers", 0, "number of triggers sent to the simulated crate")
}

// crate is an opened crate of vfTDC boards.
type crate struct {
	reg *tdc.Registry
	sim *vmesim.Crate
	bus io.Closer
}

func (c *crate) Close() error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Close()
}

// open binds the boards of the crate.
// Boards are only configured when configure is true.
func (c *crateFlags) open(w io.Writer, configure bool) (*crate, error) {
	if len(c.slots) == 0 {
		return nil, fmt.Errorf("no slot provided")
	}

	msg := log.New(io.Discard, "tdc: ", 0)
	if c.verbose {
		msg = log.New(w, "tdc: ", 0)
	}

	var (
		out   crate
		bus   vme.Bus
		addrs = make([]uint32, len(c.slots))
	)
	for i, slot := range c.slots {
		addrs[i] = uint32(slot) * slotGap
	}

	switch c.dev {
	case "":
		sim := vmesim.New()
		for _, slot := range c.slots {
			sim.Insert(slot, tdc.SupportedFirmware)
		}
		out.sim = sim
		bus = sim
		configure = true
	default:
		mem, err := vme.OpenMem(
			c.dev,
			vme.Window{AM: vme.A24, Base: 0, Size: a24Size},
			vme.Window{AM: vme.A32, Base: c.a32, Size: len(c.slots) * a32Size, Offset: a24Size},
		)
		if err != nil {
			return nil, fmt.Errorf("could not open VME bus: %w", err)
		}
		out.bus = mem
		bus = mem
	}

	out.reg = tdc.New(
		bus,
		tdc.WithLogger(msg),
		tdc.WithAddrList(addrs...),
		tdc.WithA32Base(c.a32),
		tdc.WithByteSwap(c.swap),
	)

	flags := tdc.InitUseAddrList
	if !configure {
		flags |= tdc.InitSkip
	}
	_, err := out.reg.Init(addrs[0], 0, 0, flags)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("could not initialize boards: %w", err)
	}

	if out.sim != nil && c.trigs > 0 {
		err = out.trigger(c.trigs)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
	}

	return &out, nil
}

// trigger sends n triggers to the simulated crate.
func (c *crate) trigger(n int) error {
	if c.sim == nil {
		return fmt.Errorf("triggers can only be sent to a simulated crate")
	}
	for _, slot := range c.reg.Slots() {
		err := c.reg.EnableTriggerSource(slot)
		if err != nil {
			return fmt.Errorf("could not enable trigger source of slot %d: %w", slot, err)
		}
	}
	for i := 0; i < n; i++ {
		c.sim.Trigger(uint64(i+1) * 1000)
	}
	return nil
}

func readoutMode(name string) (tdc.Mode, error) {
	switch name {
	case "pio":
		return tdc.ModePIO, nil
	case "dma":
		return tdc.ModeDMA, nil
	default:
		return 0, fmt.Errorf("invalid readout mode %q", name)
	}
}
