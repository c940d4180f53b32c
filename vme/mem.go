// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vme

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/go-lpc/vftdc/internal/mmap"
)

// Window describes a VME address window mapped from a device file.
type Window struct {
	AM     AddrMod
	Base   uint32 // VME base address of the window
	Size   int    // size of the window, in bytes
	Offset int64  // offset of the window in the device file
}

func (w Window) contains(addr uint32) bool {
	return w.Base <= addr && uint64(addr) < uint64(w.Base)+uint64(w.Size)
}

// Mem is a Bus backed by memory-mapped windows of a device file, as
// exposed by the kernel module of a VME bridge.
//
// Local addresses are offsets into the device file.
// DMA transfers are performed as programmed copies out of the A32 window.
type Mem struct {
	mu  sync.Mutex
	f   *os.File
	win []Window
	hs  []*mmap.Handle

	dma struct {
		n   int
		err error
	}
}

// OpenMem maps the provided windows of the named device file.
// Words are exchanged in VME (big-endian) byte order.
func OpenMem(fname string, wins ...Window) (*Mem, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("vme: could not open %q: %w", fname, err)
	}

	bus := &Mem{f: f}
	for _, w := range wins {
		h, err := mmap.Map(f, w.Offset, w.Size, binary.BigEndian)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("vme: could not map %v window at 0x%08x: %w", w.AM, w.Base, err)
		}
		bus.win = append(bus.win, w)
		bus.hs = append(bus.hs, h)
	}

	return bus, nil
}

// Close unmaps all windows and closes the device file.
func (bus *Mem) Close() error {
	var err error
	for _, h := range bus.hs {
		e := h.Close()
		if e != nil && err == nil {
			err = e
		}
	}
	bus.hs = nil
	bus.win = nil

	if bus.f != nil {
		e := bus.f.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("vme: could not close device file: %w", e)
		}
		bus.f = nil
	}
	return err
}

func (bus *Mem) BusToLocal(am AddrMod, addr uint32) (uint64, error) {
	for _, w := range bus.win {
		if w.AM != am || !w.contains(addr) {
			continue
		}
		return uint64(w.Offset) + uint64(addr-w.Base), nil
	}
	return 0, fmt.Errorf("vme: %v address 0x%08x: %w", am, addr, ErrNoMapping)
}

func (bus *Mem) lookup(addr uint64) (*mmap.Handle, int64, error) {
	for i, w := range bus.win {
		beg := uint64(w.Offset)
		end := beg + uint64(w.Size)
		if beg <= addr && addr+4 <= end {
			return bus.hs[i], int64(addr - beg), nil
		}
	}
	return nil, 0, fmt.Errorf("vme: local address 0x%x: %w", addr, ErrBusError)
}

func (bus *Mem) Probe(addr uint64) (uint32, error) {
	return bus.Read32(addr)
}

func (bus *Mem) Read32(addr uint64) (uint32, error) {
	h, off, err := bus.lookup(addr)
	if err != nil {
		return 0, err
	}
	return h.Uint32At(off)
}

func (bus *Mem) Write32(addr uint64, v uint32) error {
	h, off, err := bus.lookup(addr)
	if err != nil {
		return err
	}
	return h.PutUint32At(off, v)
}

func (bus *Mem) DMASend(dst []uint32, vmeAddr uint32, nbytes int) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if nbytes < 0 || nbytes%4 != 0 {
		return fmt.Errorf("vme: invalid DMA length %d", nbytes)
	}

	laddr, err := bus.BusToLocal(A32, vmeAddr)
	if err != nil {
		return fmt.Errorf("vme: could not translate DMA source: %w", err)
	}

	n := nbytes / 4
	if n > len(dst) {
		n = len(dst)
	}

	// the transfer stops at the first cycle terminated by a bus error.
	bus.dma.n = 0
	bus.dma.err = nil
	for i := 0; i < n; i++ {
		v, err := bus.Read32(laddr + uint64(4*i))
		if err != nil {
			break
		}
		dst[i] = v
		bus.dma.n += 4
	}
	return nil
}

func (bus *Mem) DMADone() (int, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.dma.n, bus.dma.err
}

var (
	_ Bus = (*Mem)(nil)
)
