// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vme describes the access layer to a VME bus.
package vme // import "github.com/go-lpc/vftdc/vme"

import (
	"errors"
	"fmt"
)

// AddrMod is a VME address modifier.
type AddrMod uint8

const (
	A16 AddrMod = 0x29 // short supervisory access
	A24 AddrMod = 0x39 // standard non-privileged data access
	A32 AddrMod = 0x09 // extended non-privileged data access
)

func (am AddrMod) String() string {
	switch am {
	case A16:
		return "A16"
	case A24:
		return "A24"
	case A32:
		return "A32"
	default:
		return fmt.Sprintf("AM(0x%02x)", uint8(am))
	}
}

var (
	// ErrBusError is returned when a VME cycle was terminated by BERR.
	ErrBusError = errors.New("vme: bus error")

	// ErrNoMapping is returned when a bus address has no local mapping.
	ErrNoMapping = errors.New("vme: no local mapping")
)

// Bus is the narrow contract a VME crate controller exposes to board drivers.
//
// Local addresses are the ones returned by BusToLocal.
// Register accesses return words in host order.
type Bus interface {
	// BusToLocal translates a VME bus address in the given address space
	// into a local address.
	BusToLocal(am AddrMod, addr uint32) (uint64, error)

	// Probe reads a 32b word at the local address, reporting an error
	// if no board answers.
	Probe(addr uint64) (uint32, error)

	Read32(addr uint64) (uint32, error)
	Write32(addr uint64, v uint32) error

	// DMASend programs a block transfer of nbytes from the VME address
	// into dst. The transfer is started but not waited for.
	DMASend(dst []uint32, vmeAddr uint32, nbytes int) error

	// DMADone waits for the last DMA transfer to complete and returns
	// the number of bytes transferred.
	DMADone() (int, error)
}

// Interrupter is implemented by buses able to deliver VME interrupts.
type Interrupter interface {
	IntConnect(level, vector uint32, fn func()) error
	IntDisconnect(level uint32) error
}
