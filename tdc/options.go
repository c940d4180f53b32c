// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"log"
	"sync"
	"time"
)

// Option configures a registry.
type Option func(reg *Registry)

// WithLogger sets the logger used to report warnings and diagnostics.
func WithLogger(msg *log.Logger) Option {
	return func(reg *Registry) {
		reg.msg = msg
	}
}

// WithLocker sets the lock serializing register transactions.
func WithLocker(mu sync.Locker) Option {
	return func(reg *Registry) {
		reg.mu = mu
	}
}

// WithA32Base sets the VME A32 address of the data FIFO of the first
// board. Boards bound by Init get consecutive 8MB windows from there.
func WithA32Base(base uint32) Option {
	return func(reg *Registry) {
		reg.a32Base = base
	}
}

// WithAddrList sets the A24 addresses of the boards to bind.
func WithAddrList(addrs ...uint32) Option {
	return func(reg *Registry) {
		reg.addrs = append([]uint32(nil), addrs...)
	}
}

// WithByteSwap configures whether data words need to be byte-swapped
// before being interpreted.
// Words stored in readout buffers are never swapped.
func WithByteSwap(swap bool) Option {
	return func(reg *Registry) {
		reg.swap = swap
	}
}

// WithTriggerSupervisor sets the crate trigger controller that
// broadcasts the block level to all the boards.
func WithTriggerSupervisor(ts TriggerSupervisor) Option {
	return func(reg *Registry) {
		reg.ts = ts
	}
}

// WithPollInterval sets the period between two checks of the
// blocks-ready register, when no block is available.
func WithPollInterval(d time.Duration) Option {
	return func(reg *Registry) {
		reg.ints.period = d
	}
}
