// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-lpc/vftdc/eformat"
	"github.com/go-lpc/vftdc/vme"
	"github.com/go-lpc/vftdc/vme/vmesim"
)

// spyBus records the bus transactions issued to a simulated crate.
type spyBus struct {
	*vmesim.Crate

	mu     sync.Mutex
	nops   int
	writes int

	onRead  func(addr uint64, v uint32) uint32
	dmaDone func() (int, error)

	lock *spyLock
	bad  int32 // number of transactions issued without the registry lock
}

func newSpyBus(crate *vmesim.Crate) *spyBus {
	return &spyBus{Crate: crate}
}

func (bus *spyBus) op(write bool) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nops++
	if write {
		bus.writes++
	}
	if bus.lock != nil && !bus.lock.held() {
		atomic.AddInt32(&bus.bad, 1)
	}
}

func (bus *spyBus) ops() (nops, writes int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.nops, bus.writes
}

func (bus *spyBus) Probe(addr uint64) (uint32, error) {
	bus.op(false)
	return bus.Crate.Probe(addr)
}

func (bus *spyBus) Read32(addr uint64) (uint32, error) {
	bus.op(false)
	v, err := bus.Crate.Read32(addr)
	if err == nil && bus.onRead != nil {
		v = bus.onRead(addr, v)
	}
	return v, err
}

func (bus *spyBus) Write32(addr uint64, v uint32) error {
	bus.op(true)
	return bus.Crate.Write32(addr, v)
}

func (bus *spyBus) DMASend(dst []uint32, vmeAddr uint32, nbytes int) error {
	bus.op(false)
	return bus.Crate.DMASend(dst, vmeAddr, nbytes)
}

func (bus *spyBus) DMADone() (int, error) {
	bus.op(false)
	if bus.dmaDone != nil {
		return bus.dmaDone()
	}
	return bus.Crate.DMADone()
}

// busOnly hides the interrupt capabilities of a bus.
type busOnly struct {
	vme.Bus
}

// spyLock is a mutex that knows whether it is held.
type spyLock struct {
	mu sync.Mutex
	v  int32
	n  int64
}

func (l *spyLock) Lock() {
	l.mu.Lock()
	atomic.StoreInt32(&l.v, 1)
	atomic.AddInt64(&l.n, 1)
}

func (l *spyLock) Unlock() {
	atomic.StoreInt32(&l.v, 0)
	l.mu.Unlock()
}

func (l *spyLock) held() bool { return atomic.LoadInt32(&l.v) == 1 }

type fakeSupervisor struct {
	levels []int
	err    error
}

func (ts *fakeSupervisor) BroadcastNextBlockLevel(level int) error {
	ts.levels = append(ts.levels, level)
	return ts.err
}

func a24(slot int) uint32 { return uint32(slot) << 19 }

// newTestRegistry creates a crate with boards in the provided slots and
// binds them to a new registry.
func newTestRegistry(t *testing.T, slots []int, opts ...Option) (*Registry, *spyBus) {
	t.Helper()

	crate := vmesim.New()
	addrs := make([]uint32, len(slots))
	for i, slot := range slots {
		crate.Insert(slot, SupportedFirmware)
		addrs[i] = a24(slot)
	}

	bus := newSpyBus(crate)
	opts = append([]Option{
		WithLogger(log.New(io.Discard, "tdc: ", 0)),
		WithAddrList(addrs...),
		WithPollInterval(time.Millisecond),
	}, opts...)
	reg := New(bus, opts...)
	reg.sleep = func(time.Duration) {}

	_, err := reg.Init(addrs[0], 0, 0, InitVMETrig|InitIntClock)
	if err != nil {
		t.Fatalf("could not initialize registry: %+v", err)
	}
	return reg, bus
}

// newBlock creates a block of nevts events, with nhits hits per event.
func newBlock(slot, block, nevts, nhits int) []uint32 {
	words := []uint32{
		eformat.BlockHeaderWord(uint32(slot), 0, uint32(block), uint32(nevts)),
	}
	for i := 0; i < nevts; i++ {
		evt := uint32(block*nevts + i + 1)
		words = append(words, eformat.EventHeaderWord(uint32(slot), evt))
		lo, hi := eformat.TriggerTimeWords(uint64(evt) * 1000)
		words = append(words, lo, hi)
		for j := 0; j < nhits; j++ {
			words = append(words, eformat.HitWord(
				uint32(j%2), uint32(j%16), j%3 == 0, uint32(j), false, uint32(j*3),
			))
		}
	}
	n := len(words) + 1
	words = append(words, eformat.BlockTrailerWord(uint32(slot), uint32(n)))
	return words
}
