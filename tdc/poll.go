// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"fmt"
	"time"

	"github.com/go-lpc/vftdc/tdc/internal/regs"
	"github.com/go-lpc/vftdc/vme"
)

type intState struct {
	mode   IntMode
	vec    uint32
	lvl    uint32
	period time.Duration

	handler Handler
	ack     Handler

	running bool
	slot    int
	irq     bool   // whether the interrupt routine is connected to the bus
	irqVec  uint32 // vector the interrupt routine is connected with

	nint uint64
	nack uint64

	stop chan struct{}
	done chan struct{}
}

// IntConnect connects a handler to the block-ready condition, either
// detected by polling or by VME interrupts.
// A vector outside of ]0x40, 0xFF[ is replaced by the default one.
func (reg *Registry) IntConnect(vector uint32, h Handler) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.ints.running {
		return fmt.Errorf("tdc: could not connect handler: interrupts enabled")
	}

	reg.ints.nint = 0
	reg.ints.nack = 0
	switch {
	case 0x40 < vector && vector < 0xFF:
		reg.ints.vec = vector
	default:
		reg.ints.vec = defaultIntVec
	}
	reg.ints.handler = h

	reg.msg.Printf("interrupt vector = 0x%x, level = %d", reg.ints.vec, reg.ints.lvl)
	return nil
}

// AckConnect connects a handler replacing the default acknowledgement
// of blocks.
func (reg *Registry) AckConnect(h Handler) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if h == nil {
		return fmt.Errorf("tdc: invalid nil acknowledge handler")
	}
	reg.ints.ack = h
	return nil
}

// IntEnable starts the detection of block-ready conditions on the board
// in slot and enables its trigger sources.
// Interrupt and acknowledge counters are reset when resetCounts is true.
func (reg *Registry) IntEnable(slot int, mode IntMode, resetCounts bool) error {
	err := reg.intEnable(slot, mode, resetCounts)
	if err != nil {
		return err
	}

	reg.sleep(settleDelay)
	return reg.EnableTriggerSource(slot)
}

func (reg *Registry) intEnable(slot int, mode IntMode, resetCounts bool) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	brd, err := reg.board(slot)
	if err != nil {
		return err
	}

	if reg.ints.running {
		return fmt.Errorf("tdc: interrupts already enabled (slot=%d)", reg.ints.slot)
	}

	if resetCounts {
		reg.ints.nint = 0
		reg.ints.nack = 0
	}

	var (
		stop chan struct{}
		done chan struct{}
	)
	switch mode {
	case IntPoll:
		brd.regs.intSetup.w(reg.ints.lvl<<regs.SHIFT_INTSETUP_LEVEL | reg.ints.vec)
		stop = make(chan struct{})
		done = make(chan struct{})

	case IntInterrupt:
		intr, ok := reg.bus.(vme.Interrupter)
		if !ok {
			return fmt.Errorf("tdc: could not enable interrupts on bus %T: %w", reg.bus, ErrUnsupported)
		}
		if reg.ints.irq && reg.ints.irqVec != reg.ints.vec {
			err = intr.IntDisconnect(reg.ints.lvl)
			if err != nil {
				return fmt.Errorf("tdc: could not disconnect interrupt routine: %w", err)
			}
			reg.ints.irq = false
		}
		if !reg.ints.irq {
			err = intr.IntConnect(reg.ints.lvl, reg.ints.vec, reg.interrupt)
			if err != nil {
				return fmt.Errorf("tdc: could not connect interrupt routine: %w", err)
			}
			reg.ints.irq = true
			reg.ints.irqVec = reg.ints.vec
		}
		reg.msg.Printf("enabling interrupts (slot=%d)", slot)
		brd.regs.intSetup.w(
			reg.ints.lvl<<regs.SHIFT_INTSETUP_LEVEL | reg.ints.vec | regs.INTSETUP_ENABLE,
		)

	default:
		return fmt.Errorf("tdc: invalid interrupt mode %v: %w", mode, ErrUnsupported)
	}

	brd.regs.runningMode.w(regs.RUNNINGMODE_TRIGGER)
	err = brd.flush()
	if err != nil {
		return fmt.Errorf("tdc: could not enable interrupts: %w", err)
	}

	reg.ints.mode = mode
	reg.ints.slot = slot
	reg.ints.running = true
	reg.ints.stop = stop
	reg.ints.done = done

	if mode == IntPoll {
		go reg.poll(slot, reg.ints.period, stop, done)
	}
	return nil
}

// IntDisable disables the trigger sources of the board in slot and
// stops the detection of block-ready conditions.
// IntDisable returns once the polling goroutine, if any, has exited.
func (reg *Registry) IntDisable(slot int) error {
	err := reg.checkIntSlot(slot)
	if err != nil {
		return err
	}

	err = reg.DisableTriggerSource(slot)
	if err != nil {
		return err
	}

	stop, done, err := reg.intDisable(slot)
	if stop != nil {
		close(stop)
		<-done
	}
	return err
}

func (reg *Registry) intDisable(slot int) (stop, done chan struct{}, err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	brd, err := reg.board(slot)
	if err != nil {
		return nil, nil, err
	}

	err = reg.intSlot(slot)
	if err != nil {
		return nil, nil, err
	}

	brd.regs.intSetup.clear(regs.INTSETUP_ENABLE)
	brd.regs.runningMode.w(regs.RUNNINGMODE_DISABLE)

	stop = reg.ints.stop
	done = reg.ints.done
	reg.ints.running = false
	reg.ints.stop = nil
	reg.ints.done = nil

	err = brd.flush()
	if err != nil {
		err = fmt.Errorf("tdc: could not disable interrupts: %w", err)
	}
	return stop, done, err
}

func (reg *Registry) checkIntSlot(slot int) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.intSlot(slot)
}

// intSlot checks interrupts are not enabled for another board than slot.
// intSlot must be called with the registry lock held.
func (reg *Registry) intSlot(slot int) error {
	if reg.ints.running && slot != reg.ints.slot {
		return fmt.Errorf("tdc: could not disable interrupts in slot %d: enabled in slot %d", slot, reg.ints.slot)
	}
	return nil
}

// IntDisconnect disconnects the interrupt routine from the bus.
// Interrupts must have been disabled first.
func (reg *Registry) IntDisconnect() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.ints.running {
		return fmt.Errorf("tdc: could not disconnect interrupts: interrupts enabled (slot=%d)", reg.ints.slot)
	}

	if !reg.ints.irq {
		return nil
	}

	intr, ok := reg.bus.(vme.Interrupter)
	if !ok {
		return fmt.Errorf("tdc: could not disconnect interrupts on bus %T: %w", reg.bus, ErrUnsupported)
	}
	err := intr.IntDisconnect(reg.ints.lvl)
	if err != nil {
		return fmt.Errorf("tdc: could not disconnect interrupt routine: %w", err)
	}
	reg.ints.irq = false
	return nil
}

// IntAck acknowledges the readout of a block of the board in slot,
// releasing its busy state.
// The handler set with AckConnect, if any, is called instead.
func (reg *Registry) IntAck(slot int) error {
	if ack := reg.ackHandler(); ack != nil {
		ack(slot)
		return nil
	}

	return reg.do(slot, "acknowledge block", func(brd *Board) error {
		reg.ints.nack++
		brd.regs.reset.w(regs.RESET_BUSYACK | regs.RESET_BLOCK_READOUT)
		return nil
	})
}

func (reg *Registry) ackHandler() Handler {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.ints.ack
}

// IntCount returns the number of block-ready conditions handled.
func (reg *Registry) IntCount() uint64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.ints.nint
}

// AckCount returns the number of blocks acknowledged.
func (reg *Registry) AckCount() uint64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.ints.nack
}

// poll polls the blocks-ready register of the board in slot until stop
// is closed.
func (reg *Registry) poll(slot int, period time.Duration, stop, done chan struct{}) {
	defer close(done)

	tick := time.NewTicker(period)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := reg.BReady(slot)
		if err != nil {
			if reg.lim.Allow() {
				reg.msg.Printf("ERROR: could not poll slot %d: %+v", slot, err)
			}
		}

		if n == 0 {
			select {
			case <-stop:
				return
			case <-tick.C:
			}
			continue
		}

		reg.trigger(slot)
	}
}

// interrupt is the routine connected to the bus.
// It serves the board interrupts are currently enabled for.
func (reg *Registry) interrupt() {
	reg.mu.Lock()
	slot, running := reg.ints.slot, reg.ints.running
	reg.mu.Unlock()

	if !running {
		return
	}
	reg.trigger(slot)
}

// trigger runs the user handler and acknowledges the block.
// trigger must be called without the registry lock held.
func (reg *Registry) trigger(slot int) {
	if h := reg.intHandler(); h != nil {
		h(slot)
	}

	err := reg.IntAck(slot)
	if err != nil && reg.lim.Allow() {
		reg.msg.Printf("ERROR: could not acknowledge block (slot=%d): %+v", slot, err)
	}
}

func (reg *Registry) intHandler() Handler {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.ints.nint++
	return reg.ints.handler
}
