// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq implements a TDAQ run-control server reading out a crate
// of vfTDC boards.
package daq // import "github.com/go-lpc/vftdc/daq"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-daq/tdaq"
	"github.com/go-lpc/vftdc/conddb"
	"github.com/go-lpc/vftdc/eformat"
	"github.com/go-lpc/vftdc/internal/runstore"
	"github.com/go-lpc/vftdc/tdc"
	"github.com/go-lpc/vftdc/vme"
	"github.com/go-lpc/vftdc/vme/vmesim"
)

const (
	a24Size  = 0x01000000
	a32Size  = 0x00800000 // size of the A32 window of a board
	slotGap  = 1 << 19    // A24 address space of a slot
	dataSize = 64         // number of encoded blocks queued for /blocks
)

// Server drives the readout of a crate of vfTDC boards.
type Server struct {
	fname string // run configuration file
	msg   *log.Logger

	open func(name string) (*conddb.DB, error) // opens the conditions db

	cfg   Config
	mode  tdc.Mode
	bus   vme.Bus
	sim   *vmesim.Crate
	reg   *tdc.Registry
	db    *conddb.DB
	store *runstore.Store

	mu   sync.Mutex
	f    *os.File
	w    *eformat.Writer
	sum  runstore.Summary
	buf  []uint32
	data chan []byte
}

// New creates a new server, configured from the named YAML file.
func New(fname string, msg *log.Logger) *Server {
	if msg == nil {
		msg = log.New(os.Stdout, "daq: ", 0)
	}
	return &Server{
		fname: fname,
		msg:   msg,
		open:  conddb.Open,
		data:  make(chan []byte, dataSize),
	}
}

// Register installs the server handlers on the provided TDAQ server.
func (srv *Server) Register(s *tdaq.Server) {
	s.CmdHandle("/config", srv.OnConfig)
	s.CmdHandle("/init", srv.OnInit)
	s.CmdHandle("/reset", srv.OnReset)
	s.CmdHandle("/start", srv.OnStart)
	s.CmdHandle("/stop", srv.OnStop)
	s.CmdHandle("/quit", srv.OnQuit)

	s.OutputHandle("/blocks", srv.blocks)

	s.RunHandle(srv.run)
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.configure(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not configure: %+v", err)
		return err
	}
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.initialize()
	if err != nil {
		ctx.Msg.Errorf("could not initialize: %+v", err)
		return err
	}
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := srv.reset()
	if err != nil {
		ctx.Msg.Errorf("could not reset: %+v", err)
		return err
	}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := srv.start(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not start run: %+v", err)
		return err
	}
	ctx.Msg.Infof("run %d started", srv.cfg.Run)
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	sum, err := srv.stop(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not stop run: %+v", err)
		return err
	}
	ctx.Msg.Infof("run %d stopped: blocks=%d, events=%d", sum.Run, sum.Blocks, sum.Events)
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := srv.close()
	if err != nil {
		ctx.Msg.Errorf("could not quit: %+v", err)
		return err
	}
	return nil
}

func (srv *Server) blocks(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

func (srv *Server) run(ctx tdaq.Context) error {
	srv.simulate(ctx.Ctx)
	return nil
}

// simulate drives the triggers of the simulated crate, if any, until
// ctx is done.
func (srv *Server) simulate(ctx context.Context) {
	if srv.sim == nil {
		<-ctx.Done()
		return
	}

	tck := time.NewTicker(srv.cfg.Sim.Period)
	defer tck.Stop()

	t0 := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tck.C:
			// trigger times are counted in 4ns ticks.
			srv.sim.Trigger(uint64(now.Sub(t0) / 4))
		}
	}
}

func (srv *Server) configure(ctx context.Context) error {
	cfg, err := LoadConfig(srv.fname)
	if err != nil {
		return err
	}

	if cfg.DB != "" {
		if srv.db != nil {
			_ = srv.db.Close()
			srv.db = nil
		}
		db, err := srv.open(cfg.DB)
		if err != nil {
			return fmt.Errorf("daq: could not open conditions db: %w", err)
		}
		srv.db = db

		err = srv.loadConditions(ctx, &cfg)
		if err != nil {
			return err
		}
	}

	mode, err := readoutMode(cfg.Readout)
	if err != nil {
		return err
	}

	srv.cfg = cfg
	srv.mode = mode
	srv.buf = make([]uint32, cfg.MaxWords+1)
	srv.msg.Printf("configured run %d with %d boards (slots=%v)", cfg.Run, len(cfg.Boards), cfg.slots())
	return nil
}

func (srv *Server) loadConditions(ctx context.Context, cfg *Config) error {
	if cfg.CrateConfig == "" {
		name, err := srv.db.LastCrateConfig(ctx)
		if err != nil {
			return fmt.Errorf("daq: could not find crate configuration: %w", err)
		}
		cfg.CrateConfig = name
	}

	brds, err := srv.db.BoardConfig(ctx, cfg.CrateConfig)
	if err != nil {
		return fmt.Errorf("daq: could not load crate configuration %q: %w", cfg.CrateConfig, err)
	}

	err = cfg.merge(brds)
	if err != nil {
		return err
	}

	if cfg.Run == 0 {
		last, err := srv.db.LastRunNumber(ctx)
		if err != nil {
			return fmt.Errorf("daq: could not find last run number: %w", err)
		}
		cfg.Run = last + 1
	}
	return nil
}

func (srv *Server) initialize() error {
	if len(srv.cfg.Boards) == 0 {
		return fmt.Errorf("daq: server not configured")
	}

	// the registry is published once boards and run store are ready.
	reg := srv.registry()
	if reg == nil {
		err := srv.openBus()
		if err != nil {
			return err
		}

		addrs := make([]uint32, len(srv.cfg.Boards))
		for i, brd := range srv.cfg.Boards {
			addrs[i] = uint32(brd.Slot) * slotGap
		}
		reg = tdc.New(
			srv.bus,
			tdc.WithLogger(srv.msg),
			tdc.WithAddrList(addrs...),
			tdc.WithA32Base(srv.cfg.A32Base),
			tdc.WithPollInterval(srv.cfg.Poll),
		)
		_, err = reg.Init(addrs[0], 0, 0, tdc.InitUseAddrList|tdc.InitVMETrig|tdc.InitIntClock)
		if err != nil {
			return fmt.Errorf("daq: could not initialize boards: %w", err)
		}
	}

	for _, brd := range srv.cfg.Boards {
		err := brd.configure(reg)
		if err != nil {
			return err
		}
	}

	if srv.store == nil {
		fname := srv.cfg.Store
		if !filepath.IsAbs(fname) {
			fname = filepath.Join(srv.cfg.Dir, fname)
		}
		store, err := runstore.Open(fname)
		if err != nil {
			return fmt.Errorf("daq: could not open run store: %w", err)
		}
		srv.store = store
	}

	srv.mu.Lock()
	srv.reg = reg
	srv.mu.Unlock()

	return nil
}

func (srv *Server) openBus() error {
	if c, ok := srv.bus.(io.Closer); ok {
		_ = c.Close()
	}

	if srv.cfg.Device == "" {
		crate := vmesim.New()
		for _, brd := range srv.cfg.Boards {
			crate.Insert(brd.Slot, srv.cfg.Sim.Firmware)
		}
		srv.sim = crate
		srv.bus = crate
		return nil
	}

	bus, err := vme.OpenMem(
		srv.cfg.Device,
		vme.Window{AM: vme.A24, Base: 0, Size: a24Size, Offset: 0},
		vme.Window{
			AM:     vme.A32,
			Base:   srv.cfg.A32Base,
			Size:   len(srv.cfg.Boards) * a32Size,
			Offset: a24Size,
		},
	)
	if err != nil {
		return fmt.Errorf("daq: could not open VME bus: %w", err)
	}
	srv.bus = bus
	return nil
}

func (srv *Server) reset() error {
	if srv.reg == nil {
		return nil
	}

	for _, slot := range srv.reg.Slots() {
		err := srv.reg.SyncReset(slot)
		if err != nil {
			return fmt.Errorf("daq: could not reset slot %d: %w", slot, err)
		}
		err = srv.reg.ResetEventCounter(slot)
		if err != nil {
			return fmt.Errorf("daq: could not reset event counter of slot %d: %w", slot, err)
		}
	}
	srv.reg.ClearBlockError()
	return nil
}

func (srv *Server) start(ctx context.Context) error {
	if srv.reg == nil || srv.store == nil {
		return fmt.Errorf("daq: server not initialized")
	}

	fname := filepath.Join(srv.cfg.Dir, fmt.Sprintf("vftdc_run_%06d.raw", srv.cfg.Run))
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("daq: could not create output file: %w", err)
	}

	slots := srv.reg.Slots()

	srv.mu.Lock()
	srv.f = f
	srv.w = eformat.NewWriter(f)
	srv.sum = runstore.Summary{
		Run:         srv.cfg.Run,
		Config:      srv.cfg.CrateConfig,
		Slots:       slots,
		Start:       time.Now().UTC(),
		BlockErrors: make(map[string]int),
	}
	srv.mu.Unlock()

	if srv.db != nil {
		err = srv.db.StartRun(ctx, conddb.Run{
			Number: srv.cfg.Run,
			Config: srv.cfg.CrateConfig,
			Slots:  srv.reg.SlotMask(),
			Start:  srv.sum.Start,
		})
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("daq: could not record run start: %w", err)
		}
	}

	err = srv.reg.IntConnect(0, srv.readout)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("daq: could not connect readout: %w", err)
	}

	for _, slot := range slots[1:] {
		err = srv.reg.EnableTriggerSource(slot)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("daq: could not enable triggers of slot %d: %w", slot, err)
		}
	}

	err = srv.reg.IntEnable(slots[0], tdc.IntPoll, true)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("daq: could not enable block polling: %w", err)
	}

	return nil
}

func (srv *Server) stop(ctx context.Context) (runstore.Summary, error) {
	if srv.reg == nil || srv.store == nil {
		return runstore.Summary{}, fmt.Errorf("daq: server not initialized")
	}

	slots := srv.reg.Slots()
	err := srv.reg.IntDisable(slots[0])
	if err != nil {
		return runstore.Summary{}, fmt.Errorf("daq: could not disable block polling: %w", err)
	}
	for _, slot := range slots[1:] {
		err = srv.reg.DisableTriggerSource(slot)
		if err != nil {
			return runstore.Summary{}, fmt.Errorf("daq: could not disable triggers of slot %d: %w", slot, err)
		}
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.sum.Stop = time.Now().UTC()
	sum := srv.sum

	if srv.f != nil {
		err = srv.w.Flush()
		if err != nil {
			_ = srv.f.Close()
			return sum, fmt.Errorf("daq: could not flush output file: %w", err)
		}
		err = srv.f.Close()
		if err != nil {
			return sum, fmt.Errorf("daq: could not close output file: %w", err)
		}
		srv.f = nil
		srv.w = nil
	}

	err = srv.store.Put(sum)
	if err != nil {
		return sum, fmt.Errorf("daq: could not store run summary: %w", err)
	}

	if srv.db != nil {
		err = srv.db.StopRun(ctx, conddb.Run{
			Number: sum.Run,
			Stop:   sum.Stop,
			Blocks: sum.Blocks,
			Events: sum.Events,
		})
		if err != nil {
			return sum, fmt.Errorf("daq: could not record run stop: %w", err)
		}
	}

	return sum, nil
}

func (srv *Server) close() error {
	var errs []error
	if srv.store != nil {
		errs = append(errs, srv.store.Close())
		srv.store = nil
	}
	if srv.db != nil {
		errs = append(errs, srv.db.Close())
		srv.db = nil
	}
	if c, ok := srv.bus.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	srv.bus = nil
	srv.sim = nil

	srv.mu.Lock()
	srv.reg = nil
	srv.mu.Unlock()

	return errors.Join(errs...)
}

// registry returns the registry of the initialized boards, if any.
func (srv *Server) registry() *tdc.Registry {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.reg
}

// Summary returns the summary of the current, or last, run.
func (srv *Server) Summary() runstore.Summary {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.sum
}

// readout reads a block out of every board, once blocks are ready in slot.
func (srv *Server) readout(slot int) {
	for _, s := range srv.reg.Slots() {
		if s != slot {
			err := srv.wait(s)
			if err != nil {
				srv.msg.Printf("no block ready in slot %d: %+v", s, err)
				continue
			}
		}

		n, err := srv.reg.ReadBlock(s, srv.buf, srv.cfg.MaxWords, srv.mode)
		if err != nil {
			srv.msg.Printf("could not read block from slot %d: %+v", s, err)
			continue
		}
		srv.record(srv.buf[:n], srv.reg.ClearBlockError())
	}
}

// wait waits for a block to be ready in slot.
func (srv *Server) wait(slot int) error {
	op := func() error {
		n, err := srv.reg.BReady(slot)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("daq: no block ready in slot %d", slot)
		}
		return nil
	}

	bkoff := backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     srv.cfg.Poll,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         10 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Clock:               backoff.SystemClock,
	}, uint64(srv.cfg.Retries))

	return backoff.Retry(op, bkoff)
}

func (srv *Server) record(words []uint32, berr tdc.BlockError) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.w == nil {
		return
	}

	srv.sum.Blocks++
	srv.sum.Words += uint64(len(words))
	srv.sum.Events += uint64(nevents(words))
	if berr != tdc.BlockErrNone {
		srv.sum.BlockErrors[berr.String()]++
	}

	err := srv.w.WriteBlock(words)
	if err != nil {
		srv.msg.Printf("could not write block: %+v", err)
	}

	raw := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[4*i:], w)
	}
	select {
	case srv.data <- raw:
	default:
		// no consumer.
	}
}

// nevents returns the number of events in a block.
func nevents(words []uint32) uint32 {
	for _, w := range words {
		if eformat.IsType(w, eformat.Filler) {
			continue
		}
		if eformat.IsType(w, eformat.BlockHeader) {
			return w & eformat.EvtCountMask
		}
		break
	}
	return 0
}
