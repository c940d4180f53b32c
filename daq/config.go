// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-lpc/vftdc/conddb"
	"github.com/go-lpc/vftdc/tdc"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

const (
	defaultTrigSrc = 1 << 4 // VME triggers
	defaultLatency = 0x40   // 256ns
	defaultWidth   = 0x20   // 128ns
)

// Config describes a data acquisition run.
type Config struct {
	Run uint32 `koanf:"run"` // run number. 0: next run number from conddb.
	Dir string `koanf:"dir"` // output directory

	// Device is the device file of the VME bridge.
	// An empty device selects the simulated crate.
	Device string `koanf:"device"`

	DB          string `koanf:"db"`          // name of the conditions database. empty: no database.
	CrateConfig string `koanf:"crateconfig"` // name of the crate configuration. empty: last one.
	Store       string `koanf:"store"`       // path to the run summaries store

	Readout  string        `koanf:"readout"`   // block readout mode (pio or dma)
	MaxWords int           `koanf:"max-words"` // maximum number of words per block
	Poll     time.Duration `koanf:"poll"`      // blocks-ready polling period
	Retries  int           `koanf:"retries"`   // block-ready checks of the other boards
	A32Base  uint32        `koanf:"a32-base"`

	Sim SimConfig `koanf:"sim"`

	Boards []BoardConfig `koanf:"boards"`
}

// SimConfig configures the simulated crate.
type SimConfig struct {
	Firmware uint8         `koanf:"firmware"`
	Period   time.Duration `koanf:"period"` // period of the simulated triggers
}

// BoardConfig is the configuration of a vfTDC board.
type BoardConfig struct {
	Slot       int    `koanf:"slot"`
	Clock      string `koanf:"clock"` // internal, external or vxs
	TrigSrc    uint32 `koanf:"trigsrc"`
	SyncSrc    uint32 `koanf:"syncsrc"`
	BusySrc    uint32 `koanf:"busysrc"`
	BlockLevel int    `koanf:"block-level"`
	Latency    int    `koanf:"latency"`
	Width      int    `koanf:"width"`
	ROCEnable  uint32 `koanf:"roc-enable"`
}

func defaultConfig() Config {
	return Config{
		Dir:      ".",
		Store:    "vftdc-runs.db",
		Readout:  "dma",
		MaxWords: tdc.DefaultMaxWords,
		Poll:     100 * time.Microsecond,
		Retries:  10,
		A32Base:  0x08000000,
		Sim: SimConfig{
			Firmware: tdc.SupportedFirmware,
			Period:   10 * time.Millisecond,
		},
	}
}

// LoadConfig loads a run configuration from the named YAML file.
// Missing values are set to their default.
func LoadConfig(fname string) (Config, error) {
	var (
		cfg Config
		k   = koanf.New(".")
	)

	err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err != nil {
		return cfg, fmt.Errorf("daq: could not load default configuration: %w", err)
	}

	err = k.Load(file.Provider(fname), yaml.Parser())
	if err != nil {
		return cfg, fmt.Errorf("daq: could not load configuration %q: %w", fname, err)
	}

	err = k.Unmarshal("", &cfg)
	if err != nil {
		return cfg, fmt.Errorf("daq: could not decode configuration %q: %w", fname, err)
	}

	err = cfg.validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if len(cfg.Boards) == 0 {
		return fmt.Errorf("daq: no board configured")
	}

	seen := make(map[int]bool, len(cfg.Boards))
	for i := range cfg.Boards {
		brd := &cfg.Boards[i]
		brd.defaults()
		if seen[brd.Slot] {
			return fmt.Errorf("daq: duplicate board in slot %d", brd.Slot)
		}
		seen[brd.Slot] = true
		if _, err := clockSource(brd.Clock); err != nil {
			return fmt.Errorf("daq: invalid board in slot %d: %w", brd.Slot, err)
		}
	}

	if _, err := readoutMode(cfg.Readout); err != nil {
		return err
	}

	sort.Slice(cfg.Boards, func(i, j int) bool {
		return cfg.Boards[i].Slot < cfg.Boards[j].Slot
	})
	return nil
}

// merge overrides the configuration of the boards with the ones stored
// in the conditions database.
// Boards only found in the database are added.
func (cfg *Config) merge(brds []conddb.Board) error {
	for _, db := range brds {
		brd := BoardConfig{
			Slot:       int(db.Slot),
			Clock:      tdc.ClockSource(db.Clock).String(),
			TrigSrc:    db.TrigSrc,
			SyncSrc:    db.SyncSrc,
			BusySrc:    db.BusySrc,
			BlockLevel: int(db.BlockLevel),
			Latency:    int(db.Latency),
			Width:      int(db.Width),
			ROCEnable:  uint32(db.ROCEnable),
		}
		i := cfg.index(brd.Slot)
		switch {
		case i < 0:
			cfg.Boards = append(cfg.Boards, brd)
		default:
			cfg.Boards[i] = brd
		}
	}
	return cfg.validate()
}

func (brd *BoardConfig) defaults() {
	if brd.TrigSrc == 0 {
		brd.TrigSrc = defaultTrigSrc
	}
	if brd.BlockLevel == 0 {
		brd.BlockLevel = 1
	}
	if brd.Latency == 0 {
		brd.Latency = defaultLatency
	}
	if brd.Width == 0 {
		brd.Width = defaultWidth
	}
}

func (cfg *Config) index(slot int) int {
	for i, brd := range cfg.Boards {
		if brd.Slot == slot {
			return i
		}
	}
	return -1
}

func (cfg *Config) slots() []int {
	slots := make([]int, len(cfg.Boards))
	for i, brd := range cfg.Boards {
		slots[i] = brd.Slot
	}
	return slots
}

func clockSource(name string) (tdc.ClockSource, error) {
	switch strings.ToLower(name) {
	case "", "internal":
		return tdc.ClockInternal, nil
	case "external":
		return tdc.ClockExternal, nil
	case "vxs":
		return tdc.ClockVXS, nil
	default:
		return 0, fmt.Errorf("daq: invalid clock source %q", name)
	}
}

func readoutMode(name string) (tdc.Mode, error) {
	switch strings.ToLower(name) {
	case "pio":
		return tdc.ModePIO, nil
	case "", "dma":
		return tdc.ModeDMA, nil
	default:
		return 0, fmt.Errorf("daq: invalid readout mode %q", name)
	}
}

// configure applies the board configuration to the registry.
func (brd BoardConfig) configure(reg *tdc.Registry) error {
	src, err := clockSource(brd.Clock)
	if err != nil {
		return err
	}

	for _, op := range []struct {
		name string
		f    func() error
	}{
		{"clock source", func() error { return reg.SetClockSource(brd.Slot, src) }},
		{"trigger source", func() error { return reg.SetTriggerSource(brd.Slot, brd.TrigSrc) }},
		{"sync source", func() error { return reg.SetSyncSource(brd.Slot, brd.SyncSrc) }},
		{"busy source", func() error { return reg.SetBusySource(brd.Slot, brd.BusySrc, false) }},
		{"block level", func() error { return reg.SetBlockLevel(brd.Slot, brd.BlockLevel) }},
		{"window", func() error { return reg.SetWindow(brd.Slot, brd.Latency, brd.Width) }},
		{"ROC enable", func() error { return reg.SetROCEnable(brd.Slot, brd.ROCEnable) }},
	} {
		err := op.f()
		if err != nil {
			return fmt.Errorf("daq: could not configure %s of slot %d: %w", op.name, brd.Slot, err)
		}
	}
	return nil
}
