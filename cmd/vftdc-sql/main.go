// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vftdc-sql inspects the vfTDC condition database.
package main // import "github.com/go-lpc/vftdc/cmd/vftdc-sql"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/go-lpc/vftdc/conddb"
)

func main() {
	log.SetPrefix("vftdc-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "vftdc", "name of the condition database")
		cfg    = flag.String("cfg", "", "crate config to inspect (default: last one)")
		slot   = flag.Int("slot", 0, "slot to inspect (default: all)")
	)

	flag.Parse()

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open vfTDC db: %+v", err)
	}
	defer db.Close()

	err = doQuery(db, *cfg, *slot)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(db *conddb.DB, crateConfig string, slot int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if crateConfig == "" {
		v, err := db.LastCrateConfig(ctx)
		if err != nil {
			return fmt.Errorf("could not get last crate config: %w", err)
		}
		crateConfig = v
	}
	log.Printf("cfg: %q", crateConfig)

	boards, err := db.BoardConfig(ctx, crateConfig)
	if err != nil {
		return fmt.Errorf("could not get board cfg (cfg=%q): %w", crateConfig, err)
	}
	log.Printf("boards: %d", len(boards))
	for _, brd := range boards {
		if slot != 0 && int(brd.Slot) != slot {
			continue
		}
		log.Printf(
			">>> slot=%02d, a24=0x%06x, clock=%d, trig=0x%x, sync=0x%x, busy=0x%x, level=%d, window=(%d, %d), roc=0x%x",
			brd.Slot, brd.A24, brd.Clock, brd.TrigSrc, brd.SyncSrc, brd.BusySrc,
			brd.BlockLevel, brd.Latency, brd.Width, brd.ROCEnable,
		)
	}

	run, err := db.LastRunNumber(ctx)
	if err != nil {
		return fmt.Errorf("could not get last run number: %w", err)
	}
	log.Printf("last run: %d", run)

	return nil
}
