// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and configuration
// database of the vfTDC readout crates.
package conddb // import "github.com/go-lpc/vftdc/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to easily retrieve configuration data
// and to record runs in the vfTDC database.
type DB struct {
	db   *sql.DB
	name string // name of the vfTDC database
}

// Open opens a connection to the vfTDC MySQL database dbname.
func Open(dbname string) (*DB, error) {
	return OpenDriver(drvName, dbname)
}

// OpenDriver opens a connection to the vfTDC database dbname through the
// named database/sql driver.
func OpenDriver(drv, dbname string) (*DB, error) {
	db, err := sql.Open(drv, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastCrateConfig returns the name of the last crate configuration
// registered in the database.
func (db *DB) LastCrateConfig(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	name := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM crateconfig ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return name, fmt.Errorf("conddb: could not query crate cfg: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&name)
		if err != nil {
			return name, fmt.Errorf("conddb: could not get crate cfg value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return name, fmt.Errorf("conddb: could not scan db for crate cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return name, fmt.Errorf("conddb: context error while retrieving crate cfg: %w", err)
	}

	return name, nil
}

// LastRunNumber returns the highest run number recorded in the database.
func (db *DB) LastRunNumber(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run uint32
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT run FROM runs ORDER BY run DESC LIMIT 1",
	)
	if err != nil {
		return run, fmt.Errorf("conddb: could not query run number: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&run)
		if err != nil {
			return run, fmt.Errorf("conddb: could not get run number value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("conddb: could not scan db for run number: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("conddb: context error while retrieving run number: %w", err)
	}

	return run, nil
}

// BoardConfig returns the configuration of the boards of the crate
// configuration cfg, in slot order.
func (db *DB) BoardConfig(ctx context.Context, cfg string) ([]Board, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var brds []Board
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT boards.* FROM boards
JOIN crateconfig_boards ON boards.identifier=crateconfig_boards.board
JOIN crateconfig        ON crateconfig.identifier=crateconfig_boards.crateconfig
WHERE (
	crateconfig.name=?
)
ORDER BY boards.slot
`,
		cfg,
	)
	if err != nil {
		return brds, fmt.Errorf("conddb: could not run board cfg query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var brd Board
		err = rows.Scan(
			&brd.ID, &brd.Slot, &brd.A24,
			&brd.Clock, &brd.TrigSrc, &brd.SyncSrc, &brd.BusySrc,
			&brd.BlockLevel, &brd.Latency, &brd.Width,
			&brd.ROCEnable,
		)
		if err != nil {
			return brds, fmt.Errorf("conddb: could not scan row %d for board cfg: %w", i, err)
		}
		i++

		brds = append(brds, brd)
	}

	if err := rows.Err(); err != nil {
		return brds, fmt.Errorf("conddb: could not scan db for board cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return brds, fmt.Errorf("conddb: context error while retrieving board cfg: %w", err)
	}

	return brds, nil
}

// StartRun records the start of a run.
func (db *DB) StartRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs (run, crateconfig, slots, start) VALUES (?, ?, ?, ?)",
		run.Number, run.Config, run.Slots, run.Start.UTC(),
	)
	if err != nil {
		return fmt.Errorf("conddb: could not record start of run %d: %w", run.Number, err)
	}
	return nil
}

// StopRun records the end of a run, with its block and event counts.
func (db *DB) StopRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"UPDATE runs SET stop=?, blocks=?, events=? WHERE run=?",
		run.Stop.UTC(), run.Blocks, run.Events, run.Number,
	)
	if err != nil {
		return fmt.Errorf("conddb: could not record end of run %d: %w", run.Number, err)
	}
	return nil
}
