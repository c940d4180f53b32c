// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runstore stores summaries of data taking runs in a local
// key/value database.
package runstore // import "github.com/go-lpc/vftdc/internal/runstore"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"
)

var (
	bucket = []byte("runs")

	ErrNotFound = errors.New("runstore: run not found")
)

// Summary summarizes a data taking run.
type Summary struct {
	Run    uint32    `json:"run"`
	Config string    `json:"config,omitempty"`
	Slots  []int     `json:"slots"`
	Start  time.Time `json:"start"`
	Stop   time.Time `json:"stop"`

	Blocks uint64 `json:"blocks"`
	Events uint64 `json:"events"`
	Words  uint64 `json:"words"`

	// BlockErrors counts the blocks flagged with a transfer error,
	// by kind of error.
	BlockErrors map[string]int `json:"block_errors,omitempty"`
}

// Store is a database of run summaries.
type Store struct {
	db *bbolt.DB
}

// Open opens the run store at the provided path, creating it if needed.
func Open(fname string) (*Store, error) {
	db, err := bbolt.Open(fname, 0644, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("runstore: could not open %q: %w", fname, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: could not create runs bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(run uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, run)
	return k
}

// Put stores the summary of a run, replacing any previous one.
func (s *Store) Put(sum Summary) error {
	raw, err := yaml.Marshal(sum)
	if err != nil {
		return fmt.Errorf("runstore: could not marshal run %d: %w", sum.Run, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key(sum.Run), raw)
	})
	if err != nil {
		return fmt.Errorf("runstore: could not store run %d: %w", sum.Run, err)
	}
	return nil
}

// Get returns the summary of the provided run.
func (s *Store) Get(run uint32) (Summary, error) {
	var sum Summary
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucket).Get(key(run))
		if raw == nil {
			return ErrNotFound
		}
		return yaml.Unmarshal(raw, &sum)
	})
	if err != nil {
		return sum, fmt.Errorf("runstore: could not get run %d: %w", run, err)
	}
	return sum, nil
}

// Last returns the summary of the run with the highest run number.
func (s *Store) Last() (Summary, error) {
	var sum Summary
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, raw := tx.Bucket(bucket).Cursor().Last()
		if raw == nil {
			return ErrNotFound
		}
		return yaml.Unmarshal(raw, &sum)
	})
	if err != nil {
		return sum, fmt.Errorf("runstore: could not get last run: %w", err)
	}
	return sum, nil
}

// Runs returns all the run summaries, in increasing run number order.
func (s *Store) Runs() ([]Summary, error) {
	var runs []Summary
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, raw []byte) error {
			var sum Summary
			err := yaml.Unmarshal(raw, &sum)
			if err != nil {
				return fmt.Errorf("could not unmarshal run %d: %w", binary.BigEndian.Uint32(k), err)
			}
			runs = append(runs, sum)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("runstore: could not list runs: %w", err)
	}
	return runs, nil
}
