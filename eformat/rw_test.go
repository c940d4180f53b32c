// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eformat

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func newBlock(slot, blk uint32, nhits int) []uint32 {
	w0, w1 := TriggerTimeWords(uint64(blk) << 8)
	words := []uint32{
		BlockHeaderWord(slot, 0, blk, 1),
		EventHeaderWord(slot, blk),
		w0, w1,
	}
	for i := 0; i < nhits; i++ {
		words = append(words, HitWord(0, uint32(i), i%2 == 0, uint32(10*i), false, uint32(i)))
	}
	words = append(words, BlockTrailerWord(slot, uint32(len(words)+1)))
	return words
}

func TestRW(t *testing.T) {
	blocks := [][]uint32{
		newBlock(3, 1, 4),
		newBlock(3, 2, 0),
		newBlock(3, 3, 11),
	}

	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	for i, blk := range blocks {
		err := w.WriteBlock(blk)
		if err != nil {
			t.Fatalf("could not write block %d: %+v", i, err)
		}
		if len(blk)%2 == 1 {
			err = w.WriteBlock([]uint32{FillerWord(3)})
			if err != nil {
				t.Fatalf("could not write filler %d: %+v", i, err)
			}
		}
	}
	err := w.Flush()
	if err != nil {
		t.Fatalf("could not flush: %+v", err)
	}

	r := NewReader(buf)
	for i, want := range blocks {
		got, err := r.ReadBlock()
		if err != nil {
			t.Fatalf("could not read block %d: %+v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid block %d:\ngot= %x\nwant=%x", i, got, want)
		}
	}

	_, err = r.ReadBlock()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, io.EOF)
	}
}

func TestReaderErrors(t *testing.T) {
	encode := func(words ...uint32) *bytes.Buffer {
		buf := new(bytes.Buffer)
		w := NewWriter(buf)
		_ = w.WriteBlock(words)
		_ = w.Flush()
		return buf
	}

	for _, tc := range []struct {
		name string
		r    io.Reader
		err  string
	}{
		{
			name: "bad-header",
			r:    encode(EventHeaderWord(1, 2)),
			err:  "eformat: invalid block header word 0x90400002",
		},
		{
			name: "short-header",
			r:    bytes.NewReader([]byte{1, 2}),
			err:  "eformat: could not read block header: unexpected EOF",
		},
		{
			name: "no-trailer",
			r:    encode(BlockHeaderWord(1, 0, 1, 1), EventHeaderWord(1, 1)),
			err:  "eformat: could not read block (words=2): unexpected EOF",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReader(tc.r)
			_, err := r.ReadBlock()
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got, want := err.Error(), tc.err; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
		})
	}
}

func TestFprint(t *testing.T) {
	o := new(strings.Builder)
	blk := newBlock(14, 1, 1)
	err := Fprint(o, blk)
	if err != nil {
		t.Fatalf("could not print block: %+v", err)
	}

	lines := strings.Split(strings.TrimSpace(o.String()), "\n")
	if got, want := len(lines), len(blk); got != want {
		t.Fatalf("invalid number of lines: got=%d, want=%d", got, want)
	}
	if !strings.Contains(lines[len(lines)-1], "BLOCK TRAILER - Slot = 14  nwords = 6") {
		t.Fatalf("invalid trailer line: %q", lines[len(lines)-1])
	}
}
