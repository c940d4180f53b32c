// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eformat

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Writer writes blocks of vfTDC words to an underlying io.Writer,
// as little-endian 32b words.
type Writer struct {
	w   *bufio.Writer
	buf []byte
	err error
}

// NewWriter returns a new Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:   bufio.NewWriter(w),
		buf: make([]byte, 4),
	}
}

// WriteBlock writes the provided words.
func (w *Writer) WriteBlock(words []uint32) error {
	if w.err != nil {
		return w.err
	}
	for _, v := range words {
		binary.LittleEndian.PutUint32(w.buf, v)
		_, w.err = w.w.Write(w.buf)
		if w.err != nil {
			w.err = fmt.Errorf("eformat: could not write word: %w", w.err)
			return w.err
		}
	}
	return nil
}

// Flush flushes buffered words to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	err := w.w.Flush()
	if err != nil {
		w.err = fmt.Errorf("eformat: could not flush: %w", err)
	}
	return w.err
}

// Reader reads blocks of vfTDC words from an underlying io.Reader.
// Filler words between blocks are skipped.
type Reader struct {
	r   *bufio.Reader
	buf []byte
	err error
}

// NewReader returns a new Reader reading from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   bufio.NewReader(r),
		buf: make([]byte, 4),
	}
}

func (r *Reader) word() uint32 {
	if r.err != nil {
		return 0
	}
	_, r.err = io.ReadFull(r.r, r.buf)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf)
}

// ReadBlock reads the next block, from its block header word to its
// block trailer word, included.
// ReadBlock returns io.EOF when no more block is available.
func (r *Reader) ReadBlock() ([]uint32, error) {
	if r.err != nil {
		return nil, r.err
	}

	var hdr uint32
	for {
		hdr = r.word()
		if r.err != nil {
			// only a clean io.EOF may end the stream.
			if errors.Is(r.err, io.ErrUnexpectedEOF) {
				r.err = fmt.Errorf("eformat: could not read block header: %w", r.err)
			}
			return nil, r.err
		}
		if IsType(hdr, Filler) {
			continue
		}
		if !IsType(hdr, BlockHeader) {
			r.err = fmt.Errorf("eformat: invalid block header word 0x%08x", hdr)
			return nil, r.err
		}
		break
	}

	blk := []uint32{hdr}
	for {
		v := r.word()
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				r.err = io.ErrUnexpectedEOF
			}
			r.err = fmt.Errorf("eformat: could not read block (words=%d): %w", len(blk), r.err)
			return nil, r.err
		}
		blk = append(blk, v)
		if IsType(v, BlockTrailer) {
			return blk, nil
		}
	}
}

// Fprint decodes and prints the provided words to w, one line per word.
func Fprint(w io.Writer, words []uint32) error {
	var (
		err error
		dec = NewDecoder()
		bw  = bufio.NewWriter(w)
	)
	for _, v := range words {
		_, err = fmt.Fprintf(bw, "%s\n", dec.Decode(v))
		if err != nil {
			return fmt.Errorf("eformat: could not print word 0x%08x: %w", v, err)
		}
	}
	err = bw.Flush()
	if err != nil {
		return fmt.Errorf("eformat: could not flush: %w", err)
	}
	return nil
}
