// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap maps windows of a device file into memory.
package mmap // import "github.com/go-lpc/vftdc/internal/mmap"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a read/write view over a memory-mapped window.
type Handle struct {
	data  []byte
	order binary.ByteOrder
	unmap bool
}

// Map maps size bytes of f, starting at offset, and returns a handle
// decoding 32b words with the provided byte order.
func Map(f *os.File, offset int64, size int, order binary.ByteOrder) (*Handle, error) {
	data, err := unix.Mmap(
		int(f.Fd()), offset, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %q (off=0x%x, size=0x%x): %w", f.Name(), offset, size, err)
	}
	if len(data) != size {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("mmap: invalid mmap'd data: %d", len(data))
	}
	h := HandleFrom(data, order)
	h.unmap = true
	return h, nil
}

// HandleFrom wraps an already mapped (or plain) byte slice.
func HandleFrom(data []byte, order binary.ByteOrder) *Handle {
	if order == nil {
		order = binary.BigEndian
	}
	h := &Handle{data: data, order: order}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	if !h.unmap {
		return nil
	}
	return unix.Munmap(data)
}

// Len returns the length of the underlying memory-mapped window.
func (h *Handle) Len() int {
	return len(h.data)
}

// Uint32At returns the 32b word at offset off.
func (h *Handle) Uint32At(off int64) (uint32, error) {
	if err := h.check(off, 4); err != nil {
		return 0, err
	}
	return h.order.Uint32(h.data[off : off+4]), nil
}

// PutUint32At stores the 32b word v at offset off.
func (h *Handle) PutUint32At(off int64, v uint32) error {
	if err := h.check(off, 4); err != nil {
		return err
	}
	h.order.PutUint32(h.data[off:off+4], v)
	return nil
}

func (h *Handle) check(off int64, n int) error {
	if h == nil {
		return os.ErrInvalid
	}
	if h.data == nil {
		return errClosed
	}
	if off < 0 || int64(len(h.data)) < off+int64(n) {
		return fmt.Errorf("mmap: invalid offset %d", off)
	}
	return nil
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
