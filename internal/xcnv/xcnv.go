// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert raw vfTDC data to/from LCIO.
package xcnv // import "github.com/go-lpc/vftdc/internal/xcnv"

const (
	// Detector is the name of the detector recorded in LCIO headers.
	Detector = "vfTDC"

	// Collection is the name of the LCIO collection holding the words
	// of a raw vfTDC block.
	Collection = "VFTDC_RAW"
)
