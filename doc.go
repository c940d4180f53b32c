// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vftdc holds code to control and read out vfTDC boards in a VME crate.
//
// The vme package maps the VME A24 and A32 address spaces of a crate
// controller, and vme/vmesim simulates a crate of vfTDC boards.
// The tdc package binds, configures and reads out the boards of a crate,
// either with programmed I/O or with DMA block transfers.
// Blocks of TDC words are decoded and serialized by the eformat package.
//
// The daq package runs a vfTDC crate as a tdaq data source, with run
// conditions taken from the conddb database.
// The vftdc command drives the boards from a shell, and vftdc-srv serves
// them to a JSON control client, vftdc-ctl.
package vftdc // import "github.com/go-lpc/vftdc"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of vftdc and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/vftdc"
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
