// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vftdc-daq starts a TDAQ server reading out a crate of vfTDC boards.
//
// Usage: vftdc-daq [tdaq-options] [config.yml]
//
// The run configuration is read from the provided YAML file
// (default: vftdc-daq.yml) when the /config command is received.
// Without a device file in the run configuration, a simulated crate
// is read out.
package main // import "github.com/go-lpc/vftdc/cmd/vftdc-daq"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/vftdc/daq"
)

func main() {
	log.SetPrefix("vftdc-daq: ")
	log.SetFlags(0)

	cmd := flags.New()

	fname := "vftdc-daq.yml"
	if len(cmd.Args) > 0 {
		fname = cmd.Args[0]
	}

	dev := daq.New(fname, log.New(os.Stdout, "vftdc-daq: ", 0))

	srv := tdaq.New(cmd, os.Stdout)
	dev.Register(srv)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
