// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vftdc-srv serves control requests for a crate of vfTDC boards.
//
// Control requests are JSON messages sent over TCP:
//
//	{"name": "configure", "args": ["config.yml"]}
//	{"name": "initialize"}
//	{"name": "reset"}
//	{"name": "start", "args": ["42"]}
//	{"name": "stop"}
//	{"name": "status"}
//
// The status of the crate is also served over HTTP, under /api.
package main // import "github.com/go-lpc/vftdc/cmd/vftdc-srv"

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/go-lpc/vftdc/daq"
)

func main() {
	var (
		addr  = flag.String("addr", ":9999", "[ip]:port to listen on for control requests")
		haddr = flag.String("http", ":8080", "[ip]:port to serve the HTTP status API on (empty: none)")
		cfg   = flag.String("cfg", "vftdc-daq.yml", "path to the run configuration file")
	)

	log.SetPrefix("vftdc-srv: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*addr, *haddr, *cfg)
	if err != nil {
		log.Fatalf("could not run vftdc-srv: %+v", err)
	}
}

func run(addr, haddr, cfg string) error {
	dev := daq.New(cfg, log.New(os.Stdout, "vftdc-srv: ", 0))

	if haddr != "" {
		go func() {
			err := http.ListenAndServe(haddr, dev.Handler())
			if err != nil {
				log.Printf("could not serve HTTP status API: %+v", err)
			}
		}()
	}

	return daq.Serve(addr, dev)
}
