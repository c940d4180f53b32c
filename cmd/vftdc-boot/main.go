// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vftdc-boot (re)starts the vfTDC DAQ processes.
//
// Usage: vftdc-boot [OPTIONS] [CMD...]
//
// Each CMD is a quoted command line. By default, vftdc-boot starts
// the vftdc-srv server.
//
// Example:
//
//	$> vftdc-boot -pmon "vftdc-srv -cfg=/etc/vftdc.yml" "vftdc-ctl -monitor start"
package main // import "github.com/go-lpc/vftdc/cmd/vftdc-boot"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var (
	dir = os.Getenv("VFTDCLOGDIR")

	doKill = flag.Bool("kill", true, "kill already running instances before starting")
	doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
	doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")

	stop = make(chan os.Signal, 1)
)

func main() {
	flag.Parse()

	log.SetPrefix("vftdc-boot: ")
	log.SetFlags(0)

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"vftdc-srv"}
	}

	cmds, err := commands(args)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	err = run(*doKill, *doMon, *doFreq, cmds, dir, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func commands(args []string) ([]*exec.Cmd, error) {
	cmds := make([]*exec.Cmd, 0, len(args))
	for _, arg := range args {
		toks := strings.Fields(arg)
		if len(toks) == 0 {
			return nil, fmt.Errorf("empty command line")
		}
		cmds = append(cmds, exec.Command(toks[0], toks[1:]...))
	}
	return cmds, nil
}

func run(doKill, doMon bool, freq time.Duration, cmds []*exec.Cmd, dir string, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	if doKill {
		for _, cmd := range cmds {
			name := filepath.Base(cmd.Path)
			kill := exec.Command("killall", name)
			kill.Stderr = os.Stderr
			kill.Stdout = os.Stdout
			err := kill.Run()
			if err != nil {
				log.Printf("could not kill %q: %+v", name, err)
			}
		}
	}

	if dir == "" {
		dir = "/var/log/vftdc"
	}

	var (
		grp  errgroup.Group
		kill = make(chan int)
	)
	for i := range cmds {
		cmd := cmds[i]
		grp.Go(func() error {
			return start(cmd, dir, kill, doMon, freq)
		})
	}

	go func() {
		<-stop
		close(kill)
	}()

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot vfTDC DAQ: %w", err)
	}
	return nil
}

func start(cmd *exec.Cmd, dir string, kill chan int, doMon bool, freq time.Duration) error {
	name := filepath.Base(cmd.Path)
	out, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return fmt.Errorf("could not create output log file for %q: %w", name, err)
	}
	defer out.Close()

	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", name, err)
	}

	if doMon {
		p, err := pmon.Monitor(cmd.Process.Pid)
		if err != nil {
			return fmt.Errorf("could not start monitoring %q (pid=%d): %w", name, cmd.Process.Pid, err)
		}
		f, err := os.Create(filepath.Join(dir, name+"-pmon.log"))
		if err != nil {
			return fmt.Errorf("could not create pmon log file for command %q: %w", name, err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		go func() {
			log.Printf("run pmon %q...", name)
			err := p.Run()
			if err != nil {
				log.Printf("could not start monitoring %q: %+v", name, err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring %q: %+v", name, err)
			}
		}()
	}

	errch := make(chan error, 1)
	go func() {
		errch <- cmd.Wait()
	}()

	select {
	case <-kill:
		err = cmd.Process.Kill()
		if err != nil {
			return fmt.Errorf("could not kill %q: %+v", name, err)
		}
	case err = <-errch:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", name, err)
		}
	}

	return nil
}
