// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vftdc-ctl sends run-control commands to a vftdc-srv server.
//
// Usage: vftdc-ctl [OPTIONS] CMD [ARGS...]
//
// Example:
//
//	$> vftdc-ctl -addr=daq.example.org:9999 configure /etc/vftdc.yml
//	$> vftdc-ctl initialize
//	$> vftdc-ctl start 42
//	$> vftdc-ctl -monitor -dir=/data/vftdc start 43
//	$> vftdc-ctl stop
//
// With -monitor, vftdc-ctl keeps watching the raw files of the started
// run and sends mail alerts when they stop growing.
package main // import "github.com/go-lpc/vftdc/cmd/vftdc-ctl"

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:9999", "[ip]:port of the vftdc-srv server")
		dir  = flag.String("dir", ".", "directory to monitor")
		freq = flag.Duration("freq", 30*time.Second, "probing interval")
		mon  = flag.Bool("monitor", false, "monitor output files after start")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `vftdc-ctl sends run-control commands to a vftdc-srv server.

Usage: vftdc-ctl [OPTIONS] CMD [ARGS...]

Commands: configure [file], initialize, reset, start [run], stop, status.

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	log.SetPrefix("vftdc-ctl: ")
	log.SetFlags(0)

	if flag.NArg() < 1 {
		flag.Usage()
		log.Fatalf("missing command name")
	}

	var (
		name = flag.Arg(0)
		args = flag.Args()[1:]
	)

	rep, err := send(*addr, name, args)
	if err != nil {
		log.Fatalf("could not send %q command: %+v", name, err)
	}
	if len(rep.Data) != 0 {
		fmt.Printf("%s\n", rep.Data)
	}

	if !*mon || name != "start" {
		return
	}

	run := "*"
	if len(args) > 0 {
		run = args[0]
	}

	quit := make(chan int)
	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, os.Interrupt)
		<-sigch
		close(quit)
	}()

	log.Printf("monitoring run %s in %q...", run, *dir)
	newMonitor(*dir, *freq).run(run, quit)
}

// Request is a run-control command sent to vftdc-srv.
type Request struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// Reply is the answer of vftdc-srv to a Request.
type Reply struct {
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

func send(addr, name string, args []string) (Reply, error) {
	var rep Reply
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return rep, fmt.Errorf("could not dial vftdc-srv %q: %w", addr, err)
	}
	defer conn.Close()

	err = json.NewEncoder(conn).Encode(Request{Name: name, Args: args})
	if err != nil {
		return rep, fmt.Errorf("could not send request: %w", err)
	}

	err = json.NewDecoder(conn).Decode(&rep)
	if err != nil {
		return rep, fmt.Errorf("could not decode reply: %w", err)
	}

	if rep.Msg != "ok" {
		return rep, fmt.Errorf("vftdc-srv: %s", rep.Msg)
	}
	return rep, nil
}

// monitor watches the raw files of a run and raises alerts when
// they do not grow.
type monitor struct {
	dir    string
	freq   time.Duration
	alerts map[string]int // number of alerts per file
	mail   func(fname string, size int64) error
}

func newMonitor(dir string, freq time.Duration) *monitor {
	mon := &monitor{
		dir:    dir,
		freq:   freq,
		alerts: make(map[string]int),
	}
	mon.mail = mon.alertMail
	return mon
}

func (mon *monitor) run(run string, quit chan int) {
	var (
		tick  = time.NewTicker(mon.freq)
		table = make(map[string]int64)
	)
	defer tick.Stop()

	for {
		select {
		case <-quit:
			return
		case <-tick.C:
			cur, err := mon.list(run)
			if err != nil {
				log.Printf("could not list files: %+v", err)
				continue
			}
			mon.compare(table, cur)
			table = cur
		}
	}
}

func (mon *monitor) list(run string) (map[string]int64, error) {
	if run != "*" {
		v, err := strconv.ParseUint(run, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid run number %q: %w", run, err)
		}
		run = fmt.Sprintf("%06d", v)
	}

	table := make(map[string]int64)
	glob := filepath.Join(mon.dir, "vftdc_run_"+run+".raw")
	files, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("could not glob %q: %w", glob, err)
	}
	for _, fname := range files {
		fi, err := os.Stat(fname)
		if err != nil {
			return nil, fmt.Errorf("could not stat %q: %w", fname, err)
		}
		table[fname] = fi.Size()
	}
	return table, nil
}

func (mon *monitor) compare(ref, chk map[string]int64) {
	for fname, chksz := range chk {
		refsz, ok := ref[fname]
		if !ok {
			// file just appeared.
			continue
		}
		if refsz == chksz {
			mon.alert(fname, refsz)
		}
	}
}

const maxAlerts = 5

func (mon *monitor) alert(fname string, size int64) {
	log.Printf("file %q didn't change in the last %v (size=%d bytes)",
		fname, mon.freq, size,
	)
	mon.alerts[fname]++

	if mon.alerts[fname] < maxAlerts {
		err := mon.mail(fname, size)
		if err != nil {
			log.Printf("could not send mail alert: %+v", err)
		}
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = targets(os.Getenv("MAIL_TGTS"))
)

func (mon *monitor) alertMail(fname string, size int64) error {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		return fmt.Errorf("missing credentials")
	}

	msg := newAlertMessage(fname, size, mon.freq)

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	return dial.DialAndSend(msg)
}

func newAlertMessage(fname string, size int64, freq time.Duration) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[vftdc-ctl] file alert: %q", fname))
	msg.SetBody("text/plain", fmt.Sprintf("file: %q\nsize: %d bytes\nfreq: %v",
		fname, size, freq,
	))
	return msg
}

func targets(s string) []string {
	var tgts []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		tgts = append(tgts, v)
	}
	return tgts
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
