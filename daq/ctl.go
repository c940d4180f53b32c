// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-lpc/vftdc/tdc"
)

// ctlServer allows to control a Server with JSON requests sent over TCP.
//
// Requests are of the form {"name": "start", "args": ["42"]}.
// Replies are of the form {"msg": "ok", "data": ...}.
type ctlServer struct {
	ctl net.Listener
	msg *log.Logger
	dev *Server

	sim struct {
		cancel context.CancelFunc
		done   chan struct{}
	}
}

// Serve serves control requests on addr for the provided server.
func Serve(addr string, dev *Server) error {
	srv, err := newCtlServer(addr, dev)
	if err != nil {
		return fmt.Errorf("could not create vftdc server: %w", err)
	}
	return srv.serve()
}

func newCtlServer(addr string, dev *Server) (*ctlServer, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not create vftdc-ctl server on %q: %w", addr, err)
	}

	srv := &ctlServer{
		ctl: ctl,
		msg: log.New(os.Stdout, "vftdc-srv: ", 0),
		dev: dev,
	}
	return srv, nil
}

func (srv *ctlServer) serve() error {
	defer srv.close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not run vfTDC crate: %+v", err)
			continue
		}
	}
}

func (srv *ctlServer) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	var (
		ctx = context.Background()
		dec = json.NewDecoder(conn)
	)

	for {
		var req struct {
			Name string          `json:"name"`
			Args json.RawMessage `json:"args"`
		}

		err := dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			srv.reply(conn, err, nil)
			return fmt.Errorf("could not decode command request: %w", err)
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		switch strings.ToLower(req.Name) {
		case "configure":
			args, err := srv.args(req.Args)
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, err, nil)
				continue
			}
			if len(args) > 0 {
				srv.dev.fname = args[0]
			}
			err = srv.dev.configure(ctx)
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not configure vfTDC crate: %+v", err)
			}

		case "initialize":
			err = srv.dev.initialize()
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not initialize vfTDC crate: %+v", err)
			}

		case "reset":
			err = srv.dev.reset()
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not reset vfTDC crate: %+v", err)
			}

		case "start":
			args, err := srv.args(req.Args)
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, err, nil)
				continue
			}
			if len(args) > 0 {
				run, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					srv.msg.Printf("could not decode run-nbr for start-run (args=%v): %+v", args, err)
					srv.reply(conn, err, nil)
					continue
				}
				srv.dev.cfg.Run = uint32(run)
			}

			err = srv.start(ctx)
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not start vfTDC crate: %+v", err)
			}

		case "stop":
			sum, err := srv.stop(ctx)
			srv.reply(conn, err, sum)
			if err != nil {
				srv.msg.Printf("could not stop vfTDC crate: %+v", err)
				return fmt.Errorf("could not stop vfTDC crate: %w", err)
			}

		case "status":
			states, err := srv.status()
			srv.reply(conn, err, states)
			if err != nil {
				srv.msg.Printf("could not retrieve vfTDC status: %+v", err)
			}

		default:
			srv.msg.Printf("unknown command name=%q, args=%q", req.Name, req.Args)
			err = fmt.Errorf("unknown command %q", req.Name)
			srv.reply(conn, err, nil)
		}
	}
}

func (srv *ctlServer) args(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var args []string
	err := json.Unmarshal(raw, &args)
	return args, err
}

func (srv *ctlServer) start(ctx context.Context) error {
	err := srv.dev.start(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	srv.sim.cancel = cancel
	srv.sim.done = make(chan struct{})
	go func() {
		defer close(srv.sim.done)
		srv.dev.simulate(ctx)
	}()
	return nil
}

func (srv *ctlServer) stop(ctx context.Context) (interface{}, error) {
	if srv.sim.cancel != nil {
		srv.sim.cancel()
		<-srv.sim.done
		srv.sim.cancel = nil
	}

	sum, err := srv.dev.stop(ctx)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func (srv *ctlServer) status() ([]tdc.State, error) {
	reg := srv.dev.registry()
	if reg == nil {
		return nil, fmt.Errorf("vfTDC crate not initialized")
	}

	var states []tdc.State
	for _, slot := range reg.Slots() {
		state, err := reg.State(slot)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (srv *ctlServer) reply(conn net.Conn, err error, data interface{}) {
	rep := struct {
		Msg  string      `json:"msg"`
		Data interface{} `json:"data,omitempty"`
	}{Msg: "ok", Data: data}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
		rep.Data = nil
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *ctlServer) close() {
	if srv.sim.cancel != nil {
		srv.sim.cancel()
		<-srv.sim.done
	}
	_ = srv.ctl.Close()
}
