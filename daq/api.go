// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-lpc/vftdc/tdc"
	"github.com/gorilla/mux"
)

// Handler returns an HTTP handler exposing the status of the crate:
//
//	GET /api/slots          list of the initialized slots
//	GET /api/status/{slot}  status of the board in slot
//	GET /api/run            summary of the current, or last, run
func (srv *Server) Handler() http.Handler {
	router := mux.NewRouter()
	sub := router.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/slots", srv.handleSlots()).Methods("GET")
	sub.HandleFunc("/status/{slot:[0-9]+}", srv.handleStatus()).Methods("GET")
	sub.HandleFunc("/run", srv.handleRun()).Methods("GET")
	return router
}

func (srv *Server) handleSlots() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg := srv.registry()
		if reg == nil {
			http.Error(w, "crate not initialized", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.Slots())
	}
}

func (srv *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		slot, err := strconv.Atoi(vars["slot"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reg := srv.registry()
		if reg == nil {
			http.Error(w, "crate not initialized", http.StatusServiceUnavailable)
			return
		}

		state, err := reg.State(slot)
		switch {
		case errors.Is(err, tdc.ErrNotBound):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(state)
	}
}

func (srv *Server) handleRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(srv.Summary())
	}
}
