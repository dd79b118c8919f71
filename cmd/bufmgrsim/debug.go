// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gogpu/bufmgr"
)

// statsResponse is the body of GET /stats.
type statsResponse struct {
	Progress progress     `json:"progress"`
	Manager  bufmgr.Stats `json:"manager"`
}

// newRouter serves the simulator state:
//
//	GET /stats             workload progress and manager statistics
//	GET /requests/{ring}   outstanding requests of "render" or "blt"
func newRouter(s *simulator) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		p, st := s.snapshot()
		writeJSON(w, statsResponse{Progress: p, Manager: st})
	}).Methods(http.MethodGet)
	r.HandleFunc("/requests/{ring}", func(w http.ResponseWriter, req *http.Request) {
		var ring bufmgr.Ring
		switch mux.Vars(req)["ring"] {
		case "render":
			ring = bufmgr.RingRender
		case "blt":
			ring = bufmgr.RingBlt
		default:
			http.Error(w, "unknown ring", http.StatusNotFound)
			return
		}
		reqs := s.requests(ring)
		if reqs == nil {
			reqs = []bufmgr.RequestInfo{}
		}
		writeJSON(w, reqs)
	}).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
