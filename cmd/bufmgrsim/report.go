// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"io"

	"github.com/fatih/color"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/bufmgr"
)

// report prints the run summary with grouped digits. The status line is
// green for a healthy manager and red once it has wedged.
func report(w io.Writer, p progress, s bufmgr.Stats) {
	pr := message.NewPrinter(language.English)

	pr.Fprintf(w, "frames %d  draws %d  blits %d\n", p.Frames, p.Draws, p.Blits)
	pr.Fprintf(w, "objects   live %d  allocated %d  freed %d\n", s.Live, s.Allocations, s.Frees)
	pr.Fprintf(w, "cache     hits %d  misses %d  retiles %d  purged %d\n",
		s.CacheHits, s.CacheMisses, s.Retiles, s.PurgedDiscards)
	pr.Fprintf(w, "tiers     inactive %d  active %d  large %d/%d  snoop %d  flushing %d  cached %d pages\n",
		s.Inactive, s.Active, s.Large, s.LargeInactive, s.Snoop, s.Flushing, s.CachedPages)
	pr.Fprintf(w, "mappings  cpu %d  device %d  evictions %d\n", s.CPUMaps, s.DeviceMaps, s.MapEvictions)
	pr.Fprintf(w, "submits   %d  retries %d  retired %d  uploads %d  partials %d\n",
		s.Submits, s.Retries, s.Retired, s.Uploads, s.Partials)
	pr.Fprintf(w, "pending   render %d  blt %d\n", s.Outstanding[bufmgr.RingRender], s.Outstanding[bufmgr.RingBlt])

	if s.Wedged {
		color.New(color.FgRed, color.Bold).Fprintln(w, "status    WEDGED")
		return
	}
	color.New(color.FgGreen).Fprintln(w, "status    ok")
}
