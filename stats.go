// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/conservgc/gc/gcstat"
)

// Stats is a Collector's diagnostics configuration and bookkeeping,
// reading the two env vars §6 recognizes -- GC_PRINT_STATS and
// GC_DUMP_REGULARLY -- once at Collector construction, exactly like the
// teacher's GODEBUG parsing in extern.go. Counters themselves live in
// gc/gcstat as process-wide expvar values, since a process may embed
// more than one Collector and the diagnostics surface is meant to be
// scraped process-wide, not per-instance.
type Stats struct {
	printStats   bool
	dumpInterval time.Duration

	mu       sync.Mutex
	lastDump time.Time
}

func newStats() Stats {
	s := Stats{}
	if v, ok := os.LookupEnv("GC_PRINT_STATS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.printStats = b
		}
	}
	if v, ok := os.LookupEnv("GC_DUMP_REGULARLY"); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			s.dumpInterval = time.Duration(secs) * time.Second
		}
	}
	return s
}

// recordCycle updates gcstat's cycle counter and, if GC_PRINT_STATS is
// set, dumps immediately -- matching the common GC-debug idiom of one
// trace line per collection (the teacher's GODEBUG=gctrace=1 line in
// proc.go's gcMarkTermination).
func (s *Stats) recordCycle() {
	gcstat.Cycles.Add(1)
	if s.printStats {
		gcstat.Dump(os.Stderr)
	}
}

// recordFinalizersRun updates the finalizers-run counter by n.
func (s *Stats) recordFinalizersRun(n int) {
	if n > 0 {
		gcstat.FinalizersRun.Add(int64(n))
	}
}

// recordRootsOverflow updates the roots-overflow counter, so a host
// polling /debug/vars can notice add_roots has been silently rejecting
// registrations before it shows up as a correctness bug.
func (s *Stats) recordRootsOverflow() {
	gcstat.RootsOverflowed.Add(1)
}

// maybeDumpRegularly dumps to w if GC_DUMP_REGULARLY seconds have
// elapsed since the last dump (or since construction). Intended to be
// called opportunistically from the allocation path, the same "check a
// cheap clock on the hot path, act rarely" pattern the teacher's
// scheduler uses for sysmon-driven background work (proc.go's
// retake/sysmon periodic checks), without spinning up an actual
// background goroutine this package would need to shut down cleanly.
func (s *Stats) maybeDumpRegularly(w *os.File) {
	if s.dumpInterval == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.lastDump.IsZero() {
		s.lastDump = now
		return
	}
	if now.Sub(s.lastDump) < s.dumpInterval {
		return
	}
	s.lastDump = now
	gcstat.Dump(w)
}
