// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gcstat exposes process-wide collector counters through
// expvar, the same global-counter style the teacher's runtime uses for
// MemStats (mstats.go) rather than a request-scoped structured logger --
// a garbage collector has no request to attach log fields to. Dump
// renders the current values for the DUMP_REGULARLY diagnostic described
// in SPEC_FULL.md §6.
package gcstat

import (
	"expvar"
	"fmt"
	"io"
)

var (
	Cycles               = expvar.NewInt("gc_cycles")
	BytesAllocatedSinceGC = expvar.NewInt("gc_bytes_allocated_since_gc")
	BytesLive            = expvar.NewInt("gc_bytes_live")
	HeapBlocks           = expvar.NewInt("gc_heap_blocks")
	FinalizersRun        = expvar.NewInt("gc_finalizers_run")
	RootsOverflowed      = expvar.NewInt("gc_roots_overflowed")
)

// Dump writes every counter's current value to w in a single line,
// mirroring the one-line-per-dump style of the teacher's GODEBUG
// gctrace output (proc.go's gcMarkTermination trace line).
func Dump(w io.Writer) {
	fmt.Fprintf(w, "gc: cycles=%d bytes_allocated_since_gc=%d bytes_live=%d heap_blocks=%d finalizers_run=%d roots_overflowed=%d\n",
		Cycles.Value(), BytesAllocatedSinceGC.Value(), BytesLive.Value(), HeapBlocks.Value(), FinalizersRun.Value(), RootsOverflowed.Value())
}
