// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"errors"
	"fmt"
	"os"
)

// Sentinel errors for the recoverable half of §7's error taxonomy.
// Callers compare with errors.Is, the idiomatic stdlib rendition of a C
// error-code enum; see SPEC_FULL.md §6 Ambient stack.
var (
	// ErrOutOfMemory: get_mem returned nil after collection and
	// expansion were both attempted.
	ErrOutOfMemory = errors.New("gc: out of memory")

	// ErrConfigUnsupported: EnableIncremental called on a host with no
	// workable dirty-page VDB strategy.
	ErrConfigUnsupported = errors.New("gc: incremental collection unsupported on this host")

	// ErrRootsOverflow: the static-root table is full; per §7 this is a
	// logged warning, not fatal -- the caller gets this error back and
	// the root is not registered.
	ErrRootsOverflow = errors.New("gc: static root table full")

	// ErrClientMisuse wraps the CLIENT_MISUSE category of §7 (kind id
	// out of range, finalized_malloc before init_finalized_malloc,
	// double free). Unlike the other sentinels this one is returned,
	// not fatal, in this Go port: a host embedding the collector is
	// better served by an error it can log and recover from than by a
	// hard process abort for a misuse it can detect and reject.
	ErrClientMisuse = errors.New("gc: client misuse")
)

// AbortFunc is called for the INVARIANT_VIOLATION category of §7:
// conditions the collector cannot continue past (a block header
// disappeared mid-cycle, an infinite forwarding chain, a misaligned
// free-list link). The default prints to stderr and calls os.Exit(2),
// matching "abort with a descriptive message via the host-supplied
// abort callback (defaulting to the platform abort)."
type AbortFunc func(msg string)

var abort AbortFunc = defaultAbort

func defaultAbort(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}

// SetAbortFunc installs a host-supplied abort callback, letting an
// embedder route INVARIANT_VIOLATION failures through its own crash
// reporting before the process dies. It must not return.
func SetAbortFunc(f AbortFunc) {
	if f == nil {
		f = defaultAbort
	}
	abort = f
}

// Fatal renders msg and calls the installed AbortFunc, for the
// INVARIANT_VIOLATION category of §7: a block header disappeared
// mid-cycle, an infinite forwarding chain, a misaligned free-list link
// -- conditions this package's own bookkeeping should make impossible,
// so reaching one means the heap index or a block header was corrupted
// by something outside the collector's control. Named Fatal, not throw,
// to keep the exported vocabulary consistent with the rest of this
// package's Go-idiomatic naming; the teacher's own fatal-abort primitive
// is throw(string) (stubs.go / panic.go in the real runtime).
func Fatal(format string, args ...any) {
	abort(fmt.Sprintf("gc: fatal: "+format, args...))
	// AbortFunc must not return, but guard anyway so callers can still
	// treat Fatal as noreturn without the compiler complaining.
	panic("gc: AbortFunc returned")
}
