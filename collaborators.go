// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

// MemSource is the GetMem collaborator from §6: "return HBLKSIZE-aligned
// memory of at least size bytes; may be zero-filled or not." OS memory
// acquisition is explicitly out of scope for this package (§1); hosts
// supply an implementation, and gc/internal/osmem ships one built on
// golang.org/x/sys/unix.
type MemSource interface {
	// GetMem returns hblkSize-aligned memory of at least size bytes, or
	// (0, false) if the OS denies the request.
	GetMem(size uintptr) (base uintptr, ok bool)

	// Uncommit is optional: a MemSource that also implements
	// Uncommitter lets freehblk return large freed runs to the OS
	// (§4.2's "for unmap-capable builds"). A MemSource need not
	// implement it; the collector checks with a type assertion.
}

// Uncommitter is the optional unmap capability mentioned in §4.2.
type Uncommitter interface {
	Uncommit(base uintptr, size uintptr)
}

// WorldStopper is the stop-the-world collaborator from §6: "stop_world(),
// start_world() -- suspend/resume all other mutator threads." Required
// only around root scans and the final mark-phase dirty-bit re-read
// (§5).
type WorldStopper interface {
	StopWorld()
	StartWorld()
}

// RootPusher is push_other_roots from §6: "invoke push_all_stack(lo, hi)
// for every non-current mutator thread's stack and register file." Go
// gives no portable way to suspend another goroutine and read its
// register file or live stack from outside it, so this port's practical
// answer is cooperative registration -- a goroutine registers its own
// range with Collector.Bind (roots.go) -- but
// the interface itself stays faithful to §6's shape so a host with a
// genuine way to enumerate mutator stacks (e.g. a VM embedding this
// collector for its own managed stacks) can plug one in directly.
type RootPusher interface {
	PushOtherRoots(push func(lo, hi uintptr))
}

// StackBaser is get_stack_base from §6, used by the root scanner to find
// where the current mutator's stack begins so it can conservatively scan
// everything above the caller's frame (the "cold" end) down to the
// current stack pointer.
type StackBaser interface {
	GetStackBase() (base uintptr, ok bool)
}

// Collaborators bundles every host-supplied capability the collector
// consumes. Only Mem and World are mandatory; RootPusher and StackBaser
// may be nil, in which case the root scanner relies solely on
// explicitly registered static roots and bound mutator ranges (see
// roots.go).
type Collaborators struct {
	Mem   MemSource
	World WorldStopper
	Roots RootPusher
	Stack StackBaser
}
