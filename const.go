// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "unsafe"

// Block and granule geometry. See data model, §3: "Block
// (HBLKSIZE-aligned)" and "Granule".
const (
	logHblkSize = 12
	hblkSize    = 1 << logHblkSize // 4 KiB, the unit of OS memory acquisition.

	ptrSize     = unsafe.Sizeof(uintptr(0))
	granuleSize = 2 * ptrSize // two pointer widths, per GLOSSARY "Granule".

	// maxJump bounds the distance a forwarding header can encode: "the
	// real header is N blocks earlier", N in (0, maxJump].
	maxJump = hblkSize - 1

	// maxForwardingChain bounds how many forwarding entries findHeader/
	// findStartingHblk will chase before treating the chain as corrupt
	// (§7 INVARIANT_VIOLATION's "infinite forwarding chain"). A single
	// hop already covers an object up to maxJump blocks; a legitimate
	// object would need to be larger than this many hops times that to
	// ever approach the bound, so hitting it means the index itself is
	// broken, not that an object is unusually large.
	maxForwardingChain = 64

	// logBottomSz controls how many hblkSize slots one bottom-index
	// array covers. 1<<logBottomSz slots * hblkSize bytes = the region
	// one bottomIndex addresses (4 KiB * 1024 = 4 MiB below).
	logBottomSz = 10
	bottomSz    = 1 << logBottomSz

	// maxObjKinds bounds the kind table (§3 "Object kinds").
	maxObjKinds = 64

	// maxObjGranules bounds the granule-indexed free-list arrays (§3
	// "Free-list geometry").
	maxObjGranules = 512

	// maxObjBytes is the largest request the small-object path serves;
	// one byte more and allocation goes straight to allochblk (§8
	// boundary behavior).
	maxObjBytes = maxObjGranules * granuleSize

	// unmapThreshold: freehblk only asks the collaborator to uncommit a
	// freed run once it is at least this large, per §4.2's "for
	// unmap-capable builds, pages may be unmapped after a threshold."
	unmapThreshold = 4 << 20 // 4 MiB

	// initialMarkStackSize / maxMarkStackSize: see SPEC_FULL.md §4.4
	// mark-stack growth policy, grounded on original_source's
	// GC_mark_stack_too_small doubling discipline.
	initialMarkStackSize = 256
	maxMarkStackSize     = 1 << 20

	// markProcBytes bounds the amount of work a PROC-tag mark descriptor
	// may push per invocation before it must re-push itself (§4.4.2).
	markProcBytes = 100

	// markStackDiscards: number of mark-stack entries the engine
	// discards on overflow before transitioning mark state (§4.4.4).
	markStackDiscards = 16

	// logMaxMarkProcs bounds the PROC-tag procedure table.
	logMaxMarkProcs = 6
	maxMarkProcs    = 1 << logMaxMarkProcs
)

// blockFlags is the header `flags` bitset from §3.
type blockFlags uint32

const (
	flagFree blockFlags = 1 << iota
	flagWasUnmapped
	flagIgnoreOffPage
	flagHasDisclaim
	flagMarkUnconditionally
	flagLargeBlock
	// flagRelocateDescr marks a block whose objects carry a PER_OBJECT
	// descriptor that must be resolved per object (finalize.go's
	// finalizedObjDescr indirection) rather than the kind's
	// descrTemplate applying to every object in the block uniformly.
	flagRelocateDescr
)

func (f blockFlags) has(bit blockFlags) bool { return f&bit != 0 }
