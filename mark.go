// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

// markState is the mark-phase state machine from §4.4.1: "the mark
// engine's state is one of a small, named set, not an implicit property
// of the mark stack's contents." NONE means no mark phase is in
// progress; the others track progress through one cycle.
type markState int32

const (
	markNone               markState = iota // no cycle in progress.
	markPushRescuers                         // pushing uncollectible-on-this-cycle finalizer targets, §4.8.
	markPushUncollectable                    // pushing objects explicitly allocated uncollectable, §6.
	markRootsPushed                          // roots pushed; draining the mark stack normally.
	markPartiallyInvalid                     // overflow occurred; draining, then must rescan from scanBlock.
	markInvalid                              // rescan itself overflowed again; full heap rescan required.
)

// markEngine holds all state for one collector's mark phase: the stack,
// the per-worker header cache, and the overflow-recovery cursor from
// §4.4.4. One markEngine belongs to a Collector (gc.go); EnableParallelMark
// (markparallel.go) gives each helper goroutine its own headerCache but
// shares the stack and blacklist.
type markEngine struct {
	idx       *heapIndex
	arena     *arena
	blacklist *blackList

	stack *markStack
	cache *headerCache

	state markState

	// displacements holds byte offsets registered via
	// Collector.RegisterDisplacement (spec.md §6 register_displacement):
	// a candidate pointer landing exactly offset bytes into an object
	// (rather than at its start) is still recognized as pointing at that
	// object, for client layouts where other objects reference an
	// embedded sub-structure rather than byte 0.
	displacements []uintptr

	// scanBlock is the §4.4.4 "scan pointer": on overflow recovery, the
	// rescan walks every still-unscanned block from here to the end of
	// the heap, re-pushing any block with at least one marked-but-not-
	// necessarily-scanned object. It is a block address, not an object
	// address, because rescan operates at block granularity.
	scanBlock uintptr
}

func newMarkEngine(idx *heapIndex, a *arena, bl *blackList) *markEngine {
	return &markEngine{
		idx:       idx,
		arena:     a,
		blacklist: bl,
		stack:     newMarkStack(),
		cache:     &headerCache{},
		state:     markNone,
	}
}

// resetForCycle resets only the mark-phase bookkeeping itself (state,
// stack, header cache, rescan pointer), per §4.4.1's "state returns to
// NONE between cycles." Mark bits are not cleared here: gc.go's
// clearAllMarksLocked clears them at the start of each cycle.
func (m *markEngine) resetForCycle() {
	m.state = markNone
	m.stack = newMarkStack()
	m.cache.invalidate()
	m.scanBlock = 0
}

// considerCandidate is push_contents's entry point for a raw, untyped
// machine word found during root or object scanning: §4.4.3 steps 1-2,
// "reject words that cannot possibly be a pointer into the heap before
// paying for a header lookup." fromStack selects which blacklist table a
// rejected candidate is recorded against (§4.4.5).
func (m *markEngine) considerCandidate(word uintptr, fromStack bool) {
	if word == 0 {
		return
	}
	if !m.arena.contains(word) {
		return
	}
	blockAddr := word &^ (hblkSize - 1)
	hdr := m.idx.headerFor(m.cache, blockAddr)
	if hdr == nil {
		if fromStack {
			m.blacklist.recordStack(word)
		} else {
			m.blacklist.recordNormal(word)
		}
		return
	}
	if hdr.flags.has(flagFree) {
		return
	}
	m.pushContentsHdr(hdr, word)
}

// pushContentsHdr is §4.4.3's push_contents_hdr: given a header already
// known to cover addr, resolve addr to the object it falls inside
// (rejecting interior pointers the block's objMap can't place, step 3),
// set its mark bit (step 5, returning early if already set), and push
// its descriptor onto the mark stack (step 6) unless the descriptor is
// the zero LENGTH (pointer-free) descriptor.
func (m *markEngine) pushContentsHdr(hdr *blockHeader, addr uintptr) {
	displ := addr - hdr.block
	objStart, ok := hdr.objStart(displ)
	if !ok {
		for _, d := range m.displacements {
			if displ < d {
				continue
			}
			if adj, adjOk := hdr.objStart(displ - d); adjOk {
				objStart, ok = adj, true
				break
			}
		}
	}
	if !ok {
		return
	}
	g := granuleOf(objStart - hdr.block)
	if hdr.setMarked(g) {
		return // already marked this cycle; nothing new to scan.
	}
	descr := hdr.descr
	if hdr.flags.has(flagRelocateDescr) {
		// Finalized objects carry their true descriptor one word in,
		// behind the closure tag word finalize.go installs at offset 0;
		// see finalize.go's finalizedObjDescr for the encoding.
		descr = finalizedObjDescr(objStart)
	}
	m.stack.push(objStart, descr)
}

// markFrom drains up to budget mark-stack entries (§4.4.4's bounded-work
// contract: "mark_from returns control to the caller after a bounded
// amount of work, so incremental collection can interleave with the
// mutator"). It returns true when the stack is empty (this mark pass is
// complete) and false when budget ran out with work still pending.
func (m *markEngine) markFrom(budget int) (done bool) {
	for i := 0; i < budget; i++ {
		e, ok := m.stack.pop()
		if !ok {
			return true
		}
		m.scanOne(e)
		if m.stack.overflow {
			m.handleOverflow()
			return false
		}
	}
	return m.stack.len() == 0
}

// scanOne dispatches a single mark-stack entry by its descriptor tag,
// per §4.4.2's four descriptor kinds.
func (m *markEngine) scanOne(e markStackEntry) {
	switch e.descr.tag() {
	case descrTagLength:
		m.scanConservative(e.start, e.descr.length())
	case descrTagBitmap:
		m.scanBitmap(e.start, e.descr.bitmap())
	case descrTagProc:
		idx, env := e.descr.procIndexAndEnv()
		if idx < 0 || idx >= maxMarkProcs || markProcTable[idx] == nil {
			return // a procedure index with nothing registered is a no-op, not a crash.
		}
		markProcTable[idx](e.start, m.stack, env)
	case descrTagPerObj:
		displ := e.descr.perObjectDispl()
		var real markDescr
		if displ < 0 {
			// Negative displacement indirects through the object's
			// first word, per §4.4.2.
			real = markDescr(readUintptr(e.start))
		} else {
			real = markDescr(readUintptr(e.start + uintptr(displ)))
		}
		m.stack.push(e.start, real)
	}
}

// scanConservative treats [start, start+n) as an array of machine words,
// each a candidate pointer, matching §4.4.2's LENGTH descriptor: "scan
// [start, start+len) conservatively, one machine word at a time."
func (m *markEngine) scanConservative(start, n uintptr) {
	for off := uintptr(0); off+ptrSize <= n; off += ptrSize {
		word := readUintptr(start + off)
		m.considerCandidate(word, false)
	}
}

// scanBitmap scans only the pointer-aligned slots flagged in bits, most
// significant bit first, per §4.4.2's BITMAP descriptor.
func (m *markEngine) scanBitmap(start uintptr, bits uintptr) {
	nbits := (ptrSize*8 - 2)
	for i := uintptr(0); i < nbits; i++ {
		bit := bits & (1 << (nbits - 1 - i))
		if bit == 0 {
			continue
		}
		word := readUintptr(start + i*ptrSize)
		m.considerCandidate(word, false)
	}
}

// handleOverflow implements §4.4.4's overflow recovery: discard the
// oldest markStackDiscards entries (they stay marked; they just lose
// their place in this pass's work queue) and move the state machine
// forward so the caller knows a rescan is needed once the stack drains.
// A second overflow while already recovering (PARTIALLY_INVALID) means
// the discard itself wasn't enough slack, so the engine escalates to a
// full-heap INVALID rescan rather than looping forever on partial ones.
func (m *markEngine) handleOverflow() {
	m.stack.overflow = false
	m.stack.discardOldest(markStackDiscards)
	switch m.state {
	case markPartiallyInvalid:
		m.state = markInvalid
		m.scanBlock = 0
	default:
		m.state = markPartiallyInvalid
		m.scanBlock = 0
	}
}

// rescanFromScanPtr implements the PARTIALLY_INVALID/INVALID recovery
// walk of §4.4.4: visit every block from scanBlock onward, and for any
// block with marked-but-possibly-unscanned objects (anyMarked), re-push
// every marked object's descriptor so the stack drain can reach anything
// the earlier overflow discarded. It processes at most maxBlocksPerStep
// blocks per call so it shares the same bounded-work contract as
// markFrom, and returns the next scanBlock to resume from (0 once done).
func (m *markEngine) rescanFromScanPtr(maxBlocksPerStep int) (next uintptr, done bool) {
	addr := m.scanBlock
	steps := 0
	for steps < maxBlocksPerStep {
		hdr := m.idx.findHeader(addr | 1) // |1 keeps the lookup off a potential 0 sentinel; findHeader masks to block anyway.
		if hdr != nil && !hdr.flags.has(flagFree) && hdr.anyMarked() {
			m.rescanBlock(hdr)
		}
		if hdr != nil && hdr.nBlocks > 0 {
			addr = hdr.block + hdr.nBlocks*hblkSize
		} else {
			addr += hblkSize
		}
		steps++
		if !m.arena.contains(addr) {
			m.scanBlock = 0
			return 0, true
		}
	}
	m.scanBlock = addr
	return addr, false
}

// rescanBlock re-pushes the descriptor for every marked object in hdr,
// so that a discard during overflow recovery cannot silently leave a
// reachable object's referents unscanned.
func (m *markEngine) rescanBlock(hdr *blockHeader) {
	if hdr.flags.has(flagLargeBlock) {
		if hdr.isMarked(0) {
			m.stack.push(hdr.block, hdr.descr)
		}
		return
	}
	n := hdr.granules()
	objBytes := hdr.objBytes
	if objBytes == 0 {
		objBytes = granuleSize
	}
	for off := uintptr(0); off < n; off += objBytes / granuleSize {
		if hdr.isMarked(off) {
			m.stack.push(hdr.block+off*granuleSize, hdr.descr)
		}
	}
}
