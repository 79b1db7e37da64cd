// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "testing"

// TestConsiderCandidateRejectsNonHeapWords exercises §4.4.3 steps 1-2:
// a zero word and a word outside the arena must never reach a header
// lookup, let alone get pushed.
func TestConsiderCandidateRejectsNonHeapWords(t *testing.T) {
	c := newTestCollector(1 << 20)

	c.mark.considerCandidate(0, false)
	if c.mark.stack.len() != 0 {
		t.Fatal("a zero word must never be pushed")
	}

	c.mark.considerCandidate(^uintptr(0), false) // far outside any arena section.
	if c.mark.stack.len() != 0 {
		t.Fatal("a word outside the arena must never be pushed")
	}
}

// TestConsiderCandidateBlacklistsUnknownHeapWord exercises the path
// where a word falls inside the arena but resolves to no live header
// (e.g. a stale or coincidental bit pattern): it must be recorded in the
// blacklist instead of crashing or silently pushing garbage.
func TestConsiderCandidateBlacklistsUnknownHeapWord(t *testing.T) {
	c := newTestCollector(4 << 20)

	obj, err := c.Malloc(64)
	if err != nil {
		t.Fatal(err)
	}
	// One block past the live allocation's block, still inside the
	// committed arena, but never carved into a header.
	bogus := (obj &^ (hblkSize - 1)) + 64*hblkSize

	c.mark.considerCandidate(bogus, false)
	if c.mark.stack.len() != 0 {
		t.Fatal("a word resolving to no live header must not be pushed")
	}
}

// TestPushContentsHdrMarksOnce exercises §4.4.3 step 5: pushing the same
// object twice must mark it once and push its descriptor only the first
// time.
func TestPushContentsHdrMarksOnce(t *testing.T) {
	c := newTestCollector(4 << 20)

	obj, err := c.Malloc(32)
	if err != nil {
		t.Fatal(err)
	}

	c.mark.considerCandidate(obj, false)
	if c.mark.stack.len() != 1 {
		t.Fatalf("first candidate should push exactly one entry, got %d", c.mark.stack.len())
	}

	c.mark.considerCandidate(obj, false)
	if c.mark.stack.len() != 1 {
		t.Fatal("re-pushing an already-marked object must be a no-op")
	}
}

// TestScanBitmapOnlyFollowsFlaggedSlots exercises the BITMAP descriptor
// path: only pointer-aligned slots flagged in the bitmap are treated as
// candidates, most-significant bit first.
func TestScanBitmapOnlyFollowsFlaggedSlots(t *testing.T) {
	c := newTestCollector(4 << 20)

	container, err := c.MallocAtomic(4 * ptrSize)
	if err != nil {
		t.Fatal(err)
	}
	ptrA, err := c.Malloc(16)
	if err != nil {
		t.Fatal(err)
	}
	ptrB, err := c.Malloc(16)
	if err != nil {
		t.Fatal(err)
	}
	// Slot 0 holds a pointer we mean to follow; slot 1 does not (the bit
	// is left clear for it); slot 2 holds another followed pointer.
	writeUintptr(container+0*ptrSize, ptrA)
	writeUintptr(container+1*ptrSize, ptrB) // present but unflagged: must NOT be scanned.
	writeUintptr(container+2*ptrSize, ptrB)

	nbits := ptrSize*8 - 2
	bits := uintptr(1)<<(nbits-1) | uintptr(1)<<(nbits-3) // flag slot 0 and slot 2 only.

	c.mark.scanBitmap(container, bits)

	foundA, foundB := false, false
	for c.mark.stack.len() > 0 {
		e, _ := c.mark.stack.pop()
		if e.start == ptrA {
			foundA = true
		}
		if e.start == ptrB {
			foundB = true
		}
	}
	if !foundA {
		t.Fatal("flagged slot 0's pointer should have been pushed")
	}
	if !foundB {
		t.Fatal("flagged slot 2's pointer should have been pushed")
	}
}

// TestScanOneProcDispatchesRegisteredProc exercises the PROC descriptor
// path: scanOne must look up the registered procedure by index and
// invoke it with the entry's start address and environment word.
func TestScanOneProcDispatchesRegisteredProc(t *testing.T) {
	c := newTestCollector(4 << 20)

	var gotStart, gotEnv uintptr
	idx, err := RegisterMarkProc(func(start uintptr, stack *markStack, env uintptr) {
		gotStart, gotEnv = start, env
	})
	if err != nil {
		t.Fatal(err)
	}

	const env = 0xABCD
	c.mark.scanOne(markStackEntry{start: 0x1234, descr: ProcDescr(idx, env)})

	if gotStart != 0x1234 || gotEnv != env {
		t.Fatalf("proc called with (%#x, %#x), want (0x1234, 0x%x)", gotStart, gotEnv, env)
	}
}

// TestScanOneProcMissingIndexIsNoop exercises a PROC descriptor whose
// index has nothing registered: scanOne must treat it as a no-op rather
// than indexing off the end of markProcTable or panicking.
func TestScanOneProcMissingIndexIsNoop(t *testing.T) {
	c := newTestCollector(1 << 20)
	c.mark.scanOne(markStackEntry{start: 0, descr: ProcDescr(maxMarkProcs-1, 0)})
	if c.mark.stack.len() != 0 {
		t.Fatal("an unregistered proc index must push nothing")
	}
}

// TestScanOnePerObjectIndirectsThroughOffset exercises the PER_OBJECT
// descriptor path: a positive displacement reads the real descriptor
// from start+displ and re-pushes the same start with it.
func TestScanOnePerObjectIndirectsThroughOffset(t *testing.T) {
	c := newTestCollector(4 << 20)

	obj, err := c.MallocAtomic(3 * ptrSize)
	if err != nil {
		t.Fatal(err)
	}
	real := LengthDescr(16)
	writeUintptr(obj+1*ptrSize, uintptr(real))

	c.mark.scanOne(markStackEntry{start: obj, descr: PerObjectDescr(int(ptrSize))})

	e, ok := c.mark.stack.pop()
	if !ok {
		t.Fatal("PER_OBJECT dispatch should push the resolved descriptor")
	}
	if e.start != obj || e.descr != real {
		t.Fatalf("got {%#x, %#x}, want {%#x, %#x}", e.start, e.descr, obj, real)
	}
}

// TestScanOnePerObjectNegativeIndirectsThroughFirstWord exercises a
// negative PER_OBJECT displacement: the real descriptor is read from the
// object's own first word.
func TestScanOnePerObjectNegativeIndirectsThroughFirstWord(t *testing.T) {
	c := newTestCollector(4 << 20)

	obj, err := c.MallocAtomic(2 * ptrSize)
	if err != nil {
		t.Fatal(err)
	}
	real := BitmapDescr(1 << 10)
	writeUintptr(obj, uintptr(real))

	c.mark.scanOne(markStackEntry{start: obj, descr: PerObjectDescr(-1)})

	e, ok := c.mark.stack.pop()
	if !ok || e.start != obj || e.descr != real {
		t.Fatalf("negative-displacement PER_OBJECT dispatch resolved incorrectly: ok=%v e=%+v", ok, e)
	}
}

// TestHandleOverflowEscalatesOnSecondOverflow exercises §4.4.4's state
// machine: the first overflow moves to PARTIALLY_INVALID; a second
// overflow while already recovering escalates to INVALID rather than
// looping between the two.
func TestHandleOverflowEscalatesOnSecondOverflow(t *testing.T) {
	c := newTestCollector(1 << 20)

	c.mark.state = markRootsPushed
	c.mark.stack.overflow = true
	c.mark.handleOverflow()
	if c.mark.state != markPartiallyInvalid {
		t.Fatalf("first overflow should move to PARTIALLY_INVALID, got %v", c.mark.state)
	}

	c.mark.stack.overflow = true
	c.mark.handleOverflow()
	if c.mark.state != markInvalid {
		t.Fatalf("second overflow should escalate to INVALID, got %v", c.mark.state)
	}
}

// TestRescanBlockRepushesOnlyMarkedObjects exercises rescanBlock's role
// in overflow recovery: only granules with a set mark bit get re-pushed,
// since an unmarked object was never reachable in the first place.
func TestRescanBlockRepushesOnlyMarkedObjects(t *testing.T) {
	c := newTestCollector(4 << 20)

	live, err := c.Malloc(16)
	if err != nil {
		t.Fatal(err)
	}
	dead, err := c.Malloc(16)
	if err != nil {
		t.Fatal(err)
	}

	hdr := c.idx.findHeader(live)
	if hdr == nil {
		t.Fatal("missing header for live object")
	}
	hdr.setMarked(granuleOf(live - hdr.block))

	c.mark.rescanBlock(hdr)

	foundLive := false
	for c.mark.stack.len() > 0 {
		e, _ := c.mark.stack.pop()
		if e.start == live {
			foundLive = true
		}
		if e.start == dead {
			t.Fatal("an unmarked object must not be re-pushed during rescan")
		}
	}
	if !foundLive {
		t.Fatal("the marked object should have been re-pushed during rescan")
	}
}

// TestConsiderCandidateRejectsFreeBlock exercises the flagFree check in
// considerCandidate: a candidate pointer into a block already returned
// to the allocator must not be treated as live.
func TestConsiderCandidateRejectsFreeBlock(t *testing.T) {
	c := newTestCollector(4 << 20)

	obj, err := c.Malloc(maxObjBytes + 4096) // large block, trivially freed whole.
	if err != nil {
		t.Fatal(err)
	}
	hdr := c.idx.findHeader(obj)
	if hdr == nil {
		t.Fatal("missing header")
	}
	c.blocks.freehblk(hdr)

	c.mark.considerCandidate(obj, false)
	if c.mark.stack.len() != 0 {
		t.Fatal("a pointer into a freed block must not be pushed")
	}
}
