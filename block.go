// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "sync/atomic"

// blockHeader is the per-block attribute record from §3 "Block header".
// A multi-block object has exactly one primary blockHeader, installed at
// its first hblk, plus forwarding entries in the heap index for every
// subsequent block (see heapindex.go); it never has more than one
// blockHeader.
//
// Mirrors the shape of the teacher's mspan (mheap.go) and bdwgc's
// hblkhdr (original_source/headers.c / gc_priv.h): both keep size class,
// flags, a mark bitmap, and free-list/reclaim-list links on the same
// per-block record rather than scattering them across parallel arrays.
type blockHeader struct {
	kind  int32      // index into the kind table; see kinds.go.
	sz    uintptr    // in-use: bytes in the whole block. free: bytes in the whole block.
	descr markDescr  // pointer-layout descriptor template for objects in this block.
	flags blockFlags

	// objBytes is the fixed size of each object a small-object block
	// (one carved by allocState.newHblk) holds; 0 for a flagLargeBlock
	// header, whose single object occupies the whole block. Recorded
	// directly, rather than inferred from objMap run lengths, so sweep
	// and rescan code (reclaim.go, mark.go) has an O(1) way to recover
	// the granule stride a block was built with.
	objBytes uintptr

	block   uintptr // address of the block this header describes.
	nBlocks uintptr // number of hblkSize blocks this header's run spans.

	// marks is one byte per granule slot in the block; nonzero means
	// marked. A sentinel byte past the last object's last granule is
	// always kept set to 1 so that sweep loops can treat "next mark
	// bit" as a natural loop terminator without a separate bounds
	// check, matching §3's "always includes a sentinel bit."
	marks []byte

	// nMarks is an approximate popcount of marks, maintained with
	// atomic adds so parallel marking (§4.4.6) can update it without a
	// lock. Per §5(c): undercount by a bounded amount is tolerable,
	// but a zero value must always mean "definitely no marked objects."
	nMarks int32

	// objMap translates a byte displacement within the block to the
	// granule offset of the object that owns it; absent (nil) for
	// flagLargeBlock headers, whose only valid displacement is 0 (or a
	// registered one, see §4.4.3 step 2).
	objMap []byte

	lastReclaimed uint32 // generation counter at last sweep/allocation.

	// next/prev thread this header onto whichever list
	// currently owns it: the block allocator's free list (blockalloc.go),
	// a kind's reclaim list (reclaim.go), or nothing, never more than
	// one at a time.
	next, prev *blockHeader
}

// granules reports how many granules the block's sz implies, used both
// to size the marks bitmap and to walk objects during sweep.
func (h *blockHeader) granules() uintptr {
	if h.sz == 0 {
		return 0
	}
	return (h.nBlocks*hblkSize + granuleSize - 1) / granuleSize
}

// initMarks (re)allocates the mark bitmap for a freshly installed or
// resized header and plants the sentinel bit past the end, per §3.
func (h *blockHeader) initMarks() {
	n := h.granules()
	h.marks = make([]byte, n+1)
	h.marks[n] = 1
	atomic.StoreInt32(&h.nMarks, 0)
}

// clearMarks resets all mark bits to 0 at the start of a new cycle
// (GLOSSARY "Grungy / dirty"; marks are "cleared at the start of the
// next cycle" per §3 Lifecycles), preserving the sentinel.
func (h *blockHeader) clearMarks() {
	for i := range h.marks {
		h.marks[i] = 0
	}
	if n := h.granules(); n < uintptr(len(h.marks)) {
		h.marks[n] = 1
	}
	atomic.StoreInt32(&h.nMarks, 0)
}

// granuleOf returns the granule index within the block for displacement
// displ bytes from the block base.
func granuleOf(displ uintptr) uintptr { return displ / granuleSize }

// isMarked reports whether the granule at index g is marked.
func (h *blockHeader) isMarked(g uintptr) bool {
	return g < uintptr(len(h.marks)) && h.marks[g] != 0
}

// setMarked sets the granule's mark bit and returns whether it was
// already set, matching §4.4.3 step 5 ("if it was already set, return").
func (h *blockHeader) setMarked(g uintptr) (wasSet bool) {
	if g >= uintptr(len(h.marks)) {
		return true
	}
	if h.marks[g] != 0 {
		return true
	}
	h.marks[g] = 1
	atomic.AddInt32(&h.nMarks, 1)
	return false
}

// anyMarked reports whether nMarks indicates at least one marked object.
// Per §5(c), a zero reading is always authoritative; a nonzero one may
// overcount transiently under parallel marking.
func (h *blockHeader) anyMarked() bool { return atomic.LoadInt32(&h.nMarks) != 0 }

// objStart resolves a displacement within the block to the start of the
// object that owns it, using the per-kind objMap (§4.4.3 step 3), or the
// block base for a large-block header.
func (h *blockHeader) objStart(displ uintptr) (start uintptr, ok bool) {
	if h.flags.has(flagLargeBlock) {
		if displ == 0 {
			return h.block, true
		}
		return 0, false
	}
	g := granuleOf(displ)
	if h.objMap == nil || g >= uintptr(len(h.objMap)) {
		return 0, false
	}
	back := uintptr(h.objMap[g])
	objGranule := g - back
	return h.block + objGranule*granuleSize, true
}

// buildObjMap fills objMap for a block holding fixed-size objects of sz
// bytes (sz a multiple of granuleSize), so that every granule maps back
// to the start of the object containing it. Grounded on the teacher's
// heapBits/spanclass machinery (mbitmap-style "which object owns this
// word" lookup), simplified to the explicit per-kind map the spec calls
// for in §3 ("map — per-kind map from byte displacement to granule
// offset").
func (h *blockHeader) buildObjMap(objBytes uintptr) {
	granulesPerObj := objBytes / granuleSize
	n := h.granules()
	h.objMap = make([]byte, n)
	for i := uintptr(0); i < n; i++ {
		h.objMap[i] = byte(i % granulesPerObj)
	}
}
