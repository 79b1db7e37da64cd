// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "sync"

// heapIndex is the two-level address -> block-header map from §3 "Heap
// Index" / §4.1. Grounded on the teacher's mheap.arenas two-level arena
// map (mheap.go: "arenas is the heap arena map... a two-level mapping
// consisting of an L1 map and possibly many L2 maps") and on
// original_source's GC_find_header / HDR chasing in gc_hdrs.c.
//
// The top level is a Go map keyed by the upper address bits, which is
// the natural Go rendition of §3's "hashed with chaining" branch — a Go
// map already hashes and chains internally, so there is no separate
// "direct indexed" struct to hand-roll for 64-bit hosts. directTop below
// exists only to exercise the alternate branch spec.md §3 names for
// pointers <= 32 bits; see heapindex_test.go.
type heapIndex struct {
	mu  sync.RWMutex
	top map[uint64]*bottomIndex

	// directTop backs the direct-indexed variant of the top level,
	// used only when direct is true (hosts with <= 32-bit address
	// spaces). Not exercised by the default 64-bit configuration;
	// kept so the alternate branch spec.md §3 describes has a real,
	// tested implementation rather than being silently dropped. See
	// SPEC_FULL.md §3.
	directTop []*bottomIndex
	direct    bool
}

// bottomIndex is the flat array of header slots described in §3: "The
// bottom level is a flat array of BOTTOM_SZ header pointers, one per
// block slot." allNils, below, is the "sentinel all-nils bottom index
// shared by unmapped regions" the same paragraph calls for.
type bottomIndex struct {
	entries [bottomSz]indexEntry
}

// indexEntry is one bottom-array slot. Per §3/§4.1's invariant, a slot
// is in exactly one of three states: empty (both fields zero), a
// forwarding entry (fwdBlocks in (0, maxJump]), or a real header. bdwgc
// encodes this by storing a small integer in a pointer-sized slot and
// telling the two apart with an address-range test; Go has no portable
// way to do that safely, so indexEntry is a small tagged struct instead
// — same three states, without relying on header addresses happening to
// be larger than maxJump.
type indexEntry struct {
	hdr       *blockHeader
	fwdBlocks uint32 // 0 = not a forwarding entry.
}

func (e indexEntry) isForwarding() bool { return e.fwdBlocks > 0 }
func (e indexEntry) isReal() bool       { return e.hdr != nil }
func (e indexEntry) isEmpty() bool      { return e.hdr == nil && e.fwdBlocks == 0 }

// allNils is the shared sentinel bottom index for address ranges that
// have never been touched by install_header/install_counts. It must
// never be mutated; topBottom returns it read-only for lookups and
// allocates a private bottomIndex lazily the first time a caller needs
// to write into a given top-level slot.
var allNils = &bottomIndex{}

func newHeapIndex() *heapIndex {
	return &heapIndex{top: make(map[uint64]*bottomIndex)}
}

func topKey(blockAddr uintptr) uint64 {
	return uint64(blockAddr) >> (logHblkSize + logBottomSz)
}

func bottomSlot(blockAddr uintptr) int {
	return int((blockAddr >> logHblkSize) & (bottomSz - 1))
}

// bottomFor returns the bottomIndex covering blockAddr, allNils if
// nothing has ever been installed there. Caller holds h.mu for reading.
func (h *heapIndex) bottomFor(blockAddr uintptr) *bottomIndex {
	if h.direct {
		idx := int(topKey(blockAddr))
		if idx < 0 || idx >= len(h.directTop) || h.directTop[idx] == nil {
			return allNils
		}
		return h.directTop[idx]
	}
	if b, ok := h.top[topKey(blockAddr)]; ok {
		return b
	}
	return allNils
}

// bottomForWrite returns the bottomIndex covering blockAddr, allocating
// a fresh private one (copying nothing, since allNils is all-zero) if
// the slot was still the shared sentinel. Caller holds h.mu for writing.
func (h *heapIndex) bottomForWrite(blockAddr uintptr) *bottomIndex {
	if h.direct {
		idx := int(topKey(blockAddr))
		if idx >= len(h.directTop) {
			grown := make([]*bottomIndex, idx+1)
			copy(grown, h.directTop)
			h.directTop = grown
		}
		if h.directTop[idx] == nil {
			h.directTop[idx] = &bottomIndex{}
		}
		return h.directTop[idx]
	}
	key := topKey(blockAddr)
	b, ok := h.top[key]
	if !ok {
		b = &bottomIndex{}
		h.top[key] = b
	}
	return b
}

// installHeader returns a fresh header for a newly acquired block,
// registering it in the index. Fails with ErrOutOfMemory only in the
// sense that a real implementation's header-slab allocator could; this
// port's headers are ordinary Go allocations, so the only failure mode
// modeled is the slice growth path, which never actually fails — the
// error return is kept to preserve the §4.1 contract shape.
func (h *heapIndex) installHeader(block uintptr, nBlocks uintptr) (*blockHeader, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hdr := &blockHeader{block: block, nBlocks: nBlocks}
	b := h.bottomForWrite(block)
	b.entries[bottomSlot(block)] = indexEntry{hdr: hdr}
	return hdr, nil
}

// installCounts writes forwarding entries into the nBlocks-1 bottom-index
// slots following block, per §4.1.
func (h *heapIndex) installCounts(hdr *blockHeader, block uintptr, nBlocks uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := uintptr(1); i < nBlocks; i++ {
		addr := block + i*hblkSize
		fwd := i
		for fwd > maxJump {
			// A run longer than maxJump blocks needs a chain of
			// forwarding entries, each pointing at most maxJump
			// blocks back; find_starting_hblk below chases the
			// chain however long it is.
			b := h.bottomForWrite(addr)
			b.entries[bottomSlot(addr)] = indexEntry{fwdBlocks: maxJump}
			addr -= maxJump * hblkSize
			fwd -= maxJump
		}
		b := h.bottomForWrite(addr)
		b.entries[bottomSlot(addr)] = indexEntry{fwdBlocks: uint32(fwd)}
	}
	return nil
}

// removeHeader clears the primary index slot for block.
func (h *heapIndex) removeHeader(block uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.bottomFor(block)
	if b == allNils {
		return
	}
	b.entries[bottomSlot(block)] = indexEntry{}
}

// removeCounts clears the forwarding entries installed by installCounts.
func (h *heapIndex) removeCounts(block uintptr, nBlocks uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := uintptr(1); i < nBlocks; i++ {
		addr := block + i*hblkSize
		b := h.bottomFor(addr)
		if b == allNils {
			continue
		}
		b.entries[bottomSlot(addr)] = indexEntry{}
	}
}

// findHeader chases forwarding entries to return the primary header
// covering address p, or nil. For an interior pointer into a large
// object (flagLargeBlock, spanning multiple hblks), the forwarding chain
// itself resolves to the object's first block, matching §4.1's
// "returns the header of the object's first block."
func (h *heapIndex) findHeader(p uintptr) *blockHeader {
	h.mu.RLock()
	defer h.mu.RUnlock()
	blockAddr := p &^ (hblkSize - 1)
	b := h.bottomFor(blockAddr)
	entry := b.entries[bottomSlot(blockAddr)]
	for hops := 0; entry.isForwarding(); hops++ {
		if hops >= maxForwardingChain {
			Fatal("heap index: forwarding chain from %#x exceeded %d hops", p, maxForwardingChain)
		}
		blockAddr -= uintptr(entry.fwdBlocks) * hblkSize
		b = h.bottomFor(blockAddr)
		entry = b.entries[bottomSlot(blockAddr)]
	}
	return entry.hdr
}

// findStartingHblk implements §4.1's find_starting_hblk: given a block
// address and a tentative entry looked up for it, chase forwarding
// entries of arbitrary chain length and return the resolved block
// address plus its real header (nil if the slot was empty).
func (h *heapIndex) findStartingHblk(blockAddr uintptr) (uintptr, *blockHeader) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	start := blockAddr
	b := h.bottomFor(blockAddr)
	entry := b.entries[bottomSlot(blockAddr)]
	for hops := 0; entry.isForwarding(); hops++ {
		if hops >= maxForwardingChain {
			Fatal("heap index: forwarding chain from %#x exceeded %d hops", start, maxForwardingChain)
		}
		blockAddr -= uintptr(entry.fwdBlocks) * hblkSize
		b = h.bottomFor(blockAddr)
		entry = b.entries[bottomSlot(blockAddr)]
	}
	return blockAddr, entry.hdr
}
