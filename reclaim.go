// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

// sweepState drives the lazy, incremental sweep of §4.7: "sweeping is not
// a single phase that runs to completion before the mutator resumes; it
// is driven lazily, a block at a time, by allocation itself." Grounded on
// the teacher's mcentral/mspan lazy sweep (mcentral.go: "grow adds a span
// to the mcentral's non-empty set"; mgcsweep.go's background sweeper
// drained incrementally by allocation) and original_source's
// GC_reclaim_all / GC_continue_reclaim in gc_priv.h.
type sweepState struct {
	idx    *heapIndex
	blocks *blockAllocator

	// pending[k.id][g] holds blocks of kind k.id, granule size g, that
	// start_reclaim queued for sweeping but continue_reclaim has not
	// yet fully processed. Each list is threaded through blockHeader.next,
	// exactly like kind.reclaimList, because a block belongs to at most
	// one such list at a time (§4.7's ownership invariant).
	pending [maxObjKinds][maxObjGranules + 1]*blockHeader

	generation uint32
}

func newSweepState(idx *heapIndex, blocks *blockAllocator) *sweepState {
	return &sweepState{idx: idx, blocks: blocks}
}

// startReclaim implements §4.7 start_reclaim: called once per cycle,
// after marking completes, to seed every kind's pending-sweep list from
// its full block set (allBlocks), not merely the blocks left over from a
// prior cycle's partial sweep -- every block, including one that was
// entirely free before this cycle began, must be re-examined, since a
// block that is still entirely free is exactly the case reclaim should
// hand back to the block allocator (see reclaimGeneric/continueReclaim's
// "freed == every object" path). Per-kind free lists are reset here: a
// free object only regains free-list membership once reclaimGeneric has
// re-confirmed it is still unmarked. Mark-bit clearing for the blocks
// this seeds happens earlier in the cycle, before the mark pass runs --
// see gc.go's clearAllMarksLocked -- since the marks this sweep is about
// to read are this same cycle's, not stale ones.
func (s *sweepState) startReclaim(kinds *kindTable) {
	s.generation++
	for i := 0; i < kinds.n; i++ {
		k := kinds.kinds[i]
		if k == nil || k.markUnconditionally {
			continue // UNCOLLECTABLE kinds are never swept; see reclaimGeneric.
		}
		for g := range k.freeList {
			k.freeList[g] = 0
		}
		for g := range k.reclaimList {
			k.reclaimList[g] = nil
		}
		for _, h := range k.allBlocks {
			if h.objBytes == 0 {
				continue
			}
			g := h.objBytes / granuleSize
			h.next = s.pending[i][g]
			s.pending[i][g] = h
		}
	}
}

// removeFromAllBlocks drops h from k.allBlocks once it has been returned
// to the block allocator with freehblk -- the block no longer belongs to
// kind k at all, and must not be re-examined by a future startReclaim.
func removeFromAllBlocks(k *kind, h *blockHeader) {
	for i, b := range k.allBlocks {
		if b == h {
			k.allBlocks[i] = k.allBlocks[len(k.allBlocks)-1]
			k.allBlocks = k.allBlocks[:len(k.allBlocks)-1]
			return
		}
	}
}

// continueReclaim implements §4.7 continue_reclaim: pop one pending
// block for kind k's granule size g, sweep it (reclaimGeneric), and
// thread any objects it frees onto k's free list. Returns true if it
// produced at least one free object, so refillFreeList (freelist.go)
// knows whether to fall through to carving a fresh block. It deliberately
// processes at most one block per call -- the "a block at a time" pacing
// §4.7 calls for -- rather than draining the whole pending list, so
// allocation latency stays bounded.
func (s *sweepState) continueReclaim(a *allocState, k *kind, g uintptr) bool {
	h := s.pending[k.id][g]
	if h == nil {
		return false
	}
	s.pending[k.id][g] = h.next
	h.next = nil

	freed := s.reclaimGeneric(h, k, g)
	total := int(h.sz / h.objBytes)
	switch {
	case freed == 0:
		// The block had no garbage at all (every object still marked);
		// return it to the kind's live set by reinstalling it on the
		// reclaim list for next cycle instead of the free list.
		k.reclaimList[g] = prependBlock(k.reclaimList[g], h)
		return false
	case freed == total:
		// Every object was garbage: hand the whole block back to the
		// block allocator instead of threading it onto the kind's free
		// list, matching reclaimAll's equivalent branch.
		removeFromAllBlocks(k, h)
		s.blocks.freehblk(h)
		return false
	}
	k.freeList[g] = buildFlFromSwept(h, g, k, k.freeList[g])
	h.lastReclaimed = s.generation
	return true
}

// reclaimGeneric sweeps one block: for every object slot, if its mark bit
// is clear it is garbage and gets threaded onto that block's internal
// free list (via buildFlFromSwept); if set, the bit is left as-is (the
// following cycle's gc.go clearAllMarksLocked resets it before that
// cycle's own mark pass runs, per §3 Lifecycles) and the object's storage
// is left untouched. Returns the count of objects reclaimed, so callers
// can distinguish "fully live block" from "had garbage."
//
// A per-kind disclaim callback (§4.8) gets one last look at an object
// about to become garbage: if it returns true the object survives this
// cycle, counted as not-reclaimed, and its mark bit is forced back on so
// clearMarks doesn't later treat it as already-dead storage.
func (s *sweepState) reclaimGeneric(h *blockHeader, k *kind, g uintptr) int {
	if k.markUnconditionally {
		// UNCOLLECTABLE objects (gc.go) are never reclaimed, by
		// definition, regardless of mark state; see §8 "objects
		// allocated uncollectable are never reclaimed."
		return 0
	}
	objBytes := h.objBytes
	if objBytes == 0 {
		return 0
	}
	n := h.sz / objBytes
	freed := 0
	for i := uintptr(0); i < n; i++ {
		granule := i * g
		if h.isMarked(granule) {
			continue
		}
		objAddr := h.block + i*objBytes
		if k.disclaim != nil && k.disclaim(objAddr) {
			h.setMarked(granule)
			continue
		}
		freed++
	}
	return freed
}

// buildFlFromSwept threads every unmarked (garbage) object in h onto
// tail, returning the new free-list head. Separated from buildFl
// (freelist.go) because a swept block's free objects are interleaved
// with still-live ones, unlike a freshly carved block where every object
// starts free.
func buildFlFromSwept(h *blockHeader, g uintptr, k *kind, tail uintptr) uintptr {
	objBytes := h.objBytes
	if objBytes == 0 {
		return tail
	}
	n := h.sz / objBytes
	head := tail
	for i := uintptr(0); i < n; i++ {
		granule := i * g
		if h.isMarked(granule) {
			continue
		}
		objAddr := h.block + i*objBytes
		if k.initOnFree {
			zeroRange(objAddr, objBytes)
		}
		setLinkAt(objAddr, head)
		head = objAddr
	}
	return head
}

// reclaimAll implements §4.7 reclaim_all: used for a full, synchronous
// sweep (e.g. a non-incremental GCollect, or shutting down and wanting
// every byte accounted for) rather than the lazy per-allocation pacing
// continueReclaim provides. It drains every pending list completely and
// returns any now-fully-free blocks to the block allocator via freehblk,
// matching §4.7's "blocks with zero surviving objects are returned to
// the block allocator, not retained on any kind's free list." Returns
// the total bytes occupied by objects that survived the sweep, for
// gcstat.BytesLive (gc.go) -- markUnconditionally kinds are skipped by
// the loop below the same way startReclaim skips them, so an
// UNCOLLECTABLE object's bytes are never counted as "live" by this
// figure; it measures what the mark/sweep pass itself retained.
func (s *sweepState) reclaimAll(kinds *kindTable) uintptr {
	var liveBytes uintptr
	for ki := 0; ki < kinds.n; ki++ {
		k := kinds.kinds[ki]
		if k == nil || k.markUnconditionally {
			continue
		}
		for g := range s.pending[ki] {
			for h := s.pending[ki][g]; h != nil; {
				next := h.next
				h.next = nil
				freed := s.reclaimGeneric(h, k, uintptr(g))
				total := int(h.sz / h.objBytes)
				if freed == total {
					// Every object in the block was garbage: return the
					// whole block rather than threading it onto the
					// kind's free list, per §4.7.
					removeFromAllBlocks(k, h)
					s.blocks.freehblk(h)
				} else if freed > 0 {
					k.freeList[uintptr(g)] = buildFlFromSwept(h, uintptr(g), k, k.freeList[uintptr(g)])
					liveBytes += uintptr(total-freed) * h.objBytes
				} else {
					k.reclaimList[uintptr(g)] = prependBlock(k.reclaimList[uintptr(g)], h)
					liveBytes += uintptr(total) * h.objBytes
				}
				h = next
			}
			s.pending[ki][g] = nil
		}
	}
	return liveBytes
}

func prependBlock(list *blockHeader, h *blockHeader) *blockHeader {
	h.next = list
	return h
}

// sweepLargeBlocks implements the large-object half of §4.7's sweep:
// large objects have no free-list geometry, so instead of threading
// garbage onto a kind's free list, an unmarked large block is returned
// to the block allocator outright and a marked one is kept (with its
// mark bit left for clearMarks to reset next cycle). Called once per
// GCollect cycle, after the mark phase, directly from gc.go -- large
// allocations are rare enough on the conservative-GC hot path that a
// linear scan over allocState.largeBlocks per cycle is the right
// trade-off against the bookkeeping a granule-indexed reclaim list would
// need for single-object blocks.
// Returns the combined size of every large block that survived, to be
// added to reclaimAll's live-byte count.
func (s *sweepState) sweepLargeBlocks(a *allocState) uintptr {
	var liveBytes uintptr
	kept := a.largeBlocks[:0]
	for _, h := range a.largeBlocks {
		if h.anyMarked() {
			kept = append(kept, h)
			liveBytes += h.sz
			continue
		}
		s.blocks.freehblk(h)
	}
	a.largeBlocks = kept
	return liveBytes
}
