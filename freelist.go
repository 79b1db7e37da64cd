// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

// Free-list links live inside the arena, at the first word of the free
// object itself, per §3: "the first word of each free object is the
// link." linkAt/setLinkAt read and write that word directly in arena
// memory rather than through a Go pointer, matching §4.3's invariant
// that "the first-word-low-bit is always 0 on free objects" -- these
// helpers always write aligned, tag-clear values.

func linkAt(addr uintptr) uintptr  { return readUintptr(addr) }
func setLinkAt(addr uintptr, next uintptr) { writeUintptr(addr, next) }

// buildFl constructs a free list inside a freshly opened or swept block,
// per §4.3 build_fl: lays objBytes-sized objects end to end from block's
// start for n objects, optionally zeroing each one, and appends the
// existing list tail so the new head subsumes it. Returns the new head.
func buildFl(block uintptr, n uintptr, objBytes uintptr, clear bool, tail uintptr) uintptr {
	if n == 0 {
		return tail
	}
	if clear {
		zeroRange(block, n*objBytes)
	}
	head := block
	for i := uintptr(0); i < n; i++ {
		addr := block + i*objBytes
		var next uintptr
		if i+1 < n {
			next = block + (i+1)*objBytes
		} else {
			next = tail
		}
		setLinkAt(addr, next)
	}
	return head
}

// allocState is the allocator-lock-held state generic_malloc_inner and
// friends operate on: the kind table, block allocator, and per-kind
// bookkeeping the sweep/reclaim path also touches. It is embedded in
// Collector (see gc.go) rather than duplicated there.
type allocState struct {
	kinds     *kindTable
	blocks    *blockAllocator
	sweeper   *sweepState // see reclaim.go; nil until the first collection.
	bytesAllocdSinceGC uintptr

	// largeBlocks is every flagLargeBlock header currently allocated,
	// across all kinds, swept directly by sweepLargeBlocks (reclaim.go)
	// rather than through a kind's granule-indexed reclaimList, since a
	// large object is its own block with no free-list geometry to speak
	// of.
	largeBlocks []*blockHeader
}

// genericMallocInner is the allocator-lock-held allocation path, §4.3.
// For small requests it pops a kind's free list, refilling from a swept
// reclaim candidate or a fresh block as needed; for large requests it
// goes straight to allochblk.
func (a *allocState) genericMallocInner(bytes uintptr, kindID int32, flags blockFlags) (uintptr, error) {
	k, err := a.kinds.get(int(kindID))
	if err != nil {
		return 0, err
	}

	if bytes > maxObjBytes {
		return a.largeAlloc(bytes, kindID, flags, k)
	}

	g := granulesFor(bytes)
	objBytes := g * granuleSize

	if head := k.freeList[g]; head != 0 {
		k.freeList[g] = linkAt(head)
		setLinkAt(head, 0)
		a.bytesAllocdSinceGC += objBytes
		return head, nil
	}

	if err := a.refillFreeList(k, g, objBytes); err != nil {
		return 0, err
	}
	head := k.freeList[g]
	if head == 0 {
		return 0, ErrOutOfMemory
	}
	k.freeList[g] = linkAt(head)
	setLinkAt(head, 0)
	a.bytesAllocdSinceGC += objBytes
	return head, nil
}

// refillFreeList implements the "on empty, refills via new_hblk" and
// "on exhaustion, falls back to allochblk" discipline of §4.3: first try
// a block already queued for sweeping by this granule size (continue
// reclaim, §4.7), and only if that yields nothing, carve a fresh block.
func (a *allocState) refillFreeList(k *kind, g uintptr, objBytes uintptr) error {
	if a.sweeper != nil {
		if a.sweeper.continueReclaim(a, k, g) {
			return nil
		}
	}
	return a.newHblk(k, g, objBytes)
}

// newHblk carves a fresh block sized for objects of objBytes and threads
// it onto k's free list for granule g, per §4.3.
func (a *allocState) newHblk(k *kind, g uintptr, objBytes uintptr) error {
	const blockPayload = 32 * hblkSize // amortize allochblk calls across many objects.
	n := blockPayload / objBytes
	if n == 0 {
		n = 1
	}
	flags := blockFlags(0)
	if k.relocateDescr {
		flags |= flagRelocateDescr
	}
	h, err := a.blocks.allochblk(n*objBytes, int32(k.id), flags)
	if err != nil {
		return err
	}
	if k.autoLengthDescr {
		h.descr = LengthDescr(objBytes)
	} else {
		h.descr = k.descrTemplate
	}
	h.buildObjMap(objBytes)
	h.objBytes = objBytes
	k.allBlocks = append(k.allBlocks, h)
	k.freeList[g] = buildFl(h.block, n, objBytes, k.initOnFree, k.freeList[g])
	return nil
}

// largeAlloc serves requests bigger than maxObjBytes directly from the
// block allocator, per §4.3 "For large sizes, goes directly to
// allochblk" and §4.4.2's flagLargeBlock handling.
func (a *allocState) largeAlloc(bytes uintptr, kindID int32, flags blockFlags, k *kind) (uintptr, error) {
	if k.relocateDescr {
		flags |= flagRelocateDescr
	}
	h, err := a.blocks.allochblk(bytes, kindID, flags|flagLargeBlock)
	if err != nil {
		return 0, err
	}
	if k.autoLengthDescr {
		h.descr = LengthDescr(h.sz)
	} else {
		h.descr = k.descrTemplate
	}
	h.objMap = nil
	if k.initOnFree {
		zeroRange(h.block, h.sz)
	}
	a.bytesAllocdSinceGC += h.sz
	a.largeBlocks = append(a.largeBlocks, h)
	return h.block, nil
}

// genericMallocMany fills a batch free list for thread-local caches in
// one critical section, per §4.3's refill discipline: "the thread-local
// path requests a batch via generic_malloc_many(bytes, kind, &my_fl)."
func (a *allocState) genericMallocMany(bytes uintptr, kindID int32, batch int) (head uintptr, err error) {
	k, err := a.kinds.get(int(kindID))
	if err != nil {
		return 0, err
	}
	if bytes > maxObjBytes {
		return 0, ErrConfigUnsupported // batching only makes sense for the small-object path.
	}
	g := granulesFor(bytes)
	objBytes := g * granuleSize

	for i := 0; i < batch; i++ {
		if k.freeList[g] == 0 {
			if err := a.refillFreeList(k, g, objBytes); err != nil {
				break // return whatever we already pulled off; partial batches are fine.
			}
		}
		if k.freeList[g] == 0 {
			break
		}
		next := k.freeList[g]
		k.freeList[g] = linkAt(next)
		setLinkAt(next, head)
		head = next
	}
	if head == 0 {
		return 0, ErrOutOfMemory
	}
	return head, nil
}
