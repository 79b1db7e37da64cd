// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"errors"
	"testing"
)

func newTestBlockAllocator(arenaBytes uintptr) (*blockAllocator, *heapIndex) {
	idx := newHeapIndex()
	ar := &arena{}
	mem := newFakeMemSource(arenaBytes)
	return newBlockAllocator(mem, ar, idx), idx
}

func TestExpandHpInnerGrowsGeometrically(t *testing.T) {
	ba, _ := newTestBlockAllocator(64 << 20)

	first := ba.expandBy
	if err := ba.expandHpInner(1); err != nil {
		t.Fatal(err)
	}
	if ba.expandBy != first*2 {
		t.Fatalf("expandBy should double after each expansion: got %d, want %d", ba.expandBy, first*2)
	}
	if ba.freeList == nil {
		t.Fatal("expandHpInner should leave a free block on the free list")
	}
}

func TestAllochblkSplitsAndReturnsRemainderToFreeList(t *testing.T) {
	ba, _ := newTestBlockAllocator(64 << 20)
	if err := ba.expandHpInner(32); err != nil {
		t.Fatal(err)
	}

	h, err := ba.allochblk(4*hblkSize, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if h.flags.has(flagFree) {
		t.Fatal("an allocated block must not carry flagFree")
	}
	if h.sz != 4*hblkSize {
		t.Fatalf("allochblk returned %d bytes, want %d", h.sz, 4*hblkSize)
	}

	var total uintptr
	for f := ba.freeList; f != nil; f = f.next {
		total += f.sz
	}
	if total != 32*hblkSize-4*hblkSize {
		t.Fatalf("remaining free bytes after split = %d, want %d", total, 32*hblkSize-4*hblkSize)
	}
}

func TestAllochblkFailsWhenNoBlockFits(t *testing.T) {
	ba, _ := newTestBlockAllocator(8 << 20)
	if err := ba.expandHpInner(4); err != nil {
		t.Fatal(err)
	}
	if _, err := ba.allochblk(1000*hblkSize, 0, 0); !errors.Is(err, errRetryGC) {
		t.Fatalf("expected errRetryGC for an oversized request, got %v", err)
	}
}

func TestFreehblkCoalescesAdjacentNeighbors(t *testing.T) {
	ba, _ := newTestBlockAllocator(64 << 20)
	if err := ba.expandHpInner(32); err != nil {
		t.Fatal(err)
	}

	a, err := ba.allochblk(4*hblkSize, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ba.allochblk(4*hblkSize, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	c, err := ba.allochblk(4*hblkSize, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	// b sits between a and c in address order (bestFit/splitTail always
	// carve off the low end of the remaining free run). Freeing a and c
	// first, then b, should coalesce all three plus the original
	// remainder into a single free block.
	ba.freehblk(a)
	ba.freehblk(c)
	ba.freehblk(b)

	count := 0
	var total uintptr
	for f := ba.freeList; f != nil; f = f.next {
		count++
		total += f.sz
	}
	if count != 1 {
		t.Fatalf("expected a single coalesced free block, got %d", count)
	}
	if total != 32*hblkSize {
		t.Fatalf("coalesced free bytes = %d, want %d", total, 32*hblkSize)
	}
}

func TestFreehblkClearsMarksOnReturn(t *testing.T) {
	ba, _ := newTestBlockAllocator(16 << 20)
	if err := ba.expandHpInner(4); err != nil {
		t.Fatal(err)
	}
	h, err := ba.allochblk(1*hblkSize, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	h.setMarked(0)
	if !h.isMarked(0) {
		t.Fatal("setup: mark bit should be set before freeing")
	}
	ba.freehblk(h)
	if h.isMarked(0) {
		t.Fatal("freehblk should clear mark bits on the returned block")
	}
	if !h.flags.has(flagFree) {
		t.Fatal("freehblk should flag the block free")
	}
}

func TestCollectOrExpandPrefersExpandWhenHeapSmall(t *testing.T) {
	ba, _ := newTestBlockAllocator(16 << 20)
	d := ba.collectOrExpand(4, false, 0, 0)
	if d.shouldCollect {
		t.Fatal("a freshly started collector with nothing allocated should not request a collection")
	}
	if !d.shouldExpand {
		t.Fatal("expand should be requested when collection isn't")
	}
}

func TestCollectOrExpandForcesExpandOnRetry(t *testing.T) {
	ba, _ := newTestBlockAllocator(16 << 20)
	d := ba.collectOrExpand(4, true, 1<<30, 1<<30)
	if d.shouldCollect {
		t.Fatal("a retry after a failed collection should not request another collection")
	}
	if !d.shouldExpand {
		t.Fatal("a retry must always request expansion")
	}
}

func TestCollectOrExpandRequestsCollectWhenAllocExceedsThreshold(t *testing.T) {
	ba, _ := newTestBlockAllocator(16 << 20)
	d := ba.collectOrExpand(4, false, 1<<30, 8)
	if !d.shouldCollect {
		t.Fatal("heavy allocation since the last cycle relative to heap size should request a collection")
	}
}
