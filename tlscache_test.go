// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"errors"
	"testing"
)

func TestMallocFastRejectsNonThreadLocalKind(t *testing.T) {
	c := newTestCollector(4 << 20)
	kindID, err := c.NewKind(LengthDescr(16), false, false)
	if err != nil {
		t.Fatal(err)
	}
	tok := c.Bind(0, 0)
	defer c.Unbind(tok)

	if _, err := c.MallocFast(tok, kindID, 16); !errors.Is(err, ErrClientMisuse) {
		t.Fatalf("expected ErrClientMisuse for a kind never marked thread-local, got %v", err)
	}
}

func TestMallocFastServesDistinctObjectsAndRefills(t *testing.T) {
	c := newTestCollector(16 << 20)
	kindID, err := c.NewThreadLocalKind(LengthDescr(16), false)
	if err != nil {
		t.Fatal(err)
	}
	tok := c.Bind(0, 0)
	defer c.Unbind(tok)

	const n = tlsBatch + 10 // forces at least one refill beyond the first batch.
	seen := make(map[uintptr]bool, n)
	for i := 0; i < n; i++ {
		p, err := c.MallocFast(tok, kindID, 16)
		if err != nil {
			t.Fatalf("MallocFast failed on object %d: %v", i, err)
		}
		if seen[p] {
			t.Fatalf("MallocFast returned the same address twice: %#x", p)
		}
		seen[p] = true
	}
}

func TestMallocFastObjectsAreLiveAndCollectable(t *testing.T) {
	c := newTestCollector(4 << 20)
	kindID, err := c.NewThreadLocalKind(LengthDescr(0), false)
	if err != nil {
		t.Fatal(err)
	}
	tok := c.Bind(0, 0)
	defer c.Unbind(tok)

	obj, err := c.MallocFast(tok, kindID, 16)
	if err != nil {
		t.Fatal(err)
	}

	bindValue(t, c, obj)
	c.GCollect()

	hdr := c.idx.findHeader(obj)
	if hdr == nil || !hdr.isMarked(granuleOf(obj-hdr.block)) {
		t.Fatal("a rooted object allocated via MallocFast should survive collection")
	}
}

func freeListLen(head uintptr) int {
	n := 0
	for p := head; p != 0; p = linkAt(p) {
		n++
	}
	return n
}

func TestUnbindDrainsCacheBackToSharedFreeList(t *testing.T) {
	c := newTestCollector(4 << 20)
	kindID, err := c.NewThreadLocalKind(LengthDescr(16), false)
	if err != nil {
		t.Fatal(err)
	}
	tok := c.Bind(0, 0)

	if _, err := c.MallocFast(tok, kindID, 16); err != nil {
		t.Fatal(err)
	}

	k := c.kinds.kinds[kindID]
	g := granulesFor(16)
	beforeUnbind := freeListLen(k.freeList[g])

	c.Unbind(tok)

	afterUnbind := freeListLen(k.freeList[g])
	if want := beforeUnbind + (tlsBatch - 1); afterUnbind != want {
		t.Fatalf("shared free list has %d entries after Unbind, want %d (the %d objects MallocFast's one refill left uncached)", afterUnbind, want, tlsBatch-1)
	}

	if _, ok := c.tls.Load(tlsKey{tok: tok, kind: kindID}); ok {
		t.Fatal("Unbind should remove the drained cache entry")
	}
}
