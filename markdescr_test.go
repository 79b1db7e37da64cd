// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "testing"

func TestLengthDescrRoundTrip(t *testing.T) {
	d := LengthDescr(128)
	if d.tag() != descrTagLength {
		t.Fatalf("tag() = %d, want descrTagLength", d.tag())
	}
	if d.length() != 128 {
		t.Fatalf("length() = %d, want 128", d.length())
	}
}

func TestBitmapDescrRoundTrip(t *testing.T) {
	bits := uintptr(0b1011)
	d := BitmapDescr(bits)
	if d.tag() != descrTagBitmap {
		t.Fatalf("tag() = %d, want descrTagBitmap", d.tag())
	}
	if d.bitmap() != bits {
		t.Fatalf("bitmap() = %b, want %b", d.bitmap(), bits)
	}
}

func TestProcDescrRoundTrip(t *testing.T) {
	idx, err := RegisterMarkProc(func(start uintptr, stack *markStack, env uintptr) {})
	if err != nil {
		t.Fatalf("RegisterMarkProc: %v", err)
	}
	d := ProcDescr(idx, 0xABCD)
	if d.tag() != descrTagProc {
		t.Fatalf("tag() = %d, want descrTagProc", d.tag())
	}
	gotIdx, gotEnv := d.procIndexAndEnv()
	if gotIdx != idx || gotEnv != 0xABCD {
		t.Fatalf("procIndexAndEnv() = (%d, %#x), want (%d, %#x)", gotIdx, gotEnv, idx, 0xABCD)
	}
}

func TestPerObjectDescrRoundTrip(t *testing.T) {
	d := PerObjectDescr(24)
	if d.tag() != descrTagPerObj {
		t.Fatalf("tag() = %d, want descrTagPerObj", d.tag())
	}
	if got := d.perObjectDispl(); got != 24 {
		t.Fatalf("perObjectDispl() = %d, want 24", got)
	}

	neg := PerObjectDescr(-8)
	if got := neg.perObjectDispl(); got != -8 {
		t.Fatalf("perObjectDispl() = %d, want -8", got)
	}
}

func TestMarkStackPushPop(t *testing.T) {
	s := newMarkStack()
	if _, ok := s.pop(); ok {
		t.Fatal("pop on an empty stack should report ok=false")
	}

	s.push(0x100, LengthDescr(8))
	s.push(0x200, 0) // zero LENGTH descriptor must be dropped, per §4.4.3 step 6.
	if s.len() != 1 {
		t.Fatalf("len() = %d, want 1 (zero descriptor push should be a no-op)", s.len())
	}

	e, ok := s.pop()
	if !ok || e.start != 0x100 {
		t.Fatalf("pop() = (%+v, %v), want start=0x100, ok=true", e, ok)
	}
}

func TestMarkStackOverflowAndDiscard(t *testing.T) {
	s := newMarkStack()
	for i := 0; i < maxMarkStackSize; i++ {
		s.pushObj(markStackEntry{start: uintptr(i), descr: LengthDescr(8)})
	}
	if s.overflow {
		t.Fatal("filling to exactly maxMarkStackSize should not overflow")
	}
	s.pushObj(markStackEntry{start: 0xFFFF, descr: LengthDescr(8)})
	if !s.overflow {
		t.Fatal("pushing past maxMarkStackSize should set overflow")
	}

	before := s.len()
	s.discardOldest(16)
	if s.len() != before-16 {
		t.Fatalf("len() after discardOldest(16) = %d, want %d", s.len(), before-16)
	}
}
