// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"sort"
	"unsafe"
)

// heapSection records one OS-acquired range, installed by
// expand_hp_inner (§4.2) and mirroring the teacher's mheap.allArenas:
// "allArenas is the arenaIndex of every mapped arena... used to iterate
// through the address space." SPEC_FULL.md §4.2 names the uses this table
// has beyond bookkeeping (gcstat's heap_blocks counter and the
// collect-or-expand heap size).
type heapSection struct {
	base   uintptr
	nPages uintptr // pages of hblkSize each.
}

func (s heapSection) size() uintptr { return s.nPages * hblkSize }
func (s heapSection) end() uintptr  { return s.base + s.size() }

// arena is the collector's view of the raw memory it owns: the sections
// acquired from the host's MemSource, addressable as Go byte slices via
// unsafe.Slice. Every block and object address this package hands out is
// a uintptr offset that falls inside one of these sections.
type arena struct {
	sections []heapSection
}

// contains reports whether addr falls inside any acquired section --
// used by the mark engine to decide whether a candidate word could
// possibly be a pointer before paying for a heap-index lookup.
func (a *arena) contains(addr uintptr) bool {
	// Sections are kept sorted by base (addSection maintains this), so
	// a binary search suffices; the arena can hold many sections over a
	// long-running process and this is on the mark hot path.
	i := sort.Search(len(a.sections), func(i int) bool { return a.sections[i].base+a.sections[i].size() > addr })
	if i == len(a.sections) {
		return false
	}
	s := a.sections[i]
	return addr >= s.base && addr < s.end()
}

func (a *arena) addSection(s heapSection) {
	a.sections = append(a.sections, s)
	sort.Slice(a.sections, func(i, j int) bool { return a.sections[i].base < a.sections[j].base })
}

// bytes returns a byte slice view of n bytes starting at addr. The
// memory backing it is not Go-heap allocated (it came from the host's
// MemSource, typically mmap, see gc/internal/osmem), so this is the
// standard mmap-library pattern of reinterpreting a raw address as a
// slice header rather than a slice into Go-managed memory.
func bytesAt(addr uintptr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func readUintptr(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

func writeUintptr(addr uintptr, v uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = v
}

func zeroRange(addr, n uintptr) {
	b := bytesAt(addr, n)
	for i := range b {
		b[i] = 0
	}
}

// alignUp rounds x up to a multiple of align, align a power of two.
func alignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}
