// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "unsafe"

// fakeMemSource hands out hblkSize-aligned slices of an ordinary Go byte
// slice, standing in for gc/internal/osmem's real mmap-backed MemSource
// in package-internal tests that need a working arena without touching
// the OS. The backing slice is kept alive by the slice header itself, so
// there is nothing to garbage collect out from under the addresses this
// test hands to the package under test (the teacher's own runtime tests
// rely on the same "Go's GC won't move or free what a live slice pins"
// guarantee for unsafe.Pointer round-trips).
type fakeMemSource struct {
	pool   []byte
	offset uintptr
}

func newFakeMemSource(totalBytes uintptr) *fakeMemSource {
	buf := make([]byte, totalBytes+hblkSize)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := alignUp(base, hblkSize)
	return &fakeMemSource{pool: buf, offset: aligned - base}
}

func (m *fakeMemSource) GetMem(size uintptr) (uintptr, bool) {
	n := alignUp(size, hblkSize)
	if m.offset+n > uintptr(len(m.pool)) {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&m.pool[0])) + m.offset
	m.offset += n
	return base, true
}

// fakeWorldStopper is a no-op WorldStopper for single-goroutine tests
// that never race a mutator against a collection.
type fakeWorldStopper struct{}

func (fakeWorldStopper) StopWorld()  {}
func (fakeWorldStopper) StartWorld() {}

func newTestCollector(arenaBytes uintptr) *Collector {
	c, err := New(Collaborators{Mem: newFakeMemSource(arenaBytes), World: fakeWorldStopper{}})
	if err != nil {
		panic(err)
	}
	return c
}
