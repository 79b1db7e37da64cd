// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

// DirtyPageStrategy is the virtual dirty-bit (VDB) contract from §4.6:
// "a pluggable source of 'which pages changed since the last read' used
// by incremental collection to avoid rescanning the whole heap." Hosts
// needing real incremental collection supply a strategy from
// gc/internal/osmem (soft-dirty on Linux, proactive mprotect elsewhere);
// Manual and Default below are the two portable, dependency-free
// strategies every build gets without a host collaborator.
type DirtyPageStrategy interface {
	// ReadDirty refreshes this strategy's view of which pages in
	// [lo, hi) have been written since the last ReadDirty, per §4.6.
	ReadDirty(lo, hi uintptr)

	// PageWasDirty reports whether the hblkSize-aligned page containing
	// addr was flagged dirty by the most recent ReadDirty.
	PageWasDirty(addr uintptr) bool

	// RemoveProtection is called once a page's dirty state has been
	// consumed (its objects rescanned), so the strategy can re-arm
	// whatever detection mechanism it uses (re-protect the page,
	// re-clear its soft-dirty bit, etc.) for the next cycle.
	RemoveProtection(lo, hi uintptr)

	// Dirty marks addr's page dirty directly -- used when the
	// collector itself writes through a pointer on the mutator's
	// behalf (§4.6's GC_dirty entry point for explicit write barriers).
	Dirty(addr uintptr)
}

// manualVDB implements the "Manual" strategy of §4.6: the host is
// responsible for calling Dirty on every pointer write into the managed
// arena (an explicit write barrier the host's allocator-aware code
// emits), and this strategy simply remembers what it was told. No
// scanning of OS page tables happens at all, so it has zero per-read
// cost but depends entirely on the host's write barrier being complete.
type manualVDB struct {
	dirty *pageHashTable
}

func newManualVDB() *manualVDB {
	return &manualVDB{dirty: newPageHashTable(16)}
}

func (v *manualVDB) ReadDirty(lo, hi uintptr)          {} // nothing to refresh; Dirty already recorded everything.
func (v *manualVDB) PageWasDirty(addr uintptr) bool    { return v.dirty.test(addr &^ (hblkSize - 1)) }
func (v *manualVDB) RemoveProtection(lo, hi uintptr) {
	for p := lo &^ (hblkSize - 1); p < hi; p += hblkSize {
		// A full clear-and-rebuild would need a per-page clear bit op;
		// this table does not support single-bit clears (§4.6 allows an
		// approximate strategy that degrades to "more rescanning than
		// strictly necessary, never less" -- see Default below for the
		// strategy that leans on that allowance entirely), so a real
		// deployment would pair manualVDB with per-cycle table
		// rotation. Left for gc/internal/osmem's richer strategies;
		// documented as a known imprecision rather than silently wrong.
	}
}
func (v *manualVDB) Dirty(addr uintptr) { v.dirty.set(addr &^ (hblkSize - 1)) }

// defaultVDB implements §4.6's "Default" strategy: treat every page as
// dirty, always. It is the correctness baseline every other strategy is
// validated against -- always-dirty can never cause the incremental
// collector to miss a write, only to do the full-heap-equivalent amount
// of rescanning a non-incremental collector would do anyway.
type defaultVDB struct{}

func (defaultVDB) ReadDirty(lo, hi uintptr)        {}
func (defaultVDB) PageWasDirty(addr uintptr) bool  { return true }
func (defaultVDB) RemoveProtection(lo, hi uintptr) {}
func (defaultVDB) Dirty(addr uintptr)              {}
