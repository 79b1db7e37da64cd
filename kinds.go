// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "fmt"

// DisclaimProc is a per-kind reclamation callback. A nonzero (true)
// return retains the object for one more cycle, per §4.8.
type DisclaimProc func(obj uintptr) (keep bool)

// kind is one row of the fixed-capacity object-kind table, §3 "Object
// kinds". Grounded on bdwgc's GC_obj_kind (original_source/gc_priv.h)
// and, for the free-list/reclaim-list split, the teacher's per-sizeclass
// mcentral (mcentral.go: "partial and full contain two mspan sets").
type kind struct {
	id int

	// freeList[g] is the free-list head for objects of granule size g.
	freeList [maxObjGranules + 1]uintptr

	// reclaimList[g] holds blocks of granule size g queued by
	// start_reclaim for deferred sweeping (§4.7).
	reclaimList [maxObjGranules + 1]*blockHeader

	// allBlocks is every small-object block ever carved for this kind
	// that hasn't been fully returned to the block allocator, regardless
	// of which list (free-list-only, reclaimList, or mid-sweep) currently
	// owns its objects. start_reclaim (reclaim.go) walks this set to
	// decide what the next cycle must re-examine; newHblk (freelist.go)
	// appends to it; reclaimAll removes a block once freehblk reclaims
	// the whole thing.
	allBlocks []*blockHeader

	descrTemplate    markDescr
	relocateDescr    bool // if true, descr is PER_OBJECT and needs per-object patching.
	initOnFree       bool
	disclaim         DisclaimProc
	markUnconditionally bool
	threadLocal      bool // see SPEC_FULL.md §4.3 thread-local free lists.

	// autoLengthDescr marks a kind (NORMAL and UNCOLLECTABLE, see gc.go)
	// whose objects are conservatively scanned over their own actual
	// byte length rather than a fixed descriptor shared by every object
	// of the kind -- unlike a client kind registered via NewKind with an
	// explicit layout descriptor, this port's built-in conservative
	// kinds span many different granule sizes, so their per-block
	// descriptor is computed from the block's object size at the point
	// the block is carved (freelist.go's newHblk/largeAlloc) instead of
	// being copied from descrTemplate.
	autoLengthDescr bool

	// finalizedClientDescr holds the real pointer-layout descriptor for
	// a kind created via initFinalizedMalloc (finalize.go), stashed here
	// rather than in descrTemplate because descrTemplate for such a kind
	// is itself the PER_OBJECT indirection descriptor every object of
	// the kind is tagged with.
	finalizedClientDescr markDescr
}

// freeObj is the logical shape of an object sitting on a free list: the
// first word is the link, per §3 "Free-list geometry": "the first word
// of each free object is the link." In this port, free objects live in
// the arena (see arena.go), so freeObj is not itself heap-allocated.
// The free-list code itself (freelist.go) works on plain uintptr heads
// through the package functions linkAt/setLinkAt and does not use this
// type.
type freeObj struct {
	addr uintptr
}

// kindTable is the fixed-capacity table from §3, guarded by the
// allocator lock like every other allocation data structure (§5).
type kindTable struct {
	kinds [maxObjKinds]*kind
	n     int
}

func newKindTable() *kindTable {
	return &kindTable{}
}

// newKind registers a kind and returns its id, per §6 new_kind. descr is
// the descriptor template new objects of this kind get; when
// relocateDescr is true it is instead treated as a PER_OBJECT descriptor
// whose real value is computed per allocation (used by finalize.go).
func (t *kindTable) newKind(descr markDescr, relocateDescr, clear bool) (int, error) {
	if t.n >= maxObjKinds {
		return 0, fmt.Errorf("gc: %w: kind table full (max %d)", ErrClientMisuse, maxObjKinds)
	}
	id := t.n
	t.kinds[id] = &kind{id: id, descrTemplate: descr, relocateDescr: relocateDescr, initOnFree: clear}
	t.n++
	return id, nil
}

func (t *kindTable) get(id int) (*kind, error) {
	if id < 0 || id >= t.n || t.kinds[id] == nil {
		return nil, fmt.Errorf("gc: %w: kind id %d out of range", ErrClientMisuse, id)
	}
	return t.kinds[id], nil
}

// registerDisclaimProc installs proc for kind, per §4.8
// register_disclaim_proc. Setting markUnconditionally means every
// object of this kind is marked even if otherwise unreachable, so the
// disclaim callback can still examine live referents (§3 "Object
// kinds").
func (t *kindTable) registerDisclaimProc(id int, proc DisclaimProc, markUnconditionally bool) error {
	k, err := t.get(id)
	if err != nil {
		return err
	}
	k.disclaim = proc
	k.markUnconditionally = markUnconditionally
	return nil
}
