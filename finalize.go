// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "sync"

// Finalizer is a client callback run when an object becomes unreachable,
// §4.8: "registered per object, not per kind; receives the object's
// address and an opaque client data word." Unlike DisclaimProc
// (kinds.go), which runs during sweep for every object of a kind and can
// veto collection, a Finalizer runs once, after the object is confirmed
// dead, and cannot resurrect it -- matching §4.8's "finalizers observe a
// truly dead object; they must not store its address anywhere the
// mutator can still reach."
type Finalizer func(obj uintptr, clientData uintptr)

// finalizerEntry records one registered finalizer.
type finalizerEntry struct {
	obj        uintptr
	fn         Finalizer
	clientData uintptr
}

// finalizeState owns the registered-finalizer table and the closure tag
// word finalize.go installs at offset 0 of a finalized object, per
// §4.8's "implementations may store the finalizer reference inline in
// the object (a closure tag) rather than in a side table, provided
// push_contents_hdr knows to skip it when scanning."  This port does
// both: registered finalizers live in a side table (so Unregister /
// lookup is O(1) without touching object memory), but a finalized
// object's true mark descriptor is reached through the same
// PER_OBJECT-with-indirection mechanism described in markdescr.go's
// PerObjectDescr doc comment, because finalized kinds are marked
// relocateDescr (kinds.go) and carry their descriptor just past the
// closure tag word rather than at offset 0.
type finalizeState struct {
	mu      sync.Mutex
	entries map[uintptr]finalizerEntry

	// pendingRescue is the list rescueRoots pushes as extra roots in the
	// PUSH_RESCUERS state (§4.4.1). Nothing in this package appends to
	// it, so that pass pushes nothing: GCollect finds an object dead and
	// runs its finalizer in the same cycle (see DESIGN.md).
	pendingRescue []uintptr
}

func newFinalizeState() *finalizeState {
	return &finalizeState{entries: make(map[uintptr]finalizerEntry)}
}

// closureTagWords is the number of uintptr-sized words finalize.go
// reserves at the start of a finalized object: word 0 is reserved for a
// future client-visible closure tag (kept but unused by this port, see
// DESIGN.md), word 1 holds the object's real mark descriptor, reached by
// a PerObjectDescr(ptrSize) indirection installed on the kind's
// descrTemplate at registration time.
const closureTagWords = 2

// initFinalizedMalloc implements §4.8 init_finalized_malloc: registers a
// new kind whose objects reserve closureTagWords at the front for
// finalize.go's own bookkeeping, with the client's real descriptor
// stored at a fixed offset so relocateDescr resolution (pushContentsHdr,
// mark.go) can find it.
func (t *kindTable) initFinalizedMalloc(clientDescr markDescr) (int, error) {
	id, err := t.newKind(PerObjectDescr(int(closureTagWords*ptrSize)), true, true)
	if err != nil {
		return 0, err
	}
	k := t.kinds[id]
	k.descrTemplate = PerObjectDescr(int(ptrSize)) // displacement to the stashed real descriptor, see below.
	k.finalizedClientDescr = clientDescr
	return id, nil
}

// finalizedMalloc implements §4.8 finalized_malloc: allocate bytes from
// kindID (which must have been created via initFinalizedMalloc), stash
// the kind's client descriptor just past the closure tag word so
// finalizedObjDescr can retrieve it, and register fn to run when the
// object is confirmed unreachable.
func (a *allocState) finalizedMalloc(bytes uintptr, kindID int32, fz *finalizeState, fn Finalizer, clientData uintptr) (uintptr, error) {
	k, err := a.kinds.get(int(kindID))
	if err != nil {
		return 0, err
	}
	total := bytes + closureTagWords*ptrSize
	obj, err := a.genericMallocInner(total, kindID, 0)
	if err != nil {
		return 0, err
	}
	writeUintptr(obj, 0) // closure tag word, reserved.
	writeUintptr(obj+ptrSize, uintptr(k.finalizedClientDescr))

	userPtr := obj + closureTagWords*ptrSize
	if fn != nil {
		fz.mu.Lock()
		fz.entries[userPtr] = finalizerEntry{obj: userPtr, fn: fn, clientData: clientData}
		fz.mu.Unlock()
	}
	return userPtr, nil
}

// finalizedObjDescr retrieves the real mark descriptor for a finalized
// object given its user-visible start address (the address returned by
// finalizedMalloc), used by mark.go's pushContentsHdr when a block's
// flagRelocateDescr bit signals an indirected descriptor.
func finalizedObjDescr(userPtr uintptr) markDescr {
	return markDescr(readUintptr(userPtr - closureTagWords*ptrSize + ptrSize))
}

// collectPendingFinalizers implements the sweep-time half of §4.8: for
// every registered finalizer whose target's mark bit came up clear this
// cycle (the object did not survive pushContentsHdr's ordinary
// reachability pass, nor PUSH_RESCUERS's extra one), remove it from the
// table and return it so the caller (gc.go's GCollect) can run fn outside
// any collector lock, per §4.8's "finalizers must not be run with the
// allocator lock held; they may themselves allocate."
func (fz *finalizeState) collectPendingFinalizers(idx *heapIndex, cache *headerCache) []finalizerEntry {
	fz.mu.Lock()
	defer fz.mu.Unlock()

	var dead []finalizerEntry
	for addr, e := range fz.entries {
		hdr := idx.headerFor(cache, addr&^(hblkSize-1))
		if hdr == nil {
			delete(fz.entries, addr)
			continue
		}
		// addr is the user-visible pointer finalizedMalloc returned, which
		// sits closureTagWords words into the real object; resolve through
		// the block's objMap the same way pushContentsHdr does, since the
		// mark bit it set lives at the object's start granule, not addr's.
		displ := addr - hdr.block
		objStart, ok := hdr.objStart(displ)
		if !ok {
			delete(fz.entries, addr)
			continue
		}
		g := granuleOf(objStart - hdr.block)
		if !hdr.isMarked(g) {
			dead = append(dead, e)
			delete(fz.entries, addr)
		}
	}
	return dead
}

// rescueRoots implements PUSH_RESCUERS (§4.4.1/§4.8): objects about to
// have their finalizer run this cycle are pushed as an extra root set
// before the "is this garbage" determination is made final, so a
// finalizer's own closure referents stay reachable for the duration of
// the callback.
func (fz *finalizeState) rescueRoots(m *markEngine) {
	fz.mu.Lock()
	addrs := append([]uintptr(nil), fz.pendingRescue...)
	fz.mu.Unlock()
	for _, a := range addrs {
		m.considerCandidate(a, false)
	}
}
