// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gc implements a conservative, mostly-precise mark-sweep
// collector core for an arena the host owns, not Go's own heap. A host
// acquires raw memory through a MemSource, hands it to a Collector via
// expandHpInner (triggered automatically as Malloc needs more), and the
// Collector finds live objects by conservatively scanning roots and
// block contents for candidate pointers, exactly as described in
// SPEC_FULL.md's Heap Index, Block Allocator, Mark Engine, Root Scanner,
// Dirty-Page VDB, and Reclaim/Finalization components.
package gc

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/conservgc/gc/gcstat"
)

// Collector is the top-level handle a host embeds, analogous to the
// teacher's single global mheap/mcache/work set bundled together (this
// package has no hidden process-wide globals beyond the append-only
// mark-proc table every Collector shares, per markdescr.go's doc comment
// -- each Collector owns its own kind table, heap index, arena, and block
// allocator).
type Collector struct {
	collab Collaborators

	mu     sync.Mutex // the "allocator lock" of §5: guards idx/arena/blocks/kinds/alloc/sweep.
	idx    *heapIndex
	arena  *arena
	blocks *blockAllocator
	kinds  *kindTable
	alloc  *allocState
	sweep  *sweepState

	normalKind        int32
	atomicKind        int32
	uncollectableKind int32

	uncollectableMu  sync.Mutex
	uncollectable    []uintptr

	blacklist *blackList
	roots     *rootSet
	finalize  *finalizeState

	// tls holds one *tlsCache per bound goroutine token (int -> *tlsCache),
	// keyed by the same token Bind hands out, per SPEC_FULL.md §4.3's
	// thread-local free-list design. A sync.Map rather than a plain
	// mutex-guarded map because MallocFast's whole point is avoiding the
	// allocator lock on the hot path; see tlscache.go.
	tls sync.Map

	collectMu sync.Mutex // serializes concurrent GCollect callers.
	markMu    sync.Mutex // guards mark.stack/cache during a cycle; see markparallel.go.
	mark      *markEngine

	parallelWorkers int
	activeMarkers   int32

	vdb         DirtyPageStrategy
	incremental bool

	stats Stats
}

// New creates a Collector bound to the given collaborators. Mem and
// World are required (§6); Roots and Stack may be nil.
func New(collab Collaborators) (*Collector, error) {
	if collab.Mem == nil || collab.World == nil {
		return nil, errors.New("gc: MemSource and WorldStopper collaborators are required")
	}
	idx := newHeapIndex()
	ar := &arena{}
	blocks := newBlockAllocator(collab.Mem, ar, idx)
	kinds := newKindTable()
	alloc := &allocState{kinds: kinds, blocks: blocks}
	sweep := newSweepState(idx, blocks)
	alloc.sweeper = sweep
	blacklist := newBlackList()

	c := &Collector{
		collab:          collab,
		idx:             idx,
		arena:           ar,
		blocks:          blocks,
		kinds:           kinds,
		alloc:           alloc,
		sweep:           sweep,
		blacklist:       blacklist,
		roots:           newRootSet(),
		finalize:        newFinalizeState(),
		mark:            newMarkEngine(idx, ar, blacklist),
		vdb:             defaultVDB{},
		parallelWorkers: 1,
		stats:           newStats(),
	}

	var err error
	if c.normalKind, err = c.newKindLocked(0, false, true); err != nil {
		return nil, err
	}
	c.kinds.kinds[c.normalKind].autoLengthDescr = true

	if c.atomicKind, err = c.newKindLocked(0, false, false); err != nil {
		return nil, err
	}

	if c.uncollectableKind, err = c.newKindLocked(0, false, true); err != nil {
		return nil, err
	}
	uk := c.kinds.kinds[c.uncollectableKind]
	uk.autoLengthDescr = true
	uk.markUnconditionally = true

	return c, nil
}

func (c *Collector) newKindLocked(descr markDescr, relocateDescr, clear bool) (int32, error) {
	id, err := c.kinds.newKind(descr, relocateDescr, clear)
	return int32(id), err
}

// Malloc implements §6 malloc: a scanned object of size bytes.
func (c *Collector) Malloc(size uintptr) (uintptr, error) {
	return c.allocRetry(size, c.normalKind, 0)
}

// MallocAtomic implements §6 malloc_atomic: a pointer-free object, never
// scanned for outgoing references.
func (c *Collector) MallocAtomic(size uintptr) (uintptr, error) {
	return c.allocRetry(size, c.atomicKind, 0)
}

// MallocUncollectable implements §6 malloc_uncollectable: a scanned
// object that is never reclaimed, and whose own referents are kept
// reachable as if the object were itself a permanent root (§8).
func (c *Collector) MallocUncollectable(size uintptr) (uintptr, error) {
	p, err := c.allocRetry(size, c.uncollectableKind, 0)
	if err != nil {
		return 0, err
	}
	c.uncollectableMu.Lock()
	c.uncollectable = append(c.uncollectable, p)
	c.uncollectableMu.Unlock()
	return p, nil
}

// MallocKind implements §6 malloc_kind: allocate in a client-registered
// kind (see NewKind).
func (c *Collector) MallocKind(size uintptr, kindID int32) (uintptr, error) {
	return c.allocRetry(size, kindID, 0)
}

// Free implements §6 free: an optional, client-driven explicit free that
// merges obj directly onto its kind's free list without waiting for the
// next collection cycle. Freeing a large (flagLargeBlock) object returns
// its block straight to the block allocator instead, since large objects
// have no free-list geometry to merge onto (see reclaim.go's
// sweepLargeBlocks, which handles the GC-driven equivalent).
func (c *Collector) Free(obj uintptr, kindID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k, err := c.kinds.get(int(kindID))
	if err != nil {
		return err
	}
	hdr := c.idx.findHeader(obj)
	if hdr == nil || hdr.flags.has(flagFree) {
		return fmt.Errorf("gc: %w: free of an address with no live header", ErrClientMisuse)
	}
	if hdr.flags.has(flagLargeBlock) {
		for i, h := range c.alloc.largeBlocks {
			if h == hdr {
				c.alloc.largeBlocks[i] = c.alloc.largeBlocks[len(c.alloc.largeBlocks)-1]
				c.alloc.largeBlocks = c.alloc.largeBlocks[:len(c.alloc.largeBlocks)-1]
				break
			}
		}
		c.blocks.freehblk(hdr)
		return nil
	}

	displ := obj - hdr.block
	g := granuleOf(displ)
	if g >= uintptr(len(hdr.marks)) {
		return fmt.Errorf("gc: %w: free of a misaligned pointer", ErrClientMisuse)
	}
	hdr.marks[g] = 0
	if k.initOnFree {
		zeroRange(obj, hdr.objBytes)
	}
	sizeG := hdr.objBytes / granuleSize // free lists are indexed by object size in granules.
	setLinkAt(obj, k.freeList[sizeG])
	k.freeList[sizeG] = obj
	return nil
}

// NewKind implements §6 new_kind: register a kind and return its id.
// descr is the mark descriptor every object of this kind is scanned
// with; relocateDescr requests the PER_OBJECT indirection finalize.go
// uses, for clients building their own finalized-style kinds.
func (c *Collector) NewKind(descr markDescr, relocateDescr, clear bool) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newKindLocked(descr, relocateDescr, clear)
}

// FreeListArray is the zero-initialized free-list head table returned by
// NewFreeList, sized identically to a kind's own internal free-list
// array (kinds.go) so a client can drive its own thread-local free-list
// cache alongside MallocKind, per §6 new_free_list / SPEC_FULL.md §4.3's
// thread-local free-list design.
type FreeListArray [maxObjGranules + 1]uintptr

// NewFreeList implements §6 new_free_list.
func NewFreeList() *FreeListArray {
	return &FreeListArray{}
}

// RegisterDisclaimProc implements §4.8 register_disclaim_proc.
func (c *Collector) RegisterDisclaimProc(kindID int32, proc DisclaimProc, markUnconditionally bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds.registerDisclaimProc(int(kindID), proc, markUnconditionally)
}

// InitFinalizedMalloc implements §4.8 init_finalized_malloc.
func (c *Collector) InitFinalizedMalloc(clientDescr markDescr) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.kinds.initFinalizedMalloc(clientDescr)
	return int32(id), err
}

// FinalizedMalloc implements §4.8 finalized_malloc.
func (c *Collector) FinalizedMalloc(size uintptr, kindID int32, fn Finalizer, clientData uintptr) (uintptr, error) {
	c.mu.Lock()
	p, err := c.alloc.finalizedMalloc(size, kindID, c.finalize, fn, clientData)
	c.mu.Unlock()
	if err == nil || !errors.Is(err, errRetryGC) {
		return p, err
	}
	c.GCollect()
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err = c.alloc.finalizedMalloc(size, kindID, c.finalize, fn, clientData)
	if err == nil || !errors.Is(err, errRetryGC) {
		return p, err
	}
	nBlocks := (size + closureTagWords*ptrSize + hblkSize - 1) / hblkSize
	if nBlocks < 32 {
		nBlocks = 32 // newHblk carves a 32-block run for every small object size.
	}
	if expandErr := c.blocks.expandHpInner(nBlocks); expandErr != nil {
		return 0, ErrOutOfMemory
	}
	return c.alloc.finalizedMalloc(size, kindID, c.finalize, fn, clientData)
}

// RegisterDisplacement implements §6 register_displacement.
func (c *Collector) RegisterDisplacement(offset uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mark.displacements = append(c.mark.displacements, offset)
}

// EnableIncremental implements §6 enable_incremental. It fails with
// ErrConfigUnsupported if no non-default VDB strategy was installed via
// SetDirtyPageStrategy -- the portable defaultVDB (vdb.go) always
// reports every page dirty, which makes incremental collection pointless
// (it would rescan everything every cycle anyway).
func (c *Collector) EnableIncremental() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.vdb.(defaultVDB); ok {
		return ErrConfigUnsupported
	}
	c.incremental = true
	return nil
}

// SetDirtyPageStrategy installs a DirtyPageStrategy (vdb.go), typically
// one of gc/internal/osmem's real strategies, before calling
// EnableIncremental.
func (c *Collector) SetDirtyPageStrategy(v DirtyPageStrategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vdb = v
}

// GCollect implements §6 gcollect: run one full, synchronous mark-sweep
// cycle. The world is stopped for root enumeration and the mark-stack
// drain (§5); finalizers for objects confirmed dead this cycle run
// afterward, with the world running again and no collector lock held,
// per §4.8.
func (c *Collector) GCollect() {
	c.collectMu.Lock()
	c.collab.World.StopWorld()
	dead := c.runOneCycleLocked()
	c.collab.World.StartWorld()
	c.collectMu.Unlock()

	for _, e := range dead {
		e.fn(e.obj, e.clientData)
	}
	c.stats.recordFinalizersRun(len(dead))
	c.stats.recordCycle()
}

// GCollectMaybe implements §6 gcollect_maybe: request a collection only
// if the allocator's collect/expand heuristic judges it worthwhile,
// consulting stopFn (if non-nil) first so a caller mid-latency-budget
// can decline. Returns whether a collection actually ran.
func (c *Collector) GCollectMaybe(stopFn func() bool) bool {
	if stopFn != nil && stopFn() {
		return false
	}
	c.mu.Lock()
	decision := c.blocks.collectOrExpand(0, false, c.alloc.bytesAllocdSinceGC, uintptr(len(c.arena.sections))*16)
	c.mu.Unlock()
	if !decision.shouldCollect {
		return false
	}
	c.GCollect()
	return true
}

// runOneCycleLocked performs the mark/sweep body of GCollect with the
// world already stopped. It holds the allocator lock for the whole mark
// phase (this port does not attempt concurrent marking with a running
// mutator, per §5's "stop-the-world" baseline; incremental VDB support
// reduces pause length by reducing *what* gets rescanned, not by marking
// concurrently) and returns the finalizer callbacks to run once the lock
// and world-stop are both released.
func (c *Collector) runOneCycleLocked() []finalizerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mark.resetForCycle()
	c.clearAllMarksLocked()

	c.mark.state = markPushUncollectable
	c.uncollectableMu.Lock()
	for _, addr := range c.uncollectable {
		c.mark.considerCandidate(addr, false)
	}
	c.uncollectableMu.Unlock()

	c.mark.state = markPushRescuers
	c.finalize.rescueRoots(c.mark)

	c.mark.state = markRootsPushed
	c.roots.pushRoots(c.mark, c.collab, approxStackPointer())

	c.drainMarkStackLocked()
	c.mark.state = markNone // §4.4.1: the state is NONE between cycles.

	dead :=c.finalize.collectPendingFinalizers(c.idx, c.mark.cache)

	c.sweep.startReclaim(c.kinds)
	liveBytes := c.sweep.reclaimAll(c.kinds)
	liveBytes += c.sweep.sweepLargeBlocks(c.alloc)
	c.alloc.bytesAllocdSinceGC = 0

	var totalBlocks uintptr
	for _, sec := range c.arena.sections {
		totalBlocks += sec.nPages
	}
	gcstat.HeapBlocks.Set(int64(totalBlocks))
	gcstat.BytesAllocatedSinceGC.Set(0)
	gcstat.BytesLive.Set(int64(liveBytes))

	return dead
}

// clearAllMarksLocked resets every live block's mark bits before this
// cycle's own root scan sets any, per §3 Lifecycles: "mark bits are set
// during mark, inspected during sweep, cleared at the start of the next
// cycle." A freed block already gets clearMarks from insertFree
// (blockalloc.go) the moment it returns to the free list, but a block
// that stays allocated across a cycle boundary -- the common case for
// any object still reachable, or one a disclaim callback chose to keep
// an extra cycle (reclaim.go's reclaimGeneric) -- has no other path back
// to a clean slate; without this, a mark bit set once would read
// "marked" forever, and reclaimGeneric's "if h.isMarked(granule)
// continue" would treat the object as permanently live.
func (c *Collector) clearAllMarksLocked() {
	for i := 0; i < c.kinds.n; i++ {
		k := c.kinds.kinds[i]
		if k == nil {
			continue
		}
		for _, h := range k.allBlocks {
			h.clearMarks()
		}
	}
	for _, h := range c.alloc.largeBlocks {
		h.clearMarks()
	}
}

// drainMarkStackLocked runs markFrom (or, when EnableParallelMark raised
// c.parallelWorkers above 1, runParallelMarkStep's helper-goroutine pool)
// to exhaustion, following through the PARTIALLY_INVALID/INVALID
// overflow-recovery rescan of §4.4.4 until the stack is empty and no
// further rescan is pending. Overflow recovery itself stays serial:
// rescanFromScanPtr walks allBlocks in address order and is cheap enough
// relative to a full mark pass that splitting it across workers isn't
// worth the coordination.
func (c *Collector) drainMarkStackLocked() {
	const hugeBudget = 1 << 30 // synchronous GCollect does not pace itself against the mutator.
	for {
		done := c.runParallelMarkStep(hugeBudget)
		if !done {
			continue // markFrom returns early only on overflow, already handled internally.
		}
		if c.mark.state == markPartiallyInvalid || c.mark.state == markInvalid {
			_, rescanDone := c.mark.rescanFromScanPtr(hugeBudget)
			if !rescanDone {
				continue
			}
			if c.mark.stack.len() == 0 {
				return
			}
			continue
		}
		return
	}
}

// funcRootPusher adapts a plain function to the RootPusher interface,
// for SetPushOtherRoots/GetPushOtherRoots.
type funcRootPusher func(push func(lo, hi uintptr))

func (f funcRootPusher) PushOtherRoots(push func(lo, hi uintptr)) { f(push) }

// SetPushOtherRoots implements §6 set_push_other_roots.
func (c *Collector) SetPushOtherRoots(fn func(push func(lo, hi uintptr))) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		c.collab.Roots = nil
		return
	}
	c.collab.Roots = funcRootPusher(fn)
}

// GetPushOtherRoots implements §6 get_push_other_roots. It returns nil
// if the current RootPusher was supplied directly as a Collaborators.Roots
// implementation rather than through SetPushOtherRoots.
func (c *Collector) GetPushOtherRoots() func(push func(lo, hi uintptr)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.collab.Roots.(funcRootPusher); ok {
		return f
	}
	return nil
}

// AddRoots implements §6 add_roots.
func (c *Collector) AddRoots(lo, hi uintptr) error {
	err := c.roots.addRoots(lo, hi)
	if errors.Is(err, ErrRootsOverflow) {
		c.stats.recordRootsOverflow()
	}
	return err
}

// RemoveRoots implements §6 remove_roots.
func (c *Collector) RemoveRoots(lo, hi uintptr) { c.roots.removeRoots(lo, hi) }

// ExcludeStaticRoots implements exclude_static_roots_inner, §4.5.
func (c *Collector) ExcludeStaticRoots(lo, hi uintptr) { c.roots.excludeStaticRoots(lo, hi) }

// Bind registers the calling goroutine's cooperative root range (the Go
// answer to push_other_roots for a specific mutator goroutine, since Go
// cannot suspend and read another goroutine's registers/stack directly;
// see collaborators.go's RootPusher doc comment). Unbind with the
// returned token when the goroutine exits or stops holding arena
// pointers on its own Go stack.
func (c *Collector) Bind(lo, hi uintptr) int { return c.roots.bind(lo, hi) }

// Unbind removes a cooperative root range registered by Bind, and drains
// that token's thread-local free-list cache (if MallocFast ever used it)
// back onto its kinds' shared free lists, so a goroutine that exits
// doesn't strand its batch of cached objects out of circulation forever.
func (c *Collector) Unbind(tok int) {
	c.roots.unbind(tok)
	c.drainTLSCaches(tok)
}

// NewThreadLocalKind implements SPEC_FULL.md §4.3's Kind.ThreadLocal
// flag: like NewKind, but objects of the returned kind become eligible
// for the MallocFast fast path (tlscache.go).
func (c *Collector) NewThreadLocalKind(descr markDescr, clear bool) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.newKindLocked(descr, false, clear)
	if err != nil {
		return 0, err
	}
	c.kinds.kinds[id].threadLocal = true
	return id, nil
}

// GetStackBase implements §6 get_stack_base by forwarding to the
// host-supplied StackBaser collaborator, if any.
func (c *Collector) GetStackBase() (uintptr, bool) {
	if c.collab.Stack == nil {
		return 0, false
	}
	return c.collab.Stack.GetStackBase()
}

// approxStackPointer stands in for a direct stack-pointer read: Go gives
// no portable way to read SP without assembly (the teacher's runtime
// does this in sys_*.S, out of reach for a pure-Go port per §1's
// "root-set discovery... is specified only as an interface"). The
// address of a function-local variable is a legal proxy -- it is
// guaranteed to be at or below every live frame's variables on the
// calling goroutine's stack at the moment this function returns, which
// is conservative in the direction §4.5's push_roots needs (scanning a
// little too much of the stack is safe; scanning too little is not).
func approxStackPointer() uintptr {
	var sentinel byte
	return uintptr(unsafe.Pointer(&sentinel))
}

// allocRetry implements the client-facing half of §4.2 collect_or_expand:
// try the allocation; on errRetryGC, ask collectOrExpand whether enough
// has been allocated since the last cycle to collect, and if so run one
// collection and retry; if still failing, expand the heap directly and
// retry once more before reporting ErrOutOfMemory.
func (c *Collector) allocRetry(bytes uintptr, kindID int32, flags blockFlags) (uintptr, error) {
	c.stats.maybeDumpRegularly(os.Stderr)

	c.mu.Lock()
	p, err := c.alloc.genericMallocInner(bytes, kindID, flags)
	c.mu.Unlock()
	if err == nil {
		gcstat.BytesAllocatedSinceGC.Set(int64(c.alloc.bytesAllocdSinceGC))
		return p, nil
	}
	if !errors.Is(err, errRetryGC) {
		return 0, err
	}

	c.mu.Lock()
	var heapBlocks uintptr
	for _, sec := range c.arena.sections {
		heapBlocks += sec.nPages
	}
	decision := c.blocks.collectOrExpand(0, false, c.alloc.bytesAllocdSinceGC, heapBlocks)
	c.mu.Unlock()
	if decision.shouldCollect {
		c.GCollect()

		c.mu.Lock()
		p, err = c.alloc.genericMallocInner(bytes, kindID, flags)
		c.mu.Unlock()
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, errRetryGC) {
			return 0, err
		}
	}

	c.mu.Lock()
	nBlocks := (bytes + hblkSize - 1) / hblkSize
	if bytes <= maxObjBytes {
		nBlocks = 32 // newHblk carves a 32-block run for every small object size.
	}
	expandErr := c.blocks.expandHpInner(nBlocks)
	if expandErr == nil {
		p, err = c.alloc.genericMallocInner(bytes, kindID, flags)
	}
	c.mu.Unlock()
	if err != nil {
		return 0, ErrOutOfMemory
	}
	return p, nil
}
