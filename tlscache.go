// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "fmt"

// tlsBatch bounds how many objects generic_malloc_many pulls into a
// thread-local cache per refill, per SPEC_FULL.md §4.3's "fills this
// cache in one critical section" discipline: large enough to amortize
// the allocator lock across many allocations, small enough that a
// goroutine which never returns doesn't hoard a disproportionate share
// of a kind's free objects.
const tlsBatch = 32

// tlsKey identifies one bound goroutine's cache for one kind. Keying by
// (token, kind) rather than token alone keeps a drained or refilled
// cache's free objects unambiguously tied to the kind whose blocks they
// actually live in -- a block's owning kind is fixed at the block's
// creation (freelist.go's newHblk), so threading a kind-A object onto a
// kind-B free list, even when their granule sizes coincide, would leave
// that object's block bookkeeping out of sync with what MallocKind(B)
// promised its caller.
type tlsKey struct {
	tok  int
	kind int32
}

// tlsCache is one (goroutine, kind) pair's thread-local free-list cache,
// per SPEC_FULL.md §4.3's per-goroutine allocation fast path: a
// per-granule free-list head array identical in shape to a kind's own
// (kinds.go), refilled in batches via generic_malloc_many instead of
// taking the allocator lock on every allocation.
type tlsCache struct {
	free [maxObjGranules + 1]uintptr
}

// MallocFast implements SPEC_FULL.md §4.3's thread-local allocation fast
// path: token identifies the calling goroutine's cache, obtained from
// Collector.Bind. kindID must have been created via NewThreadLocalKind;
// allocating a non-thread-local kind through MallocFast is a client
// error, matching §6's "wrong kind for this operation" misuse class, not
// something this path silently falls back on.
func (c *Collector) MallocFast(token int, kindID int32, bytes uintptr) (uintptr, error) {
	if bytes > maxObjBytes {
		return 0, fmt.Errorf("gc: %w: MallocFast only serves the small-object path", ErrConfigUnsupported)
	}

	c.mu.Lock()
	k, err := c.kinds.get(int(kindID))
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if !k.threadLocal {
		return 0, fmt.Errorf("gc: %w: kind %d was not created with NewThreadLocalKind", ErrClientMisuse, kindID)
	}

	key := tlsKey{tok: token, kind: kindID}
	v, _ := c.tls.LoadOrStore(key, &tlsCache{})
	cache := v.(*tlsCache)

	g := granulesFor(bytes)
	if cache.free[g] == 0 {
		if err := c.refillTLSCache(cache, kindID, bytes, g); err != nil {
			return 0, err
		}
	}
	head := cache.free[g]
	if head == 0 {
		return 0, ErrOutOfMemory
	}
	cache.free[g] = linkAt(head)
	setLinkAt(head, 0)
	return head, nil
}

// refillTLSCache takes the allocator lock exactly once to pull a batch
// of objects via generic_malloc_many, the one critical section §4.3
// calls for, then releases it for every allocation MallocFast serves
// out of that batch.
func (c *Collector) refillTLSCache(cache *tlsCache, kindID int32, bytes uintptr, g uintptr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	head, err := c.alloc.genericMallocMany(bytes, kindID, tlsBatch)
	if err == ErrOutOfMemory {
		// No free block to carve a batch from: grow the heap by one
		// newHblk run (32 blocks) and try once more.
		if expandErr := c.blocks.expandHpInner(32); expandErr == nil {
			head, err = c.alloc.genericMallocMany(bytes, kindID, tlsBatch)
		}
	}
	if err != nil {
		return err
	}
	cache.free[g] = head
	return nil
}

// drainTLSCaches returns every object cached for token, across every
// kind it was ever used with, to that kind's own shared free list, under
// the allocator lock, so Unbind never strands a goroutine's batch out of
// circulation for the rest of the process.
func (c *Collector) drainTLSCaches(token int) {
	var keys []tlsKey
	c.tls.Range(func(k, v interface{}) bool {
		if key := k.(tlsKey); key.tok == token {
			keys = append(keys, key)
		}
		return true
	})
	if len(keys) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		v, ok := c.tls.LoadAndDelete(key)
		if !ok {
			continue
		}
		cache := v.(*tlsCache)
		k, err := c.kinds.get(int(key.kind))
		if err != nil {
			continue // the kind is gone; nothing to return the objects to.
		}
		for g, head := range cache.free {
			if head == 0 {
				continue
			}
			tail := head
			for linkAt(tail) != 0 {
				tail = linkAt(tail)
			}
			setLinkAt(tail, k.freeList[g])
			k.freeList[g] = head
		}
	}
}
