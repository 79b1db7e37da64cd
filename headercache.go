// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

// headerCache is the direct-mapped, power-of-two header lookup cache
// from §3 "Header cache": "accelerates header lookup in the mark loop.
// Entries are per-mark-thread; invalidation on collector cycle
// boundaries is sufficient." One is created per mark worker (see
// mark.go) rather than shared, so it needs no locking.
type headerCache struct {
	entries [headerCacheSize]headerCacheEntry
}

const (
	logHeaderCacheSize = 10
	headerCacheSize    = 1 << logHeaderCacheSize
)

type headerCacheEntry struct {
	blockAddr uintptr
	hdr       *blockHeader
	valid     bool
}

func cacheIndex(blockAddr uintptr) uintptr {
	return (blockAddr >> logHblkSize) & (headerCacheSize - 1)
}

// lookup returns the cached header for blockAddr, if present and valid.
func (c *headerCache) lookup(blockAddr uintptr) (*blockHeader, bool) {
	e := &c.entries[cacheIndex(blockAddr)]
	if e.valid && e.blockAddr == blockAddr {
		return e.hdr, true
	}
	return nil, false
}

// insert records hdr as the resolved header for blockAddr.
func (c *headerCache) insert(blockAddr uintptr, hdr *blockHeader) {
	e := &c.entries[cacheIndex(blockAddr)]
	e.blockAddr = blockAddr
	e.hdr = hdr
	e.valid = true
}

// invalidate drops every cached entry. Called at collection-cycle
// boundaries, per §3's invalidation rule.
func (c *headerCache) invalidate() {
	for i := range c.entries {
		c.entries[i].valid = false
	}
}

// headerFor resolves blockAddr to its header via the cache, falling back
// to the full heap-index chase (and chasing forwarding entries, unlike a
// raw cache hit) on a miss.
func (idx *heapIndex) headerFor(cache *headerCache, blockAddr uintptr) *blockHeader {
	if cache != nil {
		if hdr, ok := cache.lookup(blockAddr); ok {
			return hdr
		}
	}
	resolvedAddr, hdr := idx.findStartingHblk(blockAddr)
	if cache != nil {
		cache.insert(resolvedAddr, hdr)
		if resolvedAddr != blockAddr {
			cache.insert(blockAddr, hdr)
		}
	}
	return hdr
}
