// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "sync"

// staticRoot is one registered [lo, hi) range from add_roots, §4.5.
type staticRoot struct {
	lo, hi  uintptr
	deleted bool // soft-deleted by remove_roots; compacted on next add.
}

// mutatorRange is one bound goroutine's cooperative stack/register
// snapshot range, registered via Collector.Bind and consumed by the root
// scanner in place of a genuine push_other_roots (see collaborators.go's
// RootPusher doc comment for why Go needs this cooperative substitute).
type mutatorRange struct {
	lo, hi uintptr
}

// rootSet holds every source of roots the scanner pushes at the start of
// a mark cycle, per §4.5: "roots are the union of statically registered
// ranges, the current stack (conservatively, from the stack base down to
// the current stack pointer), and, where available, other mutator
// threads' stacks and register files."
type rootSet struct {
	mu sync.Mutex

	static []staticRoot

	// bound holds cooperative mutator ranges keyed by an opaque token
	// returned from Bind, so Unbind can remove exactly the one range a
	// goroutine registered without disturbing others.
	bound   map[int]mutatorRange
	nextTok int
}

func newRootSet() *rootSet {
	return &rootSet{bound: make(map[int]mutatorRange)}
}

// addRoots implements §4.5's add_roots_inner: register [lo, hi) as a
// static root range. Overlapping or duplicate ranges are accepted
// as-is -- the scanner doesn't need a disjoint set, just coverage -- per
// §4.5's "ranges may overlap; implementations need not merge them."
func (r *rootSet) addRoots(lo, hi uintptr) error {
	if hi < lo {
		return ErrClientMisuse
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.static) >= maxStaticRoots {
		return ErrRootsOverflow
	}
	r.static = append(r.static, staticRoot{lo: lo, hi: hi})
	return nil
}

// removeRoots implements remove_roots: soft-delete every registered
// range exactly matching [lo, hi), then compact. A no-op removal (no
// match found) is not an error, per §4.5's "removing a range that was
// never added, or already removed, is a no-op."
func (r *rootSet) removeRoots(lo, hi uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.static[:0]
	for _, s := range r.static {
		if s.lo == lo && s.hi == hi {
			continue
		}
		kept = append(kept, s)
	}
	r.static = kept
}

// bind registers a cooperative mutator range and returns a token for
// unbind. This is the practical substitute for push_other_roots described
// in collaborators.go: a goroutine that keeps long-lived pointers into
// the managed arena on its own Go stack (not itself arena memory) must
// Bind that range so the scanner treats it as a root.
func (r *rootSet) bind(lo, hi uintptr) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok := r.nextTok
	r.nextTok++
	r.bound[tok] = mutatorRange{lo: lo, hi: hi}
	return tok
}

func (r *rootSet) unbind(tok int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bound, tok)
}

// excludeStaticRoots implements exclude_static_roots_inner: remove any
// previously registered [lo,hi) that falls entirely within
// [excludeLo, excludeHi), per §4.5 -- used when a host unmaps or
// repurposes a region it had earlier registered wholesale (e.g. static
// data from a plugin that was later unloaded).
func (r *rootSet) excludeStaticRoots(excludeLo, excludeHi uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.static[:0]
	for _, s := range r.static {
		if s.lo >= excludeLo && s.hi <= excludeHi {
			continue
		}
		kept = append(kept, s)
	}
	r.static = kept
}

const maxStaticRoots = 4096

// pushAll conservatively scans [lo, hi) one machine word at a time and
// feeds every candidate word to the mark engine, per §4.5's push_all /
// push_all_stack: the same conservative word-at-a-time scan mark.go's
// scanConservative uses for LENGTH-tagged heap objects, reused here
// because roots are scanned exactly as conservatively as an untyped heap
// object would be. fromStack selects the stack blacklist table, since
// interior pointers are routine on a stack (a local variable's address
// taken mid-struct) but suspicious in an object's tracked fields.
func pushAll(m *markEngine, lo, hi uintptr, fromStack bool) {
	if hi < lo {
		return
	}
	for addr := lo; addr+ptrSize <= hi; addr += ptrSize {
		word := readUintptr(addr)
		m.considerCandidate(word, fromStack)
	}
}

// pushRoots implements §4.5's top-level push_roots: push every static
// root, every bound cooperative mutator range, the current goroutine's
// own stack (via StackBaser, if the host supplied one), and anything a
// host-supplied RootPusher enumerates. Called with the world stopped
// (§5), so no root range can be concurrently mutated while being scanned.
func (r *rootSet) pushRoots(m *markEngine, collab Collaborators, currentSP uintptr) {
	r.mu.Lock()
	staticCopy := append([]staticRoot(nil), r.static...)
	boundCopy := make([]mutatorRange, 0, len(r.bound))
	for _, rng := range r.bound {
		boundCopy = append(boundCopy, rng)
	}
	r.mu.Unlock()

	for _, s := range staticCopy {
		pushAll(m, s.lo, s.hi, false)
	}
	for _, b := range boundCopy {
		pushAll(m, b.lo, b.hi, true)
	}
	if collab.Stack != nil {
		if base, ok := collab.Stack.GetStackBase(); ok {
			lo, hi := currentSP, base
			if base < currentSP {
				lo, hi = base, currentSP
			}
			pushAll(m, lo, hi, true)
		}
	}
	if collab.Roots != nil {
		collab.Roots.PushOtherRoots(func(lo, hi uintptr) {
			pushAll(m, lo, hi, true)
		})
	}
}
