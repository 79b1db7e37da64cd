// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

// markStackEntry is the {start, descr} pair from §3 "Mark stack entry."
type markStackEntry struct {
	start uintptr
	descr markDescr
}

// markStack is an array-backed stack, never recursive, per §9's "Control
// flow across collections" design note: "implementations must avoid
// recursion in mark and sweep paths." It grows by doubling up to
// maxMarkStackSize (SPEC_FULL.md §4.4), after which pushObj reports
// overflow instead of growing further, letting the caller run the
// PARTIALLY_INVALID/INVALID rescan path from §4.4.4.
type markStack struct {
	entries  []markStackEntry
	overflow bool
}

func newMarkStack() *markStack {
	return &markStack{entries: make([]markStackEntry, 0, initialMarkStackSize)}
}

func (s *markStack) len() int { return len(s.entries) }

// push appends an entry unless descr is the zero LENGTH descriptor
// (pointer-free, tag 0 length 0), matching §4.4.3 step 6: "push {base,
// descr} onto the mark stack unless descriptor is 0."
func (s *markStack) push(start uintptr, descr markDescr) {
	if descr == 0 {
		return
	}
	s.pushObj(markStackEntry{start: start, descr: descr})
}

// pushObj is the raw push primitive PROC-tag mark procedures call
// directly (via MarkProc's *markStack argument), growing the backing
// array up to maxMarkStackSize and setting overflow once that ceiling is
// hit, per §4.4.4: "On mark-stack overflow (push_obj would exceed
// limit)."
func (s *markStack) pushObj(e markStackEntry) {
	if len(s.entries) >= maxMarkStackSize {
		s.overflow = true
		return
	}
	if len(s.entries) == cap(s.entries) {
		newCap := cap(s.entries) * 2
		if newCap > maxMarkStackSize {
			newCap = maxMarkStackSize
		}
		grown := make([]markStackEntry, len(s.entries), newCap)
		copy(grown, s.entries)
		s.entries = grown
	}
	s.entries = append(s.entries, e)
}

// pop removes and returns the top entry; ok is false on an empty stack.
func (s *markStack) pop() (e markStackEntry, ok bool) {
	if len(s.entries) == 0 {
		return markStackEntry{}, false
	}
	last := len(s.entries) - 1
	e = s.entries[last]
	s.entries = s.entries[:last]
	return e, true
}

// discardOldest drops up to n entries from the bottom of the stack, per
// §4.4.4's overflow handling: "the engine pushes GC_MARK_STACK_DISCARDS
// entries back into the 'to rescan later' pool by discarding them." The
// discarded objects are not lost -- they stay marked (the mark bit was
// already set in push_contents_hdr before the entry reached the stack),
// they just won't have their own referents scanned on this pass; the
// rescan phase (mark.go rescanFromScanPtr) is what re-establishes
// reachability for them.
func (s *markStack) discardOldest(n int) {
	if n >= len(s.entries) {
		s.entries = s.entries[:0]
		return
	}
	copy(s.entries, s.entries[n:])
	s.entries = s.entries[:len(s.entries)-n]
}
