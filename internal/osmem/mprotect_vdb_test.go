// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package osmem

import (
	"testing"
	"unsafe"
)

func TestMProtectVDBTracksDirtyPages(t *testing.T) {
	m := NewMMapSource()
	defer m.Close()
	base, ok := m.GetMem(2 * hblkSize)
	if !ok {
		t.Fatal("GetMem failed")
	}

	v := NewMProtectVDB()
	if v.PageWasDirty(base) {
		t.Fatal("a fresh MProtectVDB should report no pages dirty")
	}

	v.Dirty(base)
	if !v.PageWasDirty(base) {
		t.Fatal("PageWasDirty should report true immediately after Dirty")
	}
	second := base + hblkSize
	if v.PageWasDirty(second) {
		t.Fatal("an untouched page must not read dirty")
	}

	// The page must actually be writable after Dirty re-protects it
	// read-write.
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), hblkSize)
	b[0] = 0x42

	v.RemoveProtection(base, base+hblkSize)
	if v.PageWasDirty(base) {
		t.Fatal("RemoveProtection should clear the dirty record")
	}
}
