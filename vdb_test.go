// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "testing"

func TestDefaultVDBAlwaysDirty(t *testing.T) {
	var v defaultVDB
	if !v.PageWasDirty(0x1234) {
		t.Fatal("defaultVDB must report every page dirty")
	}
	v.ReadDirty(0, 1<<20)
	v.RemoveProtection(0, 1<<20)
	if !v.PageWasDirty(0x1234) {
		t.Fatal("defaultVDB must stay always-dirty across calls")
	}
}

func TestManualVDBTracksExplicitDirty(t *testing.T) {
	v := newManualVDB()
	addr := uintptr(5 * hblkSize)

	if v.PageWasDirty(addr) {
		t.Fatal("manualVDB should start with no pages dirty")
	}
	v.Dirty(addr)
	if !v.PageWasDirty(addr) {
		t.Fatal("manualVDB should report a page dirty after Dirty")
	}
	other := uintptr(6 * hblkSize)
	if v.PageWasDirty(other) {
		t.Fatal("manualVDB should not report an untouched page dirty")
	}
}
