// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "testing"

func TestPageHashTableSetTestClear(t *testing.T) {
	tbl := newPageHashTable(8)
	addr := uintptr(123 * hblkSize)

	if tbl.test(addr) {
		t.Fatal("fresh table should report no pages set")
	}
	tbl.set(addr)
	if !tbl.test(addr) {
		t.Fatal("page should test set after set")
	}
	tbl.clear()
	if tbl.test(addr) {
		t.Fatal("page should test unset after clear")
	}
}

func TestBlackListSeparatesNormalAndStack(t *testing.T) {
	bl := newBlackList()
	normalAddr := uintptr(0x10000)
	stackAddr := uintptr(0x20000)

	bl.recordNormal(normalAddr)
	bl.recordStack(stackAddr)

	if !bl.isBlacklisted(normalAddr &^ (hblkSize - 1)) {
		t.Fatal("recordNormal should blacklist its page")
	}
	if !bl.isBlacklisted(stackAddr &^ (hblkSize - 1)) {
		t.Fatal("recordStack should blacklist its page")
	}
	if bl.normal.test(stackAddr &^ (hblkSize - 1)) {
		t.Fatal("recordStack must not pollute the normal table")
	}
	if bl.stack.test(normalAddr &^ (hblkSize - 1)) {
		t.Fatal("recordNormal must not pollute the stack table")
	}

	bl.clear()
	if bl.isBlacklisted(normalAddr&^(hblkSize-1)) || bl.isBlacklisted(stackAddr&^(hblkSize-1)) {
		t.Fatal("clear should reset both tables")
	}
}
