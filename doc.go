// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gc implements the core of a conservative, mostly-precise,
// mark-sweep garbage collector meant to be linked into a host process as
// a drop-in replacement for a manual allocator over a privately owned
// memory arena.
//
// The collector never looks at the Go runtime's own heap. It manages a
// separate arena acquired through the GetMem collaborator (see
// collaborators.go) and scans whatever root ranges the host registers
// for machine words that, interpreted as addresses, fall inside a
// managed block. Heap interiors are scanned the same way unless a kind
// carries a precise pointer descriptor (see markdescr.go), in which case
// scanning follows the descriptor instead of treating every word as a
// candidate pointer.
//
// The host is responsible for everything this package treats as a
// collaborator: acquiring raw memory, stopping and resuming mutators
// around a root scan, and enumerating whatever root ranges a mutator
// wants conservatively scanned. gc/internal/osmem provides reference
// collaborators for unix hosts.
package gc
