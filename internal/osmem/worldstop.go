// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package osmem

import "sync"

// CheckpointWorldStopper is the practical stop-the-world collaborator
// for a pure-Go embedding: Go gives no portable way to suspend arbitrary
// goroutines the way a C collector suspends OS threads with a signal
// (§1's "collaborator interfaces... deliberately out of scope"), so this
// implements the standard cooperative substitute instead -- mutator
// goroutines call Checkpoint before touching arena memory directly (bulk
// copies, raw pointer writes bypassing gc.Collector's own API), and
// StopWorld/StartWorld take and release the writer side of the same
// lock. A mutator that only ever calls through gc.Collector's exported
// methods (Malloc, and so on) needs no Checkpoint calls at all, since
// those already serialize through Collector's own allocator lock; this
// type exists for a mutator that also holds and dereferences raw arena
// pointers outside the Collector API.
type CheckpointWorldStopper struct {
	mu sync.RWMutex
}

func NewCheckpointWorldStopper() *CheckpointWorldStopper {
	return &CheckpointWorldStopper{}
}

// StopWorld implements gc.WorldStopper.
func (c *CheckpointWorldStopper) StopWorld() { c.mu.Lock() }

// StartWorld implements gc.WorldStopper.
func (c *CheckpointWorldStopper) StartWorld() { c.mu.Unlock() }

// Checkpoint is called by cooperative mutator code immediately before a
// span of raw arena access, and again (via the returned func) after it,
// so a StopWorld in progress blocks until every mutator currently inside
// a checkpointed span has left it, and no new span can begin until
// StartWorld runs.
func (c *CheckpointWorldStopper) Checkpoint() (end func()) {
	c.mu.RLock()
	return c.mu.RUnlock
}
