// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package osmem

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCheckpointWorldStopperExcludesCheckpoints(t *testing.T) {
	w := NewCheckpointWorldStopper()

	end := w.Checkpoint()
	stopped := make(chan struct{})
	go func() {
		w.StopWorld()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("StopWorld returned while a checkpoint was still open")
	case <-time.After(20 * time.Millisecond):
	}

	end()
	<-stopped
	w.StartWorld()
}

func TestCheckpointWorldStopperBlocksNewCheckpointsDuringStop(t *testing.T) {
	w := NewCheckpointWorldStopper()
	w.StopWorld()

	var entered int32
	done := make(chan struct{})
	go func() {
		end := w.Checkpoint()
		atomic.StoreInt32(&entered, 1)
		end()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&entered) != 0 {
		t.Fatal("Checkpoint proceeded while the world was stopped")
	}

	w.StartWorld()
	<-done
	if atomic.LoadInt32(&entered) != 1 {
		t.Fatal("Checkpoint never proceeded after StartWorld")
	}
}
