/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mmf

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	lockFree uint32 = 0

	acquireSpinRounds   = 64
	acquireBackoffFloor = 100 * time.Microsecond
	acquireBackoffCeil  = 10 * time.Millisecond
)

// lockTag is the value this process stores in a held lock word. The pid
// makes the holder identifiable in debug dumps; any nonzero value works for
// mutual exclusion.
var lockTag = uint32(os.Getpid())

// regionLock is the cross-process mutex embedded at offset 0 of the mapped
// region. Exclusive only: one holder across all processes and threads. No
// fairness beyond the scheduler's and no recovery of a holder that died.
type regionLock struct {
	state *uint32
}

func newRegionLock(v view) *regionLock {
	return &regionLock{state: v.lockWord()}
}

func (l *regionLock) tryAcquire() bool {
	return atomic.CompareAndSwapUint32(l.state, lockFree, lockTag)
}

func (l *regionLock) release() {
	atomic.StoreUint32(l.state, lockFree)
}

func (l *regionLock) holder() uint32 {
	return atomic.LoadUint32(l.state)
}

// acquire claims the lock word, spinning briefly before falling back to
// exponentially spaced sleeps capped by timeout. The deadline of ctx, when
// sooner, wins over timeout and surfaces as ctx.Err.
func (l *regionLock) acquire(ctx context.Context, timeout time.Duration) error {
	for i := 0; i < acquireSpinRounds; i++ {
		if l.tryAcquire() {
			return nil
		}
		runtime.Gosched()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = acquireBackoffFloor
	bo.MaxInterval = acquireBackoffCeil
	bo.MaxElapsedTime = timeout
	bo.Reset()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		next := bo.NextBackOff()
		if next == backoff.Stop {
			return fmt.Errorf("%w after %v", ErrTimedOut, timeout)
		}
		timer.Reset(next)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if l.tryAcquire() {
			return nil
		}
	}
}

// Guard is one held acquisition of the region lock. The goroutine that
// acquired it owns it; Release hands the lock back and is idempotent, so a
// deferred Release stays correct on every exit path.
type Guard struct {
	m        *Mmf
	released uint32
}

// Release returns the lock. A fault while storing the release is logged and
// swallowed so that a deferred Release cannot take down the process after
// the mapping died mid-operation.
func (g *Guard) Release() {
	if !atomic.CompareAndSwapUint32(&g.released, 0, 1) {
		return
	}
	if err := protectedRun(g.m.lock.release); err != nil {
		atomic.AddUint64(&g.m.stats.accessFaults, 1)
		internalLogger.warnf("releasing lock of region %s: %v", g.m.cfg.Name, err)
	}
}

// Write stores p in the region without releasing the lock.
func (g *Guard) Write(ctx context.Context, p []byte) error {
	if atomic.LoadUint32(&g.released) != 0 {
		return ErrGuardReleased
	}
	return g.m.writeHeld(ctx, p)
}

// Read copies the stored payload into dst without releasing the lock.
func (g *Guard) Read(ctx context.Context, dst []byte) (int, error) {
	if atomic.LoadUint32(&g.released) != 0 {
		return 0, ErrGuardReleased
	}
	return g.m.readHeld(ctx, dst)
}

// ReadBytes returns a copy of the stored payload without releasing the lock.
func (g *Guard) ReadBytes(ctx context.Context) ([]byte, error) {
	if atomic.LoadUint32(&g.released) != 0 {
		return nil, ErrGuardReleased
	}
	return g.m.readBytesHeld(ctx)
}
