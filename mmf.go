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

// Package mmf maps a named shared memory region into the process and moves
// whole payloads in and out of it under a cross-process lock.
//
// The region is a pagefile-backed section on Windows and a /dev/shm (or
// temp-dir) file on unix-likes; every process opening the same name in the
// same namespace sees the same bytes. Offset 0 of the region carries a small
// header: a lock word driven by compare-and-swap, and the length of the
// stored payload. Write replaces the payload, Read copies it out, and both
// hold the embedded lock for the duration of the transfer so readers never
// observe a torn payload.
//
// Memory faults that the kernel raises on the mapping, which happen when
// the backing object disappears, come back as ErrAccessFault instead of
// crashing the process.
package mmf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/mmf/internal/shm"
)

// Mmf is a handle to one named shared memory region.
//
// A handle is confined to one goroutine unless the config sets
// ConcurrentAccess, which serializes calls on an internal mutex. Neither
// mode relaxes the cross-process contract: payload transfers always run
// under the region lock.
type Mmf struct {
	cfg    Config
	region *shm.Region
	view   view
	lock   *regionLock
	inst   *instruments
	stats  regionStats

	mu     sync.Mutex
	busy   uint32
	closed uint32
}

// OpenOrCreate opens the named region, creating and zeroing it when no
// process holds it yet. config may be nil only in tests that expect the
// verification error; a usable config needs at least a Name.
func OpenOrCreate(config *Config) (*Mmf, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	cfg := *config
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	region, err := shm.Open(shm.Options{
		Name:  cfg.Name,
		Scope: cfg.Namespace.scope(),
		Size:  int(cfg.Capacity),
	})
	if err != nil {
		return nil, err
	}
	m := &Mmf{
		cfg:    cfg,
		region: region,
		view:   view{mem: region.Bytes},
	}
	m.lock = newRegionLock(m.view)
	m.inst = newInstruments(cfg.Meter, cfg.Name)
	internalLogger.infof("region %s namespace:%s capacity:%d newly_created:%v readonly:%v",
		cfg.Name, cfg.Namespace, cfg.Capacity, region.NewlyCreated, cfg.Readonly)
	return m, nil
}

// Name returns the region name from the config.
func (m *Mmf) Name() string { return m.cfg.Name }

// Namespace returns the namespace the region lives in.
func (m *Mmf) Namespace() Namespace { return m.cfg.Namespace }

// Capacity returns the total region size including the header.
func (m *Mmf) Capacity() uint32 { return m.cfg.Capacity }

// PayloadCapacity returns the largest payload the region can store.
func (m *Mmf) PayloadCapacity() uint32 { return m.cfg.Capacity - headerSize }

// NewlyCreated reports whether this handle's open created the region.
func (m *Mmf) NewlyCreated() bool { return m.region.NewlyCreated }

// Readonly reports whether mutating methods are rejected on this handle.
func (m *Mmf) Readonly() bool { return m.cfg.Readonly }

// Close unmaps the region and drops this handle's reference to the name.
// The name stays alive while any process still holds it. Close is
// idempotent. Operations racing a Close on another goroutine either fail
// with ErrClosed or, when the unmap lands mid-transfer, with ErrAccessFault.
func (m *Mmf) Close() error {
	if !atomic.CompareAndSwapUint32(&m.closed, 0, 1) {
		return nil
	}
	err := m.region.Close()
	if err != nil {
		internalLogger.warnf("closing region %s: %v", m.cfg.Name, err)
		return err
	}
	internalLogger.infof("closed region %s", m.cfg.Name)
	return nil
}

// Write stores p as the region payload, replacing the previous one. It
// acquires the region lock, copies, updates the length header and releases.
// A payload larger than PayloadCapacity fails with ErrCapacityExceeded
// before anything is copied.
func (m *Mmf) Write(ctx context.Context, p []byte) (err error) {
	exit, err := m.enter()
	if err != nil {
		return err
	}
	defer exit()
	ctx, end := m.startSpan(ctx, "mmf.Write")
	defer func() { end(err) }()
	if m.cfg.Readonly {
		return fmt.Errorf("%w: write to %s", ErrReadonly, m.cfg.Name)
	}
	g, err := m.acquireGuard(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	return m.writeHeld(ctx, p)
}

// Read copies the region payload into dst and returns the number of bytes
// copied. A dst shorter than the stored payload fails with ErrBufferTooSmall
// and copies nothing.
func (m *Mmf) Read(ctx context.Context, dst []byte) (n int, err error) {
	exit, err := m.enter()
	if err != nil {
		return 0, err
	}
	defer exit()
	ctx, end := m.startSpan(ctx, "mmf.Read")
	defer func() { end(err) }()
	g, err := m.acquireGuard(ctx)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	return m.readHeld(ctx, dst)
}

// ReadBytes returns the region payload in a fresh slice sized to the stored
// length.
func (m *Mmf) ReadBytes(ctx context.Context) (data []byte, err error) {
	exit, err := m.enter()
	if err != nil {
		return nil, err
	}
	defer exit()
	ctx, end := m.startSpan(ctx, "mmf.ReadBytes")
	defer func() { end(err) }()
	g, err := m.acquireGuard(ctx)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	return m.readBytesHeld(ctx)
}

// ReadBuffer copies the region payload into b, growing b as needed but
// never shrinking its capacity, and returns the number of bytes copied.
// Pairs with bytebufferpool so hot read loops stop allocating once the
// buffer has grown to the working payload size.
func (m *Mmf) ReadBuffer(ctx context.Context, b *bytebufferpool.ByteBuffer) (n int, err error) {
	exit, err := m.enter()
	if err != nil {
		return 0, err
	}
	defer exit()
	ctx, end := m.startSpan(ctx, "mmf.ReadBuffer")
	defer func() { end(err) }()
	g, err := m.acquireGuard(ctx)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	return m.readBufferHeld(ctx, b)
}

// TryWrite is Write without waiting: when the region lock is held elsewhere
// it fails immediately with ErrTimedOut.
func (m *Mmf) TryWrite(ctx context.Context, p []byte) (err error) {
	exit, err := m.enter()
	if err != nil {
		return err
	}
	defer exit()
	ctx, end := m.startSpan(ctx, "mmf.TryWrite")
	defer func() { end(err) }()
	if m.cfg.Readonly {
		return fmt.Errorf("%w: write to %s", ErrReadonly, m.cfg.Name)
	}
	g, err := m.tryAcquireGuard()
	if err != nil {
		return err
	}
	defer g.Release()
	return m.writeHeld(ctx, p)
}

// TryRead is Read without waiting: when the region lock is held elsewhere
// it fails immediately with ErrTimedOut.
func (m *Mmf) TryRead(ctx context.Context, dst []byte) (n int, err error) {
	exit, err := m.enter()
	if err != nil {
		return 0, err
	}
	defer exit()
	ctx, end := m.startSpan(ctx, "mmf.TryRead")
	defer func() { end(err) }()
	g, err := m.tryAcquireGuard()
	if err != nil {
		return 0, err
	}
	defer g.Release()
	return m.readHeld(ctx, dst)
}

// Acquire claims the region lock and returns a Guard for it. The guard's
// Write/Read methods transfer payloads without re-acquiring, which lets a
// caller do read-modify-write cycles atomically with respect to other
// processes. Waiting is bounded by the config's AcquireTimeout and by ctx.
func (m *Mmf) Acquire(ctx context.Context) (g *Guard, err error) {
	exit, err := m.enter()
	if err != nil {
		return nil, err
	}
	defer exit()
	ctx, end := m.startSpan(ctx, "mmf.Acquire")
	defer func() { end(err) }()
	return m.acquireGuard(ctx)
}

// TryAcquire claims the region lock only if it is free right now. The
// second value reports success; false covers a held lock as well as a
// closed or concurrently entered handle.
func (m *Mmf) TryAcquire() (*Guard, bool) {
	exit, err := m.enter()
	if err != nil {
		return nil, false
	}
	defer exit()
	g, err := m.tryAcquireGuard()
	if err != nil {
		return nil, false
	}
	return g, true
}

// enter guards method entry: ErrClosed after Close, and either mutex
// serialization or confinement detection depending on the config.
func (m *Mmf) enter() (func(), error) {
	if m.cfg.ConcurrentAccess {
		m.mu.Lock()
		if atomic.LoadUint32(&m.closed) != 0 {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrClosed, m.cfg.Name)
		}
		return m.mu.Unlock, nil
	}
	if !atomic.CompareAndSwapUint32(&m.busy, 0, 1) {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentAccess, m.cfg.Name)
	}
	if atomic.LoadUint32(&m.closed) != 0 {
		atomic.StoreUint32(&m.busy, 0)
		return nil, fmt.Errorf("%w: %s", ErrClosed, m.cfg.Name)
	}
	return func() { atomic.StoreUint32(&m.busy, 0) }, nil
}

func (m *Mmf) acquireGuard(ctx context.Context) (*Guard, error) {
	var ok bool
	if err := protectedRun(func() { ok = m.lock.tryAcquire() }); err != nil {
		atomic.AddUint64(&m.stats.accessFaults, 1)
		m.inst.recordFault(ctx)
		return nil, err
	}
	if !ok {
		atomic.AddUint64(&m.stats.lockContended, 1)
		var acquireErr error
		if err := protectedRun(func() {
			acquireErr = m.lock.acquire(ctx, m.cfg.AcquireTimeout)
		}); err != nil {
			atomic.AddUint64(&m.stats.accessFaults, 1)
			m.inst.recordFault(ctx)
			return nil, err
		}
		if acquireErr != nil {
			if errors.Is(acquireErr, ErrTimedOut) {
				atomic.AddUint64(&m.stats.lockTimeouts, 1)
			}
			return nil, acquireErr
		}
	}
	atomic.AddUint64(&m.stats.lockAcquires, 1)
	return &Guard{m: m}, nil
}

func (m *Mmf) tryAcquireGuard() (*Guard, error) {
	var ok bool
	if err := protectedRun(func() { ok = m.lock.tryAcquire() }); err != nil {
		atomic.AddUint64(&m.stats.accessFaults, 1)
		m.inst.recordFault(context.Background())
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: region lock busy", ErrTimedOut)
	}
	atomic.AddUint64(&m.stats.lockAcquires, 1)
	return &Guard{m: m}, nil
}

// writeHeld transfers p into the region. Caller holds the region lock.
func (m *Mmf) writeHeld(ctx context.Context, p []byte) error {
	if atomic.LoadUint32(&m.closed) != 0 {
		return fmt.Errorf("%w: %s", ErrClosed, m.cfg.Name)
	}
	if m.cfg.Readonly {
		return fmt.Errorf("%w: write to %s", ErrReadonly, m.cfg.Name)
	}
	if len(p) > m.view.payloadCap() {
		return fmt.Errorf("%w: %d bytes into %d byte payload area",
			ErrCapacityExceeded, len(p), m.view.payloadCap())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := protectedRun(func() {
		copy(m.view.payload(), p)
		m.view.setLength(uint32(len(p)))
	}); err != nil {
		atomic.AddUint64(&m.stats.accessFaults, 1)
		m.inst.recordFault(ctx)
		return err
	}
	atomic.AddUint64(&m.stats.writes, 1)
	atomic.AddUint64(&m.stats.writtenBytes, uint64(len(p)))
	m.inst.recordWrite(ctx, len(p))
	return nil
}

// readHeld transfers the payload into dst. Caller holds the region lock.
func (m *Mmf) readHeld(ctx context.Context, dst []byte) (int, error) {
	if atomic.LoadUint32(&m.closed) != 0 {
		return 0, fmt.Errorf("%w: %s", ErrClosed, m.cfg.Name)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var (
		n        int
		stored   int
		tooSmall bool
	)
	if err := protectedRun(func() {
		stored = m.storedLength()
		if stored > len(dst) {
			tooSmall = true
			return
		}
		n = copy(dst, m.view.payload()[:stored])
	}); err != nil {
		atomic.AddUint64(&m.stats.accessFaults, 1)
		m.inst.recordFault(ctx)
		return 0, err
	}
	if tooSmall {
		return 0, fmt.Errorf("%w: payload %d bytes, destination %d",
			ErrBufferTooSmall, stored, len(dst))
	}
	atomic.AddUint64(&m.stats.reads, 1)
	atomic.AddUint64(&m.stats.readBytes, uint64(n))
	m.inst.recordRead(ctx, n)
	return n, nil
}

// readBytesHeld allocates and fills a slice with the payload. Caller holds
// the region lock, so the length cannot move between the two sections.
func (m *Mmf) readBytesHeld(ctx context.Context) ([]byte, error) {
	if atomic.LoadUint32(&m.closed) != 0 {
		return nil, fmt.Errorf("%w: %s", ErrClosed, m.cfg.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stored int
	if err := protectedRun(func() { stored = m.storedLength() }); err != nil {
		atomic.AddUint64(&m.stats.accessFaults, 1)
		m.inst.recordFault(ctx)
		return nil, err
	}
	dst := make([]byte, stored)
	if err := protectedRun(func() { copy(dst, m.view.payload()[:stored]) }); err != nil {
		atomic.AddUint64(&m.stats.accessFaults, 1)
		m.inst.recordFault(ctx)
		return nil, err
	}
	atomic.AddUint64(&m.stats.reads, 1)
	atomic.AddUint64(&m.stats.readBytes, uint64(stored))
	m.inst.recordRead(ctx, stored)
	return dst, nil
}

// readBufferHeld fills b with the payload, growing but never shrinking its
// capacity. Caller holds the region lock.
func (m *Mmf) readBufferHeld(ctx context.Context, b *bytebufferpool.ByteBuffer) (int, error) {
	if atomic.LoadUint32(&m.closed) != 0 {
		return 0, fmt.Errorf("%w: %s", ErrClosed, m.cfg.Name)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var stored int
	if err := protectedRun(func() { stored = m.storedLength() }); err != nil {
		atomic.AddUint64(&m.stats.accessFaults, 1)
		m.inst.recordFault(ctx)
		return 0, err
	}
	if cap(b.B) < stored {
		b.B = make([]byte, stored)
	} else {
		b.B = b.B[:stored]
	}
	if err := protectedRun(func() { copy(b.B, m.view.payload()[:stored]) }); err != nil {
		atomic.AddUint64(&m.stats.accessFaults, 1)
		m.inst.recordFault(ctx)
		return 0, err
	}
	atomic.AddUint64(&m.stats.reads, 1)
	atomic.AddUint64(&m.stats.readBytes, uint64(stored))
	m.inst.recordRead(ctx, stored)
	return stored, nil
}

// storedLength loads the payload length header, clamped to the payload
// capacity in case a foreign writer inflated it past what the region holds.
func (m *Mmf) storedLength() int {
	stored := int(m.view.length())
	if pc := m.view.payloadCap(); stored > pc {
		internalLogger.warnf("region %s length header %d exceeds payload capacity %d, clamping",
			m.cfg.Name, stored, pc)
		return pc
	}
	return stored
}
