package api

import (
	"context"
	"time"

	"github.com/srediag/mmf"
)

// The operations in this file are the contract for a foreign-function
// surface: handles are int64, codes are int32, payloads are byte buffers
// with explicit length. Raw region addresses and the lock representation
// never cross this boundary. Handles are safe to use from any thread; the
// underlying region handles are opened with concurrent access enabled and
// every lock interaction is serialized per handle.

// Create opens the named region, creating it when no process holds it yet,
// and returns a fresh handle for it. capacity is the total region size in
// bytes, identical for every opener of the name.
func Create(name string, namespace int32, capacity uint32) (int64, int32) {
	return openHandle(name, namespace, capacity, false, false)
}

// Open attaches to a region some process has already created. When the name
// was not alive the region is not kept: Open tears it down again and
// reports CodeNotFound. readonly rejects writes through the new handle.
func Open(name string, namespace int32, capacity uint32, readonly bool) (int64, int32) {
	return openHandle(name, namespace, capacity, readonly, true)
}

func openHandle(name string, namespace int32, capacity uint32, readonly, mustExist bool) (int64, int32) {
	ns, ok := toNamespace(namespace)
	if !ok {
		return 0, CodeBadNamespace
	}
	cfg := mmf.DefaultConfig()
	cfg.Name = name
	cfg.Namespace = ns
	cfg.Capacity = capacity
	cfg.Readonly = readonly
	cfg.ConcurrentAccess = true
	m, err := mmf.OpenOrCreate(cfg)
	if err != nil {
		return 0, errorCode(err)
	}
	if mustExist && m.NewlyCreated() {
		_ = m.Close()
		return 0, CodeNotFound
	}
	return register(m), CodeOK
}

// CloseHandle releases h: a held lock is returned, the region is unmapped
// and the handle number becomes invalid. The second close of the same
// handle reports CodeBadHandle.
func CloseHandle(h int64) int32 {
	e, ok := lookup(h)
	if !ok {
		return CodeBadHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.unregister(h) {
		return CodeBadHandle
	}
	if e.guard != nil {
		e.guard.Release()
		e.guard = nil
	}
	return errorCode(e.m.Close())
}

// Write stores data as the region payload. With the handle's lock held via
// Acquire the transfer reuses that acquisition, otherwise the lock is taken
// for the duration of the copy.
func Write(h int64, data []byte) int32 {
	e, ok := lookup(h)
	if !ok {
		return CodeBadHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.guard != nil {
		return errorCode(e.guard.Write(context.Background(), data))
	}
	return errorCode(e.m.Write(context.Background(), data))
}

// Read copies the region payload into dst and returns the copied length.
// A negative count is the error code; a dst shorter than the payload fails
// with CodeBufferTooSmall and copies nothing.
func Read(h int64, dst []byte) int32 {
	e, ok := lookup(h)
	if !ok {
		return CodeBadHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		n   int
		err error
	)
	if e.guard != nil {
		n, err = e.guard.Read(context.Background(), dst)
	} else {
		n, err = e.m.Read(context.Background(), dst)
	}
	if err != nil {
		return errorCode(err)
	}
	return int32(n)
}

// ReadAll returns the region payload in a fresh buffer sized to the stored
// length, so callers never have to know the length up front.
func ReadAll(h int64) ([]byte, int32) {
	e, ok := lookup(h)
	if !ok {
		return nil, CodeBadHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		data []byte
		err  error
	)
	if e.guard != nil {
		data, err = e.guard.ReadBytes(context.Background())
	} else {
		data, err = e.m.ReadBytes(context.Background())
	}
	if err != nil {
		return nil, errorCode(err)
	}
	return data, CodeOK
}

// Acquire claims the region lock through h and keeps it held across calls
// until Release. Waiting is bounded by the handle's acquisition timeout, or
// by timeoutMillis when that is sooner; zero keeps the handle's bound.
// Acquiring twice without releasing reports CodeAlreadyLocked.
func Acquire(h int64, timeoutMillis int64) int32 {
	e, ok := lookup(h)
	if !ok {
		return CodeBadHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.guard != nil {
		return CodeAlreadyLocked
	}
	ctx := context.Background()
	if timeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMillis)*time.Millisecond)
		defer cancel()
	}
	g, err := e.m.Acquire(ctx)
	if err != nil {
		return errorCode(err)
	}
	e.guard = g
	return CodeOK
}

// TryAcquire claims the region lock through h only when it is free right
// now, reporting CodeTimedOut otherwise.
func TryAcquire(h int64) int32 {
	e, ok := lookup(h)
	if !ok {
		return CodeBadHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.guard != nil {
		return CodeAlreadyLocked
	}
	g, ok := e.m.TryAcquire()
	if !ok {
		return CodeTimedOut
	}
	e.guard = g
	return CodeOK
}

// Release returns the lock held through h. Releasing a handle that holds no
// lock reports CodeNotLocked.
func Release(h int64) int32 {
	e, ok := lookup(h)
	if !ok {
		return CodeBadHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.guard == nil {
		return CodeNotLocked
	}
	e.guard.Release()
	e.guard = nil
	return CodeOK
}
