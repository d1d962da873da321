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
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"
)

const (
	defaultWatchInterval  = 50 * time.Millisecond
	defaultWatchQueueSize = 64
	defaultWatchWorkers   = 4

	// how long the dispatcher sleeps in the ring before rechecking
	watchPollQuantum = 100 * time.Millisecond
)

// Update is one observed change of a region payload. Data is a private copy
// but shared between the subscribers of one watcher, so callbacks must not
// mutate it.
type Update struct {
	Data     []byte
	Observed time.Time
}

// WatcherOptions tune a Watcher. Zero values pick the defaults.
type WatcherOptions struct {
	// Interval is the poll cadence. Default 50ms.
	Interval time.Duration
	// QueueSize is the capacity of the pending-update ring. When
	// subscribers fall behind, the oldest pending updates survive and new
	// ones are counted as dropped. Default 64.
	QueueSize uint64
	// Workers is the size of the delivery pool that runs subscriber
	// callbacks. Default 4.
	Workers int
}

// Watcher polls a region and pushes payload changes to subscribers.
//
// It is strictly best-effort: polling with try-acquire reads means a busy
// region can be observed late, and payloads replaced faster than the
// interval are missed entirely. It is a change notifier, not a transport.
type Watcher struct {
	m        *Mmf
	interval time.Duration
	ring     *queue.RingBuffer
	pool     *ants.Pool

	subMu   sync.RWMutex
	subs    map[uint64]func(Update)
	nextSub uint64

	last     []byte
	haveLast bool
	dropped  uint64

	stop     chan struct{}
	pollDone chan struct{}
	dispDone chan struct{}
	closed   uint32
}

// NewWatcher opens the region described by config and starts watching it.
// The handle is forced readonly: a watcher never writes.
func NewWatcher(config *Config, opts WatcherOptions) (*Watcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.Readonly = true
	m, err := OpenOrCreate(&cfg)
	if err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultWatchInterval
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = defaultWatchQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWatchWorkers
	}
	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	w := &Watcher{
		m:        m,
		interval: opts.Interval,
		ring:     queue.NewRingBuffer(opts.QueueSize),
		pool:     pool,
		subs:     make(map[uint64]func(Update)),
		stop:     make(chan struct{}),
		pollDone: make(chan struct{}),
		dispDone: make(chan struct{}),
	}
	go w.poll()
	go w.dispatch()
	internalLogger.infof("watching region %s every %v", m.Name(), w.interval)
	return w, nil
}

// Subscribe registers fn for future updates and returns its cancel func.
// Callbacks run on the watcher's worker pool, possibly concurrently with
// each other; slow callbacks delay other subscribers only when the pool is
// saturated.
func (w *Watcher) Subscribe(fn func(Update)) (cancel func()) {
	id := atomic.AddUint64(&w.nextSub, 1)
	w.subMu.Lock()
	w.subs[id] = fn
	w.subMu.Unlock()
	return func() {
		w.subMu.Lock()
		delete(w.subs, id)
		w.subMu.Unlock()
	}
}

// Dropped returns how many updates were discarded because the pending ring
// was full or the delivery pool rejected work.
func (w *Watcher) Dropped() uint64 {
	return atomic.LoadUint64(&w.dropped)
}

// Region returns the watcher's underlying handle, usable for Stats.
func (w *Watcher) Region() *Mmf {
	return w.m
}

// Close stops polling, drains delivery and closes the region handle.
// Idempotent.
func (w *Watcher) Close() error {
	if !atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		return nil
	}
	close(w.stop)
	<-w.pollDone
	w.ring.Dispose()
	<-w.dispDone
	w.pool.Release()
	return w.m.Close()
}

func (w *Watcher) poll() {
	defer close(w.pollDone)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
		w.pollOnce()
	}
}

func (w *Watcher) pollOnce() {
	g, ok := w.m.TryAcquire()
	if !ok {
		// contended or closed; the next tick retries
		return
	}
	data, err := g.ReadBytes(context.Background())
	g.Release()
	if err != nil {
		internalLogger.debugf("watcher read of %s: %v", w.m.Name(), err)
		return
	}
	if w.haveLast && bytes.Equal(data, w.last) {
		return
	}
	first := !w.haveLast
	w.last = data
	w.haveLast = true
	if first && len(data) == 0 {
		// an empty region on the first poll is the initial state, not a change
		return
	}
	if ok, err := w.ring.Offer(Update{Data: data, Observed: time.Now()}); err != nil || !ok {
		atomic.AddUint64(&w.dropped, 1)
	}
}

func (w *Watcher) dispatch() {
	defer close(w.dispDone)
	for {
		item, err := w.ring.Poll(watchPollQuantum)
		if err != nil {
			if err == queue.ErrDisposed {
				return
			}
			continue
		}
		u, ok := item.(Update)
		if !ok {
			continue
		}
		w.subMu.RLock()
		for _, fn := range w.subs {
			fn := fn
			if err := w.pool.Submit(func() { fn(u) }); err != nil {
				atomic.AddUint64(&w.dropped, 1)
			}
		}
		w.subMu.RUnlock()
	}
}
