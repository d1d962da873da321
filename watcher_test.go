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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchTestInterval = 10 * time.Millisecond

func newTestWatcher(t *testing.T, name string) (*Watcher, chan Update, func()) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Capacity = testCapacity
	w, err := NewWatcher(cfg, WatcherOptions{Interval: watchTestInterval})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	updates := make(chan Update, 32)
	cancel := w.Subscribe(func(u Update) { updates <- u })
	return w, updates, cancel
}

func waitUpdate(t *testing.T, updates chan Update) Update {
	t.Helper()
	select {
	case u := <-updates:
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("no update arrived")
		return Update{}
	}
}

func expectQuiet(t *testing.T, updates chan Update) {
	t.Helper()
	select {
	case u := <-updates:
		t.Fatalf("unexpected update of %d bytes", len(u.Data))
	case <-time.After(20 * watchTestInterval):
	}
}

func TestWatcherDeliversChanges(t *testing.T) {
	name := testRegionName()
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Capacity = testCapacity
	writer, err := OpenOrCreate(cfg)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	w, updates, cancel := newTestWatcher(t, name)
	ctx := context.Background()

	require.NoError(t, writer.Write(ctx, []byte("first")))
	u := waitUpdate(t, updates)
	assert.Equal(t, []byte("first"), u.Data)
	assert.False(t, u.Observed.IsZero())

	require.NoError(t, writer.Write(ctx, []byte("second")))
	u = waitUpdate(t, updates)
	assert.Equal(t, []byte("second"), u.Data)

	assert.Zero(t, w.Dropped())

	// a canceled subscription stops receiving
	cancel()
	require.NoError(t, writer.Write(ctx, []byte("third")))
	expectQuiet(t, updates)
}

func TestWatcherCoalescesUnchangedPayload(t *testing.T) {
	name := testRegionName()
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Capacity = testCapacity
	writer, err := OpenOrCreate(cfg)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	_, updates, _ := newTestWatcher(t, name)
	ctx := context.Background()

	require.NoError(t, writer.Write(ctx, []byte("same")))
	waitUpdate(t, updates)

	// rewriting identical bytes is not a change
	require.NoError(t, writer.Write(ctx, []byte("same")))
	expectQuiet(t, updates)
}

func TestWatcherIgnoresInitialEmptyRegion(t *testing.T) {
	name := testRegionName()
	_, updates, _ := newTestWatcher(t, name)
	expectQuiet(t, updates)
}

func TestWatcherReportsPreexistingPayload(t *testing.T) {
	name := testRegionName()
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Capacity = testCapacity
	writer, err := OpenOrCreate(cfg)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()
	require.NoError(t, writer.Write(context.Background(), []byte("already there")))

	_, updates, _ := newTestWatcher(t, name)
	u := waitUpdate(t, updates)
	assert.Equal(t, []byte("already there"), u.Data)
	expectQuiet(t, updates)
}

func TestWatcherHandleIsReadonly(t *testing.T) {
	name := testRegionName()
	w, updates, _ := newTestWatcher(t, name)
	assert.True(t, w.Region().Readonly(), "a watcher must never write its region")

	// polling shows up on the handle's counters even without changes
	expectQuiet(t, updates)
	assert.NotZero(t, w.Region().Stats().Reads)
}

func TestWatcherCloseIdempotent(t *testing.T) {
	name := testRegionName()
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Capacity = testCapacity
	w, err := NewWatcher(cfg, WatcherOptions{Interval: watchTestInterval})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatcherDefaultsApplied(t *testing.T) {
	name := testRegionName()
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Capacity = testCapacity
	w, err := NewWatcher(cfg, WatcherOptions{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.Equal(t, defaultWatchInterval, w.interval)
}
