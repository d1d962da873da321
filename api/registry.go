package api

import (
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/mmf"
)

// entry is one registered handle. The mutex covers the guard field so that
// Acquire, Release and transfers through a held guard stay consistent when a
// binding calls in from several threads at once.
type entry struct {
	mu    sync.Mutex
	m     *mmf.Mmf
	guard *mmf.Guard
}

var (
	handles  = cmap.NewWithCustomShardingFunction[int64, *entry](shardHandle)
	lastUsed int64
)

func shardHandle(h int64) uint32 {
	return uint32(h) ^ uint32(h>>32)
}

// register stores m under a fresh handle. Handles start at 1 so that 0 can
// mean "no handle" on the far side of a binding.
func register(m *mmf.Mmf) int64 {
	h := atomic.AddInt64(&lastUsed, 1)
	handles.Set(h, &entry{m: m})
	return h
}

func lookup(h int64) (*entry, bool) {
	return handles.Get(h)
}

// unregister removes and returns the entry of h, or nil when h is unknown.
// Removal is atomic, so two racing CloseHandle calls tear down once.
func (e *entry) unregister(h int64) bool {
	removed := false
	handles.RemoveCb(h, func(_ int64, v *entry, exists bool) bool {
		removed = exists && v == e
		return removed
	})
	return removed
}

// HandleCount reports how many handles are registered, for diagnostics.
func HandleCount() int32 {
	return int32(handles.Count())
}
