// Package monitor tracks per-pool market state: the current snapshot, a
// bounded price history, derived indicators, and the scheduling loop that
// polls venues and emits execution signals for the book's orders.
package monitor

import (
	"sync/atomic"

	"github.com/dlmmcore/engine/types"
)

// SnapshotStore holds the most recent MarketSnapshot per pool, replaced
// atomically so readers never observe a partially-updated snapshot.
type SnapshotStore struct {
	snapshots atomic.Pointer[map[string]types.MarketSnapshot]
}

// NewSnapshotStore returns an empty store.
func NewSnapshotStore() *SnapshotStore {
	s := &SnapshotStore{}
	empty := map[string]types.MarketSnapshot{}
	s.snapshots.Store(&empty)
	return s
}

// Put replaces the snapshot for snap.Pool via copy-on-write over the whole
// map; readers see either the old or the new map, never a torn view.
func (s *SnapshotStore) Put(snap types.MarketSnapshot) {
	old := *s.snapshots.Load()
	next := make(map[string]types.MarketSnapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[snap.Pool] = snap
	s.snapshots.Store(&next)
}

// Get returns the current snapshot for pool, if any.
func (s *SnapshotStore) Get(pool string) (types.MarketSnapshot, bool) {
	m := *s.snapshots.Load()
	snap, ok := m[pool]
	return snap, ok
}

// All returns a copy of every tracked pool's current snapshot.
func (s *SnapshotStore) All() []types.MarketSnapshot {
	m := *s.snapshots.Load()
	out := make([]types.MarketSnapshot, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
