package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/rekapu/go-rekapu/service/persist"
)

// DefaultSnapshotRetention caps how many snapshots are kept before the
// oldest are pruned
const DefaultSnapshotRetention = 10

// SnapshotRepository is an in-memory implementation of
// persist.SnapshotRepository with a bounded, oldest-first-pruned history
type SnapshotRepository struct {
	mu        sync.RWMutex
	snapshots map[persist.DBID]persist.Snapshot
	retention int
}

// NewSnapshotRepository creates a snapshot repository retaining at most
// retention snapshots; values < 1 fall back to the default
func NewSnapshotRepository(retention int) *SnapshotRepository {
	if retention < 1 {
		retention = DefaultSnapshotRetention
	}
	return &SnapshotRepository{
		snapshots: map[persist.DBID]persist.Snapshot{},
		retention: retention,
	}
}

// Insert stores a new snapshot and prunes the oldest entries beyond the
// retention cap
func (r *SnapshotRepository) Insert(ctx context.Context, snapshot persist.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := snapshot
	stored.State = snapshot.State.Clone()
	r.snapshots[snapshot.ID] = stored

	for len(r.snapshots) > r.retention {
		oldest := persist.DBID("")
		for id, s := range r.snapshots {
			if oldest == "" || s.Timestamp < r.snapshots[oldest].Timestamp {
				oldest = id
			}
		}
		delete(r.snapshots, oldest)
	}
	return nil
}

// GetByID returns a snapshot by its ID
func (r *SnapshotRepository) GetByID(ctx context.Context, id persist.DBID) (persist.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot, ok := r.snapshots[id]
	if !ok {
		return persist.Snapshot{}, persist.ErrSnapshotNotFound{ID: id}
	}
	out := snapshot
	out.State = snapshot.State.Clone()
	return out, nil
}

// List returns all retained snapshots, oldest first
func (r *SnapshotRepository) List(ctx context.Context) ([]persist.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]persist.Snapshot, 0, len(r.snapshots))
	for _, snapshot := range r.snapshots {
		s := snapshot
		s.State = snapshot.State.Clone()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Delete removes a snapshot by its ID
func (r *SnapshotRepository) Delete(ctx context.Context, id persist.DBID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.snapshots[id]; !ok {
		return persist.ErrSnapshotNotFound{ID: id}
	}
	delete(r.snapshots, id)
	return nil
}
