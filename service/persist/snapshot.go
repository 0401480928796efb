package persist

import (
	"context"
	"encoding/json"
	"fmt"
)

// StoreState is a verbatim copy of every entity collection, keyed by
// collection then primary key. It is the unit of capture and restore.
type StoreState map[Collection]map[string]json.RawMessage

// Clone returns a deep copy of the state
func (s StoreState) Clone() StoreState {
	out := make(StoreState, len(s))
	for coll, entries := range s {
		cp := make(map[string]json.RawMessage, len(entries))
		for k, v := range entries {
			b := make(json.RawMessage, len(v))
			copy(b, v)
			cp[k] = b
		}
		out[coll] = cp
	}
	return out
}

// Snapshot is an immutable full-state copy taken before every import
// attempt. Snapshots are the sole recovery mechanism; there is no
// write-ahead log.
type Snapshot struct {
	ID        DBID       `json:"id"`
	Timestamp Millis     `json:"timestamp"`
	State     StoreState `json:"state"`
}

// SnapshotRepository persists whole-state snapshots with a bounded history.
// Insert must prune oldest-first whenever the retention cap is exceeded.
type SnapshotRepository interface {
	Insert(ctx context.Context, snapshot Snapshot) error
	GetByID(ctx context.Context, id DBID) (Snapshot, error)
	List(ctx context.Context) ([]Snapshot, error)
	Delete(ctx context.Context, id DBID) error
}

// ErrSnapshotNotFound is returned when a snapshot is not found by its ID
type ErrSnapshotNotFound struct {
	ID DBID
}

func (e ErrSnapshotNotFound) Error() string {
	return fmt.Sprintf("snapshot not found with ID: %v", e.ID)
}
