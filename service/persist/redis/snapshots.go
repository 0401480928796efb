package redis

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/rekapu/go-rekapu/service/persist"
)

// snapshotPrefix keeps snapshot records out of the collection keyspaces
const snapshotPrefix = "snapshots:"

// SnapshotRepository is a redis-backed implementation of
// persist.SnapshotRepository. Snapshots live in the same redis instance as
// the store they protect, so a process restart loses neither.
type SnapshotRepository struct {
	client    *redis.Client
	retention int
}

// NewSnapshotRepository creates a snapshot repository over an existing
// client, retaining at most retention snapshots; values < 1 fall back to
// the in-memory default
func NewSnapshotRepository(client *redis.Client, retention int) *SnapshotRepository {
	if retention < 1 {
		retention = 10
	}
	return &SnapshotRepository{client: client, retention: retention}
}

// Insert stores a new snapshot and prunes the oldest entries beyond the
// retention cap
func (r *SnapshotRepository) Insert(ctx context.Context, snapshot persist.Snapshot) error {
	bs, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, snapshotPrefix+snapshot.ID.String(), bs, 0).Err(); err != nil {
		return err
	}

	all, err := r.List(ctx)
	if err != nil {
		return err
	}
	for len(all) > r.retention {
		if err := r.client.Del(ctx, snapshotPrefix+all[0].ID.String()).Err(); err != nil {
			return err
		}
		all = all[1:]
	}
	return nil
}

// GetByID returns a snapshot by its ID
func (r *SnapshotRepository) GetByID(ctx context.Context, id persist.DBID) (persist.Snapshot, error) {
	bs, err := r.client.Get(ctx, snapshotPrefix+id.String()).Bytes()
	if err == redis.Nil {
		return persist.Snapshot{}, persist.ErrSnapshotNotFound{ID: id}
	}
	if err != nil {
		return persist.Snapshot{}, err
	}
	var snapshot persist.Snapshot
	if err := json.Unmarshal(bs, &snapshot); err != nil {
		return persist.Snapshot{}, err
	}
	return snapshot, nil
}

// List returns all retained snapshots, oldest first
func (r *SnapshotRepository) List(ctx context.Context) ([]persist.Snapshot, error) {
	out := []persist.Snapshot{}

	iter := r.client.Scan(ctx, 0, snapshotPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		bs, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var snapshot persist.Snapshot
		if err := json.Unmarshal(bs, &snapshot); err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Delete removes a snapshot by its ID
func (r *SnapshotRepository) Delete(ctx context.Context, id persist.DBID) error {
	n, err := r.client.Del(ctx, snapshotPrefix+id.String()).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return persist.ErrSnapshotNotFound{ID: id}
	}
	return nil
}
