package backup

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/rekapu/go-rekapu/service/logger"
	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/util"
)

// Transaction executes import write batches against the live store under a
// snapshot-then-write discipline: a full-state snapshot is captured and
// persisted before any mutation, and any failure during writing or
// validation restores every collection from that snapshot.
//
// The design assumes a single in-flight transaction per store; concurrent
// imports must be prevented by the caller.
type Transaction struct {
	store     persist.Store
	snapshots persist.SnapshotRepository
}

// NewTransaction creates a transaction runner over a store and a snapshot
// repository
func NewTransaction(store persist.Store, snapshots persist.SnapshotRepository) *Transaction {
	return &Transaction{store: store, snapshots: snapshots}
}

// Execute runs a write batch. The work closure performs all entity writes,
// recording failures into the report rather than aborting early, so the
// caller always sees a complete picture. When the closure finishes with a
// non-empty error list, or when validateAfter finds integrity problems, the
// whole batch is rolled back.
//
// The snapshot ID is returned (inside the report) regardless of outcome; a
// rolled-back import can still be inspected or manually restored later. The
// error return is reserved for failures outside the report contract:
// capture failures before any write, and rollback failures after.
func (t *Transaction) Execute(ctx context.Context, work func(ctx context.Context, report *ImportReport), validateAfter bool) (ImportReport, error) {
	snapshot, err := t.capture(ctx)
	if err != nil {
		return ImportReport{}, errors.Wrap(err, "capturing pre-import snapshot")
	}

	report := ImportReport{SnapshotID: snapshot.ID}
	work(ctx, &report)

	if len(report.Errors) == 0 && validateAfter {
		problems, err := ValidateDataIntegrity(ctx, t.store)
		if err != nil {
			report.AddError("integrity validation failed to run: %s", err)
		}
		for _, problem := range problems {
			report.AddError("integrity: %s", problem)
		}
	}

	if len(report.Errors) > 0 {
		logger.For(ctx).WithField("snapshotID", snapshot.ID).
			Warnf("import failed with %d errors, rolling back", len(report.Errors))
		if rbErr := t.restoreState(ctx, snapshot.State); rbErr != nil {
			return report, ErrRollbackFailed{SnapshotID: snapshot.ID, Err: rbErr}
		}
		report.Success = false
		return report, nil
	}

	report.Success = true
	return report, nil
}

// ListSnapshots returns all retained snapshots, oldest first
func (t *Transaction) ListSnapshots(ctx context.Context) ([]persist.Snapshot, error) {
	return t.snapshots.List(ctx)
}

// DeleteSnapshot removes a snapshot explicitly
func (t *Transaction) DeleteSnapshot(ctx context.Context, id persist.DBID) error {
	return t.snapshots.Delete(ctx, id)
}

// RestoreFromSnapshot re-applies a snapshot's state regardless of what the
// store currently holds. The restore is itself wrapped in the capture
// discipline: the pre-restore state is snapshotted first, and a failed
// restore falls back to it, so a bad manual restore is also recoverable.
// The returned ID is the recovery snapshot taken before restoring.
func (t *Transaction) RestoreFromSnapshot(ctx context.Context, id persist.DBID) (persist.DBID, error) {
	target, err := t.snapshots.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	recovery, err := t.capture(ctx)
	if err != nil {
		return "", errors.Wrap(err, "capturing pre-restore snapshot")
	}

	if err := t.restoreState(ctx, target.State); err != nil {
		if rbErr := t.restoreState(ctx, recovery.State); rbErr != nil {
			return recovery.ID, ErrRollbackFailed{SnapshotID: recovery.ID, Err: rbErr}
		}
		return recovery.ID, errors.Wrapf(err, "restoring snapshot %s", id)
	}
	return recovery.ID, nil
}

// capture copies every collection from the live store into a persisted
// snapshot before any mutation happens
func (t *Transaction) capture(ctx context.Context) (persist.Snapshot, error) {
	state := persist.StoreState{}
	for _, coll := range persist.AllCollections {
		entries, err := t.store.GetAll(ctx, coll)
		if err != nil {
			return persist.Snapshot{}, errors.Wrapf(err, "reading collection %s", coll)
		}
		copied := make(map[string]json.RawMessage, len(entries))
		for k, v := range entries {
			copied[k] = json.RawMessage(v)
		}
		state[coll] = copied
	}

	snapshot := persist.Snapshot{
		ID:        persist.GenerateID(),
		Timestamp: persist.NowMillis(),
		State:     state,
	}
	if err := t.snapshots.Insert(ctx, snapshot); err != nil {
		return persist.Snapshot{}, errors.Wrap(err, "persisting snapshot")
	}
	return snapshot, nil
}

// restoreState overwrites every collection with the snapshot's verbatim
// contents, including collections the current operation never touched, so
// the collections cannot drift apart. Restoration keeps going past
// individual failures and reports the first one.
func (t *Transaction) restoreState(ctx context.Context, state persist.StoreState) error {
	var firstErr error
	for _, coll := range persist.AllCollections {
		wanted := state[coll]
		current, err := t.store.GetAll(ctx, coll)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "reading collection %s", coll)
			}
			continue
		}
		for _, key := range util.SortedKeys(current) {
			if _, ok := wanted[key]; ok {
				continue
			}
			if err := t.store.Delete(ctx, coll, key); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "deleting %s/%s", coll, key)
			}
		}
		for _, key := range util.SortedKeys(wanted) {
			if err := t.store.Set(ctx, coll, key, wanted[key]); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "restoring %s/%s", coll, key)
			}
		}
	}
	return firstErr
}
