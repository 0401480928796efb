package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/service/persist/memstore"
)

// failingStore wraps the in-memory store and fails writes to selected keys
type failingStore struct {
	*memstore.Store
	failSets map[string]bool
}

func newFailingStore() *failingStore {
	return &failingStore{Store: memstore.NewStore(), failSets: map[string]bool{}}
}

func (s *failingStore) failSet(coll persist.Collection, key string) {
	s.failSets[fmt.Sprintf("%s/%s", coll, key)] = true
}

func (s *failingStore) Set(ctx context.Context, coll persist.Collection, key string, value []byte) error {
	if s.failSets[fmt.Sprintf("%s/%s", coll, key)] {
		return fmt.Errorf("simulated write failure for %s/%s", coll, key)
	}
	return s.Store.Set(ctx, coll, key, value)
}

func mustSet(t *testing.T, store persist.Store, coll persist.Collection, key string, v any) {
	t.Helper()
	bs, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), coll, key, bs))
}

func dumpStore(t *testing.T, store persist.Store) map[persist.Collection]map[string]string {
	t.Helper()
	out := map[persist.Collection]map[string]string{}
	for _, coll := range persist.AllCollections {
		entries, err := store.GetAll(context.Background(), coll)
		require.NoError(t, err)
		m := map[string]string{}
		for k, v := range entries {
			m[k] = string(v)
		}
		out[coll] = m
	}
	return out
}

func seedStore(t *testing.T, store persist.Store) {
	t.Helper()
	mustSet(t, store, persist.CollectionCards, "c1", testCard("c1", "what is 2+2"))
	mustSet(t, store, persist.CollectionTags, "t1", testTag("t1", "math"))
	mustSet(t, store, persist.CollectionActiveTags, persist.ActiveTagsKey, []string{"math"})
	mustSet(t, store, persist.CollectionDomains, "reddit.com", persist.DomainSetting{Domain: "reddit.com", CooldownMinutes: 30, Active: true})
	mustSet(t, store, persist.CollectionSettings, persist.SettingsKey, persist.GlobalSettings{Theme: "dark", NewCardsPerDay: 20})
	mustSet(t, store, persist.CollectionStatsStreak, persist.StreakKey, persist.StreakRecord{Current: 3, Longest: 9})
	mustSet(t, store, persist.CollectionStatsDaily, "2026-08-01", persist.DailyAggregate{Date: "2026-08-01", Reviews: 12, Correct: 10})
}

func TestTransaction_CommitOnSuccess(t *testing.T) {
	a := assert.New(t)
	store := memstore.NewStore()
	snapshots := memstore.NewSnapshotRepository(0)
	tx := NewTransaction(store, snapshots)

	report, err := tx.Execute(context.Background(), func(ctx context.Context, report *ImportReport) {
		mustSet(t, store, persist.CollectionCards, "c1", testCard("c1", "q"))
		report.Cards.Imported++
	}, true)

	a.NoError(err)
	a.True(report.Success)
	a.NotEmpty(report.SnapshotID)
	a.Equal(1, report.Cards.Imported)

	// the snapshot stays behind as a recovery point
	listed, err := tx.ListSnapshots(context.Background())
	a.NoError(err)
	a.Len(listed, 1)
	a.Equal(report.SnapshotID, listed[0].ID)
}

func TestTransaction_RollbackRestoresEveryCollection(t *testing.T) {
	a := assert.New(t)
	store := newFailingStore()
	snapshots := memstore.NewSnapshotRepository(0)
	tx := NewTransaction(store, snapshots)

	seedStore(t, store.Store)
	before := dumpStore(t, store.Store)

	store.failSet(persist.CollectionCards, "n2")
	report, err := tx.Execute(context.Background(), func(ctx context.Context, report *ImportReport) {
		for _, id := range []string{"n1", "n2", "n3"} {
			bs, merr := json.Marshal(testCard(id, "new "+id))
			a.NoError(merr)
			if serr := store.Set(ctx, persist.CollectionCards, id, bs); serr != nil {
				report.AddError("writing cards/%s: %s", id, serr)
				continue
			}
			report.Cards.Imported++
		}
		// touch an unrelated collection to prove rollback is store-wide
		mustSet(t, store.Store, persist.CollectionStatsStreak, persist.StreakKey, persist.StreakRecord{Current: 99})
	}, false)

	a.NoError(err)
	a.False(report.Success)
	a.NotEmpty(report.SnapshotID)
	a.Len(report.Errors, 1)
	// the batch kept going past the failure
	a.Equal(2, report.Cards.Imported)

	a.Equal(before, dumpStore(t, store.Store))
}

func TestTransaction_ValidationFailureRollsBack(t *testing.T) {
	a := assert.New(t)
	store := memstore.NewStore()
	snapshots := memstore.NewSnapshotRepository(0)
	tx := NewTransaction(store, snapshots)

	seedStore(t, store)
	before := dumpStore(t, store)

	report, err := tx.Execute(context.Background(), func(ctx context.Context, report *ImportReport) {
		// embedded ID disagrees with the store key
		mustSet(t, store, persist.CollectionCards, "c2", testCard("other", "broken"))
		report.Cards.Imported++
	}, true)

	a.NoError(err)
	a.False(report.Success)
	a.NotEmpty(report.Errors)
	a.Equal(before, dumpStore(t, store))
}

func TestTransaction_RestoreFromSnapshot(t *testing.T) {
	a := assert.New(t)
	store := memstore.NewStore()
	snapshots := memstore.NewSnapshotRepository(0)
	tx := NewTransaction(store, snapshots)

	seedStore(t, store)
	before := dumpStore(t, store)

	report, err := tx.Execute(context.Background(), func(ctx context.Context, report *ImportReport) {
		report.AddError("forced failure")
	}, false)
	a.NoError(err)
	a.False(report.Success)

	// drift the store after the rolled-back import
	mustSet(t, store, persist.CollectionCards, "junk", testCard("junk", "junk"))
	require.NoError(t, store.Delete(context.Background(), persist.CollectionTags, "t1"))

	recoveryID, err := tx.RestoreFromSnapshot(context.Background(), report.SnapshotID)
	a.NoError(err)
	a.NotEmpty(recoveryID)
	a.Equal(before, dumpStore(t, store))
}

func TestTransaction_RestoreFromSnapshotUnknownID(t *testing.T) {
	a := assert.New(t)
	tx := NewTransaction(memstore.NewStore(), memstore.NewSnapshotRepository(0))

	_, err := tx.RestoreFromSnapshot(context.Background(), "nope")
	a.Error(err)
	a.IsType(persist.ErrSnapshotNotFound{}, err)
}
