package backup

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/service/persist/memstore"
)

func newTestManager(store persist.Store) *Manager {
	return NewManager(store, memstore.NewSnapshotRepository(0), NewProgressRegistry(time.Minute))
}

func TestManager_ExportImportRoundTrip(t *testing.T) {
	a := assert.New(t)
	source := memstore.NewStore()
	seedStore(t, source)

	exporter := newTestManager(source)
	archive, filename, opID, err := exporter.ExportBackup(context.Background(), ScopeFull)
	require.NoError(t, err)
	a.NotEmpty(archive)
	a.Contains(filename, "rekapu-backup-full")

	// the export operation is pollable by the returned ID
	op, ok := exporter.Progress().Get(opID)
	require.True(t, ok)
	a.Equal(OperationSucceeded, op.Status)
	a.Equal(100, op.Percent)

	// importing into an empty store finds no conflicts and reproduces the counts
	target := memstore.NewStore()
	manager := newTestManager(target)

	_, detection, err := manager.DetectImportConflicts(context.Background(), archive, ScopeFull)
	require.NoError(t, err)
	a.False(detection.HasConflicts)

	report, err := manager.ImportLegacy(context.Background(), archive, ScopeFull, ActionOverwrite)
	require.NoError(t, err)
	a.True(report.Success)
	a.Empty(report.Conflicts)
	require.NotEmpty(t, report.OperationID)
	op, ok = manager.Progress().Get(report.OperationID)
	require.True(t, ok)
	a.Equal(OperationSucceeded, op.Status)
	a.Equal(1, report.Cards.Imported)
	a.Equal(1, report.Tags.Imported)
	a.Equal(1, report.Domains.Imported)
	a.Equal(1, report.Settings.Imported)
	a.Equal(2, report.Statistics.Imported)

	a.Equal(dumpStore(t, source), dumpStore(t, target))

	// importing back into the source with overwrite resolves every conflict
	report, err = newTestManager(source).ImportLegacy(context.Background(), archive, ScopeFull, ActionOverwrite)
	require.NoError(t, err)
	a.True(report.Success)
	a.NotEmpty(report.Conflicts)
	a.Equal(1, report.Cards.Imported)
}

func TestManager_SkipIsIdempotent(t *testing.T) {
	a := assert.New(t)
	store := memstore.NewStore()
	seedStore(t, store)
	manager := newTestManager(store)

	archive, _, _, err := manager.ExportBackup(context.Background(), ScopeFull)
	require.NoError(t, err)

	report, err := manager.ImportLegacy(context.Background(), archive, ScopeFull, ActionSkip)
	require.NoError(t, err)
	a.True(report.Success)

	before := dumpStore(t, store)
	report, err = manager.ImportLegacy(context.Background(), archive, ScopeFull, ActionSkip)
	require.NoError(t, err)
	a.True(report.Success)
	a.Equal(1, report.Cards.Skipped)
	a.Equal(0, report.Cards.Imported)
	a.Equal(1, report.Tags.Skipped)
	a.Equal(1, report.Domains.Skipped)
	a.Equal(1, report.Settings.Skipped)
	a.Equal(before, dumpStore(t, store))
}

func TestManager_RenameKeepsBothCopies(t *testing.T) {
	a := assert.New(t)
	store := memstore.NewStore()
	mustSet(t, store, persist.CollectionCards, "c1", testCard("c1", "existing question"))
	manager := newTestManager(store)

	container := Container{
		Version:   CurrentVersion,
		Timestamp: persist.NowMillis(),
		Scope:     ScopeCards,
		Data: ContainerData{
			Cards: map[string]persist.Card{"c1": testCard("c1", "imported question")},
		},
	}
	file, err := json.Marshal(container)
	require.NoError(t, err)

	report, err := manager.ImportLegacy(context.Background(), file, ScopeCards, ActionRename)
	require.NoError(t, err)
	a.True(report.Success)
	a.Equal(1, report.Cards.Renamed)

	cards, err := store.GetAll(context.Background(), persist.CollectionCards)
	require.NoError(t, err)
	a.Len(cards, 2)

	var existing persist.Card
	require.NoError(t, json.Unmarshal(cards["c1"], &existing))
	a.Equal("existing question", existing.Front)

	for key, raw := range cards {
		if key == "c1" {
			continue
		}
		var imported persist.Card
		require.NoError(t, json.Unmarshal(raw, &imported))
		a.Equal("imported question", imported.Front)
		a.Equal(persist.DBID(key), imported.ID)
	}
}

func TestManager_WriteFailureRollsBackAndKeepsSnapshot(t *testing.T) {
	a := assert.New(t)
	store := newFailingStore()
	seedStore(t, store.Store)
	before := dumpStore(t, store.Store)
	manager := newTestManager(store)

	container := Container{
		Version:   CurrentVersion,
		Timestamp: persist.NowMillis(),
		Scope:     ScopeCards,
		Data: ContainerData{
			Cards: map[string]persist.Card{
				"n1": testCard("n1", "one"),
				"n2": testCard("n2", "two"),
				"n3": testCard("n3", "three"),
			},
		},
	}
	file, err := json.Marshal(container)
	require.NoError(t, err)

	store.failSet(persist.CollectionCards, "n2")
	report, err := manager.ImportLegacy(context.Background(), file, ScopeCards, ActionOverwrite)
	require.NoError(t, err)
	a.False(report.Success)
	a.NotEmpty(report.SnapshotID)
	a.Len(report.Errors, 1)

	// the polled operation reflects the rollback
	require.NotEmpty(t, report.OperationID)
	op, ok := manager.Progress().Get(report.OperationID)
	require.True(t, ok)
	a.Equal(OperationFailed, op.Status)

	// none of the three cards survived
	a.Equal(before, dumpStore(t, store.Store))

	// the snapshot can still reproduce the pre-import state after drift
	mustSet(t, store.Store, persist.CollectionCards, "junk", testCard("junk", "junk"))
	_, err = manager.RestoreFromSnapshot(context.Background(), report.SnapshotID)
	require.NoError(t, err)
	a.Equal(before, dumpStore(t, store.Store))
}

func TestManager_ScopeCannotBeUpgraded(t *testing.T) {
	a := assert.New(t)
	store := memstore.NewStore()
	manager := newTestManager(store)

	// a cards-only container smuggling full-scope collections
	container := Container{
		Version:   CurrentVersion,
		Timestamp: persist.NowMillis(),
		Scope:     ScopeCards,
		Data: ContainerData{
			Cards:          map[string]persist.Card{"c1": testCard("c1", "q")},
			Domains:        map[string]persist.DomainSetting{"x.com": {Domain: "x.com"}},
			GlobalSettings: &persist.GlobalSettings{Theme: "dark"},
		},
	}
	file, err := json.Marshal(container)
	require.NoError(t, err)

	report, err := manager.ImportLegacy(context.Background(), file, ScopeFull, ActionOverwrite)
	require.NoError(t, err)
	a.True(report.Success)
	a.Equal(1, report.Cards.Imported)
	a.Equal(0, report.Domains.Imported)
	a.Equal(0, report.Settings.Imported)

	domains, err := store.GetAll(context.Background(), persist.CollectionDomains)
	require.NoError(t, err)
	a.Empty(domains)
}

func TestManager_InteractiveFlow(t *testing.T) {
	a := assert.New(t)
	store := memstore.NewStore()
	mustSet(t, store, persist.CollectionCards, "c1", testCard("c1", "existing"))
	mustSet(t, store, persist.CollectionCards, "c2", testCard("c2", "existing"))
	manager := newTestManager(store)

	container := Container{
		Version:   CurrentVersion,
		Timestamp: persist.NowMillis(),
		Scope:     ScopeCards,
		Data: ContainerData{
			Cards: map[string]persist.Card{
				"c1": testCard("c1", "imported"),
				"c2": testCard("c2", "imported"),
			},
		},
	}
	file, err := json.Marshal(container)
	require.NoError(t, err)

	parsed, detection, err := manager.DetectImportConflicts(context.Background(), file, ScopeCards)
	require.NoError(t, err)
	require.Len(t, detection.Conflicts, 2)

	// the user keeps c1 and replaces c2
	resolutions := []Resolution{
		{ConflictID: ConflictID(ConflictKindCard, "c1"), Action: ActionSkip},
		{ConflictID: ConflictID(ConflictKindCard, "c2"), Action: ActionOverwrite},
	}
	report, err := manager.ImportWithConflictResolution(context.Background(), parsed, ScopeCards, detection.Conflicts, resolutions)
	require.NoError(t, err)
	a.True(report.Success)
	a.Equal(1, report.Cards.Skipped)
	a.Equal(1, report.Cards.Imported)
	a.Len(report.Conflicts, 2)

	cards, err := store.GetAll(context.Background(), persist.CollectionCards)
	require.NoError(t, err)
	var c1, c2 persist.Card
	require.NoError(t, json.Unmarshal(cards["c1"], &c1))
	require.NoError(t, json.Unmarshal(cards["c2"], &c2))
	a.Equal("existing", c1.Front)
	a.Equal("imported", c2.Front)
}

func TestManager_SkipCountsAttributedByKind(t *testing.T) {
	a := assert.New(t)
	store := memstore.NewStore()
	// a tag whose key collides with an incoming card ID
	mustSet(t, store, persist.CollectionCards, "study", testCard("study", "existing"))
	mustSet(t, store, persist.CollectionTags, "study", testTag("study", "study"))
	manager := newTestManager(store)

	container := Container{
		Version:   CurrentVersion,
		Timestamp: persist.NowMillis(),
		Scope:     ScopeCards,
		Data: ContainerData{
			Cards: map[string]persist.Card{"study": testCard("study", "imported")},
			Tags:  map[string]persist.Tag{"study": testTag("study", "study")},
		},
	}
	file, err := json.Marshal(container)
	require.NoError(t, err)

	report, err := manager.ImportLegacy(context.Background(), file, ScopeCards, ActionSkip)
	require.NoError(t, err)
	a.True(report.Success)
	a.Equal(1, report.Cards.Skipped)
	a.Equal(1, report.Tags.Skipped)
	a.Equal(0, report.Cards.Imported)
	a.Equal(0, report.Tags.Imported)
}

func TestManager_ValidateDataIntegrity(t *testing.T) {
	a := assert.New(t)
	store := memstore.NewStore()
	seedStore(t, store)
	manager := newTestManager(store)

	problems, err := manager.ValidateDataIntegrity(context.Background())
	require.NoError(t, err)
	a.Empty(problems)

	mustSet(t, store, persist.CollectionCards, "bad", testCard("mismatch", "broken"))
	mustSet(t, store, persist.CollectionActiveTags, persist.ActiveTagsKey, []string{"math", "ghost"})

	problems, err = manager.ValidateDataIntegrity(context.Background())
	require.NoError(t, err)
	a.Len(problems, 2)
}
