package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/rekapu/go-rekapu/service/logger"
	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/util"
)

// Manager is the top-level backup façade. It serializes and deserializes
// the backup container format, selects scope, and drives detection,
// resolution and the import transaction for both the automatic and the
// interactive import flows.
type Manager struct {
	store     persist.Store
	snapshots persist.SnapshotRepository
	tx        *Transaction
	progress  *ProgressRegistry
}

// NewManager creates a backup manager over a store and snapshot repository
func NewManager(store persist.Store, snapshots persist.SnapshotRepository, progress *ProgressRegistry) *Manager {
	return &Manager{
		store:     store,
		snapshots: snapshots,
		tx:        NewTransaction(store, snapshots),
		progress:  progress,
	}
}

// Progress returns the registry backing operation polling
func (m *Manager) Progress() *ProgressRegistry {
	return m.progress
}

// ExportBackup reads the current state matching scope and returns it as a
// compressed archive plus the suggested filename and the operation ID the
// caller can poll. State is always read through, never cached.
func (m *Manager) ExportBackup(ctx context.Context, scope Scope) ([]byte, string, persist.DBID, error) {
	if !scope.Valid() {
		return nil, "", "", util.ErrInvalidInput{Reason: "unknown scope " + string(scope)}
	}
	opID := m.progress.Begin("export")
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"operationID": opID, "scope": scope})

	data, err := m.loadState(ctx, scope)
	if err != nil {
		m.progress.Finish(opID, err)
		return nil, "", opID, err
	}
	m.progress.Update(opID, 60, "state collected")

	container := Container{
		Version:   CurrentVersion,
		Timestamp: persist.NowMillis(),
		Scope:     scope,
		Data:      data,
	}
	filename := fmt.Sprintf("rekapu-backup-%s-%s.zip", scope, time.Now().Format("2006-01-02"))
	archive, err := WriteArchive(container, filename)
	if err != nil {
		m.progress.Finish(opID, err)
		return nil, "", opID, err
	}

	m.progress.Finish(opID, nil)
	logger.For(ctx).Infof("exported %d cards, %d tags (%d bytes)", len(data.Cards), len(data.Tags), len(archive))
	return archive, filename, opID, nil
}

// DetectImportConflicts parses a backup file and reports its collisions
// against the live store without mutating anything. The parsed container is
// returned alongside so the interactive flow can resolve conflicts and
// import without re-parsing or re-detection.
func (m *Manager) DetectImportConflicts(ctx context.Context, file []byte, scope Scope) (Container, DetectionResult, error) {
	container, err := ParseBackupFile(file)
	if err != nil {
		return Container{}, DetectionResult{}, err
	}

	effective := effectiveScope(scope, container.Scope)
	container.Data = narrowToScope(container.Data, effective)

	existing, err := m.loadState(ctx, effective)
	if err != nil {
		return Container{}, DetectionResult{}, err
	}
	return container, DetectConflicts(container.Data, existing), nil
}

// ImportWithConflictResolution runs the interactive flow: the caller has
// already collected a resolution per conflict, so detection is not re-run.
// The returned report is complete even when the import rolled back.
func (m *Manager) ImportWithConflictResolution(ctx context.Context, container Container, scope Scope, conflicts []DataConflict, resolutions []Resolution) (ImportReport, error) {
	effective := effectiveScope(scope, container.Scope)
	data := narrowToScope(container.Data, effective)

	existing, err := m.loadState(ctx, effective)
	if err != nil {
		return ImportReport{}, err
	}

	resolved, err := ApplyResolutions(data, conflicts, resolutions, usedCardIDs(existing, data))
	if err != nil {
		return ImportReport{}, err
	}

	return m.runImport(ctx, conflicts, resolutions, resolved)
}

// ImportLegacy runs the automatic flow: one strategy applied uniformly to
// every conflict, with fresh IDs generated eagerly for renames
func (m *Manager) ImportLegacy(ctx context.Context, file []byte, scope Scope, strategy Action) (ImportReport, error) {
	if !strategy.Valid() {
		return ImportReport{}, util.ErrInvalidInput{Reason: "unknown strategy " + string(strategy)}
	}

	container, detection, err := m.DetectImportConflicts(ctx, file, scope)
	if err != nil {
		return ImportReport{}, err
	}

	effective := effectiveScope(scope, container.Scope)
	existing, err := m.loadState(ctx, effective)
	if err != nil {
		return ImportReport{}, err
	}
	used := usedCardIDs(existing, container.Data)

	resolutions := make([]Resolution, 0, len(detection.Conflicts))
	for _, conflict := range detection.Conflicts {
		action := strategy
		if action == ActionRename && conflict.Kind != ConflictKindCard {
			// only cards are renameable; fall back to keeping the incoming copy
			action = ActionOverwrite
		}
		resolution := Resolution{ConflictID: conflict.ID, Action: action}
		if action == ActionRename {
			newID := newRenameID(conflict.Key, used)
			used[newID] = true
			resolution.NewID = persist.DBID(newID)
		}
		resolutions = append(resolutions, resolution)
	}

	resolved, err := ApplyResolutions(container.Data, detection.Conflicts, resolutions, usedCardIDs(existing, container.Data))
	if err != nil {
		return ImportReport{}, err
	}
	return m.runImport(ctx, detection.Conflicts, resolutions, resolved)
}

// ListSnapshots returns the retained recovery points, oldest first
func (m *Manager) ListSnapshots(ctx context.Context) ([]persist.Snapshot, error) {
	return m.tx.ListSnapshots(ctx)
}

// RestoreFromSnapshot explicitly re-applies a snapshot
func (m *Manager) RestoreFromSnapshot(ctx context.Context, id persist.DBID) (persist.DBID, error) {
	recoveryID, err := m.tx.RestoreFromSnapshot(ctx, id)
	if err != nil {
		m.reportIfRollbackFailed(ctx, err)
	}
	return recoveryID, err
}

// DeleteSnapshot prunes a snapshot explicitly
func (m *Manager) DeleteSnapshot(ctx context.Context, id persist.DBID) error {
	return m.tx.DeleteSnapshot(ctx, id)
}

// ValidateDataIntegrity runs the integrity pass standalone, outside of any
// import
func (m *Manager) ValidateDataIntegrity(ctx context.Context) ([]string, error) {
	return ValidateDataIntegrity(ctx, m.store)
}

// runImport drives the transaction for a resolved write set and fills in
// the per-kind counts and the resolved-conflict display list
func (m *Manager) runImport(ctx context.Context, conflicts []DataConflict, resolutions []Resolution, resolved ResolvedSet) (ImportReport, error) {
	opID := m.progress.Begin("import")
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"operationID": opID})

	resolvedConflicts := describeResolutions(conflicts, resolutions, resolved)

	report, err := m.tx.Execute(ctx, func(ctx context.Context, report *ImportReport) {
		report.OperationID = opID
		report.Conflicts = resolvedConflicts
		m.countSkipped(report, resolved.Skipped)
		for _, renamed := range resolved.Renamed {
			if renamed.Kind == ConflictKindCard {
				report.Cards.Renamed++
			}
		}
		m.writeData(ctx, report, resolved.Processed)
		m.progress.Update(opID, 80, "writes applied")
	}, true)

	report.OperationID = opID
	if err != nil {
		m.reportIfRollbackFailed(ctx, err)
		m.progress.Finish(opID, err)
		return report, err
	}
	if !report.Success {
		m.progress.Finish(opID, errors.Errorf("import rolled back with %d errors", len(report.Errors)))
		return report, nil
	}
	m.progress.Finish(opID, nil)
	return report, nil
}

// writeData applies the processed write set. Failures are recorded into the
// report and the batch keeps going, so the report shows the whole picture;
// the transaction decides success at the end.
func (m *Manager) writeData(ctx context.Context, report *ImportReport, data ContainerData) {
	set := func(coll persist.Collection, key string, v any, counts *KindCounts) {
		bs, err := json.Marshal(v)
		if err != nil {
			report.AddError("serializing %s/%s: %s", coll, key, err)
			return
		}
		if err := m.store.Set(ctx, coll, key, bs); err != nil {
			report.AddError("writing %s/%s: %s", coll, key, err)
			return
		}
		if counts != nil {
			counts.Imported++
		}
	}

	for _, id := range util.SortedKeys(data.Cards) {
		set(persist.CollectionCards, id, data.Cards[id], &report.Cards)
	}
	for _, id := range util.SortedKeys(data.Tags) {
		set(persist.CollectionTags, id, data.Tags[id], &report.Tags)
	}
	if data.ActiveTags != nil {
		set(persist.CollectionActiveTags, persist.ActiveTagsKey, data.ActiveTags, nil)
	}
	for _, domain := range util.SortedKeys(data.Domains) {
		set(persist.CollectionDomains, domain, data.Domains[domain], &report.Domains)
	}
	if data.GlobalSettings != nil {
		set(persist.CollectionSettings, persist.SettingsKey, data.GlobalSettings, &report.Settings)
	}
	if stats := data.Statistics; stats != nil {
		for _, date := range util.SortedKeys(stats.Daily) {
			set(persist.CollectionStatsDaily, date, stats.Daily[date], &report.Statistics)
		}
		if stats.Streak != nil {
			set(persist.CollectionStatsStreak, persist.StreakKey, stats.Streak, &report.Statistics)
		}
		for _, domain := range util.SortedKeys(stats.Domains) {
			set(persist.CollectionStatsDomains, domain, stats.Domains[domain], &report.Statistics)
		}
		for _, tag := range util.SortedKeys(stats.TagPerformance) {
			set(persist.CollectionStatsTags, tag, stats.TagPerformance[tag], &report.Statistics)
		}
		for _, id := range util.SortedKeys(stats.Responses) {
			set(persist.CollectionStatsResponses, id, stats.Responses[id], &report.Statistics)
		}
	}
}

// countSkipped attributes each skipped entry to its entity kind
func (m *Manager) countSkipped(report *ImportReport, skipped []SkippedEntry) {
	for _, entry := range skipped {
		switch entry.Kind {
		case ConflictKindCard:
			report.Cards.Skipped++
		case ConflictKindTag:
			report.Tags.Skipped++
		case ConflictKindDomain:
			report.Domains.Skipped++
		case ConflictKindSettings:
			report.Settings.Skipped++
		}
	}
}

// loadState reads the entity collections matching scope from the store.
// The five statistics sub-collections are read with a parallel fan-out.
func (m *Manager) loadState(ctx context.Context, scope Scope) (ContainerData, error) {
	data := ContainerData{}

	cards, err := loadCollection[persist.Card](ctx, m.store, persist.CollectionCards)
	if err != nil {
		return ContainerData{}, err
	}
	data.Cards = cards

	tags, err := loadCollection[persist.Tag](ctx, m.store, persist.CollectionTags)
	if err != nil {
		return ContainerData{}, err
	}
	data.Tags = tags

	active, err := loadSingleton[[]string](ctx, m.store, persist.CollectionActiveTags, persist.ActiveTagsKey)
	if err != nil {
		return ContainerData{}, err
	}
	if active != nil {
		data.ActiveTags = *active
	}

	if scope != ScopeFull {
		return data, nil
	}

	domains, err := loadCollection[persist.DomainSetting](ctx, m.store, persist.CollectionDomains)
	if err != nil {
		return ContainerData{}, err
	}
	data.Domains = domains

	settings, err := loadSingleton[persist.GlobalSettings](ctx, m.store, persist.CollectionSettings, persist.SettingsKey)
	if err != nil {
		return ContainerData{}, err
	}
	data.GlobalSettings = settings

	stats, err := m.loadStatistics(ctx)
	if err != nil {
		return ContainerData{}, err
	}
	data.Statistics = stats
	return data, nil
}

// loadStatistics fans out over the statistics sub-collections concurrently;
// each goroutine owns a distinct field of the result
func (m *Manager) loadStatistics(ctx context.Context) (*persist.Statistics, error) {
	stats := persist.Statistics{}

	wp := pool.New().WithErrors().WithContext(ctx)
	wp.Go(func(ctx context.Context) error {
		daily, err := loadCollection[persist.DailyAggregate](ctx, m.store, persist.CollectionStatsDaily)
		stats.Daily = daily
		return err
	})
	wp.Go(func(ctx context.Context) error {
		streak, err := loadSingleton[persist.StreakRecord](ctx, m.store, persist.CollectionStatsStreak, persist.StreakKey)
		stats.Streak = streak
		return err
	})
	wp.Go(func(ctx context.Context) error {
		domains, err := loadCollection[persist.DomainStats](ctx, m.store, persist.CollectionStatsDomains)
		stats.Domains = domains
		return err
	})
	wp.Go(func(ctx context.Context) error {
		tagPerf, err := loadCollection[persist.TagPerformance](ctx, m.store, persist.CollectionStatsTags)
		stats.TagPerformance = tagPerf
		return err
	})
	wp.Go(func(ctx context.Context) error {
		responses, err := loadCollection[persist.ResponseEntry](ctx, m.store, persist.CollectionStatsResponses)
		stats.Responses = responses
		return err
	})
	if err := wp.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}

func loadCollection[T any](ctx context.Context, store persist.Store, coll persist.Collection) (map[string]T, error) {
	raw, err := store.GetAll(ctx, coll)
	if err != nil {
		return nil, errors.Wrapf(err, "reading collection %s", coll)
	}
	out := make(map[string]T, len(raw))
	for key, bs := range raw {
		var entity T
		if err := json.Unmarshal(bs, &entity); err != nil {
			return nil, errors.Wrapf(err, "decoding %s/%s", coll, key)
		}
		out[key] = entity
	}
	return out, nil
}

func loadSingleton[T any](ctx context.Context, store persist.Store, coll persist.Collection, key string) (*T, error) {
	raw, err := store.Get(ctx, coll, key)
	if err != nil {
		if _, ok := err.(persist.ErrKeyNotFound); ok {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading %s/%s", coll, key)
	}
	var entity T
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil, errors.Wrapf(err, "decoding %s/%s", coll, key)
	}
	return &entity, nil
}

// effectiveScope is the stricter of the caller-requested scope and the
// scope the container was exported with; a cards-only container can never
// be upgraded to populate full-only collections
func effectiveScope(requested, container Scope) Scope {
	if requested == ScopeCards || container == ScopeCards {
		return ScopeCards
	}
	return ScopeFull
}

// narrowToScope drops collections outside the scope
func narrowToScope(data ContainerData, scope Scope) ContainerData {
	if scope == ScopeFull {
		return data
	}
	return ContainerData{
		Cards:      data.Cards,
		Tags:       data.Tags,
		ActiveTags: data.ActiveTags,
	}
}

// usedCardIDs collects every card ID already taken, in the store or in the
// incoming batch, so generated rename IDs cannot collide
func usedCardIDs(existing, incoming ContainerData) map[string]bool {
	used := map[string]bool{}
	for id := range existing.Cards {
		used[id] = true
	}
	for id := range incoming.Cards {
		used[id] = true
	}
	return used
}

// describeResolutions builds the display list for the report, substituting
// the rename IDs the resolver actually assigned
func describeResolutions(conflicts []DataConflict, resolutions []Resolution, resolved ResolvedSet) []ResolvedConflict {
	newIDByOld := map[string]string{}
	for _, renamed := range resolved.Renamed {
		newIDByOld[renamed.OldID] = renamed.NewID
	}
	resolutionByID := map[string]Resolution{}
	for _, resolution := range resolutions {
		resolutionByID[resolution.ConflictID] = resolution
	}

	out := make([]ResolvedConflict, 0, len(conflicts))
	for _, conflict := range conflicts {
		resolution, ok := resolutionByID[conflict.ID]
		if !ok {
			continue
		}
		rc := ResolvedConflict{
			ConflictID: conflict.ID,
			Kind:       conflict.Kind,
			Action:     resolution.Action,
		}
		switch resolution.Action {
		case ActionSkip:
			rc.Description = fmt.Sprintf("%s: kept existing copy", conflict.Label)
		case ActionOverwrite:
			rc.Description = fmt.Sprintf("%s: replaced with imported copy", conflict.Label)
		case ActionRename:
			newID := newIDByOld[conflict.Key]
			rc.NewID = persist.DBID(newID)
			rc.Description = fmt.Sprintf("%s: imported under new ID %s", conflict.Label, newID)
		}
		out = append(out, rc)
	}
	return out
}

// reportIfRollbackFailed escalates the most severe failure mode: the store
// may be inconsistent and the user must be pointed at a manual restore
func (m *Manager) reportIfRollbackFailed(ctx context.Context, err error) {
	var rollbackErr ErrRollbackFailed
	if !errors.As(err, &rollbackErr) {
		return
	}
	logger.For(ctx).WithField("snapshotID", rollbackErr.SnapshotID).Error(rollbackErr.Error())
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("snapshotID", rollbackErr.SnapshotID.String())
		sentry.CaptureException(rollbackErr)
	})
}
