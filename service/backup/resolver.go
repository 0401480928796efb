package backup

import (
	"fmt"

	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/util"
)

// RenamedID records one re-keyed entity
type RenamedID struct {
	OldID string       `json:"oldId"`
	NewID string       `json:"newId"`
	Kind  ConflictKind `json:"kind"`
}

// SkippedEntry records one entity left out of the write set. The kind is
// carried along because key strings are only unique within a kind.
type SkippedEntry struct {
	ID   string       `json:"id"`
	Kind ConflictKind `json:"kind"`
}

// ResolvedSet is the output of ApplyResolutions. Every key of the incoming
// data set ends up in exactly one of Processed or Skipped; nothing is
// duplicated or silently dropped.
type ResolvedSet struct {
	Processed ContainerData
	Skipped   []SkippedEntry
	Renamed   []RenamedID
}

// ApplyResolutions transforms an incoming data set into one that is safe to
// write: skipped entries are removed, renamed cards are re-keyed under fresh
// IDs. The function is pure; neither input nor the supplied usedIDs set is
// mutated, and identical inputs always produce identical outputs (up to
// generated rename IDs).
//
// Only cards support renaming; tags and domains are denormalized by name.
// Resolutions referencing unknown conflicts, conflicts left without a
// resolution, and rename IDs that collide are caller contract violations
// and returned as errors.
func ApplyResolutions(incoming ContainerData, conflicts []DataConflict, resolutions []Resolution, usedIDs map[string]bool) (ResolvedSet, error) {
	conflictByID := make(map[string]DataConflict, len(conflicts))
	for _, conflict := range conflicts {
		conflictByID[conflict.ID] = conflict
	}

	resolutionByID := make(map[string]Resolution, len(resolutions))
	for _, resolution := range resolutions {
		conflict, ok := conflictByID[resolution.ConflictID]
		if !ok {
			return ResolvedSet{}, ErrUnknownConflict{ConflictID: resolution.ConflictID}
		}
		if !resolution.Action.Valid() {
			return ResolvedSet{}, ErrInvalidResolution{ConflictID: resolution.ConflictID, Reason: fmt.Sprintf("unknown action %q", resolution.Action)}
		}
		if resolution.Action == ActionRename && conflict.Kind != ConflictKindCard {
			return ResolvedSet{}, ErrInvalidResolution{ConflictID: resolution.ConflictID, Reason: fmt.Sprintf("%s entities cannot be renamed", conflict.Kind)}
		}
		resolutionByID[resolution.ConflictID] = resolution
	}

	used := util.CopyMap(usedIDs)
	if used == nil {
		used = map[string]bool{}
	}

	out := ResolvedSet{
		Processed: ContainerData{
			ActiveTags:     incoming.ActiveTags,
			GlobalSettings: incoming.GlobalSettings,
			Statistics:     incoming.Statistics,
		},
		Skipped: []SkippedEntry{},
		Renamed: []RenamedID{},
	}

	// resolveFor finds the resolution for one conflicting entity, erroring
	// when a detected conflict was left unresolved
	resolveFor := func(kind ConflictKind, key string) (Resolution, bool, error) {
		conflict, hasConflict := conflictByID[ConflictID(kind, key)]
		if !hasConflict {
			return Resolution{}, false, nil
		}
		resolution, ok := resolutionByID[conflict.ID]
		if !ok {
			return Resolution{}, false, ErrInvalidResolution{ConflictID: conflict.ID, Reason: "no resolution supplied"}
		}
		return resolution, true, nil
	}

	if incoming.Cards != nil {
		out.Processed.Cards = map[string]persist.Card{}
		for _, id := range util.SortedKeys(incoming.Cards) {
			card := incoming.Cards[id]
			if persist.DBID(id).IsDemo() {
				out.Skipped = append(out.Skipped, SkippedEntry{ID: id, Kind: ConflictKindCard})
				continue
			}
			resolution, hasConflict, err := resolveFor(ConflictKindCard, id)
			if err != nil {
				return ResolvedSet{}, err
			}
			if !hasConflict {
				out.Processed.Cards[id] = card
				used[id] = true
				continue
			}
			switch resolution.Action {
			case ActionSkip:
				out.Skipped = append(out.Skipped, SkippedEntry{ID: id, Kind: ConflictKindCard})
			case ActionOverwrite:
				out.Processed.Cards[id] = card
				used[id] = true
			case ActionRename:
				newID := resolution.NewID.String()
				if newID == "" {
					newID = newRenameID(id, used)
				} else if used[newID] {
					return ResolvedSet{}, ErrInvalidResolution{ConflictID: resolution.ConflictID, Reason: fmt.Sprintf("rename target %q already in use", newID)}
				}
				card.ID = persist.DBID(newID)
				out.Processed.Cards[newID] = card
				used[newID] = true
				out.Renamed = append(out.Renamed, RenamedID{OldID: id, NewID: newID, Kind: ConflictKindCard})
			}
		}
	}

	if incoming.Tags != nil {
		out.Processed.Tags = map[string]persist.Tag{}
		for _, id := range util.SortedKeys(incoming.Tags) {
			resolution, hasConflict, err := resolveFor(ConflictKindTag, id)
			if err != nil {
				return ResolvedSet{}, err
			}
			if hasConflict && resolution.Action == ActionSkip {
				out.Skipped = append(out.Skipped, SkippedEntry{ID: id, Kind: ConflictKindTag})
				continue
			}
			out.Processed.Tags[id] = incoming.Tags[id]
		}
	}

	if incoming.Domains != nil {
		out.Processed.Domains = map[string]persist.DomainSetting{}
		for _, domain := range util.SortedKeys(incoming.Domains) {
			resolution, hasConflict, err := resolveFor(ConflictKindDomain, domain)
			if err != nil {
				return ResolvedSet{}, err
			}
			if hasConflict && resolution.Action == ActionSkip {
				out.Skipped = append(out.Skipped, SkippedEntry{ID: domain, Kind: ConflictKindDomain})
				continue
			}
			out.Processed.Domains[domain] = incoming.Domains[domain]
		}
	}

	if incoming.GlobalSettings != nil {
		resolution, hasConflict, err := resolveFor(ConflictKindSettings, SettingsConflictID)
		if err != nil {
			return ResolvedSet{}, err
		}
		if hasConflict && resolution.Action == ActionSkip {
			out.Processed.GlobalSettings = nil
			out.Skipped = append(out.Skipped, SkippedEntry{ID: SettingsConflictID, Kind: ConflictKindSettings})
		}
	}

	return out, nil
}

// newRenameID derives a fresh ID from the old one with a unique suffix,
// checked against every ID already used in this batch and in the store
func newRenameID(oldID string, used map[string]bool) string {
	for {
		candidate := fmt.Sprintf("%s_%s", oldID, persist.GenerateID())
		if !used[candidate] {
			return candidate
		}
	}
}
