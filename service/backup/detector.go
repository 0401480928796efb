package backup

import (
	"encoding/json"
	"fmt"

	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/util"
)

// DetectConflicts compares an incoming data set against the existing one
// and reports every primary-key collision exactly once. It is pure: neither
// input is mutated and identical inputs yield an identical, deterministically
// ordered conflict list (keys are visited in sorted order so resolutions
// supplied by index or ID line up predictably).
//
// Demo cards (reserved demo ID prefix) are excluded from detection; they are
// never importable at all.
func DetectConflicts(incoming, existing ContainerData) DetectionResult {
	result := DetectionResult{
		Conflicts: []DataConflict{},
		ByKind:    map[ConflictKind]int{},
	}

	for _, id := range util.SortedKeys(incoming.Cards) {
		if persist.DBID(id).IsDemo() {
			continue
		}
		existingCard, ok := existing.Cards[id]
		if !ok {
			continue
		}
		incomingCard := incoming.Cards[id]
		result.add(DataConflict{
			ID:       ConflictID(ConflictKindCard, id),
			Kind:     ConflictKindCard,
			Key:      id,
			Label:    cardLabel(incomingCard),
			Existing: mustMarshal(existingCard),
			Incoming: mustMarshal(incomingCard),
		})
	}

	for _, id := range util.SortedKeys(incoming.Tags) {
		existingTag, ok := existing.Tags[id]
		if !ok {
			continue
		}
		incomingTag := incoming.Tags[id]
		result.add(DataConflict{
			ID:       ConflictID(ConflictKindTag, id),
			Kind:     ConflictKindTag,
			Key:      id,
			Label:    fmt.Sprintf("tag %q", incomingTag.Name),
			Existing: mustMarshal(existingTag),
			Incoming: mustMarshal(incomingTag),
		})
	}

	for _, domain := range util.SortedKeys(incoming.Domains) {
		existingDomain, ok := existing.Domains[domain]
		if !ok {
			continue
		}
		incomingDomain := incoming.Domains[domain]
		result.add(DataConflict{
			ID:       ConflictID(ConflictKindDomain, domain),
			Kind:     ConflictKindDomain,
			Key:      domain,
			Label:    fmt.Sprintf("domain %q", domain),
			Existing: mustMarshal(existingDomain),
			Incoming: mustMarshal(incomingDomain),
		})
	}

	if incoming.GlobalSettings != nil && existing.GlobalSettings != nil {
		result.add(DataConflict{
			ID:       ConflictID(ConflictKindSettings, SettingsConflictID),
			Kind:     ConflictKindSettings,
			Key:      SettingsConflictID,
			Label:    "global settings",
			Existing: mustMarshal(util.FromPointer(existing.GlobalSettings)),
			Incoming: mustMarshal(util.FromPointer(incoming.GlobalSettings)),
		})
	}

	result.HasConflicts = len(result.Conflicts) > 0
	return result
}

func (d *DetectionResult) add(conflict DataConflict) {
	d.Conflicts = append(d.Conflicts, conflict)
	d.ByKind[conflict.Kind]++
}

func cardLabel(card persist.Card) string {
	front := card.Front
	if len(front) > 40 {
		front = front[:40] + "…"
	}
	return fmt.Sprintf("card %q", front)
}

func mustMarshal(v any) json.RawMessage {
	bs, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bs
}
