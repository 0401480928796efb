package backup

import (
	"encoding/json"
	"fmt"

	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/util"
)

// CurrentVersion is the container schema version written by this build
const CurrentVersion = "2.0"

// Scope selects which entity kinds a backup operation covers
type Scope string

const (
	// ScopeCards covers cards, tags and the active tag-name list
	ScopeCards Scope = "cards"
	// ScopeFull additionally covers domains, global settings and statistics
	ScopeFull Scope = "full"
)

// Valid reports whether the scope is a known value
func (s Scope) Valid() bool {
	return util.Contains([]Scope{ScopeCards, ScopeFull}, s)
}

// Container is the versioned, self-describing export artifact
type Container struct {
	Version   string         `json:"version"`
	Timestamp persist.Millis `json:"timestamp"`
	Scope     Scope          `json:"scope"`
	Data      ContainerData  `json:"data"`
}

// ContainerData holds the optional entity collections of a container. Which
// fields are populated depends on the container's scope.
type ContainerData struct {
	Cards          map[string]persist.Card          `json:"cards,omitempty"`
	Tags           map[string]persist.Tag           `json:"tags,omitempty"`
	ActiveTags     []string                         `json:"activeTags,omitempty"`
	Domains        map[string]persist.DomainSetting `json:"domains,omitempty"`
	GlobalSettings *persist.GlobalSettings          `json:"globalSettings,omitempty"`
	Statistics     *persist.Statistics              `json:"statistics,omitempty"`
}

// ConflictKind is the closed set of entity kinds that can collide on import
type ConflictKind string

const (
	ConflictKindCard     ConflictKind = "card"
	ConflictKindTag      ConflictKind = "tag"
	ConflictKindDomain   ConflictKind = "domain"
	ConflictKindSettings ConflictKind = "settings"
)

// SettingsConflictID is the conflict ID used for the global-settings
// singleton, which has no per-entity key of its own
const SettingsConflictID = "globalSettings"

// DataConflict reports one primary-key collision between incoming and
// existing data. ID is unique across kinds; Key is the colliding primary
// key. Both values are carried for downstream description and forensic
// display.
type DataConflict struct {
	ID       string          `json:"id"`
	Kind     ConflictKind    `json:"kind"`
	Key      string          `json:"key"`
	Label    string          `json:"label"`
	Existing json.RawMessage `json:"existing"`
	Incoming json.RawMessage `json:"incoming"`
}

// ConflictID builds the unique conflict identifier for a kind and key
func ConflictID(kind ConflictKind, key string) string {
	return string(kind) + ":" + key
}

// Action is the policy chosen to settle a conflict
type Action string

const (
	ActionSkip      Action = "skip"
	ActionOverwrite Action = "overwrite"
	ActionRename    Action = "rename"
)

// Valid reports whether the action is a known value
func (a Action) Valid() bool {
	return util.Contains([]Action{ActionSkip, ActionOverwrite, ActionRename}, a)
}

// Resolution settles one conflict. NewID is only meaningful for
// ActionRename and only cards support renaming; when left empty the
// resolver generates a fresh ID.
type Resolution struct {
	ConflictID string       `json:"conflictId"`
	Action     Action       `json:"action"`
	NewID      persist.DBID `json:"newId,omitempty"`
}

// KindCounts tallies import outcomes for one entity kind
type KindCounts struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Renamed  int `json:"renamed"`
}

// ResolvedConflict records how one conflict was settled, for display in the
// import report
type ResolvedConflict struct {
	ConflictID  string       `json:"conflictId"`
	Kind        ConflictKind `json:"kind"`
	Action      Action       `json:"action"`
	NewID       persist.DBID `json:"newId,omitempty"`
	Description string       `json:"description"`
}

// ImportReport is the only externally visible result of an import attempt.
// It is complete even on failure: counts and errors reflect everything that
// happened up to the point of rollback.
type ImportReport struct {
	Cards      KindCounts `json:"cards"`
	Tags       KindCounts `json:"tags"`
	Domains    KindCounts `json:"domains"`
	Settings   KindCounts `json:"settings"`
	Statistics KindCounts `json:"statistics"`

	Conflicts   []ResolvedConflict `json:"conflicts,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
	SnapshotID  persist.DBID       `json:"snapshotId,omitempty"`
	OperationID persist.DBID       `json:"operationId,omitempty"`
	Success     bool               `json:"success"`
}

// AddError records a failure without aborting the batch
func (r *ImportReport) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// DetectionResult is the outcome of a conflict-detection pass
type DetectionResult struct {
	HasConflicts bool                 `json:"hasConflicts"`
	Conflicts    []DataConflict       `json:"conflicts"`
	ByKind       map[ConflictKind]int `json:"conflictsByType"`
}
