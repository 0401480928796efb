package backup

import (
	"fmt"

	"github.com/rekapu/go-rekapu/service/persist"
)

// ErrInvalidBackupFormat is returned for unparseable or structurally
// incomplete backup files. Always fatal to the current call; nothing is
// partially imported.
type ErrInvalidBackupFormat struct {
	Reason string
}

func (e ErrInvalidBackupFormat) Error() string {
	return fmt.Sprintf("invalid backup format: %s", e.Reason)
}

// ErrUnsupportedVersion is returned when a container carries a schema
// version this build does not understand. Unknown or newer versions are
// rejected, never silently coerced.
type ErrUnsupportedVersion struct {
	Version string
}

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported backup version: %s", e.Version)
}

// ErrUnknownConflict is returned when a resolution references a conflict ID
// that was never detected. This indicates a caller bug and is fatal.
type ErrUnknownConflict struct {
	ConflictID string
}

func (e ErrUnknownConflict) Error() string {
	return fmt.Sprintf("resolution references unknown conflict: %s", e.ConflictID)
}

// ErrInvalidResolution is returned for contract violations in a supplied
// resolution, such as renaming an entity kind that cannot be renamed
type ErrInvalidResolution struct {
	ConflictID string
	Reason     string
}

func (e ErrInvalidResolution) Error() string {
	return fmt.Sprintf("invalid resolution for conflict %s: %s", e.ConflictID, e.Reason)
}

// ErrRollbackFailed is the most severe failure: restoring the pre-import
// snapshot itself failed, so the store may be inconsistent. The caller must
// be directed to a manual RestoreFromSnapshot with the carried snapshot ID.
type ErrRollbackFailed struct {
	SnapshotID persist.DBID
	Err        error
}

func (e ErrRollbackFailed) Error() string {
	return fmt.Sprintf("rollback from snapshot %s failed, store may be inconsistent: %s", e.SnapshotID, e.Err)
}

func (e ErrRollbackFailed) Unwrap() error {
	return e.Err
}
