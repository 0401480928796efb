package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/rekapu/go-rekapu/service/backup"
	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/util"
)

type exportBackupInput struct {
	Scope backup.Scope `form:"scope" binding:"required"`
}

type detectConflictsOutput struct {
	Container backup.Container       `json:"container"`
	Detection backup.DetectionResult `json:"detection"`
}

type importLegacyInput struct {
	Scope    backup.Scope  `form:"scope" binding:"required"`
	Strategy backup.Action `form:"strategy" binding:"required"`
}

type importWithResolutionInput struct {
	Container   backup.Container      `json:"container" binding:"required"`
	Scope       backup.Scope          `json:"scope" binding:"required"`
	Conflicts   []backup.DataConflict `json:"conflicts"`
	Resolutions []backup.Resolution   `json:"resolutions"`
}

type snapshotSummary struct {
	ID        persist.DBID   `json:"id"`
	Timestamp persist.Millis `json:"timestamp"`
}

type listSnapshotsOutput struct {
	Snapshots []snapshotSummary `json:"snapshots"`
}

type snapshotIDInput struct {
	SnapshotID persist.DBID `form:"snapshot_id" json:"snapshot_id" binding:"required"`
}

type restoreSnapshotOutput struct {
	Success    bool         `json:"success"`
	RecoveryID persist.DBID `json:"recoveryId"`
}

type validateIntegrityOutput struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

func exportBackup(manager *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input exportBackupInput
		if err := c.ShouldBindQuery(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		archive, filename, opID, err := manager.ExportBackup(c, input.Scope)
		if err != nil {
			util.ErrResponse(c, errStatus(err), err)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("X-Operation-ID", opID.String())
		c.Data(http.StatusOK, "application/zip", archive)
	}
}

func detectImportConflicts(manager *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input exportBackupInput
		if err := c.ShouldBindQuery(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		file, err := readBackupFile(c)
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		container, detection, err := manager.DetectImportConflicts(c, file, input.Scope)
		if err != nil {
			util.ErrResponse(c, errStatus(err), err)
			return
		}
		c.JSON(http.StatusOK, detectConflictsOutput{Container: container, Detection: detection})
	}
}

func importLegacy(manager *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input importLegacyInput
		if err := c.ShouldBindQuery(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		file, err := readBackupFile(c)
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		report, err := manager.ImportLegacy(c, file, input.Scope, input.Strategy)
		if err != nil {
			respondImportErr(c, report, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func importWithResolution(manager *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input importWithResolutionInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		report, err := manager.ImportWithConflictResolution(c, input.Container, input.Scope, input.Conflicts, input.Resolutions)
		if err != nil {
			respondImportErr(c, report, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func listSnapshots(manager *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshots, err := manager.ListSnapshots(c)
		if err != nil {
			util.ErrResponse(c, http.StatusInternalServerError, err)
			return
		}
		out := listSnapshotsOutput{Snapshots: []snapshotSummary{}}
		for _, snapshot := range snapshots {
			out.Snapshots = append(out.Snapshots, snapshotSummary{ID: snapshot.ID, Timestamp: snapshot.Timestamp})
		}
		c.JSON(http.StatusOK, out)
	}
}

func restoreSnapshot(manager *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input snapshotIDInput
		if err := c.ShouldBind(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		recoveryID, err := manager.RestoreFromSnapshot(c, input.SnapshotID)
		if err != nil {
			util.ErrResponse(c, errStatus(err), err)
			return
		}
		c.JSON(http.StatusOK, restoreSnapshotOutput{Success: true, RecoveryID: recoveryID})
	}
}

func deleteSnapshot(manager *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input snapshotIDInput
		if err := c.ShouldBind(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		if err := manager.DeleteSnapshot(c, input.SnapshotID); err != nil {
			util.ErrResponse(c, errStatus(err), err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func validateIntegrity(manager *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		problems, err := manager.ValidateDataIntegrity(c)
		if err != nil {
			util.ErrResponse(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, validateIntegrityOutput{Valid: len(problems) == 0, Problems: problems})
	}
}

func getOperation(manager *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := persist.DBID(c.Param("id"))
		op, ok := manager.Progress().Get(id)
		if !ok {
			util.ErrResponse(c, http.StatusNotFound, fmt.Errorf("operation not found: %s", id))
			return
		}
		c.JSON(http.StatusOK, op)
	}
}

// readBackupFile accepts either a multipart "file" field or a raw request
// body, matching how the extension host uploads backups
func readBackupFile(c *gin.Context) ([]byte, error) {
	if fileHeader, err := c.FormFile("file"); err == nil {
		f, err := fileHeader.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	file, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(file) == 0 {
		return nil, util.ErrInvalidInput{Reason: "no backup file supplied"}
	}
	return file, nil
}

// respondImportErr distinguishes rollback failures, which carry a usable
// report and must point the caller at manual recovery
func respondImportErr(c *gin.Context, report backup.ImportReport, err error) {
	var rollbackErr backup.ErrRollbackFailed
	if errors.As(err, &rollbackErr) {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      err.Error(),
			"report":     report,
			"snapshotId": rollbackErr.SnapshotID,
		})
		return
	}
	util.ErrResponse(c, errStatus(err), err)
}

func errStatus(err error) int {
	switch err.(type) {
	case backup.ErrInvalidBackupFormat, backup.ErrUnsupportedVersion,
		backup.ErrUnknownConflict, backup.ErrInvalidResolution, util.ErrInvalidInput:
		return http.StatusBadRequest
	case persist.ErrSnapshotNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
