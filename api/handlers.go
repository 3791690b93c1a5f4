package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"idevicedesk/backup"
	"idevicedesk/models"
	"idevicedesk/session"

	"github.com/gin-gonic/gin"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":  "ok",
		"message": "idevicedesk backend is running",
	}))
}

// GetDevices returns the devices known to the backend
func GetDevices(c *gin.Context, backend session.Backend) {
	devices, err := backend.GetDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, models.ErrorResponse(err.Error()))
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	c.JSON(http.StatusOK, models.SuccessResponse(devices))
}

// GetDeviceInfo returns the backend's detail sheet of one device
func GetDeviceInfo(c *gin.Context, backend session.Backend) {
	info, err := backend.GetDeviceInfo(c.Request.Context(), c.Param("udid"))
	if err != nil {
		c.JSON(http.StatusBadGateway, models.ErrorResponse(err.Error()))
		return
	}
	if info == nil {
		info = models.DeviceInfo{}
	}
	c.JSON(http.StatusOK, models.SuccessResponse(info))
}

func StartBackup(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	var req models.BackupRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}

	id, err := bs.StartBackup(c.Request.Context(), c.Param("udid"), req)
	if err != nil {
		backupError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.SuccessResponse(gin.H{"backup_id": id}))
}

func GetBackupProgress(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(bs.Progress(c.Param("id"))))
}

// ListBackupProgress returns the progress of every tracked run by id
func ListBackupProgress(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(bs.AllProgress()))
}

func CancelBackup(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	if err := bs.Cancel(c.Param("id")); err != nil {
		backupError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Backup cancelled"))
}

func RestoreBackup(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	var req models.RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BackupDir == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("backup_dir is required"))
		return
	}
	if err := bs.Restore(c.Request.Context(), c.Param("udid"), req); err != nil {
		backupError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Restore completed"))
}

func GetEncryption(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	enabled, err := bs.EncryptionEnabled(c.Request.Context(), c.Param("udid"))
	if err != nil {
		backupError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"enabled": enabled}))
}

func SetEncryption(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	var req models.EncryptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	if err := bs.SetEncryption(c.Request.Context(), c.Param("udid"), req); err != nil {
		backupError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"enabled": req.Enable}))
}

func ListBackups(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	backups, err := bs.ListBackups(c.Request.Context(), c.Query("dir"))
	if err != nil {
		backupError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(backups))
}

func GetBackupHistory(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	history, err := bs.History(c.Request.Context(), c.Param("udid"))
	if err != nil {
		backupError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(history))
}

func GetBackupInfo(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("path is required"))
		return
	}
	info, err := bs.GetBackupInfo(c.Request.Context(), path)
	if err != nil {
		backupError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(info))
}

func DeleteBackup(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("path is required"))
		return
	}
	if err := bs.DeleteBackup(c.Request.Context(), path); err != nil {
		backupError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Backup deleted"))
}

func GetDefaultBackupDir(c *gin.Context, bs *backup.Service) {
	if !backupsAvailable(c, bs) {
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"dir": bs.DefaultDir()}))
}

// GetSession returns the full store snapshot
func GetSession(c *gin.Context, store *session.Store) {
	c.JSON(http.StatusOK, models.SuccessResponse(store.Snapshot()))
}

// RefreshDevices re-reads the device list. Failures are reported in the
// snapshot's error field, so the request itself succeeds.
func RefreshDevices(c *gin.Context, store *session.Store) {
	store.FetchDevices(c.Request.Context())
	c.JSON(http.StatusOK, models.SuccessResponse(store.Snapshot()))
}

func FetchSessionDeviceInfo(c *gin.Context, store *session.Store) {
	silent, _ := strconv.ParseBool(c.Query("silent"))
	info := store.FetchDeviceInfo(c.Request.Context(), c.Param("udid"), silent)
	if info == nil {
		c.JSON(http.StatusBadGateway, models.ErrorResponse(store.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(info))
}

func CheckConnection(c *gin.Context, store *session.Store) {
	connected := store.CheckDeviceConnection(c.Request.Context(), c.Param("udid"))
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"connected": connected}))
}

// SetCurrentDevice replaces the current device. A JSON null clears it.
func SetCurrentDevice(c *gin.Context, store *session.Store) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("request body is required"))
		return
	}
	var current *models.CurrentDevice
	if err := json.Unmarshal(body, &current); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	store.SetCurrentDevice(current)
	c.JSON(http.StatusOK, models.SuccessResponse(store.Snapshot()))
}

func backupsAvailable(c *gin.Context, bs *backup.Service) bool {
	if bs == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse("backups are not available in this backend mode"))
		return false
	}
	return true
}

// backupError maps service errors to HTTP status codes
func backupError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, backup.ErrDeviceNotConnected):
		status = http.StatusConflict
	case errors.Is(err, backup.ErrPasswordRequired):
		status = http.StatusBadRequest
	case errors.Is(err, backup.ErrOutsideRoot):
		status = http.StatusForbidden
	case errors.Is(err, backup.ErrNotBackup), errors.Is(err, backup.ErrUnknownBackup), errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	}
	c.JSON(status, models.ErrorResponse(err.Error()))
}

// bindOptionalJSON decodes the body into v when there is one
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}
