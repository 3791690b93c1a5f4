package api

import (
	"idevicedesk/backup"
	"idevicedesk/session"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, backend session.Backend, store *session.Store, bs *backup.Service, wsHub *WebSocketHub) {
	// Enable CORS
	router.Use(CORSMiddleware())

	// Health check, also the remote backend probe
	router.GET("/health", HealthCheck)

	api := router.Group("/api")
	{
		// Backend surface consumed by remote clients
		devices := api.Group("/devices")
		{
			devices.GET("", func(c *gin.Context) {
				GetDevices(c, backend)
			})
			devices.GET("/:udid/info", func(c *gin.Context) {
				GetDeviceInfo(c, backend)
			})
			devices.POST("/:udid/backups", func(c *gin.Context) {
				StartBackup(c, bs)
			})
			devices.GET("/:udid/backups", func(c *gin.Context) {
				GetBackupHistory(c, bs)
			})
			devices.POST("/:udid/restore", func(c *gin.Context) {
				RestoreBackup(c, bs)
			})
			devices.GET("/:udid/encryption", func(c *gin.Context) {
				GetEncryption(c, bs)
			})
			devices.PUT("/:udid/encryption", func(c *gin.Context) {
				SetEncryption(c, bs)
			})
		}

		backups := api.Group("/backups")
		{
			backups.GET("", func(c *gin.Context) {
				ListBackups(c, bs)
			})
			backups.DELETE("", func(c *gin.Context) {
				DeleteBackup(c, bs)
			})
			backups.GET("/info", func(c *gin.Context) {
				GetBackupInfo(c, bs)
			})
			backups.GET("/history", func(c *gin.Context) {
				GetBackupHistory(c, bs)
			})
			backups.GET("/default-dir", func(c *gin.Context) {
				GetDefaultBackupDir(c, bs)
			})
			backups.GET("/progress", func(c *gin.Context) {
				ListBackupProgress(c, bs)
			})
			backups.GET("/:id/progress", func(c *gin.Context) {
				GetBackupProgress(c, bs)
			})
			backups.POST("/:id/cancel", func(c *gin.Context) {
				CancelBackup(c, bs)
			})
		}

		// Session store
		sess := api.Group("/session")
		{
			sess.GET("", func(c *gin.Context) {
				GetSession(c, store)
			})
			sess.POST("/devices/refresh", func(c *gin.Context) {
				RefreshDevices(c, store)
			})
			sess.POST("/devices/:udid/info", func(c *gin.Context) {
				FetchSessionDeviceInfo(c, store)
			})
			sess.GET("/devices/:udid/connection", func(c *gin.Context) {
				CheckConnection(c, store)
			})
			sess.PUT("/current", func(c *gin.Context) {
				SetCurrentDevice(c, store)
			})
		}
	}

	// WebSocket route
	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(wsHub, c)
	})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
