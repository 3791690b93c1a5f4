package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idevicedesk/api"
	"idevicedesk/backup"
	"idevicedesk/config"
	"idevicedesk/idevice"
	"idevicedesk/logs"
	"idevicedesk/remote"
	"idevicedesk/session"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// backendSet is what a backend mode provides
type backendSet struct {
	capability session.Capability
	backend    session.Backend
	device     backup.Device // nil when backups cannot run here
}

func selectBackend(cfg *config.Config) backendSet {
	switch cfg.Backend.Mode {
	case config.ModeRemote:
		client := remote.NewClient(cfg.Backend.RemoteURL, cfg.Backend.Timeout)
		return backendSet{capability: client, backend: client}
	case config.ModeMock:
		return backendSet{capability: session.Unavailable}
	default:
		client := idevice.NewClient(cfg.IDevice.ToolsDir)
		return backendSet{capability: client, backend: client, device: client}
	}
}

func main() {
	configPath := flag.String("config", "", "path to a config file (default: search idevicedesk.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logs.Logger.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	})
	if err != nil {
		logs.Logger.Warnf("Failed to setup file logging: %v", err)
	} else if logFile != nil {
		defer logFile.Close()
	}

	logs.Logger.WithField("mode", cfg.Backend.Mode).Info("Starting idevicedesk backend...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	set := selectBackend(cfg)
	if set.backend != nil && !set.capability.Probe() {
		logs.Logger.Warn("Device backend not available yet, serving mock data until it is")
	}

	store := session.NewStore(set.capability, set.backend)
	tracker := backup.NewTracker()

	var backups *backup.Service
	if set.device != nil {
		db, err := config.InitDatabase(cfg.Database.Path)
		if err != nil {
			logs.Logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		dir, err := config.EnsureBackupDir(cfg.Backup.Dir)
		if err != nil {
			logs.Logger.Fatalf("Failed to prepare backup directory: %v", err)
		}
		if dir != cfg.Backup.Dir {
			logs.Logger.Warnf("Backup directory %s not usable, using %s", cfg.Backup.Dir, dir)
		}
		backups = backup.NewService(set.device, tracker, backup.NewCatalog(db), dir)
		backups.SetRetention(cfg.Backup.Retention)
		defer backups.Close()
	}

	// Initialize WebSocket hub
	wsHub := api.NewWebSocketHub()
	go wsHub.Run(ctx)
	cancelEvents := api.PublishEvents(wsHub, store, tracker)
	defer cancelEvents()

	go session.NewWatcher(store, cfg.Session.PollInterval).Run(ctx)

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logs.Logger.WriterLevel(logrus.DebugLevel)), gin.Recovery())
	api.SetupRoutes(router, session.WithFallback(set.capability, set.backend), store, backups, wsHub)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	// Initial device scan in background
	go func() {
		devices := store.FetchDevices(ctx)
		if msg := store.Error(); msg != "" {
			logs.Logger.Warnf("Initial device scan failed: %s", msg)
			return
		}
		logs.Logger.Infof("Found %d devices (%d connected)", len(devices), store.DeviceCount())
	}()

	go func() {
		logs.Logger.Infof("Server starting on http://localhost%s", cfg.Server.Address)
		logs.Logger.Infof("WebSocket server on ws://localhost%s/ws", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logs.Logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Logger.WithError(err).Warn("Server shutdown incomplete")
	}
}
