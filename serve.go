package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/browser"

	"github.com/jaliph/qrbridge/api"
	"github.com/jaliph/qrbridge/auth"
	"github.com/jaliph/qrbridge/automation"
	"github.com/jaliph/qrbridge/config"
	"github.com/jaliph/qrbridge/database"
	"github.com/jaliph/qrbridge/imaging"
	"github.com/jaliph/qrbridge/metrics"
	"github.com/jaliph/qrbridge/server"
	"github.com/jaliph/qrbridge/updater"
	"github.com/jaliph/qrbridge/utils"
	"github.com/jaliph/qrbridge/wa"
	"github.com/jaliph/qrbridge/wechat"
)

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One bridge per target window
	lock := flock.New(cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock %s: %w", cfg.LockPath, err)
	}
	if !locked {
		return fmt.Errorf("another qrbridge instance is running (lock %s is held)", cfg.LockPath)
	}
	defer lock.Unlock()

	utils.Init(cfg.LogLevel)
	logger := utils.Logger

	// Load settings, creating or backfilling the document
	settings, err := config.OpenSettings(cfg.SettingsPath, logger)
	if err != nil {
		return err
	}
	s := settings.Snapshot()
	applyLogLevel(cfg, s)

	watcher, err := config.NewWatcher(settings, logger)
	if err != nil {
		logger.Warn("External settings edits will not be picked up", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	// Initialize GORM mirror for reporting
	var gormDB *database.GormDB
	if cfg.MSSQLEnabled {
		dsn := database.BuildSQLServerDSN(cfg.MSSQLServer, cfg.MSSQLPort, cfg.MSSQLDatabase, cfg.MSSQLUsername, cfg.MSSQLPassword)
		gormDB, err = database.NewGormDB(dsn, logger)
		if err != nil {
			log.Printf("Warning: MSSQL mirror disabled: %v", err)
			gormDB = nil
		} else {
			defer gormDB.Close()
		}
	}

	// Initialize SQLite generation history
	db, err := database.NewDatabase(cfg.HistoryDBPath, gormDB, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize history database: %w", err)
	}
	defer db.Close()

	// Force sync history from SQLite to MSSQL
	if gormDB != nil {
		if n, err := db.SyncMirror(ctx); err != nil {
			log.Printf("Warning: Failed to force sync history to MSSQL: %v", err)
		} else {
			log.Printf("Successfully force synced %d generations to MSSQL", n)
		}
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	deps := wechat.Deps{
		Cycle: wechat.NewCapturer(
			automation.NewPlatform(logger),
			imaging.NewCompositor(cfg.DefaultSkin, cfg.BaseDir),
			wechat.Target{WindowProcess: cfg.WindowProcess, KillProcess: cfg.KillProcess},
			logger,
		),
		Settings: settings,
		History:  db,
		Metrics:  m,
		Logger:   logger,
	}

	if cfg.WhatsAppEnabled {
		notifier, err := wa.NewNotifier(cfg.WhatsAppStorePath, cfg.WhatsAppNotify, cfg.LogLevel, logger)
		if err != nil {
			log.Printf("Warning: WhatsApp alerts disabled: %v", err)
		} else {
			deps.Notifier = notifier
			defer notifier.Disconnect()
			go func() {
				if err := notifier.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("WhatsApp alerts unavailable", "error", err)
				}
			}()
		}
	}

	qrManager := wechat.NewQRManager(deps)

	settings.OnChange(func(old, next config.Settings) {
		qrManager.Invalidate()
		applyLogLevel(cfg, next)
		if restart := config.RestartRequired(old, next); len(restart) > 0 {
			logger.Warn("Settings changed that only apply after a restart", "fields", restart)
		}
	})

	gate := auth.NewGate(auth.NewCookieStore(), settings.Fingerprint, logger)
	apiDeps := api.Deps{
		QR:       qrManager,
		Settings: settings,
		Sessions: gate,
		Updater:  updater.New(cfg.UpdateFeedURL, version, cfg.UpdateTimeout, logger),
		History:  db,
		Version:  version,
		Logger:   logger,
	}

	opts := server.Options{QRRoute: s.QRRoute}
	if m != nil {
		apiDeps.Metrics = m
		opts.Metrics = m.Handler()
	}
	handler := api.NewHandler(apiDeps)
	apiServer := server.NewServer(handler, gate, opts, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start(ctx, s.Addr())
	}()

	log.Printf("qrbridge %s started", version)
	log.Printf("Settings: %s", settings.Path())
	log.Printf("QR endpoint: GET http://%s%s?token=...", s.Addr(), s.QRRoute)
	log.Printf("Admin page: %s", s.BrowserURL())

	if !s.StandaloneMode {
		go func() {
			// give the listener a moment before the browser connects
			time.Sleep(500 * time.Millisecond)
			if err := browser.OpenURL(s.BrowserURL()); err != nil {
				logger.Warn("Failed to open browser", "url", s.BrowserURL(), "error", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(sctx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}
	return <-errCh
}

// applyLogLevel raises logging to debug while dev_mode is on
func applyLogLevel(cfg *config.Config, s config.Settings) {
	if s.DevMode {
		utils.SetLevel("debug")
		return
	}
	utils.SetLevel(cfg.LogLevel)
}
