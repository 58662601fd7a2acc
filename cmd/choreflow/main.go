package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hearthward/choreflow/internal/backup"
	"github.com/hearthward/choreflow/internal/clock"
	"github.com/hearthward/choreflow/internal/database"
	"github.com/hearthward/choreflow/internal/event"
	"github.com/hearthward/choreflow/internal/gamify"
	"github.com/hearthward/choreflow/internal/logging"
	"github.com/hearthward/choreflow/internal/notify"
	"github.com/hearthward/choreflow/internal/persist"
	"github.com/hearthward/choreflow/internal/server"
	"github.com/hearthward/choreflow/internal/stats"
	"github.com/hearthward/choreflow/internal/store"
	ws "github.com/hearthward/choreflow/internal/websocket"
	"github.com/hearthward/choreflow/internal/workflow"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	logger := logging.Setup(env("CHOREFLOW_LOG_LEVEL", "info"), env("CHOREFLOW_LOG_FORMAT", "text"))

	port := env("CHOREFLOW_PORT", "8080")
	dbPath := env("CHOREFLOW_DB_PATH", "choreflow.db")

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Stores
	choreStore := store.NewChoreStore(db)
	memberStore := store.NewFamilyMemberStore(db)
	ledgerStore := store.NewLedgerStore(db)
	tallyStore := store.NewTallyStore(db)
	pushStore := store.NewPushStore(db)

	clk := clock.System{}
	bus := event.New(logger.With("component", "event"))

	// Tier-1 debounce: snapshot writes
	coordinator := persist.New(
		choreStore.SaveSnapshot,
		envDuration("CHOREFLOW_WRITE_DEBOUNCE", 2*time.Second),
		logger.With("component", "persist"),
	)

	ledger := gamify.NewLedger(ledgerStore)
	manager := workflow.New(clk, ledger, coordinator, bus, logger.With("component", "workflow"))

	snap, err := choreStore.LoadSnapshot()
	if err != nil {
		logger.Error("load snapshot", "error", err)
		os.Exit(1)
	}
	manager.Load(snap)

	// Tier-2 debounce: derived caches
	cacheWindow := envDuration("CHOREFLOW_CACHE_DEBOUNCE", 2*time.Second)
	statsMgr := stats.New(manager, tallyStore, bus, clk, cacheWindow, logger.With("component", "stats"))
	defer statsMgr.Stop()
	gamifyMgr := gamify.New(ledgerStore, tallyStore, bus, clk, cacheWindow, logger.With("component", "gamify"))
	defer gamifyMgr.Stop()

	// Realtime feed
	hub := ws.NewHub(logger.With("component", "websocket"))
	ws.NewBridge(hub, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Overdue/period sweeper
	sweeper := workflow.NewSweeper(manager, envDuration("CHOREFLOW_SWEEP_INTERVAL", time.Minute), logger.With("component", "sweeper"))
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Web push (optional)
	var pushSvc *notify.Service
	vapidPub := os.Getenv("CHOREFLOW_VAPID_PUBLIC_KEY")
	vapidPriv := os.Getenv("CHOREFLOW_VAPID_PRIVATE_KEY")
	if vapidPub != "" && vapidPriv != "" {
		pushSvc = notify.NewService(vapidPub, vapidPriv)
		notifier := notify.New(pushSvc, pushStore, bus, logger.With("component", "notify"))
		notifier.Start(ctx)
		defer notifier.Stop()
	}

	// Encrypted S3 backups (optional)
	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("CHOREFLOW_S3_ENDPOINT"),
			Bucket:    os.Getenv("CHOREFLOW_S3_BUCKET"),
			Region:    env("CHOREFLOW_S3_REGION", "auto"),
			AccessKey: os.Getenv("CHOREFLOW_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("CHOREFLOW_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Passphrase:    os.Getenv("CHOREFLOW_BACKUP_PASSPHRASE"),
		ScheduleHour:  envInt("CHOREFLOW_BACKUP_HOUR", 3),
		RetentionDays: envInt("CHOREFLOW_BACKUP_RETENTION_DAYS", 30),
	}, db, logger.With("component", "backup"))
	backupMgr.Start(ctx)
	defer backupMgr.Stop()

	srv := server.New(server.Deps{
		Manager:     manager,
		Stats:       statsMgr,
		Gamify:      gamifyMgr,
		Hub:         hub,
		Members:     memberStore,
		Ledger:      ledgerStore,
		Tallies:     tallyStore,
		Push:        pushStore,
		PushService: pushSvc,
		Backup:      backupMgr,
	}, logger)

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("Choreflow running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Drain the pending snapshot before the process exits.
	if err := coordinator.ForceFlush(); err != nil {
		logger.Error("final flush failed", "error", err)
		os.Exit(1)
	}
}
