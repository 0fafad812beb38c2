package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DiceSentinel/internal/account"
	"DiceSentinel/internal/api"
	"DiceSentinel/internal/config"
	"DiceSentinel/internal/notifier"
	"DiceSentinel/internal/recorder"
	"DiceSentinel/internal/scheduler"
	"DiceSentinel/internal/session"
	"DiceSentinel/internal/stats"
	"DiceSentinel/internal/supervisor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] DiceSentinel starting...")

	if err := config.LoadEnvFile(".env"); err != nil {
		log.Printf("[WARN] %v", err)
	}

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Init account store
	store := account.NewStore(cfg.Accounts.File)

	// Init session runner
	runner, err := session.New(cfg.Session.Driver, cfg.SessionOptions())
	if err != nil {
		log.Fatalf("[FATAL] init session runner: %v", err)
	}
	log.Printf("[INFO] session driver: %s", runner.Name())

	// Init recorder
	var rec recorder.Recorder
	if cfg.HistoryEnabled() {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		log.Println("[INFO] run history disabled")
		rec = recorder.NewNoopRecorder()
	}

	// Init report sinks
	var sinks []stats.Sink
	if cfg.Report.Terminal {
		sinks = append(sinks, stats.NewTerminalSink())
	}
	if cfg.Report.XLSXPath != "" {
		sinks = append(sinks, stats.NewXLSXSink(cfg.Report.XLSXPath))
	}

	sup := supervisor.New(store, runner, supervisor.Options{
		GracePeriod: cfg.Supervisor.GracePeriod,
		EventBuffer: cfg.Supervisor.EventBuffer,
	})

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Telegram notifier
	var tn *notifier.TelegramNotifier
	var sender scheduler.Sender
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		sender = tn
	} else {
		log.Println("[WARN] telegram not configured, notifications disabled")
	}

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, sup, store, sender, rec, sinks...)
	if err := sched.RegisterAll(cfg.Schedule.DailyCron, cfg.Schedule.ReportCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	consumerDone := make(chan struct{})
	go func() {
		sched.Consume(sup.Events())
		close(consumerDone)
	}()
	sched.Start()

	// Start Telegram polling
	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Println("[INFO] Telegram polling started")
	}

	// Start HTTP API
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(sup, store, rec).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[INFO] HTTP API listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] HTTP API: %v", err)
		}
	}()

	// Optional: run immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, starting all accounts now")
		sched.RunAllNow()
	}

	log.Println("[INFO] DiceSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Supervisor.GracePeriod+10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] HTTP shutdown: %v", err)
	}
	sup.Close(shutdownCtx)
	<-consumerDone
	cancel()
	log.Println("[INFO] DiceSentinel stopped")
}
