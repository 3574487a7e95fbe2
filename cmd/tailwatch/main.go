package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tailwatch/tailwatch/internal/config"
	"github.com/tailwatch/tailwatch/internal/engine"
	"github.com/tailwatch/tailwatch/internal/logger"
	"github.com/tailwatch/tailwatch/internal/metrics"
	"github.com/tailwatch/tailwatch/internal/ops"
	"github.com/tailwatch/tailwatch/internal/polymarket"
	"github.com/tailwatch/tailwatch/internal/rules"
	"github.com/tailwatch/tailwatch/internal/storage"
	"github.com/tailwatch/tailwatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Secrets such as the bot token can live in a .env file next to the
	// binary instead of the YAML config.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Without the store no safe dedup decision can be made, so any failure
	// here is fatal rather than degrading to always-alert or never-alert.
	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to open state store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close state store: %v", err)
		}
	}()

	ruleset, err := rules.Extremes(cfg.Alerting.ExtremeLow, cfg.Alerting.ExtremeHigh)
	if err != nil {
		logger.Fatal("Invalid alerting thresholds: %v", err)
	}

	polyClient := polymarket.NewClient(
		cfg.Polymarket.GammaAPIURL,
		cfg.Polymarket.Timeout,
		polymarket.ClientConfig{
			MaxRetries:     cfg.Polymarket.MaxRetries,
			RetryDelayBase: cfg.Polymarket.RetryDelayBase,
		},
	)

	var telegramClient *telegram.Client
	var dispatcher engine.Dispatcher
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		dispatcher = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	eng := engine.New(store, dispatcher, ruleset, engine.Config{
		NotifyRecovery: cfg.Alerting.NotifyRecovery,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if cfg.Ops.Enabled {
		opsServer := ops.NewServer(cfg.Ops.ListenAddr, store)
		opsServer.Start()
		logger.Info("Ops server listening on %s", cfg.Ops.ListenAddr)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shut down ops server: %v", err)
			}
		}()
	}

	if cfg.Telegram.Enabled && telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	logger.Info("Starting monitoring service (interval: %v, thresholds: %.2f/%.2f, recovery notices: %v)",
		cfg.Polymarket.PollInterval,
		cfg.Alerting.ExtremeLow,
		cfg.Alerting.ExtremeHigh,
		cfg.Alerting.NotifyRecovery,
	)

	ticker := time.NewTicker(cfg.Polymarket.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(ctx, err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendServiceRecovery(ctx, consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial monitoring cycle")
	handleCycleResult(runCycle(ctx, polyClient, eng, cfg))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			handleCycleResult(runCycle(ctx, polyClient, eng, cfg))
		}
	}
}

// runCycle performs one fetch-evaluate-reconcile pass. A fetch failure skips
// the whole cycle and leaves the state store untouched; the next tick retries
// naturally.
func runCycle(ctx context.Context, polyClient *polymarket.Client, eng *engine.Engine, cfg *config.Config) error {
	if ctx.Err() != nil {
		return nil
	}
	startTime := time.Now()
	logger.Info("Starting monitoring cycle")

	report, err := eng.Poll(ctx, polyClient, cfg.Polymarket.Limit, time.Now())
	if err != nil {
		var fetchErr *engine.FetchError
		if errors.As(err, &fetchErr) {
			metrics.CyclesTotal.WithLabelValues("fetch_error").Inc()
			return err
		}
		metrics.CyclesTotal.WithLabelValues("engine_error").Inc()
		return fmt.Errorf("cycle aborted: %w", err)
	}

	for _, dropErr := range report.Dropped {
		logger.Warn("Dropped record: %v", dropErr)
	}
	if report.DispatchFailures > 0 {
		logger.Warn("%d notification(s) failed to deliver this cycle", report.DispatchFailures)
	}

	duration := time.Since(startTime)
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	metrics.CycleDuration.Observe(duration.Seconds())
	logger.Info("Cycle complete in %v: %d markets, %d alerts, %d recoveries, %d dropped",
		duration, report.Markets, len(report.Alerts), report.Recoveries, len(report.Dropped))

	return nil
}
