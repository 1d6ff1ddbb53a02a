package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rewired-gh/slopewatch/internal/config"
	"github.com/rewired-gh/slopewatch/internal/logger"
	"github.com/rewired-gh/slopewatch/internal/models"
	"github.com/rewired-gh/slopewatch/internal/monitor"
	"github.com/rewired-gh/slopewatch/internal/risk"
	"github.com/rewired-gh/slopewatch/internal/station"
	"github.com/rewired-gh/slopewatch/internal/storage"
	"github.com/rewired-gh/slopewatch/internal/telegram"
	"github.com/rewired-gh/slopewatch/internal/trigger"
)

var (
	configPath     = flag.String("config", "configs/config.yaml", "Path to configuration file")
	fieldCheckPath = flag.String("fieldcheck", "", "Replay accelerometer samples (ax,ay,az per line) through one field check and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if *fieldCheckPath != "" {
		if err := runFieldCheck(ctx, cfg, *fieldCheckPath, os.Stdout); err != nil {
			logger.Fatal("Field check failed: %v", err)
		}
		return
	}

	store := storage.New(
		cfg.Storage.MaxHistory,
		cfg.Storage.FilePath,
		os.FileMode(cfg.Storage.FilePermissions),
		os.FileMode(cfg.Storage.DirPermissions),
	)
	if err := store.Load(); err != nil {
		logger.Warn("Failed to load persisted state, starting fresh: %v", err)
	}
	defer func() {
		if err := store.Save(); err != nil {
			logger.Error("Failed to save state: %v", err)
		}
	}()

	engine, err := risk.NewEngine(cfg.EngineOptions())
	if err != nil {
		logger.Fatal("Failed to initialize risk engine: %v", err)
	}

	stationClient := station.NewClient(cfg.StationClientConfig())

	tokens := &trigger.TokenCache{}
	if cfg.Telegram.PushToken != "" {
		tokens.Set(cfg.Telegram.PushToken)
	}

	var push trigger.PushSender
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		push = telegramClient
		logger.Info("Telegram push initialized successfully")
	} else {
		logger.Debug("Telegram push disabled, alerts stay local")
	}

	mon, err := monitor.New(monitor.Options{
		Engine:          engine,
		Storage:         store,
		Fetcher:         stationClient,
		Policy:          trigger.NewPolicy(cfg.Thresholds()),
		Alerter:         trigger.NewAlerter(push, trigger.LogNotifier{}, tokens),
		Static:          cfg.StaticSnapshot(),
		StationPosition: cfg.Station.Position,
	})
	if err != nil {
		logger.Fatal("Failed to initialize monitor: %v", err)
	}

	if telegramClient != nil && cfg.Telegram.Listen {
		go telegramClient.ListenForRegistrations(ctx, mon.RegisterToken)
	}

	distance := cfg.DistanceMeters()
	logger.Info("Starting monitoring of %s (interval: %v, distance: %.0f m, remote config: %t, live rainfall: %t)",
		cfg.Station.Name,
		cfg.Weather.PollInterval,
		distance,
		stationClient.RemoteConfigEnabled(),
		stationClient.WeatherEnabled(),
	)

	ticker := time.NewTicker(cfg.Weather.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed (%d in a row): %v", consecutiveFailures, err)
			return
		}
		if consecutiveFailures > 0 {
			logger.Info("Monitoring recovered after %d failed cycles", consecutiveFailures)
		}
		consecutiveFailures = 0
	}

	// Run initial cycle immediately
	logger.Debug("Running initial monitoring cycle")
	handleCycleResult(runMonitoringCycle(ctx, mon, store, distance))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			handleCycleResult(runMonitoringCycle(ctx, mon, store, distance))
		}
	}
}

// runMonitoringCycle refreshes readings, rescores, evaluates the trigger
// latches and persists state.
func runMonitoringCycle(ctx context.Context, mon *monitor.Monitor, store *storage.Storage, distance float64) error {
	startTime := time.Now()

	a, err := mon.Refresh(ctx)
	if errors.Is(err, monitor.ErrStaleRefresh) || errors.Is(err, context.Canceled) {
		logger.Debug("Monitoring cycle abandoned: %v", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to refresh readings: %w", err)
	}

	logger.Info("Risk %.0f%% (%s), dominant factor %s, forecast %s",
		a.Probability*100, a.Band, a.DominantFactorKey, formatForecasts(a.Forecasts))
	for _, f := range a.Factors {
		logger.Debug("  %-16s %-10s level %.3f x weight %.2f = %.3f",
			f.Key, f.DisplayValue, f.NormalizedLevel, f.Weight, f.Contribution)
	}

	notifications := mon.Evaluate(ctx, distance)
	if len(notifications) > 0 {
		logger.Info("Dispatched %d alerts", len(notifications))
	}

	if err := store.Save(); err != nil {
		logger.Warn("Failed to save state: %v", err)
	}

	logger.Info("Monitoring cycle completed in %v", time.Since(startTime))
	return nil
}

func formatForecasts(forecasts []models.Forecast) string {
	parts := make([]string, 0, len(forecasts))
	for _, f := range forecasts {
		parts = append(parts, fmt.Sprintf("+%gh %.0f%% %s", f.HoursAhead, f.ProjectedProbability*100, f.Band))
	}
	return strings.Join(parts, ", ")
}
