package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/glasskit/perfmon/internal/collector"
	"github.com/glasskit/perfmon/internal/config"
	"github.com/glasskit/perfmon/internal/model"
	"github.com/glasskit/perfmon/internal/monitor"
	"github.com/glasskit/perfmon/internal/notify"
	"github.com/glasskit/perfmon/internal/storage"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	var store storage.Store
	if cfg.Storage.Enabled {
		sqlStore, err := storage.NewSQLiteStore(logger, cfg.Storage.Path)
		if err != nil {
			logger.Fatal("Failed to open alert store", zap.Error(err))
		}
		defer sqlStore.Close()
		store = sqlStore
	} else {
		store = storage.NewMemoryStore()
	}

	// Notification channel: NATS when configured, logger otherwise
	var notifier monitor.Notifier
	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()

		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}
		notifier, err = notify.NewNATSNotifier(logger, js)
		if err != nil {
			logger.Fatal("Failed to create notifier", zap.Error(err))
		}
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	alertCfg := monitor.DefaultConfig()
	alertCfg.AlertCooldown = cfg.Alerts.Cooldown
	alertCfg.MaxAlerts = cfg.Alerts.MaxAlerts
	alertCfg.EnableConsoleLogging = cfg.Alerts.ConsoleLogging
	alertCfg.EnableNotifications = cfg.Alerts.Notifications
	alertCfg.EnableStorage = cfg.Storage.Enabled
	alertCfg.EscalationEnabled = cfg.Alerts.EscalationEnabled
	alertCfg.EscalationThreshold = cfg.Alerts.EscalationThreshold
	alertCfg.EscalationCooldown = cfg.Alerts.EscalationCooldown
	for name, th := range cfg.Alerts.Thresholds {
		alertCfg.Thresholds[name] = th
	}

	manager := monitor.NewAlertManager(logger, alertCfg, store, notifier)
	detector := monitor.NewDegradationDetector(logger, monitor.DetectorConfig{
		WindowSize:           cfg.Detector.WindowSize,
		DegradationThreshold: cfg.Detector.DegradationThreshold,
		MinSamples:           cfg.Detector.MinSamples,
		SmoothingFactor:      cfg.Detector.SmoothingFactor,
	})

	col, err := collector.New(logger)
	if err != nil {
		logger.Fatal("Failed to create collector", zap.Error(err))
	}

	// Periodic collection and reporting
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.CollectSchedule, func() {
		snap, err := col.Collect(ctx)
		if err != nil {
			logger.Error("Failed to collect metrics", zap.Error(err))
			return
		}

		manager.CheckMetrics(ctx, snap)
		feedDetector(detector, snap)
	})
	if err != nil {
		logger.Fatal("Invalid collect schedule", zap.Error(err))
	}

	_, err = scheduler.AddFunc(cfg.ReportSchedule, func() {
		stats := manager.Statistics()
		logger.Info("Alert statistics",
			zap.Int("active", stats.ActiveCount),
			zap.Int("last_hour", stats.LastHour),
			zap.Int("escalations", stats.EscalationCount))

		for metric, report := range detector.AllReports() {
			if !report.IsDegraded {
				continue
			}
			logger.Warn("Degradation detected",
				zap.String("metric", metric),
				zap.Float64("percent", report.Percent*100),
				zap.String("severity", string(report.Severity)),
				zap.String("trend", string(report.Direction)))
		}
	})
	if err != nil {
		logger.Fatal("Invalid report schedule", zap.Error(err))
	}

	scheduler.Start()
	logger.Info("perfmon started",
		zap.String("collect_schedule", cfg.CollectSchedule),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("storage", cfg.Storage.Enabled))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}

	logger.Info("perfmon shut down gracefully")
}

// feedDetector pushes the snapshot's scalar metrics into the detector
func feedDetector(detector *monitor.DegradationDetector, snap *model.Snapshot) {
	ts := snap.Timestamp
	if snap.FrameRate != nil {
		detector.AddSample(model.MetricFrameRate, *snap.FrameRate, ts)
	}
	if snap.AverageRenderTime != nil {
		detector.AddSample(model.MetricRenderTime, *snap.AverageRenderTime, ts)
	}
	if snap.MemoryUsage != nil {
		detector.AddSample(model.MetricMemoryUsage, snap.MemoryUsage.Percentage, ts)
	}
	if snap.ComponentCount != nil {
		detector.AddSample(model.MetricComponentCount, *snap.ComponentCount, ts)
	}
}

// connectNATS dials the broker with retry and reconnect handlers
func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.AppName),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, err
}
