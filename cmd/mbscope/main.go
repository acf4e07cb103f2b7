package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/mbscope/internal/acquisition"
	"codeberg.org/mutker/mbscope/internal/api"
	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/config"
	"codeberg.org/mutker/mbscope/internal/device"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/history"
	"codeberg.org/mutker/mbscope/internal/logger"
	"codeberg.org/mutker/mbscope/internal/metrics"
	"codeberg.org/mutker/mbscope/internal/pid"
	"codeberg.org/mutker/mbscope/internal/store"
	"codeberg.org/mutker/mbscope/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx, cfg); err != nil {
		if appErr, ok := err.(errors.Error); ok {
			logger.ErrorWithCode(appErr).Msg("Exiting with error")
		} else {
			logger.Error().Err(err).Msg("Exiting with error")
		}
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Default()

	errFactory := errors.New()

	pidFile := pid.New(cfg.PIDFile)
	if err := pidFile.Acquire(); err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	db, err := store.Open(ctx, store.Config{
		DBPath:          cfg.Storage.DBPath,
		BackupOnMigrate: cfg.Storage.BackupOnMigrate,
		BackupDir:       cfg.Storage.EffectiveBackupDir(),
	}, log)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	registry := channel.NewRegistry(
		channel.WithStore(db),
		channel.WithBufferSize(cfg.Acquisition.BufferSize),
		channel.WithLogger(log),
	)
	if err := registry.Load(ctx); err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	if cfg.Acquisition.ImportFile != "" {
		res, err := registry.ImportFile(ctx, cfg.Acquisition.ImportFile)
		if err != nil {
			return errFactory.Wrap(errors.ErrInitApp, err)
		}
		log.Info().
			Str("file", cfg.Acquisition.ImportFile).
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Msg("Channel file imported")
	}
	for _, name := range cfg.Acquisition.Channels {
		if _, err := registry.Activate(name); err != nil {
			log.Warn().Str("channel", name).Err(err).Msg("Cannot activate configured channel")
		}
	}

	client, err := device.NewModbus(device.Config{
		Transport:  string(cfg.Device.Transport),
		Address:    cfg.Device.Address,
		SerialPort: cfg.Device.SerialPort,
		BaudRate:   cfg.Device.BaudRate,
		DataBits:   cfg.Device.DataBits,
		Parity:     cfg.Device.Parity,
		StopBits:   cfg.Device.StopBits,
		Timeout:    cfg.Device.Timeout,
	}, log)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer client.Close()

	recorder, err := metrics.NewService(metrics.Config{
		Enabled:   cfg.IsMetricsEnabled(),
		Namespace: cfg.Metrics.Namespace,
	}, prometheus.DefaultRegisterer)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	publisher, err := telemetry.NewService(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Addr:     cfg.Telemetry.RedisAddr,
		Password: cfg.Telemetry.RedisPassword,
		DB:       cfg.Telemetry.RedisDB,
		Stream:   cfg.Telemetry.Stream,
		MaxLen:   cfg.Telemetry.MaxLen,
	})
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer publisher.Close()

	engine := acquisition.New(registry, client, db,
		acquisition.WithLogger(log),
		acquisition.WithMetrics(recorder),
		acquisition.WithPublisher(publisher),
		acquisition.WithMaxConcurrentReads(cfg.Acquisition.MaxConcurrentReads),
		acquisition.WithTickDeadline(cfg.Acquisition.EffectiveTickDeadline()),
		acquisition.WithDisplayWindow(cfg.Acquisition.DisplayWindow),
		acquisition.WithPersistence(cfg.Persistence.Enabled, cfg.Persistence.Interval),
	)
	defer func() {
		if engine.State() == acquisition.StateRunning {
			_ = engine.Stop()
		}
	}()

	if cfg.Acquisition.Autostart {
		if err := engine.Start(cfg.Acquisition.Interval); err != nil {
			log.Warn().Err(err).Msg("Autostart skipped")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		deps := api.Deps{
			Registry: registry,
			Engine:   engine,
			History:  history.New(db, registry, log),
		}
		if cfg.IsMetricsEnabled() {
			deps.Gatherer = prometheus.DefaultGatherer
		}
		srv := api.New(cfg.API.Listen, deps, log)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	} else {
		// Headless: the process lives as long as the acquisition run.
		done := engine.Done()
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-done:
				return engine.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
