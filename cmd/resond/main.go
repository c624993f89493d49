package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resonlabs/reson-core/internal/bus"
	"github.com/resonlabs/reson-core/internal/capability"
	"github.com/resonlabs/reson-core/internal/config"
	"github.com/resonlabs/reson-core/internal/enhance"
	"github.com/resonlabs/reson-core/internal/features"
	"github.com/resonlabs/reson-core/internal/httpapi"
	"github.com/resonlabs/reson-core/internal/ingest"
	"github.com/resonlabs/reson-core/internal/natsserver"
	"github.com/resonlabs/reson-core/internal/runtime"
	"github.com/resonlabs/reson-core/internal/scorestore"
	"github.com/resonlabs/reson-core/internal/stream"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "reson.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		bootstrapLogger().Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enhancer, err := enhance.New(cfg.Pipeline.Enhancer)
	if err != nil {
		logger.Error("failed to build enhancer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := scorestore.Open(ctx, cfg.ScoreStore, logger)
	if err != nil {
		logger.Error("failed to open score store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	// Every smoothed score emitted by any stream is sampled into the
	// history store.
	recorder := stream.ScoreFunc(func(streamID string, score int, _ *features.FeatureSet, at time.Time) {
		rec := scorestore.Record{StreamID: streamID, Score: score, Phase: cfg.Confidence.Phase, Created: at.UTC()}
		if err := store.Append(context.Background(), rec); err != nil {
			logger.Warn("failed to persist score", slog.String("stream_id", streamID), slog.String("error", err.Error()))
		}
	})

	registry := stream.NewRegistry(ctx, cfg, enhancer, recorder, logger)
	defer registry.Shutdown()

	if cfg.Bus.Enabled {
		embedded, err := natsserver.Start(cfg.Bus, logger)
		if err != nil {
			logger.Error("failed to start embedded bus", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer embedded.Shutdown()

		busCfg := cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{fmt.Sprintf("nats://localhost:%d", cfg.Bus.Port)}
		}
		busClient, err := bus.Connect(ctx, busCfg, logger)
		if err != nil {
			logger.Error("failed to connect to bus", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer busClient.Close()

		enhancerReady := enhancer != nil && enhancer.Ready()
		caps, err := capability.NewRegistry(ctx, cfg.Node, capability.FromConfig(cfg, enhancerReady), busClient, logger)
		if err != nil {
			logger.Error("failed to start capability registry", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer caps.Close()

		ingestSvc := ingest.NewService(ctx, cfg.Confidence, busClient, registry)
		if err := ingestSvc.Start(); err != nil {
			logger.Error("failed to start ingest service", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer ingestSvc.Close()
	}

	api := httpapi.New(cfg, registry, store, logger)
	rt := runtime.New(cfg, logger, api.Handler())

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func bootstrapLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
