// Package main runs the Substrate sidecar core: chain connections, block
// resolution, runtime metadata, storage decoding and relay correlation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fd1az/substrate-sidecar/business/block"
	"github.com/fd1az/substrate-sidecar/business/chain"
	"github.com/fd1az/substrate-sidecar/business/correlation"
	"github.com/fd1az/substrate-sidecar/business/metadata"
	"github.com/fd1az/substrate-sidecar/business/storage"
	"github.com/fd1az/substrate-sidecar/internal/apm"
	"github.com/fd1az/substrate-sidecar/internal/config"
	"github.com/fd1az/substrate-sidecar/internal/health"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/internal/metrics"
	"github.com/fd1az/substrate-sidecar/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("substrate-sidecar %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, map[string]any{
		"version": version,
	})
	defer log.Sync()

	log.Info(ctx, "starting substrate sidecar",
		"environment", cfg.App.Environment,
		"url", cfg.Substrate.URL,
		"extra_chains", len(cfg.Substrate.MultiChain),
	)

	if cfg.Telemetry.Enabled {
		shutdown, err := startTelemetry(ctx, cfg.Telemetry, log)
		if err != nil {
			return fmt.Errorf("failed to start telemetry: %w", err)
		}
		defer shutdown()
	}

	hs := health.NewServer(cfg.Health.Port, version, log)
	if err := hs.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", cfg.Health.Port)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = hs.Stop(stopCtx)
	}()

	mono := monolith.New(cfg, log, hs)
	defer func() {
		if err := mono.Close(); err != nil {
			log.Error(context.Background(), "shutdown finished with errors", "error", err)
		}
	}()

	// Dependency order: chains, then blocks, then metadata and storage on
	// top of both, then correlation.
	modules := []monolith.Module{
		&chain.Module{},
		&block.Module{},
		&metadata.Module{},
		&storage.Module{},
		&correlation.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	log.Info(ctx, "all modules started")
	<-ctx.Done()
	log.Info(context.Background(), "shutting down")
	return nil
}

// startTelemetry installs tracing and metrics and returns their shutdown.
func startTelemetry(ctx context.Context, cfg config.TelemetryConfig, log logger.LoggerInterface) (func(), error) {
	headers, err := apm.ParseHeaders(cfg.OTLPHeaders)
	if err != nil {
		return nil, err
	}

	tp, err := apm.NewTraceProvider(ctx, apm.Options{
		Exporter:    apm.Exporter(cfg.TraceExporter),
		ServiceName: cfg.ServiceName,
		Version:     version,
		Endpoint:    cfg.OTLPEndpoint,
		Headers:     headers,
	}, log)
	if err != nil {
		return nil, err
	}

	mp, err := metrics.NewProvider(ctx, metrics.Options{
		ServiceName:  cfg.ServiceName,
		Prometheus:   cfg.PrometheusPort > 0,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Headers:      headers,
	})
	if err != nil {
		_ = tp.Stop()
		return nil, err
	}

	var ms *metrics.Server
	if cfg.PrometheusPort > 0 {
		ms = metrics.NewServer(cfg.PrometheusPort, mp, log)
		if err := ms.Start(); err != nil {
			log.Warn(ctx, "failed to start metrics server", "error", err)
		}
	}

	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if ms != nil {
			_ = ms.Stop(stopCtx)
		}
		if err := mp.Stop(); err != nil {
			log.Warn(stopCtx, "stopping meter provider", "error", err)
		}
		if err := tp.Stop(); err != nil {
			log.Warn(stopCtx, "stopping trace provider", "error", err)
		}
	}, nil
}
