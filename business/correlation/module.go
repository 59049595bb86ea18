// Package correlation implements the correlation bounded context: matching
// Asset Hub blocks to relay chain blocks.
package correlation

import (
	"context"

	blockDI "github.com/fd1az/substrate-sidecar/business/block/di"
	chainDI "github.com/fd1az/substrate-sidecar/business/chain/di"
	"github.com/fd1az/substrate-sidecar/business/correlation/app"
	correlationDI "github.com/fd1az/substrate-sidecar/business/correlation/di"
	"github.com/fd1az/substrate-sidecar/internal/config"
	"github.com/fd1az/substrate-sidecar/internal/di"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/internal/monolith"
)

// Module implements the correlation bounded context.
type Module struct{}

// RegisterServices registers all correlation services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register Correlator (public - exposed to other modules)
	di.RegisterToken(c, correlationDI.Correlator, func(sr di.ServiceRegistry) *app.Correlator {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		correlator, err := app.NewCorrelator(chainDI.GetRegistry(sr), blockDI.GetResolver(sr), app.Options{
			Window:         cfg.Correlation.Window,
			RelayBlockTime: cfg.Correlation.RelayBlockTime,
			MaxForwardScan: cfg.Correlation.MaxForwardScan,
		}, log)
		if err != nil {
			panic("failed to create correlator: " + err.Error())
		}
		return correlator
	})

	return nil
}

// Startup resolves the correlator. Without a relay chain it stays available
// and answers every request with RELAY_CHAIN_NOT_CONFIGURED.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	services := mono.Services()
	_ = correlationDI.GetCorrelator(services)

	registry := chainDI.GetRegistry(services)
	cfg := mono.Config().Correlation
	mono.Logger().Info(ctx, "correlation module started",
		"relay", registry.HasRelay(),
		"asset_hub", registry.AssetHubRole(),
		"window", cfg.Window.String(),
		"max_forward_scan", cfg.MaxForwardScan)
	return nil
}
