// Package block implements the block bounded context: resolving heights,
// hashes and head to concrete blocks per chain.
package block

import (
	"context"

	"github.com/fd1az/substrate-sidecar/business/block/app"
	blockDI "github.com/fd1az/substrate-sidecar/business/block/di"
	chainDI "github.com/fd1az/substrate-sidecar/business/chain/di"
	"github.com/fd1az/substrate-sidecar/internal/config"
	"github.com/fd1az/substrate-sidecar/internal/di"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/internal/monolith"
)

// Module implements the block bounded context.
type Module struct{}

// RegisterServices registers all block services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register Resolver (public - exposed to other modules)
	di.RegisterToken(c, blockDI.Resolver, func(sr di.ServiceRegistry) *app.Resolver {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		resolver, err := app.NewResolver(chainDI.GetRegistry(sr), app.Options{
			FetchConcurrency: cfg.Block.FetchConcurrency,
			CacheSize:        cfg.Block.CacheSize,
			CacheTTL:         cfg.Block.CacheTTL,
			HeadMode:         cfg.Block.HeadMode,
		}, log)
		if err != nil {
			panic("failed to create block resolver: " + err.Error())
		}
		return resolver
	})

	return nil
}

// Startup resolves the block resolver.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	resolver := blockDI.GetResolver(mono.Services())
	mono.OnClose("block.resolver", resolver.Close)

	cfg := mono.Config().Block
	mono.Logger().Info(ctx, "block module started",
		"head_mode", cfg.HeadMode,
		"fetch_concurrency", cfg.FetchConcurrency,
		"cache_size", cfg.CacheSize)
	return nil
}
