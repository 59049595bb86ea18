// Package storage implements the storage bounded context: storage keys,
// storage reads, constants and value decoding.
package storage

import (
	"context"

	blockDI "github.com/fd1az/substrate-sidecar/business/block/di"
	chainDI "github.com/fd1az/substrate-sidecar/business/chain/di"
	metadataDI "github.com/fd1az/substrate-sidecar/business/metadata/di"
	"github.com/fd1az/substrate-sidecar/business/storage/app"
	storageDI "github.com/fd1az/substrate-sidecar/business/storage/di"
	"github.com/fd1az/substrate-sidecar/internal/config"
	"github.com/fd1az/substrate-sidecar/internal/di"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/internal/monolith"
)

// Module implements the storage bounded context.
type Module struct{}

// RegisterServices registers all storage services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register value decoder (private)
	di.RegisterToken(c, storageDI.Decoder, func(sr di.ServiceRegistry) *app.Decoder {
		cfg := sr.Get("config").(*config.Config)
		return app.NewDecoder(cfg.Decode.SS58Prefix)
	})

	// Register Service (public - exposed to other modules)
	di.RegisterToken(c, storageDI.Service, func(sr di.ServiceRegistry) *app.Service {
		log := sr.Get("logger").(logger.LoggerInterface)

		return app.NewService(
			chainDI.GetRegistry(sr),
			blockDI.GetResolver(sr),
			metadataDI.GetAdapter(sr),
			storageDI.GetDecoder(sr),
			log,
		)
	})

	return nil
}

// Startup resolves the storage service.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	_ = storageDI.GetService(mono.Services())

	mono.Logger().Info(ctx, "storage module started", "ss58_prefix", mono.Config().Decode.SS58Prefix)
	return nil
}
