// Package metadata implements the metadata bounded context: fetching, decoding
// and caching runtime metadata per chain and spec version.
package metadata

import (
	"context"

	chainDI "github.com/fd1az/substrate-sidecar/business/chain/di"
	"github.com/fd1az/substrate-sidecar/business/metadata/app"
	metadataDI "github.com/fd1az/substrate-sidecar/business/metadata/di"
	"github.com/fd1az/substrate-sidecar/business/metadata/infra/store"
	"github.com/fd1az/substrate-sidecar/internal/config"
	"github.com/fd1az/substrate-sidecar/internal/di"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/internal/monolith"
)

// Module implements the metadata bounded context.
type Module struct{}

// RegisterServices registers all metadata services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register raw metadata store (private - optional)
	di.RegisterToken(c, metadataDI.Store, func(sr di.ServiceRegistry) *store.Store {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		if cfg.Metadata.StorePath == "" {
			return nil
		}
		st, err := store.Open(cfg.Metadata.StorePath, log)
		if err != nil {
			panic("failed to open metadata store: " + err.Error())
		}
		return st
	})

	// Register Adapter (public - exposed to other modules)
	di.RegisterToken(c, metadataDI.Adapter, func(sr di.ServiceRegistry) *app.Adapter {
		log := sr.Get("logger").(logger.LoggerInterface)
		registry := chainDI.GetRegistry(sr)

		var raw app.RawStore
		if st := metadataDI.GetStore(sr); st != nil {
			raw = st
		}

		adapter, err := app.NewAdapter(registry, raw, log)
		if err != nil {
			panic("failed to create metadata adapter: " + err.Error())
		}
		return adapter
	})

	return nil
}

// Startup resolves the adapter, registers the store for shutdown and logs
// the spec versions already persisted per chain.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	services := mono.Services()
	adapter := metadataDI.GetAdapter(services)

	if st := metadataDI.GetStore(services); st != nil {
		mono.OnClose("metadata.store", st.Close)
		mono.Logger().Info(ctx, "metadata store opened", "path", mono.Config().Metadata.StorePath)

		for _, role := range chainDI.GetRegistry(services).Roles() {
			versions, err := adapter.StoredVersions(role)
			if err != nil {
				mono.Logger().Warn(ctx, "metadata store unreadable", "chain", role, "error", err)
				continue
			}
			mono.Logger().Info(ctx, "stored metadata", "chain", role, "spec_versions", versions)
		}
	}

	mono.Logger().Info(ctx, "metadata module started")
	return nil
}
