// Package chain implements the chain bounded context: node connections and the chain registry.
package chain

import (
	"context"
	"fmt"

	"github.com/fd1az/substrate-sidecar/business/chain/app"
	chainDI "github.com/fd1az/substrate-sidecar/business/chain/di"
	"github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/business/chain/infra/rpc"
	"github.com/fd1az/substrate-sidecar/internal/config"
	"github.com/fd1az/substrate-sidecar/internal/di"
	"github.com/fd1az/substrate-sidecar/internal/health"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/internal/monolith"
)

// Module implements the chain bounded context.
type Module struct{}

// RegisterServices registers all chain services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register connection managers (private - one per endpoint)
	di.RegisterToken(c, chainDI.Managers, func(sr di.ServiceRegistry) []*rpc.Manager {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		managers, err := NewManagers(cfg.Substrate, log)
		if err != nil {
			panic("failed to create chain connections: " + err.Error())
		}
		return managers
	})

	// Register Registry (public - exposed to other modules)
	di.RegisterToken(c, chainDI.Registry, func(sr di.ServiceRegistry) *app.Registry {
		managers := chainDI.GetManagers(sr)

		extras := make(map[domain.Role]app.Caller, len(managers)-1)
		for _, mgr := range managers[1:] {
			extras[mgr.Endpoint().Role] = mgr
		}
		reg, err := app.NewRegistry(managers[0], extras)
		if err != nil {
			panic("failed to create chain registry: " + err.Error())
		}
		return reg
	})

	return nil
}

// Startup connects every endpoint. A failed initial connect is logged and
// left to the background reconnect loop.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	managers := chainDI.GetManagers(mono.Services())

	for _, mgr := range managers {
		mgr := mgr
		role := mgr.Endpoint().Role

		if err := mgr.Connect(ctx); err != nil {
			log.Error(ctx, "failed to connect chain", "chain", role, "error", err)
		}

		opts := []health.CheckOption{}
		if role == domain.RolePrimary {
			opts = append(opts, health.Critical())
		}
		mono.Health().RegisterCheck("chain."+string(role), connectionCheck(mgr), opts...)
		mono.OnClose("chain."+string(role), mgr.Close)
	}

	log.Info(ctx, "chain module started", "chains", len(managers))
	return nil
}

// NewManagers builds a manager per configured endpoint, primary first.
func NewManagers(cfg config.SubstrateConfig, log logger.LoggerInterface) ([]*rpc.Manager, error) {
	entries := make([]domain.MultiChainEntry, 0, len(cfg.MultiChain))
	for _, mc := range cfg.MultiChain {
		entries = append(entries, domain.MultiChainEntry{URL: mc.URL, Type: mc.Type})
	}

	endpoints, err := app.ParseEndpoints(cfg.URL, entries)
	if err != nil {
		return nil, err
	}

	rpcCfg := rpc.DefaultConfig()
	rpcCfg.InitialDelay = cfg.InitialDelay()
	rpcCfg.MaxDelay = cfg.MaxDelay()
	rpcCfg.RequestTimeout = cfg.Timeout()
	rpcCfg.MaxReconnects = cfg.MaxReconnects
	rpcCfg.RequestsPerSecond = cfg.RequestsPerSecond

	managers := make([]*rpc.Manager, 0, len(endpoints))
	for _, ep := range endpoints {
		mgr, err := rpc.NewManager(ep, rpcCfg, log)
		if err != nil {
			for _, prev := range managers {
				prev.Close()
			}
			return nil, fmt.Errorf("chain %s: %w", ep.Role, err)
		}
		managers = append(managers, mgr)
	}
	return managers, nil
}

func connectionCheck(c app.Connector) health.CheckFunc {
	return func(context.Context) (bool, string) {
		st := c.Status()
		msg := string(st.State)
		if st.LastError != "" && st.State != domain.StateConnected {
			msg += ": " + st.LastError
		}
		return st.State == domain.StateConnected, msg
	}
}
