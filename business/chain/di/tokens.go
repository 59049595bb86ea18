// Package di contains dependency injection tokens for the chain context.
package di

import (
	"github.com/fd1az/substrate-sidecar/business/chain/app"
	"github.com/fd1az/substrate-sidecar/business/chain/infra/rpc"
	"github.com/fd1az/substrate-sidecar/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Registry = di.NewToken[*app.Registry]("chain.Registry")
)

// Private dependency tokens - internal to chain module
var (
	Managers = di.NewToken[[]*rpc.Manager]("chain:managers")
)

// GetRegistry returns the chain registry.
func GetRegistry(c di.ServiceRegistry) *app.Registry {
	return di.GetToken(c, Registry)
}

// GetManagers returns one connection manager per configured endpoint, primary first.
func GetManagers(c di.ServiceRegistry) []*rpc.Manager {
	return di.GetToken(c, Managers)
}
