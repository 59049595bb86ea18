// Package di contains dependency injection tokens for the block context.
package di

import (
	"github.com/fd1az/substrate-sidecar/business/block/app"
	"github.com/fd1az/substrate-sidecar/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Resolver = di.NewToken[*app.Resolver]("block.Resolver")
)

// GetResolver returns the block resolver.
func GetResolver(c di.ServiceRegistry) *app.Resolver {
	return di.GetToken(c, Resolver)
}
