// Package di contains dependency injection tokens for the metadata context.
package di

import (
	"github.com/fd1az/substrate-sidecar/business/metadata/app"
	"github.com/fd1az/substrate-sidecar/business/metadata/infra/store"
	"github.com/fd1az/substrate-sidecar/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Adapter = di.NewToken[*app.Adapter]("metadata.Adapter")
)

// Private dependency tokens - internal to metadata module
var (
	// Store is nil when metadata.store_path is not configured.
	Store = di.NewToken[*store.Store]("metadata:store")
)

// GetAdapter returns the metadata adapter.
func GetAdapter(c di.ServiceRegistry) *app.Adapter {
	return di.GetToken(c, Adapter)
}

// GetStore returns the raw metadata store, or nil.
func GetStore(c di.ServiceRegistry) *store.Store {
	return di.GetToken(c, Store)
}
