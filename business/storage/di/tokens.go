// Package di contains dependency injection tokens for the storage context.
package di

import (
	"github.com/fd1az/substrate-sidecar/business/storage/app"
	"github.com/fd1az/substrate-sidecar/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Service = di.NewToken[*app.Service]("storage.Service")
)

// Private dependency tokens - internal to storage module
var (
	Decoder = di.NewToken[*app.Decoder]("storage:decoder")
)

// GetService returns the storage service.
func GetService(c di.ServiceRegistry) *app.Service {
	return di.GetToken(c, Service)
}

// GetDecoder returns the value decoder.
func GetDecoder(c di.ServiceRegistry) *app.Decoder {
	return di.GetToken(c, Decoder)
}
