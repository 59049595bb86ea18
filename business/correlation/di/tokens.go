// Package di contains dependency injection tokens for the correlation context.
package di

import (
	"github.com/fd1az/substrate-sidecar/business/correlation/app"
	"github.com/fd1az/substrate-sidecar/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Correlator = di.NewToken[*app.Correlator]("correlation.Correlator")
)

// GetCorrelator returns the relay chain correlator.
func GetCorrelator(c di.ServiceRegistry) *app.Correlator {
	return di.GetToken(c, Correlator)
}
