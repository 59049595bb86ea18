// Package app contains the chain registry and the port other contexts call nodes through.
package app

import (
	"context"

	"github.com/fd1az/substrate-sidecar/business/chain/domain"
)

// Caller issues JSON-RPC calls against one chain node.
type Caller interface {
	// Call invokes method with params and decodes the JSON result into result.
	// A nil result discards the payload.
	Call(ctx context.Context, result any, method string, params ...any) error

	// Endpoint returns the node this caller talks to.
	Endpoint() domain.Endpoint

	// State returns the current connection state.
	State() domain.ConnectionState
}

// Connector is implemented by callers that hold a connection lifecycle.
type Connector interface {
	Connect(ctx context.Context) error
	Status() domain.ConnectionStatus
	Close() error
}
