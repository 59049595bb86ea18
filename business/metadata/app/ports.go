// Package app serves decoded runtime metadata snapshots per chain and runtime version.
package app

import (
	"context"

	chainapp "github.com/fd1az/substrate-sidecar/business/chain/app"
	chaindomain "github.com/fd1az/substrate-sidecar/business/chain/domain"
)

// Callers resolves the node caller for a chain role.
type Callers interface {
	MustGet(role chaindomain.Role) (chainapp.Caller, error)
}

// RawStore persists raw metadata blobs across restarts.
type RawStore interface {
	Get(ctx context.Context, endpoint string, specVersion uint32) ([]byte, bool, error)
	Put(ctx context.Context, endpoint string, specVersion uint32, raw []byte) error
	Versions(endpoint string) ([]uint32, error)
}
