// Package app derives storage keys, reads storage and constants from nodes and
// decodes them into JSON-ready values.
package app

import (
	"context"

	blockdomain "github.com/fd1az/substrate-sidecar/business/block/domain"
	chainapp "github.com/fd1az/substrate-sidecar/business/chain/app"
	chaindomain "github.com/fd1az/substrate-sidecar/business/chain/domain"
	metadata "github.com/fd1az/substrate-sidecar/business/metadata/domain"
)

// Callers resolves the node caller for a chain role.
type Callers interface {
	MustGet(role chaindomain.Role) (chainapp.Caller, error)
}

// BlockResolver turns a block identifier into a resolved block.
type BlockResolver interface {
	Resolve(ctx context.Context, role chaindomain.Role, at blockdomain.At) (blockdomain.BlockRef, error)
}

// Snapshots returns the metadata in force at a block.
type Snapshots interface {
	Snapshot(ctx context.Context, role chaindomain.Role, at blockdomain.BlockRef) (*metadata.Snapshot, error)
}
