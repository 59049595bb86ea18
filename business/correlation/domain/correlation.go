// Package domain contains the result of matching an Asset Hub block to relay chain blocks.
package domain

import (
	blockdomain "github.com/fd1az/substrate-sidecar/business/block/domain"
)

// RcCorrelation lists the relay chain blocks finalized around an Asset Hub
// block's timestamp, in ascending height order. RcBlocks is empty when the
// relay chain has no block inside the window.
type RcCorrelation struct {
	AhBlock     blockdomain.BlockRef
	RcBlocks    []blockdomain.BlockRef
	AhTimestamp uint64 // unix milliseconds
}

// Empty reports whether no relay block matched.
func (c RcCorrelation) Empty() bool {
	return len(c.RcBlocks) == 0
}

// RcAt is the relay block reference attached to responses.
type RcAt struct {
	RcBlockHash   string `json:"rcBlockHash"`
	RcBlockNumber uint64 `json:"rcBlockNumber,string"`
	AhTimestamp   uint64 `json:"ahTimestamp,string"`
}

// RcAt returns one entry per matched relay block. It is never nil so an
// empty match encodes as [].
func (c RcCorrelation) RcAt() []RcAt {
	out := make([]RcAt, 0, len(c.RcBlocks))
	for _, rc := range c.RcBlocks {
		out = append(out, RcAt{
			RcBlockHash:   rc.Hash,
			RcBlockNumber: rc.Height,
			AhTimestamp:   c.AhTimestamp,
		})
	}
	return out
}
