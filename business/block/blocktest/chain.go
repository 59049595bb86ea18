// Package blocktest scripts a chaintest.Caller as a linear chain of blocks
// with per-block timestamps.
package blocktest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/fd1az/substrate-sidecar/business/chain/chaintest"
	chaindomain "github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/pkg/scale"
)

// TimestampNowKey is the storage key of Timestamp.Now.
const TimestampNowKey = "0xf0c365c3cf59d671eb72da0e7a4113c49f1f0515f462cdcf84e0f1d6045dfcbb"

// Chain is a node whose blocks are numbered 0 through Best. Timestamp gives
// the Timestamp.Now value of each block in unix milliseconds; a nil
// Timestamp leaves the value unset.
type Chain struct {
	*chaintest.Caller

	tag       byte
	timestamp func(n uint64) uint64

	mu        sync.Mutex
	best      uint64
	finalized uint64
}

// NewChain returns a chain with blocks up to best, all of them finalized.
func NewChain(role chaindomain.Role, best uint64, timestamp func(n uint64) uint64) *Chain {
	c := &Chain{
		Caller:    chaintest.NewCaller(role),
		tag:       role[0],
		timestamp: timestamp,
		best:      best,
		finalized: best,
	}
	c.Handle("chain_getBlockHash", c.getBlockHash).
		Handle("chain_getHeader", c.getHeader).
		Handle("chain_getFinalizedHead", func([]any) (any, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.Hash(c.finalized), nil
		}).
		Handle("state_getStorage", c.getStorage).
		Returns("state_getRuntimeVersion", map[string]any{"specName": string(role), "specVersion": 1000})
	return c
}

// Hash returns the hash of block n. Hashes differ across roles.
func (c *Chain) Hash(n uint64) string {
	return fmt.Sprintf("0x%02x%062x", c.tag, n)
}

// SetHeads moves the best and finalized heads.
func (c *Chain) SetHeads(best, finalized uint64) {
	c.mu.Lock()
	c.best, c.finalized = best, finalized
	c.mu.Unlock()
}

func (c *Chain) number(hash string) (uint64, bool) {
	prefix := fmt.Sprintf("0x%02x", c.tag)
	if len(hash) != 66 || !strings.HasPrefix(hash, prefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(hash[4:], 16, 64)
	if err != nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return n, n <= c.best
}

func (c *Chain) getBlockHash(params []any) (any, error) {
	c.mu.Lock()
	best := c.best
	c.mu.Unlock()

	if len(params) == 0 {
		return c.Hash(best), nil
	}
	n, err := toUint(params[0])
	if err != nil {
		return nil, err
	}
	if n > best {
		return nil, nil
	}
	return c.Hash(n), nil
}

func (c *Chain) getHeader(params []any) (any, error) {
	var n uint64
	if len(params) == 0 {
		c.mu.Lock()
		n = c.best
		c.mu.Unlock()
	} else {
		hash, _ := params[0].(string)
		var ok bool
		if n, ok = c.number(hash); !ok {
			return nil, nil
		}
	}

	parent := c.Hash(0)
	if n > 0 {
		parent = c.Hash(n - 1)
	}
	return map[string]any{
		"parentHash": parent,
		"number":     fmt.Sprintf("0x%x", n),
		"stateRoot":  c.Hash(n),
	}, nil
}

func (c *Chain) getStorage(params []any) (any, error) {
	key, _ := params[0].(string)
	hash, _ := params[1].(string)
	n, ok := c.number(hash)
	if !ok || key != TimestampNowKey || c.timestamp == nil {
		return nil, nil
	}
	return fmt.Sprintf("0x%x", scale.NewEncoder().U64(c.timestamp(n)).Bytes()), nil
}

func toUint(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case int:
		return uint64(n), nil
	case float64:
		return uint64(n), nil
	}
	return 0, fmt.Errorf("blocktest: unexpected block number %T", v)
}
