// Package domain contains block identifiers and resolved block references.
package domain

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/fd1az/substrate-sidecar/internal/apperror"
)

// AtKind says how a block is addressed.
type AtKind uint8

const (
	AtHead AtKind = iota
	AtHeight
	AtHash
)

// At is an unresolved block identifier.
type At struct {
	Kind   AtKind
	Height uint64
	Hash   string // lowercase 0x-prefixed, set for AtHash
}

// Head addresses the chain head.
func Head() At { return At{Kind: AtHead} }

// Height addresses a block by number.
func Height(n uint64) At { return At{Kind: AtHeight, Height: n} }

// Hash addresses a block by hash. The hash is expected in canonical form, see ParseAt.
func Hash(h string) At { return At{Kind: AtHash, Hash: strings.ToLower(h)} }

// ParseAt parses "head", a decimal height or a 0x-prefixed 32-byte hash.
// An empty string means head.
func ParseAt(s string) (At, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "head"):
		return Head(), nil

	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		body := s[2:]
		if len(body) != 64 {
			return At{}, invalidAt(s, "hash must be 32 bytes")
		}
		if _, err := hex.DecodeString(body); err != nil {
			return At{}, invalidAt(s, "hash is not hex")
		}
		return Hash("0x" + body), nil

	default:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return At{}, invalidAt(s, "expected head, a block height or a block hash")
		}
		return Height(n), nil
	}
}

func invalidAt(s, reason string) error {
	return apperror.New(apperror.CodeInvalidBlockID,
		apperror.WithContextf("%q: %s", s, reason))
}

func (a At) String() string {
	switch a.Kind {
	case AtHeight:
		return strconv.FormatUint(a.Height, 10)
	case AtHash:
		return a.Hash
	default:
		return "head"
	}
}

// BlockRef is a resolved block. Values are immutable; WithTimestamp returns a copy.
type BlockRef struct {
	Hash      string    `json:"hash"`
	Height    uint64    `json:"height,string"`
	Timestamp time.Time `json:"-"`
}

// HasTimestamp reports whether the Timestamp pallet value was fetched.
func (b BlockRef) HasTimestamp() bool {
	return !b.Timestamp.IsZero()
}

// TimestampMillis is the block timestamp in unix milliseconds.
func (b BlockRef) TimestampMillis() uint64 {
	return uint64(b.Timestamp.UnixMilli())
}

// WithTimestamp returns a copy of b carrying ms as its timestamp.
func (b BlockRef) WithTimestamp(ms uint64) BlockRef {
	b.Timestamp = time.UnixMilli(int64(ms)).UTC()
	return b
}

func (b BlockRef) String() string {
	return "#" + strconv.FormatUint(b.Height, 10) + " " + b.Hash
}

// Header is the subset of a node header the resolver reads.
type Header struct {
	ParentHash string `json:"parentHash"`
	Number     string `json:"number"` // 0x-prefixed hex
	StateRoot  string `json:"stateRoot"`
}

// Height parses the hex block number.
func (h Header) Height() (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(h.Number, "0x"), "0X")
	if s == "" {
		return 0, apperror.New(apperror.CodeRPCError,
			apperror.WithContextf("header number %q", h.Number))
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, apperror.New(apperror.CodeRPCError,
			apperror.WithCause(err),
			apperror.WithContextf("header number %q", h.Number))
	}
	return n, nil
}
