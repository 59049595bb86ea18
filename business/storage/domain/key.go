// Package domain contains storage keys, hashers and decoded value shapes.
package domain

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"

	metadata "github.com/fd1az/substrate-sidecar/business/metadata/domain"
)

// StorageKey is a pallet/item prefix followed by the hashed map keys.
type StorageKey struct {
	PalletHash  [16]byte
	ItemHash    [16]byte
	EncodedKeys [][]byte
}

// Prefix returns the key of a plain storage value, or the iteration prefix of a map.
func Prefix(pallet, item string) StorageKey {
	var k StorageKey
	k.PalletHash = Twox128([]byte(pallet))
	k.ItemHash = Twox128([]byte(item))
	return k
}

// Append returns a copy of k extended with one hashed key.
func (k StorageKey) Append(hashed []byte) StorageKey {
	keys := make([][]byte, len(k.EncodedKeys), len(k.EncodedKeys)+1)
	copy(keys, k.EncodedKeys)
	k.EncodedKeys = append(keys, hashed)
	return k
}

// Bytes returns the full key.
func (k StorageKey) Bytes() []byte {
	n := 32
	for _, p := range k.EncodedKeys {
		n += len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, k.PalletHash[:]...)
	out = append(out, k.ItemHash[:]...)
	for _, p := range k.EncodedKeys {
		out = append(out, p...)
	}
	return out
}

// Hex returns the 0x-prefixed key.
func (k StorageKey) Hex() string {
	return hexutil.Encode(k.Bytes())
}

// Hash applies h to data.
func Hash(h metadata.Hasher, data []byte) ([]byte, error) {
	switch h {
	case metadata.Blake2_128:
		sum := blake2b128(data)
		return sum[:], nil
	case metadata.Blake2_256:
		sum := blake2b.Sum256(data)
		return sum[:], nil
	case metadata.Blake2_128Concat:
		sum := blake2b128(data)
		return append(sum[:], data...), nil
	case metadata.Twox128:
		sum := Twox128(data)
		return sum[:], nil
	case metadata.Twox256:
		return twox(data, 4), nil
	case metadata.Twox64Concat:
		return append(twox(data, 1), data...), nil
	case metadata.Identity:
		return append([]byte(nil), data...), nil
	}
	return nil, fmt.Errorf("unknown hasher %q", h)
}

// Twox128 is the 128-bit xxHash64 double hash used for storage prefixes.
func Twox128(data []byte) [16]byte {
	var out [16]byte
	copy(out[:], twox(data, 2))
	return out
}

// twox concatenates xxHash64 digests seeded 0..n-1, each little-endian.
func twox(data []byte, n int) []byte {
	out := make([]byte, 8*n)
	for seed := 0; seed < n; seed++ {
		d := xxhash.NewWithSeed(uint64(seed))
		d.Write(data)
		binary.LittleEndian.PutUint64(out[8*seed:], d.Sum64())
	}
	return out
}

func blake2b128(data []byte) [16]byte {
	var out [16]byte
	h, _ := blake2b.New(16, nil)
	h.Write(data)
	copy(out[:], h.Sum(nil))
	return out
}
