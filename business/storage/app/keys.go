package app

import (
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	metadata "github.com/fd1az/substrate-sidecar/business/metadata/domain"
	"github.com/fd1az/substrate-sidecar/business/storage/domain"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/pkg/scale"
	"github.com/fd1az/substrate-sidecar/pkg/ss58"
)

// ResolvedKey is a storage key together with the metadata it was built from.
type ResolvedKey struct {
	Key    domain.StorageKey
	Pallet *metadata.PalletInfo
	Entry  *metadata.StorageEntry
}

// Complete reports whether every map key was supplied.
func (r ResolvedKey) Complete() bool {
	return len(r.Key.EncodedKeys) == len(r.Entry.Hashers)
}

// KeyCodec derives storage keys. Prefix hashes are cached per (prefix, item).
type KeyCodec struct {
	prefixes sync.Map // string -> domain.StorageKey
}

// NewKeyCodec returns an empty codec.
func NewKeyCodec() *KeyCodec {
	return &KeyCodec{}
}

// KeyFor builds the key of pallet.item with mapKeys encoded and hashed in
// order. Fewer keys than the item declares yield an iteration prefix.
func (c *KeyCodec) KeyFor(snap *metadata.Snapshot, pallet, item string, mapKeys []string) (ResolvedKey, error) {
	p, err := snap.Pallet(pallet)
	if err != nil {
		return ResolvedKey{}, err
	}
	entry, err := p.StorageItem(item)
	if err != nil {
		return ResolvedKey{}, err
	}
	if len(mapKeys) > len(entry.Hashers) {
		return ResolvedKey{}, apperror.New(apperror.CodeInvalidStorageKey,
			apperror.WithContextf("%s.%s takes %d keys, got %d", p.Name, entry.Name, len(entry.Hashers), len(mapKeys)))
	}

	key := c.prefix(p, entry)
	for i, raw := range mapKeys {
		encoded, err := EncodeKey(snap.Types, entry.Keys[i], raw)
		if err != nil {
			return ResolvedKey{}, apperror.New(apperror.CodeInvalidStorageKey,
				apperror.WithCause(err),
				apperror.WithContextf("%s.%s key #%d %q", p.Name, entry.Name, i, raw))
		}
		hashed, err := domain.Hash(entry.Hashers[i], encoded)
		if err != nil {
			return ResolvedKey{}, apperror.New(apperror.CodeInvalidStorageKey,
				apperror.WithCause(err),
				apperror.WithContextf("%s.%s key #%d", p.Name, entry.Name, i))
		}
		key = key.Append(hashed)
	}

	return ResolvedKey{Key: key, Pallet: p, Entry: entry}, nil
}

func (c *KeyCodec) prefix(p *metadata.PalletInfo, entry *metadata.StorageEntry) domain.StorageKey {
	name := p.Prefix
	if name == "" {
		name = p.Name
	}
	cacheKey := name + "\x00" + entry.Name
	if k, ok := c.prefixes.Load(cacheKey); ok {
		return k.(domain.StorageKey)
	}
	k := domain.Prefix(name, entry.Name)
	c.prefixes.Store(cacheKey, k)
	return k
}

// EncodeKey SCALE-encodes a map key given as a string: decimal or 0x hex
// integers, true/false, 0x hex or SS58 for account ids and byte strings,
// unit variant names for enums.
func EncodeKey(types *metadata.Registry, id metadata.TypeID, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for depth := 0; depth < maxDepth; depth++ {
		t, ok := types.Lookup(id)
		if !ok {
			return nil, unknownType(id, "not in registry")
		}

		switch t.Kind {
		case metadata.KindComposite:
			if t.IsAccountID32() {
				return accountID(s)
			}
			if len(t.Fields) != 1 {
				return nil, keyError("composite key %s is not supported", t.PathString())
			}
			id = t.Fields[0].Type
			continue

		case metadata.KindPrimitive:
			return primitiveKey(t.Prim, s)

		case metadata.KindCompact:
			n, err := parseInteger(s, 0, false)
			if err != nil {
				return nil, err
			}
			return scale.NewEncoder().CompactBig(n).Bytes(), nil

		case metadata.KindArray, metadata.KindSequence:
			if !isBytes(types, t.Elem) {
				return nil, keyError("%s of type %d keys are not supported", t.Kind, t.Elem)
			}
			b, err := hexutil.Decode(s)
			if err != nil {
				return nil, keyError("expected 0x hex bytes")
			}
			if t.Kind == metadata.KindArray {
				if len(b) != int(t.Len) {
					return nil, keyError("expected %d bytes, got %d", t.Len, len(b))
				}
				return b, nil
			}
			return scale.NewEncoder().Vec(b).Bytes(), nil

		case metadata.KindVariant:
			return variantKey(t, s)
		}
		return nil, keyError("%s keys are not supported", t.Kind)
	}
	return nil, keyError("key type %d nested too deep", id)
}

func keyError(format string, args ...any) error {
	return apperror.New(apperror.CodeInvalidStorageKey, apperror.WithContextf(format, args...))
}

func isBytes(types *metadata.Registry, id metadata.TypeID) bool {
	t, ok := types.Lookup(id)
	return ok && t.Kind == metadata.KindPrimitive && t.Prim == metadata.PrimU8
}

func accountID(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		b, err := hexutil.Decode(s)
		if err != nil || len(b) != 32 {
			return nil, keyError("expected 32-byte hex account id")
		}
		return b, nil
	}
	b, _, err := ss58.Decode(s)
	if err != nil {
		return nil, keyError("invalid SS58 address: %v", err)
	}
	if len(b) != 32 {
		return nil, keyError("address payload is %d bytes, want 32", len(b))
	}
	return b, nil
}

func primitiveKey(p metadata.Primitive, s string) ([]byte, error) {
	switch p {
	case metadata.PrimBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, keyError("expected true or false")
		}
		return scale.NewEncoder().Bool(b).Bytes(), nil
	case metadata.PrimStr:
		return scale.NewEncoder().String(s).Bytes(), nil
	case metadata.PrimChar:
		r := []rune(s)
		if len(r) != 1 {
			return nil, keyError("expected a single character")
		}
		return scale.NewEncoder().U32(uint32(r[0])).Bytes(), nil
	}

	size := p.Size()
	if size == 0 {
		return nil, keyError("unsupported primitive %s", p)
	}
	n, err := parseInteger(s, size, p.Signed())
	if err != nil {
		return nil, err
	}
	if p.Signed() {
		return scale.NewEncoder().Int(n, size).Bytes(), nil
	}
	return scale.NewEncoder().Uint(n, size).Bytes(), nil
}

// parseInteger parses a decimal or 0x hex integer and checks it fits size
// bytes. A size of 0 only rejects negatives.
func parseInteger(s string, size int, signed bool) (*big.Int, error) {
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") {
		_, ok = n.SetString(s[2:], 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok {
		return nil, keyError("expected an integer")
	}

	if !signed {
		if n.Sign() < 0 || (size > 0 && n.BitLen() > 8*size) {
			return nil, keyError("%s out of range for u%d", s, 8*size)
		}
		return n, nil
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(8*size-1))
	lowest := new(big.Int).Neg(limit)
	if n.Cmp(lowest) < 0 || n.Cmp(limit) >= 0 {
		return nil, keyError("%s out of range for i%d", s, 8*size)
	}
	return n, nil
}

func variantKey(t *metadata.Type, s string) ([]byte, error) {
	for _, v := range t.Variants {
		if !strings.EqualFold(v.Name, s) {
			continue
		}
		if len(v.Fields) > 0 {
			return nil, keyError("variant %s carries data and cannot be given as a name", v.Name)
		}
		return []byte{v.Index}, nil
	}
	return nil, keyError("%q is not a variant of %s", s, t.PathString())
}
