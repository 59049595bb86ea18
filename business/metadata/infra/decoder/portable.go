package decoder

import (
	"fmt"

	"github.com/fd1az/substrate-sidecar/business/metadata/domain"
	"github.com/fd1az/substrate-sidecar/pkg/scale"
)

// decodePortable reads V14, V15 and V16: a portable type registry followed by pallets.
func decodePortable(d *scale.Decoder, version uint8) (*domain.Snapshot, error) {
	reg, err := decodeRegistry(d)
	if err != nil {
		return nil, decodeError(err, "V%d type registry", version)
	}

	n, err := d.Len()
	if err != nil {
		return nil, decodeError(err, "V%d pallet count", version)
	}

	snap := &domain.Snapshot{Types: reg, Pallets: make([]domain.PalletInfo, 0, n)}
	for i := 0; i < n; i++ {
		p, err := decodePallet(d, reg, version)
		if err != nil {
			return nil, decodeError(err, "V%d pallet #%d", version, i)
		}
		snap.Pallets = append(snap.Pallets, p)
	}
	return snap, nil
}

func decodeRegistry(d *scale.Decoder) (*domain.Registry, error) {
	n, err := d.Len()
	if err != nil {
		return nil, err
	}

	reg := domain.NewRegistry()
	for i := 0; i < n; i++ {
		id, err := d.CompactU64()
		if err != nil {
			return nil, err
		}
		t, err := decodeType(d)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", id, err)
		}
		t.ID = domain.TypeID(id)
		reg.Put(t)
	}
	return reg, nil
}

func typeID(d *scale.Decoder) (domain.TypeID, error) {
	v, err := d.CompactU64()
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, fmt.Errorf("type id %d out of range", v)
	}
	return domain.TypeID(v), nil
}

func decodeType(d *scale.Decoder) (domain.Type, error) {
	var t domain.Type
	var err error

	if t.Path, err = d.Strings(); err != nil {
		return t, err
	}

	params, err := d.Len()
	if err != nil {
		return t, err
	}
	for i := 0; i < params; i++ {
		name, err := d.String()
		if err != nil {
			return t, err
		}
		some, err := d.Option()
		if err != nil {
			return t, err
		}
		if some {
			if _, err := typeID(d); err != nil {
				return t, err
			}
		}
		t.Params = append(t.Params, name)
	}

	tag, err := d.U8()
	if err != nil {
		return t, err
	}
	switch tag {
	case 0:
		t.Kind = domain.KindComposite
		t.Fields, err = decodeFields(d)
	case 1:
		t.Kind = domain.KindVariant
		t.Variants, err = decodeVariants(d)
	case 2:
		t.Kind = domain.KindSequence
		t.Elem, err = typeID(d)
	case 3:
		t.Kind = domain.KindArray
		if t.Len, err = d.U32(); err == nil {
			t.Elem, err = typeID(d)
		}
	case 4:
		t.Kind = domain.KindTuple
		var n int
		if n, err = d.Len(); err == nil {
			t.Tuple = make([]domain.TypeID, 0, n)
			for i := 0; i < n && err == nil; i++ {
				var id domain.TypeID
				if id, err = typeID(d); err == nil {
					t.Tuple = append(t.Tuple, id)
				}
			}
		}
	case 5:
		t.Kind = domain.KindPrimitive
		var p uint8
		if p, err = d.U8(); err == nil {
			if int(p) >= len(domain.PrimitiveByIndex) {
				return t, fmt.Errorf("unknown primitive %d", p)
			}
			t.Prim = domain.PrimitiveByIndex[p]
		}
	case 6:
		t.Kind = domain.KindCompact
		t.Elem, err = typeID(d)
	case 7:
		t.Kind = domain.KindBitSequence
		if t.BitStore, err = typeID(d); err == nil {
			t.BitOrder, err = typeID(d)
		}
	default:
		return t, fmt.Errorf("unknown type definition %d", tag)
	}
	if err != nil {
		return t, err
	}

	t.Docs, err = d.Strings()
	return t, err
}

func optionalString(d *scale.Decoder) (string, error) {
	some, err := d.Option()
	if err != nil || !some {
		return "", err
	}
	return d.String()
}

func decodeFields(d *scale.Decoder) ([]domain.Field, error) {
	n, err := d.Len()
	if err != nil {
		return nil, err
	}
	fields := make([]domain.Field, 0, n)
	for i := 0; i < n; i++ {
		var f domain.Field
		if f.Name, err = optionalString(d); err != nil {
			return nil, err
		}
		if f.Type, err = typeID(d); err != nil {
			return nil, err
		}
		if f.TypeName, err = optionalString(d); err != nil {
			return nil, err
		}
		if f.Docs, err = d.Strings(); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func decodeVariants(d *scale.Decoder) ([]domain.Variant, error) {
	n, err := d.Len()
	if err != nil {
		return nil, err
	}
	variants := make([]domain.Variant, 0, n)
	for i := 0; i < n; i++ {
		var v domain.Variant
		if v.Name, err = d.String(); err != nil {
			return nil, err
		}
		if v.Fields, err = decodeFields(d); err != nil {
			return nil, err
		}
		if v.Index, err = d.U8(); err != nil {
			return nil, err
		}
		if v.Docs, err = d.Strings(); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, nil
}

func decodePallet(d *scale.Decoder, reg *domain.Registry, version uint8) (domain.PalletInfo, error) {
	var p domain.PalletInfo
	var err error

	if p.Name, err = d.String(); err != nil {
		return p, err
	}

	// storage
	some, err := d.Option()
	if err != nil {
		return p, err
	}
	if some {
		if p.Prefix, err = d.String(); err != nil {
			return p, err
		}
		n, err := d.Len()
		if err != nil {
			return p, err
		}
		for i := 0; i < n; i++ {
			e, err := decodeStorageEntry(d, reg, version)
			if err != nil {
				return p, fmt.Errorf("%s storage #%d: %w", p.Name, i, err)
			}
			p.Storage = append(p.Storage, e)
		}
	}

	if p.Calls, err = palletEnum(d, reg, version); err != nil {
		return p, fmt.Errorf("%s calls: %w", p.Name, err)
	}
	if p.Events, err = palletEnum(d, reg, version); err != nil {
		return p, fmt.Errorf("%s events: %w", p.Name, err)
	}

	n, err := d.Len()
	if err != nil {
		return p, err
	}
	for i := 0; i < n; i++ {
		var c domain.Constant
		if c.Name, err = d.String(); err != nil {
			return p, err
		}
		if c.Type, err = typeID(d); err != nil {
			return p, err
		}
		if c.Value, err = d.Bytes(); err != nil {
			return p, err
		}
		if c.Docs, err = d.Strings(); err != nil {
			return p, err
		}
		if version >= 16 {
			if err := skipItemDeprecation(d); err != nil {
				return p, err
			}
		}
		p.Constants = append(p.Constants, c)
	}

	if p.Errors, err = palletEnum(d, reg, version); err != nil {
		return p, fmt.Errorf("%s errors: %w", p.Name, err)
	}

	if version >= 16 {
		if err := skipAssociatedTypes(d); err != nil {
			return p, fmt.Errorf("%s associated types: %w", p.Name, err)
		}
		if err := skipViewFunctions(d); err != nil {
			return p, fmt.Errorf("%s view functions: %w", p.Name, err)
		}
	}

	if p.Index, err = d.U8(); err != nil {
		return p, err
	}

	if version >= 15 {
		if p.Docs, err = d.Strings(); err != nil {
			return p, err
		}
	}
	if version >= 16 {
		if err := skipItemDeprecation(d); err != nil {
			return p, err
		}
	}
	return p, nil
}

// palletEnum reads Option<{ty}> for calls, events and errors and returns the variants of ty.
func palletEnum(d *scale.Decoder, reg *domain.Registry, version uint8) ([]domain.Variant, error) {
	some, err := d.Option()
	if err != nil || !some {
		return nil, err
	}
	id, err := typeID(d)
	if err != nil {
		return nil, err
	}
	if version >= 16 {
		if err := skipEnumDeprecation(d); err != nil {
			return nil, err
		}
	}

	t, ok := reg.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("type %d not in registry", id)
	}
	if t.Kind != domain.KindVariant {
		return nil, nil
	}
	return t.Variants, nil
}

func decodeStorageEntry(d *scale.Decoder, reg *domain.Registry, version uint8) (domain.StorageEntry, error) {
	var e domain.StorageEntry
	var err error

	if e.Name, err = d.String(); err != nil {
		return e, err
	}
	if e.Modifier, err = modifier(d); err != nil {
		return e, err
	}

	tag, err := d.U8()
	if err != nil {
		return e, err
	}
	switch tag {
	case 0:
		if e.Value, err = typeID(d); err != nil {
			return e, err
		}
	case 1:
		n, err := d.Len()
		if err != nil {
			return e, err
		}
		for i := 0; i < n; i++ {
			h, err := hasher(d)
			if err != nil {
				return e, err
			}
			e.Hashers = append(e.Hashers, h)
		}
		key, err := typeID(d)
		if err != nil {
			return e, err
		}
		if e.Value, err = typeID(d); err != nil {
			return e, err
		}
		if e.Keys, err = splitKeys(reg, key, len(e.Hashers)); err != nil {
			return e, fmt.Errorf("%s: %w", e.Name, err)
		}
	default:
		return e, fmt.Errorf("%s: unknown storage entry type %d", e.Name, tag)
	}

	if e.Default, err = d.Bytes(); err != nil {
		return e, err
	}
	if e.Docs, err = d.Strings(); err != nil {
		return e, err
	}
	if version >= 16 {
		if err := skipItemDeprecation(d); err != nil {
			return e, err
		}
	}
	return e, nil
}

// splitKeys pairs a map key type with its hashers. Multi-hasher maps use a
// tuple key with one element per hasher.
func splitKeys(reg *domain.Registry, key domain.TypeID, hashers int) ([]domain.TypeID, error) {
	if hashers == 1 {
		return []domain.TypeID{key}, nil
	}
	t, ok := reg.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("key type %d not in registry", key)
	}
	if t.Kind != domain.KindTuple || len(t.Tuple) != hashers {
		return nil, fmt.Errorf("key type %d does not match %d hashers", key, hashers)
	}
	return append([]domain.TypeID(nil), t.Tuple...), nil
}

// skipItemDeprecation reads NotDeprecated | DeprecatedWithoutNote | Deprecated{note, since}.
func skipItemDeprecation(d *scale.Decoder) error {
	tag, err := d.U8()
	if err != nil {
		return err
	}
	switch tag {
	case 0, 1:
		return nil
	case 2:
		if _, err := d.String(); err != nil {
			return err
		}
		_, err := optionalString(d)
		return err
	default:
		return fmt.Errorf("unknown deprecation info %d", tag)
	}
}

// skipEnumDeprecation reads BTreeMap<u8, VariantDeprecationInfo>.
func skipEnumDeprecation(d *scale.Decoder) error {
	n, err := d.Len()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := d.U8(); err != nil {
			return err
		}
		tag, err := d.U8()
		if err != nil {
			return err
		}
		switch tag {
		case 1:
		case 2:
			if _, err := d.String(); err != nil {
				return err
			}
			if _, err := optionalString(d); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown variant deprecation info %d", tag)
		}
	}
	return nil
}

func skipAssociatedTypes(d *scale.Decoder) error {
	n, err := d.Len()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := d.String(); err != nil {
			return err
		}
		if _, err := typeID(d); err != nil {
			return err
		}
		if _, err := d.Strings(); err != nil {
			return err
		}
	}
	return nil
}

func skipViewFunctions(d *scale.Decoder) error {
	n, err := d.Len()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := d.String(); err != nil {
			return err
		}
		if _, err := d.Fixed(32); err != nil {
			return err
		}
		inputs, err := d.Len()
		if err != nil {
			return err
		}
		for j := 0; j < inputs; j++ {
			if _, err := d.String(); err != nil {
				return err
			}
			if _, err := typeID(d); err != nil {
				return err
			}
		}
		if _, err := typeID(d); err != nil {
			return err
		}
		if _, err := d.Strings(); err != nil {
			return err
		}
		if err := skipItemDeprecation(d); err != nil {
			return err
		}
	}
	return nil
}
