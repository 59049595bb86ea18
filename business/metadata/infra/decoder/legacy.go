package decoder

import (
	"fmt"

	"github.com/fd1az/substrate-sidecar/business/metadata/domain"
	"github.com/fd1az/substrate-sidecar/pkg/scale"
)

// decodeLegacy reads V9 through V13, where types are carried as Rust type
// name strings. Names are resolved into the registry as they are met.
func decodeLegacy(d *scale.Decoder, version uint8) (*domain.Snapshot, error) {
	names := newTypeNames()

	n, err := d.Len()
	if err != nil {
		return nil, decodeError(err, "V%d module count", version)
	}

	snap := &domain.Snapshot{Types: names.reg, Pallets: make([]domain.PalletInfo, 0, n)}
	for i := 0; i < n; i++ {
		p, err := decodeModule(d, names, version)
		if err != nil {
			return nil, decodeError(err, "V%d module #%d", version, i)
		}
		// Before V12 modules carry no index; position stands in.
		if version < 12 {
			p.Index = uint8(i)
		}
		snap.Pallets = append(snap.Pallets, p)
	}
	return snap, nil
}

func decodeModule(d *scale.Decoder, names *typeNames, version uint8) (domain.PalletInfo, error) {
	var p domain.PalletInfo
	var err error

	if p.Name, err = d.String(); err != nil {
		return p, err
	}

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
			e, err := decodeLegacyEntry(d, names, version)
			if err != nil {
				return p, fmt.Errorf("%s storage #%d: %w", p.Name, i, err)
			}
			p.Storage = append(p.Storage, e)
		}
	}

	if p.Calls, err = decodeLegacyCalls(d, names); err != nil {
		return p, fmt.Errorf("%s calls: %w", p.Name, err)
	}
	if p.Events, err = decodeLegacyEvents(d, names); err != nil {
		return p, fmt.Errorf("%s events: %w", p.Name, err)
	}

	n, err := d.Len()
	if err != nil {
		return p, err
	}
	for i := 0; i < n; i++ {
		var c domain.Constant
		var ty string
		if c.Name, err = d.String(); err != nil {
			return p, err
		}
		if ty, err = d.String(); err != nil {
			return p, err
		}
		if c.Value, err = d.Bytes(); err != nil {
			return p, err
		}
		if c.Docs, err = d.Strings(); err != nil {
			return p, err
		}
		c.Type = names.resolve(ty)
		p.Constants = append(p.Constants, c)
	}

	if n, err = d.Len(); err != nil {
		return p, err
	}
	for i := 0; i < n; i++ {
		v := domain.Variant{Index: uint8(i)}
		if v.Name, err = d.String(); err != nil {
			return p, err
		}
		if v.Docs, err = d.Strings(); err != nil {
			return p, err
		}
		p.Errors = append(p.Errors, v)
	}

	if version >= 12 {
		if p.Index, err = d.U8(); err != nil {
			return p, err
		}
	}
	return p, nil
}

func decodeLegacyEntry(d *scale.Decoder, names *typeNames, version uint8) (domain.StorageEntry, error) {
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

	var value string
	switch {
	case tag == 0: // Plain
		if value, err = d.String(); err != nil {
			return e, err
		}

	case tag == 1: // Map
		h, err := hasher(d)
		if err != nil {
			return e, err
		}
		key, err := d.String()
		if err != nil {
			return e, err
		}
		if value, err = d.String(); err != nil {
			return e, err
		}
		if _, err := d.Bool(); err != nil { // unused
			return e, err
		}
		e.Hashers = []domain.Hasher{h}
		e.Keys = []domain.TypeID{names.resolve(key)}

	case tag == 2: // DoubleMap
		h1, err := hasher(d)
		if err != nil {
			return e, err
		}
		key1, err := d.String()
		if err != nil {
			return e, err
		}
		key2, err := d.String()
		if err != nil {
			return e, err
		}
		if value, err = d.String(); err != nil {
			return e, err
		}
		h2, err := hasher(d)
		if err != nil {
			return e, err
		}
		e.Hashers = []domain.Hasher{h1, h2}
		e.Keys = []domain.TypeID{names.resolve(key1), names.resolve(key2)}

	case tag == 3 && version >= 13: // NMap
		keys, err := d.Strings()
		if err != nil {
			return e, err
		}
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
		if value, err = d.String(); err != nil {
			return e, err
		}
		if len(keys) != len(e.Hashers) {
			return e, fmt.Errorf("%s: %d keys but %d hashers", e.Name, len(keys), len(e.Hashers))
		}
		for _, k := range keys {
			e.Keys = append(e.Keys, names.resolve(k))
		}

	default:
		return e, fmt.Errorf("%s: unknown storage entry type %d", e.Name, tag)
	}
	e.Value = names.resolve(value)

	if e.Default, err = d.Bytes(); err != nil {
		return e, err
	}
	if e.Docs, err = d.Strings(); err != nil {
		return e, err
	}
	return e, nil
}

func decodeLegacyCalls(d *scale.Decoder, names *typeNames) ([]domain.Variant, error) {
	some, err := d.Option()
	if err != nil || !some {
		return nil, err
	}
	n, err := d.Len()
	if err != nil {
		return nil, err
	}

	calls := make([]domain.Variant, 0, n)
	for i := 0; i < n; i++ {
		v := domain.Variant{Index: uint8(i)}
		if v.Name, err = d.String(); err != nil {
			return nil, err
		}
		args, err := d.Len()
		if err != nil {
			return nil, err
		}
		for j := 0; j < args; j++ {
			name, err := d.String()
			if err != nil {
				return nil, err
			}
			ty, err := d.String()
			if err != nil {
				return nil, err
			}
			v.Fields = append(v.Fields, domain.Field{Name: name, Type: names.resolve(ty), TypeName: ty})
		}
		if v.Docs, err = d.Strings(); err != nil {
			return nil, err
		}
		calls = append(calls, v)
	}
	return calls, nil
}

func decodeLegacyEvents(d *scale.Decoder, names *typeNames) ([]domain.Variant, error) {
	some, err := d.Option()
	if err != nil || !some {
		return nil, err
	}
	n, err := d.Len()
	if err != nil {
		return nil, err
	}

	events := make([]domain.Variant, 0, n)
	for i := 0; i < n; i++ {
		v := domain.Variant{Index: uint8(i)}
		if v.Name, err = d.String(); err != nil {
			return nil, err
		}
		args, err := d.Strings()
		if err != nil {
			return nil, err
		}
		for _, ty := range args {
			v.Fields = append(v.Fields, domain.Field{Type: names.resolve(ty), TypeName: ty})
		}
		if v.Docs, err = d.Strings(); err != nil {
			return nil, err
		}
		events = append(events, v)
	}
	return events, nil
}
