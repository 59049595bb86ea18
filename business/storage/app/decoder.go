package app

import (
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"

	metadata "github.com/fd1az/substrate-sidecar/business/metadata/domain"
	"github.com/fd1az/substrate-sidecar/business/storage/domain"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/pkg/scale"
	"github.com/fd1az/substrate-sidecar/pkg/ss58"
)

// maxDepth bounds recursion through self-referential types.
const maxDepth = 64

// HexAddresses disables SS58 rendering of account ids.
const HexAddresses = -1

// Decoder renders SCALE bytes as JSON-ready values using a snapshot's type registry.
type Decoder struct {
	ss58Prefix int
}

// NewDecoder returns a decoder rendering AccountId32 values with ss58Prefix,
// or as hex when ss58Prefix is HexAddresses.
func NewDecoder(ss58Prefix int) *Decoder {
	return &Decoder{ss58Prefix: ss58Prefix}
}

// Decode reads exactly one value of type id from raw.
func (d *Decoder) Decode(types *metadata.Registry, id metadata.TypeID, raw []byte) (domain.Value, error) {
	cur := scale.NewDecoder(raw)
	v, err := d.value(types, id, cur, 0)
	if err != nil {
		return nil, err
	}
	if err := cur.Done(); err != nil {
		return nil, valueError(err, id)
	}
	return v, nil
}

func valueError(err error, id metadata.TypeID) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.New(apperror.CodeValueDecodeError,
		apperror.WithCause(err),
		apperror.WithContextf("type %d", id))
}

func unknownType(id metadata.TypeID, what string) error {
	return apperror.New(apperror.CodeUnknownType,
		apperror.WithContextf("type %d: %s", id, what))
}

func (d *Decoder) value(types *metadata.Registry, id metadata.TypeID, cur *scale.Decoder, depth int) (domain.Value, error) {
	if depth > maxDepth {
		return nil, apperror.New(apperror.CodeValueDecodeError,
			apperror.WithContextf("type %d nested deeper than %d", id, maxDepth))
	}
	t, ok := types.Lookup(id)
	if !ok {
		return nil, unknownType(id, "not in registry")
	}

	switch t.Kind {
	case metadata.KindPrimitive:
		v, err := primitive(t.Prim, cur)
		if err != nil {
			return nil, valueError(err, id)
		}
		return v, nil

	case metadata.KindComposite:
		if t.IsAccountID32() {
			b, err := cur.Fixed(32)
			if err != nil {
				return nil, valueError(err, id)
			}
			return d.address(b), nil
		}
		return d.fields(types, t.Fields, cur, depth)

	case metadata.KindVariant:
		return d.variant(types, t, cur, depth)

	case metadata.KindSequence:
		n, err := cur.Len()
		if err != nil {
			return nil, valueError(err, id)
		}
		return d.elements(types, t.Elem, n, cur, depth)

	case metadata.KindArray:
		return d.elements(types, t.Elem, int(t.Len), cur, depth)

	case metadata.KindTuple:
		if len(t.Tuple) == 0 {
			return nil, nil
		}
		out := make([]any, 0, len(t.Tuple))
		for _, el := range t.Tuple {
			v, err := d.value(types, el, cur, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case metadata.KindCompact:
		return d.compact(types, t, cur)

	case metadata.KindBitSequence:
		return d.bits(types, t, cur)

	case metadata.KindOneOf:
		return d.oneOf(types, t, cur, depth)

	case metadata.KindUnresolved:
		return nil, unknownType(id, "unresolved type name "+strconv.Quote(t.Name))
	}
	return nil, unknownType(id, "unsupported kind "+t.Kind.String())
}

// oneOf decodes the first layout that consumes the rest of the input. A
// layout that decodes with bytes left over is used only when none fits
// exactly.
func (d *Decoder) oneOf(types *metadata.Registry, t *metadata.Type, cur *scale.Decoder, depth int) (domain.Value, error) {
	var (
		partial  domain.Value
		consumed = -1
	)
	for _, layout := range t.Layouts {
		trial := cur.Fork()
		v, err := d.value(types, layout, trial, depth+1)
		if err != nil {
			continue
		}
		if trial.Remaining() == 0 {
			_, _ = cur.Fixed(trial.Offset() - cur.Offset())
			return v, nil
		}
		if consumed < 0 {
			partial, consumed = v, trial.Offset()-cur.Offset()
		}
	}
	if consumed < 0 {
		return nil, apperror.New(apperror.CodeValueDecodeError,
			apperror.WithContextf("type %d (%s): no known layout matches %d bytes", t.ID, t.PathString(), cur.Remaining()))
	}
	_, _ = cur.Fixed(consumed)
	return partial, nil
}

func (d *Decoder) address(b []byte) string {
	if d.ss58Prefix >= 0 {
		if s, err := ss58.Encode(b, uint16(d.ss58Prefix)); err == nil {
			return s
		}
	}
	return hexutil.Encode(b)
}

// fields renders a composite or variant payload. A single unnamed field is
// unwrapped, all-unnamed fields become an array, named fields an object.
func (d *Decoder) fields(types *metadata.Registry, fs []metadata.Field, cur *scale.Decoder, depth int) (domain.Value, error) {
	if len(fs) == 0 {
		return domain.Object{}, nil
	}
	if len(fs) == 1 && fs[0].Name == "" {
		return d.value(types, fs[0].Type, cur, depth+1)
	}

	if fs[0].Name == "" {
		out := make([]any, 0, len(fs))
		for _, f := range fs {
			v, err := d.value(types, f.Type, cur, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	out := make(domain.Object, 0, len(fs))
	for _, f := range fs {
		v, err := d.value(types, f.Type, cur, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Member{Name: f.Name, Value: v})
	}
	return out, nil
}

func (d *Decoder) variant(types *metadata.Registry, t *metadata.Type, cur *scale.Decoder, depth int) (domain.Value, error) {
	idx, err := cur.U8()
	if err != nil {
		return nil, valueError(err, t.ID)
	}

	if t.IsOption() {
		switch idx {
		case 0:
			return nil, nil
		case 1:
			return d.value(types, t.Variants[1].Fields[0].Type, cur, depth+1)
		}
		return nil, apperror.New(apperror.CodeValueDecodeError,
			apperror.WithContextf("type %d: invalid option tag %d", t.ID, idx))
	}

	for i := range t.Variants {
		v := &t.Variants[i]
		if v.Index != idx {
			continue
		}
		if len(v.Fields) == 0 {
			return v.Name, nil
		}
		inner, err := d.fields(types, v.Fields, cur, depth)
		if err != nil {
			return nil, err
		}
		return domain.Object{{Name: v.Name, Value: inner}}, nil
	}
	return nil, apperror.New(apperror.CodeValueDecodeError,
		apperror.WithContextf("type %d (%s): no variant with index %d", t.ID, t.PathString(), idx))
}

func (d *Decoder) elements(types *metadata.Registry, elem metadata.TypeID, n int, cur *scale.Decoder, depth int) (domain.Value, error) {
	if et, ok := types.Lookup(elem); ok && et.Kind == metadata.KindPrimitive && et.Prim == metadata.PrimU8 {
		b, err := cur.Fixed(n)
		if err != nil {
			return nil, valueError(err, elem)
		}
		return hexutil.Encode(b), nil
	}

	out := make([]any, 0, min(n, cur.Remaining()))
	for i := 0; i < n; i++ {
		v, err := d.value(types, elem, cur, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// compact renders by the width of the innermost primitive.
func (d *Decoder) compact(types *metadata.Registry, t *metadata.Type, cur *scale.Decoder) (domain.Value, error) {
	prim, unit, err := compactTarget(types, t.Elem)
	if err != nil {
		return nil, err
	}
	if unit {
		return nil, nil
	}

	n, err := cur.Compact()
	if err != nil {
		return nil, valueError(err, t.ID)
	}
	if prim.Size() > 0 && n.BitLen() > 8*prim.Size() {
		return nil, apperror.New(apperror.CodeValueDecodeError,
			apperror.WithContextf("type %d: compact %s overflows %s", t.ID, n, prim))
	}
	if prim.Size() > 0 && prim.Size() <= 4 {
		return n.Uint64(), nil
	}
	return n.String(), nil
}

func compactTarget(types *metadata.Registry, id metadata.TypeID) (metadata.Primitive, bool, error) {
	for depth := 0; depth < maxDepth; depth++ {
		t, ok := types.Lookup(id)
		if !ok {
			return "", false, unknownType(id, "not in registry")
		}
		switch {
		case t.Kind == metadata.KindPrimitive:
			return t.Prim, false, nil
		case t.Kind == metadata.KindTuple && len(t.Tuple) == 0:
			return "", true, nil
		case t.Kind == metadata.KindComposite && len(t.Fields) == 1:
			id = t.Fields[0].Type
		case t.Kind == metadata.KindComposite && len(t.Fields) == 0:
			return "", true, nil
		default:
			return "", false, unknownType(id, "compact of "+t.Kind.String())
		}
	}
	return "", false, unknownType(id, "compact nesting too deep")
}

// bits renders a bit sequence as the hex of its backing store.
func (d *Decoder) bits(types *metadata.Registry, t *metadata.Type, cur *scale.Decoder) (domain.Value, error) {
	storeBytes := 1
	if st, ok := types.Lookup(t.BitStore); ok && st.Kind == metadata.KindPrimitive && st.Prim.Size() > 0 {
		storeBytes = st.Prim.Size()
	}

	nbits, err := cur.CompactU64()
	if err != nil {
		return nil, valueError(err, t.ID)
	}
	storeBits := uint64(8 * storeBytes)
	words := (nbits + storeBits - 1) / storeBits
	if words > uint64(cur.Remaining()) {
		return nil, valueError(scale.ErrUnexpectedEOF, t.ID)
	}
	b, err := cur.Fixed(int(words) * storeBytes)
	if err != nil {
		return nil, valueError(err, t.ID)
	}
	return hexutil.Encode(b), nil
}

// primitive renders integers up to 32 bits as JSON numbers and wider ones
// as decimal strings.
func primitive(p metadata.Primitive, cur *scale.Decoder) (domain.Value, error) {
	switch p {
	case metadata.PrimBool:
		return cur.Bool()
	case metadata.PrimChar:
		r, err := cur.U32()
		if err != nil {
			return nil, err
		}
		return string(rune(r)), nil
	case metadata.PrimStr:
		return cur.String()
	case metadata.PrimU8:
		v, err := cur.U8()
		return uint64(v), err
	case metadata.PrimU16:
		v, err := cur.U16()
		return uint64(v), err
	case metadata.PrimU32:
		v, err := cur.U32()
		return uint64(v), err
	case metadata.PrimI8:
		v, err := cur.I8()
		return int64(v), err
	case metadata.PrimI16:
		v, err := cur.I16()
		return int64(v), err
	case metadata.PrimI32:
		v, err := cur.I32()
		return int64(v), err
	case metadata.PrimU64:
		v, err := cur.U64()
		return strconv.FormatUint(v, 10), err
	case metadata.PrimI64:
		v, err := cur.I64()
		return strconv.FormatInt(v, 10), err
	case metadata.PrimU128, metadata.PrimU256:
		v, err := cur.Uint(p.Size())
		if err != nil {
			return nil, err
		}
		return v.String(), nil
	case metadata.PrimI128, metadata.PrimI256:
		v, err := cur.Int(p.Size())
		if err != nil {
			return nil, err
		}
		return v.String(), nil
	}
	return nil, errors.New("unknown primitive " + string(p))
}
