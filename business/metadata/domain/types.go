// Package domain contains the version-independent runtime metadata model.
package domain

import (
	"strings"
)

// TypeID indexes a type in a Registry.
type TypeID uint32

// Kind is the shape of a type definition.
type Kind uint8

const (
	KindComposite Kind = iota
	KindVariant
	KindSequence
	KindArray
	KindTuple
	KindPrimitive
	KindCompact
	KindBitSequence
	// KindUnresolved stands in for a legacy type name no rule could resolve.
	// Decoding it fails with UNKNOWN_TYPE.
	KindUnresolved
	// KindOneOf is a legacy type whose encoding changed across runtimes
	// without a rename. Layouts lists the candidates, newest first.
	KindOneOf
)

var kindNames = [...]string{"composite", "variant", "sequence", "array", "tuple", "primitive", "compact", "bitsequence", "unresolved", "oneof"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Primitive names a scalar type.
type Primitive string

const (
	PrimBool Primitive = "bool"
	PrimChar Primitive = "char"
	PrimStr  Primitive = "str"
	PrimU8   Primitive = "u8"
	PrimU16  Primitive = "u16"
	PrimU32  Primitive = "u32"
	PrimU64  Primitive = "u64"
	PrimU128 Primitive = "u128"
	PrimU256 Primitive = "u256"
	PrimI8   Primitive = "i8"
	PrimI16  Primitive = "i16"
	PrimI32  Primitive = "i32"
	PrimI64  Primitive = "i64"
	PrimI128 Primitive = "i128"
	PrimI256 Primitive = "i256"
)

// PrimitiveByIndex is the portable registry primitive discriminant order.
var PrimitiveByIndex = []Primitive{
	PrimBool, PrimChar, PrimStr,
	PrimU8, PrimU16, PrimU32, PrimU64, PrimU128, PrimU256,
	PrimI8, PrimI16, PrimI32, PrimI64, PrimI128, PrimI256,
}

// Size is the encoded width in bytes of fixed-size integer primitives, 0 otherwise.
func (p Primitive) Size() int {
	switch p {
	case PrimU8, PrimI8:
		return 1
	case PrimU16, PrimI16:
		return 2
	case PrimU32, PrimI32:
		return 4
	case PrimU64, PrimI64:
		return 8
	case PrimU128, PrimI128:
		return 16
	case PrimU256, PrimI256:
		return 32
	}
	return 0
}

// Signed reports whether p is a signed integer.
func (p Primitive) Signed() bool {
	return strings.HasPrefix(string(p), "i")
}

// Field is a named or positional member of a composite or variant.
type Field struct {
	Name     string
	Type     TypeID
	TypeName string
	Docs     []string
}

// Variant is one arm of an enum.
type Variant struct {
	Name   string
	Index  uint8
	Fields []Field
	Docs   []string
}

// Type is one entry of the registry.
type Type struct {
	ID       TypeID
	Path     []string
	Params   []string
	Kind     Kind
	Fields   []Field   // composite
	Variants []Variant // variant
	Elem     TypeID    // sequence, array, compact
	Len      uint32    // array
	Tuple    []TypeID  // tuple
	Prim     Primitive // primitive
	BitStore TypeID    // bit sequence
	BitOrder TypeID    // bit sequence
	Name     string    // unresolved legacy name
	Layouts  []TypeID  // oneof
	Docs     []string
}

// PathString joins the path with "::".
func (t *Type) PathString() string {
	return strings.Join(t.Path, "::")
}

// IsAccountID32 reports whether t is a 32-byte account id wrapper.
func (t *Type) IsAccountID32() bool {
	return len(t.Path) > 0 && t.Path[len(t.Path)-1] == "AccountId32"
}

// IsOption reports whether t is core Option<T>.
func (t *Type) IsOption() bool {
	if t.Kind != KindVariant || len(t.Variants) != 2 {
		return false
	}
	if len(t.Path) == 1 && t.Path[0] == "Option" {
		return true
	}
	return t.Variants[0].Name == "None" && len(t.Variants[0].Fields) == 0 &&
		t.Variants[1].Name == "Some" && len(t.Variants[1].Fields) == 1
}

// Registry is the unified type table. Portable metadata fills it directly;
// legacy metadata fills it through the type-name parser.
type Registry struct {
	types map[TypeID]*Type
	next  TypeID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[TypeID]*Type)}
}

// Put stores t under t.ID.
func (r *Registry) Put(t Type) {
	tt := t
	r.types[t.ID] = &tt
	if t.ID >= r.next {
		r.next = t.ID + 1
	}
}

// Add stores t under the next free id and returns it.
func (r *Registry) Add(t Type) TypeID {
	t.ID = r.next
	r.Put(t)
	return t.ID
}

// Lookup returns the type with id.
func (r *Registry) Lookup(id TypeID) (*Type, bool) {
	t, ok := r.types[id]
	return t, ok
}

// Len is the number of registered types.
func (r *Registry) Len() int {
	return len(r.types)
}
