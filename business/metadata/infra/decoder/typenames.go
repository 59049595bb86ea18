package decoder

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fd1az/substrate-sidecar/business/metadata/domain"
)

// aliases rewrite legacy runtime type names to structural expressions.
// Targets must not lead back to their own key.
var aliases = map[string]string{
	"AccountIndex":      "u32",
	"Address":           "AccountId",
	"AssetId":           "u32",
	"AuthorityId":       "[u8; 32]",
	"Balance":           "u128",
	"BalanceOf":         "Balance",
	"BlockNumber":       "u32",
	"BlockNumberFor":    "BlockNumber",
	"Bytes":             "Vec<u8>",
	"EraIndex":          "u32",
	"H160":              "[u8; 20]",
	"H256":              "[u8; 32]",
	"H512":              "[u8; 64]",
	"Hash":              "H256",
	"Index":             "u32",
	"Key":               "Vec<u8>",
	"LookupSource":      "AccountId",
	"Moment":            "u64",
	"MomentOf":          "Moment",
	"Nonce":             "u32",
	"ParaId":            "u32",
	"Percent":           "u8",
	"Perbill":           "u32",
	"Permill":           "u32",
	"Perquintill":       "u64",
	"RefCount":          "u32",
	"SessionIndex":      "u32",
	"String":            "str",
	"Text":              "str",
	"ValidatorId":       "AccountId",
	"Weight":            "u64",

	"AccountId":          "AccountId32",
	"CompactBalance":     "Compact<Balance>",
	"CompactBlockNumber": "Compact<BlockNumber>",
	"CompactMoment":      "Compact<Moment>",
}

type structField struct{ name, ty string }

// structs are the legacy composite types the decoder knows the layout of.
var structs = map[string][]structField{
	"AccountData": {
		{"free", "Balance"},
		{"reserved", "Balance"},
		{"misc_frozen", "Balance"},
		{"fee_frozen", "Balance"},
	},
	"AccountInfoWithRefCount": {
		{"nonce", "Index"},
		{"refcount", "RefCount"},
		{"data", "AccountData"},
	},
	"AccountInfoWithDualRefCount": {
		{"nonce", "Index"},
		{"consumers", "RefCount"},
		{"providers", "RefCount"},
		{"data", "AccountData"},
	},
	"AccountInfoWithTripleRefCount": {
		{"nonce", "Index"},
		{"consumers", "RefCount"},
		{"providers", "RefCount"},
		{"sufficients", "RefCount"},
		{"data", "AccountData"},
	},
	"AccountInfoWithU8RefCount": {
		{"nonce", "Index"},
		{"refcount", "u8"},
		{"data", "AccountData"},
	},
	"BalanceLock": {
		{"id", "[u8; 8]"},
		{"amount", "Balance"},
		{"reasons", "u8"},
	},
}

// layouts names legacy types whose encoding changed between runtimes while
// the name stayed the same, newest first.
var layouts = map[string][]string{
	"AccountInfo": {
		"AccountInfoWithTripleRefCount",
		"AccountInfoWithDualRefCount",
		"AccountInfoWithRefCount",
		"AccountInfoWithU8RefCount",
	},
}

var primitives = map[string]domain.Primitive{
	"bool": domain.PrimBool, "char": domain.PrimChar, "str": domain.PrimStr,
	"u8": domain.PrimU8, "u16": domain.PrimU16, "u32": domain.PrimU32, "u64": domain.PrimU64,
	"u128": domain.PrimU128, "u256": domain.PrimU256,
	"i8": domain.PrimI8, "i16": domain.PrimI16, "i32": domain.PrimI32, "i64": domain.PrimI64,
	"i128": domain.PrimI128, "i256": domain.PrimI256,
}

var (
	// <T as frame_system::Config>::AccountId -> AccountId
	qualifiedPath = regexp.MustCompile(`<[^<>]+ as [^<>]+>::`)
	// T::Balance -> Balance
	traitPrefix = regexp.MustCompile(`\b(T|I)::`)
	// BalanceOf<T> and BalanceOf<T, I> -> BalanceOf
	instanceArgs = regexp.MustCompile(`<(T|I)(, ?(T|I))?>`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// typeNames resolves legacy type name strings to registry ids, memoized by
// normalized name.
type typeNames struct {
	reg   *domain.Registry
	cache map[string]domain.TypeID
}

func newTypeNames() *typeNames {
	return &typeNames{reg: domain.NewRegistry(), cache: make(map[string]domain.TypeID)}
}

func normalizeTypeName(name string) string {
	s := whitespace.ReplaceAllString(name, " ")
	s = qualifiedPath.ReplaceAllString(s, "")
	s = traitPrefix.ReplaceAllString(s, "")
	s = instanceArgs.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ";", "; ")
	return strings.TrimSpace(s)
}

func (n *typeNames) resolve(name string) domain.TypeID {
	key := normalizeTypeName(name)
	if id, ok := n.cache[key]; ok {
		return id
	}

	var id domain.TypeID
	if target, ok := aliases[key]; ok {
		id = n.resolve(target)
	} else {
		id = n.reg.Add(n.build(key))
	}
	n.cache[key] = id
	return id
}

func (n *typeNames) build(name string) domain.Type {
	if p, ok := primitives[name]; ok {
		return domain.Type{Kind: domain.KindPrimitive, Prim: p}
	}

	switch {
	case name == "()":
		return domain.Type{Kind: domain.KindTuple}

	case strings.HasPrefix(name, "[") && strings.HasSuffix(name, "]"):
		parts := splitTopLevel(name[1:len(name)-1], ';')
		if len(parts) == 2 {
			size, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
			if err == nil {
				return domain.Type{Kind: domain.KindArray, Elem: n.resolve(parts[0]), Len: uint32(size)}
			}
		}

	case strings.HasPrefix(name, "(") && strings.HasSuffix(name, ")"):
		parts := splitTopLevel(name[1:len(name)-1], ',')
		t := domain.Type{Kind: domain.KindTuple}
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				t.Tuple = append(t.Tuple, n.resolve(p))
			}
		}
		return t

	case name == "AccountId32":
		return domain.Type{
			Kind:   domain.KindComposite,
			Path:   []string{"sp_core", "crypto", "AccountId32"},
			Fields: []domain.Field{{Type: n.resolve("[u8; 32]"), TypeName: "[u8; 32]"}},
		}

	case strings.HasSuffix(name, ">") && strings.Contains(name, "<"):
		open := strings.IndexByte(name, '<')
		head := name[:open]
		args := splitTopLevel(name[open+1:len(name)-1], ',')
		if t, ok := n.generic(head, args); ok {
			return t
		}
	}

	if fields, ok := structs[name]; ok {
		t := domain.Type{Kind: domain.KindComposite, Path: []string{name}}
		for _, f := range fields {
			t.Fields = append(t.Fields, domain.Field{Name: f.name, Type: n.resolve(f.ty), TypeName: f.ty})
		}
		return t
	}

	if names, ok := layouts[name]; ok {
		t := domain.Type{Kind: domain.KindOneOf, Path: []string{name}}
		for _, l := range names {
			t.Layouts = append(t.Layouts, n.resolve(l))
		}
		return t
	}

	return domain.Type{Kind: domain.KindUnresolved, Name: name}
}

func (n *typeNames) generic(head string, args []string) (domain.Type, bool) {
	switch head {
	case "Vec", "VecDeque", "BTreeSet", "BoundedVec", "WeakBoundedVec":
		return domain.Type{Kind: domain.KindSequence, Elem: n.resolve(args[0])}, true

	case "Compact":
		return domain.Type{Kind: domain.KindCompact, Elem: n.resolve(args[0])}, true

	case "Option":
		return domain.Type{
			Kind: domain.KindVariant,
			Path: []string{"Option"},
			Variants: []domain.Variant{
				{Name: "None", Index: 0},
				{Name: "Some", Index: 1, Fields: []domain.Field{{Type: n.resolve(args[0])}}},
			},
		}, true

	case "Result":
		if len(args) != 2 {
			return domain.Type{}, false
		}
		return domain.Type{
			Kind: domain.KindVariant,
			Path: []string{"Result"},
			Variants: []domain.Variant{
				{Name: "Ok", Index: 0, Fields: []domain.Field{{Type: n.resolve(args[0])}}},
				{Name: "Err", Index: 1, Fields: []domain.Field{{Type: n.resolve(args[1])}}},
			},
		}, true

	case "BTreeMap", "HashMap", "BoundedBTreeMap":
		if len(args) < 2 {
			return domain.Type{}, false
		}
		pair := n.resolve("(" + args[0] + "," + args[1] + ")")
		return domain.Type{Kind: domain.KindSequence, Elem: pair}, true

	case "PhantomData":
		return domain.Type{Kind: domain.KindTuple}, true
	}

	// Known aliases and structs with generic parameters, e.g. AccountData<Balance>.
	if _, ok := aliases[head]; ok {
		t, _ := n.reg.Lookup(n.resolve(head))
		return *t, true
	}
	if _, ok := structs[head]; ok {
		t, _ := n.reg.Lookup(n.resolve(head))
		return *t, true
	}
	if _, ok := layouts[head]; ok {
		t, _ := n.reg.Lookup(n.resolve(head))
		return *t, true
	}
	return domain.Type{}, false
}

// splitTopLevel splits s on sep outside any brackets.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}
