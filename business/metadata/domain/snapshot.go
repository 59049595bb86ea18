package domain

import (
	"strconv"
	"strings"

	"github.com/fd1az/substrate-sidecar/internal/apperror"
)

// Hasher is a storage key hashing algorithm.
type Hasher string

const (
	Blake2_128       Hasher = "Blake2_128"
	Blake2_256       Hasher = "Blake2_256"
	Blake2_128Concat Hasher = "Blake2_128Concat"
	Twox128          Hasher = "Twox128"
	Twox256          Hasher = "Twox256"
	Twox64Concat     Hasher = "Twox64Concat"
	Identity         Hasher = "Identity"
)

// HasherByIndex is the metadata discriminant order, identical in every version.
var HasherByIndex = []Hasher{Blake2_128, Blake2_256, Blake2_128Concat, Twox128, Twox256, Twox64Concat, Identity}

// Modifier says what a missing storage value reads as.
type Modifier string

const (
	ModifierOptional Modifier = "Optional"
	ModifierDefault  Modifier = "Default"
)

// StorageEntry describes one storage item.
type StorageEntry struct {
	Name     string
	Modifier Modifier
	// Hashers and Keys pair up, one per map key. Both are empty for plain values.
	Hashers []Hasher
	Keys    []TypeID
	Value   TypeID
	Default []byte
	Docs    []string
}

// IsMap reports whether the entry takes keys.
func (e *StorageEntry) IsMap() bool {
	return len(e.Hashers) > 0
}

// Constant is a pallet constant with its encoded value.
type Constant struct {
	Name  string
	Type  TypeID
	Value []byte
	Docs  []string
}

// PalletInfo is one pallet in version-independent form.
type PalletInfo struct {
	Name      string
	Index     uint8
	Prefix    string
	Storage   []StorageEntry
	Constants []Constant
	Calls     []Variant
	Events    []Variant
	Errors    []Variant
	Docs      []string
}

// StorageItem finds a storage entry by name, case-insensitively.
func (p *PalletInfo) StorageItem(name string) (*StorageEntry, error) {
	for i := range p.Storage {
		if strings.EqualFold(p.Storage[i].Name, name) {
			return &p.Storage[i], nil
		}
	}
	return nil, apperror.New(apperror.CodeStorageItemNotFound,
		apperror.WithContextf("%s.%s", p.Name, name))
}

// Constant finds a constant by name, case-insensitively.
func (p *PalletInfo) Constant(name string) (*Constant, error) {
	for i := range p.Constants {
		if strings.EqualFold(p.Constants[i].Name, name) {
			return &p.Constants[i], nil
		}
	}
	return nil, apperror.New(apperror.CodeConstantNotFound,
		apperror.WithContextf("%s.%s", p.Name, name))
}

// Snapshot is the decoded metadata of one runtime version. Immutable once built.
type Snapshot struct {
	SpecVersion uint32
	Version     uint8
	Types       *Registry
	Pallets     []PalletInfo
}

// Pallet finds a pallet by case-insensitive name or by decimal index.
func (s *Snapshot) Pallet(nameOrIndex string) (*PalletInfo, error) {
	for i := range s.Pallets {
		if strings.EqualFold(s.Pallets[i].Name, nameOrIndex) {
			return &s.Pallets[i], nil
		}
	}
	if idx, err := strconv.ParseUint(nameOrIndex, 10, 8); err == nil {
		for i := range s.Pallets {
			if uint64(s.Pallets[i].Index) == idx {
				return &s.Pallets[i], nil
			}
		}
	}
	return nil, apperror.New(apperror.CodePalletNotFound,
		apperror.WithContextf("pallet %q", nameOrIndex))
}

// PalletSummary lists the item names of one pallet.
type PalletSummary struct {
	Name      string   `json:"name"`
	Index     uint8    `json:"index"`
	Storage   []string `json:"storage,omitempty"`
	Constants []string `json:"constants,omitempty"`
	Calls     []string `json:"calls,omitempty"`
	Events    []string `json:"events,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Summary returns a pallet catalog in metadata order.
func (s *Snapshot) Summary() []PalletSummary {
	out := make([]PalletSummary, 0, len(s.Pallets))
	for _, p := range s.Pallets {
		ps := PalletSummary{Name: p.Name, Index: p.Index}
		for _, e := range p.Storage {
			ps.Storage = append(ps.Storage, e.Name)
		}
		for _, c := range p.Constants {
			ps.Constants = append(ps.Constants, c.Name)
		}
		ps.Calls = variantNames(p.Calls)
		ps.Events = variantNames(p.Events)
		ps.Errors = variantNames(p.Errors)
		out = append(out, ps)
	}
	return out
}

func variantNames(vs []Variant) []string {
	if len(vs) == 0 {
		return nil
	}
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Name
	}
	return names
}
