package domain

import (
	"testing"

	"github.com/fd1az/substrate-sidecar/internal/apperror"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		SpecVersion: 1_002_000,
		Version:     14,
		Types:       NewRegistry(),
		Pallets: []PalletInfo{
			{Name: "System", Index: 0, Storage: []StorageEntry{{Name: "Account"}, {Name: "Number"}}},
			{
				Name:      "Balances",
				Index:     5,
				Constants: []Constant{{Name: "ExistentialDeposit"}},
				Errors:    []Variant{{Name: "InsufficientBalance"}},
			},
		},
	}
}

func TestSnapshot_Pallet(t *testing.T) {
	s := testSnapshot()

	tests := []struct {
		query string
		want  string
		code  apperror.Code
	}{
		{"System", "System", ""},
		{"system", "System", ""},
		{"BALANCES", "Balances", ""},
		{"5", "Balances", ""},
		{"0", "System", ""},
		{"NotAPallet", "", apperror.CodePalletNotFound},
		{"6", "", apperror.CodePalletNotFound},
		{"300", "", apperror.CodePalletNotFound},
	}

	for _, tt := range tests {
		p, err := s.Pallet(tt.query)
		if tt.code != "" {
			if !apperror.HasCode(err, tt.code) {
				t.Errorf("Pallet(%q) err = %v, want %s", tt.query, err, tt.code)
			}
			continue
		}
		if err != nil {
			t.Errorf("Pallet(%q): %v", tt.query, err)
			continue
		}
		if p.Name != tt.want {
			t.Errorf("Pallet(%q) = %s, want %s", tt.query, p.Name, tt.want)
		}
	}
}

func TestPalletInfo_Lookups(t *testing.T) {
	s := testSnapshot()
	system, _ := s.Pallet("System")
	balances, _ := s.Pallet("Balances")

	if e, err := system.StorageItem("account"); err != nil || e.Name != "Account" {
		t.Errorf("StorageItem(account) = %v, %v", e, err)
	}
	if _, err := system.StorageItem("Nope"); !apperror.HasCode(err, apperror.CodeStorageItemNotFound) {
		t.Errorf("missing storage item err = %v", err)
	}
	if c, err := balances.Constant("existentialdeposit"); err != nil || c.Name != "ExistentialDeposit" {
		t.Errorf("Constant = %v, %v", c, err)
	}
	if _, err := balances.Constant("Nope"); !apperror.HasCode(err, apperror.CodeConstantNotFound) {
		t.Errorf("missing constant err = %v", err)
	}
}

func TestSnapshot_Summary(t *testing.T) {
	sum := testSnapshot().Summary()
	if len(sum) != 2 {
		t.Fatalf("got %d pallets", len(sum))
	}
	if sum[0].Name != "System" || len(sum[0].Storage) != 2 || sum[0].Storage[1] != "Number" {
		t.Errorf("System summary = %+v", sum[0])
	}
	if sum[1].Index != 5 || sum[1].Constants[0] != "ExistentialDeposit" || sum[1].Errors[0] != "InsufficientBalance" {
		t.Errorf("Balances summary = %+v", sum[1])
	}
	if sum[0].Calls != nil {
		t.Errorf("System calls = %v, want nil", sum[0].Calls)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Put(Type{ID: 7, Kind: KindPrimitive, Prim: PrimU8})
	id := r.Add(Type{Kind: KindSequence, Elem: 7})
	if id != 8 {
		t.Errorf("Add id = %d, want 8", id)
	}
	seq, ok := r.Lookup(8)
	if !ok || seq.Kind != KindSequence || seq.Elem != 7 {
		t.Errorf("Lookup(8) = %+v", seq)
	}
	if _, ok := r.Lookup(3); ok {
		t.Error("Lookup(3) should miss")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestPrimitive(t *testing.T) {
	if PrimU128.Size() != 16 || PrimI8.Size() != 1 || PrimBool.Size() != 0 {
		t.Error("unexpected primitive sizes")
	}
	if !PrimI64.Signed() || PrimU64.Signed() {
		t.Error("unexpected signedness")
	}
}
