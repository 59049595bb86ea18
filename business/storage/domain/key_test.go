package domain

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	metadata "github.com/fd1az/substrate-sidecar/business/metadata/domain"
)

func TestPrefix_KnownKeys(t *testing.T) {
	tests := []struct {
		pallet, item string
		want         string
	}{
		{"System", "Number", "0x26aa394eea5630e07c48ae0c9558cef702a5c1b19ab7a04f536c519aca4983ac"},
		{"System", "Account", "0x26aa394eea5630e07c48ae0c9558cef7b99d880ec681799c0cf30e8886371da9"},
		{"Timestamp", "Now", "0xf0c365c3cf59d671eb72da0e7a4113c49f1f0515f462cdcf84e0f1d6045dfcbb"},
		{"Balances", "TotalIssuance", "0xc2261276cc9d1f8598ea4b6a74b15c2f57c875e4cff74148e4628f264b974c80"},
		{"Staking", "ErasStakers", "0x5f3e4907f716ac89b6347d15ececedca8bde0a0ea8864605e3b68ed9cb2da01b"},
	}

	for _, tt := range tests {
		if got := Prefix(tt.pallet, tt.item).Hex(); got != tt.want {
			t.Errorf("%s.%s = %s, want %s", tt.pallet, tt.item, got, tt.want)
		}
	}
}

func TestHash(t *testing.T) {
	alice, _ := hex.DecodeString("d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d")
	era5 := []byte{5, 0, 0, 0}

	tests := []struct {
		hasher metadata.Hasher
		data   []byte
		want   string
	}{
		{metadata.Blake2_128, alice, "de1e86a9a8c739864cf3cc5ec2bea59f"},
		{metadata.Blake2_128Concat, alice, "de1e86a9a8c739864cf3cc5ec2bea59f" + hex.EncodeToString(alice)},
		{metadata.Twox128, []byte("System"), "26aa394eea5630e07c48ae0c9558cef7"},
		{metadata.Twox256, []byte("System"), "26aa394eea5630e07c48ae0c9558cef714355510e01e85b83bb4d561945dad84"},
		{metadata.Twox64Concat, era5, "39b9d2792f8bd4c305000000"},
		{metadata.Identity, era5, "05000000"},
	}

	for _, tt := range tests {
		got, err := Hash(tt.hasher, tt.data)
		if err != nil {
			t.Errorf("%s: %v", tt.hasher, err)
			continue
		}
		if hex.EncodeToString(got) != tt.want {
			t.Errorf("%s = %x, want %s", tt.hasher, got, tt.want)
		}
	}

	if sum, _ := Hash(metadata.Blake2_256, nil); len(sum) != 32 {
		t.Errorf("Blake2_256 length = %d", len(sum))
	}
	if _, err := Hash("Sha3", nil); err == nil {
		t.Error("expected error for unknown hasher")
	}
}

func TestStorageKey_Append(t *testing.T) {
	base := Prefix("System", "Account")
	k1 := base.Append([]byte{1, 2})
	k2 := k1.Append([]byte{3})

	if len(base.EncodedKeys) != 0 || len(k1.EncodedKeys) != 1 {
		t.Fatal("Append mutated its receiver")
	}
	if got := len(k2.Bytes()); got != 35 {
		t.Errorf("key length = %d, want 35", got)
	}
	if b := k2.Bytes(); b[32] != 1 || b[34] != 3 {
		t.Errorf("key tail = %x", b[32:])
	}
}

func TestObject_MarshalJSON(t *testing.T) {
	v := Object{
		{Name: "nonce", Value: uint64(1)},
		{Name: "data", Value: Object{{Name: "free", Value: "10"}}},
		{Name: "flags", Value: []any{true, nil}},
	}
	got, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"nonce":1,"data":{"free":"10"},"flags":[true,null]}`
	if string(got) != want {
		t.Errorf("json = %s, want %s", got, want)
	}

	if empty, _ := json.Marshal(Object{}); string(empty) != "{}" {
		t.Errorf("empty object = %s", empty)
	}
	if x, ok := v.Get("data"); !ok || x.(Object)[0].Value != "10" {
		t.Errorf("Get(data) = %v", x)
	}
}
