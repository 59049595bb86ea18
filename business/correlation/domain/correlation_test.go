package domain

import (
	"encoding/json"
	"testing"

	blockdomain "github.com/fd1az/substrate-sidecar/business/block/domain"
)

func TestRcCorrelation_RcAt(t *testing.T) {
	c := RcCorrelation{
		AhBlock:     blockdomain.BlockRef{Hash: "0xah", Height: 10},
		AhTimestamp: 1700000123000,
		RcBlocks: []blockdomain.BlockRef{
			{Hash: "0x14", Height: 20},
			{Hash: "0x15", Height: 21},
		},
	}

	b, err := json.Marshal(c.RcAt())
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"rcBlockHash":"0x14","rcBlockNumber":"20","ahTimestamp":"1700000123000"},` +
		`{"rcBlockHash":"0x15","rcBlockNumber":"21","ahTimestamp":"1700000123000"}]`
	if string(b) != want {
		t.Errorf("got %s", b)
	}
}

func TestRcCorrelation_EmptyEncodesAsArray(t *testing.T) {
	c := RcCorrelation{AhTimestamp: 1}
	if !c.Empty() {
		t.Error("expected empty")
	}
	b, _ := json.Marshal(c.RcAt())
	if string(b) != "[]" {
		t.Errorf("got %s, want []", b)
	}
}
