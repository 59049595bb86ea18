package domain

import (
	"strings"
	"testing"

	"github.com/fd1az/substrate-sidecar/internal/apperror"
)

func TestParseAt(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)

	tests := []struct {
		in      string
		want    At
		wantErr bool
	}{
		{"", Head(), false},
		{"head", Head(), false},
		{"HEAD", Head(), false},
		{"0", Height(0), false},
		{" 18446744073709551615 ", Height(18446744073709551615), false},
		{hash, Hash(hash), false},
		{"0X" + strings.Repeat("AB", 32), Hash(hash), false},
		{"18446744073709551616", At{}, true},
		{"-1", At{}, true},
		{"1.5", At{}, true},
		{"0x1234", At{}, true},
		{"0x" + strings.Repeat("zz", 32), At{}, true},
		{"latest", At{}, true},
	}

	for _, tt := range tests {
		got, err := ParseAt(tt.in)
		if tt.wantErr {
			if !apperror.HasCode(err, apperror.CodeInvalidBlockID) {
				t.Errorf("ParseAt(%q) err = %v, want INVALID_BLOCK_ID", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAt(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAt(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestAt_String(t *testing.T) {
	if s := Height(42).String(); s != "42" {
		t.Errorf("Height string = %s", s)
	}
	if s := Head().String(); s != "head" {
		t.Errorf("Head string = %s", s)
	}
}

func TestBlockRef_WithTimestamp(t *testing.T) {
	ref := BlockRef{Hash: "0x01", Height: 7}
	if ref.HasTimestamp() {
		t.Fatal("fresh ref has timestamp")
	}

	stamped := ref.WithTimestamp(1_700_000_000_123)
	if ref.HasTimestamp() {
		t.Error("WithTimestamp mutated the receiver")
	}
	if !stamped.HasTimestamp() || stamped.TimestampMillis() != 1_700_000_000_123 {
		t.Errorf("stamped = %v", stamped.TimestampMillis())
	}
	if zero := ref.WithTimestamp(0); !zero.HasTimestamp() || zero.TimestampMillis() != 0 {
		t.Error("genesis timestamp 0 should still count as fetched")
	}
}

func TestHeader_Height(t *testing.T) {
	n, err := Header{Number: "0x1a2b"}.Height()
	if err != nil || n != 0x1a2b {
		t.Errorf("Height = %d, %v", n, err)
	}
	if _, err := (Header{Number: "0x"}).Height(); err == nil {
		t.Error("expected error for empty number")
	}
	if _, err := (Header{Number: "0xzz"}).Height(); err == nil {
		t.Error("expected error for bad hex")
	}
}
