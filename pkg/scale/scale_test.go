package scale

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
)

func TestCompact_KnownEncodings(t *testing.T) {
	tests := []struct {
		value uint64
		hex   string
	}{
		{0, "00"},
		{1, "04"},
		{42, "a8"},
		{63, "fc"},
		{64, "0101"},
		{69, "1501"},
		{16383, "fdff"},
		{16384, "02000100"},
		{1<<30 - 1, "feffffff"},
		{1 << 30, "0300000040"},
		{1<<32 - 1, "03ffffffff"},
		{1 << 32, "070000000001"},
		{1<<64 - 1, "13ffffffffffffffff"},
	}

	for _, tt := range tests {
		got := hex.EncodeToString(NewEncoder().Compact(tt.value).Bytes())
		if got != tt.hex {
			t.Errorf("Compact(%d) = %s, want %s", tt.value, got, tt.hex)
		}

		raw, _ := hex.DecodeString(tt.hex)
		d := NewDecoder(raw)
		v, err := d.CompactU64()
		if err != nil {
			t.Fatalf("decode %s: %v", tt.hex, err)
		}
		if v != tt.value {
			t.Errorf("decode %s = %d, want %d", tt.hex, v, tt.value)
		}
		if err := d.Done(); err != nil {
			t.Errorf("decode %s: %v", tt.hex, err)
		}
	}
}

func TestCompactBig_U128(t *testing.T) {
	max, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	enc := NewEncoder().CompactBig(max).Bytes()
	if len(enc) != 17 || enc[0] != 0x33 {
		t.Fatalf("encoding = %x", enc)
	}

	got, err := NewDecoder(enc).Compact()
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got.Cmp(max) != 0 {
		t.Errorf("got %s, want %s", got, max)
	}
}

func TestFixedWidthIntegers(t *testing.T) {
	enc := NewEncoder().
		U8(0xff).
		U16(0x1234).
		U32(0xdeadbeef).
		U64(1<<63 + 5).
		Uint(big.NewInt(10_000_000_000), 16).
		Int(big.NewInt(-2), 16).
		Bool(true).
		Bytes()

	d := NewDecoder(enc)
	if v, _ := d.U8(); v != 0xff {
		t.Errorf("u8 = %d", v)
	}
	if v, _ := d.U16(); v != 0x1234 {
		t.Errorf("u16 = %x", v)
	}
	if v, _ := d.U32(); v != 0xdeadbeef {
		t.Errorf("u32 = %x", v)
	}
	if v, _ := d.U64(); v != 1<<63+5 {
		t.Errorf("u64 = %d", v)
	}
	if v, _ := d.Uint(16); v.Cmp(big.NewInt(10_000_000_000)) != 0 {
		t.Errorf("u128 = %s", v)
	}
	if v, _ := d.Int(16); v.Cmp(big.NewInt(-2)) != 0 {
		t.Errorf("i128 = %s", v)
	}
	if v, _ := d.Bool(); !v {
		t.Error("bool = false")
	}
	if err := d.Done(); err != nil {
		t.Error(err)
	}
}

func TestSignedSmallIntegers(t *testing.T) {
	d := NewDecoder([]byte{0xff, 0xfe, 0xff, 0xfd, 0xff, 0xff, 0xff})
	if v, _ := d.I8(); v != -1 {
		t.Errorf("i8 = %d", v)
	}
	if v, _ := d.I16(); v != -2 {
		t.Errorf("i16 = %d", v)
	}
	if v, _ := d.I32(); v != -3 {
		t.Errorf("i32 = %d", v)
	}
}

func TestStringsAndOptions(t *testing.T) {
	enc := NewEncoder().
		String("Balances").
		Strings([]string{"a", "bc"}).
		Option(false).
		Option(true).U32(7).
		Vec([]byte{1, 2, 3}).
		Bytes()

	d := NewDecoder(enc)
	if s, _ := d.String(); s != "Balances" {
		t.Errorf("string = %q", s)
	}
	ss, _ := d.Strings()
	if len(ss) != 2 || ss[0] != "a" || ss[1] != "bc" {
		t.Errorf("strings = %v", ss)
	}
	if some, _ := d.Option(); some {
		t.Error("first option should be None")
	}
	if some, _ := d.Option(); !some {
		t.Error("second option should be Some")
	}
	if v, _ := d.U32(); v != 7 {
		t.Errorf("u32 = %d", v)
	}
	if b, _ := d.Bytes(); !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Errorf("bytes = %x", b)
	}
	if err := d.Done(); err != nil {
		t.Error(err)
	}
}

func TestDecoder_Errors(t *testing.T) {
	t.Run("truncated u32", func(t *testing.T) {
		_, err := NewDecoder([]byte{1, 2}).U32()
		if !errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("length beyond input", func(t *testing.T) {
		_, err := NewDecoder([]byte{0x10, 'a'}).Bytes()
		if !errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("bad bool", func(t *testing.T) {
		if _, err := NewDecoder([]byte{2}).Bool(); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("bad option", func(t *testing.T) {
		if _, err := NewDecoder([]byte{9}).Option(); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("trailing", func(t *testing.T) {
		d := NewDecoder([]byte{1, 2})
		d.U8()
		if !errors.Is(d.Done(), ErrTrailingBytes) {
			t.Errorf("err = %v", d.Done())
		}
	})
	t.Run("compact overflow", func(t *testing.T) {
		enc := NewEncoder().CompactBig(new(big.Int).Lsh(big.NewInt(1), 70)).Bytes()
		if _, err := NewDecoder(enc).CompactU64(); err == nil {
			t.Error("expected overflow error")
		}
	})
}

func TestDecoder_Fork(t *testing.T) {
	d := NewDecoder([]byte{1, 2, 3})
	if _, err := d.U8(); err != nil {
		t.Fatal(err)
	}

	f := d.Fork()
	if v, err := f.U16(); err != nil || v != 0x0302 {
		t.Fatalf("fork U16 = %#x, %v", v, err)
	}
	if f.Remaining() != 0 {
		t.Errorf("fork remaining = %d", f.Remaining())
	}
	if d.Offset() != 1 || d.Remaining() != 2 {
		t.Errorf("parent moved: offset %d remaining %d", d.Offset(), d.Remaining())
	}
}
