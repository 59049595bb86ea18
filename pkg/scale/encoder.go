package scale

import (
	"encoding/binary"
	"math/big"
)

// Encoder appends SCALE primitives to a buffer. Methods chain.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the encoded buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Raw appends b without a length prefix.
func (e *Encoder) Raw(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

func (e *Encoder) U8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		return e.U8(1)
	}
	return e.U8(0)
}

func (e *Encoder) U16(v uint16) *Encoder {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	return e
}

func (e *Encoder) U32(v uint32) *Encoder {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
	return e
}

func (e *Encoder) U64(v uint64) *Encoder {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	return e
}

// Uint appends v as an unsigned little-endian integer of size bytes. v must fit.
func (e *Encoder) Uint(v *big.Int, size int) *Encoder {
	e.buf = append(e.buf, bigToLE(v, size)...)
	return e
}

// Int appends v in two's complement over size bytes.
func (e *Encoder) Int(v *big.Int, size int) *Encoder {
	if v.Sign() < 0 {
		v = new(big.Int).Add(v, new(big.Int).Lsh(big.NewInt(1), uint(size*8)))
	}
	return e.Uint(v, size)
}

// Compact appends v in compact form.
func (e *Encoder) Compact(v uint64) *Encoder {
	switch {
	case v < 1<<6:
		return e.U8(uint8(v) << 2)
	case v < 1<<14:
		return e.U16(uint16(v)<<2 | 0b01)
	case v < 1<<30:
		return e.U32(uint32(v)<<2 | 0b10)
	default:
		return e.CompactBig(new(big.Int).SetUint64(v))
	}
}

// CompactBig appends an arbitrary-width non-negative integer in compact form.
func (e *Encoder) CompactBig(v *big.Int) *Encoder {
	if v.IsUint64() && v.Uint64() < 1<<30 {
		return e.Compact(v.Uint64())
	}
	n := (v.BitLen() + 7) / 8
	if n < 4 {
		n = 4
	}
	e.U8(uint8(n-4)<<2 | 0b11)
	e.buf = append(e.buf, bigToLE(v, n)...)
	return e
}

// Vec appends a length-prefixed byte string.
func (e *Encoder) Vec(b []byte) *Encoder {
	return e.Compact(uint64(len(b))).Raw(b)
}

func (e *Encoder) String(s string) *Encoder {
	return e.Vec([]byte(s))
}

// Strings appends a Vec<String>.
func (e *Encoder) Strings(ss []string) *Encoder {
	e.Compact(uint64(len(ss)))
	for _, s := range ss {
		e.String(s)
	}
	return e
}

// Option appends an option tag.
func (e *Encoder) Option(some bool) *Encoder {
	return e.Bool(some)
}

func bigToLE(v *big.Int, size int) []byte {
	be := v.Bytes()
	le := make([]byte, size)
	for i := 0; i < len(be) && i < size; i++ {
		le[i] = be[len(be)-1-i]
	}
	return le
}
