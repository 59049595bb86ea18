// Package scale reads and writes the SCALE primitives Substrate runtimes use:
// fixed-width little-endian integers, compact integers, length-prefixed byte
// strings and option tags. Type-directed decoding lives with its callers.
package scale

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
)

var (
	// ErrUnexpectedEOF is returned when input ends inside a value.
	ErrUnexpectedEOF = errors.New("scale: unexpected end of input")

	// ErrTrailingBytes is returned by Done when input is left unread.
	ErrTrailingBytes = errors.New("scale: trailing bytes")
)

// Decoder is a cursor over a SCALE byte string.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder returns a decoder positioned at the start of b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{data: b}
}

// Offset is the number of bytes consumed so far.
func (d *Decoder) Offset() int { return d.pos }

// Remaining is the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

// Fork returns an independent cursor at the current offset.
func (d *Decoder) Fork() *Decoder { return &Decoder{data: d.data, pos: d.pos} }

// Done reports ErrTrailingBytes if any input is unread.
func (d *Decoder) Done() error {
	if n := d.Remaining(); n > 0 {
		return fmt.Errorf("%w: %d unread at offset %d", ErrTrailingBytes, n, d.pos)
	}
	return nil
}

// Fixed reads exactly n bytes. The returned slice aliases the input.
func (d *Decoder) Fixed(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrUnexpectedEOF, n, d.pos, d.Remaining())
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) U8() (uint8, error) {
	b, err := d.Fixed(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool reads a 0x00/0x01 byte. Any other value is an error.
func (d *Decoder) Bool() (bool, error) {
	v, err := d.U8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("scale: invalid bool byte 0x%02x at offset %d", v, d.pos-1)
	}
}

func (d *Decoder) U16() (uint16, error) {
	b, err := d.Fixed(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) U32() (uint32, error) {
	b, err := d.Fixed(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) U64() (uint64, error) {
	b, err := d.Fixed(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Decoder) I8() (int8, error) {
	v, err := d.U8()
	return int8(v), err
}

func (d *Decoder) I16() (int16, error) {
	v, err := d.U16()
	return int16(v), err
}

func (d *Decoder) I32() (int32, error) {
	v, err := d.U32()
	return int32(v), err
}

func (d *Decoder) I64() (int64, error) {
	v, err := d.U64()
	return int64(v), err
}

// Uint reads an unsigned little-endian integer of size bytes (16 for u128, 32 for u256).
func (d *Decoder) Uint(size int) (*big.Int, error) {
	b, err := d.Fixed(size)
	if err != nil {
		return nil, err
	}
	return leToBig(b), nil
}

// Int reads a two's complement little-endian integer of size bytes.
func (d *Decoder) Int(size int) (*big.Int, error) {
	v, err := d.Uint(size)
	if err != nil {
		return nil, err
	}
	if v.Bit(size*8-1) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(size*8)))
	}
	return v, nil
}

// Compact reads a compact-encoded unsigned integer of any width.
func (d *Decoder) Compact() (*big.Int, error) {
	first, err := d.U8()
	if err != nil {
		return nil, err
	}

	switch first & 0b11 {
	case 0b00:
		return big.NewInt(int64(first >> 2)), nil
	case 0b01:
		next, err := d.U8()
		if err != nil {
			return nil, err
		}
		return big.NewInt(int64(uint16(first)|uint16(next)<<8) >> 2), nil
	case 0b10:
		rest, err := d.Fixed(3)
		if err != nil {
			return nil, err
		}
		v := uint32(first) | uint32(rest[0])<<8 | uint32(rest[1])<<16 | uint32(rest[2])<<24
		return big.NewInt(int64(v >> 2)), nil
	default:
		n := int(first>>2) + 4
		b, err := d.Fixed(n)
		if err != nil {
			return nil, err
		}
		return leToBig(b), nil
	}
}

// CompactU64 reads a compact integer that must fit in 64 bits.
func (d *Decoder) CompactU64() (uint64, error) {
	v, err := d.Compact()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("scale: compact value %s overflows u64 at offset %d", v, d.pos)
	}
	return v.Uint64(), nil
}

// Len reads a compact collection length. Lengths larger than the remaining
// input are rejected since every element takes at least one byte.
func (d *Decoder) Len() (int, error) {
	v, err := d.CompactU64()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 || int(v) > d.Remaining() {
		return 0, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrUnexpectedEOF, v, d.Remaining())
	}
	return int(v), nil
}

// Bytes reads a length-prefixed byte string (Vec<u8>).
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Len()
	if err != nil {
		return nil, err
	}
	return d.Fixed(n)
}

// String reads a length-prefixed UTF-8 string.
func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Strings reads a Vec<String>.
func (d *Decoder) Strings() ([]string, error) {
	n, err := d.Len()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Option reads an option tag and reports whether a value follows.
func (d *Decoder) Option() (bool, error) {
	tag, err := d.U8()
	if err != nil {
		return false, err
	}
	switch tag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("scale: invalid option tag 0x%02x at offset %d", tag, d.pos-1)
	}
}

func leToBig(le []byte) *big.Int {
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}
