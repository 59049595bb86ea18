// Package ss58 encodes and decodes Substrate SS58 addresses.
package ss58

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

var checksumPrefix = []byte("SS58PRE")

// ErrInvalidAddress is returned for malformed or mis-checksummed addresses.
var ErrInvalidAddress = errors.New("ss58: invalid address")

// MaxPrefix is the largest network identifier SS58 can carry.
const MaxPrefix = 16383

// Encode renders payload (usually a 32-byte public key) under network prefix.
func Encode(payload []byte, prefix uint16) (string, error) {
	if prefix > MaxPrefix {
		return "", fmt.Errorf("ss58: prefix %d out of range", prefix)
	}
	sumLen, err := checksumLen(len(payload))
	if err != nil {
		return "", err
	}

	var buf []byte
	if prefix < 64 {
		buf = append(buf, byte(prefix))
	} else {
		buf = append(buf,
			byte((prefix&0b1111_1100)>>2)|0b0100_0000,
			byte(prefix>>8)|byte(prefix&0b11)<<6,
		)
	}
	buf = append(buf, payload...)
	sum := checksum(buf)
	buf = append(buf, sum[:sumLen]...)

	return base58.Encode(buf), nil
}

// Decode parses addr and returns its payload and network prefix.
func Decode(addr string) ([]byte, uint16, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) < 2 {
		return nil, 0, ErrInvalidAddress
	}

	var prefix uint16
	var prefixLen int
	switch {
	case raw[0] < 64:
		prefix, prefixLen = uint16(raw[0]), 1
	case raw[0] < 128:
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0b0011_1111
		prefix, prefixLen = uint16(lower)|uint16(upper)<<8, 2
	default:
		return nil, 0, fmt.Errorf("%w: reserved prefix byte 0x%02x", ErrInvalidAddress, raw[0])
	}

	var sumLen int
	switch len(raw) - prefixLen {
	case 2, 3, 5, 9:
		sumLen = 1
	case 34, 35:
		sumLen = 2
	default:
		return nil, 0, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(raw))
	}

	body := raw[:len(raw)-sumLen]
	sum := checksum(body)
	if !bytes.Equal(sum[:sumLen], raw[len(raw)-sumLen:]) {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return body[prefixLen:], prefix, nil
}

func checksumLen(payloadLen int) (int, error) {
	switch payloadLen {
	case 1, 2, 4, 8:
		return 1, nil
	case 32, 33:
		return 2, nil
	default:
		return 0, fmt.Errorf("ss58: unsupported payload length %d", payloadLen)
	}
}

func checksum(data []byte) [64]byte {
	return blake2b.Sum512(append(append([]byte{}, checksumPrefix...), data...))
}
