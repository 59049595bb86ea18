// Package decoder turns raw runtime metadata bytes (V9 through V16) into a domain.Snapshot.
package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/fd1az/substrate-sidecar/business/metadata/domain"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/pkg/scale"
)

// Magic is the "meta" prefix of every encoded metadata blob.
const Magic uint32 = 0x6174656d

const (
	MinVersion = 9
	MaxVersion = 16
)

// Decode parses a prefixed metadata blob. The spec version is not part of
// metadata; callers set Snapshot.SpecVersion.
//
// Only the type registry and pallet list are read. Extrinsic, runtime API and
// outer enum sections that follow are not needed by any consumer and are skipped.
func Decode(raw []byte) (*domain.Snapshot, error) {
	if len(raw) < 5 {
		return nil, decodeError(fmt.Errorf("input too short (%d bytes)", len(raw)), "prefix")
	}
	if magic := binary.LittleEndian.Uint32(raw[:4]); magic != Magic {
		return nil, decodeError(fmt.Errorf("bad magic 0x%08x", magic), "prefix")
	}

	version := raw[4]
	d := scale.NewDecoder(raw[5:])

	var (
		snap *domain.Snapshot
		err  error
	)
	switch {
	case version >= MinVersion && version <= 13:
		snap, err = decodeLegacy(d, version)
	case version >= 14 && version <= MaxVersion:
		snap, err = decodePortable(d, version)
	default:
		return nil, apperror.New(apperror.CodeMetadataDecodeError,
			apperror.WithContextf("unsupported metadata version V%d", version))
	}
	if err != nil {
		return nil, err
	}

	snap.Version = version
	return snap, nil
}

// Version returns the metadata version byte of a prefixed blob without decoding it.
func Version(raw []byte) (uint8, error) {
	if len(raw) < 5 || binary.LittleEndian.Uint32(raw[:4]) != Magic {
		return 0, decodeError(fmt.Errorf("not a metadata blob"), "prefix")
	}
	return raw[4], nil
}

func decodeError(err error, where string, args ...any) error {
	return apperror.New(apperror.CodeMetadataDecodeError,
		apperror.WithCause(err),
		apperror.WithContextf(where, args...))
}

func hasher(d *scale.Decoder) (domain.Hasher, error) {
	b, err := d.U8()
	if err != nil {
		return "", err
	}
	if int(b) >= len(domain.HasherByIndex) {
		return "", fmt.Errorf("unknown storage hasher %d", b)
	}
	return domain.HasherByIndex[b], nil
}

func modifier(d *scale.Decoder) (domain.Modifier, error) {
	b, err := d.U8()
	if err != nil {
		return "", err
	}
	switch b {
	case 0:
		return domain.ModifierOptional, nil
	case 1:
		return domain.ModifierDefault, nil
	default:
		return "", fmt.Errorf("unknown storage modifier %d", b)
	}
}
