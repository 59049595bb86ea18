package app

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	blockdomain "github.com/fd1az/substrate-sidecar/business/block/domain"
	chainapp "github.com/fd1az/substrate-sidecar/business/chain/app"
	chaindomain "github.com/fd1az/substrate-sidecar/business/chain/domain"
	metadata "github.com/fd1az/substrate-sidecar/business/metadata/domain"
	"github.com/fd1az/substrate-sidecar/business/storage/domain"
	"github.com/fd1az/substrate-sidecar/internal/apm"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/internal/logger"
)

const tracerName = "github.com/fd1az/substrate-sidecar/business/storage/app"

// StorageResult is a decoded storage value at a block.
type StorageResult struct {
	At          blockdomain.BlockRef `json:"at"`
	Pallet      string               `json:"pallet"`
	PalletIndex uint8                `json:"palletIndex,string"`
	StorageItem string               `json:"storageItem"`
	Keys        []string             `json:"keys,omitempty"`
	Value       domain.Value         `json:"value"`
}

// ConstantResult is a decoded pallet constant at a block.
type ConstantResult struct {
	At           blockdomain.BlockRef `json:"at"`
	Pallet       string               `json:"pallet"`
	PalletIndex  uint8                `json:"palletIndex,string"`
	ConstantItem string               `json:"constantItem"`
	Value        domain.Value         `json:"value"`
}

// MetadataResult is the pallet catalog in force at a block.
type MetadataResult struct {
	At              blockdomain.BlockRef     `json:"at"`
	SpecVersion     uint32                   `json:"specVersion,string"`
	MetadataVersion uint8                    `json:"metadataVersion"`
	Pallets         []metadata.PalletSummary `json:"pallets"`

	Snapshot *metadata.Snapshot `json:"-"`
}

// Service answers storage, constant and metadata queries for any configured chain.
type Service struct {
	callers   Callers
	blocks    BlockResolver
	snapshots Snapshots
	keys      *KeyCodec
	decoder   *Decoder
	logger    logger.LoggerInterface
	tracer    trace.Tracer
}

// NewService wires a storage service.
func NewService(callers Callers, blocks BlockResolver, snapshots Snapshots, decoder *Decoder, log logger.LoggerInterface) *Service {
	return &Service{
		callers:   callers,
		blocks:    blocks,
		snapshots: snapshots,
		keys:      NewKeyCodec(),
		decoder:   decoder,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
	}
}

func (s *Service) resolve(ctx context.Context, role chaindomain.Role, at blockdomain.At) (blockdomain.BlockRef, *metadata.Snapshot, error) {
	ref, err := s.blocks.Resolve(ctx, role, at)
	if err != nil {
		return blockdomain.BlockRef{}, nil, err
	}
	snap, err := s.snapshots.Snapshot(ctx, role, ref)
	if err != nil {
		return blockdomain.BlockRef{}, nil, err
	}
	return ref, snap, nil
}

// QueryStorage reads and decodes pallet.item at block. Maps need every key.
// A missing value reads as the item's default, or null for Optional items.
func (s *Service) QueryStorage(ctx context.Context, role chaindomain.Role, pallet, item string, keys []string, at blockdomain.At) (*StorageResult, error) {
	ctx, span := s.tracer.Start(ctx, "storage.query",
		trace.WithAttributes(
			attribute.String("chain", string(role)),
			attribute.String("pallet", pallet),
			attribute.String("item", item),
			attribute.String("at", at.String()),
		))
	defer span.End()

	ref, snap, err := s.resolve(ctx, role, at)
	if err != nil {
		return nil, apm.Fail(span, err)
	}

	rk, err := s.keys.KeyFor(snap, pallet, item, keys)
	if err != nil {
		return nil, apm.Fail(span, err)
	}
	if !rk.Complete() {
		return nil, apm.Fail(span, apperror.New(apperror.CodeInvalidStorageKey,
			apperror.WithContextf("%s.%s takes %d keys, got %d",
				rk.Pallet.Name, rk.Entry.Name, len(rk.Entry.Hashers), len(keys))))
	}

	caller, err := s.callers.MustGet(role)
	if err != nil {
		return nil, apm.Fail(span, err)
	}
	raw, found, err := chainapp.GetStorage(ctx, caller, rk.Key.Bytes(), ref.Hash)
	if err != nil {
		return nil, apm.Fail(span, err)
	}

	result := &StorageResult{
		At:          ref,
		Pallet:      rk.Pallet.Name,
		PalletIndex: rk.Pallet.Index,
		StorageItem: rk.Entry.Name,
		Keys:        keys,
	}

	if !found {
		if rk.Entry.Modifier != metadata.ModifierDefault {
			return result, nil
		}
		raw = rk.Entry.Default
	}

	result.Value, err = s.decoder.Decode(snap.Types, rk.Entry.Value, raw)
	if err != nil {
		s.logger.Warn(ctx, "storage value decode failed",
			"chain", role, "pallet", rk.Pallet.Name, "item", rk.Entry.Name,
			"key", rk.Key.Hex(), "error", err)
		return nil, apm.Fail(span, err)
	}
	return result, nil
}

// StorageKey returns the hex key of pallet.item with keys, resolving the
// runtime at block. Partial keys give an iteration prefix.
func (s *Service) StorageKey(ctx context.Context, role chaindomain.Role, pallet, item string, keys []string, at blockdomain.At) (string, error) {
	_, snap, err := s.resolve(ctx, role, at)
	if err != nil {
		return "", err
	}
	rk, err := s.keys.KeyFor(snap, pallet, item, keys)
	if err != nil {
		return "", err
	}
	return rk.Key.Hex(), nil
}

// Constant decodes a pallet constant from the metadata in force at block.
func (s *Service) Constant(ctx context.Context, role chaindomain.Role, pallet, name string, at blockdomain.At) (*ConstantResult, error) {
	ctx, span := s.tracer.Start(ctx, "storage.constant",
		trace.WithAttributes(
			attribute.String("chain", string(role)),
			attribute.String("pallet", pallet),
			attribute.String("constant", name),
		))
	defer span.End()

	ref, snap, err := s.resolve(ctx, role, at)
	if err != nil {
		return nil, apm.Fail(span, err)
	}
	p, err := snap.Pallet(pallet)
	if err != nil {
		return nil, apm.Fail(span, err)
	}
	c, err := p.Constant(name)
	if err != nil {
		return nil, apm.Fail(span, err)
	}

	value, err := s.decoder.Decode(snap.Types, c.Type, c.Value)
	if err != nil {
		return nil, apm.Fail(span, err)
	}
	return &ConstantResult{
		At:           ref,
		Pallet:       p.Name,
		PalletIndex:  p.Index,
		ConstantItem: c.Name,
		Value:        value,
	}, nil
}

// Metadata lists the pallets of the runtime in force at block.
func (s *Service) Metadata(ctx context.Context, role chaindomain.Role, at blockdomain.At) (*MetadataResult, error) {
	ref, snap, err := s.resolve(ctx, role, at)
	if err != nil {
		return nil, err
	}
	return &MetadataResult{
		At:              ref,
		SpecVersion:     snap.SpecVersion,
		MetadataVersion: snap.Version,
		Pallets:         snap.Summary(),
		Snapshot:        snap,
	}, nil
}
