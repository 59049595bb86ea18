package app

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	blockdomain "github.com/fd1az/substrate-sidecar/business/block/domain"
	chainapp "github.com/fd1az/substrate-sidecar/business/chain/app"
	chaindomain "github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/business/metadata/domain"
	"github.com/fd1az/substrate-sidecar/business/metadata/infra/decoder"
	"github.com/fd1az/substrate-sidecar/internal/apm"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/internal/cache"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/pkg/scale"
)

const (
	tracerName = "github.com/fd1az/substrate-sidecar/business/metadata/app"
	meterName  = "github.com/fd1az/substrate-sidecar/business/metadata/app"
)

const (
	// runtime API entry points for versioned metadata (V15 and later)
	methodMetadataVersions  = "Metadata_metadata_versions"
	methodMetadataAtVersion = "Metadata_metadata_at_version"

	// only the portable layouts are served through the versioned API
	minVersionedMetadata = 14

	runtimeVersionCacheSize = 4096
)

type adapterMetrics struct {
	requests       metric.Int64Counter
	fetches        metric.Int64Counter
	decodeDuration metric.Float64Histogram
}

// Adapter returns one decoded snapshot per (chain, spec version). Snapshots
// are shared and must be treated as read-only by callers.
type Adapter struct {
	callers Callers
	store   RawStore
	logger  logger.LoggerInterface

	snapshots sync.Map // snapshotKey -> *domain.Snapshot
	versions  *cache.Cache[string, chainapp.RuntimeVersion]
	group     singleflight.Group

	tracer  trace.Tracer
	metrics *adapterMetrics
}

type snapshotKey struct {
	role        chaindomain.Role
	specVersion uint32
}

func (k snapshotKey) String() string {
	return string(k.role) + "/" + strconv.FormatUint(uint64(k.specVersion), 10)
}

// NewAdapter creates an adapter. store may be nil.
func NewAdapter(callers Callers, store RawStore, log logger.LoggerInterface) (*Adapter, error) {
	a := &Adapter{
		callers: callers,
		store:   store,
		logger:  log,
		versions: cache.New[string, chainapp.RuntimeVersion](cache.NoExpiration,
			cache.WithMaxEntries(runtimeVersionCacheSize)),
		tracer: otel.Tracer(tracerName),
	}
	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return a, nil
}

func (a *Adapter) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	a.metrics = &adapterMetrics{}

	a.metrics.requests, err = meter.Int64Counter(
		"metadata_snapshot_requests_total",
		metric.WithDescription("Snapshot lookups by cache result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	a.metrics.fetches, err = meter.Int64Counter(
		"metadata_fetches_total",
		metric.WithDescription("Raw metadata loads by source"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	a.metrics.decodeDuration, err = meter.Float64Histogram(
		"metadata_decode_duration_ms",
		metric.WithDescription("Time to decode raw metadata into a snapshot"),
		metric.WithUnit("ms"),
	)
	return err
}

// RuntimeVersion returns the runtime version at block, memoized per (chain, hash).
func (a *Adapter) RuntimeVersion(ctx context.Context, role chaindomain.Role, at blockdomain.BlockRef) (chainapp.RuntimeVersion, error) {
	key := string(role) + "/" + at.Hash
	if rv, ok := a.versions.Get(ctx, key); ok {
		return rv, nil
	}

	c, err := a.callers.MustGet(role)
	if err != nil {
		return chainapp.RuntimeVersion{}, err
	}
	rv, err := chainapp.GetRuntimeVersion(ctx, c, at.Hash)
	if err != nil {
		return chainapp.RuntimeVersion{}, err
	}

	a.versions.Set(ctx, key, rv, 0)
	return rv, nil
}

// Snapshot returns the metadata snapshot for the runtime active at block.
func (a *Adapter) Snapshot(ctx context.Context, role chaindomain.Role, at blockdomain.BlockRef) (*domain.Snapshot, error) {
	ctx, span := a.tracer.Start(ctx, "metadata.snapshot",
		trace.WithAttributes(
			attribute.String("chain", string(role)),
			attribute.String("block.hash", at.Hash),
		))
	defer span.End()

	rv, err := a.RuntimeVersion(ctx, role, at)
	if err != nil {
		return nil, apm.Fail(span, err)
	}
	key := snapshotKey{role: role, specVersion: rv.SpecVersion}
	span.SetAttributes(attribute.Int64("spec_version", int64(rv.SpecVersion)))

	if v, ok := a.snapshots.Load(key); ok {
		a.recordRequest(ctx, role, "hit")
		return v.(*domain.Snapshot), nil
	}
	a.recordRequest(ctx, role, "miss")

	ch := a.group.DoChan(key.String(), func() (any, error) {
		if v, ok := a.snapshots.Load(key); ok {
			return v, nil
		}
		snap, err := a.build(context.WithoutCancel(ctx), role, at.Hash, rv.SpecVersion)
		if err != nil {
			return nil, err
		}
		a.snapshots.Store(key, snap)
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, apm.Fail(span, res.Err)
		}
		return res.Val.(*domain.Snapshot), nil
	}
}

// Cached reports whether a snapshot for (role, specVersion) is held.
func (a *Adapter) Cached(role chaindomain.Role, specVersion uint32) bool {
	_, ok := a.snapshots.Load(snapshotKey{role: role, specVersion: specVersion})
	return ok
}

// StoredVersions lists the spec versions persisted for role's endpoint, or
// nil when the adapter runs without a store.
func (a *Adapter) StoredVersions(role chaindomain.Role) ([]uint32, error) {
	if a.store == nil {
		return nil, nil
	}
	c, err := a.callers.MustGet(role)
	if err != nil {
		return nil, err
	}
	return a.store.Versions(c.Endpoint().URL)
}

func (a *Adapter) recordRequest(ctx context.Context, role chaindomain.Role, result string) {
	a.metrics.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("chain", string(role)),
		attribute.String("result", result),
	))
}

func (a *Adapter) build(ctx context.Context, role chaindomain.Role, hash string, specVersion uint32) (*domain.Snapshot, error) {
	c, err := a.callers.MustGet(role)
	if err != nil {
		return nil, err
	}
	endpoint := c.Endpoint().URL

	raw, source, err := a.load(ctx, c, endpoint, hash, specVersion)
	if err != nil {
		return nil, err
	}
	a.metrics.fetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("chain", string(role)),
		attribute.String("source", source),
	))

	start := time.Now()
	snap, err := decoder.Decode(raw)
	a.metrics.decodeDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("chain", string(role))))
	if err != nil {
		a.logger.Error(ctx, "metadata decode failed",
			"chain", role, "spec_version", specVersion, "source", source, "error", err)
		return nil, err
	}
	snap.SpecVersion = specVersion

	if source != "store" && a.store != nil {
		if err := a.store.Put(ctx, endpoint, specVersion, raw); err != nil {
			a.logger.Warn(ctx, "failed to persist metadata",
				"chain", role, "spec_version", specVersion, "error", err)
		}
	}

	a.logger.Info(ctx, "metadata loaded",
		"chain", role,
		"spec_version", specVersion,
		"metadata_version", snap.Version,
		"pallets", len(snap.Pallets),
		"types", snap.Types.Len(),
		"source", source,
	)
	return snap, nil
}

// load returns raw metadata and where it came from: store, versioned or legacy.
func (a *Adapter) load(ctx context.Context, c chainapp.Caller, endpoint, hash string, specVersion uint32) ([]byte, string, error) {
	if a.store != nil {
		raw, ok, err := a.store.Get(ctx, endpoint, specVersion)
		switch {
		case err != nil:
			a.logger.Warn(ctx, "metadata store read failed", "spec_version", specVersion, "error", err)
		case ok:
			return raw, "store", nil
		}
	}

	raw, err := a.fetchVersioned(ctx, c, hash)
	if err == nil {
		return raw, "versioned", nil
	}
	// Runtimes without the versioned API answer with a JSON-RPC error.
	if !apperror.HasCode(err, apperror.CodeRPCError) {
		return nil, "", err
	}
	a.logger.Debug(ctx, "versioned metadata unavailable, falling back", "error", err)

	raw, err = chainapp.GetMetadata(ctx, c, hash)
	if err != nil {
		return nil, "", err
	}
	return raw, "legacy", nil
}

// fetchVersioned asks the runtime for the newest metadata version this
// decoder understands.
func (a *Adapter) fetchVersioned(ctx context.Context, c chainapp.Caller, hash string) ([]byte, error) {
	out, err := chainapp.StateCall(ctx, c, methodMetadataVersions, nil, hash)
	if err != nil {
		return nil, err
	}

	version, err := pickVersion(out)
	if err != nil {
		return nil, err
	}

	out, err = chainapp.StateCall(ctx, c, methodMetadataAtVersion, scale.NewEncoder().U32(version).Bytes(), hash)
	if err != nil {
		return nil, err
	}

	d := scale.NewDecoder(out)
	some, err := d.Option()
	if err != nil {
		return nil, rpcShapeError(methodMetadataAtVersion, err)
	}
	if !some {
		return nil, apperror.New(apperror.CodeRPCError,
			apperror.WithContextf("%s(%d) returned None", methodMetadataAtVersion, version))
	}
	raw, err := d.Bytes()
	if err != nil {
		return nil, rpcShapeError(methodMetadataAtVersion, err)
	}
	return raw, nil
}

// pickVersion selects the highest supported version from an encoded Vec<u32>.
func pickVersion(encoded []byte) (uint32, error) {
	d := scale.NewDecoder(encoded)
	n, err := d.Len()
	if err != nil {
		return 0, rpcShapeError(methodMetadataVersions, err)
	}

	var best uint32
	for i := 0; i < n; i++ {
		v, err := d.U32()
		if err != nil {
			return 0, rpcShapeError(methodMetadataVersions, err)
		}
		if v >= minVersionedMetadata && v <= decoder.MaxVersion && v > best {
			best = v
		}
	}
	if best == 0 {
		return 0, apperror.New(apperror.CodeRPCError,
			apperror.WithContextf("%s: no supported version", methodMetadataVersions))
	}
	return best, nil
}

func rpcShapeError(method string, err error) error {
	return apperror.New(apperror.CodeRPCError,
		apperror.WithCause(err),
		apperror.WithMessage("unexpected runtime API output"),
		apperror.WithContext(method))
}
