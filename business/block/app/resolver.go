// Package app resolves block identifiers to concrete blocks per chain.
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
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/substrate-sidecar/business/block/domain"
	chainapp "github.com/fd1az/substrate-sidecar/business/chain/app"
	chaindomain "github.com/fd1az/substrate-sidecar/business/chain/domain"
	storagedomain "github.com/fd1az/substrate-sidecar/business/storage/domain"
	"github.com/fd1az/substrate-sidecar/internal/apm"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/internal/cache"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/pkg/scale"
)

const (
	tracerName = "github.com/fd1az/substrate-sidecar/business/block/app"
	meterName  = "github.com/fd1az/substrate-sidecar/business/block/app"
)

// Head modes.
const (
	HeadFinalized = "finalized"
	HeadBest      = "best"
)

const timestampCacheSize = 8192

// Callers resolves the node caller for a chain role.
type Callers interface {
	MustGet(role chaindomain.Role) (chainapp.Caller, error)
}

// Options tune the resolver.
type Options struct {
	FetchConcurrency int
	CacheSize        int
	CacheTTL         time.Duration
	HeadMode         string
}

type resolverMetrics struct {
	resolves      metric.Int64Counter
	rangeDuration metric.Float64Histogram
}

// Resolver turns heights, hashes and head into BlockRefs. Blocks at or below
// the last finalized height seen for a chain are cached.
type Resolver struct {
	callers Callers
	opts    Options
	logger  logger.LoggerInterface

	refs       *cache.Cache[string, domain.BlockRef]
	timestamps *cache.Cache[string, uint64]
	nowKey     []byte

	mu        sync.Mutex
	finalized map[chaindomain.Role]uint64

	tracer  trace.Tracer
	metrics *resolverMetrics
}

// NewResolver creates a resolver.
func NewResolver(callers Callers, opts Options, log logger.LoggerInterface) (*Resolver, error) {
	if opts.FetchConcurrency < 1 {
		opts.FetchConcurrency = 1
	}
	if opts.HeadMode == "" {
		opts.HeadMode = HeadFinalized
	}
	if opts.HeadMode != HeadFinalized && opts.HeadMode != HeadBest {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContextf("unknown head mode %q", opts.HeadMode))
	}

	r := &Resolver{
		callers:    callers,
		opts:       opts,
		logger:     log,
		refs:       cache.New[string, domain.BlockRef](opts.CacheTTL, cache.WithMaxEntries(opts.CacheSize)),
		timestamps: cache.New[string, uint64](cache.NoExpiration, cache.WithMaxEntries(timestampCacheSize)),
		nowKey:     storagedomain.Prefix("Timestamp", "Now").Bytes(),
		finalized:  make(map[chaindomain.Role]uint64),
		tracer:     otel.Tracer(tracerName),
	}
	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return r, nil
}

func (r *Resolver) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	r.metrics = &resolverMetrics{}

	r.metrics.resolves, err = meter.Int64Counter(
		"block_resolve_total",
		metric.WithDescription("Block resolutions by identifier kind and cache result"),
		metric.WithUnit("{resolve}"),
	)
	if err != nil {
		return err
	}

	r.metrics.rangeDuration, err = meter.Float64Histogram(
		"block_range_fetch_duration_ms",
		metric.WithDescription("Time to resolve a block range"),
		metric.WithUnit("ms"),
	)
	return err
}

// Close drops the caches.
func (r *Resolver) Close() error {
	r.refs.Close()
	r.timestamps.Close()
	return nil
}

// Resolve returns the block addressed by at on the chain with role.
func (r *Resolver) Resolve(ctx context.Context, role chaindomain.Role, at domain.At) (domain.BlockRef, error) {
	caller, err := r.callers.MustGet(role)
	if err != nil {
		return domain.BlockRef{}, err
	}

	switch at.Kind {
	case domain.AtHead:
		r.record(ctx, role, "head", "miss")
		if r.opts.HeadMode == HeadBest {
			return r.best(ctx, caller, role)
		}
		return r.finalizedHead(ctx, caller, role)

	case domain.AtHeight:
		key := refKey(role, "#"+strconv.FormatUint(at.Height, 10))
		if ref, ok := r.refs.Get(ctx, key); ok {
			r.record(ctx, role, "height", "hit")
			return ref, nil
		}
		r.record(ctx, role, "height", "miss")

		var hash *string
		if err := caller.Call(ctx, &hash, "chain_getBlockHash", at.Height); err != nil {
			return domain.BlockRef{}, err
		}
		if hash == nil {
			return domain.BlockRef{}, apperror.New(apperror.CodeBlockNotFound,
				apperror.WithContextf("%s block #%d", role, at.Height))
		}
		ref := domain.BlockRef{Hash: *hash, Height: at.Height}
		r.remember(ctx, role, ref)
		return ref, nil

	case domain.AtHash:
		key := refKey(role, at.Hash)
		if ref, ok := r.refs.Get(ctx, key); ok {
			r.record(ctx, role, "hash", "hit")
			return ref, nil
		}
		r.record(ctx, role, "hash", "miss")

		ref, err := r.header(ctx, caller, role, at.Hash)
		if err != nil {
			return domain.BlockRef{}, err
		}
		r.remember(ctx, role, ref)
		return ref, nil
	}

	return domain.BlockRef{}, apperror.New(apperror.CodeInvalidBlockID,
		apperror.WithContextf("unknown block identifier kind %d", at.Kind))
}

// Finalized returns the latest finalized block, regardless of head mode.
func (r *Resolver) Finalized(ctx context.Context, role chaindomain.Role) (domain.BlockRef, error) {
	caller, err := r.callers.MustGet(role)
	if err != nil {
		return domain.BlockRef{}, err
	}
	return r.finalizedHead(ctx, caller, role)
}

// FinalizedHeight returns the height of the latest finalized block.
func (r *Resolver) FinalizedHeight(ctx context.Context, role chaindomain.Role) (uint64, error) {
	ref, err := r.Finalized(ctx, role)
	if err != nil {
		return 0, err
	}
	return ref.Height, nil
}

// WithTimestamp returns ref carrying its Timestamp.Now value. A block without
// the value (genesis) gets timestamp zero.
func (r *Resolver) WithTimestamp(ctx context.Context, role chaindomain.Role, ref domain.BlockRef) (domain.BlockRef, error) {
	if ref.HasTimestamp() {
		return ref, nil
	}
	key := refKey(role, ref.Hash)
	if ms, ok := r.timestamps.Get(ctx, key); ok {
		return ref.WithTimestamp(ms), nil
	}

	caller, err := r.callers.MustGet(role)
	if err != nil {
		return domain.BlockRef{}, err
	}
	raw, found, err := chainapp.GetStorage(ctx, caller, r.nowKey, ref.Hash)
	if err != nil {
		return domain.BlockRef{}, err
	}

	var ms uint64
	if found {
		if ms, err = scale.NewDecoder(raw).U64(); err != nil {
			return domain.BlockRef{}, apperror.New(apperror.CodeValueDecodeError,
				apperror.WithCause(err),
				apperror.WithContextf("%s timestamp at %s", role, ref))
		}
	}
	r.timestamps.Set(ctx, key, ms, 0)
	return ref.WithTimestamp(ms), nil
}

// ResolveRange resolves heights from through to inclusive, in height order.
// At most FetchConcurrency lookups run at once; the rest wait.
func (r *Resolver) ResolveRange(ctx context.Context, role chaindomain.Role, from, to uint64) ([]domain.BlockRef, error) {
	if from > to {
		return nil, apperror.New(apperror.CodeInvalidBlockID,
			apperror.WithContextf("range %d..%d is reversed", from, to))
	}

	ctx, span := r.tracer.Start(ctx, "block.resolve_range",
		trace.WithAttributes(
			attribute.String("chain", string(role)),
			attribute.Int64("from", int64(from)),
			attribute.Int64("to", int64(to)),
		))
	defer span.End()
	start := time.Now()

	refs := make([]domain.BlockRef, to-from+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.FetchConcurrency)
	for i := range refs {
		g.Go(func() error {
			ref, err := r.Resolve(gctx, role, domain.Height(from+uint64(i)))
			if err != nil {
				return err
			}
			refs[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apm.Fail(span, err)
	}

	r.metrics.rangeDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("chain", string(role))))
	return refs, nil
}

func (r *Resolver) finalizedHead(ctx context.Context, caller chainapp.Caller, role chaindomain.Role) (domain.BlockRef, error) {
	var hash string
	if err := caller.Call(ctx, &hash, "chain_getFinalizedHead"); err != nil {
		return domain.BlockRef{}, err
	}
	ref, err := r.header(ctx, caller, role, hash)
	if err != nil {
		return domain.BlockRef{}, err
	}
	r.noteFinalized(role, ref.Height)
	r.remember(ctx, role, ref)
	return ref, nil
}

func (r *Resolver) best(ctx context.Context, caller chainapp.Caller, role chaindomain.Role) (domain.BlockRef, error) {
	var h *domain.Header
	if err := caller.Call(ctx, &h, "chain_getHeader"); err != nil {
		return domain.BlockRef{}, err
	}
	if h == nil {
		return domain.BlockRef{}, apperror.New(apperror.CodeBlockNotFound,
			apperror.WithContextf("%s has no best block", role))
	}
	height, err := h.Height()
	if err != nil {
		return domain.BlockRef{}, err
	}

	var hash *string
	if err := caller.Call(ctx, &hash, "chain_getBlockHash", height); err != nil {
		return domain.BlockRef{}, err
	}
	if hash == nil {
		return domain.BlockRef{}, apperror.New(apperror.CodeBlockNotFound,
			apperror.WithContextf("%s best block #%d", role, height))
	}
	return domain.BlockRef{Hash: *hash, Height: height}, nil
}

func (r *Resolver) header(ctx context.Context, caller chainapp.Caller, role chaindomain.Role, hash string) (domain.BlockRef, error) {
	var h *domain.Header
	if err := caller.Call(ctx, &h, "chain_getHeader", hash); err != nil {
		return domain.BlockRef{}, err
	}
	if h == nil {
		return domain.BlockRef{}, apperror.New(apperror.CodeBlockNotFound,
			apperror.WithContextf("%s block %s", role, hash))
	}
	height, err := h.Height()
	if err != nil {
		return domain.BlockRef{}, err
	}
	return domain.BlockRef{Hash: hash, Height: height}, nil
}

func (r *Resolver) noteFinalized(role chaindomain.Role, height uint64) {
	r.mu.Lock()
	if height > r.finalized[role] {
		r.finalized[role] = height
	}
	r.mu.Unlock()
}

// remember caches ref under both its height and hash once it is final.
func (r *Resolver) remember(ctx context.Context, role chaindomain.Role, ref domain.BlockRef) {
	r.mu.Lock()
	final, seen := r.finalized[role]
	r.mu.Unlock()
	if !seen || ref.Height > final {
		return
	}
	r.refs.Set(ctx, refKey(role, "#"+strconv.FormatUint(ref.Height, 10)), ref, 0)
	r.refs.Set(ctx, refKey(role, ref.Hash), ref, 0)
}

func (r *Resolver) record(ctx context.Context, role chaindomain.Role, kind, result string) {
	r.metrics.resolves.Add(ctx, 1, metric.WithAttributes(
		attribute.String("chain", string(role)),
		attribute.String("kind", kind),
		attribute.String("cache", result),
	))
}

func refKey(role chaindomain.Role, id string) string {
	return string(role) + "/" + id
}
