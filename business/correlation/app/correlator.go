// Package app matches Asset Hub blocks to the relay chain blocks finalized
// around the same wall-clock time.
package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	blockdomain "github.com/fd1az/substrate-sidecar/business/block/domain"
	chaindomain "github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/business/correlation/domain"
	"github.com/fd1az/substrate-sidecar/internal/apm"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/internal/logger"
)

const (
	tracerName = "github.com/fd1az/substrate-sidecar/business/correlation/app"
	meterName  = "github.com/fd1az/substrate-sidecar/business/correlation/app"
)

// Chains reports which chains are configured.
type Chains interface {
	HasRelay() bool
	AssetHubRole() chaindomain.Role
}

// Blocks resolves blocks and their timestamps.
type Blocks interface {
	Resolve(ctx context.Context, role chaindomain.Role, at blockdomain.At) (blockdomain.BlockRef, error)
	Finalized(ctx context.Context, role chaindomain.Role) (blockdomain.BlockRef, error)
	WithTimestamp(ctx context.Context, role chaindomain.Role, ref blockdomain.BlockRef) (blockdomain.BlockRef, error)
}

// Options tune the search.
type Options struct {
	// Window is how far a relay block timestamp may sit from the Asset Hub
	// timestamp and still match.
	Window time.Duration
	// RelayBlockTime seeds the height estimate.
	RelayBlockTime time.Duration
	// MaxForwardScan caps the extra relay blocks collected after the first match.
	MaxForwardScan int
}

type correlatorMetrics struct {
	requests metric.Int64Counter
	probes   metric.Int64Histogram
}

// Correlator finds relay chain blocks for Asset Hub blocks.
type Correlator struct {
	chains Chains
	blocks Blocks
	opts   Options
	logger logger.LoggerInterface

	tracer  trace.Tracer
	metrics *correlatorMetrics
}

// NewCorrelator creates a correlator.
func NewCorrelator(chains Chains, blocks Blocks, opts Options, log logger.LoggerInterface) (*Correlator, error) {
	if opts.RelayBlockTime <= 0 {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContextf("relay block time must be positive, got %s", opts.RelayBlockTime))
	}
	if opts.Window < 0 || opts.MaxForwardScan < 0 {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("correlation window and forward scan must not be negative"))
	}

	c := &Correlator{
		chains: chains,
		blocks: blocks,
		opts:   opts,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return c, nil
}

func (c *Correlator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &correlatorMetrics{}

	c.metrics.requests, err = meter.Int64Counter(
		"correlation_requests_total",
		metric.WithDescription("Relay chain correlations by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	c.metrics.probes, err = meter.Int64Histogram(
		"correlation_probes",
		metric.WithDescription("Relay blocks read per correlation"),
		metric.WithUnit("{block}"),
	)
	return err
}

// CorrelateAt resolves at on Asset Hub and correlates the resulting block.
func (c *Correlator) CorrelateAt(ctx context.Context, at blockdomain.At) (domain.RcCorrelation, error) {
	if !c.chains.HasRelay() {
		return domain.RcCorrelation{}, apperror.New(apperror.CodeRelayChainNotConfigured)
	}
	ah, err := c.blocks.Resolve(ctx, c.chains.AssetHubRole(), at)
	if err != nil {
		return domain.RcCorrelation{}, err
	}
	return c.Correlate(ctx, ah)
}

// Correlate returns the relay blocks whose timestamps match ah's. A relay
// chain with no block inside the window yields an empty result, not an error.
func (c *Correlator) Correlate(ctx context.Context, ah blockdomain.BlockRef) (domain.RcCorrelation, error) {
	if !c.chains.HasRelay() {
		return domain.RcCorrelation{}, apperror.New(apperror.CodeRelayChainNotConfigured)
	}

	ctx, span := c.tracer.Start(ctx, "correlation.correlate",
		trace.WithAttributes(
			attribute.String("ah.hash", ah.Hash),
			attribute.Int64("ah.height", int64(ah.Height)),
		))
	defer span.End()

	result, probes, err := c.correlate(ctx, ah)
	if err != nil {
		c.record(ctx, "error", probes)
		return domain.RcCorrelation{}, apm.Fail(span, err)
	}

	outcome := "matched"
	if result.Empty() {
		outcome = "empty"
		c.logger.Debug(ctx, "no relay block matched",
			"ah_block", ah.String(), "ah_timestamp", result.AhTimestamp)
	}
	span.SetAttributes(attribute.Int("rc.blocks", len(result.RcBlocks)))
	c.record(ctx, outcome, probes)
	return result, nil
}

func (c *Correlator) record(ctx context.Context, outcome string, probes int) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	c.metrics.requests.Add(ctx, 1, attrs)
	c.metrics.probes.Record(ctx, int64(probes), attrs)
}

// relaySearch reads relay blocks with their timestamps, counting reads.
type relaySearch struct {
	c      *Correlator
	probes int
}

func (s *relaySearch) at(ctx context.Context, height uint64) (blockdomain.BlockRef, error) {
	s.probes++
	ref, err := s.c.blocks.Resolve(ctx, chaindomain.RoleRelay, blockdomain.Height(height))
	if err != nil {
		return blockdomain.BlockRef{}, err
	}
	return s.c.blocks.WithTimestamp(ctx, chaindomain.RoleRelay, ref)
}

func (c *Correlator) correlate(ctx context.Context, ahRef blockdomain.BlockRef) (domain.RcCorrelation, int, error) {
	ah, err := c.blocks.WithTimestamp(ctx, c.chains.AssetHubRole(), ahRef)
	if err != nil {
		return domain.RcCorrelation{}, 0, err
	}
	target := ah.TimestampMillis()
	result := domain.RcCorrelation{AhBlock: ah, AhTimestamp: target}
	if target == 0 {
		// genesis carries no timestamp
		return result, 0, nil
	}

	head, err := c.blocks.Finalized(ctx, chaindomain.RoleRelay)
	if err != nil {
		return domain.RcCorrelation{}, 0, err
	}
	if head, err = c.blocks.WithTimestamp(ctx, chaindomain.RoleRelay, head); err != nil {
		return domain.RcCorrelation{}, 0, err
	}

	s := &relaySearch{c: c, probes: 1}
	first, found, err := c.search(ctx, s, head, target)
	if err != nil || !found {
		return result, s.probes, err
	}

	window := uint64(c.opts.Window.Milliseconds())
	if target-first.TimestampMillis() > window {
		return result, s.probes, nil
	}

	result.RcBlocks = append(result.RcBlocks, first)
	for n := first.Height + 1; n <= head.Height && len(result.RcBlocks) <= c.opts.MaxForwardScan; n++ {
		next, err := s.at(ctx, n)
		if err != nil {
			return domain.RcCorrelation{}, s.probes, err
		}
		if next.TimestampMillis() > target+window {
			break
		}
		result.RcBlocks = append(result.RcBlocks, next)
	}
	return result, s.probes, nil
}

// search finds the highest relay block at or below head with timestamp <=
// target. Timestamps are assumed non-decreasing with height.
func (c *Correlator) search(ctx context.Context, s *relaySearch, head blockdomain.BlockRef, target uint64) (blockdomain.BlockRef, bool, error) {
	if head.TimestampMillis() <= target {
		return head, true, nil
	}

	probe, err := s.at(ctx, c.estimate(head, target))
	if err != nil {
		return blockdomain.BlockRef{}, false, err
	}

	// Bracket: ts(lo) <= target < ts(hi).
	lo, hi := probe, head
	if probe.TimestampMillis() > target {
		hi = probe
		for step := uint64(2); ; step *= 2 {
			if hi.Height == 0 {
				return blockdomain.BlockRef{}, false, nil
			}
			ref, err := s.at(ctx, hi.Height-min(step, hi.Height))
			if err != nil {
				return blockdomain.BlockRef{}, false, err
			}
			if ref.TimestampMillis() <= target {
				lo = ref
				break
			}
			hi = ref
		}
	} else {
		for step := uint64(2); hi.Height-lo.Height > step; step *= 2 {
			ref, err := s.at(ctx, lo.Height+step)
			if err != nil {
				return blockdomain.BlockRef{}, false, err
			}
			if ref.TimestampMillis() > target {
				hi = ref
				break
			}
			lo = ref
		}
	}

	for hi.Height-lo.Height > 1 {
		ref, err := s.at(ctx, lo.Height+(hi.Height-lo.Height)/2)
		if err != nil {
			return blockdomain.BlockRef{}, false, err
		}
		if ref.TimestampMillis() <= target {
			lo = ref
		} else {
			hi = ref
		}
	}
	return lo, true, nil
}

// estimate guesses the relay height at target from the head timestamp and
// the nominal block time.
func (c *Correlator) estimate(head blockdomain.BlockRef, target uint64) uint64 {
	blockMillis := uint64(c.opts.RelayBlockTime.Milliseconds())
	if blockMillis == 0 {
		blockMillis = 1
	}
	back := (head.TimestampMillis() - target + blockMillis - 1) / blockMillis
	if back > head.Height {
		return 0
	}
	return head.Height - back
}
