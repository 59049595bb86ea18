package app

import (
	"context"
	"testing"
	"time"

	blockapp "github.com/fd1az/substrate-sidecar/business/block/app"
	"github.com/fd1az/substrate-sidecar/business/block/blocktest"
	blockdomain "github.com/fd1az/substrate-sidecar/business/block/domain"
	chainapp "github.com/fd1az/substrate-sidecar/business/chain/app"
	chaindomain "github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/internal/logger"
)

const genesisMillis = 1_700_000_000_000

// Asset Hub produces a block every 12s starting 3s after relay genesis; the
// relay chain every 6s.
func ahTime(n uint64) uint64    { return genesisMillis + 3000 + n*12000 }
func relayTime(n uint64) uint64 { return genesisMillis + n*6000 }

func defaultOptions() Options {
	return Options{Window: 6 * time.Second, RelayBlockTime: 6 * time.Second, MaxForwardScan: 8}
}

type fixture struct {
	ah, relay  *blocktest.Chain
	resolver   *blockapp.Resolver
	correlator *Correlator
}

func newFixture(t *testing.T, ah, relay *blocktest.Chain, opts Options) *fixture {
	t.Helper()
	extras := map[chaindomain.Role]chainapp.Caller{}
	if relay != nil {
		extras[chaindomain.RoleRelay] = relay
	}
	reg, err := chainapp.NewRegistry(ah, extras)
	if err != nil {
		t.Fatal(err)
	}
	resolver, err := blockapp.NewResolver(reg, blockapp.Options{FetchConcurrency: 4, CacheSize: 1024}, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCorrelator(reg, resolver, opts, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{ah: ah, relay: relay, resolver: resolver, correlator: c}
}

func (f *fixture) ahBlock(t *testing.T, n uint64) blockdomain.BlockRef {
	t.Helper()
	ref, err := f.resolver.Resolve(context.Background(), chaindomain.RolePrimary, blockdomain.Height(n))
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func heights(refs []blockdomain.BlockRef) []uint64 {
	out := make([]uint64, len(refs))
	for i, r := range refs {
		out[i] = r.Height
	}
	return out
}

func equalHeights(a []uint64, b ...uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCorrelate_MatchesAndScansForward(t *testing.T) {
	ah := blocktest.NewChain(chaindomain.RolePrimary, 500, ahTime)
	relay := blocktest.NewChain(chaindomain.RoleRelay, 1000, relayTime)

	tests := []struct {
		name string
		opts Options
		want []uint64
	}{
		// T = relay #20 + 3s: #20 matches, #21 is within T+6s, #22 is not.
		{"default window", defaultOptions(), []uint64{20, 21}},
		{"no forward scan", Options{Window: 6 * time.Second, RelayBlockTime: 6 * time.Second}, []uint64{20}},
		{"wide window", Options{Window: 13 * time.Second, RelayBlockTime: 6 * time.Second, MaxForwardScan: 8}, []uint64{20, 21, 22}},
		{"scan capped", Options{Window: time.Minute, RelayBlockTime: 6 * time.Second, MaxForwardScan: 3}, []uint64{20, 21, 22, 23}},
		{"bad estimate", Options{Window: 6 * time.Second, RelayBlockTime: 500 * time.Millisecond, MaxForwardScan: 8}, []uint64{20, 21}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, ah, relay, tt.opts)
			got, err := f.correlator.Correlate(context.Background(), f.ahBlock(t, 10))
			if err != nil {
				t.Fatalf("Correlate: %v", err)
			}
			if got.AhTimestamp != ahTime(10) || got.AhBlock.Height != 10 {
				t.Errorf("ah = %v at %d", got.AhBlock, got.AhTimestamp)
			}
			if h := heights(got.RcBlocks); !equalHeights(h, tt.want...) {
				t.Errorf("relay blocks = %v, want %v", h, tt.want)
			}
			for _, rc := range got.RcBlocks {
				if rc.Hash != relay.Hash(rc.Height) {
					t.Errorf("relay block %d has hash %s", rc.Height, rc.Hash)
				}
			}
		})
	}
}

func TestCorrelate_OutsideWindowIsEmpty(t *testing.T) {
	ah := blocktest.NewChain(chaindomain.RolePrimary, 500, ahTime)
	relay := blocktest.NewChain(chaindomain.RoleRelay, 1000, relayTime)

	f := newFixture(t, ah, relay, Options{Window: time.Second, RelayBlockTime: 6 * time.Second, MaxForwardScan: 8})
	got, err := f.correlator.Correlate(context.Background(), f.ahBlock(t, 10))
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if !got.Empty() {
		t.Errorf("relay blocks = %v, want none", heights(got.RcBlocks))
	}
	if rcAt := got.RcAt(); rcAt == nil || len(rcAt) != 0 {
		t.Errorf("RcAt = %#v", rcAt)
	}
}

func TestCorrelate_NoRelayBlockBeforeTimestamp(t *testing.T) {
	ah := blocktest.NewChain(chaindomain.RolePrimary, 500, ahTime)
	late := blocktest.NewChain(chaindomain.RoleRelay, 1000, func(n uint64) uint64 {
		return genesisMillis + 1_000_000_000 + n*6000
	})

	f := newFixture(t, ah, late, defaultOptions())
	got, err := f.correlator.Correlate(context.Background(), f.ahBlock(t, 10))
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if !got.Empty() {
		t.Errorf("relay blocks = %v, want none", heights(got.RcBlocks))
	}
}

func TestCorrelate_RelayStall(t *testing.T) {
	ah := blocktest.NewChain(chaindomain.RolePrimary, 500, ahTime)
	// relay halts after #15 and resumes 10 minutes later
	stalled := blocktest.NewChain(chaindomain.RoleRelay, 1000, func(n uint64) uint64 {
		if n <= 15 {
			return relayTime(n)
		}
		return relayTime(n + 100)
	})

	f := newFixture(t, ah, stalled, defaultOptions())
	got, err := f.correlator.Correlate(context.Background(), f.ahBlock(t, 10))
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if !got.Empty() {
		t.Errorf("relay blocks = %v, want none", heights(got.RcBlocks))
	}
}

func TestCorrelate_RelayHeadBehindTimestamp(t *testing.T) {
	ah := blocktest.NewChain(chaindomain.RolePrimary, 500, ahTime)
	relay := blocktest.NewChain(chaindomain.RoleRelay, 40, relayTime)
	relay.SetHeads(40, 20)

	f := newFixture(t, ah, relay, defaultOptions())
	got, err := f.correlator.Correlate(context.Background(), f.ahBlock(t, 10))
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	// #20 is the finalized head; unfinalized #21 is not considered
	if h := heights(got.RcBlocks); !equalHeights(h, 20) {
		t.Errorf("relay blocks = %v, want [20]", h)
	}
}

func TestCorrelate_SearchIsLogarithmic(t *testing.T) {
	ah := blocktest.NewChain(chaindomain.RolePrimary, 200_000, ahTime)
	relay := blocktest.NewChain(chaindomain.RoleRelay, 1_000_000, relayTime)

	f := newFixture(t, ah, relay, Options{Window: 6 * time.Second, RelayBlockTime: 5 * time.Second})
	got, err := f.correlator.Correlate(context.Background(), f.ahBlock(t, 150_000))
	if err != nil {
		t.Fatal(err)
	}
	if h := heights(got.RcBlocks); !equalHeights(h, 300_000) {
		t.Errorf("relay blocks = %v, want [300000]", h)
	}
	if n := relay.Calls("state_getStorage"); n > 60 {
		t.Errorf("read %d relay timestamps", n)
	}
}

func TestCorrelate_RequiresRelay(t *testing.T) {
	ah := blocktest.NewChain(chaindomain.RolePrimary, 50, ahTime)
	f := newFixture(t, ah, nil, defaultOptions())
	ref := f.ahBlock(t, 10)

	// fails before touching any chain
	ah.SetState(chaindomain.StateReconnecting)

	if _, err := f.correlator.Correlate(context.Background(), ref); !apperror.HasCode(err, apperror.CodeRelayChainNotConfigured) {
		t.Errorf("Correlate err = %v, want RELAY_CHAIN_NOT_CONFIGURED", err)
	}
	if _, err := f.correlator.CorrelateAt(context.Background(), blockdomain.Height(999)); !apperror.HasCode(err, apperror.CodeRelayChainNotConfigured) {
		t.Errorf("CorrelateAt err = %v, want RELAY_CHAIN_NOT_CONFIGURED", err)
	}
}

func TestCorrelateAt(t *testing.T) {
	ah := blocktest.NewChain(chaindomain.RolePrimary, 500, ahTime)
	relay := blocktest.NewChain(chaindomain.RoleRelay, 1000, relayTime)
	f := newFixture(t, ah, relay, defaultOptions())

	got, err := f.correlator.CorrelateAt(context.Background(), blockdomain.Hash(ah.Hash(10)))
	if err != nil {
		t.Fatal(err)
	}
	if got.AhBlock.Height != 10 || !equalHeights(heights(got.RcBlocks), 20, 21) {
		t.Errorf("got ah %v relay %v", got.AhBlock, heights(got.RcBlocks))
	}

	if _, err := f.correlator.CorrelateAt(context.Background(), blockdomain.Height(9999)); !apperror.HasCode(err, apperror.CodeBlockNotFound) {
		t.Errorf("missing ah block err = %v", err)
	}
}

func TestNewCorrelator_RejectsBadOptions(t *testing.T) {
	if _, err := NewCorrelator(nil, nil, Options{}, logger.NewNop()); !apperror.HasCode(err, apperror.CodeConfigurationError) {
		t.Errorf("err = %v", err)
	}
}
