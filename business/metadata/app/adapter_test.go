package app

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	blockdomain "github.com/fd1az/substrate-sidecar/business/block/domain"
	chainapp "github.com/fd1az/substrate-sidecar/business/chain/app"
	"github.com/fd1az/substrate-sidecar/business/chain/chaintest"
	chaindomain "github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/business/metadata/metadatatest"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/pkg/scale"
)

var (
	blockA = blockdomain.BlockRef{Hash: "0xaa", Height: 10}
	blockB = blockdomain.BlockRef{Hash: "0xbb", Height: 11}
	blockC = blockdomain.BlockRef{Hash: "0xcc", Height: 500}
)

// specByHash reports spec 1000 for blocks A and B, 1001 for block C.
func specByHash(params []any) (any, error) {
	spec := 1000
	if params[0] == blockC.Hash {
		spec = 1001
	}
	return map[string]any{"specName": "polkadot", "specVersion": spec}, nil
}

func legacyNode(version uint8) *chaintest.Caller {
	return chaintest.NewCaller(chaindomain.RolePrimary).
		Handle("state_getRuntimeVersion", specByHash).
		Returns("state_getMetadata", hexutil.Encode(metadatatest.Polkadot(version)))
}

func versionedNode(t *testing.T) *chaintest.Caller {
	return chaintest.NewCaller(chaindomain.RolePrimary).
		Handle("state_getRuntimeVersion", specByHash).
		Handle("state_call", func(params []any) (any, error) {
			switch params[0] {
			case methodMetadataVersions:
				return hexutil.Encode(scale.NewEncoder().Compact(3).U32(14).U32(15).U32(16).Bytes()), nil
			case methodMetadataAtVersion:
				if params[1] != "0x10000000" {
					t.Errorf("requested version %v, want 16", params[1])
				}
				return hexutil.Encode(scale.NewEncoder().Option(true).Vec(metadatatest.Polkadot(16)).Bytes()), nil
			}
			return nil, apperror.New(apperror.CodeRPCError)
		})
}

func newTestAdapter(t *testing.T, c chainapp.Caller, store RawStore) *Adapter {
	t.Helper()
	reg, err := chainapp.NewRegistry(c, nil)
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewAdapter(reg, store, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAdapter_VersionedMetadata(t *testing.T) {
	node := versionedNode(t)
	a := newTestAdapter(t, node, nil)

	snap, err := a.Snapshot(context.Background(), chaindomain.RolePrimary, blockA)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Version != 16 || snap.SpecVersion != 1000 {
		t.Errorf("snapshot version=%d spec=%d", snap.Version, snap.SpecVersion)
	}
	if node.Calls("state_getMetadata") != 0 {
		t.Error("fell back to state_getMetadata")
	}
}

func TestAdapter_FallsBackToStateGetMetadata(t *testing.T) {
	node := legacyNode(12)
	a := newTestAdapter(t, node, nil)

	snap, err := a.Snapshot(context.Background(), chaindomain.RolePrimary, blockA)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Version != 12 {
		t.Errorf("version = %d", snap.Version)
	}
	if node.Calls("state_call") != 1 || node.Calls("state_getMetadata") != 1 {
		t.Errorf("calls state_call=%d state_getMetadata=%d",
			node.Calls("state_call"), node.Calls("state_getMetadata"))
	}
}

func TestAdapter_CachesPerSpecVersion(t *testing.T) {
	node := legacyNode(14)
	a := newTestAdapter(t, node, nil)
	ctx := context.Background()

	first, err := a.Snapshot(ctx, chaindomain.RolePrimary, blockA)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Snapshot(ctx, chaindomain.RolePrimary, blockB)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("same spec version produced different snapshots")
	}
	if n := node.Calls("state_getMetadata"); n != 1 {
		t.Errorf("state_getMetadata calls = %d, want 1", n)
	}

	upgraded, err := a.Snapshot(ctx, chaindomain.RolePrimary, blockC)
	if err != nil {
		t.Fatal(err)
	}
	if upgraded == first || upgraded.SpecVersion != 1001 {
		t.Errorf("upgraded runtime reused snapshot (spec %d)", upgraded.SpecVersion)
	}
	if !a.Cached(chaindomain.RolePrimary, 1000) || !a.Cached(chaindomain.RolePrimary, 1001) {
		t.Error("expected both spec versions cached")
	}

	if _, err := a.Snapshot(ctx, chaindomain.RolePrimary, blockA); err != nil {
		t.Fatal(err)
	}
	if n := node.Calls("state_getRuntimeVersion"); n != 3 {
		t.Errorf("state_getRuntimeVersion calls = %d, want 3 (memoized per hash)", n)
	}
}

func TestAdapter_DecodeErrorIsNotCached(t *testing.T) {
	var mu sync.Mutex
	broken := true
	node := chaintest.NewCaller(chaindomain.RolePrimary).
		Handle("state_getRuntimeVersion", specByHash).
		Handle("state_getMetadata", func([]any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			if broken {
				broken = false
				return hexutil.Encode(metadatatest.Polkadot(14)[:100]), nil
			}
			return hexutil.Encode(metadatatest.Polkadot(14)), nil
		})
	a := newTestAdapter(t, node, nil)
	ctx := context.Background()

	if _, err := a.Snapshot(ctx, chaindomain.RolePrimary, blockA); !apperror.HasCode(err, apperror.CodeMetadataDecodeError) {
		t.Fatalf("first err = %v, want METADATA_DECODE_ERROR", err)
	}
	if a.Cached(chaindomain.RolePrimary, 1000) {
		t.Fatal("failed snapshot was cached")
	}
	if _, err := a.Snapshot(ctx, chaindomain.RolePrimary, blockA); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := node.Calls("state_getMetadata"); n != 2 {
		t.Errorf("state_getMetadata calls = %d, want 2", n)
	}
}

func TestAdapter_ConcurrentRequestsShareOneFetch(t *testing.T) {
	node := legacyNode(15)
	a := newTestAdapter(t, node, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Snapshot(context.Background(), chaindomain.RolePrimary, blockA); err != nil {
				t.Errorf("Snapshot: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := node.Calls("state_getMetadata"); n != 1 {
		t.Errorf("state_getMetadata calls = %d, want 1", n)
	}
}

func TestAdapter_TransportErrorDoesNotFallBack(t *testing.T) {
	node := chaintest.NewCaller(chaindomain.RolePrimary).
		Handle("state_getRuntimeVersion", specByHash).
		Handle("state_call", func([]any) (any, error) {
			return nil, apperror.New(apperror.CodeTransportError)
		}).
		Returns("state_getMetadata", hexutil.Encode(metadatatest.Polkadot(14)))
	a := newTestAdapter(t, node, nil)

	_, err := a.Snapshot(context.Background(), chaindomain.RolePrimary, blockA)
	if !apperror.HasCode(err, apperror.CodeTransportError) {
		t.Errorf("err = %v, want TRANSPORT_ERROR", err)
	}
	if node.Calls("state_getMetadata") != 0 {
		t.Error("transport failure should not trigger the legacy fallback")
	}
}

func TestAdapter_UnknownChain(t *testing.T) {
	a := newTestAdapter(t, legacyNode(14), nil)
	_, err := a.Snapshot(context.Background(), chaindomain.RoleRelay, blockA)
	if !apperror.HasCode(err, apperror.CodeRelayChainNotConfigured) {
		t.Errorf("err = %v, want RELAY_CHAIN_NOT_CONFIGURED", err)
	}
}

type memStore struct {
	mu   sync.Mutex
	blob map[string][]byte
	puts int
}

func newMemStore() *memStore { return &memStore{blob: make(map[string][]byte)} }

func (s *memStore) key(endpoint string, spec uint32) string {
	return endpoint + "#" + strconv.FormatUint(uint64(spec), 10)
}

func (s *memStore) Get(_ context.Context, endpoint string, spec uint32) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blob[s.key(endpoint, spec)]
	return b, ok, nil
}

func (s *memStore) Put(_ context.Context, endpoint string, spec uint32, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob[s.key(endpoint, spec)] = raw
	s.puts++
	return nil
}

func (s *memStore) Versions(endpoint string) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint32
	for k := range s.blob {
		if spec, ok := strings.CutPrefix(k, endpoint+"#"); ok {
			v, err := strconv.ParseUint(spec, 10, 32)
			if err != nil {
				return nil, err
			}
			out = append(out, uint32(v))
		}
	}
	slices.Sort(out)
	return out, nil
}

func TestAdapter_StoredVersions(t *testing.T) {
	ctx := context.Background()

	none, err := newTestAdapter(t, legacyNode(14), nil).StoredVersions(chaindomain.RolePrimary)
	if err != nil || none != nil {
		t.Errorf("without store = %v, %v", none, err)
	}

	store := newMemStore()
	a := newTestAdapter(t, legacyNode(14), store)
	if got, _ := a.StoredVersions(chaindomain.RolePrimary); len(got) != 0 {
		t.Errorf("empty store = %v", got)
	}
	if _, err := a.Snapshot(ctx, chaindomain.RolePrimary, blockA); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Snapshot(ctx, chaindomain.RolePrimary, blockC); err != nil {
		t.Fatal(err)
	}

	got, err := a.StoredVersions(chaindomain.RolePrimary)
	if err != nil {
		t.Fatalf("StoredVersions: %v", err)
	}
	if !slices.Equal(got, []uint32{1000, 1001}) {
		t.Errorf("StoredVersions = %v, want [1000 1001]", got)
	}

	if _, err := a.StoredVersions(chaindomain.RoleRelay); !apperror.HasCode(err, apperror.CodeRelayChainNotConfigured) {
		t.Errorf("relay err = %v, want RELAY_CHAIN_NOT_CONFIGURED", err)
	}
}

func TestAdapter_StoreSkipsDownload(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	warm := legacyNode(13)
	if _, err := newTestAdapter(t, warm, store).Snapshot(ctx, chaindomain.RolePrimary, blockA); err != nil {
		t.Fatal(err)
	}
	if store.puts != 1 {
		t.Fatalf("puts = %d, want 1", store.puts)
	}

	cold := legacyNode(13)
	snap, err := newTestAdapter(t, cold, store).Snapshot(ctx, chaindomain.RolePrimary, blockA)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 13 {
		t.Errorf("version = %d", snap.Version)
	}
	if cold.Calls("state_getMetadata") != 0 || cold.Calls("state_call") != 0 {
		t.Error("store hit still downloaded metadata")
	}
	if store.puts != 1 {
		t.Errorf("store hit rewrote the blob (puts = %d)", store.puts)
	}
}

func TestPickVersion(t *testing.T) {
	tests := []struct {
		name     string
		versions []uint32
		want     uint32
		wantErr  bool
	}{
		{"newest supported", []uint32{14, 15, 16}, 16, false},
		{"ignores future", []uint32{14, 15, 17}, 15, false},
		{"unordered", []uint32{15, 14}, 15, false},
		{"only legacy", []uint32{13}, 0, true},
		{"empty", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := scale.NewEncoder().Compact(uint64(len(tt.versions)))
			for _, v := range tt.versions {
				e.U32(v)
			}
			got, err := pickVersion(e.Bytes())
			if tt.wantErr {
				if !apperror.HasCode(err, apperror.CodeRPCError) {
					t.Errorf("err = %v, want RPC_ERROR", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("pickVersion = %d, %v; want %d", got, err, tt.want)
			}
		})
	}
}
