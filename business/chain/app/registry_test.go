package app

import (
	"context"
	"testing"

	"github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
)

type stubCaller struct{ ep domain.Endpoint }

func (s stubCaller) Call(context.Context, any, string, ...any) error { return nil }
func (s stubCaller) Endpoint() domain.Endpoint                      { return s.ep }
func (s stubCaller) State() domain.ConnectionState                  { return domain.StateConnected }

func stub(role domain.Role) Caller {
	return stubCaller{ep: domain.Endpoint{Role: role, URL: "ws://" + string(role), Protocol: domain.ProtocolWS}}
}

func TestRegistry_PrimaryOnly(t *testing.T) {
	r, err := NewRegistry(stub(domain.RolePrimary), nil)
	if err != nil {
		t.Fatal(err)
	}

	if r.HasRelay() {
		t.Error("HasRelay = true without a relay entry")
	}
	if _, err := r.MustGet(domain.RoleRelay); !apperror.HasCode(err, apperror.CodeRelayChainNotConfigured) {
		t.Errorf("relay lookup err = %v, want RELAY_CHAIN_NOT_CONFIGURED", err)
	}
	if _, err := r.MustGet(domain.RoleCoretime); !apperror.HasCode(err, apperror.CodeChainNotConfigured) {
		t.Errorf("coretime lookup err = %v, want CHAIN_NOT_CONFIGURED", err)
	}
	if r.AssetHubRole() != domain.RolePrimary {
		t.Errorf("AssetHubRole = %s, want primary", r.AssetHubRole())
	}
}

func TestRegistry_WithExtras(t *testing.T) {
	r, err := NewRegistry(stub(domain.RolePrimary), map[domain.Role]Caller{
		domain.RoleRelay:    stub(domain.RoleRelay),
		domain.RoleAssetHub: stub(domain.RoleAssetHub),
	})
	if err != nil {
		t.Fatal(err)
	}

	if !r.HasRelay() {
		t.Error("HasRelay = false")
	}
	if r.AssetHubRole() != domain.RoleAssetHub {
		t.Errorf("AssetHubRole = %s", r.AssetHubRole())
	}
	roles := r.Roles()
	want := []domain.Role{domain.RolePrimary, domain.RoleAssetHub, domain.RoleRelay}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v", roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("roles[%d] = %s, want %s", i, roles[i], want[i])
		}
	}
	if ep, ok := r.Endpoint(domain.RoleRelay); !ok || ep.URL != "ws://relay" {
		t.Errorf("relay endpoint = %+v, %v", ep, ok)
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	if _, err := NewRegistry(nil, nil); err == nil {
		t.Error("expected error without primary")
	}
	if _, err := NewRegistry(stub(domain.RolePrimary), map[domain.Role]Caller{domain.RolePrimary: stub(domain.RolePrimary)}); err == nil {
		t.Error("expected error for duplicate primary")
	}
}

func TestParseEndpoints(t *testing.T) {
	eps, err := ParseEndpoints("wss://asset-hub.example", []domain.MultiChainEntry{
		{URL: "wss://relay.example", Type: "relay"},
		{URL: "http://coretime.example:9933", Type: "coretime"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 3 || eps[0].Role != domain.RolePrimary || eps[2].Protocol != domain.ProtocolHTTP {
		t.Errorf("endpoints = %+v", eps)
	}

	if _, err := ParseEndpoints("wss://a", []domain.MultiChainEntry{{URL: "wss://b", Type: "relay"}, {URL: "wss://c", Type: "relay"}}); err == nil {
		t.Error("expected duplicate relay to be rejected")
	}
	if _, err := ParseEndpoints("", nil); err == nil {
		t.Error("expected missing primary url to be rejected")
	}
}
