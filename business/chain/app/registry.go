package app

import (
	"sort"

	"github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
)

// Registry maps chain roles to callers. It is built once at startup and read-only afterwards.
type Registry struct {
	callers map[domain.Role]Caller
}

// NewRegistry builds a registry around the mandatory primary caller.
func NewRegistry(primary Caller, extras map[domain.Role]Caller) (*Registry, error) {
	if primary == nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("primary chain is required"))
	}

	r := &Registry{callers: map[domain.Role]Caller{domain.RolePrimary: primary}}
	for role, c := range extras {
		if role == domain.RolePrimary {
			return nil, apperror.New(apperror.CodeConfigurationError,
				apperror.WithContext("primary chain configured twice"))
		}
		if c == nil {
			continue
		}
		r.callers[role] = c
	}
	return r, nil
}

// Get returns the caller for role.
func (r *Registry) Get(role domain.Role) (Caller, bool) {
	c, ok := r.callers[role]
	return c, ok
}

// MustGet returns the caller for role or a typed not-configured error.
func (r *Registry) MustGet(role domain.Role) (Caller, error) {
	if c, ok := r.callers[role]; ok {
		return c, nil
	}
	if role == domain.RoleRelay {
		return nil, apperror.New(apperror.CodeRelayChainNotConfigured)
	}
	return nil, apperror.New(apperror.CodeChainNotConfigured,
		apperror.WithContextf("chain %q", role))
}

// Primary returns the primary chain caller.
func (r *Registry) Primary() Caller {
	return r.callers[domain.RolePrimary]
}

// HasRelay reports whether relay chain features are available.
func (r *Registry) HasRelay() bool {
	_, ok := r.callers[domain.RoleRelay]
	return ok
}

// AssetHubRole is the role holding Asset Hub blocks: the dedicated entry if
// configured, otherwise the primary chain.
func (r *Registry) AssetHubRole() domain.Role {
	if _, ok := r.callers[domain.RoleAssetHub]; ok {
		return domain.RoleAssetHub
	}
	return domain.RolePrimary
}

// Roles returns configured roles, primary first, then alphabetically.
func (r *Registry) Roles() []domain.Role {
	roles := make([]domain.Role, 0, len(r.callers))
	for role := range r.callers {
		if role != domain.RolePrimary {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return append([]domain.Role{domain.RolePrimary}, roles...)
}

// Endpoint returns the endpoint configured for role.
func (r *Registry) Endpoint(role domain.Role) (domain.Endpoint, bool) {
	c, ok := r.callers[role]
	if !ok {
		return domain.Endpoint{}, false
	}
	return c.Endpoint(), true
}

// ParseEndpoints validates the primary URL and the multi-chain list.
func ParseEndpoints(primaryURL string, entries []domain.MultiChainEntry) ([]domain.Endpoint, error) {
	primary, err := domain.NewEndpoint(domain.RolePrimary, primaryURL)
	if err != nil {
		return nil, err
	}

	out := []domain.Endpoint{primary}
	seen := map[domain.Role]bool{domain.RolePrimary: true}
	for _, e := range entries {
		role, err := domain.ParseRole(e.Type)
		if err != nil {
			return nil, err
		}
		if seen[role] {
			return nil, apperror.New(apperror.CodeConfigurationError,
				apperror.WithContextf("chain type %q configured twice", role))
		}
		seen[role] = true

		ep, err := domain.NewEndpoint(role, e.URL)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}
