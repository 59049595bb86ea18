// Package domain contains the core domain types for the chain context.
package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fd1az/substrate-sidecar/internal/apperror"
)

// Role is the logical position of a chain in the deployment.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleRelay     Role = "relay"
	RoleAssetHub  Role = "assethub"
	RoleCoretime  Role = "coretime"
	RoleParachain Role = "parachain"
)

// ParseRole maps a multi-chain type string to a Role. The primary role is never configured by type.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleRelay, RoleAssetHub, RoleCoretime, RoleParachain:
		return r, nil
	default:
		return "", apperror.New(apperror.CodeInvalidInput,
			apperror.WithContextf("unknown chain type %q", s))
	}
}

// Protocol is the RPC transport scheme.
type Protocol string

const (
	ProtocolWS    Protocol = "ws"
	ProtocolWSS   Protocol = "wss"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// IsWebSocket reports whether the protocol keeps a persistent socket.
func (p Protocol) IsWebSocket() bool {
	return p == ProtocolWS || p == ProtocolWSS
}

// Endpoint is a configured chain node. Immutable after startup.
type Endpoint struct {
	Role     Role
	URL      string
	Protocol Protocol
}

// NewEndpoint validates rawURL and derives its protocol.
func NewEndpoint(role Role, rawURL string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return Endpoint{}, apperror.New(apperror.CodeInvalidInput,
			apperror.WithCause(err),
			apperror.WithContextf("invalid %s url %q", role, rawURL))
	}

	p := Protocol(strings.ToLower(u.Scheme))
	switch p {
	case ProtocolWS, ProtocolWSS, ProtocolHTTP, ProtocolHTTPS:
	default:
		return Endpoint{}, apperror.New(apperror.CodeInvalidInput,
			apperror.WithContextf("unsupported protocol %q for %s", u.Scheme, role))
	}

	return Endpoint{Role: role, URL: u.String(), Protocol: p}, nil
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s)", e.Role, e.URL)
}

// MultiChainEntry is one {url, type} pair from configuration.
type MultiChainEntry struct {
	URL  string
	Type string
}

// ConnectionState represents the state of a chain connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

// Gauge returns the numeric value exported on the state metric.
func (s ConnectionState) Gauge() int64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateReconnecting:
		return 3
	case StateFailed:
		return 4
	default:
		return 0
	}
}

// ConnectionStatus contains detailed connection information.
type ConnectionStatus struct {
	Endpoint       Endpoint
	State          ConnectionState
	Attempt        int           // consecutive failed dials in the current reconnect loop
	NextRetryDelay time.Duration // delay before the next dial, zero when connected
	Reconnects     int           // successful reconnects over the process lifetime
	LastError      string
	ConnectedAt    time.Time
}
