// Package identity rotates fingerprint/proxy pairs across provider
// attempts.
package identity

import (
	"sync/atomic"

	"github.com/validly/dispatchd/internal/core/config"
)

// Identity is one fingerprint/proxy pair handed to a provider adapter
// for a single attempt.
type Identity struct {
	Fingerprint string
	Proxy       string
}

// Provider hands out the next identity. Implementations must be safe
// for concurrent use.
type Provider interface {
	Next() Identity
}

// Pool is a round-robin rotation over a configured identity list.
type Pool struct {
	identities []Identity
	next       atomic.Uint64
}

// NewPool builds a pool from configuration. An empty configuration
// yields a pool that rotates a single zero identity, so callers never
// need a nil check.
func NewPool(cfgs []config.IdentityConfig) *Pool {
	identities := make([]Identity, 0, len(cfgs))
	for _, c := range cfgs {
		identities = append(identities, Identity{Fingerprint: c.Fingerprint, Proxy: c.Proxy})
	}
	if len(identities) == 0 {
		identities = []Identity{{}}
	}
	return &Pool{identities: identities}
}

// Next implements Provider.
func (p *Pool) Next() Identity {
	n := p.next.Add(1) - 1
	return p.identities[n%uint64(len(p.identities))]
}

// Size returns the number of identities in rotation.
func (p *Pool) Size() int {
	return len(p.identities)
}
