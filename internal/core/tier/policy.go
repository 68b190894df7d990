// Package tier resolves caller tiers to concurrency and pacing limits.
package tier

import (
	"github.com/validly/dispatchd/internal/core/config"
	"github.com/validly/dispatchd/internal/core/domain"
)

// Policy is a read-only tier → limits mapping built once from
// configuration.
type Policy struct {
	limits      map[string]domain.TierLimits
	defaultTier string
}

// NewPolicy builds a policy from configured tiers. Tiers missing from
// the map resolve to the default tier's limits.
func NewPolicy(tiers map[string]config.TierConfig) *Policy {
	limits := make(map[string]domain.TierLimits, len(tiers))
	for name, t := range tiers {
		limits[name] = domain.TierLimits{
			Concurrency:    t.Concurrency,
			InterTaskDelay: t.InterTaskDelay.Std(),
		}
	}
	return &Policy{limits: limits, defaultTier: config.DefaultTier}
}

// LimitsFor returns the limits for a tier, falling back to the default
// tier for unknown names.
func (p *Policy) LimitsFor(tier string) domain.TierLimits {
	if l, ok := p.limits[tier]; ok {
		return l
	}
	return p.limits[p.defaultTier]
}

// Tiers returns the configured tier names.
func (p *Policy) Tiers() []string {
	names := make([]string, 0, len(p.limits))
	for name := range p.limits {
		names = append(names, name)
	}
	return names
}
