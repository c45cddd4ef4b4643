// Package capabilities implements capability policy enforcement.
package capabilities

import (
	"sort"

	"github.com/thomasrohde/guardeval/pkg/config"
)

// Policy defines which capabilities are allowed for program execution.
type Policy struct {
	allowAll bool
	Allowed  map[string]bool
}

// IsAllowed checks whether a capability is permitted by this policy.
func (p *Policy) IsAllowed(capability string) bool {
	if p == nil {
		return false
	}
	return p.allowAll || p.Allowed[capability]
}

// Map returns the allow set in the form expected by evaluator.ExecOptions:
// nil permits everything.
func (p *Policy) Map() map[string]bool {
	if p == nil {
		return map[string]bool{}
	}
	if p.allowAll {
		return nil
	}
	return p.Allowed
}

// List returns the granted capability IDs in sorted order, or ["*"] for an
// allow-all policy.
func (p *Policy) List() []string {
	if p != nil && p.allowAll {
		return []string{"*"}
	}
	out := []string{}
	if p == nil {
		return out
	}
	for c, ok := range p.Allowed {
		if ok {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// FromConfig builds a policy from the capabilities section of a
// configuration. Deny overrides allow.
func FromConfig(c config.Capabilities) *Policy {
	allowed := make(map[string]bool, len(c.Allow))
	for _, capability := range c.Allow {
		allowed[capability] = true
	}
	for _, capability := range c.Deny {
		delete(allowed, capability)
	}
	return &Policy{Allowed: allowed}
}

// Load loads the policy for projectDir from its configuration. A missing
// configuration yields a deny-all policy.
func Load(projectDir string) (*Policy, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}
	return FromConfig(cfg.Capabilities), nil
}

// AllowAll returns a policy that permits all capabilities. Used for --unsafe-allow-all.
func AllowAll() *Policy {
	return &Policy{allowAll: true}
}

// DenyAll returns a policy that denies all capabilities.
func DenyAll() *Policy {
	return &Policy{Allowed: make(map[string]bool)}
}
