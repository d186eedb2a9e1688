// Package profile maps printer device names to print parameters.
package profile

import (
	"fmt"
	"regexp"

	"github.com/orrn/labelstream/internal/config"
)

// Profile is the set of job parameters a device family needs.
type Profile struct {
	Mode     int     `json:"mode"`
	Density  int     `json:"density"`
	Multiple float64 `json:"multiple"`
}

type rule struct {
	pattern *regexp.Regexp
	profile Profile
}

// Resolver applies ordered rules to a device name; the first match wins.
type Resolver struct {
	rules    []rule
	fallback Profile
}

var DefaultRules = []config.ProfileRule{
	{Pattern: "^(B32|Z401|T8)", Mode: 2, Density: 8, Multiple: 11.81},
	{Pattern: "^(M2|M3|EP2M)", Mode: 2, Density: 3, Multiple: 11.81},
	{Pattern: "^(B21_Pro)", Mode: 1, Density: 3, Multiple: 11.81},
}

var DefaultProfile = Profile{Mode: 1, Density: 3, Multiple: 8}

// NewResolver compiles rules. When rules is empty the built-in table is
// used.
func NewResolver(rules []config.ProfileRule, fallback Profile) (*Resolver, error) {
	if len(rules) == 0 {
		rules = DefaultRules
	}

	r := &Resolver{fallback: fallback}
	for i, pr := range rules {
		re, err := regexp.Compile(pr.Pattern)
		if err != nil {
			return nil, fmt.Errorf("profile rule %d: %w", i, err)
		}
		r.rules = append(r.rules, rule{
			pattern: re,
			profile: Profile{Mode: pr.Mode, Density: pr.Density, Multiple: pr.Multiple},
		})
	}
	return r, nil
}

func (r *Resolver) Lookup(deviceName string) Profile {
	for _, rl := range r.rules {
		if rl.pattern.MatchString(deviceName) {
			return rl.profile
		}
	}
	return r.fallback
}
