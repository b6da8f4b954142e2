// Package coverage turns a campaign's geography and keywords into a ranked,
// budget-bounded set of postal targets.
package coverage

import (
	"github.com/sells-group/outreach-engine/internal/model"
)

// ProfileSpec bounds target selection for one coverage profile.
type ProfileSpec struct {
	// MaxTargets caps how many postal codes the selection may include.
	MaxTargets int
	// Fraction is the share of estimated businesses the selection must
	// cover before stopping early.
	Fraction float64
}

var profileSpecs = map[model.CoverageProfile]ProfileSpec{
	model.ProfileBudget:     {MaxTargets: 5, Fraction: 0.85},
	model.ProfileBalanced:   {MaxTargets: 10, Fraction: 0.94},
	model.ProfileAggressive: {MaxTargets: 20, Fraction: 0.99},
}

// SpecFor returns the bounds for a profile. Unknown profiles get balanced.
func SpecFor(p model.CoverageProfile) ProfileSpec {
	if spec, ok := profileSpecs[p]; ok {
		return spec
	}
	return profileSpecs[model.ProfileBalanced]
}
