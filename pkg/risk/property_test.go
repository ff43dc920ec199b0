package risk

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_GroupRiskScoreBounds verifies invariant I2: every
// computed group risk score lies in [0, 100] regardless of membership
// counts.
func TestProperty_GroupRiskScoreBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	profiles := []GroupProfile{
		DefaultGroupProfiles["Domain Admins"],
		DefaultGroupProfiles["Administrators"],
		DefaultGroupProfiles["Print Operators"],
		UnknownGroupProfile,
	}

	properties.Property("group risk score stays within [0,100]", prop.ForAll(
		func(total, accepted int, profileIdx int) bool {
			if total < 0 {
				total = -total
			}
			if accepted < 0 {
				accepted = -accepted
			}
			if accepted > total {
				accepted = total
			}
			profile := profiles[profileIdx%len(profiles)]
			result := CalculateGroupRisk(profile, "Test Group", total, accepted)
			return result.RiskScore >= 0 && result.RiskScore <= 100
		},
		gen.IntRange(0, 10000),
		gen.IntRange(0, 10000),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

// TestProperty_GlobalScoreContributionsSumTo100 verifies invariant I3:
// for every GlobalRiskScore, the sum of non-null contribution
// percentages equals 100 within tolerance, whenever the global score
// is positive.
func TestProperty_GlobalScoreContributionsSumTo100(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("contributions sum to 100 when global > 0", prop.ForAll(
		func(c, d, h float64, hasC, hasH bool) bool {
			in := GlobalInputs{DomainGroupScore: clamp(d, 0, 100)}
			if hasC {
				cv := clamp(c, 0, 100)
				in.ConfigAuditScore = &cv
			}
			if hasH {
				hv := clamp(h, 0, 100)
				in.AwarenessScore = &hv
			}
			res := CalculateGlobalScore(in)
			if res.GlobalScore <= 0 {
				return true // degenerate case handled separately by spec
			}
			sum := res.DomainGroupContribution
			if res.ConfigAuditContribution != nil {
				sum += *res.ConfigAuditContribution
			}
			if res.AwarenessContribution != nil {
				sum += *res.AwarenessContribution
			}
			diff := sum - 100
			if diff < 0 {
				diff = -diff
			}
			return diff <= 0.1
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestProperty_CategoryScoresBounded verifies every category score and
// the resulting domain-group composite stay within [0,100].
func TestProperty_CategoryScoresBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	names := []string{"Domain Admins", "Administrators", "Backup Operators", "Print Operators", "Custom Group"}

	properties.Property("category scores and composite stay within [0,100]", prop.ForAll(
		func(totals, accepteds []int) bool {
			n := len(totals)
			if len(accepteds) < n {
				n = len(accepteds)
			}
			groups := make([]GroupResult, 0, n)
			for i := 0; i < n; i++ {
				total := totals[i]
				if total < 0 {
					total = -total
				}
				accepted := accepteds[i]
				if accepted < 0 {
					accepted = -accepted
				}
				if accepted > total {
					accepted = total
				}
				name := names[i%len(names)]
				profile := ResolveProfile(nil, "corp.local", name)
				groups = append(groups, CalculateGroupRisk(profile, name, total, accepted))
			}
			scores := CalculateCategoryScores(groups)
			composite := DomainGroupScore(scores)
			ok := func(v float64) bool { return v >= 0 && v <= 100 }
			return ok(scores.AccessGovernance) && ok(scores.PrivilegeEscalation) &&
				ok(scores.CompliancePosture) && ok(scores.OperationalRisk) && ok(composite)
		},
		gen.SliceOfN(6, gen.IntRange(0, 50)),
		gen.SliceOfN(6, gen.IntRange(0, 50)),
	))

	properties.TestingRun(t)
}
