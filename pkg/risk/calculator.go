// Package risk implements the pure, deterministic risk-scoring
// functions described in spec.md §4.3: per-group risk, the four
// category scores, the domain-group composite, the weighted global
// score, and trend classification. Nothing in this package performs
// I/O; pkg/riskservice is the orchestrating caller.
package risk

import (
	"math"

	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// GroupInput is one monitored group's membership counts for a domain,
// as projected from the store (total members observed in the latest
// DOMAIN_ANALYSIS report, and how many are covered by an active
// AcceptedGroupMember).
type GroupInput struct {
	Name     string
	Total    int
	Accepted int
}

// GroupResult is the computed per-group risk, with a contributing
// factors map kept for observability (surfaced on GroupRiskAssessment).
type GroupResult struct {
	Name                string
	Profile             GroupProfile
	Total               int
	Accepted             int
	Unaccepted          int
	RiskScore           float64
	ContributingFactors map[string]float64
}

// CalculateGroupRisk computes one group's risk score per spec.md
// §4.3's five-step formula.
func CalculateGroupRisk(profile GroupProfile, name string, total, accepted int) GroupResult {
	unaccepted := total - accepted
	if unaccepted < 0 {
		unaccepted = 0
	}

	var unacceptedRatioPts float64
	if total > 0 {
		unacceptedRatioPts = (float64(unaccepted) / float64(total)) * 100
	}

	var excessPts float64
	if raw := float64(unaccepted-profile.MaxAcceptableMembers) * 10; raw > 0 {
		excessPts = math.Min(raw, 50)
	}

	var zeroAcceptancePenalty float64
	if profile.Level == model.RiskLevelCritical && accepted == 0 && total > 0 {
		zeroAcceptancePenalty = 25
	}

	raw := (unacceptedRatioPts + excessPts + zeroAcceptancePenalty) * profile.EscalationMultiplier
	score := math.Min(raw, 100)

	return GroupResult{
		Name:       name,
		Profile:    profile,
		Total:      total,
		Accepted:   accepted,
		Unaccepted: unaccepted,
		RiskScore:  round2(score),
		ContributingFactors: map[string]float64{
			"unaccepted_ratio_pts":   round2(unacceptedRatioPts),
			"excess_pts":             round2(excessPts),
			"zero_acceptance_penalty": zeroAcceptancePenalty,
			"escalation_multiplier":  profile.EscalationMultiplier,
		},
	}
}

// CategoryScores holds the four per-domain category scores that feed
// the domain-group composite.
type CategoryScores struct {
	AccessGovernance    float64
	PrivilegeEscalation float64
	CompliancePosture   float64
	OperationalRisk     float64
}

// CalculateCategoryScores derives the four category scores from a
// domain's per-group results.
func CalculateCategoryScores(groups []GroupResult) CategoryScores {
	return CategoryScores{
		AccessGovernance:    accessGovernanceScore(groups),
		PrivilegeEscalation: privilegeEscalationScore(groups),
		CompliancePosture:   compliancePostureScore(groups),
		OperationalRisk:     operationalRiskScore(groups),
	}
}

func accessGovernanceScore(groups []GroupResult) float64 {
	var weightedSum, totalWeight float64
	for _, g := range groups {
		if g.Total == 0 {
			continue
		}
		ratio := float64(g.Unaccepted) / float64(g.Total)
		w := defaultTableWeight(g.Name)
		weightedSum += ratio * 100 * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return round2(clamp(weightedSum/totalWeight, 0, 100))
}

func privilegeEscalationScore(groups []GroupResult) float64 {
	var sum float64
	var count int
	for _, g := range groups {
		if g.Profile.Level != model.RiskLevelCritical && g.Profile.Level != model.RiskLevelHigh {
			continue
		}
		score := g.RiskScore
		if g.Profile.Level == model.RiskLevelCritical {
			score *= 1.5
		}
		sum += score
		count++
	}
	if count == 0 {
		return 0
	}
	return round2(clamp(sum/float64(count), 0, 100))
}

func compliancePostureScore(groups []GroupResult) float64 {
	var totalUnaccepted, totalMembers, zeroAcceptanceGroups int
	for _, g := range groups {
		totalUnaccepted += g.Unaccepted
		totalMembers += g.Total
		if g.Total > 0 && g.Accepted == 0 {
			zeroAcceptanceGroups++
		}
	}
	if totalMembers == 0 {
		return round2(clamp(float64(10*zeroAcceptanceGroups), 0, 100))
	}
	score := (float64(totalUnaccepted)/float64(totalMembers))*100 + 10*float64(zeroAcceptanceGroups)
	return round2(clamp(score, 0, 100))
}

func operationalRiskScore(groups []GroupResult) float64 {
	if len(groups) == 0 {
		return 0
	}
	var mixed, oversized, unmanaged int
	for _, g := range groups {
		if g.Accepted > 0 && g.Unaccepted > 0 {
			mixed++
		}
		if g.Total > 2*g.Profile.MaxAcceptableMembers {
			oversized++
		}
		if g.Total > 0 && g.Accepted == 0 {
			unmanaged++
		}
	}
	n := float64(len(groups))
	mixedRatio := float64(mixed) / n
	unmanagedRatio := float64(unmanaged) / n
	oversizedRatio := float64(oversized) / n

	score := mixedRatio*50 + oversizedRatio*30 + unmanagedRatio*40
	return round2(clamp(score, 0, 100))
}

// DomainGroupScore is the weighted composite of the four category
// scores (spec.md §4.3).
func DomainGroupScore(c CategoryScores) float64 {
	return round2(c.AccessGovernance*0.3 + c.PrivilegeEscalation*0.4 + c.CompliancePosture*0.2 + c.OperationalRisk*0.1)
}

// GlobalInputs carries the up-to-three signals that feed the global
// score. ConfigAuditScore and AwarenessScore are optional (nil means
// absent); DomainGroupScore is always present.
type GlobalInputs struct {
	ConfigAuditScore *float64
	DomainGroupScore float64
	AwarenessScore   *float64 // positive score 0..100; converted to risk as 100-score
}

// GlobalResult is the computed composite score with its per-signal
// contribution percentages (nil where the signal was absent).
type GlobalResult struct {
	GlobalScore              float64
	ConfigAuditContribution  *float64
	DomainGroupContribution  float64
	AwarenessContribution    *float64
}

// CalculateGlobalScore mixes the available signals using the
// availability-dependent weight table in spec.md §4.3.
func CalculateGlobalScore(in GlobalInputs) GlobalResult {
	hasConfig := in.ConfigAuditScore != nil
	hasAwareness := in.AwarenessScore != nil

	var wc, wd, wh float64
	switch {
	case hasConfig && hasAwareness:
		wc, wd, wh = 0.55, 0.30, 0.15
	case hasConfig && !hasAwareness:
		wc, wd, wh = 0.70, 0.30, 0.0
	case !hasConfig && hasAwareness:
		wc, wd, wh = 0.0, 0.65, 0.35
	default:
		wc, wd, wh = 0.0, 1.0, 0.0
	}

	var cContribRaw, hContribRaw float64
	var c, h float64
	if hasConfig {
		c = *in.ConfigAuditScore
		cContribRaw = c * wc
	}
	if hasAwareness {
		h = 100 - *in.AwarenessScore
		hContribRaw = h * wh
	}
	dContribRaw := in.DomainGroupScore * wd

	total := cContribRaw + dContribRaw + hContribRaw
	global := round2(total)

	result := GlobalResult{GlobalScore: global}

	if global <= 0 {
		result.DomainGroupContribution = 100.0
		return result
	}

	// Shares are taken of the unrounded total so they sum to 100 even
	// when rounding moves a small global score.
	result.DomainGroupContribution = round2((dContribRaw / total) * 100)
	if hasConfig {
		v := round2((cContribRaw / total) * 100)
		result.ConfigAuditContribution = &v
	}
	if hasAwareness {
		v := round2((hContribRaw / total) * 100)
		result.AwarenessContribution = &v
	}
	return result
}

// TrendPoint is one historical (date, global score) pair, sorted
// ascending by date by the caller.
type TrendPoint struct {
	Score float64
}

// CalculateTrend compares currentScore against the most recent
// historical point (spec.md §4.3: "the immediately preceding historical
// point"). With fewer than one historical point, the trend is stable
// with zero percentage.
func CalculateTrend(history []TrendPoint, currentScore float64) (model.TrendDirection, float64) {
	if len(history) == 0 {
		return model.TrendStable, 0
	}
	previous := history[len(history)-1].Score
	change := currentScore - previous

	switch {
	case change > 5:
		return model.TrendDegrading, round2(math.Abs(change))
	case change < -5:
		return model.TrendImproving, round2(math.Abs(change))
	default:
		return model.TrendStable, round2(math.Abs(change))
	}
}
