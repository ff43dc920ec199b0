package risk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

func TestCalculateGroupRisk_FullAcceptance(t *testing.T) {
	profile := DefaultGroupProfiles["Enterprise Admins"]
	result := CalculateGroupRisk(profile, "Enterprise Admins", 2, 2)
	require.Equal(t, 0.0, result.RiskScore)
}

func TestCalculateGroupRisk_ZeroAcceptance_S4(t *testing.T) {
	profile := DefaultGroupProfiles["Enterprise Admins"]
	result := CalculateGroupRisk(profile, "Enterprise Admins", 2, 0)
	require.GreaterOrEqual(t, result.RiskScore, 25.0)
	require.Equal(t, 100.0, result.RiskScore) // clamped: (100+10+25)*2.5 = 337.5 -> 100
}

func TestCalculateGlobalScore_S2(t *testing.T) {
	c := 80.0
	res := CalculateGlobalScore(GlobalInputs{ConfigAuditScore: &c, DomainGroupScore: 60})
	require.InDelta(t, 74.0, res.GlobalScore, 0.01)
	require.NotNil(t, res.ConfigAuditContribution)
	require.InDelta(t, 75.68, *res.ConfigAuditContribution, 0.1)
	require.InDelta(t, 24.32, res.DomainGroupContribution, 0.1)
}

func TestCalculateGlobalScore_S3_NoConfigAudit(t *testing.T) {
	res := CalculateGlobalScore(GlobalInputs{DomainGroupScore: 60})
	require.InDelta(t, 60.0, res.GlobalScore, 0.01)
	require.Nil(t, res.ConfigAuditContribution)
	require.Equal(t, 100.0, res.DomainGroupContribution)
}

func TestCalculateGlobalScore_BothSignals(t *testing.T) {
	c := 80.0
	h := 70.0 // awareness positive score -> risk 30
	res := CalculateGlobalScore(GlobalInputs{ConfigAuditScore: &c, DomainGroupScore: 60, AwarenessScore: &h})
	// global = 80*0.55 + 60*0.30 + 30*0.15 = 44 + 18 + 4.5 = 66.5
	require.InDelta(t, 66.5, res.GlobalScore, 0.01)
	require.NotNil(t, res.AwarenessContribution)
}

func TestCalculateGlobalScore_NoSignalsAtAll(t *testing.T) {
	res := CalculateGlobalScore(GlobalInputs{DomainGroupScore: 0})
	require.Equal(t, 0.0, res.GlobalScore)
	require.Equal(t, 100.0, res.DomainGroupContribution)
	require.Nil(t, res.ConfigAuditContribution)
}

func TestCalculateTrend_S6_Improving(t *testing.T) {
	// seven historical globals strictly decreasing by 1/day; most recent is last.
	history := []TrendPoint{{Score: 56}, {Score: 55}, {Score: 54}, {Score: 53}, {Score: 52}, {Score: 51}, {Score: 50}}
	dir, pct := CalculateTrend(history, 42) // 8 below most recent (50)
	require.Equal(t, model.TrendImproving, dir)
	require.InDelta(t, 8.0, pct, 0.01)
}

func TestCalculateTrend_S6_Stable(t *testing.T) {
	history := []TrendPoint{{Score: 50}}
	dir, _ := CalculateTrend(history, 47) // 3 below
	require.Equal(t, model.TrendStable, dir)
}

func TestCalculateTrend_Degrading(t *testing.T) {
	history := []TrendPoint{{Score: 50}}
	dir, pct := CalculateTrend(history, 60)
	require.Equal(t, model.TrendDegrading, dir)
	require.InDelta(t, 10.0, pct, 0.01)
}

func TestCalculateTrend_NoHistory(t *testing.T) {
	dir, pct := CalculateTrend(nil, 99)
	require.Equal(t, model.TrendStable, dir)
	require.Equal(t, 0.0, pct)
}

func TestCategoryScores_EmptyGroups(t *testing.T) {
	scores := CalculateCategoryScores(nil)
	require.Equal(t, CategoryScores{}, scores)
	require.Equal(t, 0.0, DomainGroupScore(scores))
}

func TestCategoryScores_MixedGroups(t *testing.T) {
	groups := []GroupResult{
		CalculateGroupRisk(DefaultGroupProfiles["Domain Admins"], "Domain Admins", 5, 2),
		CalculateGroupRisk(DefaultGroupProfiles["Backup Operators"], "Backup Operators", 4, 4),
		CalculateGroupRisk(UnknownGroupProfile, "Custom Group", 3, 0),
	}
	scores := CalculateCategoryScores(groups)
	for _, v := range []float64{scores.AccessGovernance, scores.PrivilegeEscalation, scores.CompliancePosture, scores.OperationalRisk} {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 100.0)
	}
	composite := DomainGroupScore(scores)
	require.GreaterOrEqual(t, composite, 0.0)
	require.LessOrEqual(t, composite, 100.0)
}

func TestResolveProfile_Override(t *testing.T) {
	overrides := map[string]model.GroupRiskConfig{
		"corp.local/Custom Admins": {
			Domain: "corp.local", GroupName: "Custom Admins",
			Level: model.RiskLevelCritical, BaseWeight: 2.0, MaxAcceptableMembers: 1, EscalationMultiplier: 2.0,
		},
	}
	p := ResolveProfile(overrides, "corp.local", "Custom Admins")
	require.Equal(t, model.RiskLevelCritical, p.Level)

	p2 := ResolveProfile(overrides, "other.local", "Custom Admins")
	require.Equal(t, UnknownGroupProfile, p2)

	p3 := ResolveProfile(nil, "corp.local", "Domain Admins")
	require.Equal(t, DefaultGroupProfiles["Domain Admins"], p3)
}
