package risk

import "github.com/Mindburn-Labs/adsentry/pkg/model"

// GroupProfile is the risk profile applied to a monitored group: its
// criticality level, its weight in the access-governance average, the
// member-count threshold above which it is "oversized", and the
// multiplier applied to its raw per-group risk score.
type GroupProfile struct {
	Level                model.RiskLevel
	BaseWeight           float64
	MaxAcceptableMembers int
	EscalationMultiplier float64
}

// DefaultGroupProfiles are the built-in profiles for well-known
// privileged AD groups, matching the group table in spec.md §4.3
// (verified against original_source/server/risk_calculator.py's
// GROUP_PROFILES).
var DefaultGroupProfiles = map[string]GroupProfile{
	"Domain Admins":      {Level: model.RiskLevelCritical, BaseWeight: 3.0, MaxAcceptableMembers: 2, EscalationMultiplier: 2.0},
	"Enterprise Admins":  {Level: model.RiskLevelCritical, BaseWeight: 3.0, MaxAcceptableMembers: 1, EscalationMultiplier: 2.5},
	"Schema Admins":      {Level: model.RiskLevelCritical, BaseWeight: 2.5, MaxAcceptableMembers: 1, EscalationMultiplier: 2.0},
	"Administrators":     {Level: model.RiskLevelHigh, BaseWeight: 2.0, MaxAcceptableMembers: 5, EscalationMultiplier: 1.5},
	"Account Operators":  {Level: model.RiskLevelHigh, BaseWeight: 1.8, MaxAcceptableMembers: 3, EscalationMultiplier: 1.5},
	"Backup Operators":   {Level: model.RiskLevelMedium, BaseWeight: 1.2, MaxAcceptableMembers: 5, EscalationMultiplier: 1.2},
	"Server Operators":   {Level: model.RiskLevelMedium, BaseWeight: 1.2, MaxAcceptableMembers: 3, EscalationMultiplier: 1.2},
	"Print Operators":    {Level: model.RiskLevelLow, BaseWeight: 1.0, MaxAcceptableMembers: 8, EscalationMultiplier: 1.0},
}

// UnknownGroupProfile is applied to any group not in DefaultGroupProfiles
// and not covered by an operator override.
var UnknownGroupProfile = GroupProfile{Level: model.RiskLevelLow, BaseWeight: 1.0, MaxAcceptableMembers: 10, EscalationMultiplier: 1.0}

// ResolveProfile returns the effective profile for (domain, groupName):
// an operator override if one exists, else the built-in default, else
// UnknownGroupProfile.
func ResolveProfile(overrides map[string]model.GroupRiskConfig, domain, groupName string) GroupProfile {
	if overrides != nil {
		if cfg, ok := overrides[domain+"/"+groupName]; ok {
			return GroupProfile{
				Level:                cfg.Level,
				BaseWeight:           cfg.BaseWeight,
				MaxAcceptableMembers: cfg.MaxAcceptableMembers,
				EscalationMultiplier: cfg.EscalationMultiplier,
			}
		}
	}
	if p, ok := DefaultGroupProfiles[groupName]; ok {
		return p
	}
	return UnknownGroupProfile
}

// defaultTableWeight looks up groupName's base_weight strictly in the
// built-in default table, ignoring any operator override. The
// access-governance weighted average uses this lookup rather than the
// group's resolved (possibly overridden) profile weight — this mirrors
// original_source/server/risk_calculator.py's
// _calculate_access_governance_score exactly, which indexes
// GROUP_PROFILES by name directly rather than consulting the
// caller-supplied profile on the per-group risk result.
func defaultTableWeight(groupName string) float64 {
	if p, ok := DefaultGroupProfiles[groupName]; ok {
		return p.BaseWeight
	}
	return 1.0
}
