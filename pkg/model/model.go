// Package model holds the normalized entities shared by the parser
// registry, the store, the risk calculator, and the integration
// service. Identifiers are UUIDs; timestamps are UTC.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ToolType identifies which upstream assessment tool produced a Report.
type ToolType string

const (
	ToolConfigAudit         ToolType = "CONFIG_AUDIT"
	ToolPKIAudit             ToolType = "PKI_AUDIT"
	ToolDomainAnalysis       ToolType = "DOMAIN_ANALYSIS"
	ToolDomainGroupMembers   ToolType = "DOMAIN_GROUP_MEMBERS"
	ToolCustom               ToolType = "CUSTOM"
)

// Severity is the normalized severity band for a Finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FindingStatus is the lifecycle state of a Finding.
type FindingStatus string

const (
	FindingNew           FindingStatus = "new"
	FindingAccepted      FindingStatus = "accepted"
	FindingResolved      FindingStatus = "resolved"
	FindingFalsePositive FindingStatus = "false_positive"
)

// MemberType classifies a GroupMembership entry.
type MemberType string

const (
	MemberUser      MemberType = "user"
	MemberGroup     MemberType = "group"
	MemberComputer  MemberType = "computer"
	MemberUnknown   MemberType = "unknown"
)

// TrendDirection classifies a GlobalRiskScore against its predecessor.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDegrading TrendDirection = "degrading"
)

// Report is one ingestion of one tool's output for one domain at one
// point in time. Only CONFIG_AUDIT reports may populate the category
// scores and infrastructure metadata fields below (the data-separation
// invariant); DOMAIN_ANALYSIS reports populate only Domain and DomainSID.
type Report struct {
	ID         uuid.UUID `json:"id"`
	ToolType   ToolType  `json:"tool_type"`
	Domain     string    `json:"domain"`
	ReportDate time.Time `json:"report_date"`
	UploadDate time.Time `json:"upload_date"`

	// Infrastructure metadata. CONFIG_AUDIT-only, except DomainSID which
	// DOMAIN_ANALYSIS reports may also set.
	DomainSID              string `json:"domain_sid,omitempty"`
	DomainFunctionalLevel  string `json:"domain_functional_level,omitempty"`
	ForestFunctionalLevel  string `json:"forest_functional_level,omitempty"`
	MaturityLevel          int    `json:"maturity_level,omitempty"`
	DCCount                int    `json:"dc_count,omitempty"`
	UserCount              int    `json:"user_count,omitempty"`
	ComputerCount          int    `json:"computer_count,omitempty"`

	// Category scores. CONFIG_AUDIT-only.
	StaleObjects       *int `json:"stale_objects,omitempty"`
	PrivilegedAccounts *int `json:"privileged_accounts,omitempty"`
	Trusts             *int `json:"trusts,omitempty"`
	Anomalies          *int `json:"anomalies,omitempty"`
	GlobalScore        *int `json:"global_score,omitempty"`

	OriginalFile string                 `json:"original_file,omitempty"`
	HTMLFile     string                 `json:"html_file,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	Findings []Finding `json:"findings,omitempty"`
}

// InfrastructureFieldsPopulated reports whether any of the
// CONFIG_AUDIT-only infrastructure fields (excluding DomainSID, which
// DOMAIN_ANALYSIS is also allowed to carry) are non-zero. Used to
// enforce invariant I1 at save time.
func (r *Report) InfrastructureFieldsPopulated() bool {
	return r.DomainFunctionalLevel != "" ||
		r.ForestFunctionalLevel != "" ||
		r.MaturityLevel != 0 ||
		r.DCCount != 0 ||
		r.UserCount != 0 ||
		r.ComputerCount != 0
}

// CategoryScoresPopulated reports whether any category score is set.
func (r *Report) CategoryScoresPopulated() bool {
	return r.StaleObjects != nil || r.PrivilegedAccounts != nil ||
		r.Trusts != nil || r.Anomalies != nil || r.GlobalScore != nil
}

// Finding is one observation inside a Report. The identity of a
// recurring "risk kind" across reports is (ToolType, Category, Name).
type Finding struct {
	ID             uuid.UUID              `json:"id"`
	ReportID       uuid.UUID              `json:"report_id"`
	ToolType       ToolType               `json:"tool_type"`
	Category       string                 `json:"category"`
	Name           string                 `json:"name"`
	Score          int                    `json:"score"`
	Severity       Severity               `json:"severity"`
	Description    string                 `json:"description,omitempty"`
	Recommendation string                 `json:"recommendation,omitempty"`
	Status         FindingStatus          `json:"status"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// RiskCatalogEntry is the canonical, derived description of a
// (ToolType, Category, Name) triple, upserted from every Finding.
type RiskCatalogEntry struct {
	ToolType    ToolType `json:"tool_type"`
	Category    string   `json:"category"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// AcceptedRisk is an operator decision to suppress a risk kind.
// It is active iff ExpiresAt is nil or in the future.
type AcceptedRisk struct {
	ToolType   ToolType   `json:"tool_type"`
	Category   string     `json:"category"`
	Name       string     `json:"name"`
	Reason     string     `json:"reason,omitempty"`
	AcceptedBy string     `json:"accepted_by,omitempty"`
	AcceptedAt time.Time  `json:"accepted_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// IsActive reports whether the acceptance is currently in force.
func (a *AcceptedRisk) IsActive(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// MonitoredGroup is a privileged AD group the operator wants tracked.
// Unique on (Domain, GroupName).
type MonitoredGroup struct {
	ID        uuid.UUID `json:"id"`
	Domain    string    `json:"domain"`
	GroupName string    `json:"group_name"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupMember is one member entry observed inside a GroupMembership.
type GroupMember struct {
	Name    string     `json:"name"`
	SAM     string     `json:"sam,omitempty"`
	SID     string     `json:"sid,omitempty"`
	Type    MemberType `json:"type,omitempty"`
	Enabled *bool      `json:"enabled,omitempty"`
}

// GroupMembership is one (report x group x member) observation, scoped
// to its Report. Never deduplicated across reports.
type GroupMembership struct {
	ID             uuid.UUID  `json:"id"`
	ReportID       uuid.UUID  `json:"report_id"`
	GroupID        uuid.UUID  `json:"group_id"`
	MemberName     string     `json:"member_name"`
	MemberSID      string     `json:"member_sid,omitempty"`
	MemberType     MemberType `json:"member_type"`
	IsDirectMember bool       `json:"is_direct_member"`
}

// AcceptedGroupMember is an operator decision that a given member of a
// given group is authorized. Unique on (Domain, GroupName, MemberName).
type AcceptedGroupMember struct {
	Domain     string    `json:"domain"`
	GroupName  string    `json:"group_name"`
	MemberName string    `json:"member_name"`
	AcceptedBy string    `json:"accepted_by,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// RiskLevel classifies a MonitoredGroup's profile.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// GroupRiskConfig is a per-(domain, group) override of the default
// group risk profile (see pkg/risk for the defaults).
type GroupRiskConfig struct {
	Domain               string    `json:"domain"`
	GroupName             string    `json:"group_name"`
	Level                 RiskLevel `json:"level"`
	BaseWeight            float64   `json:"base_weight"`
	MaxAcceptableMembers  int       `json:"max_acceptable_members"`
	EscalationMultiplier  float64   `json:"escalation_multiplier"`
}

// DomainRiskAssessment is the materialized result of category scoring
// for a domain on a calendar day. Unique per (Domain, date(AssessedAt)).
type DomainRiskAssessment struct {
	ID                  uuid.UUID `json:"id"`
	Domain              string    `json:"domain"`
	AssessedAt          time.Time `json:"assessed_at"`
	AccessGovernance    float64   `json:"access_governance_score"`
	PrivilegeEscalation float64   `json:"privilege_escalation_score"`
	CompliancePosture   float64   `json:"compliance_posture_score"`
	OperationalRisk     float64   `json:"operational_risk_score"`
	DomainGroupScore    float64   `json:"domain_group_score"`
	GroupCount          int       `json:"group_count"`
}

// GroupRiskAssessment is a per-group breakdown tied to one
// DomainRiskAssessment. Deleted and re-inserted on every recompute.
type GroupRiskAssessment struct {
	ID                   uuid.UUID         `json:"id"`
	AssessmentID         uuid.UUID         `json:"assessment_id"`
	GroupName            string            `json:"group_name"`
	Level                RiskLevel         `json:"level"`
	TotalMembers         int               `json:"total_members"`
	AcceptedMembers      int               `json:"accepted_members"`
	UnacceptedMembers    int               `json:"unaccepted_members"`
	RiskScore            float64           `json:"risk_score"`
	ContributingFactors  map[string]float64 `json:"contributing_factors,omitempty"`
}

// GlobalRiskScore is the materialized combined score for a domain on a
// calendar day.
type GlobalRiskScore struct {
	ID                        uuid.UUID      `json:"id"`
	Domain                    string         `json:"domain"`
	AssessedAt                time.Time      `json:"assessed_at"`
	ConfigAuditScore          *float64       `json:"config_audit_score,omitempty"`
	DomainGroupScore          float64        `json:"domain_group_score"`
	AwarenessRisk             *float64       `json:"awareness_risk,omitempty"`
	ConfigAuditContribution   *float64       `json:"config_audit_contribution,omitempty"`
	DomainGroupContribution   float64        `json:"domain_group_contribution"`
	AwarenessContribution     *float64       `json:"awareness_contribution,omitempty"`
	GlobalScore               float64        `json:"global_score"`
	TrendDirection            TrendDirection `json:"trend_direction"`
	TrendPercentage           float64        `json:"trend_percentage"`
}

// RiskCalculationHistory is an append-only audit log entry.
type RiskCalculationHistory struct {
	ID        uuid.UUID              `json:"id"`
	Domain    string                 `json:"domain"`
	Trigger   string                 `json:"trigger"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// SchemaMigration is one row of the applied-migrations ledger.
type SchemaMigration struct {
	Version         int       `json:"version"`
	Filename        string    `json:"filename"`
	Description     string    `json:"description"`
	Checksum        string    `json:"checksum"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	AppliedAt       time.Time `json:"applied_at"`
}

// DashboardKPIs is the pre-aggregated per-domain KPI rollup backing
// get_dashboard_kpis, refreshed from reports_kpis.
type DashboardKPIs struct {
	Domain              string `json:"domain"`
	TotalReports        int    `json:"total_reports"`
	TotalFindings       int    `json:"total_findings"`
	UnacceptedFindings  int    `json:"unaccepted_findings"`
	MonitoredGroups     int    `json:"monitored_groups"`
	GlobalScore         *float64 `json:"global_score,omitempty"`
}

// NewID generates a new opaque identifier.
func NewID() uuid.UUID {
	return uuid.New()
}
