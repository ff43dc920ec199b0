// Package riskservice implements the risk integration service (C4,
// spec.md §4.4): it orchestrates pkg/risk's pure formulas against
// pkg/store and pkg/cache, enforcing the ordering guarantees of §5
// (cache invalidation precedes recomputation; save_report commits
// before any recomputation starts for that domain) and the failure
// policy of §4.4 (a recomputation failure never fails the originating
// upload or member-toggle action — it is logged and surfaced as a
// RiskOutcome substatus instead).
//
// Grounded on original_source/server/risk_service.py for operation
// ordering (on_member_change invalidates before it recomputes;
// recompute_global calls recompute_domain internally) and on
// teacher_reference/audit/logger.go's structured-event shape for the
// slog.Error calls a failed recomputation emits.
package riskservice

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/cache"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
	"github.com/Mindburn-Labs/adsentry/pkg/parser/domaingroup"
	"github.com/Mindburn-Labs/adsentry/pkg/risk"
)

// Store is the subset of *store.Store the service needs, expressed as
// an interface so tests can supply an in-memory fake instead of a live
// Postgres instance (the same pattern pkg/audit uses for HistoryStore).
type Store interface {
	SaveReport(ctx context.Context, r *model.Report) (uuid.UUID, error)
	GetLatestReportByTool(ctx context.Context, domain string, toolType model.ToolType) (*model.Report, error)

	GetOrCreateMonitoredGroup(ctx context.Context, domain, groupName string) (*model.MonitoredGroup, error)
	ListMonitoredGroups(ctx context.Context, domain string) ([]model.MonitoredGroup, error)
	SaveGroupMemberships(ctx context.Context, reportID, groupID uuid.UUID, members []model.GroupMembership) error
	LatestMemberships(ctx context.Context, domain, groupName string) ([]model.GroupMembership, error)
	ListAcceptedGroupMembers(ctx context.Context, domain, groupName string) ([]model.AcceptedGroupMember, error)
	GetGroupRiskConfig(ctx context.Context, domain, groupName string) (*model.GroupRiskConfig, error)

	SaveDomainRiskAssessment(ctx context.Context, a *model.DomainRiskAssessment, groups []model.GroupRiskAssessment) (uuid.UUID, error)
	GetLatestDomainRiskAssessment(ctx context.Context, domain string) (*model.DomainRiskAssessment, []model.GroupRiskAssessment, error)

	SaveGlobalRiskScore(ctx context.Context, g *model.GlobalRiskScore) (uuid.UUID, error)
	GetLatestGlobalRiskScore(ctx context.Context, domain string) (*model.GlobalRiskScore, error)
	GetGlobalRiskScoreHistory(ctx context.Context, domain string, limit int) ([]model.GlobalRiskScore, error)

	CompareDomains(ctx context.Context) ([]model.GlobalRiskScore, error)
}

// Cache is the subset of *cache.Cache the service needs.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl ...time.Duration)
	InvalidateGroup(domain, group string) int
	InvalidateDomain(domain string) int
}

// Recorder appends risk_calculation_history entries. Satisfied by
// *audit.Recorder; accepted as an interface so the service can run
// without one (nil is a valid, no-op recorder).
type Recorder interface {
	Record(ctx context.Context, domain, trigger string, payload map[string]interface{}) error
}

// Status is the outcome of a recomputation attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// RiskOutcome is the structured substatus spec.md §7/§9 calls for in
// place of exceptions-as-flow: the primary action (upload, member
// toggle) always reports its own success independent of this.
type RiskOutcome struct {
	Status Status
	Err    string
	Domain *model.DomainRiskAssessment
	Global *model.GlobalRiskScore
}

// Service orchestrates C3 (pkg/risk) against C1 (Store) and C5 (Cache).
type Service struct {
	store     Store
	cache     Cache
	recorder  Recorder
	overrides map[string]model.GroupRiskConfig // domain/group -> static YAML override
	now       func() time.Time
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithGroupProfileOverrides installs the static operator-configured
// override table (pkg/config.LoadGroupProfileOverrides), consulted
// after a per-(domain,group) store-level GroupRiskConfig and before the
// built-in default profile table.
func WithGroupProfileOverrides(overrides map[string]model.GroupRiskConfig) Option {
	return func(s *Service) { s.overrides = overrides }
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service wired against store, cache, and recorder.
// recorder may be nil, in which case history entries are silently
// skipped (DEPENDENCY_FAILED-class failures never block the caller).
func New(store Store, c Cache, recorder Recorder, opts ...Option) *Service {
	s := &Service{store: store, cache: c, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sameCalendarDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// resolveProfile looks up the effective GroupProfile for (domain,
// groupName): an operator-set store-level GroupRiskConfig first, then
// the static config-file override table, then the built-in defaults.
func (s *Service) resolveProfile(ctx context.Context, domain, groupName string) (risk.GroupProfile, error) {
	cfg, err := s.store.GetGroupRiskConfig(ctx, domain, groupName)
	switch {
	case err == nil:
		return risk.GroupProfile{
			Level:                cfg.Level,
			BaseWeight:           cfg.BaseWeight,
			MaxAcceptableMembers: cfg.MaxAcceptableMembers,
			EscalationMultiplier: cfg.EscalationMultiplier,
		}, nil
	case apperr.Is(err, apperr.KindNotFound):
		return risk.ResolveProfile(s.overrides, domain, groupName), nil
	default:
		return risk.GroupProfile{}, err
	}
}

// RecomputeDomain computes (or returns the already-materialized
// same-day) DomainRiskAssessment for domain, per spec.md §4.4: with
// force=false and a same-day row already on file, that row is returned
// unchanged rather than recomputed.
func (s *Service) RecomputeDomain(ctx context.Context, domain string, force bool) (*model.DomainRiskAssessment, []model.GroupRiskAssessment, error) {
	if !force {
		existing, groups, err := s.store.GetLatestDomainRiskAssessment(ctx, domain)
		switch {
		case err == nil && sameCalendarDay(existing.AssessedAt, s.now()):
			return existing, groups, nil
		case err != nil && !apperr.Is(err, apperr.KindNotFound):
			return nil, nil, err
		}
	}

	monitored, err := s.store.ListMonitoredGroups(ctx, domain)
	if err != nil {
		return nil, nil, err
	}

	groupResults := make([]risk.GroupResult, 0, len(monitored))
	groupAssessments := make([]model.GroupRiskAssessment, 0, len(monitored))

	for _, mg := range monitored {
		memberships, err := s.store.LatestMemberships(ctx, domain, mg.GroupName)
		if err != nil {
			return nil, nil, err
		}
		accepted, err := s.store.ListAcceptedGroupMembers(ctx, domain, mg.GroupName)
		if err != nil {
			return nil, nil, err
		}
		acceptedSet := make(map[string]bool, len(accepted))
		for _, a := range accepted {
			acceptedSet[a.MemberName] = true
		}
		total := len(memberships)
		acceptedCount := 0
		for _, m := range memberships {
			if acceptedSet[m.MemberName] {
				acceptedCount++
			}
		}

		profile, err := s.resolveProfile(ctx, domain, mg.GroupName)
		if err != nil {
			return nil, nil, err
		}

		gr := risk.CalculateGroupRisk(profile, mg.GroupName, total, acceptedCount)
		groupResults = append(groupResults, gr)
		groupAssessments = append(groupAssessments, model.GroupRiskAssessment{
			GroupName:           gr.Name,
			Level:               profile.Level,
			TotalMembers:        gr.Total,
			AcceptedMembers:     gr.Accepted,
			UnacceptedMembers:   gr.Unaccepted,
			RiskScore:           gr.RiskScore,
			ContributingFactors: gr.ContributingFactors,
		})
	}

	cats := risk.CalculateCategoryScores(groupResults)
	assessment := &model.DomainRiskAssessment{
		Domain:              domain,
		AssessedAt:          s.now(),
		AccessGovernance:    cats.AccessGovernance,
		PrivilegeEscalation: cats.PrivilegeEscalation,
		CompliancePosture:   cats.CompliancePosture,
		OperationalRisk:     cats.OperationalRisk,
		DomainGroupScore:    risk.DomainGroupScore(cats),
		GroupCount:          len(monitored),
	}

	id, err := s.store.SaveDomainRiskAssessment(ctx, assessment, groupAssessments)
	if err != nil {
		return nil, nil, err
	}
	assessment.ID = id
	return assessment, groupAssessments, nil
}

// awarenessScoreFromReport extracts the positive 0..100 awareness
// score, if any, from a CUSTOM tool report's metadata. Absent a
// dedicated awareness-scan parser in SPEC_FULL.md, an awareness signal
// is ingested as a CUSTOM report carrying metadata["awareness_score"].
func awarenessScoreFromReport(r *model.Report) *float64 {
	if r == nil || r.Metadata == nil {
		return nil
	}
	raw, ok := r.Metadata["awareness_score"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	default:
		return nil
	}
}

func (s *Service) latestConfigAuditScore(ctx context.Context, domain string) (*float64, error) {
	r, err := s.store.GetLatestReportByTool(ctx, domain, model.ToolConfigAudit)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.GlobalScore == nil {
		return nil, nil
	}
	v := float64(*r.GlobalScore)
	return &v, nil
}

func (s *Service) latestAwarenessScore(ctx context.Context, domain string) (*float64, error) {
	r, err := s.store.GetLatestReportByTool(ctx, domain, model.ToolCustom)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return awarenessScoreFromReport(r), nil
}

// RecomputeGlobal computes (or returns the cached) GlobalRiskScore for
// domain, mixing the config-audit, domain-group, and awareness signals
// per pkg/risk's availability-dependent weight table, and gating
// recomputation through Cache per spec.md §4.4.
func (s *Service) RecomputeGlobal(ctx context.Context, domain string) (*model.GlobalRiskScore, error) {
	key := cache.MakeKey(cache.PrefixGlobalRisk, domain, "")
	if v, ok := s.cache.Get(key); ok {
		if g, ok := v.(*model.GlobalRiskScore); ok {
			return g, nil
		}
	}

	configScore, err := s.latestConfigAuditScore(ctx, domain)
	if err != nil {
		return nil, err
	}

	domainAssessment, _, err := s.RecomputeDomain(ctx, domain, false)
	if err != nil {
		return nil, err
	}

	awareness, err := s.latestAwarenessScore(ctx, domain)
	if err != nil {
		return nil, err
	}

	history, err := s.store.GetGlobalRiskScoreHistory(ctx, domain, 30)
	if err != nil {
		return nil, err
	}
	points := make([]risk.TrendPoint, len(history))
	for i, h := range history {
		points[i] = risk.TrendPoint{Score: h.GlobalScore}
	}

	computed := risk.CalculateGlobalScore(risk.GlobalInputs{
		ConfigAuditScore: configScore,
		DomainGroupScore: domainAssessment.DomainGroupScore,
		AwarenessScore:   awareness,
	})
	trendDir, trendPct := risk.CalculateTrend(points, computed.GlobalScore)

	var awarenessRisk *float64
	if awareness != nil {
		v := 100 - *awareness
		awarenessRisk = &v
	}

	g := &model.GlobalRiskScore{
		Domain:                  domain,
		AssessedAt:              s.now(),
		ConfigAuditScore:        configScore,
		DomainGroupScore:        domainAssessment.DomainGroupScore,
		AwarenessRisk:           awarenessRisk,
		ConfigAuditContribution: computed.ConfigAuditContribution,
		DomainGroupContribution: computed.DomainGroupContribution,
		AwarenessContribution:   computed.AwarenessContribution,
		GlobalScore:             computed.GlobalScore,
		TrendDirection:          trendDir,
		TrendPercentage:         trendPct,
	}

	id, err := s.store.SaveGlobalRiskScore(ctx, g)
	if err != nil {
		return nil, err
	}
	g.ID = id

	s.cache.Set(key, g)
	return g, nil
}

// record writes a risk_calculation_history entry, logging (not
// propagating) a failure: audit-trail writes are a DEPENDENCY_FAILED
// class concern per spec.md §7.
func (s *Service) record(ctx context.Context, domain, trigger string, payload map[string]interface{}) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, domain, trigger, payload); err != nil {
		slog.Error("risk calculation history write failed", "domain", domain, "trigger", trigger, "error", err)
	}
}

// OnMemberChange implements the member-accept/deny reactive
// invalidation protocol (spec.md §4.4/§5): cache invalidation happens
// before recomputation begins, recomputation failures are logged and
// surfaced as a failed RiskOutcome rather than propagated to the
// caller, and a history entry records the trigger.
func (s *Service) OnMemberChange(ctx context.Context, domain, group string) RiskOutcome {
	s.cache.InvalidateGroup(domain, group)

	da, _, err := s.RecomputeDomain(ctx, domain, true)
	if err != nil {
		slog.Error("domain recompute failed after member change", "domain", domain, "group", group, "error", err)
		return RiskOutcome{Status: StatusFailed, Err: err.Error()}
	}

	g, err := s.RecomputeGlobal(ctx, domain)
	if err != nil {
		slog.Error("global recompute failed after member change", "domain", domain, "group", group, "error", err)
		return RiskOutcome{Status: StatusFailed, Err: err.Error(), Domain: da}
	}

	s.record(ctx, domain, "member_change", map[string]interface{}{
		"group":              group,
		"global_score":       g.GlobalScore,
		"domain_group_score": da.DomainGroupScore,
	})

	return RiskOutcome{Status: StatusSuccess, Domain: da, Global: g}
}

// saveGroupMemberships resolves stable MonitoredGroup identities for
// report's group-membership findings (pkg/parser/domaingroup's
// ExtractMemberships, never fabricating a group id) and replaces each
// group's membership snapshot for this report.
func (s *Service) saveGroupMemberships(ctx context.Context, report *model.Report) error {
	memberships, err := domaingroup.ExtractMemberships(report, func(groupName string) (uuid.UUID, error) {
		g, err := s.store.GetOrCreateMonitoredGroup(ctx, report.Domain, groupName)
		if err != nil {
			return uuid.Nil, err
		}
		return g.ID, nil
	})
	if err != nil {
		return err
	}

	byGroup := make(map[uuid.UUID][]model.GroupMembership)
	for _, m := range memberships {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m)
	}
	for groupID, members := range byGroup {
		if err := s.store.SaveGroupMemberships(ctx, report.ID, groupID, members); err != nil {
			return err
		}
	}
	return nil
}

// IngestReport implements the upload control flow of spec.md §2: save
// the Report (and, for DOMAIN_ANALYSIS uploads, its group-membership
// snapshot) before any recomputation starts for that domain, then
// recompute the global score. A recomputation failure never fails the
// upload itself — it is reported as a RiskOutcome substatus.
func (s *Service) IngestReport(ctx context.Context, report *model.Report) (uuid.UUID, RiskOutcome) {
	reportID, err := s.store.SaveReport(ctx, report)
	if err != nil {
		return uuid.Nil, RiskOutcome{Status: StatusFailed, Err: err.Error()}
	}
	report.ID = reportID

	if report.ToolType == model.ToolDomainAnalysis {
		if err := s.saveGroupMemberships(ctx, report); err != nil {
			slog.Error("save group memberships failed", "domain", report.Domain, "report_id", reportID, "error", err)
			return reportID, RiskOutcome{Status: StatusFailed, Err: err.Error()}
		}
	}

	s.cache.InvalidateDomain(report.Domain)

	g, err := s.RecomputeGlobal(ctx, report.Domain)
	if err != nil {
		slog.Error("global recompute failed after upload", "domain", report.Domain, "report_id", reportID, "error", err)
		return reportID, RiskOutcome{Status: StatusFailed, Err: err.Error()}
	}

	s.record(ctx, report.Domain, "upload", map[string]interface{}{
		"report_id":    reportID.String(),
		"tool_type":    string(report.ToolType),
		"global_score": g.GlobalScore,
	})

	return reportID, RiskOutcome{Status: StatusSuccess, Global: g}
}

// Breakdown bundles a domain's current materialized assessment with
// its combined global score, for a read-only dashboard query — no
// recomputation.
type Breakdown struct {
	Domain *model.DomainRiskAssessment
	Groups []model.GroupRiskAssessment
	Global *model.GlobalRiskScore
}

// GetBreakdown reads the latest materialized rows for domain without
// triggering a recompute.
func (s *Service) GetBreakdown(ctx context.Context, domain string) (*Breakdown, error) {
	da, groups, err := s.store.GetLatestDomainRiskAssessment(ctx, domain)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	g, err := s.store.GetLatestGlobalRiskScore(ctx, domain)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	return &Breakdown{Domain: da, Groups: groups, Global: g}, nil
}

// GetHistory returns up to the most recent `days` GlobalRiskScore rows
// for domain, oldest first, for trend charts.
func (s *Service) GetHistory(ctx context.Context, domain string, days int) ([]model.GlobalRiskScore, error) {
	return s.store.GetGlobalRiskScoreHistory(ctx, domain, days)
}

// CompareAcrossDomains returns the latest GlobalRiskScore for every
// domain with one, for the cross-domain comparison screen.
func (s *Service) CompareAcrossDomains(ctx context.Context) ([]model.GlobalRiskScore, error) {
	return s.store.CompareDomains(ctx)
}
