package riskservice_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/cache"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
	"github.com/Mindburn-Labs/adsentry/pkg/riskservice"
)

// fakeStore is an in-memory stand-in for *store.Store, following the
// minimal-interface DI pattern pkg/audit's tests use.
type fakeStore struct {
	reports          []*model.Report
	monitoredGroups  map[string][]model.MonitoredGroup // domain -> groups
	memberships      map[string][]model.GroupMembership // domain+"/"+group -> memberships
	acceptedMembers  map[string][]model.AcceptedGroupMember
	groupConfigs     map[string]*model.GroupRiskConfig

	domainAssessments map[string]*model.DomainRiskAssessment
	groupAssessments  map[string][]model.GroupRiskAssessment
	globalScores      map[string][]model.GlobalRiskScore // domain -> history, newest last

	saveDomainCalls int
	saveGlobalCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		monitoredGroups:   make(map[string][]model.MonitoredGroup),
		memberships:       make(map[string][]model.GroupMembership),
		acceptedMembers:   make(map[string][]model.AcceptedGroupMember),
		groupConfigs:      make(map[string]*model.GroupRiskConfig),
		domainAssessments: make(map[string]*model.DomainRiskAssessment),
		groupAssessments:  make(map[string][]model.GroupRiskAssessment),
		globalScores:      make(map[string][]model.GlobalRiskScore),
	}
}

func (f *fakeStore) SaveReport(_ context.Context, r *model.Report) (uuid.UUID, error) {
	if r.ID == uuid.Nil {
		r.ID = model.NewID()
	}
	f.reports = append(f.reports, r)
	return r.ID, nil
}

func (f *fakeStore) GetLatestReportByTool(_ context.Context, domain string, toolType model.ToolType) (*model.Report, error) {
	var latest *model.Report
	for _, r := range f.reports {
		if r.Domain != domain || r.ToolType != toolType {
			continue
		}
		if latest == nil || r.ReportDate.After(latest.ReportDate) {
			latest = r
		}
	}
	if latest == nil {
		return nil, apperr.New(apperr.KindNotFound, "no report")
	}
	return latest, nil
}

func (f *fakeStore) GetOrCreateMonitoredGroup(_ context.Context, domain, groupName string) (*model.MonitoredGroup, error) {
	for i := range f.monitoredGroups[domain] {
		if f.monitoredGroups[domain][i].GroupName == groupName {
			return &f.monitoredGroups[domain][i], nil
		}
	}
	g := model.MonitoredGroup{ID: model.NewID(), Domain: domain, GroupName: groupName, CreatedAt: time.Now().UTC()}
	f.monitoredGroups[domain] = append(f.monitoredGroups[domain], g)
	return &g, nil
}

func (f *fakeStore) ListMonitoredGroups(_ context.Context, domain string) ([]model.MonitoredGroup, error) {
	return f.monitoredGroups[domain], nil
}

func (f *fakeStore) SaveGroupMemberships(_ context.Context, reportID, groupID uuid.UUID, members []model.GroupMembership) error {
	for i := range f.monitoredGroups {
		for _, g := range f.monitoredGroups[i] {
			if g.ID == groupID {
				key := g.Domain + "/" + g.GroupName
				for j := range members {
					members[j].ReportID = reportID
					members[j].GroupID = groupID
				}
				f.memberships[key] = members
				return nil
			}
		}
	}
	return nil
}

func (f *fakeStore) LatestMemberships(_ context.Context, domain, groupName string) ([]model.GroupMembership, error) {
	return f.memberships[domain+"/"+groupName], nil
}

func (f *fakeStore) ListAcceptedGroupMembers(_ context.Context, domain, groupName string) ([]model.AcceptedGroupMember, error) {
	return f.acceptedMembers[domain+"/"+groupName], nil
}

func (f *fakeStore) GetGroupRiskConfig(_ context.Context, domain, groupName string) (*model.GroupRiskConfig, error) {
	cfg, ok := f.groupConfigs[domain+"/"+groupName]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "no override")
	}
	return cfg, nil
}

func (f *fakeStore) SaveDomainRiskAssessment(_ context.Context, a *model.DomainRiskAssessment, groups []model.GroupRiskAssessment) (uuid.UUID, error) {
	f.saveDomainCalls++
	if a.ID == uuid.Nil {
		a.ID = model.NewID()
	}
	cp := *a
	f.domainAssessments[a.Domain] = &cp
	f.groupAssessments[a.Domain] = groups
	return a.ID, nil
}

func (f *fakeStore) GetLatestDomainRiskAssessment(_ context.Context, domain string) (*model.DomainRiskAssessment, []model.GroupRiskAssessment, error) {
	a, ok := f.domainAssessments[domain]
	if !ok {
		return nil, nil, apperr.New(apperr.KindNotFound, "no assessment")
	}
	return a, f.groupAssessments[domain], nil
}

func (f *fakeStore) SaveGlobalRiskScore(_ context.Context, g *model.GlobalRiskScore) (uuid.UUID, error) {
	f.saveGlobalCalls++
	if g.ID == uuid.Nil {
		g.ID = model.NewID()
	}
	f.globalScores[g.Domain] = append(f.globalScores[g.Domain], *g)
	return g.ID, nil
}

func (f *fakeStore) GetLatestGlobalRiskScore(_ context.Context, domain string) (*model.GlobalRiskScore, error) {
	hist := f.globalScores[domain]
	if len(hist) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no global score")
	}
	g := hist[len(hist)-1]
	return &g, nil
}

func (f *fakeStore) GetGlobalRiskScoreHistory(_ context.Context, domain string, limit int) ([]model.GlobalRiskScore, error) {
	hist := f.globalScores[domain]
	if len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]model.GlobalRiskScore, len(hist))
	copy(out, hist)
	return out, nil
}

func (f *fakeStore) CompareDomains(_ context.Context) ([]model.GlobalRiskScore, error) {
	var out []model.GlobalRiskScore
	for _, hist := range f.globalScores {
		if len(hist) > 0 {
			out = append(out, hist[len(hist)-1])
		}
	}
	return out, nil
}

type fakeRecorder struct {
	calls []string
}

func (r *fakeRecorder) Record(_ context.Context, domain, trigger string, _ map[string]interface{}) error {
	r.calls = append(r.calls, domain+":"+trigger)
	return nil
}

func newTestService(t *testing.T, st *fakeStore, now time.Time) (*riskservice.Service, *cache.Cache, *fakeRecorder) {
	t.Helper()
	c := cache.New()
	rec := &fakeRecorder{}
	svc := riskservice.New(st, c, rec, riskservice.WithClock(func() time.Time { return now }))
	return svc, c, rec
}

func TestRecomputeDomain_NoGroups(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, st, now)

	a, groups, err := svc.RecomputeDomain(context.Background(), "corp.example", false)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Equal(t, 0.0, a.DomainGroupScore)
	assert.Equal(t, 1, st.saveDomainCalls)
}

func TestRecomputeDomain_SameDayIsIdempotent(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, st, now)
	ctx := context.Background()

	_, _, err := svc.RecomputeDomain(ctx, "corp.example", false)
	require.NoError(t, err)
	assert.Equal(t, 1, st.saveDomainCalls)

	// Same calendar day, later hour, force=false: must not recompute.
	svc2, _, _ := newTestService(t, st, now.Add(6*time.Hour))
	_, _, err = svc2.RecomputeDomain(ctx, "corp.example", false)
	require.NoError(t, err)
	assert.Equal(t, 1, st.saveDomainCalls, "same-day recompute without force must be a no-op (I5)")
}

func TestRecomputeDomain_Force_AlwaysRecomputes(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, st, now)
	ctx := context.Background()

	_, _, err := svc.RecomputeDomain(ctx, "corp.example", false)
	require.NoError(t, err)
	_, _, err = svc.RecomputeDomain(ctx, "corp.example", true)
	require.NoError(t, err)
	assert.Equal(t, 2, st.saveDomainCalls)
}

func TestRecomputeGlobal_CacheHitShortCircuits(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, st, now)
	ctx := context.Background()

	g1, err := svc.RecomputeGlobal(ctx, "corp.example")
	require.NoError(t, err)
	assert.Equal(t, 1, st.saveGlobalCalls)

	g2, err := svc.RecomputeGlobal(ctx, "corp.example")
	require.NoError(t, err)
	assert.Equal(t, 1, st.saveGlobalCalls, "second call within the same process must hit cache")
	assert.Equal(t, g1.ID, g2.ID)
}

func TestRecomputeGlobal_UsesConfigAuditAndAwarenessSignals(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	configScore := 40
	_, err := st.SaveReport(context.Background(), &model.Report{
		Domain:      "corp.example",
		ToolType:    model.ToolConfigAudit,
		ReportDate:  now.Add(-time.Hour),
		GlobalScore: &configScore,
	})
	require.NoError(t, err)
	_, err = st.SaveReport(context.Background(), &model.Report{
		Domain:     "corp.example",
		ToolType:   model.ToolCustom,
		ReportDate: now.Add(-time.Hour),
		Metadata:   map[string]interface{}{"awareness_score": 80.0},
	})
	require.NoError(t, err)

	svc, _, _ := newTestService(t, st, now)
	g, err := svc.RecomputeGlobal(context.Background(), "corp.example")
	require.NoError(t, err)

	require.NotNil(t, g.ConfigAuditScore)
	assert.Equal(t, 40.0, *g.ConfigAuditScore)
	require.NotNil(t, g.AwarenessRisk)
	assert.Equal(t, 20.0, *g.AwarenessRisk) // 100 - 80
	require.NotNil(t, g.ConfigAuditContribution)
	require.NotNil(t, g.AwarenessContribution)
}

func TestOnMemberChange_InvalidatesBeforeRecomputing(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	svc, c, rec := newTestService(t, st, now)
	ctx := context.Background()

	// Prime the global cache so we can observe it getting invalidated.
	_, err := svc.RecomputeGlobal(ctx, "corp.example")
	require.NoError(t, err)
	assert.Equal(t, 1, st.saveGlobalCalls)

	outcome := svc.OnMemberChange(ctx, "corp.example", "Domain Admins")
	require.Equal(t, riskservice.StatusSuccess, outcome.Status)

	// Invalidation forces a real recompute rather than a cache hit.
	assert.Equal(t, 2, st.saveGlobalCalls)
	assert.Contains(t, rec.calls, "corp.example:member_change")

	key := cache.MakeKey(cache.PrefixGlobalRisk, "corp.example", "")
	_, hit := c.Get(key)
	assert.True(t, hit, "RecomputeGlobal inside OnMemberChange must repopulate the cache")
}

func TestIngestReport_SavesBeforeRecomputing(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	svc, _, rec := newTestService(t, st, now)
	ctx := context.Background()

	score := 35
	report := &model.Report{
		Domain:      "corp.example",
		ToolType:    model.ToolConfigAudit,
		ReportDate:  now,
		GlobalScore: &score,
	}

	id, outcome := svc.IngestReport(ctx, report)
	require.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, riskservice.StatusSuccess, outcome.Status)
	require.NotNil(t, outcome.Global)
	require.Len(t, st.reports, 1, "report must be saved even though this flow also recomputes")
	assert.Contains(t, rec.calls, "corp.example:upload")
}

func TestIngestReport_DomainAnalysisExtractsMemberships(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, st, now)
	ctx := context.Background()

	report := &model.Report{
		Domain:     "corp.example",
		ToolType:   model.ToolDomainAnalysis,
		ReportDate: now,
		Findings: []model.Finding{
			{
				Category: "DonScanner",
				Name:     "Group_Domain Admins_Members",
				Metadata: map[string]interface{}{
					"group_name": "Domain Admins",
					"members": []interface{}{
						map[string]interface{}{"name": "alice", "type": "user"},
						map[string]interface{}{"name": "bob", "type": "user"},
					},
				},
			},
		},
	}

	_, outcome := svc.IngestReport(ctx, report)
	assert.Equal(t, riskservice.StatusSuccess, outcome.Status)

	groups := st.monitoredGroups["corp.example"]
	require.Len(t, groups, 1)
	assert.Equal(t, "Domain Admins", groups[0].GroupName)
	assert.Len(t, st.memberships["corp.example/Domain Admins"], 2)
}

func TestGetBreakdown_NotFoundIsNotAnError(t *testing.T) {
	st := newFakeStore()
	svc, _, _ := newTestService(t, st, time.Now())

	b, err := svc.GetBreakdown(context.Background(), "unknown.example")
	require.NoError(t, err)
	assert.Nil(t, b.Domain)
	assert.Nil(t, b.Global)
}
