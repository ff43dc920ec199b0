package store

import (
	"context"
	"database/sql"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

// GetDashboardKPIs reads the per-domain rollup view (reports_kpis,
// spec.md §6): counts of reports, findings, unaccepted findings and
// monitored groups across all of the domain's reports, plus the highest
// global score stored for the domain.
func (s *Store) GetDashboardKPIs(ctx context.Context, domain string) (*model.DashboardKPIs, error) {
	var k model.DashboardKPIs
	var globalScore sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT domain, total_reports, total_findings, unaccepted_findings, monitored_groups, global_score
		FROM reports_kpis WHERE domain = $1
	`, domain).Scan(&k.Domain, &k.TotalReports, &k.TotalFindings, &k.UnacceptedFindings, &k.MonitoredGroups, &globalScore)
	if err != nil {
		return nil, notFound("dashboard kpis", err)
	}
	k.GlobalScore = nullFloatToPtr(globalScore)
	return &k, nil
}

// ListDomains returns every domain with at least one report, for
// populating domain selectors and the cross-domain comparison view.
func (s *Store) ListDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT domain FROM reports ORDER BY domain`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "list domains", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan domain", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CompareDomains returns the latest GlobalRiskScore for every domain
// that has one, for the cross-domain comparison view.
func (s *Store) CompareDomains(ctx context.Context) ([]model.GlobalRiskScore, error) {
	domains, err := s.ListDomains(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.GlobalRiskScore
	for _, d := range domains {
		g, err := s.GetLatestGlobalRiskScore(ctx, d)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *g)
	}
	return out, nil
}
