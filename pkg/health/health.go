// Package health implements the database health checker (spec.md
// §4.7), grounded on original_source/server/health_check.py: table,
// view, and index presence checks plus connectivity, sample-query
// latency, and orphaned-findings checks. Pure database/sql against
// information_schema/pg_indexes — no third-party health-check library
// exists anywhere in the corpus.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Status is a single check's or the overall report's health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// rank orders statuses from best to worst so the overall status can be
// computed as the worst of the set.
var rank = map[Status]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnknown:   2,
	StatusUnhealthy: 3,
}

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	Name       string                 `json:"name"`
	Status     Status                 `json:"status"`
	Message    string                 `json:"message"`
	DurationMs float64                `json:"duration_ms"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Report is the complete health report.
type Report struct {
	OverallStatus Status        `json:"overall_status"`
	Timestamp     time.Time     `json:"timestamp"`
	Checks        []CheckResult `json:"checks"`
	Summary       map[string]interface{} `json:"summary"`
}

// requiredTables mirrors the Go schema's table set (pkg/store's actual
// queries), not health_check.py's list verbatim: this system has no
// agents or risk_configuration tables, and the group override table is
// named group_risk_config (singular) per pkg/store/groups.go.
var requiredTables = []string{
	"reports",
	"findings",
	"risks",
	"accepted_risks",
	"monitored_groups",
	"group_memberships",
	"settings",
	"accepted_group_members",
	"group_risk_config",
	"domain_risk_assessments",
	"group_risk_assessments",
	"global_risk_scores",
	"risk_calculation_history",
	"schema_migrations",
}

var requiredViews = []string{
	"reports_kpis",
}

var requiredIndexes = []string{
	"idx_reports_tool_type",
	"idx_reports_domain",
	"idx_reports_report_date",
	"idx_findings_report_id",
	"idx_findings_tool_type",
	"idx_group_memberships_report_id",
	"idx_domain_risk_assessments_domain_date",
	"idx_global_risk_scores_domain_date",
}

// Checker runs health checks against a Postgres connection pool.
type Checker struct {
	db    *sql.DB
	clock func() time.Time
}

// New returns a Checker over db.
func New(db *sql.DB) *Checker {
	return &Checker{db: db, clock: time.Now}
}

func (c *Checker) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

// RunFull executes every check and aggregates the overall status as
// the worst individual result.
func (c *Checker) RunFull(ctx context.Context) Report {
	start := c.now()
	checks := []CheckResult{
		c.checkConnection(ctx),
		c.checkTables(ctx),
		c.checkViews(ctx),
		c.checkIndexes(ctx),
		c.checkQueryPerformance(ctx),
		c.checkDataIntegrity(ctx),
	}

	overall := StatusHealthy
	var healthy, degraded, unhealthy int
	var totalMs float64
	for _, chk := range checks {
		if rank[chk.Status] > rank[overall] {
			overall = chk.Status
		}
		switch chk.Status {
		case StatusHealthy:
			healthy++
		case StatusDegraded, StatusUnknown:
			degraded++
		case StatusUnhealthy:
			unhealthy++
		}
		totalMs += chk.DurationMs
	}

	return Report{
		OverallStatus: overall,
		Timestamp:     start,
		Checks:        checks,
		Summary: map[string]interface{}{
			"total_checks":      len(checks),
			"healthy":           healthy,
			"degraded":          degraded,
			"unhealthy":         unhealthy,
			"total_duration_ms": totalMs,
		},
	}
}

// RunQuick runs only the connectivity check, for liveness probes.
func (c *Checker) RunQuick(ctx context.Context) CheckResult {
	return c.checkConnection(ctx)
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func (c *Checker) checkConnection(ctx context.Context) CheckResult {
	start := time.Now()
	var one int
	err := c.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
	if err != nil {
		return CheckResult{Name: "connection", Status: StatusUnhealthy,
			Message: fmt.Sprintf("connection failed: %v", err), DurationMs: elapsedMs(start)}
	}
	if one != 1 {
		return CheckResult{Name: "connection", Status: StatusUnhealthy,
			Message: "unexpected query result", DurationMs: elapsedMs(start)}
	}
	return CheckResult{Name: "connection", Status: StatusHealthy,
		Message: "database connection successful", DurationMs: elapsedMs(start)}
}

func (c *Checker) checkTables(ctx context.Context) CheckResult {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
	`)
	if err != nil {
		return CheckResult{Name: "tables", Status: StatusUnhealthy,
			Message: fmt.Sprintf("table check failed: %v", err), DurationMs: elapsedMs(start)}
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return CheckResult{Name: "tables", Status: StatusUnhealthy,
				Message: fmt.Sprintf("table check failed: %v", err), DurationMs: elapsedMs(start)}
		}
		existing[name] = true
	}

	var missing, present []string
	for _, t := range requiredTables {
		if existing[t] {
			present = append(present, t)
		} else {
			missing = append(missing, t)
		}
	}

	details := map[string]interface{}{"present": len(present), "missing": missing}
	switch {
	case len(missing) == 0:
		return CheckResult{Name: "tables", Status: StatusHealthy,
			Message: fmt.Sprintf("all %d required tables present", len(requiredTables)),
			DurationMs: elapsedMs(start), Details: details}
	case len(missing) <= 2:
		return CheckResult{Name: "tables", Status: StatusDegraded,
			Message: fmt.Sprintf("missing %d table(s): %v", len(missing), missing),
			DurationMs: elapsedMs(start), Details: details}
	default:
		return CheckResult{Name: "tables", Status: StatusUnhealthy,
			Message: fmt.Sprintf("missing %d required tables", len(missing)),
			DurationMs: elapsedMs(start), Details: details}
	}
}

func (c *Checker) checkViews(ctx context.Context) CheckResult {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.views WHERE table_schema = 'public'
	`)
	if err != nil {
		return CheckResult{Name: "views", Status: StatusUnhealthy,
			Message: fmt.Sprintf("view check failed: %v", err), DurationMs: elapsedMs(start)}
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return CheckResult{Name: "views", Status: StatusUnhealthy,
				Message: fmt.Sprintf("view check failed: %v", err), DurationMs: elapsedMs(start)}
		}
		existing[name] = true
	}

	var missing, present []string
	for _, v := range requiredViews {
		if existing[v] {
			present = append(present, v)
		} else {
			missing = append(missing, v)
		}
	}

	if len(missing) == 0 {
		return CheckResult{Name: "views", Status: StatusHealthy,
			Message: fmt.Sprintf("all %d required views present", len(requiredViews)),
			DurationMs: elapsedMs(start), Details: map[string]interface{}{"present": present, "missing": []string{}}}
	}
	return CheckResult{Name: "views", Status: StatusDegraded,
		Message: fmt.Sprintf("missing view(s): %v", missing),
		DurationMs: elapsedMs(start), Details: map[string]interface{}{"present": present, "missing": missing}}
}

func (c *Checker) checkIndexes(ctx context.Context) CheckResult {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, `
		SELECT indexname FROM pg_indexes WHERE schemaname = 'public'
	`)
	if err != nil {
		return CheckResult{Name: "indexes", Status: StatusUnhealthy,
			Message: fmt.Sprintf("index check failed: %v", err), DurationMs: elapsedMs(start)}
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return CheckResult{Name: "indexes", Status: StatusUnhealthy,
				Message: fmt.Sprintf("index check failed: %v", err), DurationMs: elapsedMs(start)}
		}
		existing[name] = true
	}

	var missing, present []string
	for _, idx := range requiredIndexes {
		if existing[idx] {
			present = append(present, idx)
		} else {
			missing = append(missing, idx)
		}
	}

	details := map[string]interface{}{"present": len(present), "missing": missing}
	if len(missing) == 0 {
		return CheckResult{Name: "indexes", Status: StatusHealthy,
			Message: fmt.Sprintf("all %d performance indexes present", len(requiredIndexes)),
			DurationMs: elapsedMs(start), Details: details}
	}
	return CheckResult{Name: "indexes", Status: StatusDegraded,
		Message: fmt.Sprintf("missing %d index(es) - may affect performance", len(missing)),
		DurationMs: elapsedMs(start), Details: details}
}

func (c *Checker) checkQueryPerformance(ctx context.Context) CheckResult {
	start := time.Now()
	queryStart := time.Now()
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reports WHERE report_date >= NOW() - INTERVAL '30 days'
	`).Scan(&count)
	queryMs := elapsedMs(queryStart)
	if err != nil {
		return CheckResult{Name: "query_performance", Status: StatusUnhealthy,
			Message: fmt.Sprintf("performance check failed: %v", err), DurationMs: elapsedMs(start)}
	}

	details := map[string]interface{}{"sample_query_ms": queryMs, "report_count": count}
	switch {
	case queryMs < 100:
		return CheckResult{Name: "query_performance", Status: StatusHealthy,
			Message: fmt.Sprintf("query performance good (%.0fms)", queryMs),
			DurationMs: elapsedMs(start), Details: details}
	case queryMs < 500:
		return CheckResult{Name: "query_performance", Status: StatusDegraded,
			Message: fmt.Sprintf("query performance acceptable (%.0fms)", queryMs),
			DurationMs: elapsedMs(start), Details: details}
	default:
		return CheckResult{Name: "query_performance", Status: StatusDegraded,
			Message: fmt.Sprintf("query performance slow (%.0fms)", queryMs),
			DurationMs: elapsedMs(start), Details: details}
	}
}

func (c *Checker) checkDataIntegrity(ctx context.Context) CheckResult {
	start := time.Now()
	var orphaned int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM findings f LEFT JOIN reports r ON f.report_id = r.id WHERE r.id IS NULL
	`).Scan(&orphaned)
	if err != nil {
		return CheckResult{Name: "data_integrity", Status: StatusUnknown,
			Message: fmt.Sprintf("integrity check failed: %v", err), DurationMs: elapsedMs(start)}
	}
	if orphaned == 0 {
		return CheckResult{Name: "data_integrity", Status: StatusHealthy,
			Message: "data integrity verified", DurationMs: elapsedMs(start),
			Details: map[string]interface{}{"orphaned_findings": 0}}
	}
	return CheckResult{Name: "data_integrity", Status: StatusDegraded,
		Message: fmt.Sprintf("found %d orphaned findings", orphaned), DurationMs: elapsedMs(start),
		Details: map[string]interface{}{"orphaned_findings": orphaned}}
}
