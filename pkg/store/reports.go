package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

// SaveReport inserts or updates a Report and its Findings inside a
// single transaction, enforcing the data-separation invariant (I1):
// only CONFIG_AUDIT reports may carry infrastructure metadata and
// category scores. A violation is logged and the offending fields are
// dropped rather than propagated (INTEGRITY_VIOLATION, per spec.md §7),
// so the report is still saved with only its tool-appropriate fields.
func (s *Store) SaveReport(ctx context.Context, r *model.Report) (uuid.UUID, error) {
	if r.ID == uuid.Nil {
		r.ID = model.NewID()
	}
	if r.UploadDate.IsZero() {
		r.UploadDate = time.Now().UTC()
	}

	enforceDataSeparation(r)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return apperr.Wrap(apperr.KindInputInvalid, "marshal report metadata", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reports (
				id, tool_type, domain, report_date, upload_date,
				domain_sid, domain_functional_level, forest_functional_level,
				maturity_level, dc_count, user_count, computer_count,
				stale_objects, privileged_accounts, trusts, anomalies, global_score,
				original_file, html_file, metadata
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
			ON CONFLICT (id) DO UPDATE SET
				report_date = EXCLUDED.report_date,
				html_file = EXCLUDED.html_file,
				metadata = EXCLUDED.metadata
		`,
			r.ID, r.ToolType, r.Domain, r.ReportDate, r.UploadDate,
			nullableString(r.DomainSID), nullableString(r.DomainFunctionalLevel), nullableString(r.ForestFunctionalLevel),
			nullableInt(r.MaturityLevel), nullableInt(r.DCCount), nullableInt(r.UserCount), nullableInt(r.ComputerCount),
			nullableIntPtr(r.StaleObjects), nullableIntPtr(r.PrivilegedAccounts), nullableIntPtr(r.Trusts), nullableIntPtr(r.Anomalies), nullableIntPtr(r.GlobalScore),
			nullableString(r.OriginalFile), nullableString(r.HTMLFile), metaJSON,
		)
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "insert report", err)
		}

		for i := range r.Findings {
			f := &r.Findings[i]
			f.ReportID = r.ID
			if f.ID == uuid.Nil {
				f.ID = model.NewID()
			}
			if f.Status == "" {
				f.Status = model.FindingNew
			}
			if err := insertFinding(ctx, tx, f); err != nil {
				return err
			}
			if err := upsertRiskCatalogEntry(ctx, tx, f); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return r.ID, nil
}

// enforceDataSeparation drops infrastructure metadata and category
// scores from any report whose ToolType is not CONFIG_AUDIT, logging
// the violation at error level (INTEGRITY_VIOLATION). DOMAIN_ANALYSIS
// reports keep only Domain and DomainSID.
func enforceDataSeparation(r *model.Report) {
	if r.ToolType == model.ToolConfigAudit {
		return
	}

	if r.CategoryScoresPopulated() {
		slog.Error("integrity violation: category scores set on non-config-audit report",
			"tool_type", r.ToolType, "domain", r.Domain)
		r.StaleObjects, r.PrivilegedAccounts, r.Trusts, r.Anomalies, r.GlobalScore = nil, nil, nil, nil, nil
	}

	keepSID := r.DomainSID
	if r.InfrastructureFieldsPopulated() {
		slog.Error("integrity violation: infrastructure metadata set on non-config-audit report",
			"tool_type", r.ToolType, "domain", r.Domain)
	}
	r.DomainFunctionalLevel = ""
	r.ForestFunctionalLevel = ""
	r.MaturityLevel = 0
	r.DCCount = 0
	r.UserCount = 0
	r.ComputerCount = 0
	if r.ToolType == model.ToolDomainAnalysis {
		r.DomainSID = keepSID
	} else {
		r.DomainSID = ""
	}
}

func insertFinding(ctx context.Context, tx *sql.Tx, f *model.Finding) error {
	metaJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.KindInputInvalid, "marshal finding metadata", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO findings (
			id, report_id, tool_type, category, name, score, severity,
			description, recommendation, status, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
	`, f.ID, f.ReportID, f.ToolType, f.Category, f.Name, f.Score, f.Severity,
		nullableString(f.Description), nullableString(f.Recommendation), f.Status, metaJSON)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert finding", err)
	}
	return nil
}

func upsertRiskCatalogEntry(ctx context.Context, tx *sql.Tx, f *model.Finding) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO risks (tool_type, category, name, description, first_seen, last_seen)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (tool_type, category, name) DO UPDATE SET last_seen = EXCLUDED.last_seen
	`, f.ToolType, f.Category, f.Name, nullableString(f.Description), now)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "upsert risk catalog entry", err)
	}
	return nil
}

// UpdateReportHTML attaches an HTML companion file path to an existing
// Report, matching the upload flow's backfill of orphaned XML/HTML
// pairs described in spec.md §6.
func (s *Store) UpdateReportHTML(ctx context.Context, id uuid.UUID, path string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reports SET html_file = $1 WHERE id = $2`, path, id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "update report html", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("report %s", id))
	}
	return nil
}

// GetReport loads a Report by id along with its Findings.
func (s *Store) GetReport(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool_type, domain, report_date, upload_date,
			domain_sid, domain_functional_level, forest_functional_level,
			maturity_level, dc_count, user_count, computer_count,
			stale_objects, privileged_accounts, trusts, anomalies, global_score,
			original_file, html_file, metadata
		FROM reports WHERE id = $1
	`, id)

	r, err := scanReport(row)
	if err != nil {
		return nil, notFound(fmt.Sprintf("report %s", id), err)
	}

	findings, err := s.findingsForReport(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Findings = findings
	return r, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*model.Report, error) {
	var r model.Report
	var domainSID, domainFL, forestFL, originalFile, htmlFile sql.NullString
	var maturity, dc, user, computer sql.NullInt64
	var stale, priv, trusts, anomalies, global sql.NullInt64
	var metaBytes []byte

	if err := row.Scan(
		&r.ID, &r.ToolType, &r.Domain, &r.ReportDate, &r.UploadDate,
		&domainSID, &domainFL, &forestFL,
		&maturity, &dc, &user, &computer,
		&stale, &priv, &trusts, &anomalies, &global,
		&originalFile, &htmlFile, &metaBytes,
	); err != nil {
		return nil, err
	}

	r.DomainSID = domainSID.String
	r.DomainFunctionalLevel = domainFL.String
	r.ForestFunctionalLevel = forestFL.String
	r.MaturityLevel = int(maturity.Int64)
	r.DCCount = int(dc.Int64)
	r.UserCount = int(user.Int64)
	r.ComputerCount = int(computer.Int64)
	r.StaleObjects = nullIntToPtr(stale)
	r.PrivilegedAccounts = nullIntToPtr(priv)
	r.Trusts = nullIntToPtr(trusts)
	r.Anomalies = nullIntToPtr(anomalies)
	r.GlobalScore = nullIntToPtr(global)
	r.OriginalFile = originalFile.String
	r.HTMLFile = htmlFile.String

	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &r.Metadata)
	}

	return &r, nil
}

func (s *Store) findingsForReport(ctx context.Context, reportID uuid.UUID) ([]model.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, tool_type, category, name, score, severity,
			description, recommendation, status, metadata
		FROM findings WHERE report_id = $1 ORDER BY category, name
	`, reportID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "query findings", err)
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		var f model.Finding
		var description, recommendation sql.NullString
		var metaBytes []byte
		if err := rows.Scan(&f.ID, &f.ReportID, &f.ToolType, &f.Category, &f.Name, &f.Score, &f.Severity,
			&description, &recommendation, &f.Status, &metaBytes); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan finding", err)
		}
		f.Description = description.String
		f.Recommendation = recommendation.String
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &f.Metadata)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetLatestReportByTool returns the most recent Report for (domain,
// toolType), without its Findings. Used by the risk integration
// service to pick up the latest CONFIG_AUDIT global_score and the
// latest CUSTOM (awareness) report without joining report families.
func (s *Store) GetLatestReportByTool(ctx context.Context, domain string, toolType model.ToolType) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool_type, domain, report_date, upload_date,
			domain_sid, domain_functional_level, forest_functional_level,
			maturity_level, dc_count, user_count, computer_count,
			stale_objects, privileged_accounts, trusts, anomalies, global_score,
			original_file, html_file, metadata
		FROM reports WHERE domain = $1 AND tool_type = $2 ORDER BY report_date DESC LIMIT 1
	`, domain, toolType)

	r, err := scanReport(row)
	if err != nil {
		return nil, notFound(fmt.Sprintf("latest %s report for %s", toolType, domain), err)
	}
	return r, nil
}

// ReportFilter narrows GetAllReportsSummary.
type ReportFilter struct {
	Domain   string
	ToolType model.ToolType
}

// GetAllReportsSummary returns Reports (without Findings, for a cheap
// list view) optionally filtered by domain and/or tool type.
func (s *Store) GetAllReportsSummary(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `
		SELECT id, tool_type, domain, report_date, upload_date,
			domain_sid, domain_functional_level, forest_functional_level,
			maturity_level, dc_count, user_count, computer_count,
			stale_objects, privileged_accounts, trusts, anomalies, global_score,
			original_file, html_file, metadata
		FROM reports WHERE 1=1`
	var args []interface{}
	if filter.Domain != "" {
		args = append(args, filter.Domain)
		query += fmt.Sprintf(" AND domain = $%d", len(args))
	}
	if filter.ToolType != "" {
		args = append(args, filter.ToolType)
		query += fmt.Sprintf(" AND tool_type = $%d", len(args))
	}
	query += " ORDER BY report_date DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "query reports", err)
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan report", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
