package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

// AcceptRisk records an operator decision to suppress every Finding of
// a (ToolType, Category, Name) kind, optionally until ExpiresAt.
func (s *Store) AcceptRisk(ctx context.Context, a *model.AcceptedRisk) error {
	if a.AcceptedAt.IsZero() {
		a.AcceptedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accepted_risks (tool_type, category, name, reason, accepted_by, accepted_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tool_type, category, name) DO UPDATE SET
			reason = EXCLUDED.reason,
			accepted_by = EXCLUDED.accepted_by,
			accepted_at = EXCLUDED.accepted_at,
			expires_at = EXCLUDED.expires_at
	`, a.ToolType, a.Category, a.Name, nullableString(a.Reason), nullableString(a.AcceptedBy), a.AcceptedAt, a.ExpiresAt)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "accept risk", err)
	}
	return nil
}

// RevokeAcceptedRisk removes a prior acceptance, letting the finding
// kind count toward risk scoring again.
func (s *Store) RevokeAcceptedRisk(ctx context.Context, toolType model.ToolType, category, name string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM accepted_risks WHERE tool_type = $1 AND category = $2 AND name = $3
	`, toolType, category, name)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "revoke accepted risk", err)
	}
	return nil
}

// ListAcceptedRisks returns every AcceptedRisk row, active or expired;
// callers filter with AcceptedRisk.IsActive.
func (s *Store) ListAcceptedRisks(ctx context.Context) ([]model.AcceptedRisk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_type, category, name, reason, accepted_by, accepted_at, expires_at
		FROM accepted_risks ORDER BY accepted_at DESC
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "list accepted risks", err)
	}
	defer rows.Close()

	var out []model.AcceptedRisk
	for rows.Next() {
		var a model.AcceptedRisk
		var reason, acceptedBy sql.NullString
		var expiresAt sql.NullTime
		if err := rows.Scan(&a.ToolType, &a.Category, &a.Name, &reason, &acceptedBy, &a.AcceptedAt, &expiresAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan accepted risk", err)
		}
		a.Reason = reason.String
		a.AcceptedBy = acceptedBy.String
		if expiresAt.Valid {
			a.ExpiresAt = &expiresAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetUnacceptedFindings returns every Finding for domain whose risk
// kind has no currently-active acceptance and whose status is not
// accepted, across all of the domain's reports (not only the latest
// report per tool type).
func (s *Store) GetUnacceptedFindings(ctx context.Context, domain string) ([]model.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.report_id, f.tool_type, f.category, f.name, f.score, f.severity,
			f.description, f.recommendation, f.status, f.metadata
		FROM findings f
		JOIN reports r ON r.id = f.report_id
		LEFT JOIN accepted_risks ar ON
			ar.tool_type = f.tool_type AND ar.category = f.category AND ar.name = f.name
			AND (ar.expires_at IS NULL OR ar.expires_at > now())
		WHERE r.domain = $1 AND ar.tool_type IS NULL AND f.status != $2
		ORDER BY f.severity DESC, f.score DESC
	`, domain, model.FindingAccepted)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "query unaccepted findings", err)
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

// ListRiskCatalog returns every known (ToolType, Category, Name) risk
// kind, regardless of acceptance state.
func (s *Store) ListRiskCatalog(ctx context.Context) ([]model.RiskCatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_type, category, name, description, first_seen, last_seen
		FROM risks ORDER BY tool_type, category, name
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "list risk catalog", err)
	}
	defer rows.Close()

	var out []model.RiskCatalogEntry
	for rows.Next() {
		var e model.RiskCatalogEntry
		var description sql.NullString
		if err := rows.Scan(&e.ToolType, &e.Category, &e.Name, &description, &e.FirstSeen, &e.LastSeen); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan risk catalog entry", err)
		}
		e.Description = description.String
		out = append(out, e)
	}
	return out, rows.Err()
}
