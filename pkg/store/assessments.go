package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

// SaveDomainRiskAssessment upserts the one-per-calendar-day materialized
// category-score row for a domain, replacing its per-group breakdown
// wholesale, the same idempotent shape original_source/server uses for
// a day that gets recomputed more than once.
func (s *Store) SaveDomainRiskAssessment(ctx context.Context, a *model.DomainRiskAssessment, groups []model.GroupRiskAssessment) (uuid.UUID, error) {
	if a.AssessedAt.IsZero() {
		a.AssessedAt = time.Now().UTC()
	}
	day := a.AssessedAt.UTC().Truncate(24 * time.Hour)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID uuid.UUID
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM domain_risk_assessments WHERE domain = $1 AND assessed_at::date = $2::date
		`, a.Domain, day).Scan(&existingID)

		switch {
		case err == nil:
			a.ID = existingID
			_, err = tx.ExecContext(ctx, `
				UPDATE domain_risk_assessments SET
					assessed_at = $1, access_governance_score = $2, privilege_escalation_score = $3,
					compliance_posture_score = $4, operational_risk_score = $5, domain_group_score = $6,
					group_count = $7
				WHERE id = $8
			`, a.AssessedAt, a.AccessGovernance, a.PrivilegeEscalation, a.CompliancePosture,
				a.OperationalRisk, a.DomainGroupScore, a.GroupCount, a.ID)
			if err != nil {
				return apperr.Wrap(apperr.KindStorageUnavailable, "update domain risk assessment", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM group_risk_assessments WHERE assessment_id = $1`, a.ID); err != nil {
				return apperr.Wrap(apperr.KindStorageUnavailable, "clear group risk assessments", err)
			}
		case errors.Is(err, sql.ErrNoRows):
			if a.ID == uuid.Nil {
				a.ID = model.NewID()
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO domain_risk_assessments (
					id, domain, assessed_at, access_governance_score, privilege_escalation_score,
					compliance_posture_score, operational_risk_score, domain_group_score, group_count
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, a.ID, a.Domain, a.AssessedAt, a.AccessGovernance, a.PrivilegeEscalation,
				a.CompliancePosture, a.OperationalRisk, a.DomainGroupScore, a.GroupCount)
			if err != nil {
				return apperr.Wrap(apperr.KindStorageUnavailable, "insert domain risk assessment", err)
			}
		default:
			return apperr.Wrap(apperr.KindStorageUnavailable, "lookup domain risk assessment", err)
		}

		for i := range groups {
			g := &groups[i]
			g.AssessmentID = a.ID
			if g.ID == uuid.Nil {
				g.ID = model.NewID()
			}
			factorsJSON, err := json.Marshal(g.ContributingFactors)
			if err != nil {
				return apperr.Wrap(apperr.KindInputInvalid, "marshal contributing factors", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO group_risk_assessments (
					id, assessment_id, group_name, level, total_members, accepted_members,
					unaccepted_members, risk_score, contributing_factors
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, g.ID, g.AssessmentID, g.GroupName, g.Level, g.TotalMembers, g.AcceptedMembers,
				g.UnacceptedMembers, g.RiskScore, factorsJSON)
			if err != nil {
				return apperr.Wrap(apperr.KindStorageUnavailable, "insert group risk assessment", err)
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return a.ID, nil
}

// GetLatestDomainRiskAssessment returns the most recent category-score
// row for domain, with its per-group breakdown.
func (s *Store) GetLatestDomainRiskAssessment(ctx context.Context, domain string) (*model.DomainRiskAssessment, []model.GroupRiskAssessment, error) {
	var a model.DomainRiskAssessment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, domain, assessed_at, access_governance_score, privilege_escalation_score,
			compliance_posture_score, operational_risk_score, domain_group_score, group_count
		FROM domain_risk_assessments WHERE domain = $1 ORDER BY assessed_at DESC LIMIT 1
	`, domain).Scan(&a.ID, &a.Domain, &a.AssessedAt, &a.AccessGovernance, &a.PrivilegeEscalation,
		&a.CompliancePosture, &a.OperationalRisk, &a.DomainGroupScore, &a.GroupCount)
	if err != nil {
		return nil, nil, notFound("domain risk assessment", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assessment_id, group_name, level, total_members, accepted_members,
			unaccepted_members, risk_score, contributing_factors
		FROM group_risk_assessments WHERE assessment_id = $1 ORDER BY risk_score DESC
	`, a.ID)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindStorageUnavailable, "query group risk assessments", err)
	}
	defer rows.Close()

	var groups []model.GroupRiskAssessment
	for rows.Next() {
		var g model.GroupRiskAssessment
		var factorsBytes []byte
		if err := rows.Scan(&g.ID, &g.AssessmentID, &g.GroupName, &g.Level, &g.TotalMembers,
			&g.AcceptedMembers, &g.UnacceptedMembers, &g.RiskScore, &factorsBytes); err != nil {
			return nil, nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan group risk assessment", err)
		}
		if len(factorsBytes) > 0 {
			_ = json.Unmarshal(factorsBytes, &g.ContributingFactors)
		}
		groups = append(groups, g)
	}
	return &a, groups, rows.Err()
}

// SaveGlobalRiskScore upserts the one-per-calendar-day combined score
// row for a domain.
func (s *Store) SaveGlobalRiskScore(ctx context.Context, g *model.GlobalRiskScore) (uuid.UUID, error) {
	if g.AssessedAt.IsZero() {
		g.AssessedAt = time.Now().UTC()
	}
	day := g.AssessedAt.UTC().Truncate(24 * time.Hour)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID uuid.UUID
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM global_risk_scores WHERE domain = $1 AND assessed_at::date = $2::date
		`, g.Domain, day).Scan(&existingID)

		if err == nil {
			g.ID = existingID
		} else if errors.Is(err, sql.ErrNoRows) {
			if g.ID == uuid.Nil {
				g.ID = model.NewID()
			}
		} else {
			return apperr.Wrap(apperr.KindStorageUnavailable, "lookup global risk score", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO global_risk_scores (
				id, domain, assessed_at, config_audit_score, domain_group_score, awareness_risk,
				config_audit_contribution, domain_group_contribution, awareness_contribution,
				global_score, trend_direction, trend_percentage
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET
				assessed_at = EXCLUDED.assessed_at,
				config_audit_score = EXCLUDED.config_audit_score,
				domain_group_score = EXCLUDED.domain_group_score,
				awareness_risk = EXCLUDED.awareness_risk,
				config_audit_contribution = EXCLUDED.config_audit_contribution,
				domain_group_contribution = EXCLUDED.domain_group_contribution,
				awareness_contribution = EXCLUDED.awareness_contribution,
				global_score = EXCLUDED.global_score,
				trend_direction = EXCLUDED.trend_direction,
				trend_percentage = EXCLUDED.trend_percentage
		`, g.ID, g.Domain, g.AssessedAt, nullableFloatPtr(g.ConfigAuditScore), g.DomainGroupScore,
			nullableFloatPtr(g.AwarenessRisk), nullableFloatPtr(g.ConfigAuditContribution),
			g.DomainGroupContribution, nullableFloatPtr(g.AwarenessContribution),
			g.GlobalScore, g.TrendDirection, g.TrendPercentage)
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "upsert global risk score", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return g.ID, nil
}

// GetLatestGlobalRiskScore returns the most recent combined score row
// for domain.
func (s *Store) GetLatestGlobalRiskScore(ctx context.Context, domain string) (*model.GlobalRiskScore, error) {
	var g model.GlobalRiskScore
	var configAudit, awareness, configContrib, awarenessContrib sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, domain, assessed_at, config_audit_score, domain_group_score, awareness_risk,
			config_audit_contribution, domain_group_contribution, awareness_contribution,
			global_score, trend_direction, trend_percentage
		FROM global_risk_scores WHERE domain = $1 ORDER BY assessed_at DESC LIMIT 1
	`, domain).Scan(&g.ID, &g.Domain, &g.AssessedAt, &configAudit, &g.DomainGroupScore, &awareness,
		&configContrib, &g.DomainGroupContribution, &awarenessContrib,
		&g.GlobalScore, &g.TrendDirection, &g.TrendPercentage)
	if err != nil {
		return nil, notFound("global risk score", err)
	}
	g.ConfigAuditScore = nullFloatToPtr(configAudit)
	g.AwarenessRisk = nullFloatToPtr(awareness)
	g.ConfigAuditContribution = nullFloatToPtr(configContrib)
	g.AwarenessContribution = nullFloatToPtr(awarenessContrib)
	return &g, nil
}

// GetGlobalRiskScoreHistory returns up to limit most-recent global
// score rows for domain, oldest first, for trend charts.
func (s *Store) GetGlobalRiskScoreHistory(ctx context.Context, domain string, limit int) ([]model.GlobalRiskScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, assessed_at, config_audit_score, domain_group_score, awareness_risk,
			config_audit_contribution, domain_group_contribution, awareness_contribution,
			global_score, trend_direction, trend_percentage
		FROM global_risk_scores WHERE domain = $1 ORDER BY assessed_at DESC LIMIT $2
	`, domain, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "query global risk score history", err)
	}
	defer rows.Close()

	var out []model.GlobalRiskScore
	for rows.Next() {
		var g model.GlobalRiskScore
		var configAudit, awareness, configContrib, awarenessContrib sql.NullFloat64
		if err := rows.Scan(&g.ID, &g.Domain, &g.AssessedAt, &configAudit, &g.DomainGroupScore, &awareness,
			&configContrib, &g.DomainGroupContribution, &awarenessContrib,
			&g.GlobalScore, &g.TrendDirection, &g.TrendPercentage); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan global risk score", err)
		}
		g.ConfigAuditScore = nullFloatToPtr(configAudit)
		g.AwarenessRisk = nullFloatToPtr(awareness)
		g.ConfigAuditContribution = nullFloatToPtr(configContrib)
		g.AwarenessContribution = nullFloatToPtr(awarenessContrib)
		out = append(out, g)
	}

	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// AppendRiskCalculationHistory writes an immutable audit-log entry for
// a recompute trigger (upload, member-change, scheduled).
func (s *Store) AppendRiskCalculationHistory(ctx context.Context, h *model.RiskCalculationHistory) error {
	if h.ID == uuid.Nil {
		h.ID = model.NewID()
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	payloadJSON, err := json.Marshal(h.Payload)
	if err != nil {
		return apperr.Wrap(apperr.KindInputInvalid, "marshal history payload", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_calculation_history (id, domain, trigger, timestamp, payload)
		VALUES ($1,$2,$3,$4,$5)
	`, h.ID, h.Domain, h.Trigger, h.Timestamp, payloadJSON)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "append risk calculation history", err)
	}
	return nil
}
