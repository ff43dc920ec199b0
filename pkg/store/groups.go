package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

// GetOrCreateMonitoredGroup looks up a MonitoredGroup by (domain,
// groupName), creating it if absent. This replaces the teacher
// source's practice of fabricating a fresh group_id with every
// membership snapshot; a group's identity must stay stable across
// uploads so membership history and risk trends line up.
func (s *Store) GetOrCreateMonitoredGroup(ctx context.Context, domain, groupName string) (*model.MonitoredGroup, error) {
	var g model.MonitoredGroup
	err := s.db.QueryRowContext(ctx, `
		SELECT id, domain, group_name, created_at FROM monitored_groups
		WHERE domain = $1 AND group_name = $2
	`, domain, groupName).Scan(&g.ID, &g.Domain, &g.GroupName, &g.CreatedAt)
	if err == nil {
		return &g, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "lookup monitored group", err)
	}

	g = model.MonitoredGroup{ID: model.NewID(), Domain: domain, GroupName: groupName, CreatedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitored_groups (id, domain, group_name, created_at) VALUES ($1,$2,$3,$4)
		ON CONFLICT (domain, group_name) DO NOTHING
	`, g.ID, g.Domain, g.GroupName, g.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "create monitored group", err)
	}

	// A concurrent insert may have won the race; re-read to get the
	// identity that actually landed.
	err = s.db.QueryRowContext(ctx, `
		SELECT id, domain, group_name, created_at FROM monitored_groups
		WHERE domain = $1 AND group_name = $2
	`, domain, groupName).Scan(&g.ID, &g.Domain, &g.GroupName, &g.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "reread monitored group", err)
	}
	return &g, nil
}

// ListMonitoredGroups returns every tracked group for domain.
func (s *Store) ListMonitoredGroups(ctx context.Context, domain string) ([]model.MonitoredGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, group_name, created_at FROM monitored_groups WHERE domain = $1 ORDER BY group_name
	`, domain)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "list monitored groups", err)
	}
	defer rows.Close()

	var out []model.MonitoredGroup
	for rows.Next() {
		var g model.MonitoredGroup
		if err := rows.Scan(&g.ID, &g.Domain, &g.GroupName, &g.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan monitored group", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SaveGroupMemberships replaces the membership snapshot for one
// (report, group) pair. Memberships are never deduplicated across
// reports — each upload is its own point-in-time observation — so
// this only guards against re-processing the same report twice.
func (s *Store) SaveGroupMemberships(ctx context.Context, reportID, groupID uuid.UUID, members []model.GroupMembership) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM group_memberships WHERE report_id = $1 AND group_id = $2`, reportID, groupID)
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "clear stale group memberships", err)
		}

		for i := range members {
			m := &members[i]
			m.ReportID = reportID
			m.GroupID = groupID
			if m.ID == uuid.Nil {
				m.ID = model.NewID()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO group_memberships (id, report_id, group_id, member_name, member_sid, member_type, is_direct_member)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, m.ID, m.ReportID, m.GroupID, m.MemberName, nullableString(m.MemberSID), m.MemberType, m.IsDirectMember)
			if err != nil {
				return apperr.Wrap(apperr.KindStorageUnavailable, "insert group membership", err)
			}
		}
		return nil
	})
}

// LatestMemberships returns the most recent membership snapshot for
// (domain, groupName), i.e. the memberships attached to that group's
// newest DOMAIN_ANALYSIS or DOMAIN_GROUP_MEMBERS report.
func (s *Store) LatestMemberships(ctx context.Context, domain, groupName string) ([]model.GroupMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gm.id, gm.report_id, gm.group_id, gm.member_name, gm.member_sid, gm.member_type, gm.is_direct_member
		FROM group_memberships gm
		JOIN monitored_groups g ON g.id = gm.group_id
		JOIN reports r ON r.id = gm.report_id
		WHERE g.domain = $1 AND g.group_name = $2
		AND r.id = (
			SELECT r2.id FROM reports r2
			JOIN group_memberships gm2 ON gm2.report_id = r2.id
			WHERE gm2.group_id = g.id
			ORDER BY r2.report_date DESC LIMIT 1
		)
	`, domain, groupName)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "query latest memberships", err)
	}
	defer rows.Close()

	var out []model.GroupMembership
	for rows.Next() {
		var m model.GroupMembership
		var sid sql.NullString
		if err := rows.Scan(&m.ID, &m.ReportID, &m.GroupID, &m.MemberName, &sid, &m.MemberType, &m.IsDirectMember); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan group membership", err)
		}
		m.MemberSID = sid.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// AcceptGroupMember records that memberName in groupName/domain is
// authorized and should not count toward unaccepted-member risk.
func (s *Store) AcceptGroupMember(ctx context.Context, a *model.AcceptedGroupMember) error {
	if a.AcceptedAt.IsZero() {
		a.AcceptedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accepted_group_members (domain, group_name, member_name, accepted_by, accepted_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (domain, group_name, member_name) DO UPDATE SET
			accepted_by = EXCLUDED.accepted_by, accepted_at = EXCLUDED.accepted_at
	`, a.Domain, a.GroupName, a.MemberName, nullableString(a.AcceptedBy), a.AcceptedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "accept group member", err)
	}
	return nil
}

// RevokeAcceptedGroupMember undoes a prior AcceptGroupMember.
func (s *Store) RevokeAcceptedGroupMember(ctx context.Context, domain, groupName, memberName string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM accepted_group_members WHERE domain = $1 AND group_name = $2 AND member_name = $3
	`, domain, groupName, memberName)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "revoke accepted group member", err)
	}
	return nil
}

// ListAcceptedGroupMembers returns every accepted member for
// (domain, groupName).
func (s *Store) ListAcceptedGroupMembers(ctx context.Context, domain, groupName string) ([]model.AcceptedGroupMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, group_name, member_name, accepted_by, accepted_at
		FROM accepted_group_members WHERE domain = $1 AND group_name = $2
	`, domain, groupName)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "list accepted group members", err)
	}
	defer rows.Close()

	var out []model.AcceptedGroupMember
	for rows.Next() {
		var a model.AcceptedGroupMember
		var acceptedBy sql.NullString
		if err := rows.Scan(&a.Domain, &a.GroupName, &a.MemberName, &acceptedBy, &a.AcceptedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan accepted group member", err)
		}
		a.AcceptedBy = acceptedBy.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetGroupRiskConfig returns the per-(domain, group) override, if one
// exists; callers fall back to pkg/risk's default table otherwise.
func (s *Store) GetGroupRiskConfig(ctx context.Context, domain, groupName string) (*model.GroupRiskConfig, error) {
	var c model.GroupRiskConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT domain, group_name, level, base_weight, max_acceptable_members, escalation_multiplier
		FROM group_risk_config WHERE domain = $1 AND group_name = $2
	`, domain, groupName).Scan(&c.Domain, &c.GroupName, &c.Level, &c.BaseWeight, &c.MaxAcceptableMembers, &c.EscalationMultiplier)
	if err != nil {
		return nil, notFound("group risk config", err)
	}
	return &c, nil
}

// SetGroupRiskConfig upserts a per-(domain, group) override.
func (s *Store) SetGroupRiskConfig(ctx context.Context, c *model.GroupRiskConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_risk_config (domain, group_name, level, base_weight, max_acceptable_members, escalation_multiplier)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (domain, group_name) DO UPDATE SET
			level = EXCLUDED.level, base_weight = EXCLUDED.base_weight,
			max_acceptable_members = EXCLUDED.max_acceptable_members,
			escalation_multiplier = EXCLUDED.escalation_multiplier
	`, c.Domain, c.GroupName, c.Level, c.BaseWeight, c.MaxAcceptableMembers, c.EscalationMultiplier)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "set group risk config", err)
	}
	return nil
}
