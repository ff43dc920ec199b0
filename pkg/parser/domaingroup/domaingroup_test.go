package domaingroup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adsentry/pkg/parser/domaingroup"
)

const sampleJSON = `{
	"domain": "corp.example.com",
	"domain_info": {"sid": "S-1-5-21-9-9-9", "users_count": 500},
	"scan_date": "2026-03-01T00:00:00Z",
	"groups": {
		"Domain Admins": {
			"sid": "S-1-5-21-9-9-9-512",
			"members": [
				{"name": "alice", "sid": "S-1-5-21-9-9-9-1001"},
				"bob"
			]
		},
		"Account Operators": {
			"members": []
		}
	}
}`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o600))
	return path
}

func TestParser_CanParse(t *testing.T) {
	p := domaingroup.New()
	assert.True(t, p.CanParse(context.Background(), "r.json", []byte(sampleJSON)))
	assert.False(t, p.CanParse(context.Background(), "r.json", []byte(`{"domain":"x"}`)))
}

func TestParser_Parse_EmptyGroupProducesNoFinding(t *testing.T) {
	path := writeSample(t)
	report, err := domaingroup.New().Parse(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "Group_Domain Admins_Members", report.Findings[0].Name)
	assert.Equal(t, domaingroup.CategoryGroupMembers, report.Findings[0].Category)
}

func TestParser_Parse_HighRiskSmallGroupScore(t *testing.T) {
	path := writeSample(t)
	report, err := domaingroup.New().Parse(context.Background(), path)
	require.NoError(t, err)

	f := report.Findings[0]
	assert.Equal(t, 17, f.Score) // base 15 (high-risk group) + 2 (member_count>1)
}

func TestExtractMemberships_NormalizesStringAndStructuredMembers(t *testing.T) {
	path := writeSample(t)
	report, err := domaingroup.New().Parse(context.Background(), path)
	require.NoError(t, err)

	groupID := uuid.New()
	memberships, err := domaingroup.ExtractMemberships(report, func(name string) (uuid.UUID, error) {
		return groupID, nil
	})
	require.NoError(t, err)
	require.Len(t, memberships, 2)

	var names []string
	for _, m := range memberships {
		names = append(names, m.MemberName)
		assert.Equal(t, groupID, m.GroupID)
	}
	assert.Contains(t, names, "alice")
	assert.Contains(t, names, "bob")
}
