package pkiaudit_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adsentry/pkg/model"
	"github.com/Mindburn-Labs/adsentry/pkg/parser/pkiaudit"
)

const sampleJSON = `{
	"domain": "corp.example.com",
	"scan_date": "2026-02-01T00:00:00Z",
	"certificate_templates": {
		"WebServer": {
			"permissions": {"Everyone": ["GenericAll"]},
			"allows_san": true,
			"requires_approval": false
		}
	},
	"certificate_authorities": {
		"CORP-CA": {
			"permissions": {"Domain Users": ["ManageCA"]}
		}
	}
}`

const sampleCSV = "finding,template,severity\nWeak Key Size,WebServer,high\n"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParser_CanParse_JSON(t *testing.T) {
	p := pkiaudit.New()
	assert.True(t, p.CanParse(context.Background(), "r.json", []byte(sampleJSON)))
	assert.False(t, p.CanParse(context.Background(), "r.json", []byte(`{"foo":"bar"}`)))
}

func TestParser_CanParse_CSV(t *testing.T) {
	p := pkiaudit.New()
	assert.True(t, p.CanParse(context.Background(), "r.csv", []byte(sampleCSV)))
	assert.False(t, p.CanParse(context.Background(), "r.csv", []byte("a,b,c\n1,2,3\n")))
}

func TestParser_Parse_JSON_FindsOverprivilegedTemplateAndDangerousCA(t *testing.T) {
	path := writeFile(t, "report.json", sampleJSON)
	p := pkiaudit.New()

	report, err := p.Parse(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "corp.example.com", report.Domain)
	assert.Equal(t, model.ToolPKIAudit, report.ToolType)

	var names []string
	for _, f := range report.Findings {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "Overprivileged_Certificate_Template")
	assert.Contains(t, names, "Template_Allows_SAN")
	assert.Contains(t, names, "Template_No_Approval_Required")
	assert.Contains(t, names, "Dangerous_CA_Permissions")
}

func TestParser_Parse_CSV_InfersSeverityFromColumn(t *testing.T) {
	path := writeFile(t, "report.csv", sampleCSV)
	p := pkiaudit.New()

	report, err := p.Parse(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, report.Findings, 1)
	f := report.Findings[0]
	assert.Equal(t, model.SeverityHigh, f.Severity)
	assert.Equal(t, 25, f.Score)
	assert.Equal(t, "Weak Key Size", f.Name)
}
