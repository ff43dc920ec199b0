// Package pkiaudit parses Locksmith-style ADCS (Active Directory
// Certificate Services) reports, in either JSON or CSV form, into
// model.Report (model.ToolPKIAudit). Grounded byte-for-byte on
// original_source/parsers/locksmith_parser.py. Uses encoding/json and
// encoding/csv — no ecosystem JSON or CSV library appears anywhere in
// the retrieved corpus, the justified stdlib exception recorded in
// DESIGN.md.
package pkiaudit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

var (
	dangerousTemplatePermissions = []string{"GenericAll", "WriteDacl", "WriteOwner", "FullControl"}
	dangerousCAPermissions       = []string{"ManageCA", "ManageCertificates", "Enroll"}
	riskyPrincipals              = []string{"Everyone", "Authenticated Users", "Domain Users"}
)

// Parser implements pkg/parser.Parser for PKI_AUDIT JSON/CSV uploads.
type Parser struct{}

// New returns a Parser.
func New() *Parser { return &Parser{} }

// SupportedExtensions implements pkg/parser.Parser.
func (p *Parser) SupportedExtensions() []string { return []string{".json", ".csv"} }

// ToolType implements pkg/parser.Parser.
func (p *Parser) ToolType() model.ToolType { return model.ToolPKIAudit }

// CanParse mirrors the Python source's can_parse: a JSON document
// whose raw text mentions locksmith/adcs/certificate, or any key
// containing "template"; a CSV whose header row contains one of the
// Locksmith column names.
func (p *Parser) CanParse(_ context.Context, path string, head []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		var data map[string]interface{}
		if err := json.Unmarshal(head, &data); err != nil {
			return false
		}
		lower := strings.ToLower(fmt.Sprintf("%v", data))
		if strings.Contains(lower, "locksmith") || strings.Contains(lower, "adcs") || strings.Contains(lower, "certificate") {
			return true
		}
		for k := range data {
			if strings.Contains(strings.ToLower(k), "template") {
				return true
			}
		}
		return false
	case ".csv":
		r := csv.NewReader(strings.NewReader(string(head)))
		headers, err := r.Read()
		if err != nil {
			return false
		}
		wanted := []string{"template", "certificate", "ca", "issue", "finding"}
		for _, h := range headers {
			hl := strings.ToLower(strings.TrimSpace(h))
			for _, w := range wanted {
				if hl == w {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// Parse dispatches to the JSON or CSV variant by extension.
func (p *Parser) Parse(_ context.Context, path string) (*model.Report, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(path)
	case ".csv":
		return parseCSV(path)
	default:
		return nil, apperr.New(apperr.KindInputInvalid, "unsupported PKI audit format: "+path)
	}
}

func parseJSON(path string) (*model.Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, "read "+path, err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apperr.Wrap(apperr.KindParseFailed, "unmarshal pki audit json", err)
	}

	domain := firstString(data, "domain", "forest")
	if domain == "" {
		domain = "Unknown"
	}

	reportDate := parseJSONReportDate(firstString(data, "scan_date", "timestamp"))

	var findings []model.Finding

	templates := asMap(firstValue(data, "certificate_templates", "templates"))
	for name, raw := range templates {
		td := asMap(raw)
		findings = append(findings, analyzeCertificateTemplate(name, td)...)
	}

	cas := asMap(firstValue(data, "certificate_authorities", "cas"))
	for name, raw := range cas {
		cd := asMap(raw)
		findings = append(findings, analyzeCertificateAuthority(name, cd)...)
	}

	generic := asSlice(firstValue(data, "findings", "issues"))
	for _, raw := range generic {
		fd := asMap(raw)
		severity := model.Severity(stringOr(fd["severity"], "medium"))
		score := intOr(fd["score"], defaultScoreForSeverity(severity))
		findings = append(findings, model.Finding{
			ID:             model.NewID(),
			ToolType:       model.ToolPKIAudit,
			Category:       stringOr(fd["category"], "ADCS_Configuration"),
			Name:           stringOr(fd["name"], "Unknown_ADCS_Issue"),
			Score:          score,
			Severity:       severity,
			Description:    stringOr(fd["description"], ""),
			Recommendation: firstStringOf(fd, "recommendation", "remediation"),
			Status:         model.FindingNew,
			Metadata:       asMap(fd["metadata"]),
		})
	}

	return &model.Report{
		ID:           model.NewID(),
		ToolType:     model.ToolPKIAudit,
		Domain:       domain,
		ReportDate:   reportDate,
		UploadDate:   time.Now().UTC(),
		OriginalFile: path,
		Metadata:     asMap(data["metadata"]),
		Findings:     findings,
	}, nil
}

func parseCSV(path string) (*model.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, "open "+path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	headers, err := r.Read()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindParseFailed, "read csv header", err)
	}

	domain := "Unknown"
	var findings []model.Finding

	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[strings.ToLower(strings.TrimSpace(h))] = record[i]
			}
		}
		if d := row["domain"]; d != "" {
			domain = d
		}

		findingName := rowValue(row, "finding", "issue")
		if findingName == "" {
			findingName = "Unknown_ADCS_Issue"
		}
		templateName := rowValue(row, "template", "certificate_template")
		caName := rowValue(row, "ca", "certificate_authority")

		severity := determineCSVSeverity(row)
		findings = append(findings, model.Finding{
			ID:             model.NewID(),
			ToolType:       model.ToolPKIAudit,
			Category:       "ADCS_Configuration",
			Name:           findingName,
			Score:          defaultScoreForSeverity(severity),
			Severity:       severity,
			Description:    buildCSVDescription(row),
			Recommendation: generateCSVRecommendation(row),
			Status:         model.FindingNew,
			Metadata: map[string]interface{}{
				"template": templateName,
				"ca":       caName,
				"raw_data": row,
			},
		})
	}

	return &model.Report{
		ID:           model.NewID(),
		ToolType:     model.ToolPKIAudit,
		Domain:       domain,
		ReportDate:   time.Now().UTC(),
		UploadDate:   time.Now().UTC(),
		OriginalFile: path,
		Findings:     findings,
	}, nil
}

func analyzeCertificateTemplate(name string, data map[string]interface{}) []model.Finding {
	var out []model.Finding
	permissions := asMap(data["permissions"])

	if isOverprivileged(permissions, dangerousTemplatePermissions) {
		out = append(out, model.Finding{
			ID:             model.NewID(),
			ToolType:       model.ToolPKIAudit,
			Category:       "Certificate_Templates",
			Name:           "Overprivileged_Certificate_Template",
			Score:          25,
			Severity:       model.SeverityHigh,
			Description:    fmt.Sprintf("Certificate template '%s' has overprivileged permissions", name),
			Recommendation: fmt.Sprintf("Review and restrict permissions for certificate template '%s'", name),
			Status:         model.FindingNew,
			Metadata:       map[string]interface{}{"template_name": name, "permissions": permissions, "template_data": data},
		})
	}

	if boolOr(data["allows_san"], false) {
		out = append(out, model.Finding{
			ID:             model.NewID(),
			ToolType:       model.ToolPKIAudit,
			Category:       "Certificate_Templates",
			Name:           "Template_Allows_SAN",
			Score:          20,
			Severity:       model.SeverityHigh,
			Description:    fmt.Sprintf("Certificate template '%s' allows Subject Alternative Names", name),
			Recommendation: fmt.Sprintf("Disable SAN for certificate template '%s' or restrict its use", name),
			Status:         model.FindingNew,
			Metadata:       map[string]interface{}{"template_name": name, "template_data": data},
		})
	}

	if !boolOr(data["requires_approval"], true) {
		out = append(out, model.Finding{
			ID:             model.NewID(),
			ToolType:       model.ToolPKIAudit,
			Category:       "Certificate_Templates",
			Name:           "Template_No_Approval_Required",
			Score:          15,
			Severity:       model.SeverityMedium,
			Description:    fmt.Sprintf("Certificate template '%s' does not require approval", name),
			Recommendation: fmt.Sprintf("Enable approval requirement for certificate template '%s'", name),
			Status:         model.FindingNew,
			Metadata:       map[string]interface{}{"template_name": name, "template_data": data},
		})
	}

	return out
}

func analyzeCertificateAuthority(name string, data map[string]interface{}) []model.Finding {
	permissions := asMap(data["permissions"])
	if !isOverprivileged(permissions, dangerousCAPermissions) {
		return nil
	}
	return []model.Finding{{
		ID:             model.NewID(),
		ToolType:       model.ToolPKIAudit,
		Category:       "Certificate_Authorities",
		Name:           "Dangerous_CA_Permissions",
		Score:          30,
		Severity:       model.SeverityHigh,
		Description:    fmt.Sprintf("Certificate Authority '%s' has dangerous permissions", name),
		Recommendation: fmt.Sprintf("Review and restrict permissions for Certificate Authority '%s'", name),
		Status:         model.FindingNew,
		Metadata:       map[string]interface{}{"ca_name": name, "permissions": permissions, "ca_data": data},
	}}
}

// isOverprivileged reports whether any risky principal holds any
// dangerous permission, per the Python source's nested membership test.
func isOverprivileged(permissions map[string]interface{}, dangerous []string) bool {
	for principal, rawPerms := range permissions {
		if !contains(riskyPrincipals, principal) {
			continue
		}
		perms := asStringSlice(rawPerms)
		for _, want := range dangerous {
			if contains(perms, want) {
				return true
			}
		}
	}
	return false
}

func determineCSVSeverity(row map[string]string) model.Severity {
	if v, ok := row["severity"]; ok && v != "" {
		return model.Severity(strings.ToLower(v))
	}
	text := strings.ToLower(row["finding"] + " " + row["description"])
	switch {
	case containsAny(text, "critical", "high", "dangerous", "exploit"):
		return model.SeverityHigh
	case containsAny(text, "medium", "moderate", "warning"):
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func buildCSVDescription(row map[string]string) string {
	var parts []string
	if v := row["finding"]; v != "" {
		parts = append(parts, "Issue: "+v)
	}
	if v := row["template"]; v != "" {
		parts = append(parts, "Template: "+v)
	}
	if v := row["ca"]; v != "" {
		parts = append(parts, "CA: "+v)
	}
	if len(parts) == 0 {
		return "ADCS configuration issue detected"
	}
	return strings.Join(parts, "; ")
}

func generateCSVRecommendation(row map[string]string) string {
	if v := row["recommendation"]; v != "" {
		return v
	}
	if v := row["remediation"]; v != "" {
		return v
	}
	if v := row["template"]; v != "" {
		return fmt.Sprintf("Review and secure certificate template '%s'", v)
	}
	if v := row["ca"]; v != "" {
		return fmt.Sprintf("Review and secure certificate authority '%s'", v)
	}
	return "Review and remediate ADCS configuration issue"
}

func defaultScoreForSeverity(severity model.Severity) int {
	switch strings.ToLower(string(severity)) {
	case "high":
		return 25
	case "medium":
		return 15
	case "low":
		return 5
	default:
		return 10
	}
}

func parseJSONReportDate(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	if strings.Contains(raw, "T") {
		cleaned := strings.ReplaceAll(raw, "Z", "+00:00")
		if t, err := time.Parse(time.RFC3339, cleaned); err == nil {
			return t.UTC()
		}
	} else if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func rowValue(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := row[k]; v != "" {
			return v
		}
	}
	return ""
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func firstString(data map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := data[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstStringOf(data map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := data[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstValue(data map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			return v
		}
	}
	return nil
}

func asMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func asSlice(v interface{}) []interface{} {
	if s, ok := v.([]interface{}); ok {
		return s
	}
	return nil
}

func asStringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	default:
		return nil
	}
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func intOr(v interface{}, def int) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return def
}

func boolOr(v interface{}, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}
