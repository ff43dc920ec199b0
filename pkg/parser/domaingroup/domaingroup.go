// Package domaingroup parses domain-group-membership JSON snapshots
// (model.ToolDomainAnalysis) into model.Report plus the GroupMembership
// rows pkg/store.SaveGroupMemberships stores, grounded on
// original_source/server/parsers/domain_analysis_parser.py.
//
// The membership Finding's category is "DonScanner", not the literal
// "PrivilegedAccounts" string domain_analysis_parser.py writes: the
// consuming code that actually derives group risk input from these
// findings (original_source/server/risk_service.py, line ~431) and the
// parser's own test suite (tests/test_domain_group_parser.py) both
// check finding.category == "DonScanner". The parser source and its
// consumer disagree; this follows the consumer, since a category the
// risk pipeline never recognizes would make every group finding inert.
package domaingroup

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

// CategoryGroupMembers is the Finding category group-membership entries
// are filed under (see package doc for why this isn't "PrivilegedAccounts").
const CategoryGroupMembers = "DonScanner"

var highRiskGroups = []string{"Domain Admins", "Enterprise Admins", "Schema Admins"}
var mediumRiskGroups = []string{"Administrators", "Account Operators", "Backup Operators"}

// Parser implements pkg/parser.Parser for DOMAIN_ANALYSIS JSON uploads.
type Parser struct{}

// New returns a Parser.
func New() *Parser { return &Parser{} }

// SupportedExtensions implements pkg/parser.Parser.
func (p *Parser) SupportedExtensions() []string { return []string{".json"} }

// ToolType implements pkg/parser.Parser.
func (p *Parser) ToolType() model.ToolType { return model.ToolDomainAnalysis }

// CanParse requires a dict with a domain/domain_info key AND a
// groups/privileged_groups key, matching the Python source exactly.
func (p *Parser) CanParse(_ context.Context, _ string, head []byte) bool {
	var data map[string]interface{}
	if err := json.Unmarshal(head, &data); err != nil {
		return false
	}
	_, hasDomain := data["domain"]
	_, hasDomainInfo := data["domain_info"]
	_, hasGroups := data["groups"]
	_, hasPrivGroups := data["privileged_groups"]
	return (hasDomain || hasDomainInfo) && (hasGroups || hasPrivGroups)
}

// Parse fully extracts a DOMAIN_ANALYSIS Report.
func (p *Parser) Parse(_ context.Context, path string) (*model.Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, "read "+path, err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apperr.Wrap(apperr.KindParseFailed, "unmarshal domain analysis json", err)
	}

	domainInfo := asMap(data["domain_info"])
	domain := stringOr(data["domain"], stringOr(domainInfo["name"], "Unknown"))

	reportDate := parseReportDate(firstString(data, "scan_date", "timestamp"))

	var findings []model.Finding

	groupsData := asMap(firstValue(data, "groups", "privileged_groups"))
	for groupName, raw := range groupsData {
		info := asMap(raw)
		members := asSlice(info["members"])
		if len(members) == 0 {
			continue
		}

		normalizedMembers := make([]interface{}, 0, len(members))
		for _, m := range members {
			normalizedMembers = append(normalizedMembers, normalizeMember(m))
		}

		findings = append(findings, model.Finding{
			ID:             model.NewID(),
			ToolType:       model.ToolDomainAnalysis,
			Category:       CategoryGroupMembers,
			Name:           "Group_" + groupName + "_Members",
			Score:          calculateGroupRiskScore(groupName, len(members)),
			Severity:       determineGroupSeverity(groupName, len(members)),
			Description:    "Group '" + groupName + "' has " + strconv.Itoa(len(members)) + " members",
			Recommendation: "Review membership of privileged group '" + groupName + "'",
			Status:         model.FindingNew,
			Metadata: map[string]interface{}{
				"group_name":  groupName,
				"member_count": len(members),
				"members":     normalizedMembers,
				"group_sid":   stringOr(info["sid"], ""),
				"group_type":  stringOr(info["type"], "security"),
			},
		})
	}

	generic := asSlice(firstValue(data, "security_findings", "findings"))
	for _, raw := range generic {
		fd := asMap(raw)
		findings = append(findings, model.Finding{
			ID:             model.NewID(),
			ToolType:       model.ToolDomainAnalysis,
			Category:       stringOr(fd["category"], "General"),
			Name:           stringOr(fd["name"], "Unknown_Finding"),
			Score:          intOr(fd["score"], 0),
			Severity:       model.Severity(stringOr(fd["severity"], "medium")),
			Description:    stringOr(fd["description"], ""),
			Recommendation: stringOr(fd["recommendation"], ""),
			Status:         model.FindingNew,
			Metadata:       asMap(fd["metadata"]),
		})
	}

	return &model.Report{
		ID:                    model.NewID(),
		ToolType:              model.ToolDomainAnalysis,
		Domain:                domain,
		DomainSID:             stringOr(domainInfo["sid"], ""),
		DomainFunctionalLevel: stringOr(domainInfo["functional_level"], ""),
		ForestFunctionalLevel: stringOr(domainInfo["forest_functional_level"], ""),
		DCCount:               intOr(domainInfo["domain_controllers_count"], 0),
		UserCount:             intOr(domainInfo["users_count"], 0),
		ComputerCount:         intOr(domainInfo["computers_count"], 0),
		ReportDate:            reportDate,
		UploadDate:            time.Now().UTC(),
		OriginalFile:          path,
		Metadata:              asMap(data["metadata"]),
		Findings:              findings,
	}, nil
}

// normalizeMember accepts either a structured member dict
// ({name,samaccountname,sid,type,enabled}) or a bare string, converting
// the latter into {name,type:"user",enabled:nil} per the test fixture's
// expectations (tests/test_domain_group_parser.py).
func normalizeMember(raw interface{}) map[string]interface{} {
	if m, ok := raw.(map[string]interface{}); ok {
		return m
	}
	name := ""
	if s, ok := raw.(string); ok {
		name = s
	}
	return map[string]interface{}{"name": name, "type": "user", "enabled": nil}
}

// ExtractMemberships converts a parsed Report's group-membership
// findings into model.GroupMembership rows, given a resolver that maps
// a group name to its stable model.MonitoredGroup identity — this
// replaces the Python source's extract_group_memberships, which
// fabricates a fresh group_id (str(uuid4())) on every call instead of
// looking one up, breaking membership history across uploads.
func ExtractMemberships(report *model.Report, resolveGroup func(groupName string) (groupID uuid.UUID, err error)) ([]model.GroupMembership, error) {
	var out []model.GroupMembership
	for _, f := range report.Findings {
		if f.Category != CategoryGroupMembers || !strings.HasPrefix(f.Name, "Group_") {
			continue
		}
		groupName, _ := f.Metadata["group_name"].(string)
		if groupName == "" {
			continue
		}
		groupID, err := resolveGroup(groupName)
		if err != nil {
			return nil, err
		}

		members := asSlice(f.Metadata["members"])
		for _, raw := range members {
			m := normalizeMember(raw)
			name, _ := m["name"].(string)
			sid, _ := m["sid"].(string)
			out = append(out, model.GroupMembership{
				ID:             model.NewID(),
				ReportID:       report.ID,
				GroupID:        groupID,
				MemberName:     name,
				MemberSID:      sid,
				MemberType:     model.MemberUser,
				IsDirectMember: true,
			})
		}
	}
	return out, nil
}

func calculateGroupRiskScore(groupName string, memberCount int) int {
	base := 5
	switch {
	case contains(highRiskGroups, groupName):
		base = 15
	case contains(mediumRiskGroups, groupName):
		base = 10
	}

	switch {
	case memberCount > 10:
		base += 10
	case memberCount > 5:
		base += 5
	case memberCount > 1:
		base += 2
	}

	if base > 50 {
		base = 50
	}
	return base
}

func determineGroupSeverity(groupName string, memberCount int) model.Severity {
	highRisk := contains(highRiskGroups, groupName)
	switch {
	case highRisk && memberCount > 5:
		return model.SeverityHigh
	case highRisk || memberCount > 10:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func parseReportDate(raw string) time.Time {
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
