package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/artifacts"
	"github.com/Mindburn-Labs/adsentry/pkg/config"
	"github.com/Mindburn-Labs/adsentry/pkg/health"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
	"github.com/Mindburn-Labs/adsentry/pkg/observability"
	"github.com/Mindburn-Labs/adsentry/pkg/parser"
	"github.com/Mindburn-Labs/adsentry/pkg/parser/domaingroup"
	"github.com/Mindburn-Labs/adsentry/pkg/riskservice"
	"github.com/Mindburn-Labs/adsentry/pkg/store"
	"github.com/Mindburn-Labs/adsentry/pkg/webhook"
)

// server holds the wired subsystems the minimal HTTP endpoints drive
// (spec.md §1/§6: "a health endpoint and a JSON upload endpoint
// sufficient to drive the core from a real process — full routing
// remains out of scope"). store is held directly (not only through
// riskSvc) for reads the risk service has no reason to expose:
// settings, the dashboard KPI view, and the risk catalog.
type server struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	registry  *parser.Registry
	riskSvc   *riskservice.Service
	checker   *health.Checker
	artifacts artifacts.Store
	obs       *observability.Provider
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.checker.RunQuick(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// uploadRequest is the programmatic-upload body of spec.md §6:
// {domain, tool_type, report_date?, findings?, groups?,
// pingcastle_scores?, domain_metadata?, metadata?, send_alert?}.
type uploadRequest struct {
	Domain           string                     `json:"domain"`
	ToolType         model.ToolType             `json:"tool_type"`
	ReportDate       *time.Time                 `json:"report_date,omitempty"`
	Findings         []model.Finding            `json:"findings,omitempty"`
	Groups           map[string]uploadGroup     `json:"groups,omitempty"`
	PingCastleScores *uploadPingCastleScores    `json:"pingcastle_scores,omitempty"`
	DomainMetadata   map[string]interface{}     `json:"domain_metadata,omitempty"`
	Metadata         map[string]interface{}     `json:"metadata,omitempty"`
	SendAlert        bool                       `json:"send_alert,omitempty"`
}

type uploadGroup struct {
	Members []string `json:"members"`
	SID     string   `json:"sid,omitempty"`
	Type    string   `json:"type,omitempty"`
}

type uploadPingCastleScores struct {
	StaleObjects       *int `json:"stale_objects,omitempty"`
	PrivilegedAccounts *int `json:"privileged_accounts,omitempty"`
	Trusts             *int `json:"trusts,omitempty"`
	Anomalies          *int `json:"anomalies,omitempty"`
}

type uploadResponse struct {
	ReportID           string `json:"report_id"`
	RiskCalculationStatus string `json:"risk_calculation_status"`
	RiskError          string `json:"risk_error,omitempty"`
}

// handleUpload accepts a single programmatic upload and ingests it
// through pkg/riskservice. The bulk-list variant spec.md §6 describes
// is out of scope for this placeholder endpoint — a real HTTP layer
// would add it alongside file-upload routing, neither of which belongs
// in "the core" per the original Non-goals.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req uploadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Domain == "" || req.ToolType == "" {
		http.Error(w, "domain and tool_type are required", http.StatusBadRequest)
		return
	}

	report := buildReport(req)

	done := s.obs.Track(r.Context(), "ingest_report")
	reportID, outcome := s.riskSvc.IngestReport(r.Context(), report)
	var outcomeErr error
	if outcome.Status == riskservice.StatusFailed {
		outcomeErr = errString(outcome.Err)
	}
	done(outcomeErr)

	resp := uploadResponse{
		ReportID:              reportID.String(),
		RiskCalculationStatus: string(outcome.Status),
		RiskError:             outcome.Err,
	}

	if req.SendAlert && outcome.Status == riskservice.StatusSuccess {
		s.sendAlert(r.Context(), report)
	}

	status := http.StatusCreated
	if outcome.Status == riskservice.StatusFailed {
		status = http.StatusAccepted // report was still saved; recomputation failed
	}
	writeJSON(w, status, resp)
}

// buildReport converts the normalized programmatic-upload payload into
// a model.Report, translating the convenience `groups` map into
// DonScanner-category Findings so pkg/riskservice.IngestReport's
// existing DOMAIN_ANALYSIS membership-extraction path (shared with the
// file-upload parsers) picks them up unchanged.
func buildReport(req uploadRequest) *model.Report {
	report := &model.Report{
		ToolType:   req.ToolType,
		Domain:     req.Domain,
		Metadata:   req.Metadata,
		Findings:   append([]model.Finding{}, req.Findings...),
	}
	if req.ReportDate != nil {
		report.ReportDate = *req.ReportDate
	} else {
		report.ReportDate = time.Now().UTC()
	}

	if req.PingCastleScores != nil {
		p := req.PingCastleScores
		report.StaleObjects = p.StaleObjects
		report.PrivilegedAccounts = p.PrivilegedAccounts
		report.Trusts = p.Trusts
		report.Anomalies = p.Anomalies
		report.GlobalScore = sumScores(p)
	}

	if req.DomainMetadata != nil {
		report.DomainSID = stringField(req.DomainMetadata, "domain_sid")
		report.DomainFunctionalLevel = stringField(req.DomainMetadata, "domain_functional_level")
		report.ForestFunctionalLevel = stringField(req.DomainMetadata, "forest_functional_level")
	}

	for name, g := range req.Groups {
		members := make([]interface{}, 0, len(g.Members))
		for _, m := range g.Members {
			members = append(members, map[string]interface{}{"name": m})
		}
		report.Findings = append(report.Findings, model.Finding{
			ID:       model.NewID(),
			ToolType: model.ToolDomainAnalysis,
			Category: domaingroup.CategoryGroupMembers,
			Name:     "Group_" + name + "_Members",
			Status:   model.FindingNew,
			Metadata: map[string]interface{}{
				"group_name":   name,
				"member_count": len(g.Members),
				"members":      members,
				"group_sid":    g.SID,
				"group_type":   g.Type,
			},
		})
	}

	return report
}

func sumScores(p *uploadPingCastleScores) *int {
	total := 0
	any := false
	for _, v := range []*int{p.StaleObjects, p.PrivilegedAccounts, p.Trusts, p.Anomalies} {
		if v != nil {
			total += *v
			any = true
		}
	}
	if !any {
		return nil
	}
	return &total
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func errString(msg string) error {
	if msg == "" {
		return nil
	}
	return &outcomeError{msg: msg}
}

type outcomeError struct{ msg string }

func (e *outcomeError) Error() string { return e.msg }

// sendAlert builds and delivers the webhook.Alert for a successfully
// ingested upload that requested one, per spec.md §6's `send_alert`
// flag. Destination and templating come from the settings table
// (pkg/store/settings.go's `webhook_url`/`alert_message` keys, spec.md
// §6 "Recognized settings keys") rather than the environment, since
// these are operator-editable at runtime, not process configuration.
// The gate and the findings the alert carries are both the
// store.GetUnacceptedFindings result (spec.md §4.4 I4), matching
// _examples/original_source/server/alerter.py's `unaccepted`-gated
// "N unaccepted risk(s)" semantics: a report whose findings are all
// already accepted must not fire an alert at all.
func (s *server) sendAlert(ctx context.Context, report *model.Report) {
	destURL, ok, err := s.store.GetSetting(ctx, "webhook_url")
	if err != nil {
		s.logger.Error("read webhook_url setting", "domain", report.Domain, "error", err)
		return
	}
	if !ok || destURL == "" {
		return
	}

	unaccepted, err := s.store.GetUnacceptedFindings(ctx, report.Domain)
	if err != nil {
		s.logger.Error("read unaccepted findings for alert", "domain", report.Domain, "error", err)
		return
	}
	if len(unaccepted) == 0 {
		return
	}

	product := "adsentry"
	tmpl := "{domain}: {findings_count} unaccepted finding(s) - {findings}"
	if v, ok, err := s.store.GetSetting(ctx, "alert_message"); err == nil && ok && v != "" {
		tmpl = v
	}

	alertCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	alert := webhook.Alert{
		ReportID: report.ID.String(),
		Domain:   report.Domain,
		ToolType: report.ToolType,
		Findings: unaccepted,
	}
	if err := webhook.Send(alertCtx, nil, destURL, product, tmpl, alert); err != nil {
		s.logger.Error("webhook delivery failed", "domain", report.Domain, "report_id", report.ID, "error", err)
	}
}

// handleDashboard serves the pre-aggregated per-domain KPI rollup
// (pkg/store/dashboard.go's GetDashboardKPIs, spec.md §4.1).
func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		http.Error(w, "domain query parameter is required", http.StatusBadRequest)
		return
	}
	kpis, err := s.store.GetDashboardKPIs(r.Context(), domain)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			http.Error(w, "no data for domain", http.StatusNotFound)
			return
		}
		http.Error(w, "dashboard kpis: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, kpis)
}

// handleRiskCatalog lists every known (tool_type, category, name) risk
// kind (pkg/store/findings.go's ListRiskCatalog).
func (s *server) handleRiskCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.store.ListRiskCatalog(r.Context())
	if err != nil {
		http.Error(w, "risk catalog: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

// handleSettings exposes the recognized settings keys (spec.md §6:
// webhook_url, alert_message, retention_days, auto_accept_low_severity)
// for read (GET, every stored key) and write (POST, one key/value
// pair) through pkg/store/settings.go. Consuming retention_days to
// purge old reports or auto_accept_low_severity to auto-accept
// findings at ingest time is a separate, unspecified background
// behavior with no operation in spec.md §4 describing it; this
// endpoint only persists and serves the values an operator sets.
func (s *server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all, err := s.store.AllSettings(r.Context())
		if err != nil {
			http.Error(w, "settings: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, all)
	case http.MethodPost:
		var body struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
			http.Error(w, "invalid settings body", http.StatusBadRequest)
			return
		}
		if err := s.store.SetSetting(r.Context(), body.Key, body.Value); err != nil {
			http.Error(w, "set setting: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": body.Key, "value": body.Value})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
