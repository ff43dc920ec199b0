package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adsentry/pkg/model"
	"github.com/Mindburn-Labs/adsentry/pkg/webhook"
)

func sampleAlert() webhook.Alert {
	return webhook.Alert{
		ReportID: "r-1",
		Domain:   "corp.example",
		ToolType: model.ToolConfigAudit,
		Findings: []model.Finding{
			{Category: "StaleObjects", Name: "Inactive computer accounts", Score: 20, Severity: model.SeverityHigh, ToolType: model.ToolConfigAudit},
		},
	}
}

func TestRenderMessage_SubstitutesAllPlaceholders(t *testing.T) {
	tmpl := "[{tool_type}] {domain}: {findings_count} findings ({report_id}) - {findings}"
	msg := webhook.RenderMessage(tmpl, sampleAlert())

	assert.Contains(t, msg, "CONFIG_AUDIT")
	assert.Contains(t, msg, "corp.example")
	assert.Contains(t, msg, "1 findings")
	assert.Contains(t, msg, "r-1")
	assert.Contains(t, msg, "StaleObjects/Inactive computer accounts")
}

func TestBuild_NtfyURL_UsesHeadersAndPlainBody(t *testing.T) {
	req, err := webhook.Build("https://ntfy.sh/adsentry-alerts", "adsentry", "{domain} alert", sampleAlert())
	require.NoError(t, err)

	assert.Equal(t, "warning", req.Headers["Tags"])
	assert.Contains(t, req.Headers["Title"], "1 unaccepted risk(s)")
	assert.Equal(t, "corp.example alert", string(req.Body))
}

func TestBuild_NtfyURL_TestAlertUsesInformationTag(t *testing.T) {
	a := sampleAlert()
	a.IsTest = true
	req, err := webhook.Build("https://ntfy.sh/adsentry-alerts", "adsentry", "{domain} alert", a)
	require.NoError(t, err)
	assert.Equal(t, "information", req.Headers["Tags"])
}

func TestBuild_NonNtfyURL_UsesJSONPayload(t *testing.T) {
	req, err := webhook.Build("https://hooks.example.com/in", "adsentry", "{domain} alert", sampleAlert())
	require.NoError(t, err)

	assert.Equal(t, "application/json", req.Headers["Content-Type"])

	var decoded struct {
		Message  string `json:"message"`
		ReportID string `json:"report_id"`
		ToolType string `json:"tool_type"`
		Domain   string `json:"domain"`
		Findings []struct {
			Category string `json:"category"`
			Name     string `json:"name"`
			Score    int    `json:"score"`
			Severity string `json:"severity"`
			ToolType string `json:"tool_type"`
		} `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &decoded))
	assert.Equal(t, "r-1", decoded.ReportID)
	assert.Equal(t, "corp.example", decoded.Domain)
	require.Len(t, decoded.Findings, 1)
	assert.Equal(t, "StaleObjects", decoded.Findings[0].Category)
}

func TestDeliver_Non200IsReportedAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	req, err := webhook.Build(srv.URL, "adsentry", "{domain} alert", sampleAlert())
	require.NoError(t, err)

	err = webhook.Deliver(context.Background(), srv.Client(), req)
	assert.Error(t, err)
}

func TestDeliver_200IsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := webhook.Build(srv.URL, "adsentry", "{domain} alert", sampleAlert())
	require.NoError(t, err)

	err = webhook.Deliver(context.Background(), srv.Client(), req)
	assert.NoError(t, err)
}
