// Package webhook builds and delivers the single outbound alert
// spec.md §6 describes: one destination URL, two payload shapes picked
// by a substring match on the URL, and a message template supporting a
// fixed set of named substitutions. Delivery policy (retries,
// batching, queuing) is explicitly out of scope — this is a thin,
// timeout-bounded POST, matching the teacher's habit of keeping
// best-effort outbound calls (e.g. notification hooks in
// teacher_reference) free of retry machinery.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

const deliveryTimeout = 10 * time.Second

// FindingRef is the minimal per-finding shape the JSON payload carries
// (spec.md §6: {category, name, score, severity, tool_type}).
type FindingRef struct {
	Category string        `json:"category"`
	Name     string        `json:"name"`
	Score    int           `json:"score"`
	Severity model.Severity `json:"severity"`
	ToolType model.ToolType `json:"tool_type"`
}

func findingRefs(findings []model.Finding) []FindingRef {
	out := make([]FindingRef, len(findings))
	for i, f := range findings {
		out[i] = FindingRef{Category: f.Category, Name: f.Name, Score: f.Score, Severity: f.Severity, ToolType: f.ToolType}
	}
	return out
}

// Alert carries everything a single outbound notification needs: the
// report that triggered it and whether it is a connectivity test (a
// test alert gets the "information" ntfy tag instead of "warning").
type Alert struct {
	ReportID string
	Domain   string
	ToolType model.ToolType
	Findings []model.Finding
	IsTest   bool
}

// jsonPayload is the shape POSTed when the destination URL does not
// look like an ntfy topic.
type jsonPayload struct {
	Message  string       `json:"message"`
	ReportID string       `json:"report_id"`
	ToolType model.ToolType `json:"tool_type"`
	Domain   string       `json:"domain"`
	Findings []FindingRef `json:"findings"`
}

// RenderMessage substitutes the five named placeholders spec.md §6
// enumerates into template. Unknown placeholders are left verbatim —
// strings.NewReplacer is the idiomatic stdlib answer for this kind of
// fixed, non-recursive templating; no templating library in the corpus
// is a better fit for five named substitutions with no conditionals.
func RenderMessage(template string, a Alert) string {
	replacer := strings.NewReplacer(
		"{report_id}", a.ReportID,
		"{domain}", a.Domain,
		"{findings_count}", strconv.Itoa(len(a.Findings)),
		"{findings}", findingsSummary(a.Findings),
		"{tool_type}", string(a.ToolType),
	)
	return replacer.Replace(template)
}

func findingsSummary(findings []model.Finding) string {
	parts := make([]string, len(findings))
	for i, f := range findings {
		parts[i] = fmt.Sprintf("%s/%s (%s)", f.Category, f.Name, f.Severity)
	}
	return strings.Join(parts, "; ")
}

// isNtfy reports whether destURL looks like an ntfy topic URL.
func isNtfy(destURL string) bool {
	return strings.Contains(destURL, "ntfy")
}

// Request is a built, not-yet-sent outbound notification: the method,
// URL, headers, and body a caller (or Deliver) should POST.
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// Build renders the outbound request for destURL, choosing the ntfy
// plain-text-plus-headers shape or the JSON shape per spec.md §6.
func Build(destURL, product, messageTemplate string, a Alert) (*Request, error) {
	message := RenderMessage(messageTemplate, a)

	if isNtfy(destURL) {
		tag := "warning"
		if a.IsTest {
			tag = "information"
		}
		return &Request{
			URL: destURL,
			Headers: map[string]string{
				"Title": fmt.Sprintf("%s - %d unaccepted risk(s)", product, len(a.Findings)),
				"Tags":  tag,
			},
			Body: []byte(message),
		}, nil
	}

	body, err := json.Marshal(jsonPayload{
		Message:  message,
		ReportID: a.ReportID,
		ToolType: a.ToolType,
		Domain:   a.Domain,
		Findings: findingRefs(a.Findings),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return &Request{
		URL:     destURL,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

// Deliver POSTs req with a 10s bound, per spec.md §5's timeout
// requirement. A non-200 response or transport error is logged and
// returned — the upload handler treats webhook delivery as a
// DEPENDENCY_FAILED-class concern and does not fail the triggering
// action on its account.
func Deliver(ctx context.Context, client *http.Client, req *Request) error {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		slog.Error("webhook request build failed", "url", req.URL, "error", err)
		return err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		slog.Error("webhook delivery failed", "url", req.URL, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("webhook destination returned %d", resp.StatusCode)
		slog.Error("webhook delivery rejected", "url", req.URL, "status", resp.StatusCode)
		return err
	}
	return nil
}

// Send builds and delivers an alert in one call, the shape a handler
// reacting to an ingested report or a member-toggle outcome would use.
func Send(ctx context.Context, client *http.Client, destURL, product, messageTemplate string, a Alert) error {
	req, err := Build(destURL, product, messageTemplate, a)
	if err != nil {
		slog.Error("webhook payload build failed", "domain", a.Domain, "error", err)
		return err
	}
	return Deliver(ctx, client, req)
}
