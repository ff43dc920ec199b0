// Package audit writes the append-only risk_calculation_history trail
// (spec.md §4.4/§6) that records every domain/global recompute
// trigger. Payloads are canonicalized with RFC 8785 JSON Canonicalization
// (github.com/gowebpki/jcs) before a checksum is derived from them, so
// two logically identical payloads with different key ordering hash
// identically and a tampered history row is detectable by recomputing
// the checksum. Grounded on teacher_reference/audit/logger.go's
// structured-event-plus-uuid shape, adapted from a stdout JSON logger
// into a store-backed recorder.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

// HistoryStore is the subset of *store.Store the recorder needs,
// expressed as an interface so tests can supply a fake.
type HistoryStore interface {
	AppendRiskCalculationHistory(ctx context.Context, h *model.RiskCalculationHistory) error
}

// Recorder appends canonicalized, checksummed entries to the risk
// calculation history.
type Recorder struct {
	store HistoryStore
}

// New returns a Recorder writing through store.
func New(store HistoryStore) *Recorder {
	return &Recorder{store: store}
}

// Checksum canonicalizes payload per RFC 8785 and returns the hex
// sha256 digest of the canonical bytes. Exported so callers that need
// to verify a historical entry (rather than write a new one) can
// recompute the same checksum from a payload map.
func Checksum(payload map[string]interface{}) (string, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInputInvalid, "marshal audit payload", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInputInvalid, "canonicalize audit payload", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Record appends one history entry for domain, stamping payload with a
// "_checksum" field computed over the rest of the payload before the
// checksum itself is added.
func (r *Recorder) Record(ctx context.Context, domain, trigger string, payload map[string]interface{}) error {
	sum, err := Checksum(payload)
	if err != nil {
		return err
	}

	stamped := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		stamped[k] = v
	}
	stamped["_checksum"] = sum

	return r.store.AppendRiskCalculationHistory(ctx, &model.RiskCalculationHistory{
		Domain:  domain,
		Trigger: trigger,
		Payload: stamped,
	})
}
