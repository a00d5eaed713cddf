// Package alert composes and persists the pipeline's output records.
package alert

import (
	"fhirwatch/pkg/detection"
)

// Alert is the persisted unit of one pipeline run. Alerts are immutable once
// written; the log they land in is append-only and never compacted.
type Alert struct {
	ID             string             `json:"id"`
	Timestamp      string             `json:"timestamp"` // generation time, RFC3339Nano UTC
	SourceIP       string             `json:"source_ip"` // "UNKNOWN" when unresolvable
	Prediction     string             `json:"prediction"`
	AnomalyScore   float64            `json:"anomaly_score"`
	Severity       detection.Severity `json:"severity"`
	RawFHIRID      string             `json:"raw_fhir_id"` // upstream record id, "" when absent
	PredictedClass int                `json:"predicted_class"`
	ClassProbs     []float64          `json:"class_probs"`
	ModelBacked    bool               `json:"model_backed"` // false when scored with a synthetic distribution
	Geo            *GeoInfo           `json:"geo,omitempty"`
}

// GeoInfo is optional source-IP geolocation enrichment.
type GeoInfo struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}
