package alert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fhirwatch/pkg/detection"
	"fhirwatch/pkg/features"
	"fhirwatch/pkg/fhir"
	"fhirwatch/pkg/inference"
)

type fixedModel struct {
	in, out int
	probs   []float64
	err     error
}

func (m *fixedModel) Infer(ctx context.Context, vector []float64) ([]float64, error) {
	return m.probs, m.err
}
func (m *fixedModel) InputSize() int  { return m.in }
func (m *fixedModel) OutputSize() int { return m.out }

func newTestComposer(t *testing.T, model inference.Model) (*Composer, *Log) {
	t.Helper()
	log := NewLog(filepath.Join(t.TempDir(), "alerts.log"))
	c := NewComposer(
		features.NewExtractor(features.DefaultVectorSize),
		inference.NewAdapter(model, 3),
		detection.NewDetector(),
		log,
	)
	return c, log
}

func auditRecord() fhir.Resource {
	return fhir.Resource{
		"resourceType": "AuditEvent",
		"id":           "audit-77",
		"type":         map[string]any{"code": "rest"},
		"recorded":     "2025-06-01T09:00:00Z",
		"agent": []any{
			map[string]any{"network": map[string]any{"address": "10.1.2.3"}},
		},
	}
}

func TestProcess_ModelBacked(t *testing.T) {
	model := &fixedModel{in: 64, out: 3, probs: []float64{0.1, 0.15, 0.75}}
	c, log := newTestComposer(t, model)

	a := c.Process(context.Background(), auditRecord())

	if !a.ModelBacked {
		t.Error("ModelBacked = false, want true")
	}
	if a.Prediction != "Anomaly" || a.Severity != detection.SeverityHigh {
		t.Errorf("classification = %s/%s, want Anomaly/HIGH", a.Prediction, a.Severity)
	}
	if a.AnomalyScore != 0.75 {
		t.Errorf("AnomalyScore = %v, want 0.75", a.AnomalyScore)
	}
	if a.SourceIP != "10.1.2.3" {
		t.Errorf("SourceIP = %q, want 10.1.2.3", a.SourceIP)
	}
	if a.RawFHIRID != "audit-77" {
		t.Errorf("RawFHIRID = %q, want audit-77", a.RawFHIRID)
	}
	if a.ID == "" || a.Timestamp == "" {
		t.Error("missing id or timestamp")
	}

	// persisted round trip
	stored, err := log.Recent(1)
	if err != nil || len(stored) != 1 {
		t.Fatalf("Recent = %v alerts, err %v", len(stored), err)
	}
	if stored[0].RawFHIRID != a.RawFHIRID || stored[0].Prediction != a.Prediction || stored[0].Severity != a.Severity {
		t.Errorf("persisted alert differs: %+v", stored[0])
	}
}

func TestProcess_NoModelFallsBackToSynthetic(t *testing.T) {
	c, _ := newTestComposer(t, nil)

	a := c.Process(context.Background(), auditRecord())

	if a.ModelBacked {
		t.Error("ModelBacked = true, want false for synthetic distribution")
	}
	if len(a.ClassProbs) != 3 {
		t.Errorf("ClassProbs len = %d, want detector class count 3", len(a.ClassProbs))
	}
	if a.Severity != detection.SeverityLow && a.Severity != detection.SeverityMedium && a.Severity != detection.SeverityHigh {
		t.Errorf("Severity = %q, not a valid level", a.Severity)
	}
}

func TestProcess_BackendErrorFallsBackToSynthetic(t *testing.T) {
	model := &fixedModel{in: 64, out: 3, err: errors.New("scoring blew up")}
	c, _ := newTestComposer(t, model)

	a := c.Process(context.Background(), auditRecord())
	if a.ModelBacked {
		t.Error("ModelBacked = true, want false after backend failure")
	}
}

func TestProcess_ReconcilesProbabilityLength(t *testing.T) {
	// model emits 8 classes, detector expects 3: truncate, no renormalize
	model := &fixedModel{in: 64, out: 8, probs: []float64{0.5, 0.1, 0.1, 0.1, 0.1, 0.05, 0.03, 0.02}}
	log := NewLog(filepath.Join(t.TempDir(), "alerts.log"))
	c := NewComposer(
		features.NewExtractor(features.DefaultVectorSize),
		inference.NewAdapter(model, 0),
		detection.NewDetector(), // 3 classes
		log,
	)

	a := c.Process(context.Background(), auditRecord())
	if len(a.ClassProbs) != 3 {
		t.Fatalf("ClassProbs len = %d, want 3", len(a.ClassProbs))
	}
	if a.AnomalyScore != 0.5 {
		t.Errorf("AnomalyScore = %v, want 0.5 (max of truncated, unrenormalized vector)", a.AnomalyScore)
	}
}

func TestProcess_EmptyRecordStillProducesAlert(t *testing.T) {
	model := &fixedModel{in: 64, out: 3, probs: []float64{0.9, 0.05, 0.05}}
	c, _ := newTestComposer(t, model)

	a := c.Process(context.Background(), fhir.Resource{})

	if a.SourceIP != "UNKNOWN" {
		t.Errorf("SourceIP = %q, want UNKNOWN", a.SourceIP)
	}
	if a.RawFHIRID != "" {
		t.Errorf("RawFHIRID = %q, want empty", a.RawFHIRID)
	}
	if a.Prediction == "" {
		t.Error("empty prediction")
	}
}

func TestProcess_LogFailureDoesNotFailCall(t *testing.T) {
	model := &fixedModel{in: 64, out: 3, probs: []float64{0.9, 0.05, 0.05}}
	// a log path that cannot be created: parent is a file
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := writeFile(blocker); err != nil {
		t.Fatal(err)
	}
	log := NewLog(filepath.Join(blocker, "alerts.log"))
	c := NewComposer(
		features.NewExtractor(features.DefaultVectorSize),
		inference.NewAdapter(model, 0),
		detection.NewDetector(),
		log,
	)

	a := c.Process(context.Background(), auditRecord())
	if a.Prediction == "" || a.Timestamp == "" {
		t.Error("alert not returned despite persistence failure")
	}
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0o644)
}
