package alert

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"fhirwatch/pkg/detection"
)

func testAlert(id, fhirID string) Alert {
	return Alert{
		ID:             id,
		Timestamp:      fmt.Sprintf("2025-06-01T10:00:%02dZ", len(id)%60),
		SourceIP:       "192.168.1.100",
		Prediction:     "Attack",
		AnomalyScore:   0.82,
		Severity:       detection.SeverityHigh,
		RawFHIRID:      fhirID,
		PredictedClass: 1,
		ClassProbs:     []float64{0.1, 0.82, 0.08},
		ModelBacked:    true,
	}
}

func TestLog_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "alerts.log")
	l := NewLog(path)

	in := testAlert("a1", "audit-9")
	if err := l.Append(in); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	out, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Recent returned %d alerts, want 1", len(out))
	}
	got := out[0]
	if got.RawFHIRID != in.RawFHIRID || got.Prediction != in.Prediction || got.Severity != in.Severity {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if len(got.ClassProbs) != 3 {
		t.Errorf("ClassProbs len = %d, want 3", len(got.ClassProbs))
	}
}

func TestLog_MissingFileIsEmpty(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "nope.log"))
	out, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Recent returned %d alerts, want 0", len(out))
	}
}

func TestLog_SkipsUnparseableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.log")
	l := NewLog(path)

	if err := l.Append(testAlert("a1", "f1")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{garbage\n\n")
	f.Close()
	if err := l.Append(testAlert("a2", "f2")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	out, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("Recent returned %d alerts, want 2 (garbage skipped)", len(out))
	}
}

func TestLog_NewestFirstAndCapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.log")
	l := NewLog(path)

	for i := 0; i < 5; i++ {
		a := testAlert(fmt.Sprintf("a%d", i), "")
		a.Timestamp = fmt.Sprintf("2025-06-01T10:00:0%dZ", i)
		if err := l.Append(a); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	out, err := l.Recent(3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("Recent returned %d alerts, want 3", len(out))
	}
	if out[0].ID != "a4" || out[2].ID != "a2" {
		t.Errorf("ordering wrong: %s ... %s, want a4 ... a2", out[0].ID, out[2].ID)
	}
}

func TestLog_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.log")
	l := NewLog(path)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Append(testAlert(fmt.Sprintf("c%d", i), "")); err != nil {
				t.Errorf("Append failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	out, err := l.Recent(0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != n {
		t.Errorf("log holds %d well-formed lines, want %d", len(out), n)
	}
}
