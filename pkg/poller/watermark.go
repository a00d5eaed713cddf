// Package poller fetches new AuditEvent resources from a remote FHIR server
// and feeds them into the pipeline, deduplicating via a persisted watermark.
package poller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fhirwatch/shared/logging"
)

// DefaultLookback is how far behind "now" the watermark starts when no
// persisted value exists, and where Reset rewinds to.
const DefaultLookback = time.Hour

// Watermark persists the lastUpdated timestamp of the newest upstream record
// seen so far. The poller is its only writer.
type Watermark struct {
	path     string
	lookback time.Duration
}

type watermarkFile struct {
	LastUpdate string `json:"last_update"`
	SavedAt    string `json:"saved_at"`
}

// NewWatermark creates a watermark stored at path.
func NewWatermark(path string, lookback time.Duration) *Watermark {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Watermark{path: path, lookback: lookback}
}

// Load returns the persisted timestamp. A missing or malformed file is not
// an error: it yields the default lookback before now.
func (w *Watermark) Load() string {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warnf("could not read watermark file %s: %v", w.path, err)
		}
		return w.fallback()
	}
	var wf watermarkFile
	if err := json.Unmarshal(data, &wf); err != nil || wf.LastUpdate == "" {
		logging.Warnf("malformed watermark file %s, using lookback default", w.path)
		return w.fallback()
	}
	return wf.LastUpdate
}

// Save persists a new timestamp, overwriting the previous value.
func (w *Watermark) Save(ts string) error {
	data, err := json.MarshalIndent(watermarkFile{
		LastUpdate: ts,
		SavedAt:    time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal watermark: %w", err)
	}
	if dir := filepath.Dir(w.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create watermark directory: %w", err)
		}
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write watermark file: %w", err)
	}
	return nil
}

// Reset rewinds the watermark to the lookback window before now, allowing
// recently-seen records to be re-fetched.
func (w *Watermark) Reset() (string, error) {
	ts := w.fallback()
	if err := w.Save(ts); err != nil {
		return "", err
	}
	return ts, nil
}

func (w *Watermark) fallback() string {
	return time.Now().UTC().Add(-w.lookback).Format(time.RFC3339)
}
