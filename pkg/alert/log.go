package alert

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Log is the durable append-only alert store: UTF-8, one JSON object per
// line, never rewritten. A single mutex serializes the open-append-close
// sequence so concurrent writers cannot interleave partial lines.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates a log writing to path. The file and its parent directories
// are created lazily on first append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append serializes one alert and appends it as a single line.
func (l *Log) Append(a Alert) error {
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open alert log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}
	return nil
}

// Recent reads up to max alerts, newest-first by generation timestamp.
// Unparseable lines are skipped, not fatal. A missing log file yields an
// empty slice.
func (l *Log) Recent(max int) ([]Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Alert{}, nil
		}
		return nil, fmt.Errorf("failed to open alert log: %w", err)
	}
	defer f.Close()

	var alerts []Alert
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var a Alert
		if err := json.Unmarshal(line, &a); err != nil {
			continue // skip malformed lines
		}
		alerts = append(alerts, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alert log: %w", err)
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp > alerts[j].Timestamp
	})
	if max > 0 && len(alerts) > max {
		alerts = alerts[:max]
	}
	return alerts, nil
}
