// Package detection buckets model output into predictions and severity levels.
package detection

import "fmt"

// Severity is the coarse three-level risk bucket derived from the top class
// probability.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Default threshold boundaries. Scores at a boundary fall into the higher
// bucket.
const (
	DefaultLowThreshold    = 0.4
	DefaultMediumThreshold = 0.7
)

// Result is the classification of one probability vector.
type Result struct {
	Prediction     string   `json:"prediction"`
	PredictedClass int      `json:"predicted_class"`
	AnomalyScore   float64  `json:"anomaly_score"`
	Severity       Severity `json:"severity"`
}

// Detector maps probability vectors to severity results. It holds no mutable
// state and is safe for concurrent use.
type Detector struct {
	lowThreshold    float64
	mediumThreshold float64
	labels          map[int]string
}

// Option tunes a Detector.
type Option func(*Detector)

// WithThresholds overrides the LOW/MEDIUM boundaries.
func WithThresholds(low, medium float64) Option {
	return func(d *Detector) {
		d.lowThreshold = low
		d.mediumThreshold = medium
	}
}

// WithLabels overrides the class label table.
func WithLabels(labels map[int]string) Option {
	return func(d *Detector) {
		d.labels = labels
	}
}

// NewDetector returns a detector with default thresholds and the three-class
// label table.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		lowThreshold:    DefaultLowThreshold,
		mediumThreshold: DefaultMediumThreshold,
		labels: map[int]string{
			0: "Normal",
			1: "Attack",
			2: "Anomaly",
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DefaultLabels builds a label table sized to a model's output width. The
// first eight classes carry attack-category names; anything beyond gets a
// generated placeholder.
func DefaultLabels(n int) map[int]string {
	named := []string{"Normal", "Recon", "DDoS", "BruteForce", "DoS", "Web", "Spoofing", "Other"}
	labels := make(map[int]string, n)
	for i := 0; i < n; i++ {
		if i < len(named) {
			labels[i] = named[i]
		} else {
			labels[i] = fmt.Sprintf("class_%d", i)
		}
	}
	return labels
}

// Classify maps a probability vector to a prediction and severity. The
// anomaly score is the maximum element; the prediction is the label of its
// index. An empty vector classifies as class 0 with score 0.
func (d *Detector) Classify(probs []float64) Result {
	argmax := 0
	score := 0.0
	for i, p := range probs {
		if i == 0 || p > score {
			argmax = i
			score = p
		}
	}
	if len(probs) == 0 {
		argmax, score = 0, 0
	}
	return Result{
		Prediction:     d.Label(argmax),
		PredictedClass: argmax,
		AnomalyScore:   score,
		Severity:       d.ComputeSeverity(score),
	}
}

// ComputeSeverity buckets a score. Boundaries are inclusive on the upper
// side: exactly 0.4 is MEDIUM, exactly 0.7 is HIGH. The comparisons are
// well-defined for any real input; keeping scores in [0,1] is the caller's
// concern.
func (d *Detector) ComputeSeverity(score float64) Severity {
	switch {
	case score < d.lowThreshold:
		return SeverityLow
	case score < d.mediumThreshold:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// Label resolves a class index to its label, generating a placeholder for
// unknown indices.
func (d *Detector) Label(class int) string {
	if label, ok := d.labels[class]; ok {
		return label
	}
	return fmt.Sprintf("class_%d", class)
}

// Classes returns the size of the label table, i.e. the expected probability
// vector length.
func (d *Detector) Classes() int { return len(d.labels) }
