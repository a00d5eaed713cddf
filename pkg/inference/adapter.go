// Package inference wraps a black-box scoring backend behind a uniform
// vector-in, probabilities-out contract with typed failures.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrModelUnavailable indicates no scoring backend is loaded.
	ErrModelUnavailable = errors.New("inference: model unavailable")
	// ErrInference indicates the backend failed while scoring.
	ErrInference = errors.New("inference: scoring failed")
)

var (
	infRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fhirwatch",
			Subsystem: "inference",
			Name:      "requests_total",
			Help:      "Total inference requests.",
		},
	)
	infFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fhirwatch",
			Subsystem: "inference",
			Name:      "failures_total",
			Help:      "Total inference failures by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	_ = prometheus.Register(infRequests)
	_ = prometheus.Register(infFailures)
}

// Model is a black-box scoring function over fixed-size vectors.
type Model interface {
	// Infer maps a feature vector of InputSize() elements to a probability
	// vector of OutputSize() elements.
	Infer(ctx context.Context, vector []float64) ([]float64, error)
	InputSize() int
	OutputSize() int
}

// Adapter invokes an optional Model, normalizing vector lengths at the input
// boundary and translating backend failures into the package's typed errors.
type Adapter struct {
	model      Model
	outputSize int
}

// NewAdapter wraps a model. A nil model is valid: every Infer call then
// returns ErrModelUnavailable and the caller is expected to substitute a
// synthetic distribution. outputSize is the fallback class count used when
// no model is loaded.
func NewAdapter(model Model, outputSize int) *Adapter {
	if model != nil {
		outputSize = model.OutputSize()
	}
	if outputSize <= 0 {
		outputSize = 8
	}
	return &Adapter{model: model, outputSize: outputSize}
}

// Loaded reports whether a scoring backend is present.
func (a *Adapter) Loaded() bool { return a.model != nil }

// OutputSize returns the class count of the backend, or the configured
// fallback when none is loaded.
func (a *Adapter) OutputSize() int { return a.outputSize }

// Infer length-normalizes the vector to the model's input size and scores
// it. Failures are ErrModelUnavailable or wrap ErrInference; the caller
// decides whether to fall back.
func (a *Adapter) Infer(ctx context.Context, vector []float64) ([]float64, error) {
	infRequests.Inc()
	if a.model == nil {
		infFailures.WithLabelValues("unavailable").Inc()
		return nil, ErrModelUnavailable
	}
	probs, err := a.model.Infer(ctx, Normalize(vector, a.model.InputSize()))
	if err != nil {
		infFailures.WithLabelValues("backend").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return probs, nil
}

// Normalize fits a vector to the given size: truncate when longer, zero-pad
// when shorter. The input slice is never mutated.
func Normalize(vector []float64, size int) []float64 {
	if size <= 0 {
		return []float64{}
	}
	out := make([]float64, size)
	copy(out, vector)
	return out
}

// Synthetic returns a normalized random distribution of n classes. It is the
// availability fallback when no backend can score: alerts built from it carry
// no predictive value and must be flagged as not model backed.
func Synthetic(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	probs := make([]float64, n)
	sum := 0.0
	for i := range probs {
		probs[i] = rand.Float64()
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
