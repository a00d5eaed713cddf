package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"fhirwatch/pkg/detection"
	"fhirwatch/pkg/features"
	"fhirwatch/pkg/fhir"
	"fhirwatch/pkg/inference"
	"fhirwatch/shared/logging"
)

var (
	alertsComposed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fhirwatch",
			Subsystem: "alerts",
			Name:      "composed_total",
			Help:      "Total alerts composed by severity.",
		},
		[]string{"severity"},
	)
	alertsSynthetic = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fhirwatch",
			Subsystem: "alerts",
			Name:      "synthetic_total",
			Help:      "Alerts scored with a synthetic fallback distribution.",
		},
	)
	alertWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fhirwatch",
			Subsystem: "alerts",
			Name:      "write_errors_total",
			Help:      "Alert persistence failures by sink.",
		},
		[]string{"sink"},
	)
)

func init() {
	_ = prometheus.Register(alertsComposed)
	_ = prometheus.Register(alertsSynthetic)
	_ = prometheus.Register(alertWriteErrors)
}

// Composer runs the encode-score-classify-persist pipeline for one audit
// record. It is stateless apart from its sinks and safe for concurrent use;
// the log serializes its own writes.
type Composer struct {
	extractor *features.Extractor
	adapter   *inference.Adapter
	detector  *detection.Detector
	log       *Log

	// optional sinks, all best-effort
	archive *Archive
	cache   *Cache
	geo     *GeoResolver
}

// NewComposer wires the pipeline stages to the durable log.
func NewComposer(extractor *features.Extractor, adapter *inference.Adapter, detector *detection.Detector, log *Log) *Composer {
	return &Composer{extractor: extractor, adapter: adapter, detector: detector, log: log}
}

// WithArchive adds an optional Postgres archive sink.
func (c *Composer) WithArchive(a *Archive) *Composer { c.archive = a; return c }

// WithCache adds an optional Redis recent-alerts cache.
func (c *Composer) WithCache(ca *Cache) *Composer { c.cache = ca; return c }

// WithGeo adds optional source-IP geolocation enrichment.
func (c *Composer) WithGeo(g *GeoResolver) *Composer { c.geo = g; return c }

// Process runs one record through the full pipeline and always returns a
// well-formed Alert. Inference failures substitute a synthetic distribution
// (the alert is then marked ModelBacked=false); persistence failures are
// logged and counted but never fail the call.
//
// The probability vector is pad/truncated to the detector's class count and
// deliberately NOT renormalized afterwards, so the anomaly score is the
// maximum of the adjusted vector as-is.
func (c *Composer) Process(ctx context.Context, rec fhir.Resource) Alert {
	vector := c.extractor.Extract(rec)
	sourceIP := c.extractor.SourceIP(rec)

	modelBacked := true
	probs, err := c.adapter.Infer(ctx, vector)
	if err != nil {
		if !errors.Is(err, inference.ErrModelUnavailable) {
			logging.Warnf("inference failed, falling back to synthetic distribution: %v", err)
		}
		probs = inference.Synthetic(c.adapter.OutputSize())
		modelBacked = false
		alertsSynthetic.Inc()
	}
	probs = inference.Normalize(probs, c.detector.Classes())

	result := c.detector.Classify(probs)

	a := Alert{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		SourceIP:       sourceIP,
		Prediction:     result.Prediction,
		AnomalyScore:   result.AnomalyScore,
		Severity:       result.Severity,
		RawFHIRID:      rec.ID(),
		PredictedClass: result.PredictedClass,
		ClassProbs:     probs,
		ModelBacked:    modelBacked,
	}
	if c.geo != nil {
		a.Geo = c.geo.Resolve(sourceIP)
	}
	alertsComposed.WithLabelValues(string(a.Severity)).Inc()

	c.persist(ctx, a)
	return a
}

// persist fans the alert out to every configured sink. Each write is
// best-effort: the composed alert is returned to the caller regardless.
func (c *Composer) persist(ctx context.Context, a Alert) {
	if err := c.log.Append(a); err != nil {
		alertWriteErrors.WithLabelValues("log").Inc()
		logging.Errorf("failed to append alert %s to log: %v", a.ID, err)
	}
	if c.archive != nil {
		if err := c.archive.Insert(ctx, a); err != nil {
			alertWriteErrors.WithLabelValues("archive").Inc()
			logging.Errorf("failed to archive alert %s: %v", a.ID, err)
		}
	}
	if c.cache != nil {
		if err := c.cache.Push(ctx, a); err != nil {
			alertWriteErrors.WithLabelValues("cache").Inc()
			logging.Debugf("failed to cache alert %s: %v", a.ID, err)
		}
	}
}
