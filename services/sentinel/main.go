// Sentinel watches a FHIR server's AuditEvent stream for anomalous access
// patterns. It polls for new events, encodes each into a feature vector,
// scores it against a model serving backend (or a synthetic fallback), and
// publishes severity-ranked alerts through an append-only log, an optional
// Postgres archive, an optional Redis cache, and a small dashboard API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fhirwatch/pkg/alert"
	"fhirwatch/pkg/detection"
	"fhirwatch/pkg/features"
	"fhirwatch/pkg/fhir"
	"fhirwatch/pkg/inference"
	otelobs "fhirwatch/pkg/observability/otel"
	"fhirwatch/pkg/poller"
	"fhirwatch/shared/config"
	"fhirwatch/shared/logging"
)

const serviceName = "sentinel"

func main() {
	logging.Init(logging.Options{
		Level: config.Get("LOG_LEVEL", "info"),
		Path:  config.Get("LOG_PATH", ""),
	})
	defer logging.Sync()

	shutdownTracer := otelobs.InitTracer(serviceName)
	defer func() { _ = shutdownTracer(context.Background()) }()

	port := config.GetInt("PORT", 5000)
	featureSize := config.GetInt("FEATURE_VECTOR_SIZE", features.DefaultVectorSize)
	outputSize := config.GetInt("MODEL_OUTPUT_SIZE", 8)

	// Model backend is optional: without MODEL_URL every alert is scored with
	// a synthetic distribution and flagged model_backed=false.
	var model inference.Model
	if modelURL := config.Get("MODEL_URL", ""); modelURL != "" {
		client := inference.NewScoringClient(
			modelURL,
			config.Get("MODEL_NAME", "audit_cnn"),
			featureSize,
			outputSize,
			config.GetDuration("MODEL_TIMEOUT", 10*time.Second),
		)
		if err := client.Health(context.Background()); err != nil {
			logging.Warnf("model backend not healthy at startup (continuing, will retry per request): %v", err)
		}
		model = client
	} else {
		logging.Warnf("MODEL_URL not set; alerts will use synthetic distributions")
	}

	detector := detection.NewDetector(
		detection.WithThresholds(
			config.GetFloat("SEVERITY_LOW_THRESHOLD", 0.4),
			config.GetFloat("SEVERITY_MEDIUM_THRESHOLD", 0.7),
		),
		detection.WithLabels(detection.DefaultLabels(outputSize)),
	)

	alertLog := alert.NewLog(config.Get("ALERTS_LOG_PATH", "logs/alerts.log"))
	composer := alert.NewComposer(
		features.NewExtractor(featureSize),
		inference.NewAdapter(model, outputSize),
		detector,
		alertLog,
	)

	var cache *alert.Cache
	if addr := config.Get("REDIS_ADDR", ""); addr != "" {
		c, err := alert.NewCache(addr, int64(config.GetInt("ALERT_CACHE_SIZE", 500)))
		if err != nil {
			logging.Warnf("redis cache disabled: %v", err)
		} else {
			cache = c
			composer.WithCache(cache)
			defer cache.Close()
		}
	}
	if dbURL := config.Get("DATABASE_URL", ""); dbURL != "" {
		archive, err := alert.NewArchive(dbURL)
		if err != nil {
			logging.Warnf("postgres archive disabled: %v", err)
		} else {
			composer.WithArchive(archive)
			defer archive.Close()
		}
	}
	if geoPath := config.Get("GEOIP_DB_PATH", ""); geoPath != "" {
		geo, err := alert.NewGeoResolver(geoPath)
		if err != nil {
			logging.Warnf("geoip enrichment disabled: %v", err)
		} else {
			composer.WithGeo(geo)
			defer geo.Close()
		}
	}

	var p *poller.Poller
	if config.GetBool("POLL_ENABLED", true) {
		wm := poller.NewWatermark(
			config.Get("POLL_TRACKER_FILE", "data/fhir_polling_tracker.json"),
			config.GetDuration("POLL_LOOKBACK", poller.DefaultLookback),
		)
		p = poller.New(poller.Config{
			BaseURL:      config.Get("FHIR_BASE_URL", "https://hapi.fhir.org/baseR4"),
			ResourceType: config.Get("FHIR_RESOURCE_TYPE", "AuditEvent"),
			Interval:     config.GetDuration("POLL_INTERVAL", 30*time.Second),
			BatchSize:    config.GetInt("POLL_BATCH_SIZE", 20),
			FetchTimeout: config.GetDuration("POLL_FETCH_TIMEOUT", 10*time.Second),
		}, wm, func(rec fhir.Resource) {
			composer.Process(context.Background(), rec)
		})
		p.Start(context.Background())
		defer p.Stop()
	} else {
		logging.Infof("polling disabled; push ingestion via /fhir/notify only")
	}

	s := &server{
		composer:  composer,
		log:       alertLog,
		cache:     cache,
		poller:    p,
		maxAlerts: config.GetInt("MAX_ALERTS_RETURN", 50),
	}

	handler := otelobs.WrapHTTPHandler(serviceName, otelobs.AccessLogMiddleware(s.routes()))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("%s listening on :%d", serviceName, port)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logging.Infof("received %s, shutting down", sig)
	case err := <-errCh:
		logging.Errorf("server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Errorf("graceful shutdown failed: %v", err)
	}
}
