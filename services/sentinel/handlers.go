package main

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fhirwatch/pkg/alert"
	"fhirwatch/pkg/fhir"
	"fhirwatch/pkg/poller"
	"fhirwatch/shared/logging"
)

// server bundles the pipeline and its query surface. The poller instance is
// owned here and passed in explicitly; there are no package-level singletons.
type server struct {
	composer  *alert.Composer
	log       *alert.Log
	cache     *alert.Cache
	poller    *poller.Poller
	maxAlerts int
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleDashboard)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /fhir/notify", s.handleNotify)
	mux.HandleFunc("GET /api/poller/stats", s.handlePollerStats)
	mux.HandleFunc("POST /api/poller/reset", s.handlePollerReset)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","service":"sentinel"}`))
}

// handleAlerts returns the most recent alerts, newest-first. The Redis cache
// is consulted first when configured; the JSONL log is the fallback and the
// source of truth.
func (s *server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var alerts []alert.Alert
	var err error

	if s.cache != nil {
		alerts, err = s.cache.Recent(r.Context(), s.maxAlerts)
		if err != nil {
			logging.Debugf("alert cache read failed, falling back to log: %v", err)
			alerts = nil
		}
	}
	if len(alerts) == 0 {
		alerts, err = s.log.Recent(s.maxAlerts)
		if err != nil {
			logging.Errorf("failed to read alert log: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to read alerts"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":    alerts,
		"count":     len(alerts),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleNotify is the push-ingestion entry point: one JSON AuditEvent in,
// one composed alert out. A body that does not decode as a JSON object is
// the only error surfaced to the caller; everything past that point always
// yields a well-formed alert.
func (s *server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var rec fhir.Resource
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "request body is not a JSON object"})
		return
	}

	// When the event carries no network address, attribute it to the caller
	// so the encoder sees a real source instead of UNKNOWN.
	if _, ok := fhir.Get(rec, "agent.0.network.address"); !ok {
		if host := remoteHost(r); host != "" {
			rec["agent"] = []any{
				map[string]any{"network": map[string]any{"address": host}},
			}
		}
	}

	a := s.composer.Process(r.Context(), rec)
	writeJSON(w, http.StatusOK, a)
}

func (s *server) handlePollerStats(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.poller.Stats())
}

func (s *server) handlePollerReset(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "poller disabled"})
		return
	}
	ts, err := s.poller.Reset()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_update": ts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("failed to encode response: %v", err)
	}
}

// remoteHost strips the port from RemoteAddr, honoring X-Forwarded-For when
// a proxy sits in front.
func remoteHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
