// Package features encodes AuditEvent resources into fixed-length numeric
// vectors for model scoring.
package features

import (
	"net"
	"strconv"
	"strings"
	"time"

	"fhirwatch/pkg/fhir"
)

const (
	// DefaultVectorSize matches the default model input width.
	DefaultVectorSize = 64

	// encodedSlots is the fixed prefix produced from the resource itself:
	// 4 categorical hashes, 3 time-of-day values, 4 IP octets.
	encodedSlots = 11

	// categoricalBase is the modulus for the categorical string hash.
	categoricalBase = 10
)

// Extractor converts AuditEvent resources into feature vectors. It is
// stateless and safe for concurrent use.
type Extractor struct {
	size int
}

// NewExtractor returns an extractor producing vectors of the given length.
// Sizes below the 11-slot encoded prefix are a configuration error and will
// truncate real features; the default configuration never does this.
func NewExtractor(size int) *Extractor {
	if size <= 0 {
		size = DefaultVectorSize
	}
	return &Extractor{size: size}
}

// Size returns the configured vector length.
func (e *Extractor) Size() int { return e.size }

// Extract encodes a resource into a feature vector of exactly Size()
// elements, each in [0,1]. It is total: missing or malformed fields encode
// as defaults, identical input always yields an identical vector.
//
// Fields read: type.code, action, outcome, source.observer.display,
// recorded, agent.0.network.address.
func (e *Extractor) Extract(rec fhir.Resource) []float64 {
	vec := make([]float64, 0, e.size)

	vec = append(vec,
		encodeCategorical(fhir.GetString(rec, "type.code", "UNKNOWN")),
		encodeCategorical(fhir.GetString(rec, "action", "UNKNOWN")),
		encodeCategorical(fhir.GetString(rec, "outcome", "UNKNOWN")),
		encodeCategorical(fhir.GetString(rec, "source.observer.display", "UNKNOWN")),
	)

	h, m, s := encodeTimestamp(fhir.GetString(rec, "recorded", ""))
	vec = append(vec, h, m, s)

	o1, o2, o3, o4 := encodeIPv4(fhir.GetString(rec, "agent.0.network.address", "0.0.0.0"))
	vec = append(vec, o1, o2, o3, o4)

	for len(vec) < e.size {
		vec = append(vec, 0.0)
	}
	return vec[:e.size]
}

// SourceIP returns the first agent's network address for attribution, or
// "UNKNOWN" when no address is present.
func (e *Extractor) SourceIP(rec fhir.Resource) string {
	return fhir.GetString(rec, "agent.0.network.address", "UNKNOWN")
}

// encodeCategorical hashes a string into [0,1) by summing character codes
// modulo a small base. Lightweight and collision-tolerant: distinct values
// may map to the same bucket.
func encodeCategorical(value string) float64 {
	if value == "" {
		return 0.0
	}
	sum := 0
	for _, c := range value {
		sum += int(c)
	}
	return float64(sum%categoricalBase) / categoricalBase
}

// encodeTimestamp extracts hour/minute/second from an ISO-8601 timestamp,
// each normalized by its period. Unparseable input encodes as (0,0,0).
func encodeTimestamp(ts string) (float64, float64, float64) {
	if ts == "" {
		return 0, 0, 0
	}
	t, err := parseISO8601(ts)
	if err != nil {
		return 0, 0, 0
	}
	return float64(t.Hour()) / 24.0, float64(t.Minute()) / 60.0, float64(t.Second()) / 60.0
}

// parseISO8601 accepts RFC3339 with or without fractional seconds, a bare
// date-time without zone, and a trailing "Z".
func parseISO8601(ts string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	var last error
	for _, layout := range layouts {
		t, err := time.Parse(layout, ts)
		if err == nil {
			return t, nil
		}
		last = err
	}
	return time.Time{}, last
}

// encodeIPv4 splits a dotted-quad address into four octets scaled by 255.
// Anything that is not a well-formed IPv4 address encodes as zeros.
func encodeIPv4(ip string) (float64, float64, float64, float64) {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 || net.ParseIP(ip) == nil {
		return 0, 0, 0, 0
	}
	var out [4]float64
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return 0, 0, 0, 0
		}
		out[i] = float64(n) / 255.0
	}
	return out[0], out[1], out[2], out[3]
}
