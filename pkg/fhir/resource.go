// Package fhir provides a minimal, permissive view over decoded FHIR JSON
// documents. It reads only the small field subset the pipeline needs and
// treats every missing or mis-shaped field as a default, never an error.
package fhir

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Resource is a decoded FHIR resource. Fields are navigated with Get and the
// typed wrappers below; no schema is enforced.
type Resource map[string]any

// Get navigates a dot-separated path over a mapping/sequence/scalar tree.
// Numeric segments index into sequences ("agent.0.network.address"). It
// returns false when any segment is missing, out of range, or applied to a
// scalar.
func Get(root any, path string) (any, bool) {
	cur := root
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok || v == nil {
				return nil, false
			}
			cur = v
		case Resource:
			v, ok := node[key]
			if !ok || v == nil {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// GetString returns the string at path, or def when the path is missing or
// not a string.
func GetString(root any, path, def string) string {
	v, ok := Get(root, path)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// ID returns the resource id, or "" when absent.
func (r Resource) ID() string {
	return GetString(r, "id", "")
}

// LastUpdated returns meta.lastUpdated, or "" when absent.
func (r Resource) LastUpdated() string {
	return GetString(r, "meta.lastUpdated", "")
}

// Bundle is the FHIR search-set wire shape returned by the upstream server.
// Entry resources are kept raw so malformed entries can be skipped
// individually.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        int           `json:"total"`
	Entry        []BundleEntry `json:"entry"`
}

// BundleEntry is one entry in a search bundle.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl"`
	Resource json.RawMessage `json:"resource"`
}

// Resources decodes every entry resource in the bundle, skipping entries
// that are absent or fail to decode.
func (b *Bundle) Resources() []Resource {
	out := make([]Resource, 0, len(b.Entry))
	for _, e := range b.Entry {
		if len(e.Resource) == 0 {
			continue
		}
		var r Resource
		if err := json.Unmarshal(e.Resource, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}
