package alert

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoResolver annotates alerts with coarse source-IP geolocation from a
// MaxMind city database. Lookups never fail the pipeline: anything
// unresolvable yields no enrichment.
type GeoResolver struct {
	reader *geoip2.Reader
}

// NewGeoResolver opens a GeoIP2/GeoLite2 city database.
func NewGeoResolver(dbPath string) (*GeoResolver, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &GeoResolver{reader: reader}, nil
}

// Resolve returns geolocation for a dotted-quad address, or nil when the
// address is unparseable or not in the database.
func (g *GeoResolver) Resolve(addr string) *GeoInfo {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil
	}
	record, err := g.reader.City(ip)
	if err != nil {
		return nil
	}
	info := &GeoInfo{
		Country: record.Country.Names["en"],
		City:    record.City.Names["en"],
	}
	if info.Country == "" && info.City == "" {
		return nil
	}
	return info
}

// Close releases the database handle.
func (g *GeoResolver) Close() error { return g.reader.Close() }
