package enrichment

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoResult contains geolocation data
type GeoResult struct {
	Country string
	City    string
	Region  string
}

// GeoIP provides IP geolocation
type GeoIP struct {
	db *geoip2.Reader
}

// NewGeoIP opens a MaxMind City database. An empty path returns a nil
// GeoIP, on which Lookup always misses.
func NewGeoIP(path string) (*GeoIP, error) {
	if path == "" {
		return nil, nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &GeoIP{db: db}, nil
}

// Close closes the GeoIP database
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}

// Lookup returns geolocation for an IP address
func (g *GeoIP) Lookup(ipStr string) *GeoResult {
	if g == nil || g.db == nil {
		return nil
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil
	}

	record, err := g.db.City(ip)
	if err != nil {
		return nil
	}

	result := &GeoResult{
		Country: record.Country.IsoCode,
		City:    record.City.Names["es"],
	}
	if result.City == "" {
		result.City = record.City.Names["en"]
	}

	if len(record.Subdivisions) > 0 {
		result.Region = record.Subdivisions[0].IsoCode
	}

	return result
}

// MaskIP zeroes the host part of an address: the last octet for IPv4 and
// everything past the /48 for IPv6.
func MaskIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}

	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}

	for i := 6; i < 16; i++ {
		parsed[i] = 0
	}
	return parsed.String()
}
