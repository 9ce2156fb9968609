// Package enrichment derives client details (address, browser, device and
// country) from an incoming request for the audit trail.
package enrichment

import (
	"net"
	"net/http"
	"strings"
)

// Enricher provides request enrichment
type Enricher struct {
	geoIP *GeoIP
}

// New creates a new Enricher. An unreadable GeoIP database disables country
// lookup and is reported to the caller.
func New(geoipPath string) (*Enricher, error) {
	geoIP, err := NewGeoIP(geoipPath)
	if err != nil {
		return &Enricher{}, err
	}
	return &Enricher{geoIP: geoIP}, nil
}

// Close releases the GeoIP database.
func (e *Enricher) Close() error {
	if e == nil || e.geoIP == nil {
		return nil
	}
	return e.geoIP.Close()
}

// Result contains enriched data
type Result struct {
	IP      string `json:"ip"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Device  string `json:"device,omitempty"`
	IsBot   bool   `json:"isBot,omitempty"`
}

// Enrich looks up ip and parses userAgent. The returned IP is masked.
func (e *Enricher) Enrich(ip, userAgent string) Result {
	result := Result{IP: MaskIP(ip)}

	if e != nil && e.geoIP != nil {
		if geo := e.geoIP.Lookup(ip); geo != nil {
			result.Country = geo.Country
			result.City = geo.City
		}
	}

	if userAgent != "" {
		ua := ParseUserAgent(userAgent)
		result.Browser = ua.BrowserName
		result.OS = ua.OSName
		result.Device = ua.DeviceType
		result.IsBot = ua.IsBot
	}

	return result
}

// FromRequest enriches the client behind r.
func (e *Enricher) FromRequest(r *http.Request) Result {
	return e.Enrich(ExtractClientIP(r), r.UserAgent())
}

// ExtractClientIP gets the real client IP from request headers
func ExtractClientIP(r *http.Request) string {
	// First IP in the list is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
