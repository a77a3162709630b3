// Package geoip resolves a client's remote IP to a country for the admin
// dashboard's session list.
package geoip

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Service looks up country information from a MaxMind GeoLite2/GeoIP2
// Country or City database. A Service constructed with an empty path is
// disabled: Lookup then returns an error and LookupSafe returns empty
// strings.
type Service struct {
	db      *geoip2.Reader
	mu      sync.RWMutex
	enabled bool
}

// Result is the country-level geolocation the dashboard annotates each
// connected session with.
type Result struct {
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

// New opens the database at dbPath. An empty path yields a disabled
// Service rather than an error, so the feature stays optional by
// configuration.
func New(dbPath string) (*Service, error) {
	if dbPath == "" {
		log.Println("geoip: database path not configured, service disabled")
		return &Service{enabled: false}, nil
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening GeoIP database at %s: %w", dbPath, err)
	}

	log.Printf("geoip: service initialized (database: %s)", dbPath)
	return &Service{db: db, enabled: true}, nil
}

// IsEnabled reports whether a database was successfully loaded.
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Lookup returns the country for ipStr, or an error if the service is
// disabled, the address is unparseable, or no record is found.
func (s *Service) Lookup(ipStr string) (Result, error) {
	if !s.enabled {
		return Result{}, fmt.Errorf("geoip: service not enabled")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return Result{}, fmt.Errorf("geoip: invalid IP address: %s", ipStr)
	}

	record, err := s.db.Country(ip)
	if err != nil {
		return Result{}, fmt.Errorf("geoip: country lookup failed for %s: %w", ipStr, err)
	}

	result := Result{CountryCode: record.Country.IsoCode}
	if name, ok := record.Country.Names["en"]; ok && name != "" {
		result.Country = name
	} else {
		result.Country = record.Country.IsoCode
	}
	return result, nil
}

// LookupSafe is Lookup without the error: failures collapse to empty
// strings, for use in non-critical display enrichment.
func (s *Service) LookupSafe(ipStr string) (country, countryCode string) {
	if !s.enabled || ipStr == "" {
		return "", ""
	}
	result, err := s.Lookup(ipStr)
	if err != nil {
		return "", ""
	}
	return result.Country, result.CountryCode
}

// Close releases the underlying database file.
func (s *Service) Close() error {
	if s.db != nil {
		log.Println("geoip: closing database")
		return s.db.Close()
	}
	return nil
}
